// internal/workers/voice/understand-utterance/config.go
package understandutterance

import "time"

type Config struct {
	Timeout     time.Duration
	MaxProducts int
}

func LoadConfig() *Config {
	return &Config{
		Timeout:     10 * time.Second,
		MaxProducts: 10,
	}
}
