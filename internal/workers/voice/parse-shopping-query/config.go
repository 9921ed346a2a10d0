// internal/workers/voice/parse-shopping-query/config.go
package parseshoppingquery

import "time"

type Config struct {
	Timeout time.Duration
}

func LoadConfig() *Config {
	return &Config{Timeout: 2 * time.Second}
}
