package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Load reads configs/config.yaml merged with configs/config.<APP_ENVIRONMENT>.yaml,
// expands ${VAR} references and applies defaults.
func Load() (*Config, error) {
	loadEnvFile()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath("../../configs")
	v.AddConfigPath(".")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	env := os.Getenv("APP_ENVIRONMENT")
	if env == "" {
		env = "development"
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading base config: %w", err)
		}
	}

	v.SetConfigName(fmt.Sprintf("config.%s", env))
	_ = v.MergeInConfig() // environment overlay is optional

	return finish(v)
}

// LoadFromFile reads a single YAML file.
func LoadFromFile(path string) (*Config, error) {
	loadEnvFile()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	return finish(v)
}

func finish(v *viper.Viper) (*Config, error) {
	expandEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	overrideEmptyConfig(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func loadEnvFile() {
	possiblePaths := []string{".env", "../.env", "../../.env", "../../../.env"}
	if rootDir := findProjectRoot(); rootDir != "" {
		possiblePaths = append(possiblePaths, filepath.Join(rootDir, ".env"))
	}

	for _, path := range possiblePaths {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err == nil {
				return
			}
		}
	}
}

func findProjectRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

func expandEnvVars(v *viper.Viper) {
	for _, key := range v.AllKeys() {
		strVal, ok := v.Get(key).(string)
		if !ok {
			continue
		}
		if strings.Contains(strVal, "${") || (strings.HasPrefix(strVal, "$") && len(strVal) > 1) {
			if expanded := os.ExpandEnv(strVal); expanded != strVal && expanded != "" {
				v.Set(key, expanded)
			}
		}
	}
}

// overrideEmptyConfig fills secrets that were left out of the YAML from the
// environment. Source API keys come from SOURCE_<ID>_API_KEY.
func overrideEmptyConfig(cfg *Config) {
	if cfg.Database.Postgres.User == "" {
		cfg.Database.Postgres.User = os.Getenv("DB_USER")
	}
	if cfg.Database.Postgres.Password == "" {
		cfg.Database.Postgres.Password = os.Getenv("DB_PASSWORD")
	}
	if cfg.Database.Redis.Address == "" {
		cfg.Database.Redis.Address = os.Getenv("REDIS_ADDRESS")
	}
	if cfg.Database.Redis.Password == "" {
		cfg.Database.Redis.Password = os.Getenv("REDIS_PASSWORD")
	}

	for id, src := range cfg.Sources {
		if src.APIKey == "" {
			envKey := "SOURCE_" + strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(id)) + "_API_KEY"
			if val := os.Getenv(envKey); val != "" {
				src.APIKey = val
				cfg.Sources[id] = src
			}
		}
	}
}

func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "voicemart"
	}
	if cfg.Server.Address == "" {
		cfg.Server.Address = ":8080"
	}

	if cfg.Camunda.MaxJobsActive == 0 {
		cfg.Camunda.MaxJobsActive = 10
	}
	if cfg.Camunda.Timeout == 0 {
		cfg.Camunda.Timeout = 30000
	}
	if cfg.Camunda.RequestTimeout == 0 {
		cfg.Camunda.RequestTimeout = 30000
	}

	if cfg.Database.Postgres.Port == 0 {
		cfg.Database.Postgres.Port = 5432
	}
	if cfg.Database.Postgres.MaxConnections == 0 {
		cfg.Database.Postgres.MaxConnections = 25
	}
	if cfg.Database.Postgres.MaxIdle == 0 {
		cfg.Database.Postgres.MaxIdle = 5
	}
	if cfg.Database.Postgres.SSLMode == "" {
		cfg.Database.Postgres.SSLMode = "disable"
	}
	if cfg.Database.Elasticsearch.URL == "" && len(cfg.Database.Elasticsearch.Addresses) > 0 {
		cfg.Database.Elasticsearch.URL = cfg.Database.Elasticsearch.Addresses[0]
	}

	for key, worker := range cfg.Workers {
		if worker.MaxJobsActive == 0 {
			worker.MaxJobsActive = 5
		}
		if worker.Timeout == 0 {
			worker.Timeout = 30000
		}
		if worker.MaxRetries == 0 {
			worker.MaxRetries = 3
		}
		cfg.Workers[key] = worker
	}

	applyPipelineDefaults(&cfg.Pipeline)
	applyCacheDefaults(&cfg.Cache)
	applyRankingDefaults(&cfg.Ranking)

	for id, src := range cfg.Sources {
		cfg.Sources[id] = applySourceDefaults(id, src)
	}

	if cfg.HTTP.Timeout == 0 {
		cfg.HTTP.Timeout = 10000
	}
	if cfg.Observability.ServiceName == "" {
		cfg.Observability.ServiceName = cfg.App.Name
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}
}

func applyPipelineDefaults(p *PipelineConfig) {
	if p.ConfidenceFloor == 0 {
		p.ConfidenceFloor = 0.4
	}
	if p.MinIntentConfidence == 0 {
		p.MinIntentConfidence = 0.5
	}
	if p.MinTranscriptConfidence == 0 {
		p.MinTranscriptConfidence = 0.3
	}
	if p.MaxConcurrency == 0 {
		p.MaxConcurrency = 8
	}
	if p.StageTimeouts.Normalize == 0 {
		p.StageTimeouts.Normalize = 50
	}
	if p.StageTimeouts.Extract == 0 {
		p.StageTimeouts.Extract = 200
	}
	if p.StageTimeouts.Build == 0 {
		p.StageTimeouts.Build = 50
	}
	if p.StageTimeouts.Resolve == 0 {
		p.StageTimeouts.Resolve = 4000
	}
}

func applyCacheDefaults(c *CacheConfig) {
	if c.Backend == "" {
		c.Backend = "memory"
	}
	if c.KeyPrefix == "" {
		c.KeyPrefix = "voicemart:candidates"
	}
	if c.ScrapeTTL == 0 {
		c.ScrapeTTL = int(time.Hour / time.Millisecond)
	}
	if c.APITTL == 0 {
		c.APITTL = int(5 * time.Minute / time.Millisecond)
	}
	if c.NegativeTTL == 0 {
		c.NegativeTTL = 30000
	}
}

// DefaultRankingWeights are used when the config sets no weight at all.
var DefaultRankingWeights = RankingWeights{
	Priority:       0.35,
	PriceMatch:     0.30,
	Freshness:      0.15,
	Agreement:      0.10,
	BrandMatch:     0.10,
	DiversityBoost: 0.15,
	InStockBoost:   0.10,
}

func applyRankingDefaults(r *RankingConfig) {
	if r.Weights.IsZero() {
		r.Weights = DefaultRankingWeights
	}
	if r.PriceBandFactor == 0 {
		r.PriceBandFactor = 1.15
	}
	if r.FreshnessHalfLife == 0 {
		r.FreshnessHalfLife = int(time.Hour / time.Millisecond)
	}
	if r.MaxResults == 0 {
		r.MaxResults = 20
	}
}

func applySourceDefaults(id string, src SourceConfig) SourceConfig {
	if src.Name == "" {
		src.Name = id
	}
	if src.Kind == "" {
		src.Kind = KindAPI
	}
	if src.Driver == "" {
		if src.Kind == KindScrape {
			src.Driver = DriverScrape
		} else {
			src.Driver = DriverHTTP
		}
	}
	if src.Priority == 0 {
		src.Priority = 1
	}
	if src.Timeout == 0 {
		src.Timeout = 3000
	}
	if src.MaxResults == 0 {
		src.MaxResults = 10
	}
	if src.Currency == "" {
		src.Currency = "USD"
	}
	if src.RateLimit.Capacity == 0 {
		src.RateLimit.Capacity = 5
	}
	if src.RateLimit.RefillRate == 0 {
		src.RateLimit.RefillRate = 1
	}
	if src.APIKeyHeader == "" {
		src.APIKeyHeader = "X-API-Key"
	}
	if src.Table == "" {
		src.Table = "products"
	}
	if src.Index == "" {
		src.Index = "products"
	}
	return src
}

func validateConfig(cfg *Config) error {
	if cfg.Camunda.Enabled && cfg.Camunda.BrokerAddress == "" {
		return fmt.Errorf("camunda.broker_address is required when camunda is enabled")
	}

	p := cfg.Pipeline
	if p.ConfidenceFloor < 0 || p.ConfidenceFloor > 1 {
		return fmt.Errorf("pipeline.confidence_floor must be within [0,1], got %v", p.ConfidenceFloor)
	}
	if p.MinIntentConfidence < 0 || p.MinIntentConfidence > 1 {
		return fmt.Errorf("pipeline.min_intent_confidence must be within [0,1], got %v", p.MinIntentConfidence)
	}
	if p.MaxConcurrency < 1 {
		return fmt.Errorf("pipeline.max_concurrency must be positive")
	}

	switch cfg.Cache.Backend {
	case "memory":
	case "redis":
		if cfg.Database.Redis.Address == "" {
			return fmt.Errorf("database.redis.address is required for the redis cache backend")
		}
	default:
		return fmt.Errorf("cache.backend must be memory or redis, got %q", cfg.Cache.Backend)
	}

	for id, src := range cfg.Sources {
		if src.Disabled {
			continue
		}
		if src.Kind != KindScrape && src.Kind != KindAPI {
			return fmt.Errorf("sources.%s.kind must be scrape or api, got %q", id, src.Kind)
		}
		if src.RateLimit.RefillRate < 0 {
			return fmt.Errorf("sources.%s.rate_limit.refill_rate must not be negative", id)
		}
		switch src.Driver {
		case DriverScrape:
			if src.Kind != KindScrape {
				return fmt.Errorf("sources.%s: scrape driver requires kind scrape", id)
			}
			if src.SearchURL == "" || src.Selectors.Item == "" || src.Selectors.Title == "" {
				return fmt.Errorf("sources.%s: search_url, selectors.item and selectors.title are required", id)
			}
		case DriverHTTP:
			if src.BaseURL == "" {
				return fmt.Errorf("sources.%s.base_url is required", id)
			}
		case DriverElasticsearch:
			if cfg.Database.Elasticsearch.GetURL() == "" {
				return fmt.Errorf("sources.%s: database.elasticsearch.url is required", id)
			}
		case DriverPostgres:
			if cfg.Database.Postgres.Host == "" || cfg.Database.Postgres.Database == "" {
				return fmt.Errorf("sources.%s: database.postgres.host and database are required", id)
			}
		default:
			return fmt.Errorf("sources.%s.driver %q is not supported", id, src.Driver)
		}
	}

	return nil
}

func GetDuration(milliseconds int) time.Duration {
	return time.Duration(milliseconds) * time.Millisecond
}

func GetWorkerConfig(cfg *Config, workerName string) WorkerConfig {
	if worker, exists := cfg.Workers[workerName]; exists {
		return worker
	}
	return WorkerConfig{
		Enabled:       true,
		MaxJobsActive: 5,
		Timeout:       30000,
		MaxRetries:    3,
	}
}

func IsWorkerEnabled(cfg *Config, workerName string) bool {
	if worker, exists := cfg.Workers[workerName]; exists {
		return worker.Enabled
	}
	return true
}
