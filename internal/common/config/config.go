package config

import "fmt"

type Config struct {
	App           AppConfig               `mapstructure:"app"`
	Server        ServerConfig            `mapstructure:"server"`
	Camunda       CamundaConfig           `mapstructure:"camunda"`
	Database      DatabaseConfig          `mapstructure:"database"`
	Workers       map[string]WorkerConfig `mapstructure:"workers"`
	Pipeline      PipelineConfig          `mapstructure:"pipeline"`
	Sources       map[string]SourceConfig `mapstructure:"sources"`
	Cache         CacheConfig             `mapstructure:"cache"`
	Ranking       RankingConfig           `mapstructure:"ranking"`
	HTTP          HTTPClientConfig        `mapstructure:"http"`
	Observability ObservabilityConfig     `mapstructure:"observability"`
	Logging       LoggingConfig           `mapstructure:"logging"`
}

type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

type ServerConfig struct {
	Address string `mapstructure:"address"`
}

type CamundaConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	BrokerAddress  string `mapstructure:"broker_address"`
	MaxJobsActive  int    `mapstructure:"max_jobs_active"`
	Timeout        int    `mapstructure:"timeout"`         // milliseconds
	RequestTimeout int    `mapstructure:"request_timeout"` // milliseconds
}

type DatabaseConfig struct {
	Postgres      PostgresConfig      `mapstructure:"postgres"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	Redis         RedisConfig         `mapstructure:"redis"`
}

type PostgresConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	SSLMode        string `mapstructure:"sslmode"`
}

func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

type ElasticsearchConfig struct {
	Addresses []string `mapstructure:"addresses"`
	Username  string   `mapstructure:"username"`
	Password  string   `mapstructure:"password"`
	URL       string   `mapstructure:"url"`
}

func (e ElasticsearchConfig) GetURL() string {
	if e.URL != "" {
		return e.URL
	}
	if len(e.Addresses) > 0 {
		return e.Addresses[0]
	}
	return ""
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type WorkerConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxJobsActive int  `mapstructure:"max_jobs_active"`
	Timeout       int  `mapstructure:"timeout"`     // milliseconds
	MaxRetries    int  `mapstructure:"max_retries"` // For error handling
}

// PipelineConfig tunes the understanding pipeline. Timeouts are milliseconds.
type PipelineConfig struct {
	ConfidenceFloor         float64             `mapstructure:"confidence_floor"`
	MinIntentConfidence     float64             `mapstructure:"min_intent_confidence"`
	MinTranscriptConfidence float64             `mapstructure:"min_transcript_confidence"`
	MaxConcurrency          int                 `mapstructure:"max_concurrency"`
	MinHealthySources       int                 `mapstructure:"min_healthy_sources"`
	StageTimeouts           StageTimeoutsConfig `mapstructure:"stage_timeouts"`
}

type StageTimeoutsConfig struct {
	Normalize int `mapstructure:"normalize"`
	Extract   int `mapstructure:"extract"`
	Build     int `mapstructure:"build"`
	Resolve   int `mapstructure:"resolve"`
}

const (
	KindScrape = "scrape"
	KindAPI    = "api"

	DriverScrape        = "scrape"
	DriverHTTP          = "http"
	DriverElasticsearch = "elasticsearch"
	DriverPostgres      = "postgres"
)

// SourceConfig describes one product source. Durations are milliseconds; a
// zero TTL falls back to the cache default for the source kind.
type SourceConfig struct {
	Disabled     bool            `mapstructure:"disabled"`
	Name         string          `mapstructure:"name"`
	Kind         string          `mapstructure:"kind"`
	Driver       string          `mapstructure:"driver"`
	Priority     int             `mapstructure:"priority"`
	TTL          int             `mapstructure:"ttl_ms"`
	NegativeTTL  int             `mapstructure:"negative_ttl_ms"`
	Timeout      int             `mapstructure:"timeout_ms"`
	MaxResults   int             `mapstructure:"max_results"`
	Currency     string          `mapstructure:"currency"`
	RateLimit    RateLimitConfig `mapstructure:"rate_limit"`
	SearchURL    string          `mapstructure:"search_url"`
	BaseURL      string          `mapstructure:"base_url"`
	SearchPath   string          `mapstructure:"search_path"`
	APIKey       string          `mapstructure:"api_key"`
	APIKeyHeader string          `mapstructure:"api_key_header"`
	Index        string          `mapstructure:"index"`
	Table        string          `mapstructure:"table"`
	Selectors    SelectorConfig  `mapstructure:"selectors"`
	Fields       FieldMapConfig  `mapstructure:"fields"`
}

type RateLimitConfig struct {
	Capacity   int     `mapstructure:"capacity"`
	RefillRate float64 `mapstructure:"refill_rate"` // tokens per second
	MaxWait    int     `mapstructure:"max_wait_ms"`
}

// SelectorConfig holds the CSS selectors a scrape source is parsed with.
type SelectorConfig struct {
	Item         string `mapstructure:"item"`
	Title        string `mapstructure:"title"`
	Price        string `mapstructure:"price"`
	Link         string `mapstructure:"link"`
	Image        string `mapstructure:"image"`
	Availability string `mapstructure:"availability"`
	IDAttr       string `mapstructure:"id_attr"`
}

// FieldMapConfig holds gjson paths into a partner API response.
type FieldMapConfig struct {
	Items        string `mapstructure:"items"`
	ID           string `mapstructure:"id"`
	Title        string `mapstructure:"title"`
	Price        string `mapstructure:"price"`
	Currency     string `mapstructure:"currency"`
	Availability string `mapstructure:"availability"`
	Brand        string `mapstructure:"brand"`
	Category     string `mapstructure:"category"`
	URL          string `mapstructure:"url"`
	Image        string `mapstructure:"image"`
	Rating       string `mapstructure:"rating"`
}

type CacheConfig struct {
	Backend     string `mapstructure:"backend"` // memory | redis
	KeyPrefix   string `mapstructure:"key_prefix"`
	ScrapeTTL   int    `mapstructure:"scrape_ttl_ms"`
	APITTL      int    `mapstructure:"api_ttl_ms"`
	NegativeTTL int    `mapstructure:"negative_ttl_ms"`
}

type RankingConfig struct {
	Weights           RankingWeights `mapstructure:"weights"`
	PriceBandFactor   float64        `mapstructure:"price_band_factor"`
	FreshnessHalfLife int            `mapstructure:"freshness_half_life_ms"`
	MaxResults        int            `mapstructure:"max_results"`
}

type RankingWeights struct {
	Priority       float64 `mapstructure:"priority"`
	PriceMatch     float64 `mapstructure:"price_match"`
	Freshness      float64 `mapstructure:"freshness"`
	Agreement      float64 `mapstructure:"agreement"`
	BrandMatch     float64 `mapstructure:"brand_match"`
	DiversityBoost float64 `mapstructure:"diversity_boost"`
	InStockBoost   float64 `mapstructure:"in_stock_boost"`
}

func (w RankingWeights) IsZero() bool {
	return w == RankingWeights{}
}

type HTTPClientConfig struct {
	Timeout    int      `mapstructure:"timeout"` // milliseconds
	UserAgents []string `mapstructure:"user_agents"`
}

type ObservabilityConfig struct {
	ServiceName    string `mapstructure:"service_name"`
	JaegerEndpoint string `mapstructure:"jaeger_endpoint"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}
