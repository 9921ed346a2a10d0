package sources

import (
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/elastic/go-elasticsearch/v8"

	"voicemart/internal/common/config"
	apphttp "voicemart/internal/common/http"
	"voicemart/internal/nlu/vocab"
)

// Deps are the shared clients connectors are built on. Only the clients the
// configured drivers need must be set.
type Deps struct {
	HTTP          *apphttp.Client
	Elasticsearch *elasticsearch.Client
	DB            *sql.DB
	Lexicon       *vocab.Lexicon
}

// Configured pairs a connector with its per-source call settings. A zero TTL
// means the cache default for the source kind.
type Configured struct {
	Connector   Connector
	Timeout     time.Duration
	TTL         time.Duration
	NegativeTTL time.Duration
}

// Build creates a connector for every enabled source, ordered by id.
func Build(cfgs map[string]config.SourceConfig, deps Deps) ([]Configured, error) {
	if deps.Lexicon == nil {
		deps.Lexicon = vocab.NewLexicon()
	}

	ids := make([]string, 0, len(cfgs))
	for id := range cfgs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var out []Configured
	for _, id := range ids {
		cfg := cfgs[id]
		if cfg.Disabled {
			continue
		}
		conn, err := newConnector(id, cfg, deps)
		if err != nil {
			return nil, err
		}
		out = append(out, Configured{
			Connector:   conn,
			Timeout:     time.Duration(cfg.Timeout) * time.Millisecond,
			TTL:         time.Duration(cfg.TTL) * time.Millisecond,
			NegativeTTL: time.Duration(cfg.NegativeTTL) * time.Millisecond,
		})
	}
	return out, nil
}

func newConnector(id string, cfg config.SourceConfig, deps Deps) (Connector, error) {
	h := HandleFromConfig(id, cfg)
	switch cfg.Driver {
	case config.DriverScrape:
		if deps.HTTP == nil {
			return nil, fmt.Errorf("source %s: http client is required", id)
		}
		return NewScrapeConnector(h, cfg, deps.HTTP, deps.Lexicon), nil
	case config.DriverHTTP:
		if deps.HTTP == nil {
			return nil, fmt.Errorf("source %s: http client is required", id)
		}
		return NewAPIConnector(h, cfg, deps.HTTP, deps.Lexicon), nil
	case config.DriverElasticsearch:
		if deps.Elasticsearch == nil {
			return nil, fmt.Errorf("source %s: elasticsearch client is required", id)
		}
		return NewCatalogConnector(h, cfg, deps.Elasticsearch, deps.Lexicon), nil
	case config.DriverPostgres:
		if deps.DB == nil {
			return nil, fmt.Errorf("source %s: database is required", id)
		}
		return NewInventoryConnector(h, cfg, deps.DB, deps.Lexicon)
	}
	return nil, fmt.Errorf("source %s: unsupported driver %q", id, cfg.Driver)
}
