// Package database opens the storage backends behind the inventory and
// catalog sources and the shared result cache.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"voicemart/internal/common/config"
)

// Backends holds the storage clients the configured sources and cache need.
// Clients nobody needs stay nil.
type Backends struct {
	Inventory *sql.DB
	Catalog   *elasticsearch.Client
	Cache     *redis.Client
}

// Open connects only the backends referenced by enabled sources and the
// cache backend. Nothing is dialled here; use Ping.
func Open(cfg *config.Config) (*Backends, error) {
	b := &Backends{}

	needInventory, needCatalog := false, false
	for _, src := range cfg.Sources {
		if src.Disabled {
			continue
		}
		switch src.Driver {
		case config.DriverPostgres:
			needInventory = true
		case config.DriverElasticsearch:
			needCatalog = true
		}
	}

	var err error
	if needInventory {
		if b.Inventory, err = openInventory(cfg.Database.Postgres); err != nil {
			return nil, err
		}
	}
	if needCatalog {
		if b.Catalog, err = openCatalog(cfg.Database.Elasticsearch); err != nil {
			b.Close()
			return nil, err
		}
	}
	if cfg.Cache.Backend == "redis" {
		if b.Cache, err = openCache(cfg.Database.Redis); err != nil {
			b.Close()
			return nil, err
		}
	}
	return b, nil
}

func openInventory(cfg config.PostgresConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("open inventory database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.MaxIdle)
	db.SetConnMaxLifetime(5 * time.Minute)
	return db, nil
}

func openCatalog(cfg config.ElasticsearchConfig) (*elasticsearch.Client, error) {
	addrs := cfg.Addresses
	if len(addrs) == 0 && cfg.URL != "" {
		addrs = []string{cfg.URL}
	}
	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: addrs,
		Username:  cfg.Username,
		Password:  cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("create catalog client: %w", err)
	}
	return es, nil
}

// openCache sizes the pool for one GET per source per request.
func openCache(cfg config.RedisConfig) (*redis.Client, error) {
	if cfg.Address == "" {
		return nil, errors.New("redis address is required for the cache backend")
	}
	return redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  500 * time.Millisecond,
		WriteTimeout: 500 * time.Millisecond,
		PoolSize:     20,
	}), nil
}

// Ping checks every opened backend and joins the failures.
func (b *Backends) Ping(ctx context.Context) error {
	var errs []error
	if b.Inventory != nil {
		if err := b.Inventory.PingContext(ctx); err != nil {
			errs = append(errs, fmt.Errorf("inventory: %w", err))
		}
	}
	if b.Catalog != nil {
		if err := pingCatalog(ctx, b.Catalog); err != nil {
			errs = append(errs, fmt.Errorf("catalog: %w", err))
		}
	}
	if b.Cache != nil {
		if err := b.Cache.Ping(ctx).Err(); err != nil {
			errs = append(errs, fmt.Errorf("cache: %w", err))
		}
	}
	return errors.Join(errs...)
}

func pingCatalog(ctx context.Context, es *elasticsearch.Client) error {
	res, err := es.Ping(es.Ping.WithContext(ctx))
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("ping: %s", res.Status())
	}
	return nil
}

func (b *Backends) Close() {
	if b.Inventory != nil {
		b.Inventory.Close()
	}
	if b.Cache != nil {
		b.Cache.Close()
	}
}
