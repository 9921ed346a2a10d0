package sources

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/lib/pq"

	"voicemart/internal/common/config"
	"voicemart/internal/models"
	"voicemart/internal/nlu/vocab"
)

var tableNameRe = regexp.MustCompile(`^[a-z_][a-z0-9_]*(\.[a-z_][a-z0-9_]*)?$`)

// InventoryConnector reads the store's own stock table.
type InventoryConnector struct {
	handle     models.SourceHandle
	db         *sql.DB
	lex        *vocab.Lexicon
	query      string
	maxResults int
	currency   string
}

func NewInventoryConnector(h models.SourceHandle, cfg config.SourceConfig, db *sql.DB, lex *vocab.Lexicon) (*InventoryConnector, error) {
	if !tableNameRe.MatchString(cfg.Table) {
		return nil, fmt.Errorf("source %s: invalid table name %q", h.ID, cfg.Table)
	}
	return &InventoryConnector{
		handle:     h,
		db:         db,
		lex:        lex,
		query:      inventoryQuery(cfg.Table),
		maxResults: cfg.MaxResults,
		currency:   cfg.Currency,
	}, nil
}

func inventoryQuery(table string) string {
	return `
		SELECT id, title, price, currency, stock, brand, category, url, image_url, updated_at
		FROM ` + table + `
		WHERE title ILIKE ALL($1)
		  AND ($2::numeric IS NULL OR price >= $2)
		  AND ($3::numeric IS NULL OR price <= $3)
		  AND ($4 = '' OR category = $4)
		ORDER BY stock > 0 DESC, price ASC
		LIMIT $5`
}

func (c *InventoryConnector) Handle() models.SourceHandle {
	return c.handle
}

// titlePatterns turns product words into ILIKE patterns. Brand, colour and
// size are matched on the title too.
func titlePatterns(q *models.StructuredQuery) []string {
	var patterns []string
	for _, name := range []models.SlotName{models.SlotBrand, models.SlotProduct, models.SlotColor} {
		for _, v := range q.Values(name) {
			for _, w := range strings.Fields(v) {
				w = strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`).Replace(w)
				patterns = append(patterns, "%"+w+"%")
			}
		}
	}
	if len(patterns) == 0 {
		patterns = []string{"%"}
	}
	return patterns
}

func nullable(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func (c *InventoryConnector) Resolve(ctx context.Context, q *models.StructuredQuery, timeout time.Duration) ([]models.CandidateProduct, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	category := q.Category
	if category == models.CategoryAny {
		category = ""
	}

	rows, err := c.db.QueryContext(ctx, c.query,
		pq.Array(titlePatterns(q)),
		nullable(q.PriceMin),
		nullable(q.PriceMax),
		category,
		c.maxResults,
	)
	if err != nil {
		return nil, classify(c.handle.ID, err)
	}
	defer rows.Close()

	var out []models.CandidateProduct
	for rows.Next() {
		var (
			p                    models.CandidateProduct
			currency, brand, cat sql.NullString
			link, image          sql.NullString
			stock                sql.NullInt64
			price                sql.NullFloat64
			updatedAt            sql.NullTime
		)
		if err := rows.Scan(&p.ExternalID, &p.Title, &price, &currency, &stock, &brand, &cat, &link, &image, &updatedAt); err != nil {
			return nil, classify(c.handle.ID, err)
		}

		p.SourceID = c.handle.ID
		p.Price = price.Float64
		p.Currency = currency.String
		if p.Currency == "" {
			p.Currency = c.currency
		}
		p.Brand, p.Category = brand.String, cat.String
		p.URL, p.ImageURL = link.String, image.String
		switch {
		case !stock.Valid:
			p.Availability = models.AvailabilityUnknown
		case stock.Int64 > 0:
			p.Availability = models.AvailabilityInStock
		default:
			p.Availability = models.AvailabilityOutOfStock
		}
		p.FetchedAt = time.Now()
		if updatedAt.Valid {
			p.FetchedAt = updatedAt.Time
		}

		enrich(&p, c.lex)
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(c.handle.ID, err)
	}
	return out, nil
}
