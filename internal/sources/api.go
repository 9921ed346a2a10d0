package sources

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"voicemart/internal/common/config"
	apphttp "voicemart/internal/common/http"
	"voicemart/internal/models"
	"voicemart/internal/nlu/vocab"
)

const maxAPIBodyBytes = 5 * 1024 * 1024

var defaultFields = config.FieldMapConfig{
	Items:        "items",
	ID:           "id",
	Title:        "title",
	Price:        "price",
	Currency:     "currency",
	Availability: "availability",
	Brand:        "brand",
	Category:     "category",
	URL:          "url",
	Image:        "image",
	Rating:       "rating",
}

// APIConnector queries a partner search endpoint. Field paths are gjson
// paths, so partners with different response shapes share one connector.
type APIConnector struct {
	handle     models.SourceHandle
	client     *apphttp.Client
	lex        *vocab.Lexicon
	endpoint   string
	apiKey     string
	keyHeader  string
	fields     config.FieldMapConfig
	maxResults int
	currency   string
	now        func() time.Time
}

func NewAPIConnector(h models.SourceHandle, cfg config.SourceConfig, client *apphttp.Client, lex *vocab.Lexicon) *APIConnector {
	return &APIConnector{
		handle:     h,
		client:     client,
		lex:        lex,
		endpoint:   strings.TrimRight(cfg.BaseURL, "/") + "/" + strings.TrimLeft(cfg.SearchPath, "/"),
		apiKey:     cfg.APIKey,
		keyHeader:  cfg.APIKeyHeader,
		fields:     withDefaultFields(cfg.Fields),
		maxResults: cfg.MaxResults,
		currency:   cfg.Currency,
		now:        time.Now,
	}
}

func withDefaultFields(f config.FieldMapConfig) config.FieldMapConfig {
	set := func(v *string, def string) {
		if *v == "" {
			*v = def
		}
	}
	set(&f.Items, defaultFields.Items)
	set(&f.ID, defaultFields.ID)
	set(&f.Title, defaultFields.Title)
	set(&f.Price, defaultFields.Price)
	set(&f.Currency, defaultFields.Currency)
	set(&f.Availability, defaultFields.Availability)
	set(&f.Brand, defaultFields.Brand)
	set(&f.Category, defaultFields.Category)
	set(&f.URL, defaultFields.URL)
	set(&f.Image, defaultFields.Image)
	set(&f.Rating, defaultFields.Rating)
	return f
}

func (c *APIConnector) Handle() models.SourceHandle {
	return c.handle
}

func (c *APIConnector) requestURL(q *models.StructuredQuery) string {
	params := url.Values{}
	params.Set("q", q.SearchTerms())
	if q.Category != "" && q.Category != models.CategoryAny {
		params.Set("category", q.Category)
	}
	if brand := q.First(models.SlotBrand); brand != "" {
		params.Set("brand", brand)
	}
	if q.PriceMin != nil {
		params.Set("min_price", bound(q.PriceMin))
	}
	if q.PriceMax != nil {
		params.Set("max_price", bound(q.PriceMax))
	}
	params.Set("limit", strconv.Itoa(c.maxResults))

	sep := "?"
	if strings.Contains(c.endpoint, "?") {
		sep = "&"
	}
	return c.endpoint + sep + params.Encode()
}

func (c *APIConnector) Resolve(ctx context.Context, q *models.StructuredQuery, timeout time.Duration) ([]models.CandidateProduct, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	headers := map[string]string{"Accept": "application/json"}
	if c.apiKey != "" {
		headers[c.keyHeader] = c.apiKey
	}

	resp, err := c.client.Get(ctx, c.requestURL(q), headers)
	if err != nil {
		return nil, classify(c.handle.ID, err)
	}
	defer resp.Body.Close()

	if !isSuccess(resp.StatusCode) {
		return nil, statusError(c.handle.ID, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxAPIBodyBytes))
	if err != nil {
		return nil, classify(c.handle.ID, err)
	}
	return c.parse(body)
}

func (c *APIConnector) parse(body []byte) ([]models.CandidateProduct, error) {
	if !gjson.ValidBytes(body) {
		return nil, newError(c.handle.ID, models.FailureUpstreamError, fmt.Errorf("response is not valid JSON"))
	}
	items := gjson.GetBytes(body, c.fields.Items)
	if !items.IsArray() {
		return nil, newError(c.handle.ID, models.FailureUpstreamError, fmt.Errorf("no array at %q", c.fields.Items))
	}

	fetchedAt := c.now()
	var out []models.CandidateProduct
	for _, item := range items.Array() {
		if len(out) >= c.maxResults {
			break
		}
		title := strings.TrimSpace(item.Get(c.fields.Title).String())
		if title == "" {
			continue
		}
		p := models.CandidateProduct{
			SourceID:     c.handle.ID,
			ExternalID:   item.Get(c.fields.ID).String(),
			Title:        title,
			Currency:     strings.ToUpper(item.Get(c.fields.Currency).String()),
			Availability: availabilityOf(item.Get(c.fields.Availability).String()),
			Brand:        item.Get(c.fields.Brand).String(),
			Category:     item.Get(c.fields.Category).String(),
			URL:          item.Get(c.fields.URL).String(),
			ImageURL:     item.Get(c.fields.Image).String(),
			Rating:       item.Get(c.fields.Rating).Float(),
			FetchedAt:    fetchedAt,
		}

		price := item.Get(c.fields.Price)
		switch price.Type {
		case gjson.Number:
			p.Price = price.Float()
		case gjson.String:
			if v, cur, ok := parsePrice(price.String()); ok {
				p.Price = v
				if p.Currency == "" {
					p.Currency = cur
				}
			}
		}
		if p.Currency == "" {
			p.Currency = c.currency
		}
		if p.ExternalID == "" {
			p.ExternalID = title
		}

		enrich(&p, c.lex)
		out = append(out, p)
	}
	return out, nil
}
