package sources

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/tidwall/gjson"

	"voicemart/internal/common/config"
	"voicemart/internal/models"
	"voicemart/internal/nlu/vocab"
)

// CatalogConnector searches the own product catalog index in Elasticsearch.
type CatalogConnector struct {
	handle     models.SourceHandle
	es         *elasticsearch.Client
	lex        *vocab.Lexicon
	index      string
	maxResults int
	currency   string
	now        func() time.Time
}

func NewCatalogConnector(h models.SourceHandle, cfg config.SourceConfig, es *elasticsearch.Client, lex *vocab.Lexicon) *CatalogConnector {
	return &CatalogConnector{
		handle:     h,
		es:         es,
		lex:        lex,
		index:      cfg.Index,
		maxResults: cfg.MaxResults,
		currency:   cfg.Currency,
		now:        time.Now,
	}
}

func (c *CatalogConnector) Handle() models.SourceHandle {
	return c.handle
}

// searchBody builds a bool query: multi_match on the search terms, filtered
// by category and price range.
func (c *CatalogConnector) searchBody(q *models.StructuredQuery) map[string]interface{} {
	var must []interface{}
	if terms := q.SearchTerms(); terms != "" {
		must = append(must, map[string]interface{}{
			"multi_match": map[string]interface{}{
				"query":    terms,
				"fields":   []string{"title^3", "brand^2", "category", "description"},
				"operator": "or",
			},
		})
	} else {
		must = append(must, map[string]interface{}{"match_all": map[string]interface{}{}})
	}

	var filter []interface{}
	if q.Category != "" && q.Category != models.CategoryAny {
		filter = append(filter, map[string]interface{}{
			"term": map[string]interface{}{"category": q.Category},
		})
	}
	if q.PriceMin != nil || q.PriceMax != nil {
		rng := map[string]interface{}{}
		if q.PriceMin != nil {
			rng["gte"] = *q.PriceMin
		}
		if q.PriceMax != nil {
			rng["lte"] = *q.PriceMax
		}
		filter = append(filter, map[string]interface{}{
			"range": map[string]interface{}{"price": rng},
		})
	}

	boolQuery := map[string]interface{}{"must": must}
	if len(filter) > 0 {
		boolQuery["filter"] = filter
	}
	return map[string]interface{}{
		"query": map[string]interface{}{"bool": boolQuery},
	}
}

func (c *CatalogConnector) Resolve(ctx context.Context, q *models.StructuredQuery, timeout time.Duration) ([]models.CandidateProduct, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body, err := json.Marshal(c.searchBody(q))
	if err != nil {
		return nil, newError(c.handle.ID, models.FailureUpstreamError, err)
	}

	res, err := c.es.Search(
		c.es.Search.WithContext(ctx),
		c.es.Search.WithIndex(c.index),
		c.es.Search.WithBody(bytes.NewReader(body)),
		c.es.Search.WithSize(c.maxResults),
	)
	if err != nil {
		return nil, classify(c.handle.ID, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, statusError(c.handle.ID, res.StatusCode)
	}

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, classify(c.handle.ID, err)
	}
	if !gjson.ValidBytes(raw) {
		return nil, newError(c.handle.ID, models.FailureUpstreamError, fmt.Errorf("search response is not valid JSON"))
	}

	fetchedAt := c.now()
	var out []models.CandidateProduct
	for _, hit := range gjson.GetBytes(raw, "hits.hits").Array() {
		src := hit.Get("_source")
		title := src.Get("title").String()
		if title == "" {
			continue
		}
		p := models.CandidateProduct{
			SourceID:     c.handle.ID,
			ExternalID:   hit.Get("_id").String(),
			Title:        title,
			Price:        src.Get("price").Float(),
			Currency:     src.Get("currency").String(),
			Availability: availabilityOf(src.Get("availability").String()),
			Brand:        src.Get("brand").String(),
			Category:     src.Get("category").String(),
			URL:          src.Get("url").String(),
			ImageURL:     src.Get("image_url").String(),
			Rating:       src.Get("rating").Float(),
			FetchedAt:    fetchedAt,
		}
		if p.Currency == "" {
			p.Currency = c.currency
		}
		enrich(&p, c.lex)
		out = append(out, p)
	}
	return out, nil
}
