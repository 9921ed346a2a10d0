package sources

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/elastic/go-elasticsearch/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voicemart/internal/common/config"
	apphttp "voicemart/internal/common/http"
	"voicemart/internal/models"
	"voicemart/internal/nlu/vocab"
)

func ptr(v float64) *float64 { return &v }

func shoeQuery() *models.StructuredQuery {
	return &models.StructuredQuery{
		Intent: models.IntentSearch,
		Slots: []models.Slot{
			{Name: models.SlotBrand, Value: "nike"},
			{Name: models.SlotCategory, Value: "shoes", Derived: true},
			{Name: models.SlotPriceMax, Value: "150", Unit: "USD"},
			{Name: models.SlotProduct, Value: "running shoes"},
		},
		Category: "shoes",
		PriceMax: ptr(150),
		Currency: "USD",
	}
}

const searchPage = `<html><body>
<div class="results">
  <div class="product" data-sku="A1">
    <a class="link" href="/p/nike-air-max-90"><h2 class="title"> Nike Air   Max 90 </h2></a>
    <span class="price">$129.99</span>
    <img class="thumb" src="data:image/gif;base64," data-src="/img/a1.jpg">
    <span class="stock">In stock</span>
  </div>
  <div class="product" data-sku="A2">
    <a class="link" href="https://shop.example/p/pegasus"><h2 class="title">Nike Pegasus 40 Running Shoes</h2></a>
    <span class="price">Rs. 34,500</span>
    <span class="stock">Sold out</span>
  </div>
  <div class="product"><span class="price">$5</span></div>
</div>
</body></html>`

func scrapeConfig(url string) config.SourceConfig {
	return config.SourceConfig{
		Kind:       config.KindScrape,
		Driver:     config.DriverScrape,
		SearchURL:  url + "/search?q={query}&cat={category}&max={max}",
		MaxResults: 10,
		Currency:   "USD",
		Selectors: config.SelectorConfig{
			Item:         ".product",
			Title:        ".title",
			Price:        ".price",
			Link:         "a.link",
			Image:        "img.thumb",
			Availability: ".stock",
			IDAttr:       "data-sku",
		},
	}
}

func TestScrapeConnector_Resolve(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "nike running shoes", r.URL.Query().Get("q"))
		assert.Equal(t, "shoes", r.URL.Query().Get("cat"))
		assert.Equal(t, "150", r.URL.Query().Get("max"))
		assert.NotEmpty(t, r.Header.Get("User-Agent"))
		w.Write([]byte(searchPage))
	}))
	defer srv.Close()

	h := models.SourceHandle{ID: "shop", Kind: models.SourceScrape}
	c := NewScrapeConnector(h, scrapeConfig(srv.URL), apphttp.NewClient(time.Second), vocab.NewLexicon())

	got, err := c.Resolve(context.Background(), shoeQuery(), time.Second)
	require.NoError(t, err)
	require.Len(t, got, 2)

	first := got[0]
	assert.Equal(t, "A1", first.ExternalID)
	assert.Equal(t, "Nike Air Max 90", first.Title)
	assert.Equal(t, 129.99, first.Price)
	assert.Equal(t, "USD", first.Currency)
	assert.Equal(t, srv.URL+"/p/nike-air-max-90", first.URL)
	assert.Equal(t, srv.URL+"/img/a1.jpg", first.ImageURL)
	assert.Equal(t, models.AvailabilityInStock, first.Availability)
	assert.Equal(t, "nike", first.Brand)
	assert.Equal(t, "shop", first.SourceID)

	second := got[1]
	assert.Equal(t, 34500.0, second.Price)
	assert.Equal(t, "LKR", second.Currency)
	assert.Equal(t, models.AvailabilityOutOfStock, second.Availability)
	assert.Equal(t, "shoes", second.Category)
}

func TestScrapeConnector_Failures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    error
	}{
		{
			name:    "throttled",
			handler: func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusTooManyRequests) },
			want:    ErrRateLimited,
		},
		{
			name:    "server error",
			handler: func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusBadGateway) },
			want:    ErrUpstreamError,
		},
		{
			name: "layout changed",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`<div class="product"><b>no title here</b></div>`))
			},
			want: ErrParseError,
		},
		{
			name: "slow",
			handler: func(w http.ResponseWriter, r *http.Request) {
				select {
				case <-r.Context().Done():
				case <-time.After(time.Second):
				}
			},
			want: ErrTimeout,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			h := models.SourceHandle{ID: "shop", Kind: models.SourceScrape}
			c := NewScrapeConnector(h, scrapeConfig(srv.URL), apphttp.NewClient(5*time.Second), vocab.NewLexicon())

			_, err := c.Resolve(context.Background(), shoeQuery(), 50*time.Millisecond)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)

			var ce *ConnectorError
			require.True(t, errors.As(err, &ce))
			assert.Equal(t, "shop", ce.Source)
		})
	}
}

func TestScrapeConnector_NoResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body><p>No products found</p></body></html>`))
	}))
	defer srv.Close()

	h := models.SourceHandle{ID: "shop", Kind: models.SourceScrape}
	c := NewScrapeConnector(h, scrapeConfig(srv.URL), apphttp.NewClient(time.Second), vocab.NewLexicon())

	got, err := c.Resolve(context.Background(), shoeQuery(), time.Second)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func apiConfig(url string) config.SourceConfig {
	return config.SourceConfig{
		Kind:         config.KindAPI,
		Driver:       config.DriverHTTP,
		BaseURL:      url + "/",
		SearchPath:   "/v2/search",
		APIKey:       "k-123",
		APIKeyHeader: "X-Partner-Key",
		MaxResults:   5,
		Currency:     "USD",
		Fields: config.FieldMapConfig{
			Items:        "data.products",
			Title:        "name",
			Price:        "pricing.amount",
			Currency:     "pricing.currency",
			Availability: "inventory.status",
			URL:          "links.web",
		},
	}
}

func TestAPIConnector_Resolve(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/search", r.URL.Path)
		assert.Equal(t, "k-123", r.Header.Get("X-Partner-Key"))
		qs := r.URL.Query()
		assert.Equal(t, "nike running shoes", qs.Get("q"))
		assert.Equal(t, "shoes", qs.Get("category"))
		assert.Equal(t, "nike", qs.Get("brand"))
		assert.Equal(t, "150", qs.Get("max_price"))
		assert.Empty(t, qs.Get("min_price"))
		assert.Equal(t, "5", qs.Get("limit"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":{"products":[
			{"id":"n-90","name":"Nike Air Max 90","brand":"Nike","category":"Running Shoes","pricing":{"amount":119.5,"currency":"usd"},
			 "inventory":{"status":"IN_STOCK"},"links":{"web":"https://partner.example/n-90"},"rating":4.6},
			{"id":"n-40","name":"Nike Pegasus 40","pricing":{"amount":"$99"},"inventory":{"status":"out_of_stock"}},
			{"id":"blank","name":""}
		]}}`))
	}))
	defer srv.Close()

	h := models.SourceHandle{ID: "partner", Kind: models.SourceAPI}
	c := NewAPIConnector(h, apiConfig(srv.URL), apphttp.NewClient(time.Second), vocab.NewLexicon())

	got, err := c.Resolve(context.Background(), shoeQuery(), time.Second)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "n-90", got[0].ExternalID)
	assert.Equal(t, 119.5, got[0].Price)
	assert.Equal(t, "USD", got[0].Currency)
	assert.Equal(t, models.AvailabilityInStock, got[0].Availability)
	assert.Equal(t, "nike", got[0].Brand)
	assert.Equal(t, "shoes", got[0].Category)
	assert.Equal(t, 4.6, got[0].Rating)

	assert.Equal(t, 99.0, got[1].Price)
	assert.Equal(t, "USD", got[1].Currency)
	assert.Equal(t, models.AvailabilityOutOfStock, got[1].Availability)
}

func TestAPIConnector_BadBodies(t *testing.T) {
	bodies := map[string]string{
		"not json":      `<html>maintenance</html>`,
		"missing items": `{"data":{}}`,
	}

	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(body))
			}))
			defer srv.Close()

			h := models.SourceHandle{ID: "partner", Kind: models.SourceAPI}
			c := NewAPIConnector(h, apiConfig(srv.URL), apphttp.NewClient(time.Second), vocab.NewLexicon())

			_, err := c.Resolve(context.Background(), shoeQuery(), time.Second)
			assert.True(t, errors.Is(err, ErrUpstreamError), "got %v", err)
			assert.False(t, errors.Is(err, ErrParseError))
		})
	}
}

func TestCatalogConnector_Resolve(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")
		assert.Equal(t, "/catalog/_search", r.URL.Path)
		w.Write([]byte(`{"took":3,"hits":{"total":{"value":1},"hits":[
			{"_id":"sku-1","_source":{"title":"Nike Air Max 90","price":125,"brand":"Nike",
			 "category":"Footwear","availability":"in stock","image_url":"https://img/1.jpg"}}
		]}}`))
	}))
	defer srv.Close()

	es, err := elasticsearch.NewClient(elasticsearch.Config{Addresses: []string{srv.URL}})
	require.NoError(t, err)

	h := models.SourceHandle{ID: "catalog", Kind: models.SourceAPI}
	c := NewCatalogConnector(h, config.SourceConfig{Index: "catalog", MaxResults: 10, Currency: "USD"}, es, vocab.NewLexicon())

	got, err := c.Resolve(context.Background(), shoeQuery(), time.Second)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "sku-1", got[0].ExternalID)
	assert.Equal(t, 125.0, got[0].Price)
	assert.Equal(t, "USD", got[0].Currency)
	assert.Equal(t, "shoes", got[0].Category)
	assert.Equal(t, "nike", got[0].Brand)
}

func TestCatalogConnector_SearchBody(t *testing.T) {
	c := &CatalogConnector{}
	body := c.searchBody(shoeQuery())

	boolQuery := body["query"].(map[string]interface{})["bool"].(map[string]interface{})
	require.Len(t, boolQuery["must"], 1)
	filters := boolQuery["filter"].([]interface{})
	require.Len(t, filters, 2)
	rng := filters[1].(map[string]interface{})["range"].(map[string]interface{})["price"].(map[string]interface{})
	assert.Equal(t, 150.0, rng["lte"])
	assert.NotContains(t, rng, "gte")

	empty := c.searchBody(&models.StructuredQuery{Category: models.CategoryAny})
	boolQuery = empty["query"].(map[string]interface{})["bool"].(map[string]interface{})
	assert.NotContains(t, boolQuery, "filter")
}

func TestInventoryConnector_Resolve(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	updated := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"id", "title", "price", "currency", "stock", "brand", "category", "url", "image_url", "updated_at"}).
		AddRow("42", "Nike Air Max 90", 120.0, "USD", 3, "Nike", "shoes", "https://store/42", nil, updated).
		AddRow("43", "Nike Revolution 6", 60.0, nil, 0, nil, nil, nil, nil, nil)

	mock.ExpectQuery(regexp.QuoteMeta("FROM stock_items")).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), "shoes", 10).
		WillReturnRows(rows)

	h := models.SourceHandle{ID: "inventory", Kind: models.SourceAPI}
	c, err := NewInventoryConnector(h, config.SourceConfig{Table: "stock_items", MaxResults: 10, Currency: "LKR"}, db, vocab.NewLexicon())
	require.NoError(t, err)

	got, err := c.Resolve(context.Background(), shoeQuery(), time.Second)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, models.AvailabilityInStock, got[0].Availability)
	assert.Equal(t, updated, got[0].FetchedAt)
	assert.Equal(t, "nike", got[0].Brand)

	assert.Equal(t, "LKR", got[1].Currency)
	assert.Equal(t, models.AvailabilityOutOfStock, got[1].Availability)
	assert.Equal(t, "nike", got[1].Brand)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInventoryConnector_QueryError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT").WillReturnError(errors.New("connection reset"))

	h := models.SourceHandle{ID: "inventory"}
	c, err := NewInventoryConnector(h, config.SourceConfig{Table: "products", MaxResults: 10}, db, vocab.NewLexicon())
	require.NoError(t, err)

	_, err = c.Resolve(context.Background(), shoeQuery(), time.Second)
	assert.True(t, errors.Is(err, ErrUpstreamError))
	assert.Equal(t, models.FailureUpstreamError, KindOf(err))
}

func TestInventoryConnector_RejectsTableName(t *testing.T) {
	_, err := NewInventoryConnector(models.SourceHandle{ID: "x"}, config.SourceConfig{Table: "products; drop table x"}, nil, nil)
	assert.Error(t, err)
}

func TestTitlePatterns(t *testing.T) {
	q := &models.StructuredQuery{Slots: []models.Slot{
		{Name: models.SlotBrand, Value: "new balance"},
		{Name: models.SlotProduct, Value: "100%_cotton"},
	}}
	assert.Equal(t, []string{"%new%", "%balance%", `%100\%\_cotton%`}, titlePatterns(q))
	assert.Equal(t, []string{"%"}, titlePatterns(&models.StructuredQuery{}))
}

func TestBuild(t *testing.T) {
	cfgs := map[string]config.SourceConfig{
		"shop":    {Driver: config.DriverScrape, Kind: config.KindScrape, Timeout: 1500, TTL: 60000},
		"partner": {Driver: config.DriverHTTP, Kind: config.KindAPI, Priority: 3},
		"off":     {Driver: config.DriverHTTP, Disabled: true},
	}

	got, err := Build(cfgs, Deps{HTTP: apphttp.NewClient(time.Second)})
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "partner", got[0].Connector.Handle().ID)
	assert.Equal(t, 3, got[0].Connector.Handle().Priority)
	assert.Equal(t, "shop", got[1].Connector.Handle().ID)
	assert.Equal(t, models.SourceScrape, got[1].Connector.Handle().Kind)
	assert.Equal(t, 1500*time.Millisecond, got[1].Timeout)
	assert.Equal(t, time.Minute, got[1].TTL)

	_, err = Build(map[string]config.SourceConfig{"es": {Driver: config.DriverElasticsearch}}, Deps{})
	assert.Error(t, err)
}

func TestParsePrice(t *testing.T) {
	tests := []struct {
		in       string
		value    float64
		currency string
		ok       bool
	}{
		{"$1,299.00", 1299, "USD", true},
		{"Rs. 4,999", 4999, "LKR", true},
		{"€ 45", 45, "EUR", true},
		{"129", 129, "", true},
		{"Call for price", 0, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			v, cur, ok := parsePrice(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.value, v)
			assert.Equal(t, tt.currency, cur)
		})
	}
}

func TestAvailabilityOf(t *testing.T) {
	assert.Equal(t, models.AvailabilityInStock, availabilityOf(" In Stock "))
	assert.Equal(t, models.AvailabilityOutOfStock, availabilityOf("Currently unavailable"))
	assert.Equal(t, models.AvailabilityUnknown, availabilityOf(""))
	assert.Equal(t, models.AvailabilityUnknown, availabilityOf("ships in 3 weeks"))
}
