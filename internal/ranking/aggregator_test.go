package ranking

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voicemart/internal/common/config"
	"voicemart/internal/models"
)

var now = time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

func newAggregator(weights config.RankingWeights, maxResults int) *Aggregator {
	return NewAggregator(config.RankingConfig{
		Weights:           weights,
		PriceBandFactor:   1.15,
		FreshnessHalfLife: int(time.Hour / time.Millisecond),
		MaxResults:        maxResults,
	}, WithClock(func() time.Time { return now }))
}

func product(source, title string, price float64) models.CandidateProduct {
	return models.CandidateProduct{
		SourceID:     source,
		ExternalID:   source + ":" + title,
		Title:        title,
		Price:        price,
		Currency:     "LKR",
		Category:     "shoes",
		Availability: models.AvailabilityUnknown,
		FetchedAt:    now,
	}
}

func batch(id string, priority int, products ...models.CandidateProduct) models.SourceBatch {
	return models.SourceBatch{
		Source:     models.SourceHandle{ID: id, Priority: priority, Kind: models.SourceAPI},
		Candidates: products,
	}
}

func failed(id string) models.SourceBatch {
	return models.SourceBatch{
		Source: models.SourceHandle{ID: id, Priority: 1},
		Err:    errors.New("timeout"),
	}
}

func searchQuery() *models.StructuredQuery {
	return &models.StructuredQuery{Intent: models.IntentSearch, Category: "shoes", Confidence: 0.8}
}

func titles(r models.RankedResult) []string {
	out := make([]string, len(r.Items))
	for i, it := range r.Items {
		out[i] = it.Product.Title
	}
	return out
}

func TestAggregate_DedupesAcrossSources(t *testing.T) {
	a := newAggregator(config.RankingWeights{}, 10)

	res := a.Aggregate(searchQuery(), []models.SourceBatch{
		batch("partner", 2, product("partner", "Nike Air Max 90", 112)),
		batch("retailer", 1, product("retailer", "NIKE Air-Max 90!", 110)),
	})

	require.Len(t, res.Items, 1)
	item := res.Items[0]
	assert.Equal(t, []string{"partner", "retailer"}, item.Provenance)
	assert.Equal(t, "partner", item.Product.SourceID)
	assert.Equal(t, 112.0, item.Product.Price)
	assert.Equal(t, models.StatusRanked, res.Status)
	assert.Equal(t, 0.8, res.Confidence)
}

func TestAggregate_DifferentPriceBandsStaySeparate(t *testing.T) {
	a := newAggregator(config.RankingWeights{}, 10)

	res := a.Aggregate(searchQuery(), []models.SourceBatch{
		batch("a", 1, product("a", "Nike Air Max 90", 100)),
		batch("b", 1, product("b", "Nike Air Max 90", 200)),
	})
	assert.Len(t, res.Items, 2)
}

func TestAggregate_CanonicalTieBreaks(t *testing.T) {
	a := newAggregator(config.RankingWeights{}, 10)

	res := a.Aggregate(searchQuery(), []models.SourceBatch{
		batch("zeta", 1, product("zeta", "Nike Air Max 90", 110)),
		batch("alpha", 1, product("alpha", "Nike Air Max 90", 110)),
	})
	require.Len(t, res.Items, 1)
	assert.Equal(t, "alpha", res.Items[0].Product.SourceID)
}

func TestAggregate_DegradedScenarioMerge(t *testing.T) {
	a := newAggregator(config.RankingWeights{}, 20)

	var first, second []models.CandidateProduct
	for i := 0; i < 5; i++ {
		first = append(first, product("one", fmt.Sprintf("Runner %d", i), float64(1000+i*500)))
	}
	second = append(second, product("two", "Runner 0", 1000))
	for i := 0; i < 2; i++ {
		second = append(second, product("two", fmt.Sprintf("Trail %d", i), 3000))
	}

	res := a.Aggregate(searchQuery(), []models.SourceBatch{
		failed("slow"),
		batch("one", 1, first...),
		batch("two", 1, second...),
	})

	assert.Equal(t, models.StatusRanked, res.Status)
	assert.LessOrEqual(t, len(res.Items), 8)
	assert.Len(t, res.Items, 7)

	for _, it := range res.Items {
		if it.Product.Title == "Runner 0" {
			assert.Equal(t, []string{"one", "two"}, it.Provenance)
		}
	}
}

func TestAggregate_AllSourcesFailed(t *testing.T) {
	a := newAggregator(config.RankingWeights{}, 10)

	tests := []struct {
		name    string
		batches []models.SourceBatch
	}{
		{name: "every batch failed", batches: []models.SourceBatch{failed("a"), failed("b")}},
		{name: "no batches", batches: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := a.Aggregate(searchQuery(), tt.batches)
			assert.Equal(t, models.StatusAllSourcesFailed, res.Status)
			assert.Empty(t, res.Items)
			assert.NotNil(t, res.Items)
		})
	}
}

func TestAggregate_EmptyAnswersAreNotFailures(t *testing.T) {
	a := newAggregator(config.RankingWeights{}, 10)
	res := a.Aggregate(searchQuery(), []models.SourceBatch{batch("a", 1)})
	assert.Equal(t, models.StatusRanked, res.Status)
	assert.Empty(t, res.Items)
}

func TestAggregate_SortTieBreaks(t *testing.T) {
	a := newAggregator(config.RankingWeights{PriceMatch: 1}, 10)

	res := a.Aggregate(searchQuery(), []models.SourceBatch{
		batch("low", 1,
			product("low", "Bravo", 300),
			product("low", "Alpha", 300),
		),
		batch("high", 2,
			product("high", "Charlie", 300),
			product("high", "Delta", 100),
		),
	})

	assert.Equal(t, []string{"Delta", "Charlie", "Alpha", "Bravo"}, titles(res))
}

func TestAggregate_PriceMatchRanksInsideBoundsFirst(t *testing.T) {
	a := newAggregator(config.RankingWeights{PriceMatch: 1}, 10)
	ceiling := 5000.0
	q := searchQuery()
	q.PriceMax = &ceiling
	q.Currency = "LKR"

	res := a.Aggregate(q, []models.SourceBatch{
		batch("a", 1,
			product("a", "Pricey", 7500),
			product("a", "Fair", 4500),
			product("a", "Way Off", 20000),
		),
	})

	assert.Equal(t, []string{"Fair", "Pricey", "Way Off"}, titles(res))
	assert.Equal(t, 1.0, res.Items[0].Score)
	assert.Equal(t, 0.5, res.Items[1].Score)
	assert.Equal(t, 0.0, res.Items[2].Score)
}

func TestAggregate_CompareBoostsBrandDiversity(t *testing.T) {
	a := newAggregator(config.RankingWeights{PriceMatch: 1, DiversityBoost: 1}, 10)
	q := searchQuery()
	q.Intent = models.IntentCompare

	nikeA := product("a", "Nike Pegasus", 100)
	nikeA.Brand = "nike"
	nikeB := product("a", "Nike Vomero", 120)
	nikeB.Brand = "nike"
	adidas := product("a", "Adidas Ultraboost", 130)
	adidas.Brand = "adidas"

	res := a.Aggregate(q, []models.SourceBatch{batch("a", 1, nikeA, nikeB, adidas)})
	assert.Equal(t, []string{"Nike Pegasus", "Adidas Ultraboost", "Nike Vomero"}, titles(res))
}

func TestAggregate_AddToCartPrefersInStock(t *testing.T) {
	a := newAggregator(config.RankingWeights{PriceMatch: 1, InStockBoost: 1}, 10)
	q := searchQuery()
	q.Intent = models.IntentAddToCart

	gone := product("a", "Milo 400g", 900)
	gone.Availability = models.AvailabilityOutOfStock
	here := product("a", "Milo 1kg", 2100)
	here.Availability = models.AvailabilityInStock

	res := a.Aggregate(q, []models.SourceBatch{batch("a", 1, gone, here)})
	assert.Equal(t, []string{"Milo 1kg", "Milo 400g"}, titles(res))
}

func TestAggregate_BrandMatch(t *testing.T) {
	a := newAggregator(config.RankingWeights{PriceMatch: 1, BrandMatch: 1}, 10)
	q := searchQuery()
	q.Slots = []models.Slot{{Name: models.SlotBrand, Value: "nike"}}

	res := a.Aggregate(q, []models.SourceBatch{batch("a", 1,
		product("a", "Generic Runner", 50),
		product("a", "Nike Revolution 7", 90),
	)})
	assert.Equal(t, []string{"Nike Revolution 7", "Generic Runner"}, titles(res))
}

func TestAggregate_Truncates(t *testing.T) {
	a := newAggregator(config.RankingWeights{PriceMatch: 1}, 2)
	res := a.Aggregate(searchQuery(), []models.SourceBatch{batch("a", 1,
		product("a", "One", 100),
		product("a", "Two", 200),
		product("a", "Three", 300),
	)})
	assert.Equal(t, []string{"One", "Two"}, titles(res))
}

func TestScoringFactors(t *testing.T) {
	a := newAggregator(config.RankingWeights{}, 10)

	assert.InDelta(t, 1.0, a.freshness(now), 1e-9)
	assert.InDelta(t, 0.5, a.freshness(now.Add(-time.Hour)), 1e-9)
	assert.InDelta(t, 0.25, a.freshness(now.Add(-2*time.Hour)), 1e-9)
	assert.Equal(t, 0.5, a.freshness(time.Time{}))

	assert.Equal(t, 0.0, agreement(1, 1))
	assert.Equal(t, 0.5, agreement(2, 3))
	assert.Equal(t, 1.0, agreement(3, 3))

	assert.Equal(t, -1, a.priceBand(0))
	assert.Equal(t, a.priceBand(110), a.priceBand(112))

	assert.Equal(t, "nike air max 90", normalizeTitle("  NIKE Air-Max 90!! "))
}
