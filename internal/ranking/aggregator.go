// Package ranking merges per-source candidates into one ordered result.
package ranking

import (
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"

	"voicemart/internal/common/config"
	"voicemart/internal/models"
	"voicemart/internal/nlu/vocab"
)

type Option func(*Aggregator)

func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) {
		a.now = now
	}
}

func WithLexicon(lex *vocab.Lexicon) Option {
	return func(a *Aggregator) {
		a.lex = lex
	}
}

// Aggregator is stateless across calls and safe for concurrent use.
type Aggregator struct {
	weights    config.RankingWeights
	bandFactor float64
	halfLife   time.Duration
	maxResults int
	lex        *vocab.Lexicon
	now        func() time.Time
}

// NewAggregator fills unset ranking settings with the platform defaults.
func NewAggregator(cfg config.RankingConfig, opts ...Option) *Aggregator {
	a := &Aggregator{
		weights:    cfg.Weights,
		bandFactor: cfg.PriceBandFactor,
		halfLife:   time.Duration(cfg.FreshnessHalfLife) * time.Millisecond,
		maxResults: cfg.MaxResults,
		now:        time.Now,
	}
	if a.weights.IsZero() {
		a.weights = config.DefaultRankingWeights
	}
	if a.bandFactor <= 1 {
		a.bandFactor = 1.15
	}
	if a.halfLife <= 0 {
		a.halfLife = time.Hour
	}
	if a.maxResults <= 0 {
		a.maxResults = 20
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.lex == nil {
		a.lex = vocab.NewLexicon()
	}
	return a
}

type group struct {
	product  models.CandidateProduct
	source   models.SourceHandle
	sources  map[string]bool
	priority int
}

type scored struct {
	item     models.RankedItem
	priority int
}

// Aggregate dedupes, scores, sorts and truncates. Failed batches only count
// towards the all-failed check.
func (a *Aggregator) Aggregate(q *models.StructuredQuery, batches []models.SourceBatch) models.RankedResult {
	result := models.RankedResult{
		Status:     models.StatusRanked,
		Items:      []models.RankedItem{},
		Confidence: q.Confidence,
	}

	var answered []models.SourceBatch
	for _, b := range batches {
		if b.Err == nil {
			answered = append(answered, b)
		}
	}
	if len(answered) == 0 {
		result.Status = models.StatusAllSourcesFailed
		return result
	}

	maxPriority := 1
	for _, b := range answered {
		maxPriority = max(maxPriority, b.Source.Priority)
	}

	groups := make(map[string]*group)
	var order []string
	for _, b := range answered {
		for _, p := range b.Candidates {
			if p.SourceID == "" {
				p.SourceID = b.Source.ID
			}
			key := a.dedupeKey(q, p)
			g, ok := groups[key]
			if !ok {
				groups[key] = &group{
					product:  p,
					source:   b.Source,
					sources:  map[string]bool{b.Source.ID: true},
					priority: b.Source.Priority,
				}
				order = append(order, key)
				continue
			}
			g.sources[b.Source.ID] = true
			if preferred(b.Source, p, g.source, g.product) {
				g.product, g.source, g.priority = p, b.Source, b.Source.Priority
			}
		}
	}

	brands := lowerAll(q.Values(models.SlotBrand))
	items := make([]scored, 0, len(order))
	for _, key := range order {
		g := groups[key]
		provenance := make([]string, 0, len(g.sources))
		for id := range g.sources {
			provenance = append(provenance, id)
		}
		sort.Strings(provenance)

		w := a.weights
		score := w.Priority*float64(g.priority)/float64(maxPriority) +
			w.PriceMatch*priceMatch(g.product, q) +
			w.Freshness*a.freshness(g.product.FetchedAt) +
			w.Agreement*agreement(len(provenance), len(answered))
		if len(brands) > 0 && brandMatches(g.product, brands) {
			score += w.BrandMatch
		}
		if q.Intent == models.IntentAddToCart && g.product.Availability == models.AvailabilityInStock {
			score += w.InStockBoost
		}

		items = append(items, scored{
			item:     models.RankedItem{Product: g.product, Score: score, Provenance: provenance},
			priority: g.priority,
		})
	}

	sortItems(items)

	if q.Intent == models.IntentCompare && a.weights.DiversityBoost > 0 {
		seen := make(map[string]bool)
		for i := range items {
			brand := strings.ToLower(items[i].item.Product.Brand)
			if brand == "" || seen[brand] {
				continue
			}
			seen[brand] = true
			items[i].item.Score += a.weights.DiversityBoost
		}
		sortItems(items)
	}

	if len(items) > a.maxResults {
		items = items[:a.maxResults]
	}
	for _, s := range items {
		s.item.Score = math.Round(s.item.Score*1e4) / 1e4
		result.Items = append(result.Items, s.item)
	}
	return result
}

// dedupeKey groups candidates that describe the same product.
func (a *Aggregator) dedupeKey(q *models.StructuredQuery, p models.CandidateProduct) string {
	return normalizeTitle(p.Title) + "|" + strconv.Itoa(a.priceBand(p.Price)) + "|" + a.category(q, p)
}

func (a *Aggregator) priceBand(price float64) int {
	if price <= 0 {
		return -1
	}
	return int(math.Floor(math.Log(price) / math.Log(a.bandFactor)))
}

func (a *Aggregator) category(q *models.StructuredQuery, p models.CandidateProduct) string {
	if p.Category != "" {
		if c := a.lex.CategoryOf(p.Category); c != "" {
			return c
		}
		return strings.ToLower(p.Category)
	}
	if q.Category != models.CategoryAny {
		return q.Category
	}
	return ""
}

func (a *Aggregator) freshness(fetchedAt time.Time) float64 {
	if fetchedAt.IsZero() {
		return 0.5
	}
	age := a.now().Sub(fetchedAt)
	if age <= 0 {
		return 1
	}
	return math.Exp(-float64(age) / float64(a.halfLife) * math.Ln2)
}

func normalizeTitle(title string) string {
	fields := strings.FieldsFunc(strings.ToLower(title), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && !unicode.Is(unicode.Mn, r) && !unicode.Is(unicode.Mc, r)
	})
	return strings.Join(fields, " ")
}

// preferred reports whether candidate p from source s should replace the
// current canonical record.
func preferred(s models.SourceHandle, p models.CandidateProduct, curSource models.SourceHandle, cur models.CandidateProduct) bool {
	if s.Priority != curSource.Priority {
		return s.Priority > curSource.Priority
	}
	if pa, pb := sortPrice(p.Price), sortPrice(cur.Price); pa != pb {
		return pa < pb
	}
	return s.ID < curSource.ID
}

// priceMatch is 1 inside the query bounds and decays linearly with the
// relative distance outside them.
func priceMatch(p models.CandidateProduct, q *models.StructuredQuery) float64 {
	if p.Price <= 0 {
		return 0.5
	}
	if q.PriceMin == nil && q.PriceMax == nil {
		return 1
	}
	if q.Currency != "" && p.Currency != "" && !strings.EqualFold(q.Currency, p.Currency) {
		return 0.5
	}
	if lo := q.PriceMin; lo != nil && *lo > 0 && p.Price < *lo {
		return decay(*lo-p.Price, *lo)
	}
	if hi := q.PriceMax; hi != nil && *hi > 0 && p.Price > *hi {
		return decay(p.Price-*hi, *hi)
	}
	return 1
}

func decay(distance, bound float64) float64 {
	return math.Max(0, 1-distance/bound)
}

func agreement(provenance, sources int) float64 {
	if sources <= 1 {
		return 0
	}
	return float64(provenance-1) / float64(sources-1)
}

func brandMatches(p models.CandidateProduct, brands []string) bool {
	brand := strings.ToLower(p.Brand)
	title := " " + normalizeTitle(p.Title) + " "
	for _, b := range brands {
		if brand == b || strings.Contains(title, " "+b+" ") {
			return true
		}
	}
	return false
}

func sortItems(items []scored) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.item.Score != b.item.Score {
			return a.item.Score > b.item.Score
		}
		if pa, pb := sortPrice(a.item.Product.Price), sortPrice(b.item.Product.Price); pa != pb {
			return pa < pb
		}
		if a.priority != b.priority {
			return a.priority > b.priority
		}
		return a.item.Product.Title < b.item.Product.Title
	})
}

// sortPrice orders unpriced items after every priced one.
func sortPrice(price float64) float64 {
	if price <= 0 {
		return math.Inf(1)
	}
	return price
}

func lowerAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToLower(s)
	}
	return out
}
