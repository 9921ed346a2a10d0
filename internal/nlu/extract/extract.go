// Package extract classifies a normalized utterance into an intent and pulls
// out typed slots. A deterministic rule layer handles prices, quantities,
// sizes and colours; a lexical layer handles intents, brands, the product
// phrase and its category.
package extract

import (
	"sort"
	"strings"

	"github.com/cloudflare/ahocorasick"

	"voicemart/internal/models"
	"voicemart/internal/nlu/normalize"
	"voicemart/internal/nlu/vocab"
)

const (
	defaultMinIntentConfidence = 0.5

	intentBase          = 0.55
	intentCueScale      = 0.35
	intentRuleBonus     = 0.05
	intentCap           = 0.95
	implicitSearch      = 0.55
	noEvidenceIntent    = 0.25
	brandConfidenceCap  = 0.95
	productWithCategory = 0.85
	productPlain        = 0.6
	productLowConf      = 0.4
	categoryDiscount    = 0.9
)

type Option func(*Extractor)

// WithMinIntentConfidence sets the threshold below which the intent is Unknown.
func WithMinIntentConfidence(v float64) Option {
	return func(e *Extractor) {
		if v > 0 {
			e.minIntent = v
		}
	}
}

// WithLexicon replaces the default vocabulary index.
func WithLexicon(lex *vocab.Lexicon) Option {
	return func(e *Extractor) {
		e.lex = lex
	}
}

// Extractor is read-only after construction and safe for concurrent use.
type Extractor struct {
	lex       *vocab.Lexicon
	cues      []vocab.Cue
	cueWords  [][]string
	matcher   *ahocorasick.Matcher
	minIntent float64
}

func New(opts ...Option) *Extractor {
	e := &Extractor{
		cues:      vocab.IntentCues,
		minIntent: defaultMinIntentConfidence,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.lex == nil {
		e.lex = vocab.NewLexicon()
	}

	patterns := make([]string, len(e.cues))
	e.cueWords = make([][]string, len(e.cues))
	for i, c := range e.cues {
		patterns[i] = " " + c.Phrase + " "
		e.cueWords[i] = strings.Fields(c.Phrase)
	}
	e.matcher = ahocorasick.NewStringMatcher(patterns)
	return e
}

// Extract never fails. Empty or unintelligible input yields IntentUnknown.
func (e *Extractor) Extract(nt models.NormalizedText) models.Extraction {
	toks := nt.Tokens
	if len(toks) == 0 {
		return models.Extraction{Intent: models.IntentResult{Intent: models.IntentUnknown}}
	}

	var candidates []models.Slot
	candidates = append(candidates, priceCandidates(toks)...)
	candidates = append(candidates, quantityCandidates(toks)...)
	candidates = append(candidates, sizeCandidates(toks)...)
	candidates = append(candidates, colorCandidates(toks)...)
	candidates = append(candidates, e.brandCandidates(toks)...)

	slots := resolveOverlaps(candidates)

	hits := e.matchCues(nt.Text())
	cueTokens := e.cueTokens(toks, hits)

	claimed := make([]bool, len(toks))
	for _, s := range slots {
		for i := s.Span.Start; i < s.Span.End; i++ {
			claimed[i] = true
		}
	}

	product, productSpan, ok := e.productRun(toks, claimed, cueTokens)
	if ok {
		slots = append(slots, product)
		for i := productSpan.Start; i < productSpan.End; i++ {
			claimed[i] = true
		}
	}
	if cat, ok := e.deriveCategory(slots); ok {
		slots = append(slots, cat)
	}

	var residual []string
	for i, tok := range toks {
		if !claimed[i] && !cueTokens[i] && isContent(tok) {
			residual = append(residual, tok.Text)
		}
	}

	sort.SliceStable(slots, func(i, j int) bool {
		if slots[i].Derived != slots[j].Derived {
			return !slots[i].Derived
		}
		return slots[i].Span.Start < slots[j].Span.Start
	})

	return models.Extraction{
		Intent:   e.classify(hits, slots),
		Slots:    slots,
		Residual: residual,
	}
}

// resolveOverlaps keeps the highest-confidence candidate for every span
// conflict. Exact ties go to the rule layer, then to the earlier span.
func resolveOverlaps(candidates []models.Slot) []models.Slot {
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		if a.Layer != b.Layer {
			return a.Layer == models.LayerRule
		}
		return a.Span.Start < b.Span.Start
	})

	var accepted []models.Slot
next:
	for _, c := range candidates {
		for _, a := range accepted {
			if c.Span.Overlaps(a.Span) {
				continue next
			}
		}
		accepted = append(accepted, c)
	}
	return accepted
}

func (e *Extractor) brandCandidates(toks []models.Token) []models.Slot {
	var out []models.Slot
	for n := e.lex.MaxBrandWords(); n >= 1; n-- {
		for i := 0; i+n <= len(toks); i++ {
			words := make([]string, 0, n)
			for _, tok := range toks[i : i+n] {
				if tok.Kind != models.TokenWord || vocab.Stopwords[tok.Text] {
					break
				}
				words = append(words, tok.Text)
			}
			if len(words) != n {
				continue
			}
			brand, score := e.lex.Brand(words)
			if brand == "" || score == 0 {
				continue
			}
			out = append(out, models.Slot{
				Name:       models.SlotBrand,
				Value:      brand,
				Confidence: min(score, brandConfidenceCap),
				Span:       models.Span{Start: i, End: i + n},
				Layer:      models.LayerLexical,
			})
		}
	}
	return out
}

func (e *Extractor) matchCues(text string) []int {
	if text == "" {
		return nil
	}
	return e.matcher.MatchThreadSafe([]byte(" " + text + " "))
}

// cueTokens marks the tokens covered by matched intent cues.
func (e *Extractor) cueTokens(toks []models.Token, hits []int) []bool {
	marked := make([]bool, len(toks))
	for _, h := range hits {
		if h < 0 || h >= len(e.cueWords) {
			continue
		}
		words := e.cueWords[h]
		for i := 0; i+len(words) <= len(toks); i++ {
			match := true
			for j, w := range words {
				if toks[i+j].Text != w {
					match = false
					break
				}
			}
			if match {
				for j := range words {
					marked[i+j] = true
				}
			}
		}
	}
	return marked
}

func isContent(tok models.Token) bool {
	if tok.Kind == models.TokenSymbol || tok.Kind == models.TokenCurrency {
		return false
	}
	return !vocab.Stopwords[tok.Text] && !vocab.AddVerbs[tok.Text]
}

// productRun takes the first contiguous run of unclaimed content tokens as
// the product phrase. Numbers may continue a run ("iphone 15") but never start one.
func (e *Extractor) productRun(toks []models.Token, claimed, cue []bool) (models.Slot, models.Span, bool) {
	start := -1
	end := -1
	for i, tok := range toks {
		usable := !claimed[i] && !cue[i] && isContent(tok)
		if start < 0 {
			if usable && !normalize.IsNumber(tok.Text) {
				start = i
			}
			continue
		}
		if !usable {
			end = i
			break
		}
	}
	if start < 0 {
		return models.Slot{}, models.Span{}, false
	}
	if end < 0 {
		end = len(toks)
	}

	words := make([]string, 0, end-start)
	conf := productPlain
	for _, tok := range toks[start:end] {
		words = append(words, tok.Text)
		if _, score := e.lex.Category(tok.Text); score > 0 {
			conf = productWithCategory
		}
	}
	for _, tok := range toks[start:end] {
		if tok.LowConfidence {
			conf = productLowConf
		}
	}

	span := models.Span{Start: start, End: end}
	return models.Slot{
		Name:       models.SlotProduct,
		Value:      strings.Join(words, " "),
		Confidence: conf,
		Span:       span,
		Layer:      models.LayerLexical,
	}, span, true
}

// deriveCategory infers a category from the product words, falling back to
// brand names that double as product names ("milo").
func (e *Extractor) deriveCategory(slots []models.Slot) (models.Slot, bool) {
	best, bestScore := "", 0.0
	for _, name := range []models.SlotName{models.SlotProduct, models.SlotBrand} {
		for _, s := range slots {
			if s.Name != name {
				continue
			}
			for _, w := range strings.Fields(s.Value) {
				if c, score := e.lex.Category(w); score > bestScore {
					best, bestScore = c, score
				}
			}
		}
		if best != "" {
			break
		}
	}
	if best == "" {
		return models.Slot{}, false
	}
	return models.Slot{
		Name:       models.SlotCategory,
		Value:      best,
		Confidence: bestScore * categoryDiscount,
		Layer:      models.LayerLexical,
		Derived:    true,
	}, true
}

// classify picks the intent with the strongest cue. Without any cue, a
// vocabulary-backed slot still implies a search.
func (e *Extractor) classify(hits []int, slots []models.Slot) models.IntentResult {
	weights := make(map[models.Intent]float64)
	for _, h := range hits {
		if h < 0 || h >= len(e.cues) {
			continue
		}
		c := e.cues[h]
		weights[c.Intent] = max(weights[c.Intent], c.Weight)
	}

	hasRule, hasEvidence := false, false
	for _, s := range slots {
		if s.Layer == models.LayerRule {
			hasRule = true
		}
		if s.Layer == models.LayerRule || s.Name == models.SlotBrand || s.Name == models.SlotCategory {
			hasEvidence = true
		}
	}

	best, bestWeight := models.IntentUnknown, 0.0
	for intent, w := range weights {
		if w > bestWeight || (w == bestWeight && vocab.IntentPriority[intent] > vocab.IntentPriority[best]) {
			best, bestWeight = intent, w
		}
	}

	var conf float64
	switch {
	case best != models.IntentUnknown:
		conf = intentBase + intentCueScale*bestWeight
		if hasRule {
			conf += intentRuleBonus
		}
		conf = min(conf, intentCap)
	case hasEvidence:
		best = models.IntentSearch
		conf = implicitSearch
		if hasRule {
			conf += intentRuleBonus
		}
	case len(slots) > 0:
		conf = noEvidenceIntent
	}

	if conf < e.minIntent {
		return models.IntentResult{Intent: models.IntentUnknown, Confidence: conf}
	}
	return models.IntentResult{Intent: best, Confidence: conf}
}
