// Package query turns an extraction into either a canonical StructuredQuery
// or a ClarificationRequest.
package query

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"voicemart/internal/models"
)

const DefaultConfidenceFloor = 0.4

// slotWeights drive the weighted slot confidence.
var slotWeights = map[models.SlotName]float64{
	models.SlotProduct:  3,
	models.SlotBrand:    2,
	models.SlotCategory: 1,
	models.SlotPriceMin: 2,
	models.SlotPriceMax: 2,
	models.SlotQuantity: 1,
	models.SlotColor:    1,
	models.SlotSize:     1,
}

// exclusiveSlots may hold at most one distinct value. Brand is exclusive
// except when comparing.
var exclusiveSlots = []models.SlotName{
	models.SlotBrand, models.SlotPriceMin, models.SlotPriceMax, models.SlotQuantity,
}

type Option func(*Builder)

func WithConfidenceFloor(v float64) Option {
	return func(b *Builder) {
		if v > 0 {
			b.floor = v
		}
	}
}

type Builder struct {
	floor float64
}

func New(opts ...Option) *Builder {
	b := &Builder{floor: DefaultConfidenceFloor}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build never returns nil.
func (b *Builder) Build(x models.Extraction) models.BuildResult {
	intent := x.Intent
	if intent.Intent == models.IntentUnknown || intent.Intent == "" {
		return &models.ClarificationRequest{
			Reason:     models.ReasonUnknownIntent,
			Slot:       "intent",
			Prompt:     "Sorry, I didn't catch that. What are you looking for?",
			Confidence: intent.Confidence,
		}
	}

	slots := canonicalSlots(x.Slots)

	for _, name := range exclusiveSlots {
		if name == models.SlotBrand && intent.Intent == models.IntentCompare {
			continue
		}
		if values := distinctValues(slots, name); len(values) > 1 {
			return &models.ClarificationRequest{
				Reason:     models.ReasonConflictingSlots,
				Slot:       string(name),
				Candidates: values,
				Prompt:     conflictPrompt(name, values),
				Confidence: intent.Confidence,
			}
		}
	}

	if !hasTarget(intent.Intent, slots) {
		return &models.ClarificationRequest{
			Reason:     models.ReasonMissingSlot,
			Slot:       string(models.SlotProduct),
			Prompt:     missingPrompt(intent.Intent),
			Confidence: intent.Confidence,
		}
	}

	q := &models.StructuredQuery{
		Intent:           intent.Intent,
		IntentConfidence: intent.Confidence,
		Slots:            slots,
		Residual:         canonicalResidual(x.Residual),
		Category:         models.CategoryAny,
		Confidence:       min(intent.Confidence, slotConfidence(slots)),
	}
	applyDefaults(q)

	if q.Confidence < b.floor {
		prompt := "I'm not sure I understood. Could you say that again?"
		if terms := q.SearchTerms(); terms != "" {
			prompt = fmt.Sprintf("Did you mean %s?", terms)
		}
		return &models.ClarificationRequest{
			Reason:     models.ReasonLowConfidence,
			Slot:       lowestSlot(slots),
			Prompt:     prompt,
			Confidence: q.Confidence,
		}
	}
	return q
}

// TranscriptClarification asks the user to repeat an utterance the
// transcriber itself was unsure of.
func TranscriptClarification(confidence float64) *models.ClarificationRequest {
	return &models.ClarificationRequest{
		Reason:     models.ReasonLowTranscriptConfidence,
		Slot:       "utterance",
		Prompt:     "Sorry, I couldn't hear that clearly. Could you repeat it?",
		Confidence: confidence,
	}
}

// Canonicalize rewrites q into its canonical form. Applying it twice is the
// same as applying it once.
func Canonicalize(q *models.StructuredQuery) *models.StructuredQuery {
	out := *q
	out.Slots = canonicalSlots(q.Slots)
	out.Residual = canonicalResidual(q.Residual)
	if out.Category == "" {
		out.Category = models.CategoryAny
	}
	applyDefaults(&out)
	return &out
}

func canonicalValue(v string) string {
	return strings.Join(strings.Fields(strings.ToLower(v)), " ")
}

func canonicalSlots(in []models.Slot) []models.Slot {
	type key struct {
		name  models.SlotName
		value string
	}
	best := make(map[key]int)
	out := make([]models.Slot, 0, len(in))
	for _, s := range in {
		s.Value = canonicalValue(s.Value)
		s.Unit = strings.TrimSpace(s.Unit)
		if s.Value == "" {
			continue
		}
		k := key{s.Name, s.Value}
		if i, ok := best[k]; ok {
			if s.Confidence > out[i].Confidence {
				out[i] = s
			}
			continue
		}
		best[k] = len(out)
		out = append(out, s)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Value < out[j].Value
	})
	return out
}

func canonicalResidual(in []string) []string {
	seen := make(map[string]bool, len(in))
	var out []string
	for _, r := range in {
		r = canonicalValue(r)
		if r == "" || seen[r] {
			continue
		}
		seen[r] = true
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

func distinctValues(slots []models.Slot, name models.SlotName) []string {
	var out []string
	for _, s := range slots {
		if s.Name == name && (len(out) == 0 || out[len(out)-1] != s.Value) {
			out = append(out, s.Value)
		}
	}
	return out
}

func count(slots []models.Slot, name models.SlotName) int {
	n := 0
	for _, s := range slots {
		if s.Name == name {
			n++
		}
	}
	return n
}

func hasTarget(intent models.Intent, slots []models.Slot) bool {
	if count(slots, models.SlotProduct) > 0 {
		return true
	}
	if intent == models.IntentCompare {
		return count(slots, models.SlotBrand) >= 2
	}
	return count(slots, models.SlotBrand) > 0 || count(slots, models.SlotCategory) > 0
}

func slotConfidence(slots []models.Slot) float64 {
	var sum, weights float64
	for _, s := range slots {
		w, ok := slotWeights[s.Name]
		if !ok {
			w = 1
		}
		sum += w * s.Confidence
		weights += w
	}
	if weights == 0 {
		return 1
	}
	return sum / weights
}

func lowestSlot(slots []models.Slot) string {
	name, lowest := "", 2.0
	for _, s := range slots {
		if s.Confidence < lowest {
			name, lowest = string(s.Name), s.Confidence
		}
	}
	return name
}

// applyDefaults derives the typed fields from the slots. A reversed price
// range is swapped in both the bounds and the slots.
func applyDefaults(q *models.StructuredQuery) {
	q.PriceMin, q.PriceMax, q.Currency = nil, nil, ""
	minIdx, maxIdx := -1, -1
	for i, s := range q.Slots {
		switch s.Name {
		case models.SlotCategory:
			if q.Category == "" || q.Category == models.CategoryAny {
				q.Category = s.Value
			}
		case models.SlotPriceMin:
			if v, err := strconv.ParseFloat(s.Value, 64); err == nil {
				q.PriceMin, minIdx = &v, i
			}
		case models.SlotPriceMax:
			if v, err := strconv.ParseFloat(s.Value, 64); err == nil {
				q.PriceMax, maxIdx = &v, i
			}
		case models.SlotQuantity:
			if v, err := strconv.ParseFloat(s.Value, 64); err == nil && v >= 1 {
				q.Quantity = int(v)
			}
		}
	}

	if q.PriceMin != nil && q.PriceMax != nil && *q.PriceMin > *q.PriceMax {
		q.PriceMin, q.PriceMax = q.PriceMax, q.PriceMin
		q.Slots[minIdx].Name, q.Slots[maxIdx].Name = models.SlotPriceMax, models.SlotPriceMin
		sort.SliceStable(q.Slots, func(i, j int) bool {
			if q.Slots[i].Name != q.Slots[j].Name {
				return q.Slots[i].Name < q.Slots[j].Name
			}
			return q.Slots[i].Value < q.Slots[j].Value
		})
	}

	for _, name := range []models.SlotName{models.SlotPriceMax, models.SlotPriceMin} {
		for _, s := range q.Slots {
			if s.Name == name && s.Unit != "" && q.Currency == "" {
				q.Currency = s.Unit
			}
		}
	}

	if q.Intent == models.IntentAddToCart && q.Quantity == 0 {
		q.Quantity = 1
	}
}

func conflictPrompt(name models.SlotName, values []string) string {
	options := strings.Join(values, " or ")
	switch name {
	case models.SlotBrand:
		return fmt.Sprintf("Which brand did you mean, %s?", options)
	case models.SlotPriceMax:
		return fmt.Sprintf("What is your maximum price, %s?", options)
	case models.SlotPriceMin:
		return fmt.Sprintf("What is your minimum price, %s?", options)
	case models.SlotQuantity:
		return fmt.Sprintf("How many would you like, %s?", options)
	}
	return fmt.Sprintf("Did you mean %s?", options)
}

func missingPrompt(intent models.Intent) string {
	switch intent {
	case models.IntentAddToCart:
		return "What would you like to add to your cart?"
	case models.IntentCompare:
		return "Which products would you like to compare?"
	case models.IntentFilter:
		return "Which products should I filter?"
	}
	return "What product are you looking for?"
}
