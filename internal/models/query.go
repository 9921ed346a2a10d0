// internal/models/query.go
package models

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
)

// RawUtterance is the transcription handed over by the speech-to-text service.
// A Confidence of 0 means the transcriber did not report one.
type RawUtterance struct {
	Text       string  `json:"text"`
	Language   string  `json:"language,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
}

type TokenKind string

const (
	TokenWord     TokenKind = "word"
	TokenNumber   TokenKind = "number"
	TokenCurrency TokenKind = "currency"
	TokenSymbol   TokenKind = "symbol"
)

type Token struct {
	Text          string    `json:"text"`
	Original      string    `json:"original,omitempty"`
	Lang          string    `json:"lang,omitempty"`
	Kind          TokenKind `json:"kind"`
	LowConfidence bool      `json:"lowConfidence,omitempty"`
}

type Rewrite struct {
	From string `json:"from"`
	To   string `json:"to"`
	Rule string `json:"rule"`
}

type NormalizedText struct {
	Tokens   []Token   `json:"tokens"`
	Language string    `json:"language"`
	Mixed    bool      `json:"mixed,omitempty"`
	Rewrites []Rewrite `json:"rewrites,omitempty"`
}

// Text joins the normalized token texts with single spaces.
func (n NormalizedText) Text() string {
	parts := make([]string, len(n.Tokens))
	for i, t := range n.Tokens {
		parts[i] = t.Text
	}
	return strings.Join(parts, " ")
}

type Intent string

const (
	IntentSearch    Intent = "search"
	IntentCompare   Intent = "compare"
	IntentFilter    Intent = "filter"
	IntentAddToCart Intent = "add_to_cart"
	IntentUnknown   Intent = "unknown"
)

type IntentResult struct {
	Intent     Intent  `json:"intent"`
	Confidence float64 `json:"confidence"`
}

type SlotName string

const (
	SlotProduct  SlotName = "product"
	SlotBrand    SlotName = "brand"
	SlotCategory SlotName = "category"
	SlotPriceMin SlotName = "price_min"
	SlotPriceMax SlotName = "price_max"
	SlotQuantity SlotName = "quantity"
	SlotColor    SlotName = "color"
	SlotSize     SlotName = "size"
)

type SlotLayer string

const (
	LayerRule    SlotLayer = "rule"
	LayerLexical SlotLayer = "lexical"
)

// Span is a half-open range of token indexes.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Overlaps reports whether two spans share a token. Zero-width spans never overlap.
func (s Span) Overlaps(o Span) bool {
	if s.Start >= s.End || o.Start >= o.End {
		return false
	}
	return s.Start < o.End && o.Start < s.End
}

type Slot struct {
	Name       SlotName  `json:"name"`
	Value      string    `json:"value"`
	Unit       string    `json:"unit,omitempty"`
	Confidence float64   `json:"confidence"`
	Span       Span      `json:"span"`
	Layer      SlotLayer `json:"layer"`
	Derived    bool      `json:"derived,omitempty"`
}

type Extraction struct {
	Intent   IntentResult `json:"intent"`
	Slots    []Slot       `json:"slots"`
	Residual []string     `json:"residual,omitempty"`
}

// StructuredQuery is the canonical query handed to the source connectors.
// Nil price bounds are unbounded.
type StructuredQuery struct {
	Intent           Intent   `json:"intent"`
	IntentConfidence float64  `json:"intentConfidence"`
	Slots            []Slot   `json:"slots"`
	Residual         []string `json:"residual,omitempty"`
	Category         string   `json:"category"`
	PriceMin         *float64 `json:"priceMin,omitempty"`
	PriceMax         *float64 `json:"priceMax,omitempty"`
	Currency         string   `json:"currency,omitempty"`
	Quantity         int      `json:"quantity,omitempty"`
	Confidence       float64  `json:"confidence"`
}

// Values returns every value held by slots of the given name, in slot order.
func (q *StructuredQuery) Values(name SlotName) []string {
	var out []string
	for _, s := range q.Slots {
		if s.Name == name {
			out = append(out, s.Value)
		}
	}
	return out
}

// First returns the first value of the named slot, or "".
func (q *StructuredQuery) First(name SlotName) string {
	for _, s := range q.Slots {
		if s.Name == name {
			return s.Value
		}
	}
	return ""
}

// SearchTerms is the free text sent to sources: brand, color, size and product
// followed by the residual filters.
func (q *StructuredQuery) SearchTerms() string {
	var parts []string
	for _, name := range []SlotName{SlotBrand, SlotColor, SlotProduct, SlotSize} {
		parts = append(parts, q.Values(name)...)
	}
	parts = append(parts, q.Residual...)
	if len(parts) == 0 && q.Category != "" && q.Category != CategoryAny {
		parts = append(parts, q.Category)
	}
	return strings.Join(parts, " ")
}

// Canonical serializes the query without spans or confidences. Two queries
// that ask for the same thing serialize identically.
func (q *StructuredQuery) Canonical() string {
	var b strings.Builder
	b.WriteString("intent=")
	b.WriteString(string(q.Intent))
	b.WriteString("|slots=")
	for i, s := range q.Slots {
		if i > 0 {
			b.WriteByte(';')
		}
		b.WriteString(string(s.Name))
		b.WriteByte(':')
		b.WriteString(s.Value)
		if s.Unit != "" {
			b.WriteByte('@')
			b.WriteString(s.Unit)
		}
	}
	b.WriteString("|residual=")
	b.WriteString(strings.Join(q.Residual, ","))
	b.WriteString("|category=")
	b.WriteString(q.Category)
	b.WriteString("|min=")
	b.WriteString(formatBound(q.PriceMin))
	b.WriteString("|max=")
	b.WriteString(formatBound(q.PriceMax))
	b.WriteString("|currency=")
	b.WriteString(q.Currency)
	b.WriteString("|qty=")
	b.WriteString(strconv.Itoa(q.Quantity))
	return b.String()
}

// Key is the cache key basis for the query.
func (q *StructuredQuery) Key() string {
	sum := sha256.Sum256([]byte(q.Canonical()))
	return hex.EncodeToString(sum[:])
}

func formatBound(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

const CategoryAny = "any"

type ClarificationReason string

const (
	ReasonUnknownIntent           ClarificationReason = "unknown_intent"
	ReasonConflictingSlots        ClarificationReason = "conflicting_slots"
	ReasonMissingSlot             ClarificationReason = "missing_slot"
	ReasonLowConfidence           ClarificationReason = "low_confidence"
	ReasonLowTranscriptConfidence ClarificationReason = "low_transcription_confidence"
)

type ClarificationRequest struct {
	Reason     ClarificationReason `json:"reason"`
	Slot       string              `json:"slot"`
	Candidates []string            `json:"candidates,omitempty"`
	Prompt     string              `json:"prompt"`
	Confidence float64             `json:"confidence"`
}

// BuildResult is either a *StructuredQuery or a *ClarificationRequest.
// Consumers type-switch on it.
type BuildResult interface {
	buildResult()
}

func (*StructuredQuery) buildResult()      {}
func (*ClarificationRequest) buildResult() {}
