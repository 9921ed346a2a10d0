package pipeline

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"voicemart/internal/models"
)

const (
	replyFailed           = "Sorry, something went wrong while handling that request."
	replyAllSourcesFailed = "I couldn't reach any stores right now. Please try again shortly."
	replyDegradedSuffix   = " Some stores did not respond, so results may be incomplete."
)

// describe renders a query as a spoken phrase, e.g. "nike shoes under 5000 LKR".
func describe(q *models.StructuredQuery) string {
	terms := q.SearchTerms()
	if brands := spokenBrands(q); len(brands) > 1 {
		terms = joinAnd(brands)
		if rest := withoutBrands(q); rest != "" {
			terms += " " + rest
		}
	}
	if terms == "" {
		terms = "products"
	}

	var price string
	switch {
	case q.PriceMin != nil && q.PriceMax != nil:
		price = fmt.Sprintf(" between %s and %s", amount(*q.PriceMin), amount(*q.PriceMax))
	case q.PriceMax != nil:
		price = " under " + amount(*q.PriceMax)
	case q.PriceMin != nil:
		price = " over " + amount(*q.PriceMin)
	}
	if price != "" && q.Currency != "" {
		price += " " + q.Currency
	}
	return terms + price
}

// queryReply acknowledges a built query before any source is consulted.
func queryReply(q *models.StructuredQuery) string {
	switch q.Intent {
	case models.IntentCompare:
		return fmt.Sprintf("Comparing %s.", describe(q))
	case models.IntentAddToCart:
		return fmt.Sprintf("Adding %d %s to your cart.", max(q.Quantity, 1), describe(q))
	case models.IntentFilter:
		return fmt.Sprintf("Filtering for %s.", describe(q))
	}
	return fmt.Sprintf("Searching for %s.", describe(q))
}

func resultReply(q *models.StructuredQuery, r *models.RankedResult) string {
	if r.Status == models.StatusAllSourcesFailed {
		return replyAllSourcesFailed
	}

	var b strings.Builder
	switch len(r.Items) {
	case 0:
		fmt.Fprintf(&b, "I couldn't find any %s.", describe(q))
	case 1:
		fmt.Fprintf(&b, "I found 1 result for %s: %s.", describe(q), itemPhrase(r.Items[0].Product))
	default:
		fmt.Fprintf(&b, "I found %d results for %s. The top match is %s.", len(r.Items), describe(q), itemPhrase(r.Items[0].Product))
	}
	if r.Status == models.StatusDegraded {
		b.WriteString(replyDegradedSuffix)
	}
	return b.String()
}

// spokenBrands lists the brand slots in the order they were said.
func spokenBrands(q *models.StructuredQuery) []string {
	var slots []models.Slot
	for _, sl := range q.Slots {
		if sl.Name == models.SlotBrand {
			slots = append(slots, sl)
		}
	}
	sort.SliceStable(slots, func(i, j int) bool { return slots[i].Span.Start < slots[j].Span.Start })
	out := make([]string, len(slots))
	for i, sl := range slots {
		out[i] = sl.Value
	}
	return out
}

func withoutBrands(q *models.StructuredQuery) string {
	var parts []string
	for _, name := range []models.SlotName{models.SlotColor, models.SlotProduct, models.SlotSize} {
		parts = append(parts, q.Values(name)...)
	}
	parts = append(parts, q.Residual...)
	return strings.Join(parts, " ")
}

// joinAnd renders "a", "a and b" or "a, b and c".
func joinAnd(words []string) string {
	if len(words) < 2 {
		return strings.Join(words, "")
	}
	return strings.Join(words[:len(words)-1], ", ") + " and " + words[len(words)-1]
}

func itemPhrase(p models.CandidateProduct) string {
	if p.Price <= 0 {
		return p.Title
	}
	s := p.Title + " at " + amount(p.Price)
	if p.Currency != "" {
		s += " " + p.Currency
	}
	return s
}

func amount(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
