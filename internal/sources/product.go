package sources

import (
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"voicemart/internal/common/config"
	"voicemart/internal/models"
	"voicemart/internal/nlu/vocab"
)

var priceRe = regexp.MustCompile(`\d[\d,]*(?:\.\d+)?`)

// parsePrice reads the first amount in a price label such as "Rs. 4,999.00"
// or "$129". The currency is "" when the label names none.
func parsePrice(text string) (float64, string, bool) {
	m := priceRe.FindString(text)
	if m == "" {
		return 0, "", false
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(m, ",", ""), 64)
	if err != nil {
		return 0, "", false
	}
	return v, currencyOf(text), true
}

func currencyOf(text string) string {
	for _, r := range text {
		if vocab.CurrencySymbols[r] {
			return vocab.CurrencyWords[string(r)]
		}
	}
	for _, w := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool { return !unicode.IsLetter(r) }) {
		if code, ok := vocab.CurrencyWords[w]; ok {
			return code
		}
	}
	return ""
}

// availabilityOf maps free-form stock labels onto the availability values.
func availabilityOf(text string) string {
	t := strings.ToLower(strings.TrimSpace(text))
	switch {
	case t == "":
		return models.AvailabilityUnknown
	case strings.Contains(t, "out of stock"), strings.Contains(t, "sold out"),
		strings.Contains(t, "unavailable"), t == "out_of_stock", t == "false", t == "0":
		return models.AvailabilityOutOfStock
	case strings.Contains(t, "in stock"), strings.Contains(t, "available"),
		t == "in_stock", t == "true", t == "instock":
		return models.AvailabilityInStock
	}
	return models.AvailabilityUnknown
}

// enrich fills the category and brand a source did not report, using the
// same vocabularies the extractor uses.
func enrich(p *models.CandidateProduct, lex *vocab.Lexicon) {
	if p.Category == "" {
		p.Category = lex.CategoryOf(p.Title)
	} else if c := lex.CategoryOf(p.Category); c != "" {
		p.Category = c
	}
	if p.Brand == "" {
		words := strings.Fields(strings.ToLower(p.Title))
		for n := lex.MaxBrandWords(); n >= 1 && p.Brand == ""; n-- {
			for i := 0; i+n <= len(words); i++ {
				if b, score := lex.Brand(words[i : i+n]); score == 1 {
					p.Brand = b
					break
				}
			}
		}
	} else {
		p.Brand = strings.ToLower(strings.TrimSpace(p.Brand))
	}
	if p.Availability == "" {
		p.Availability = models.AvailabilityUnknown
	}
}

// HandleFromConfig derives the public handle of a configured source.
func HandleFromConfig(id string, cfg config.SourceConfig) models.SourceHandle {
	kind := models.SourceAPI
	if cfg.Kind == config.KindScrape {
		kind = models.SourceScrape
	}
	return models.SourceHandle{
		ID:       id,
		Name:     cfg.Name,
		Kind:     kind,
		Priority: cfg.Priority,
		RateLimit: models.RateLimit{
			Capacity:   cfg.RateLimit.Capacity,
			RefillRate: cfg.RateLimit.RefillRate,
			MaxWait:    time.Duration(cfg.RateLimit.MaxWait) * time.Millisecond,
		},
	}
}
