package extract

import (
	"strconv"

	"voicemart/internal/models"
	"voicemart/internal/nlu/normalize"
	"voicemart/internal/nlu/vocab"
)

// Rule-layer confidences. Currency-marked prices are the most reliable slots
// an utterance can carry.
const (
	confPriceWithCurrency = 0.95
	confPrice             = 0.9
	confQuantityUnit      = 0.9
	confQuantityVerb      = 0.85
	confQuantityArticle   = 0.6
	confQuantityPair      = 0.8
	confSizeExplicit      = 0.95
	confSizeUnit          = 0.9
	confSizeWord          = 0.85
	confColor             = 0.9
)

type amount struct {
	value    float64
	currency string
	end      int
}

// parseAmount reads [currency] number [currency] starting at i.
func parseAmount(toks []models.Token, i int) (amount, bool) {
	var a amount
	if i < len(toks) {
		if code, ok := vocab.CurrencyWords[toks[i].Text]; ok {
			a.currency = code
			i++
		}
	}
	if i >= len(toks) || !normalize.IsNumber(toks[i].Text) {
		return a, false
	}
	a.value, _ = strconv.ParseFloat(toks[i].Text, 64)
	i++
	if i < len(toks) && a.currency == "" {
		if code, ok := vocab.CurrencyWords[toks[i].Text]; ok {
			a.currency = code
			i++
		}
	}
	a.end = i
	return a, true
}

func priceSlot(name models.SlotName, a amount, start int) models.Slot {
	conf := confPrice
	if a.currency != "" {
		conf = confPriceWithCurrency
	}
	return models.Slot{
		Name:       name,
		Value:      formatNumber(a.value),
		Unit:       a.currency,
		Confidence: conf,
		Span:       models.Span{Start: start, End: a.end},
		Layer:      models.LayerRule,
	}
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// matchPhrase reports the length of the first phrase in phrases that starts at i.
func matchPhrase(toks []models.Token, i int, phrases [][]string) int {
next:
	for _, p := range phrases {
		if i+len(p) > len(toks) {
			continue
		}
		for j, w := range p {
			if toks[i+j].Text != w {
				continue next
			}
		}
		return len(p)
	}
	return 0
}

// bareBound cues double as model names ("air max 90") and need a currency.
var bareBound = map[string]bool{"max": true, "min": true}

func priceCandidates(toks []models.Token) []models.Slot {
	var out []models.Slot
	for i := 0; i < len(toks); i++ {
		switch toks[i].Text {
		case "between", "from":
			lo, ok := parseAmount(toks, i+1)
			if !ok || lo.end >= len(toks) {
				break
			}
			if sep := toks[lo.end].Text; sep != "and" && sep != "to" {
				break
			}
			hi, ok := parseAmount(toks, lo.end+1)
			if !ok {
				break
			}
			if lo.currency == "" {
				lo.currency = hi.currency
			}
			if hi.currency == "" {
				hi.currency = lo.currency
			}
			out = append(out,
				priceSlot(models.SlotPriceMin, lo, i),
				priceSlot(models.SlotPriceMax, hi, lo.end),
			)
			i = hi.end - 1
			continue
		}

		if n := matchPhrase(toks, i, vocab.PriceMaxCues); n > 0 {
			if a, ok := parseAmount(toks, i+n); ok && (a.currency != "" || !bareBound[toks[i].Text]) {
				out = append(out, priceSlot(models.SlotPriceMax, a, i))
				i = a.end - 1
				continue
			}
		}
		if n := matchPhrase(toks, i, vocab.PriceMinCues); n > 0 {
			if a, ok := parseAmount(toks, i+n); ok && (a.currency != "" || !bareBound[toks[i].Text]) {
				out = append(out, priceSlot(models.SlotPriceMin, a, i))
				i = a.end - 1
			}
		}
	}
	return out
}

func quantityCandidates(toks []models.Token) []models.Slot {
	var out []models.Slot
	for i, tok := range toks {
		afterVerb := i > 0 && vocab.AddVerbs[toks[i-1].Text]

		if normalize.IsNumber(tok.Text) {
			if i+1 < len(toks) {
				if unit, ok := vocab.QuantityUnits[toks[i+1].Text]; ok {
					out = append(out, ruleSlot(models.SlotQuantity, tok.Text, unit, confQuantityUnit, i, i+2))
					continue
				}
			}
			if afterVerb && !followedByMeasure(toks, i) {
				out = append(out, ruleSlot(models.SlotQuantity, tok.Text, "", confQuantityVerb, i, i+1))
			}
			continue
		}

		if afterVerb && (tok.Text == "a" || tok.Text == "an") {
			if i+2 < len(toks) && toks[i+1].Text == "pair" && toks[i+2].Text == "of" {
				out = append(out, ruleSlot(models.SlotQuantity, "2", "pair", confQuantityPair, i, i+3))
				continue
			}
			out = append(out, ruleSlot(models.SlotQuantity, "1", "", confQuantityArticle, i, i+1))
		}
	}
	return out
}

func followedByMeasure(toks []models.Token, i int) bool {
	if i+1 >= len(toks) {
		return false
	}
	next := toks[i+1].Text
	_, length := vocab.LengthUnits[next]
	_, currency := vocab.CurrencyWords[next]
	return length || currency
}

func sizeCandidates(toks []models.Token) []models.Slot {
	var out []models.Slot
	for i, tok := range toks {
		switch {
		case tok.Text == "size" && i+1 < len(toks) && toks[i+1].Kind != models.TokenSymbol:
			value := toks[i+1].Text
			if canonical, ok := vocab.SizeWords[value]; ok {
				value = canonical
			}
			out = append(out, ruleSlot(models.SlotSize, value, "", confSizeExplicit, i, i+2))
		case normalize.IsNumber(tok.Text) && i+1 < len(toks):
			if unit, ok := vocab.LengthUnits[toks[i+1].Text]; ok {
				out = append(out, ruleSlot(models.SlotSize, tok.Text+" "+unit, unit, confSizeUnit, i, i+2))
			}
		default:
			if canonical, ok := vocab.SizeWords[tok.Text]; ok {
				out = append(out, ruleSlot(models.SlotSize, canonical, "", confSizeWord, i, i+1))
			}
		}
	}
	return out
}

func colorCandidates(toks []models.Token) []models.Slot {
	var out []models.Slot
	for i, tok := range toks {
		if canonical, ok := vocab.Colors[tok.Text]; ok {
			out = append(out, ruleSlot(models.SlotColor, canonical, "", confColor, i, i+1))
		}
	}
	return out
}

func ruleSlot(name models.SlotName, value, unit string, conf float64, start, end int) models.Slot {
	return models.Slot{
		Name:       name,
		Value:      value,
		Unit:       unit,
		Confidence: conf,
		Span:       models.Span{Start: start, End: end},
		Layer:      models.LayerRule,
	}
}
