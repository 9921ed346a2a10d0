// Package normalize turns transcribed text into a language-tagged token
// sequence. Normalizing already normalized text changes nothing.
package normalize

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"voicemart/internal/models"
	"voicemart/internal/nlu/vocab"
)

const (
	// MaxInputRunes bounds the work done on a single utterance. It is larger
	// than the longest possible normalized output so a second pass never truncates.
	MaxInputRunes = 4096
	MaxTokens     = 64
	MaxTokenRunes = 48

	zwnj = '‌'
	zwj  = '‍'
)

var injectionTokens = []string{"```", "<script", "</script>", "@everyone", "@here"}

// Common speech-to-text slips in shopping requests.
var defaultTermFixes = map[string]string{
	"shows":  "shoes",
	"mellow": "milo",
	"cocks":  "coke",
}

var numberWords = map[string]string{
	"one": "1", "two": "2", "three": "3", "four": "4", "five": "5", "six": "6",
	"seven": "7", "eight": "8", "nine": "9", "ten": "10", "eleven": "11",
	"twelve": "12", "twenty": "20", "dozen": "12",
}

var (
	thousandsRe   = regexp.MustCompile(`^\d{1,3}(,\d{3})+(\.\d+)?$`)
	kiloRe        = regexp.MustCompile(`^(\d{1,6}(?:\.\d+)?)k$`)
	numberUnitRe  = regexp.MustCompile(`^(\d+(?:\.\d+)?)([a-z]+)$`)
	currencyNumRe = regexp.MustCompile(`^([a-z]+)(\d+(?:\.\d+)?)$`)
	stripMarks    = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
)

type Option func(*Normalizer)

// WithTermFixes replaces the default misrecognition table.
func WithTermFixes(fixes map[string]string) Option {
	return func(n *Normalizer) {
		n.termFixes = fixes
	}
}

// Normalizer is stateless after construction and safe for concurrent use.
type Normalizer struct {
	termFixes map[string]string
}

func New(opts ...Option) *Normalizer {
	n := &Normalizer{termFixes: defaultTermFixes}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Normalize never fails: malformed input yields fewer tokens, and
// unrecognised tokens pass through flagged as low confidence.
func (n *Normalizer) Normalize(text, hintLanguage string) models.NormalizedText {
	out := models.NormalizedText{}

	text = prepare(text)
	for _, raw := range tokenize(text) {
		for _, tok := range n.rewrite(raw, &out.Rewrites) {
			if len(out.Tokens) == MaxTokens {
				break
			}
			out.Tokens = append(out.Tokens, tok)
		}
	}

	out.Language, out.Mixed = detectLanguage(out.Tokens, hintLanguage)
	return out
}

func prepare(text string) string {
	if r := []rune(text); len(r) > MaxInputRunes {
		text = string(r[:MaxInputRunes])
	}
	text = norm.NFKC.String(text)
	text = cases.Lower(language.Und).String(text)
	text = norm.NFKC.String(text)
	for _, inj := range injectionTokens {
		text = strings.ReplaceAll(text, inj, " ")
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r == '’' || r == '‘':
			return '\''
		case unicode.IsControl(r):
			return ' '
		}
		return r
	}, text)
}

type rawToken struct {
	text string
	kind models.TokenKind
}

func tokenize(text string) []rawToken {
	rs := []rune(text)
	var (
		toks []rawToken
		cur  []rune
		kind models.TokenKind
	)

	flush := func() {
		if len(cur) > 0 && (kind == models.TokenSymbol || hasAlnum(cur)) {
			toks = append(toks, rawToken{text: string(cur), kind: kind})
		}
		cur = cur[:0]
		kind = ""
	}

	for i, r := range rs {
		switch {
		case vocab.CurrencySymbols[r]:
			flush()
			toks = append(toks, rawToken{text: string(r), kind: models.TokenCurrency})
		case kind == models.TokenSymbol && (unicode.IsSymbol(r) || unicode.IsMark(r) || r == zwj):
			cur = append(cur, r)
		case isWordRune(r):
			if kind == models.TokenSymbol {
				flush()
			}
			cur = append(cur, r)
			kind = models.TokenWord
		case kind == models.TokenWord && i+1 < len(rs) && connects(cur[len(cur)-1], r, rs[i+1]):
			cur = append(cur, r)
		case unicode.IsSymbol(r):
			if kind == models.TokenWord {
				flush()
			}
			cur = append(cur, r)
			kind = models.TokenSymbol
		default:
			flush()
		}
	}
	flush()
	return toks
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsMark(r) || r == zwj || r == zwnj
}

func isAlnum(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

func hasAlnum(rs []rune) bool {
	for _, r := range rs {
		if isAlnum(r) {
			return true
		}
	}
	return false
}

// connects reports whether r joins prev and next into a single token.
func connects(prev, r, next rune) bool {
	switch r {
	case '-':
		return isAlnum(prev) && isAlnum(next)
	case '\'':
		return unicode.IsLetter(prev) && unicode.IsLetter(next)
	case '.', ',':
		return unicode.IsDigit(prev) && unicode.IsDigit(next)
	}
	return false
}

// rewrite applies the numeral, unit and term rules to one raw token, which
// may split it in two.
func (n *Normalizer) rewrite(raw rawToken, rewrites *[]models.Rewrite) []models.Token {
	if raw.kind != models.TokenWord {
		return []models.Token{finish(raw.text, raw.kind)}
	}

	text := raw.text
	if isLatin(text) {
		if stripped, _, err := transform.String(stripMarks, text); err == nil {
			text = stripped
		}
	}

	record := func(to, rule string) {
		*rewrites = append(*rewrites, models.Rewrite{From: raw.text, To: to, Rule: rule})
	}

	var parts []string
	switch {
	case thousandsRe.MatchString(text):
		text = strings.ReplaceAll(text, ",", "")
		record(text, "thousands")
		parts = []string{text}
	case kiloRe.MatchString(text):
		v, _ := strconv.ParseFloat(kiloRe.FindStringSubmatch(text)[1], 64)
		text = strconv.FormatFloat(v*1000, 'f', -1, 64)
		record(text, "numeral")
		parts = []string{text}
	case splittable(numberUnitRe, text, 2, false):
		m := numberUnitRe.FindStringSubmatch(text)
		parts = []string{m[1], m[2]}
		record(m[1]+" "+m[2], "unit-split")
	case splittable(currencyNumRe, text, 1, true):
		m := currencyNumRe.FindStringSubmatch(text)
		parts = []string{m[1], m[2]}
		record(m[1]+" "+m[2], "unit-split")
	default:
		parts = []string{text}
	}

	out := make([]models.Token, 0, len(parts))
	for _, p := range parts {
		if num, ok := numberWords[p]; ok {
			record(num, "numeral")
			p = num
		} else if fix, ok := n.termFixes[p]; ok {
			record(fix, "term-fix")
			p = fix
		}
		p = truncate(p)
		if p == "" {
			continue
		}
		tok := finish(p, models.TokenWord)
		if tok.Text != raw.text {
			tok.Original = raw.text
		}
		out = append(out, tok)
	}
	return out
}

// splittable reports whether a glued token like "500ml" or "rs5000" has a
// known unit or currency in submatch group.
func splittable(re *regexp.Regexp, text string, group int, currencyOnly bool) bool {
	m := re.FindStringSubmatch(text)
	if m == nil {
		return false
	}
	unit := m[group]
	if _, ok := vocab.CurrencyWords[unit]; ok || currencyOnly {
		return ok
	}
	if _, ok := vocab.QuantityUnits[unit]; ok {
		return true
	}
	_, ok := vocab.LengthUnits[unit]
	return ok
}

func truncate(text string) string {
	rs := []rune(text)
	if len(rs) <= MaxTokenRunes {
		return text
	}
	return strings.TrimRight(string(rs[:MaxTokenRunes]), "-'.,")
}

func finish(text string, kind models.TokenKind) models.Token {
	tok := models.Token{Text: text, Kind: kind}
	switch kind {
	case models.TokenCurrency:
		return tok
	case models.TokenSymbol:
		tok.LowConfidence = true
		return tok
	}

	if IsNumber(text) {
		tok.Kind = models.TokenNumber
		return tok
	}
	if _, ok := vocab.CurrencyWords[text]; ok {
		tok.Kind = models.TokenCurrency
	}
	tok.Lang = scriptLanguage(text)
	if tok.Lang == "und" {
		tok.LowConfidence = true
	}
	return tok
}

// IsNumber reports whether a token is a plain decimal number.
func IsNumber(text string) bool {
	if text == "" || !unicode.IsDigit(rune(text[0])) {
		return false
	}
	_, err := strconv.ParseFloat(text, 64)
	return err == nil
}

func firstLetter(text string) (rune, bool) {
	for _, r := range text {
		if unicode.IsLetter(r) {
			return r, true
		}
	}
	return 0, false
}

func isLatin(text string) bool {
	r, ok := firstLetter(text)
	return ok && unicode.Is(unicode.Latin, r)
}

// scriptLanguage tags a token by the script of its first letter. Tokens made
// only of digits carry no language.
func scriptLanguage(text string) string {
	r, ok := firstLetter(text)
	if !ok {
		return ""
	}
	switch {
	case unicode.Is(unicode.Latin, r):
		return "en"
	case unicode.Is(unicode.Sinhala, r):
		return "si"
	case unicode.Is(unicode.Tamil, r):
		return "ta"
	case unicode.Is(unicode.Devanagari, r):
		return "hi"
	default:
		return "und"
	}
}

// detectLanguage picks the dominant token language. The hint wins ties and
// is used when no token carries script evidence.
func detectLanguage(tokens []models.Token, hint string) (string, bool) {
	counts := make(map[string]int)
	for _, t := range tokens {
		if t.Lang != "" && t.Lang != "und" {
			counts[t.Lang]++
		}
	}
	if len(counts) == 0 {
		if hint != "" {
			return strings.ToLower(hint), false
		}
		return "en", false
	}

	langs := make([]string, 0, len(counts))
	for l := range counts {
		langs = append(langs, l)
	}
	hint = strings.ToLower(hint)
	sort.Slice(langs, func(i, j int) bool {
		if counts[langs[i]] != counts[langs[j]] {
			return counts[langs[i]] > counts[langs[j]]
		}
		if langs[i] == hint || langs[j] == hint {
			return langs[i] == hint
		}
		return langs[i] < langs[j]
	})
	return langs[0], len(langs) > 1
}
