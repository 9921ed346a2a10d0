package vocab

import (
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/antzucaro/matchr"
)

const (
	fuzzyThreshold    = 0.85
	phoneticThreshold = 0.80
	minFuzzyRunes     = 4
	fuzzyDiscount     = 0.9
)

// Similarity scores how well input matches a vocabulary entry in [0,1].
// Exact matches score 1. Otherwise the entry must be close in Jaro-Winkler
// terms and either within a small edit distance or share a Double Metaphone
// code with the input.
func Similarity(input, entry string) float64 {
	if input == entry {
		return 1
	}
	if utf8.RuneCountInString(input) < minFuzzyRunes || utf8.RuneCountInString(entry) < minFuzzyRunes {
		return 0
	}

	jw := matchr.JaroWinkler(input, entry, false)
	if jw >= fuzzyThreshold && matchr.Levenshtein(input, entry) <= maxEdits(entry) {
		return jw * fuzzyDiscount
	}
	if jw >= phoneticThreshold && phoneticOverlap(input, entry) {
		return jw * fuzzyDiscount * fuzzyDiscount
	}
	return 0
}

func maxEdits(entry string) int {
	if utf8.RuneCountInString(entry) >= 7 {
		return 2
	}
	return 1
}

func phoneticOverlap(a, b string) bool {
	ap, as := matchr.DoubleMetaphone(a)
	bp, bs := matchr.DoubleMetaphone(b)
	if ap == "" || bp == "" {
		return false
	}
	return ap == bp || ap == bs || (as != "" && (as == bp || as == bs))
}

type categoryWord struct {
	word     string
	category string
}

// Lexicon indexes the vocabularies for lookups. It is read-only after
// construction and safe for concurrent use.
type Lexicon struct {
	brands        []string
	brandWords    map[int][]string
	categoryWords []categoryWord
	categoryIndex map[string]string
	known         map[string]bool
}

// NewLexicon builds a lexicon over the package vocabularies.
func NewLexicon() *Lexicon {
	l := &Lexicon{
		brands:        append([]string(nil), Brands...),
		brandWords:    make(map[int][]string),
		categoryIndex: make(map[string]string),
		known:         make(map[string]bool),
	}
	for _, b := range l.brands {
		n := len(strings.Fields(b))
		l.brandWords[n] = append(l.brandWords[n], b)
	}

	cats := make([]string, 0, len(Categories))
	for c := range Categories {
		cats = append(cats, c)
	}
	sort.Strings(cats)
	for _, c := range cats {
		for _, w := range Categories[c] {
			l.categoryWords = append(l.categoryWords, categoryWord{word: w, category: c})
			if _, exists := l.categoryIndex[w]; !exists {
				l.categoryIndex[w] = c
			}
			l.known[w] = true
		}
	}
	for w := range Colors {
		l.known[w] = true
	}
	for w := range SizeWords {
		l.known[w] = true
	}
	for w := range QuantityUnits {
		l.known[w] = true
	}
	for w := range CurrencyWords {
		l.known[w] = true
	}
	for w := range Stopwords {
		l.known[w] = true
	}
	return l
}

// MaxBrandWords is the longest brand name in tokens.
func (l *Lexicon) MaxBrandWords() int {
	longest := 0
	for n := range l.brandWords {
		longest = max(longest, n)
	}
	return longest
}

// Brand matches a phrase of one or more words against brands with the same
// word count. Words that are themselves exact vocabulary terms of another
// kind (a category, colour, unit) only match brands exactly.
func (l *Lexicon) Brand(words []string) (string, float64) {
	phrase := strings.Join(words, " ")
	candidates := l.brandWords[len(words)]

	for _, b := range candidates {
		if b == phrase {
			return b, 1
		}
	}
	if len(words) == 1 && l.known[phrase] {
		return "", 0
	}

	best, bestScore := "", 0.0
	for _, b := range candidates {
		if s := Similarity(phrase, b); s > bestScore {
			best, bestScore = b, s
		}
	}
	return best, bestScore
}

// Category resolves a single word to a category.
func (l *Lexicon) Category(word string) (string, float64) {
	if c, ok := l.categoryIndex[word]; ok {
		return c, 1
	}
	if l.known[word] {
		return "", 0
	}

	best, bestScore := "", 0.0
	for _, cw := range l.categoryWords {
		if s := Similarity(word, cw.word); s > bestScore {
			best, bestScore = cw.category, s
		}
	}
	return best, bestScore
}

// CategoryOf finds the best category named anywhere in free text, such as a
// product title or a retailer's category path. Returns "" when none is found.
func (l *Lexicon) CategoryOf(text string) string {
	if c, ok := l.categoryIndex[strings.ToLower(strings.TrimSpace(text))]; ok {
		return c
	}
	best, bestScore := "", 0.0
	for _, w := range strings.FieldsFunc(strings.ToLower(text), isSeparator) {
		if c, s := l.Category(w); s > bestScore {
			best, bestScore = c, s
			if s == 1 {
				break
			}
		}
	}
	return best
}

// IsKnown reports whether word is an exact term of any vocabulary.
func (l *Lexicon) IsKnown(word string) bool {
	return l.known[word]
}

func isSeparator(r rune) bool {
	switch r {
	case ' ', ',', '/', '>', '&', '|', '(', ')', ':', ';', '.':
		return true
	}
	return false
}
