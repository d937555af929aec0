package format

import (
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/antzucaro/matchr"
)

const (
	phoneticThreshold = 0.70
	fuzzyThreshold    = 0.85

	// Shorter windows produce too many false positives ("go", "in").
	minMatchLetters = 4
)

// Correction is one replacement made by a Dictionary.
type Correction struct {
	Original  string
	Corrected string
	Score     float64
}

// Dictionary rewrites raw transcriptions toward personal vocabulary before
// they reach the model, so misheard names survive even when formatting is off.
//
// Entries of the form "spoken = Written" are exact phrase replacements.
// Plain entries are matched by sound: every word's Double Metaphone codes
// must overlap the entry's word at the same position and the Jaro-Winkler
// similarity must reach 0.70, or 0.85 without a phonetic match.
//
// A Dictionary is immutable and safe for concurrent use.
type Dictionary struct {
	mappings []mapping
	terms    []term
	maxWords int
}

type mapping struct {
	spoken  []string
	written string
}

type term struct {
	written string
	lower   string
	codes   []map[string]struct{}
}

// NewDictionary parses entries. Blank and malformed entries are skipped.
func NewDictionary(entries []string) *Dictionary {
	d := &Dictionary{}
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if spoken, written, ok := strings.Cut(e, "="); ok {
			tokens := strings.Fields(strings.ToLower(spoken))
			written = strings.TrimSpace(written)
			if len(tokens) == 0 || written == "" {
				continue
			}
			d.mappings = append(d.mappings, mapping{spoken: tokens, written: written})
			d.maxWords = max(d.maxWords, len(tokens))
			continue
		}
		tokens := strings.Fields(strings.ToLower(e))
		d.terms = append(d.terms, term{
			written: strings.Join(strings.Fields(e), " "),
			lower:   strings.Join(tokens, " "),
			codes:   wordCodes(tokens),
		})
		d.maxWords = max(d.maxWords, len(tokens))
	}
	return d
}

// Len returns the number of usable entries.
func (d *Dictionary) Len() int {
	if d == nil {
		return 0
	}
	return len(d.mappings) + len(d.terms)
}

// Correct returns text with dictionary replacements applied. Whitespace is
// normalised to single spaces; punctuation around a replaced span is kept.
func (d *Dictionary) Correct(text string) (string, []Correction) {
	tokens := strings.Fields(text)
	if d.Len() == 0 || len(tokens) == 0 {
		return text, nil
	}

	out := make([]string, 0, len(tokens))
	var corrections []Correction

	for i := 0; i < len(tokens); {
		n, written, score := d.matchAt(tokens[i:])
		if n == 0 {
			out = append(out, tokens[i])
			i++
			continue
		}
		lead, _, _ := splitPunct(tokens[i])
		_, _, trail := splitPunct(tokens[i+n-1])
		original := strings.Join(tokens[i:i+n], " ")
		replaced := lead + written + trail
		if replaced != original {
			corrections = append(corrections, Correction{
				Original:  original,
				Corrected: replaced,
				Score:     score,
			})
		}
		out = append(out, replaced)
		i += n
	}

	if len(corrections) == 0 {
		return text, nil
	}
	return strings.Join(out, " "), corrections
}

// matchAt tries the longest window first and returns the number of tokens
// consumed, or 0 when nothing matched.
func (d *Dictionary) matchAt(tokens []string) (int, string, float64) {
	limit := min(d.maxWords, len(tokens))
	words := make([]string, 0, limit)
	for n := 1; n <= limit; n++ {
		lead, word, trail := splitPunct(tokens[n-1])
		// Punctuation inside a window means the words belong to separate
		// phrases.
		if word == "" || (n > 1 && lead != "") {
			break
		}
		words = append(words, strings.ToLower(word))
		if trail != "" {
			break
		}
	}
	return d.best(words)
}

// best picks the longest window with a match. Exact mappings beat sound-alike
// terms of the same length.
func (d *Dictionary) best(words []string) (int, string, float64) {
	for n := len(words); n >= 1; n-- {
		window := words[:n]
		for _, m := range d.mappings {
			if slices.Equal(m.spoken, window) {
				return n, m.written, 1
			}
		}
		if written, score, ok := d.matchTerm(window); ok {
			return n, written, score
		}
	}
	return 0, "", 0
}

func (d *Dictionary) matchTerm(window []string) (string, float64, bool) {
	full := strings.Join(window, " ")
	if countLetters(full) < minMatchLetters {
		return "", 0, false
	}
	codes := wordCodes(window)

	var (
		bestTerm     string
		bestScore    float64
		bestPhonetic bool
	)
	for _, t := range d.terms {
		if len(t.codes) != len(window) {
			continue
		}
		score := similarity(window, full, t.lower)
		if soundsAlike(codes, t.codes) {
			if score >= phoneticThreshold && (!bestPhonetic || score > bestScore) {
				bestTerm, bestScore, bestPhonetic = t.written, score, true
			}
		} else if !bestPhonetic && score >= fuzzyThreshold && score > bestScore {
			bestTerm, bestScore = t.written, score
		}
	}
	return bestTerm, bestScore, bestTerm != ""
}

// similarity is the Jaro-Winkler score of the full phrases, or of the phrases
// with spaces removed when that scores higher.
func similarity(window []string, full, target string) float64 {
	score := matchr.JaroWinkler(full, target, false)
	if len(window) > 1 {
		joined := strings.Join(window, "")
		if s := matchr.JaroWinkler(joined, strings.ReplaceAll(target, " ", ""), false); s > score {
			score = s
		}
	}
	return score
}

// wordCodes returns the primary and secondary Double Metaphone codes of each
// word. Empty codes are dropped.
func wordCodes(words []string) []map[string]struct{} {
	out := make([]map[string]struct{}, len(words))
	for i, w := range words {
		codes := make(map[string]struct{}, 2)
		p, s := matchr.DoubleMetaphone(w)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
		out[i] = codes
	}
	return out
}

func soundsAlike(a, b []map[string]struct{}) bool {
	for i := range a {
		if len(a[i]) == 0 && len(b[i]) == 0 {
			continue
		}
		if !codesOverlap(a[i], b[i]) {
			return false
		}
	}
	return true
}

func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// splitPunct separates leading and trailing punctuation from a token.
func splitPunct(token string) (lead, word, trail string) {
	start := strings.IndexFunc(token, isWordRune)
	if start < 0 {
		return token, "", ""
	}
	end := strings.LastIndexFunc(token, isWordRune)
	_, size := utf8.DecodeRuneInString(token[end:])
	end += size
	return token[:start], token[start:end], token[end:]
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '\'' || r == '-'
}

func countLetters(s string) int {
	n := 0
	for _, r := range s {
		if unicode.IsLetter(r) {
			n++
		}
	}
	return n
}
