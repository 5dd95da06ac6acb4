// Package username generates collision-free usernames from noisy human-name
// data. The search is a fixed ordered sequence of candidates; the first one
// the existence oracle reports free wins. Shorter, more readable candidates
// come first, and a bounded numeric-suffix fallback guarantees termination.
package username

import (
	"context"
	"iter"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	dErrors "github.com/eol-uchile/uchileedxlogin/pkg/domain-errors"
)

// ExistsFunc answers whether a candidate username is already taken.
type ExistsFunc func(ctx context.Context, username string) (bool, error)

// Name holds normalized name fragments. Build one with the Generator's
// NameFromParts/NameFromFull so the fragments are ASCII-folded and restricted
// to [A-Za-z0-9_]; Single marks names that yielded one undividable token,
// which short-circuits the search to the numeric-suffix path.
type Name struct {
	First    []string
	Last     []string
	Combined string
	Single   bool
}

// Generator runs the ordered candidate search. The token pattern is injected
// at construction so there is no package-global mutable state.
type Generator struct {
	maxLen       int
	numericBound int
	tokens       *regexp.Regexp
}

const (
	defaultMaxLen       = 30
	defaultNumericBound = 10000
	// numericReserve keeps room for the numeric suffix in the fallback.
	numericReserve = 5
)

// NewGenerator returns a Generator with the production limits: 30 character
// usernames and a 10000-wide numeric fallback.
func NewGenerator() *Generator {
	return &Generator{
		maxLen:       defaultMaxLen,
		numericBound: defaultNumericBound,
		tokens:       regexp.MustCompile(`[^A-Za-z0-9_]+`),
	}
}

// NameFromParts builds a Name from provider name fields: given names and up
// to two surnames.
func (g *Generator) NameFromParts(givenNames, surname1, surname2 string) Name {
	first := g.tokenize(givenNames)
	last := g.tokenize(strings.TrimSpace(surname1 + " " + surname2))
	return Name{First: first, Last: last}
}

// NameFromFull builds a Name from a single combined full-name string. The
// token list is split in half between first and last names; a one-token name
// keeps only the combined form.
func (g *Generator) NameFromFull(full string) Name {
	toks := g.tokenize(strings.ToLower(full))
	if len(toks) == 1 {
		return Name{Combined: toks[0], Single: true}
	}
	half := len(toks) / 2
	return Name{First: toks[:half], Last: toks[half:]}
}

// tokenize ASCII-folds the input, collapses runs of disallowed characters to
// spaces and splits; an input with no usable tokens yields a single empty
// token so the search still terminates via the numeric fallback.
func (g *Generator) tokenize(s string) []string {
	folded := foldASCII(s)
	cleaned := g.tokens.ReplaceAllString(folded, " ")
	toks := strings.Fields(cleaned)
	if len(toks) == 0 {
		return []string{""}
	}
	return toks
}

// Generate returns the first candidate in the defined order for which exists
// reports false. Oracle errors abort the search; exhausting the bounded
// numeric fallback fails with a username_exhausted error.
func (g *Generator) Generate(ctx context.Context, name Name, exists ExistsFunc) (string, error) {
	for candidate := range g.candidates(name) {
		taken, err := exists(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
	}
	return "", dErrors.New(dErrors.CodeUsernameExhausted, "username candidate space exhausted")
}

// candidates yields the search sequence:
//
//  1. single-token names: token, then token+N
//  2. first[0]_last[0]
//  3. grow the surname side a character at a time from later surname tokens
//  4. grow the given-name side instead
//  5. grow both sides (nested character growth)
//  6. truncate first[0]_last[0] and append N
//
// Every branch stops once the length limit would be exceeded.
func (g *Generator) candidates(name Name) iter.Seq[string] {
	if name.Single {
		return g.numericCandidates(name.Combined, true)
	}
	return func(yield func(string) bool) {
		first, last := name.First, name.Last
		if len(first) == 0 {
			first = []string{""}
		}
		if len(last) == 0 {
			last = []string{""}
		}
		base := first[0] + "_" + last[0]

		if len(base) <= g.maxLen && !yield(base) {
			return
		}

		cur := base
	lastNames:
		for _, tok := range last[1:] {
			cur += "_"
			for i := 0; i < len(tok); i++ {
				cur += string(tok[i])
				if len(cur) > g.maxLen {
					break lastNames
				}
				if !yield(cur) {
					return
				}
			}
		}

		firsts := first[0]
	firstNames:
		for _, tok := range first[1:] {
			firsts += "_"
			for i := 0; i < len(tok); i++ {
				firsts += string(tok[i])
				candidate := firsts + "_" + last[0]
				if len(candidate) > g.maxLen {
					break firstNames
				}
				if !yield(candidate) {
					return
				}
			}
		}

		grown := first[0]
	bothNames:
		for _, ftok := range first[1:] {
			grown += "_"
			for i := 0; i < len(ftok); i++ {
				grown += string(ftok[i])
				possible := grown + "_" + last[0]
				if len(possible) > g.maxLen {
					break bothNames
				}
			lastGrowth:
				for _, ltok := range last[1:] {
					possible += "_"
					for j := 0; j < len(ltok); j++ {
						possible += string(ltok[j])
						if len(possible) > g.maxLen {
							break lastGrowth
						}
						if !yield(possible) {
							return
						}
					}
				}
			}
		}

		truncated := base
		if len(truncated) > g.maxLen-numericReserve {
			truncated = truncated[:g.maxLen-numericReserve]
		}
		truncated = strings.TrimSuffix(truncated, "_")
		for candidate := range g.numericCandidates(truncated, false) {
			if !yield(candidate) {
				return
			}
		}
	}
}

// numericCandidates yields base (when includeBase is set) followed by base+N
// for N in [1, numericBound).
func (g *Generator) numericCandidates(base string, includeBase bool) iter.Seq[string] {
	return func(yield func(string) bool) {
		if includeBase && !yield(base) {
			return
		}
		for n := 1; n < g.numericBound; n++ {
			if !yield(base + strconv.Itoa(n)) {
				return
			}
		}
	}
}

// foldASCII strips combining marks after NFD decomposition, transliterating
// accented latin letters to their ASCII base.
func foldASCII(s string) string {
	decomposed := norm.NFD.String(s)
	var b strings.Builder
	b.Grow(len(decomposed))
	for _, r := range decomposed {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
