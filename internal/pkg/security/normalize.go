package security

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// confusables maps look-alike letters from other scripts onto ASCII.
var confusables = map[rune]rune{
	// Cyrillic
	'а': 'a', 'в': 'b', 'е': 'e', 'ё': 'e', 'к': 'k', 'м': 'm', 'н': 'h',
	'о': 'o', 'р': 'p', 'с': 'c', 'т': 't', 'у': 'y', 'х': 'x', 'і': 'i',
	'ї': 'i', 'ј': 'j', 'ѕ': 's', 'ԁ': 'd',
	// Greek
	'α': 'a', 'β': 'b', 'ε': 'e', 'η': 'n', 'ι': 'i', 'κ': 'k', 'ν': 'v',
	'ο': 'o', 'ρ': 'p', 'τ': 't', 'υ': 'u', 'χ': 'x', 'ω': 'w',
}

// leet maps digit and symbol substitutions back to letters. It is applied
// only inside tokens that also contain letters so plain figures survive.
var leet = map[rune]rune{
	'0': 'o', '1': 'i', '3': 'e', '4': 'a', '5': 's', '7': 't', '@': 'a', '$': 's',
}

// newFolder returns a fresh transformer; transform chains carry state and
// must not be shared between goroutines.
func newFolder() transform.Transformer {
	return transform.Chain(
		norm.NFKD,
		runes.Remove(runes.In(unicode.Mn)),
		runes.Remove(runes.In(unicode.Cf)),
		norm.NFC,
	)
}

// FoldForMatching reduces text to a canonical lower-case ASCII-leaning form
// for signature matching. Compatibility forms (full-width letters) are
// decomposed, diacritics and invisible format characters are dropped,
// confusable letters and leetspeak are mapped back and whitespace runs
// collapse to one space.
func FoldForMatching(text string) string {
	folded, _, err := transform.String(newFolder(), text)
	if err != nil {
		folded = text
	}
	folded = strings.ToLower(folded)

	folded = strings.Map(func(r rune) rune {
		if c, ok := confusables[r]; ok {
			return c
		}
		return r
	}, folded)

	tokens := strings.Fields(folded)
	for i, tok := range tokens {
		tokens[i] = unleet(tok)
	}
	return strings.Join(tokens, " ")
}

func unleet(token string) string {
	hasLetter := false
	hasLeet := false
	for _, r := range token {
		if unicode.IsLetter(r) {
			hasLetter = true
		} else if _, ok := leet[r]; ok {
			hasLeet = true
		}
	}
	if !hasLetter || !hasLeet {
		return token
	}
	return strings.Map(func(r rune) rune {
		if c, ok := leet[r]; ok {
			return c
		}
		return r
	}, token)
}
