package query

import (
	"strings"
	"unicode"
)

// stopWords are excluded from keyword retrieval. Besides function words this
// holds question scaffolding that carries no meaning for a lexical match.
var stopWords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "by": true, "for": true, "from": true, "has": true, "have": true,
	"had": true, "he": true, "she": true, "in": true, "is": true, "it": true,
	"its": true, "of": true, "on": true, "or": true, "that": true, "the": true,
	"to": true, "was": true, "were": true, "will": true, "with": true, "i": true,
	"me": true, "my": true, "we": true, "our": true, "you": true, "your": true,
	"this": true, "these": true, "those": true, "there": true, "their": true,
	"they": true, "them": true, "what": true, "which": true, "who": true,
	"whom": true, "whose": true, "when": true, "where": true, "why": true,
	"how": true, "do": true, "does": true, "did": true, "can": true,
	"could": true, "should": true, "would": true, "about": true, "into": true,
	"than": true, "then": true, "so": true, "if": true, "any": true, "all": true,
	"some": true, "much": true, "many": true, "also": true, "please": true,
	"tell": true, "show": true, "give": true, "explain": true, "describe": true,
	"vs": true, "versus": true, "between": true, "compare": true, "compared": true,
}

// ExtractKeywords returns the distinct lower-cased content terms of text in
// order of first appearance. Possessives are stripped ("apple's" -> "apple").
func ExtractKeywords(text string) []string {
	words := strings.Fields(strings.ToLower(text))
	keywords := make([]string, 0, len(words))
	seen := make(map[string]bool, len(words))

	for _, word := range words {
		word = cleanWord(word)
		word = strings.TrimSuffix(word, "'s")
		word = strings.TrimSuffix(word, "’s")
		word = strings.Trim(word, "-'’")

		// Skip if too short or is stop word
		if len([]rune(word)) < 2 || stopWords[word] || seen[word] {
			continue
		}

		seen[word] = true
		keywords = append(keywords, word)
	}

	return keywords
}

// cleanWord removes punctuation from a word, keeping characters that occur
// inside financial terms such as "s&p", "10-k" or "q3'24".
func cleanWord(word string) string {
	var cleaned strings.Builder
	for _, r := range word {
		if unicode.IsLetter(r) || unicode.IsNumber(r) || r == '-' || r == '&' || r == '\'' || r == '’' {
			cleaned.WriteRune(r)
		}
	}
	return cleaned.String()
}

// MatchKeywords returns the keywords that occur in text, case-insensitively.
func MatchKeywords(keywords []string, text string) []string {
	if len(keywords) == 0 || text == "" {
		return nil
	}

	lower := strings.ToLower(text)
	var matched []string
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			matched = append(matched, kw)
		}
	}
	return matched
}
