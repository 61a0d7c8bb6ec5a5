package chapters

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// NormalizeName turns user input into a tracked-item key: it lowercases and
// joins whitespace-separated words with "_", so "  One \t Piece " becomes
// "one_piece".
func NormalizeName(raw string) string {
	return strings.Join(strings.Fields(strings.ToLower(raw)), "_")
}

// DisplayName is the inverse used in messages: "one_piece" becomes "One Piece".
func DisplayName(name string) string {
	words := strings.Split(name, "_")
	for i, w := range words {
		r, size := utf8.DecodeRuneInString(w)
		if size == 0 {
			continue
		}
		words[i] = string(unicode.ToUpper(r)) + strings.ToLower(w[size:])
	}
	return strings.Join(words, " ")
}
