package service

import "unicode"

// EstimateTokens approximates the token count of text when a provider omits usage.
// Han, Hiragana, Katakana and Hangul runes count as one token each; other runes as a quarter.
func EstimateTokens(text string) int {
	var cjk, other int
	for _, r := range text {
		if unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana, unicode.Hangul) {
			cjk++
		} else {
			other++
		}
	}
	return cjk + (other+3)/4
}
