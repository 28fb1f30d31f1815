package text

import "strings"

const wordsPerMinute = 150

// EstimateDuration approximates spoken length in seconds before synthesis.
func EstimateDuration(s string, lengthScale, sentenceSilence float64) float64 {
	if lengthScale <= 0 {
		lengthScale = 1
	}
	words := len(strings.Fields(s))
	speech := float64(words) / wordsPerMinute * 60 * lengthScale
	return speech + float64(CountSentences(s))*sentenceSilence
}

// CountSentences counts sentences using the same boundaries as Split.
func CountSentences(s string) int {
	n := 0
	for _, p := range paragraphs(s) {
		n += len(sentences(s, p))
	}
	return n
}
