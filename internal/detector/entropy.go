package detector

import "math"

// shannonEntropy computes the Shannon entropy of text in bits per character.
// The result depends only on the character frequency histogram, so any
// permutation of text yields the same value.
func shannonEntropy(text string) float64 {
	if text == "" {
		return 0
	}

	counts := make(map[rune]int)
	length := 0
	for _, r := range text {
		counts[r]++
		length++
	}

	entropy := 0.0
	for _, count := range counts {
		probability := float64(count) / float64(length)
		entropy -= probability * math.Log2(probability)
	}

	return entropy
}
