package wordcloud

import (
	"cmp"
	"slices"
	"strings"
)

// FrequencyTable maps a token to the number of times it occurred.
type FrequencyTable map[string]int

// WordCount is a single FrequencyTable entry.
type WordCount struct {
	Word  string `json:"word"`
	Count int    `json:"count"`
}

// Count splits text on whitespace (including newlines), drops empty
// tokens and tokens in stop, and counts what's left. Tokens are compared
// to stop exactly as they appear unless stop is case-insensitive.
func Count(text string, stop StopwordSet) FrequencyTable {
	freq := FrequencyTable{}
	for _, tok := range strings.Fields(text) {
		if stop.Contains(tok) {
			continue
		}
		freq[tok]++
	}
	return freq
}

// Total returns the sum of all counts.
func (f FrequencyTable) Total() int {
	total := 0
	for _, c := range f {
		total += c
	}
	return total
}

// Sorted returns entries by descending count, breaking ties alphabetically.
func (f FrequencyTable) Sorted() []WordCount {
	counts := make([]WordCount, 0, len(f))
	for w, c := range f {
		counts = append(counts, WordCount{Word: w, Count: c})
	}
	slices.SortFunc(
		counts, func(a, b WordCount) int {
			if c := cmp.Compare(b.Count, a.Count); c != 0 {
				return c
			}
			return cmp.Compare(a.Word, b.Word)
		},
	)
	return counts
}

// Top returns at most n entries from Sorted. n <= 0 returns everything.
func (f FrequencyTable) Top(n int) []WordCount {
	counts := f.Sorted()
	if n > 0 && len(counts) > n {
		counts = counts[:n]
	}
	return counts
}
