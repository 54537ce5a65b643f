package wordcloud

import (
	"slices"
	"strings"
	"sync"
)

// EnglishStopwords is the base English stopword list.
var EnglishStopwords = []string{
	"a", "about", "above", "after", "again", "against", "all", "also", "am",
	"an", "and", "any", "are", "aren't", "as", "at", "be", "because", "been",
	"before", "being", "below", "between", "both", "but", "by", "can",
	"can't", "cannot", "com", "could", "couldn't", "did", "didn't", "do",
	"does", "doesn't", "doing", "don't", "down", "during", "each", "else",
	"ever", "few", "for", "from", "further", "get", "had", "hadn't", "has",
	"hasn't", "have", "haven't", "having", "he", "he'd", "he'll", "he's",
	"hence", "her", "here", "here's", "hers", "herself", "him", "himself",
	"his", "how", "how's", "however", "http", "i", "i'd", "i'll", "i'm",
	"i've", "if", "in", "into", "is", "isn't", "it", "it's", "its", "itself",
	"just", "k", "let's", "like", "me", "more", "most", "mustn't", "my",
	"myself", "no", "nor", "not", "of", "off", "on", "once", "only", "or",
	"other", "otherwise", "ought", "our", "ours", "ourselves", "out", "over",
	"own", "r", "same", "shall", "shan't", "she", "she'd", "she'll", "she's",
	"should", "shouldn't", "since", "so", "some", "such", "than", "that",
	"that's", "the", "their", "theirs", "them", "themselves", "then",
	"there", "there's", "therefore", "these", "they", "they'd", "they'll",
	"they're", "they've", "this", "those", "through", "to", "too", "under",
	"until", "up", "very", "was", "wasn't", "we", "we'd", "we'll", "we're",
	"we've", "were", "weren't", "what", "what's", "when", "when's", "where",
	"where's", "which", "while", "who", "who's", "whom", "why", "why's",
	"with", "won't", "would", "wouldn't", "www", "you", "you'd", "you'll",
	"you're", "you've", "your", "yours", "yourself", "yourselves",
}

// TopCommonWords holds the 100 most common English words. "I" is
// capitalized, so with case-sensitive matching only that exact form
// is excluded by this list.
var TopCommonWords = []string{
	"the", "be", "to", "of", "and", "a", "in", "that", "have", "I",
	"it", "for", "not", "on", "with", "he", "as", "you", "do", "at",
	"this", "but", "his", "by", "from", "they", "we", "say", "her", "she",
	"or", "an", "will", "my", "one", "all", "would", "there", "their", "what",
	"so", "up", "out", "if", "about", "who", "get", "which", "go", "me",
	"when", "make", "can", "like", "time", "no", "just", "him", "know", "take",
	"people", "into", "year", "your", "good", "some", "could", "them", "see", "other",
	"than", "then", "now", "look", "only", "come", "its", "over", "think", "also",
	"back", "after", "use", "two", "how", "our", "work", "first", "well", "way",
	"even", "new", "want", "because", "any", "these", "give", "day", "most", "us",
}

// CustomExclusions are bot/product names and chat filler. Entries with a
// space can never match a whitespace-delimited token; they are kept so the
// set stays a faithful superset of what operators expect to see excluded.
var CustomExclusions = []string{
	"Tea Cloud", "TeaCloud", "wordcloud", "word cloud",
	"one", "people", "think", "lol", "thing", "will", "actually", "https",
	"oh", "much", "going", "yeah", "ok", "wait", "really",
}

// SingleLetters returns "a" through "z".
func SingleLetters() []string {
	letters := make([]string, 0, 26)
	for r := 'a'; r <= 'z'; r++ {
		letters = append(letters, string(r))
	}
	return letters
}

// StopwordSet is an immutable set of words excluded from counting.
// The zero value is an empty, case-sensitive set.
type StopwordSet struct {
	words    map[string]struct{}
	foldCase bool
}

// StopwordOptions configures BuildStopwords.
type StopwordOptions struct {
	// Extra words added on top of the built-in lists
	Extra []string

	// CaseInsensitive lowercases the set and every probe. Off by default,
	// which matches tokens exactly as they appear in the message text.
	CaseInsensitive bool
}

// NewStopwordSet returns the union of the given word lists.
func NewStopwordSet(caseInsensitive bool, lists ...[]string) StopwordSet {
	n := 0
	for _, l := range lists {
		n += len(l)
	}
	s := StopwordSet{
		words:    make(map[string]struct{}, n),
		foldCase: caseInsensitive,
	}
	for _, l := range lists {
		for _, w := range l {
			if caseInsensitive {
				w = strings.ToLower(w)
			}
			s.words[w] = struct{}{}
		}
	}
	return s
}

// BuildStopwords unions the English list, single letters, the top-100
// common words, the curated exclusions and opts.Extra.
func BuildStopwords(opts StopwordOptions) StopwordSet {
	return NewStopwordSet(
		opts.CaseInsensitive,
		EnglishStopwords,
		SingleLetters(),
		TopCommonWords,
		CustomExclusions,
		opts.Extra,
	)
}

// DefaultStopwords returns the process-wide default set, built on first use.
var DefaultStopwords = sync.OnceValue(
	func() StopwordSet {
		return BuildStopwords(StopwordOptions{})
	},
)

// Contains reports whether word is a stopword.
func (s StopwordSet) Contains(word string) bool {
	if s.words == nil {
		return false
	}
	if s.foldCase {
		word = strings.ToLower(word)
	}
	_, ok := s.words[word]
	return ok
}

// Len returns the number of distinct stopwords.
func (s StopwordSet) Len() int {
	return len(s.words)
}

// CaseInsensitive reports whether membership ignores case.
func (s StopwordSet) CaseInsensitive() bool {
	return s.foldCase
}

// Words returns a sorted copy of the set's contents.
func (s StopwordSet) Words() []string {
	words := make([]string, 0, len(s.words))
	for w := range s.words {
		words = append(words, w)
	}
	slices.Sort(words)
	return words
}
