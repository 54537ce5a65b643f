package wordcloud

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "url deleted without collapsing spaces",
			input:    "check this out https://example.com/x cool",
			expected: "check this out  cool",
		},
		{
			name:     "spoiler deleted",
			input:    "a secret is ||hidden here|| ok",
			expected: "a secret is  ok",
		},
		{
			name:     "empty",
			input:    "",
			expected: "",
		},
		{
			name:     "www prefix",
			input:    "see www.example.com now",
			expected: "see  now",
		},
		{
			name:     "plain http",
			input:    "http://a.b/c?d=e",
			expected: "",
		},
		{
			name:     "url merges adjacent text",
			input:    "foohttps://x.y bar",
			expected: "foo bar",
		},
		{
			name:     "spoiler across lines",
			input:    "a ||line one\nline two|| b",
			expected: "a  b",
		},
		{
			name:     "multiple spoilers are matched lazily",
			input:    "||x|| keep ||y||",
			expected: " keep ",
		},
		{
			name:     "unpaired marker kept",
			input:    "a || b",
			expected: "a || b",
		},
		{
			name:     "url inside spoiler",
			input:    "x ||https://spoiler.example|| y",
			expected: "x  y",
		},
		{
			name:     "url inside spoiler keeps visible text",
			input:    "||https://a.b|| visible words ||hidden secret||",
			expected: " visible words ",
		},
		{
			name:     "url stops at spoiler marker",
			input:    "see https://a.b/c||d|| e",
			expected: "see  e",
		},
		{
			name:     "single pipe inside url",
			input:    "https://a.b/x|y z",
			expected: " z",
		},
		{
			name:     "spoiler removal splices a url",
			input:    "htt||x||p://a b",
			expected: " b",
		},
	}

	for _, tc := range testCases {
		t.Run(
			tc.name, func(t *testing.T) {
				assert.Equal(t, tc.expected, Normalize(tc.input))
			},
		)
	}
}

func TestNormalize_Properties(t *testing.T) {
	inputs := []string{
		"",
		"   ",
		"no noise here",
		"check this out https://example.com/x cool",
		"||a|| ||b||c||",
		"|||a||",
		"wwhttp://x www.y.z ||\n|| end",
		"htt||x||p://a ww||q||w.b c",
		"||unterminated spoiler http://a",
		"emoji 🍵 https://🍵.example ||🍵||",
		"||https://a.b|| visible words ||hidden secret||",
		"https://|| a ||",
	}
	for _, in := range inputs {
		out := Normalize(in)
		assert.Falsef(t, URLPattern.MatchString(out), "url left in %q -> %q", in, out)
		assert.Falsef(t, SpoilerPattern.MatchString(out), "spoiler left in %q -> %q", in, out)
		assert.Equalf(t, out, Normalize(out), "not idempotent for %q", in)
	}
}

func TestNormalizer_Flags(t *testing.T) {
	input := "a https://x.y ||s|| b"

	t.Run(
		"urls only", func(t *testing.T) {
			n := Normalizer{StripURLs: true}
			assert.Equal(t, "a  ||s|| b", n.Normalize(input))
		},
	)
	t.Run(
		"spoilers only", func(t *testing.T) {
			n := Normalizer{StripSpoilers: true}
			assert.Equal(t, "a https://x.y  b", n.Normalize(input))
		},
	)
	t.Run(
		"disabled", func(t *testing.T) {
			assert.Equal(t, input, Normalizer{}.Normalize(input))
		},
	)
}
