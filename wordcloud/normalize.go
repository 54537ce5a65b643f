package wordcloud

import "regexp"

var (
	// URLPattern matches a token starting with http://, https:// or www.
	// up to the next whitespace character or "||", so a URL inside a
	// spoiler doesn't consume the closing marker. A single "|" is allowed
	// mid-URL, but a trailing one is left behind.
	URLPattern = regexp.MustCompile(`(?:https?://|www\.)(?:[^\s|]|\|[^\s|])*`)

	// SpoilerPattern matches a ||spoiler|| span, including across line breaks.
	SpoilerPattern = regexp.MustCompile(`\|\|[\s\S]*?\|\|`)
)

// Normalizer removes noise from raw message text. Matches are deleted,
// not replaced with a space, so text on either side of a match is joined.
type Normalizer struct {
	StripURLs     bool
	StripSpoilers bool
}

// DefaultNormalizer strips both URLs and spoilers.
var DefaultNormalizer = Normalizer{StripURLs: true, StripSpoilers: true}

// Normalize applies [DefaultNormalizer] to raw.
func Normalize(raw string) string {
	return DefaultNormalizer.Normalize(raw)
}

// Normalize strips URLs, then spoilers, repeating both passes until the
// text stops changing. Deleting a spoiler can splice a new URL together
// ("htt||x||p://a"), so a single pass isn't enough for the output to be
// free of either pattern.
func (n Normalizer) Normalize(raw string) string {
	if !n.StripURLs && !n.StripSpoilers {
		return raw
	}
	s := raw
	for {
		prev := s
		if n.StripURLs {
			s = URLPattern.ReplaceAllLiteralString(s, "")
		}
		if n.StripSpoilers {
			s = SpoilerPattern.ReplaceAllLiteralString(s, "")
		}
		if s == prev {
			return s
		}
	}
}
