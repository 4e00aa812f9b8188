package textutil

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// collapsePattern matches runs of characters that do not contribute identity.
var collapsePattern = regexp.MustCompile(`[^a-z0-9]+`)

// articlePrefixes are leading articles ignored during comparison so that
// "The Stars My Destination" and "Stars My Destination" collapse together.
var articlePrefixes = []string{"the ", "an ", "a "}

var foldTransformer = transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Normalize folds case, strips diacritics, drops leading articles, and
// collapses punctuation so two renderings of the same title or author compare
// equal. The result uses single spaces between tokens.
func Normalize(value string) string {
	folded, _, err := transform.String(foldTransformer, value)
	if err != nil {
		folded = value
	}
	lowered := strings.ToLower(strings.TrimSpace(folded))
	for _, prefix := range articlePrefixes {
		if strings.HasPrefix(lowered, prefix) {
			lowered = lowered[len(prefix):]
			break
		}
	}
	collapsed := collapsePattern.ReplaceAllString(lowered, " ")
	return strings.TrimSpace(collapsed)
}

// DedupKey builds the canonical identity for a candidate from its title and
// author. Both parts are normalized independently; the separator cannot occur
// in normalized output.
func DedupKey(title, author string) string {
	t := strings.ReplaceAll(Normalize(title), " ", "-")
	a := strings.ReplaceAll(Normalize(author), " ", "-")
	if a == "" {
		return t
	}
	return t + "::" + a
}
