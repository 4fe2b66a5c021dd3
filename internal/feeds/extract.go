package feeds

import (
	"errors"
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

// ErrNoJSONPayload is returned when model output contains no balanced
// JSON object or array.
var ErrNoJSONPayload = errors.New("no JSON payload in model output")

// ExtractJSON returns the first balanced JSON value in text that opens
// with open ('{' or '['). Brackets inside string literals are ignored,
// so surrounding prose and code fences do not confuse the scan. A start
// position that never balances is skipped in favour of the next one.
func ExtractJSON(text string, open byte) (string, error) {
	var closer byte
	switch open {
	case '{':
		closer = '}'
	case '[':
		closer = ']'
	default:
		return "", ErrNoJSONPayload
	}

	for start := strings.IndexByte(text, open); start >= 0; {
		if end := balancedEnd(text[start:], open, closer); end > 0 {
			return text[start : start+end], nil
		}
		next := strings.IndexByte(text[start+1:], open)
		if next < 0 {
			break
		}
		start += next + 1
	}
	return "", ErrNoJSONPayload
}

// balancedEnd returns the length of the balanced value at the start of
// s, or -1 when s ends first.
func balancedEnd(s string, open, closer byte) int {
	depth := 0
	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case open:
			depth++
		case closer:
			depth--
			if depth == 0 {
				return i + 1
			}
		}
	}
	return -1
}

// citationRe matches the bracketed source markers search models append
// to sentences, e.g. "[1]" or "[2][3]".
var citationRe = regexp.MustCompile(`\[\d{1,2}\]`)

// plainText strips markup and citation markers from a model-supplied
// field and collapses whitespace.
func plainText(s string) string {
	if strings.ContainsRune(s, '<') {
		s = stripTags(s)
	}
	s = citationRe.ReplaceAllString(s, "")
	return strings.Join(strings.Fields(s), " ")
}

// stripTags keeps only the text tokens of s. Entities are decoded.
func stripTags(s string) string {
	z := html.NewTokenizer(strings.NewReader(s))
	var b strings.Builder
	for {
		switch z.Next() {
		case html.ErrorToken:
			return b.String()
		case html.TextToken:
			b.WriteString(z.Token().Data)
		}
	}
}
