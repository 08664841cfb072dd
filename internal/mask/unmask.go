package mask

import (
	"fmt"
	"strings"
)

// Restore inverts a masked document: every placeholder token is replaced by
// its original canonical surface text from the mapping. Tokens are
// self-delimiting and non-overlapping, so scanning order does not matter and
// restoration is idempotent over the same masked input.
//
// A placeholder-shaped token with no mapping entry is a hard failure — the
// caller gets no partial output, never a document with a literal placeholder
// left in place.
//
// Restored text uses the merged, space-joined canonical form; the original
// line-wrap positions live in the mapping's fragment metadata but are not
// reapplied here.
// CountTokens reports how many placeholder-shaped tokens the text contains.
func CountTokens(text string) int {
	return len(tokenRegexp.FindAllStringIndex(text, -1))
}

func Restore(masked string, m *Mapping) (string, error) {
	locs := tokenRegexp.FindAllStringIndex(masked, -1)
	if len(locs) == 0 {
		return masked, nil
	}

	var b strings.Builder
	b.Grow(len(masked))
	pos := 0
	for _, loc := range locs {
		token := masked[loc[0]:loc[1]]
		p, ok := ParseToken(token)
		if !ok {
			return "", fmt.Errorf("%w: unparseable placeholder token %q", ErrMissingMapping, token)
		}
		original, ok := m.Lookup(p)
		if !ok {
			return "", fmt.Errorf("%w: no entry for placeholder %q in document %s",
				ErrMissingMapping, token, m.DocID)
		}
		b.WriteString(masked[pos:loc[0]])
		b.WriteString(original)
		pos = loc[1]
	}
	b.WriteString(masked[pos:])
	return b.String(), nil
}
