package mask

import (
	"fmt"
	"strings"
)

// Resolved pairs one merged span with its assigned placeholder.
type Resolved struct {
	Span        MergedSpan
	Placeholder Placeholder
}

// Apply rewrites the document text, replacing each resolved span's covered
// range, as a unit, with its rendered placeholder token. Non-entity text
// passes through unchanged.
//
// The rewrite is an immutable rebuild from the original buffer plus the
// sorted replacement list — the original is never mutated while span offsets
// computed against it are live. Spans must arrive sorted by start offset and
// non-overlapping (the merger guarantees both); a violation fails fast with
// a consistency error instead of silently corrupting text.
//
// A document whose natural text already contains a placeholder-shaped token
// is rejected: substituting into it would make the mask ambiguous to invert.
// So is a span that abuts a letter, digit or underscore: the substituted
// token would fuse with its neighbor ("PERSON12020", "PERSON1ping") and stop
// being self-delimiting, which breaks exact restoration.
func Apply(text string, resolved []Resolved) (string, error) {
	covered := make([][2]int, 0, len(resolved))
	prevEnd := -1
	for _, r := range resolved {
		s := r.Span
		if s.Start < 0 || s.End > len(text) || s.Start >= s.End {
			return "", fmt.Errorf("%w: span [%d,%d) outside document of %d bytes",
				ErrConsistency, s.Start, s.End, len(text))
		}
		if s.Start < prevEnd {
			return "", fmt.Errorf("%w: span [%d,%d) overlaps previous span ending at %d",
				ErrConsistency, s.Start, s.End, prevEnd)
		}
		if s.Start > 0 && wordByte(text[s.Start-1]) || s.End < len(text) && wordByte(text[s.End]) {
			return "", fmt.Errorf("%w: span [%d,%d) abuts a word character, token would not be self-delimiting",
				ErrConsistency, s.Start, s.End)
		}
		prevEnd = s.End
		covered = append(covered, [2]int{s.Start, s.End})
	}

	if tok := findReservedToken(text, covered); tok != "" {
		return "", fmt.Errorf("%w: document already contains reserved token %q",
			ErrConsistency, tok)
	}

	var b strings.Builder
	b.Grow(len(text))
	pos := 0
	for _, r := range resolved {
		b.WriteString(text[pos:r.Span.Start])
		b.WriteString(r.Placeholder.Token())
		pos = r.Span.End
	}
	b.WriteString(text[pos:])
	return b.String(), nil
}

// wordByte matches the token regexp's ASCII \b word class.
func wordByte(b byte) bool {
	return b == '_' ||
		('0' <= b && b <= '9') ||
		('a' <= b && b <= 'z') ||
		('A' <= b && b <= 'Z')
}
