// Package mask implements the reversible entity masking core: span merging,
// canonical placeholder assignment, text masking and exact unmasking.
//
// The stage order is load-bearing. Detectors report raw spans, and a single
// real-world entity wrapped across a line boundary arrives as several
// fragments. Merge consolidates fragments into logical entities BEFORE any
// canonicalization happens; the registry and masker only accept MergedSpan
// values, so the fragment-gets-its-own-placeholder bug cannot be expressed.
package mask

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/panteleyshmelev/pii-anon-3/internal/detect"
)

// MergePolicy decides which gaps between same-type raw spans still belong to
// one logical entity. The default admits whitespace with at most one line
// break; any punctuation breaks the unit. Hyphen joining is opt-in because
// detector behavior on hyphenated names is ambiguous.
type MergePolicy struct {
	MaxLineBreaks    int
	JoinAcrossHyphen bool
}

// DefaultMergePolicy returns the whitespace-or-single-line-break policy.
func DefaultMergePolicy() MergePolicy {
	return MergePolicy{MaxLineBreaks: 1}
}

// mergeableGap reports whether the raw text between two spans may be
// collapsed. An empty gap (contiguous spans) always merges.
func (p MergePolicy) mergeableGap(gap string) bool {
	hyphens, breaks := 0, 0
	for _, r := range gap {
		switch {
		case r == '\n':
			breaks++
		case r == '-':
			hyphens++
		case unicode.IsSpace(r):
		default:
			return false
		}
	}
	if hyphens > 0 && (!p.JoinAcrossHyphen || hyphens > 1) {
		return false
	}
	return breaks <= p.MaxLineBreaks
}

// MergedSpan is one or more raw spans consolidated into a single logical
// entity occurrence. Canonical is the constituent texts joined with single
// spaces — the same logical name normalizes identically with or without a
// line wrap.
type MergedSpan struct {
	Spans     []detect.RawSpan // constituents in offset order
	Type      detect.EntityType
	Canonical string
	Start     int
	End       int
}

// Merge consolidates raw spans into merged spans. Input spans may arrive in
// any order and may overlap across detectors; overlaps are resolved by
// earliest-start, longest-span precedence before merging. Every surviving
// raw span belongs to exactly one merged span.
//
// Offsets are validated against the document text; corruption is a
// consistency error and aborts the request.
func Merge(text string, raw []detect.RawSpan, policy MergePolicy) ([]MergedSpan, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	spans := make([]detect.RawSpan, len(raw))
	copy(spans, raw)
	for _, s := range spans {
		if s.Start < 0 || s.End > len(text) || s.Start >= s.End {
			return nil, fmt.Errorf("%w: span [%d,%d) outside document of %d bytes",
				ErrConsistency, s.Start, s.End, len(text))
		}
		if text[s.Start:s.End] != s.Text {
			return nil, fmt.Errorf("%w: span text %q does not match document at [%d,%d)",
				ErrConsistency, s.Text, s.Start, s.End)
		}
	}

	// Earliest start first; on ties the longest span wins, then type order
	// keeps the result deterministic.
	sort.Slice(spans, func(i, j int) bool {
		if spans[i].Start != spans[j].Start {
			return spans[i].Start < spans[j].Start
		}
		if spans[i].End != spans[j].End {
			return spans[i].End > spans[j].End
		}
		return spans[i].Type < spans[j].Type
	})

	// Drop spans overlapping an already-kept earlier span.
	kept := spans[:0]
	prevEnd := -1
	for _, s := range spans {
		if s.Start < prevEnd {
			continue
		}
		kept = append(kept, s)
		prevEnd = s.End
	}

	var merged []MergedSpan
	current := newMerged(kept[0])
	for _, s := range kept[1:] {
		if s.Type == current.Type && policy.mergeableGap(text[current.End:s.Start]) {
			current.Spans = append(current.Spans, s)
			current.End = s.End
			continue
		}
		merged = append(merged, finishMerged(current))
		current = newMerged(s)
	}
	merged = append(merged, finishMerged(current))
	return merged, nil
}

func newMerged(s detect.RawSpan) MergedSpan {
	return MergedSpan{
		Spans: []detect.RawSpan{s},
		Type:  s.Type,
		Start: s.Start,
		End:   s.End,
	}
}

func finishMerged(m MergedSpan) MergedSpan {
	texts := make([]string, len(m.Spans))
	for i, s := range m.Spans {
		texts[i] = s.Text
	}
	// Single-space join; the original line-break character is never kept.
	m.Canonical = strings.Join(texts, " ")
	return m
}

// occurrence converts a merged span to its mapping metadata form.
func (m MergedSpan) occurrence() Occurrence {
	occ := Occurrence{Start: m.Start, End: m.End}
	for _, s := range m.Spans {
		occ.Fragments = append(occ.Fragments, Fragment{
			Start: s.Start, End: s.End, Line: s.Line, Text: s.Text,
		})
	}
	return occ
}
