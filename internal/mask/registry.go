package mask

import (
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/panteleyshmelev/pii-anon-3/internal/detect"
)

// CanonicalKey normalizes surface text for identity comparison: NFKC
// normalization, Unicode case folding, whitespace collapsed to single
// spaces, leading and trailing whitespace trimmed. Two merged spans with
// equal keys and equal entity type denote the same real-world entity within
// a document.
func CanonicalKey(s string) string {
	s = norm.NFKC.String(s)
	s = cases.Fold().String(s)
	return strings.Join(strings.Fields(s), " ")
}

type registryKey struct {
	entityType detect.EntityType
	key        string
}

// Registry assigns placeholders to merged spans. It is stateful, scoped to
// one document's masking operation, and never shared across requests — a
// fresh registry per mask call is what keeps concurrent requests independent
// and prevents entity identity leaking between documents.
//
// Counters are dense per entity type, starting at 1. Every resolution of a
// new key appends exactly one entry to the mapping; repeated resolutions
// reuse the placeholder and only record the additional occurrence.
type Registry struct {
	fuzzyDistance int
	assigned      map[registryKey]Placeholder
	keysByType    map[detect.EntityType][]registryKey
	entryIndex    map[Placeholder]int
	mapping       *Mapping
}

// NewRegistry creates a registry for one document. fuzzyDistance > 0 enables
// Levenshtein aliasing: a new key within that distance of an existing key of
// the same type reuses its placeholder.
func NewRegistry(docID string, fuzzyDistance int) *Registry {
	return &Registry{
		fuzzyDistance: fuzzyDistance,
		assigned:      make(map[registryKey]Placeholder),
		keysByType:    make(map[detect.EntityType][]registryKey),
		entryIndex:    make(map[Placeholder]int),
		mapping: &Mapping{
			Schema:    MappingSchemaVersion,
			DocID:     docID,
			CreatedAt: time.Now().UTC(),
			Counters:  make(map[detect.EntityType]int),
		},
	}
}

// Resolve returns the placeholder for a merged span, allocating the next
// dense placeholder for its entity type on first sight. Deterministic for a
// given input order.
func (r *Registry) Resolve(span MergedSpan) Placeholder {
	k := registryKey{entityType: span.Type, key: CanonicalKey(span.Canonical)}

	p, ok := r.assigned[k]
	if !ok && r.fuzzyDistance > 0 {
		p, ok = r.fuzzyLookup(k)
		if ok {
			// Alias the new key so later exact hits are O(1).
			r.assigned[k] = p
		}
	}

	if !ok {
		r.mapping.Counters[span.Type]++
		p = Placeholder{Type: span.Type, Index: r.mapping.Counters[span.Type]}
		r.assigned[k] = p
		r.keysByType[span.Type] = append(r.keysByType[span.Type], k)
		r.entryIndex[p] = len(r.mapping.Entries)
		r.mapping.Entries = append(r.mapping.Entries, Entry{
			Placeholder: p,
			Original:    span.Canonical,
		})
	}

	i := r.entryIndex[p]
	r.mapping.Entries[i].Occurrences = append(r.mapping.Entries[i].Occurrences, span.occurrence())
	return p
}

// fuzzyLookup scans same-type keys for one within the Levenshtein threshold.
// First allocated key wins, matching the original resolver's behavior.
func (r *Registry) fuzzyLookup(k registryKey) (Placeholder, bool) {
	for _, existing := range r.keysByType[k.entityType] {
		if levenshtein(k.key, existing.key) <= r.fuzzyDistance {
			return r.assigned[existing], true
		}
	}
	return Placeholder{}, false
}

// Mapping returns the mapping accumulated so far. The registry retains
// ownership until the pipeline hands the finished mapping to the store.
func (r *Registry) Mapping() *Mapping {
	return r.mapping
}

// levenshtein computes the edit distance between two strings, by rune.
func levenshtein(a, b string) int {
	if a == b {
		return 0
	}
	ra, rb := []rune(a), []rune(b)
	if len(ra) > len(rb) {
		ra, rb = rb, ra
	}
	prev := make([]int, len(ra)+1)
	curr := make([]int, len(ra)+1)
	for i := range prev {
		prev[i] = i
	}
	for j := 1; j <= len(rb); j++ {
		curr[0] = j
		for i := 1; i <= len(ra); i++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[i] = min(prev[i-1]+cost, min(prev[i]+1, curr[i-1]+1))
		}
		prev, curr = curr, prev
	}
	return prev[len(ra)]
}
