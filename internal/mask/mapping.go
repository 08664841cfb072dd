package mask

import (
	"time"

	"github.com/panteleyshmelev/pii-anon-3/internal/detect"
)

// MappingSchemaVersion is bumped whenever the serialized Mapping layout
// changes; stores reject payloads with a different schema.
const MappingSchemaVersion uint16 = 1

// Fragment records one constituent raw span of a logical entity occurrence,
// preserving the original offsets and line index (including where a line
// wrap split the entity).
type Fragment struct {
	Start int    `msgpack:"start"`
	End   int    `msgpack:"end"`
	Line  int    `msgpack:"line"`
	Text  string `msgpack:"text"`
}

// Occurrence is one place in the original document where an entity appeared.
type Occurrence struct {
	Start     int        `msgpack:"start"`
	End       int        `msgpack:"end"`
	Fragments []Fragment `msgpack:"fragments"`
}

// Entry inverts one placeholder back to its original canonical surface text,
// with the positional metadata needed for exact restoration.
type Entry struct {
	Placeholder Placeholder  `msgpack:"placeholder"`
	Original    string       `msgpack:"original"`
	Occurrences []Occurrence `msgpack:"occurrences"`
}

// Mapping is the private, per-document table created at mask time and
// read-only thereafter. It is owned exclusively by the mapping store.
type Mapping struct {
	Schema     uint16                    `msgpack:"schema"`
	DocID      string                    `msgpack:"docId"`
	CreatedAt  time.Time                 `msgpack:"createdAt"`
	Entries    []Entry                   `msgpack:"entries"`
	Counters   map[detect.EntityType]int `msgpack:"counters"`
	MaskedText string                    `msgpack:"maskedText"`
}

// Lookup returns the original text for a placeholder.
func (m *Mapping) Lookup(p Placeholder) (string, bool) {
	for i := range m.Entries {
		if m.Entries[i].Placeholder == p {
			return m.Entries[i].Original, true
		}
	}
	return "", false
}

// EntityCount returns the number of distinct placeholders in the mapping.
func (m *Mapping) EntityCount() int {
	return len(m.Entries)
}
