package mask

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/panteleyshmelev/pii-anon-3/internal/detect"
)

// Placeholder is the stable opaque label substituted for one logical entity
// within one document. Rendered as prefix + dense per-type integer: PERSON1,
// PERSON2, ORG1, …
type Placeholder struct {
	Type  detect.EntityType `msgpack:"type" json:"type"`
	Index int               `msgpack:"index" json:"index"`
}

// Token renders the placeholder in its fixed text form.
func (p Placeholder) Token() string {
	return p.Type.Prefix() + strconv.Itoa(p.Index)
}

// tokenRegexp matches any well-formed placeholder token. Prefixes are sorted
// longest first so alternation cannot stop at a shorter prefix of a longer one.
var tokenRegexp = buildTokenRegexp()

func buildTokenRegexp() *regexp.Regexp {
	prefixes := make([]string, 0, len(detect.AllTypes()))
	for _, t := range detect.AllTypes() {
		prefixes = append(prefixes, t.Prefix())
	}
	sort.Slice(prefixes, func(i, j int) bool { return len(prefixes[i]) > len(prefixes[j]) })
	return regexp.MustCompile(`\b(` + strings.Join(prefixes, "|") + `)([1-9][0-9]*)\b`)
}

// ParseToken parses a rendered token back into a Placeholder.
func ParseToken(token string) (Placeholder, bool) {
	m := tokenRegexp.FindStringSubmatch(token)
	if m == nil || m[0] != token {
		return Placeholder{}, false
	}
	entityType, ok := detect.TypeForPrefix(m[1])
	if !ok {
		return Placeholder{}, false
	}
	n, err := strconv.Atoi(m[2])
	if err != nil {
		return Placeholder{}, false
	}
	return Placeholder{Type: entityType, Index: n}, true
}

// findReservedToken returns the first placeholder-shaped token in text that
// is not fully covered by one of the given half-open ranges, or "" if none.
// Used to reject documents whose natural text would collide with tokens the
// masker is about to introduce.
func findReservedToken(text string, covered [][2]int) string {
	for _, loc := range tokenRegexp.FindAllStringIndex(text, -1) {
		inside := false
		for _, r := range covered {
			if loc[0] >= r[0] && loc[1] <= r[1] {
				inside = true
				break
			}
		}
		if !inside {
			return text[loc[0]:loc[1]]
		}
	}
	return ""
}

func (p Placeholder) String() string {
	return fmt.Sprintf("%s(%s)", p.Token(), p.Type)
}
