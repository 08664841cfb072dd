// Package layout models a document as ordered lines of positioned tokens.
//
// A Layout is produced by an Extractor from a binary document. Offsets are
// global byte offsets into the concatenated document text (lines joined with
// a single '\n'), monotonic and non-overlapping across the whole document.
// Everything downstream — detection, merging, masking — works against these
// global offsets.
//
// Only the plain-text extractor ships here. Extractors for binary formats
// (PDF, DOCX) plug in behind the Extractor interface.
package layout

import (
	"errors"
	"sort"
	"strings"
	"unicode"
)

// ErrNoText reports a document with no extractable text. It is client input,
// not a pipeline failure.
var ErrNoText = errors.New("document contains no text")

// Token is a normalized unit of text. Immutable once extracted.
type Token struct {
	Line  int    // index of the containing line
	Start int    // global byte offset, inclusive
	End   int    // global byte offset, exclusive
	Text  string
}

// Line is one ordered row of tokens with its raw text and global extent.
type Line struct {
	Index  int
	Start  int // global offset of the first byte of the line
	End    int // global offset one past the last byte (excludes the '\n')
	Text   string
	Tokens []Token
}

// Layout is the line- and position-structured form of a document.
type Layout struct {
	Lines []Line
}

// Extractor turns a binary document into a Layout.
type Extractor interface {
	Extract(document []byte) (*Layout, error)
}

// FullText returns the concatenated document text the layout was built from:
// line texts joined with single '\n' characters.
func (l *Layout) FullText() string {
	texts := make([]string, len(l.Lines))
	for i, ln := range l.Lines {
		texts[i] = ln.Text
	}
	return strings.Join(texts, "\n")
}

// LineAt returns the index of the line containing the global offset, or -1 if
// the offset falls outside the document. An offset on a '\n' separator
// belongs to the line it terminates.
func (l *Layout) LineAt(offset int) int {
	if offset < 0 || len(l.Lines) == 0 {
		return -1
	}
	i := sort.Search(len(l.Lines), func(i int) bool {
		return l.Lines[i].End >= offset
	})
	if i == len(l.Lines) {
		return -1
	}
	return i
}

// TextExtractor extracts a layout from UTF-8 plain text.
// CRLF line endings are normalized to LF before tokenization.
type TextExtractor struct{}

// Extract splits the document into lines and whitespace-delimited tokens,
// assigning each token its global byte offsets.
func (TextExtractor) Extract(document []byte) (*Layout, error) {
	text := strings.ReplaceAll(string(document), "\r\n", "\n")
	if strings.TrimSpace(text) == "" {
		return nil, ErrNoText
	}

	rawLines := strings.Split(text, "\n")
	layout := &Layout{Lines: make([]Line, 0, len(rawLines))}

	offset := 0
	for i, raw := range rawLines {
		line := Line{
			Index: i,
			Start: offset,
			End:   offset + len(raw),
			Text:  raw,
		}
		line.Tokens = tokenize(raw, i, offset)
		layout.Lines = append(layout.Lines, line)
		offset += len(raw) + 1 // +1 for the '\n' separator
	}
	return layout, nil
}

// tokenize splits one line on whitespace, keeping global offsets.
func tokenize(line string, lineIndex, lineStart int) []Token {
	var tokens []Token
	start := -1
	for i, r := range line {
		if unicode.IsSpace(r) {
			if start >= 0 {
				tokens = append(tokens, Token{
					Line:  lineIndex,
					Start: lineStart + start,
					End:   lineStart + i,
					Text:  line[start:i],
				})
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		tokens = append(tokens, Token{
			Line:  lineIndex,
			Start: lineStart + start,
			End:   lineStart + len(line),
			Text:  line[start:],
		})
	}
	return tokens
}
