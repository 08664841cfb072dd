// Package render turns processed document text back into output bytes.
//
// Rendering is the inverse of layout extraction: the extractor decides how a
// source document becomes text, the renderer decides how text becomes an
// output document. Only the plain-text renderer ships; richer formats plug
// in behind the Renderer interface.
package render

import (
	"fmt"
	"unicode/utf8"
)

// Renderer produces output document bytes from processed text.
type Renderer interface {
	// Render encodes the text as an output document. The text uses LF line
	// endings, matching the layout extractor's convention.
	Render(text string) ([]byte, error)

	// ContentType reports the MIME type of rendered output.
	ContentType() string
}

// TextRenderer emits the text verbatim as UTF-8 plain text.
type TextRenderer struct{}

func NewText() *TextRenderer { return &TextRenderer{} }

func (*TextRenderer) Render(text string) ([]byte, error) {
	if !utf8.ValidString(text) {
		return nil, fmt.Errorf("render: text is not valid UTF-8")
	}
	return []byte(text), nil
}

func (*TextRenderer) ContentType() string { return "text/plain; charset=utf-8" }
