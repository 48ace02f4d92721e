// Package extract turns uploaded document bytes into plain text.
package extract

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrMalformed marks a document whose bytes could not be parsed.
var ErrMalformed = errors.New("extract: malformed document")

// Category is the document family selected from a declared content type.
type Category string

const (
	CategoryPDF          Category = "pdf"
	CategoryWord         Category = "docx"
	CategoryPresentation Category = "pptx"
	CategoryUnsupported  Category = "unsupported"
)

const (
	wordMIMEFragment         = "officedocument.wordprocessingml.document"
	presentationMIMEFragment = "officedocument.presentationml.presentation"
)

// Classify picks the category from the declared MIME type only; file extensions are ignored.
func Classify(declaredType string) Category {
	normalized := strings.ToLower(strings.TrimSpace(declaredType))
	switch {
	case strings.Contains(normalized, "pdf"):
		return CategoryPDF
	case strings.Contains(normalized, wordMIMEFragment):
		return CategoryWord
	case strings.Contains(normalized, presentationMIMEFragment):
		return CategoryPresentation
	default:
		return CategoryUnsupported
	}
}

// Extractor dispatches to the parser for each category. It is stateless and safe for
// concurrent use.
type Extractor struct{}

// New returns an Extractor.
func New() *Extractor {
	return &Extractor{}
}

// Extract returns the text content of data. Unsupported types yield "" and a nil error;
// unparsable documents yield "" and an error wrapping ErrMalformed.
func (e *Extractor) Extract(ctx context.Context, data []byte, declaredType string) (text string, err error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	category := Classify(declaredType)
	if category == CategoryUnsupported {
		return "", nil
	}

	// Third-party parsers panic on some truncated inputs.
	defer func() {
		if r := recover(); r != nil {
			text = ""
			err = fmt.Errorf("%w: %s parser panic: %v", ErrMalformed, category, r)
		}
	}()

	switch category {
	case CategoryPDF:
		text, err = extractPDF(data)
	case CategoryWord:
		text, err = extractDOCX(data)
	case CategoryPresentation:
		text, err = extractPPTX(data)
	}
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrMalformed, category, err)
	}
	return strings.TrimSpace(text), nil
}
