package study

import (
	"strings"
	"unicode/utf8"
)

// PastedLabel tags text typed or pasted directly by the user.
const PastedLabel = "--- Pasted Notes ---"

// FileInput is one uploaded document after transport decoding.
type FileInput struct {
	FileName     string
	DeclaredType string
	Data         []byte
}

// Fragment is one labelled piece of aggregated content.
type Fragment struct {
	SourceLabel string `json:"sourceLabel"`
	Text        string `json:"text"`
}

// SkippedFile reports a file that contributed no text to the session.
type SkippedFile struct {
	FileName string `json:"fileName"`
	Reason   string `json:"reason"`
}

// Aggregated is the ordered result of merging every input of one ingestion request.
type Aggregated struct {
	Fragments []Fragment
}

// FileLabel returns the source label used for an uploaded file.
func FileLabel(fileName string) string {
	return "--- File: " + fileName + " ---"
}

// Flatten joins the fragments in order, each prefixed with its label.
func (a Aggregated) Flatten() string {
	var b strings.Builder
	for _, f := range a.Fragments {
		b.WriteString(f.SourceLabel)
		b.WriteString("\n")
		b.WriteString(f.Text)
		b.WriteString("\n\n")
	}
	return b.String()
}

// Body joins fragment texts without labels. It is what the length gate measures.
func (a Aggregated) Body() string {
	parts := make([]string, 0, len(a.Fragments))
	for _, f := range a.Fragments {
		if text := strings.TrimSpace(f.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, "\n")
}

// Preview returns the first n runes of s, or s itself when it is shorter.
func Preview(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
