package extract

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
)

// maxPartBytes caps how much decompressed XML is read from a single package part.
const maxPartBytes = 64 << 20

const docxBodyPart = "word/document.xml"

var errNoSlides = errors.New("presentation contains no slides")

func extractDOCX(data []byte) (string, error) {
	archive, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}

	for _, f := range archive.File {
		if f.Name == docxBodyPart {
			return readPartText(f)
		}
	}
	return "", fmt.Errorf("missing %s", docxBodyPart)
}

func extractPPTX(data []byte) (string, error) {
	archive, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}

	type slide struct {
		index int
		file  *zip.File
	}
	var slides []slide
	for _, f := range archive.File {
		if idx, ok := slideIndex(f.Name); ok {
			slides = append(slides, slide{index: idx, file: f})
		}
	}
	if len(slides) == 0 {
		return "", errNoSlides
	}
	// Zip order is arbitrary and slide10 sorts before slide2 lexically.
	sort.Slice(slides, func(i, j int) bool { return slides[i].index < slides[j].index })

	texts := make([]string, 0, len(slides))
	for _, s := range slides {
		text, err := readPartText(s.file)
		if err != nil {
			return "", fmt.Errorf("slide %d: %w", s.index, err)
		}
		if text = strings.TrimSpace(text); text != "" {
			texts = append(texts, text)
		}
	}
	return strings.Join(texts, "\n\n"), nil
}

func slideIndex(name string) (int, bool) {
	const prefix, suffix = "ppt/slides/slide", ".xml"
	if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, suffix) {
		return 0, false
	}
	idx, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, prefix), suffix))
	if err != nil {
		return 0, false
	}
	return idx, true
}

func readPartText(f *zip.File) (string, error) {
	rc, err := f.Open()
	if err != nil {
		return "", err
	}
	defer rc.Close()
	return collectRuns(io.LimitReader(rc, maxPartBytes))
}

// collectRuns walks WordprocessingML or DrawingML and keeps the text runs (<w:t>, <a:t>),
// turning paragraphs, breaks and tabs into whitespace.
func collectRuns(r io.Reader) (string, error) {
	decoder := xml.NewDecoder(r)
	var (
		b      strings.Builder
		inText bool
	)
	for {
		tok, err := decoder.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", err
		}

		switch el := tok.(type) {
		case xml.StartElement:
			switch el.Name.Local {
			case "t":
				inText = true
			case "tab":
				b.WriteString("\t")
			case "br", "cr":
				b.WriteString("\n")
			}
		case xml.EndElement:
			switch el.Name.Local {
			case "t":
				inText = false
			case "p":
				b.WriteString("\n")
			}
		case xml.CharData:
			if inText {
				b.Write(el)
			}
		}
	}
	return b.String(), nil
}
