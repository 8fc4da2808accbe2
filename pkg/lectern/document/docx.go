package document

import (
	"archive/zip"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

// Document is the text content of a DOCX file.
type Document struct {
	// Paragraphs are the body-level paragraphs in order, empty ones included.
	Paragraphs []string

	// Cells holds the text of every cell of the top-level tables, row by row.
	// A cell with several paragraphs is newline-joined.
	Cells []string
}

// Text joins paragraphs and then cells with newlines.
func (d *Document) Text() string {
	parts := make([]string, 0, len(d.Paragraphs)+len(d.Cells))
	parts = append(parts, d.Paragraphs...)
	parts = append(parts, d.Cells...)
	return strings.Join(parts, "\n")
}

// NonEmptyParagraphs returns the paragraphs that contain visible text.
func (d *Document) NonEmptyParagraphs() []string {
	var out []string
	for _, p := range d.Paragraphs {
		if strings.TrimSpace(p) != "" {
			out = append(out, p)
		}
	}
	return out
}

// ReadDOCX extracts paragraphs and table cells from word/document.xml.
func ReadDOCX(path string) (*Document, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("opening docx: %w", err)
	}
	defer zr.Close()

	for _, f := range zr.File {
		if f.Name != "word/document.xml" {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("opening document.xml: %w", err)
		}
		defer rc.Close()
		return parseDocumentXML(rc)
	}
	return nil, fmt.Errorf("word/document.xml missing")
}

// parseDocumentXML walks the WordprocessingML token stream. Only paragraphs
// that are direct children of <w:body> or of a table cell are collected;
// text boxes and other nested content are skipped.
func parseDocumentXML(r io.Reader) (*Document, error) {
	dec := xml.NewDecoder(r)
	doc := &Document{}

	var (
		stack []string
		paras []*strings.Builder
		cells [][]string
	)
	parent := func() string {
		if len(stack) < 2 {
			return ""
		}
		return stack[len(stack)-2]
	}

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parsing document.xml: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			stack = append(stack, t.Name.Local)
			switch t.Name.Local {
			case "p":
				paras = append(paras, &strings.Builder{})
			case "tc":
				cells = append(cells, nil)
			case "tab":
				if len(paras) > 0 {
					paras[len(paras)-1].WriteByte('\t')
				}
			case "br", "cr":
				if len(paras) > 0 {
					paras[len(paras)-1].WriteByte('\n')
				}
			}

		case xml.CharData:
			if len(stack) > 0 && stack[len(stack)-1] == "t" && len(paras) > 0 {
				paras[len(paras)-1].Write(t)
			}

		case xml.EndElement:
			switch t.Name.Local {
			case "p":
				if len(paras) == 0 {
					break
				}
				text := paras[len(paras)-1].String()
				paras = paras[:len(paras)-1]
				switch parent() {
				case "body":
					doc.Paragraphs = append(doc.Paragraphs, text)
				case "tc":
					if len(cells) > 0 {
						cells[len(cells)-1] = append(cells[len(cells)-1], text)
					}
				}
			case "tc":
				if len(cells) == 0 {
					break
				}
				cell := cells[len(cells)-1]
				cells = cells[:len(cells)-1]
				if len(cells) == 0 {
					doc.Cells = append(doc.Cells, strings.Join(cell, "\n"))
				}
			}
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		}
	}
	return doc, nil
}
