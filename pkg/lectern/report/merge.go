package report

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/sourcegraph/conc/iter"

	"github.com/jholhewres/lectern/pkg/lectern/document"
)

// MergeSources reads every .docx source in parallel and concatenates them
// in request order, each under a "--- <name> ---" header.
func MergeSources(paths []string) (string, error) {
	sections, err := iter.MapErr(paths, func(path *string) (string, error) {
		return readSection(*path)
	})
	if err != nil {
		var re *ReadError
		if errors.As(err, &re) {
			return "", re
		}
		return "", err
	}
	return strings.Join(sections, "\n\n"), nil
}

func readSection(path string) (string, error) {
	if !strings.EqualFold(filepath.Ext(path), ".docx") {
		return "", &ReadError{Path: path, Err: fmt.Errorf("%w: want .docx", document.ErrUnsupportedFormat)}
	}
	doc, err := document.ReadDOCX(path)
	if err != nil {
		return "", &ReadError{Path: path, Err: err}
	}
	text := strings.Join(doc.NonEmptyParagraphs(), "\n")
	return fmt.Sprintf("--- %s ---\n%s", filepath.Base(path), text), nil
}
