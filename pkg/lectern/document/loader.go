// Package document loads lecture and conference texts from .txt and .docx
// files and writes the simple DOCX reports the bot hands back to admins.
package document

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrNotFound means the path does not exist.
	ErrNotFound = errors.New("document not found")

	// ErrUnsupportedFormat means the extension is neither .txt nor .docx.
	ErrUnsupportedFormat = errors.New("unsupported document format")
)

// LoadError reports which document failed to load.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Load returns the plain text of a .txt or .docx document. For DOCX the
// top-level paragraphs come first, followed by the text of every table
// cell, all joined with newlines.
func Load(path string) (string, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", &LoadError{Path: path, Err: ErrNotFound}
		}
		return "", &LoadError{Path: path, Err: err}
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt":
		data, err := os.ReadFile(path)
		if err != nil {
			return "", &LoadError{Path: path, Err: err}
		}
		return string(bytes.TrimPrefix(data, utf8BOM)), nil
	case ".docx":
		doc, err := ReadDOCX(path)
		if err != nil {
			return "", &LoadError{Path: path, Err: err}
		}
		return doc.Text(), nil
	default:
		return "", &LoadError{Path: path, Err: ErrUnsupportedFormat}
	}
}
