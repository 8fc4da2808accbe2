// Package trigger decides whether a chat message is addressed to the bot
// by one of its names and extracts the question that follows the name.
package trigger

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// DefaultNames are the names the audience uses to call the assistant.
var DefaultNames = []string{
	"Гигачат", "гигачат",
	"Гига", "гига",
	"Gigachat", "gigachat",
	"Giga", "giga",
	"ассистент",
}

// trailingPunctuation is trimmed from the first token before matching.
const trailingPunctuation = ".,!?;:"

// Detector matches the first word of a message against a set of names.
type Detector struct {
	plain map[string]bool
	bare  map[string]bool
	names []string
}

// New creates a detector for the given names. Names are matched
// case-insensitively; "@handle" names also match tokens written with "@".
func New(names ...string) *Detector {
	d := &Detector{
		plain: make(map[string]bool, len(names)),
		bare:  make(map[string]bool, len(names)),
	}
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		d.names = append(d.names, n)
		d.plain[normalize(n)] = true
		d.bare[normalize(strings.TrimPrefix(n, "@"))] = true
	}
	return d
}

// Names returns the configured names in registration order.
func (d *Detector) Names() []string {
	return append([]string(nil), d.names...)
}

// Detect reports whether text starts with one of the bot's names. When it
// does, remainder is the rest of the message with leading commas and
// spaces removed (possibly empty).
func (d *Detector) Detect(text string) (addressed bool, remainder string) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return false, ""
	}

	first := normalize(strings.TrimRight(fields[0], trailingPunctuation))
	switch {
	case d.plain[first]:
	case strings.HasPrefix(first, "@") && d.bare[strings.TrimPrefix(first, "@")]:
	default:
		return false, ""
	}

	rest := strings.Join(fields[1:], " ")
	return true, strings.TrimLeft(rest, ", ")
}

func normalize(s string) string {
	return strings.ToLower(norm.NFKC.String(s))
}
