package report

import (
	"strings"

	"github.com/jholhewres/lectern/pkg/lectern/document"
)

// Report headings and notices.
const (
	titleText        = "Итоги конференции"
	summaryHeading   = "Краткое содержание:"
	chartHeading     = "Визуализация:"
	noChartHeading   = "Визуализация не создана"
	noChartNotice    = "Не удалось сгенерировать диаграмму по данным конференции."
	chartWidthInches = 6.0
	boldMarker       = "**"
)

// assemble lays out the summary and optional chart as a DOCX document.
// It returns whether the chart was embedded.
func assemble(summary string, chart []byte) (*document.Builder, bool) {
	b := document.NewBuilder()
	b.Title(titleText)
	b.Heading(summaryHeading, 1)

	for _, line := range strings.Split(summary, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if len(trimmed) > 2*len(boldMarker) &&
			strings.HasPrefix(trimmed, boldMarker) && strings.HasSuffix(trimmed, boldMarker) {
			b.Heading(strings.TrimSpace(strings.Trim(trimmed, "*")), 2)
			continue
		}
		b.Paragraph(line)
	}

	if len(chart) > 0 {
		b.Heading(chartHeading, 1)
		if err := b.Picture(chart, chartWidthInches); err == nil {
			return b, true
		}
	}
	b.Heading(noChartHeading, 1)
	b.Paragraph(noChartNotice)
	return b, false
}
