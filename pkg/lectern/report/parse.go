package report

import (
	"regexp"
	"strings"
)

// extraction is one way of pulling chart code out of a model reply.
// ok is false when the strategy does not apply.
type extraction func(response string) (summary, code string, ok bool)

var (
	taggedFence = regexp.MustCompile("(?s)```(?:python|py)[ \t]*\r?\n(.*?)```")
	anyFence    = regexp.MustCompile("(?s)```[A-Za-z0-9_+-]*[ \t]*\r?\n(.*?)```")
	importToken = regexp.MustCompile(`\bimport\s+\w`)
)

// extractionStrategies are tried in order; the last one always applies.
var extractionStrategies = []extraction{
	fenceStrategy(taggedFence),
	fenceStrategy(anyFence),
	lastParagraphStrategy,
	noCodeStrategy,
}

func fenceStrategy(re *regexp.Regexp) extraction {
	return func(response string) (string, string, bool) {
		loc := re.FindStringSubmatchIndex(response)
		if loc == nil {
			return "", "", false
		}
		code := strings.TrimSpace(response[loc[2]:loc[3]])
		return response[:loc[0]], code, true
	}
}

// lastParagraphStrategy treats the final blank-line separated paragraph as
// code when it contains an import statement.
func lastParagraphStrategy(response string) (string, string, bool) {
	parts := strings.Split(response, "\n\n")
	if len(parts) < 2 {
		return "", "", false
	}
	last := parts[len(parts)-1]
	if !importToken.MatchString(last) {
		return "", "", false
	}
	return strings.Join(parts[:len(parts)-1], "\n\n"), strings.TrimSpace(last), true
}

func noCodeStrategy(response string) (string, string, bool) {
	return response, "", true
}

var (
	headingMarker = regexp.MustCompile(`(?m)^#+\s*`)
	excessBlank   = regexp.MustCompile(`\n\s*\n\s*\n+`)
	starsOnly     = regexp.MustCompile(`(?m)^[ \t]*\*+[ \t]*$`)

	// chartBoilerplate announces the code section and has no place in the
	// printed summary.
	chartBoilerplate = []*regexp.Regexp{
		regexp.MustCompile(`(?im)Часть\s*\d+\.?\s*Задание\s*на\s*генерацию\s*кода\s*для\s*диаграммы\.?\s*\n?`),
		regexp.MustCompile(`(?im)Часть\s*\d+\.?\s*Код\s*(?:для\s*)?круговой\s*диаграммы\.?\s*\n?`),
		regexp.MustCompile(`(?im)Часть\s*\d+\.?\s*Код.*?диаграмм.*?(?:\n|$)`),
		regexp.MustCompile(`(?im)Задание\s*на\s*генерацию\s*кода\s*для\s*диаграммы\.?\s*\n?`),
		regexp.MustCompile(`(?im)Код\s*(?:для\s*)?круговой\s*диаграммы\.?\s*\n?`),
		regexp.MustCompile(`(?im)^Часть\s*\d+\.?\s*.*?(?:код|диаграмм|chart|code).*?(?:\n|$)`),
		regexp.MustCompile(`(?im)^Part\s*\d+\.?\s*.*?(?:code|chart).*?(?:\n|$)`),
	}
)

// ParseResponse splits a model reply into the summary text and the chart
// code. It never fails: without recognizable code, code is empty.
func ParseResponse(response string) (summary, code string) {
	for _, strategy := range extractionStrategies {
		if s, c, ok := strategy(response); ok {
			summary, code = s, c
			break
		}
	}
	return cleanSummary(summary), code
}

func cleanSummary(summary string) string {
	summary = strings.TrimSpace(summary)
	summary = headingMarker.ReplaceAllString(summary, "")
	for _, re := range chartBoilerplate {
		summary = re.ReplaceAllString(summary, "")
	}
	summary = starsOnly.ReplaceAllString(summary, "")
	summary = excessBlank.ReplaceAllString(summary, "\n\n")
	return strings.TrimSpace(summary)
}
