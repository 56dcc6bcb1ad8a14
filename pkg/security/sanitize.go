// Package security provides the input-scrubbing helpers used by the HTTP
// middleware chain. Parameterized queries remain the real defense against
// injection; these helpers keep the obvious payloads out of logs and
// free-text columns.
package security

import (
	"html"
	"regexp"
	"strings"
	"unicode"
)

var (
	sqlPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(union\s+select|insert\s+into|delete\s+from|drop\s+table|update\s+.*set)`),
		regexp.MustCompile(`(?i)(exec\s*\(|execute\s*\(|script\s*>|javascript:)`),
	}

	xssPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)<script[^>]*>.*?</script>`),
		regexp.MustCompile(`(?i)<iframe[^>]*>.*?</iframe>`),
		regexp.MustCompile(`(?i)on\w+\s*=`),
		regexp.MustCompile(`(?i)javascript:`),
		regexp.MustCompile(`(?i)<embed[^>]*>`),
		regexp.MustCompile(`(?i)<object[^>]*>`),
	}

	htmlTags  = regexp.MustCompile(`<[^>]*>`)
	spaceRuns = regexp.MustCompile(`\s+`)
	phoneJunk = regexp.MustCompile(`[^\d+]`)
)

// SanitizeString trims the input and drops null bytes and control characters.
// Newlines and tabs survive so multi-line notes stay readable.
func SanitizeString(input string) string {
	input = strings.TrimSpace(input)
	input = strings.ReplaceAll(input, "\x00", "")
	return stripControl(input)
}

// SanitizeForSQL removes common injection fragments from free-text values.
func SanitizeForSQL(input string) string {
	input = SanitizeString(input)
	for _, p := range sqlPatterns {
		input = p.ReplaceAllString(input, "")
	}
	return input
}

// SanitizeForXSS strips script vectors and HTML-escapes what remains.
func SanitizeForXSS(input string) string {
	input = SanitizeString(input)
	for _, p := range xssPatterns {
		input = p.ReplaceAllString(input, "")
	}
	return html.EscapeString(input)
}

// SanitizePhone drops everything except digits and plus signs, normalizing
// the separators clients commonly type.
func SanitizePhone(phone string) string {
	return phoneJunk.ReplaceAllString(phone, "")
}

// StripHTMLTags removes markup, leaving the text content.
func StripHTMLTags(input string) string {
	return htmlTags.ReplaceAllString(input, "")
}

// SanitizeInput runs the full scrub pipeline and truncates the result when
// maxLength is positive.
func SanitizeInput(input string, maxLength int) string {
	input = SanitizeForSQL(SanitizeForXSS(input))
	input = strings.TrimSpace(spaceRuns.ReplaceAllString(input, " "))
	if maxLength > 0 && len(input) > maxLength {
		input = input[:maxLength]
	}
	return input
}

func stripControl(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsPrint(r) || r == '\n' || r == '\t' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
