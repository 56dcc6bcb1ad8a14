package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeStringStripsControlCharacters(t *testing.T) {
	assert.Equal(t, "hello", SanitizeString("  hello  "))
	assert.Equal(t, "ab", SanitizeString("a\x00b"))
	assert.Equal(t, "line1\nline2", SanitizeString("line1\nline2"))
	assert.Equal(t, "ab", SanitizeString("a\x07b"))
}

func TestSanitizeForXSSRemovesScriptTags(t *testing.T) {
	got := SanitizeForXSS(`<script>alert("x")</script>hi`)
	assert.NotContains(t, got, "<script>")
	assert.Contains(t, got, "hi")

	got = SanitizeForXSS(`<img onerror=alert(1)>`)
	assert.NotContains(t, got, "onerror=")
}

func TestSanitizeForSQLStripsInjectionFragments(t *testing.T) {
	got := SanitizeForSQL("name UNION SELECT * FROM drivers")
	assert.NotContains(t, got, "UNION SELECT")
}

func TestSanitizePhone(t *testing.T) {
	assert.Equal(t, "+919876543210", SanitizePhone("+91 98765 43210"))
	assert.Equal(t, "919876543210", SanitizePhone("91-98765-43210"))
}

func TestStripHTMLTags(t *testing.T) {
	assert.Equal(t, "plain text", StripHTMLTags("<b>plain</b> <i>text</i>"))
}

func TestSanitizeInputTruncates(t *testing.T) {
	got := SanitizeInput("  some   long    note  ", 9)
	assert.Equal(t, "some long", got)
}
