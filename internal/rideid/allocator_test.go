package rideid

import (
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFormat(t *testing.T) {
	tests := []struct {
		name string
		seq  int64
		want string
	}{
		{"first allocation", 1, "RID000001"},
		{"mid range", 4521, "RID004521"},
		{"wrap floor", 100000, "RID100000"},
		{"ceiling", 999999, "RID999999"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Format(tt.seq))
		})
	}
}

func TestFallbackIDShape(t *testing.T) {
	now := time.UnixMilli(1755858123456)
	id := fallbackID(now)

	// RID + six timestamp digits + three random digits.
	assert.Regexp(t, regexp.MustCompile(`^RID123456\d{3}$`), id)
}

func TestFallbackIDUsesLastSixMillisDigits(t *testing.T) {
	id := fallbackID(time.UnixMilli(9000654321))
	assert.Regexp(t, `^RID654321\d{3}$`, id)

	// Small timestamps are zero padded so the shape stays fixed width.
	id = fallbackID(time.UnixMilli(42))
	assert.Regexp(t, `^RID000042\d{3}$`, id)
}
