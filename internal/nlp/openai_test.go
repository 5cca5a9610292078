package nlp

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestTruncateTranscript(t *testing.T) {
	short := "a brief meeting"
	assert.Equal(t, short, truncateTranscript(short))

	long := strings.Repeat("x", maxSummaryInput+500) + "recent tail"
	got := truncateTranscript(long)
	assert.LessOrEqual(t, len(got), maxSummaryInput)
	assert.True(t, strings.HasSuffix(got, "recent tail"))
}

func TestTruncateTranscript_MultibyteBoundary(t *testing.T) {
	// The repeating unit is 7 bytes, which does not divide the byte budget,
	// so the naive cut lands inside the 3-byte euro sign and must advance to
	// the next rune boundary.
	long := strings.Repeat("abcd€", maxSummaryInput/7+100)
	got := truncateTranscript(long)

	assert.True(t, utf8.ValidString(got))
	assert.LessOrEqual(t, len(got), maxSummaryInput)
	assert.NotEmpty(t, got)
}
