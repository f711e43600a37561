package ui

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestProgressBarCountsFailures(t *testing.T) {
	var buf bytes.Buffer
	p := newProgressBar(&buf, 3, "Enrolling")

	p.Step(nil)
	p.Step(errors.New("boom"))
	p.Step(nil)
	p.Finish()

	assert.Equal(t, 1, p.Failed())
	assert.True(t, p.Elapsed() >= 0)
	assert.NotEmpty(t, buf.String())
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "42s", FormatDuration(42*time.Second))
	assert.Equal(t, "2m 5s", FormatDuration(125*time.Second))
	assert.Equal(t, "1h 30m", FormatDuration(90*time.Minute))
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512 B", FormatBytes(512))
	assert.Equal(t, "1.5 KB", FormatBytes(1536))
	assert.Equal(t, "2.0 MB", FormatBytes(2*1024*1024))
}

func TestFormatPercent(t *testing.T) {
	assert.Equal(t, "85%", FormatPercent(0.85))
	assert.Equal(t, "0%", FormatPercent(0))
}

func TestTruncateString(t *testing.T) {
	assert.Equal(t, "short", TruncateString("short", 10))
	assert.Equal(t, "a long ...", TruncateString("a long display name", 10))
	assert.Equal(t, "ab", TruncateString("abcdef", 2))
}

func TestPadRight(t *testing.T) {
	assert.Equal(t, "ab   ", PadRight("ab", 5))
	assert.Equal(t, "abcdef", PadRight("abcdef", 3))
}
