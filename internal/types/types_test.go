package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		seconds int
		want    string
	}{
		{0, "0:00"},
		{59, "0:59"},
		{60, "1:00"},
		{3599, "59:59"},
		{3600, "1:00:00"},
		{5445, "1:30:45"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatDuration(tt.seconds))
			assert.Equal(t, tt.seconds, ParseISODuration(FormatISODuration(tt.seconds)))
		})
	}
}

func TestParseISODuration(t *testing.T) {
	tests := map[string]int{
		"PT1H30M45S": 5445,
		"PT15M30S":   930,
		"PT3M20S":    200,
		"PT2H":       7200,
		"PT45S":      45,
		"P0D":        0,
		"PT0S":       0,
		"":           0,
		"garbage":    0,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseISODuration(in), in)
	}
}

func TestFormatClock(t *testing.T) {
	assert.Equal(t, "03:20", FormatClock(200))
	assert.Equal(t, "00:59", FormatClock(59))
}

func TestOrigin_IsValid(t *testing.T) {
	assert.True(t, OriginManual.IsValid())
	assert.True(t, OriginPremiereReady.IsValid())
	assert.False(t, Origin("webhook").IsValid())
}

func TestExtractVideoID(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"bare id", "dQw4w9WgXcQ", "dQw4w9WgXcQ"},
		{"watch url", "https://www.youtube.com/watch?v=dQw4w9WgXcQ&t=42", "dQw4w9WgXcQ"},
		{"short link", "https://youtu.be/dQw4w9WgXcQ", "dQw4w9WgXcQ"},
		{"shorts", "https://youtube.com/shorts/dQw4w9WgXcQ", "dQw4w9WgXcQ"},
		{"embed", "https://www.youtube.com/embed/dQw4w9WgXcQ", "dQw4w9WgXcQ"},
		{"live", "https://www.youtube.com/live/dQw4w9WgXcQ", "dQw4w9WgXcQ"},
		{"mobile", "https://m.youtube.com/watch?v=dQw4w9WgXcQ", "dQw4w9WgXcQ"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractVideoID(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtractVideoID_Invalid(t *testing.T) {
	for _, in := range []string{"", "not a url", "https://vimeo.com/12345", "https://www.youtube.com/channel/UC123"} {
		_, err := ExtractVideoID(in)
		assert.Error(t, err, in)
	}
}
