package types

import (
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// ISO-8601 rendering and parsing are inverse on non-negative durations.
func TestDurationRoundTripProperty(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("ParseISODuration(FormatISODuration(s)) == s", prop.ForAll(
		func(s int) bool {
			return ParseISODuration(FormatISODuration(s)) == s
		},
		gen.IntRange(0, 100*3600),
	))

	properties.Property("FormatDuration uses hours only at or above 3600", prop.ForAll(
		func(s int) bool {
			parts := strings.Count(FormatDuration(s), ":")
			if s >= 3600 {
				return parts == 2
			}
			return parts == 1
		},
		gen.IntRange(0, 100*3600),
	))

	properties.TestingRun(t)
}
