// Package timecode converts the loosely formatted cue timestamps found in
// lyric transcripts into canonical seconds and back.
//
// Accepted shapes are plain seconds ("83", "83.4"), minutes:seconds ("1:23",
// "1:23.45") and hours:minutes:seconds ("1:02:03", "1:02:03.5"). [Parse] is
// total: anything it cannot read degrades to 0 instead of returning an error,
// because a single malformed cue must never take down playback sync.
package timecode

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// separator splits clock components.
const separator = ":"

// Parse returns the number of seconds described by v.
//
// Rules:
//   - empty or whitespace-only input yields 0
//   - no separator: plain, possibly fractional, seconds
//   - one separator: minutes:seconds
//   - two separators: hours:minutes:seconds
//   - any other separator count yields 0
//
// A component that is not a plain decimal number counts as 0 without
// invalidating the other components. The seconds component may carry a fraction. Results are never
// negative.
func Parse(v string) float64 {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}

	parts := strings.Split(v, separator)
	var seconds float64
	switch len(parts) {
	case 1:
		seconds = component(parts[0])
	case 2:
		seconds = component(parts[0])*60 + component(parts[1])
	case 3:
		seconds = component(parts[0])*3600 + component(parts[1])*60 + component(parts[2])
	default:
		return 0
	}

	if seconds < 0 || math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		return 0
	}
	return seconds
}

// component parses one clock field: decimal digits with an optional
// fractional part. Signs, exponents and anything else make the field 0.
func component(s string) float64 {
	s = strings.TrimSpace(s)
	if !isDecimal(s) {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}

// isDecimal reports whether s matches digits[.digits] with at least one digit.
func isDecimal(s string) bool {
	digits, dot := 0, false
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case r == '.' && !dot:
			dot = true
		default:
			return false
		}
	}
	return digits > 0
}

// FormatClock renders whole seconds as "M:SS", or "H:MM:SS" from one hour on.
// Negative input is treated as 0. Parse(FormatClock(s)) == s for every s >= 0.
func FormatClock(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	h := seconds / 3600
	m := (seconds % 3600) / 60
	s := seconds % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}

// FormatTenths renders seconds as "M:SS.d" with tenth-of-a-second precision,
// the cue format produced by the transcription stage. Minutes are not folded
// into hours, so long tracks yield e.g. "75:12.3".
func FormatTenths(seconds float64) string {
	if seconds < 0 || math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		seconds = 0
	}
	tenths := int64(math.Round(seconds * 10))
	m := tenths / 600
	rem := float64(tenths-m*600) / 10
	return fmt.Sprintf("%d:%04.1f", m, rem)
}
