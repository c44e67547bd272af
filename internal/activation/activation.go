// Package activation resolves which transcript line, and which word inside
// it, is active at a given playback position.
//
// The policy is a reverse scan: walking from the last line to the first, the
// first line whose cue is at or before the current time wins. A line's cue is
// the start time of its first word when word timing exists, otherwise the line
// time. Cues are taken exactly as observed in the source data; no lookahead,
// offset, or minimum clamp is applied, so a line never activates before its
// cue.
//
// Everything here is a pure function of its inputs.
package activation

import "github.com/MrWong99/sinfonia/pkg/lyrics"

// State identifies the active line and word. -1 means none.
type State struct {
	Line int
	Word int
}

// None is the state before playback reaches the first cue.
var None = State{Line: -1, Word: -1}

// Active reports whether a line is active.
func (s State) Active() bool { return s.Line >= 0 }

// Equal reports whether s and other name the same line and word.
func (s State) Equal(other State) bool { return s == other }

// LineChanged reports whether s and other name different lines.
func (s State) LineChanged(other State) bool { return s.Line != other.Line }

// Resolve returns the activation state for lines at time now (seconds).
func Resolve(lines []lyrics.Line, now float64) State {
	line := lastAtOrBefore(len(lines), func(i int) float64 {
		return lines[i].Cue().Seconds()
	}, now)
	if line < 0 {
		return None
	}
	return State{Line: line, Word: resolveWord(lines[line].Words, now)}
}

// ResolveLine returns only the active line index for lines at time now.
func ResolveLine(lines []lyrics.Line, now float64) int {
	return Resolve(lines, now).Line
}

// Thresholds returns the activation cue of every line in seconds.
func Thresholds(lines []lyrics.Line) []float64 {
	out := make([]float64, len(lines))
	for i, l := range lines {
		out[i] = l.Cue().Seconds()
	}
	return out
}

// resolveWord applies the line policy to the words of a single line.
func resolveWord(words []lyrics.Word, now float64) int {
	return lastAtOrBefore(len(words), func(i int) float64 {
		return words[i].StartTime.Seconds()
	}, now)
}

// lastAtOrBefore scans indices n-1..0 and returns the first whose cue is
// <= now, or -1.
func lastAtOrBefore(n int, cue func(int) float64, now float64) int {
	for i := n - 1; i >= 0; i-- {
		if cue(i) <= now {
			return i
		}
	}
	return -1
}
