package activation

import "github.com/MrWong99/sinfonia/pkg/lyrics"

// Timeline caches the parsed cues of a transcript so that per-frame
// resolution does not re-parse timestamp text. It resolves with exactly the
// same policy as [Resolve]. A Timeline is immutable and safe for concurrent
// use.
type Timeline struct {
	lines [][]float64 // per line: word start times
	cues  []float64
}

// NewTimeline parses every cue in lines once.
func NewTimeline(lines []lyrics.Line) *Timeline {
	tl := &Timeline{
		lines: make([][]float64, len(lines)),
		cues:  Thresholds(lines),
	}
	for i, l := range lines {
		words := make([]float64, len(l.Words))
		for j, w := range l.Words {
			words[j] = w.StartTime.Seconds()
		}
		tl.lines[i] = words
	}
	return tl
}

// Len returns the number of lines.
func (tl *Timeline) Len() int { return len(tl.cues) }

// Cue returns the activation cue of line i in seconds.
func (tl *Timeline) Cue(i int) float64 { return tl.cues[i] }

// Resolve returns the activation state at time now.
func (tl *Timeline) Resolve(now float64) State {
	line := lastAtOrBefore(len(tl.cues), func(i int) float64 { return tl.cues[i] }, now)
	if line < 0 {
		return None
	}
	words := tl.lines[line]
	return State{
		Line: line,
		Word: lastAtOrBefore(len(words), func(j int) float64 { return words[j] }, now),
	}
}
