package stt

import (
	"strings"
	"time"
)

// Transcript is the result of one transcription.
type Transcript struct {
	// Text is the full transcript text.
	Text string

	// Language is the detected or requested language.
	Language string

	// Duration is the audio length, when the backend reports it.
	Duration time.Duration

	Segments []Segment
}

// Segment is one utterance as segmented by the backend.
type Segment struct {
	Text  string
	Start time.Duration
	End   time.Duration

	// Words is empty when the backend produced no word timing for the
	// segment.
	Words []Word
}

// Word is a single recognised word with its timing.
type Word struct {
	// Text is the word with surrounding whitespace removed.
	Text  string
	Start time.Duration
	End   time.Duration

	// Probability is the backend's confidence in [0, 1], or 0 if unknown.
	Probability float64
}

// CueStart returns the start of the first word, or the segment start when
// the segment has no words.
func (s Segment) CueStart() time.Duration {
	if len(s.Words) > 0 {
		return s.Words[0].Start
	}
	return s.Start
}

// TrimmedText returns the segment text without surrounding whitespace.
func (s Segment) TrimmedText() string {
	return strings.TrimSpace(s.Text)
}
