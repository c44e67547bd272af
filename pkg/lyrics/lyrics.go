// Package lyrics defines the transcript model shared by the analysis backend,
// the sync engine, and the HTTP surface.
//
// An [Analysis] carries the original lyric lines, a translation paired 1:1 by
// index with the original, and a short interpretation of the song. Lines and
// words carry cue timestamps as [TimestampText], the loosely formatted value
// produced upstream; [TimestampText.Seconds] is the single normalisation point
// into canonical seconds.
//
// All types are immutable once a transcript has been received: no component
// of the sync engine mutates them.
package lyrics

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/MrWong99/sinfonia/pkg/lyrics/timecode"
)

// ErrUnpaired is returned by [Analysis.Validate] when the translation does not
// pair 1:1 with the original lyrics.
var ErrUnpaired = errors.New("lyrics: translation is not paired with original lyrics")

// TimestampText is a cue timestamp in one of the shapes accepted by
// [timecode.Parse]. When decoded from JSON it accepts a string, a number, or
// null (which leaves it empty).
type TimestampText string

// Seconds returns the canonical seconds value of t. Malformed values yield 0.
func (t TimestampText) Seconds() float64 {
	return timecode.Parse(string(t))
}

// IsZero reports whether t carries no value.
func (t TimestampText) IsZero() bool {
	return strings.TrimSpace(string(t)) == ""
}

// UnmarshalJSON implements [json.Unmarshaler].
func (t *TimestampText) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0, bytes.Equal(data, []byte("null")):
		*t = ""
		return nil
	case data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("lyrics: decode timestamp: %w", err)
		}
		*t = TimestampText(s)
		return nil
	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("lyrics: decode timestamp %s: %w", data, err)
		}
		// Numbers are stored as plain decimals; exponent notation is not a
		// timestamp shape.
		f, err := n.Float64()
		if err != nil {
			return fmt.Errorf("lyrics: decode timestamp %s: %w", data, err)
		}
		*t = TimestampText(strconv.FormatFloat(f, 'f', -1, 64))
		return nil
	}
}

// Word is a single timed word inside a [Line].
type Word struct {
	// Text is the word as sung.
	Text string `json:"word"`

	// StartTime is the cue at which this word begins.
	StartTime TimestampText `json:"start_time"`

	// EndTime is when the last phoneme of the word ends. Optional.
	EndTime TimestampText `json:"end_time,omitempty"`
}

// UnmarshalJSON accepts both "word" and "text" as the word text key.
func (w *Word) UnmarshalJSON(data []byte) error {
	var raw struct {
		Word      *string       `json:"word"`
		Text      *string       `json:"text"`
		StartTime TimestampText `json:"start_time"`
		EndTime   TimestampText `json:"end_time"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*w = Word{StartTime: raw.StartTime, EndTime: raw.EndTime}
	switch {
	case raw.Word != nil:
		w.Text = *raw.Word
	case raw.Text != nil:
		w.Text = *raw.Text
	}
	return nil
}

// Line is one transcript line. Words is optional; when present the first
// word's start time is the authoritative cue for the whole line.
type Line struct {
	Time  TimestampText `json:"time"`
	Text  string        `json:"text"`
	Words []Word        `json:"words,omitempty"`
}

// HasWords reports whether the line carries word-level timing.
func (l Line) HasWords() bool {
	return len(l.Words) > 0
}

// Cue returns the timestamp at which the line becomes active: the first
// word's start time when word timing exists, otherwise the line time.
func (l Line) Cue() TimestampText {
	if l.HasWords() {
		return l.Words[0].StartTime
	}
	return l.Time
}

// Metaphor is a figurative phrase found in the lyrics.
type Metaphor struct {
	Text        string `json:"text"`
	Explanation string `json:"explanation"`
}

// Meaning is the interpretation card shown next to the lyrics.
type Meaning struct {
	Sentiment string     `json:"sentiment"`
	Emoji     string     `json:"emoji"`
	Summary   string     `json:"summary"`
	Context   string     `json:"context"`
	Metaphors []Metaphor `json:"metaphors"`
}

// Analysis is the full result of analysing one track.
type Analysis struct {
	// Lyrics holds the original lyric lines in ascending cue order.
	Lyrics []Line `json:"lyrics"`

	// Translation holds the translated lines, index-paired with Lyrics.
	Translation []Line `json:"translation"`

	// Meaning is the song interpretation.
	Meaning Meaning `json:"meaning"`
}

// Validate checks the pairing invariant between Lyrics and Translation.
// An analysis without translation is accepted.
func (a *Analysis) Validate() error {
	if a == nil {
		return errors.New("lyrics: nil analysis")
	}
	if len(a.Translation) != 0 && len(a.Translation) != len(a.Lyrics) {
		return fmt.Errorf("%w: %d original lines, %d translated", ErrUnpaired, len(a.Lyrics), len(a.Translation))
	}
	return nil
}
