// Package stt defines the speech-to-text provider interface used by the
// analysis pipeline.
//
// Providers transcribe a complete audio file in one request and return
// segments with word-level timing. Segments map to lyric lines; words map to
// the per-word cues the sync engine highlights.
package stt

import "context"

// Request describes one transcription.
type Request struct {
	// AudioPath is the local path of the audio file.
	AudioPath string

	// Filename is the name reported to the backend. Empty means the base name
	// of AudioPath.
	Filename string

	// Language is a BCP-47 hint (e.g. "es"). Empty lets the backend detect it.
	Language string
}

// Provider transcribes audio files.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// Transcribe returns the transcript of req.AudioPath. It blocks until the
	// backend responds or ctx is cancelled.
	Transcribe(ctx context.Context, req Request) (*Transcript, error)
}
