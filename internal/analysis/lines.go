package analysis

import (
	"strings"

	"github.com/MrWong99/sinfonia/pkg/lyrics"
	"github.com/MrWong99/sinfonia/pkg/lyrics/timecode"
	"github.com/MrWong99/sinfonia/pkg/provider/stt"
)

// BuildLines converts transcript segments into lyric lines. A line's time is
// its first word's start, or the segment start when it has no words. Blank
// words are dropped, and segments with neither text nor words are skipped.
func BuildLines(tr *stt.Transcript) []lyrics.Line {
	if tr == nil {
		return nil
	}
	lines := make([]lyrics.Line, 0, len(tr.Segments))
	for _, seg := range tr.Segments {
		words := make([]lyrics.Word, 0, len(seg.Words))
		for _, w := range seg.Words {
			text := strings.TrimSpace(w.Text)
			if text == "" {
				continue
			}
			words = append(words, lyrics.Word{
				Text:      text,
				StartTime: lyrics.TimestampText(timecode.FormatTenths(w.Start.Seconds())),
				EndTime:   lyrics.TimestampText(timecode.FormatTenths(w.End.Seconds())),
			})
		}

		text := seg.TrimmedText()
		if text == "" && len(words) > 0 {
			parts := make([]string, len(words))
			for i, w := range words {
				parts[i] = w.Text
			}
			text = strings.Join(parts, " ")
		}
		if text == "" {
			continue
		}

		line := lyrics.Line{Text: text}
		if len(words) > 0 {
			line.Time = words[0].StartTime
			line.Words = words
		} else {
			line.Time = lyrics.TimestampText(timecode.FormatTenths(seg.Start.Seconds()))
		}
		lines = append(lines, line)
	}
	return lines
}
