package analysis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/MrWong99/sinfonia/internal/observe"
	"github.com/MrWong99/sinfonia/pkg/lyrics"
)

const translateSystemPrompt = `You are an expert musicologist and literary translator of song lyrics.

Translate each lyric line into %s. Keep the meaning, tone and imagery of the original; prefer a natural, singable phrasing over a literal one.

Rules:
- Return exactly one translated line per input line, in the same order.
- For every translated word, "source" is the zero-based index of the original word in the same line it corresponds to most closely.
- Do not merge or split lines. Do not add commentary.

Respond with ONLY a JSON object in this exact format (no markdown, no prose):
{
  "lines": [
    {"text": "<translated line>", "words": [{"word": "<translated word>", "source": <original word index>}]}
  ]
}`

type translateInput struct {
	TargetLanguage string          `json:"target_language"`
	Lines          []translateLine `json:"lines"`
}

type translateLine struct {
	Text  string   `json:"text"`
	Words []string `json:"words,omitempty"`
}

type translateOutput struct {
	Lines []struct {
		Text  string `json:"text"`
		Words []struct {
			Word   string `json:"word"`
			Source *int   `json:"source"`
		} `json:"words"`
	} `json:"lines"`
}

// translate asks the model for a translation of original into lang. The
// result may have a different length than original; see [PairTranslation].
func (p *Pipeline) translate(ctx context.Context, original []lyrics.Line, lang string) ([]lyrics.Line, error) {
	in := translateInput{TargetLanguage: lang, Lines: make([]translateLine, len(original))}
	for i, l := range original {
		in.Lines[i].Text = l.Text
		for _, w := range l.Words {
			in.Lines[i].Words = append(in.Lines[i].Words, w.Text)
		}
	}
	user, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("encode input: %w", err)
	}

	content, err := p.complete(ctx, observe.SpanTranslate, fmt.Sprintf(translateSystemPrompt, lang), string(user))
	if err != nil {
		return nil, err
	}

	var out translateOutput
	if err := decodeObject(content, &out); err != nil {
		return nil, err
	}

	lines := make([]lyrics.Line, len(out.Lines))
	for i, ol := range out.Lines {
		lines[i].Text = ol.Text
		if i >= len(original) {
			continue
		}
		src := original[i]
		lines[i].Time = src.Cue()
		for _, w := range ol.Words {
			if w.Word == "" || w.Source == nil || *w.Source < 0 || *w.Source >= len(src.Words) {
				continue
			}
			ow := src.Words[*w.Source]
			lines[i].Words = append(lines[i].Words, lyrics.Word{
				Text:      w.Word,
				StartTime: ow.StartTime,
				EndTime:   ow.EndTime,
			})
		}
	}
	return lines, nil
}

// PairTranslation returns translation trimmed or padded to len(original),
// with every line taking its original's cue time. Padding lines are empty.
func PairTranslation(original, translation []lyrics.Line) []lyrics.Line {
	out := make([]lyrics.Line, len(original))
	for i, o := range original {
		if i < len(translation) {
			out[i] = translation[i]
		}
		out[i].Time = o.Cue()
	}
	return out
}
