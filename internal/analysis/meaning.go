package analysis

import (
	"context"
	"fmt"
	"strings"

	"github.com/MrWong99/sinfonia/internal/observe"
	"github.com/MrWong99/sinfonia/pkg/lyrics"
)

const meaningSystemPrompt = `You are an expert musicologist and linguist.

Read the song lyrics and explain what the song is about. Write every field in %s.

Respond with ONLY a JSON object in this exact format (no markdown, no prose):
{
  "sentiment": "<predominant emotion in one or two words>",
  "emoji": "<a single emoji capturing the vibe>",
  "summary": "<two or three sentences on the meaning of the song>",
  "context": "<cultural or historical context, or an empty string>",
  "metaphors": [
    {"text": "<figurative phrase quoted from the lyrics>", "explanation": "<what it means>"}
  ]
}`

// interpret asks the model for the meaning card of the lyrics.
func (p *Pipeline) interpret(ctx context.Context, original []lyrics.Line, lang string) (lyrics.Meaning, error) {
	var sb strings.Builder
	for _, l := range original {
		sb.WriteString(l.Text)
		sb.WriteByte('\n')
	}

	content, err := p.complete(ctx, observe.SpanInterpret, fmt.Sprintf(meaningSystemPrompt, lang), sb.String())
	if err != nil {
		return lyrics.Meaning{}, err
	}

	var m lyrics.Meaning
	if err := decodeObject(content, &m); err != nil {
		return lyrics.Meaning{}, err
	}
	kept := make([]lyrics.Metaphor, 0, len(m.Metaphors))
	for _, mp := range m.Metaphors {
		if strings.TrimSpace(mp.Text) != "" {
			kept = append(kept, mp)
		}
	}
	m.Metaphors = kept
	return m, nil
}
