package analysis_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/MrWong99/sinfonia/internal/analysis"
	"github.com/MrWong99/sinfonia/internal/observe"
	"github.com/MrWong99/sinfonia/internal/store"
	"github.com/MrWong99/sinfonia/pkg/lyrics"
	"github.com/MrWong99/sinfonia/pkg/provider/llm"
	llmmock "github.com/MrWong99/sinfonia/pkg/provider/llm/mock"
	"github.com/MrWong99/sinfonia/pkg/provider/stt"
	sttmock "github.com/MrWong99/sinfonia/pkg/provider/stt/mock"
)

func secs(s float64) time.Duration { return time.Duration(s * float64(time.Second)) }

// twoLineTranscript has one word-timed segment and one plain segment.
func twoLineTranscript() *stt.Transcript {
	return &stt.Transcript{
		Language: "es",
		Segments: []stt.Segment{
			{
				Text: " Hola mundo", Start: secs(11.6), End: secs(14),
				Words: []stt.Word{
					{Text: " Hola", Start: secs(12.04), End: secs(12.5)},
					{Text: " mundo", Start: secs(12.6), End: secs(13.4)},
				},
			},
			{Text: " Adiós amor ", Start: secs(65.25), End: secs(68)},
		},
	}
}

const translationReply = "```json\n" + `{
  "lines": [
    {"text": "Hello world", "words": [{"word": "Hello", "source": 0}, {"word": "world", "source": 1}, {"word": "!", "source": 7}]},
    {"text": "Goodbye love"}
  ]
}` + "\n```"

const meaningReply = `Here you go: {
  "sentiment": "nostalgic",
  "emoji": "🌅",
  "summary": "A farewell to a loved one.",
  "context": "",
  "metaphors": [{"text": "mundo", "explanation": "everything"}, {"text": " ", "explanation": "blank"}]
}`

// scriptedLLM answers translation and interpretation prompts.
func scriptedLLM(translation, meaning string) *llmmock.Provider {
	return &llmmock.Provider{
		CompleteFunc: func(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
			if strings.Contains(req.SystemPrompt, "Translate each lyric line") {
				return &llm.CompletionResponse{Content: translation}, nil
			}
			return &llm.CompletionResponse{Content: meaning}, nil
		},
	}
}

func newPipeline(t *testing.T, s stt.Provider, l llm.Provider, opts ...analysis.Option) *analysis.Pipeline {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	p, err := analysis.New(s, l, append([]analysis.Option{analysis.WithMetrics(m)}, opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func TestNew_RequiresProviders(t *testing.T) {
	if _, err := analysis.New(nil, &llmmock.Provider{}); err == nil {
		t.Error("expected error for nil stt provider")
	}
	if _, err := analysis.New(&sttmock.Provider{}, nil); err == nil {
		t.Error("expected error for nil llm provider")
	}
}

func TestAnalyze_InvalidRequest(t *testing.T) {
	p := newPipeline(t, &sttmock.Provider{}, &llmmock.Provider{})
	for _, req := range []analysis.Request{
		{TargetLanguage: "English"},
		{AudioPath: "/tmp/a.mp3", TargetLanguage: "  "},
	} {
		if _, err := p.Analyze(context.Background(), req); !errors.Is(err, analysis.ErrInvalidRequest) {
			t.Errorf("Analyze(%+v) = %v, want ErrInvalidRequest", req, err)
		}
	}
}

func TestAnalyze_FullPipeline(t *testing.T) {
	sttP := &sttmock.Provider{Result: twoLineTranscript()}
	llmP := scriptedLLM(translationReply, meaningReply)
	p := newPipeline(t, sttP, llmP)

	res, err := p.Analyze(context.Background(), analysis.Request{
		AudioPath:      "/tmp/song.mp3",
		Filename:       "song.mp3",
		TargetLanguage: "English",
		SourceLanguage: "es",
	})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if res.Cached {
		t.Error("fresh analysis reported as cached")
	}
	a := res.Analysis

	if got := sttP.TranscribeCalls[0].Req; got.AudioPath != "/tmp/song.mp3" || got.Filename != "song.mp3" || got.Language != "es" {
		t.Errorf("stt request = %+v", got)
	}
	if llmP.CallCount() != 2 {
		t.Errorf("llm calls = %d, want 2", llmP.CallCount())
	}
	for _, c := range llmP.CompleteCalls {
		if !c.Req.JSON {
			t.Error("llm request without JSON mode")
		}
		if !strings.Contains(c.Req.SystemPrompt, "English") {
			t.Error("system prompt does not name the target language")
		}
	}

	if len(a.Lyrics) != 2 {
		t.Fatalf("got %d lines, want 2", len(a.Lyrics))
	}
	if a.Lyrics[0].Time != "0:12.0" || a.Lyrics[0].Text != "Hola mundo" {
		t.Errorf("line 0 = %+v", a.Lyrics[0])
	}
	if w := a.Lyrics[0].Words[1]; w.Text != "mundo" || w.StartTime != "0:12.6" || w.EndTime != "0:13.4" {
		t.Errorf("word = %+v", w)
	}
	if a.Lyrics[1].Time != "1:05.2" && a.Lyrics[1].Time != "1:05.3" {
		t.Errorf("line 1 time = %q, want segment start", a.Lyrics[1].Time)
	}

	if len(a.Translation) != 2 {
		t.Fatalf("translation has %d lines, want 2", len(a.Translation))
	}
	tr0 := a.Translation[0]
	if tr0.Text != "Hello world" || tr0.Time != "0:12.0" {
		t.Errorf("translation 0 = %+v", tr0)
	}
	if len(tr0.Words) != 2 || tr0.Words[1].StartTime != "0:12.6" {
		t.Errorf("translated words = %+v, want out-of-range source dropped and start times reused", tr0.Words)
	}

	if a.Meaning.Sentiment != "nostalgic" || a.Meaning.Emoji != "🌅" {
		t.Errorf("meaning = %+v", a.Meaning)
	}
	if len(a.Meaning.Metaphors) != 1 {
		t.Errorf("metaphors = %+v, want blank entry dropped", a.Meaning.Metaphors)
	}
	if err := a.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestAnalyze_TranslationPaddedAndTrimmed(t *testing.T) {
	tests := []struct {
		name  string
		reply string
	}{
		{"short", `{"lines": [{"text": "Hello world"}]}`},
		{"long", `{"lines": [{"text": "a"}, {"text": "b"}, {"text": "c"}]}`},
		{"empty", `{"lines": []}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := newPipeline(t, &sttmock.Provider{Result: twoLineTranscript()}, scriptedLLM(tc.reply, meaningReply))
			res, err := p.Analyze(context.Background(), analysis.Request{AudioPath: "a.mp3", TargetLanguage: "English"})
			if err != nil {
				t.Fatalf("Analyze: %v", err)
			}
			if got := len(res.Analysis.Translation); got != len(res.Analysis.Lyrics) {
				t.Errorf("translation lines = %d, want %d", got, len(res.Analysis.Lyrics))
			}
			for i, l := range res.Analysis.Translation {
				if l.Time != res.Analysis.Lyrics[i].Cue() {
					t.Errorf("translation %d time = %q, want original cue", i, l.Time)
				}
			}
		})
	}
}

func TestAnalyze_NoLyrics(t *testing.T) {
	llmP := &llmmock.Provider{}
	p := newPipeline(t, &sttmock.Provider{Result: &stt.Transcript{Segments: []stt.Segment{{Text: "  "}}}}, llmP)

	_, err := p.Analyze(context.Background(), analysis.Request{AudioPath: "a.mp3", TargetLanguage: "English"})
	if !errors.Is(err, analysis.ErrNoLyrics) {
		t.Fatalf("err = %v, want ErrNoLyrics", err)
	}
	if llmP.CallCount() != 0 {
		t.Errorf("llm called %d times for an instrumental", llmP.CallCount())
	}
}

func TestAnalyze_TranscriptionError(t *testing.T) {
	boom := errors.New("whisper down")
	p := newPipeline(t, &sttmock.Provider{Err: boom}, &llmmock.Provider{})

	_, err := p.Analyze(context.Background(), analysis.Request{AudioPath: "a.mp3", TargetLanguage: "English"})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped stt error", err)
	}
}

func TestAnalyze_MalformedTranslation(t *testing.T) {
	p := newPipeline(t, &sttmock.Provider{Result: twoLineTranscript()}, scriptedLLM("sorry, I cannot", meaningReply))

	_, err := p.Analyze(context.Background(), analysis.Request{AudioPath: "a.mp3", TargetLanguage: "English"})
	if !errors.Is(err, analysis.ErrMalformedResponse) {
		t.Fatalf("err = %v, want ErrMalformedResponse", err)
	}
}

func TestAnalyze_LLMErrorCancelsSibling(t *testing.T) {
	var sawCancel atomic.Bool
	llmP := &llmmock.Provider{
		CompleteFunc: func(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
			if strings.Contains(req.SystemPrompt, "Translate each lyric line") {
				return nil, errors.New("quota exceeded")
			}
			select {
			case <-ctx.Done():
				sawCancel.Store(true)
				return nil, ctx.Err()
			case <-time.After(5 * time.Second):
				return &llm.CompletionResponse{Content: meaningReply}, nil
			}
		},
	}
	p := newPipeline(t, &sttmock.Provider{Result: twoLineTranscript()}, llmP)

	_, err := p.Analyze(context.Background(), analysis.Request{AudioPath: "a.mp3", TargetLanguage: "English"})
	if err == nil || !strings.Contains(err.Error(), "quota exceeded") {
		t.Fatalf("err = %v, want the translation failure", err)
	}
	if !sawCancel.Load() {
		t.Error("interpretation was not cancelled after translation failed")
	}
}

func TestAnalyze_UsesCache(t *testing.T) {
	cache := store.NewMemory(0)
	sttP := &sttmock.Provider{Result: twoLineTranscript()}
	llmP := scriptedLLM(translationReply, meaningReply)
	p := newPipeline(t, sttP, llmP, analysis.WithCache(cache))

	req := analysis.Request{AudioPath: "a.mp3", Digest: "ABC123", TargetLanguage: "English"}
	first, err := p.Analyze(context.Background(), req)
	if err != nil {
		t.Fatalf("first Analyze: %v", err)
	}

	req.TargetLanguage = "english"
	second, err := p.Analyze(context.Background(), req)
	if err != nil {
		t.Fatalf("second Analyze: %v", err)
	}
	if !second.Cached || second.Analysis != first.Analysis {
		t.Error("second analysis should come from the cache")
	}
	if sttP.CallCount() != 1 {
		t.Errorf("stt calls = %d, want 1", sttP.CallCount())
	}

	req.TargetLanguage = "German"
	third, err := p.Analyze(context.Background(), req)
	if err != nil {
		t.Fatalf("third Analyze: %v", err)
	}
	if third.Cached {
		t.Error("a different target language must miss the cache")
	}
}

func TestAnalyze_NoDigestSkipsCache(t *testing.T) {
	cache := store.NewMemory(0)
	p := newPipeline(t, &sttmock.Provider{Result: twoLineTranscript()}, scriptedLLM(translationReply, meaningReply), analysis.WithCache(cache))

	if _, err := p.Analyze(context.Background(), analysis.Request{AudioPath: "a.mp3", TargetLanguage: "English"}); err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if cache.Len() != 0 {
		t.Errorf("cache has %d entries, want 0 without a digest", cache.Len())
	}
}

func TestBuildLines(t *testing.T) {
	lines := analysis.BuildLines(&stt.Transcript{Segments: []stt.Segment{
		{Text: "", Start: secs(3), Words: []stt.Word{{Text: "solo", Start: secs(3.5), End: secs(4)}, {Text: " "}}},
		{Text: "", Start: secs(9)},
	}})
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1", len(lines))
	}
	if lines[0].Text != "solo" || lines[0].Time != "0:03.5" || len(lines[0].Words) != 1 {
		t.Errorf("line = %+v, want text rebuilt from words", lines[0])
	}
	if analysis.BuildLines(nil) != nil {
		t.Error("BuildLines(nil) should be nil")
	}
}

func TestPairTranslation(t *testing.T) {
	original := []lyrics.Line{
		{Time: "0:01.0", Text: "a", Words: []lyrics.Word{{Text: "a", StartTime: "0:01.5"}}},
		{Time: "0:02.0", Text: "b"},
	}
	got := analysis.PairTranslation(original, []lyrics.Line{{Time: "9:99", Text: "A"}})
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].Text != "A" || got[0].Time != "0:01.5" {
		t.Errorf("line 0 = %+v, want original cue", got[0])
	}
	if got[1].Text != "" || got[1].Time != "0:02.0" {
		t.Errorf("padding line = %+v", got[1])
	}
}

// The cached analysis must serialise with the field names hosts expect.
func TestAnalyze_JSONShape(t *testing.T) {
	p := newPipeline(t, &sttmock.Provider{Result: twoLineTranscript()}, scriptedLLM(translationReply, meaningReply))
	res, err := p.Analyze(context.Background(), analysis.Request{AudioPath: "a.mp3", TargetLanguage: "English"})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	raw, err := json.Marshal(res.Analysis)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	for _, key := range []string{`"lyrics"`, `"translation"`, `"meaning"`, `"start_time"`, `"metaphors"`} {
		if !strings.Contains(string(raw), key) {
			t.Errorf("JSON lacks %s: %s", key, raw)
		}
	}
}

func recordSpans(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})
	return exp
}

func TestAnalyze_Spans(t *testing.T) {
	exp := recordSpans(t)
	p := newPipeline(t, &sttmock.Provider{Result: twoLineTranscript()}, scriptedLLM(translationReply, meaningReply),
		analysis.WithProviderNames("whisper", "gemini"))

	if _, err := p.Analyze(context.Background(), analysis.Request{AudioPath: "a.mp3", TargetLanguage: "English"}); err != nil {
		t.Fatalf("Analyze: %v", err)
	}

	byName := map[string]tracetest.SpanStub{}
	for _, s := range exp.GetSpans() {
		byName[s.Name] = s
	}
	root, ok := byName[observe.SpanAnalyze]
	if !ok {
		t.Fatalf("no %s span; got %v", observe.SpanAnalyze, byName)
	}
	wantProvider := map[string]string{
		observe.SpanTranscribe: "whisper",
		observe.SpanTranslate:  "gemini",
		observe.SpanInterpret:  "gemini",
	}
	for name, provider := range wantProvider {
		s, ok := byName[name]
		if !ok {
			t.Errorf("no %s span", name)
			continue
		}
		if s.Parent.SpanID() != root.SpanContext.SpanID() {
			t.Errorf("%s is not a child of %s", name, observe.SpanAnalyze)
		}
		var got string
		for _, kv := range s.Attributes {
			if kv.Key == observe.AttrProvider {
				got = kv.Value.AsString()
			}
		}
		if got != provider {
			t.Errorf("%s provider = %q, want %q", name, got, provider)
		}
	}
	if root.Status.Code == codes.Error {
		t.Errorf("successful analysis span marked failed: %+v", root.Status)
	}
}

func TestAnalyze_FailedSpan(t *testing.T) {
	exp := recordSpans(t)
	p := newPipeline(t, &sttmock.Provider{Result: &stt.Transcript{}}, &llmmock.Provider{})

	if _, err := p.Analyze(context.Background(), analysis.Request{AudioPath: "a.mp3", TargetLanguage: "English"}); !errors.Is(err, analysis.ErrNoLyrics) {
		t.Fatalf("err = %v, want ErrNoLyrics", err)
	}
	for _, s := range exp.GetSpans() {
		if s.Name == observe.SpanAnalyze {
			if s.Status.Code != codes.Error {
				t.Errorf("status = %+v, want error", s.Status)
			}
			return
		}
	}
	t.Fatalf("no %s span recorded", observe.SpanAnalyze)
}

