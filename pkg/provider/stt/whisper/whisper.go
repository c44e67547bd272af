// Package whisper provides an STT provider backed by a whisper HTTP server.
//
// It speaks the whisper.cpp server API (POST /inference) and the
// OpenAI-compatible transcription API exposed by faster-whisper servers
// (POST /v1/audio/transcriptions). The whole audio file is uploaded as
// multipart/form-data and the verbose_json response is parsed into segments
// with word-level timing.
//
// Usage:
//
//	p, err := whisper.New("http://localhost:8080",
//	    whisper.WithModel("base"),
//	)
//	tr, err := p.Transcribe(ctx, stt.Request{AudioPath: "/tmp/song.mp3"})
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/MrWong99/sinfonia/pkg/provider/stt"
)

const (
	// DefaultEndpoint is the whisper.cpp server inference path.
	DefaultEndpoint = "/inference"

	// OpenAIEndpoint is the transcription path of OpenAI-compatible servers.
	OpenAIEndpoint = "/v1/audio/transcriptions"

	defaultTimeout = 5 * time.Minute

	// maxErrorBody caps how much of a failed response is quoted in errors.
	maxErrorBody = 512
)

var _ stt.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the model identifier forwarded to the server (e.g. "base",
// "small"). When empty the server uses whichever model it was started with.
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the default language hint used when a request carries
// none. Empty lets the server detect the language.
func WithLanguage(lang string) Option {
	return func(p *Provider) {
		p.language = lang
	}
}

// WithEndpoint overrides the request path. Defaults to [DefaultEndpoint].
func WithEndpoint(path string) Option {
	return func(p *Provider) {
		p.endpoint = path
	}
}

// WithTimeout sets the HTTP client timeout. Defaults to 5 minutes; a full
// song on a CPU-only server takes a while.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.httpClient.Timeout = d
	}
}

// WithHTTPClient replaces the HTTP client entirely.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// Provider implements stt.Provider against a whisper HTTP server. It is safe
// for concurrent use.
type Provider struct {
	serverURL  string
	endpoint   string
	model      string
	language   string
	httpClient *http.Client
}

// New creates a Provider for the server at serverURL (e.g.
// "http://localhost:8080"). serverURL must be non-empty.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:  strings.TrimRight(serverURL, "/"),
		endpoint:   DefaultEndpoint,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	if !strings.HasPrefix(p.endpoint, "/") {
		p.endpoint = "/" + p.endpoint
	}
	return p, nil
}

// Transcribe uploads req.AudioPath and returns the word-timed transcript.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (*stt.Transcript, error) {
	if req.AudioPath == "" {
		return nil, errors.New("whisper: audio path must not be empty")
	}
	f, err := os.Open(req.AudioPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: open audio: %w", err)
	}
	defer f.Close()

	filename := req.Filename
	if filename == "" {
		filename = filepath.Base(req.AudioPath)
	}
	language := req.Language
	if language == "" {
		language = p.language
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := io.Copy(fw, f); err != nil {
		return nil, fmt.Errorf("whisper: write audio data: %w", err)
	}

	fields := [][2]string{
		{"response_format", "verbose_json"},
		{"word_timestamps", "true"},
		{"timestamp_granularities[]", "segment"},
		{"timestamp_granularities[]", "word"},
	}
	if language != "" {
		fields = append(fields, [2]string{"language", language})
	}
	if p.model != "" {
		fields = append(fields, [2]string{"model", p.model})
	}
	for _, kv := range fields {
		if err := mw.WriteField(kv[0], kv[1]); err != nil {
			return nil, fmt.Errorf("whisper: write %s field: %w", kv[0], err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("whisper: close multipart writer: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+p.endpoint, &body)
	if err != nil {
		return nil, fmt.Errorf("whisper: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("whisper: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, fmt.Errorf("whisper: server returned HTTP %d: %s",
			resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var result verboseResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("whisper: parse JSON response: %w", err)
	}

	tr := result.transcript()
	if tr.Language == "" {
		tr.Language = language
	}
	return tr, nil
}

// ---- response decoding ------------------------------------------------------

type verboseResponse struct {
	Text     string           `json:"text"`
	Language string           `json:"language"`
	Duration float64          `json:"duration"`
	Segments []verboseSegment `json:"segments"`

	// Words is the flat word list returned by OpenAI-compatible servers for
	// timestamp_granularities[]=word.
	Words []verboseWord `json:"words"`
}

type verboseSegment struct {
	Start float64       `json:"start"`
	End   float64       `json:"end"`
	Text  string        `json:"text"`
	Words []verboseWord `json:"words"`
}

type verboseWord struct {
	Word        string  `json:"word"`
	Start       float64 `json:"start"`
	End         float64 `json:"end"`
	Probability float64 `json:"probability"`
}

// transcript converts the wire response. Words reported only at the top
// level are assigned to the segment whose span contains their start; the
// last segment takes any that remain.
func (r *verboseResponse) transcript() *stt.Transcript {
	tr := &stt.Transcript{
		Text:     strings.TrimSpace(r.Text),
		Language: r.Language,
		Duration: seconds(r.Duration),
	}

	if len(r.Segments) == 0 {
		if len(r.Words) == 0 && tr.Text == "" {
			return tr
		}
		seg := stt.Segment{Text: tr.Text, Words: convertWords(r.Words)}
		if len(seg.Words) > 0 {
			seg.Start = seg.Words[0].Start
			seg.End = seg.Words[len(seg.Words)-1].End
		}
		tr.Segments = []stt.Segment{seg}
		return tr
	}

	flat := r.Words
	tr.Segments = make([]stt.Segment, 0, len(r.Segments))
	for i, s := range r.Segments {
		seg := stt.Segment{
			Text:  s.Text,
			Start: seconds(s.Start),
			End:   seconds(s.End),
			Words: convertWords(s.Words),
		}
		if len(s.Words) == 0 && len(flat) > 0 {
			last := i == len(r.Segments)-1
			n := 0
			for n < len(flat) && (last || flat[n].Start < s.End) {
				n++
			}
			seg.Words = convertWords(flat[:n])
			flat = flat[n:]
		}
		tr.Segments = append(tr.Segments, seg)
	}
	return tr
}

// convertWords drops words that are empty after trimming.
func convertWords(in []verboseWord) []stt.Word {
	if len(in) == 0 {
		return nil
	}
	out := make([]stt.Word, 0, len(in))
	for _, w := range in {
		text := strings.TrimSpace(w.Word)
		if text == "" {
			continue
		}
		out = append(out, stt.Word{
			Text:        text,
			Start:       seconds(w.Start),
			End:         seconds(w.End),
			Probability: w.Probability,
		})
	}
	return out
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
