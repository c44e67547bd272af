package app

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/MrWong99/sinfonia/internal/config"
	"github.com/MrWong99/sinfonia/internal/resilience"
	"github.com/MrWong99/sinfonia/pkg/provider/llm"
	"github.com/MrWong99/sinfonia/pkg/provider/llm/anyllm"
	"github.com/MrWong99/sinfonia/pkg/provider/llm/openai"
	"github.com/MrWong99/sinfonia/pkg/provider/stt"
	"github.com/MrWong99/sinfonia/pkg/provider/stt/whisper"
)

// anyLLMProviders share the same pattern: optional APIKey + optional BaseURL.
var anyLLMProviders = []string{
	"anthropic", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile",
}

// Providers holds the resolved analysis backends. Each may be a fallback
// group when fallbacks are configured.
type Providers struct {
	STT     stt.Provider
	LLM     llm.Provider
	STTName string
	LLMName string
}

// NewHTTPClient returns the traced client shared by HTTP-based providers.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}

// RegisterBuiltinProviders wires all built-in provider factories into reg.
// HTTP-based providers use hc.
func RegisterBuiltinProviders(reg *config.Registry, hc *http.Client) {
	// ── LLM ───────────────────────────────────────────────────────────────────

	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		opts := []openai.Option{openai.WithHTTPClient(hc)}
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, openai.WithOrganization(org))
		}
		return openai.New(entry.APIKey, entry.Model, opts...)
	})

	for _, providerName := range anyLLMProviders {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterLLM("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New("ollama", entry.Model, opts...)
	})

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		return whisper.New(entry.BaseURL, whisperOptions(entry, hc)...)
	})

	// whisper-openai talks to OpenAI's transcription API or a compatible
	// server (faster-whisper, LocalAI).
	reg.RegisterSTT("whisper-openai", func(entry config.ProviderEntry) (stt.Provider, error) {
		baseURL := entry.BaseURL
		if baseURL == "" {
			baseURL = "https://api.openai.com"
		}
		client := hc
		if entry.APIKey != "" {
			client = withBearer(hc, entry.APIKey)
		}
		opts := append(whisperOptions(entry, client), whisper.WithEndpoint(whisper.OpenAIEndpoint))
		if entry.Model == "" {
			opts = append(opts, whisper.WithModel("whisper-1"))
		}
		return whisper.New(baseURL, opts...)
	})

	for _, name := range reg.LLMNames() {
		slog.Debug("registered provider", "kind", "llm", "name", name)
	}
	for _, name := range reg.STTNames() {
		slog.Debug("registered provider", "kind", "stt", "name", name)
	}
}

func whisperOptions(entry config.ProviderEntry, hc *http.Client) []whisper.Option {
	opts := []whisper.Option{whisper.WithHTTPClient(hc)}
	if entry.Model != "" {
		opts = append(opts, whisper.WithModel(entry.Model))
	}
	if lang := optString(entry.Options, "language"); lang != "" {
		opts = append(opts, whisper.WithLanguage(lang))
	}
	if ep := optString(entry.Options, "endpoint"); ep != "" {
		opts = append(opts, whisper.WithEndpoint(ep))
	}
	return opts
}

// BuildProviders instantiates the configured primary providers and wraps
// them in fallback groups when fallbacks are configured.
func BuildProviders(cfg *config.Config, reg *config.Registry) (*Providers, error) {
	sttPrimary, err := reg.CreateSTT(cfg.Providers.STT)
	if err != nil {
		return nil, fmt.Errorf("create stt provider %q: %w", cfg.Providers.STT.Name, err)
	}
	llmPrimary, err := reg.CreateLLM(cfg.Providers.LLM)
	if err != nil {
		return nil, fmt.Errorf("create llm provider %q: %w", cfg.Providers.LLM.Name, err)
	}
	slog.Info("provider created", "kind", "stt", "name", cfg.Providers.STT.Name)
	slog.Info("provider created", "kind", "llm", "name", cfg.Providers.LLM.Name)

	ps := &Providers{
		STT:     sttPrimary,
		LLM:     llmPrimary,
		STTName: cfg.Providers.STT.Name,
		LLMName: cfg.Providers.LLM.Name,
	}

	if len(cfg.Providers.STTFallbacks) > 0 {
		group := resilience.NewSTTFallback(sttPrimary, ps.STTName, resilience.FallbackConfig{})
		for _, entry := range cfg.Providers.STTFallbacks {
			p, err := reg.CreateSTT(entry)
			if err != nil {
				return nil, fmt.Errorf("create stt fallback %q: %w", entry.Name, err)
			}
			group.AddFallback(entry.Name, p)
			slog.Info("fallback provider added", "kind", "stt", "name", entry.Name)
		}
		ps.STT = group
	}

	if len(cfg.Providers.LLMFallbacks) > 0 {
		group := resilience.NewLLMFallback(llmPrimary, ps.LLMName, resilience.FallbackConfig{})
		for _, entry := range cfg.Providers.LLMFallbacks {
			p, err := reg.CreateLLM(entry)
			if err != nil {
				return nil, fmt.Errorf("create llm fallback %q: %w", entry.Name, err)
			}
			group.AddFallback(entry.Name, p)
			slog.Info("fallback provider added", "kind", "llm", "name", entry.Name)
		}
		ps.LLM = group
	}

	return ps, nil
}

// bearerTransport adds an Authorization header to every request.
type bearerTransport struct {
	token string
	next  http.RoundTripper
}

func (t *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("Authorization", "Bearer "+t.token)
	return t.next.RoundTrip(req)
}

func withBearer(hc *http.Client, token string) *http.Client {
	next := hc.Transport
	if next == nil {
		next = http.DefaultTransport
	}
	c := *hc
	c.Transport = &bearerTransport{token: token, next: next}
	return &c
}

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	s, _ := opts[key].(string)
	return s
}

// errNoProviders is returned by New when neither providers nor a registry
// are available.
var errNoProviders = errors.New("app: no analysis providers")
