package anyllm

import (
	"strings"
	"testing"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/sinfonia/pkg/provider/llm"
)

// ── buildParams ───────────────────────────────────────────────────────────────

func TestBuildParams_SystemPromptFirst(t *testing.T) {
	p := &Provider{model: "gemini-2.0-flash"}
	params, err := p.buildParams(llm.CompletionRequest{
		SystemPrompt: "You translate lyrics.",
		Messages:     []llm.Message{llm.User("hola")},
	})
	if err != nil {
		t.Fatalf("buildParams: %v", err)
	}
	if params.Model != "gemini-2.0-flash" {
		t.Errorf("model = %q", params.Model)
	}
	if len(params.Messages) != 2 {
		t.Fatalf("got %d messages, want 2", len(params.Messages))
	}
	if params.Messages[0].Role != anyllmlib.RoleSystem {
		t.Errorf("first role = %q, want system", params.Messages[0].Role)
	}
	if params.Messages[1].ContentString() != "hola" {
		t.Errorf("user content = %q", params.Messages[1].ContentString())
	}
	if params.Temperature != nil || params.MaxTokens != nil {
		t.Error("unset sampling options should stay nil")
	}
}

func TestBuildParams_JSONAddsInstruction(t *testing.T) {
	p := &Provider{model: "gemini-2.0-flash"}
	params, err := p.buildParams(llm.CompletionRequest{
		Messages: []llm.Message{llm.User("x")},
		JSON:     true,
	})
	if err != nil {
		t.Fatalf("buildParams: %v", err)
	}
	sys := params.Messages[0]
	if sys.Role != anyllmlib.RoleSystem || !strings.Contains(sys.ContentString(), "JSON") {
		t.Errorf("JSON request without system instruction: %+v", sys)
	}
}

func TestBuildParams_SamplingOptions(t *testing.T) {
	p := &Provider{model: "m"}
	params, err := p.buildParams(llm.CompletionRequest{
		Messages:    []llm.Message{llm.User("x")},
		Temperature: 0.4,
		MaxTokens:   256,
	})
	if err != nil {
		t.Fatalf("buildParams: %v", err)
	}
	if params.Temperature == nil || *params.Temperature != 0.4 {
		t.Errorf("temperature = %v, want 0.4", params.Temperature)
	}
	if params.MaxTokens == nil || *params.MaxTokens != 256 {
		t.Errorf("max tokens = %v, want 256", params.MaxTokens)
	}
}

func TestBuildParams_NoMessages(t *testing.T) {
	p := &Provider{model: "m"}
	if _, err := p.buildParams(llm.CompletionRequest{SystemPrompt: "only system"}); err == nil {
		t.Error("expected error for request without messages")
	}
}

// ── modelCapabilities ─────────────────────────────────────────────────────────

func TestModelCapabilities(t *testing.T) {
	tests := []struct {
		model  string
		window int
	}{
		{"gemini-2.0-flash", 1_048_576},
		{"Gemini-1.5-Pro", 2_097_152},
		{"gemini-pro", 128_000},
		{"claude-3-5-sonnet-latest", 200_000},
		{"gpt-4o", 128_000},
		{"gpt-4", 8_192},
		{"llama3", 128_000},
	}
	for _, tc := range tests {
		caps := modelCapabilities(tc.model)
		if caps.ContextWindow != tc.window {
			t.Errorf("%s: context window = %d, want %d", tc.model, caps.ContextWindow, tc.window)
		}
		if caps.SupportsJSONMode {
			t.Errorf("%s: unified backend should not claim native JSON mode", tc.model)
		}
	}
}

// ── Constructor ───────────────────────────────────────────────────────────────

// TestNew_EmptyProviderName checks that an empty provider name returns an error.
func TestNew_EmptyProviderName(t *testing.T) {
	if _, err := New("", "gemini-2.0-flash"); err == nil {
		t.Fatal("expected error for empty providerName")
	}
}

// TestNew_EmptyModel checks that an empty model name returns an error.
func TestNew_EmptyModel(t *testing.T) {
	if _, err := New("gemini", ""); err == nil {
		t.Fatal("expected error for empty model")
	}
}

// TestNew_UnsupportedProvider checks that an unsupported provider returns an error.
func TestNew_UnsupportedProvider(t *testing.T) {
	if _, err := New("fakecloud", "some-model", anyllmlib.WithAPIKey("dummy")); err == nil {
		t.Fatal("expected error for unsupported provider")
	}
}

// TestNew_WithAPIKey checks that keyed providers construct with an explicit key.
func TestNew_WithAPIKey(t *testing.T) {
	for _, name := range []string{"openai", "anthropic"} {
		p, err := New(name, "some-model", anyllmlib.WithAPIKey("test-key"))
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", name, err)
		}
		if p.name != name {
			t.Errorf("name = %q, want %q", p.name, name)
		}
	}
}

// TestNew_LocalNoAPIKey checks that local backends work without an API key.
func TestNew_LocalNoAPIKey(t *testing.T) {
	for _, name := range []string{"ollama", "llamacpp", "llamafile"} {
		if _, err := New(name, "llama3"); err != nil {
			t.Errorf("%s: unexpected error: %v", name, err)
		}
	}
}

// TestNew_OpenAI_MissingAPIKey relies on OPENAI_API_KEY being unset.
func TestNew_OpenAI_MissingAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	if _, err := New("openai", "gpt-4o"); err == nil {
		t.Fatal("expected error for missing API key")
	}
}
