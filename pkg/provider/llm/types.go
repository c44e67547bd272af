package llm

// Message is a single message in an LLM conversation.
type Message struct {
	// Role is one of "system", "user", or "assistant".
	Role string

	// Content is the text content of the message.
	Content string
}

// ModelCapabilities describes what an LLM model supports.
type ModelCapabilities struct {
	// ContextWindow is the maximum token count for input + output.
	ContextWindow int

	// MaxOutputTokens is the maximum number of tokens in a single response.
	MaxOutputTokens int

	// SupportsJSONMode reports whether the provider can constrain replies to
	// a JSON object natively.
	SupportsJSONMode bool
}

// User returns a user-role message.
func User(content string) Message { return Message{Role: "user", Content: content} }
