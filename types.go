package llmdispatch

// Request is a single text-generation request handed to the dispatcher.
type Request struct {
	// Label identifies the request in logs and artifact file names.
	Label string
	Model string

	Prompt           string
	SystemMessage    string
	AssistantMessage string // optional preamble used to bias output formatting

	Temperature    *float64
	ResponseFormat ResponseFormat
}

// ResponseFormat is the response-shape hint sent with a request.
type ResponseFormat string

const (
	FormatText       ResponseFormat = "text"
	FormatJSONObject ResponseFormat = "json_object"
)

// Structured reports whether a structured-object response was requested.
func (f ResponseFormat) Structured() bool { return f == FormatJSONObject }

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Messages renders the request into chat messages in system, user,
// assistant order. Empty system and assistant messages are omitted.
func (r Request) Messages() []Message {
	msgs := make([]Message, 0, 3)
	if r.SystemMessage != "" {
		msgs = append(msgs, Message{Role: "system", Content: r.SystemMessage})
	}
	msgs = append(msgs, Message{Role: "user", Content: r.Prompt})
	if r.AssistantMessage != "" {
		msgs = append(msgs, Message{Role: "assistant", Content: r.AssistantMessage})
	}
	return msgs
}

// Result is the terminal success value of a request.
type Result struct {
	ID       string
	Text     string
	Tokens   Tokens
	Attempts int
}

// Usage represents token usage information reported by the service.
type Usage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}

// StreamChunk represents a single chunk in a streaming response.
type StreamChunk struct {
	ID      string        `json:"id"`
	Choices []StreamDelta `json:"choices"`
	Model   string        `json:"model"`
	Usage   *Usage        `json:"usage,omitempty"`

	// Raw holds the chunk payload exactly as received from the transport.
	Raw []byte `json:"-"`
}

// Text returns the concatenated delta content of the chunk.
func (c StreamChunk) Text() string {
	switch len(c.Choices) {
	case 0:
		return ""
	case 1:
		return c.Choices[0].Delta.Content
	}
	var s string
	for _, ch := range c.Choices {
		s += ch.Delta.Content
	}
	return s
}

// StreamDelta represents a delta in a streaming choice.
type StreamDelta struct {
	Index        int    `json:"index"`
	Delta        Delta  `json:"delta"`
	FinishReason string `json:"finish_reason,omitempty"`
}

// Delta represents incremental content in a stream.
type Delta struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
}

// Float64Ptr returns a pointer to the given float64.
func Float64Ptr(v float64) *float64 { return &v }
