package llmdispatch

import (
	"context"
	"net/http"
)

// Provider is the interface the remote completion service adapter implements.
type Provider interface {
	// Name returns the provider identifier (e.g. "openai").
	Name() string

	// ChatCompletionStream starts a streaming chat completion. A non-2xx
	// response is returned as an error, preferably a *ProviderError so the
	// response headers reach the dispatcher.
	ChatCompletionStream(ctx context.Context, req ProviderRequest) (ProviderStream, error)
}

// Auth holds authentication credentials for the service.
type Auth struct {
	APIKey string `yaml:"api_key" json:"-"`
}

// ProviderRequest is the request sent to a provider adapter.
type ProviderRequest struct {
	Auth           Auth           `json:"-"`
	Model          string         `json:"model"`
	Messages       []Message      `json:"messages"`
	Temperature    *float64       `json:"temperature,omitempty"`
	ResponseFormat ResponseFormat `json:"response_format,omitempty"`
}

// ProviderStream is the interface for streaming responses.
type ProviderStream interface {
	// StatusCode returns the HTTP status of the response.
	StatusCode() int

	// Header returns the response metadata headers.
	Header() http.Header

	// Next returns the next chunk. Returns io.EOF when the done sentinel
	// is reached.
	Next() (StreamChunk, error)

	// Close releases resources.
	Close() error
}
