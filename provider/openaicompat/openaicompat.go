package openaicompat

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	ld "github.com/ineyio/llmdispatch"
)

// Provider is an OpenAI-compatible streaming chat completions adapter.
// Works with OpenAI, Azure-style gateways, Together, Ollama, and others.
type Provider struct {
	name       string
	baseURL    string
	httpClient *http.Client
}

var _ ld.Provider = (*Provider)(nil)

// Option configures the provider.
type Option func(*Provider)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// New creates a new OpenAI-compatible provider.
func New(name, baseURL string, opts ...Option) *Provider {
	p := &Provider{
		name:       name,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NewOpenAI creates a provider for OpenAI.
func NewOpenAI(opts ...Option) *Provider {
	return New("openai", "https://api.openai.com/v1", opts...)
}

func (p *Provider) Name() string { return p.name }

// apiRequest is the OpenAI chat completion request format.
type apiRequest struct {
	Model          string             `json:"model"`
	Messages       []apiMessage       `json:"messages"`
	Temperature    *float64           `json:"temperature,omitempty"`
	Stream         bool               `json:"stream"`
	ResponseFormat *apiResponseFormat `json:"response_format,omitempty"`
}

type apiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type apiResponseFormat struct {
	Type string `json:"type"`
}

// apiStreamChunk is a single SSE chunk.
type apiStreamChunk struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index int `json:"index"`
		Delta struct {
			Role    string `json:"role,omitempty"`
			Content string `json:"content,omitempty"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason,omitempty"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
		TotalTokens      int64 `json:"total_tokens"`
	} `json:"usage,omitempty"`
	Error *apiError `json:"error,omitempty"`
}

// apiError is the error object of an error body or a mid-stream error
// payload.
type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    any    `json:"code"`
}

func (p *Provider) ChatCompletionStream(ctx context.Context, req ld.ProviderRequest) (ld.ProviderStream, error) {
	body := buildRequest(req)

	httpResp, err := p.doRequest(ctx, req.Auth, body)
	if err != nil {
		return nil, err
	}

	if err := mapHTTPError(httpResp); err != nil {
		return nil, err
	}

	return &sseStream{
		status: httpResp.StatusCode,
		header: httpResp.Header,
		reader: bufio.NewReader(httpResp.Body),
		body:   httpResp.Body,
	}, nil
}

func buildRequest(req ld.ProviderRequest) apiRequest {
	msgs := make([]apiMessage, len(req.Messages))
	for i, m := range req.Messages {
		msgs[i] = apiMessage{Role: m.Role, Content: m.Content}
	}
	out := apiRequest{
		Model:       req.Model,
		Messages:    msgs,
		Temperature: req.Temperature,
		Stream:      true,
	}
	if req.ResponseFormat != "" {
		out.ResponseFormat = &apiResponseFormat{Type: string(req.ResponseFormat)}
	}
	return out
}

func (p *Provider) doRequest(ctx context.Context, auth ld.Auth, body apiRequest) (*http.Response, error) {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal request: %v", ld.ErrClientInvalid, err)
	}

	url := p.baseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %v", ld.ErrClientInvalid, err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if auth.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+auth.APIKey)
	}

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ld.ErrProviderUnavailable, err)
	}

	return resp, nil
}

func mapHTTPError(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	// Read body for error context, but don't fail if we can't.
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	resp.Body.Close()

	return &ld.ProviderError{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       strings.TrimSpace(string(body)),
		Err:        statusError(resp.StatusCode),
	}
}

func statusError(status int) error {
	switch status {
	case http.StatusTooManyRequests:
		return ld.ErrRateLimited
	case http.StatusUnauthorized, http.StatusForbidden:
		return ld.ErrAuthFailed
	case http.StatusBadRequest, http.StatusNotFound, http.StatusRequestEntityTooLarge, http.StatusUnprocessableEntity:
		return ld.ErrClientInvalid
	default:
		return ld.ErrProviderUnavailable
	}
}

// payloadError maps a mid-stream error payload onto the error taxonomy.
func payloadError(e *apiError) error {
	code := fmt.Sprint(e.Code)
	var class error
	switch {
	case e.Type == "rate_limit_error", code == "rate_limit_exceeded", e.Type == "requests", e.Type == "tokens":
		class = ld.ErrRateLimited
	case e.Type == "invalid_request_error", code == "context_length_exceeded":
		class = ld.ErrClientInvalid
	case e.Type == "authentication_error", code == "invalid_api_key":
		class = ld.ErrAuthFailed
	default:
		class = ld.ErrProviderUnavailable
	}
	return fmt.Errorf("%w: stream error: %s", class, e.Message)
}

// sseStream parses Server-Sent Events from an HTTP response body.
type sseStream struct {
	status int
	header http.Header
	reader *bufio.Reader
	body   io.ReadCloser
}

func (s *sseStream) StatusCode() int     { return s.status }
func (s *sseStream) Header() http.Header { return s.header }

func (s *sseStream) Next() (ld.StreamChunk, error) {
	for {
		line, err := s.reader.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return ld.StreamChunk{}, fmt.Errorf("%w: read stream: %v", ld.ErrProviderUnavailable, err)
		}
		// A body that ends without the done sentinel still ends the stream.
		eof := err != nil

		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "data:") {
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "[DONE]" {
				return ld.StreamChunk{}, io.EOF
			}
			if chunk, ok, err := decodeChunk(data); ok {
				return chunk, err
			}
		}
		if eof {
			return ld.StreamChunk{}, io.EOF
		}
	}
}

// decodeChunk parses one data payload. ok is false for malformed payloads,
// which are skipped.
func decodeChunk(data string) (ld.StreamChunk, bool, error) {
	var chunk apiStreamChunk
	if err := json.Unmarshal([]byte(data), &chunk); err != nil {
		return ld.StreamChunk{}, false, nil
	}
	if chunk.Error != nil {
		return ld.StreamChunk{}, true, payloadError(chunk.Error)
	}

	result := ld.StreamChunk{
		ID:    chunk.ID,
		Model: chunk.Model,
		Raw:   []byte(data),
	}

	for _, c := range chunk.Choices {
		result.Choices = append(result.Choices, ld.StreamDelta{
			Index:        c.Index,
			Delta:        ld.Delta{Role: c.Delta.Role, Content: c.Delta.Content},
			FinishReason: c.FinishReason,
		})
	}

	if chunk.Usage != nil {
		result.Usage = &ld.Usage{
			PromptTokens:     chunk.Usage.PromptTokens,
			CompletionTokens: chunk.Usage.CompletionTokens,
			TotalTokens:      chunk.Usage.TotalTokens,
		}
	}

	return result, true, nil
}

func (s *sseStream) Close() error {
	return s.body.Close()
}
