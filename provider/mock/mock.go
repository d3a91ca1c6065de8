package mock

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	ld "github.com/ineyio/llmdispatch"
)

// Response scripts one call to the provider.
type Response struct {
	// Err is returned by ChatCompletionStream instead of a stream.
	Err error
	// Status and Header are reported by the stream. Status defaults to 200.
	Status int
	Header http.Header
	// Chunks are the text increments streamed before the end of stream.
	Chunks []string
	// StreamErr, if set, is returned by Next after the chunks instead of
	// io.EOF.
	StreamErr error
	// Gate, if set, holds the first Next call until it is closed.
	Gate <-chan struct{}
}

// Provider is a scriptable mock streaming provider for testing.
type Provider struct {
	name         string
	latency      time.Duration
	fallback     Response
	responseFunc func(call int, req ld.ProviderRequest) Response

	mu     sync.Mutex
	script []Response
	calls  []ld.ProviderRequest

	callCount atomic.Int64
}

var _ ld.Provider = (*Provider)(nil)

// Option configures a mock Provider.
type Option func(*Provider)

// New creates a mock provider with the given options. Without a script
// every call streams "Hello from mock provider".
func New(opts ...Option) *Provider {
	p := &Provider{
		name:     "mock",
		fallback: Response{Chunks: []string{"Hello", " from mock provider"}},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WithName sets the provider name.
func WithName(name string) Option {
	return func(p *Provider) { p.name = name }
}

// WithLatency adds simulated latency before each response.
func WithLatency(d time.Duration) Option {
	return func(p *Provider) { p.latency = d }
}

// WithScript queues responses consumed one per call, in order. Once the
// script is exhausted the default response is used.
func WithScript(rs ...Response) Option {
	return func(p *Provider) { p.script = append(p.script, rs...) }
}

// WithDefault sets the response used when no script entry is left.
func WithDefault(r Response) Option {
	return func(p *Provider) { p.fallback = r }
}

// WithChunks sets the default response to stream the given increments.
func WithChunks(chunks ...string) Option {
	return func(p *Provider) { p.fallback = Response{Chunks: chunks} }
}

// WithError makes every unscripted call fail with err.
func WithError(err error) Option {
	return func(p *Provider) { p.fallback = Response{Err: err} }
}

// WithResponseFunc computes each response. call is 1-based. It takes
// precedence over the script.
func WithResponseFunc(fn func(call int, req ld.ProviderRequest) Response) Option {
	return func(p *Provider) { p.responseFunc = fn }
}

func (p *Provider) Name() string { return p.name }

func (p *Provider) ChatCompletionStream(ctx context.Context, req ld.ProviderRequest) (ld.ProviderStream, error) {
	if p.latency > 0 {
		select {
		case <-time.After(p.latency):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	count := int(p.callCount.Add(1))
	resp := p.next(count, req)
	if resp.Err != nil {
		return nil, resp.Err
	}

	status := resp.Status
	if status == 0 {
		status = http.StatusOK
	}
	header := resp.Header
	if header == nil {
		header = http.Header{}
	}
	return &mockStream{
		ctx:    ctx,
		status: status,
		header: header,
		resp:   resp,
	}, nil
}

func (p *Provider) next(count int, req ld.ProviderRequest) Response {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, req)
	if p.responseFunc != nil {
		return p.responseFunc(count, req)
	}
	if len(p.script) > 0 {
		r := p.script[0]
		p.script = p.script[1:]
		return r
	}
	return p.fallback
}

// CallCount returns the number of calls made to the provider.
func (p *Provider) CallCount() int64 { return p.callCount.Load() }

// Calls returns the requests received so far, in call order.
func (p *Provider) Calls() []ld.ProviderRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]ld.ProviderRequest, len(p.calls))
	copy(out, p.calls)
	return out
}

// Header builds a rate-limit header set. Empty values are omitted.
func Header(remainingRequests, resetRequests string) http.Header {
	h := http.Header{}
	if remainingRequests != "" {
		h.Set(ld.HeaderRemainingRequests, remainingRequests)
	}
	if resetRequests != "" {
		h.Set(ld.HeaderResetRequests, resetRequests)
	}
	return h
}

type mockStream struct {
	ctx    context.Context
	status int
	header http.Header
	resp   Response
	index  int
	gated  bool
}

func (s *mockStream) StatusCode() int     { return s.status }
func (s *mockStream) Header() http.Header { return s.header }

func (s *mockStream) Next() (ld.StreamChunk, error) {
	if s.resp.Gate != nil && !s.gated {
		s.gated = true
		select {
		case <-s.resp.Gate:
		case <-s.ctx.Done():
			return ld.StreamChunk{}, s.ctx.Err()
		}
	}
	if s.index >= len(s.resp.Chunks) {
		if s.resp.StreamErr != nil {
			return ld.StreamChunk{}, s.resp.StreamErr
		}
		return ld.StreamChunk{}, io.EOF
	}
	text := s.resp.Chunks[s.index]
	s.index++

	chunk := ld.StreamChunk{
		ID:      "mock-response-id",
		Model:   "mock-model",
		Choices: []ld.StreamDelta{{Index: 0, Delta: ld.Delta{Content: text}}},
	}
	chunk.Raw, _ = json.Marshal(chunk)
	return chunk, nil
}

func (s *mockStream) Close() error { return nil }
