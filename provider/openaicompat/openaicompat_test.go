package openaicompat_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ld "github.com/ineyio/llmdispatch"
	"github.com/ineyio/llmdispatch/provider/openaicompat"
)

func sseServer(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) *openaicompat.Provider {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(handler))
	t.Cleanup(srv.Close)
	return openaicompat.New("test", srv.URL+"/v1/", openaicompat.WithHTTPClient(srv.Client()))
}

func writeEvents(w http.ResponseWriter, events ...string) {
	w.Header().Set("Content-Type", "text/event-stream")
	for _, e := range events {
		fmt.Fprintf(w, "data: %s\n\n", e)
	}
}

func collect(t *testing.T, s ld.ProviderStream) (string, error) {
	t.Helper()
	var text string
	for {
		chunk, err := s.Next()
		if errors.Is(err, io.EOF) {
			return text, nil
		}
		if err != nil {
			return text, err
		}
		text += chunk.Text()
	}
}

func TestStream_ChunksHeadersAndRequestShape(t *testing.T) {
	var got map[string]any
	var auth string
	p := sseServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		auth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set(ld.HeaderRemainingRequests, "41")
		w.Header().Set(ld.HeaderResetRequests, "120ms")
		writeEvents(w,
			`{"id":"c1","choices":[{"index":0,"delta":{"role":"assistant"}}]}`,
			`{"id":"c1","choices":[{"index":0,"delta":{"content":"Hel"}}]}`,
			`not json`,
			`{"id":"c1","choices":[{"index":0,"delta":{"content":"lo"}}]}`,
			`[DONE]`,
		)
	})

	stream, err := p.ChatCompletionStream(context.Background(), ld.ProviderRequest{
		Auth:           ld.Auth{APIKey: "sk-test"},
		Model:          "gpt-4",
		Messages:       []ld.Message{{Role: "user", Content: "hi"}},
		Temperature:    ld.Float64Ptr(0.2),
		ResponseFormat: ld.FormatJSONObject,
	})
	require.NoError(t, err)
	defer stream.Close()

	assert.Equal(t, http.StatusOK, stream.StatusCode())
	assert.Equal(t, "41", stream.Header().Get(ld.HeaderRemainingRequests))

	text, err := collect(t, stream)
	require.NoError(t, err)
	assert.Equal(t, "Hello", text)

	assert.Equal(t, "Bearer sk-test", auth)
	assert.Equal(t, "gpt-4", got["model"])
	assert.Equal(t, true, got["stream"])
	assert.Equal(t, 0.2, got["temperature"])
	assert.Equal(t, map[string]any{"type": "json_object"}, got["response_format"])
}

func TestStream_RawPayloadKept(t *testing.T) {
	payload := `{"id":"c1","choices":[{"index":0,"delta":{"content":"x"}}]}`
	p := sseServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeEvents(w, payload, `[DONE]`)
	})

	stream, err := p.ChatCompletionStream(context.Background(), ld.ProviderRequest{Model: "m"})
	require.NoError(t, err)
	defer stream.Close()

	chunk, err := stream.Next()
	require.NoError(t, err)
	assert.Equal(t, payload, string(chunk.Raw))
}

func TestStream_EndOfBodyWithoutDone(t *testing.T) {
	p := sseServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"tail\"}}]}")
	})

	stream, err := p.ChatCompletionStream(context.Background(), ld.ProviderRequest{Model: "m"})
	require.NoError(t, err)
	defer stream.Close()

	text, err := collect(t, stream)
	require.NoError(t, err)
	assert.Equal(t, "tail", text)
}

func TestStream_MidStreamErrorPayload(t *testing.T) {
	p := sseServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeEvents(w,
			`{"choices":[{"delta":{"content":"a"}}]}`,
			`{"error":{"message":"slow down","type":"requests","code":"rate_limit_exceeded"}}`,
		)
	})

	stream, err := p.ChatCompletionStream(context.Background(), ld.ProviderRequest{Model: "m"})
	require.NoError(t, err)
	defer stream.Close()

	text, err := collect(t, stream)
	assert.Equal(t, "a", text)
	assert.ErrorIs(t, err, ld.ErrRateLimited)
	assert.Contains(t, err.Error(), "slow down")
}

func TestStream_StatusMapping(t *testing.T) {
	cases := []struct {
		status int
		want   error
		class  ld.Class
	}{
		{http.StatusTooManyRequests, ld.ErrRateLimited, ld.ClassRateLimited},
		{http.StatusUnauthorized, ld.ErrAuthFailed, ld.ClassClientInvalid},
		{http.StatusForbidden, ld.ErrAuthFailed, ld.ClassClientInvalid},
		{http.StatusBadRequest, ld.ErrClientInvalid, ld.ClassClientInvalid},
		{http.StatusNotFound, ld.ErrClientInvalid, ld.ClassClientInvalid},
		{http.StatusUnprocessableEntity, ld.ErrClientInvalid, ld.ClassClientInvalid},
		{http.StatusInternalServerError, ld.ErrProviderUnavailable, ld.ClassTransient},
		{http.StatusBadGateway, ld.ErrProviderUnavailable, ld.ClassTransient},
	}
	for _, tc := range cases {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			p := sseServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set(ld.HeaderRemainingRequests, "0")
				w.Header().Set(ld.HeaderResetRequests, "2s")
				w.WriteHeader(tc.status)
				fmt.Fprint(w, `{"error":{"message":"nope"}}`)
			})

			_, err := p.ChatCompletionStream(context.Background(), ld.ProviderRequest{Model: "m"})
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.want)
			assert.Equal(t, tc.class, ld.Classify(err))

			var pe *ld.ProviderError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, tc.status, pe.StatusCode)
			assert.Equal(t, "0", pe.Header.Get(ld.HeaderRemainingRequests))
			assert.Contains(t, pe.Body, "nope")
		})
	}
}

func TestStream_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	p := openaicompat.New("test", url)
	_, err := p.ChatCompletionStream(context.Background(), ld.ProviderRequest{Model: "m"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ld.ErrProviderUnavailable)
	assert.Equal(t, ld.ClassTransient, ld.Classify(err))
}

func TestNewOpenAI(t *testing.T) {
	assert.Equal(t, "openai", openaicompat.NewOpenAI().Name())
}
