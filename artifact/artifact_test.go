package artifact_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ld "github.com/ineyio/llmdispatch"
	"github.com/ineyio/llmdispatch/artifact"
	"github.com/ineyio/llmdispatch/provider/mock"
)

var submitted = time.Date(2026, 3, 4, 5, 6, 7, 890_000_000, time.UTC)

func testRef(label string, structured bool) ld.ArtifactRef {
	return ld.ArtifactRef{
		ID:         "id-1",
		Label:      label,
		Bucket:     ld.BucketGPT4_8K,
		Submitted:  submitted,
		Structured: structured,
		Request: ld.ProviderRequest{
			Auth:     ld.Auth{APIKey: "sk-secret"},
			Model:    "gpt-4",
			Messages: []ld.Message{{Role: "user", Content: "hi"}},
		},
	}
}

func flush(t *testing.T, s *artifact.Store) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Flush(ctx))
}

func read(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(b)
}

func TestSanitizeLabel(t *testing.T) {
	assert.Equal(t, "chapter_3_intro.md", artifact.SanitizeLabel("chapter 3/intro.md"))
	assert.Equal(t, "a-b_c", artifact.SanitizeLabel("a-b   c"))
	assert.Equal(t, "request", artifact.SanitizeLabel("///"))
}

func TestPaths(t *testing.T) {
	s := artifact.New("/tmp/out")
	ref := testRef("my label", false)

	assert.Equal(t, "20260304T050607.890-my_label", artifact.Base(ref))
	assert.Equal(t, "/tmp/out/20260304T050607.890-my_label.json", s.MetadataPath(ref))
	assert.Equal(t, "/tmp/out/20260304T050607.890-my_label.txt", s.TranscriptPath(ref))
	assert.Equal(t, "/tmp/out/20260304T050607.890-my_label.result.md", s.ResultPath(ref))
	assert.Equal(t, "/tmp/out/20260304T050607.890-my_label.result.json", s.ResultPath(testRef("my label", true)))
	assert.Equal(t, "/tmp/out/history.log", s.HistoryPath())
}

func TestMetadata_RewrittenPerAttempt(t *testing.T) {
	s := artifact.New(t.TempDir())
	ref := testRef("meta", false)

	s.WriteMetadata(ref, ld.ResponseMeta{Attempt: 1, StatusCode: 500, Error: "boom"})
	s.WriteMetadata(ref, ld.ResponseMeta{Attempt: 2, StatusCode: 200})
	flush(t, s)

	raw := read(t, s.MetadataPath(ref))
	assert.NotContains(t, raw, "sk-secret")

	var got struct {
		ID       string `json:"id"`
		Bucket   string `json:"bucket"`
		Request  struct {
			Model string `json:"model"`
		} `json:"request"`
		Response ld.ResponseMeta `json:"response"`
	}
	require.NoError(t, json.Unmarshal([]byte(raw), &got))
	assert.Equal(t, "id-1", got.ID)
	assert.Equal(t, "gpt4-8", got.Bucket)
	assert.Equal(t, "gpt-4", got.Request.Model)
	assert.Equal(t, 2, got.Response.Attempt)
	assert.Equal(t, 200, got.Response.StatusCode)
	assert.Empty(t, got.Response.Error)
}

func TestTranscriptAndResult(t *testing.T) {
	s := artifact.New(t.TempDir())
	ref := testRef("t", true)

	s.AppendChunk(ref, []byte(`{"a":1}`))
	s.AppendChunk(ref, []byte(`{"a":2}`))
	s.WriteResult(ref, `{"done":true}`)
	flush(t, s)

	assert.Equal(t, "{\"a\":1}\n{\"a\":2}\n", read(t, s.TranscriptPath(ref)))
	assert.Equal(t, `{"done":true}`, read(t, s.ResultPath(ref)))
}

func TestHistory_TabDelimited(t *testing.T) {
	s := artifact.New(t.TempDir())

	s.OnTransition(ld.TransitionEvent{
		Time:    submitted,
		Phase:   ld.PhaseFailedTerminal,
		ID:      "id-1",
		Label:   "x y",
		Bucket:  ld.BucketGPT35_4K,
		Attempt: 5,
		Elapsed: 250 * time.Millisecond,
		Err:     errors.New("retry over\tbad"),
	})
	flush(t, s)

	fields := strings.Split(strings.TrimSuffix(read(t, s.HistoryPath()), "\n"), "\t")
	require.Len(t, fields, 11)
	assert.Equal(t, "2026-03-04T05:06:07.89Z", fields[0])
	assert.Equal(t, "x_y", fields[2])
	assert.Equal(t, "gpt35-4", fields[3])
	assert.Equal(t, "failed_terminal", fields[4])
	assert.Equal(t, "5", fields[5])
	assert.Equal(t, "250", fields[6])
	assert.Equal(t, "retry over bad", fields[10])
}

func TestStore_WithDispatcher(t *testing.T) {
	dir := t.TempDir()
	s := artifact.New(dir)
	p := mock.New(mock.WithChunks("Hello", ", ", "world"))

	d, err := ld.NewDispatcher(p,
		ld.WithArtifactStore(s),
		ld.WithMeter(s),
		ld.WithPromptCounter(func(string, []ld.Message) int64 { return 10 }),
	)
	require.NoError(t, err)
	defer d.Close()

	res, err := d.Call(context.Background(), ld.Request{Label: "greeting", Model: "gpt-4", Prompt: "hi"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "Hello, world", res.Text)
	flush(t, s)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	require.Len(t, names, 4, names)

	var result, transcript string
	for _, n := range names {
		switch {
		case strings.HasSuffix(n, "-greeting.result.md"):
			result = read(t, dir+"/"+n)
		case strings.HasSuffix(n, "-greeting.txt"):
			transcript = read(t, dir+"/"+n)
		}
	}
	assert.Equal(t, "Hello, world", result)
	assert.Len(t, strings.Split(strings.TrimSpace(transcript), "\n"), 3)

	history := strings.Split(strings.TrimSpace(read(t, dir+"/"+artifact.HistoryFile)), "\n")
	require.Len(t, history, 3)
	assert.Contains(t, history[0], "\tqueued\t")
	assert.Contains(t, history[1], "\texecuting\t")
	assert.Contains(t, history[2], "\tsucceeded\t")
}
