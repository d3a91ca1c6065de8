// Package artifact persists request metadata, stream transcripts, results
// and a transition history under a directory. Every write goes through a
// per-path writequeue, so callers never block on disk.
package artifact

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	ld "github.com/ineyio/llmdispatch"
	"github.com/ineyio/llmdispatch/writequeue"
)

// StampLayout is the timestamp prefix of per-request file names.
const StampLayout = "20060102T150405.000"

// HistoryFile is the name of the transition log.
const HistoryFile = "history.log"

var unsafeLabel = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Store writes artifacts below a directory.
type Store struct {
	dir    string
	queue  *writequeue.Queue
	logger *slog.Logger
}

var (
	_ ld.ArtifactStore = (*Store)(nil)
	_ ld.Meter         = (*Store)(nil)
)

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger for encoding and write failures.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithQueue shares a write queue.
func WithQueue(q *writequeue.Queue) Option {
	return func(s *Store) { s.queue = q }
}

// New creates a Store rooted at dir.
func New(dir string, opts ...Option) *Store {
	s := &Store{dir: dir}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.queue == nil {
		s.queue = writequeue.New(writequeue.WithLogger(s.logger))
	}
	return s
}

// Dir returns the root directory.
func (s *Store) Dir() string { return s.dir }

// SanitizeLabel replaces every run of characters outside [A-Za-z0-9._-]
// with a single underscore.
func SanitizeLabel(label string) string {
	clean := strings.Trim(unsafeLabel.ReplaceAllString(label, "_"), "_")
	if clean == "" {
		return "request"
	}
	return clean
}

// Base returns the shared file name prefix of a request's artifacts.
func Base(ref ld.ArtifactRef) string {
	return ref.Submitted.Format(StampLayout) + "-" + SanitizeLabel(ref.Label)
}

// MetadataPath returns the path of the request metadata file.
func (s *Store) MetadataPath(ref ld.ArtifactRef) string {
	return filepath.Join(s.dir, Base(ref)+".json")
}

// TranscriptPath returns the path of the raw chunk transcript.
func (s *Store) TranscriptPath(ref ld.ArtifactRef) string {
	return filepath.Join(s.dir, Base(ref)+".txt")
}

// ResultPath returns the path of the result file: .result.json when a
// structured response was requested, .result.md otherwise.
func (s *Store) ResultPath(ref ld.ArtifactRef) string {
	ext := ".result.md"
	if ref.Structured {
		ext = ".result.json"
	}
	return filepath.Join(s.dir, Base(ref)+ext)
}

// HistoryPath returns the path of the transition log.
func (s *Store) HistoryPath() string {
	return filepath.Join(s.dir, HistoryFile)
}

// metadata is the on-disk shape of the metadata file.
type metadata struct {
	ID        string             `json:"id"`
	Label     string             `json:"label"`
	Bucket    ld.Bucket          `json:"bucket"`
	Submitted time.Time          `json:"submitted"`
	Request   ld.ProviderRequest `json:"request"`
	Response  ld.ResponseMeta    `json:"response"`
}

func (s *Store) WriteMetadata(ref ld.ArtifactRef, meta ld.ResponseMeta) {
	payload, err := json.MarshalIndent(metadata{
		ID:        ref.ID,
		Label:     ref.Label,
		Bucket:    ref.Bucket,
		Submitted: ref.Submitted,
		Request:   ref.Request,
		Response:  meta,
	}, "", "  ")
	if err != nil {
		s.logger.Error("artifact: encode metadata failed",
			"id", ref.ID,
			"label", ref.Label,
			"error", err,
		)
		return
	}
	s.queue.Enqueue(s.MetadataPath(ref), append(payload, '\n'), writequeue.Overwrite)
}

func (s *Store) AppendChunk(ref ld.ArtifactRef, raw []byte) {
	line := make([]byte, 0, len(raw)+1)
	line = append(line, raw...)
	line = append(line, '\n')
	s.queue.Enqueue(s.TranscriptPath(ref), line, writequeue.Append)
}

func (s *Store) WriteResult(ref ld.ArtifactRef, text string) {
	s.queue.Enqueue(s.ResultPath(ref), []byte(text), writequeue.Overwrite)
}

// OnTransition appends one tab-delimited line to the history log.
func (s *Store) OnTransition(e ld.TransitionEvent) {
	errText := ""
	if e.Err != nil {
		errText = strings.NewReplacer("\t", " ", "\n", " ").Replace(e.Err.Error())
	}
	line := fmt.Sprintf("%s\t%s\t%s\t%s\t%s\t%d\t%d\t%d\t%d\t%.6f\t%s\n",
		e.Time.UTC().Format(time.RFC3339Nano),
		e.ID,
		SanitizeLabel(e.Label),
		e.Bucket,
		e.Phase,
		e.Attempt,
		e.Elapsed.Milliseconds(),
		e.PromptUnits,
		e.CompletionUnits,
		e.Cost,
		errText,
	)
	s.queue.Enqueue(s.HistoryPath(), []byte(line), writequeue.Append)
}

// Flush waits until every artifact enqueued so far is on disk.
func (s *Store) Flush(ctx context.Context) error {
	return s.queue.Flush(ctx)
}

// Close stops accepting artifacts and flushes the rest.
func (s *Store) Close(ctx context.Context) error {
	return s.queue.Close(ctx)
}
