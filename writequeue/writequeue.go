// Package writequeue serializes file writes per target path.
//
// Writes to the same path are applied strictly in submission order and never
// interleave. Writes to different paths are independent. A failed write is
// logged and the path's lane moves on to the next entry.
package writequeue

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// Mode selects how a payload is applied to its path.
type Mode int

const (
	// Overwrite replaces the file content atomically.
	Overwrite Mode = iota
	// Append appends the payload to the end of the file.
	Append
)

func (m Mode) String() string {
	switch m {
	case Overwrite:
		return "overwrite"
	case Append:
		return "append"
	default:
		return "unknown"
	}
}

type entry struct {
	path    string
	payload []byte
	mode    Mode
	seq     uint64
}

// lane holds the pending entries of one path. A lane exists only while a
// worker goroutine is draining it.
type lane struct {
	pending  []entry
	inflight bool
	last     uint64 // seq of the newest entry enqueued
	applied  uint64 // seq of the newest entry applied
}

// flushWaiter is a Flush call waiting for its lanes to reach their targets.
type flushWaiter struct {
	targets map[*lane]uint64
	done    chan struct{}
}

// Queue is a per-path write queue.
type Queue struct {
	mu      sync.Mutex
	lanes   map[string]*lane
	closed  bool
	seq     uint64
	waiters []*flushWaiter

	logger   *slog.Logger
	permFile os.FileMode
	permDir  os.FileMode

	// write applies one entry; replaced in tests.
	write func(e entry) error
}

// Option configures a Queue.
type Option func(*Queue)

// WithLogger sets the logger used for write failures.
func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) { q.logger = l }
}

// WithPerm sets file and directory permissions.
func WithPerm(file, dir os.FileMode) Option {
	return func(q *Queue) {
		if file != 0 {
			q.permFile = file
		}
		if dir != 0 {
			q.permDir = dir
		}
	}
}

// New creates an empty Queue.
func New(opts ...Option) *Queue {
	q := &Queue{
		lanes:    make(map[string]*lane),
		permFile: 0o644,
		permDir:  0o755,
	}
	for _, opt := range opts {
		opt(q)
	}
	if q.logger == nil {
		q.logger = slog.Default()
	}
	if q.write == nil {
		q.write = q.apply
	}
	return q
}

// Enqueue schedules a write and returns immediately. If no write is in
// flight for path the write starts now; otherwise it runs after every entry
// already queued for path.
func (q *Queue) Enqueue(path string, payload []byte, mode Mode) {
	path = filepath.Clean(path)

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		q.logger.Warn("writequeue: enqueue after close",
			"path", path,
			"mode", mode.String(),
		)
		return
	}
	q.seq++
	e := entry{path: path, payload: payload, mode: mode, seq: q.seq}
	if l, ok := q.lanes[path]; ok {
		l.pending = append(l.pending, e)
		l.last = e.seq
		q.mu.Unlock()
		return
	}
	l := &lane{pending: []entry{e}, last: e.seq}
	q.lanes[path] = l
	q.mu.Unlock()

	go q.drain(path, l)
}

// drain applies a lane's entries in order until it is empty.
func (q *Queue) drain(path string, l *lane) {
	var applied uint64
	for {
		q.mu.Lock()
		if applied != 0 {
			l.applied = applied
			q.notify(l)
		}
		l.inflight = false
		if len(l.pending) == 0 {
			delete(q.lanes, path)
			q.mu.Unlock()
			return
		}
		e := l.pending[0]
		l.pending[0] = entry{}
		l.pending = l.pending[1:]
		l.inflight = true
		q.mu.Unlock()

		if err := q.write(e); err != nil {
			q.logger.Error("writequeue: write failed",
				"path", e.path,
				"mode", e.mode.String(),
				"bytes", len(e.payload),
				"error", err,
			)
		}
		applied = e.seq
	}
}

// notify releases the Flush calls whose targets l has reached. Must be
// called with q.mu held.
func (q *Queue) notify(l *lane) {
	kept := q.waiters[:0]
	for _, w := range q.waiters {
		if t, ok := w.targets[l]; ok && t <= l.applied {
			delete(w.targets, l)
		}
		if len(w.targets) == 0 {
			close(w.done)
			continue
		}
		kept = append(kept, w)
	}
	for i := len(kept); i < len(q.waiters); i++ {
		q.waiters[i] = nil
	}
	q.waiters = kept
}

// Pending returns the number of entries not yet applied for path,
// including the one in flight.
func (q *Queue) Pending(path string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	l, ok := q.lanes[filepath.Clean(path)]
	if !ok {
		return 0
	}
	n := len(l.pending)
	if l.inflight {
		n++
	}
	return n
}

// Flush blocks until every entry enqueued before the call has been applied
// or ctx is done. Entries enqueued after the call do not hold it up.
func (q *Queue) Flush(ctx context.Context) error {
	q.mu.Lock()
	w := &flushWaiter{targets: make(map[*lane]uint64), done: make(chan struct{})}
	for _, l := range q.lanes {
		if l.last > l.applied {
			w.targets[l] = l.last
		}
	}
	if len(w.targets) == 0 {
		q.mu.Unlock()
		return nil
	}
	q.waiters = append(q.waiters, w)
	q.mu.Unlock()

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		q.mu.Lock()
		for i, o := range q.waiters {
			if o == w {
				q.waiters = append(q.waiters[:i], q.waiters[i+1:]...)
				break
			}
		}
		q.mu.Unlock()
		return ctx.Err()
	}
}

// Close stops accepting entries and flushes the rest.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	return q.Flush(ctx)
}

func (q *Queue) apply(e entry) error {
	if err := os.MkdirAll(filepath.Dir(e.path), q.permDir); err != nil {
		return fmt.Errorf("writequeue: mkdir: %w", err)
	}
	switch e.mode {
	case Append:
		return q.appendFile(e.path, e.payload)
	case Overwrite:
		return q.replaceFile(e.path, e.payload)
	default:
		return fmt.Errorf("writequeue: unknown mode %d", e.mode)
	}
}

func (q *Queue) appendFile(path string, payload []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, q.permFile)
	if err != nil {
		return fmt.Errorf("writequeue: open: %w", err)
	}
	if _, err := f.Write(payload); err != nil {
		f.Close()
		return fmt.Errorf("writequeue: append: %w", err)
	}
	return f.Close()
}

// replaceFile writes to a temp file in the same directory and renames it
// over the target.
func (q *Queue) replaceFile(path string, payload []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("writequeue: create temp: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("writequeue: write temp: %w", err)
	}
	if err := tmp.Chmod(q.permFile); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("writequeue: chmod temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("writequeue: close temp: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("writequeue: rename: %w", err)
	}
	return nil
}
