// Package wal implements an append-only write-ahead log: one observation
// per line, comma/semicolon escaped fields, size-based rotation, and
// streaming cutoff-filtered replay.
//
// A single goroutine owns the active file and serializes all appends and
// the final close over an unbuffered request/reply channel (worker.go),
// so callers never touch the file descriptor directly and ordering falls
// out of the channel hand-off rather than a mutex.
package wal

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/atomic"

	"tsstore/datapoint"
)

// ErrClosed is returned by Append once the WAL has been closed. Repeated
// calls to Close return nil.
var ErrClosed = errors.New("wal: closed")

// DefaultRotateThreshold is the size, in bytes, at which the active WAL
// file is rotated out (50 MiB).
const DefaultRotateThreshold int64 = 50 * 1024 * 1024

// WAL is a single-writer, append-only log of Observations backed by a
// local file, with rename-based size rotation.
type WAL struct {
	dir        string
	activeName string

	file   *os.File
	writer *bufio.Writer
	size   int64

	rotateThreshold int64

	reqChan  chan request
	doneChan chan struct{}
	closed   atomic.Bool

	logger  log.Logger
	metrics *walMetrics
}

// Option configures a WAL at construction time.
type Option func(*WAL)

// WithLogger attaches a structured logger used for replay/rotation
// diagnostics. Defaults to a no-op logger.
func WithLogger(logger log.Logger) Option {
	return func(w *WAL) { w.logger = logger }
}

// WithRegisterer attaches a Prometheus registerer for WAL metrics. A nil
// registerer (the default) disables exposition without disabling counting.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(w *WAL) { w.metrics = newWALMetrics(reg) }
}

// WithRotateThreshold overrides DefaultRotateThreshold; primarily useful in
// tests that want to exercise rotation without writing 50 MiB of data.
func WithRotateThreshold(bytes int64) Option {
	return func(w *WAL) { w.rotateThreshold = bytes }
}

// Open opens (creating if absent) the WAL's active file at path, creating
// parent directories as needed, and starts the single writer goroutine.
func Open(path string, opts ...Option) (*WAL, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("wal: create dir: %w", err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("wal: open: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("wal: stat: %w", err)
	}

	w := &WAL{
		dir:             dir,
		activeName:      filepath.Base(path),
		file:            f,
		writer:          bufio.NewWriter(f),
		size:            info.Size(),
		rotateThreshold: DefaultRotateThreshold,
		reqChan:         make(chan request),
		doneChan:        make(chan struct{}),
		logger:          log.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.metrics == nil {
		w.metrics = newWALMetrics(nil)
	}

	go w.run()
	return w, nil
}

// Path returns the path of the currently active WAL file.
func (w *WAL) Path() string {
	return filepath.Join(w.dir, w.activeName)
}

// Append durably records obs: callers block until the encoded line has
// been written and fsynced. A failed append is surfaced to the caller
// unmodified so Store can turn it into a rejected insert without touching
// the index.
func (w *WAL) Append(obs datapoint.Observation) error {
	if w.closed.Load() {
		return ErrClosed
	}

	line := EncodeRecord(obs)
	reply := make(chan response, 1)

	select {
	case w.reqChan <- request{operation: opAppend, line: line, reply: reply}:
		resp := <-reply
		return resp.err
	case <-w.doneChan:
		return ErrClosed
	}
}

// appendLocked runs on the worker goroutine only. It checks for rotation,
// writes the line, and flushes + fsyncs before returning.
func (w *WAL) appendLocked(line string) error {
	if w.size >= w.rotateThreshold {
		if err := w.rotateLocked(); err != nil {
			// Best-effort: rotation failure must not crash the process, but
			// must surface an error. Log it and keep appending to the
			// oversized active file rather than losing the write entirely.
			level.Error(w.logger).Log("msg", "wal rotation failed, continuing without rotating", "err", err)
			w.metrics.rotationErrors.Inc()
		}
	}

	n, err := w.writer.WriteString(line + "\n")
	if err != nil {
		return fmt.Errorf("wal: write: %w", err)
	}
	if err := w.writer.Flush(); err != nil {
		return fmt.Errorf("wal: flush: %w", err)
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("wal: fsync: %w", err)
	}

	w.size += int64(n)
	w.metrics.appendsTotal.Inc()
	w.metrics.bytesWritten.Add(float64(n))
	return nil
}

// rotateLocked closes the active file, renames it to
// timeseries_<millis>.log, and opens a fresh empty active file in its
// place. Called only from the worker goroutine.
func (w *WAL) rotateLocked() error {
	if err := w.writer.Flush(); err != nil {
		return fmt.Errorf("flush before rotate: %w", err)
	}
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("close before rotate: %w", err)
	}

	activePath := filepath.Join(w.dir, w.activeName)
	rotatedPath := filepath.Join(w.dir, rotatedName())
	if err := os.Rename(activePath, rotatedPath); err != nil {
		// Try to keep the WAL usable even if the rename failed: reopen the
		// same file rather than leaving w.file closed.
		f, reopenErr := os.OpenFile(activePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if reopenErr == nil {
			w.file = f
			w.writer = bufio.NewWriter(f)
		}
		return fmt.Errorf("rename: %w", err)
	}

	f, err := os.OpenFile(activePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("create fresh active file: %w", err)
	}
	w.file = f
	w.writer = bufio.NewWriter(f)
	w.size = 0
	w.metrics.rotationsTotal.Inc()
	return nil
}

func rotatedName() string {
	return fmt.Sprintf("timeseries_%d.log", time.Now().UnixMilli())
}

// Replay streams the active WAL file line by line, decoding each into an
// Observation and handing it to sink when its timestamp is >= cutoff.
// Malformed lines are logged and skipped; replay never aborts on a single
// bad record. Replay reads only the active file; rotated siblings are not
// replayed (see DESIGN.md).
func (w *WAL) Replay(cutoff int64, sink func(datapoint.Observation)) error {
	path := w.Path()
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("wal: open for replay: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		obs, err := DecodeRecord(line)
		if err != nil {
			level.Warn(w.logger).Log("msg", "skipping malformed wal record", "err", err)
			w.metrics.replayErrors.Inc()
			continue
		}

		if obs.Timestamp >= cutoff {
			sink(obs)
		}
	}
	return scanner.Err()
}

// Close flushes and closes the active WAL file. Safe to call multiple
// times; only the first call has effect.
func (w *WAL) Close() error {
	if w.closed.Swap(true) {
		return nil
	}

	reply := make(chan response, 1)
	select {
	case w.reqChan <- request{operation: opClose, reply: reply}:
		resp := <-reply
		close(w.doneChan)
		return resp.err
	case <-time.After(5 * time.Second):
		// Safety guard against a wedged worker goroutine.
		close(w.doneChan)
		return errors.New("wal: worker did not respond to close")
	}
}

func (w *WAL) closeLocked() error {
	if err := w.writer.Flush(); err != nil {
		_ = w.file.Close()
		return fmt.Errorf("wal: flush on close: %w", err)
	}
	if err := w.file.Sync(); err != nil {
		_ = w.file.Close()
		return fmt.Errorf("wal: fsync on close: %w", err)
	}
	return w.file.Close()
}
