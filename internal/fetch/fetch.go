// Package fetch is the external download collaborator: it fetches wheels
// over HTTP, verifies their declared hash, and reports progress through a
// start/progress/finish callback triplet, per spec §5 ("downloads are an
// external collaborator the core observes, not drives"). Adapted from
// bilusteknoloji-pipg/internal/downloader/downloader.go, generalized from
// PyPI package requests to wheel.Wheel requests and extended with progress
// callbacks and a cooperative abort flag.
package fetch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/blext-tools/blext/internal/wheel"
)

const maxRetries = 3

// retryableError wraps errors that are transient and can be retried.
type retryableError struct{ err error }

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

// Progress reports incremental bytes written for one in-flight download.
type Progress struct {
	Wheel        wheel.Wheel
	BytesWritten int64
	TotalBytes   int64
}

// Result is the outcome of downloading a single wheel.
type Result struct {
	Wheel    wheel.Wheel
	FilePath string
	Size     int64
}

// Fetcher defines the external download collaborator's contract.
type Fetcher interface {
	Fetch(ctx context.Context, wheels []wheel.Wheel) ([]Result, error)
}

// Option configures a Manager.
type Option func(*Manager)

// WithMaxWorkers bounds concurrent downloads. Defaults to GOMAXPROCS.
func WithMaxWorkers(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.maxWorkers = n
		}
	}
}

// WithHTTPClient overrides the HTTP client used for downloads.
func WithHTTPClient(c *http.Client) Option {
	return func(m *Manager) {
		if c != nil {
			m.httpClient = c
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithOnStart registers a callback fired once per wheel, before its first
// byte is requested.
func WithOnStart(fn func(wheel.Wheel)) Option {
	return func(m *Manager) { m.onStart = fn }
}

// WithOnProgress registers a callback fired as chunks are written to disk.
// It may be called frequently; callers that update a UI should debounce.
func WithOnProgress(fn func(Progress)) Option {
	return func(m *Manager) { m.onProgress = fn }
}

// WithOnFinish registers a callback fired once per wheel, with the final
// Result on success or the terminal error on failure.
func WithOnFinish(fn func(wheel.Wheel, Result, error)) Option {
	return func(m *Manager) { m.onFinish = fn }
}

// Manager manages concurrent wheel downloads using errgroup.
type Manager struct {
	targetDir  string
	maxWorkers int
	httpClient *http.Client
	logger     *slog.Logger

	onStart    func(wheel.Wheel)
	onProgress func(Progress)
	onFinish   func(wheel.Wheel, Result, error)

	abort atomic.Bool
}

var _ Fetcher = (*Manager)(nil)

// New creates a Manager downloading into targetDir.
func New(targetDir string, opts ...Option) *Manager {
	m := &Manager{
		targetDir:  targetDir,
		maxWorkers: runtime.GOMAXPROCS(0),
		httpClient: &http.Client{},
		logger:     slog.Default(),
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Abort requests that in-flight and not-yet-started downloads stop at their
// next cooperative checkpoint. Safe to call concurrently with Fetch.
func (m *Manager) Abort() { m.abort.Store(true) }

// ErrAborted is returned by Fetch (wrapped) when Abort was called before a
// wheel's download completed.
var ErrAborted = errors.New("fetch: aborted")

// Fetch downloads every requested wheel concurrently, verifying its
// declared hash. Returns the first non-retryable error; retryable errors
// are retried with exponential backoff, for at most maxRetries attempts in
// all.
func (m *Manager) Fetch(ctx context.Context, wheels []wheel.Wheel) ([]Result, error) {
	results := make([]Result, len(wheels))

	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(m.maxWorkers)

	for i, w := range wheels {
		g.Go(func() error {
			if m.abort.Load() {
				return fmt.Errorf("downloading %s: %w", w.Filename(), ErrAborted)
			}

			if m.onStart != nil {
				m.onStart(w)
			}

			result, err := m.downloadWithRetry(ctx, w)

			if m.onFinish != nil {
				m.onFinish(w, result, err)
			}

			if err != nil {
				return fmt.Errorf("downloading %s: %w", w.Filename(), err)
			}

			mu.Lock()
			results[i] = result
			mu.Unlock()

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return results, nil
}

func (m *Manager) downloadWithRetry(ctx context.Context, w wheel.Wheel) (Result, error) {
	var lastErr error

	for attempt := range maxRetries {
		if m.abort.Load() {
			return Result{}, ErrAborted
		}

		if attempt > 0 {
			backoff := time.Duration(math.Pow(2, float64(attempt))) * 500 * time.Millisecond
			m.logger.Debug("retrying download",
				slog.String("wheel", w.Filename()),
				slog.Int("attempt", attempt+1),
				slog.Duration("backoff", backoff),
			)

			select {
			case <-ctx.Done():
				return Result{}, fmt.Errorf("download canceled: %w", ctx.Err())
			case <-time.After(backoff):
			}
		}

		result, err := m.doDownload(ctx, w)
		if err == nil {
			return result, nil
		}

		var re *retryableError
		if !errors.As(err, &re) {
			return Result{}, err
		}

		lastErr = err
		m.logger.Debug("download attempt failed",
			slog.String("wheel", w.Filename()),
			slog.Int("attempt", attempt+1),
			slog.String("error", err.Error()),
		)
	}

	return Result{}, fmt.Errorf("after %d attempts: %w", maxRetries, lastErr)
}

func (m *Manager) doDownload(ctx context.Context, w wheel.Wheel) (Result, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, w.URL, nil)
	if err != nil {
		return Result{}, fmt.Errorf("creating request: %w", err)
	}

	resp, err := m.httpClient.Do(httpReq)
	if err != nil {
		return Result{}, &retryableError{err: fmt.Errorf("requesting %s: %w", w.URL, err)}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("unexpected status %d from %s", resp.StatusCode, w.URL)

		if resp.StatusCode >= http.StatusInternalServerError {
			return Result{}, &retryableError{err: err}
		}

		return Result{}, err
	}

	destPath := filepath.Join(m.targetDir, w.Filename())
	tmpPath := destPath + ".tmp"

	f, err := os.Create(tmpPath)
	if err != nil {
		return Result{}, fmt.Errorf("creating temp file: %w", err)
	}

	h := sha256.New()

	cw := &countingWriter{inner: io.MultiWriter(f, h)}

	var stop, finished chan struct{}

	if m.onProgress != nil {
		stop = make(chan struct{})
		finished = make(chan struct{})

		go m.reportProgress(w, resp.ContentLength, cw, stop, finished)
	}

	size, copyErr := io.Copy(cw, &abortableReader{ctx: ctx, r: resp.Body, abort: &m.abort})

	if m.onProgress != nil {
		close(stop)
		<-finished
	}

	if err := f.Close(); err != nil && copyErr == nil {
		copyErr = fmt.Errorf("closing temp file: %w", err)
	}

	if copyErr != nil {
		_ = os.Remove(tmpPath)

		return Result{}, fmt.Errorf("writing %s: %w", w.Filename(), copyErr)
	}

	got := "sha256:" + hex.EncodeToString(h.Sum(nil))
	if w.Hash != "" && got != w.Hash {
		_ = os.Remove(tmpPath)

		return Result{}, fmt.Errorf("hash mismatch for %s: expected %s, got %s", w.Filename(), w.Hash, got)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		_ = os.Remove(tmpPath)

		return Result{}, fmt.Errorf("renaming %s: %w", w.Filename(), err)
	}

	return Result{Wheel: w, FilePath: destPath, Size: size}, nil
}

// countingWriter tracks bytes written so a concurrent goroutine can sample
// progress without synchronizing on every chunk.
type countingWriter struct {
	inner   io.Writer
	written atomic.Int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.inner.Write(p)
	c.written.Add(int64(n))

	return n, err
}

func (m *Manager) reportProgress(w wheel.Wheel, total int64, cw *countingWriter, stop, finished chan struct{}) {
	defer close(finished)

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			m.onProgress(Progress{Wheel: w, BytesWritten: cw.written.Load(), TotalBytes: total})

			return
		case <-ticker.C:
			m.onProgress(Progress{Wheel: w, BytesWritten: cw.written.Load(), TotalBytes: total})
		}
	}
}

// abortableReader makes Manager.Abort and context cancellation take effect
// mid-stream rather than only between retry attempts.
type abortableReader struct {
	ctx   context.Context
	r     io.Reader
	abort *atomic.Bool
}

func (a *abortableReader) Read(p []byte) (int, error) {
	if a.abort.Load() {
		return 0, ErrAborted
	}

	select {
	case <-a.ctx.Done():
		return 0, a.ctx.Err()
	default:
	}

	return a.r.Read(p)
}
