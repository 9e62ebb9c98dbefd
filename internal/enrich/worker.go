// Package enrich tags saved recordings with a location in the background.
package enrich

import (
	"context"
	"log/slog"
	"sync"

	"github.com/audiolibrelab/echoprint/internal/location"
)

type Resolver interface {
	Resolve(ctx context.Context) location.Fix
}

type LocationStore interface {
	UpdateLocation(ctx context.Context, id int64, lat, lng float64, place string) (int64, error)
}

type Options struct {
	QueueSize int
	Workers   int
	// WriteUnresolved stores the unset sentinel when no fix is found instead
	// of leaving the row untouched.
	WriteUnresolved bool
}

// Worker resolves and stores locations for recording ids received through
// Enqueue. Work is fire-and-forget: failures are logged only.
type Worker struct {
	resolver Resolver
	store    LocationStore
	opts     Options

	mu     sync.RWMutex
	jobs   chan int64
	closed bool

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

func NewWorker(resolver Resolver, store LocationStore, opts Options) *Worker {
	if opts.QueueSize < 1 {
		opts.QueueSize = 1
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	return &Worker{
		resolver: resolver,
		store:    store,
		opts:     opts,
		jobs:     make(chan int64, opts.QueueSize),
		cancel:   func() {},
	}
}

// Start launches the worker goroutines. ctx bounds every resolution.
func (w *Worker) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	for i := 0; i < w.opts.Workers; i++ {
		w.wg.Add(1)
		go w.worker(ctx)
	}
	slog.Debug("Enrichment worker started", "workers", w.opts.Workers, "queue", w.opts.QueueSize)
}

// Enqueue schedules id without blocking. It returns false when the queue is
// full or the worker is shutting down.
func (w *Worker) Enqueue(id int64) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.closed {
		slog.Warn("Enrichment worker stopped, recording keeps no location", "id", id)
		return false
	}

	select {
	case w.jobs <- id:
		return true
	default:
		slog.Warn("Enrichment queue full, recording keeps no location", "id", id)
		return false
	}
}

// Shutdown stops intake and waits for queued work until ctx expires.
// Anything still pending after that is dropped.
func (w *Worker) Shutdown(ctx context.Context) error {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.jobs)
	}
	w.mu.Unlock()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.cancel()
		return nil
	case <-ctx.Done():
		w.cancel()
		slog.Warn("Enrichment drain timed out, pending locations dropped", "pending", len(w.jobs))
		return ctx.Err()
	}
}

func (w *Worker) worker(ctx context.Context) {
	defer w.wg.Done()

	for id := range w.jobs {
		if ctx.Err() != nil {
			continue
		}
		w.process(ctx, id)
	}
}

func (w *Worker) process(ctx context.Context, id int64) {
	fix := w.resolver.Resolve(ctx)

	if !fix.Known() && !w.opts.WriteUnresolved {
		slog.Debug("Location unresolved, leaving recording untouched", "id", id)
		return
	}

	n, err := w.store.UpdateLocation(ctx, id, fix.Latitude, fix.Longitude, fix.Place)
	if err != nil {
		slog.Error("Failed to store recording location", "id", id, "error", err)
		return
	}
	if n == 0 {
		slog.Info("Recording removed before its location was stored", "id", id)
		return
	}
	slog.Debug("Recording location stored", "id", id, "known", fix.Known(), "place", fix.Place)
}
