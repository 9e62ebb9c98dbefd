package enrich

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/audiolibrelab/echoprint/internal/location"
)

type staticResolver struct {
	fix   location.Fix
	gate  chan struct{}
	calls int
	mu    sync.Mutex
}

func (r *staticResolver) Resolve(ctx context.Context) location.Fix {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()
	if r.gate != nil {
		select {
		case <-r.gate:
		case <-ctx.Done():
			return location.Unknown()
		}
	}
	return r.fix
}

type update struct {
	id       int64
	lat, lng float64
	place    string
}

type fakeStore struct {
	mu      sync.Mutex
	updates []update
	missing map[int64]bool
	err     error
}

func (s *fakeStore) UpdateLocation(_ context.Context, id int64, lat, lng float64, place string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return 0, s.err
	}
	if s.missing[id] {
		return 0, nil
	}
	s.updates = append(s.updates, update{id: id, lat: lat, lng: lng, place: place})
	return 1, nil
}

func (s *fakeStore) all() []update {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]update(nil), s.updates...)
}

func drain(t *testing.T, w *Worker) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := w.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

func TestWorkerStoresResolvedLocation(t *testing.T) {
	resolver := &staticResolver{fix: location.Fix{Latitude: -27.5, Longitude: 153.0, Place: "Brisbane, QLD"}}
	store := &fakeStore{}
	w := NewWorker(resolver, store, Options{QueueSize: 4, WriteUnresolved: true})
	w.Start(context.Background())

	if !w.Enqueue(1) || !w.Enqueue(2) {
		t.Fatal("Expected enqueue to succeed")
	}
	drain(t, w)

	got := store.all()
	if len(got) != 2 {
		t.Fatalf("Expected 2 updates, got %d", len(got))
	}
	if got[0].id != 1 || got[0].place != "Brisbane, QLD" || got[0].lat != -27.5 {
		t.Errorf("Unexpected update: %+v", got[0])
	}
}

func TestWorkerUnresolvedPolicy(t *testing.T) {
	for _, writeUnresolved := range []bool{true, false} {
		store := &fakeStore{}
		w := NewWorker(&staticResolver{fix: location.Unknown()}, store, Options{QueueSize: 1, WriteUnresolved: writeUnresolved})
		w.Start(context.Background())
		w.Enqueue(9)
		drain(t, w)

		got := store.all()
		if writeUnresolved {
			if len(got) != 1 || !math.IsNaN(got[0].lat) || !math.IsNaN(got[0].lng) || got[0].place != "" {
				t.Errorf("Expected unset sentinel to be written, got %+v", got)
			}
		} else if len(got) != 0 {
			t.Errorf("Expected no write for unresolved fix, got %+v", got)
		}
	}
}

func TestWorkerToleratesDeletedRowAndErrors(t *testing.T) {
	store := &fakeStore{missing: map[int64]bool{5: true}}
	w := NewWorker(&staticResolver{fix: location.Fix{Latitude: 1, Longitude: 2}}, store, Options{QueueSize: 2})
	w.Start(context.Background())
	w.Enqueue(5)
	w.Enqueue(6)
	drain(t, w)

	got := store.all()
	if len(got) != 1 || got[0].id != 6 {
		t.Errorf("Expected only recording 6 to be updated, got %+v", got)
	}

	failing := &fakeStore{err: errors.New("disk full")}
	w = NewWorker(&staticResolver{fix: location.Fix{Latitude: 1, Longitude: 2}}, failing, Options{})
	w.Start(context.Background())
	w.Enqueue(1)
	drain(t, w)
}

func TestEnqueueWhenFull(t *testing.T) {
	gate := make(chan struct{})
	resolver := &staticResolver{fix: location.Fix{Latitude: 1, Longitude: 1}, gate: gate}
	w := NewWorker(resolver, &fakeStore{}, Options{QueueSize: 1})

	// Not started: the single slot fills and the next id is refused.
	if !w.Enqueue(1) {
		t.Fatal("Expected first enqueue to succeed")
	}
	if w.Enqueue(2) {
		t.Error("Expected enqueue to fail when the queue is full")
	}

	close(gate)
	w.Start(context.Background())
	drain(t, w)

	if w.Enqueue(3) {
		t.Error("Expected enqueue after shutdown to fail")
	}
}

func TestShutdownDropsWorkAfterDeadline(t *testing.T) {
	gate := make(chan struct{})
	defer close(gate)
	resolver := &staticResolver{fix: location.Fix{Latitude: 1, Longitude: 1}, gate: gate}
	store := &fakeStore{}
	w := NewWorker(resolver, store, Options{QueueSize: 4})
	w.Start(context.Background())

	w.Enqueue(1)
	w.Enqueue(2)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if err := w.Shutdown(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Expected deadline error, got %v", err)
	}

	// The blocked resolution observes cancellation and nothing more runs.
	w.wg.Wait()
	for _, u := range store.all() {
		if !math.IsNaN(u.lat) {
			t.Errorf("Expected no resolved location after the deadline, got %+v", u)
		}
	}
}
