package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/audiolibrelab/echoprint/internal/catalog"
	"github.com/audiolibrelab/echoprint/internal/config"
	"github.com/audiolibrelab/echoprint/internal/location"
	"github.com/audiolibrelab/echoprint/internal/playback"
	"github.com/audiolibrelab/echoprint/internal/service"
	"github.com/audiolibrelab/echoprint/internal/vault"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")

type idleStream struct {
	once sync.Once
	done chan struct{}
}

func (s *idleStream) Play() error             { return nil }
func (s *idleStream) Stop() error             { s.once.Do(func() { close(s.done) }); return nil }
func (s *idleStream) Position() time.Duration { return time.Second }
func (s *idleStream) Duration() time.Duration { return 4 * time.Second }
func (s *idleStream) Playing() bool           { return true }
func (s *idleStream) Done() <-chan struct{}   { return s.done }

type idleOpener struct{}

func (idleOpener) Open(string) (playback.Stream, error) {
	return &idleStream{done: make(chan struct{})}, nil
}

type fixedResolver struct{ fix location.Fix }

func (r fixedResolver) Resolve(context.Context) location.Fix { return r.fix }

type fixture struct {
	handler http.Handler
	server  *Server
	store   *catalog.Store
	vault   *vault.Vault
}

func newFixture(t *testing.T, fix location.Fix) *fixture {
	t.Helper()

	v := vault.New(afero.NewMemMapFs(), "/data", vault.Options{})
	store := catalog.New(filepath.Join(t.TempDir(), "echoprint.db"), catalog.WithBlobRemover(v))
	t.Cleanup(func() { store.Close() })

	ctrl := playback.NewController(idleOpener{},
		playback.WithInterval(time.Hour),
		playback.WithFileCheck(v.Exists))
	t.Cleanup(ctrl.StopAll)

	lib := service.New(store, v, ctrl, fixedResolver{fix: fix})
	srv := New(lib, v, config.ServerConfig{Host: "127.0.0.1", Port: 8080})
	return &fixture{handler: srv.Router(), server: srv, store: store, vault: v}
}

func (f *fixture) add(t *testing.T, title string, created time.Time) catalog.Recording {
	t.Helper()

	path, err := f.vault.AudioPath(title)
	if err != nil {
		t.Fatalf("AudioPath: %v", err)
	}
	if err := f.vault.WriteAudio(path, strings.NewReader("RIFF")); err != nil {
		t.Fatalf("WriteAudio: %v", err)
	}
	rec := catalog.NewRecording(title, path, created)
	if _, err := f.store.Add(context.Background(), &rec); err != nil {
		t.Fatalf("Add: %v", err)
	}
	return rec
}

func (f *fixture) do(t *testing.T, method, target string, body string) *httptest.ResponseRecorder {
	t.Helper()

	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()

	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return v
}

func TestListAndGet(t *testing.T) {
	f := newFixture(t, location.Unknown())
	base := time.Date(2025, 10, 25, 12, 0, 0, 0, time.UTC)
	f.add(t, "First", base)
	second := f.add(t, "Second", base.Add(time.Minute))

	w := f.do(t, http.MethodGet, "/api/recordings", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	list := decode[[]RecordingResponse](t, w)
	if len(list) != 2 || list[0].Title != "Second" {
		t.Fatalf("Expected newest first, got %+v", list)
	}
	if list[0].Latitude != nil || list[0].MapURL != "" || list[0].Button != "Play" {
		t.Errorf("Unexpected row %+v", list[0])
	}

	w = f.do(t, http.MethodGet, fmt.Sprintf("/api/recordings/%d", second.ID), "")
	if got := decode[RecordingResponse](t, w); got.ID != second.ID {
		t.Errorf("Expected recording %d, got %+v", second.ID, got)
	}

	if w := f.do(t, http.MethodGet, "/api/recordings/999", ""); w.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", w.Code)
	}
	if w := f.do(t, http.MethodGet, "/api/recordings/abc", ""); w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", w.Code)
	}
}

func TestFavorite(t *testing.T) {
	f := newFixture(t, location.Unknown())
	rec := f.add(t, "Song", time.Now())
	target := fmt.Sprintf("/api/recordings/%d/favorite", rec.ID)

	w := f.do(t, http.MethodPut, target, `{"favorite": true}`)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if got := decode[RecordingResponse](t, w); !got.Favorite {
		t.Error("Expected recording to be a favorite")
	}

	favs := decode[[]RecordingResponse](t, f.do(t, http.MethodGet, "/api/favorites", ""))
	if len(favs) != 1 {
		t.Errorf("Expected 1 favorite, got %d", len(favs))
	}

	tests := []struct {
		name string
		body string
		code int
	}{
		{"missing field", `{}`, http.StatusBadRequest},
		{"empty body", ``, http.StatusBadRequest},
		{"malformed", `{"favorite":`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPut, target, strings.NewReader(tt.body))
			w := httptest.NewRecorder()
			f.handler.ServeHTTP(w, req)
			if w.Code != tt.code {
				t.Errorf("Expected %d, got %d", tt.code, w.Code)
			}
		})
	}

	if w := f.do(t, http.MethodPut, "/api/recordings/999/favorite", `{"favorite": false}`); w.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", w.Code)
	}
}

func TestPlayPerView(t *testing.T) {
	f := newFixture(t, location.Unknown())
	rec := f.add(t, "Loop", time.Now())
	play := fmt.Sprintf("/api/recordings/%d/play", rec.ID)

	w := f.do(t, http.MethodPost, play+"?view=favorites", "")
	if got := decode[PlayResponse](t, w); !got.Playing || got.Button != "Stop" {
		t.Fatalf("Expected playing on favorites, got %+v", got)
	}

	state := decode[PlaybackResponse](t, f.do(t, http.MethodGet, "/api/playback", ""))
	if !state.Active || state.ID != rec.ID || state.Ratio != 0.25 {
		t.Errorf("Unexpected playback %+v", state)
	}
	if !state.Views[ViewFavorites].Playing || state.Views[ViewAll].Playing {
		t.Errorf("Expected only favorites view to be playing, got %+v", state.Views)
	}

	// The same recording from the other list moves the session there.
	w = f.do(t, http.MethodPost, play, "")
	if got := decode[PlayResponse](t, w); !got.Playing {
		t.Fatalf("Expected playing on all, got %+v", got)
	}
	state = decode[PlaybackResponse](t, f.do(t, http.MethodGet, "/api/playback", ""))
	if state.Views[ViewFavorites].Playing || !state.Views[ViewAll].Playing {
		t.Errorf("Expected session to move to all view, got %+v", state.Views)
	}

	// Stop from a view that does not own the session is a no-op.
	stop := fmt.Sprintf("/api/recordings/%d/stop?view=favorites", rec.ID)
	if got := decode[StopResponse](t, f.do(t, http.MethodPost, stop, "")); got.Stopped {
		t.Error("Expected stop from favorites to be ignored")
	}

	// Toggle on the owning view stops.
	if got := decode[PlayResponse](t, f.do(t, http.MethodPost, play, "")); got.Playing || got.Button != "Play" {
		t.Errorf("Expected toggle to stop, got %+v", got)
	}

	if w := f.do(t, http.MethodPost, play+"?view=bogus", ""); w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for unknown view, got %d", w.Code)
	}
}

func TestPlayMissingFile(t *testing.T) {
	f := newFixture(t, location.Unknown())
	rec := catalog.NewRecording("ghost", "/data/Recordings/ghost.wav", time.Now())
	if _, err := f.store.Add(context.Background(), &rec); err != nil {
		t.Fatalf("Add: %v", err)
	}

	w := f.do(t, http.MethodPost, fmt.Sprintf("/api/recordings/%d/play", rec.ID), "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("Expected 404, got %d", w.Code)
	}
	if got := decode[ErrorResponse](t, w); got.Error != "File not found." {
		t.Errorf("Unexpected error %q", got.Error)
	}
}

func TestDeleteWhilePlaying(t *testing.T) {
	f := newFixture(t, location.Unknown())
	rec := f.add(t, "Gone", time.Now())

	f.do(t, http.MethodPost, fmt.Sprintf("/api/recordings/%d/play", rec.ID), "")

	w := f.do(t, http.MethodDelete, fmt.Sprintf("/api/recordings/%d", rec.ID), "")
	if w.Code != http.StatusNoContent {
		t.Fatalf("Expected 204, got %d", w.Code)
	}
	state := decode[PlaybackResponse](t, f.do(t, http.MethodGet, "/api/playback", ""))
	if state.Active || state.Views[ViewAll].Playing {
		t.Errorf("Expected playback to stop on delete, got %+v", state)
	}
	if f.vault.Exists(rec.FilePath) {
		t.Error("Expected audio file to be removed")
	}

	if w := f.do(t, http.MethodDelete, fmt.Sprintf("/api/recordings/%d", rec.ID), ""); w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 on second delete, got %d", w.Code)
	}
}

func TestPhotoUploadAndServe(t *testing.T) {
	f := newFixture(t, location.Unknown())
	rec := f.add(t, "Snap", time.Now())
	target := fmt.Sprintf("/api/recordings/%d/photo", rec.ID)

	if w := f.do(t, http.MethodGet, target, ""); w.Code != http.StatusNotFound {
		t.Fatalf("Expected 404 before upload, got %d", w.Code)
	}

	upload := func(name string, data []byte) *httptest.ResponseRecorder {
		var body bytes.Buffer
		mw := multipart.NewWriter(&body)
		part, _ := mw.CreateFormFile("photo", name)
		part.Write(data)
		mw.Close()

		req := httptest.NewRequest(http.MethodPost, target, &body)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		w := httptest.NewRecorder()
		f.handler.ServeHTTP(w, req)
		return w
	}

	if w := upload("notes.txt", []byte("just text")); w.Code != http.StatusUnsupportedMediaType {
		t.Errorf("Expected 415 for a non-image, got %d", w.Code)
	}

	w := upload("cover.png", pngHeader)
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", w.Code, w.Body.String())
	}

	w = f.do(t, http.MethodGet, target, "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("Expected image/png, got %s", ct)
	}
	if !bytes.Equal(w.Body.Bytes(), pngHeader) {
		t.Error("Served photo differs from upload")
	}

	got := decode[RecordingResponse](t, f.do(t, http.MethodGet, fmt.Sprintf("/api/recordings/%d", rec.ID), ""))
	if got.PhotoURL != target {
		t.Errorf("Expected photo url %s, got %s", target, got.PhotoURL)
	}
}

func TestLocate(t *testing.T) {
	f := newFixture(t, location.Unknown())
	rec := f.add(t, "Nowhere", time.Now())

	w := f.do(t, http.MethodPost, fmt.Sprintf("/api/recordings/%d/locate", rec.ID), "")
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("Expected 422, got %d", w.Code)
	}

	f = newFixture(t, location.Fix{Latitude: 48.8584, Longitude: 2.2945, Place: "Paris, Ile-de-France"})
	rec = f.add(t, "Somewhere", time.Now())

	w = f.do(t, http.MethodPost, fmt.Sprintf("/api/recordings/%d/locate", rec.ID), "")
	if got := decode[LocateResponse](t, w); got.URL != "https://maps.google.com/?q=48.8584,2.2945" {
		t.Errorf("Unexpected url %q", got.URL)
	}

	row := decode[RecordingResponse](t, f.do(t, http.MethodGet, fmt.Sprintf("/api/recordings/%d", rec.ID), ""))
	if row.Latitude == nil || *row.Latitude != 48.8584 || row.PlaceName != "Paris, Ile-de-France" {
		t.Errorf("Expected stored location, got %+v", row)
	}
}

func TestViewIgnoresStaleHandles(t *testing.T) {
	v := NewView(ViewAll)
	v.PlaybackStarted(1, 10)
	v.PlaybackStarted(2, 11)
	v.PlaybackStopped(1, 10)
	v.PlaybackProgress(1, 0.9)

	state := v.State()
	if !state.Playing || state.PlayingID != 11 || state.Progress != 0 {
		t.Errorf("Expected stale callbacks to be ignored, got %+v", state)
	}
	if v.Label(11) != "Stop" || v.Label(10) != "Play" {
		t.Errorf("Unexpected labels %s/%s", v.Label(11), v.Label(10))
	}
}
