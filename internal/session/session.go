// Package session drives a single capture from the record button through
// the save-or-discard dialog.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/audiolibrelab/echoprint/internal/audio"
	"github.com/audiolibrelab/echoprint/internal/catalog"
	"github.com/audiolibrelab/echoprint/internal/playback"
	"github.com/audiolibrelab/echoprint/internal/vault"
)

// PreviewID is the playback identifier of a take that has not been saved.
const PreviewID int64 = 0

// DefaultName is offered when asking for a recording name.
const DefaultName = "My Recording"

const vibration = 500 * time.Millisecond

var (
	ErrPermissionDenied = errors.New("microphone permission denied")
	ErrSaveFailed       = errors.New("failed to save recording")
	ErrBusy             = errors.New("a recording is being finalized")
)

type State int

const (
	Armed State = iota
	Recording
	Finalizing
)

func (s State) String() string {
	switch s {
	case Armed:
		return "armed"
	case Recording:
		return "recording"
	case Finalizing:
		return "finalizing"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Prompter is the user dialog. AskName returns ok=false when cancelled.
type Prompter interface {
	ConfirmSave(ctx context.Context) (bool, error)
	AskName(ctx context.Context, defaultName string) (name string, ok bool, err error)
	Notify(ctx context.Context, title, message string)
}

type Haptics interface {
	Vibrate(d time.Duration)
}

// Enqueuer schedules background enrichment of a saved recording.
type Enqueuer interface {
	Enqueue(id int64) bool
}

type Catalog interface {
	Add(ctx context.Context, rec *catalog.Recording) (int64, error)
}

type Player interface {
	Play(id int64, path string, surface playback.Surface) (playback.Handle, error)
	StopRecording(id int64) bool
}

type Outcome int

const (
	Discarded Outcome = iota
	Cancelled
	Saved
)

func (o Outcome) String() string {
	switch o {
	case Discarded:
		return "discarded"
	case Cancelled:
		return "cancelled"
	case Saved:
		return "saved"
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

// Result describes how a capture was finalized.
type Result struct {
	Outcome   Outcome
	Recording *catalog.Recording
}

type Deps struct {
	Microphone audio.Microphone
	Vault      *vault.Vault
	Catalog    Catalog
	Enricher   Enqueuer
	Player     Player
	Prompter   Prompter
	Haptics    Haptics
	// Preview receives playback callbacks for the unsaved take. May be nil.
	Preview playback.Surface
}

type Session struct {
	deps Deps
	now  func() time.Time

	mu    sync.Mutex
	state State
}

func New(deps Deps) *Session {
	if deps.Preview == nil {
		deps.Preview = nopSurface{}
	}
	return &Session{deps: deps, now: time.Now, state: Armed}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start asks for microphone permission and begins capturing.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != Armed {
		s.mu.Unlock()
		return fmt.Errorf("cannot start while %s", s.state)
	}
	s.mu.Unlock()

	granted, err := s.deps.Microphone.RequestPermission(ctx)
	if err != nil {
		return fmt.Errorf("request microphone permission: %w", err)
	}
	if !granted {
		return ErrPermissionDenied
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Armed {
		return fmt.Errorf("cannot start while %s", s.state)
	}
	if err := s.deps.Microphone.Start(ctx); err != nil {
		return fmt.Errorf("start recording: %w", err)
	}
	s.state = Recording
	s.vibrate()
	slog.Info("Recording session started")
	return nil
}

// Stop ends the capture, previews it and runs the save dialog. The session
// is Armed again when Stop returns, whatever the outcome.
func (s *Session) Stop(ctx context.Context) (Result, error) {
	s.mu.Lock()
	if s.state != Recording {
		state := s.state
		s.mu.Unlock()
		if state == Finalizing {
			return Result{}, ErrBusy
		}
		return Result{}, fmt.Errorf("cannot stop while %s", state)
	}
	s.state = Finalizing
	s.mu.Unlock()

	defer s.setState(Armed)

	take, err := s.deps.Microphone.Stop(ctx)
	s.vibrate()
	if err != nil {
		return Result{}, fmt.Errorf("stop recording: %w", err)
	}
	defer func() {
		if err := take.Discard(); err != nil {
			slog.Warn("Failed to discard temporary take", "path", take.Path(), "error", err)
		}
	}()

	if _, err := s.deps.Player.Play(PreviewID, take.Path(), s.deps.Preview); err != nil {
		slog.Warn("Preview unavailable", "error", err)
	}
	defer s.deps.Player.StopRecording(PreviewID)

	return s.finalize(ctx, take)
}

// Toggle is the record button: start when armed, stop and finalize when
// recording.
func (s *Session) Toggle(ctx context.Context) (Result, error) {
	switch s.State() {
	case Armed:
		return Result{}, s.Start(ctx)
	case Recording:
		return s.Stop(ctx)
	}
	return Result{}, ErrBusy
}

func (s *Session) finalize(ctx context.Context, take audio.Take) (Result, error) {
	save, err := s.deps.Prompter.ConfirmSave(ctx)
	if err != nil {
		return Result{}, err
	}
	if !save {
		slog.Info("Recording discarded")
		return Result{Outcome: Discarded}, nil
	}

	for {
		name, ok, err := s.deps.Prompter.AskName(ctx, DefaultName)
		if err != nil {
			return Result{}, err
		}
		if !ok {
			slog.Info("Save cancelled")
			return Result{Outcome: Cancelled}, nil
		}

		name = strings.TrimSpace(name)
		if name == "" {
			s.deps.Prompter.Notify(ctx, "Error", "Recording name cannot be empty.")
			continue
		}

		path, err := s.deps.Vault.AudioPath(name)
		if errors.Is(err, vault.ErrInvalidName) {
			s.deps.Prompter.Notify(ctx, "Error", "Recording name cannot be empty.")
			continue
		}
		if err != nil {
			s.deps.Prompter.Notify(ctx, "Error", err.Error())
			return Result{}, fmt.Errorf("%w: %v", ErrSaveFailed, err)
		}
		if s.deps.Vault.Exists(path) {
			s.deps.Prompter.Notify(ctx, "File name already exists", "Please enter a different name.")
			continue
		}

		rec, err := s.save(ctx, name, path, take)
		if errors.Is(err, vault.ErrExists) {
			s.deps.Prompter.Notify(ctx, "File name already exists", "Please enter a different name.")
			continue
		}
		if err != nil {
			s.deps.Prompter.Notify(ctx, "Error", "Failed to save recording.")
			return Result{}, err
		}

		s.deps.Prompter.Notify(ctx, "Successfully Saved", "Saved as: "+filepath.Base(path))
		return Result{Outcome: Saved, Recording: rec}, nil
	}
}

func (s *Session) save(ctx context.Context, title, path string, take audio.Take) (*catalog.Recording, error) {
	r, err := take.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: open take: %v", ErrSaveFailed, err)
	}
	defer r.Close()

	if err := s.deps.Vault.WriteAudio(path, r); err != nil {
		if errors.Is(err, vault.ErrExists) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrSaveFailed, err)
	}

	rec := catalog.NewRecording(title, path, s.now())
	if _, err := s.deps.Catalog.Add(ctx, &rec); err != nil {
		if rmErr := s.deps.Vault.Remove(path); rmErr != nil {
			slog.Warn("Failed to remove orphaned recording file", "path", path, "error", rmErr)
		}
		return nil, fmt.Errorf("%w: %v", ErrSaveFailed, err)
	}

	slog.Info("Recording saved", "id", rec.ID, "title", rec.Title, "path", path)

	if s.deps.Enricher != nil && !s.deps.Enricher.Enqueue(rec.ID) {
		slog.Warn("Location enrichment not scheduled", "id", rec.ID)
	}
	return &rec, nil
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *Session) vibrate() {
	if s.deps.Haptics != nil {
		s.deps.Haptics.Vibrate(vibration)
	}
}

type nopSurface struct{}

func (nopSurface) PlaybackStarted(playback.Handle, int64)    {}
func (nopSurface) PlaybackProgress(playback.Handle, float64) {}
func (nopSurface) PlaybackStopped(playback.Handle, int64)    {}
