// Package play opens audio files with an external command-line player.
package play

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/audiolibrelab/echoprint/internal/audio"
	"github.com/audiolibrelab/echoprint/internal/config"
	"github.com/audiolibrelab/echoprint/internal/playback"
)

// Players in order of preference.
var players = []string{"ffplay", "mpv", "vlc", "aplay"}

var lookPath = exec.LookPath

// exitWait bounds how long Stop waits for a killed player to release the file.
var exitWait = 2 * time.Second

// Player implements playback.Opener over ffplay, mpv, vlc or aplay.
type Player struct {
	cfg   *config.Config
	probe func(ctx context.Context, path string) (time.Duration, error)
}

func New(cfg *config.Config) *Player {
	return &Player{cfg: cfg, probe: audio.ProbeDuration}
}

// Open prepares a stream; the player process starts on Play.
func (p *Player) Open(path string) (playback.Stream, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("audio file not found: %s", path)
	}

	player, err := p.findAudioPlayer()
	if err != nil {
		return nil, fmt.Errorf("no suitable audio player found: %w", err)
	}

	name, args := playerCommand(player, path)

	duration, err := p.probe(context.Background(), path)
	if err != nil {
		slog.Debug("Duration unavailable", "path", path, "error", err)
		duration = 0
	}

	return &procStream{
		name:     name,
		args:     args,
		duration: duration,
		done:     make(chan struct{}),
	}, nil
}

func (p *Player) findAudioPlayer() (string, error) {
	if p.cfg != nil && p.cfg.Audio.Player != "" {
		if _, err := lookPath(p.cfg.Audio.Player); err != nil {
			return "", fmt.Errorf("configured player %s: %w", p.cfg.Audio.Player, err)
		}
		return p.cfg.Audio.Player, nil
	}

	for _, player := range players {
		if _, err := lookPath(player); err == nil {
			return player, nil
		}
	}

	return "", fmt.Errorf("no audio player found (tried: %s)", strings.Join(players, ", "))
}

func playerCommand(player, path string) (string, []string) {
	switch player {
	case "vlc":
		return "vlc", []string{"-I", "dummy", "--play-and-exit", "--quiet", path}
	case "mpv":
		return "mpv", []string{"--no-video", "--really-quiet", path}
	case "ffplay":
		return "ffplay", []string{"-nodisp", "-autoexit", "-loglevel", "quiet", path}
	default:
		return "aplay", []string{"-q", path}
	}
}

// procStream is one run of a player process. Position is derived from the
// wall clock since the process started.
type procStream struct {
	name     string
	args     []string
	duration time.Duration

	mu      sync.Mutex
	cmd     *exec.Cmd
	started time.Time
	playing bool
	done    chan struct{}
}

func (s *procStream) Play() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cmd != nil {
		return fmt.Errorf("stream already started")
	}

	cmd := exec.Command(s.name, s.args...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("playback failed with %s: %w", s.name, err)
	}
	s.cmd = cmd
	s.started = time.Now()
	s.playing = true

	go func() {
		err := cmd.Wait()
		s.mu.Lock()
		s.playing = false
		s.mu.Unlock()
		if err != nil {
			slog.Debug("Player exited", "player", s.name, "state", err)
		}
		close(s.done)
	}()
	return nil
}

func (s *procStream) Stop() error {
	s.mu.Lock()
	cmd := s.cmd
	playing := s.playing
	s.mu.Unlock()

	if cmd == nil {
		return nil
	}
	if playing && cmd.Process != nil {
		if err := cmd.Process.Kill(); err != nil && !strings.Contains(err.Error(), "process already finished") {
			return fmt.Errorf("stop %s: %w", s.name, err)
		}
	}

	select {
	case <-s.done:
	case <-time.After(exitWait):
		slog.Warn("Player did not exit after kill", "player", s.name, "timeout", exitWait)
	}
	return nil
}

func (s *procStream) Position() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started.IsZero() {
		return 0
	}
	pos := time.Since(s.started)
	if s.duration > 0 && pos > s.duration {
		return s.duration
	}
	return pos
}

func (s *procStream) Duration() time.Duration { return s.duration }

func (s *procStream) Playing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playing
}

func (s *procStream) Done() <-chan struct{} { return s.done }
