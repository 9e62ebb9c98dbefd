package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/audiolibrelab/echoprint/internal/config"
)

// A WAV file is at least its header.
const wavHeaderSize = 44

var (
	startupGrace = 300 * time.Millisecond
	stopTimeout  = 5 * time.Second
)

// ExecRecorder implements Microphone by running an external capture tool
type ExecRecorder struct {
	cfg       *config.Config
	logWriter io.Writer

	mutex     sync.Mutex
	status    Status
	backend   BackendType
	cmd       *exec.Cmd
	done      chan error
	stderrBuf bytes.Buffer
	takeDir   string
	output    string
	started   time.Time

	capturePath func() (string, error)
}

// NewExecRecorder creates a recorder for the configured backend
func NewExecRecorder(cfg *config.Config, logWriter io.Writer) *ExecRecorder {
	if logWriter == nil {
		logWriter = io.Discard
	}
	return &ExecRecorder{
		cfg:       cfg,
		logWriter: logWriter,
		status:    StatusStandby,
	}
}

// WithCapturePath records straight to the paths returned by fn instead of a
// temporary directory.
func (r *ExecRecorder) WithCapturePath(fn func() (string, error)) *ExecRecorder {
	r.capturePath = fn
	return r
}

// RequestPermission grants capture when the backend tool is installed and,
// for PipeWire and ALSA, at least one capture source is visible.
func (r *ExecRecorder) RequestPermission(ctx context.Context) (bool, error) {
	requested, err := ParseBackend(r.cfg.Audio.Backend)
	if err != nil {
		return false, err
	}

	backend, err := ResolveBackend(requested)
	if err != nil {
		slog.Warn("Microphone unavailable", "reason", err)
		return false, nil
	}

	if lister := ListerFor(backend); lister != nil {
		ports, err := lister.ListPorts(ctx)
		if err != nil {
			slog.Warn("Microphone unavailable", "backend", backend, "reason", err)
			return false, nil
		}
		if len(ports) == 0 {
			slog.Warn("Microphone unavailable", "backend", backend, "reason", "no capture sources")
			return false, nil
		}
		if err := lister.ValidatePort(ctx, r.cfg.Audio.Source); err != nil {
			slog.Warn("Configured source unusable", "source", r.cfg.Audio.Source, "error", err)
			return false, nil
		}
	}

	r.mutex.Lock()
	r.backend = backend
	r.mutex.Unlock()

	slog.Debug("Microphone permission granted", "backend", backend)
	return true, nil
}

// Start begins capturing into a temporary file
func (r *ExecRecorder) Start(ctx context.Context) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.status == StatusRecording {
		return ErrAlreadyRecording
	}

	if r.backend == "" {
		requested, err := ParseBackend(r.cfg.Audio.Backend)
		if err != nil {
			return err
		}
		if r.backend, err = ResolveBackend(requested); err != nil {
			return err
		}
	}

	dir, output, err := r.takeOutput()
	if err != nil {
		r.status = StatusError
		return err
	}

	name, args, err := captureCommand(r.backend, CaptureSpec{
		Source:     r.cfg.Audio.Source,
		SampleRate: r.cfg.Audio.SampleRate,
		Channels:   r.cfg.Audio.Channels,
		Output:     output,
	})
	if err != nil {
		removeTake(dir, output)
		r.status = StatusError
		return err
	}

	r.stderrBuf.Reset()
	cmd := exec.Command(name, args...)
	cmd.Stdout = r.logWriter
	cmd.Stderr = io.MultiWriter(&r.stderrBuf, r.logWriter)

	slog.Debug("Starting capture", "tool", name, "args", strings.Join(args, " "))
	if err := cmd.Start(); err != nil {
		removeTake(dir, output)
		r.status = StatusError
		return fmt.Errorf("failed to start %s: %w", name, err)
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	// Tools that cannot open the device exit almost immediately.
	select {
	case err := <-done:
		removeTake(dir, output)
		r.status = StatusError
		return fmt.Errorf("%s exited during startup: %v (%s)", name, err, strings.TrimSpace(r.stderrBuf.String()))
	case <-time.After(startupGrace):
	case <-ctx.Done():
		cmd.Process.Kill()
		<-done
		removeTake(dir, output)
		return ctx.Err()
	}

	r.cmd = cmd
	r.done = done
	r.takeDir = dir
	r.output = output
	r.started = time.Now()
	r.status = StatusRecording

	slog.Info("Recording started", "backend", r.backend)
	return nil
}

// Stop ends the capture and returns the take
func (r *ExecRecorder) Stop(ctx context.Context) (Take, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.status != StatusRecording || r.cmd == nil {
		return nil, ErrNotRecording
	}

	elapsed := time.Since(r.started)
	r.stopProcess(ctx)

	dir, output := r.takeDir, r.output
	r.cmd, r.done, r.takeDir, r.output = nil, nil, "", ""

	if err := validateOutputFile(output); err != nil {
		removeTake(dir, output)
		r.status = StatusError
		slog.Debug("Capture stderr", "output", strings.TrimSpace(r.stderrBuf.String()))
		return nil, err
	}

	duration, err := ProbeDuration(ctx, output)
	if err != nil || duration <= 0 {
		slog.Debug("Falling back to wall-clock duration", "error", err)
		duration = elapsed
	}

	r.status = StatusStandby
	slog.Info("Recording stopped", "duration", duration.Round(time.Millisecond))
	return &fileTake{path: output, dir: dir, duration: duration}, nil
}

// stopProcess interrupts the tool so it can finalize the WAV header, and
// kills it if it does not exit in time.
func (r *ExecRecorder) stopProcess(ctx context.Context) {
	if r.cmd.Process != nil {
		slog.Debug("Sending SIGINT to capture process")
		if err := r.cmd.Process.Signal(os.Interrupt); err != nil {
			slog.Debug("Failed to send interrupt, killing", "error", err)
			r.cmd.Process.Kill()
		}
	}

	select {
	case err := <-r.done:
		if err != nil {
			// Most tools report the interrupt through their exit status.
			slog.Debug("Capture process exited", "state", err)
		}
	case <-time.After(stopTimeout):
		slog.Warn("Capture process did not exit within timeout, force killing")
		r.cmd.Process.Kill()
		<-r.done
	case <-ctx.Done():
		r.cmd.Process.Kill()
		<-r.done
	}
}

// takeOutput picks the capture file. dir is empty when the file does not own
// its directory.
func (r *ExecRecorder) takeOutput() (dir, output string, err error) {
	if r.capturePath != nil {
		output, err = r.capturePath()
		if err != nil {
			return "", "", fmt.Errorf("failed to name capture: %w", err)
		}
		return "", output, nil
	}

	dir, err = os.MkdirTemp("", "echoprint-take-*")
	if err != nil {
		return "", "", fmt.Errorf("failed to create capture directory: %w", err)
	}
	return dir, filepath.Join(dir, "take."+r.cfg.Audio.Format), nil
}

func removeTake(dir, output string) {
	if dir != "" {
		os.RemoveAll(dir)
		return
	}
	os.Remove(output)
}

func validateOutputFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrEmptyCapture
		}
		return fmt.Errorf("failed to stat capture: %w", err)
	}
	if info.Size() <= wavHeaderSize {
		return ErrEmptyCapture
	}
	return nil
}

// Status returns the current state
func (r *ExecRecorder) Status() Status {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.status
}

// Cleanup kills a running capture and removes its temporary output
func (r *ExecRecorder) Cleanup() error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.cmd != nil && r.cmd.Process != nil {
		r.cmd.Process.Kill()
		<-r.done
	}
	if r.output != "" {
		removeTake(r.takeDir, r.output)
	}
	r.cmd, r.done, r.takeDir, r.output = nil, nil, "", ""
	r.status = StatusStandby
	return nil
}

// fileTake is a finished capture. Discard removes the file and, when dir is
// non-empty, the directory holding it.
type fileTake struct {
	path     string
	dir      string
	duration time.Duration
}

func (t *fileTake) Path() string { return t.path }

func (t *fileTake) Open() (io.ReadCloser, error) {
	return os.Open(t.path)
}

func (t *fileTake) Duration() time.Duration { return t.duration }

func (t *fileTake) Discard() error {
	var err error
	if t.dir != "" {
		err = os.RemoveAll(t.dir)
	} else {
		err = os.Remove(t.path)
	}
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("discard take: %w", err)
	}
	return nil
}
