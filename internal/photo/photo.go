// Package photo provides the camera and file backends used to attach a
// picture to a recording.
package photo

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
	"time"

	"github.com/spf13/afero"

	"github.com/audiolibrelab/echoprint/internal/service"
)

var ErrUnsupported = errors.New("photo mode not available")

var (
	lookPath   = exec.LookPath
	runCommand = func(ctx context.Context, name string, args ...string) ([]byte, error) {
		return exec.CommandContext(ctx, name, args...).CombinedOutput()
	}
)

// FilePicker "picks" a file chosen up front, e.g. from a command-line flag.
type FilePicker struct {
	fs   afero.Fs
	path string
}

func NewFilePicker(fs afero.Fs, path string) *FilePicker {
	return &FilePicker{fs: fs, path: path}
}

// RequestPermission grants access when the chosen file can be read.
func (p *FilePicker) RequestPermission(context.Context) (bool, error) {
	if strings.TrimSpace(p.path) == "" {
		return true, nil
	}
	f, err := p.fs.Open(p.path)
	if err != nil {
		slog.Warn("Photo file not readable", "path", p.path, "error", err)
		return false, nil
	}
	f.Close()
	return true, nil
}

// Pick returns the chosen file, or nil when none was chosen.
func (p *FilePicker) Pick(context.Context) (*service.PhotoFile, error) {
	if strings.TrimSpace(p.path) == "" {
		return nil, nil
	}
	fs, path := p.fs, p.path
	return &service.PhotoFile{
		Name: filepath.Base(path),
		Open: func() (io.ReadCloser, error) { return fs.Open(path) },
	}, nil
}

// WebcamCapture grabs a single frame from a V4L2 device with ffmpeg.
type WebcamCapture struct {
	Device string
	now    func() time.Time
}

func NewWebcamCapture(device string) *WebcamCapture {
	return &WebcamCapture{Device: device, now: time.Now}
}

func (w *WebcamCapture) RequestPermission(context.Context) (bool, error) {
	if _, err := lookPath("ffmpeg"); err != nil {
		slog.Warn("Camera unavailable", "reason", "ffmpeg not found")
		return false, nil
	}
	f, err := os.Open(w.Device)
	if err != nil {
		slog.Warn("Camera unavailable", "device", w.Device, "error", err)
		return false, nil
	}
	f.Close()
	return true, nil
}

// Capture takes a picture and returns it held in memory.
func (w *WebcamCapture) Capture(ctx context.Context) (*service.PhotoFile, error) {
	dir, err := os.MkdirTemp("", "echoprint-photo-")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	name := fmt.Sprintf("IMG_%s.jpg", w.now().Format("20060102_150405"))
	out := filepath.Join(dir, name)

	args := []string{"-hide_banner", "-loglevel", "error", "-y",
		"-f", "v4l2", "-i", w.Device, "-frames:v", "1", out}
	slog.Debug("Capturing photo", "cmd", "ffmpeg "+strings.Join(args, " "))

	if output, err := runCommand(ctx, "ffmpeg", args...); err != nil {
		return nil, fmt.Errorf("ffmpeg capture failed: %w (%s)", err, strings.TrimSpace(string(output)))
	}

	data, err := os.ReadFile(out)
	if err != nil {
		return nil, fmt.Errorf("read captured photo: %w", err)
	}
	if len(data) == 0 {
		return nil, errors.New("captured photo is empty")
	}

	return &service.PhotoFile{
		Name: name,
		Open: func() (io.ReadCloser, error) { return io.NopCloser(bytes.NewReader(data)), nil },
	}, nil
}

// Source combines a camera and a picker. Either may be nil; the missing one
// reports ErrUnsupported.
type Source struct {
	Camera *WebcamCapture
	Picker *FilePicker
}

// RequestPermission requires every configured backend to be usable.
func (s *Source) RequestPermission(ctx context.Context) (bool, error) {
	if s.Camera != nil {
		if ok, err := s.Camera.RequestPermission(ctx); err != nil || !ok {
			return ok, err
		}
	}
	if s.Picker != nil {
		if ok, err := s.Picker.RequestPermission(ctx); err != nil || !ok {
			return ok, err
		}
	}
	return true, nil
}

func (s *Source) Capture(ctx context.Context) (*service.PhotoFile, error) {
	if s.Camera == nil {
		return nil, ErrUnsupported
	}
	return s.Camera.Capture(ctx)
}

func (s *Source) Pick(ctx context.Context) (*service.PhotoFile, error) {
	if s.Picker == nil {
		return nil, ErrUnsupported
	}
	return s.Picker.Pick(ctx)
}
