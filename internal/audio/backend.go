package audio

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// BackendType represents the type of audio backend
type BackendType string

const (
	BackendTypePipeWire BackendType = "pipewire"
	BackendTypeALSA     BackendType = "alsa"
	BackendTypeFFmpeg   BackendType = "ffmpeg"
	BackendTypeAuto     BackendType = "auto"
)

// Seams for tests.
var (
	lookPath   = exec.LookPath
	runCommand = func(ctx context.Context, name string, args ...string) ([]byte, error) {
		return exec.CommandContext(ctx, name, args...).Output()
	}
)

// backendTools maps each backend to the binary that captures with it.
var backendTools = map[BackendType]string{
	BackendTypePipeWire: "pw-record",
	BackendTypeALSA:     "arecord",
	BackendTypeFFmpeg:   "ffmpeg",
}

// ParseBackend normalizes a configured backend name.
func ParseBackend(name string) (BackendType, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "auto":
		return BackendTypeAuto, nil
	case "pipewire":
		return BackendTypePipeWire, nil
	case "alsa":
		return BackendTypeALSA, nil
	case "ffmpeg", "pulse":
		return BackendTypeFFmpeg, nil
	}
	return "", fmt.Errorf("unknown audio backend: %s", name)
}

// ResolveBackend turns auto into the first backend whose tool is installed.
func ResolveBackend(b BackendType) (BackendType, error) {
	if b != BackendTypeAuto {
		if _, err := lookPath(backendTools[b]); err != nil {
			return "", fmt.Errorf("%s backend requires %s: %w", b, backendTools[b], err)
		}
		return b, nil
	}

	if available := GetAvailableBackends(); len(available) > 0 {
		return available[0], nil
	}
	return "", fmt.Errorf("no capture tool found (tried: pw-record, arecord, ffmpeg)")
}

// GetAvailableBackends returns the backends usable on the current system,
// in order of preference.
func GetAvailableBackends() []BackendType {
	var backends []BackendType
	for _, b := range []BackendType{BackendTypePipeWire, BackendTypeALSA, BackendTypeFFmpeg} {
		if _, err := lookPath(backendTools[b]); err == nil {
			backends = append(backends, b)
		}
	}
	return backends
}

// CaptureSpec describes a single capture.
type CaptureSpec struct {
	Source     string
	SampleRate int
	Channels   int
	Output     string
}

// captureCommand returns the tool and arguments for recording spec with b.
func captureCommand(b BackendType, spec CaptureSpec) (string, []string, error) {
	rate := strconv.Itoa(spec.SampleRate)
	channels := strconv.Itoa(spec.Channels)

	switch b {
	case BackendTypePipeWire:
		args := []string{"--rate", rate, "--channels", channels, "--format", "s16"}
		if spec.Source != "" {
			args = append(args, "--target", spec.Source)
		}
		return "pw-record", append(args, spec.Output), nil
	case BackendTypeALSA:
		args := []string{"-q", "-t", "wav", "-f", "S16_LE", "-r", rate, "-c", channels}
		if spec.Source != "" {
			args = append(args, "-D", spec.Source)
		}
		return "arecord", append(args, spec.Output), nil
	case BackendTypeFFmpeg:
		input := spec.Source
		if input == "" {
			input = "default"
		}
		return "ffmpeg", []string{
			"-hide_banner", "-loglevel", "error", "-nostdin", "-y",
			"-f", "pulse", "-i", input,
			"-ac", channels, "-ar", rate, "-c:a", "pcm_s16le",
			spec.Output,
		}, nil
	}
	return "", nil, fmt.Errorf("unsupported backend: %s", b)
}
