package audio

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// ProbeDuration asks ffprobe for the length of an audio file.
func ProbeDuration(ctx context.Context, path string) (time.Duration, error) {
	if _, err := lookPath("ffprobe"); err != nil {
		return 0, fmt.Errorf("ffprobe not available: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	slog.Debug("Running ffprobe to determine duration", "path", path)

	cmd := exec.CommandContext(ctx, "ffprobe", "-v", "error", "-show_entries", "format=duration", "-of", "default=noprint_wrappers=1:nokey=1", "-i", path)

	var stdOut, stdErr bytes.Buffer
	cmd.Stdout = &stdOut
	cmd.Stderr = &stdErr

	if err := cmd.Run(); err != nil {
		return 0, fmt.Errorf("ffprobe failed, %w (%s)", err, strings.TrimSpace(stdErr.String()))
	}
	return parseProbeOutput(stdOut.String())
}

func parseProbeOutput(out string) (time.Duration, error) {
	s := strings.TrimSpace(out)
	if s == "" || s == "N/A" {
		return 0, nil
	}
	secs, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed duration: %w (%s)", err, s)
	}
	if secs < 0 {
		return 0, nil
	}
	return time.Duration(secs * float64(time.Second)), nil
}
