// Package vault names and stores audio and photo files under the
// application's storage root.
package vault

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/spf13/afero"
)

var (
	ErrInvalidName = errors.New("invalid recording name")
	ErrExists      = errors.New("file already exists")
)

// Options controls directory names and file naming.
type Options struct {
	RecordingsDir string
	PhotosDir     string
	CapturePrefix string
	Extension     string
}

// DefaultOptions mirrors the on-disk layout used since the first release.
var DefaultOptions = Options{
	RecordingsDir: "Recordings",
	PhotosDir:     "Photos",
	CapturePrefix: "Echo",
	Extension:     "wav",
}

// Vault manages blobs below a root directory.
type Vault struct {
	fs   afero.Fs
	root string
	opts Options
	now  func() time.Time
}

// New returns a Vault rooted at root on fs. Zero option fields fall back to
// DefaultOptions.
func New(fs afero.Fs, root string, opts Options) *Vault {
	if opts.RecordingsDir == "" {
		opts.RecordingsDir = DefaultOptions.RecordingsDir
	}
	if opts.PhotosDir == "" {
		opts.PhotosDir = DefaultOptions.PhotosDir
	}
	if opts.CapturePrefix == "" {
		opts.CapturePrefix = DefaultOptions.CapturePrefix
	}
	opts.Extension = strings.TrimPrefix(opts.Extension, ".")
	if opts.Extension == "" {
		opts.Extension = DefaultOptions.Extension
	}

	return &Vault{
		fs:   fs,
		root: root,
		opts: opts,
		now:  time.Now,
	}
}

// NewOS returns a Vault on the host filesystem.
func NewOS(root string, opts Options) *Vault {
	return New(afero.NewOsFs(), root, opts)
}

// Fs exposes the underlying filesystem.
func (v *Vault) Fs() afero.Fs {
	return v.fs
}

// RecordingDir returns the audio directory, creating it if needed.
func (v *Vault) RecordingDir() (string, error) {
	return v.ensureDir(v.opts.RecordingsDir)
}

// PhotoDir returns the photo directory, creating it if needed.
func (v *Vault) PhotoDir() (string, error) {
	return v.ensureDir(v.opts.PhotosDir)
}

func (v *Vault) ensureDir(name string) (string, error) {
	dir := filepath.Join(v.root, name)
	if err := v.fs.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create %s: %w", dir, err)
	}
	return dir, nil
}

// AudioPath returns the path a user-named recording is saved to. It does not
// check whether the file exists.
func (v *Vault) AudioPath(name string) (string, error) {
	clean := CleanName(name)
	if clean == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	dir, err := v.RecordingDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, clean+"."+v.opts.Extension), nil
}

// CapturePath returns a timestamped path such as Echo_20251025_143012.wav.
func (v *Vault) CapturePath() (string, error) {
	dir, err := v.RecordingDir()
	if err != nil {
		return "", err
	}
	name := fmt.Sprintf("%s_%s.%s", v.opts.CapturePrefix, v.now().Format("20060102_150405"), v.opts.Extension)
	return filepath.Join(dir, name), nil
}

// Exists reports whether path refers to an existing file.
func (v *Vault) Exists(path string) bool {
	if strings.TrimSpace(path) == "" {
		return false
	}
	info, err := v.fs.Stat(path)
	return err == nil && !info.IsDir()
}

// WriteAudio copies r into a new file at path. It fails with ErrExists rather
// than overwrite, and leaves nothing behind on failure.
func (v *Vault) WriteAudio(path string, r io.Reader) error {
	if err := v.fs.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create recording directory: %w", err)
	}

	f, err := v.fs.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("%w: %s", ErrExists, path)
		}
		return fmt.Errorf("create %s: %w", path, err)
	}

	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		v.fs.Remove(path)
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		v.fs.Remove(path)
		return fmt.Errorf("close %s: %w", path, err)
	}

	slog.Debug("Recording written", "path", path)
	return nil
}

// PhotoPath returns {photoDir}/{recordingID}_{base(original)}.
func (v *Vault) PhotoPath(recordingID int64, original string) (string, error) {
	base := filepath.Base(filepath.Clean(original))
	if base == "." || base == string(filepath.Separator) || base == "" {
		return "", fmt.Errorf("%w: photo %q", ErrInvalidName, original)
	}

	dir, err := v.PhotoDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, fmt.Sprintf("%d_%s", recordingID, base)), nil
}

// ImportPhoto copies r into the photo directory for recordingID and returns
// the stored path. A previous import with the same name is replaced.
func (v *Vault) ImportPhoto(recordingID int64, original string, r io.Reader) (string, error) {
	dest, err := v.PhotoPath(recordingID, original)
	if err != nil {
		return "", err
	}

	f, err := v.fs.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", dest, err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		v.fs.Remove(dest)
		return "", fmt.Errorf("write %s: %w", dest, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close %s: %w", dest, err)
	}
	return dest, nil
}

// Open opens a stored blob for reading.
func (v *Vault) Open(path string) (afero.File, error) {
	return v.fs.Open(path)
}

// Remove deletes a blob. A missing file is not an error.
func (v *Vault) Remove(path string) error {
	err := v.fs.Remove(path)
	if err != nil && errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// CleanName turns a user-entered title into a file name stem. Letters,
// digits, spaces, '-', '_' and '.' are kept; everything else is dropped.
func CleanName(name string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(name) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == ' ' || r == '-' || r == '_' || r == '.' {
			b.WriteRune(r)
		}
	}
	clean := strings.TrimSpace(b.String())
	clean = strings.Trim(clean, ".")
	return clean
}
