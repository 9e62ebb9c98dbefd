package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/audiolibrelab/echoprint/internal/catalog"
	"github.com/audiolibrelab/echoprint/internal/location"
	"github.com/audiolibrelab/echoprint/internal/playback"
	"github.com/audiolibrelab/echoprint/internal/vault"
)

var (
	ErrNotFound            = catalog.ErrNotFound
	ErrLocationUnavailable = errors.New("unable to determine location")
	ErrNoPhoto             = errors.New("recording has no photo")
	ErrPermissionDenied    = errors.New("camera or storage permission denied")
	ErrNotImage            = errors.New("file is not an image")
)

// Service is what every list surface (CLI, HTTP) works through
type Service interface {
	// Catalog views
	List(ctx context.Context) ([]catalog.Recording, error)
	Favorites(ctx context.Context) ([]catalog.Recording, error)
	Get(ctx context.Context, id int64) (*catalog.Recording, error)

	// Favorites
	ToggleFavorite(ctx context.Context, id int64) (bool, error)
	SetFavorite(ctx context.Context, id int64, favorite bool) (int64, error)

	// Playback operations
	Play(ctx context.Context, id int64, surface playback.Surface) (playback.Handle, bool, error)
	Stop(id int64, surface playback.Surface) bool
	Playback() (playback.Snapshot, bool)

	Delete(ctx context.Context, id int64) (int64, error)

	// Photos
	AttachPhoto(ctx context.Context, id int64, source PhotoSource, mode PhotoMode) (string, error)
	PhotoPath(ctx context.Context, id int64) (string, error)

	// Map
	Locate(ctx context.Context, id int64) (string, error)
}

// Catalog is the subset of the catalog store the service needs
type Catalog interface {
	All(ctx context.Context) ([]catalog.Recording, error)
	Favorites(ctx context.Context) ([]catalog.Recording, error)
	Get(ctx context.Context, id int64) (*catalog.Recording, error)
	SetFavorite(ctx context.Context, id int64, favorite bool) (int64, error)
	UpdateLocation(ctx context.Context, id int64, lat, lng float64, place string) (int64, error)
	UpdatePhoto(ctx context.Context, id int64, path string) (int64, error)
	Delete(ctx context.Context, id int64, deleteBlob bool) (int64, error)
}

// Player is the shared playback controller
type Player interface {
	Toggle(id int64, path string, surface playback.Surface) (playback.Handle, bool, error)
	Stop(id int64, surface playback.Surface) bool
	StopRecording(id int64) bool
	Snapshot() (playback.Snapshot, bool)
}

type Resolver interface {
	Resolve(ctx context.Context) location.Fix
}

// PhotoMode selects between taking a new picture and choosing a file.
type PhotoMode int

const (
	TakePhoto PhotoMode = iota
	PickPhoto
)

func (m PhotoMode) String() string {
	if m == PickPhoto {
		return "Pick Photo"
	}
	return "Take Photo"
}

// PhotoFile is a captured or picked image.
type PhotoFile struct {
	Name string
	Open func() (io.ReadCloser, error)
}

// PhotoSource captures or picks a photo. A nil file with a nil error means
// the user backed out.
type PhotoSource interface {
	RequestPermission(ctx context.Context) (bool, error)
	Capture(ctx context.Context) (*PhotoFile, error)
	Pick(ctx context.Context) (*PhotoFile, error)
}

// Library implements Service on top of the catalog, vault and playback
// controller
type Library struct {
	catalog  Catalog
	vault    *vault.Vault
	player   Player
	resolver Resolver
}

func New(c Catalog, v *vault.Vault, p Player, r Resolver) *Library {
	return &Library{catalog: c, vault: v, player: p, resolver: r}
}

func (l *Library) List(ctx context.Context) ([]catalog.Recording, error) {
	return l.catalog.All(ctx)
}

func (l *Library) Favorites(ctx context.Context) ([]catalog.Recording, error) {
	return l.catalog.Favorites(ctx)
}

func (l *Library) Get(ctx context.Context, id int64) (*catalog.Recording, error) {
	return l.catalog.Get(ctx, id)
}

// ToggleFavorite flips the favorite flag and returns the new value.
func (l *Library) ToggleFavorite(ctx context.Context, id int64) (bool, error) {
	rec, err := l.catalog.Get(ctx, id)
	if err != nil {
		return false, err
	}

	next := !rec.Favorite
	n, err := l.catalog.SetFavorite(ctx, id, next)
	if err != nil {
		return rec.Favorite, err
	}
	if n == 0 {
		return rec.Favorite, ErrNotFound
	}
	slog.Debug("Favorite toggled", "id", id, "favorite", next)
	return next, nil
}

func (l *Library) SetFavorite(ctx context.Context, id int64, favorite bool) (int64, error) {
	return l.catalog.SetFavorite(ctx, id, favorite)
}

// Play is the row's Play/Stop button for surface.
func (l *Library) Play(ctx context.Context, id int64, surface playback.Surface) (playback.Handle, bool, error) {
	rec, err := l.catalog.Get(ctx, id)
	if err != nil {
		return 0, false, err
	}
	return l.player.Toggle(id, rec.FilePath, surface)
}

func (l *Library) Stop(id int64, surface playback.Surface) bool {
	return l.player.Stop(id, surface)
}

func (l *Library) Playback() (playback.Snapshot, bool) {
	return l.player.Snapshot()
}

// Delete stops any playback of id before removing the row and its audio.
func (l *Library) Delete(ctx context.Context, id int64) (int64, error) {
	if l.player.StopRecording(id) {
		slog.Debug("Stopped playback before delete", "id", id)
	}

	n, err := l.catalog.Delete(ctx, id, true)
	if err != nil {
		return 0, fmt.Errorf("delete recording %d: %w", id, err)
	}
	if n > 0 {
		slog.Info("Recording deleted", "id", id)
	}
	return n, nil
}

// AttachPhoto stores a photo for id and returns its path. An empty path with
// a nil error means the user backed out.
func (l *Library) AttachPhoto(ctx context.Context, id int64, source PhotoSource, mode PhotoMode) (string, error) {
	if _, err := l.catalog.Get(ctx, id); err != nil {
		return "", err
	}

	granted, err := source.RequestPermission(ctx)
	if err != nil {
		return "", fmt.Errorf("request photo permission: %w", err)
	}
	if !granted {
		return "", ErrPermissionDenied
	}

	var file *PhotoFile
	switch mode {
	case PickPhoto:
		file, err = source.Pick(ctx)
	default:
		file, err = source.Capture(ctx)
	}
	if err != nil {
		return "", fmt.Errorf("%s: %w", strings.ToLower(mode.String()), err)
	}
	if file == nil {
		return "", nil
	}

	if err := checkImage(file); err != nil {
		return "", err
	}

	r, err := file.Open()
	if err != nil {
		return "", fmt.Errorf("open photo: %w", err)
	}
	defer r.Close()

	dest, err := l.vault.ImportPhoto(id, file.Name, r)
	if err != nil {
		return "", fmt.Errorf("import photo: %w", err)
	}

	n, err := l.catalog.UpdatePhoto(ctx, id, dest)
	if err != nil {
		return "", fmt.Errorf("update photo: %w", err)
	}
	if n == 0 {
		l.vault.Remove(dest)
		return "", ErrNotFound
	}

	slog.Info("Photo attached", "id", id, "path", dest)
	return dest, nil
}

func checkImage(file *PhotoFile) error {
	r, err := file.Open()
	if err != nil {
		return fmt.Errorf("open photo: %w", err)
	}
	defer r.Close()

	mt, err := mimetype.DetectReader(r)
	if err != nil {
		return fmt.Errorf("detect photo type: %w", err)
	}
	if !strings.HasPrefix(mt.String(), "image/") {
		return fmt.Errorf("%w: %s", ErrNotImage, mt.String())
	}
	return nil
}

// PhotoPath returns the stored photo for id if the file still exists.
func (l *Library) PhotoPath(ctx context.Context, id int64) (string, error) {
	rec, err := l.catalog.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if rec.PhotoPath == "" || !l.vault.Exists(rec.PhotoPath) {
		return "", ErrNoPhoto
	}
	return rec.PhotoPath, nil
}

// Locate returns a map link for id, resolving and storing the current
// location if the recording has none yet.
func (l *Library) Locate(ctx context.Context, id int64) (string, error) {
	rec, err := l.catalog.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if rec.HasLocation() {
		return MapURL(rec.Latitude, rec.Longitude), nil
	}

	if l.resolver == nil {
		return "", ErrLocationUnavailable
	}
	fix := l.resolver.Resolve(ctx)
	if !fix.Known() {
		return "", ErrLocationUnavailable
	}

	if _, err := l.catalog.UpdateLocation(ctx, id, fix.Latitude, fix.Longitude, fix.Place); err != nil {
		return "", fmt.Errorf("update location: %w", err)
	}
	return MapURL(fix.Latitude, fix.Longitude), nil
}

// MapURL links to a coordinate on Google Maps.
func MapURL(lat, lng float64) string {
	return "https://maps.google.com/?q=" +
		strconv.FormatFloat(lat, 'f', -1, 64) + "," +
		strconv.FormatFloat(lng, 'f', -1, 64)
}
