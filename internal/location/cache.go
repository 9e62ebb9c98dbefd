package location

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

type cachedFix struct {
	Coordinate `yaml:",inline"`
	Taken      time.Time `yaml:"taken"`
}

// FixCache persists the most recent fix as a small YAML file.
type FixCache struct {
	fs     afero.Fs
	path   string
	maxAge time.Duration
	now    func() time.Time

	mu sync.Mutex
}

// NewFixCache returns a cache at path. A maxAge of zero never expires entries.
func NewFixCache(fs afero.Fs, path string, maxAge time.Duration) *FixCache {
	return &FixCache{fs: fs, path: path, maxAge: maxAge, now: time.Now}
}

// Load returns the cached coordinate, or nil when missing, unreadable or stale.
func (c *FixCache) Load() (*Coordinate, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := afero.ReadFile(c.fs, c.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read fix cache: %w", err)
	}

	var fix cachedFix
	if err := yaml.Unmarshal(data, &fix); err != nil {
		return nil, fmt.Errorf("parse fix cache: %w", err)
	}
	if !valid(fix.Coordinate) {
		return nil, nil
	}
	if c.maxAge > 0 && c.now().Sub(fix.Taken) > c.maxAge {
		slog.Debug("Cached location fix is stale", "taken", fix.Taken)
		return nil, nil
	}
	coord := fix.Coordinate
	return &coord, nil
}

// Store replaces the cached coordinate.
func (c *FixCache) Store(coord Coordinate) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := yaml.Marshal(cachedFix{Coordinate: coord, Taken: c.now().UTC()})
	if err != nil {
		return fmt.Errorf("encode fix cache: %w", err)
	}
	if err := c.fs.MkdirAll(filepath.Dir(c.path), 0755); err != nil {
		return fmt.Errorf("create fix cache directory: %w", err)
	}
	if err := afero.WriteFile(c.fs, c.path, data, 0644); err != nil {
		return fmt.Errorf("write fix cache: %w", err)
	}
	return nil
}

// CachingProvider answers LastKnown from a FixCache and records every fresh
// fix obtained from the wrapped provider.
type CachingProvider struct {
	cache *FixCache
	fresh Provider
}

func NewCachingProvider(cache *FixCache, fresh Provider) *CachingProvider {
	return &CachingProvider{cache: cache, fresh: fresh}
}

func (p *CachingProvider) LastKnown(ctx context.Context) (*Coordinate, error) {
	if c, err := p.cache.Load(); err != nil || c != nil {
		return c, err
	}
	return p.fresh.LastKnown(ctx)
}

func (p *CachingProvider) Current(ctx context.Context, accuracy Accuracy, timeout time.Duration) (*Coordinate, error) {
	c, err := p.fresh.Current(ctx, accuracy, timeout)
	if err != nil || c == nil {
		return c, err
	}
	if err := p.cache.Store(*c); err != nil {
		slog.Warn("Failed to cache location fix", "error", err)
	}
	return c, nil
}
