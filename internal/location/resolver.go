// Package location resolves a best-effort coordinate and place name for a
// new recording.
package location

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"
)

// UnknownPlace is used when a reverse lookup yields no usable address parts.
const UnknownPlace = "Unknown Place"

// Accuracy is the requested precision of a fresh fix.
type Accuracy int

const (
	AccuracyLow Accuracy = iota
	AccuracyMedium
	AccuracyHigh
)

// Coordinate is a WGS84 position in degrees.
type Coordinate struct {
	Latitude  float64 `yaml:"latitude" json:"latitude"`
	Longitude float64 `yaml:"longitude" json:"longitude"`
}

// Address is a structured reverse-geocoding result.
type Address struct {
	SubThoroughfare string // street number
	Thoroughfare    string // street
	SubLocality     string
	Locality        string // suburb or town
	AdminArea       string // state
	CountryName     string
}

// Provider supplies position fixes. A nil coordinate with a nil error means
// no fix is available.
type Provider interface {
	LastKnown(ctx context.Context) (*Coordinate, error)
	Current(ctx context.Context, accuracy Accuracy, timeout time.Duration) (*Coordinate, error)
}

// Geocoder turns a coordinate into an address. A nil address with a nil
// error means no placemark was found.
type Geocoder interface {
	Reverse(ctx context.Context, c Coordinate) (*Address, error)
}

// Fix is the outcome of a resolution.
type Fix struct {
	Latitude  float64
	Longitude float64
	Place     string
}

// Unknown is the fix returned when no position could be obtained.
func Unknown() Fix {
	return Fix{Latitude: math.NaN(), Longitude: math.NaN()}
}

// Known reports whether the fix carries a coordinate.
func (f Fix) Known() bool {
	return !math.IsNaN(f.Latitude) && !math.IsNaN(f.Longitude)
}

// Options bounds the time spent in each stage.
type Options struct {
	FixTimeout     time.Duration // passed to Provider.Current
	HardTimeout    time.Duration // absolute bound on the fresh fix
	GeocodeTimeout time.Duration
}

// DefaultOptions bounds a fresh fix to 3s with a hard stop at 4s.
var DefaultOptions = Options{
	FixTimeout:     3 * time.Second,
	HardTimeout:    4 * time.Second,
	GeocodeTimeout: 5 * time.Second,
}

// Resolver runs the cached-then-fresh lookup followed by a reverse geocode.
type Resolver struct {
	provider Provider
	geocoder Geocoder
	opts     Options
}

// NewResolver returns a Resolver. geocoder may be nil, in which case fixes
// carry no place name.
func NewResolver(provider Provider, geocoder Geocoder, opts Options) *Resolver {
	if opts.FixTimeout <= 0 {
		opts.FixTimeout = DefaultOptions.FixTimeout
	}
	if opts.HardTimeout <= 0 {
		opts.HardTimeout = DefaultOptions.HardTimeout
	}
	if opts.HardTimeout < opts.FixTimeout {
		opts.HardTimeout = opts.FixTimeout
	}
	if opts.GeocodeTimeout <= 0 {
		opts.GeocodeTimeout = DefaultOptions.GeocodeTimeout
	}
	return &Resolver{provider: provider, geocoder: geocoder, opts: opts}
}

// Resolve never fails: any error or timeout degrades to Unknown, and a failed
// reverse lookup keeps the coordinate without a place name.
func (r *Resolver) Resolve(ctx context.Context) (fix Fix) {
	defer func() {
		if p := recover(); p != nil {
			slog.Error("Location resolution panicked", "panic", p)
			fix = Unknown()
		}
	}()

	if r.provider == nil {
		return Unknown()
	}

	coord := r.lastKnown(ctx)
	if coord == nil {
		coord = r.fresh(ctx)
	}
	if coord == nil {
		slog.Debug("No location fix available")
		return Unknown()
	}

	fix = Fix{Latitude: coord.Latitude, Longitude: coord.Longitude}
	fix.Place = r.place(ctx, *coord)
	return fix
}

// lastKnown shares the hard timeout with fresh so a slow cache cannot stall
// the lookup.
func (r *Resolver) lastKnown(ctx context.Context) *Coordinate {
	coord, err := bounded(ctx, r.opts.HardTimeout, r.provider.LastKnown)
	if err != nil {
		slog.Debug("Last known location unavailable", "error", err)
		return nil
	}
	if coord == nil || !valid(*coord) {
		return nil
	}
	return coord
}

type result[T any] struct {
	val *T
	err error
}

// errPanicked reports a provider or geocoder that panicked.
var errPanicked = errors.New("location: lookup panicked")

// bounded runs fn in its own goroutine and returns after timeout even if fn
// ignores cancellation. A panic in fn is returned as an error.
func bounded[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (*T, error)) (*T, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan result[T], 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				slog.Error("Location lookup panicked", "panic", p)
				done <- result[T]{err: errPanicked}
			}
		}()
		v, err := fn(ctx)
		done <- result[T]{val: v, err: err}
	}()

	select {
	case res := <-done:
		return res.val, res.err
	case <-ctx.Done():
		return nil, fmt.Errorf("timed out after %s: %w", timeout, ctx.Err())
	}
}

// fresh asks for a new low-accuracy fix and gives up after HardTimeout.
func (r *Resolver) fresh(ctx context.Context) *Coordinate {
	coord, err := bounded(ctx, r.opts.HardTimeout, func(ctx context.Context) (*Coordinate, error) {
		return r.provider.Current(ctx, AccuracyLow, r.opts.FixTimeout)
	})
	if err != nil {
		slog.Debug("Fresh location fix failed", "error", err)
		return nil
	}
	if coord == nil || !valid(*coord) {
		return nil
	}
	return coord
}

func (r *Resolver) place(ctx context.Context, c Coordinate) string {
	if r.geocoder == nil {
		return ""
	}

	addr, err := bounded(ctx, r.opts.GeocodeTimeout, func(ctx context.Context) (*Address, error) {
		return r.geocoder.Reverse(ctx, c)
	})
	if err != nil {
		slog.Debug("Reverse geocoding failed", "error", err)
		return ""
	}
	return FormatPlace(addr)
}

// FormatPlace renders "12 High St, Suburb, State", falling back to the
// country and then to UnknownPlace.
func FormatPlace(addr *Address) string {
	if addr == nil {
		return UnknownPlace
	}

	street := join(" ", addr.SubThoroughfare, addr.Thoroughfare)
	suburb := addr.Locality
	if strings.TrimSpace(suburb) == "" {
		suburb = addr.SubLocality
	}

	place := join(", ", street, suburb, addr.AdminArea)
	if place != "" {
		return place
	}
	if country := strings.TrimSpace(addr.CountryName); country != "" {
		return country
	}
	return UnknownPlace
}

func join(sep string, parts ...string) string {
	kept := parts[:0:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, sep)
}

func valid(c Coordinate) bool {
	if math.IsNaN(c.Latitude) || math.IsNaN(c.Longitude) || math.IsInf(c.Latitude, 0) || math.IsInf(c.Longitude, 0) {
		return false
	}
	return c.Latitude >= -90 && c.Latitude <= 90 && c.Longitude >= -180 && c.Longitude <= 180
}
