package location

import (
	"context"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/spf13/afero"
)

type fakeProvider struct {
	last       *Coordinate
	lastErr    error
	current    *Coordinate
	currentErr error
	block      chan struct{} // when set, Current ignores ctx and waits on it
	lastBlock  chan struct{} // same for LastKnown
	crash      bool          // Current panics
	calls      int
}

func (f *fakeProvider) LastKnown(context.Context) (*Coordinate, error) {
	if f.lastBlock != nil {
		<-f.lastBlock
	}
	return f.last, f.lastErr
}

func (f *fakeProvider) Current(ctx context.Context, acc Accuracy, timeout time.Duration) (*Coordinate, error) {
	f.calls++
	if f.crash {
		panic("sensor driver crashed")
	}
	if acc != AccuracyLow {
		return nil, errors.New("unexpected accuracy")
	}
	if f.block != nil {
		<-f.block
	}
	return f.current, f.currentErr
}

type fakeGeocoder struct {
	addr  *Address
	err   error
	delay time.Duration
	crash bool
}

func (f *fakeGeocoder) Reverse(ctx context.Context, c Coordinate) (*Address, error) {
	if f.crash {
		panic("geocoder crashed")
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.addr, f.err
}

func TestResolvePrefersLastKnown(t *testing.T) {
	p := &fakeProvider{last: &Coordinate{Latitude: -27.47, Longitude: 153.02}}
	g := &fakeGeocoder{addr: &Address{SubThoroughfare: "12", Thoroughfare: "High St", Locality: "Toowong", AdminArea: "QLD"}}

	fix := NewResolver(p, g, Options{}).Resolve(context.Background())

	if fix.Latitude != -27.47 || fix.Longitude != 153.02 {
		t.Errorf("Expected cached coordinate, got %v,%v", fix.Latitude, fix.Longitude)
	}
	if fix.Place != "12 High St, Toowong, QLD" {
		t.Errorf("Expected formatted place, got %q", fix.Place)
	}
	if p.calls != 0 {
		t.Errorf("Expected no fresh fix request, got %d", p.calls)
	}
}

func TestResolveFallsBackToFreshFix(t *testing.T) {
	p := &fakeProvider{
		lastErr: errors.New("no cache"),
		current: &Coordinate{Latitude: 51.5, Longitude: -0.12},
	}

	fix := NewResolver(p, nil, Options{}).Resolve(context.Background())

	if !fix.Known() {
		t.Fatal("Expected a known fix")
	}
	if fix.Place != "" {
		t.Errorf("Expected no place without a geocoder, got %q", fix.Place)
	}
	if p.calls != 1 {
		t.Errorf("Expected one fresh request, got %d", p.calls)
	}
}

func TestResolveUnknownOnFailure(t *testing.T) {
	tests := []struct {
		name     string
		provider Provider
	}{
		{name: "nil provider", provider: nil},
		{name: "no fix", provider: &fakeProvider{}},
		{name: "fresh error", provider: &fakeProvider{currentErr: errors.New("gps off")}},
		{name: "invalid coordinate", provider: &fakeProvider{current: &Coordinate{Latitude: 200, Longitude: 0}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fix := NewResolver(tt.provider, &fakeGeocoder{addr: &Address{CountryName: "X"}}, Options{}).Resolve(context.Background())
			if fix.Known() {
				t.Errorf("Expected unknown fix, got %v,%v", fix.Latitude, fix.Longitude)
			}
			if !math.IsNaN(fix.Latitude) || !math.IsNaN(fix.Longitude) {
				t.Error("Expected NaN coordinates")
			}
			if fix.Place != "" {
				t.Errorf("Expected empty place, got %q", fix.Place)
			}
		})
	}
}

func TestResolveHardTimeoutIgnoresStuckProvider(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	p := &fakeProvider{current: &Coordinate{Latitude: 1, Longitude: 1}, block: block}

	r := NewResolver(p, nil, Options{FixTimeout: 20 * time.Millisecond, HardTimeout: 50 * time.Millisecond})

	start := time.Now()
	fix := r.Resolve(context.Background())
	elapsed := time.Since(start)

	if fix.Known() {
		t.Error("Expected unknown fix after timeout")
	}
	if elapsed > time.Second {
		t.Errorf("Expected resolve to return near the hard timeout, took %v", elapsed)
	}
}

func TestResolveStuckLastKnownIsBounded(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	p := &fakeProvider{
		last:      &Coordinate{Latitude: 5, Longitude: 5},
		lastBlock: block,
		current:   &Coordinate{Latitude: 51.5, Longitude: -0.12},
	}

	r := NewResolver(p, nil, Options{FixTimeout: 20 * time.Millisecond, HardTimeout: 50 * time.Millisecond})

	start := time.Now()
	fix := r.Resolve(context.Background())
	elapsed := time.Since(start)

	if elapsed > time.Second {
		t.Errorf("Expected resolve to return near the hard timeout, took %v", elapsed)
	}
	if fix.Latitude != 51.5 || fix.Longitude != -0.12 {
		t.Errorf("Expected fresh fix after stuck cache, got %v,%v", fix.Latitude, fix.Longitude)
	}
}

func TestResolveRecoversFromPanics(t *testing.T) {
	fix := NewResolver(&fakeProvider{crash: true}, nil, Options{}).Resolve(context.Background())
	if fix.Known() {
		t.Errorf("Expected unknown fix after provider panic, got %v,%v", fix.Latitude, fix.Longitude)
	}

	p := &fakeProvider{last: &Coordinate{Latitude: 10, Longitude: 20}}
	fix = NewResolver(p, &fakeGeocoder{crash: true}, Options{}).Resolve(context.Background())
	if fix.Latitude != 10 || fix.Longitude != 20 {
		t.Errorf("Expected coordinate to survive geocoder panic, got %v,%v", fix.Latitude, fix.Longitude)
	}
	if fix.Place != "" {
		t.Errorf("Expected empty place, got %q", fix.Place)
	}
}

func TestResolveGeocodeFailureKeepsCoordinate(t *testing.T) {
	p := &fakeProvider{last: &Coordinate{Latitude: 10, Longitude: 20}}

	for name, g := range map[string]*fakeGeocoder{
		"error":   {err: errors.New("offline")},
		"timeout": {delay: time.Second},
	} {
		t.Run(name, func(t *testing.T) {
			r := NewResolver(p, g, Options{GeocodeTimeout: 30 * time.Millisecond})
			fix := r.Resolve(context.Background())
			if fix.Latitude != 10 || fix.Longitude != 20 {
				t.Errorf("Expected coordinate to be kept, got %v,%v", fix.Latitude, fix.Longitude)
			}
			if fix.Place != "" {
				t.Errorf("Expected empty place, got %q", fix.Place)
			}
		})
	}
}

func TestResolveNoPlacemark(t *testing.T) {
	p := &fakeProvider{last: &Coordinate{Latitude: 0, Longitude: 0}}
	fix := NewResolver(p, &fakeGeocoder{}, Options{}).Resolve(context.Background())

	if fix.Place != UnknownPlace {
		t.Errorf("Expected %q, got %q", UnknownPlace, fix.Place)
	}
}

func TestFormatPlace(t *testing.T) {
	tests := []struct {
		name string
		addr *Address
		want string
	}{
		{name: "nil", addr: nil, want: "Unknown Place"},
		{name: "full", addr: &Address{SubThoroughfare: "1", Thoroughfare: "George St", Locality: "Sydney", AdminArea: "NSW"}, want: "1 George St, Sydney, NSW"},
		{name: "no number", addr: &Address{Thoroughfare: "George St", Locality: "Sydney"}, want: "George St, Sydney"},
		{name: "sub locality fallback", addr: &Address{SubLocality: "Surry Hills", AdminArea: "NSW"}, want: "Surry Hills, NSW"},
		{name: "blank parts skipped", addr: &Address{Thoroughfare: "  ", Locality: "Perth", AdminArea: ""}, want: "Perth"},
		{name: "country fallback", addr: &Address{CountryName: "Iceland"}, want: "Iceland"},
		{name: "empty", addr: &Address{}, want: "Unknown Place"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatPlace(tt.addr); got != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestFixCache(t *testing.T) {
	fs := afero.NewMemMapFs()
	now := time.Date(2025, 10, 25, 12, 0, 0, 0, time.UTC)
	cache := NewFixCache(fs, "/state/last_fix.yaml", time.Hour)
	cache.now = func() time.Time { return now }

	if c, err := cache.Load(); err != nil || c != nil {
		t.Fatalf("Expected empty cache, got %v, %v", c, err)
	}

	if err := cache.Store(Coordinate{Latitude: 48.85, Longitude: 2.35}); err != nil {
		t.Fatalf("Store: %v", err)
	}

	c, err := cache.Load()
	if err != nil || c == nil {
		t.Fatalf("Expected cached fix, got %v, %v", c, err)
	}
	if c.Latitude != 48.85 || c.Longitude != 2.35 {
		t.Errorf("Expected 48.85,2.35, got %v,%v", c.Latitude, c.Longitude)
	}

	now = now.Add(2 * time.Hour)
	if c, _ := cache.Load(); c != nil {
		t.Error("Expected stale fix to be ignored")
	}
}

func TestCachingProviderWritesBack(t *testing.T) {
	cache := NewFixCache(afero.NewMemMapFs(), "/fix.yaml", 0)
	fresh := &fakeProvider{current: &Coordinate{Latitude: 5, Longitude: 6}}
	p := NewCachingProvider(cache, fresh)

	if c, _ := p.LastKnown(context.Background()); c != nil {
		t.Fatal("Expected no last known fix before first resolve")
	}
	if _, err := p.Current(context.Background(), AccuracyLow, time.Second); err != nil {
		t.Fatalf("Current: %v", err)
	}
	c, _ := p.LastKnown(context.Background())
	if c == nil || c.Latitude != 5 {
		t.Errorf("Expected fresh fix to be cached, got %v", c)
	}
}

func TestStaticProvider(t *testing.T) {
	p := NewStaticProvider(-33.86, 151.2)
	if c, _ := p.LastKnown(context.Background()); c == nil || c.Longitude != 151.2 {
		t.Errorf("Expected static coordinate, got %v", c)
	}

	unset := NewStaticProvider(math.NaN(), math.NaN())
	if c, _ := unset.Current(context.Background(), AccuracyLow, 0); c != nil {
		t.Errorf("Expected no fix, got %v", c)
	}
}

func TestChain(t *testing.T) {
	chain := Chain{
		&fakeProvider{currentErr: errors.New("down")},
		&fakeProvider{current: &Coordinate{Latitude: 1, Longitude: 2}},
	}
	c, err := chain.Current(context.Background(), AccuracyLow, time.Second)
	if err != nil || c == nil || c.Longitude != 2 {
		t.Errorf("Expected second provider's fix, got %v, %v", c, err)
	}

	if _, err := (Chain{}).Current(context.Background(), AccuracyLow, 0); err == nil {
		t.Error("Expected error for empty chain")
	}
}

func TestIPProvider(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"success","lat":40.71,"lon":-74.0}`))
	}))
	defer srv.Close()

	p := NewIPProvider(srv.URL, srv.Client())
	c, err := p.Current(context.Background(), AccuracyLow, time.Second)
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	if c == nil || c.Latitude != 40.71 || c.Longitude != -74.0 {
		t.Errorf("Expected 40.71,-74, got %v", c)
	}
}

func TestIPProviderFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"fail","message":"private range"}`))
	}))
	defer srv.Close()

	if _, err := NewIPProvider(srv.URL, srv.Client()).Current(context.Background(), AccuracyLow, time.Second); err == nil {
		t.Error("Expected error for failed lookup")
	}
}

func TestNominatimReverse(t *testing.T) {
	var gotUA, gotPath, gotLat string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotPath = r.URL.Path
		gotLat = r.URL.Query().Get("lat")
		w.Write([]byte(`{"address":{"house_number":"221B","road":"Baker Street","suburb":"Marylebone","city":"London","state":"England","country":"United Kingdom"}}`))
	}))
	defer srv.Close()

	n := NewNominatim(srv.URL, "echoprint-test", srv.Client())
	addr, err := n.Reverse(context.Background(), Coordinate{Latitude: 51.5238, Longitude: -0.1586})
	if err != nil {
		t.Fatalf("Reverse: %v", err)
	}

	if gotUA != "echoprint-test" {
		t.Errorf("Expected user agent to be sent, got %q", gotUA)
	}
	if gotPath != "/reverse" {
		t.Errorf("Expected /reverse, got %s", gotPath)
	}
	if gotLat != "51.5238" {
		t.Errorf("Expected lat=51.5238, got %s", gotLat)
	}
	if got := FormatPlace(addr); got != "221B Baker Street, Marylebone, England" {
		t.Errorf("Expected formatted address, got %q", got)
	}
}

func TestNominatimNoPlacemark(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error":"Unable to geocode"}`))
	}))
	defer srv.Close()

	addr, err := NewNominatim(srv.URL, "", srv.Client()).Reverse(context.Background(), Coordinate{})
	if err != nil || addr != nil {
		t.Errorf("Expected nil address and nil error, got %v, %v", addr, err)
	}
}
