package cmd

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/audiolibrelab/echoprint/internal/catalog"
	"github.com/audiolibrelab/echoprint/internal/config"
	"github.com/audiolibrelab/echoprint/internal/enrich"
	"github.com/audiolibrelab/echoprint/internal/location"
	"github.com/audiolibrelab/echoprint/internal/play"
	"github.com/audiolibrelab/echoprint/internal/playback"
	"github.com/audiolibrelab/echoprint/internal/service"
	"github.com/audiolibrelab/echoprint/internal/vault"
)

// app wires the long-lived components shared by the subcommands.
type app struct {
	cfg      *config.Config
	vault    *vault.Vault
	catalog  *catalog.Store
	player   *playback.Controller
	resolver *location.Resolver // nil when location is disabled
	library  *service.Library
}

func newApp(cfg *config.Config) *app {
	v := vault.NewOS(cfg.Storage.Root, vault.Options{
		RecordingsDir: cfg.Storage.RecordingsDir,
		PhotosDir:     cfg.Storage.PhotosDir,
		CapturePrefix: cfg.Audio.CapturePrefix,
		Extension:     cfg.Audio.Format,
	})

	store := catalog.New(cfg.DatabasePath(), catalog.WithBlobRemover(v))

	ctrl := playback.NewController(play.New(cfg),
		playback.WithInterval(cfg.Playback.PollInterval),
		playback.WithFileCheck(v.Exists))

	resolver := newResolver(cfg, v)

	var r service.Resolver
	if resolver != nil {
		r = resolver
	}

	return &app{
		cfg:      cfg,
		vault:    v,
		catalog:  store,
		player:   ctrl,
		resolver: resolver,
		library:  service.New(store, v, ctrl, r),
	}
}

// newResolver builds the provider chain from the location settings: cached
// fix, fixed coordinates, then IP lookup.
func newResolver(cfg *config.Config, v *vault.Vault) *location.Resolver {
	lc := cfg.Location
	if !lc.Enabled {
		slog.Debug("Location tagging disabled")
		return nil
	}

	client := &http.Client{Timeout: lc.HardTimeout + lc.GeocodeTimeout}

	var chain location.Chain
	if lc.Static.Enabled {
		chain = append(chain, location.NewStaticProvider(lc.Static.Latitude, lc.Static.Longitude))
	}
	if lc.IPLookupURL != "" {
		chain = append(chain, location.NewIPProvider(lc.IPLookupURL, client))
	}

	var provider location.Provider = chain
	if path := cfg.FixCachePath(); path != "" {
		cache := location.NewFixCache(v.Fs(), path, lc.CacheMaxAge)
		provider = location.NewCachingProvider(cache, chain)
	}

	var geocoder location.Geocoder
	if lc.Nominatim.BaseURL != "" {
		geocoder = location.NewNominatim(lc.Nominatim.BaseURL, lc.Nominatim.UserAgent, client)
	}

	return location.NewResolver(provider, geocoder, location.Options{
		FixTimeout:     lc.FixTimeout,
		HardTimeout:    lc.HardTimeout,
		GeocodeTimeout: lc.GeocodeTimeout,
	})
}

// newEnricher returns a started-later worker, or nil when location is off.
func (a *app) newEnricher() *enrich.Worker {
	if a.resolver == nil {
		return nil
	}
	return enrich.NewWorker(a.resolver, a.catalog, enrich.Options{
		QueueSize:       a.cfg.Enrich.QueueSize,
		WriteUnresolved: a.cfg.Location.WriteUnresolved,
	})
}

func (a *app) close() {
	a.player.StopAll()
	if err := a.catalog.Close(); err != nil {
		slog.Warn("Failed to close catalog", "error", err)
	}
}

func parseID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid recording id %q", arg)
	}
	return id, nil
}

func formatTime(t time.Time) string {
	return t.Local().Format("2006-01-02 15:04")
}
