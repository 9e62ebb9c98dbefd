package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

type Config struct {
	Storage  StorageConfig  `mapstructure:"storage" yaml:"storage"`
	Audio    AudioConfig    `mapstructure:"audio" yaml:"audio"`
	Playback PlaybackConfig `mapstructure:"playback" yaml:"playback"`
	Location LocationConfig `mapstructure:"location" yaml:"location"`
	Enrich   EnrichConfig   `mapstructure:"enrich" yaml:"enrich"`
	Server   ServerConfig   `mapstructure:"server" yaml:"server"`
	Photo    PhotoConfig    `mapstructure:"photo" yaml:"photo"`
}

type StorageConfig struct {
	Root          string `mapstructure:"root" yaml:"root" validate:"required"`
	Database      string `mapstructure:"database" yaml:"database" validate:"required"` // relative to root unless absolute
	RecordingsDir string `mapstructure:"recordings_dir" yaml:"recordings_dir" validate:"required"`
	PhotosDir     string `mapstructure:"photos_dir" yaml:"photos_dir" validate:"required"`
}

type AudioConfig struct {
	Backend       string `mapstructure:"backend" yaml:"backend" validate:"oneof=auto pipewire alsa ffmpeg"`
	Source        string `mapstructure:"source" yaml:"source" validate:"omitempty,audiosource"` // empty = system default
	SampleRate    int    `mapstructure:"sample_rate" yaml:"sample_rate" validate:"min=8000,max=192000"`
	Channels      int    `mapstructure:"channels" yaml:"channels" validate:"min=1,max=2"`
	Format        string `mapstructure:"format" yaml:"format" validate:"oneof=wav"`
	CapturePrefix string `mapstructure:"capture_prefix" yaml:"capture_prefix" validate:"required"`
	Player        string `mapstructure:"player" yaml:"player" validate:"omitempty,oneof=ffplay mpv vlc aplay"` // empty = first found
}

type PlaybackConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval" validate:"gt=0"`
}

type LocationConfig struct {
	Enabled         bool            `mapstructure:"enabled" yaml:"enabled"`
	FixTimeout      time.Duration   `mapstructure:"fix_timeout" yaml:"fix_timeout" validate:"gt=0"`
	HardTimeout     time.Duration   `mapstructure:"hard_timeout" yaml:"hard_timeout" validate:"gtefield=FixTimeout"`
	GeocodeTimeout  time.Duration   `mapstructure:"geocode_timeout" yaml:"geocode_timeout" validate:"gt=0"`
	CacheFile       string          `mapstructure:"cache_file" yaml:"cache_file"` // relative to storage root
	CacheMaxAge     time.Duration   `mapstructure:"cache_max_age" yaml:"cache_max_age" validate:"gte=0"`
	WriteUnresolved bool            `mapstructure:"write_unresolved" yaml:"write_unresolved"`
	Static          StaticLocation  `mapstructure:"static" yaml:"static"`
	IPLookupURL     string          `mapstructure:"ip_lookup_url" yaml:"ip_lookup_url" validate:"omitempty,url"`
	Nominatim       NominatimConfig `mapstructure:"nominatim" yaml:"nominatim"`
}

type StaticLocation struct {
	Enabled   bool    `mapstructure:"enabled" yaml:"enabled"`
	Latitude  float64 `mapstructure:"latitude" yaml:"latitude" validate:"min=-90,max=90"`
	Longitude float64 `mapstructure:"longitude" yaml:"longitude" validate:"min=-180,max=180"`
}

type NominatimConfig struct {
	BaseURL   string `mapstructure:"base_url" yaml:"base_url" validate:"omitempty,url"` // empty disables reverse geocoding
	UserAgent string `mapstructure:"user_agent" yaml:"user_agent" validate:"required_with=BaseURL"`
}

type EnrichConfig struct {
	QueueSize    int           `mapstructure:"queue_size" yaml:"queue_size" validate:"min=1"`
	DrainTimeout time.Duration `mapstructure:"drain_timeout" yaml:"drain_timeout" validate:"gt=0"`
}

type ServerConfig struct {
	Host string `mapstructure:"host" yaml:"host"`
	Port int    `mapstructure:"port" yaml:"port" validate:"min=1,max=65535"`
}

type PhotoConfig struct {
	VideoDevice string `mapstructure:"video_device" yaml:"video_device"`
}

// DefaultFile is the config path used when --config is not given.
func DefaultFile() string {
	return os.ExpandEnv("$HOME/.config/echoprint.yaml")
}

func setDefaults(v *viper.Viper) {
	home := os.Getenv("HOME")

	v.SetDefault("storage.root", filepath.Join(home, ".local", "share", "echoprint"))
	v.SetDefault("storage.database", "echoprint.db3")
	v.SetDefault("storage.recordings_dir", "Recordings")
	v.SetDefault("storage.photos_dir", "Photos")

	v.SetDefault("audio.backend", "auto")
	v.SetDefault("audio.source", "")
	v.SetDefault("audio.sample_rate", 44100)
	v.SetDefault("audio.channels", 1)
	v.SetDefault("audio.format", "wav")
	v.SetDefault("audio.capture_prefix", "Echo")
	v.SetDefault("audio.player", "")

	v.SetDefault("playback.poll_interval", 100*time.Millisecond)

	v.SetDefault("location.enabled", true)
	v.SetDefault("location.fix_timeout", 3*time.Second)
	v.SetDefault("location.hard_timeout", 4*time.Second)
	v.SetDefault("location.geocode_timeout", 5*time.Second)
	v.SetDefault("location.cache_file", "last_fix.yaml")
	v.SetDefault("location.cache_max_age", 30*time.Minute)
	v.SetDefault("location.write_unresolved", true)
	v.SetDefault("location.static.enabled", false)
	v.SetDefault("location.static.latitude", 0.0)
	v.SetDefault("location.static.longitude", 0.0)
	v.SetDefault("location.ip_lookup_url", "http://ip-api.com/json/")
	v.SetDefault("location.nominatim.base_url", "https://nominatim.openstreetmap.org")
	v.SetDefault("location.nominatim.user_agent", "echoprint/1.0")

	v.SetDefault("enrich.queue_size", 64)
	v.SetDefault("enrich.drain_timeout", 10*time.Second)

	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8080)

	v.SetDefault("photo.video_device", "/dev/video0")
}

// Load reads configFile over the built-in defaults and ECHOPRINT_* environment
// variables. A missing file is only an error when it was asked for
// explicitly.
func Load(configFile string, explicit bool) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("ECHOPRINT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			if explicit || !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	cfg.Storage.Root = expandPath(cfg.Storage.Root)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// Default returns the configuration used when no file or environment
// overrides are present.
func Default() *Config {
	v := viper.New()
	setDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("invalid built-in defaults: %v", err))
	}
	cfg.Storage.Root = expandPath(cfg.Storage.Root)
	return &cfg
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterValidation("audiosource", func(fl validator.FieldLevel) bool {
		return isValidAudioSource(fl.Field().String())
	})
	return v
}

// Validate checks field constraints and returns the first violation in a
// readable form.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		field := strings.TrimPrefix(fe.Namespace(), "Config.")
		if fe.Param() != "" {
			return fmt.Errorf("%s: failed '%s=%s' (got %v)", field, fe.Tag(), fe.Param(), fe.Value())
		}
		return fmt.Errorf("%s: failed '%s' (got %v)", field, fe.Tag(), fe.Value())
	}
	return err
}

// DatabasePath resolves the catalog database location.
func (c *Config) DatabasePath() string {
	return c.underRoot(c.Storage.Database)
}

// FixCachePath resolves the last-known location cache file.
func (c *Config) FixCachePath() string {
	if c.Location.CacheFile == "" {
		return ""
	}
	return c.underRoot(c.Location.CacheFile)
}

func (c *Config) underRoot(p string) string {
	p = expandPath(p)
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.Storage.Root, p)
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, path[2:])
	}
	return path
}

// isValidAudioSource accepts PipeWire/JACK port names ("device:port") and
// ALSA device strings ("hw:1,0", "default").
func isValidAudioSource(source string) bool {
	source = strings.TrimSpace(source)
	if source == "" {
		return false
	}

	if i := strings.LastIndex(source, ":"); i >= 0 {
		device := strings.TrimSpace(source[:i])
		port := strings.TrimSpace(source[i+1:])
		return device != "" && port != ""
	}
	return !strings.ContainsAny(source, " \t")
}
