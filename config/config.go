// Package config loads the gate's YAML configuration file: server settings
// and one directive block per protected location.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	x402 "github.com/becomeliminal/x402-gate"
)

// EnvPrefix prefixes environment overrides, e.g. X402_REDIS_URL.
const EnvPrefix = "X402"

// File is the top-level configuration document.
type File struct {
	Server    Server     `mapstructure:"server"`
	Log       Log        `mapstructure:"log"`
	Redis     Redis      `mapstructure:"redis"`
	SkipPaths []string   `mapstructure:"skip_paths"`
	Locations []Location `mapstructure:"locations"`
}

// Server configures the reverse proxy.
type Server struct {
	Listen      string `mapstructure:"listen"`
	Upstream    string `mapstructure:"upstream"`
	MetricsPath string `mapstructure:"metrics_path"`
	// ShutdownTimeout is in seconds.
	ShutdownTimeout int `mapstructure:"shutdown_timeout"`
}

// Log configures the zap logger.
type Log struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or console
}

// Redis holds the default store URL for locations that set none.
type Redis struct {
	URL string `mapstructure:"url"`
}

// Location is the directive set of one protected path pattern. Durations
// are whole seconds.
type Location struct {
	Path string `mapstructure:"path"`

	X402                string `mapstructure:"x402"` // on|off
	Amount              string `mapstructure:"amount"`
	PayTo               string `mapstructure:"pay_to"`
	FacilitatorURL      string `mapstructure:"facilitator_url"`
	Description         string `mapstructure:"description"`
	Network             string `mapstructure:"network"`
	NetworkID           uint64 `mapstructure:"network_id"`
	Resource            string `mapstructure:"resource"`
	Asset               string `mapstructure:"asset"`
	AssetDecimals       *int   `mapstructure:"asset_decimals"`
	Timeout             int    `mapstructure:"timeout"`
	FacilitatorFallback string `mapstructure:"facilitator_fallback"`
	TTL                 int    `mapstructure:"ttl"`
	RedisURL            string `mapstructure:"redis_url"`
	ReplayTTL           int    `mapstructure:"replay_ttl"`
}

// Load reads the configuration file at path. Environment variables prefixed
// with X402_ override file values.
func Load(path string) (*File, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigFile(path)
	if !strings.HasSuffix(path, ".json") && !strings.HasSuffix(path, ".toml") {
		v.SetConfigType("yaml")
	}
	if err := v.ReadInConfig(); err != nil {
		return nil, x402.NewGateError(x402.KindConfig, "failed to read config file "+path, err)
	}

	var f File
	if err := v.Unmarshal(&f); err != nil {
		return nil, x402.NewGateError(x402.KindConfig, "failed to decode config file "+path, err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.listen", ":8402")
	v.SetDefault("server.upstream", "")
	v.SetDefault("server.metrics_path", "/metrics")
	v.SetDefault("server.shutdown_timeout", 15)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("redis.url", "")
}

// Validate checks every location. The first invalid directive aborts.
func (f *File) Validate() error {
	if f.Server.ShutdownTimeout < 0 {
		return x402.NewGateError(x402.KindConfig, "server.shutdown_timeout cannot be negative", nil)
	}
	seen := make(map[string]bool, len(f.Locations))
	for i, loc := range f.Locations {
		if loc.Path == "" {
			return x402.NewGateError(x402.KindConfig, fmt.Sprintf("locations[%d]: path is required", i), nil)
		}
		if seen[loc.Path] {
			return x402.NewGateError(x402.KindConfig, fmt.Sprintf("locations[%d]: duplicate path %q", i, loc.Path), nil)
		}
		seen[loc.Path] = true

		gc, err := loc.GateConfig(f.Redis.URL)
		if err != nil {
			return fmt.Errorf("locations[%d] (%s): %w", i, loc.Path, err)
		}
		if err := gc.Validate(); err != nil {
			return fmt.Errorf("locations[%d] (%s): %w", i, loc.Path, err)
		}
	}
	return nil
}

// GateConfig converts the directives into a GateConfig. defaultStoreURL is
// used when the location names no redis URL.
func (l *Location) GateConfig(defaultStoreURL string) (x402.GateConfig, error) {
	enabled, err := parseSwitch(l.X402)
	if err != nil {
		return x402.GateConfig{}, err
	}
	fallback, err := x402.ParseFallbackPolicy(l.FacilitatorFallback)
	if err != nil {
		return x402.GateConfig{}, err
	}
	for name, v := range map[string]int{"timeout": l.Timeout, "ttl": l.TTL, "replay_ttl": l.ReplayTTL} {
		if v < 0 {
			return x402.GateConfig{}, x402.NewGateError(x402.KindConfig, name+" cannot be negative", nil)
		}
	}

	storeURL := l.RedisURL
	if storeURL == "" {
		storeURL = defaultStoreURL
	}

	return x402.GateConfig{
		Enabled:        enabled,
		Amount:         l.Amount,
		PayTo:          l.PayTo,
		FacilitatorURL: l.FacilitatorURL,
		Network:        l.Network,
		NetworkID:      l.NetworkID,
		Asset:          l.Asset,
		AssetDecimals:  l.AssetDecimals,
		Description:    l.Description,
		ResourcePath:   l.Resource,
		Timeout:        seconds(l.Timeout),
		TTL:            seconds(l.TTL),
		Fallback:       fallback,
		StoreURL:       storeURL,
		ReplayTTL:      seconds(l.ReplayTTL),
	}, nil
}

// Routes builds the route table for the configured locations.
func (f *File) Routes() (*x402.Routes, error) {
	routes := x402.NewRoutes()
	routes.Skip(f.SkipPaths...)
	for _, loc := range f.Locations {
		gc, err := loc.GateConfig(f.Redis.URL)
		if err != nil {
			return nil, err
		}
		if err := routes.Handle(loc.Path, gc); err != nil {
			return nil, err
		}
	}
	return routes, nil
}

// StoreURLs lists the distinct store URLs used by enabled locations.
func (f *File) StoreURLs() []string {
	var urls []string
	seen := make(map[string]bool)
	for _, loc := range f.Locations {
		gc, err := loc.GateConfig(f.Redis.URL)
		if err != nil || !gc.Enabled || gc.StoreURL == "" || seen[gc.StoreURL] {
			continue
		}
		seen[gc.StoreURL] = true
		urls = append(urls, gc.StoreURL)
	}
	return urls
}

// FacilitatorURLs lists the distinct facilitator URLs used by enabled locations.
func (f *File) FacilitatorURLs() []string {
	var urls []string
	seen := make(map[string]bool)
	for _, loc := range f.Locations {
		gc, err := loc.GateConfig(f.Redis.URL)
		if err != nil || !gc.Enabled || seen[gc.FacilitatorURL] {
			continue
		}
		seen[gc.FacilitatorURL] = true
		urls = append(urls, gc.FacilitatorURL)
	}
	return urls
}

// ShutdownTimeoutDuration returns the graceful shutdown budget.
func (s Server) ShutdownTimeoutDuration() time.Duration {
	return seconds(s.ShutdownTimeout)
}

func parseSwitch(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "on", "true", "yes", "1":
		return true, nil
	case "", "off", "false", "no", "0":
		return false, nil
	default:
		return false, x402.NewGateError(x402.KindConfig, fmt.Sprintf("x402 must be on or off, got %q", s), nil)
	}
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
