package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type PopupConfig struct {
	Enabled   bool
	MaxPopups int
	Duration  time.Duration
	Position  string
	PlaySound bool
}

type Config struct {
	APIBaseURL      string
	RequestTimeout  time.Duration
	RealtimeURL     string
	RealtimeKey     string
	RealtimeCluster string
	ReconnectMin    time.Duration
	ReconnectMax    time.Duration
	Popups          PopupConfig
	StateDir        string
	LogLevel        string
	LogFormat       string
}

type DevServerConfig struct {
	Port            int
	MasterSecret    string
	GinMode         string
	TLSCertFile     string
	TLSKeyFile      string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	RealtimeKey     string
	RealtimeSecret  string
	RealtimeCluster string
	StateFile       string
	LogLevel        string
	LogFormat       string
}

type Env interface {
	Getenv(key string) string
}

type osEnv struct{}

func (osEnv) Getenv(key string) string { return os.Getenv(key) }

var positions = map[string]bool{
	"top-right":    true,
	"top-left":     true,
	"bottom-right": true,
	"bottom-left":  true,
}

func LoadConfig() (Config, error) {
	return LoadConfigFromEnv(osEnv{})
}

func LoadDevServerConfig() (DevServerConfig, error) {
	return LoadDevServerConfigFromEnv(osEnv{})
}

func DefaultConfig() Config {
	return Config{
		APIBaseURL:      "http://localhost:3000",
		RequestTimeout:  10 * time.Second,
		RealtimeURL:     "ws://localhost:3000/realtime",
		RealtimeCluster: "local",
		ReconnectMin:    time.Second,
		ReconnectMax:    30 * time.Second,
		Popups: PopupConfig{
			Enabled:   true,
			MaxPopups: 3,
			Duration:  5 * time.Second,
			Position:  "top-right",
			PlaySound: true,
		},
		LogLevel:  "info",
		LogFormat: "text",
	}
}

// LoadConfigFromEnv applies the optional STOREFRONT_CONFIG file first and the
// environment on top of it.
func LoadConfigFromEnv(env Env) (Config, error) {
	cfg := DefaultConfig()

	if path := env.Getenv("STOREFRONT_CONFIG"); path != "" {
		if err := applyFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}

	if raw := env.Getenv("API_BASE_URL"); raw != "" {
		cfg.APIBaseURL = raw
	}
	if err := durationMS(env, "REQUEST_TIMEOUT_MS", &cfg.RequestTimeout); err != nil {
		return Config{}, err
	}
	if raw := env.Getenv("REALTIME_URL"); raw != "" {
		cfg.RealtimeURL = raw
	}
	if raw := env.Getenv("REALTIME_KEY"); raw != "" {
		cfg.RealtimeKey = raw
	}
	if cfg.RealtimeKey == "" {
		return Config{}, fmt.Errorf("REALTIME_KEY is required")
	}
	if raw := env.Getenv("REALTIME_CLUSTER"); raw != "" {
		cfg.RealtimeCluster = raw
	}
	if err := durationMS(env, "RECONNECT_MIN_MS", &cfg.ReconnectMin); err != nil {
		return Config{}, err
	}
	if err := durationMS(env, "RECONNECT_MAX_MS", &cfg.ReconnectMax); err != nil {
		return Config{}, err
	}
	if cfg.ReconnectMax < cfg.ReconnectMin {
		return Config{}, fmt.Errorf("invalid RECONNECT_MAX_MS: below RECONNECT_MIN_MS")
	}

	if err := boolean(env, "POPUPS_ENABLED", &cfg.Popups.Enabled); err != nil {
		return Config{}, err
	}
	if raw := env.Getenv("POPUPS_MAX"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return Config{}, fmt.Errorf("invalid POPUPS_MAX")
		}
		cfg.Popups.MaxPopups = n
	}
	if err := durationMS(env, "POPUPS_DURATION_MS", &cfg.Popups.Duration); err != nil {
		return Config{}, err
	}
	if raw := env.Getenv("POPUPS_POSITION"); raw != "" {
		cfg.Popups.Position = raw
	}
	if !positions[cfg.Popups.Position] {
		return Config{}, fmt.Errorf("invalid POPUPS_POSITION")
	}
	if err := boolean(env, "POPUPS_SOUND", &cfg.Popups.PlaySound); err != nil {
		return Config{}, err
	}

	if raw := env.Getenv("STATE_DIR"); raw != "" {
		cfg.StateDir = raw
	}
	if raw := env.Getenv("LOG_LEVEL"); raw != "" {
		cfg.LogLevel = raw
	}
	if raw := env.Getenv("LOG_FORMAT"); raw != "" {
		cfg.LogFormat = raw
	}

	return cfg, nil
}

func LoadDevServerConfigFromEnv(env Env) (DevServerConfig, error) {
	cfg := DevServerConfig{
		Port:            3000,
		GinMode:         "release",
		AccessTokenTTL:  15 * time.Minute,
		RefreshTokenTTL: 7 * 24 * time.Hour,
		RealtimeCluster: "local",
		LogLevel:        "info",
		LogFormat:       "text",
	}

	if raw := env.Getenv("PORT"); raw != "" {
		port, err := strconv.Atoi(raw)
		if err != nil || port <= 0 || port > 65535 {
			return DevServerConfig{}, fmt.Errorf("invalid PORT")
		}
		cfg.Port = port
	}

	cfg.MasterSecret = env.Getenv("MASTER_SECRET")
	if cfg.MasterSecret == "" {
		return DevServerConfig{}, fmt.Errorf("MASTER_SECRET is required")
	}
	cfg.RealtimeKey = env.Getenv("REALTIME_KEY")
	if cfg.RealtimeKey == "" {
		return DevServerConfig{}, fmt.Errorf("REALTIME_KEY is required")
	}
	cfg.RealtimeSecret = env.Getenv("REALTIME_SECRET")
	if cfg.RealtimeSecret == "" {
		return DevServerConfig{}, fmt.Errorf("REALTIME_SECRET is required")
	}

	if raw := env.Getenv("GIN_MODE"); raw != "" {
		cfg.GinMode = raw
	}
	if raw := env.Getenv("REALTIME_CLUSTER"); raw != "" {
		cfg.RealtimeCluster = raw
	}

	cfg.TLSCertFile = env.Getenv("TLS_CERT_FILE")
	cfg.TLSKeyFile = env.Getenv("TLS_KEY_FILE")
	cfg.StateFile = env.Getenv("ACCOUNTS_STATE_FILE")

	if err := seconds(env, "ACCESS_TOKEN_TTL_SECONDS", &cfg.AccessTokenTTL); err != nil {
		return DevServerConfig{}, err
	}
	if err := seconds(env, "REFRESH_TOKEN_TTL_SECONDS", &cfg.RefreshTokenTTL); err != nil {
		return DevServerConfig{}, err
	}
	if raw := env.Getenv("LOG_LEVEL"); raw != "" {
		cfg.LogLevel = raw
	}
	if raw := env.Getenv("LOG_FORMAT"); raw != "" {
		cfg.LogFormat = raw
	}

	return cfg, nil
}

func durationMS(env Env, key string, dst *time.Duration) error {
	raw := env.Getenv(key)
	if raw == "" {
		return nil
	}
	ms, err := strconv.Atoi(raw)
	if err != nil || ms <= 0 {
		return fmt.Errorf("invalid %s", key)
	}
	*dst = time.Duration(ms) * time.Millisecond
	return nil
}

func seconds(env Env, key string, dst *time.Duration) error {
	raw := env.Getenv(key)
	if raw == "" {
		return nil
	}
	s, err := strconv.Atoi(raw)
	if err != nil || s <= 0 {
		return fmt.Errorf("invalid %s", key)
	}
	*dst = time.Duration(s) * time.Second
	return nil
}

func boolean(env Env, key string, dst *bool) error {
	raw := env.Getenv(key)
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return fmt.Errorf("invalid %s", key)
	}
	*dst = v
	return nil
}

// fileConfig mirrors Config for YAML. Pointers distinguish "absent" from zero.
type fileConfig struct {
	APIBaseURL       *string `yaml:"apiBaseUrl"`
	RequestTimeoutMS *int    `yaml:"requestTimeoutMs"`
	Realtime         struct {
		URL            *string `yaml:"url"`
		Key            *string `yaml:"key"`
		Cluster        *string `yaml:"cluster"`
		ReconnectMinMS *int    `yaml:"reconnectMinMs"`
		ReconnectMaxMS *int    `yaml:"reconnectMaxMs"`
	} `yaml:"realtime"`
	Popups struct {
		Enabled    *bool   `yaml:"enabled"`
		Max        *int    `yaml:"max"`
		DurationMS *int    `yaml:"durationMs"`
		Position   *string `yaml:"position"`
		Sound      *bool   `yaml:"sound"`
	} `yaml:"popups"`
	StateDir  *string `yaml:"stateDir"`
	LogLevel  *string `yaml:"logLevel"`
	LogFormat *string `yaml:"logFormat"`
}

func applyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	setString(&cfg.APIBaseURL, fc.APIBaseURL)
	setMS(&cfg.RequestTimeout, fc.RequestTimeoutMS)
	setString(&cfg.RealtimeURL, fc.Realtime.URL)
	setString(&cfg.RealtimeKey, fc.Realtime.Key)
	setString(&cfg.RealtimeCluster, fc.Realtime.Cluster)
	setMS(&cfg.ReconnectMin, fc.Realtime.ReconnectMinMS)
	setMS(&cfg.ReconnectMax, fc.Realtime.ReconnectMaxMS)
	if fc.Popups.Enabled != nil {
		cfg.Popups.Enabled = *fc.Popups.Enabled
	}
	if fc.Popups.Max != nil && *fc.Popups.Max > 0 {
		cfg.Popups.MaxPopups = *fc.Popups.Max
	}
	setMS(&cfg.Popups.Duration, fc.Popups.DurationMS)
	setString(&cfg.Popups.Position, fc.Popups.Position)
	if fc.Popups.Sound != nil {
		cfg.Popups.PlaySound = *fc.Popups.Sound
	}
	setString(&cfg.StateDir, fc.StateDir)
	setString(&cfg.LogLevel, fc.LogLevel)
	setString(&cfg.LogFormat, fc.LogFormat)
	return nil
}

func setString(dst *string, v *string) {
	if v != nil && *v != "" {
		*dst = *v
	}
}

func setMS(dst *time.Duration, v *int) {
	if v != nil && *v > 0 {
		*dst = time.Duration(*v) * time.Millisecond
	}
}
