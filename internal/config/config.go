package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultServerAddr      = "localhost:8000"
	DefaultStaleThreshold  = 5 * time.Minute
	DefaultSweepInterval   = 5 * time.Minute
	DefaultIdleRoomTimeout = 30 * time.Second

	envPrefix = "ROOMCAST_"
)

type Config struct {
	ServerAddr     string   `yaml:"addr"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	// IngressSecret is the base64 encoded key broadcast callers sign their
	// tokens with. Empty disables ingress authentication.
	IngressSecret   string        `yaml:"ingress_signing_key"`
	StaleThreshold  time.Duration `yaml:"stale_threshold"`
	SweepInterval   time.Duration `yaml:"sweep_interval"`
	IdleRoomTimeout time.Duration `yaml:"idle_room_timeout"`
	StaleByJoin     bool          `yaml:"stale_by_join"`
	Debug           bool          `yaml:"debug"`

	IngressSigningKey []byte `yaml:"-"`
}

// Load builds the configuration from defaults, the YAML file at path (if
// any) and ROOMCAST_* environment variables, in that order.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %q: %w", path, err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse yaml: %w", err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

// LoadEnvFile sets environment variables from a dotenv file without
// overriding variables that are already set.
func LoadEnvFile(path string) error {
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file %q: %w", path, err)
	}

	return nil
}

func defaults() *Config {
	return &Config{
		ServerAddr:      DefaultServerAddr,
		StaleThreshold:  DefaultStaleThreshold,
		SweepInterval:   DefaultSweepInterval,
		IdleRoomTimeout: DefaultIdleRoomTimeout,
	}
}

func applyEnv(cfg *Config) error {
	if v, ok := lookup("ADDR"); ok {
		cfg.ServerAddr = v
	}
	if v, ok := lookup("ALLOWED_ORIGINS"); ok {
		cfg.AllowedOrigins = splitCSV(v)
	}
	if v, ok := lookup("INGRESS_SIGNING_KEY"); ok {
		cfg.IngressSecret = v
	}

	durations := map[string]*time.Duration{
		"STALE_THRESHOLD":   &cfg.StaleThreshold,
		"SWEEP_INTERVAL":    &cfg.SweepInterval,
		"IDLE_ROOM_TIMEOUT": &cfg.IdleRoomTimeout,
	}
	for key, dst := range durations {
		v, ok := lookup(key)
		if !ok {
			continue
		}

		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s%s=%q: %w", envPrefix, key, v, err)
		}
		*dst = d
	}

	flags := map[string]*bool{
		"STALE_BY_JOIN": &cfg.StaleByJoin,
		"DEBUG":         &cfg.Debug,
	}
	for key, dst := range flags {
		v, ok := lookup(key)
		if !ok {
			continue
		}

		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %s%s=%q: %w", envPrefix, key, v, err)
		}
		*dst = b
	}

	return nil
}

func lookup(key string) (string, bool) {
	v := strings.TrimSpace(os.Getenv(envPrefix + key))
	return v, v != ""
}

func splitCSV(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}

	return out
}

func decodeSigningSecret(base64Secret string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(base64Secret)
}

func validate(cfg *Config) error {
	if cfg.ServerAddr == "" {
		return fmt.Errorf("server address cannot be empty")
	}
	if cfg.StaleThreshold <= 0 {
		return fmt.Errorf("stale_threshold must be positive")
	}
	if cfg.SweepInterval <= 0 {
		return fmt.Errorf("sweep_interval must be positive")
	}
	if cfg.IdleRoomTimeout <= 0 {
		return fmt.Errorf("idle_room_timeout must be positive")
	}

	if cfg.IngressSecret != "" {
		key, err := decodeSigningSecret(cfg.IngressSecret)
		if err != nil {
			return fmt.Errorf("decode ingress signing key: %w", err)
		}
		if len(key) == 0 {
			return fmt.Errorf("ingress signing key cannot be empty")
		}
		cfg.IngressSigningKey = key
	}

	return nil
}
