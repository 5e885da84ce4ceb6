// Package config loads the process configuration from a YAML, JSON or TOML
// file and AUTHORITY_* environment variables.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/zeusync/authority/internal/core/network"
	"github.com/zeusync/authority/internal/core/observability/log"
	"github.com/zeusync/authority/internal/core/permission"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "AUTHORITY_"

// Duration accepts strings such as "5s" in every file format and in the
// environment.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalText() ([]byte, error) { return []byte(time.Duration(d).String()), nil }

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(b), err)
	}
	*d = Duration(v)
	return nil
}

type Config struct {
	Mode    network.Mode `yaml:"mode" json:"mode" toml:"mode" env:"MODE"`
	Offline bool         `yaml:"offline" json:"offline" toml:"offline" env:"OFFLINE"`
	// TickRate is the number of ticks per second.
	TickRate int `yaml:"tick_rate" json:"tick_rate" toml:"tick_rate" env:"TICK_RATE"`

	Log        log.Config `yaml:"log" json:"log" toml:"log" envPrefix:"LOG_"`
	Permission Permission `yaml:"permission" json:"permission" toml:"permission" envPrefix:"PERMISSION_"`
	Transport  Transport  `yaml:"transport" json:"transport" toml:"transport" envPrefix:"TRANSPORT_"`
	Metrics    Metrics    `yaml:"metrics" json:"metrics" toml:"metrics" envPrefix:"METRICS_"`
}

type Permission struct {
	// File holds permission groups. Without it only the guest group exists.
	File string `yaml:"file" json:"file" toml:"file" env:"FILE"`
	// Group is given to every joining client.
	Group string `yaml:"group" json:"group" toml:"group" env:"GROUP"`
}

type Transport struct {
	Websocket Websocket `yaml:"websocket" json:"websocket" toml:"websocket" envPrefix:"WEBSOCKET_"`
	QUIC      QUIC      `yaml:"quic" json:"quic" toml:"quic" envPrefix:"QUIC_"`
	// Dial is the server a client connects to: ws://, wss:// or quic://.
	Dial         string   `yaml:"dial" json:"dial" toml:"dial" env:"DIAL"`
	WriteTimeout Duration `yaml:"write_timeout" json:"write_timeout" toml:"write_timeout" env:"WRITE_TIMEOUT"`
}

type Websocket struct {
	// Listen disables the websocket listener when empty.
	Listen string `yaml:"listen" json:"listen" toml:"listen" env:"LISTEN"`
	Path   string `yaml:"path" json:"path" toml:"path" env:"PATH"`
}

type QUIC struct {
	// Listen disables the QUIC listener when empty.
	Listen      string   `yaml:"listen" json:"listen" toml:"listen" env:"LISTEN"`
	CertFile    string   `yaml:"cert_file" json:"cert_file" toml:"cert_file" env:"CERT_FILE"`
	KeyFile     string   `yaml:"key_file" json:"key_file" toml:"key_file" env:"KEY_FILE"`
	IdleTimeout Duration `yaml:"idle_timeout" json:"idle_timeout" toml:"idle_timeout" env:"IDLE_TIMEOUT"`
}

type Metrics struct {
	Enabled bool   `yaml:"enabled" json:"enabled" toml:"enabled" env:"ENABLED"`
	Path    string `yaml:"path" json:"path" toml:"path" env:"PATH"`
	// Listen serves metrics on their own address. When empty they share the
	// websocket listener.
	Listen string `yaml:"listen" json:"listen" toml:"listen" env:"LISTEN"`
}

func Default() Config {
	return Config{
		Mode:     network.Server,
		TickRate: 30,
		Log:      log.Config{Level: "info", Format: "json"},
		Permission: Permission{
			Group: permission.GuestGroupName,
		},
		Transport: Transport{
			Websocket:    Websocket{Listen: ":7400", Path: "/replication"},
			QUIC:         QUIC{IdleTimeout: Duration(30 * time.Second)},
			WriteTimeout: Duration(5 * time.Second),
		},
		Metrics: Metrics{Enabled: true, Path: "/metrics"},
	}
}

// TickInterval is the time between two ticks.
func (c Config) TickInterval() time.Duration {
	return time.Second / time.Duration(c.TickRate)
}

// Load reads path over the defaults, applies the environment and validates
// the result. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
		}
		if err := Decode(data, filepath.Ext(path), &cfg); err != nil {
			return Config{}, fmt.Errorf("config parse failed (%s): %w", path, err)
		}
	}
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Decode decodes data into cfg by file extension. Fields missing from data
// keep their current value.
func Decode(data []byte, ext string, cfg *Config) error {
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, cfg)
	case ".json":
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		return dec.Decode(cfg)
	case ".toml":
		_, err := toml.Decode(string(data), cfg)
		return err
	default:
		return fmt.Errorf("unsupported config extension %q", ext)
	}
}

func (c Config) Validate() error {
	if c.TickRate < 1 || c.TickRate > 1000 {
		return fmt.Errorf("tick_rate must be between 1 and 1000, got %d", c.TickRate)
	}
	if strings.TrimSpace(c.Permission.Group) == "" {
		return fmt.Errorf("permission group is required")
	}
	if c.Transport.WriteTimeout < 0 {
		return fmt.Errorf("transport write_timeout must not be negative")
	}
	if (c.Transport.QUIC.CertFile == "") != (c.Transport.QUIC.KeyFile == "") {
		return fmt.Errorf("quic cert_file and key_file must be set together")
	}
	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics path must start with /, got %q", c.Metrics.Path)
	}
	if c.Offline {
		return nil
	}

	switch c.Mode {
	case network.Server:
		if c.Transport.Websocket.Listen == "" && c.Transport.QUIC.Listen == "" {
			return fmt.Errorf("server needs a websocket or quic listen address")
		}
		if c.Transport.Websocket.Listen != "" && !strings.HasPrefix(c.Transport.Websocket.Path, "/") {
			return fmt.Errorf("websocket path must start with /, got %q", c.Transport.Websocket.Path)
		}
	case network.Client:
		if _, err := c.DialTarget(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown mode %s", c.Mode)
	}
	return nil
}

// DialTarget parses Transport.Dial.
func (c Config) DialTarget() (*url.URL, error) {
	if c.Transport.Dial == "" {
		return nil, fmt.Errorf("client needs transport dial address")
	}
	u, err := url.Parse(c.Transport.Dial)
	if err != nil {
		return nil, fmt.Errorf("invalid dial address %q: %w", c.Transport.Dial, err)
	}
	switch u.Scheme {
	case "ws", "wss", "quic":
	default:
		return nil, fmt.Errorf("unsupported dial scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("dial address %q has no host", c.Transport.Dial)
	}
	return u, nil
}
