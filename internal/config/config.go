// Package config loads process configuration from the environment and
// command-line flags.
package config

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"strconv"

	"github.com/caarlos0/env/v11"
)

// Config is shared by the server and client binaries.
type Config struct {
	Port         int     `env:"PORT"            envDefault:"4040"`
	Host         string  `env:"HOST"            envDefault:"127.0.0.1"`
	Capacity     int     `env:"CAPACITY"        envDefault:"10"`
	Secret       string  `env:"SECRET"          envDefault:"usndbx"`
	Scene        string  `env:"SCENE"           envDefault:"Assets/Scenes/Main.unity"`
	Name         string  `env:"NAME"            envDefault:"Player"`
	PlayerPrefab string  `env:"PLAYER_PREFAB"   envDefault:"Player"`
	Transport    string  `env:"TRANSPORT"       envDefault:"udp"`
	TickRate     int     `env:"TICK_RATE"       envDefault:"60"`
	IDMode       string  `env:"ID_MODE"         envDefault:"random"`
	AttemptRate  float64 `env:"ATTEMPT_RATE"    envDefault:"0"`
	AttemptBurst int     `env:"ATTEMPT_BURST"   envDefault:"1"`
	LogLevel     string  `env:"LOG_LEVEL"       envDefault:"info"`
	LogDev       bool    `env:"LOG_DEV"         envDefault:"false"`
}

// EnvPrefix prefixes every environment variable Config reads.
const EnvPrefix = "NETSYNC_"

// Parse reads the environment, then overrides it with flags from args.
func Parse(fs *flag.FlagSet, args []string) (Config, error) {
	cfg, err := FromEnv(nil)
	if err != nil {
		return Config{}, err
	}

	fs.IntVar(&cfg.Port, "port", cfg.Port, "server port")
	fs.StringVar(&cfg.Host, "host", cfg.Host, "server host (client)")
	fs.StringVar(&cfg.Secret, "secret", cfg.Secret, "shared connection key")
	fs.StringVar(&cfg.Scene, "scene", cfg.Scene, "initial scene (server)")
	fs.StringVar(&cfg.Name, "name", cfg.Name, "display name (client)")
	fs.StringVar(&cfg.PlayerPrefab, "prefab", cfg.PlayerPrefab, "player spawn descriptor (client)")
	fs.StringVar(&cfg.Transport, "transport", cfg.Transport, "transport: udp or ws")
	fs.IntVar(&cfg.TickRate, "tick", cfg.TickRate, "event loop ticks per second")
	fs.StringVar(&cfg.IDMode, "ids", cfg.IDMode, "id generation: random or sequential")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// FromEnv loads Config from the process environment, or from environ when
// it is not nil.
func FromEnv(environ map[string]string) (Config, error) {
	var cfg Config
	opts := env.Options{Prefix: EnvPrefix}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	switch {
	case c.Port <= 0 || c.Port > 65535:
		return fmt.Errorf("invalid port %d", c.Port)
	case c.Capacity <= 0:
		return fmt.Errorf("invalid capacity %d", c.Capacity)
	case c.TickRate <= 0:
		return fmt.Errorf("invalid tick rate %d", c.TickRate)
	case c.Secret == "":
		return errors.New("secret is required")
	}
	switch c.Transport {
	case "udp", "ws":
	default:
		return fmt.Errorf("unknown transport %q", c.Transport)
	}
	switch c.IDMode {
	case "random", "sequential":
	default:
		return fmt.Errorf("unknown id mode %q", c.IDMode)
	}
	return nil
}

// ListenAddr is the address a server binds.
func (c Config) ListenAddr() string {
	return net.JoinHostPort("", strconv.Itoa(c.Port))
}

// ServerAddr is the address a client connects to.
func (c Config) ServerAddr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
