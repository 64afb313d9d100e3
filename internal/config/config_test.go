package config

import (
	"flag"
	"io"
	"strings"
	"testing"
)

func TestFromEnvDefaults(t *testing.T) {
	cfg, err := FromEnv(map[string]string{})
	if err != nil {
		t.Fatalf("FromEnv failed: %v", err)
	}

	if cfg.Port != 4040 {
		t.Errorf("expected port 4040, got %d", cfg.Port)
	}
	if cfg.Capacity != 10 {
		t.Errorf("expected capacity 10, got %d", cfg.Capacity)
	}
	if cfg.Secret != "usndbx" {
		t.Errorf("expected secret usndbx, got %q", cfg.Secret)
	}
	if cfg.Transport != "udp" || cfg.IDMode != "random" {
		t.Errorf("unexpected transport/ids: %q %q", cfg.Transport, cfg.IDMode)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults invalid: %v", err)
	}
}

func TestFromEnvOverrides(t *testing.T) {
	cfg, err := FromEnv(map[string]string{
		"NETSYNC_PORT":      "5050",
		"NETSYNC_SECRET":    "hunter2",
		"NETSYNC_TRANSPORT": "ws",
		"NETSYNC_LOG_DEV":   "true",
		"PORT":              "1",
	})
	if err != nil {
		t.Fatalf("FromEnv failed: %v", err)
	}
	if cfg.Port != 5050 || cfg.Secret != "hunter2" || cfg.Transport != "ws" || !cfg.LogDev {
		t.Errorf("overrides not applied: %+v", cfg)
	}
}

func TestFromEnvBadValue(t *testing.T) {
	if _, err := FromEnv(map[string]string{"NETSYNC_PORT": "many"}); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestParseFlagsOverrideEnv(t *testing.T) {
	t.Setenv("NETSYNC_NAME", "FromEnv")
	t.Setenv("NETSYNC_PORT", "6000")

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	cfg, err := Parse(fs, []string{"-name", "FromFlag"})
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if cfg.Name != "FromFlag" {
		t.Errorf("expected flag to win, got %q", cfg.Name)
	}
	if cfg.Port != 6000 {
		t.Errorf("expected env port 6000, got %d", cfg.Port)
	}
	if cfg.ServerAddr() != "127.0.0.1:6000" {
		t.Errorf("unexpected server addr %q", cfg.ServerAddr())
	}
	if cfg.ListenAddr() != ":6000" {
		t.Errorf("unexpected listen addr %q", cfg.ListenAddr())
	}
}

func TestValidate(t *testing.T) {
	base, err := FromEnv(map[string]string{})
	if err != nil {
		t.Fatalf("FromEnv failed: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"port", func(c *Config) { c.Port = 0 }, "port"},
		{"capacity", func(c *Config) { c.Capacity = -1 }, "capacity"},
		{"tick", func(c *Config) { c.TickRate = 0 }, "tick"},
		{"secret", func(c *Config) { c.Secret = "" }, "secret"},
		{"transport", func(c *Config) { c.Transport = "tcp" }, "transport"},
		{"ids", func(c *Config) { c.IDMode = "uuid" }, "id mode"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() = %v, want error mentioning %q", err, tt.want)
			}
		})
	}
}
