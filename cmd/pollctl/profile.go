package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

const (
	defaultServer  = "http://127.0.0.1:8080"
	defaultTimeout = 15 * time.Second
)

// profile is the on-disk pollctl.toml schema.
type profile struct {
	Server  string `toml:"server"`
	Token   string `toml:"token"`
	Timeout string `toml:"timeout"`
}

func defaultProfilePath() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "orderrelay", "pollctl.toml")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "orderrelay", "pollctl.toml")
}

// loadProfile reads path; a missing file yields the defaults.
func loadProfile(path string) (profile, error) {
	p := profile{Server: defaultServer}
	if path == "" {
		return p, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return p, nil
		}
		return profile{}, fmt.Errorf("read profile: %w", err)
	}
	if err := toml.Unmarshal(data, &p); err != nil {
		return profile{}, fmt.Errorf("decode profile %s: %w", path, err)
	}
	if strings.TrimSpace(p.Server) == "" {
		p.Server = defaultServer
	}
	return p, nil
}

func (p profile) timeout() (time.Duration, error) {
	if p.Timeout == "" {
		return defaultTimeout, nil
	}
	d, err := time.ParseDuration(p.Timeout)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid profile timeout %q", p.Timeout)
	}
	return d, nil
}

func saveProfile(path string, p profile) error {
	data, err := toml.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode profile: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create profile dir: %w", err)
	}
	// token 属于敏感信息
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write profile: %w", err)
	}
	return nil
}
