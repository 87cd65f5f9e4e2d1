package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/danmuck/wampd/internal/config"
	"github.com/danmuck/wampd/internal/server"
	"github.com/danmuck/wampd/internal/wamp"
)

const defaultConfigPath = "wampd.toml"

// overrides are command-line settings applied on top of the config file.
type overrides struct {
	addr      string
	rawsocket string
	realm     string
}

// wampd config resolution: explicit path, then ./wampd.toml if present,
// then built-in defaults. Flags win over the file.
func loadServiceConfig(path string, o overrides) (server.ServiceConfig, error) {
	cfg := server.DefaultServiceConfig()
	switch {
	case strings.TrimSpace(path) != "":
		loaded, err := config.Load(path)
		if err != nil {
			return server.ServiceConfig{}, err
		}
		cfg = loaded
	default:
		if _, err := os.Stat(defaultConfigPath); err == nil {
			loaded, err := config.Load(defaultConfigPath)
			if err != nil {
				return server.ServiceConfig{}, err
			}
			cfg = loaded
		} else if !errors.Is(err, os.ErrNotExist) {
			return server.ServiceConfig{}, fmt.Errorf("stat %s: %w", defaultConfigPath, err)
		}
	}

	if v := strings.TrimSpace(o.addr); v != "" {
		cfg.HTTP.Addr = v
	}
	if v := strings.TrimSpace(o.rawsocket); v != "" {
		cfg.RawSocket.Addr = v
	}
	if v := strings.TrimSpace(o.realm); v != "" {
		cfg.Realm = wamp.URI(v)
	}
	if err := cfg.Validate(); err != nil {
		return server.ServiceConfig{}, err
	}
	return cfg, nil
}
