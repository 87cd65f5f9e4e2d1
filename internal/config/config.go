package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/danmuck/wampd/internal/router"
	"github.com/danmuck/wampd/internal/server"
	"github.com/danmuck/wampd/internal/transport"
	"github.com/danmuck/wampd/internal/wamp"
)

// wampd.toml key mapping to service settings.
type fileConfig struct {
	Router    routerSection    `toml:"router"`
	HTTP      httpSection      `toml:"http"`
	RawSocket rawSocketSection `toml:"rawsocket"`
	QUIC      quicSection      `toml:"quic"`
	TLS       tlsSection       `toml:"tls"`
	Topics    []topicSection   `toml:"topics"`
}

type routerSection struct {
	Realm          string `toml:"realm"`
	Workers        int    `toml:"workers"`
	CallTimeout    string `toml:"call_timeout"`
	RequestTimeout string `toml:"request_timeout"`
	MetaAPI        bool   `toml:"meta_api"`
}

type httpSection struct {
	Addr          string   `toml:"addr"`
	WebsocketPath string   `toml:"websocket_path"`
	CorsOrigins   []string `toml:"cors_origins"`
	Serializers   []string `toml:"serializers"`
}

type rawSocketSection struct {
	Addr             string `toml:"addr"`
	MaxConnections   int    `toml:"max_connections"`
	MaxMessageSize   int    `toml:"max_message_size"`
	HandshakeTimeout string `toml:"handshake_timeout"`
	WriteTimeout     string `toml:"write_timeout"`
}

type quicSection struct {
	Addr      string `toml:"addr"`
	KeepAlive string `toml:"keepalive"`
}

type tlsSection struct {
	SecurityMode string `toml:"security_mode"`
	Enabled      bool   `toml:"enabled"`
	CertFile     string `toml:"cert_file"`
	KeyFile      string `toml:"key_file"`
	CAFile       string `toml:"ca_file"`
	Mutual       bool   `toml:"mutual"`
}

type topicSection struct {
	Topic     string `toml:"topic"`
	Prefix    bool   `toml:"prefix"`
	Publish   bool   `toml:"publish"`
	Subscribe bool   `toml:"subscribe"`
}

// Load reads path and overlays the keys it defines onto
// server.DefaultServiceConfig. The result is validated.
func Load(path string) (server.ServiceConfig, error) {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return server.ServiceConfig{}, fmt.Errorf("load wampd config (%s): %w", path, err)
	}
	cfg, err := overlay(server.DefaultServiceConfig(), meta, raw)
	if err != nil {
		return server.ServiceConfig{}, fmt.Errorf("load wampd config (%s): %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return server.ServiceConfig{}, fmt.Errorf("invalid wampd config (%s): %w", path, err)
	}
	return cfg, nil
}

// Decode is Load for config text already in memory.
func Decode(data string) (server.ServiceConfig, error) {
	var raw fileConfig
	meta, err := toml.Decode(data, &raw)
	if err != nil {
		return server.ServiceConfig{}, fmt.Errorf("parse wampd config: %w", err)
	}
	cfg, err := overlay(server.DefaultServiceConfig(), meta, raw)
	if err != nil {
		return server.ServiceConfig{}, err
	}
	if err := cfg.Validate(); err != nil {
		return server.ServiceConfig{}, fmt.Errorf("invalid wampd config: %w", err)
	}
	return cfg, nil
}

func overlay(cfg server.ServiceConfig, meta toml.MetaData, raw fileConfig) (server.ServiceConfig, error) {
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return cfg, fmt.Errorf("unknown keys: %s", strings.Join(keys, ", "))
	}

	if meta.IsDefined("router", "realm") {
		cfg.Realm = wamp.URI(strings.TrimSpace(raw.Router.Realm))
	}
	if meta.IsDefined("router", "workers") {
		cfg.Workers = raw.Router.Workers
	}
	if meta.IsDefined("router", "meta_api") {
		cfg.MetaAPI = raw.Router.MetaAPI
	}
	durations := []struct {
		key []string
		val string
		dst *time.Duration
	}{
		{[]string{"router", "call_timeout"}, raw.Router.CallTimeout, &cfg.Session.CallTimeout},
		{[]string{"router", "request_timeout"}, raw.Router.RequestTimeout, &cfg.Session.RequestTimeout},
		{[]string{"rawsocket", "handshake_timeout"}, raw.RawSocket.HandshakeTimeout, &cfg.Transport.HandshakeTimeout},
		{[]string{"rawsocket", "write_timeout"}, raw.RawSocket.WriteTimeout, &cfg.Transport.WriteTimeout},
		{[]string{"quic", "keepalive"}, raw.QUIC.KeepAlive, &cfg.Transport.KeepAlive},
	}
	for _, d := range durations {
		if !meta.IsDefined(d.key...) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.val))
		if err != nil {
			return cfg, fmt.Errorf("%s: %w", strings.Join(d.key, "."), err)
		}
		*d.dst = v
	}

	if meta.IsDefined("http", "addr") {
		cfg.HTTP.Addr = strings.TrimSpace(raw.HTTP.Addr)
	}
	if meta.IsDefined("http", "websocket_path") {
		cfg.HTTP.WebsocketPath = strings.TrimSpace(raw.HTTP.WebsocketPath)
	}
	if meta.IsDefined("http", "cors_origins") {
		cfg.HTTP.CorsOrigins = trimAll(raw.HTTP.CorsOrigins)
	}
	if meta.IsDefined("http", "serializers") {
		cfg.HTTP.Serializers = trimAll(raw.HTTP.Serializers)
	}

	if meta.IsDefined("rawsocket", "addr") {
		cfg.RawSocket.Addr = strings.TrimSpace(raw.RawSocket.Addr)
	}
	if meta.IsDefined("rawsocket", "max_connections") {
		cfg.RawSocket.MaxConnections = raw.RawSocket.MaxConnections
	}
	if meta.IsDefined("rawsocket", "max_message_size") {
		cfg.Transport.MaxMessageSize = raw.RawSocket.MaxMessageSize
	}

	if meta.IsDefined("quic", "addr") {
		cfg.QUIC.Addr = strings.TrimSpace(raw.QUIC.Addr)
	}

	if meta.IsDefined("tls", "security_mode") {
		cfg.Transport.SecurityMode = transport.SecurityMode(strings.TrimSpace(raw.TLS.SecurityMode))
	}
	if meta.IsDefined("tls", "enabled") {
		cfg.Transport.TLS.Enabled = raw.TLS.Enabled
	}
	if meta.IsDefined("tls", "mutual") {
		cfg.Transport.TLS.Mutual = raw.TLS.Mutual
	}
	if meta.IsDefined("tls", "cert_file") {
		cfg.Transport.TLS.CertFile = strings.TrimSpace(raw.TLS.CertFile)
	}
	if meta.IsDefined("tls", "key_file") {
		cfg.Transport.TLS.KeyFile = strings.TrimSpace(raw.TLS.KeyFile)
	}
	if meta.IsDefined("tls", "ca_file") {
		cfg.Transport.TLS.CAFile = strings.TrimSpace(raw.TLS.CAFile)
	}

	for _, t := range raw.Topics {
		cfg.Topics = append(cfg.Topics, server.TopicConfig{
			Topic: wamp.URI(strings.TrimSpace(t.Topic)),
			TopicOptions: router.TopicOptions{
				Prefix:    t.Prefix,
				Publish:   t.Publish,
				Subscribe: t.Subscribe,
			},
		})
	}
	return cfg, nil
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
