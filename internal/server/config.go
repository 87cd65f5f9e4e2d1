package server

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/danmuck/wampd/internal/router"
	"github.com/danmuck/wampd/internal/transport"
	"github.com/danmuck/wampd/internal/wamp"
	"github.com/danmuck/wampd/internal/wamp/serialize"
)

var (
	ErrNoListener      = errors.New("server: no listener configured")
	ErrInvalidRealm    = errors.New("server: invalid realm")
	ErrInvalidWorkers  = errors.New("server: workers must be positive")
	ErrInvalidWSPath   = errors.New("server: invalid websocket path")
	ErrInvalidTopic    = errors.New("server: invalid topic declaration")
	ErrUnknownCodec    = errors.New("server: unknown serializer")
	ErrInvalidDuration = errors.New("server: negative timeout")
	ErrInvalidOrigin   = errors.New("server: cors origin must be * or an http(s) url")
)

type HTTPConfig struct {
	// Addr serves /healthz, /metrics and the websocket endpoint. Empty
	// disables HTTP.
	Addr          string
	WebsocketPath string
	CorsOrigins   []string
	Serializers   []string
}

type RawSocketConfig struct {
	// Addr is the TCP rawsocket listener. Empty disables it.
	Addr           string
	MaxConnections int
}

type QUICConfig struct {
	// Addr is the UDP listener for QUIC. It requires TLS.
	Addr string
}

// TopicConfig declares broker permissions for one topic or prefix.
type TopicConfig struct {
	Topic wamp.URI
	router.TopicOptions
}

// ServiceConfig is everything one wampd process runs with.
type ServiceConfig struct {
	Realm   wamp.URI
	Workers int
	// MetaAPI registers wamp.session.* procedures and publishes session
	// lifecycle events.
	MetaAPI bool

	Session   router.Config
	Transport transport.Config

	HTTP      HTTPConfig
	RawSocket RawSocketConfig
	QUIC      QUICConfig
	Topics    []TopicConfig
}

func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		Realm:   "realm1",
		Workers: router.DefaultWorkers,
		MetaAPI: true,
		Session: router.DefaultConfig(),
		HTTP: HTTPConfig{
			Addr:          ":8080",
			WebsocketPath: "/ws",
			CorsOrigins:   []string{"http://localhost:3000"},
			Serializers:   []string{serialize.NameJSON, serialize.NameMsgPack},
		},
		RawSocket: RawSocketConfig{
			Addr:           ":8081",
			MaxConnections: 1024,
		},
		Transport: transport.DefaultConfig(),
	}
}

func (c ServiceConfig) Validate() error {
	if !wamp.ValidURI(c.Realm, wamp.MatchExact) {
		return fmt.Errorf("%w: %q", ErrInvalidRealm, c.Realm)
	}
	if c.Workers <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidWorkers, c.Workers)
	}
	if c.Session.CallTimeout < 0 || c.Session.RequestTimeout < 0 {
		return ErrInvalidDuration
	}
	if strings.TrimSpace(c.HTTP.Addr) == "" &&
		strings.TrimSpace(c.RawSocket.Addr) == "" &&
		strings.TrimSpace(c.QUIC.Addr) == "" {
		return ErrNoListener
	}
	switch p := c.HTTP.WebsocketPath; {
	case !strings.HasPrefix(p, "/"), p == pathHealth, p == pathMetrics, p == pathSessions:
		return fmt.Errorf("%w: %q", ErrInvalidWSPath, p)
	}
	for _, origin := range c.HTTP.CorsOrigins {
		if origin != "*" && !strings.HasPrefix(origin, "http://") && !strings.HasPrefix(origin, "https://") {
			return fmt.Errorf("%w: %q", ErrInvalidOrigin, origin)
		}
	}
	for _, name := range c.HTTP.Serializers {
		if _, err := serialize.ByName(name); err != nil {
			return fmt.Errorf("%w: %q", ErrUnknownCodec, name)
		}
	}
	for i, topic := range c.Topics {
		match := wamp.MatchExact
		if topic.Prefix {
			match = wamp.MatchPrefix
		}
		if !wamp.ValidURI(topic.Topic, match) {
			return fmt.Errorf("%w: topics[%d] %q", ErrInvalidTopic, i, topic.Topic)
		}
	}
	if err := c.Transport.ValidateServerTransport(); err != nil {
		return err
	}
	if strings.TrimSpace(c.QUIC.Addr) != "" && !c.Transport.TLS.Enabled {
		return transport.ErrQUICNeedsTLS
	}
	return nil
}

// shutdownGrace bounds how long Run waits for HTTP requests to finish.
const shutdownGrace = 5 * time.Second
