package main

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/danmuck/wampd/internal/router"
	"github.com/danmuck/wampd/internal/transport"
	"github.com/danmuck/wampd/internal/wamp"
	"github.com/danmuck/wampd/internal/wamp/serialize"
)

// options are the flags shared by every subcommand.
type options struct {
	url        string
	realm      string
	serializer string
	timeout    time.Duration
	caFile     string
	certFile   string
	keyFile    string
	serverName string
	insecure   bool
}

func defaultOptions() options {
	return options{
		url:        "ws://localhost:8080/ws",
		realm:      "realm1",
		serializer: serialize.NameJSON,
		timeout:    10 * time.Second,
	}
}

func (o options) transportConfig(tlsOn bool) transport.Config {
	cfg := transport.DefaultConfig()
	cfg.DialAttempts = 2
	cfg.ConnectTimeout = o.timeout
	if !tlsOn {
		return cfg
	}
	cfg.TLS = transport.TLSConfig{
		Enabled:            true,
		Mutual:             o.certFile != "",
		InsecureSkipVerify: o.insecure,
		CertFile:           o.certFile,
		KeyFile:            o.keyFile,
		CAFile:             o.caFile,
		ServerName:         o.serverName,
	}
	return cfg
}

// dial connects to the router named by o.url. Schemes:
//
//	ws://, wss://      websocket
//	tcp://, tls://     rawsocket
//	quic://            rawsocket over a QUIC stream
func dial(ctx context.Context, o options, ser wamp.Serializer) (transport.FrameConn, error) {
	u, err := url.Parse(o.url)
	if err != nil {
		return nil, fmt.Errorf("parse url %q: %w", o.url, err)
	}
	switch strings.ToLower(u.Scheme) {
	case "ws":
		return transport.DialWebsocket(ctx, o.url, ser, o.transportConfig(false))
	case "wss":
		return transport.DialWebsocket(ctx, o.url, ser, o.transportConfig(true))
	case "tcp":
		return transport.DialRawSocket(ctx, u.Host, ser, o.transportConfig(false))
	case "tls":
		return transport.DialRawSocket(ctx, u.Host, ser, o.transportConfig(true))
	case "quic":
		return transport.DialQUIC(ctx, u.Host, ser, o.transportConfig(true))
	default:
		return nil, fmt.Errorf("unsupported url scheme %q (ws, wss, tcp, tls, quic)", u.Scheme)
	}
}

// connect dials, opens a client session and joins o.realm.
func connect(ctx context.Context, o options) (*router.Session, error) {
	ser, err := serialize.ByName(o.serializer)
	if err != nil {
		return nil, err
	}
	fc, err := dial(ctx, o, ser)
	if err != nil {
		return nil, err
	}
	cfg := router.DefaultConfig()
	cfg.RequestTimeout = o.timeout
	cfg.CallTimeout = o.timeout
	s := router.NewSession(ser, cfg)
	transport.Open(fc, s)
	if _, err := s.Join(wamp.URI(o.realm)).Await(ctx); err != nil {
		_ = s.Abort()
		return nil, fmt.Errorf("join %s: %w", o.realm, err)
	}
	return s, nil
}

// hangUp leaves the realm and waits for the channel to close.
func hangUp(s *router.Session, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if _, err := s.Leave("").Await(ctx); err != nil {
		_ = s.Abort()
	}
}
