package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/danmuck/wampd/internal/logging"
	"github.com/danmuck/wampd/internal/observability"
	"github.com/danmuck/wampd/internal/router"
	"github.com/danmuck/wampd/internal/transport"
	"github.com/danmuck/wampd/internal/wamp"
)

// SessionInfo describes one attached session.
type SessionInfo struct {
	ID        wamp.ID   `json:"id"`
	Realm     wamp.URI  `json:"realm,omitempty"`
	Transport string    `json:"transport"`
	Remote    string    `json:"remote,omitempty"`
	Attached  time.Time `json:"attached"`
}

type attachedSession struct {
	session *router.Session
	info    SessionInfo
}

// Service runs one realm: a dealer, a broker and every listener that feeds
// sessions into them.
type Service struct {
	cfg    ServiceConfig
	dealer *router.Dealer
	broker *router.Broker
	engine *gin.Engine
	ws     *websocket.Upgrader
	logs   zerolog.Logger

	started time.Time

	mu       sync.Mutex
	sessions map[wamp.ID]*attachedSession
	closed   bool
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	observability.RegisterMetrics()
	dealer, err := router.NewDealer(cfg.Workers)
	if err != nil {
		return nil, err
	}
	s := &Service{
		cfg:      cfg,
		dealer:   dealer,
		broker:   router.NewBroker(),
		logs:     logging.Component("server").With().Str("realm", string(cfg.Realm)).Logger(),
		started:  time.Now(),
		sessions: make(map[wamp.ID]*attachedSession),
	}
	for _, topic := range cfg.Topics {
		if err := s.broker.Register(topic.Topic, topic.TopicOptions); err != nil {
			dealer.Close()
			return nil, err
		}
	}
	if cfg.MetaAPI {
		if err := s.registerMeta(); err != nil {
			dealer.Close()
			return nil, err
		}
	}
	s.ws = transport.NewUpgrader(cfg.HTTP.Serializers, cfg.Transport, originChecker(cfg.HTTP.CorsOrigins))
	s.engine = s.routes()
	return s, nil
}

func (s *Service) Config() ServiceConfig {
	return s.cfg
}

// Dealer is the realm's dealer, for embedding local procedures.
func (s *Service) Dealer() *router.Dealer {
	return s.dealer
}

// Broker is the realm's broker, for embedding local publishers.
func (s *Service) Broker() *router.Broker {
	return s.broker
}

// Handler serves the HTTP surface.
func (s *Service) Handler() http.Handler {
	return s.engine
}

// Attach opens a router session over conn. The session is tracked until its
// channel closes.
func (s *Service) Attach(conn transport.FrameConn, ser wamp.Serializer, kind, remote string) *router.Session {
	cfg := s.cfg.Session
	cfg.Realm = s.cfg.Realm
	onJoin, onLeave := cfg.OnJoin, cfg.OnLeave
	cfg.OnJoin = func(rs *router.Session) {
		s.joined(rs)
		if onJoin != nil {
			onJoin(rs)
		}
	}
	cfg.OnLeave = func(rs *router.Session) {
		s.left(rs)
		if onLeave != nil {
			onLeave(rs)
		}
	}

	rs := router.NewSession(ser, cfg)
	rs.SetDealer(s.dealer)
	rs.SetBroker(s.broker)

	// The channel opens under mu so Close never finds a session it cannot
	// abort.
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = conn.Close()
		s.logs.Warn().Str("transport", kind).Msg("server.Service attach after close")
		return rs
	}
	transport.Open(conn, rs)
	s.sessions[rs.ID()] = &attachedSession{
		session: rs,
		info: SessionInfo{
			ID:        rs.ID(),
			Transport: kind,
			Remote:    remote,
			Attached:  time.Now(),
		},
	}
	active := len(s.sessions)
	s.mu.Unlock()

	s.logs.Info().
		Uint64("session", uint64(rs.ID())).
		Str("transport", kind).
		Str("remote", remote).
		Str("serializer", ser.Name()).
		Int("active_sessions", active).
		Msg("server.Service attach")

	go func() {
		<-rs.Done()
		s.mu.Lock()
		delete(s.sessions, rs.ID())
		remaining := len(s.sessions)
		s.mu.Unlock()
		s.logs.Info().
			Uint64("session", uint64(rs.ID())).
			Int("active_sessions", remaining).
			Msg("server.Service detach")
	}()
	return rs
}

// Sessions returns the attached sessions ordered by id.
func (s *Service) Sessions() []SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SessionInfo, 0, len(s.sessions))
	for _, as := range s.sessions {
		info := as.info
		info.Realm = as.session.Realm()
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Run serves every configured listener until ctx is done or one fails.
func (s *Service) Run(ctx context.Context) error {
	var (
		httpLn net.Listener
		rawLn  net.Listener
		quicLn *transport.QUICListener
		err    error
	)
	release := func() {
		if httpLn != nil {
			_ = httpLn.Close()
		}
		if rawLn != nil {
			_ = rawLn.Close()
		}
	}
	if addr := strings.TrimSpace(s.cfg.HTTP.Addr); addr != "" {
		if httpLn, err = net.Listen("tcp", addr); err != nil {
			return err
		}
	}
	if addr := strings.TrimSpace(s.cfg.RawSocket.Addr); addr != "" {
		if rawLn, err = transport.ListenRawSocket(addr, s.cfg.RawSocket.MaxConnections, s.cfg.Transport); err != nil {
			release()
			return err
		}
	}
	if addr := strings.TrimSpace(s.cfg.QUIC.Addr); addr != "" {
		if quicLn, err = transport.ListenQUIC(addr, s.cfg.Transport); err != nil {
			release()
			return err
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	if httpLn != nil {
		s.logs.Warn().Str("addr", httpLn.Addr().String()).Msg("server.Service http listening")
		g.Go(func() error { return s.ServeHTTP(ctx, httpLn) })
	}
	if rawLn != nil {
		s.logs.Warn().Str("addr", rawLn.Addr().String()).Msg("server.Service rawsocket listening")
		g.Go(func() error { return s.ServeRawSocket(ctx, rawLn) })
	}
	if quicLn != nil {
		s.logs.Warn().Str("addr", quicLn.Addr().String()).Msg("server.Service quic listening")
		g.Go(func() error { return s.ServeQUIC(ctx, quicLn) })
	}
	g.Go(func() error {
		<-ctx.Done()
		s.Close()
		return nil
	})
	return g.Wait()
}

// ServeHTTP serves the HTTP surface on ln until ctx is done.
func (s *Service) ServeHTTP(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: s.cfg.Transport.HandshakeTimeout,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ServeRawSocket accepts rawsocket peers on ln until ctx is done.
func (s *Service) ServeRawSocket(ctx context.Context, ln net.Listener) error {
	defer ln.Close()
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		go s.handleRawSocket(conn)
	}
}

func (s *Service) handleRawSocket(conn net.Conn) {
	remote := conn.RemoteAddr().String()
	fc, ser, err := transport.AcceptRawSocket(conn, s.cfg.Transport)
	if err != nil {
		s.logs.Warn().Err(err).Str("remote", remote).Msg("server.Service rawsocket handshake")
		return
	}
	s.Attach(fc, ser, "rawsocket", remote)
}

// ServeQUIC accepts QUIC peers on ln until ctx is done.
func (s *Service) ServeQUIC(ctx context.Context, ln *transport.QUICListener) error {
	defer ln.Close()
	for {
		conn, err := ln.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		go func() {
			remote := conn.RemoteAddr().String()
			fc, ser, err := ln.Upgrade(ctx, conn)
			if err != nil {
				s.logs.Warn().Err(err).Str("remote", remote).Msg("server.Service quic handshake")
				return
			}
			s.Attach(fc, ser, "quic", remote)
		}()
	}
}

// Close aborts every attached session and stops the dealer's workers.
func (s *Service) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	sessions := make([]*router.Session, 0, len(s.sessions))
	for _, as := range s.sessions {
		sessions = append(sessions, as.session)
	}
	s.mu.Unlock()

	for _, rs := range sessions {
		_ = rs.Abort()
	}
	for _, rs := range sessions {
		<-rs.Done()
	}
	s.dealer.Close()
	s.logs.Info().Int("sessions", len(sessions)).Msg("server.Service closed")
}

func (s *Service) joined(rs *router.Session) {
	if !s.cfg.MetaAPI {
		return
	}
	s.mu.Lock()
	as, ok := s.sessions[rs.ID()]
	var info SessionInfo
	if ok {
		info = as.info
	}
	s.mu.Unlock()
	info.ID = rs.ID()
	info.Realm = rs.Realm()
	s.publishMeta(TopicSessionOnJoin, wamp.List{sessionDict(info)})
}

func (s *Service) left(rs *router.Session) {
	if !s.cfg.MetaAPI {
		return
	}
	s.publishMeta(TopicSessionOnLeave, wamp.List{uint64(rs.ID())})
}
