package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/danmuck/wampd/internal/future"
	"github.com/danmuck/wampd/internal/router"
	"github.com/danmuck/wampd/internal/testutil/testlog"
	"github.com/danmuck/wampd/internal/transport"
	"github.com/danmuck/wampd/internal/wamp"
	"github.com/danmuck/wampd/internal/wamp/serialize"
)

const waitTimeout = 3 * time.Second

func testConfig() ServiceConfig {
	cfg := DefaultServiceConfig()
	cfg.Workers = 8
	cfg.HTTP.Addr = "127.0.0.1:0"
	cfg.RawSocket.Addr = "127.0.0.1:0"
	cfg.Transport.DialAttempts = 1
	return cfg
}

func newTestService(t *testing.T, cfg ServiceConfig) *Service {
	t.Helper()
	gin.SetMode(gin.TestMode)
	s, err := NewService(cfg)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func await[T any](t *testing.T, f *future.Future[T]) T {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	v, err := f.Await(ctx)
	if err != nil {
		t.Fatalf("await: %v", err)
	}
	return v
}

func client(t *testing.T, fc transport.FrameConn, ser wamp.Serializer) *router.Session {
	t.Helper()
	c := router.NewSession(ser, router.DefaultConfig())
	transport.Open(fc, c)
	t.Cleanup(func() { _ = c.Abort() })
	return c
}

func dialWebsocket(t *testing.T, srv *httptest.Server, ser wamp.Serializer) *router.Session {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	fc, err := transport.DialWebsocket(ctx, url, ser, testConfig().Transport)
	if err != nil {
		t.Fatalf("DialWebsocket: %v", err)
	}
	return client(t, fc, ser)
}

func serveRawSocket(t *testing.T, s *Service) string {
	t.Helper()
	ln, err := transport.ListenRawSocket("127.0.0.1:0", 4, s.Config().Transport)
	if err != nil {
		t.Fatalf("ListenRawSocket: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.ServeRawSocket(ctx, ln) }()
	t.Cleanup(func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("ServeRawSocket: %v", err)
		}
	})
	return ln.Addr().String()
}

func dialRawSocket(t *testing.T, addr string, ser wamp.Serializer) *router.Session {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	fc, err := transport.DialRawSocket(ctx, addr, ser, testConfig().Transport)
	if err != nil {
		t.Fatalf("DialRawSocket: %v", err)
	}
	return client(t, fc, ser)
}

func TestServiceConfigValidate(t *testing.T) {
	testlog.Start(t)
	if err := testConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*ServiceConfig)
		want   error
	}{
		{"realm", func(c *ServiceConfig) { c.Realm = "bad realm" }, ErrInvalidRealm},
		{"workers", func(c *ServiceConfig) { c.Workers = 0 }, ErrInvalidWorkers},
		{"listeners", func(c *ServiceConfig) {
			c.HTTP.Addr, c.RawSocket.Addr, c.QUIC.Addr = "", "", ""
		}, ErrNoListener},
		{"ws path", func(c *ServiceConfig) { c.HTTP.WebsocketPath = "/metrics" }, ErrInvalidWSPath},
		{"origin", func(c *ServiceConfig) { c.HTTP.CorsOrigins = []string{"localhost"} }, ErrInvalidOrigin},
		{"codec", func(c *ServiceConfig) { c.HTTP.Serializers = []string{"cbor"} }, ErrUnknownCodec},
		{"topic", func(c *ServiceConfig) {
			c.Topics = []TopicConfig{{Topic: "com..x"}}
		}, ErrInvalidTopic},
		{"timeout", func(c *ServiceConfig) { c.Session.CallTimeout = -time.Second }, ErrInvalidDuration},
		{"quic", func(c *ServiceConfig) { c.QUIC.Addr = "127.0.0.1:0" }, transport.ErrQUICNeedsTLS},
		{"production", func(c *ServiceConfig) {
			c.Transport.SecurityMode = transport.SecurityModeProduction
		}, transport.ErrTLSRequired},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig()
			tc.mutate(&cfg)
			if err := cfg.Validate(); !errors.Is(err, tc.want) {
				t.Fatalf("Validate: want=%v got=%v", tc.want, err)
			}
		})
	}
}

func TestServiceHealthAndSessionsRoutes(t *testing.T) {
	testlog.Start(t)
	s := newTestService(t, testConfig())

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var health map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	require.Equal(t, "ok", health["status"])
	require.Equal(t, "realm1", health["realm"])

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sessions", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, "[]", rec.Body.String())

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "wampd_sessions_active")
}

func TestServiceWebsocketCallAndMeta(t *testing.T) {
	testlog.Start(t)
	s := newTestService(t, testConfig())
	_, err := s.Dealer().RegisterFunc("com.app.add", func(_ context.Context, inv *router.Invocation) (*router.Result, error) {
		var sum int64
		for _, a := range inv.Args {
			n, ok := wamp.AsID(a)
			if !ok {
				return nil, wamp.NewApplicationError(wamp.ErrURIInvalidArgument, a)
			}
			sum += int64(n)
		}
		return &router.Result{Args: wamp.List{sum}}, nil
	}, wamp.RegisterOptions{})
	require.NoError(t, err)

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	for _, ser := range []wamp.Serializer{serialize.JSON, serialize.MsgPack} {
		c := dialWebsocket(t, srv, ser)
		welcome := await(t, c.Join("realm1"))
		require.NotZero(t, welcome.Session)

		sum, ok := wamp.AsID(await(t, c.Call("com.app.add", wamp.List{2, 3}, nil, wamp.CallOptions{})))
		require.True(t, ok)
		require.Equal(t, wamp.ID(5), sum)
	}

	n, ok := wamp.AsID(await(t, func() *future.Future[any] {
		c := dialWebsocket(t, srv, serialize.JSON)
		await(t, c.Join("realm1"))
		return c.Call(ProcSessionCount, nil, nil, wamp.CallOptions{})
	}()))
	require.True(t, ok)
	require.Equal(t, wamp.ID(3), n)
	require.Len(t, s.Sessions(), 3)
	for _, info := range s.Sessions() {
		require.Equal(t, "websocket", info.Transport)
		require.Equal(t, wamp.URI("realm1"), info.Realm)
	}
}

func TestServiceRawSocketPubSubAndLifecycleEvents(t *testing.T) {
	testlog.Start(t)
	s := newTestService(t, testConfig())
	addr := serveRawSocket(t, s)

	watcher := dialRawSocket(t, addr, serialize.MsgPack)
	joinedWatcher := await(t, watcher.Join("realm1"))
	joins := make(chan *wamp.Event, 4)
	leaves := make(chan *wamp.Event, 4)
	await(t, watcher.Subscribe(TopicSessionOnJoin, func(ev *wamp.Event) { joins <- ev }, wamp.SubscribeOptions{}))
	await(t, watcher.Subscribe(TopicSessionOnLeave, func(ev *wamp.Event) { leaves <- ev }, wamp.SubscribeOptions{}))

	got := make(chan wamp.List, 1)
	await(t, watcher.Subscribe("com.app.news", func(ev *wamp.Event) { got <- ev.Args }, wamp.SubscribeOptions{}))

	publisher := dialRawSocket(t, addr, serialize.JSON)
	welcome := await(t, publisher.Join("realm1"))
	require.NotEqual(t, joinedWatcher.Session, welcome.Session)

	select {
	case ev := <-joins:
		info, ok := ev.Args[0].(map[string]interface{})
		require.True(t, ok)
		id, _ := wamp.AsID(info["session"])
		require.Equal(t, welcome.Session, id)
		require.Equal(t, "rawsocket", info["transport"])
	case <-time.After(waitTimeout):
		t.Fatalf("no on_join event")
	}

	await(t, publisher.Publish("com.app.news", wamp.List{"hello"}, nil, wamp.PublishOptions{}))
	select {
	case args := <-got:
		require.Equal(t, wamp.List{"hello"}, args)
	case <-time.After(waitTimeout):
		t.Fatalf("no event delivered")
	}

	await(t, publisher.Leave(""))
	select {
	case ev := <-leaves:
		id, _ := wamp.AsID(ev.Args[0])
		require.Equal(t, welcome.Session, id)
	case <-time.After(waitTimeout):
		t.Fatalf("no on_leave event")
	}
}

func TestServiceRefusesOtherRealm(t *testing.T) {
	testlog.Start(t)
	s := newTestService(t, testConfig())
	addr := serveRawSocket(t, s)

	c := dialRawSocket(t, addr, serialize.JSON)
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	_, err := c.Join("elsewhere").Await(ctx)
	var appErr *wamp.ApplicationError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, wamp.ErrURINoSuchRealm, appErr.URI)
}

func TestServiceDeclaredTopicsKeepMetaEvents(t *testing.T) {
	testlog.Start(t)
	cfg := testConfig()
	cfg.Topics = []TopicConfig{{
		Topic:        "com.app.",
		TopicOptions: router.TopicOptions{Prefix: true, Subscribe: true},
	}}
	s := newTestService(t, cfg)
	addr := serveRawSocket(t, s)

	c := dialRawSocket(t, addr, serialize.MsgPack)
	await(t, c.Join("realm1"))
	await(t, c.Subscribe(TopicSessionOnJoin, func(*wamp.Event) {}, wamp.SubscribeOptions{}))
	await(t, c.Subscribe("com.app.news", func(*wamp.Event) {}, wamp.SubscribeOptions{}))

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	_, err := c.Publish("com.app.news", nil, nil, wamp.PublishOptions{}).Await(ctx)
	require.ErrorIs(t, err, wamp.ErrNotAuthorized)
}

func TestServiceCloseAbortsSessions(t *testing.T) {
	testlog.Start(t)
	s := newTestService(t, testConfig())
	addr := serveRawSocket(t, s)

	c := dialRawSocket(t, addr, serialize.MsgPack)
	await(t, c.Join("realm1"))
	require.Len(t, s.Sessions(), 1)

	s.Close()
	select {
	case <-c.Done():
	case <-time.After(waitTimeout):
		t.Fatalf("client still attached after Close")
	}
}

func TestServiceCloseWhileAttaching(t *testing.T) {
	testlog.Start(t)
	s := newTestService(t, testConfig())

	const n = 16
	peers := make([]transport.FrameConn, n)
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := range peers {
		local, remote := transport.Pipe()
		peers[i] = remote
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			s.Attach(local, serialize.JSON, "pipe", "")
		}()
	}

	closed := make(chan struct{})
	close(start)
	go func() {
		s.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(waitTimeout):
		t.Fatalf("Close blocked on a session still attaching")
	}
	wg.Wait()

	// Every peer is cut off whether its Attach ran before or after Close.
	for i, p := range peers {
		if _, err := p.ReadFrame(); err == nil {
			t.Fatalf("peer %d: expected a closed connection", i)
		}
	}
	require.Eventually(t, func() bool { return len(s.Sessions()) == 0 }, waitTimeout, 5*time.Millisecond)
}

func TestServiceRunStopsOnCancel(t *testing.T) {
	testlog.Start(t)
	s := newTestService(t, testConfig())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(waitTimeout):
		t.Fatalf("Run did not return after cancel")
	}
}
