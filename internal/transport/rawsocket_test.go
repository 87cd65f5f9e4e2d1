package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/danmuck/wampd/internal/testutil/testlog"
	"github.com/danmuck/wampd/internal/testutil/tlstest"
	"github.com/danmuck/wampd/internal/wamp"
	"github.com/danmuck/wampd/internal/wamp/serialize"
)

type accepted struct {
	conn FrameConn
	ser  wamp.Serializer
	err  error
}

func serveOnce(t *testing.T, l net.Listener, cfg Config) <-chan accepted {
	t.Helper()
	out := make(chan accepted, 1)
	go func() {
		c, err := l.Accept()
		if err != nil {
			out <- accepted{err: err}
			return
		}
		fc, ser, err := AcceptRawSocket(c, cfg)
		out <- accepted{conn: fc, ser: ser, err: err}
	}()
	return out
}

func TestLengthExponent(t *testing.T) {
	testlog.Start(t)
	cases := map[int]byte{1: 0, 512: 0, 513: 1, 1 << 20: 11, 1 << 24: 15, 1 << 30: 15}
	for max, want := range cases {
		if got := lengthExponent(max); got != want {
			t.Fatalf("lengthExponent(%d): got=%d want=%d", max, got, want)
		}
	}
	if lengthFromExponent(11) != 1<<20 {
		t.Fatalf("unexpected length for exponent 11")
	}
}

func TestRawSocketHandshakeAndFrames(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultConfig()
	l, err := ListenRawSocket("127.0.0.1:0", 4, cfg)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer l.Close()
	acc := serveOnce(t, l, cfg)

	client, err := DialRawSocket(context.Background(), l.Addr().String(), serialize.MsgPack, cfg)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()
	got := <-acc
	if got.err != nil {
		t.Fatalf("accept: %v", got.err)
	}
	defer got.conn.Close()
	if got.ser.Name() != serialize.NameMsgPack {
		t.Fatalf("unexpected serializer: %s", got.ser.Name())
	}

	if err := client.WriteFrame([]byte("ping")); err != nil {
		t.Fatalf("write: %v", err)
	}
	b, err := got.conn.ReadFrame()
	if err != nil || string(b) != "ping" {
		t.Fatalf("read: got=%q err=%v", b, err)
	}
	if err := got.conn.WriteFrame([]byte{}); err != nil {
		t.Fatalf("write empty: %v", err)
	}
	if b, err := client.ReadFrame(); err != nil || len(b) != 0 {
		t.Fatalf("read empty: got=%q err=%v", b, err)
	}
}

func TestRawSocketRejectsUnknownSerializer(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultConfig()
	l, err := ListenRawSocket("127.0.0.1:0", 0, cfg)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer l.Close()
	acc := serveOnce(t, l, cfg)

	conn, err := net.Dial("tcp", l.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if _, err := conn.Write([]byte{rawSocketMagic, 0xF5, 0, 0}); err != nil {
		t.Fatalf("write handshake: %v", err)
	}
	var reply [4]byte
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := io.ReadFull(conn, reply[:]); err != nil {
		t.Fatalf("read reply: %v", err)
	}
	if reply[0] != rawSocketMagic || reply[1] != rawErrSerializerUnsupported<<4 {
		t.Fatalf("unexpected reply: %x", reply)
	}
	if got := <-acc; !errors.Is(got.err, ErrHandshake) {
		t.Fatalf("expected handshake error, got=%v", got.err)
	}
}

func TestRawSocketRefusesOversizedSend(t *testing.T) {
	testlog.Start(t)
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()
	rc := newRawSocketConn(a, 512, 512, 0)
	if err := rc.WriteFrame(make([]byte, 513)); !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("expected ErrFrameTooLarge, got=%v", err)
	}
}

func TestRawSocketOverTLS(t *testing.T) {
	testlog.Start(t)
	ca := tlstest.NewAuthority(t, "wampd-test-ca")
	server := ca.Localhost(t)

	srvCfg := DefaultConfig()
	srvCfg.TLS = TLSConfig{Enabled: true, CertFile: server.CertFile, KeyFile: server.KeyFile}
	l, err := ListenRawSocket("127.0.0.1:0", 0, srvCfg)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer l.Close()
	acc := serveOnce(t, l, srvCfg)

	cliCfg := DefaultConfig()
	cliCfg.TLS = TLSConfig{Enabled: true, CAFile: ca.CAFile(), ServerName: "localhost"}
	client, err := DialRawSocket(context.Background(), l.Addr().String(), serialize.JSON, cliCfg)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()
	got := <-acc
	if got.err != nil {
		t.Fatalf("accept: %v", got.err)
	}
	defer got.conn.Close()
	if err := got.conn.WriteFrame([]byte(`[2,1,{}]`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	if b, err := client.ReadFrame(); err != nil || string(b) != `[2,1,{}]` {
		t.Fatalf("read: got=%q err=%v", b, err)
	}
}

func TestDialRetriesThenGivesUp(t *testing.T) {
	testlog.Start(t)
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := l.Addr().String()
	l.Close()

	cfg := DefaultConfig()
	cfg.DialAttempts = 3
	cfg.Backoff = BackoffConfig{InitialDelay: time.Millisecond, Multiplier: 1}
	_, err = DialRawSocket(context.Background(), addr, serialize.JSON, cfg)
	if !errors.Is(err, ErrDialExhausted) {
		t.Fatalf("expected ErrDialExhausted, got=%v", err)
	}
}
