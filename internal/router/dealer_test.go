package router

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/danmuck/wampd/internal/testutil/testlog"
	"github.com/danmuck/wampd/internal/wamp"
)

type outcome struct {
	res *Result
	err error
}

func newTestDealer(t *testing.T) *Dealer {
	t.Helper()
	d, err := NewDealer(8)
	if err != nil {
		t.Fatalf("new dealer: %v", err)
	}
	t.Cleanup(d.Close)
	return d
}

func replyChan() (ReplyFunc, chan outcome) {
	ch := make(chan outcome, 4)
	return func(res *Result, err error) { ch <- outcome{res, err} }, ch
}

func waitOutcome(t *testing.T, ch chan outcome) outcome {
	t.Helper()
	select {
	case o := <-ch:
		return o
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for reply")
	}
	return outcome{}
}

func constant(v interface{}) HandlerFunc {
	return func(context.Context, *Invocation) (*Result, error) {
		return &Result{Args: wamp.List{v}}, nil
	}
}

func blocking(started chan<- struct{}) HandlerFunc {
	return func(ctx context.Context, _ *Invocation) (*Result, error) {
		if started != nil {
			started <- struct{}{}
		}
		<-ctx.Done()
		return nil, ctx.Err()
	}
}

func TestDealerDuplicateRegisterAndReregister(t *testing.T) {
	testlog.Start(t)
	d := newTestDealer(t)

	_, err := d.RegisterFunc("com.app.add", constant(1), wamp.RegisterOptions{})
	require.NoError(t, err)
	_, err = d.RegisterFunc("com.app.add", constant(2), wamp.RegisterOptions{})
	require.ErrorIs(t, err, wamp.ErrProcedureAlreadyExists)

	// Same URI under another match policy is a different registration.
	_, err = d.RegisterFunc("com.app.add", constant(3), wamp.RegisterOptions{Match: wamp.MatchPrefix})
	require.NoError(t, err)

	require.NoError(t, d.Unregister("com.app.add"))
	_, err = d.RegisterFunc("com.app.add", constant(4), wamp.RegisterOptions{})
	require.NoError(t, err)

	require.ErrorIs(t, d.Unregister("com.app.missing"), wamp.ErrNoSuchRegistration)
}

func TestDealerRejectsInvalidRegistration(t *testing.T) {
	testlog.Start(t)
	d := newTestDealer(t)
	if _, err := d.RegisterFunc("com..bad", constant(1), wamp.RegisterOptions{}); !errors.Is(err, wamp.ErrInvalidURI) {
		t.Fatalf("expected ErrInvalidURI, got=%v", err)
	}
	if _, err := d.RegisterFunc("com.app", constant(1), wamp.RegisterOptions{Match: "wildcard"}); !errors.Is(err, wamp.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got=%v", err)
	}
	if _, err := d.RegisterFunc("com.app", nil, wamp.RegisterOptions{}); !errors.Is(err, wamp.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument for nil handler, got=%v", err)
	}
}

func TestDealerUnknownProcedureLeavesNothingPending(t *testing.T) {
	testlog.Start(t)
	d := newTestDealer(t)
	reply, ch := replyChan()

	err := d.Call(1, &wamp.Call{Request: 1, Procedure: "com.app.missing"}, reply)
	if !errors.Is(err, wamp.ErrNoSuchProcedure) {
		t.Fatalf("expected ErrNoSuchProcedure, got=%v", err)
	}
	if d.Pending() != 0 {
		t.Fatalf("pending got=%d", d.Pending())
	}
	select {
	case o := <-ch:
		t.Fatalf("unexpected reply: %+v", o)
	default:
	}
}

func TestDealerRoutesExactThenLongestPrefix(t *testing.T) {
	testlog.Start(t)
	d := newTestDealer(t)
	_, err := d.RegisterFunc("com.app.", constant("app"), wamp.RegisterOptions{Match: wamp.MatchPrefix})
	require.NoError(t, err)
	_, err = d.RegisterFunc("com.app.math.", constant("math"), wamp.RegisterOptions{Match: wamp.MatchPrefix})
	require.NoError(t, err)
	_, err = d.RegisterFunc("com.app.math.add", constant("add"), wamp.RegisterOptions{})
	require.NoError(t, err)

	cases := map[wamp.URI]string{
		"com.app.math.add": "add",
		"com.app.math.sub": "math",
		"com.app.echo":     "app",
	}
	var req wamp.ID
	for proc, want := range cases {
		req++
		reply, ch := replyChan()
		require.NoError(t, d.Call(1, &wamp.Call{Request: req, Procedure: proc}, reply))
		o := waitOutcome(t, ch)
		require.NoError(t, o.err)
		require.Equal(t, want, o.res.Args[0], "procedure %s", proc)
	}
}

func TestDealerPrefixInvocationCarriesProcedure(t *testing.T) {
	testlog.Start(t)
	d := newTestDealer(t)
	got := make(chan *Invocation, 1)
	_, err := d.RegisterFunc("com.app.", func(_ context.Context, inv *Invocation) (*Result, error) {
		got <- inv
		return nil, nil
	}, wamp.RegisterOptions{Match: wamp.MatchPrefix})
	require.NoError(t, err)

	reply, ch := replyChan()
	call := &wamp.Call{Request: 3, Options: wamp.Dict{wamp.OptDiscloseMe: true}, Procedure: "com.app.ping"}
	require.NoError(t, d.Call(42, call, reply))
	waitOutcome(t, ch)
	inv := <-got
	require.Equal(t, "com.app.ping", inv.Details[wamp.DetailProcedure])
	require.Equal(t, wamp.ID(42), inv.Caller)
}

func TestDealerDuplicateRequestWhilePending(t *testing.T) {
	testlog.Start(t)
	d := newTestDealer(t)
	started := make(chan struct{}, 1)
	_, err := d.RegisterFunc("com.app.slow", blocking(started), wamp.RegisterOptions{})
	require.NoError(t, err)

	reply, ch := replyChan()
	require.NoError(t, d.Call(7, &wamp.Call{Request: 1, Procedure: "com.app.slow"}, reply))
	<-started
	err = d.Call(7, &wamp.Call{Request: 1, Procedure: "com.app.slow"}, reply)
	require.ErrorIs(t, err, wamp.ErrDuplicateRequestID)

	// Another caller may reuse the id.
	other, otherCh := replyChan()
	require.NoError(t, d.Call(8, &wamp.Call{Request: 1, Procedure: "com.app.slow"}, other))
	<-started

	require.True(t, d.Cancel(7, 1))
	require.True(t, d.Cancel(8, 1))
	require.ErrorIs(t, waitOutcome(t, ch).err, wamp.ErrCanceled)
	require.ErrorIs(t, waitOutcome(t, otherCh).err, wamp.ErrCanceled)
}

func TestDealerCancelDeliversOnce(t *testing.T) {
	testlog.Start(t)
	d := newTestDealer(t)
	started := make(chan struct{}, 1)
	_, err := d.RegisterFunc("com.app.slow", blocking(started), wamp.RegisterOptions{})
	require.NoError(t, err)

	reply, ch := replyChan()
	require.NoError(t, d.Call(1, &wamp.Call{Request: 9, Procedure: "com.app.slow"}, reply))
	<-started
	if !d.Cancel(1, 9) {
		t.Fatalf("expected cancel to find the call")
	}
	if d.Cancel(1, 9) {
		t.Fatalf("second cancel should report false")
	}
	o := waitOutcome(t, ch)
	if !errors.Is(o.err, wamp.ErrCanceled) {
		t.Fatalf("expected ErrCanceled, got=%v", o.err)
	}
	// The handler returns once its context ends; that outcome is dropped.
	select {
	case extra := <-ch:
		t.Fatalf("unexpected second reply: %+v", extra)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDealerCallTimeout(t *testing.T) {
	testlog.Start(t)
	d := newTestDealer(t)
	_, err := d.RegisterFunc("com.app.stuck", func(context.Context, *Invocation) (*Result, error) {
		time.Sleep(200 * time.Millisecond)
		return &Result{}, nil
	}, wamp.RegisterOptions{})
	require.NoError(t, err)

	reply, ch := replyChan()
	call := &wamp.Call{Request: 1, Options: wamp.CallOptions{Timeout: 20 * time.Millisecond}.ToDict(), Procedure: "com.app.stuck"}
	require.NoError(t, d.Call(1, call, reply))
	o := waitOutcome(t, ch)
	require.ErrorIs(t, o.err, wamp.ErrTimeout)
	require.Equal(t, wamp.ErrURITimeout, wamp.ErrorURI(o.err))
}

func TestDealerHandlerPanicBecomesRuntimeError(t *testing.T) {
	testlog.Start(t)
	d := newTestDealer(t)
	_, err := d.RegisterFunc("com.app.boom", func(context.Context, *Invocation) (*Result, error) {
		panic("boom")
	}, wamp.RegisterOptions{})
	require.NoError(t, err)

	reply, ch := replyChan()
	require.NoError(t, d.Call(1, &wamp.Call{Request: 1, Procedure: "com.app.boom"}, reply))
	o := waitOutcome(t, ch)
	if got := wamp.ErrorURI(o.err); got != wamp.ErrURIRuntimeError {
		t.Fatalf("expected runtime_error, got=%s", got)
	}
}

type calculator struct{ base int }

func (c calculator) Add(a, b int) int { return c.base + a + b }

func (calculator) Div(a, b float64) (float64, error) {
	if b == 0 {
		return 0, wamp.NewApplicationError("com.app.div_by_zero")
	}
	return a / b, nil
}

func (calculator) Wait(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestDealerRegisterMethod(t *testing.T) {
	testlog.Start(t)
	d := newTestDealer(t)
	calc := calculator{base: 10}
	_, err := d.RegisterMethod("com.calc.add", calc, "Add", wamp.RegisterOptions{})
	require.NoError(t, err)
	_, err = d.RegisterMethod("com.calc.div", calc, "Div", wamp.RegisterOptions{})
	require.NoError(t, err)
	_, err = d.RegisterMethod("com.calc.wait", calc, "Wait", wamp.RegisterOptions{})
	require.NoError(t, err)
	_, err = d.RegisterMethod("com.calc.nope", calc, "Nope", wamp.RegisterOptions{})
	require.ErrorIs(t, err, wamp.ErrInvalidArgument)

	reply, ch := replyChan()
	require.NoError(t, d.Call(1, &wamp.Call{Request: 1, Procedure: "com.calc.add", Args: wamp.List{int64(2), int64(3)}}, reply))
	o := waitOutcome(t, ch)
	require.NoError(t, o.err)
	require.Equal(t, 15, o.res.Args[0])

	require.NoError(t, d.Call(1, &wamp.Call{Request: 2, Procedure: "com.calc.div", Args: wamp.List{int64(1), int64(0)}}, reply))
	o = waitOutcome(t, ch)
	require.Equal(t, wamp.URI("com.app.div_by_zero"), wamp.ErrorURI(o.err))

	require.NoError(t, d.Call(1, &wamp.Call{Request: 3, Procedure: "com.calc.add", Args: wamp.List{"x", int64(1)}}, reply))
	o = waitOutcome(t, ch)
	require.ErrorIs(t, o.err, wamp.ErrInvalidArgument)

	require.NoError(t, d.Call(1, &wamp.Call{Request: 4, Procedure: "com.calc.add", Args: wamp.List{int64(1)}}, reply))
	o = waitOutcome(t, ch)
	require.ErrorIs(t, o.err, wamp.ErrInvalidArgument)

	require.NoError(t, d.Call(1, &wamp.Call{Request: 5, Procedure: "com.calc.wait"}, reply))
	require.True(t, d.Cancel(1, 5))
	require.ErrorIs(t, waitOutcome(t, ch).err, wamp.ErrCanceled)
}

type sizer struct{}

func (sizer) Double(n int) int       { return 2 * n }
func (sizer) Small(n int8) int8      { return n }
func (sizer) Count(n uint) uint      { return n }
func (sizer) Half(f float32) float32 { return f / 2 }

func TestDealerRegisterMethodRejectsLossyNumbers(t *testing.T) {
	testlog.Start(t)
	d := newTestDealer(t)
	for name, proc := range map[string]wamp.URI{
		"Double": "com.size.double",
		"Small":  "com.size.small",
		"Count":  "com.size.count",
		"Half":   "com.size.half",
	} {
		_, err := d.RegisterMethod(proc, sizer{}, name, wamp.RegisterOptions{})
		require.NoError(t, err)
	}

	reply, ch := replyChan()
	cases := []struct {
		proc wamp.URI
		arg  interface{}
		want interface{}
	}{
		{proc: "com.size.double", arg: 2.5},
		{proc: "com.size.double", arg: 4.0, want: 8},
		{proc: "com.size.double", arg: uint64(1) << 63},
		{proc: "com.size.double", arg: 1e300},
		{proc: "com.size.small", arg: int64(300)},
		{proc: "com.size.small", arg: int64(-128), want: int8(-128)},
		{proc: "com.size.count", arg: int64(-1)},
		{proc: "com.size.count", arg: int64(7), want: uint(7)},
		{proc: "com.size.half", arg: 1e300},
		{proc: "com.size.half", arg: int64(3), want: float32(1.5)},
	}
	for i, tc := range cases {
		require.NoError(t, d.Call(1, &wamp.Call{Request: wamp.ID(i + 1), Procedure: tc.proc, Args: wamp.List{tc.arg}}, reply))
		o := waitOutcome(t, ch)
		if tc.want == nil {
			if !errors.Is(o.err, wamp.ErrInvalidArgument) {
				t.Fatalf("%s(%v): want=%v got=%v res=%v", tc.proc, tc.arg, wamp.ErrInvalidArgument, o.err, o.res)
			}
			continue
		}
		require.NoError(t, o.err, "%s(%v)", tc.proc, tc.arg)
		require.Equal(t, tc.want, o.res.Args[0], "%s(%v)", tc.proc, tc.arg)
	}
}

func TestDealerRemoveSession(t *testing.T) {
	testlog.Start(t)
	d := newTestDealer(t)

	routed := make(chan ReplyFunc, 1)
	_, err := d.RegisterEndpoint(5, "com.remote.proc", endpointFunc(func(_ context.Context, _ *Invocation, reply ReplyFunc) {
		routed <- reply
	}), wamp.RegisterOptions{})
	require.NoError(t, err)
	_, err = d.RegisterFunc("com.local.slow", blocking(nil), wamp.RegisterOptions{})
	require.NoError(t, err)

	toCallee, calleeCh := replyChan()
	require.NoError(t, d.Call(1, &wamp.Call{Request: 1, Procedure: "com.remote.proc"}, toCallee))
	<-routed
	fromCaller, callerCh := replyChan()
	require.NoError(t, d.Call(5, &wamp.Call{Request: 1, Procedure: "com.local.slow"}, fromCaller))
	require.Equal(t, 2, d.Pending())

	d.RemoveSession(5)

	require.ErrorIs(t, waitOutcome(t, calleeCh).err, wamp.ErrCanceled)
	require.Equal(t, 0, d.Pending())
	require.Len(t, d.Registrations(), 1)
	require.ErrorIs(t, d.UnregisterID(5, 1), wamp.ErrNoSuchRegistration)
	select {
	case o := <-callerCh:
		t.Fatalf("calls of a departed caller are dropped silently, got=%+v", o)
	case <-time.After(50 * time.Millisecond):
	}
}

// endpointFunc is an async endpoint built from a function.
type endpointFunc func(context.Context, *Invocation, ReplyFunc)

func (f endpointFunc) Invoke(ctx context.Context, inv *Invocation, reply ReplyFunc) { f(ctx, inv, reply) }
func (endpointFunc) async()                                                           {}
