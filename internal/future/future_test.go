package future

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/danmuck/wampd/internal/testutil/testlog"
)

func TestFirstSettleWins(t *testing.T) {
	testlog.Start(t)
	f := New[int](nil)
	if !f.Resolve(5) {
		t.Fatalf("expected first resolve to win")
	}
	if f.Reject(errors.New("late")) || f.Cancel() || f.Resolve(6) {
		t.Fatalf("expected later settles to be no-ops")
	}
	v, err := f.Await(context.Background())
	if err != nil || v != 5 {
		t.Fatalf("unexpected result: got=%d err=%v", v, err)
	}
	if f.State() != Resolved {
		t.Fatalf("unexpected state: got=%s", f.State())
	}
}

func TestCancelRunsHookOnce(t *testing.T) {
	testlog.Start(t)
	var hooks int32
	f := New[string](func() { atomic.AddInt32(&hooks, 1) })
	if !f.Cancel() {
		t.Fatalf("expected cancel to settle")
	}
	f.Cancel()
	if got := atomic.LoadInt32(&hooks); got != 1 {
		t.Fatalf("unexpected hook count: got=%d", got)
	}
	_, err := f.Await(context.Background())
	if !errors.Is(err, ErrCanceled) || f.State() != Canceled {
		t.Fatalf("unexpected cancel outcome: err=%v state=%s", err, f.State())
	}
}

func TestCancelAfterResolveIsNoop(t *testing.T) {
	testlog.Start(t)
	called := false
	f := New[int](func() { called = true })
	f.Resolve(1)
	if f.Cancel() || called {
		t.Fatalf("completed future must not be cancellable")
	}
}

func TestAwaitHonorsContextWithoutSettling(t *testing.T) {
	testlog.Start(t)
	f := New[int](nil)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := f.Await(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got=%v", err)
	}
	if f.State() != Pending {
		t.Fatalf("await timeout must leave future pending, got=%s", f.State())
	}
}

func TestOnSettleRunsForPendingAndSettled(t *testing.T) {
	testlog.Start(t)
	f := New[int](nil)
	var got []int
	f.OnSettle(func(v int, _ error) { got = append(got, v) })
	f.Resolve(3)
	f.OnSettle(func(v int, _ error) { got = append(got, v*10) })
	if len(got) != 2 || got[0] != 3 || got[1] != 30 {
		t.Fatalf("unexpected callbacks: got=%v", got)
	}
}

func TestConcurrentSettleResolvesOnce(t *testing.T) {
	testlog.Start(t)
	f := New[int](nil)
	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var ok bool
			if i%2 == 0 {
				ok = f.Resolve(i)
			} else {
				ok = f.Reject(errors.New("timeout"))
			}
			if ok {
				atomic.AddInt32(&wins, 1)
			}
		}(i)
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("expected exactly one winner, got=%d", wins)
	}
}
