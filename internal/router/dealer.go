package router

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/panjf2000/ants"
	"github.com/rs/zerolog"

	"github.com/danmuck/wampd/internal/logging"
	"github.com/danmuck/wampd/internal/observability"
	"github.com/danmuck/wampd/internal/wamp"
)

// DefaultWorkers bounds concurrently running local procedure handlers.
const DefaultWorkers = 1024

// Registration binds a procedure URI and match policy to one endpoint.
type Registration struct {
	ID        wamp.ID
	Procedure wamp.URI
	Match     string
	// Owner is the registering session, zero for local registrations.
	Owner wamp.ID

	endpoint Endpoint
}

type callKey struct {
	caller  wamp.ID
	request wamp.ID
}

type pendingInvocation struct {
	reg    *Registration
	cancel context.CancelFunc
	reply  ReplyFunc
}

// Dealer routes calls to registered procedures. It is safe for concurrent
// use by many sessions.
type Dealer struct {
	mu      sync.RWMutex
	ids     wamp.IDGen
	exact   map[wamp.URI]*Registration
	prefix  *prefixTable
	byID    map[wamp.ID]*Registration
	pending map[callKey]*pendingInvocation

	pool *ants.Pool
	logs zerolog.Logger
}

// NewDealer returns a dealer running local handlers on a pool of at most
// workers goroutines. workers <= 0 selects DefaultWorkers.
func NewDealer(workers int) (*Dealer, error) {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	pool, err := ants.NewPool(workers)
	if err != nil {
		return nil, fmt.Errorf("router: dealer pool: %w", err)
	}
	return &Dealer{
		exact:   make(map[wamp.URI]*Registration),
		prefix:  newPrefixTable(),
		byID:    make(map[wamp.ID]*Registration),
		pending: make(map[callKey]*pendingInvocation),
		pool:    pool,
		logs:    logging.Component("dealer"),
	}, nil
}

// Close stops the worker pool. Calls in flight keep running.
func (d *Dealer) Close() {
	d.pool.Release()
}

// Register binds a local endpoint to procedure.
func (d *Dealer) Register(procedure wamp.URI, ep Endpoint, opts wamp.RegisterOptions) (*Registration, error) {
	return d.RegisterEndpoint(0, procedure, ep, opts)
}

// RegisterFunc registers a local handler function.
func (d *Dealer) RegisterFunc(procedure wamp.URI, fn HandlerFunc, opts wamp.RegisterOptions) (*Registration, error) {
	if fn == nil {
		return nil, fmt.Errorf("%w: nil handler for %s", wamp.ErrInvalidArgument, procedure)
	}
	return d.Register(procedure, funcEndpoint(fn), opts)
}

// RegisterEndpoint binds ep to procedure on behalf of owner. The exact
// (procedure, match) pair must not be registered yet.
func (d *Dealer) RegisterEndpoint(owner wamp.ID, procedure wamp.URI, ep Endpoint, opts wamp.RegisterOptions) (*Registration, error) {
	match, err := wamp.NormalizeMatch(opts.Match)
	if err != nil {
		return nil, err
	}
	if !wamp.ValidURI(procedure, match) {
		return nil, fmt.Errorf("%w: %q", wamp.ErrInvalidURI, procedure)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lookupExactLocked(procedure, match) != nil {
		return nil, fmt.Errorf("%w: %s match=%s", wamp.ErrProcedureAlreadyExists, procedure, match)
	}
	reg := &Registration{
		ID:        d.nextIDLocked(),
		Procedure: procedure,
		Match:     match,
		Owner:     owner,
		endpoint:  ep,
	}
	if match == wamp.MatchPrefix {
		d.prefix.put(string(procedure), reg)
	} else {
		d.exact[procedure] = reg
	}
	d.byID[reg.ID] = reg
	observability.AddRegistrations(1)
	d.logs.Debug().
		Uint64("registration", uint64(reg.ID)).
		Str("procedure", string(procedure)).
		Str("match", match).
		Uint64("owner", uint64(owner)).
		Msg("router.Dealer register")
	return reg, nil
}

// Unregister removes the registration of procedure, exact match first and
// prefix second.
func (d *Dealer) Unregister(procedure wamp.URI) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	reg := d.lookupExactLocked(procedure, wamp.MatchExact)
	if reg == nil {
		reg = d.lookupExactLocked(procedure, wamp.MatchPrefix)
	}
	if reg == nil {
		return fmt.Errorf("%w: %s", wamp.ErrNoSuchRegistration, procedure)
	}
	d.removeLocked(reg)
	return nil
}

// UnregisterID removes registration id when owner holds it.
func (d *Dealer) UnregisterID(owner, id wamp.ID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	reg, ok := d.byID[id]
	if !ok || reg.Owner != owner {
		return fmt.Errorf("%w: id=%d", wamp.ErrNoSuchRegistration, id)
	}
	d.removeLocked(reg)
	return nil
}

// Registrations returns a snapshot of the live registrations.
func (d *Dealer) Registrations() []*Registration {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*Registration, 0, len(d.byID))
	for _, reg := range d.byID {
		out = append(out, reg)
	}
	return out
}

// Call routes msg from caller. It fails synchronously when no procedure
// matches or the request id is still pending for caller; otherwise reply
// receives the outcome exactly once.
func (d *Dealer) Call(caller wamp.ID, msg *wamp.Call, reply ReplyFunc) error {
	opts, err := wamp.CallOptionsFromDict(msg.Options)
	if err != nil {
		return err
	}

	key := callKey{caller: caller, request: msg.Request}
	d.mu.Lock()
	reg := d.matchLocked(msg.Procedure)
	if reg == nil {
		d.mu.Unlock()
		observability.RecordCall(observability.CallError)
		return fmt.Errorf("%w: %s", wamp.ErrNoSuchProcedure, msg.Procedure)
	}
	if _, dup := d.pending[key]; dup {
		d.mu.Unlock()
		return fmt.Errorf("%w: caller=%d request=%d", wamp.ErrDuplicateRequestID, caller, msg.Request)
	}
	var ctx context.Context
	var cancel context.CancelFunc
	if opts.Timeout > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), opts.Timeout)
	} else {
		ctx, cancel = context.WithCancel(context.Background())
	}
	p := &pendingInvocation{reg: reg, cancel: cancel, reply: reply}
	d.pending[key] = p
	d.mu.Unlock()

	inv := &Invocation{
		Registration: reg.ID,
		Procedure:    msg.Procedure,
		Args:         msg.Args,
		KwArgs:       msg.KwArgs,
		Details:      wamp.Dict{},
	}
	if reg.Match != wamp.MatchExact {
		inv.Details[wamp.DetailProcedure] = string(msg.Procedure)
	}
	if opts.DiscloseMe {
		inv.Caller = caller
		inv.Details[wamp.DetailCaller] = uint64(caller)
	}

	finish := func(res *Result, err error) {
		if !d.complete(key, p) {
			return
		}
		cancel()
		recordCallOutcome(err)
		reply(res, err)
	}
	if opts.Timeout > 0 {
		context.AfterFunc(ctx, func() {
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				finish(nil, fmt.Errorf("%w: %s after %s", wamp.ErrTimeout, msg.Procedure, opts.Timeout))
			}
		})
	}

	if ep, ok := reg.endpoint.(asyncEndpoint); ok {
		ep.Invoke(ctx, inv, finish)
		return nil
	}
	task := func() {
		defer func() {
			if r := recover(); r != nil {
				d.logs.Error().
					Str("procedure", string(msg.Procedure)).
					Interface("panic", r).
					Bytes("stack", debug.Stack()).
					Msg("router.Dealer handler panic")
				finish(nil, wamp.NewApplicationError(wamp.ErrURIRuntimeError, fmt.Sprint(r)))
			}
		}()
		reg.endpoint.Invoke(ctx, inv, finish)
	}
	if err := d.pool.Submit(task); err != nil {
		finish(nil, fmt.Errorf("router: dealer pool: %w", err))
	}
	return nil
}

// Cancel abandons the pending call (caller, request). The caller is
// answered with ErrCanceled and the endpoint's context ends. It reports
// false when the call already completed.
func (d *Dealer) Cancel(caller, request wamp.ID) bool {
	key := callKey{caller: caller, request: request}
	d.mu.Lock()
	p, ok := d.pending[key]
	if ok {
		delete(d.pending, key)
	}
	d.mu.Unlock()
	if !ok {
		return false
	}
	p.cancel()
	observability.RecordCall(observability.CallCanceled)
	p.reply(nil, fmt.Errorf("%w: request=%d", wamp.ErrCanceled, request))
	return true
}

// RemoveSession drops everything session id owns: its registrations, the
// calls it made (silently) and the calls routed to it (failed as canceled).
func (d *Dealer) RemoveSession(id wamp.ID) {
	var orphaned []*pendingInvocation
	d.mu.Lock()
	for _, reg := range d.byID {
		if reg.Owner == id && id != 0 {
			d.removeLocked(reg)
		}
	}
	for key, p := range d.pending {
		switch {
		case key.caller == id:
			delete(d.pending, key)
			p.cancel()
		case p.reg.Owner == id && id != 0:
			delete(d.pending, key)
			orphaned = append(orphaned, p)
		}
	}
	d.mu.Unlock()

	for _, p := range orphaned {
		p.cancel()
		p.reply(nil, fmt.Errorf("%w: callee %d left", wamp.ErrCanceled, id))
	}
}

// Pending reports the number of calls awaiting an outcome.
func (d *Dealer) Pending() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.pending)
}

func (d *Dealer) complete(key callKey, p *pendingInvocation) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pending[key] != p {
		return false
	}
	delete(d.pending, key)
	return true
}

func (d *Dealer) lookupExactLocked(procedure wamp.URI, match string) *Registration {
	if match == wamp.MatchPrefix {
		if v, ok := d.prefix.get(string(procedure)); ok {
			return v.(*Registration)
		}
		return nil
	}
	return d.exact[procedure]
}

// matchLocked picks the exact registration, else the longest prefix one.
func (d *Dealer) matchLocked(procedure wamp.URI) *Registration {
	if reg, ok := d.exact[procedure]; ok {
		return reg
	}
	if v, ok := d.prefix.longest(string(procedure)); ok {
		return v.(*Registration)
	}
	return nil
}

func (d *Dealer) removeLocked(reg *Registration) {
	if reg.Match == wamp.MatchPrefix {
		d.prefix.remove(string(reg.Procedure))
	} else {
		delete(d.exact, reg.Procedure)
	}
	delete(d.byID, reg.ID)
	observability.AddRegistrations(-1)
}

func (d *Dealer) nextIDLocked() wamp.ID {
	for {
		id := d.ids.Next()
		if _, taken := d.byID[id]; !taken {
			return id
		}
	}
}

func recordCallOutcome(err error) {
	switch {
	case err == nil:
		observability.RecordCall(observability.CallOK)
	case errors.Is(err, wamp.ErrTimeout):
		observability.RecordCall(observability.CallTimeout)
	default:
		observability.RecordCall(observability.CallError)
	}
}

// funcEndpoint runs a HandlerFunc on the dealer's pool.
type funcEndpoint HandlerFunc

func (f funcEndpoint) Invoke(ctx context.Context, inv *Invocation, reply ReplyFunc) {
	res, err := f(ctx, inv)
	reply(res, err)
}
