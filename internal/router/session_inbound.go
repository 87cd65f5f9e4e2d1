package router

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/danmuck/wampd/internal/wamp"
)

// requestReplies pairs every acknowledged request kind with its reply.
var requestReplies = map[wamp.MessageType]wamp.MessageType{
	wamp.MessagePublished:    wamp.MessagePublish,
	wamp.MessageSubscribed:   wamp.MessageSubscribe,
	wamp.MessageUnsubscribed: wamp.MessageUnsubscribe,
	wamp.MessageRegistered:   wamp.MessageRegister,
	wamp.MessageUnregistered: wamp.MessageUnregister,
}

// dispatch handles one inbound message with procMu held. It returns the
// callbacks to run once procMu is released, or an error that ends the
// session with a protocol violation.
func (s *Session) dispatch(msg wamp.Message) ([]func(), error) {
	switch m := msg.(type) {
	case *wamp.Hello:
		return s.handleHello(m)
	case *wamp.Welcome:
		return s.handleWelcome(m)
	case *wamp.Abort:
		return s.handleAbort(m), nil
	case *wamp.Goodbye:
		return s.handleGoodbye(m), nil
	case *wamp.Error:
		return s.handleError(m), nil
	case *wamp.Published:
		return s.handleReply(m.Request, m)
	case *wamp.Subscribed:
		return s.handleReply(m.Request, m)
	case *wamp.Unsubscribed:
		return s.handleReply(m.Request, m)
	case *wamp.Registered:
		return s.handleReply(m.Request, m)
	case *wamp.Unregistered:
		return s.handleReply(m.Request, m)
	case *wamp.Result:
		return s.handleResult(m), nil
	case *wamp.Event:
		return s.handleEvent(m), nil
	case *wamp.Invocation:
		s.handleInvocation(m)
		return nil, nil
	case *wamp.Interrupt:
		s.handleInterrupt(m)
		return nil, nil
	case *wamp.Yield:
		return s.handleYield(m), nil
	case *wamp.Call:
		s.handleCall(m)
		return nil, nil
	case *wamp.Cancel:
		s.handleCancel(m)
		return nil, nil
	case *wamp.Register:
		s.handleRegister(m)
		return nil, nil
	case *wamp.Unregister:
		s.handleUnregister(m)
		return nil, nil
	case *wamp.Subscribe:
		s.handleSubscribe(m)
		return nil, nil
	case *wamp.Unsubscribe:
		s.handleUnsubscribe(m)
		return nil, nil
	case *wamp.Publish:
		s.handlePublish(m)
		return nil, nil
	}
	return nil, &wamp.ProtocolError{MessageType: msg.MessageType(), Reason: "unexpected message"}
}

func (s *Session) handleHello(m *wamp.Hello) ([]func(), error) {
	s.mu.Lock()
	if s.hello {
		s.mu.Unlock()
		return nil, &wamp.ProtocolError{MessageType: wamp.MessageHello, Reason: "session already established"}
	}
	if want := s.cfg.Realm; want != "" && m.Realm != want {
		s.mu.Unlock()
		s.logs.Warn().Str("realm", string(m.Realm)).Msg("router.Session unknown realm")
		return s.abortWith(wamp.ErrURINoSuchRealm, fmt.Sprintf("no realm %q", m.Realm), "no such realm"), nil
	}
	s.hello = true
	s.realm = m.Realm
	roles := wamp.Dict{}
	if s.dealer != nil {
		roles["dealer"] = wamp.Dict{}
	}
	if s.broker != nil {
		roles["broker"] = wamp.Dict{}
	}
	s.mu.Unlock()

	s.logs.Info().Str("realm", string(m.Realm)).Msg("router.Session join")
	_ = s.send(&wamp.Welcome{Session: s.id, Details: wamp.Dict{wamp.DetailRoles: roles}})
	if s.cfg.OnJoin == nil {
		return nil, nil
	}
	return []func(){func() { s.cfg.OnJoin(s) }}, nil
}

func (s *Session) handleWelcome(m *wamp.Welcome) ([]func(), error) {
	s.mu.Lock()
	f := s.welcome
	if f == nil {
		s.mu.Unlock()
		return nil, &wamp.ProtocolError{MessageType: wamp.MessageWelcome, Reason: "no join in progress"}
	}
	s.welcome = nil
	s.peerID = m.Session
	s.mu.Unlock()
	w := &Welcome{Session: m.Session, Details: m.Details}
	return []func(){func() { f.Resolve(w) }}, nil
}

func (s *Session) handleAbort(m *wamp.Abort) []func() {
	s.logs.Info().Str("reason", string(m.Reason)).Msg("router.Session peer abort")
	s.mu.Lock()
	f, ch := s.welcome, s.ch
	s.welcome = nil
	s.mu.Unlock()

	var post []func()
	if f != nil {
		appErr := &wamp.ApplicationError{URI: m.Reason, Details: m.Details}
		post = append(post, func() { f.Reject(appErr) })
	}
	post = append(post, s.teardown("peer abort")...)
	if ch != nil {
		_ = ch.Close()
	}
	return post
}

func (s *Session) handleGoodbye(m *wamp.Goodbye) []func() {
	s.mu.Lock()
	f, ch := s.goodbye, s.ch
	s.goodbye = nil
	s.mu.Unlock()

	var post []func()
	if f != nil {
		post = append(post, func() { f.Resolve(struct{}{}) })
	} else {
		s.logs.Info().Str("reason", string(m.Reason)).Msg("router.Session goodbye")
		_ = s.send(&wamp.Goodbye{Details: wamp.Dict{}, Reason: wamp.CloseGoodbyeAndOut})
	}
	post = append(post, s.teardown("goodbye")...)
	if ch != nil {
		_ = ch.Close()
	}
	return post
}

func (s *Session) handleError(m *wamp.Error) []func() {
	appErr := wamp.ErrorFromMessage(m)
	switch m.RequestType {
	case wamp.MessageCall:
		pc := s.takeCall(m.Request)
		if pc == nil {
			return nil
		}
		return []func(){func() { pc.future.Reject(appErr) }}
	case wamp.MessageInvocation:
		s.mu.Lock()
		reply, ok := s.invocationsOut[m.Request]
		delete(s.invocationsOut, m.Request)
		s.mu.Unlock()
		if !ok {
			return nil
		}
		return []func(){func() { reply(nil, appErr) }}
	}
	pr := s.takeRequest(m.Request, m.RequestType)
	if pr == nil {
		return nil
	}
	return []func(){pr.done(nil, appErr)}
}

func (s *Session) handleReply(request wamp.ID, m wamp.Message) ([]func(), error) {
	want := requestReplies[m.MessageType()]
	s.mu.Lock()
	pr, ok := s.requests[request]
	if ok && pr.kind != want {
		s.mu.Unlock()
		return nil, &wamp.ProtocolError{
			MessageType: m.MessageType(),
			Reason:      fmt.Sprintf("request %d is a %s", request, pr.kind),
		}
	}
	delete(s.requests, request)
	s.mu.Unlock()
	if !ok {
		return nil, nil
	}
	if pr.timer != nil {
		pr.timer.Stop()
	}
	return []func(){pr.done(m, nil)}, nil
}

func (s *Session) handleResult(m *wamp.Result) []func() {
	pc := s.takeCall(m.Request)
	if pc == nil {
		return nil
	}
	v := callValue(m.Args, m.KwArgs)
	return []func(){func() { pc.future.Resolve(v) }}
}

// callValue unwraps a lone positional result; anything else is returned
// as a CallResult.
func callValue(args wamp.List, kwargs wamp.Dict) any {
	if len(args) == 1 && len(kwargs) == 0 {
		return args[0]
	}
	return CallResult{Args: args, KwArgs: kwargs}
}

func (s *Session) handleEvent(m *wamp.Event) []func() {
	s.mu.Lock()
	sub, ok := s.subscriptions[m.Subscription]
	var handles []*SubscriptionHandle
	if ok {
		handles = append(handles, sub.handles...)
	}
	s.mu.Unlock()

	post := make([]func(), 0, len(handles))
	for _, h := range handles {
		fn := h.handler
		post = append(post, func() { s.runEventHandler(fn, m) })
	}
	return post
}

func (s *Session) runEventHandler(fn EventHandler, ev *wamp.Event) {
	defer func() {
		if r := recover(); r != nil {
			s.logs.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("router.Session event handler panic")
		}
	}()
	fn(ev)
}

func (s *Session) handleInvocation(m *wamp.Invocation) {
	s.mu.Lock()
	reg, ok := s.registrations[m.Registration]
	if !ok {
		s.mu.Unlock()
		s.sendError(wamp.MessageInvocation, m.Request,
			fmt.Errorf("%w: id=%d", wamp.ErrNoSuchRegistration, m.Registration))
		return
	}
	if _, dup := s.invocationsIn[m.Request]; dup {
		s.mu.Unlock()
		s.sendError(wamp.MessageInvocation, m.Request,
			fmt.Errorf("%w: invocation %d", wamp.ErrDuplicateRequestID, m.Request))
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.invocationsIn[m.Request] = cancel
	s.mu.Unlock()

	inv := &Invocation{
		Registration: m.Registration,
		Procedure:    reg.Procedure,
		Args:         m.Args,
		KwArgs:       m.KwArgs,
		Details:      m.Details,
	}
	if p, ok := wamp.DictString(m.Details, wamp.DetailProcedure); ok {
		inv.Procedure = wamp.URI(p)
	}
	if caller, ok := wamp.DictID(m.Details, wamp.DetailCaller); ok {
		inv.Caller = caller
	}
	go s.runInvocation(ctx, m.Request, reg.handler, inv)
}

func (s *Session) runInvocation(ctx context.Context, request wamp.ID, fn HandlerFunc, inv *Invocation) {
	res, err := func() (res *Result, err error) {
		defer func() {
			if r := recover(); r != nil {
				s.logs.Error().
					Str("procedure", string(inv.Procedure)).
					Interface("panic", r).
					Bytes("stack", debug.Stack()).
					Msg("router.Session handler panic")
				err = wamp.NewApplicationError(wamp.ErrURIRuntimeError, fmt.Sprint(r))
			}
		}()
		return fn(ctx, inv)
	}()

	s.mu.Lock()
	cancel, ok := s.invocationsIn[request]
	delete(s.invocationsIn, request)
	s.mu.Unlock()
	if !ok {
		// Interrupted or torn down; the caller was already answered.
		return
	}
	cancel()
	if err != nil {
		s.sendError(wamp.MessageInvocation, request, err)
		return
	}
	y := &wamp.Yield{Request: request, Options: wamp.Dict{}}
	if res != nil {
		y.Args, y.KwArgs = res.Args, res.KwArgs
	}
	_ = s.send(y)
}

func (s *Session) handleInterrupt(m *wamp.Interrupt) {
	s.mu.Lock()
	cancel, ok := s.invocationsIn[m.Request]
	delete(s.invocationsIn, m.Request)
	s.mu.Unlock()
	if !ok {
		return
	}
	cancel()
	s.sendError(wamp.MessageInvocation, m.Request, wamp.ErrCanceled)
}

func (s *Session) handleYield(m *wamp.Yield) []func() {
	s.mu.Lock()
	reply, ok := s.invocationsOut[m.Request]
	delete(s.invocationsOut, m.Request)
	s.mu.Unlock()
	if !ok {
		return nil
	}
	res := &Result{Args: m.Args, KwArgs: m.KwArgs}
	return []func(){func() { reply(res, nil) }}
}

func (s *Session) roles() (DealerRole, BrokerRole) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dealer, s.broker
}

func (s *Session) handleCall(m *wamp.Call) {
	dealer, _ := s.roles()
	if dealer == nil {
		s.sendError(wamp.MessageCall, m.Request, fmt.Errorf("%w: dealer", wamp.ErrRoleNotSupported))
		return
	}
	request := m.Request
	err := dealer.Call(s.id, m, func(res *Result, err error) {
		if err != nil {
			s.sendError(wamp.MessageCall, request, err)
			return
		}
		r := &wamp.Result{Request: request, Details: wamp.Dict{}}
		if res != nil {
			r.Args, r.KwArgs = res.Args, res.KwArgs
		}
		_ = s.send(r)
	})
	if err != nil {
		s.sendError(wamp.MessageCall, request, err)
	}
}

func (s *Session) handleCancel(m *wamp.Cancel) {
	dealer, _ := s.roles()
	if dealer == nil {
		return
	}
	if !dealer.Cancel(s.id, m.Request) {
		s.logs.Debug().Uint64("request", uint64(m.Request)).Msg("router.Session cancel of finished call")
	}
}

func (s *Session) handleRegister(m *wamp.Register) {
	dealer, _ := s.roles()
	if dealer == nil {
		s.sendError(wamp.MessageRegister, m.Request, fmt.Errorf("%w: dealer", wamp.ErrRoleNotSupported))
		return
	}
	opts, err := wamp.RegisterOptionsFromDict(m.Options)
	if err != nil {
		s.sendError(wamp.MessageRegister, m.Request, err)
		return
	}
	s.ackMu.Lock()
	defer s.ackMu.Unlock()
	reg, err := dealer.RegisterEndpoint(s.id, m.Procedure, remoteEndpoint{s: s}, opts)
	if err != nil {
		s.sendError(wamp.MessageRegister, m.Request, err)
		return
	}
	_ = s.send(&wamp.Registered{Request: m.Request, Registration: reg.ID})
}

func (s *Session) handleUnregister(m *wamp.Unregister) {
	dealer, _ := s.roles()
	if dealer == nil {
		s.sendError(wamp.MessageUnregister, m.Request, fmt.Errorf("%w: dealer", wamp.ErrRoleNotSupported))
		return
	}
	if err := dealer.UnregisterID(s.id, m.Registration); err != nil {
		s.sendError(wamp.MessageUnregister, m.Request, err)
		return
	}
	_ = s.send(&wamp.Unregistered{Request: m.Request})
}

func (s *Session) handleSubscribe(m *wamp.Subscribe) {
	_, broker := s.roles()
	if broker == nil {
		s.sendError(wamp.MessageSubscribe, m.Request, fmt.Errorf("%w: broker", wamp.ErrRoleNotSupported))
		return
	}
	opts, err := wamp.SubscribeOptionsFromDict(m.Options)
	if err != nil {
		s.sendError(wamp.MessageSubscribe, m.Request, err)
		return
	}
	s.ackMu.Lock()
	defer s.ackMu.Unlock()
	sub, err := broker.Subscribe(s, m.Topic, opts)
	if err != nil {
		s.sendError(wamp.MessageSubscribe, m.Request, err)
		return
	}
	_ = s.send(&wamp.Subscribed{Request: m.Request, Subscription: sub.ID})
}

func (s *Session) handleUnsubscribe(m *wamp.Unsubscribe) {
	_, broker := s.roles()
	if broker == nil {
		s.sendError(wamp.MessageUnsubscribe, m.Request, fmt.Errorf("%w: broker", wamp.ErrRoleNotSupported))
		return
	}
	if err := broker.Unsubscribe(s.id, m.Subscription); err != nil {
		s.sendError(wamp.MessageUnsubscribe, m.Request, err)
		return
	}
	_ = s.send(&wamp.Unsubscribed{Request: m.Request})
}

// handlePublish always reports a refused publication; acknowledge only
// governs PUBLISHED.
func (s *Session) handlePublish(m *wamp.Publish) {
	_, broker := s.roles()
	if broker == nil {
		s.sendError(wamp.MessagePublish, m.Request, fmt.Errorf("%w: broker", wamp.ErrRoleNotSupported))
		return
	}
	pub, err := broker.Publish(s.id, m)
	if err != nil {
		s.sendError(wamp.MessagePublish, m.Request, err)
		return
	}
	if ack, _ := m.Options[wamp.OptAcknowledge].(bool); ack {
		_ = s.send(&wamp.Published{Request: m.Request, Publication: pub})
	}
}

// remoteEndpoint forwards invocations to the callee on the other end of a
// session as INVOCATION messages and waits for YIELD or ERROR.
type remoteEndpoint struct {
	s *Session
}

func (remoteEndpoint) async() {}

func (e remoteEndpoint) Invoke(ctx context.Context, inv *Invocation, reply ReplyFunc) {
	s := e.s
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		reply(nil, fmt.Errorf("%w: callee gone", wamp.ErrCanceled))
		return
	}
	request := s.reqs.Next()
	s.invocationsOut[request] = reply
	s.mu.Unlock()

	err := s.sendOrdered(&wamp.Invocation{
		Request:      request,
		Registration: inv.Registration,
		Details:      inv.Details,
		Args:         inv.Args,
		KwArgs:       inv.KwArgs,
	})
	if err != nil {
		if s.takeInvocationOut(request) {
			reply(nil, err)
		}
		return
	}
	context.AfterFunc(ctx, func() {
		if s.takeInvocationOut(request) {
			_ = s.send(&wamp.Interrupt{Request: request, Options: wamp.Dict{wamp.OptMode: wamp.CancelModeKill}})
		}
	})
}

func (s *Session) takeInvocationOut(request wamp.ID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.invocationsOut[request]
	delete(s.invocationsOut, request)
	return ok
}
