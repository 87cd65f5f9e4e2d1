package router

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/danmuck/wampd/internal/future"
	"github.com/danmuck/wampd/internal/wamp"
)

// clientRoles is announced in HELLO.
var clientRoles = wamp.Dict{
	"caller":     wamp.Dict{},
	"callee":     wamp.Dict{},
	"publisher":  wamp.Dict{},
	"subscriber": wamp.Dict{},
}

// Join sends HELLO for realm and resolves with the peer's WELCOME.
func (s *Session) Join(realm wamp.URI) *future.Future[*Welcome] {
	if !wamp.ValidURI(realm, wamp.MatchExact) {
		return future.RejectedWith[*Welcome](fmt.Errorf("%w: realm %q", wamp.ErrInvalidURI, realm))
	}
	f := future.New[*Welcome](nil)
	s.mu.Lock()
	switch {
	case s.closed || s.ch == nil:
		s.mu.Unlock()
		return future.RejectedWith[*Welcome](wamp.ErrChannelClosed)
	case s.welcome != nil || s.peerID != 0:
		s.mu.Unlock()
		return future.RejectedWith[*Welcome](fmt.Errorf("%w: already joined", wamp.ErrProtocolViolation))
	}
	s.welcome = f
	s.realm = realm
	s.mu.Unlock()

	if err := s.send(&wamp.Hello{Realm: realm, Details: wamp.Dict{wamp.DetailRoles: clientRoles}}); err != nil {
		s.mu.Lock()
		if s.welcome == f {
			s.welcome = nil
		}
		s.mu.Unlock()
		f.Reject(err)
	}
	return f
}

// Leave sends GOODBYE and resolves once the peer answers or the channel
// closes. reason defaults to wamp.close.normal.
func (s *Session) Leave(reason wamp.URI) *future.Future[struct{}] {
	if reason == "" {
		reason = wamp.CloseNormal
	}
	f := future.New[struct{}](nil)
	s.mu.Lock()
	if s.closed || s.ch == nil {
		s.mu.Unlock()
		return future.RejectedWith[struct{}](wamp.ErrChannelClosed)
	}
	if s.goodbye != nil {
		g := s.goodbye
		s.mu.Unlock()
		return g
	}
	s.goodbye = f
	s.mu.Unlock()

	if err := s.send(&wamp.Goodbye{Details: wamp.Dict{}, Reason: reason}); err != nil {
		f.Reject(err)
	}
	return f
}

// Call invokes procedure through the peer. The future resolves with the
// lone positional result, or a CallResult for anything else, and rejects
// with an *wamp.ApplicationError on ERROR. Canceling the future sends
// CANCEL; a RESULT arriving afterwards is dropped.
func (s *Session) Call(procedure wamp.URI, args wamp.List, kwargs wamp.Dict, opts wamp.CallOptions) *future.Future[any] {
	if !wamp.ValidURI(procedure, wamp.MatchExact) {
		return future.RejectedWith[any](fmt.Errorf("%w: %q", wamp.ErrInvalidURI, procedure))
	}
	if opts.Timeout == 0 {
		opts.Timeout = s.cfg.CallTimeout
	}

	s.mu.Lock()
	if s.closed || s.ch == nil {
		s.mu.Unlock()
		return future.RejectedWith[any](wamp.ErrChannelClosed)
	}
	request := s.reqs.Next()
	f := future.New[any](func() { s.abandonCall(request) })
	pc := &pendingCall{future: f}
	if opts.Timeout > 0 {
		pc.timer = time.AfterFunc(opts.Timeout, func() { s.expireCall(request, opts.Timeout) })
	}
	s.calls[request] = pc
	s.mu.Unlock()

	err := s.send(&wamp.Call{
		Request:   request,
		Options:   opts.ToDict(),
		Procedure: procedure,
		Args:      args,
		KwArgs:    kwargs,
	})
	if err != nil {
		if pc := s.takeCall(request); pc != nil {
			pc.future.Reject(err)
		}
	}
	return f
}

// abandonCall runs when the caller cancels the future.
func (s *Session) abandonCall(request wamp.ID) {
	if s.takeCall(request) == nil {
		return
	}
	_ = s.send(&wamp.Cancel{Request: request, Options: wamp.Dict{wamp.OptMode: wamp.CancelModeKill}})
}

func (s *Session) expireCall(request wamp.ID, after time.Duration) {
	pc := s.takeCall(request)
	if pc == nil {
		return
	}
	_ = s.send(&wamp.Cancel{Request: request, Options: wamp.Dict{wamp.OptMode: wamp.CancelModeKill}})
	pc.future.Reject(fmt.Errorf("%w: request %d after %s", wamp.ErrTimeout, request, after))
}

func (s *Session) takeCall(request wamp.ID) *pendingCall {
	s.mu.Lock()
	pc, ok := s.calls[request]
	delete(s.calls, request)
	s.mu.Unlock()
	if !ok {
		return nil
	}
	if pc.timer != nil {
		pc.timer.Stop()
	}
	return pc
}

// request sends the message built by build under a fresh request id and
// routes the acknowledgement, ERROR, timeout or teardown to done.
func (s *Session) request(kind wamp.MessageType, build func(request wamp.ID) wamp.Message, done func(wamp.Message, error) func()) {
	s.mu.Lock()
	if s.closed || s.ch == nil {
		s.mu.Unlock()
		done(nil, wamp.ErrChannelClosed)()
		return
	}
	request := s.reqs.Next()
	pr := &pendingRequest{kind: kind, done: done}
	if s.cfg.RequestTimeout > 0 {
		timeout := s.cfg.RequestTimeout
		pr.timer = time.AfterFunc(timeout, func() {
			if pr := s.takeRequest(request, kind); pr != nil {
				pr.done(nil, fmt.Errorf("%w: %s %d after %s", wamp.ErrTimeout, kind, request, timeout))()
			}
		})
	}
	s.requests[request] = pr
	s.mu.Unlock()

	if err := s.send(build(request)); err != nil {
		if pr := s.takeRequest(request, kind); pr != nil {
			pr.done(nil, err)()
		}
	}
}

func (s *Session) takeRequest(request wamp.ID, kind wamp.MessageType) *pendingRequest {
	s.mu.Lock()
	pr, ok := s.requests[request]
	if !ok || pr.kind != kind {
		s.mu.Unlock()
		return nil
	}
	delete(s.requests, request)
	s.mu.Unlock()
	if pr.timer != nil {
		pr.timer.Stop()
	}
	return pr
}

// Register offers fn as procedure through the peer.
func (s *Session) Register(procedure wamp.URI, fn HandlerFunc, opts wamp.RegisterOptions) *future.Future[*ClientRegistration] {
	match, err := wamp.NormalizeMatch(opts.Match)
	if err != nil {
		return future.RejectedWith[*ClientRegistration](err)
	}
	if fn == nil || !wamp.ValidURI(procedure, match) {
		return future.RejectedWith[*ClientRegistration](fmt.Errorf("%w: register %q", wamp.ErrInvalidArgument, procedure))
	}
	f := future.New[*ClientRegistration](nil)
	s.request(wamp.MessageRegister,
		func(request wamp.ID) wamp.Message {
			return &wamp.Register{Request: request, Options: opts.ToDict(), Procedure: procedure}
		},
		func(reply wamp.Message, err error) func() {
			if err != nil {
				return func() { f.Reject(err) }
			}
			reg := &ClientRegistration{
				ID:        reply.(*wamp.Registered).Registration,
				Procedure: procedure,
				handler:   fn,
			}
			s.mu.Lock()
			s.registrations[reg.ID] = reg
			s.mu.Unlock()
			return func() { f.Resolve(reg) }
		})
	return f
}

// RegisterMethod offers the named method of obj as procedure.
func (s *Session) RegisterMethod(procedure wamp.URI, obj interface{}, method string, opts wamp.RegisterOptions) *future.Future[*ClientRegistration] {
	fn, err := MethodHandler(obj, method)
	if err != nil {
		return future.RejectedWith[*ClientRegistration](err)
	}
	return s.Register(procedure, fn, opts)
}

// Unregister withdraws reg. Invocations already running finish normally.
func (s *Session) Unregister(reg *ClientRegistration) *future.Future[struct{}] {
	s.mu.Lock()
	_, ok := s.registrations[reg.ID]
	s.mu.Unlock()
	if !ok {
		return future.RejectedWith[struct{}](fmt.Errorf("%w: id=%d", wamp.ErrNoSuchRegistration, reg.ID))
	}
	f := future.New[struct{}](nil)
	s.request(wamp.MessageUnregister,
		func(request wamp.ID) wamp.Message {
			return &wamp.Unregister{Request: request, Registration: reg.ID}
		},
		func(_ wamp.Message, err error) func() {
			if err != nil {
				return func() { f.Reject(err) }
			}
			s.mu.Lock()
			delete(s.registrations, reg.ID)
			s.mu.Unlock()
			return func() { f.Resolve(struct{}{}) }
		})
	return f
}

// Subscribe attaches fn to topic through the peer. Handlers subscribed to
// the same topic and match share one subscription.
func (s *Session) Subscribe(topic wamp.URI, fn EventHandler, opts wamp.SubscribeOptions) *future.Future[*SubscriptionHandle] {
	match, err := wamp.NormalizeMatch(opts.Match)
	if err != nil {
		return future.RejectedWith[*SubscriptionHandle](err)
	}
	if fn == nil || !wamp.ValidURI(topic, match) {
		return future.RejectedWith[*SubscriptionHandle](fmt.Errorf("%w: subscribe %q", wamp.ErrInvalidArgument, topic))
	}
	f := future.New[*SubscriptionHandle](nil)
	s.request(wamp.MessageSubscribe,
		func(request wamp.ID) wamp.Message {
			return &wamp.Subscribe{Request: request, Options: opts.ToDict(), Topic: topic}
		},
		func(reply wamp.Message, err error) func() {
			if err != nil {
				return func() { f.Reject(err) }
			}
			h := &SubscriptionHandle{
				Subscription: reply.(*wamp.Subscribed).Subscription,
				Topic:        topic,
				handler:      fn,
			}
			s.mu.Lock()
			sub, ok := s.subscriptions[h.Subscription]
			if !ok {
				sub = &clientSubscription{topic: topic}
				s.subscriptions[h.Subscription] = sub
			}
			sub.handles = append(sub.handles, h)
			s.mu.Unlock()
			return func() { f.Resolve(h) }
		})
	return f
}

// Unsubscribe detaches h. UNSUBSCRIBE goes out only when h is the last
// local handler of its subscription, and h keeps receiving events until
// the router confirms.
func (s *Session) Unsubscribe(h *SubscriptionHandle) *future.Future[struct{}] {
	s.mu.Lock()
	sub, ok := s.subscriptions[h.Subscription]
	idx := -1
	if ok {
		idx = slices.Index(sub.handles, h)
	}
	if idx < 0 {
		s.mu.Unlock()
		return future.RejectedWith[struct{}](fmt.Errorf("%w: id=%d", wamp.ErrNoSuchSubscription, h.Subscription))
	}
	if len(sub.handles) > 1 {
		sub.handles = slices.Delete(sub.handles, idx, idx+1)
		s.mu.Unlock()
		return future.ResolvedWith(struct{}{})
	}
	s.mu.Unlock()
	return s.unsubscribe(h.Subscription)
}

// UnsubscribeTopic detaches every local handler of topic.
func (s *Session) UnsubscribeTopic(topic wamp.URI) *future.Future[struct{}] {
	var ids []wamp.ID
	s.mu.Lock()
	for id, sub := range s.subscriptions {
		if sub.topic == topic {
			ids = append(ids, id)
		}
	}
	s.mu.Unlock()
	if len(ids) == 0 {
		return future.RejectedWith[struct{}](fmt.Errorf("%w: topic %s", wamp.ErrNoSuchSubscription, topic))
	}

	f := future.New[struct{}](nil)
	var (
		mu        sync.Mutex
		remaining = len(ids)
		firstErr  error
	)
	for _, id := range ids {
		s.unsubscribe(id).OnSettle(func(_ struct{}, err error) {
			mu.Lock()
			remaining--
			if err != nil && firstErr == nil {
				firstErr = err
			}
			finished, ferr := remaining == 0, firstErr
			mu.Unlock()
			if !finished {
				return
			}
			if ferr != nil {
				f.Reject(ferr)
				return
			}
			f.Resolve(struct{}{})
		})
	}
	return f
}

func (s *Session) unsubscribe(id wamp.ID) *future.Future[struct{}] {
	f := future.New[struct{}](nil)
	s.request(wamp.MessageUnsubscribe,
		func(request wamp.ID) wamp.Message {
			return &wamp.Unsubscribe{Request: request, Subscription: id}
		},
		func(_ wamp.Message, err error) func() {
			if err != nil {
				return func() { f.Reject(err) }
			}
			s.mu.Lock()
			delete(s.subscriptions, id)
			s.mu.Unlock()
			return func() { f.Resolve(struct{}{}) }
		})
	return f
}

// Publish sends an acknowledged publication and resolves with its id.
func (s *Session) Publish(topic wamp.URI, args wamp.List, kwargs wamp.Dict, opts wamp.PublishOptions) *future.Future[wamp.ID] {
	if !wamp.ValidURI(topic, wamp.MatchExact) {
		return future.RejectedWith[wamp.ID](fmt.Errorf("%w: %q", wamp.ErrInvalidURI, topic))
	}
	opts.Acknowledge = true
	f := future.New[wamp.ID](nil)
	s.request(wamp.MessagePublish,
		func(request wamp.ID) wamp.Message {
			return &wamp.Publish{Request: request, Options: opts.ToDict(), Topic: topic, Args: args, KwArgs: kwargs}
		},
		func(reply wamp.Message, err error) func() {
			if err != nil {
				return func() { f.Reject(err) }
			}
			pub := reply.(*wamp.Published).Publication
			return func() { f.Resolve(pub) }
		})
	return f
}
