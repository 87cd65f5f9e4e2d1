package router

import (
	"context"

	"github.com/danmuck/wampd/internal/future"
	"github.com/danmuck/wampd/internal/wamp"
)

// Invocation is what a procedure endpoint receives for one call.
type Invocation struct {
	Registration wamp.ID
	Procedure    wamp.URI
	Args         wamp.List
	KwArgs       wamp.Dict
	Details      wamp.Dict
	// Caller is the calling session id when the caller disclosed itself.
	Caller wamp.ID
}

// Result is a procedure outcome. A nil *Result yields an empty RESULT.
type Result struct {
	Args   wamp.List
	KwArgs wamp.Dict
}

// ReplyFunc receives the outcome of an invocation exactly once.
type ReplyFunc func(*Result, error)

// HandlerFunc is a local procedure. ctx ends when the call is canceled,
// times out or its caller goes away.
type HandlerFunc func(ctx context.Context, inv *Invocation) (*Result, error)

// Endpoint executes invocations of one registration.
type Endpoint interface {
	Invoke(ctx context.Context, inv *Invocation, reply ReplyFunc)
}

// asyncEndpoint marks endpoints that return from Invoke without doing the
// work themselves; the dealer calls them inline instead of on its pool.
type asyncEndpoint interface {
	Endpoint
	async()
}

// EventSink receives events for the subscriptions it holds.
type EventSink interface {
	// ID is the session id used by exclude and eligible lists.
	ID() wamp.ID
	Deliver(ev *wamp.Event)
}

// DealerRole is the dealer surface a Session routes CALL and REGISTER to.
type DealerRole interface {
	RegisterEndpoint(owner wamp.ID, procedure wamp.URI, ep Endpoint, opts wamp.RegisterOptions) (*Registration, error)
	UnregisterID(owner, id wamp.ID) error
	Call(caller wamp.ID, msg *wamp.Call, reply ReplyFunc) error
	Cancel(caller, request wamp.ID) bool
	RemoveSession(id wamp.ID)
}

// BrokerRole is the broker surface a Session routes PUBLISH and SUBSCRIBE to.
type BrokerRole interface {
	Subscribe(sink EventSink, topic wamp.URI, opts wamp.SubscribeOptions) (*Subscription, error)
	Unsubscribe(sinkID, subscription wamp.ID) error
	Publish(publisher wamp.ID, msg *wamp.Publish) (wamp.ID, error)
	RemoveSession(id wamp.ID)
}

// CallResult is the value of a call that returned anything other than a
// single positional value.
type CallResult struct {
	Args   wamp.List
	KwArgs wamp.Dict
}

// EventHandler receives events on the client side of a subscription.
type EventHandler func(ev *wamp.Event)

// Caller issues calls.
type Caller interface {
	Call(procedure wamp.URI, args wamp.List, kwargs wamp.Dict, opts wamp.CallOptions) *future.Future[any]
}

// Callee offers procedures.
type Callee interface {
	Register(procedure wamp.URI, fn HandlerFunc, opts wamp.RegisterOptions) *future.Future[*ClientRegistration]
	Unregister(reg *ClientRegistration) *future.Future[struct{}]
}

// Publisher publishes events.
type Publisher interface {
	Publish(topic wamp.URI, args wamp.List, kwargs wamp.Dict, opts wamp.PublishOptions) *future.Future[wamp.ID]
}

// Subscriber receives events.
type Subscriber interface {
	Subscribe(topic wamp.URI, fn EventHandler, opts wamp.SubscribeOptions) *future.Future[*SubscriptionHandle]
	Unsubscribe(h *SubscriptionHandle) *future.Future[struct{}]
	UnsubscribeTopic(topic wamp.URI) *future.Future[struct{}]
}

var (
	_ DealerRole = (*Dealer)(nil)
	_ BrokerRole = (*Broker)(nil)
	_ EventSink  = (*LocalSink)(nil)
	_ EventSink  = (*Session)(nil)
	_ Caller     = (*Session)(nil)
	_ Callee     = (*Session)(nil)
	_ Publisher  = (*Session)(nil)
	_ Subscriber = (*Session)(nil)
)
