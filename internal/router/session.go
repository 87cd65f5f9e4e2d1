package router

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/danmuck/wampd/internal/future"
	"github.com/danmuck/wampd/internal/logging"
	"github.com/danmuck/wampd/internal/observability"
	"github.com/danmuck/wampd/internal/transport"
	"github.com/danmuck/wampd/internal/wamp"
)

// Config tunes a Session.
type Config struct {
	// CallTimeout applies to outbound calls that set no timeout. Zero waits
	// forever.
	CallTimeout time.Duration
	// RequestTimeout bounds REGISTER, SUBSCRIBE, PUBLISH and their inverses.
	RequestTimeout time.Duration
	// Realm, when set, is the only realm a HELLO may name. Others are
	// aborted with no_such_realm.
	Realm wamp.URI
	// OnJoin and OnLeave observe the router side of the session lifecycle.
	OnJoin  func(*Session)
	OnLeave func(*Session)
}

// DefaultConfig waits forever on calls and gives other requests 30s.
func DefaultConfig() Config {
	return Config{
		CallTimeout:    0,
		RequestTimeout: 30 * time.Second,
	}
}

// Welcome is the outcome of Join.
type Welcome struct {
	Session wamp.ID
	Details wamp.Dict
}

// ClientRegistration is a procedure this session offers through its peer.
type ClientRegistration struct {
	ID        wamp.ID
	Procedure wamp.URI

	handler HandlerFunc
}

// SubscriptionHandle is one local handler of a subscription held through
// the peer. Several handles may share a subscription id.
type SubscriptionHandle struct {
	Subscription wamp.ID
	Topic        wamp.URI

	handler EventHandler
}

type clientSubscription struct {
	topic   wamp.URI
	handles []*SubscriptionHandle
}

type pendingCall struct {
	future *future.Future[any]
	timer  *time.Timer
}

type pendingRequest struct {
	kind  wamp.MessageType
	timer *time.Timer
	// done consumes the reply or failure and returns the settle to run once
	// dispatch has released the session.
	done func(reply wamp.Message, err error) func()
}

// Session binds one message channel to a dealer and a broker, and offers
// the Caller, Callee, Publisher and Subscriber capabilities over it.
//
// Inbound messages are handled one at a time in arrival order. User
// callbacks run after the session has finished handling the message that
// triggered them, so they may call back into the session freely, but an
// event handler that blocks on a future of the same session stalls intake.
type Session struct {
	id   wamp.ID
	ser  wamp.Serializer
	cfg  Config
	logs zerolog.Logger

	// procMu serializes inbound dispatch against teardown.
	procMu sync.Mutex
	// ackMu keeps INVOCATION and EVENT behind the REGISTERED or SUBSCRIBED
	// that announced their registration or subscription.
	ackMu sync.Mutex

	mu      sync.Mutex
	ch      transport.Channel
	opened  bool
	closed  bool
	hello   bool
	realm   wamp.URI
	peerID  wamp.ID
	dealer  DealerRole
	broker  BrokerRole
	reqs    wamp.IDGen
	welcome *future.Future[*Welcome]
	goodbye *future.Future[struct{}]

	calls          map[wamp.ID]*pendingCall
	requests       map[wamp.ID]*pendingRequest
	registrations  map[wamp.ID]*ClientRegistration
	subscriptions  map[wamp.ID]*clientSubscription
	invocationsIn  map[wamp.ID]context.CancelFunc
	invocationsOut map[wamp.ID]ReplyFunc

	done chan struct{}
}

// NewSession returns a session speaking ser. It starts working once a
// channel opens it through OnOpen.
func NewSession(ser wamp.Serializer, cfg Config) *Session {
	id := wamp.GlobalID()
	return &Session{
		id:             id,
		ser:            ser,
		cfg:            cfg,
		logs:           logging.Component("session").With().Uint64("session", uint64(id)).Logger(),
		calls:          make(map[wamp.ID]*pendingCall),
		requests:       make(map[wamp.ID]*pendingRequest),
		registrations:  make(map[wamp.ID]*ClientRegistration),
		subscriptions:  make(map[wamp.ID]*clientSubscription),
		invocationsIn:  make(map[wamp.ID]context.CancelFunc),
		invocationsOut: make(map[wamp.ID]ReplyFunc),
		done:           make(chan struct{}),
	}
}

// ID is the router-assigned session id, also used as this session's
// EventSink id.
func (s *Session) ID() wamp.ID {
	return s.id
}

// PeerID is the session id the peer announced in WELCOME, zero before.
func (s *Session) PeerID() wamp.ID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peerID
}

// Realm is the realm named in HELLO, empty until one arrived or was sent.
func (s *Session) Realm() wamp.URI {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.realm
}

// SetDealer installs the dealer inbound calls are routed to. nil refuses
// CALL and REGISTER with role_not_supported.
func (s *Session) SetDealer(d DealerRole) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dealer = d
}

// SetBroker installs the broker inbound publications are routed to. nil
// refuses PUBLISH and SUBSCRIBE with role_not_supported.
func (s *Session) SetBroker(b BrokerRole) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.broker = b
}

// Done is closed once the session has torn down.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// IsOpen reports whether the session is attached to a live channel.
func (s *Session) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opened && !s.closed
}

// Close drains pending sends and closes the channel.
func (s *Session) Close() error {
	s.mu.Lock()
	ch := s.ch
	s.mu.Unlock()
	if ch == nil {
		return wamp.ErrChannelClosed
	}
	return ch.Close()
}

// Abort tears the session down and closes the channel immediately. Every
// pending operation is rejected before Abort returns, and inbound messages
// that were already read are dropped.
func (s *Session) Abort() error {
	s.mu.Lock()
	ch := s.ch
	s.mu.Unlock()
	if ch == nil {
		return wamp.ErrChannelClosed
	}
	s.procMu.Lock()
	post := s.teardown("abort")
	s.procMu.Unlock()
	for _, fn := range post {
		fn()
	}
	return ch.Abort()
}

// OnOpen implements transport.Handler.
func (s *Session) OnOpen(ch transport.Channel) {
	s.mu.Lock()
	s.ch = ch
	s.opened = true
	s.mu.Unlock()
	observability.AddSessions(1)
	s.logs.Debug().Msg("router.Session open")
}

// OnMessage implements transport.Handler.
func (s *Session) OnMessage(b []byte) {
	msg, err := wamp.Unserialize(b, s.ser)

	s.procMu.Lock()
	if s.isClosed() {
		s.procMu.Unlock()
		return
	}
	var post []func()
	if err == nil {
		observability.RecordMessage(observability.Inbound, msg.MessageType().String())
		if e := s.logs.Trace(); e.Enabled() {
			e.Str("msg", fmt.Sprint(msg)).Msg("router.Session recv")
		}
		post, err = s.dispatch(msg)
	}
	if err != nil {
		post = append(post, s.violate(err)...)
	}
	s.procMu.Unlock()

	for _, fn := range post {
		fn()
	}
}

// OnClose implements transport.Handler.
func (s *Session) OnClose() {
	s.procMu.Lock()
	post := s.teardown("channel closed")
	s.procMu.Unlock()
	for _, fn := range post {
		fn()
	}
}

// violate answers a protocol or serialization error with ABORT and closes
// the channel. Called with procMu held.
func (s *Session) violate(err error) []func() {
	s.logs.Warn().Err(err).Msg("router.Session protocol violation")
	return s.abortWith(wamp.ErrURIProtocolViolation, err.Error(), "protocol violation")
}

// abortWith sends ABORT, tears down and closes the channel. Called with
// procMu held.
func (s *Session) abortWith(reason wamp.URI, message, why string) []func() {
	_ = s.send(&wamp.Abort{
		Details: wamp.Dict{wamp.DetailMessage: message},
		Reason:  reason,
	})
	post := s.teardown(why)
	s.mu.Lock()
	ch := s.ch
	s.mu.Unlock()
	if ch != nil {
		_ = ch.Close()
	}
	return post
}

// teardown marks the session closed and hands back the work that fails
// every pending operation and releases router state. Called with procMu
// held; it runs once.
func (s *Session) teardown(reason string) []func() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	opened, hello := s.opened, s.hello
	dealer, broker := s.dealer, s.broker
	calls, requests := s.calls, s.requests
	invocationsIn := s.invocationsIn
	welcome, goodbye := s.welcome, s.goodbye
	s.calls = make(map[wamp.ID]*pendingCall)
	s.requests = make(map[wamp.ID]*pendingRequest)
	s.registrations = make(map[wamp.ID]*ClientRegistration)
	s.subscriptions = make(map[wamp.ID]*clientSubscription)
	s.invocationsIn = make(map[wamp.ID]context.CancelFunc)
	s.invocationsOut = make(map[wamp.ID]ReplyFunc)
	s.welcome, s.goodbye = nil, nil
	s.mu.Unlock()

	for _, cancel := range invocationsIn {
		cancel()
	}
	s.logs.Debug().
		Str("reason", reason).
		Int("calls", len(calls)).
		Int("requests", len(requests)).
		Msg("router.Session teardown")

	var post []func()
	for _, pc := range calls {
		if pc.timer != nil {
			pc.timer.Stop()
		}
		f := pc.future
		post = append(post, func() { f.Reject(wamp.ErrChannelClosed) })
	}
	for _, pr := range requests {
		if pr.timer != nil {
			pr.timer.Stop()
		}
		post = append(post, pr.done(nil, wamp.ErrChannelClosed))
	}
	if welcome != nil {
		post = append(post, func() { welcome.Reject(wamp.ErrChannelClosed) })
	}
	if goodbye != nil {
		post = append(post, func() { goodbye.Resolve(struct{}{}) })
	}
	post = append(post, func() {
		if dealer != nil {
			dealer.RemoveSession(s.id)
		}
		if broker != nil {
			broker.RemoveSession(s.id)
		}
		if opened {
			observability.AddSessions(-1)
		}
		if hello && s.cfg.OnLeave != nil {
			s.cfg.OnLeave(s)
		}
		close(s.done)
	})
	return post
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// send serializes msg onto the channel.
func (s *Session) send(msg wamp.Message) error {
	s.mu.Lock()
	ch, closed := s.ch, s.closed
	s.mu.Unlock()
	if ch == nil || closed {
		return wamp.ErrChannelClosed
	}
	b, err := wamp.Serialize(msg, s.ser)
	if err != nil {
		s.logs.Error().Err(err).Stringer("type", msg.MessageType()).Msg("router.Session serialize")
		return err
	}
	if err := ch.Send(b); err != nil {
		return err
	}
	observability.RecordMessage(observability.Outbound, msg.MessageType().String())
	return nil
}

// sendError answers request of requestType with an ERROR for err.
func (s *Session) sendError(requestType wamp.MessageType, request wamp.ID, err error) {
	if sendErr := s.send(wamp.NewErrorMessage(requestType, request, err)); sendErr != nil &&
		!errors.Is(sendErr, wamp.ErrChannelClosed) {
		s.logs.Warn().Err(sendErr).Msg("router.Session send error")
	}
}

// sendOrdered sends msg behind any acknowledgement still being queued.
func (s *Session) sendOrdered(msg wamp.Message) error {
	s.ackMu.Lock()
	defer s.ackMu.Unlock()
	return s.send(msg)
}

// Deliver implements EventSink for the router side of the session.
func (s *Session) Deliver(ev *wamp.Event) {
	_ = s.sendOrdered(ev)
}
