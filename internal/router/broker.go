package router

import (
	"fmt"
	"slices"
	"sync"

	"github.com/rs/zerolog"

	"github.com/danmuck/wampd/internal/logging"
	"github.com/danmuck/wampd/internal/observability"
	"github.com/danmuck/wampd/internal/wamp"
)

// TopicOptions declares what a topic permits. Flags of repeated
// declarations for the same topic are OR-ed together.
type TopicOptions struct {
	// Prefix makes the declaration cover every topic starting with it.
	Prefix    bool
	Publish   bool
	Subscribe bool
}

// Subscription is one (topic, match) pair and the sinks receiving it.
type Subscription struct {
	ID    wamp.ID
	Topic wamp.URI
	Match string

	sinks map[wamp.ID]EventSink
}

// Broker matches publications to subscriptions. It is safe for concurrent
// use by many sessions.
type Broker struct {
	mu     sync.RWMutex
	ids    wamp.IDGen
	exact  map[wamp.URI]*Subscription
	prefix *prefixTable
	byID   map[wamp.ID]*Subscription

	topics        map[wamp.URI]*TopicOptions
	topicPrefixes *prefixTable

	logs zerolog.Logger
}

func NewBroker() *Broker {
	return &Broker{
		exact:         make(map[wamp.URI]*Subscription),
		prefix:        newPrefixTable(),
		byID:          make(map[wamp.ID]*Subscription),
		topics:        make(map[wamp.URI]*TopicOptions),
		topicPrefixes: newPrefixTable(),
		logs:          logging.Component("broker"),
	}
}

// Register declares topic permissions. Once any topic is declared, only
// covered topics may be published or subscribed to.
func (b *Broker) Register(topic wamp.URI, opts TopicOptions) error {
	match := wamp.MatchExact
	if opts.Prefix {
		match = wamp.MatchPrefix
	}
	if !wamp.ValidURI(topic, match) {
		return fmt.Errorf("%w: %q", wamp.ErrInvalidURI, topic)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	cur := b.declarationLocked(topic, opts.Prefix)
	if cur == nil {
		cur = &TopicOptions{Prefix: opts.Prefix}
		if opts.Prefix {
			b.topicPrefixes.put(string(topic), cur)
		} else {
			b.topics[topic] = cur
		}
	}
	cur.Publish = cur.Publish || opts.Publish
	cur.Subscribe = cur.Subscribe || opts.Subscribe
	return nil
}

// Unregister removes every declaration made for topic.
func (b *Broker) Unregister(topic wamp.URI) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, exact := b.topics[topic]
	_, prefix := b.topicPrefixes.get(string(topic))
	if !exact && !prefix {
		return fmt.Errorf("%w: topic %s not declared", wamp.ErrNoSuchSubscription, topic)
	}
	delete(b.topics, topic)
	b.topicPrefixes.remove(string(topic))
	return nil
}

// Subscribe adds sink to the (topic, match) subscription, creating it on
// first use. Subscribing the same sink twice returns the same subscription.
func (b *Broker) Subscribe(sink EventSink, topic wamp.URI, opts wamp.SubscribeOptions) (*Subscription, error) {
	match, err := wamp.NormalizeMatch(opts.Match)
	if err != nil {
		return nil, err
	}
	if !wamp.ValidURI(topic, match) {
		return nil, fmt.Errorf("%w: %q", wamp.ErrInvalidURI, topic)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.authorizeLocked(topic, false); err != nil {
		return nil, err
	}
	sub := b.lookupLocked(topic, match)
	if sub == nil {
		sub = &Subscription{
			ID:    b.nextIDLocked(),
			Topic: topic,
			Match: match,
			sinks: make(map[wamp.ID]EventSink),
		}
		if match == wamp.MatchPrefix {
			b.prefix.put(string(topic), sub)
		} else {
			b.exact[topic] = sub
		}
		b.byID[sub.ID] = sub
		observability.AddSubscriptions(1)
	}
	sub.sinks[sink.ID()] = sink
	b.logs.Debug().
		Uint64("subscription", uint64(sub.ID)).
		Str("topic", string(topic)).
		Str("match", match).
		Uint64("sink", uint64(sink.ID())).
		Msg("router.Broker subscribe")
	return sub, nil
}

// Unsubscribe removes sinkID from subscription. The subscription goes away
// with its last sink.
func (b *Broker) Unsubscribe(sinkID, subscription wamp.ID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub, ok := b.byID[subscription]
	if !ok {
		return fmt.Errorf("%w: id=%d", wamp.ErrNoSuchSubscription, subscription)
	}
	if _, ok := sub.sinks[sinkID]; !ok {
		return fmt.Errorf("%w: id=%d sink=%d", wamp.ErrNoSuchSubscription, subscription, sinkID)
	}
	b.dropSinkLocked(sub, sinkID)
	return nil
}

// Publish delivers msg to every matching subscription and returns the
// publication id. An accepted publication always gets an id, even when
// nothing receives it.
func (b *Broker) Publish(publisher wamp.ID, msg *wamp.Publish) (wamp.ID, error) {
	opts, err := wamp.PublishOptionsFromDict(msg.Options)
	if err != nil {
		return 0, err
	}
	if !wamp.ValidURI(msg.Topic, wamp.MatchExact) {
		return 0, fmt.Errorf("%w: %q", wamp.ErrInvalidURI, msg.Topic)
	}

	type target struct {
		sub   wamp.ID
		sinks []EventSink
	}
	b.mu.RLock()
	if err := b.authorizeLocked(msg.Topic, true); err != nil {
		b.mu.RUnlock()
		return 0, err
	}
	var subs []*Subscription
	if sub, ok := b.exact[msg.Topic]; ok {
		subs = append(subs, sub)
	}
	for _, v := range b.prefix.all(string(msg.Topic)) {
		subs = append(subs, v.(*Subscription))
	}
	targets := make([]target, 0, len(subs))
	for _, sub := range subs {
		t := target{sub: sub.ID}
		for id, sink := range sub.sinks {
			if receives(id, publisher, opts) {
				t.sinks = append(t.sinks, sink)
			}
		}
		if len(t.sinks) > 0 {
			targets = append(targets, t)
		}
	}
	b.mu.RUnlock()

	pub := wamp.GlobalID()
	delivered := 0
	for _, t := range targets {
		for _, sink := range t.sinks {
			details := wamp.Dict{wamp.DetailTopic: string(msg.Topic)}
			if opts.DiscloseMe {
				details[wamp.DetailPublisher] = uint64(publisher)
			}
			sink.Deliver(&wamp.Event{
				Subscription: t.sub,
				Publication:  pub,
				Details:      details,
				Args:         msg.Args,
				KwArgs:       msg.KwArgs,
			})
			delivered++
		}
	}
	observability.RecordPublication(delivered)
	b.logs.Debug().
		Str("topic", string(msg.Topic)).
		Uint64("publication", uint64(pub)).
		Int("delivered", delivered).
		Msg("router.Broker publish")
	return pub, nil
}

// PublishLocal publishes on behalf of embedded code with no session.
func (b *Broker) PublishLocal(topic wamp.URI, args wamp.List, kwargs wamp.Dict, opts wamp.PublishOptions) (wamp.ID, error) {
	return b.Publish(0, &wamp.Publish{
		Options: opts.ToDict(),
		Topic:   topic,
		Args:    args,
		KwArgs:  kwargs,
	})
}

// RemoveSession drops id from every subscription.
func (b *Broker) RemoveSession(id wamp.ID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.byID {
		if _, ok := sub.sinks[id]; ok {
			b.dropSinkLocked(sub, id)
		}
	}
}

// Subscriptions returns a snapshot of the live subscriptions.
func (b *Broker) Subscriptions() []*Subscription {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*Subscription, 0, len(b.byID))
	for _, sub := range b.byID {
		out = append(out, sub)
	}
	return out
}

// Subscribers reports how many sinks hold subscription id.
func (b *Broker) Subscribers(id wamp.ID) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if sub, ok := b.byID[id]; ok {
		return len(sub.sinks)
	}
	return 0
}

func receives(sink, publisher wamp.ID, opts wamp.PublishOptions) bool {
	if sink == publisher && publisher != 0 && opts.ExcludesPublisher() {
		return false
	}
	if slices.Contains(opts.Exclude, sink) {
		return false
	}
	if opts.Eligible != nil && !slices.Contains(opts.Eligible, sink) {
		return false
	}
	return true
}

// authorizeLocked checks topic against the declarations, exact first and
// then the longest covering prefix. No declarations means open.
func (b *Broker) authorizeLocked(topic wamp.URI, publish bool) error {
	if len(b.topics) == 0 && b.topicPrefixes.size() == 0 {
		return nil
	}
	decl := b.topics[topic]
	if decl == nil {
		if v, ok := b.topicPrefixes.longest(string(topic)); ok {
			decl = v.(*TopicOptions)
		}
	}
	switch {
	case decl == nil:
		return fmt.Errorf("%w: topic %s not declared", wamp.ErrNotAuthorized, topic)
	case publish && !decl.Publish:
		return fmt.Errorf("%w: publish to %s", wamp.ErrNotAuthorized, topic)
	case !publish && !decl.Subscribe:
		return fmt.Errorf("%w: subscribe to %s", wamp.ErrNotAuthorized, topic)
	}
	return nil
}

func (b *Broker) declarationLocked(topic wamp.URI, prefix bool) *TopicOptions {
	if prefix {
		if v, ok := b.topicPrefixes.get(string(topic)); ok {
			return v.(*TopicOptions)
		}
		return nil
	}
	return b.topics[topic]
}

func (b *Broker) lookupLocked(topic wamp.URI, match string) *Subscription {
	if match == wamp.MatchPrefix {
		if v, ok := b.prefix.get(string(topic)); ok {
			return v.(*Subscription)
		}
		return nil
	}
	return b.exact[topic]
}

func (b *Broker) dropSinkLocked(sub *Subscription, sinkID wamp.ID) {
	delete(sub.sinks, sinkID)
	if len(sub.sinks) > 0 {
		return
	}
	if sub.Match == wamp.MatchPrefix {
		b.prefix.remove(string(sub.Topic))
	} else {
		delete(b.exact, sub.Topic)
	}
	delete(b.byID, sub.ID)
	observability.AddSubscriptions(-1)
}

func (b *Broker) nextIDLocked() wamp.ID {
	for {
		id := b.ids.Next()
		if _, taken := b.byID[id]; !taken {
			return id
		}
	}
}

// LocalSink delivers events to a function. Its id is drawn from the global
// scope so it never collides with a session id in exclude lists.
type LocalSink struct {
	id wamp.ID
	fn EventHandler
}

func NewLocalSink(fn EventHandler) *LocalSink {
	return &LocalSink{id: wamp.GlobalID(), fn: fn}
}

func (s *LocalSink) ID() wamp.ID { return s.id }

func (s *LocalSink) Deliver(ev *wamp.Event) { s.fn(ev) }
