package router

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/danmuck/wampd/internal/testutil/testlog"
	"github.com/danmuck/wampd/internal/wamp"
)

type recordingSink struct {
	id     wamp.ID
	mu     sync.Mutex
	events []*wamp.Event
}

func (s *recordingSink) ID() wamp.ID { return s.id }

func (s *recordingSink) Deliver(ev *wamp.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *recordingSink) received() []*wamp.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*wamp.Event(nil), s.events...)
}

func publish(t *testing.T, b *Broker, from wamp.ID, topic wamp.URI, opts wamp.PublishOptions) wamp.ID {
	t.Helper()
	pub, err := b.Publish(from, &wamp.Publish{Request: 1, Options: opts.ToDict(), Topic: topic, Args: wamp.List{"hi"}})
	if err != nil {
		t.Fatalf("publish %s: %v", topic, err)
	}
	return pub
}

func TestBrokerExcludeMeDeliversToOthers(t *testing.T) {
	testlog.Start(t)
	b := NewBroker()
	sinks := []*recordingSink{{id: 1}, {id: 2}, {id: 3}}
	for _, s := range sinks {
		_, err := b.Subscribe(s, "com.news", wamp.SubscribeOptions{})
		require.NoError(t, err)
	}

	publish(t, b, 1, "com.news", wamp.PublishOptions{})
	require.Empty(t, sinks[0].received())
	require.Len(t, sinks[1].received(), 1)
	require.Len(t, sinks[2].received(), 1)

	publish(t, b, 1, "com.news", wamp.PublishOptions{ExcludeMe: wamp.Bool(false)})
	require.Len(t, sinks[0].received(), 1)
}

func TestBrokerExcludeAndEligible(t *testing.T) {
	testlog.Start(t)
	b := NewBroker()
	sinks := []*recordingSink{{id: 1}, {id: 2}, {id: 3}}
	for _, s := range sinks {
		_, err := b.Subscribe(s, "com.news", wamp.SubscribeOptions{})
		require.NoError(t, err)
	}

	publish(t, b, 9, "com.news", wamp.PublishOptions{Eligible: []wamp.ID{2}})
	publish(t, b, 9, "com.news", wamp.PublishOptions{Exclude: []wamp.ID{1, 2}})
	publish(t, b, 9, "com.news", wamp.PublishOptions{Eligible: []wamp.ID{}})

	require.Empty(t, sinks[0].received())
	require.Len(t, sinks[1].received(), 1)
	require.Len(t, sinks[2].received(), 1)
}

func TestBrokerEventShape(t *testing.T) {
	testlog.Start(t)
	b := NewBroker()
	exact := &recordingSink{id: 1}
	prefix := &recordingSink{id: 2}
	subExact, err := b.Subscribe(exact, "com.app.tick", wamp.SubscribeOptions{})
	require.NoError(t, err)
	subPrefix, err := b.Subscribe(prefix, "com.app.", wamp.SubscribeOptions{Match: wamp.MatchPrefix})
	require.NoError(t, err)

	pub := publish(t, b, 77, "com.app.tick", wamp.PublishOptions{DiscloseMe: true})

	evs := exact.received()
	require.Len(t, evs, 1)
	require.Equal(t, subExact.ID, evs[0].Subscription)
	require.Equal(t, pub, evs[0].Publication)
	require.Equal(t, "com.app.tick", evs[0].Details[wamp.DetailTopic])
	require.Equal(t, uint64(77), evs[0].Details[wamp.DetailPublisher])
	require.Equal(t, wamp.List{"hi"}, evs[0].Args)

	evs = prefix.received()
	require.Len(t, evs, 1)
	require.Equal(t, subPrefix.ID, evs[0].Subscription)

	publish(t, b, 77, "com.app", wamp.PublishOptions{})
	require.Len(t, prefix.received(), 1, "com.app. does not prefix com.app")
}

func TestBrokerPublishWithoutSubscribersStillGetsID(t *testing.T) {
	testlog.Start(t)
	b := NewBroker()
	a := publish(t, b, 1, "com.empty", wamp.PublishOptions{})
	c := publish(t, b, 1, "com.empty", wamp.PublishOptions{})
	if a == 0 || c == 0 || a == c {
		t.Fatalf("expected distinct non-zero publication ids, got=%d,%d", a, c)
	}
}

func TestBrokerSubscribeIsIdempotentPerSink(t *testing.T) {
	testlog.Start(t)
	b := NewBroker()
	s1, s2 := &recordingSink{id: 1}, &recordingSink{id: 2}

	first, err := b.Subscribe(s1, "com.t", wamp.SubscribeOptions{})
	require.NoError(t, err)
	again, err := b.Subscribe(s1, "com.t", wamp.SubscribeOptions{})
	require.NoError(t, err)
	shared, err := b.Subscribe(s2, "com.t", wamp.SubscribeOptions{})
	require.NoError(t, err)
	require.Equal(t, first.ID, again.ID)
	require.Equal(t, first.ID, shared.ID)
	require.Equal(t, 2, b.Subscribers(first.ID))

	require.ErrorIs(t, b.Unsubscribe(3, first.ID), wamp.ErrNoSuchSubscription)
	require.NoError(t, b.Unsubscribe(1, first.ID))
	require.ErrorIs(t, b.Unsubscribe(1, first.ID), wamp.ErrNoSuchSubscription)
	require.NoError(t, b.Unsubscribe(2, first.ID))
	require.Empty(t, b.Subscriptions())
}

func TestBrokerRemoveSession(t *testing.T) {
	testlog.Start(t)
	b := NewBroker()
	s1, s2 := &recordingSink{id: 1}, &recordingSink{id: 2}
	_, err := b.Subscribe(s1, "com.a", wamp.SubscribeOptions{})
	require.NoError(t, err)
	_, err = b.Subscribe(s1, "com.", wamp.SubscribeOptions{Match: wamp.MatchPrefix})
	require.NoError(t, err)
	shared, err := b.Subscribe(s2, "com.a", wamp.SubscribeOptions{})
	require.NoError(t, err)

	b.RemoveSession(1)
	subs := b.Subscriptions()
	require.Len(t, subs, 1)
	require.Equal(t, shared.ID, subs[0].ID)
	require.Equal(t, 1, b.Subscribers(shared.ID))
}

func TestBrokerTopicPermissions(t *testing.T) {
	testlog.Start(t)
	b := NewBroker()
	sink := &recordingSink{id: 1}

	// Open until something is declared.
	_, err := b.Subscribe(sink, "com.any", wamp.SubscribeOptions{})
	require.NoError(t, err)

	require.NoError(t, b.Register("com.feed.", TopicOptions{Prefix: true, Subscribe: true}))
	require.NoError(t, b.Register("com.feed.", TopicOptions{Prefix: true, Publish: true}))
	require.NoError(t, b.Register("com.feed.private", TopicOptions{Subscribe: true}))

	_, err = b.Subscribe(sink, "com.feed.public", wamp.SubscribeOptions{})
	require.NoError(t, err)
	_, err = b.Publish(2, &wamp.Publish{Request: 1, Topic: "com.feed.public"})
	require.NoError(t, err)

	_, err = b.Publish(2, &wamp.Publish{Request: 2, Topic: "com.feed.private"})
	require.ErrorIs(t, err, wamp.ErrNotAuthorized)
	_, err = b.Subscribe(sink, "com.other", wamp.SubscribeOptions{})
	require.ErrorIs(t, err, wamp.ErrNotAuthorized)

	require.NoError(t, b.Unregister("com.feed.private"))
	require.ErrorIs(t, b.Unregister("com.feed.private"), wamp.ErrNoSuchSubscription)
	_, err = b.Publish(2, &wamp.Publish{Request: 3, Topic: "com.feed.private"})
	require.NoError(t, err)
}

func TestBrokerLocalSinkAndPublishLocal(t *testing.T) {
	testlog.Start(t)
	b := NewBroker()
	got := make(chan *wamp.Event, 1)
	sink := NewLocalSink(func(ev *wamp.Event) { got <- ev })
	_, err := b.Subscribe(sink, "com.local", wamp.SubscribeOptions{})
	require.NoError(t, err)

	_, err = b.PublishLocal("com.local", wamp.List{1}, wamp.Dict{"k": "v"}, wamp.PublishOptions{})
	require.NoError(t, err)
	ev := <-got
	require.Equal(t, wamp.Dict{"k": "v"}, ev.KwArgs)

	if _, err := b.PublishLocal("bad topic", nil, nil, wamp.PublishOptions{}); !errors.Is(err, wamp.ErrInvalidURI) {
		t.Fatalf("expected ErrInvalidURI, got=%v", err)
	}
}
