package server

import (
	"context"

	"github.com/danmuck/wampd/internal/router"
	"github.com/danmuck/wampd/internal/wamp"
)

const (
	ProcSessionCount wamp.URI = "wamp.session.count"
	ProcSessionList  wamp.URI = "wamp.session.list"
	ProcSessionGet   wamp.URI = "wamp.session.get"

	TopicSessionOnJoin  wamp.URI = "wamp.session.on_join"
	TopicSessionOnLeave wamp.URI = "wamp.session.on_leave"

	ErrURINoSuchSession wamp.URI = "wamp.error.no_such_session"

	metaPrefix wamp.URI = "wamp.session."
)

func (s *Service) registerMeta() error {
	// Declared topics close the broker; keep the lifecycle events reachable.
	if len(s.cfg.Topics) > 0 {
		err := s.broker.Register(metaPrefix, router.TopicOptions{Prefix: true, Publish: true, Subscribe: true})
		if err != nil {
			return err
		}
	}
	procs := []struct {
		uri wamp.URI
		fn  router.HandlerFunc
	}{
		{ProcSessionCount, s.metaCount},
		{ProcSessionList, s.metaList},
		{ProcSessionGet, s.metaGet},
	}
	for _, p := range procs {
		if _, err := s.dealer.RegisterFunc(p.uri, p.fn, wamp.RegisterOptions{}); err != nil {
			return err
		}
	}
	return nil
}

// joinedSessions lists sessions that completed HELLO.
func (s *Service) joinedSessions() []SessionInfo {
	all := s.Sessions()
	out := all[:0]
	for _, info := range all {
		if info.Realm != "" {
			out = append(out, info)
		}
	}
	return out
}

func (s *Service) metaCount(context.Context, *router.Invocation) (*router.Result, error) {
	return &router.Result{Args: wamp.List{int64(len(s.joinedSessions()))}}, nil
}

func (s *Service) metaList(context.Context, *router.Invocation) (*router.Result, error) {
	sessions := s.joinedSessions()
	ids := make(wamp.List, 0, len(sessions))
	for _, info := range sessions {
		ids = append(ids, uint64(info.ID))
	}
	return &router.Result{Args: wamp.List{ids}}, nil
}

func (s *Service) metaGet(_ context.Context, inv *router.Invocation) (*router.Result, error) {
	if len(inv.Args) != 1 {
		return nil, wamp.NewApplicationError(wamp.ErrURIInvalidArgument, "expected one session id")
	}
	id, ok := wamp.AsID(inv.Args[0])
	if !ok {
		return nil, wamp.NewApplicationError(wamp.ErrURIInvalidArgument, "session id must be an integer")
	}
	for _, info := range s.joinedSessions() {
		if info.ID == id {
			return &router.Result{Args: wamp.List{sessionDict(info)}}, nil
		}
	}
	return nil, wamp.NewApplicationError(ErrURINoSuchSession, uint64(id))
}

func sessionDict(info SessionInfo) wamp.Dict {
	d := wamp.Dict{
		"session":   uint64(info.ID),
		"realm":     string(info.Realm),
		"transport": info.Transport,
	}
	if info.Remote != "" {
		d["remote"] = info.Remote
	}
	return d
}

func (s *Service) publishMeta(topic wamp.URI, args wamp.List) {
	if _, err := s.broker.PublishLocal(topic, args, nil, wamp.PublishOptions{}); err != nil {
		s.logs.Warn().Err(err).Str("topic", string(topic)).Msg("server.Service meta publish")
	}
}
