package wamp

import (
	"errors"
	"strings"
	"testing"

	"github.com/danmuck/wampd/internal/testutil/testlog"
)

// sampleMessages has one populated value per message kind.
func sampleMessages() []Message {
	return []Message{
		&Hello{Realm: "realm1", Details: Dict{"roles": map[string]interface{}{"caller": map[string]interface{}{}}}},
		&Welcome{Session: 9129137332, Details: Dict{"roles": map[string]interface{}{"broker": map[string]interface{}{}}}},
		&Abort{Details: Dict{"message": "bye"}, Reason: ErrURIProtocolViolation},
		&Goodbye{Details: Dict{}, Reason: CloseNormal},
		&Error{RequestType: MessageCall, Request: 7, Details: Dict{}, Error: ErrURINoSuchProcedure, Args: List{"nope"}},
		&Publish{Request: 1, Options: Dict{"acknowledge": true}, Topic: "com.app.topic", Args: List{"hello", int64(3)}, KwArgs: Dict{"k": "v"}},
		&Published{Request: 1, Publication: 44},
		&Subscribe{Request: 2, Options: Dict{"match": "prefix"}, Topic: "com.app."},
		&Subscribed{Request: 2, Subscription: 5},
		&Unsubscribe{Request: 3, Subscription: 5},
		&Unsubscribed{Request: 3},
		&Event{Subscription: 5, Publication: 44, Details: Dict{"topic": "com.app.topic"}, Args: List{1.5}},
		&Call{Request: 8, Options: Dict{}, Procedure: "com.app.add", Args: List{int64(2), int64(3)}},
		&Cancel{Request: 8, Options: Dict{"mode": "kill"}},
		&Result{Request: 8, Details: Dict{}, Args: List{int64(5)}},
		&Register{Request: 9, Options: Dict{}, Procedure: "com.app.add"},
		&Registered{Request: 9, Registration: 12},
		&Unregister{Request: 10, Registration: 12},
		&Unregistered{Request: 10},
		&Invocation{Request: 11, Registration: 12, Details: Dict{}, KwArgs: Dict{"a": int64(1)}},
		&Interrupt{Request: 11, Options: Dict{}},
		&Yield{Request: 11, Options: Dict{}, Args: List{"done"}},
	}
}

func TestParseToListRoundTripEveryKind(t *testing.T) {
	testlog.Start(t)
	for _, msg := range sampleMessages() {
		raw := ToList(msg)
		got, err := Parse(raw)
		if err != nil {
			t.Fatalf("parse %s: %v", msg.MessageType(), err)
		}
		if !Equal(msg, got) {
			t.Fatalf("round trip mismatch: want=%v got=%v", msg, got)
		}
	}
}

func TestToListOmitsEmptyPayloadAndKeepsArgsSlot(t *testing.T) {
	testlog.Start(t)
	raw := ToList(&Call{Request: 1, Procedure: "a.b"})
	if len(raw) != 4 {
		t.Fatalf("expected no payload fields, got=%v", raw)
	}
	raw = ToList(&Call{Request: 1, Procedure: "a.b", KwArgs: Dict{"x": 1}})
	if len(raw) != 6 {
		t.Fatalf("expected args slot before kwargs, got=%v", raw)
	}
	if args, ok := raw[4].([]interface{}); !ok || len(args) != 0 {
		t.Fatalf("expected empty args slot, got=%#v", raw[4])
	}
}

func TestParseRejectsMalformed(t *testing.T) {
	testlog.Start(t)
	cases := []struct {
		name string
		raw  List
		pos  int
	}{
		{"empty", List{}, 0},
		{"non-integer code", List{"CALL"}, 0},
		{"unknown code", List{int64(99), int64(1)}, 0},
		{"short", List{int64(48), int64(1), map[string]interface{}{}}, 0},
		{"long", List{int64(17), int64(1), int64(2), int64(3)}, 0},
		{"id type", List{int64(48), "one", map[string]interface{}{}, "a.b"}, 1},
		{"negative id", List{int64(48), int64(-1), map[string]interface{}{}, "a.b"}, 1},
		{"id too large", List{int64(48), uint64(MaxID) + 1, map[string]interface{}{}, "a.b"}, 1},
		{"dict type", List{int64(48), int64(1), List{}, "a.b"}, 2},
		{"uri type", List{int64(48), int64(1), map[string]interface{}{}, int64(5)}, 3},
		{"bad uri", List{int64(48), int64(1), map[string]interface{}{}, "a..b"}, 3},
		{"uri whitespace", List{int64(32), int64(1), map[string]interface{}{}, "a b"}, 3},
		{"args type", List{int64(48), int64(1), map[string]interface{}{}, "a.b", "x"}, 4},
		{"error request type", List{int64(8), int64(50), int64(1), map[string]interface{}{}, "a.b"}, 1},
	}
	for _, tc := range cases {
		_, err := Parse(tc.raw)
		if err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
		var pe *ProtocolError
		if !errors.As(err, &pe) {
			t.Fatalf("%s: expected ProtocolError, got %T", tc.name, err)
		}
		if pe.Position != tc.pos {
			t.Fatalf("%s: unexpected position: got=%d want=%d (%v)", tc.name, pe.Position, tc.pos, err)
		}
		if !errors.Is(err, ErrProtocolViolation) {
			t.Fatalf("%s: expected ErrProtocolViolation match", tc.name)
		}
	}
}

func TestParseAcceptsIntegralFloats(t *testing.T) {
	testlog.Start(t)
	msg, err := Parse(List{float64(50), float64(8), map[string]interface{}{}, []interface{}{float64(5)}})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	res, ok := msg.(*Result)
	if !ok || res.Request != 8 {
		t.Fatalf("unexpected message: %v", msg)
	}
}

func TestEqualNormalizesNumbersAndEmptyCollections(t *testing.T) {
	testlog.Start(t)
	a := &Result{Request: 1, Args: List{5, uint8(2)}, Details: nil}
	b := &Result{Request: 1, Args: List{int64(5), float64(2)}, Details: Dict{}}
	if !Equal(a, b) {
		t.Fatalf("expected equal: %v vs %v", a, b)
	}
	if Equal(a, &Result{Request: 2, Args: List{5, 2}}) {
		t.Fatalf("expected different request ids to differ")
	}
	if Equal(&Unregistered{Request: 1}, &Unsubscribed{Request: 1}) {
		t.Fatalf("expected different kinds to differ")
	}
}

func TestStringRendersKindAndFields(t *testing.T) {
	testlog.Start(t)
	s := (&Call{Request: 7, Procedure: "com.app.add", Args: List{2, 3}}).String()
	if s != "CALL{request=7 procedure=com.app.add args=[2 3]}" {
		t.Fatalf("unexpected rendering: %s", s)
	}
	for _, msg := range sampleMessages() {
		str, ok := msg.(interface{ String() string })
		if !ok {
			t.Fatalf("%T does not render", msg)
		}
		if !strings.HasPrefix(str.String(), msg.MessageType().String()+"{") {
			t.Fatalf("unexpected rendering prefix: %s", str.String())
		}
	}
}
