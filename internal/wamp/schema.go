package wamp

import (
	"fmt"
	"math"

	"github.com/rs/zerolog/log"
)

type fieldKind uint8

const (
	kindID fieldKind = iota + 1
	kindURI
	kindDict
	kindList
	kindInt
)

func (k fieldKind) String() string {
	switch k {
	case kindID:
		return "id"
	case kindURI:
		return "uri"
	case kindDict:
		return "dict"
	case kindList:
		return "list"
	case kindInt:
		return "int"
	default:
		return "unknown"
	}
}

// shape lists the positional fields after the message code. The first
// required fields are mandatory; the rest may be omitted from the tail.
type shape struct {
	fields   []fieldKind
	required int
}

var shapes = map[MessageType]shape{
	MessageHello:        {[]fieldKind{kindURI, kindDict}, 2},
	MessageWelcome:      {[]fieldKind{kindID, kindDict}, 2},
	MessageAbort:        {[]fieldKind{kindDict, kindURI}, 2},
	MessageGoodbye:      {[]fieldKind{kindDict, kindURI}, 2},
	MessageError:        {[]fieldKind{kindInt, kindID, kindDict, kindURI, kindList, kindDict}, 4},
	MessagePublish:      {[]fieldKind{kindID, kindDict, kindURI, kindList, kindDict}, 3},
	MessagePublished:    {[]fieldKind{kindID, kindID}, 2},
	MessageSubscribe:    {[]fieldKind{kindID, kindDict, kindURI}, 3},
	MessageSubscribed:   {[]fieldKind{kindID, kindID}, 2},
	MessageUnsubscribe:  {[]fieldKind{kindID, kindID}, 2},
	MessageUnsubscribed: {[]fieldKind{kindID}, 1},
	MessageEvent:        {[]fieldKind{kindID, kindID, kindDict, kindList, kindDict}, 3},
	MessageCall:         {[]fieldKind{kindID, kindDict, kindURI, kindList, kindDict}, 3},
	MessageCancel:       {[]fieldKind{kindID, kindDict}, 2},
	MessageResult:       {[]fieldKind{kindID, kindDict, kindList, kindDict}, 2},
	MessageRegister:     {[]fieldKind{kindID, kindDict, kindURI}, 3},
	MessageRegistered:   {[]fieldKind{kindID, kindID}, 2},
	MessageUnregister:   {[]fieldKind{kindID, kindID}, 2},
	MessageUnregistered: {[]fieldKind{kindID}, 1},
	MessageInvocation:   {[]fieldKind{kindID, kindID, kindDict, kindList, kindDict}, 3},
	MessageInterrupt:    {[]fieldKind{kindID, kindDict}, 2},
	MessageYield:        {[]fieldKind{kindID, kindDict, kindList, kindDict}, 2},
}

// errorRequestTypes are the request kinds an ERROR may answer.
var errorRequestTypes = map[MessageType]bool{
	MessageSubscribe:   true,
	MessageUnsubscribe: true,
	MessagePublish:     true,
	MessageRegister:    true,
	MessageUnregister:  true,
	MessageCall:        true,
	MessageInvocation:  true,
}

// Parse validates a raw message list and builds the typed message.
// Unknown codes, bad arity, field type mismatches and invalid URIs yield
// a *ProtocolError.
func Parse(raw List) (Message, error) {
	if len(raw) == 0 {
		return nil, &ProtocolError{Reason: "empty message"}
	}
	code, ok := toInt64(raw[0])
	if !ok {
		return nil, &ProtocolError{Reason: fmt.Sprintf("message type %v is not an integer", raw[0])}
	}
	mt := MessageType(code)
	sh, ok := shapes[mt]
	if !ok {
		log.Debug().Int64("code", code).Msg("wamp.Parse unknown message type")
		return nil, &ProtocolError{MessageType: mt, Reason: "unknown message type"}
	}
	n := len(raw) - 1
	if n < sh.required || n > len(sh.fields) {
		return nil, &ProtocolError{
			MessageType: mt,
			Reason:      fmt.Sprintf("arity=%d want %d..%d", n, sh.required, len(sh.fields)),
		}
	}
	vals := make([]interface{}, len(sh.fields))
	for i := 0; i < n; i++ {
		v, reason := convertField(sh.fields[i], raw[i+1])
		if reason != "" {
			log.Debug().Str("message_type", mt.String()).Int("pos", i+1).Str("reason", reason).Msg("wamp.Parse field rejected")
			return nil, &ProtocolError{MessageType: mt, Position: i + 1, Reason: reason}
		}
		vals[i] = v
	}
	return build(mt, vals)
}

func convertField(kind fieldKind, v interface{}) (interface{}, string) {
	switch kind {
	case kindInt:
		n, ok := toInt64(v)
		if !ok {
			return nil, "type mismatch want=int"
		}
		return n, ""
	case kindID:
		id, ok := toID(v)
		if !ok {
			return nil, "type mismatch want=id"
		}
		return id, ""
	case kindURI:
		s, ok := v.(string)
		if !ok {
			return nil, "type mismatch want=uri"
		}
		if !ValidURI(URI(s), MatchPrefix) {
			return nil, fmt.Sprintf("invalid uri %q", s)
		}
		return URI(s), ""
	case kindDict:
		d, ok := toDict(v)
		if !ok {
			return nil, "type mismatch want=dict"
		}
		return d, ""
	case kindList:
		l, ok := toList(v)
		if !ok {
			return nil, "type mismatch want=list"
		}
		return l, ""
	}
	return nil, "unknown field kind"
}

func build(mt MessageType, v []interface{}) (Message, error) {
	id := func(i int) ID { x, _ := v[i].(ID); return x }
	uri := func(i int) URI { x, _ := v[i].(URI); return x }
	dict := func(i int) Dict { x, _ := v[i].(Dict); return x }
	list := func(i int) List { x, _ := v[i].(List); return x }

	switch mt {
	case MessageHello:
		return &Hello{Realm: uri(0), Details: dict(1)}, nil
	case MessageWelcome:
		return &Welcome{Session: id(0), Details: dict(1)}, nil
	case MessageAbort:
		return &Abort{Details: dict(0), Reason: uri(1)}, nil
	case MessageGoodbye:
		return &Goodbye{Details: dict(0), Reason: uri(1)}, nil
	case MessageError:
		reqType := MessageType(v[0].(int64))
		if !errorRequestTypes[reqType] {
			return nil, &ProtocolError{MessageType: mt, Position: 1, Reason: fmt.Sprintf("request type %s cannot fail", reqType)}
		}
		return &Error{RequestType: reqType, Request: id(1), Details: dict(2), Error: uri(3), Args: list(4), KwArgs: dict(5)}, nil
	case MessagePublish:
		return &Publish{Request: id(0), Options: dict(1), Topic: uri(2), Args: list(3), KwArgs: dict(4)}, nil
	case MessagePublished:
		return &Published{Request: id(0), Publication: id(1)}, nil
	case MessageSubscribe:
		return &Subscribe{Request: id(0), Options: dict(1), Topic: uri(2)}, nil
	case MessageSubscribed:
		return &Subscribed{Request: id(0), Subscription: id(1)}, nil
	case MessageUnsubscribe:
		return &Unsubscribe{Request: id(0), Subscription: id(1)}, nil
	case MessageUnsubscribed:
		return &Unsubscribed{Request: id(0)}, nil
	case MessageEvent:
		return &Event{Subscription: id(0), Publication: id(1), Details: dict(2), Args: list(3), KwArgs: dict(4)}, nil
	case MessageCall:
		return &Call{Request: id(0), Options: dict(1), Procedure: uri(2), Args: list(3), KwArgs: dict(4)}, nil
	case MessageCancel:
		return &Cancel{Request: id(0), Options: dict(1)}, nil
	case MessageResult:
		return &Result{Request: id(0), Details: dict(1), Args: list(2), KwArgs: dict(3)}, nil
	case MessageRegister:
		return &Register{Request: id(0), Options: dict(1), Procedure: uri(2)}, nil
	case MessageRegistered:
		return &Registered{Request: id(0), Registration: id(1)}, nil
	case MessageUnregister:
		return &Unregister{Request: id(0), Registration: id(1)}, nil
	case MessageUnregistered:
		return &Unregistered{Request: id(0)}, nil
	case MessageInvocation:
		return &Invocation{Request: id(0), Registration: id(1), Details: dict(2), Args: list(3), KwArgs: dict(4)}, nil
	case MessageInterrupt:
		return &Interrupt{Request: id(0), Options: dict(1)}, nil
	case MessageYield:
		return &Yield{Request: id(0), Options: dict(1), Args: list(2), KwArgs: dict(3)}, nil
	}
	return nil, &ProtocolError{MessageType: mt, Reason: "unknown message type"}
}

// ToList renders msg in its positional wire shape. Optional Args/KwArgs are
// omitted when empty; Args is sent as [] when only KwArgs is present.
func ToList(msg Message) List {
	switch m := msg.(type) {
	case *Hello:
		return List{int(MessageHello), string(m.Realm), plainDict(m.Details)}
	case *Welcome:
		return List{int(MessageWelcome), uint64(m.Session), plainDict(m.Details)}
	case *Abort:
		return List{int(MessageAbort), plainDict(m.Details), string(m.Reason)}
	case *Goodbye:
		return List{int(MessageGoodbye), plainDict(m.Details), string(m.Reason)}
	case *Error:
		return withPayload(List{int(MessageError), int(m.RequestType), uint64(m.Request), plainDict(m.Details), string(m.Error)}, m.Args, m.KwArgs)
	case *Publish:
		return withPayload(List{int(MessagePublish), uint64(m.Request), plainDict(m.Options), string(m.Topic)}, m.Args, m.KwArgs)
	case *Published:
		return List{int(MessagePublished), uint64(m.Request), uint64(m.Publication)}
	case *Subscribe:
		return List{int(MessageSubscribe), uint64(m.Request), plainDict(m.Options), string(m.Topic)}
	case *Subscribed:
		return List{int(MessageSubscribed), uint64(m.Request), uint64(m.Subscription)}
	case *Unsubscribe:
		return List{int(MessageUnsubscribe), uint64(m.Request), uint64(m.Subscription)}
	case *Unsubscribed:
		return List{int(MessageUnsubscribed), uint64(m.Request)}
	case *Event:
		return withPayload(List{int(MessageEvent), uint64(m.Subscription), uint64(m.Publication), plainDict(m.Details)}, m.Args, m.KwArgs)
	case *Call:
		return withPayload(List{int(MessageCall), uint64(m.Request), plainDict(m.Options), string(m.Procedure)}, m.Args, m.KwArgs)
	case *Cancel:
		return List{int(MessageCancel), uint64(m.Request), plainDict(m.Options)}
	case *Result:
		return withPayload(List{int(MessageResult), uint64(m.Request), plainDict(m.Details)}, m.Args, m.KwArgs)
	case *Register:
		return List{int(MessageRegister), uint64(m.Request), plainDict(m.Options), string(m.Procedure)}
	case *Registered:
		return List{int(MessageRegistered), uint64(m.Request), uint64(m.Registration)}
	case *Unregister:
		return List{int(MessageUnregister), uint64(m.Request), uint64(m.Registration)}
	case *Unregistered:
		return List{int(MessageUnregistered), uint64(m.Request)}
	case *Invocation:
		return withPayload(List{int(MessageInvocation), uint64(m.Request), uint64(m.Registration), plainDict(m.Details)}, m.Args, m.KwArgs)
	case *Interrupt:
		return List{int(MessageInterrupt), uint64(m.Request), plainDict(m.Options)}
	case *Yield:
		return withPayload(List{int(MessageYield), uint64(m.Request), plainDict(m.Options)}, m.Args, m.KwArgs)
	}
	return nil
}

func withPayload(l List, args List, kwargs Dict) List {
	switch {
	case len(kwargs) > 0:
		return append(l, plainList(args), plainDict(kwargs))
	case len(args) > 0:
		return append(l, plainList(args))
	}
	return l
}

func plainDict(d Dict) map[string]interface{} {
	if d == nil {
		return map[string]interface{}{}
	}
	return map[string]interface{}(d)
}

func plainList(l List) []interface{} {
	if l == nil {
		return []interface{}{}
	}
	return []interface{}(l)
}

func toInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		return int64(n), n <= math.MaxInt64
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		return int64(n), n <= math.MaxInt64
	case ID:
		return int64(n), true
	case MessageType:
		return int64(n), true
	case float64:
		if n != math.Trunc(n) || math.Abs(n) > 1<<53 {
			return 0, false
		}
		return int64(n), true
	}
	return 0, false
}

func toID(v interface{}) (ID, bool) {
	n, ok := toInt64(v)
	if !ok || n < 0 || ID(n) > MaxID {
		return 0, false
	}
	return ID(n), true
}

func toDict(v interface{}) (Dict, bool) {
	switch d := v.(type) {
	case Dict:
		return d, true
	case map[string]interface{}:
		return Dict(d), true
	case map[interface{}]interface{}:
		out := make(Dict, len(d))
		for k, val := range d {
			ks, ok := k.(string)
			if !ok {
				return nil, false
			}
			out[ks] = val
		}
		return out, true
	}
	return nil, false
}

func toList(v interface{}) (List, bool) {
	switch l := v.(type) {
	case List:
		return l, true
	case []interface{}:
		return List(l), true
	}
	return nil, false
}
