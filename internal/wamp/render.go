package wamp

import (
	"fmt"
	"math"
	"reflect"
	"strings"
)

// render builds NAME{k=v ...}, skipping empty payload fields.
func render(mt MessageType, kv ...interface{}) string {
	var b strings.Builder
	b.WriteString(mt.String())
	b.WriteByte('{')
	first := true
	for i := 0; i+1 < len(kv); i += 2 {
		v := kv[i+1]
		switch x := v.(type) {
		case List:
			if len(x) == 0 {
				continue
			}
		case Dict:
			if len(x) == 0 {
				continue
			}
		}
		if !first {
			b.WriteByte(' ')
		}
		first = false
		fmt.Fprintf(&b, "%s=%v", kv[i], v)
	}
	b.WriteByte('}')
	return b.String()
}

func (m *Hello) String() string {
	return render(MessageHello, "realm", m.Realm, "details", m.Details)
}

func (m *Welcome) String() string {
	return render(MessageWelcome, "session", m.Session, "details", m.Details)
}

func (m *Abort) String() string {
	return render(MessageAbort, "reason", m.Reason, "details", m.Details)
}

func (m *Goodbye) String() string {
	return render(MessageGoodbye, "reason", m.Reason, "details", m.Details)
}

func (m *Error) String() string {
	return render(MessageError, "type", m.RequestType, "request", m.Request, "error", m.Error,
		"details", m.Details, "args", m.Args, "kwargs", m.KwArgs)
}

func (m *Publish) String() string {
	return render(MessagePublish, "request", m.Request, "topic", m.Topic, "options", m.Options,
		"args", m.Args, "kwargs", m.KwArgs)
}

func (m *Published) String() string {
	return render(MessagePublished, "request", m.Request, "publication", m.Publication)
}

func (m *Subscribe) String() string {
	return render(MessageSubscribe, "request", m.Request, "topic", m.Topic, "options", m.Options)
}

func (m *Subscribed) String() string {
	return render(MessageSubscribed, "request", m.Request, "subscription", m.Subscription)
}

func (m *Unsubscribe) String() string {
	return render(MessageUnsubscribe, "request", m.Request, "subscription", m.Subscription)
}

func (m *Unsubscribed) String() string {
	return render(MessageUnsubscribed, "request", m.Request)
}

func (m *Event) String() string {
	return render(MessageEvent, "subscription", m.Subscription, "publication", m.Publication,
		"details", m.Details, "args", m.Args, "kwargs", m.KwArgs)
}

func (m *Call) String() string {
	return render(MessageCall, "request", m.Request, "procedure", m.Procedure, "options", m.Options,
		"args", m.Args, "kwargs", m.KwArgs)
}

func (m *Cancel) String() string {
	return render(MessageCancel, "request", m.Request, "options", m.Options)
}

func (m *Result) String() string {
	return render(MessageResult, "request", m.Request, "details", m.Details, "args", m.Args, "kwargs", m.KwArgs)
}

func (m *Register) String() string {
	return render(MessageRegister, "request", m.Request, "procedure", m.Procedure, "options", m.Options)
}

func (m *Registered) String() string {
	return render(MessageRegistered, "request", m.Request, "registration", m.Registration)
}

func (m *Unregister) String() string {
	return render(MessageUnregister, "request", m.Request, "registration", m.Registration)
}

func (m *Unregistered) String() string {
	return render(MessageUnregistered, "request", m.Request)
}

func (m *Invocation) String() string {
	return render(MessageInvocation, "request", m.Request, "registration", m.Registration,
		"details", m.Details, "args", m.Args, "kwargs", m.KwArgs)
}

func (m *Interrupt) String() string {
	return render(MessageInterrupt, "request", m.Request, "options", m.Options)
}

func (m *Yield) String() string {
	return render(MessageYield, "request", m.Request, "options", m.Options, "args", m.Args, "kwargs", m.KwArgs)
}

// Equal reports whether a and b carry the same wire content. Numbers compare
// by value and nil compares equal to an empty list or dict.
func Equal(a, b Message) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if a.MessageType() != b.MessageType() {
		return false
	}
	return reflect.DeepEqual(Normalize(ToList(a)), Normalize(ToList(b)))
}

// Normalize rewrites v into the canonical shapes codecs produce: int64 or
// uint64 for integers, float64 for fractions, string, []byte, bool, nil,
// []interface{} and map[string]interface{}.
func Normalize(v interface{}) interface{} {
	switch x := v.(type) {
	case nil, bool, string, []byte:
		return x
	case float64:
		return normalizeFloat(x)
	case float32:
		return normalizeFloat(float64(x))
	case List:
		return normalizeSlice([]interface{}(x))
	case []interface{}:
		return normalizeSlice(x)
	case Dict:
		return normalizeMap(map[string]interface{}(x))
	case map[string]interface{}:
		return normalizeMap(x)
	}
	if n, ok := toInt64(v); ok {
		return n
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Uint, reflect.Uint64:
		return rv.Uint()
	case reflect.String:
		return rv.String()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int()
	case reflect.Uint8, reflect.Uint16, reflect.Uint32:
		return int64(rv.Uint())
	case reflect.Float32, reflect.Float64:
		return normalizeFloat(rv.Float())
	case reflect.Bool:
		return rv.Bool()
	case reflect.Slice, reflect.Array:
		if rv.Type().Elem().Kind() == reflect.Uint8 && rv.Kind() == reflect.Slice {
			return rv.Bytes()
		}
		out := make([]interface{}, rv.Len())
		for i := range out {
			out[i] = Normalize(rv.Index(i).Interface())
		}
		return out
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return v
		}
		out := make(map[string]interface{}, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[iter.Key().String()] = Normalize(iter.Value().Interface())
		}
		return out
	}
	return v
}

func normalizeFloat(f float64) interface{} {
	if f == math.Trunc(f) && math.Abs(f) <= 1<<53 {
		return int64(f)
	}
	return f
}

func normalizeSlice(l []interface{}) []interface{} {
	out := make([]interface{}, len(l))
	for i, e := range l {
		out[i] = Normalize(e)
	}
	return out
}

func normalizeMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, e := range m {
		out[k] = Normalize(e)
	}
	return out
}
