package serialize

import (
	"errors"
	"fmt"

	"github.com/danmuck/wampd/internal/wamp"
)

const (
	NameJSON    = "json"
	NameMsgPack = "msgpack"

	SubprotocolJSON    = "wamp.2.json"
	SubprotocolMsgPack = "wamp.2.msgpack"

	// Rawsocket handshake serializer ids.
	RawSocketJSON    byte = 1
	RawSocketMsgPack byte = 2
)

var ErrUnknownSerializer = errors.New("serialize: unknown serializer")

type entry struct {
	serializer  wamp.Serializer
	subprotocol string
	rawSocketID byte
}

var entries = []entry{
	{JSON, SubprotocolJSON, RawSocketJSON},
	{MsgPack, SubprotocolMsgPack, RawSocketMsgPack},
}

// ByName resolves "json" or "msgpack".
func ByName(name string) (wamp.Serializer, error) {
	for _, e := range entries {
		if e.serializer.Name() == name {
			return e.serializer, nil
		}
	}
	return nil, fmt.Errorf("%w: name=%q", ErrUnknownSerializer, name)
}

// BySubprotocol resolves a websocket subprotocol such as "wamp.2.json".
func BySubprotocol(subprotocol string) (wamp.Serializer, error) {
	for _, e := range entries {
		if e.subprotocol == subprotocol {
			return e.serializer, nil
		}
	}
	return nil, fmt.Errorf("%w: subprotocol=%q", ErrUnknownSerializer, subprotocol)
}

// ByRawSocketID resolves the serializer nibble of a rawsocket handshake.
func ByRawSocketID(id byte) (wamp.Serializer, error) {
	for _, e := range entries {
		if e.rawSocketID == id {
			return e.serializer, nil
		}
	}
	return nil, fmt.Errorf("%w: rawsocket id=%d", ErrUnknownSerializer, id)
}

func Subprotocol(s wamp.Serializer) string {
	for _, e := range entries {
		if e.serializer.Name() == s.Name() {
			return e.subprotocol
		}
	}
	return ""
}

func RawSocketID(s wamp.Serializer) byte {
	for _, e := range entries {
		if e.serializer.Name() == s.Name() {
			return e.rawSocketID
		}
	}
	return 0
}

// Subprotocols maps serializer names onto websocket subprotocols, in order.
// Unknown names are skipped.
func Subprotocols(names []string) []string {
	out := make([]string, 0, len(names))
	for _, name := range names {
		s, err := ByName(name)
		if err != nil {
			continue
		}
		out = append(out, Subprotocol(s))
	}
	return out
}
