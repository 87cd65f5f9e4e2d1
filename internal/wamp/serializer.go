package wamp

import "errors"

// Serializer converts between in-memory values and payload bytes.
// Implementations are stateless and safe for concurrent use.
type Serializer interface {
	// Name is the short codec name, e.g. "json".
	Name() string
	// IsBinary reports whether payloads need a binary-clean transport.
	IsBinary() bool
	Serialize(v interface{}) ([]byte, error)
	Unserialize(b []byte) (interface{}, error)
}

// Serialize renders msg in its list shape and encodes it with s.
func Serialize(msg Message, s Serializer) ([]byte, error) {
	l := ToList(msg)
	if l == nil {
		return nil, &SerializationError{Codec: s.Name(), Err: errors.New("unsupported message value")}
	}
	b, err := s.Serialize([]interface{}(l))
	if err != nil {
		return nil, asSerializationError(s, err)
	}
	return b, nil
}

// Unserialize decodes b with s and parses the result. Codec failures are
// *SerializationError, shape failures *ProtocolError.
func Unserialize(b []byte, s Serializer) (Message, error) {
	v, err := s.Unserialize(b)
	if err != nil {
		return nil, asSerializationError(s, err)
	}
	raw, ok := toList(v)
	if !ok {
		return nil, &ProtocolError{Reason: "message is not a list"}
	}
	return Parse(raw)
}

func asSerializationError(s Serializer, err error) error {
	var se *SerializationError
	if errors.As(err, &se) {
		return err
	}
	return &SerializationError{Codec: s.Name(), Err: err}
}
