package serialize

import (
	"bytes"
	"math"

	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/danmuck/wampd/internal/wamp"
)

type msgpackSerializer struct{}

// MsgPack is the binary codec.
var MsgPack wamp.Serializer = msgpackSerializer{}

func (msgpackSerializer) Name() string   { return NameMsgPack }
func (msgpackSerializer) IsBinary() bool { return true }

func (s msgpackSerializer) Serialize(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetSortMapKeys(true)
	if err := enc.Encode(v); err != nil {
		return nil, &wamp.SerializationError{Codec: s.Name(), Err: errors.Wrap(err, "msgpack encode")}
	}
	return buf.Bytes(), nil
}

func (s msgpackSerializer) Unserialize(b []byte) (interface{}, error) {
	r := bytes.NewReader(b)
	dec := msgpack.NewDecoder(r)
	v, err := dec.DecodeInterface()
	if err != nil {
		return nil, &wamp.SerializationError{Codec: s.Name(), Err: errors.Wrap(err, "msgpack decode")}
	}
	if r.Len() > 0 {
		return nil, &wamp.SerializationError{Codec: s.Name(), Err: errors.Errorf("%d trailing bytes after msgpack value", r.Len())}
	}
	return decodeMsgpackValue(v), nil
}

// decodeMsgpackValue brings decoded values onto the shapes the JSON codec
// produces so both codecs parse identically. bin stays []byte.
func decodeMsgpackValue(v interface{}) interface{} {
	switch x := v.(type) {
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case uint8:
		return int64(x)
	case uint16:
		return int64(x)
	case uint32:
		return int64(x)
	case uint64:
		if x <= math.MaxInt64 {
			return int64(x)
		}
		return x
	case float32:
		return float64(x)
	case []interface{}:
		for i, e := range x {
			x[i] = decodeMsgpackValue(e)
		}
		return x
	case map[string]interface{}:
		for k, e := range x {
			x[k] = decodeMsgpackValue(e)
		}
		return x
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(x))
		for k, e := range x {
			ks, ok := k.(string)
			if !ok {
				return x
			}
			out[ks] = decodeMsgpackValue(e)
		}
		return out
	}
	return v
}
