package serialize

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/danmuck/wampd/internal/wamp"
)

// binaryPrefix marks a JSON string that carries base64 bytes.
const binaryPrefix = "\x00"

type jsonSerializer struct{}

// JSON is the text codec. Binary values travel as "\x00" + base64.
var JSON wamp.Serializer = jsonSerializer{}

func (jsonSerializer) Name() string   { return NameJSON }
func (jsonSerializer) IsBinary() bool { return false }

func (s jsonSerializer) Serialize(v interface{}) ([]byte, error) {
	b, err := json.Marshal(encodeBinary(v))
	if err != nil {
		return nil, &wamp.SerializationError{Codec: s.Name(), Err: errors.Wrap(err, "json marshal")}
	}
	return b, nil
}

func (s jsonSerializer) Unserialize(b []byte) (interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, &wamp.SerializationError{Codec: s.Name(), Err: errors.Wrap(err, "json decode")}
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, &wamp.SerializationError{Codec: s.Name(), Err: errors.New("trailing data after json value")}
	}
	return decodeJSONValue(v), nil
}

func encodeBinary(v interface{}) interface{} {
	switch x := v.(type) {
	case []byte:
		return binaryPrefix + base64.StdEncoding.EncodeToString(x)
	case []interface{}:
		out := make([]interface{}, len(x))
		for i, e := range x {
			out[i] = encodeBinary(e)
		}
		return out
	case wamp.List:
		return encodeBinary([]interface{}(x))
	case map[string]interface{}:
		out := make(map[string]interface{}, len(x))
		for k, e := range x {
			out[k] = encodeBinary(e)
		}
		return out
	case wamp.Dict:
		return encodeBinary(map[string]interface{}(x))
	}
	return v
}

func decodeJSONValue(v interface{}) interface{} {
	switch x := v.(type) {
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return n
		}
		if u, err := strconv.ParseUint(x.String(), 10, 64); err == nil {
			return u
		}
		f, _ := x.Float64()
		return f
	case string:
		if strings.HasPrefix(x, binaryPrefix) {
			if raw, err := base64.StdEncoding.DecodeString(x[len(binaryPrefix):]); err == nil {
				return raw
			}
		}
		return x
	case []interface{}:
		for i, e := range x {
			x[i] = decodeJSONValue(e)
		}
		return x
	case map[string]interface{}:
		for k, e := range x {
			x[k] = decodeJSONValue(e)
		}
		return x
	}
	return v
}
