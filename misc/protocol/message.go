package protocol

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// Kind is the wire type of a schema field.
type Kind string

const (
	KindUint32  Kind = "uint32"
	KindUint64  Kind = "uint64"
	KindInt32   Kind = "int32"
	KindInt64   Kind = "int64"
	KindSint32  Kind = "sint32"
	KindSint64  Kind = "sint64"
	KindBool    Kind = "bool"
	KindString  Kind = "string"
	KindBytes   Kind = "bytes"
	KindFixed64 Kind = "fixed64"
)

func (k Kind) valid() bool {
	switch k {
	case KindUint32, KindUint64, KindInt32, KindInt64, KindSint32, KindSint64,
		KindBool, KindString, KindBytes, KindFixed64:
		return true
	}
	return false
}

func (k *Kind) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if !Kind(s).valid() {
		return errors.Errorf("protocol: unknown field type %q", s)
	}
	*k = Kind(s)
	return nil
}

// Message is a decoded value addressed by semantic field names. Decoded
// values are uint64 for unsigned kinds, int64 for signed kinds, bool,
// string and []byte. Missing fields read as zero.
type Message map[string]interface{}

func (m Message) Uint64(name string) uint64 {
	v, _ := toUint64(m[name])
	return v
}

func (m Message) Uint32(name string) uint32 {
	return uint32(m.Uint64(name))
}

func (m Message) Int64(name string) int64 {
	v, _ := toInt64(m[name])
	return v
}

func (m Message) Int32(name string) int32 {
	return int32(m.Int64(name))
}

func (m Message) Bool(name string) bool {
	b, _ := m[name].(bool)
	return b
}

func (m Message) String(name string) string {
	switch v := m[name].(type) {
	case string:
		return v
	case []byte:
		return string(v)
	}
	return ""
}

func (m Message) Bytes(name string) []byte {
	switch v := m[name].(type) {
	case []byte:
		return v
	case string:
		return []byte(v)
	}
	return nil
}

func toUint64(v interface{}) (uint64, bool) {
	switch x := v.(type) {
	case nil:
		return 0, true
	case uint64:
		return x, true
	case uint32:
		return uint64(x), true
	case uint16:
		return uint64(x), true
	case uint8:
		return uint64(x), true
	case uint:
		return uint64(x), true
	case int64:
		return uint64(x), true
	case int32:
		return uint64(x), true
	case int:
		return uint64(x), true
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

func toInt64(v interface{}) (int64, bool) {
	switch x := v.(type) {
	case int64:
		return x, true
	case int32:
		return int64(x), true
	case int16:
		return int64(x), true
	case int8:
		return int64(x), true
	case int:
		return int64(x), true
	}
	u, ok := toUint64(v)
	return int64(u), ok
}
