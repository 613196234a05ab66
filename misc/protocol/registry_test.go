package protocol

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

func builtin(t *testing.T) *Registry {
	r, err := Load("")
	require.NoError(t, err)
	return r
}

func TestBuiltinManifest(t *testing.T) {
	r := builtin(t)
	assert.Equal(t, "1.0", r.DefaultVersion())
	assert.Equal(t, []string{"1.0", "2.0"}, r.Versions())
	assert.True(t, r.Known("2.0"))
	assert.False(t, r.Known("9.9"))
}

func TestResolveName(t *testing.T) {
	r := builtin(t)

	name, ok := r.ResolveName("1.0", 201)
	require.True(t, ok)
	assert.Equal(t, "EntityMoveReq", name)

	name, ok = r.ResolveName("2.0", 305)
	require.True(t, ok)
	assert.Equal(t, "EntityMoveReq", name)

	_, ok = r.ResolveName("2.0", 201)
	assert.False(t, ok)

	// inherited unchanged
	name, ok = r.ResolveName("2.0", 101)
	require.True(t, ok)
	assert.Equal(t, "GetPlayerTokenReq", name)

	cmd, ok := r.ResolveCmdID("2.0", "ChatReq")
	require.True(t, ok)
	assert.Equal(t, uint16(401), cmd)
}

func TestUnknownVersionFailsClosed(t *testing.T) {
	r := builtin(t)
	for _, cmd := range []uint16{0, 7, 101, 201, 0xFFFF} {
		_, ok := r.ResolveName("0.1-unknown", cmd)
		assert.False(t, ok)
	}
	_, ok := r.Decode("0.1-unknown", "PingReq", nil)
	assert.False(t, ok)
	_, err := r.Encode("0.1-unknown", "PingRsp", Message{})
	var unsupported *UnsupportedError
	assert.True(t, errors.As(err, &unsupported))
}

func TestEncodeErrorNamesField(t *testing.T) {
	r := builtin(t)
	_, err := r.Encode(r.DefaultVersion(), "PingRsp", Message{"client_time": "soon"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "protocol: PingRsp.client_time: cannot encode string as uint32")
	assert.Contains(t, errors.Cause(err).Error(), "cannot encode string")
}

func TestMessageOnlyInSomeVersions(t *testing.T) {
	r := builtin(t)
	assert.False(t, r.Supports("1.0", "ChatReq"))
	assert.True(t, r.Supports("2.0", "ChatReq"))
	assert.True(t, r.Supports("1.0", "WorldTimeNotify"))
	assert.False(t, r.Supports("2.0", "WorldTimeNotify"))
	_, ok := r.Decode("1.0", "ChatReq", []byte{0x0a, 0x01, 'x'})
	assert.False(t, ok)
}

func TestSameNameDifferentLayouts(t *testing.T) {
	r := builtin(t)
	msg := Message{"entity_id": uint32(9), "x": int32(-5), "y": int32(12), "z": int32(3)}

	v1, err := r.Encode("1.0", "EntityMoveReq", msg)
	require.NoError(t, err)
	v2, err := r.Encode("2.0", "EntityMoveReq", msg)
	require.NoError(t, err)
	assert.NotEqual(t, v1, v2)

	d1, ok := r.Decode("1.0", "EntityMoveReq", v1)
	require.True(t, ok)
	assert.Equal(t, uint32(9), d1.Uint32("entity_id"))
	assert.Equal(t, int32(-5), d1.Int32("x"))
	assert.Equal(t, int32(12), d1.Int32("y"))
	assert.Equal(t, int32(0), d1.Int32("z"))

	d2, ok := r.Decode("2.0", "EntityMoveReq", v2)
	require.True(t, ok)
	assert.Equal(t, uint32(9), d2.Uint32("entity_id"))
	assert.Equal(t, int32(-5), d2.Int32("x"))
	assert.Equal(t, int32(3), d2.Int32("z"))

	// the 1.0 bytes read under the 2.0 layout put x into entity_id's slot
	cross, ok := r.Decode("2.0", "EntityMoveReq", v1)
	require.True(t, ok)
	assert.NotEqual(t, uint32(9), cross.Uint32("entity_id"))
}

func TestEncodeDecodeAllKinds(t *testing.T) {
	m := &Manifest{
		Default: "v",
		Versions: []VersionManifest{{
			Name: "v",
			Messages: []MessageSchema{{
				Name:  "All",
				CmdID: 1,
				Fields: []Field{
					{Name: "u32", Number: 1, Type: KindUint32},
					{Name: "u64", Number: 2, Type: KindUint64},
					{Name: "i32", Number: 3, Type: KindInt32},
					{Name: "i64", Number: 4, Type: KindInt64},
					{Name: "s32", Number: 5, Type: KindSint32},
					{Name: "s64", Number: 6, Type: KindSint64},
					{Name: "b", Number: 7, Type: KindBool},
					{Name: "s", Number: 8, Type: KindString},
					{Name: "raw", Number: 9, Type: KindBytes},
					{Name: "f64", Number: 10, Type: KindFixed64},
				},
			}},
		}},
	}
	r, err := New(m)
	require.NoError(t, err)

	in := Message{
		"u32": uint32(1 << 31), "u64": uint64(1 << 60), "i32": int32(-7), "i64": int64(-1 << 40),
		"s32": int32(-100), "s64": int64(-1 << 50), "b": true, "s": "héllo", "raw": []byte{0, 1, 2},
		"f64": uint64(0xDEADBEEF), "ignored": "not in schema",
	}
	data, err := r.Encode("v", "All", in)
	require.NoError(t, err)
	out, ok := r.Decode("v", "All", data)
	require.True(t, ok)

	assert.Equal(t, uint32(1<<31), out.Uint32("u32"))
	assert.Equal(t, uint64(1<<60), out.Uint64("u64"))
	assert.Equal(t, int32(-7), out.Int32("i32"))
	assert.Equal(t, int64(-1<<40), out.Int64("i64"))
	assert.Equal(t, int32(-100), out.Int32("s32"))
	assert.Equal(t, int64(-1<<50), out.Int64("s64"))
	assert.True(t, out.Bool("b"))
	assert.Equal(t, "héllo", out.String("s"))
	assert.Equal(t, []byte{0, 1, 2}, out.Bytes("raw"))
	assert.Equal(t, uint64(0xDEADBEEF), out.Uint64("f64"))
	_, present := out["ignored"]
	assert.False(t, present)

	_, err = r.Encode("v", "All", Message{"s": 12})
	assert.Error(t, err)
}

func TestDecodeRejectsWireTypeMismatch(t *testing.T) {
	r := builtin(t)
	// field 1 of PingReq is a varint; send it as bytes
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendBytes(b, []byte("x"))
	_, ok := r.Decode("1.0", "PingReq", b)
	assert.False(t, ok)

	_, ok = r.Decode("1.0", "PingReq", []byte{0x08})
	assert.False(t, ok)
}

func TestDecodeSkipsUnknownFields(t *testing.T) {
	r := builtin(t)
	var b []byte
	b = protowire.AppendTag(b, 99, protowire.BytesType)
	b = protowire.AppendBytes(b, []byte("future"))
	b = protowire.AppendTag(b, 2, protowire.VarintType)
	b = protowire.AppendVarint(b, 42)
	msg, ok := r.Decode("1.0", "PingReq", b)
	require.True(t, ok)
	assert.Equal(t, uint32(42), msg.Uint32("seq"))
}

func TestManifestValidation(t *testing.T) {
	cases := map[string]string{
		"dup cmd": `
versions:
  - name: a
    messages:
      - {name: X, cmd_id: 1}
      - {name: Y, cmd_id: 1}`,
		"bad inherit": `
versions:
  - name: a
    inherits: b
    messages: []`,
		"dup field": `
versions:
  - name: a
    messages:
      - name: X
        cmd_id: 1
        fields:
          - {name: f, number: 1, type: uint32}
          - {name: g, number: 1, type: uint32}`,
		"bad default": `
default: z
versions:
  - name: a
    messages: []`,
	}
	for name, src := range cases {
		m, err := ParseManifest([]byte(src))
		require.NoError(t, err, name)
		_, err = New(m)
		assert.Error(t, err, name)
	}

	_, err := ParseManifest([]byte(`
versions:
  - name: a
    messages:
      - name: X
        cmd_id: 1
        fields:
          - {name: f, number: 1, type: float}`))
	assert.Error(t, err)
}
