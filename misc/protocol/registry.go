// Package protocol is the version dispatch registry. Handlers work with
// stable message names; the registry maps them to the command ids and
// field layouts of each client build and fails closed when a build does
// not know a message.
package protocol

import (
	"fmt"
	"sort"

	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

type schema struct {
	MessageSchema
	byNumber map[protowire.Number]*Field
}

type table struct {
	byCmd  map[uint16]*schema
	byName map[string]*schema
}

// Registry is immutable once built and safe for concurrent use.
type Registry struct {
	defaultVersion string
	versions       map[string]*table
}

// New builds lookup tables from a manifest. A version may only inherit
// from a version listed before it.
func New(m *Manifest) (*Registry, error) {
	r := &Registry{defaultVersion: m.Default, versions: make(map[string]*table)}
	for _, vm := range m.Versions {
		if vm.Name == "" {
			return nil, errors.New("protocol: version without name")
		}
		if _, dup := r.versions[vm.Name]; dup {
			return nil, errors.Errorf("protocol: duplicate version %q", vm.Name)
		}
		byName := make(map[string]*schema)
		if vm.Inherits != "" {
			base, ok := r.versions[vm.Inherits]
			if !ok {
				return nil, errors.Errorf("protocol: version %q inherits unknown version %q", vm.Name, vm.Inherits)
			}
			for name, s := range base.byName {
				byName[name] = s
			}
		}
		for _, name := range vm.Remove {
			delete(byName, name)
		}
		for i := range vm.Messages {
			s, err := compile(vm.Messages[i])
			if err != nil {
				return nil, errors.Wrapf(err, "protocol: version %q", vm.Name)
			}
			byName[s.Name] = s
		}
		t := &table{byCmd: make(map[uint16]*schema, len(byName)), byName: byName}
		for _, s := range byName {
			if other, dup := t.byCmd[s.CmdID]; dup {
				return nil, errors.Errorf("protocol: version %q: cmd id %d used by %s and %s", vm.Name, s.CmdID, other.Name, s.Name)
			}
			t.byCmd[s.CmdID] = s
		}
		r.versions[vm.Name] = t
	}
	if r.defaultVersion != "" {
		if _, ok := r.versions[r.defaultVersion]; !ok {
			return nil, errors.Errorf("protocol: default version %q not defined", r.defaultVersion)
		}
	}
	return r, nil
}

// Load builds a registry from a manifest file, or the built-in one.
func Load(path string) (*Registry, error) {
	m, err := LoadManifest(path)
	if err != nil {
		return nil, err
	}
	return New(m)
}

func compile(ms MessageSchema) (*schema, error) {
	if ms.Name == "" {
		return nil, errors.Errorf("message with cmd id %d has no name", ms.CmdID)
	}
	s := &schema{MessageSchema: ms, byNumber: make(map[protowire.Number]*Field, len(ms.Fields))}
	names := make(map[string]bool, len(ms.Fields))
	for i := range s.Fields {
		f := &s.Fields[i]
		num := protowire.Number(f.Number)
		if !num.IsValid() {
			return nil, errors.Errorf("%s.%s: invalid field number %d", ms.Name, f.Name, f.Number)
		}
		if !f.Type.valid() {
			return nil, errors.Errorf("%s.%s: unknown type %q", ms.Name, f.Name, f.Type)
		}
		if _, dup := s.byNumber[num]; dup {
			return nil, errors.Errorf("%s: duplicate field number %d", ms.Name, f.Number)
		}
		if names[f.Name] {
			return nil, errors.Errorf("%s: duplicate field %q", ms.Name, f.Name)
		}
		names[f.Name] = true
		s.byNumber[num] = f
	}
	return s, nil
}

// DefaultVersion is the layout used before a client has declared its version.
func (r *Registry) DefaultVersion() string { return r.defaultVersion }

// Versions lists the known protocol versions.
func (r *Registry) Versions() []string {
	out := make([]string, 0, len(r.versions))
	for v := range r.versions {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) Known(version string) bool {
	_, ok := r.versions[version]
	return ok
}

// Supports reports whether version has a message called name.
func (r *Registry) Supports(version, name string) bool {
	_, ok := r.lookup(version, name)
	return ok
}

func (r *Registry) lookup(version, name string) (*schema, bool) {
	t, ok := r.versions[version]
	if !ok {
		return nil, false
	}
	s, ok := t.byName[name]
	return s, ok
}

// ResolveName maps a wire command id to its message name for version.
func (r *Registry) ResolveName(version string, cmdID uint16) (string, bool) {
	t, ok := r.versions[version]
	if !ok {
		return "", false
	}
	s, ok := t.byCmd[cmdID]
	if !ok {
		return "", false
	}
	return s.Name, true
}

// ResolveCmdID is the reverse of ResolveName.
func (r *Registry) ResolveCmdID(version, name string) (uint16, bool) {
	s, ok := r.lookup(version, name)
	if !ok {
		return 0, false
	}
	return s.CmdID, true
}

// Decode parses data with the layout version uses for name. It returns
// false when the message is unknown to the version or the bytes do not
// match the layout. Unknown field numbers are skipped.
func (r *Registry) Decode(version, name string, data []byte) (Message, bool) {
	s, ok := r.lookup(version, name)
	if !ok {
		return nil, false
	}
	msg := make(Message, len(s.Fields))
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, false
		}
		data = data[n:]
		f, known := s.byNumber[num]
		if !known {
			n = protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return nil, false
			}
			data = data[n:]
			continue
		}
		n = decodeField(msg, f, typ, data)
		if n < 0 {
			return nil, false
		}
		data = data[n:]
	}
	return msg, true
}

func decodeField(msg Message, f *Field, typ protowire.Type, data []byte) int {
	switch f.Type {
	case KindUint32, KindUint64, KindInt32, KindInt64, KindSint32, KindSint64, KindBool:
		if typ != protowire.VarintType {
			return -1
		}
		x, n := protowire.ConsumeVarint(data)
		if n < 0 {
			return n
		}
		switch f.Type {
		case KindUint32:
			msg[f.Name] = uint64(uint32(x))
		case KindUint64:
			msg[f.Name] = x
		case KindInt32:
			msg[f.Name] = int64(int32(x))
		case KindInt64:
			msg[f.Name] = int64(x)
		case KindSint32:
			msg[f.Name] = int64(int32(protowire.DecodeZigZag(x & 0xFFFFFFFF)))
		case KindSint64:
			msg[f.Name] = protowire.DecodeZigZag(x)
		case KindBool:
			msg[f.Name] = protowire.DecodeBool(x)
		}
		return n
	case KindFixed64:
		if typ != protowire.Fixed64Type {
			return -1
		}
		x, n := protowire.ConsumeFixed64(data)
		if n >= 0 {
			msg[f.Name] = x
		}
		return n
	case KindString, KindBytes:
		if typ != protowire.BytesType {
			return -1
		}
		v, n := protowire.ConsumeBytes(data)
		if n < 0 {
			return n
		}
		if f.Type == KindString {
			msg[f.Name] = string(v)
		} else {
			msg[f.Name] = append([]byte(nil), v...)
		}
		return n
	}
	return -1
}

// Encode produces the bytes version expects for name. Fields of msg the
// version does not define are dropped; fields the version defines but msg
// lacks are left at their zero value, which is not written.
func (r *Registry) Encode(version, name string, msg Message) ([]byte, error) {
	s, ok := r.lookup(version, name)
	if !ok {
		return nil, &UnsupportedError{Version: version, Name: name}
	}
	var b []byte
	for i := range s.Fields {
		f := &s.Fields[i]
		v, present := msg[f.Name]
		if !present || v == nil {
			continue
		}
		var err error
		if b, err = appendField(b, f, v); err != nil {
			return nil, errors.Wrapf(err, "protocol: %s.%s", name, f.Name)
		}
	}
	return b, nil
}

// UnsupportedError is returned by Encode for messages the version lacks.
type UnsupportedError struct {
	Version string
	Name    string
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("protocol: %s not supported by version %q", e.Name, e.Version)
}

func appendField(b []byte, f *Field, v interface{}) ([]byte, error) {
	num := protowire.Number(f.Number)
	switch f.Type {
	case KindUint32, KindUint64, KindBool:
		x, ok := toUint64(v)
		if !ok {
			return nil, errors.Errorf("cannot encode %T as %s", v, f.Type)
		}
		if f.Type == KindUint32 {
			x = uint64(uint32(x))
		}
		if x == 0 {
			return b, nil
		}
		b = protowire.AppendTag(b, num, protowire.VarintType)
		return protowire.AppendVarint(b, x), nil
	case KindInt32, KindInt64, KindSint32, KindSint64:
		x, ok := toInt64(v)
		if !ok {
			return nil, errors.Errorf("cannot encode %T as %s", v, f.Type)
		}
		if f.Type == KindInt32 || f.Type == KindSint32 {
			x = int64(int32(x))
		}
		if x == 0 {
			return b, nil
		}
		b = protowire.AppendTag(b, num, protowire.VarintType)
		switch f.Type {
		case KindSint32, KindSint64:
			return protowire.AppendVarint(b, protowire.EncodeZigZag(x)), nil
		}
		return protowire.AppendVarint(b, uint64(x)), nil
	case KindFixed64:
		x, ok := toUint64(v)
		if !ok {
			return nil, errors.Errorf("cannot encode %T as %s", v, f.Type)
		}
		if x == 0 {
			return b, nil
		}
		b = protowire.AppendTag(b, num, protowire.Fixed64Type)
		return protowire.AppendFixed64(b, x), nil
	case KindString, KindBytes:
		var raw []byte
		switch x := v.(type) {
		case string:
			raw = []byte(x)
		case []byte:
			raw = x
		default:
			return nil, errors.Errorf("cannot encode %T as %s", v, f.Type)
		}
		if len(raw) == 0 {
			return b, nil
		}
		b = protowire.AppendTag(b, num, protowire.BytesType)
		return protowire.AppendBytes(b, raw), nil
	}
	return nil, errors.Errorf("unknown type %q", f.Type)
}
