package packet

import (
	"sort"

	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

// PacketHead is the routing and tracing metadata carried by every frame.
// UserID is only meaningful once the session has been bound by the handshake.
type PacketHead struct {
	PacketID         uint32
	RpcID            uint32
	ClientSequenceID uint32
	EnetChannelID    uint32
	EnetIsReliable   uint32
	SentMs           uint64
	UserID           uint32
	UserIP           uint32
	UserSessionID    uint32
	HomeUserID       uint32
	RecvTimeMs       uint64
	ExtMap           map[uint32]uint32
	SenderAppID      uint32
	SenderLoad       uint32
	SpanContext      []byte
	SourceService    uint32
	TargetService    uint32
	ServiceAppIDMap  map[uint32]uint32
	IsSetGameThread  bool
	GameThreadIndex  uint32
	IsGM             bool
}

const (
	fieldPacketID         protowire.Number = 1
	fieldRpcID            protowire.Number = 2
	fieldClientSequenceID protowire.Number = 3
	fieldEnetChannelID    protowire.Number = 4
	fieldEnetIsReliable   protowire.Number = 5
	fieldSentMs           protowire.Number = 6
	fieldUserID           protowire.Number = 11
	fieldUserIP           protowire.Number = 12
	fieldUserSessionID    protowire.Number = 13
	fieldHomeUserID       protowire.Number = 14
	fieldRecvTimeMs       protowire.Number = 21
	fieldExtMap           protowire.Number = 23
	fieldSenderAppID      protowire.Number = 24
	fieldSenderLoad       protowire.Number = 25
	fieldSpanContext      protowire.Number = 26
	fieldSourceService    protowire.Number = 31
	fieldTargetService    protowire.Number = 32
	fieldServiceAppIDMap  protowire.Number = 33
	fieldIsSetGameThread  protowire.Number = 34
	fieldGameThreadIndex  protowire.Number = 35
	fieldIsGM             protowire.Number = 36
)

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendBool(b []byte, num protowire.Number, v bool) []byte {
	if !v {
		return b
	}
	return appendVarint(b, num, 1)
}

// map entries are sorted by key so output is deterministic
func appendMap(b []byte, num protowire.Number, m map[uint32]uint32) []byte {
	keys := make([]uint32, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	for _, k := range keys {
		var entry []byte
		entry = appendVarint(entry, 1, uint64(k))
		entry = appendVarint(entry, 2, uint64(m[k]))
		b = protowire.AppendTag(b, num, protowire.BytesType)
		b = protowire.AppendBytes(b, entry)
	}
	return b
}

// MarshalHead encodes h in protobuf wire format.
func MarshalHead(h *PacketHead) []byte {
	if h == nil {
		return nil
	}
	var b []byte
	b = appendVarint(b, fieldPacketID, uint64(h.PacketID))
	b = appendVarint(b, fieldRpcID, uint64(h.RpcID))
	b = appendVarint(b, fieldClientSequenceID, uint64(h.ClientSequenceID))
	b = appendVarint(b, fieldEnetChannelID, uint64(h.EnetChannelID))
	b = appendVarint(b, fieldEnetIsReliable, uint64(h.EnetIsReliable))
	b = appendVarint(b, fieldSentMs, h.SentMs)
	b = appendVarint(b, fieldUserID, uint64(h.UserID))
	b = appendVarint(b, fieldUserIP, uint64(h.UserIP))
	b = appendVarint(b, fieldUserSessionID, uint64(h.UserSessionID))
	b = appendVarint(b, fieldHomeUserID, uint64(h.HomeUserID))
	b = appendVarint(b, fieldRecvTimeMs, h.RecvTimeMs)
	b = appendMap(b, fieldExtMap, h.ExtMap)
	b = appendVarint(b, fieldSenderAppID, uint64(h.SenderAppID))
	b = appendVarint(b, fieldSenderLoad, uint64(h.SenderLoad))
	if len(h.SpanContext) > 0 {
		b = protowire.AppendTag(b, fieldSpanContext, protowire.BytesType)
		b = protowire.AppendBytes(b, h.SpanContext)
	}
	b = appendVarint(b, fieldSourceService, uint64(h.SourceService))
	b = appendVarint(b, fieldTargetService, uint64(h.TargetService))
	b = appendMap(b, fieldServiceAppIDMap, h.ServiceAppIDMap)
	b = appendBool(b, fieldIsSetGameThread, h.IsSetGameThread)
	b = appendVarint(b, fieldGameThreadIndex, uint64(h.GameThreadIndex))
	b = appendBool(b, fieldIsGM, h.IsGM)
	return b
}

func consumeMapEntry(b []byte) (k, v uint32, err error) {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return 0, 0, protowire.ParseError(n)
		}
		b = b[n:]
		if typ != protowire.VarintType {
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return 0, 0, protowire.ParseError(n)
			}
			b = b[n:]
			continue
		}
		x, n := protowire.ConsumeVarint(b)
		if n < 0 {
			return 0, 0, protowire.ParseError(n)
		}
		b = b[n:]
		switch num {
		case 1:
			k = uint32(x)
		case 2:
			v = uint32(x)
		}
	}
	return k, v, nil
}

// UnmarshalHead decodes a head region. Unknown fields are skipped.
func UnmarshalHead(b []byte) (*PacketHead, error) {
	h := &PacketHead{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, errors.Wrap(protowire.ParseError(n), "packet head")
		}
		b = b[n:]
		switch typ {
		case protowire.VarintType:
			x, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, errors.Wrapf(protowire.ParseError(n), "packet head field %d", num)
			}
			b = b[n:]
			h.setVarint(num, x)
		case protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, errors.Wrapf(protowire.ParseError(n), "packet head field %d", num)
			}
			b = b[n:]
			if err := h.setBytes(num, v); err != nil {
				return nil, err
			}
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, errors.Wrapf(protowire.ParseError(n), "packet head field %d", num)
			}
			b = b[n:]
		}
	}
	return h, nil
}

func (h *PacketHead) setVarint(num protowire.Number, x uint64) {
	switch num {
	case fieldPacketID:
		h.PacketID = uint32(x)
	case fieldRpcID:
		h.RpcID = uint32(x)
	case fieldClientSequenceID:
		h.ClientSequenceID = uint32(x)
	case fieldEnetChannelID:
		h.EnetChannelID = uint32(x)
	case fieldEnetIsReliable:
		h.EnetIsReliable = uint32(x)
	case fieldSentMs:
		h.SentMs = x
	case fieldUserID:
		h.UserID = uint32(x)
	case fieldUserIP:
		h.UserIP = uint32(x)
	case fieldUserSessionID:
		h.UserSessionID = uint32(x)
	case fieldHomeUserID:
		h.HomeUserID = uint32(x)
	case fieldRecvTimeMs:
		h.RecvTimeMs = x
	case fieldSenderAppID:
		h.SenderAppID = uint32(x)
	case fieldSenderLoad:
		h.SenderLoad = uint32(x)
	case fieldSourceService:
		h.SourceService = uint32(x)
	case fieldTargetService:
		h.TargetService = uint32(x)
	case fieldIsSetGameThread:
		h.IsSetGameThread = x != 0
	case fieldGameThreadIndex:
		h.GameThreadIndex = uint32(x)
	case fieldIsGM:
		h.IsGM = x != 0
	}
}

func (h *PacketHead) setBytes(num protowire.Number, v []byte) error {
	switch num {
	case fieldSpanContext:
		h.SpanContext = append([]byte(nil), v...)
	case fieldExtMap, fieldServiceAppIDMap:
		k, val, err := consumeMapEntry(v)
		if err != nil {
			return errors.Wrapf(err, "packet head field %d", num)
		}
		if num == fieldExtMap {
			if h.ExtMap == nil {
				h.ExtMap = make(map[uint32]uint32)
			}
			h.ExtMap[k] = val
		} else {
			if h.ServiceAppIDMap == nil {
				h.ServiceAppIDMap = make(map[uint32]uint32)
			}
			h.ServiceAppIDMap[k] = val
		}
	}
	return nil
}
