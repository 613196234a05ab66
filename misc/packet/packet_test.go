package packet

import (
	"math/rand"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomBytes(r *rand.Rand, n int) []byte {
	b := make([]byte, n)
	r.Read(b)
	return b
}

func TestPackUnpackRoundTrip(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	for i := 0; i < 500; i++ {
		head := randomBytes(r, r.Intn(64))
		body := randomBytes(r, r.Intn(1500))
		cmd := uint16(r.Intn(0xFFFF))
		data, err := Pack(cmd, head, body)
		require.NoError(t, err)
		assert.Equal(t, Overhead+len(head)+len(body), len(data))

		f, err := Unpack(data)
		require.NoError(t, err)
		assert.Equal(t, cmd, f.CmdID)
		assert.Equal(t, len(head), len(f.Head))
		assert.Equal(t, len(body), len(f.Body))
		if len(head) > 0 {
			assert.Equal(t, head, f.Head)
		}
		if len(body) > 0 {
			assert.Equal(t, body, f.Body)
		}
	}
}

func TestUnpackRejectsMagicCorruption(t *testing.T) {
	data, err := Pack(7, []byte{1, 2, 3}, []byte("hello"))
	require.NoError(t, err)

	magic := []int{0, 1, len(data) - 2, len(data) - 1}
	for _, idx := range magic {
		for bit := 0; bit < 8; bit++ {
			corrupt := append([]byte(nil), data...)
			corrupt[idx] ^= 1 << bit
			_, err := Unpack(corrupt)
			assert.Error(t, err, "byte %d bit %d", idx, bit)
		}
	}
}

func TestUnpackErrorKinds(t *testing.T) {
	data, err := Pack(1, []byte{9}, []byte{1, 2, 3, 4})
	require.NoError(t, err)

	_, err = Unpack(data[:Overhead-1])
	assert.True(t, errors.Is(err, ErrTruncated))

	bad := append([]byte(nil), data...)
	bad[0] = 0
	_, err = Unpack(bad)
	assert.True(t, errors.Is(err, ErrHeadMagic))

	_, err = Unpack(data[:len(data)-1])
	assert.True(t, errors.Is(err, ErrOutOfBounds))

	bad = append([]byte(nil), data...)
	bad[len(bad)-1] = 0
	_, err = Unpack(bad)
	assert.True(t, errors.Is(err, ErrTailMagic))

	var fe *FrameError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, 1, fe.HeadLen)
	assert.Equal(t, 4, fe.BodyLen)
}

func TestUnpackHugeBodyLength(t *testing.T) {
	data, err := Pack(1, nil, nil)
	require.NoError(t, err)
	data[6], data[7], data[8], data[9] = 0xFF, 0xFF, 0xFF, 0xFF
	_, err = Unpack(data)
	assert.True(t, errors.Is(err, ErrOutOfBounds))
}

func TestPeekCmdID(t *testing.T) {
	data, err := Pack(0x1234, nil, []byte{1})
	require.NoError(t, err)
	cmd, ok := PeekCmdID(data)
	assert.True(t, ok)
	assert.Equal(t, uint16(0x1234), cmd)

	_, ok = PeekCmdID([]byte{0x45})
	assert.False(t, ok)
	_, ok = PeekCmdID([]byte{0, 0, 0x12, 0x34})
	assert.False(t, ok)
}

func TestHeadRoundTrip(t *testing.T) {
	h := &PacketHead{
		PacketID:         3,
		RpcID:            77,
		ClientSequenceID: 12,
		EnetChannelID:    1,
		EnetIsReliable:   1,
		SentMs:           1700000000123,
		UserID:           10001,
		UserIP:           0x7f000001,
		UserSessionID:    5,
		HomeUserID:       10002,
		RecvTimeMs:       1700000000200,
		ExtMap:           map[uint32]uint32{1: 2, 7: 9},
		SenderAppID:      4,
		SenderLoad:       80,
		SpanContext:      []byte("trace"),
		SourceService:    1,
		TargetService:    2,
		ServiceAppIDMap:  map[uint32]uint32{3: 4},
		IsSetGameThread:  true,
		GameThreadIndex:  6,
		IsGM:             true,
	}
	got, err := UnmarshalHead(MarshalHead(h))
	require.NoError(t, err)
	assert.Equal(t, h, got)

	empty, err := UnmarshalHead(nil)
	require.NoError(t, err)
	assert.Equal(t, &PacketHead{}, empty)
}

func TestHeadCorruptDoesNotBlockBody(t *testing.T) {
	data, err := Pack(5, []byte{0x08}, []byte("payload"))
	require.NoError(t, err)
	f, err := Unpack(data)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), f.Body)

	_, err = UnmarshalHead(f.Head)
	assert.Error(t, err)
}
