package types

import (
	"net"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gonet2/agent/misc/crypto/xorpad"
)

func TestNewSession(t *testing.T) {
	addr := &net.UDPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 22102}
	s := NewSession(addr, 77, 4)
	assert.Equal(t, "10.0.0.1:22102", s.Addr)
	assert.True(t, s.IP.Equal(net.IPv4(10, 0, 0, 1)))
	assert.Equal(t, uint32(77), s.Conv)
	assert.NotEmpty(t, s.Token)
	assert.Nil(t, s.Cipher())
	_, ok := s.Account()
	assert.False(t, ok)
	_, ok = s.UserID()
	assert.False(t, ok)
}

func TestBindIsSetOnce(t *testing.T) {
	s := NewSession(nil, 1, 1)
	assert.Nil(t, s.Binding())

	first := &Binding{Account: "alice", UID: 10001, Version: "CNREL3.2", Cipher: xorpad.Derive(1, xorpad.ModeReseedSkip)}
	b, won := s.Bind(first)
	assert.True(t, won)
	assert.Same(t, first, b)
	assert.True(t, s.HasFlag(SESS_KEYEXCG))
	assert.True(t, s.HasFlag(SESS_AUTHORIZED))

	b, won = s.Bind(&Binding{Account: "mallory", UID: 2, Version: "OSREL4.0", Cipher: xorpad.Derive(2, xorpad.ModeReseedSkip)})
	assert.False(t, won)
	assert.Same(t, first, b)

	acc, _ := s.Account()
	uid, _ := s.UserID()
	assert.Equal(t, "alice", acc)
	assert.Equal(t, uint32(10001), uid)
	assert.Equal(t, "CNREL3.2", s.Version())
	assert.Same(t, first.Cipher, s.Cipher())
}

func TestConcurrentBindHasOneWinner(t *testing.T) {
	s := NewSession(nil, 1, 1)
	const n = 64
	var wg sync.WaitGroup
	results := make([]*Binding, n)
	wins := make([]bool, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], wins[i] = s.Bind(&Binding{
				Account: string(rune('a' + i%26)),
				UID:     uint32(i + 1),
				Cipher:  xorpad.Derive(uint64(i), xorpad.ModeReseedSkip),
			})
		}(i)
	}
	wg.Wait()

	winners := 0
	bound := s.Binding()
	require.NotNil(t, bound)
	for i := 0; i < n; i++ {
		if wins[i] {
			winners++
		}
		assert.Same(t, bound, results[i])
	}
	assert.Equal(t, 1, winners)

	// account, player and pad always come from the same writer
	acc, _ := s.Account()
	uid, _ := s.UserID()
	assert.Equal(t, string(rune('a'+int(uid-1)%26)), acc)
	assert.Equal(t, uint64(uid-1), s.Cipher().Seed())
}

func TestTrySetFlag(t *testing.T) {
	s := NewSession(nil, 1, 1)
	assert.True(t, s.TrySetFlag(SESS_WORLD))
	assert.False(t, s.TrySetFlag(SESS_WORLD))
	s.SetFlag(SESS_KICKED_OUT)
	assert.Equal(t, int32(SESS_WORLD|SESS_KICKED_OUT), s.Flag())
}

func TestDeliverAndClose(t *testing.T) {
	s := NewSession(nil, 1, 1)
	assert.True(t, s.Deliver([]byte{1}))
	assert.False(t, s.Deliver([]byte{2}))
	s.Close()
	s.Close()
	assert.True(t, s.Closed())
	<-s.MQ
	assert.False(t, s.Deliver([]byte{3}))
}
