// Package xorpad implements the symmetric xor pad used to obscure packet
// bodies. A Pad is derived once from a 64-bit seed and is immutable
// afterwards; Apply is its own inverse.
package xorpad

import (
	"encoding/binary"

	"github.com/pkg/errors"
	"github.com/seehuhn/mt19937"
)

// Size is the length of a derived pad. Buffers longer than Size reuse the
// pad from the start.
const Size = 4096

type Mode int

const (
	// ModeContinuous seeds the generator and emits the pad directly.
	ModeContinuous Mode = iota
	// ModeReseedSkip reseeds the generator with its first output and
	// discards one more value before the pad starts. Used for session keys.
	ModeReseedSkip
)

func (m Mode) String() string {
	switch m {
	case ModeContinuous:
		return "continuous"
	case ModeReseedSkip:
		return "reseed-skip"
	}
	return "unknown"
}

var ErrEmptyKey = errors.New("xorpad: empty key")

type Pad struct {
	seed uint64
	key  []byte
}

// Derive builds a pad from seed using the given policy. The generator is
// MT19937-64 and each output is written big-endian.
func Derive(seed uint64, mode Mode) *Pad {
	m := mt19937.New()
	m.Seed(int64(seed))
	if mode == ModeReseedSkip {
		m.Seed(int64(m.Uint64()))
		m.Uint64()
	}
	key := make([]byte, Size)
	for i := 0; i < Size; i += 8 {
		binary.BigEndian.PutUint64(key[i:], m.Uint64())
	}
	return &Pad{seed: seed, key: key}
}

// FromKey wraps raw key bytes, e.g. a bootstrap key shipped with the client.
func FromKey(raw []byte) (*Pad, error) {
	if len(raw) == 0 {
		return nil, ErrEmptyKey
	}
	return &Pad{key: append([]byte(nil), raw...)}, nil
}

// Seed returns the seed the pad was derived from, zero for raw keys.
func (p *Pad) Seed() uint64 { return p.seed }

// Len is the pad length in bytes.
func (p *Pad) Len() int { return len(p.key) }

// At returns the keystream byte at offset i.
func (p *Pad) At(i int) byte { return p.key[i%len(p.key)] }

// Apply xors the pad into buf in place, offset 0 being buf[0].
func (p *Pad) Apply(buf []byte) {
	if p == nil {
		return
	}
	key := p.key
	for i := range buf {
		buf[i] ^= key[i%len(key)]
	}
}

// Select picks the pad for a buffer: the session pad if present, otherwise
// the bootstrap pad, otherwise nil (pass-through). The two are never combined.
func Select(session, bootstrap *Pad) *Pad {
	if session != nil {
		return session
	}
	return bootstrap
}
