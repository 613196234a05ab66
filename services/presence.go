// Package services holds the process-wide registries the handshake and the
// agent loops share: online presence, language preferences and the player
// store. They are constructed once in main and passed down explicitly.
package services

import (
	"strconv"
	"sync"
	"sync/atomic"
)

// Presence records which connection currently owns each online player.
// Acquire and Release are atomic upserts; there is no separate
// check-then-set step a caller could race on.
type Presence interface {
	// Acquire marks uid online for owner. If another owner already holds
	// uid it returns that owner and false. Acquiring again with the same
	// owner succeeds. A non-nil error means the registry could not be
	// consulted and nothing was recorded.
	Acquire(uid uint32, owner string) (holder string, ok bool, err error)
	// Release marks uid offline only if owner still holds it.
	Release(uid uint32, owner string) bool
	Online(uid uint32) (owner string, ok bool)
	Count() int
}

// MemoryPresence is the single-gateway Presence.
type MemoryPresence struct {
	online sync.Map // uint32 -> string
	count  atomic.Int64
}

func NewMemoryPresence() *MemoryPresence {
	return &MemoryPresence{}
}

func (p *MemoryPresence) Acquire(uid uint32, owner string) (string, bool, error) {
	v, loaded := p.online.LoadOrStore(uid, owner)
	if !loaded {
		p.count.Add(1)
		return owner, true, nil
	}
	holder := v.(string)
	return holder, holder == owner, nil
}

func (p *MemoryPresence) Release(uid uint32, owner string) bool {
	if p.online.CompareAndDelete(uid, owner) {
		p.count.Add(-1)
		return true
	}
	return false
}

func (p *MemoryPresence) Online(uid uint32) (string, bool) {
	v, ok := p.online.Load(uid)
	if !ok {
		return "", false
	}
	return v.(string), true
}

func (p *MemoryPresence) Count() int {
	return int(p.count.Load())
}

func uidKey(uid uint32) string {
	return strconv.FormatUint(uint64(uid), 10)
}
