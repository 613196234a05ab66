package types

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/gonet2/agent/misc/crypto/xorpad"
)

const (
	SESS_KEYEXCG    = 0x1 // Key exchange completed
	SESS_AUTHORIZED = 0x2 // Account and player bound
	SESS_KICKED_OUT = 0x4 // Kicked out
	SESS_WORLD      = 0x8 // CreateWorld already emitted
)

// Binding is what the token exchange attaches to a session: account,
// player, negotiated protocol version and session pad. It is installed as
// one value, so readers never see part of it.
type Binding struct {
	Account string
	UID     uint32
	Version string // empty means the registry default
	Cipher  *xorpad.Pad
}

// Session is the gateway-side state of one client connection.
//
// The Binding is set at most once with a compare-and-swap: a losing writer
// gets the Binding that won.
type Session struct {
	IP          net.IP
	Addr        string
	Conv        uint32    // KCP conversation id
	Token       string    // Per-connection security token
	ConnectTime time.Time // Connection established time

	MQ  chan []byte   // Framed packets waiting to be written to the client
	Die chan struct{} // Session close signal

	binding atomic.Pointer[Binding]

	flag    atomic.Int32
	dieOnce sync.Once

	// Time related, only touched by the connection's own goroutine
	PacketTime     time.Time // Current packet arrival time
	LastPacketTime time.Time // Previous packet arrival time

	PacketCount     uint32 // Count received packets to avoid malicious packets
	PacketCount1Min int    // Packets per minute, used for RPM checks
}

// NewSession creates the state for a newly seen peer.
func NewSession(addr net.Addr, conv uint32, mqSize int) *Session {
	s := &Session{
		Conv:        conv,
		Token:       uuid.New().String(),
		ConnectTime: time.Now(),
		MQ:          make(chan []byte, mqSize),
		Die:         make(chan struct{}),
	}
	if addr != nil {
		s.Addr = addr.String()
		if ua, ok := addr.(*net.UDPAddr); ok {
			s.IP = ua.IP
		} else if host, _, err := net.SplitHostPort(s.Addr); err == nil {
			s.IP = net.ParseIP(host)
		}
	}
	return s
}

// Bind installs b once. On a lost race it returns the Binding already set.
func (s *Session) Bind(b *Binding) (*Binding, bool) {
	if s.binding.CompareAndSwap(nil, b) {
		s.SetFlag(SESS_KEYEXCG | SESS_AUTHORIZED)
		return b, true
	}
	return s.binding.Load(), false
}

// Binding returns the token exchange result, nil before it completes.
func (s *Session) Binding() *Binding { return s.binding.Load() }

// Cipher returns the session pad, nil until the handshake completes.
func (s *Session) Cipher() *xorpad.Pad {
	if b := s.binding.Load(); b != nil {
		return b.Cipher
	}
	return nil
}

func (s *Session) Account() (string, bool) {
	if b := s.binding.Load(); b != nil {
		return b.Account, true
	}
	return "", false
}

func (s *Session) UserID() (uint32, bool) {
	if b := s.binding.Load(); b != nil {
		return b.UID, true
	}
	return 0, false
}

// Version is the client protocol version declared in the token request.
func (s *Session) Version() string {
	if b := s.binding.Load(); b != nil {
		return b.Version
	}
	return ""
}

func (s *Session) Flag() int32 { return s.flag.Load() }

func (s *Session) HasFlag(f int32) bool { return s.flag.Load()&f != 0 }

func (s *Session) SetFlag(f int32) {
	for {
		old := s.flag.Load()
		if old&f == f || s.flag.CompareAndSwap(old, old|f) {
			return
		}
	}
}

func (s *Session) ClearFlag(f int32) {
	for {
		old := s.flag.Load()
		if old&f == 0 || s.flag.CompareAndSwap(old, old&^f) {
			return
		}
	}
}

// TrySetFlag sets f and reports whether this call was the one that set it.
func (s *Session) TrySetFlag(f int32) bool {
	for {
		old := s.flag.Load()
		if old&f != 0 {
			return false
		}
		if s.flag.CompareAndSwap(old, old|f) {
			return true
		}
	}
}

// Close signals every goroutine attached to the session. Safe to call more
// than once.
func (s *Session) Close() {
	s.dieOnce.Do(func() { close(s.Die) })
}

func (s *Session) Closed() bool {
	select {
	case <-s.Die:
		return true
	default:
		return false
	}
}

// Deliver queues a framed packet for the writer. It never blocks: a full
// queue drops the packet and reports false.
func (s *Session) Deliver(data []byte) bool {
	if s.Closed() {
		return false
	}
	select {
	case s.MQ <- data:
		return true
	default:
		return false
	}
}

// append fields to log
func (s *Session) LogFields() log.Fields {
	fields := log.Fields{
		"conv": s.Conv,
		"addr": s.Addr,
	}
	if acc, ok := s.Account(); ok {
		fields["account"] = acc
	}
	if uid, ok := s.UserID(); ok {
		fields["uid"] = uid
	}
	return fields
}
