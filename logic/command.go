// Package logic is the hand-off between the network layer and the single
// simulation goroutine that owns all gameplay state.
package logic

import (
	"github.com/gonet2/agent/misc/packet"
	"github.com/gonet2/agent/misc/protocol"
)

// AdminCommand is the ClientInput name operator commands arrive under; the
// command line is in Msg["command"].
const AdminCommand = "AdminCommand"

// LogicCommand is one of *CreateWorld, *ClientInput or *WorldUpdate.
type LogicCommand interface {
	logicCommand()
}

// Conn addresses output back to one connection. Messages are named
// semantically; the connection encodes them for its client's version.
type Conn interface {
	UID() uint32
	Send(name string, msg protocol.Message) error
	Closed() bool
	Close()
}

// Outbound addresses output by player id or to everyone.
type Outbound interface {
	SendTo(uid uint32, name string, msg protocol.Message) error
	Broadcast(name string, msg protocol.Message) int
}

// CreateWorld is emitted once per player, on the first successful login of
// a connection, with the stored player state.
type CreateWorld struct {
	UID       uint32
	State     []byte
	NewPlayer bool
	Conn      Conn
}

// ClientInput is a validated, decrypted and decoded client command.
// Immediate commands skip tick batching.
type ClientInput struct {
	UID       uint32
	Head      *packet.PacketHead
	CmdID     uint16
	Name      string
	Body      []byte
	Msg       protocol.Message
	Immediate bool
}

// WorldUpdate advances time-dependent state. Ticks are strictly increasing.
type WorldUpdate struct {
	Tick uint64
}

func (*CreateWorld) logicCommand() {}
func (*ClientInput) logicCommand() {}
func (*WorldUpdate) logicCommand() {}
