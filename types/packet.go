package types

import (
	"github.com/gonet2/agent/misc/packet"
	"github.com/gonet2/agent/misc/protocol"
)

// NetPacket is one inbound or outbound message: the routing head plus the
// body, both raw and decoded. It lives only as long as its handling.
type NetPacket struct {
	Head  *packet.PacketHead
	CmdID uint16
	Name  string
	Body  []byte
	Msg   protocol.Message
}
