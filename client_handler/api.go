package client_handler

import (
	"context"

	"github.com/gonet2/agent/logic"
	"github.com/gonet2/agent/misc/protocol"
	"github.com/gonet2/agent/services"
	. "github.com/gonet2/agent/types"
)

// Message names the gateway answers itself.
const (
	MsgGetPlayerTokenReq = "GetPlayerTokenReq"
	MsgGetPlayerTokenRsp = "GetPlayerTokenRsp"
	MsgPingReq           = "PingReq"
	MsgPingRsp           = "PingRsp"
	MsgPlayerLoginReq    = "PlayerLoginReq"
	MsgPlayerLoginRsp    = "PlayerLoginRsp"
	MsgPlayerKickNotify  = "PlayerKickNotify"
)

// Reply is an outbound message, named semantically.
type Reply struct {
	Name string
	Msg  protocol.Message
}

// Request is one decoded inbound packet with its connection.
type Request struct {
	Ctx    context.Context
	Sess   *Session
	Conn   logic.Conn
	Packet *NetPacket
}

// Env is everything handlers share beyond the session.
type Env struct {
	Handshake *Handshaker
	Queue     *logic.Queue
	Players   services.PlayerStore
	// Immediate lists messages that skip tick batching.
	Immediate map[string]bool
}

type Handler func(env *Env, req *Request) []Reply

// 消息名与对应的处理函数的映射
var Handlers = map[string]Handler{
	MsgGetPlayerTokenReq: P_get_player_token_req, // 密钥交换
	MsgPingReq:           P_ping_req,             // 心跳包
	MsgPlayerLoginReq:    P_player_login_req,     // 登陆
}

// Dispatch runs the handler for the packet's message, or forwards it to
// the simulation when the session is authorized.
func Dispatch(env *Env, req *Request) []Reply {
	if h := Handlers[req.Packet.Name]; h != nil {
		return h(env, req)
	}
	return P_forward(env, req)
}
