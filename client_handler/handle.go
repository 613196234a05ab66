package client_handler

import (
	log "github.com/sirupsen/logrus"

	"github.com/gonet2/agent/logic"
	. "github.com/gonet2/agent/types"
)

// Key exchange
// The client sends an 8-byte random sealed with the server RSA key; the
// server answers with its own random sealed with the client RSA key plus a
// signature. Both sides seed the session xor pad with the XOR of the two.
func P_get_player_token_req(env *Env, req *Request) []Reply {
	res := env.Handshake.Handle(req.Sess, PKT_token_req(req.Packet.Msg))
	return []Reply{{Name: MsgGetPlayerTokenRsp, Msg: res.Pack()}}
}

// Heartbeat package
func P_ping_req(env *Env, req *Request) []Reply {
	return []Reply{{Name: MsgPingRsp, Msg: PKT_ping(req.Packet.Msg).Pack()}}
}

// Player login process
// The first login on a connection loads the stored player state and hands
// the simulation a CreateWorld; repeated logins are acknowledged only.
func P_player_login_req(env *Env, req *Request) []Reply {
	sess := req.Sess
	uid, ok := sess.UserID()
	if !ok {
		return []Reply{{Name: MsgPlayerLoginRsp, Msg: S_login_result{F_retcode: RetFail}.Pack()}}
	}
	if !sess.TrySetFlag(SESS_WORLD) {
		return []Reply{{Name: MsgPlayerLoginRsp, Msg: S_login_result{F_retcode: RetSucc}.Pack()}}
	}

	state, err := env.Players.LoadPlayer(uid)
	if err != nil {
		sess.ClearFlag(SESS_WORLD)
		log.WithFields(sess.LogFields()).Error("load player: ", err)
		return []Reply{{Name: MsgPlayerLoginRsp, Msg: S_login_result{F_retcode: RetSvrError}.Pack()}}
	}
	cmd := &logic.CreateWorld{UID: uid, State: state, NewPlayer: state == nil, Conn: req.Conn}
	if err := env.Queue.Push(req.Ctx, cmd); err != nil {
		sess.ClearFlag(SESS_WORLD)
		log.WithFields(sess.LogFields()).Warning("create world not queued: ", err)
		return nil
	}
	return []Reply{{Name: MsgPlayerLoginRsp, Msg: S_login_result{F_retcode: RetSucc, F_is_new_player: state == nil}.Pack()}}
}

// Everything else goes to the simulation, but only from a bound session:
// the head's user id is not trusted before the handshake.
func P_forward(env *Env, req *Request) []Reply {
	sess := req.Sess
	uid, ok := sess.UserID()
	if !ok {
		log.WithFields(sess.LogFields()).WithField("name", req.Packet.Name).Debug("input before handshake dropped")
		return nil
	}
	pkt := req.Packet
	in := &logic.ClientInput{
		UID:       uid,
		Head:      pkt.Head,
		CmdID:     pkt.CmdID,
		Name:      pkt.Name,
		Body:      pkt.Body,
		Msg:       pkt.Msg,
		Immediate: env.Immediate[pkt.Name],
	}
	if err := env.Queue.Push(req.Ctx, in); err != nil {
		log.WithFields(sess.LogFields()).Warning("input not queued: ", err)
	}
	return nil
}
