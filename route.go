package main

import (
	"time"

	"github.com/davecgh/go-spew/spew"
	log "github.com/sirupsen/logrus"

	"github.com/gonet2/agent/client_handler"
	"github.com/gonet2/agent/misc/crypto/xorpad"
	"github.com/gonet2/agent/misc/packet"
	"github.com/gonet2/agent/misc/protocol"
	. "github.com/gonet2/agent/types"
)

// 根据消息类型处理消息
// route reports whether p was a well-formed frame of a known command.
// Anything else is dropped before it can touch the session.
func route(ac *agentConn, p []byte) bool {
	srv, sess := ac.srv, ac.sess
	logger := log.WithFields(sess.LogFields())

	// 读取协议号，不认识的直接丢弃
	cmdID, ok := packet.PeekCmdID(p)
	if !ok {
		logger.WithField("len", len(p)).Debug("not a frame")
		return false
	}
	version := srv.versionOf(sess)
	name, ok := srv.registry.ResolveName(version, cmdID)
	if !ok {
		logger.WithFields(log.Fields{"cmd_id": cmdID, "version": version}).Debug("unknown cmd id")
		return false
	}

	// 解包
	frame, err := packet.Unpack(p)
	if err != nil {
		logger.WithField("name", name).Debug("unpack: ", err)
		return false
	}
	body := make([]byte, len(frame.Body))
	copy(body, frame.Body)
	srv.padFor(sess, name).Apply(body)

	head, err := packet.UnmarshalHead(frame.Head)
	if err != nil {
		logger.WithField("name", name).Debug("bad packet head: ", err)
		head = &packet.PacketHead{}
	}
	if log.IsLevelEnabled(log.DebugLevel) {
		logger.Debug(spew.Sdump(head))
	}

	msg, ok := srv.registry.Decode(version, name, body)
	if !ok {
		logger.WithField("name", name).Debug("undecodable body")
		return true
	}

	req := &client_handler.Request{
		Ctx:  srv.ctx,
		Sess: sess,
		Conn: ac,
		Packet: &NetPacket{
			Head:  head,
			CmdID: cmdID,
			Name:  name,
			Body:  body,
			Msg:   msg,
		},
	}
	for _, r := range client_handler.Dispatch(srv.env, req) {
		rh := &packet.PacketHead{
			ClientSequenceID: head.ClientSequenceID,
			SentMs:           uint64(time.Now().UnixMilli()),
		}
		if err := ac.send(r.Name, r.Msg, rh); err != nil {
			logger.WithField("name", r.Name).Warning("reply dropped: ", err)
		}
	}
	return true
}

// versionOf is the protocol version frames of sess are read and written
// with: the declared one after the token exchange, the default before.
func (srv *server) versionOf(sess *Session) string {
	if v := sess.Version(); v != "" {
		return v
	}
	return srv.registry.DefaultVersion()
}

// padFor picks the xor pad for a message. The token exchange always runs
// under the bootstrap pad: the client installs the session key only after
// reading the response.
func (srv *server) padFor(sess *Session, name string) *xorpad.Pad {
	switch name {
	case client_handler.MsgGetPlayerTokenReq, client_handler.MsgGetPlayerTokenRsp:
		return srv.bootstrap
	}
	return xorpad.Select(sess.Cipher(), srv.bootstrap)
}

// encode turns a named message into a sealed frame for sess.
func (srv *server) encode(sess *Session, name string, msg protocol.Message, head *packet.PacketHead) ([]byte, error) {
	version := srv.versionOf(sess)
	body, err := srv.registry.Encode(version, name, msg)
	if err != nil {
		return nil, err
	}
	cmdID, _ := srv.registry.ResolveCmdID(version, name)
	srv.padFor(sess, name).Apply(body)
	return packet.Pack(cmdID, packet.MarshalHead(head), body)
}
