package client_handler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gonet2/agent/logic"
	"github.com/gonet2/agent/misc/packet"
	"github.com/gonet2/agent/misc/protocol"
	. "github.com/gonet2/agent/types"
)

type nopConn struct{ uid uint32 }

func (c nopConn) UID() uint32                         { return c.uid }
func (c nopConn) Send(string, protocol.Message) error { return nil }
func (c nopConn) Closed() bool                        { return false }
func (c nopConn) Close()                              {}

func newEnv(t *testing.T) (*Env, *fixture) {
	f := newFixture(t, 1)
	return &Env{
		Handshake: f.hs,
		Queue:     logic.NewQueue(16),
		Players:   f.store,
		Immediate: map[string]bool{"PlayerLogoutReq": true},
	}, f
}

func request(sess *Session, name string, msg protocol.Message) *Request {
	return &Request{
		Ctx:    context.Background(),
		Sess:   sess,
		Conn:   nopConn{},
		Packet: &NetPacket{Head: &packet.PacketHead{}, Name: name, Msg: msg},
	}
}

func TestDispatchPing(t *testing.T) {
	env, _ := newEnv(t)
	replies := Dispatch(env, request(NewSession(nil, 1, 1), MsgPingReq, protocol.Message{"client_time": uint64(77), "seq": uint64(3)}))
	require.Len(t, replies, 1)
	assert.Equal(t, MsgPingRsp, replies[0].Name)
	assert.Equal(t, uint32(77), replies[0].Msg.Uint32("client_time"))
	assert.Equal(t, uint32(3), replies[0].Msg.Uint32("seq"))
}

func TestDispatchTokenRequest(t *testing.T) {
	env, f := newEnv(t)
	sess := NewSession(nil, 1, 1)
	req := f.tokenReq(t, 99, "carol")
	msg := protocol.Message{
		"key_id":          req.KeyID,
		"client_rand_key": req.ClientRandKey,
		"account_uid":     req.AccountUID,
		"lang":            req.Lang,
		"version":         req.Version,
	}
	replies := Dispatch(env, request(sess, MsgGetPlayerTokenReq, msg))
	require.Len(t, replies, 1)
	assert.Equal(t, MsgGetPlayerTokenRsp, replies[0].Name)
	assert.Equal(t, RetSucc, replies[0].Msg.Int32("retcode"))
	assert.NotEmpty(t, replies[0].Msg.String("server_rand_key"))
	assert.NotNil(t, sess.Cipher())
}

func TestDispatchLoginCreatesWorldOnce(t *testing.T) {
	env, _ := newEnv(t)
	sess := NewSession(nil, 1, 1)

	replies := Dispatch(env, request(sess, MsgPlayerLoginReq, nil))
	require.Len(t, replies, 1)
	assert.Equal(t, RetFail, replies[0].Msg.Int32("retcode"))
	assert.Equal(t, 0, env.Queue.Len())

	sess.Bind(&Binding{Account: "dave", UID: 10001})
	replies = Dispatch(env, request(sess, MsgPlayerLoginReq, nil))
	require.Len(t, replies, 1)
	assert.Equal(t, RetSucc, replies[0].Msg.Int32("retcode"))
	assert.True(t, replies[0].Msg.Bool("is_new_player"))

	replies = Dispatch(env, request(sess, MsgPlayerLoginReq, nil))
	assert.Equal(t, RetSucc, replies[0].Msg.Int32("retcode"))
	assert.Equal(t, 1, env.Queue.Len())

	cmd, err := env.Queue.Next(context.Background())
	require.NoError(t, err)
	cw, ok := cmd.(*logic.CreateWorld)
	require.True(t, ok)
	assert.Equal(t, uint32(10001), cw.UID)
	assert.True(t, cw.NewPlayer)
	assert.NotNil(t, cw.Conn)
}

func TestDispatchForward(t *testing.T) {
	env, _ := newEnv(t)
	sess := NewSession(nil, 1, 1)

	assert.Nil(t, Dispatch(env, request(sess, "EntityMoveReq", protocol.Message{})))
	assert.Equal(t, 0, env.Queue.Len())

	sess.Bind(&Binding{Account: "erin", UID: 10007})
	Dispatch(env, request(sess, "EntityMoveReq", protocol.Message{"x": int64(1)}))
	Dispatch(env, request(sess, "PlayerLogoutReq", protocol.Message{}))

	cmd, _ := env.Queue.Next(context.Background())
	in := cmd.(*logic.ClientInput)
	assert.Equal(t, "PlayerLogoutReq", in.Name)
	assert.True(t, in.Immediate)

	cmd, _ = env.Queue.Next(context.Background())
	in = cmd.(*logic.ClientInput)
	assert.Equal(t, "EntityMoveReq", in.Name)
	assert.Equal(t, uint32(10007), in.UID)
	assert.False(t, in.Immediate)
}
