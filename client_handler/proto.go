package client_handler

import (
	"github.com/gonet2/agent/misc/protocol"
)

// Typed views over the semantic messages the gateway itself handles.
// Field names follow the protocol manifest.

func PKT_token_req(msg protocol.Message) *TokenRequest {
	return &TokenRequest{
		KeyID:         msg.Uint32("key_id"),
		ClientRandKey: msg.String("client_rand_key"),
		AccountUID:    msg.String("account_uid"),
		AccountToken:  msg.String("account_token"),
		Lang:          msg.String("lang"),
		Version:       msg.String("version"),
	}
}

func (r *TokenResult) Pack() protocol.Message {
	return protocol.Message{
		"retcode":         r.Retcode,
		"uid":             r.UID,
		"server_rand_key": r.ServerRandKey,
		"sign":            r.Sign,
		"msg":             r.Msg,
		"account_uid":     r.AccountUID,
	}
}

// Public structure: ping echo
type S_ping struct {
	F_client_time uint32
	F_seq         uint32
}

func PKT_ping(msg protocol.Message) S_ping {
	return S_ping{
		F_client_time: msg.Uint32("client_time"),
		F_seq:         msg.Uint32("seq"),
	}
}

func (p S_ping) Pack() protocol.Message {
	return protocol.Message{
		"retcode":     RetSucc,
		"client_time": p.F_client_time,
		"seq":         p.F_seq,
	}
}

// Login result: 0 means success
type S_login_result struct {
	F_retcode       int32
	F_is_new_player bool
}

func (p S_login_result) Pack() protocol.Message {
	return protocol.Message{
		"retcode":       p.F_retcode,
		"is_new_player": p.F_is_new_player,
	}
}
