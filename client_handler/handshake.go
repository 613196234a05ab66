package client_handler

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/binary"
	"io"

	log "github.com/sirupsen/logrus"

	"github.com/gonet2/agent/misc/crypto/keystore"
	"github.com/gonet2/agent/misc/crypto/xorpad"
	"github.com/gonet2/agent/services"
	. "github.com/gonet2/agent/types"
)

// Token exchange result codes.
const (
	RetSucc            int32 = 0
	RetFail            int32 = 1 // authentication failed
	RetKeyIDNotAllowed int32 = 2
	RetSvrError        int32 = 3
	RetAlreadyLogin    int32 = 4
)

// TokenRequest is the client's half of the key exchange.
type TokenRequest struct {
	KeyID         uint32
	ClientRandKey string // base64 of the RSA-encrypted 8-byte client random
	AccountUID    string
	AccountToken  string
	Lang          string
	Version       string
}

// TokenResult is what the client gets back. ServerRandKey and Sign are only
// set when key material was produced by this call.
type TokenResult struct {
	Retcode       int32
	UID           uint32
	ServerRandKey string
	Sign          string
	Msg           string
	AccountUID    string

	// Replay is true when the session was already bound and nothing changed.
	Replay bool
	// Seed is the session seed, only set on a fresh success.
	Seed uint64
}

// VersionSet tells the handshake which protocol versions exist.
type VersionSet interface {
	Known(version string) bool
}

// Handshaker establishes the per-session xor pad. It is safe for concurrent
// use; all shared state lives in the injected registries.
type Handshaker struct {
	Keys      *keystore.Store
	Allowed   map[uint32]bool
	Accounts  services.AccountDirectory
	Presence  services.Presence
	Languages *services.LanguageCache
	Messages  *Messages
	Versions  VersionSet
	Rand      io.Reader
}

func (h *Handshaker) random() io.Reader {
	if h.Rand != nil {
		return h.Rand
	}
	return rand.Reader
}

func fail(code int32) *TokenResult {
	return &TokenResult{Retcode: code}
}

func replay(b *Binding) *TokenResult {
	return &TokenResult{Retcode: RetSucc, UID: b.UID, AccountUID: b.Account, Replay: true}
}

// Handle runs the token exchange for sess. Rejections never touch sess.
func (h *Handshaker) Handle(sess *Session, req *TokenRequest) *TokenResult {
	logger := log.WithFields(sess.LogFields()).WithField("key_id", req.KeyID)

	if req.Version != "" && h.Versions != nil && !h.Versions.Known(req.Version) {
		logger.WithField("version", req.Version).Info("token: unknown protocol version")
		return fail(RetFail)
	}
	if !h.Allowed[req.KeyID] {
		logger.Info("token: key id not allowed")
		return fail(RetKeyIDNotAllowed)
	}
	pair, ok := h.Keys.Get(req.KeyID)
	if !ok {
		logger.Error("token: no key pair configured for allowed key id")
		return fail(RetSvrError)
	}

	encrypted, err := base64.StdEncoding.DecodeString(req.ClientRandKey)
	if err != nil {
		logger.Debug("token: client rand is not base64")
		return fail(RetFail)
	}
	plain, ok := pair.DecryptFromClient(encrypted)
	if !ok || len(plain) != 8 {
		logger.Debug("token: client rand decrypt failed")
		return fail(RetFail)
	}
	clientRand := binary.BigEndian.Uint64(plain)

	var serverBytes [8]byte
	if _, err := io.ReadFull(h.random(), serverBytes[:]); err != nil {
		logger.Error("token: server random: ", err)
		return fail(RetSvrError)
	}
	serverRand := binary.BigEndian.Uint64(serverBytes[:])

	seed := clientRand ^ serverRand
	pad := xorpad.Derive(seed, xorpad.ModeReseedSkip)

	sealed, err := pair.EncryptForClient(serverBytes[:])
	if err != nil {
		logger.Error("token: encrypt server rand: ", err)
		return fail(RetSvrError)
	}
	sign, err := pair.Sign(serverBytes[:])
	if err != nil {
		logger.Error("token: sign server rand: ", err)
		return fail(RetSvrError)
	}

	// duplicate request on an authenticated connection: keep the old key
	if cur := sess.Binding(); cur != nil {
		return replay(cur)
	}

	uid, _, err := h.Accounts.PlayerID(req.AccountUID)
	if err != nil {
		logger.Error("token: player id lookup: ", err)
		return fail(RetSvrError)
	}
	holder, ok, err := h.Presence.Acquire(uid, sess.Token)
	if err != nil {
		logger.WithField("uid", uid).Error("token: presence acquire: ", err)
		return fail(RetSvrError)
	}
	if !ok {
		logger.WithFields(log.Fields{"uid": uid, "holder": holder}).Info("token: player already online")
		return &TokenResult{
			Retcode:    RetAlreadyLogin,
			Msg:        h.Messages.Render(MsgAlreadyLogin, req.Lang),
			AccountUID: req.AccountUID,
		}
	}

	cur, won := sess.Bind(&Binding{
		Account: req.AccountUID,
		UID:     uid,
		Version: req.Version,
		Cipher:  pad,
	})
	if !won {
		// a concurrent request on this connection bound first
		if cur.UID != uid {
			h.Presence.Release(uid, sess.Token)
		}
		return replay(cur)
	}
	h.Languages.Set(uid, req.Lang)

	logger.WithField("uid", uid).Info("token: session keyed")
	return &TokenResult{
		Retcode:       RetSucc,
		UID:           uid,
		ServerRandKey: base64.StdEncoding.EncodeToString(sealed),
		Sign:          base64.StdEncoding.EncodeToString(sign),
		AccountUID:    req.AccountUID,
		Seed:          seed,
	}
}
