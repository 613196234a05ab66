// Package keystore holds the RSA key pairs clients select by key id during
// the token exchange.
//
// Payloads longer than one RSA block are split into fixed-size blocks,
// each transformed on its own, and the results concatenated. There is no
// symmetric envelope and no MAC over the whole payload; block boundaries
// are visible to an observer. Deployed clients expect exactly this layout.
package keystore

import (
	"bytes"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"os"
	"sort"

	"github.com/pkg/errors"
)

// pkcs1v15Overhead is the padding PKCS#1 v1.5 encryption adds to each block.
const pkcs1v15Overhead = 11

var (
	ErrNoServerKey = errors.New("keystore: server private key missing")
	ErrNoClientKey = errors.New("keystore: client public key missing")
	ErrBadPEM      = errors.New("keystore: invalid PEM block")
)

// KeyConfig names the PEM files for one key id. ServerPublic is derived
// from ServerPrivate when empty; ClientPrivate is only needed by tools that
// play the client side.
type KeyConfig struct {
	ID            uint32 `json:"id"`
	ClientPublic  string `json:"client_public"`
	ServerPrivate string `json:"server_private"`
	ServerPublic  string `json:"server_public,omitempty"`
	ClientPrivate string `json:"client_private,omitempty"`
}

type KeyPair struct {
	ID uint32

	clientPublic  *rsa.PublicKey
	serverPrivate *rsa.PrivateKey
	serverPublic  *rsa.PublicKey
	clientPrivate *rsa.PrivateKey
	signKey       *rsa.PrivateKey
}

// NewKeyPair assembles a pair from parsed keys. serverPublic may be nil.
func NewKeyPair(id uint32, clientPublic *rsa.PublicKey, serverPrivate *rsa.PrivateKey, serverPublic *rsa.PublicKey, clientPrivate *rsa.PrivateKey) (*KeyPair, error) {
	if serverPrivate == nil {
		return nil, ErrNoServerKey
	}
	if clientPublic == nil {
		if clientPrivate == nil {
			return nil, ErrNoClientKey
		}
		clientPublic = &clientPrivate.PublicKey
	}
	if serverPublic == nil {
		serverPublic = &serverPrivate.PublicKey
	}
	return &KeyPair{
		ID:            id,
		clientPublic:  clientPublic,
		serverPrivate: serverPrivate,
		serverPublic:  serverPublic,
		clientPrivate: clientPrivate,
		signKey:       serverPrivate,
	}, nil
}

// NewClientPair is the client's view of a key id: the server public key and
// the client private key. Server-side operations fail on it.
func NewClientPair(id uint32, serverPublic *rsa.PublicKey, clientPrivate *rsa.PrivateKey) (*KeyPair, error) {
	if serverPublic == nil {
		return nil, ErrNoServerKey
	}
	if clientPrivate == nil {
		return nil, ErrNoClientKey
	}
	return &KeyPair{
		ID:            id,
		clientPublic:  &clientPrivate.PublicKey,
		serverPublic:  serverPublic,
		clientPrivate: clientPrivate,
	}, nil
}

// LoadClientPair reads ServerPublic and ClientPrivate of c.
func LoadClientPair(c KeyConfig) (*KeyPair, error) {
	if c.ServerPublic == "" {
		return nil, ErrNoServerKey
	}
	serverPublic, err := readPublic(c.ServerPublic)
	if err != nil {
		return nil, errors.Wrap(err, "server public")
	}
	if c.ClientPrivate == "" {
		return nil, ErrNoClientKey
	}
	clientPrivate, err := readPrivate(c.ClientPrivate)
	if err != nil {
		return nil, errors.Wrap(err, "client private")
	}
	return NewClientPair(c.ID, serverPublic, clientPrivate)
}

func split(buf []byte, lim int) [][]byte {
	var chunk []byte
	chunks := make([][]byte, 0, len(buf)/lim+1)
	for len(buf) >= lim {
		chunk, buf = buf[:lim], buf[lim:]
		chunks = append(chunks, chunk)
	}
	if len(buf) > 0 {
		chunks = append(chunks, buf)
	}
	return chunks
}

func encrypt(pub *rsa.PublicKey, msg []byte) ([]byte, error) {
	partLen := pub.Size() - pkcs1v15Overhead
	var buffer bytes.Buffer
	for _, chunk := range split(msg, partLen) {
		out, err := rsa.EncryptPKCS1v15(rand.Reader, pub, chunk)
		if err != nil {
			return nil, err
		}
		buffer.Write(out)
	}
	return buffer.Bytes(), nil
}

func decrypt(priv *rsa.PrivateKey, msg []byte) ([]byte, bool) {
	if priv == nil {
		return nil, false
	}
	partLen := priv.Size()
	if len(msg) == 0 || len(msg)%partLen != 0 {
		return nil, false
	}
	var buffer bytes.Buffer
	for _, chunk := range split(msg, partLen) {
		out, err := rsa.DecryptPKCS1v15(rand.Reader, priv, chunk)
		if err != nil {
			return nil, false
		}
		buffer.Write(out)
	}
	return buffer.Bytes(), true
}

// DecryptFromClient opens what the client encrypted with the server public
// key. ok is false for malformed ciphertext or a mismatched key.
func (k *KeyPair) DecryptFromClient(msg []byte) ([]byte, bool) {
	return decrypt(k.serverPrivate, msg)
}

// EncryptForClient seals msg so only the client private key can open it.
func (k *KeyPair) EncryptForClient(msg []byte) ([]byte, error) {
	return encrypt(k.clientPublic, msg)
}

// Sign returns a PKCS#1 v1.5 SHA-256 signature over msg.
func (k *KeyPair) Sign(msg []byte) ([]byte, error) {
	if k.signKey == nil {
		return nil, ErrNoServerKey
	}
	sum := sha256.Sum256(msg)
	return rsa.SignPKCS1v15(rand.Reader, k.signKey, crypto.SHA256, sum[:])
}

// EncryptForServer is the client side of DecryptFromClient.
func (k *KeyPair) EncryptForServer(msg []byte) ([]byte, error) {
	return encrypt(k.serverPublic, msg)
}

// DecryptFromServer is the client side of EncryptForClient. It needs the
// client private key.
func (k *KeyPair) DecryptFromServer(msg []byte) ([]byte, bool) {
	return decrypt(k.clientPrivate, msg)
}

// Verify checks a Sign signature with the server public key.
func (k *KeyPair) Verify(msg, sig []byte) error {
	sum := sha256.Sum256(msg)
	return rsa.VerifyPKCS1v15(k.serverPublic, crypto.SHA256, sum[:], sig)
}

// Store is the immutable key id -> pair table.
type Store struct {
	pairs map[uint32]*KeyPair
}

func NewStore(pairs ...*KeyPair) *Store {
	s := &Store{pairs: make(map[uint32]*KeyPair, len(pairs))}
	for _, p := range pairs {
		s.pairs[p.ID] = p
	}
	return s
}

// Load reads every configured pair from disk.
func Load(cfgs []KeyConfig) (*Store, error) {
	pairs := make([]*KeyPair, 0, len(cfgs))
	for _, c := range cfgs {
		p, err := loadPair(c)
		if err != nil {
			return nil, errors.Wrapf(err, "key id %d", c.ID)
		}
		pairs = append(pairs, p)
	}
	return NewStore(pairs...), nil
}

func (s *Store) Get(id uint32) (*KeyPair, bool) {
	p, ok := s.pairs[id]
	return p, ok
}

// IDs lists the loaded key ids in ascending order.
func (s *Store) IDs() []uint32 {
	ids := make([]uint32, 0, len(s.pairs))
	for id := range s.pairs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func loadPair(c KeyConfig) (*KeyPair, error) {
	serverPrivate, err := readPrivate(c.ServerPrivate)
	if err != nil {
		return nil, errors.Wrap(err, "server private")
	}
	var clientPublic, serverPublic *rsa.PublicKey
	var clientPrivate *rsa.PrivateKey
	if c.ClientPublic != "" {
		if clientPublic, err = readPublic(c.ClientPublic); err != nil {
			return nil, errors.Wrap(err, "client public")
		}
	}
	if c.ServerPublic != "" {
		if serverPublic, err = readPublic(c.ServerPublic); err != nil {
			return nil, errors.Wrap(err, "server public")
		}
	}
	if c.ClientPrivate != "" {
		if clientPrivate, err = readPrivate(c.ClientPrivate); err != nil {
			return nil, errors.Wrap(err, "client private")
		}
	}
	return NewKeyPair(c.ID, clientPublic, serverPrivate, serverPublic, clientPrivate)
}

func readPEM(path string) (*pem.Block, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(content)
	if block == nil {
		return nil, errors.Wrap(ErrBadPEM, path)
	}
	return block, nil
}

func readPrivate(path string) (*rsa.PrivateKey, error) {
	if path == "" {
		return nil, ErrNoServerKey
	}
	block, err := readPEM(path)
	if err != nil {
		return nil, err
	}
	return ParsePrivateKey(block.Bytes)
}

func readPublic(path string) (*rsa.PublicKey, error) {
	block, err := readPEM(path)
	if err != nil {
		return nil, err
	}
	return ParsePublicKey(block.Bytes)
}

// ParsePrivateKey accepts PKCS#1 or PKCS#8 DER.
func ParsePrivateKey(der []byte) (*rsa.PrivateKey, error) {
	if k, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return k, nil
	}
	k, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, err
	}
	rk, ok := k.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("keystore: not an RSA private key")
	}
	return rk, nil
}

// ParsePublicKey accepts PKIX or PKCS#1 DER.
func ParsePublicKey(der []byte) (*rsa.PublicKey, error) {
	if k, err := x509.ParsePKCS1PublicKey(der); err == nil {
		return k, nil
	}
	k, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, err
	}
	rk, ok := k.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("keystore: not an RSA public key")
	}
	return rk, nil
}
