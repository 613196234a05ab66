package keystore

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func genKey(t *testing.T) *rsa.PrivateKey {
	k, err := rsa.GenerateKey(rand.Reader, 1024)
	require.NoError(t, err)
	return k
}

func testPair(t *testing.T) *KeyPair {
	client, server := genKey(t), genKey(t)
	p, err := NewKeyPair(1, &client.PublicKey, server, nil, client)
	require.NoError(t, err)
	return p
}

func TestClientToServerRoundTrip(t *testing.T) {
	p := testPair(t)
	for _, n := range []int{1, 8, 117, 118, 500} {
		msg := make([]byte, n)
		rand.Read(msg)
		ct, err := p.EncryptForServer(msg)
		require.NoError(t, err)
		assert.Equal(t, 0, len(ct)%128)

		pt, ok := p.DecryptFromClient(ct)
		require.True(t, ok, "len %d", n)
		assert.Equal(t, msg, pt)
	}
}

func TestServerToClientRoundTrip(t *testing.T) {
	p := testPair(t)
	msg := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	ct, err := p.EncryptForClient(msg)
	require.NoError(t, err)
	pt, ok := p.DecryptFromServer(ct)
	require.True(t, ok)
	assert.Equal(t, msg, pt)

	_, ok = p.DecryptFromClient(ct)
	assert.False(t, ok)
}

func TestDecryptFailuresReturnEmpty(t *testing.T) {
	p := testPair(t)
	pt, ok := p.DecryptFromClient(nil)
	assert.False(t, ok)
	assert.Nil(t, pt)

	_, ok = p.DecryptFromClient([]byte("short"))
	assert.False(t, ok)

	junk := make([]byte, 128)
	rand.Read(junk)
	_, ok = p.DecryptFromClient(junk)
	assert.False(t, ok)
}

func TestSignVerify(t *testing.T) {
	p := testPair(t)
	sig, err := p.Sign([]byte("server random"))
	require.NoError(t, err)
	assert.NoError(t, p.Verify([]byte("server random"), sig))
	assert.Error(t, p.Verify([]byte("other"), sig))
}

func TestNewKeyPairRequiresKeys(t *testing.T) {
	k := genKey(t)
	_, err := NewKeyPair(1, &k.PublicKey, nil, nil, nil)
	assert.ErrorIs(t, err, ErrNoServerKey)
	_, err = NewKeyPair(1, nil, k, nil, nil)
	assert.ErrorIs(t, err, ErrNoClientKey)
}

func writePEM(t *testing.T, dir, name, typ string, der []byte) string {
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(&pem.Block{Type: typ, Bytes: der}), 0600))
	return path
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	client, server := genKey(t), genKey(t)
	pkix, err := x509.MarshalPKIXPublicKey(&client.PublicKey)
	require.NoError(t, err)
	pkcs8, err := x509.MarshalPKCS8PrivateKey(server)
	require.NoError(t, err)

	cfg := KeyConfig{
		ID:            5,
		ClientPublic:  writePEM(t, dir, "client_pub.pem", "PUBLIC KEY", pkix),
		ServerPrivate: writePEM(t, dir, "server.pem", "PRIVATE KEY", pkcs8),
		ClientPrivate: writePEM(t, dir, "client.pem", "RSA PRIVATE KEY", x509.MarshalPKCS1PrivateKey(client)),
	}
	s, err := Load([]KeyConfig{cfg})
	require.NoError(t, err)
	assert.Equal(t, []uint32{5}, s.IDs())

	p, ok := s.Get(5)
	require.True(t, ok)
	ct, err := p.EncryptForServer([]byte("x"))
	require.NoError(t, err)
	pt, ok := p.DecryptFromClient(ct)
	require.True(t, ok)
	assert.Equal(t, []byte("x"), pt)

	_, ok = s.Get(6)
	assert.False(t, ok)
}

func TestLoadBadPEM(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.pem")
	require.NoError(t, os.WriteFile(path, []byte("not pem"), 0600))
	_, err := Load([]KeyConfig{{ID: 1, ServerPrivate: path}})
	assert.ErrorIs(t, err, ErrBadPEM)
}

func TestClientPairTalksToServerPair(t *testing.T) {
	dir := t.TempDir()
	client, server := genKey(t), genKey(t)
	srvPair, err := NewKeyPair(3, &client.PublicKey, server, nil, nil)
	require.NoError(t, err)
	cliPair, err := LoadClientPair(KeyConfig{
		ID:            3,
		ServerPublic:  writePEM(t, dir, "server_pub.pem", "RSA PUBLIC KEY", x509.MarshalPKCS1PublicKey(&server.PublicKey)),
		ClientPrivate: writePEM(t, dir, "client.pem", "RSA PRIVATE KEY", x509.MarshalPKCS1PrivateKey(client)),
	})
	require.NoError(t, err)

	ct, err := cliPair.EncryptForServer([]byte("12345678"))
	require.NoError(t, err)
	pt, ok := srvPair.DecryptFromClient(ct)
	require.True(t, ok)
	assert.Equal(t, []byte("12345678"), pt)

	ct, err = srvPair.EncryptForClient([]byte("87654321"))
	require.NoError(t, err)
	pt, ok = cliPair.DecryptFromServer(ct)
	require.True(t, ok)
	sig, err := srvPair.Sign(pt)
	require.NoError(t, err)
	assert.NoError(t, cliPair.Verify(pt, sig))

	// the client side holds no server secrets
	_, ok = cliPair.DecryptFromClient(ct)
	assert.False(t, ok)
	_, err = cliPair.Sign(pt)
	assert.ErrorIs(t, err, ErrNoServerKey)
	_, ok = srvPair.DecryptFromServer(ct)
	assert.False(t, ok)

	_, err = LoadClientPair(KeyConfig{ID: 3})
	assert.ErrorIs(t, err, ErrNoServerKey)
}
