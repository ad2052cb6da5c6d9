package crypto

import (
	"crypto/x509"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// FIPS-197 appendix C.1 AES-128 vector.
func TestAes128EcbRound(t *testing.T) {
	key, _ := hex.DecodeString("000102030405060708090a0b0c0d0e0f")
	block, _ := hex.DecodeString("00112233445566778899aabbccddeeff")
	expected, _ := hex.DecodeString("69c4e0d86a7b0430d8cdb78070b4c55a")

	out, err := Std{}.Aes128EcbRound(key, block)
	require.NoError(t, err)
	assert.Equal(t, expected, out[:])
}

// RFC 2202 test case 1 for HMAC-SHA1.
func TestSha1Hmac(t *testing.T) {
	key := make([]byte, 20)
	for i := range key {
		key[i] = 0x0b
	}
	expected, _ := hex.DecodeString("b617318655057264e28bc0b6fb378c8ef146be00")

	out := Std{}.Sha1Hmac(key, []byte("Hi "), []byte("There"))
	assert.Equal(t, expected, out[:])
}

func TestCounterModeCipherRoundTrip(t *testing.T) {
	key := make([]byte, 16)
	cipher, err := Std{}.Aes128CmSha1_80Cipher(key)
	require.NoError(t, err)

	iv := [16]byte{1, 2, 3}
	src := []byte("counter mode payload")
	dst := make([]byte, len(src))
	require.NoError(t, cipher.XorKeyStream(iv, dst, src))
	assert.NotEqual(t, src, dst)

	back := make([]byte, len(dst))
	require.NoError(t, cipher.XorKeyStream(iv, back, dst))
	assert.Equal(t, src, back)
}

func TestAeadRoundTrip(t *testing.T) {
	key := make([]byte, 16)
	aead, err := Std{}.AeadAes128GcmCipher(key)
	require.NoError(t, err)

	nonce := make([]byte, aead.NonceSize())
	sealed := aead.Seal(nil, nonce, []byte("hello"), []byte("aad"))
	opened, err := aead.Open(nil, nonce, sealed, []byte("aad"))
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), opened)

	_, err = aead.Open(nil, nonce, sealed, []byte("tampered"))
	assert.Error(t, err)
}

func TestCreateDtlsIdentity(t *testing.T) {
	identity, err := Std{}.CreateDtlsIdentity()
	require.NoError(t, err)
	require.Len(t, identity.Certificate, 1)

	cert, err := x509.ParseCertificate(identity.Certificate[0])
	require.NoError(t, err)
	assert.Equal(t, "rtcengine", cert.Subject.CommonName)
	assert.NotNil(t, identity.PrivateKey)
}

func TestBadKeyLengths(t *testing.T) {
	_, err := Std{}.Aes128CmSha1_80Cipher(make([]byte, 8))
	assert.ErrorIs(t, err, ErrBadKeyLength)
	_, err = Std{}.AeadAes128GcmCipher(make([]byte, 8))
	assert.ErrorIs(t, err, ErrBadKeyLength)
	_, err = Std{}.Aes128EcbRound(make([]byte, 16), make([]byte, 8))
	assert.ErrorIs(t, err, ErrBadKeyLength)
}
