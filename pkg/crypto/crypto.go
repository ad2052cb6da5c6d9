// Package crypto defines the pluggable cryptography provider the engine
// delegates to: the DTLS identity, the SRTP ciphers and the key
// derivation PRF. The default provider is backed by the standard
// library; alternative providers (OpenSSL, CNG) satisfy the same
// interface.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1" //nolint:gosec // required by the SRTP protocol
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"math/big"
	"time"
)

// ErrBadKeyLength is returned for keys that do not match the cipher.
var ErrBadKeyLength = errors.New("crypto: bad key length")

// CounterModeCipher is a keyed AES counter mode cipher applied with a
// per-packet IV.
type CounterModeCipher interface {
	// XorKeyStream encrypts or decrypts src into dst, which may alias.
	XorKeyStream(iv [16]byte, dst, src []byte) error
}

// Provider supplies the cryptographic primitives the session needs.
type Provider interface {
	// CreateDtlsIdentity generates the local DTLS certificate.
	CreateDtlsIdentity() (*tls.Certificate, error)

	// Aes128CmSha1_80Cipher returns a keyed counter mode cipher for the
	// AES_128_CM_SHA1_80 profile.
	Aes128CmSha1_80Cipher(key []byte) (CounterModeCipher, error)

	// AeadAes128GcmCipher returns a keyed AEAD for the
	// AEAD_AES_128_GCM profile.
	AeadAes128GcmCipher(key []byte) (cipher.AEAD, error)

	// Aes128EcbRound encrypts a single 16 byte block. This is the PRF
	// underlying the RFC 3711 key derivation.
	Aes128EcbRound(key, block []byte) ([16]byte, error)

	// Sha1Hmac computes HMAC-SHA1 over the concatenation of payloads.
	Sha1Hmac(key []byte, payloads ...[]byte) [20]byte
}

// Std is the standard library backed Provider.
type Std struct{}

// CreateDtlsIdentity generates a self-signed ECDSA P-256 certificate.
func (Std) CreateDtlsIdentity() (*tls.Certificate, error) {
	secretKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	serialNumber, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, err
	}
	origin := time.Now()
	template := x509.Certificate{
		SerialNumber:          serialNumber,
		NotBefore:             origin.Add(-24 * time.Hour),
		NotAfter:              origin.Add(365 * 24 * time.Hour),
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage: []x509.ExtKeyUsage{
			x509.ExtKeyUsageClientAuth,
			x509.ExtKeyUsageServerAuth,
		},
		Subject: pkix.Name{CommonName: "rtcengine"},
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, secretKey.Public(), secretKey)
	if err != nil {
		return nil, err
	}
	return &tls.Certificate{
		Certificate: [][]byte{der},
		PrivateKey:  secretKey,
	}, nil
}

// Aes128CmSha1_80Cipher returns an AES-128-CTR cipher keyed with key.
func (Std) Aes128CmSha1_80Cipher(key []byte) (CounterModeCipher, error) {
	if len(key) != 16 {
		return nil, ErrBadKeyLength
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return &ctrCipher{block: block}, nil
}

type ctrCipher struct {
	block cipher.Block
}

func (c *ctrCipher) XorKeyStream(iv [16]byte, dst, src []byte) error {
	cipher.NewCTR(c.block, iv[:]).XORKeyStream(dst, src)
	return nil
}

// AeadAes128GcmCipher returns an AES-128-GCM AEAD keyed with key.
func (Std) AeadAes128GcmCipher(key []byte) (cipher.AEAD, error) {
	if len(key) != 16 {
		return nil, ErrBadKeyLength
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Aes128EcbRound encrypts one block of the key derivation counter.
func (Std) Aes128EcbRound(key, block []byte) ([16]byte, error) {
	var out [16]byte
	if len(block) != 16 {
		return out, ErrBadKeyLength
	}
	aesBlock, err := aes.NewCipher(key)
	if err != nil {
		return out, err
	}
	aesBlock.Encrypt(out[:], block)
	return out, nil
}

// Sha1Hmac computes HMAC-SHA1 over the concatenation of payloads.
func (Std) Sha1Hmac(key []byte, payloads ...[]byte) [20]byte {
	mac := hmac.New(sha1.New, key)
	for _, p := range payloads {
		mac.Write(p) //nolint:errcheck // hash writes never fail
	}
	var out [20]byte
	copy(out[:], mac.Sum(nil))
	return out
}
