package srtp

import (
	"encoding/binary"

	"github.com/pion/rtcengine/pkg/crypto"
)

// RFC 3711 4.3.2 key derivation labels.
const (
	labelSRTPEncryption  byte = 0x00
	labelSRTPAuth        byte = 0x01
	labelSRTPSalt        byte = 0x02
	labelSRTCPEncryption byte = 0x03
	labelSRTCPAuth       byte = 0x04
	labelSRTCPSalt       byte = 0x05
)

// KeyingMaterial is the DTLS-exported material split into directional
// master keys and salts (RFC 5764 4.2).
type KeyingMaterial struct {
	ClientWriteKey  []byte
	ServerWriteKey  []byte
	ClientWriteSalt []byte
	ServerWriteSalt []byte
}

// SplitKeyingMaterial splits material exported from DTLS as
// client_write_key || server_write_key || client_write_salt ||
// server_write_salt.
func SplitKeyingMaterial(profile Profile, material []byte) (*KeyingMaterial, error) {
	keyLen, saltLen := profile.KeyLen(), profile.SaltLen()
	if len(material) != profile.KeyingMaterialLen() {
		return nil, errKeyingMaterialLength
	}
	offset := 0
	next := func(n int) []byte {
		out := material[offset : offset+n]
		offset += n
		return out
	}
	return &KeyingMaterial{
		ClientWriteKey:  next(keyLen),
		ServerWriteKey:  next(keyLen),
		ClientWriteSalt: next(saltLen),
		ServerWriteSalt: next(saltLen),
	}, nil
}

// aesCmKeyDerivation derives outLen bytes for label from the master key
// and salt with the AES-CM PRF (RFC 3711 4.3.1, key derivation rate 0).
func aesCmKeyDerivation(
	provider crypto.Provider,
	label byte,
	masterKey, masterSalt []byte,
	outLen int,
) ([]byte, error) {
	// The PRF input is the master salt with the label XORed in, padded
	// to the AES block and followed by a 16-bit block counter.
	prfIn := make([]byte, 16)
	copy(prfIn, masterSalt)
	prfIn[7] ^= label

	out := make([]byte, ((outLen+15)/16)*16)
	var counter uint16
	for n := 0; n < outLen; n += 16 {
		binary.BigEndian.PutUint16(prfIn[14:], counter)
		block, err := provider.Aes128EcbRound(masterKey, prfIn)
		if err != nil {
			return nil, err
		}
		copy(out[n:], block[:])
		counter++
	}
	return out[:outLen], nil
}

type sessionKeys struct {
	rtpKey  []byte
	rtpSalt []byte
	rtpAuth []byte

	rtcpKey  []byte
	rtcpSalt []byte
	rtcpAuth []byte
}

func deriveSessionKeys(
	provider crypto.Provider,
	profile Profile,
	masterKey, masterSalt []byte,
) (*sessionKeys, error) {
	keys := &sessionKeys{}
	for _, derive := range []struct {
		label byte
		dst   *[]byte
		n     int
	}{
		{labelSRTPEncryption, &keys.rtpKey, profile.KeyLen()},
		{labelSRTPAuth, &keys.rtpAuth, profile.AuthKeyLen()},
		{labelSRTPSalt, &keys.rtpSalt, profile.SaltLen()},
		{labelSRTCPEncryption, &keys.rtcpKey, profile.KeyLen()},
		{labelSRTCPAuth, &keys.rtcpAuth, profile.AuthKeyLen()},
		{labelSRTCPSalt, &keys.rtcpSalt, profile.SaltLen()},
	} {
		if derive.n == 0 {
			continue
		}
		out, err := aesCmKeyDerivation(provider, derive.label, masterKey, masterSalt, derive.n)
		if err != nil {
			return nil, err
		}
		*derive.dst = out
	}
	return keys, nil
}
