package srtp

import (
	"encoding/hex"
	"testing"

	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pion/rtcengine/pkg/crypto"
)

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	require.NoError(t, err)
	return b
}

// Key derivation test vectors from RFC 3711 appendix B.3.
func TestKeyDerivationVectors(t *testing.T) {
	masterKey := mustHex(t, "E1F97A0D3E018BE0D64FA32C06DE4139")
	masterSalt := mustHex(t, "0EC675AD498AFEEBB6960B3AABE6")

	keys, err := deriveSessionKeys(crypto.Std{}, ProfileAes128CmSha1_80, masterKey, masterSalt)
	require.NoError(t, err)

	assert.Equal(t, mustHex(t, "C61E7A93744F39EE10734AFE3FF7A087"), keys.rtpKey)
	assert.Equal(t, mustHex(t, "30CBBC08863D8C85D49DB34A9AE1"), keys.rtpSalt)
	assert.Equal(t, mustHex(t, "CEBE321F6FF7716B6FD4AB49AF256A156D38BAA4"), keys.rtpAuth)
}

func TestSplitKeyingMaterial(t *testing.T) {
	material := make([]byte, ProfileAes128CmSha1_80.KeyingMaterialLen())
	for i := range material {
		material[i] = byte(i)
	}
	km, err := SplitKeyingMaterial(ProfileAes128CmSha1_80, material)
	require.NoError(t, err)
	assert.Equal(t, material[0:16], km.ClientWriteKey)
	assert.Equal(t, material[16:32], km.ServerWriteKey)
	assert.Equal(t, material[32:46], km.ClientWriteSalt)
	assert.Equal(t, material[46:60], km.ServerWriteSalt)

	_, err = SplitKeyingMaterial(ProfileAeadAes128Gcm, material)
	assert.Error(t, err)
}

func TestProfileParameters(t *testing.T) {
	assert.Equal(t, 60, ProfileAes128CmSha1_80.KeyingMaterialLen())
	assert.Equal(t, 56, ProfileAeadAes128Gcm.KeyingMaterialLen())
	assert.Equal(t, uint16(0x0001), ProfileAes128CmSha1_80.ID())
	assert.Equal(t, uint16(0x0007), ProfileAeadAes128Gcm.ID())
	assert.Equal(t, Profiles[0], ProfileAeadAes128Gcm)
}

func testPacket(seq uint16, ssrc uint32) []byte {
	packet := rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    96,
			SequenceNumber: seq,
			Timestamp:      3000,
			SSRC:           ssrc,
		},
		Payload: []byte{0xde, 0xca, 0xfb, 0xad, 0x00, 0x01, 0x02, 0x03},
	}
	raw, err := packet.Marshal()
	if err != nil {
		panic(err)
	}
	return raw
}

func newContextPair(t *testing.T, profile Profile) (*Context, *Context) {
	t.Helper()
	masterKey := mustHex(t, "E1F97A0D3E018BE0D64FA32C06DE4139")
	masterSalt := mustHex(t, "0EC675AD498AFEEBB6960B3AABE6")[:profile.SaltLen()]

	tx, err := CreateContext(profile, masterKey, masterSalt, crypto.Std{})
	require.NoError(t, err)
	rx, err := CreateContext(profile, masterKey, masterSalt, crypto.Std{})
	require.NoError(t, err)
	return tx, rx
}

func TestRtpRoundTrip(t *testing.T) {
	for _, profile := range Profiles {
		tx, rx := newContextPair(t, profile)

		plain := testPacket(100, 0x12345678)
		encrypted, err := tx.EncryptRTP(plain)
		require.NoError(t, err)
		assert.NotEqual(t, plain, encrypted)
		assert.Equal(t, len(plain)+profile.AuthTagLen(), len(encrypted))

		decrypted, err := rx.DecryptRTP(encrypted)
		require.NoError(t, err)
		assert.Equal(t, plain, decrypted, "profile %s", profile)
	}
}

func TestRtpTamperedPacketRejected(t *testing.T) {
	for _, profile := range Profiles {
		tx, rx := newContextPair(t, profile)

		encrypted, err := tx.EncryptRTP(testPacket(7, 0xcafebabe))
		require.NoError(t, err)

		for _, index := range []int{1, 12, len(encrypted) - 1} {
			tampered := append([]byte(nil), encrypted...)
			tampered[index] ^= 0x01
			_, err = rx.DecryptRTP(tampered)
			assert.ErrorIs(t, err, ErrFailedToVerifyAuthTag, "profile %s byte %d", profile, index)
		}
	}
}

// After accepting seq 100 and 101, re-injecting seq 100 is rejected as
// a replay.
func TestRtpReplayRejected(t *testing.T) {
	for _, profile := range Profiles {
		tx, rx := newContextPair(t, profile)

		first, err := tx.EncryptRTP(testPacket(100, 0xabad1dea))
		require.NoError(t, err)
		second, err := tx.EncryptRTP(testPacket(101, 0xabad1dea))
		require.NoError(t, err)

		_, err = rx.DecryptRTP(first)
		require.NoError(t, err)
		_, err = rx.DecryptRTP(second)
		require.NoError(t, err)

		_, err = rx.DecryptRTP(first)
		assert.ErrorIs(t, err, ErrDuplicated)
	}
}

func TestRtpReplayWindowLow(t *testing.T) {
	tx, rx := newContextPair(t, ProfileAes128CmSha1_80)

	packets := map[uint16][]byte{}
	for seq := uint16(0); seq < 70; seq++ {
		encrypted, err := tx.EncryptRTP(testPacket(seq, 1))
		require.NoError(t, err)
		packets[seq] = encrypted
	}

	// Accept the high end first; anything 64 or more below the high
	// watermark falls outside the window.
	_, err := rx.DecryptRTP(packets[69])
	require.NoError(t, err)

	_, err = rx.DecryptRTP(packets[1])
	assert.ErrorIs(t, err, ErrDuplicated)

	// Within the window, unseen packets are still accepted.
	_, err = rx.DecryptRTP(packets[20])
	assert.NoError(t, err)
}

func TestRtpRolloverCounter(t *testing.T) {
	for _, profile := range Profiles {
		tx, rx := newContextPair(t, profile)

		for _, seq := range []uint16{65533, 65534, 65535, 0, 1, 2} {
			encrypted, err := tx.EncryptRTP(testPacket(seq, 42))
			require.NoError(t, err)
			decrypted, err := rx.DecryptRTP(encrypted)
			require.NoError(t, err, "profile %s seq %d", profile, seq)
			assert.Equal(t, testPacket(seq, 42), decrypted)
		}

		state := tx.state(42)
		assert.Equal(t, uint32(1), state.rollover)
	}
}

func rtcpPacket(ssrc uint32) []byte {
	// A minimal receiver report: header with PT 201, one word of
	// sender SSRC, no report blocks.
	return []byte{
		0x80, 0xc9, 0x00, 0x01,
		byte(ssrc >> 24), byte(ssrc >> 16), byte(ssrc >> 8), byte(ssrc),
	}
}

func TestRtcpRoundTrip(t *testing.T) {
	for _, profile := range Profiles {
		tx, rx := newContextPair(t, profile)

		plain := rtcpPacket(0x11223344)
		encrypted, err := tx.EncryptRTCP(plain)
		require.NoError(t, err)

		decrypted, err := rx.DecryptRTCP(encrypted)
		require.NoError(t, err)
		assert.Equal(t, plain, decrypted, "profile %s", profile)
	}
}

func TestRtcpTamperedPacketRejected(t *testing.T) {
	for _, profile := range Profiles {
		tx, rx := newContextPair(t, profile)

		encrypted, err := tx.EncryptRTCP(rtcpPacket(0x55667788))
		require.NoError(t, err)

		tampered := append([]byte(nil), encrypted...)
		tampered[5] ^= 0x80
		_, err = rx.DecryptRTCP(tampered)
		assert.ErrorIs(t, err, ErrFailedToVerifyAuthTag, "profile %s", profile)
	}
}

func TestRtcpReplayRejected(t *testing.T) {
	tx, rx := newContextPair(t, ProfileAeadAes128Gcm)

	encrypted, err := tx.EncryptRTCP(rtcpPacket(9))
	require.NoError(t, err)

	_, err = rx.DecryptRTCP(encrypted)
	require.NoError(t, err)
	_, err = rx.DecryptRTCP(encrypted)
	assert.ErrorIs(t, err, ErrDuplicated)
}

func TestShortPacketsRejected(t *testing.T) {
	_, rx := newContextPair(t, ProfileAes128CmSha1_80)

	_, err := rx.DecryptRTP(testPacket(1, 1)[:12])
	assert.Error(t, err)

	_, err = rx.DecryptRTCP([]byte{0x80, 0xc9})
	assert.ErrorIs(t, err, ErrTooShort)
}
