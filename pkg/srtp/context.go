package srtp

import (
	"crypto/cipher"
	"crypto/hmac"
	"encoding/binary"
	"errors"

	"github.com/pion/rtp"
	"github.com/pion/transport/v3/replaydetector"

	"github.com/pion/rtcengine/pkg/crypto"
)

// Transform errors. Callers drop the offending packet and continue.
var (
	// ErrFailedToVerifyAuthTag means the authentication tag did not
	// match, either from tampering or a key mismatch.
	ErrFailedToVerifyAuthTag = errors.New("srtp: failed to verify auth tag")
	// ErrDuplicated means the packet index was already accepted or fell
	// below the replay window.
	ErrDuplicated = errors.New("srtp: duplicated packet")
	// ErrTooShort means the packet cannot carry the profile's tag.
	ErrTooShort = errors.New("srtp: packet too short")

	errKeyingMaterialLength = errors.New("srtp: keying material has wrong length")
)

const (
	// The replay window must be at least 64 packets (RFC 3711 3.3.2).
	minReplayWindow     = 64
	defaultReplayWindow = 64

	maxSRTPIndex  = 1<<48 - 1
	maxSRTCPIndex = 1<<31 - 1

	srtcpHeaderLen = 8
	srtcpIndexLen  = 4
)

// Context is one direction of the SRTP/SRTCP transform: session keys
// derived from a master key and salt, plus per-SSRC rollover and replay
// state.
type Context struct {
	profile  Profile
	provider crypto.Provider

	keys *sessionKeys

	// Counter mode ciphers for the SHA1 profile.
	rtpCipher  crypto.CounterModeCipher
	rtcpCipher crypto.CounterModeCipher

	// AEADs for the GCM profile.
	rtpAead  cipher.AEAD
	rtcpAead cipher.AEAD

	states       map[uint32]*ssrcState
	replayWindow uint
}

// ContextOption configures a Context.
type ContextOption func(*Context)

// WithReplayWindow sets the replay window width in packets. Values below
// 64 are raised to 64.
func WithReplayWindow(size uint) ContextOption {
	return func(c *Context) {
		if size < minReplayWindow {
			size = minReplayWindow
		}
		c.replayWindow = size
	}
}

// CreateContext creates a transform for one direction from a master key
// and master salt.
func CreateContext(
	profile Profile,
	masterKey, masterSalt []byte,
	provider crypto.Provider,
	opts ...ContextOption,
) (*Context, error) {
	if len(masterKey) != profile.KeyLen() || len(masterSalt) != profile.SaltLen() {
		return nil, errKeyingMaterialLength
	}

	keys, err := deriveSessionKeys(provider, profile, masterKey, masterSalt)
	if err != nil {
		return nil, err
	}

	ctx := &Context{
		profile:      profile,
		provider:     provider,
		keys:         keys,
		states:       map[uint32]*ssrcState{},
		replayWindow: defaultReplayWindow,
	}
	for _, opt := range opts {
		opt(ctx)
	}

	switch profile {
	case ProfileAes128CmSha1_80:
		if ctx.rtpCipher, err = provider.Aes128CmSha1_80Cipher(keys.rtpKey); err != nil {
			return nil, err
		}
		if ctx.rtcpCipher, err = provider.Aes128CmSha1_80Cipher(keys.rtcpKey); err != nil {
			return nil, err
		}
	case ProfileAeadAes128Gcm:
		if ctx.rtpAead, err = provider.AeadAes128GcmCipher(keys.rtpKey); err != nil {
			return nil, err
		}
		if ctx.rtcpAead, err = provider.AeadAes128GcmCipher(keys.rtcpKey); err != nil {
			return nil, err
		}
	}
	return ctx, nil
}

// Profile returns the negotiated protection profile.
func (c *Context) Profile() Profile { return c.profile }

type ssrcState struct {
	rollover   uint32
	highestSeq uint16
	seen       bool
	replay     replaydetector.ReplayDetector

	rtcpTxIndex uint32
	rtcpReplay  replaydetector.ReplayDetector
}

func (c *Context) state(ssrc uint32) *ssrcState {
	s, ok := c.states[ssrc]
	if !ok {
		s = &ssrcState{
			replay:     replaydetector.WithWrap(c.replayWindow, maxSRTPIndex),
			rtcpReplay: replaydetector.WithWrap(c.replayWindow, maxSRTCPIndex),
		}
		c.states[ssrc] = s
	}
	return s
}

// guessIndex reconstructs the 48-bit SRTP index from a 16-bit sequence
// number by choosing the rollover counter among {ROC-1, ROC, ROC+1}
// minimizing distance to the last accepted index. The returned commit
// advances the state and must only be called once the packet is
// authenticated.
func (s *ssrcState) guessIndex(seq uint16) (uint64, func()) {
	if !s.seen {
		index := uint64(seq)
		return index, func() {
			s.seen = true
			s.rollover = 0
			s.highestSeq = seq
		}
	}

	last := uint64(s.rollover)<<16 | uint64(s.highestSeq)
	index := uint64(s.rollover)<<16 | uint64(seq)
	dist := absDiff(index, last)
	for _, delta := range []int64{-1, 1} {
		roc := int64(s.rollover) + delta
		if roc < 0 || roc > maxSRTPIndex>>16 {
			continue
		}
		candidate := uint64(roc)<<16 | uint64(seq)
		if d := absDiff(candidate, last); d < dist {
			index, dist = candidate, d
		}
	}
	return index, func() {
		if index > last {
			s.rollover = uint32(index >> 16)
			s.highestSeq = seq
		}
	}
}

func absDiff(a, b uint64) uint64 {
	if a > b {
		return a - b
	}
	return b - a
}

// rtpIVCm builds the 16-byte AES-CM IV (RFC 3711 4.1.1): the SSRC at
// bytes 4-8, the 48-bit packet index shifted left 16 bits, all XORed
// with the session salt.
func rtpIVCm(salt []byte, ssrc uint32, index uint64) [16]byte {
	var iv [16]byte
	binary.BigEndian.PutUint32(iv[4:], ssrc)
	var indexBytes [8]byte
	binary.BigEndian.PutUint64(indexBytes[:], index)
	for i := 0; i < 8; i++ {
		iv[i+6] ^= indexBytes[i]
	}
	for i := 0; i < 14; i++ {
		iv[i] ^= salt[i]
	}
	return iv
}

// rtpIVGcm builds the 12-byte AEAD RTP IV (RFC 7714 8.1).
func rtpIVGcm(salt []byte, ssrc, roc uint32, seq uint16) [12]byte {
	var iv [12]byte
	binary.BigEndian.PutUint32(iv[2:], ssrc)
	binary.BigEndian.PutUint32(iv[6:], roc)
	binary.BigEndian.PutUint16(iv[10:], seq)
	for i := 0; i < 12; i++ {
		iv[i] ^= salt[i]
	}
	return iv
}

// rtcpIVGcm builds the 12-byte AEAD RTCP IV (RFC 7714 9.1).
func rtcpIVGcm(salt []byte, ssrc, index uint32) [12]byte {
	var iv [12]byte
	binary.BigEndian.PutUint32(iv[2:], ssrc)
	binary.BigEndian.PutUint32(iv[8:], index)
	for i := 0; i < 12; i++ {
		iv[i] ^= salt[i]
	}
	return iv
}

// EncryptRTP protects one RTP packet, returning header || encrypted
// payload || tag.
func (c *Context) EncryptRTP(plaintext []byte) ([]byte, error) {
	var header rtp.Header
	headerLen, err := header.Unmarshal(plaintext)
	if err != nil {
		return nil, err
	}
	s := c.state(header.SSRC)
	index, commit := s.guessIndex(header.SequenceNumber)
	commit()

	payload := plaintext[headerLen:]
	if c.profile == ProfileAeadAes128Gcm {
		iv := rtpIVGcm(c.keys.rtpSalt, header.SSRC, uint32(index>>16), header.SequenceNumber)
		out := make([]byte, headerLen, headerLen+len(payload)+c.rtpAead.Overhead())
		copy(out, plaintext[:headerLen])
		return c.rtpAead.Seal(out, iv[:], payload, plaintext[:headerLen]), nil
	}

	out := make([]byte, len(plaintext)+c.profile.AuthTagLen())
	copy(out, plaintext[:headerLen])
	iv := rtpIVCm(c.keys.rtpSalt, header.SSRC, index)
	if err := c.rtpCipher.XorKeyStream(iv, out[headerLen:len(plaintext)], payload); err != nil {
		return nil, err
	}
	// The SHA1 tag covers the packet and the rollover counter.
	var rocBytes [4]byte
	binary.BigEndian.PutUint32(rocBytes[:], uint32(index>>16))
	tag := c.provider.Sha1Hmac(c.keys.rtpAuth, out[:len(plaintext)], rocBytes[:])
	copy(out[len(plaintext):], tag[:c.profile.AuthTagLen()])
	return out, nil
}

// DecryptRTP authenticates and decrypts one SRTP packet, returning
// header || payload. Replayed and tampered packets are rejected.
func (c *Context) DecryptRTP(encrypted []byte) ([]byte, error) {
	var header rtp.Header
	headerLen, err := header.Unmarshal(encrypted)
	if err != nil {
		return nil, err
	}
	if len(encrypted) < headerLen+c.profile.AuthTagLen() {
		return nil, ErrTooShort
	}

	s := c.state(header.SSRC)
	index, commit := s.guessIndex(header.SequenceNumber)
	accept, ok := s.replay.Check(index)
	if !ok {
		return nil, ErrDuplicated
	}

	if c.profile == ProfileAeadAes128Gcm {
		iv := rtpIVGcm(c.keys.rtpSalt, header.SSRC, uint32(index>>16), header.SequenceNumber)
		out := make([]byte, headerLen, len(encrypted)-c.rtpAead.Overhead())
		copy(out, encrypted[:headerLen])
		out, err = c.rtpAead.Open(out, iv[:], encrypted[headerLen:], encrypted[:headerLen])
		if err != nil {
			return nil, ErrFailedToVerifyAuthTag
		}
		accept()
		commit()
		return out, nil
	}

	tagStart := len(encrypted) - c.profile.AuthTagLen()
	var rocBytes [4]byte
	binary.BigEndian.PutUint32(rocBytes[:], uint32(index>>16))
	expected := c.provider.Sha1Hmac(c.keys.rtpAuth, encrypted[:tagStart], rocBytes[:])
	if !hmac.Equal(expected[:c.profile.AuthTagLen()], encrypted[tagStart:]) {
		return nil, ErrFailedToVerifyAuthTag
	}

	out := make([]byte, tagStart)
	copy(out, encrypted[:headerLen])
	iv := rtpIVCm(c.keys.rtpSalt, header.SSRC, index)
	if err := c.rtpCipher.XorKeyStream(iv, out[headerLen:], encrypted[headerLen:tagStart]); err != nil {
		return nil, err
	}
	accept()
	commit()
	return out, nil
}

// EncryptRTCP protects one RTCP compound packet, returning header ||
// encrypted payload || E+index || tag (tag only for the SHA1 profile;
// the AEAD folds it into the payload).
func (c *Context) EncryptRTCP(plaintext []byte) ([]byte, error) {
	if len(plaintext) < srtcpHeaderLen {
		return nil, ErrTooShort
	}
	ssrc := binary.BigEndian.Uint32(plaintext[4:8])
	s := c.state(ssrc)
	index := s.rtcpTxIndex
	s.rtcpTxIndex = (s.rtcpTxIndex + 1) & maxSRTCPIndex

	// The E flag is always set; we never send unencrypted SRTCP.
	eIndex := index | 1<<31

	if c.profile == ProfileAeadAes128Gcm {
		iv := rtcpIVGcm(c.keys.rtcpSalt, ssrc, index)
		var aad [srtcpHeaderLen + srtcpIndexLen]byte
		copy(aad[:], plaintext[:srtcpHeaderLen])
		binary.BigEndian.PutUint32(aad[srtcpHeaderLen:], eIndex)

		out := make([]byte, srtcpHeaderLen, len(plaintext)+c.rtcpAead.Overhead()+srtcpIndexLen)
		copy(out, plaintext[:srtcpHeaderLen])
		out = c.rtcpAead.Seal(out, iv[:], plaintext[srtcpHeaderLen:], aad[:])
		return append(out, aad[srtcpHeaderLen:]...), nil
	}

	out := make([]byte, len(plaintext)+srtcpIndexLen+c.profile.AuthTagLen())
	copy(out, plaintext[:srtcpHeaderLen])
	iv := rtpIVCm(c.keys.rtcpSalt, ssrc, uint64(index))
	if err := c.rtcpCipher.XorKeyStream(iv, out[srtcpHeaderLen:len(plaintext)], plaintext[srtcpHeaderLen:]); err != nil {
		return nil, err
	}
	binary.BigEndian.PutUint32(out[len(plaintext):], eIndex)
	tag := c.provider.Sha1Hmac(c.keys.rtcpAuth, out[:len(plaintext)+srtcpIndexLen])
	copy(out[len(plaintext)+srtcpIndexLen:], tag[:c.profile.AuthTagLen()])
	return out, nil
}

// DecryptRTCP authenticates and decrypts one SRTCP packet.
func (c *Context) DecryptRTCP(encrypted []byte) ([]byte, error) {
	tailLen := srtcpIndexLen
	if c.profile == ProfileAes128CmSha1_80 {
		tailLen += c.profile.AuthTagLen()
	}
	if len(encrypted) < srtcpHeaderLen+tailLen {
		return nil, ErrTooShort
	}
	ssrc := binary.BigEndian.Uint32(encrypted[4:8])
	s := c.state(ssrc)

	indexStart := len(encrypted) - tailLen
	eIndex := binary.BigEndian.Uint32(encrypted[indexStart : indexStart+srtcpIndexLen])
	index := eIndex & maxSRTCPIndex

	accept, ok := s.rtcpReplay.Check(uint64(index))
	if !ok {
		return nil, ErrDuplicated
	}

	if c.profile == ProfileAeadAes128Gcm {
		iv := rtcpIVGcm(c.keys.rtcpSalt, ssrc, index)
		var aad [srtcpHeaderLen + srtcpIndexLen]byte
		copy(aad[:], encrypted[:srtcpHeaderLen])
		binary.BigEndian.PutUint32(aad[srtcpHeaderLen:], eIndex)

		out := make([]byte, srtcpHeaderLen, indexStart-c.rtcpAead.Overhead())
		copy(out, encrypted[:srtcpHeaderLen])
		out, err := c.rtcpAead.Open(out, iv[:], encrypted[srtcpHeaderLen:indexStart], aad[:])
		if err != nil {
			return nil, ErrFailedToVerifyAuthTag
		}
		accept()
		return out, nil
	}

	tagStart := len(encrypted) - c.profile.AuthTagLen()
	expected := c.provider.Sha1Hmac(c.keys.rtcpAuth, encrypted[:tagStart])
	if !hmac.Equal(expected[:c.profile.AuthTagLen()], encrypted[tagStart:]) {
		return nil, ErrFailedToVerifyAuthTag
	}

	out := make([]byte, indexStart)
	copy(out, encrypted[:srtcpHeaderLen])
	if eIndex&1<<31 > 0 {
		iv := rtpIVCm(c.keys.rtcpSalt, ssrc, uint64(index))
		if err := c.rtcpCipher.XorKeyStream(iv, out[srtcpHeaderLen:], encrypted[srtcpHeaderLen:indexStart]); err != nil {
			return nil, err
		}
	} else {
		copy(out[srtcpHeaderLen:], encrypted[srtcpHeaderLen:indexStart])
	}
	accept()
	return out, nil
}
