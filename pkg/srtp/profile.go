// Package srtp implements the SRTP/SRTCP transform: session key
// derivation from DTLS keying material, per-packet IV construction,
// authenticated encryption and per-SSRC replay and rollover tracking
// (RFC 3711, RFC 7714).
package srtp

// Profile is a negotiated SRTP protection profile.
type Profile int

const (
	// ProfileAes128CmSha1_80 is SRTP_AES128_CM_HMAC_SHA1_80 (0x0001).
	ProfileAes128CmSha1_80 Profile = iota
	// ProfileAeadAes128Gcm is SRTP_AEAD_AES_128_GCM (0x0007).
	ProfileAeadAes128Gcm
)

// Profiles lists the supported profiles, most preferred first.
var Profiles = []Profile{ProfileAeadAes128Gcm, ProfileAes128CmSha1_80}

// IANA protection profile ids, also used by the DTLS use_srtp extension.
const (
	profileIDAes128CmSha1_80 uint16 = 0x0001
	profileIDAeadAes128Gcm   uint16 = 0x0007
)

// ProfileFromID maps an IANA profile id to a Profile.
func ProfileFromID(id uint16) (Profile, bool) {
	switch id {
	case profileIDAes128CmSha1_80:
		return ProfileAes128CmSha1_80, true
	case profileIDAeadAes128Gcm:
		return ProfileAeadAes128Gcm, true
	default:
		return 0, false
	}
}

// ID returns the IANA profile id.
func (p Profile) ID() uint16 {
	if p == ProfileAeadAes128Gcm {
		return profileIDAeadAes128Gcm
	}
	return profileIDAes128CmSha1_80
}

// KeyLen returns the master and session key length in bytes.
func (p Profile) KeyLen() int { return 16 }

// SaltLen returns the master and session salt length in bytes.
func (p Profile) SaltLen() int {
	if p == ProfileAeadAes128Gcm {
		return 12
	}
	return 14
}

// AuthKeyLen returns the session authentication key length in bytes.
// Zero for the AEAD profile, which authenticates in the cipher.
func (p Profile) AuthKeyLen() int {
	if p == ProfileAeadAes128Gcm {
		return 0
	}
	return 20
}

// AuthTagLen returns the per-packet tag length in bytes.
func (p Profile) AuthTagLen() int {
	if p == ProfileAeadAes128Gcm {
		return 16
	}
	return 10
}

// KeyingMaterialLen returns the number of bytes to export from the DTLS
// session (RFC 5705) for this profile.
func (p Profile) KeyingMaterialLen() int {
	return 2*p.KeyLen() + 2*p.SaltLen()
}

func (p Profile) String() string {
	if p == ProfileAeadAes128Gcm {
		return "SRTP_AEAD_AES_128_GCM"
	}
	return "SRTP_AES128_CM_SHA1_80"
}
