package mux

// MatchFunc allows custom logic for mapping packets to an Endpoint.
type MatchFunc func([]byte) bool

// MatchRange returns a MatchFunc that matches when the first byte of the
// packet falls in [lower, upper].
func MatchRange(lower, upper byte) MatchFunc {
	return func(buf []byte) bool {
		if len(buf) < 1 {
			return false
		}
		return buf[0] >= lower && buf[0] <= upper
	}
}

// Demux first-byte ranges per RFC 7983.
var (
	// MatchSTUN is a STUN packet.
	MatchSTUN = MatchRange(0, 3)
	// MatchDTLS is a DTLS record.
	MatchDTLS = MatchRange(20, 63)
	// MatchTURNChannel is TURN channel data.
	MatchTURNChannel = MatchRange(64, 79)
	// MatchSRTPOrSRTCP is an RTP or RTCP packet.
	MatchSRTPOrSRTCP = MatchRange(128, 191)
)

// IsRTCP distinguishes RTCP from RTP inside the SRTP range by the
// payload type in the second byte (RFC 5761: 64-95 after masking the
// marker bit).
func IsRTCP(buf []byte) bool {
	if len(buf) < 2 {
		return false
	}
	pt := buf[1] & 0x7f
	return pt >= 64 && pt <= 95
}

// MatchSRTP is an RTP packet.
func MatchSRTP(buf []byte) bool {
	return MatchSRTPOrSRTCP(buf) && !IsRTCP(buf)
}

// MatchSRTCP is an RTCP packet.
func MatchSRTCP(buf []byte) bool {
	return MatchSRTPOrSRTCP(buf) && IsRTCP(buf)
}
