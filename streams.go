package rtcengine

import (
	"github.com/pion/rtp"

	"github.com/pion/rtcengine/pkg/rtcerr"
	"github.com/pion/rtcengine/pkg/rtpext"
)

type mediaDecl struct {
	mid  rtpext.Mid
	kind MediaKind
}

// streamRx is one receive stream, addressed by SSRC. It holds the
// dependency descriptor cache that must follow decode order.
type streamRx struct {
	ssrc uint32
	mid  rtpext.Mid
	rid  rtpext.Rid

	bytesRx    uint64
	packetsRx  uint64
	highestSeq uint16

	ddStructure   *rtpext.SharedStructure
	ddBitmask     *uint32
	ddFrameNumber uint16
	ddSeen        bool
}

// kindForMid returns the declared media kind for mid. Undeclared mids
// count as video, which has the wider extension set.
func (s *Session) kindForMid(mid rtpext.Mid) MediaKind {
	for _, m := range s.medias {
		if m.mid == mid {
			return m.kind
		}
	}
	return MediaKindVideo
}

// frameNumberNewer is a wrap-aware decode order comparison of 16-bit
// frame numbers.
func frameNumberNewer(a, b uint16) bool {
	return int16(a-b) > 0
}

// parseDependencyDescriptor parses raw against the cached structure and
// bitmask. Cache updates are applied only when the packet is the latest
// seen in decode order, so out-of-order arrivals never overwrite newer
// state.
func (r *streamRx) parseDependencyDescriptor(raw []byte) (*rtpext.DependencyDescriptor, error) {
	parsed, err := rtpext.ParseDependencyDescriptor(raw, r.ddStructure, r.ddBitmask)
	if err != nil {
		return nil, err
	}
	if !r.ddSeen || frameNumberNewer(parsed.FrameNumber, r.ddFrameNumber) {
		if parsed.UpdatedSharedStructure != nil {
			r.ddStructure = parsed.UpdatedSharedStructure
		}
		if parsed.UpdatedActiveDecodeTargetsBitmask != nil {
			r.ddBitmask = parsed.UpdatedActiveDecodeTargetsBitmask
		}
		r.ddSeen = true
		r.ddFrameNumber = parsed.FrameNumber
	}
	return parsed, nil
}

// StreamTx is a declared transmit stream. WriteRtp numbers, extends,
// protects and queues one packet.
type StreamTx struct {
	session *Session

	ssrc    uint32
	rtxSsrc uint32
	mid     rtpext.Mid
	rid     rtpext.Rid

	seq     uint16
	bytesTx uint64
}

// Ssrc returns the stream's SSRC.
func (t *StreamTx) Ssrc() uint32 { return t.ssrc }

// Mid returns the stream's media id.
func (t *StreamTx) Mid() rtpext.Mid { return t.mid }

// Rid returns the stream's restriction id, empty when unset.
func (t *StreamTx) Rid() rtpext.Rid { return t.rid }

// WriteRtp builds, protects and queues one RTP packet. The mid and rid
// extensions are filled from the stream declaration when values does
// not set them. Requires the session to be connected.
func (t *StreamTx) WriteRtp(
	payloadType uint8,
	timestamp uint32,
	marker bool,
	values *rtpext.ExtensionValues,
	payload []byte,
) error {
	s := t.session
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == SessionStateDisconnected {
		return &rtcerr.StateError{Err: ErrSessionClosed}
	}
	if s.srtpTx == nil {
		return &rtcerr.StateError{Err: ErrNotConnected}
	}

	if values == nil {
		values = &rtpext.ExtensionValues{}
	}
	if values.Mid == nil {
		values.Mid = &t.mid
	}
	if values.Rid == nil && t.rid != "" {
		values.Rid = &t.rid
	}

	header := rtp.Header{
		Version:        2,
		Marker:         marker,
		PayloadType:    payloadType,
		SequenceNumber: t.seq,
		Timestamp:      timestamp,
		SSRC:           t.ssrc,
	}
	t.seq++

	audio := s.kindForMid(t.mid) == MediaKindAudio
	var scratch [255]byte
	for _, mapping := range s.extmap.Mappings(audio) {
		n := mapping.Extension.WriteTo(scratch[:], values)
		if n == 0 {
			continue
		}
		if err := header.SetExtension(mapping.ID, scratch[:n]); err != nil {
			return &rtcerr.ProtocolError{Err: err}
		}
	}

	packet := rtp.Packet{Header: header, Payload: payload}
	raw, err := packet.Marshal()
	if err != nil {
		return &rtcerr.ProtocolError{Err: err}
	}
	protected, err := s.srtpTx.EncryptRTP(raw)
	if err != nil {
		return &rtcerr.ProtocolError{Err: err}
	}

	t.bytesTx += uint64(len(payload))
	s.mediaTx += uint64(len(payload))
	s.transmitLocked(protected)
	return nil
}
