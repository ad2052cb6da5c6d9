// Package rtpext implements RTP header extensions: the id to extension
// mapping negotiated with a remote peer, the per-extension wire codecs,
// and the two variable-length video formats (Video Layers Allocation and
// the AV1 Dependency Descriptor).
package rtpext

import (
	"encoding/binary"
	"time"
	"unicode/utf8"
)

// Extension identifies a known RTP header extension.
type Extension int

const (
	// ExtensionUnknown is an extension with an unrecognized URI.
	ExtensionUnknown Extension = iota
	// ExtensionAbsoluteSendTime is
	// <http://www.webrtc.org/experiments/rtp-hdrext/abs-send-time>.
	ExtensionAbsoluteSendTime
	// ExtensionAudioLevel is <urn:ietf:params:rtp-hdrext:ssrc-audio-level>.
	ExtensionAudioLevel
	// ExtensionTransmissionTimeOffset is <urn:ietf:params:rtp-hdrext:toffset>.
	ExtensionTransmissionTimeOffset
	// ExtensionVideoOrientation is <urn:3gpp:video-orientation>.
	ExtensionVideoOrientation
	// ExtensionTransportSequenceNumber is
	// <http://www.ietf.org/id/draft-holmer-rmcat-transport-wide-cc-extensions-01>.
	ExtensionTransportSequenceNumber
	// ExtensionPlayoutDelay is
	// <http://www.webrtc.org/experiments/rtp-hdrext/playout-delay>.
	ExtensionPlayoutDelay
	// ExtensionVideoContentType is
	// <http://www.webrtc.org/experiments/rtp-hdrext/video-content-type>.
	ExtensionVideoContentType
	// ExtensionVideoTiming is
	// <http://www.webrtc.org/experiments/rtp-hdrext/video-timing>.
	ExtensionVideoTiming
	// ExtensionRtpStreamID is <urn:ietf:params:rtp-hdrext:sdes:rtp-stream-id>.
	ExtensionRtpStreamID
	// ExtensionRepairedRtpStreamID is
	// <urn:ietf:params:rtp-hdrext:sdes:repaired-rtp-stream-id>. Seeing it
	// means the stream is a repair stream.
	ExtensionRepairedRtpStreamID
	// ExtensionRtpMid is <urn:ietf:params:rtp-hdrext:sdes:mid>.
	ExtensionRtpMid
	// ExtensionFrameMarking is
	// <http://tools.ietf.org/html/draft-ietf-avtext-framemarking-07>.
	ExtensionFrameMarking
	// ExtensionColorSpace is
	// <http://www.webrtc.org/experiments/rtp-hdrext/color-space>.
	ExtensionColorSpace
	// ExtensionVideoLayersAllocation is
	// <http://www.webrtc.org/experiments/rtp-hdrext/video-layers-allocation00>.
	ExtensionVideoLayersAllocation
	// ExtensionDependencyDescriptor is the AV1 dependency descriptor,
	// <https://aomediacodec.github.io/av1-rtp-spec/#dependency-descriptor-rtp-header-extension>.
	ExtensionDependencyDescriptor
)

var extensionURIs = map[Extension]string{
	ExtensionAbsoluteSendTime:        "http://www.webrtc.org/experiments/rtp-hdrext/abs-send-time",
	ExtensionAudioLevel:              "urn:ietf:params:rtp-hdrext:ssrc-audio-level",
	ExtensionTransmissionTimeOffset:  "urn:ietf:params:rtp-hdrext:toffset",
	ExtensionVideoOrientation:        "urn:3gpp:video-orientation",
	ExtensionTransportSequenceNumber: "http://www.ietf.org/id/draft-holmer-rmcat-transport-wide-cc-extensions-01",
	ExtensionPlayoutDelay:            "http://www.webrtc.org/experiments/rtp-hdrext/playout-delay",
	ExtensionVideoContentType:        "http://www.webrtc.org/experiments/rtp-hdrext/video-content-type",
	ExtensionVideoTiming:             "http://www.webrtc.org/experiments/rtp-hdrext/video-timing",
	ExtensionRtpStreamID:             "urn:ietf:params:rtp-hdrext:sdes:rtp-stream-id",
	ExtensionRepairedRtpStreamID:     "urn:ietf:params:rtp-hdrext:sdes:repaired-rtp-stream-id",
	ExtensionRtpMid:                  "urn:ietf:params:rtp-hdrext:sdes:mid",
	ExtensionFrameMarking:            "http://tools.ietf.org/html/draft-ietf-avtext-framemarking-07",
	ExtensionColorSpace:              "http://www.webrtc.org/experiments/rtp-hdrext/color-space",
	ExtensionVideoLayersAllocation:   "http://www.webrtc.org/experiments/rtp-hdrext/video-layers-allocation00",
	ExtensionDependencyDescriptor:    "https://aomediacodec.github.io/av1-rtp-spec/#dependency-descriptor-rtp-header-extension",
}

// ExtensionFromURI resolves an extmap URI. Unrecognized URIs map to
// ExtensionUnknown.
func ExtensionFromURI(uri string) Extension {
	for ext, u := range extensionURIs {
		if u == uri {
			return ext
		}
	}
	return ExtensionUnknown
}

// URI returns the extmap URI for the extension.
func (e Extension) URI() string {
	if uri, ok := extensionURIs[e]; ok {
		return uri
	}
	return "unknown"
}

func (e Extension) String() string {
	switch e {
	case ExtensionAbsoluteSendTime:
		return "abs-send-time"
	case ExtensionAudioLevel:
		return "ssrc-audio-level"
	case ExtensionTransmissionTimeOffset:
		return "toffset"
	case ExtensionVideoOrientation:
		return "video-orientation"
	case ExtensionTransportSequenceNumber:
		return "transport-wide-cc"
	case ExtensionPlayoutDelay:
		return "playout-delay"
	case ExtensionVideoContentType:
		return "video-content-type"
	case ExtensionVideoTiming:
		return "video-timing"
	case ExtensionRtpStreamID:
		return "rtp-stream-id"
	case ExtensionRepairedRtpStreamID:
		return "repaired-rtp-stream-id"
	case ExtensionRtpMid:
		return "mid"
	case ExtensionFrameMarking:
		return "frame-marking07"
	case ExtensionColorSpace:
		return "color-space"
	case ExtensionVideoLayersAllocation:
		return "video-layers-allocation"
	case ExtensionDependencyDescriptor:
		return "dependency-descriptor"
	default:
		return "unknown-uri"
	}
}

// IsAudio reports whether the extension participates in audio media.
func (e Extension) IsAudio() bool {
	switch e {
	case ExtensionRtpStreamID, ExtensionRepairedRtpStreamID, ExtensionRtpMid,
		ExtensionAbsoluteSendTime, ExtensionAudioLevel,
		ExtensionTransportSequenceNumber, ExtensionTransmissionTimeOffset,
		ExtensionPlayoutDelay:
		return true
	default:
		return false
	}
}

// IsVideo reports whether the extension participates in video media.
func (e Extension) IsVideo() bool {
	switch e {
	case ExtensionRtpStreamID, ExtensionRepairedRtpStreamID, ExtensionRtpMid,
		ExtensionAbsoluteSendTime, ExtensionVideoOrientation,
		ExtensionTransportSequenceNumber, ExtensionTransmissionTimeOffset,
		ExtensionPlayoutDelay, ExtensionVideoContentType, ExtensionVideoTiming,
		ExtensionFrameMarking, ExtensionColorSpace,
		ExtensionVideoLayersAllocation, ExtensionDependencyDescriptor:
		return true
	default:
		return false
	}
}

// NeedsTwoByteHeader reports whether the encoded value exceeds the
// 16-byte limit of the RFC 8285 one-byte header form.
func (e Extension) NeedsTwoByteHeader(v *ExtensionValues) bool {
	if e == ExtensionDependencyDescriptor {
		return len(v.DependencyDescriptor) > 16
	}
	return false
}

// WriteTo encodes the extension value from v into buf, returning the
// number of bytes written. It returns 0 when the value is unset, buf is
// too small, or the extension has no serialized form.
func (e Extension) WriteTo(buf []byte, v *ExtensionValues) int {
	switch e {
	case ExtensionAbsoluteSendTime:
		if v.AbsSendTime == nil || len(buf) < 3 {
			return 0
		}
		// 24 bit fixed point, 6 bits seconds, 18 bits decimals. Wraps
		// around at 64 seconds.
		buf[0] = byte(*v.AbsSendTime >> 16)
		buf[1] = byte(*v.AbsSendTime >> 8)
		buf[2] = byte(*v.AbsSendTime)
		return 3
	case ExtensionAudioLevel:
		if v.AudioLevel == nil || v.VoiceActivity == nil || len(buf) < 1 {
			return 0
		}
		buf[0] = uint8(-(0x7f & *v.AudioLevel))
		if *v.VoiceActivity {
			buf[0] |= 0x80
		}
		return 1
	case ExtensionTransmissionTimeOffset:
		if v.TransmissionTimeOffset == nil || len(buf) < 4 {
			return 0
		}
		binary.BigEndian.PutUint32(buf, *v.TransmissionTimeOffset)
		return 4
	case ExtensionVideoOrientation:
		if v.VideoOrientation == nil || len(buf) < 1 {
			return 0
		}
		buf[0] = uint8(*v.VideoOrientation)
		return 1
	case ExtensionTransportSequenceNumber:
		if v.TransportSequenceNumber == nil || len(buf) < 2 {
			return 0
		}
		binary.BigEndian.PutUint16(buf, *v.TransportSequenceNumber)
		return 2
	case ExtensionPlayoutDelay:
		if v.PlayoutDelayMin == nil || v.PlayoutDelayMax == nil || len(buf) < 3 {
			return 0
		}
		min := uint32(*v.PlayoutDelayMin/(10*time.Millisecond)) & 0xfff
		max := uint32(*v.PlayoutDelayMax/(10*time.Millisecond)) & 0xfff
		buf[0] = byte(min >> 4)
		buf[1] = byte(min<<4) | byte(max>>8)
		buf[2] = byte(max)
		return 3
	case ExtensionVideoContentType:
		if v.VideoContentType == nil || len(buf) < 1 {
			return 0
		}
		buf[0] = *v.VideoContentType
		return 1
	case ExtensionVideoTiming:
		if v.VideoTiming == nil || len(buf) < 13 {
			return 0
		}
		t := v.VideoTiming
		buf[0] = t.Flags
		binary.BigEndian.PutUint16(buf[1:], t.EncodeStart)
		binary.BigEndian.PutUint16(buf[3:], t.EncodeFinish)
		binary.BigEndian.PutUint16(buf[5:], t.PacketizeComplete)
		binary.BigEndian.PutUint16(buf[7:], t.LastLeftPacer)
		// Last four bytes are reserved for network.
		binary.BigEndian.PutUint16(buf[9:], 0)
		binary.BigEndian.PutUint16(buf[11:], 0)
		return 13
	case ExtensionRtpStreamID:
		if v.Rid == nil {
			return 0
		}
		return copyString(buf, string(*v.Rid))
	case ExtensionRepairedRtpStreamID:
		if v.RidRepair == nil {
			return 0
		}
		return copyString(buf, string(*v.RidRepair))
	case ExtensionRtpMid:
		if v.Mid == nil {
			return 0
		}
		return copyString(buf, string(*v.Mid))
	case ExtensionFrameMarking:
		if v.FrameMarking == nil || len(buf) < 4 {
			return 0
		}
		binary.BigEndian.PutUint32(buf, *v.FrameMarking)
		return 4
	case ExtensionDependencyDescriptor:
		// Forwarded as-is, without parsing and serializing back.
		if len(v.DependencyDescriptor) == 0 || len(buf) < len(v.DependencyDescriptor) {
			return 0
		}
		return copy(buf, v.DependencyDescriptor)
	default:
		// ColorSpace and VideoLayersAllocation have no serializer.
		return 0
	}
}

// ParseValue decodes the extension payload in buf into v. It returns
// false when the payload is malformed for the extension.
func (e Extension) ParseValue(buf []byte, v *ExtensionValues) bool {
	switch e {
	case ExtensionAbsoluteSendTime:
		if len(buf) < 3 {
			return false
		}
		t := uint32(buf[0])<<16 | uint32(buf[1])<<8 | uint32(buf[2])
		v.AbsSendTime = &t
	case ExtensionAudioLevel:
		if len(buf) < 1 {
			return false
		}
		level := -int8(0x7f & buf[0])
		voice := buf[0]&0x80 > 0
		v.AudioLevel = &level
		v.VoiceActivity = &voice
	case ExtensionTransmissionTimeOffset:
		if len(buf) < 4 {
			return false
		}
		offs := binary.BigEndian.Uint32(buf)
		v.TransmissionTimeOffset = &offs
	case ExtensionVideoOrientation:
		if len(buf) < 1 {
			return false
		}
		o := videoOrientationFrom(buf[0] & 3)
		v.VideoOrientation = &o
	case ExtensionTransportSequenceNumber:
		if len(buf) < 2 {
			return false
		}
		sn := binary.BigEndian.Uint16(buf)
		v.TransportSequenceNumber = &sn
	case ExtensionPlayoutDelay:
		if len(buf) < 3 {
			return false
		}
		min := time.Duration(uint32(buf[0])<<4|uint32(buf[1])>>4) * 10 * time.Millisecond
		max := time.Duration(uint32(buf[1]&0xf)<<8|uint32(buf[2])) * 10 * time.Millisecond
		v.PlayoutDelayMin = &min
		v.PlayoutDelayMax = &max
	case ExtensionVideoContentType:
		if len(buf) < 1 {
			return false
		}
		ct := buf[0]
		v.VideoContentType = &ct
	case ExtensionVideoTiming:
		if len(buf) < 9 {
			return false
		}
		v.VideoTiming = &VideoTiming{
			Flags:             buf[0],
			EncodeStart:       binary.BigEndian.Uint16(buf[1:]),
			EncodeFinish:      binary.BigEndian.Uint16(buf[3:]),
			PacketizeComplete: binary.BigEndian.Uint16(buf[5:]),
			LastLeftPacer:     binary.BigEndian.Uint16(buf[7:]),
		}
	case ExtensionRtpStreamID:
		if !utf8.Valid(buf) {
			return false
		}
		rid := Rid(buf)
		v.Rid = &rid
	case ExtensionRepairedRtpStreamID:
		if !utf8.Valid(buf) {
			return false
		}
		rid := Rid(buf)
		v.RidRepair = &rid
	case ExtensionRtpMid:
		if !utf8.Valid(buf) {
			return false
		}
		mid := Mid(buf)
		v.Mid = &mid
	case ExtensionFrameMarking:
		if len(buf) < 4 {
			return false
		}
		fm := binary.BigEndian.Uint32(buf)
		v.FrameMarking = &fm
	case ExtensionVideoLayersAllocation:
		vla, ok := ParseVideoLayersAllocation(buf)
		if !ok {
			return false
		}
		v.VideoLayersAllocation = vla
	case ExtensionDependencyDescriptor:
		v.DependencyDescriptor = append([]byte(nil), buf...)
	default:
		// ColorSpace and unknown URIs are ignored.
	}
	return true
}

func copyString(buf []byte, s string) int {
	if len(buf) < len(s) || len(s) == 0 {
		return 0
	}
	return copy(buf, s)
}
