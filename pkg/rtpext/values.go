package rtpext

import (
	"fmt"
	"strings"
	"time"
)

// Mid is the media identifier tying an RTP stream to a declared media
// section (RFC 8843).
type Mid string

// Rid is the simulcast restriction identifier of an RTP stream
// (RFC 8852). Not the same as SSRC; rids avoid running out of SSRC in
// very large sessions.
type Rid string

// VideoOrientation tells a receiver what rotation a video needs to
// replay correctly. The numeric values are the 2-bit wire encoding.
type VideoOrientation uint8

const (
	// OrientationDeg0 is not rotated.
	OrientationDeg0 VideoOrientation = 0
	// OrientationDeg90 is 90 degrees clockwise.
	OrientationDeg90 VideoOrientation = 3
	// OrientationDeg180 is upside down.
	OrientationDeg180 VideoOrientation = 2
	// OrientationDeg270 is 90 degrees counter clockwise.
	OrientationDeg270 VideoOrientation = 1
)

func videoOrientationFrom(v uint8) VideoOrientation {
	switch v {
	case 1:
		return OrientationDeg270
	case 2:
		return OrientationDeg180
	case 3:
		return OrientationDeg90
	default:
		return OrientationDeg0
	}
}

// VideoTiming is the video-timing header extension payload.
type VideoTiming struct {
	// Flags is 0x01 when the extension is set due to a timer, 0x02 when
	// the frame is larger than usual.
	Flags             uint8
	EncodeStart       uint16
	EncodeFinish      uint16
	PacketizeComplete uint16
	LastLeftPacer     uint16
}

// ExtensionValues holds the decoded header extension values of a single
// RTP packet. Every field is independently optional; nil means the
// extension was not present.
//
// This is metadata that is available without decrypting the SRTP payload.
type ExtensionValues struct {
	// AudioLevel is measured in negative decibel. 0 is max and a
	// "normal" value might be -30.
	AudioLevel *int8

	// VoiceActivity indicates there is sound from a voice.
	VoiceActivity *bool

	VideoOrientation *VideoOrientation

	// VideoContentType is 0 for unspecified, 1 for screenshare.
	VideoContentType *uint8

	// TransmissionTimeOffset is set when an RTP packet is delayed by a
	// send queue, indicating an offset in the transmitter.
	TransmissionTimeOffset *uint32

	// AbsSendTime is a 24-bit 6.18 fixed point timestamp in seconds,
	// wrapping at 64 seconds.
	AbsSendTime *uint32

	// TransportSequenceNumber is the transport-wide CC sequence number.
	TransportSequenceNumber *uint16

	// PlayoutDelayMin and PlayoutDelayMax carry the playout delay hint
	// in 10 ms granularity.
	PlayoutDelayMin *time.Duration
	PlayoutDelayMax *time.Duration

	VideoTiming *VideoTiming

	Rid       *Rid
	RidRepair *Rid
	Mid       *Mid

	FrameMarking *uint32

	VideoLayersAllocation *VideoLayersAllocation

	// DependencyDescriptor carries the raw descriptor bytes. Parsing
	// against the per-stream cached structure is a separate step, see
	// ParseDependencyDescriptor.
	DependencyDescriptor []byte
}

// String prints only the fields that are set.
func (v *ExtensionValues) String() string {
	var b strings.Builder
	b.WriteString("ExtensionValues {")
	if v.Mid != nil {
		fmt.Fprintf(&b, " mid: %s", *v.Mid)
	}
	if v.Rid != nil {
		fmt.Fprintf(&b, " rid: %s", *v.Rid)
	}
	if v.RidRepair != nil {
		fmt.Fprintf(&b, " rid_repair: %s", *v.RidRepair)
	}
	if v.AbsSendTime != nil {
		fmt.Fprintf(&b, " abs_send_time: %d", *v.AbsSendTime)
	}
	if v.VoiceActivity != nil {
		fmt.Fprintf(&b, " voice_activity: %t", *v.VoiceActivity)
	}
	if v.AudioLevel != nil {
		fmt.Fprintf(&b, " audio_level: %d", *v.AudioLevel)
	}
	if v.TransmissionTimeOffset != nil {
		fmt.Fprintf(&b, " tx_time_offs: %d", *v.TransmissionTimeOffset)
	}
	if v.VideoOrientation != nil {
		fmt.Fprintf(&b, " video_orientation: %d", *v.VideoOrientation)
	}
	if v.TransportSequenceNumber != nil {
		fmt.Fprintf(&b, " transport_cc: %d", *v.TransportSequenceNumber)
	}
	if v.PlayoutDelayMin != nil {
		fmt.Fprintf(&b, " play_delay_min: %s", *v.PlayoutDelayMin)
	}
	if v.PlayoutDelayMax != nil {
		fmt.Fprintf(&b, " play_delay_max: %s", *v.PlayoutDelayMax)
	}
	if v.VideoContentType != nil {
		fmt.Fprintf(&b, " video_content_type: %d", *v.VideoContentType)
	}
	if v.VideoTiming != nil {
		fmt.Fprintf(&b, " video_timing: %+v", *v.VideoTiming)
	}
	if v.FrameMarking != nil {
		fmt.Fprintf(&b, " frame_mark: %d", *v.FrameMarking)
	}
	b.WriteString(" }")
	return b.String()
}
