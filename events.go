package rtcengine

import (
	"time"

	"github.com/pion/rtp"

	"github.com/pion/rtcengine/pkg/rtpext"
)

// Event is a session event surfaced through PollOutput.
type Event interface {
	Output
	isEvent()
}

// ConnectedEvent is emitted exactly once, when both ICE and DTLS are
// established.
type ConnectedEvent struct{}

func (ConnectedEvent) isOutput() {}
func (ConnectedEvent) isEvent()  {}

// IceConnectionStateChangeEvent is emitted on every ICE state change.
type IceConnectionStateChangeEvent struct {
	State IceConnectionState
}

func (IceConnectionStateChangeEvent) isOutput() {}
func (IceConnectionStateChangeEvent) isEvent()  {}

// ChannelOpenEvent is emitted when a data channel finishes opening.
type ChannelOpenEvent struct {
	ID    uint16
	Label string
}

func (ChannelOpenEvent) isOutput() {}
func (ChannelOpenEvent) isEvent()  {}

// ChannelDataEvent carries one message received on a data channel.
type ChannelDataEvent struct {
	ID     uint16
	Binary bool
	Data   []byte
}

func (ChannelDataEvent) isOutput() {}
func (ChannelDataEvent) isEvent()  {}

// MediaAddedEvent is emitted when a media section is declared.
type MediaAddedEvent struct {
	Mid  rtpext.Mid
	Kind MediaKind
}

func (MediaAddedEvent) isOutput() {}
func (MediaAddedEvent) isEvent()  {}

// RtpPacketEvent carries one received, decrypted RTP packet.
type RtpPacketEvent struct {
	// Now is the arrival timestamp supplied with the input datagram.
	Now time.Time

	Mid rtpext.Mid
	// Rid is empty when the stream carries no rtp-stream-id.
	Rid rtpext.Rid

	Header  rtp.Header
	Payload []byte

	// Values holds the decoded header extensions.
	Values rtpext.ExtensionValues

	// DependencyDescriptor is the parsed descriptor when the packet
	// carried one and it parsed against the stream's cached structure.
	DependencyDescriptor *rtpext.DependencyDescriptor
}

func (RtpPacketEvent) isOutput() {}
func (RtpPacketEvent) isEvent()  {}
