package rtcengine

import (
	"github.com/pion/datachannel"
)

// dataChannelBufferSize must be larger than the largest acceptable
// message; messages above it error the channel read loop.
const dataChannelBufferSize = 65536

// DataChannel is the host's handle to one SCTP data channel. Incoming
// messages arrive as ChannelDataEvents through PollOutput.
type DataChannel struct {
	id    uint16
	label string
	dc    *datachannel.DataChannel
}

// ID returns the SCTP stream identifier.
func (d *DataChannel) ID() uint16 { return d.id }

// Label returns the channel label.
func (d *DataChannel) Label() string { return d.label }

// Send queues one binary message.
func (d *DataChannel) Send(data []byte) error {
	_, err := d.dc.WriteDataChannel(data, false)
	return err
}

// SendText queues one text message.
func (d *DataChannel) SendText(text string) error {
	_, err := d.dc.WriteDataChannel([]byte(text), true)
	return err
}

// Close tears the channel down.
func (d *DataChannel) Close() error {
	return d.dc.Close()
}
