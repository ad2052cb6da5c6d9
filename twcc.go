package rtcengine

import (
	"time"

	"github.com/pion/rtcp"
)

// twccInterval is how often transport-wide CC feedback goes out while
// packets are arriving.
const twccInterval = 100 * time.Millisecond

type twccPacket struct {
	extendedSeq uint32
	arrival     time.Time
}

// twccGenerator builds transport-wide congestion control feedback from
// the transport sequence numbers of received RTP packets.
type twccGenerator struct {
	senderSSRC uint32
	mediaSSRC  uint32

	packets []twccPacket
	cycles  uint32
	lastSeq uint16
	seen    bool

	fbPktCount   uint8
	lastFeedback time.Time
}

func newTwccGenerator(senderSSRC uint32) *twccGenerator {
	return &twccGenerator{senderSSRC: senderSSRC}
}

// record registers one received transport sequence number.
func (t *twccGenerator) record(now time.Time, mediaSSRC uint32, seq uint16) {
	t.mediaSSRC = mediaSSRC
	if t.seen && seq < 0x0fff && t.lastSeq > 0xf000 {
		t.cycles++
	}
	t.seen = true
	t.lastSeq = seq
	t.packets = append(t.packets, twccPacket{
		extendedSeq: t.cycles<<16 | uint32(seq),
		arrival:     now,
	})
	if t.lastFeedback.IsZero() {
		t.lastFeedback = now
	}
}

// wantsTimeout reports whether feedback should be built at now.
func (t *twccGenerator) wantsTimeout(now time.Time) bool {
	return len(t.packets) > 0 && !now.Before(t.lastFeedback.Add(twccInterval))
}

// nextTimeout returns when feedback next wants to go out, or the zero
// time when no packets are pending.
func (t *twccGenerator) nextTimeout() time.Time {
	if len(t.packets) == 0 {
		return time.Time{}
	}
	return t.lastFeedback.Add(twccInterval)
}

// buildFeedback drains the recorded packets into one TransportLayerCC
// packet. It returns nil when there is nothing to report.
func (t *twccGenerator) buildFeedback(now time.Time) *rtcp.TransportLayerCC {
	if len(t.packets) == 0 {
		return nil
	}
	packets := t.packets
	t.packets = nil
	t.lastFeedback = now

	// Order by extended sequence number; arrivals may be reordered.
	for i := 1; i < len(packets); i++ {
		for j := i; j > 0 && packets[j].extendedSeq < packets[j-1].extendedSeq; j-- {
			packets[j], packets[j-1] = packets[j-1], packets[j]
		}
	}

	base := packets[0]
	refTime := uint32(base.arrival.UnixNano()/int64(64*time.Millisecond)) & 0xffffff

	feedback := &rtcp.TransportLayerCC{
		SenderSSRC:         t.senderSSRC,
		MediaSSRC:          t.mediaSSRC,
		BaseSequenceNumber: uint16(base.extendedSeq),
		ReferenceTime:      refTime,
		FbPktCount:         t.fbPktCount,
	}
	t.fbPktCount++

	lastArrival := base.arrival.Truncate(64 * time.Millisecond)
	expected := base.extendedSeq
	statusCount := uint16(0)
	for _, p := range packets {
		if p.extendedSeq < expected {
			// Duplicate inside this batch.
			continue
		}
		// Run of missing packets before this one.
		for ; expected < p.extendedSeq; expected++ {
			feedback.PacketChunks = append(feedback.PacketChunks, &rtcp.RunLengthChunk{
				PacketStatusSymbol: rtcp.TypeTCCPacketNotReceived,
				RunLength:          1,
			})
			statusCount++
		}

		delta := p.arrival.Sub(lastArrival)
		lastArrival = p.arrival
		symbol := uint16(rtcp.TypeTCCPacketReceivedSmallDelta)
		if delta < 0 || delta > 255*250*time.Microsecond {
			symbol = rtcp.TypeTCCPacketReceivedLargeDelta
		}
		feedback.PacketChunks = append(feedback.PacketChunks, &rtcp.RunLengthChunk{
			PacketStatusSymbol: symbol,
			RunLength:          1,
		})
		feedback.RecvDeltas = append(feedback.RecvDeltas, &rtcp.RecvDelta{
			Type:  symbol,
			Delta: delta.Microseconds(),
		})
		statusCount++
		expected++
	}
	feedback.PacketStatusCount = statusCount

	// The header length is in 32-bit words minus one, covering the two
	// SSRCs, the fixed fields, the chunks and the padded deltas.
	length := 4 + 8 + 8 + 2*len(feedback.PacketChunks)
	for _, d := range feedback.RecvDeltas {
		if d.Type == rtcp.TypeTCCPacketReceivedSmallDelta {
			length++
		} else {
			length += 2
		}
	}
	padding := (4 - length%4) % 4
	feedback.Header = rtcp.Header{
		Type:    rtcp.TypeTransportSpecificFeedback,
		Count:   rtcp.FormatTCC,
		Padding: padding > 0,
		Length:  uint16((length+padding)/4 - 1),
	}
	return feedback
}
