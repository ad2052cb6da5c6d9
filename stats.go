package rtcengine

import (
	"time"

	"github.com/pion/rtcengine/pkg/rtpext"
)

// statsInterval is the cadence of the stats events.
const statsInterval = time.Second

// statsKey addresses one direction of one media stream.
type statsKey struct {
	mid rtpext.Mid
	rid rtpext.Rid
}

// StatsSnapshot is the counter snapshot the session assembles when the
// aggregator wants a timeout. Counters are totals, monotonically
// non-decreasing.
type StatsSnapshot struct {
	// PeerTx and PeerRx count every byte on the wire.
	PeerTx uint64
	PeerRx uint64
	// Tx and Rx count media traffic only (RTP payload).
	Tx uint64
	Rx uint64

	Ingress map[statsKey]uint64
	Egress  map[statsKey]uint64

	Timestamp time.Time
}

// PeerStatsEvent carries the whole-peer counters, roughly every second.
type PeerStatsEvent struct {
	// ID identifies this session across events.
	ID string

	PeerBytesRx uint64
	PeerBytesTx uint64
	BytesRx     uint64
	BytesTx     uint64

	Timestamp time.Time
}

func (PeerStatsEvent) isOutput() {}
func (PeerStatsEvent) isEvent()  {}

// MediaIngressStatsEvent carries stats for one (mid, rid) in ingress
// direction. Rid is empty when simulcast is not in use.
type MediaIngressStatsEvent struct {
	Mid rtpext.Mid
	Rid rtpext.Rid

	BytesRx uint64

	Timestamp time.Time
}

func (MediaIngressStatsEvent) isOutput() {}
func (MediaIngressStatsEvent) isEvent()  {}

// MediaEgressStatsEvent carries stats for one (mid, rid) in egress
// direction.
type MediaEgressStatsEvent struct {
	Mid rtpext.Mid
	Rid rtpext.Rid

	BytesTx uint64

	Timestamp time.Time
}

func (MediaEgressStatsEvent) isOutput() {}
func (MediaEgressStatsEvent) isEvent()  {}

// statsAggregator periodically turns counter snapshots into stats
// events. Snapshots are only assembled when wantsTimeout says so, which
// keeps the per-input cost at a time comparison.
type statsAggregator struct {
	id      string
	lastNow time.Time
	started bool
}

func newStatsAggregator(id string) *statsAggregator {
	return &statsAggregator{id: id}
}

// wantsTimeout reports whether a snapshot should be taken at now. The
// first timeout fires immediately so stats are available right away.
func (s *statsAggregator) wantsTimeout(now time.Time) bool {
	if !s.started {
		return true
	}
	return !now.Before(s.lastNow.Add(statsInterval))
}

// handleTimeout consumes a snapshot and emits one PeerStatsEvent plus
// one ingress and egress event per active key.
func (s *statsAggregator) handleTimeout(snapshot *StatsSnapshot, emit func(Output)) {
	s.started = true
	s.lastNow = snapshot.Timestamp

	emit(PeerStatsEvent{
		ID:          s.id,
		PeerBytesRx: snapshot.PeerRx,
		PeerBytesTx: snapshot.PeerTx,
		BytesRx:     snapshot.Rx,
		BytesTx:     snapshot.Tx,
		Timestamp:   snapshot.Timestamp,
	})

	for key, total := range snapshot.Ingress {
		emit(MediaIngressStatsEvent{
			Mid:       key.mid,
			Rid:       key.rid,
			BytesRx:   total,
			Timestamp: snapshot.Timestamp,
		})
	}
	for key, total := range snapshot.Egress {
		emit(MediaEgressStatsEvent{
			Mid:       key.mid,
			Rid:       key.rid,
			BytesTx:   total,
			Timestamp: snapshot.Timestamp,
		})
	}
}

// nextTimeout returns when the aggregator next wants to run.
func (s *statsAggregator) nextTimeout() time.Time {
	if !s.started {
		return s.lastNow
	}
	return s.lastNow.Add(statsInterval)
}
