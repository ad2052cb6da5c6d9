package rtcengine

import (
	"testing"
	"time"

	"github.com/pion/rtcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTwccFeedback(t *testing.T) {
	base := time.Unix(1000, 0)
	g := newTwccGenerator(0x1111)

	g.record(base, 0x2222, 10)
	g.record(base.Add(5*time.Millisecond), 0x2222, 11)
	// Sequence 12 is lost.
	g.record(base.Add(12*time.Millisecond), 0x2222, 13)

	assert.False(t, g.wantsTimeout(base.Add(50*time.Millisecond)))
	assert.True(t, g.wantsTimeout(base.Add(150*time.Millisecond)))

	feedback := g.buildFeedback(base.Add(150 * time.Millisecond))
	require.NotNil(t, feedback)
	assert.Equal(t, uint32(0x1111), feedback.SenderSSRC)
	assert.Equal(t, uint32(0x2222), feedback.MediaSSRC)
	assert.Equal(t, uint16(10), feedback.BaseSequenceNumber)
	assert.Equal(t, uint16(4), feedback.PacketStatusCount)
	assert.Len(t, feedback.RecvDeltas, 3)

	raw, err := feedback.Marshal()
	require.NoError(t, err)
	packets, err := rtcp.Unmarshal(raw)
	require.NoError(t, err)
	require.Len(t, packets, 1)
	parsed, ok := packets[0].(*rtcp.TransportLayerCC)
	require.True(t, ok)
	assert.Equal(t, uint16(10), parsed.BaseSequenceNumber)

	// Everything was drained.
	assert.Nil(t, g.buildFeedback(base.Add(200*time.Millisecond)))
}

func TestTwccReordering(t *testing.T) {
	base := time.Unix(2000, 0)
	g := newTwccGenerator(1)

	g.record(base, 7, 101)
	g.record(base.Add(time.Millisecond), 7, 100)

	feedback := g.buildFeedback(base.Add(time.Second))
	require.NotNil(t, feedback)
	assert.Equal(t, uint16(100), feedback.BaseSequenceNumber)
	assert.Equal(t, uint16(2), feedback.PacketStatusCount)
}

func TestTwccSequenceWrap(t *testing.T) {
	base := time.Unix(3000, 0)
	g := newTwccGenerator(1)

	g.record(base, 7, 0xfff0)
	g.record(base.Add(time.Millisecond), 7, 2)

	feedback := g.buildFeedback(base.Add(time.Second))
	require.NotNil(t, feedback)
	// The wrap is tracked with a cycle counter, so 2 sorts after 0xfff0.
	assert.Equal(t, uint16(0xfff0), feedback.BaseSequenceNumber)
}
