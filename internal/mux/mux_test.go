package mux

import (
	"testing"

	"github.com/pion/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatchRanges(t *testing.T) {
	assert.True(t, MatchSTUN([]byte{0x00, 0x01}))
	assert.True(t, MatchSTUN([]byte{0x03}))
	assert.False(t, MatchSTUN([]byte{0x04}))

	assert.True(t, MatchDTLS([]byte{20}))
	assert.True(t, MatchDTLS([]byte{63}))
	assert.False(t, MatchDTLS([]byte{64}))

	assert.True(t, MatchTURNChannel([]byte{64}))
	assert.True(t, MatchTURNChannel([]byte{79}))

	assert.True(t, MatchSRTPOrSRTCP([]byte{128}))
	assert.True(t, MatchSRTPOrSRTCP([]byte{191}))
	assert.False(t, MatchSRTPOrSRTCP([]byte{192}))

	assert.False(t, MatchSTUN(nil))
}

func TestIsRTCP(t *testing.T) {
	// PT 200 (sender report) is RTCP.
	assert.True(t, IsRTCP([]byte{0x80, 200}))
	assert.True(t, MatchSRTCP([]byte{0x80, 201}))
	// PT 96 with and without marker is RTP.
	assert.False(t, IsRTCP([]byte{0x80, 96}))
	assert.False(t, IsRTCP([]byte{0x80, 96 | 0x80}))
	assert.True(t, MatchSRTP([]byte{0x80, 96}))
}

func TestDispatch(t *testing.T) {
	m := NewMux(logging.NewDefaultLoggerFactory().NewLogger("test"))

	var written [][]byte
	endpoint := m.NewEndpoint(MatchDTLS, func(p []byte) {
		written = append(written, p)
	})

	require.True(t, m.Dispatch([]byte{22, 0x01, 0x02}))
	require.False(t, m.Dispatch([]byte{0x00, 0x01}))

	buf := make([]byte, 10)
	n, _, err := endpoint.ReadFrom(buf)
	require.NoError(t, err)
	assert.Equal(t, []byte{22, 0x01, 0x02}, buf[:n])

	_, err = endpoint.WriteTo([]byte{22, 0xff}, nil)
	require.NoError(t, err)
	require.Len(t, written, 1)
	assert.Equal(t, []byte{22, 0xff}, written[0])

	require.NoError(t, m.Close())
}
