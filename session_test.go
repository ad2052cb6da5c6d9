package rtcengine

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pion/rtcengine/pkg/rtcerr"
)

type loopbackSide struct {
	session *Session
	events  []Event
}

func (side *loopbackSide) countEvents(match func(Event) bool) int {
	n := 0
	for _, e := range side.events {
		if match(e) {
			n++
		}
	}
	return n
}

// pump drains one side's outputs, delivering transmits to the other
// side, until a Timeout is returned.
func pump(t *testing.T, from, to *loopbackSide, now time.Time) {
	t.Helper()
	for {
		switch o := from.session.PollOutput().(type) {
		case Transmit:
			err := to.session.HandleInput(Input{Now: now, Receive: &Receive{
				Proto:       ProtocolUDP,
				Source:      o.Source,
				Destination: o.Destination,
				Contents:    o.Contents,
			}})
			require.NoError(t, err)
		case Event:
			from.events = append(from.events, o)
		case Timeout:
			return
		}
	}
}

func newLoopbackPair(t *testing.T) (*loopbackSide, *loopbackSide) {
	t.Helper()

	one, err := NewSession(SessionConfig{})
	require.NoError(t, err)
	two, err := NewSession(SessionConfig{})
	require.NoError(t, err)

	sideOne := &loopbackSide{session: one}
	sideTwo := &loopbackSide{session: two}

	require.NoError(t, sideOne.session.AddLocalCandidate(hostCandidate(t, "127.0.0.1", 5551)))
	require.NoError(t, sideOne.session.AddRemoteCandidate(hostCandidate(t, "127.0.0.1", 5552)))
	require.NoError(t, sideTwo.session.AddLocalCandidate(hostCandidate(t, "127.0.0.1", 5552)))
	require.NoError(t, sideTwo.session.AddRemoteCandidate(hostCandidate(t, "127.0.0.1", 5551)))

	require.NoError(t, sideOne.session.DirectAPI().SetRemoteIceCredentials(two.LocalIceCredentials()))
	require.NoError(t, sideTwo.session.DirectAPI().SetRemoteIceCredentials(one.LocalIceCredentials()))

	fpOne, err := one.LocalFingerprint()
	require.NoError(t, err)
	fpTwo, err := two.LocalFingerprint()
	require.NoError(t, err)
	require.NoError(t, sideOne.session.DirectAPI().SetRemoteFingerprint(fpTwo))
	require.NoError(t, sideTwo.session.DirectAPI().SetRemoteFingerprint(fpOne))

	sideOne.session.DirectAPI().SetIceControlling(true)
	sideTwo.session.DirectAPI().SetIceControlling(false)

	return sideOne, sideTwo
}

func driveUntil(t *testing.T, one, two *loopbackSide, deadline time.Duration, done func() bool) {
	t.Helper()
	stop := time.Now().Add(deadline)
	for time.Now().Before(stop) {
		if done() {
			return
		}
		now := time.Now()
		require.NoError(t, one.session.HandleInput(Input{Now: now}))
		require.NoError(t, two.session.HandleInput(Input{Now: now}))
		pump(t, one, two, now)
		pump(t, two, one, now)
		time.Sleep(2 * time.Millisecond)
	}
	require.True(t, done(), "loopback did not converge within %s", deadline)
}

// Two sessions configured with each other's fingerprints and ICE
// credentials reach connected by ping-ponging outputs, and emit the
// Connected event exactly once.
func TestLoopbackConnect(t *testing.T) {
	one, two := newLoopbackPair(t)

	channelID := uint16(1)
	for _, side := range []*loopbackSide{one, two} {
		require.NoError(t, side.session.DirectAPI().StartDtls(side == one))
		side.session.DirectAPI().StartSctp(side == one)
		side.session.DirectAPI().CreateDataChannel(ChannelConfig{
			Label:      "chat",
			Negotiated: &channelID,
			Ordered:    true,
		})
	}

	driveUntil(t, one, two, 20*time.Second, func() bool {
		return one.session.IsConnected() && two.session.IsConnected()
	})

	isConnected := func(e Event) bool { _, ok := e.(ConnectedEvent); return ok }
	driveUntil(t, one, two, 5*time.Second, func() bool {
		return one.countEvents(isConnected) > 0 && two.countEvents(isConnected) > 0
	})
	assert.Equal(t, 1, one.countEvents(isConnected))
	assert.Equal(t, 1, two.countEvents(isConnected))

	// The negotiated data channel opens on both sides.
	isOpen := func(e Event) bool { _, ok := e.(ChannelOpenEvent); return ok }
	driveUntil(t, one, two, 10*time.Second, func() bool {
		return one.countEvents(isOpen) > 0 && two.countEvents(isOpen) > 0
	})

	channel := one.session.Channel(channelID)
	require.NotNil(t, channel)
	require.NoError(t, channel.SendText("hello"))

	isData := func(e Event) bool { _, ok := e.(ChannelDataEvent); return ok }
	driveUntil(t, one, two, 10*time.Second, func() bool {
		return two.countEvents(isData) > 0
	})
	for _, e := range two.events {
		if data, ok := e.(ChannelDataEvent); ok {
			assert.Equal(t, "hello", string(data.Data))
			assert.False(t, data.Binary)
		}
	}

	one.session.Disconnect()
	two.session.Disconnect()
	assert.False(t, one.session.IsAlive())
}

// Successive PollOutput calls never move the deadline backwards unless
// new input was injected.
func TestTimeoutMonotonicity(t *testing.T) {
	session, err := NewSession(SessionConfig{})
	require.NoError(t, err)

	now := time.Unix(500, 0)
	require.NoError(t, session.HandleInput(Input{Now: now}))

	var last time.Time
	for i := 0; i < 5; i++ {
		o := session.PollOutput()
		timeout, ok := o.(Timeout)
		if !ok {
			// Drain the initial stats events.
			continue
		}
		deadline := time.Time(timeout)
		if !last.IsZero() {
			assert.False(t, deadline.Before(last), "deadline moved backwards")
		}
		last = deadline
	}
	assert.False(t, last.Before(now))
}

func TestStatsEventsOnFirstTick(t *testing.T) {
	session, err := NewSession(SessionConfig{})
	require.NoError(t, err)

	require.NoError(t, session.HandleInput(Input{Now: time.Unix(600, 0)}))

	sawPeerStats := false
	for {
		o := session.PollOutput()
		if _, ok := o.(Timeout); ok {
			break
		}
		if _, ok := o.(PeerStatsEvent); ok {
			sawPeerStats = true
		}
	}
	assert.True(t, sawPeerStats)

	// The next deadline is one stats interval out.
	timeout, ok := session.PollOutput().(Timeout)
	require.True(t, ok)
	assert.Equal(t, time.Unix(601, 0), time.Time(timeout))
}

func TestDemuxDropsUnmatched(t *testing.T) {
	session, err := NewSession(SessionConfig{})
	require.NoError(t, err)

	err = session.HandleInput(Input{Now: time.Unix(700, 0), Receive: &Receive{
		Proto:       ProtocolUDP,
		Source:      &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 1},
		Destination: &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 2},
		Contents:    []byte{0x55, 0x01, 0x02},
	}})
	require.NoError(t, err)

	for {
		o := session.PollOutput()
		if _, ok := o.(Timeout); ok {
			break
		}
		_, isTransmit := o.(Transmit)
		assert.False(t, isTransmit, "unmatched packet must not produce transmits")
	}
	assert.True(t, session.IsAlive())
}

func TestStartDtlsRequiresFingerprint(t *testing.T) {
	session, err := NewSession(SessionConfig{})
	require.NoError(t, err)

	err = session.DirectAPI().StartDtls(true)
	require.Error(t, err)
	var stateErr *rtcerr.StateError
	assert.ErrorAs(t, err, &stateErr)
	assert.ErrorIs(t, err, ErrNoRemoteFingerprint)
}

func TestDisconnectIsSticky(t *testing.T) {
	session, err := NewSession(SessionConfig{})
	require.NoError(t, err)

	session.Disconnect()
	assert.False(t, session.IsAlive())
	assert.False(t, session.IsConnected())

	require.NoError(t, session.HandleInput(Input{Now: time.Unix(800, 0)}))
	_, ok := session.PollOutput().(Timeout)
	assert.True(t, ok)
}

func TestWriteRtpBeforeConnectedFails(t *testing.T) {
	session, err := NewSession(SessionConfig{})
	require.NoError(t, err)

	session.DirectAPI().DeclareMedia("v0", MediaKindVideo)
	stream, err := session.DirectAPI().DeclareStreamTx(0x1234, 0, "v0", "")
	require.NoError(t, err)

	err = stream.WriteRtp(96, 1000, true, nil, []byte{1, 2, 3})
	var stateErr *rtcerr.StateError
	assert.ErrorAs(t, err, &stateErr)
}
