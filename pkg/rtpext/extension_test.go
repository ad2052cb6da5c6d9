package rtpext

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVideoOrientationRoundTrip(t *testing.T) {
	for _, tc := range []struct {
		orientation VideoOrientation
		wire        byte
	}{
		{OrientationDeg0, 0},
		{OrientationDeg90, 3},
		{OrientationDeg180, 2},
		{OrientationDeg270, 1},
	} {
		values := ExtensionValues{VideoOrientation: &tc.orientation}
		var buf [1]byte
		n := ExtensionVideoOrientation.WriteTo(buf[:], &values)
		require.Equal(t, 1, n)
		assert.Equal(t, tc.wire, buf[0])

		parsed := ExtensionValues{}
		require.True(t, ExtensionVideoOrientation.ParseValue(buf[:], &parsed))
		require.NotNil(t, parsed.VideoOrientation)
		assert.Equal(t, tc.orientation, *parsed.VideoOrientation)
	}
}

func TestAudioLevelEncoding(t *testing.T) {
	level := int8(-30)
	voice := true
	values := ExtensionValues{AudioLevel: &level, VoiceActivity: &voice}

	var buf [1]byte
	n := ExtensionAudioLevel.WriteTo(buf[:], &values)
	require.Equal(t, 1, n)
	assert.Equal(t, byte(0x80|30), buf[0])

	parsed := ExtensionValues{}
	require.True(t, ExtensionAudioLevel.ParseValue(buf[:], &parsed))
	require.NotNil(t, parsed.AudioLevel)
	require.NotNil(t, parsed.VoiceActivity)
	assert.Equal(t, level, *parsed.AudioLevel)
	assert.True(t, *parsed.VoiceActivity)
}

func TestPlayoutDelayEncoding(t *testing.T) {
	min := 100 * 10 * time.Millisecond
	max := 200 * 10 * time.Millisecond
	values := ExtensionValues{PlayoutDelayMin: &min, PlayoutDelayMax: &max}

	var buf [3]byte
	n := ExtensionPlayoutDelay.WriteTo(buf[:], &values)
	require.Equal(t, 3, n)
	assert.Equal(t, []byte{0x06, 0x40, 0xC8}, buf[:])

	parsed := ExtensionValues{}
	require.True(t, ExtensionPlayoutDelay.ParseValue(buf[:], &parsed))
	require.NotNil(t, parsed.PlayoutDelayMin)
	require.NotNil(t, parsed.PlayoutDelayMax)
	assert.Equal(t, min, *parsed.PlayoutDelayMin)
	assert.Equal(t, max, *parsed.PlayoutDelayMax)
}

func TestAbsSendTimeRoundTrip(t *testing.T) {
	exts := NewExtensionMap()
	exts.Set(4, ExtensionAbsoluteSendTime)

	sendTime := uint32(1)
	values := ExtensionValues{AbsSendTime: &sendTime}

	var buf [8]byte
	n := exts.WriteTo(buf[:], &values)
	require.Greater(t, n, 0)

	parsed := ExtensionValues{}
	exts.Parse(buf[:n], false, &parsed)
	require.NotNil(t, parsed.AbsSendTime)
	assert.Equal(t, sendTime, *parsed.AbsSendTime)
}

func TestTransportSequenceNumberRoundTrip(t *testing.T) {
	seq := uint16(0x1234)
	values := ExtensionValues{TransportSequenceNumber: &seq}

	var buf [2]byte
	n := ExtensionTransportSequenceNumber.WriteTo(buf[:], &values)
	require.Equal(t, 2, n)
	assert.Equal(t, []byte{0x12, 0x34}, buf[:])

	parsed := ExtensionValues{}
	require.True(t, ExtensionTransportSequenceNumber.ParseValue(buf[:], &parsed))
	require.NotNil(t, parsed.TransportSequenceNumber)
	assert.Equal(t, seq, *parsed.TransportSequenceNumber)
}

func TestVideoTimingRoundTrip(t *testing.T) {
	timing := VideoTiming{
		Flags:             0x01,
		EncodeStart:       10,
		EncodeFinish:      20,
		PacketizeComplete: 30,
		LastLeftPacer:     40,
	}
	values := ExtensionValues{VideoTiming: &timing}

	var buf [13]byte
	n := ExtensionVideoTiming.WriteTo(buf[:], &values)
	require.Equal(t, 13, n)

	parsed := ExtensionValues{}
	require.True(t, ExtensionVideoTiming.ParseValue(buf[:], &parsed))
	require.NotNil(t, parsed.VideoTiming)
	assert.Equal(t, timing, *parsed.VideoTiming)
}

func TestSdesStringsRoundTrip(t *testing.T) {
	mid := Mid("a0")
	rid := Rid("hi")
	repair := Rid("lo")
	values := ExtensionValues{Mid: &mid, Rid: &rid, RidRepair: &repair}

	var buf [16]byte
	n := ExtensionRtpMid.WriteTo(buf[:], &values)
	require.Equal(t, 2, n)

	parsed := ExtensionValues{}
	require.True(t, ExtensionRtpMid.ParseValue(buf[:n], &parsed))
	require.NotNil(t, parsed.Mid)
	assert.Equal(t, mid, *parsed.Mid)

	n = ExtensionRtpStreamID.WriteTo(buf[:], &values)
	require.Equal(t, 2, n)
	parsed = ExtensionValues{}
	require.True(t, ExtensionRtpStreamID.ParseValue(buf[:n], &parsed))
	require.NotNil(t, parsed.Rid)
	assert.Equal(t, rid, *parsed.Rid)

	n = ExtensionRepairedRtpStreamID.WriteTo(buf[:], &values)
	require.Equal(t, 2, n)
	parsed = ExtensionValues{}
	require.True(t, ExtensionRepairedRtpStreamID.ParseValue(buf[:n], &parsed))
	require.NotNil(t, parsed.RidRepair)
	assert.Equal(t, repair, *parsed.RidRepair)
}

func TestUnsetValueWritesNothing(t *testing.T) {
	var buf [16]byte
	values := ExtensionValues{}
	assert.Equal(t, 0, ExtensionAudioLevel.WriteTo(buf[:], &values))
	assert.Equal(t, 0, ExtensionAbsoluteSendTime.WriteTo(buf[:], &values))
	assert.Equal(t, 0, ExtensionRtpMid.WriteTo(buf[:], &values))
}

func TestParseOneByteHeaderBlock(t *testing.T) {
	exts := NewExtensionMap()
	exts.Set(1, ExtensionAudioLevel)
	exts.Set(3, ExtensionTransportSequenceNumber)

	// id 1 len 1, padding, id 3 len 2.
	block := []byte{0x10, 0x9E, 0x00, 0x00, 0x31, 0x12, 0x34}
	values := ExtensionValues{}
	exts.Parse(block, false, &values)

	require.NotNil(t, values.AudioLevel)
	assert.Equal(t, int8(-30), *values.AudioLevel)
	require.NotNil(t, values.TransportSequenceNumber)
	assert.Equal(t, uint16(0x1234), *values.TransportSequenceNumber)
}

func TestParseTerminatesOnID15(t *testing.T) {
	exts := NewExtensionMap()
	exts.Set(1, ExtensionAudioLevel)

	// id 15 terminates, the audio level after it must not be parsed.
	block := []byte{0xF0, 0x00, 0x10, 0x9E}
	values := ExtensionValues{}
	exts.Parse(block, false, &values)
	assert.Nil(t, values.AudioLevel)
}

func TestParseTerminatesOnOverlength(t *testing.T) {
	exts := NewExtensionMap()
	exts.Set(1, ExtensionAudioLevel)

	// Declared length 16 with a 1 byte buffer terminates without error.
	block := []byte{0x1F, 0x9E}
	values := ExtensionValues{}
	exts.Parse(block, false, &values)
	assert.Nil(t, values.AudioLevel)
}

func TestParseTwoByteHeaderBlock(t *testing.T) {
	exts := NewExtensionMap()
	exts.Set(5, ExtensionTransportSequenceNumber)

	block := []byte{0x05, 0x02, 0x00, 0x2A}
	values := ExtensionValues{}
	exts.Parse(block, true, &values)
	require.NotNil(t, values.TransportSequenceNumber)
	assert.Equal(t, uint16(42), *values.TransportSequenceNumber)
}

func TestDependencyDescriptorCarriedRaw(t *testing.T) {
	raw := []byte{0xC0, 0x01, 0x02}
	values := ExtensionValues{}
	require.True(t, ExtensionDependencyDescriptor.ParseValue(raw, &values))
	assert.Equal(t, raw, values.DependencyDescriptor)

	var buf [16]byte
	n := ExtensionDependencyDescriptor.WriteTo(buf[:], &values)
	require.Equal(t, len(raw), n)
	assert.Equal(t, raw, buf[:n])

	assert.False(t, ExtensionDependencyDescriptor.NeedsTwoByteHeader(&values))
	values.DependencyDescriptor = make([]byte, 17)
	assert.True(t, ExtensionDependencyDescriptor.NeedsTwoByteHeader(&values))
}
