package rtcengine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pion/rtcengine/internal/bitstream"
	"github.com/pion/rtcengine/pkg/rtpext"
)

func descriptorWithStructure(frameNumber uint16, bitmask uint32) []byte {
	w := &bitstream.Writer{}
	w.WriteBit(true)
	w.WriteBit(true)
	w.WriteU32(0, 6)
	w.WriteU32(uint32(frameNumber), 16)
	// Structure and explicit bitmask, nothing custom.
	w.WriteBit(true)
	w.WriteBit(true)
	w.WriteBit(false)
	w.WriteBit(false)
	w.WriteBit(false)
	// One decode target, a single template with DTI switch, no fdiffs,
	// no chains, no resolutions.
	w.WriteU32(0, 6)
	w.WriteU32(0, 5)
	w.WriteU32(3, 2) // terminate template layers
	w.WriteU32(uint32(rtpext.DTISwitch), 2)
	w.WriteBit(false)         // no fdiffs
	w.WriteNonSymmetric(0, 2) // chain count 0
	w.WriteBit(false)         // no resolutions
	w.WriteU32(bitmask, 1)
	return w.Bytes()
}

func plainDescriptor(frameNumber uint16) []byte {
	w := &bitstream.Writer{}
	w.WriteBit(true)
	w.WriteBit(true)
	w.WriteU32(0, 6)
	w.WriteU32(uint32(frameNumber), 16)
	return w.Bytes()
}

// The shared structure cache follows decode order: an out-of-order
// packet must not overwrite state from a newer frame.
func TestDependencyDescriptorCacheDecodeOrder(t *testing.T) {
	stream := &streamRx{ssrc: 1}

	// Frame 10 carries a structure with bitmask 1.
	parsed, err := stream.parseDependencyDescriptor(descriptorWithStructure(10, 1))
	require.NoError(t, err)
	require.NotNil(t, parsed.UpdatedSharedStructure)
	require.NotNil(t, stream.ddStructure)
	assert.Equal(t, uint16(10), stream.ddFrameNumber)

	// Frame 12 carries bitmask 0.
	_, err = stream.parseDependencyDescriptor(descriptorWithStructure(12, 0))
	require.NoError(t, err)
	assert.Equal(t, uint16(12), stream.ddFrameNumber)
	assert.Equal(t, uint32(0), *stream.ddBitmask)

	// Frame 11 arrives late with bitmask 1; it parses but must not
	// overwrite the newer cache.
	parsed, err = stream.parseDependencyDescriptor(descriptorWithStructure(11, 1))
	require.NoError(t, err)
	require.NotNil(t, parsed.UpdatedActiveDecodeTargetsBitmask)
	assert.Equal(t, uint16(12), stream.ddFrameNumber)
	assert.Equal(t, uint32(0), *stream.ddBitmask)

	// A plain frame 13 decodes against the kept cache.
	parsed, err = stream.parseDependencyDescriptor(plainDescriptor(13))
	require.NoError(t, err)
	assert.False(t, parsed.DecodeTargets[0].Active)
	assert.Equal(t, uint16(13), stream.ddFrameNumber)
}

func TestDependencyDescriptorCacheWrap(t *testing.T) {
	stream := &streamRx{ssrc: 1}

	_, err := stream.parseDependencyDescriptor(descriptorWithStructure(65535, 1))
	require.NoError(t, err)

	// Frame 2 is newer than 65535 modulo 2^16.
	_, err = stream.parseDependencyDescriptor(descriptorWithStructure(2, 0))
	require.NoError(t, err)
	assert.Equal(t, uint16(2), stream.ddFrameNumber)
	assert.Equal(t, uint32(0), *stream.ddBitmask)
}

func TestDependencyDescriptorUnknownStructure(t *testing.T) {
	stream := &streamRx{ssrc: 1}
	_, err := stream.parseDependencyDescriptor(plainDescriptor(1))
	assert.ErrorIs(t, err, rtpext.ErrUnknownSharedStructure)
}
