package rtpext

// VideoLayersAllocation is the video-layers-allocation00 header
// extension: what simulcast streams, spatial layers and temporal layers
// a sender is producing, with cumulative bitrates.
type VideoLayersAllocation struct {
	// CurrentSimulcastStreamIndex is the RTP stream index this packet
	// belongs to. Zero when everything is inactive (the special case of
	// the header extension being a single zero byte).
	CurrentSimulcastStreamIndex uint8

	SimulcastStreams []SimulcastStreamAllocation
}

// SimulcastStreamAllocation is the layer allocation of one RTP stream.
type SimulcastStreamAllocation struct {
	SpatialLayers []SpatialLayerAllocation
}

// SpatialLayerAllocation is one spatial layer of a simulcast stream. An
// empty TemporalLayers means the spatial layer is not active.
type SpatialLayerAllocation struct {
	TemporalLayers         []TemporalLayerAllocation
	ResolutionAndFramerate *ResolutionAndFramerate
}

// TemporalLayerAllocation carries the bitrate cumulative across the
// temporal layers within a spatial layer.
type TemporalLayerAllocation struct {
	CumulativeKbps uint64
}

// ResolutionAndFramerate is the optional per-spatial-layer trailer.
type ResolutionAndFramerate struct {
	Width     uint16
	Height    uint16
	Framerate uint8
}

// ParseVideoLayersAllocation decodes the extension payload. It returns
// false when the payload is truncated.
func ParseVideoLayersAllocation(buf []byte) (*VideoLayersAllocation, bool) {
	if len(buf) == 0 {
		return nil, false
	}
	b0 := buf[0]
	rest := buf[1:]
	if b0 == 0 && len(rest) == 0 {
		// Special case when everything is inactive.
		return &VideoLayersAllocation{}, true
	}

	currentIndex := b0 >> 6
	streamCount := int(b0>>4&0x3) + 1
	sharedBitmask := b0 & 0xf

	// Per-stream active spatial layers, either from the shared bitmask
	// or from 4-bit bitmasks, high nibble first.
	spatialActives := make([][]bool, 0, streamCount)
	if sharedBitmask > 0 {
		shared := truncatedBoolsFromLower4Bits(sharedBitmask)
		for i := 0; i < streamCount; i++ {
			spatialActives = append(spatialActives, shared)
		}
	} else {
		need := (streamCount + 1) / 2
		if len(rest) < need {
			return nil, false
		}
		for i := 0; i < streamCount; i++ {
			nibble := rest[i/2] >> 4
			if i%2 == 1 {
				nibble = rest[i/2] & 0xf
			}
			spatialActives = append(spatialActives, truncatedBoolsFromLower4Bits(nibble))
		}
		rest = rest[need:]
	}

	totalActive := 0
	for _, actives := range spatialActives {
		for _, a := range actives {
			if a {
				totalActive++
			}
		}
	}

	// Temporal layer counts, 2 bits each, 4 per byte.
	need := (totalActive + 3) / 4
	if len(rest) < need {
		return nil, false
	}
	temporalCounts := make([]uint8, 0, totalActive)
	for i := 0; i < totalActive; i++ {
		shift := 6 - 2*(i%4)
		temporalCounts = append(temporalCounts, rest[i/4]>>shift&0x3+1)
	}
	rest = rest[need:]

	totalTemporal := 0
	for _, c := range temporalCounts {
		totalTemporal += int(c)
	}

	// One LEB128 cumulative kbps per temporal layer.
	bitrates := make([]uint64, 0, totalTemporal)
	for i := 0; i < totalTemporal; i++ {
		var kbps uint64
		kbps, rest = parseLeb128(rest)
		bitrates = append(bitrates, kbps)
	}

	// Optional 5-byte resolution/framerate block per active spatial
	// layer.
	resolutions := make([]*ResolutionAndFramerate, 0, totalActive)
	for i := 0; i < totalActive && len(rest) >= 5; i++ {
		resolutions = append(resolutions, &ResolutionAndFramerate{
			Width:     (uint16(rest[0])<<8 | uint16(rest[1])) + 1,
			Height:    (uint16(rest[2])<<8 | uint16(rest[3])) + 1,
			Framerate: rest[4],
		})
		rest = rest[5:]
	}

	vla := &VideoLayersAllocation{CurrentSimulcastStreamIndex: currentIndex}
	for _, actives := range spatialActives {
		var stream SimulcastStreamAllocation
		for _, active := range actives {
			var layer SpatialLayerAllocation
			if active {
				if len(temporalCounts) == 0 {
					return nil, false
				}
				count := temporalCounts[0]
				temporalCounts = temporalCounts[1:]
				for t := uint8(0); t < count; t++ {
					if len(bitrates) == 0 {
						break
					}
					layer.TemporalLayers = append(layer.TemporalLayers,
						TemporalLayerAllocation{CumulativeKbps: bitrates[0]})
					bitrates = bitrates[1:]
				}
				if len(resolutions) > 0 {
					layer.ResolutionAndFramerate = resolutions[0]
					resolutions = resolutions[1:]
				}
			}
			stream.SpatialLayers = append(stream.SpatialLayers, layer)
		}
		vla.SimulcastStreams = append(vla.SimulcastStreams, stream)
	}
	return vla, true
}

// truncatedBoolsFromLower4Bits expands a 4-bit spatial layer bitmask.
// The layer count is one plus the index of the highest 1-bit;
// intermediate 0-bits are preserved as inactive layers.
func truncatedBoolsFromLower4Bits(bits uint8) []bool {
	count := 0
	bools := make([]bool, 4)
	for i := 0; i < 4; i++ {
		set := bits>>i&1 > 0
		bools[i] = set
		if set {
			count = i + 1
		}
	}
	return bools[:count]
}

// parseLeb128 reads one unsigned LEB128 value, returning the remainder.
func parseLeb128(buf []byte) (uint64, []byte) {
	var out uint64
	for i, b := range buf {
		out |= uint64(b&0x7f) << (7 * i)
		if b&0x80 == 0 {
			return out, buf[i+1:]
		}
	}
	return 0, buf
}
