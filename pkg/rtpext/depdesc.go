package rtpext

import (
	"errors"

	"github.com/pion/rtcengine/internal/bitstream"
)

// Parse errors for the dependency descriptor.
var (
	// ErrNotEnoughBits means the descriptor ran out of bits mid-field.
	ErrNotEnoughBits = errors.New("dependency descriptor: not enough bits")
	// ErrUnknownSharedStructure means the shared structure is not known:
	// either it was not included when it should have been, or the latest
	// value is not being cached correctly.
	ErrUnknownSharedStructure = errors.New("dependency descriptor: unknown shared structure")
	// ErrUnknownActiveDecodeTargetBitmask means the latest active decode
	// target bitmask is not known.
	ErrUnknownActiveDecodeTargetBitmask = errors.New("dependency descriptor: unknown active decode target bitmask")
	// ErrInvalidTemplateID means the template id is not valid for the
	// latest shared structure.
	ErrInvalidTemplateID = errors.New("dependency descriptor: invalid template id")
	// ErrInvalidSpatialLayerID means the spatial layer id is too large.
	ErrInvalidSpatialLayerID = errors.New("dependency descriptor: invalid spatial layer id")
	// ErrInvalidTemporalLayerID means the temporal layer id is too large.
	ErrInvalidTemporalLayerID = errors.New("dependency descriptor: invalid temporal layer id")
)

// DecodeTargetIndication describes the relationship of a frame to a
// Decode Target.
type DecodeTargetIndication uint8

const (
	// DTINotPresent: the frame is not part of the Decode Target. A
	// Selective Forwarding Middlebox forwarding the Decode Target should
	// not forward the frame.
	DTINotPresent DecodeTargetIndication = 0
	// DTIDiscardable: the frame is part of the Decode Target but no
	// subsequent frames depend on it.
	DTIDiscardable DecodeTargetIndication = 1
	// DTISwitch: all subsequent frames of the Decode Target will be
	// decodable if this frame is. A middlebox may begin forwarding the
	// Decode Target at this frame.
	DTISwitch DecodeTargetIndication = 2
	// DTIRequired: the frame must be forwarded to keep the Decode Target
	// decodable, but is not a switch point.
	DTIRequired DecodeTargetIndication = 3
)

// Resolution is the max render width and height, typically of a spatial
// layer. Range of both: 1-65536.
type Resolution struct {
	MaxRenderWidth  uint32
	MaxRenderHeight uint32
}

// SharedStructureTemplate is a frame dependency template. Referencing
// templates saves bytes over the wire.
type SharedStructureTemplate struct {
	SpatialLayerID  uint8
	TemporalLayerID uint8

	// DecodeTargetIndications holds the DTI toward every Decode Target
	// for frames referencing this template.
	DecodeTargetIndications []DecodeTargetIndication

	// ReferredFrameDiffs are the differences between the frame number
	// and the frame numbers of its dependencies. Range of each: 1-16.
	ReferredFrameDiffs []uint16

	// ChainDiffs holds, per chain, the distance to the previous frame in
	// the chain. Range of each: 0-15.
	ChainDiffs []uint16
}

// SharedStructure is dependency information shared between many frames
// (the frame dependency structure). It is carried only by the first
// packet of a coded video sequence and must be cached by decode order.
type SharedStructure struct {
	// DecodeTargetCount is the number of Decode Targets. Range: 1-32.
	DecodeTargetCount uint8

	// ChainCount is the number of chains, 0-32. Zero means the structure
	// does not use protection with chains.
	ChainCount uint8

	// ProtectingChainByDecodeTarget maps each Decode Target index to the
	// chain protecting it. Empty when ChainCount is zero.
	ProtectingChainByDecodeTarget []uint8

	// ResolutionBySpatialID is the per-spatial-layer resolution, nil
	// when the structure carried none.
	ResolutionBySpatialID []Resolution

	// TemplatesByIDMinusOffset is indexed by
	// (template_id - TemplateIDOffset) mod 64.
	TemplatesByIDMinusOffset []SharedStructureTemplate

	TemplateIDOffset uint8
}

// LayerID is a (spatial, temporal) layer pair.
type LayerID struct {
	Spatial  uint8
	Temporal uint8
}

// LayerIDsByDecodeTarget derives the layer ids of each Decode Target:
// the maximum spatial and temporal ids across all templates whose DTI
// toward that target is not DTINotPresent.
func (s *SharedStructure) LayerIDsByDecodeTarget() []LayerID {
	out := make([]LayerID, s.DecodeTargetCount)
	for dt := 0; dt < int(s.DecodeTargetCount); dt++ {
		for _, tmpl := range s.TemplatesByIDMinusOffset {
			if dt >= len(tmpl.DecodeTargetIndications) {
				continue
			}
			if tmpl.DecodeTargetIndications[dt] == DTINotPresent {
				continue
			}
			if tmpl.SpatialLayerID > out[dt].Spatial {
				out[dt].Spatial = tmpl.SpatialLayerID
			}
			if tmpl.TemporalLayerID > out[dt].Temporal {
				out[dt].Temporal = tmpl.TemporalLayerID
			}
		}
	}
	return out
}

// DecodeTarget is a subset of frames necessary to decode at a particular
// (spatial, temporal) fidelity, together with how the current frame
// relates to it.
type DecodeTarget struct {
	SpatialLayerID  uint8
	TemporalLayerID uint8

	// Active reports whether the Decode Target is being sent.
	Active bool

	Indication DecodeTargetIndication

	// ProtectingChainIndex is the index of the chain protecting this
	// Decode Target, nil when chains are not in use.
	ProtectingChainIndex *uint8
}

// DependencyDescriptor is the parsed form of the AV1 dependency
// descriptor header extension.
type DependencyDescriptor struct {
	// FrameNumber identifies the current frame. It increases strictly
	// monotonically in decode order and wraps at the maximum value. All
	// packets of the same frame share it.
	FrameNumber uint16

	SpatialLayerID  uint8
	TemporalLayerID uint8

	// Resolution of the current frame, when known.
	Resolution *Resolution

	// ReferredFrameDiffs are the relative frame numbers of the frames
	// the current frame depends on. The frame is decodable if all of
	// them are decodable.
	ReferredFrameDiffs []uint16

	// ChainDiffs holds, for every chain, the relative frame number of
	// the previous frame in that chain.
	ChainDiffs []uint16

	// StartOfFrame is set on the first packet of the frame, EndOfFrame
	// on the last.
	StartOfFrame bool
	EndOfFrame   bool

	DecodeTargets []DecodeTarget

	// UpdatedSharedStructure is non-nil when this packet carried a new
	// structure. The caller must cache the value from the latest packet
	// in decode order and pass it back on subsequent parses.
	UpdatedSharedStructure *SharedStructure

	// UpdatedActiveDecodeTargetsBitmask is non-nil when this packet
	// carried a new bitmask, with the same caching contract.
	UpdatedActiveDecodeTargetsBitmask *uint32
}

// ParseDependencyDescriptor parses the raw descriptor bytes against the
// latest cached structure and bitmask. Caching the returned updates must
// take packet reordering into account and keep only the value from the
// latest packet in decode order.
func ParseDependencyDescriptor(
	buf []byte,
	latestStructure *SharedStructure,
	latestBitmask *uint32,
) (*DependencyDescriptor, error) {
	p := &ddParser{r: bitstream.NewReader(buf)}
	return p.dependencyDescriptor(latestStructure, latestBitmask)
}

type ddParser struct {
	r *bitstream.Reader
}

type ddCustomFlags struct {
	dtis   bool
	fdiffs bool
	chains bool
}

func (p *ddParser) dependencyDescriptor(
	latestStructure *SharedStructure,
	latestBitmask *uint32,
) (*DependencyDescriptor, error) {
	startOfFrame, err := p.f1()
	if err != nil {
		return nil, err
	}
	endOfFrame, err := p.f1()
	if err != nil {
		return nil, err
	}
	templateID, err := p.f(6)
	if err != nil {
		return nil, err
	}
	frameNumber, err := p.f(16)
	if err != nil {
		return nil, err
	}

	var custom ddCustomFlags
	var newStructure *SharedStructure
	var newBitmask *uint32
	if !p.r.Empty() {
		custom, newStructure, newBitmask, err = p.extendedFields(latestStructure)
		if err != nil {
			return nil, err
		}
	}

	structure := newStructure
	if structure == nil {
		structure = latestStructure
	}
	if structure == nil {
		return nil, ErrUnknownSharedStructure
	}
	bitmask := newBitmask
	if bitmask == nil {
		bitmask = latestBitmask
	}
	if bitmask == nil {
		return nil, ErrUnknownActiveDecodeTargetBitmask
	}

	def, err := p.frameDependencyDefinition(structure, uint8(templateID), custom)
	if err != nil {
		return nil, err
	}
	// Trailing zero_padding bits are ignored.

	layerIDs := structure.LayerIDsByDecodeTarget()
	decodeTargets := make([]DecodeTarget, len(layerIDs))
	for i, layer := range layerIDs {
		indication := DTINotPresent
		if i < len(def.indications) {
			indication = def.indications[i]
		}
		var protecting *uint8
		if i < len(structure.ProtectingChainByDecodeTarget) {
			chain := structure.ProtectingChainByDecodeTarget[i]
			protecting = &chain
		}
		decodeTargets[i] = DecodeTarget{
			SpatialLayerID:       layer.Spatial,
			TemporalLayerID:      layer.Temporal,
			Active:               *bitmask>>uint(i)&1 > 0,
			Indication:           indication,
			ProtectingChainIndex: protecting,
		}
	}

	return &DependencyDescriptor{
		FrameNumber:                       uint16(frameNumber),
		SpatialLayerID:                    def.spatialLayerID,
		TemporalLayerID:                   def.temporalLayerID,
		Resolution:                        def.resolution,
		ReferredFrameDiffs:                def.referredFrameDiffs,
		ChainDiffs:                        def.chainDiffs,
		StartOfFrame:                      startOfFrame,
		EndOfFrame:                        endOfFrame,
		DecodeTargets:                     decodeTargets,
		UpdatedSharedStructure:            newStructure,
		UpdatedActiveDecodeTargetsBitmask: newBitmask,
	}, nil
}

func (p *ddParser) extendedFields(
	latestStructure *SharedStructure,
) (ddCustomFlags, *SharedStructure, *uint32, error) {
	var custom ddCustomFlags

	structurePresent, err := p.f1()
	if err != nil {
		return custom, nil, nil, err
	}
	bitmaskPresent, err := p.f1()
	if err != nil {
		return custom, nil, nil, err
	}
	custom.dtis, err = p.f1()
	if err != nil {
		return custom, nil, nil, err
	}
	custom.fdiffs, err = p.f1()
	if err != nil {
		return custom, nil, nil, err
	}
	custom.chains, err = p.f1()
	if err != nil {
		return custom, nil, nil, err
	}

	var newStructure *SharedStructure
	var newBitmask *uint32
	if structurePresent {
		newStructure, err = p.templateDependencyStructure()
		if err != nil {
			return custom, nil, nil, err
		}
		// When the structure is present but the bitmask flag is clear,
		// the bitmask defaults to all ones across decode_target_count
		// bits.
		all := uint32(uint64(1)<<newStructure.DecodeTargetCount - 1)
		newBitmask = &all
	}
	if bitmaskPresent {
		structure := newStructure
		if structure == nil {
			structure = latestStructure
		}
		if structure == nil {
			return custom, nil, nil, ErrUnknownSharedStructure
		}
		mask, err := p.f(structure.DecodeTargetCount)
		if err != nil {
			return custom, nil, nil, err
		}
		newBitmask = &mask
	}
	return custom, newStructure, newBitmask, nil
}

func (p *ddParser) templateDependencyStructure() (*SharedStructure, error) {
	templateIDOffset, err := p.f(6)
	if err != nil {
		return nil, err
	}
	dtCntMinusOne, err := p.f(5)
	if err != nil {
		return nil, err
	}
	decodeTargetCount := uint8(dtCntMinusOne) + 1

	templates, err := p.templateLayers()
	if err != nil {
		return nil, err
	}
	if err := p.templateDtis(templates, decodeTargetCount); err != nil {
		return nil, err
	}
	if err := p.templateFdiffs(templates); err != nil {
		return nil, err
	}
	chainCount, protecting, err := p.templateChains(templates, decodeTargetCount)
	if err != nil {
		return nil, err
	}

	resolutionsPresent, err := p.f1()
	if err != nil {
		return nil, err
	}
	var resolutions []Resolution
	if resolutionsPresent {
		maxSpatialID := uint8(0)
		for _, tmpl := range templates {
			if tmpl.SpatialLayerID > maxSpatialID {
				maxSpatialID = tmpl.SpatialLayerID
			}
		}
		resolutions, err = p.renderResolutions(maxSpatialID)
		if err != nil {
			return nil, err
		}
	}

	return &SharedStructure{
		DecodeTargetCount:             decodeTargetCount,
		ChainCount:                    chainCount,
		ProtectingChainByDecodeTarget: protecting,
		ResolutionBySpatialID:         resolutions,
		TemplatesByIDMinusOffset:      templates,
		TemplateIDOffset:              uint8(templateIDOffset),
	}, nil
}

type frameDependencyDefinition struct {
	spatialLayerID     uint8
	temporalLayerID    uint8
	indications        []DecodeTargetIndication
	referredFrameDiffs []uint16
	chainDiffs         []uint16
	resolution         *Resolution
}

func (p *ddParser) frameDependencyDefinition(
	structure *SharedStructure,
	templateID uint8,
	custom ddCustomFlags,
) (*frameDependencyDefinition, error) {
	templateIndex := (templateID + 64 - structure.TemplateIDOffset) % 64
	if int(templateIndex) >= len(structure.TemplatesByIDMinusOffset) {
		return nil, ErrInvalidTemplateID
	}
	tmpl := &structure.TemplatesByIDMinusOffset[templateIndex]

	def := &frameDependencyDefinition{
		spatialLayerID:  tmpl.SpatialLayerID,
		temporalLayerID: tmpl.TemporalLayerID,
	}

	var err error
	if custom.dtis {
		def.indications, err = p.frameDtis(structure.DecodeTargetCount)
	} else {
		def.indications = append([]DecodeTargetIndication(nil), tmpl.DecodeTargetIndications...)
	}
	if err != nil {
		return nil, err
	}

	if custom.fdiffs {
		def.referredFrameDiffs, err = p.frameFdiffs()
	} else {
		def.referredFrameDiffs = append([]uint16(nil), tmpl.ReferredFrameDiffs...)
	}
	if err != nil {
		return nil, err
	}

	if custom.chains {
		def.chainDiffs, err = p.frameChains(structure.ChainCount)
	} else {
		def.chainDiffs = append([]uint16(nil), tmpl.ChainDiffs...)
	}
	if err != nil {
		return nil, err
	}

	if int(def.spatialLayerID) < len(structure.ResolutionBySpatialID) {
		res := structure.ResolutionBySpatialID[def.spatialLayerID]
		def.resolution = &res
	}
	return def, nil
}

// templateLayers reads the stream of 2-bit next_layer_idc values that
// spells out the spatial/temporal id of every template. An idc of 3
// terminates. The layer transitions are:
//
//	0: same spatial and temporal id as the previous template
//	1: same spatial id, temporal id plus one
//	2: spatial id plus one, temporal id zero
func (p *ddParser) templateLayers() ([]SharedStructureTemplate, error) {
	templates := []SharedStructureTemplate{{}}
	for {
		idc, err := p.f(2)
		if err != nil {
			return nil, err
		}
		last := templates[len(templates)-1]
		next := SharedStructureTemplate{
			SpatialLayerID:  last.SpatialLayerID,
			TemporalLayerID: last.TemporalLayerID,
		}
		switch idc {
		case 0:
		case 1:
			if last.TemporalLayerID == 255 {
				return nil, ErrInvalidTemporalLayerID
			}
			next.TemporalLayerID++
		case 2:
			if last.SpatialLayerID == 255 {
				return nil, ErrInvalidSpatialLayerID
			}
			next.SpatialLayerID++
			next.TemporalLayerID = 0
		case 3:
			return templates, nil
		}
		templates = append(templates, next)
	}
}

func (p *ddParser) templateDtis(templates []SharedStructureTemplate, decodeTargetCount uint8) error {
	for i := range templates {
		for dt := uint8(0); dt < decodeTargetCount; dt++ {
			dti, err := p.f(2)
			if err != nil {
				return err
			}
			templates[i].DecodeTargetIndications = append(
				templates[i].DecodeTargetIndications, DecodeTargetIndication(dti))
		}
	}
	return nil
}

func (p *ddParser) frameDtis(decodeTargetCount uint8) ([]DecodeTargetIndication, error) {
	out := make([]DecodeTargetIndication, 0, decodeTargetCount)
	for dt := uint8(0); dt < decodeTargetCount; dt++ {
		dti, err := p.f(2)
		if err != nil {
			return nil, err
		}
		out = append(out, DecodeTargetIndication(dti))
	}
	return out, nil
}

func (p *ddParser) templateFdiffs(templates []SharedStructureTemplate) error {
	for i := range templates {
		for {
			follows, err := p.f1()
			if err != nil {
				return err
			}
			if !follows {
				break
			}
			fdiffMinusOne, err := p.f(4)
			if err != nil {
				return err
			}
			templates[i].ReferredFrameDiffs = append(
				templates[i].ReferredFrameDiffs, uint16(fdiffMinusOne)+1)
		}
	}
	return nil
}

func (p *ddParser) frameFdiffs() ([]uint16, error) {
	var out []uint16
	for {
		size, err := p.f(2)
		if err != nil {
			return nil, err
		}
		if size == 0 {
			return out, nil
		}
		fdiffMinusOne, err := p.f(uint8(size) * 4)
		if err != nil {
			return nil, err
		}
		out = append(out, uint16(fdiffMinusOne)+1)
	}
}

func (p *ddParser) templateChains(
	templates []SharedStructureTemplate,
	decodeTargetCount uint8,
) (uint8, []uint8, error) {
	chainCount, err := p.ns(decodeTargetCount + 1)
	if err != nil {
		return 0, nil, err
	}
	if chainCount == 0 {
		return 0, nil, nil
	}
	protecting := make([]uint8, 0, decodeTargetCount)
	for dt := uint8(0); dt < decodeTargetCount; dt++ {
		chain, err := p.ns(chainCount)
		if err != nil {
			return 0, nil, err
		}
		protecting = append(protecting, chain)
	}
	for i := range templates {
		for c := uint8(0); c < chainCount; c++ {
			diff, err := p.f(4)
			if err != nil {
				return 0, nil, err
			}
			templates[i].ChainDiffs = append(templates[i].ChainDiffs, uint16(diff))
		}
	}
	return chainCount, protecting, nil
}

func (p *ddParser) frameChains(chainCount uint8) ([]uint16, error) {
	out := make([]uint16, 0, chainCount)
	for c := uint8(0); c < chainCount; c++ {
		diff, err := p.f(8)
		if err != nil {
			return nil, err
		}
		out = append(out, uint16(diff))
	}
	return out, nil
}

func (p *ddParser) renderResolutions(maxSpatialID uint8) ([]Resolution, error) {
	out := make([]Resolution, 0, maxSpatialID+1)
	for s := uint8(0); s <= maxSpatialID; s++ {
		width, err := p.f(16)
		if err != nil {
			return nil, err
		}
		height, err := p.f(16)
		if err != nil {
			return nil, err
		}
		out = append(out, Resolution{
			MaxRenderWidth:  width + 1,
			MaxRenderHeight: height + 1,
		})
	}
	return out, nil
}

func (p *ddParser) f(n uint8) (uint32, error) {
	v, err := p.r.ReadU32(n)
	if err != nil {
		return 0, ErrNotEnoughBits
	}
	return v, nil
}

func (p *ddParser) f1() (bool, error) {
	v, err := p.r.ReadBit()
	if err != nil {
		return false, ErrNotEnoughBits
	}
	return v, nil
}

func (p *ddParser) ns(possibleValues uint8) (uint8, error) {
	v, err := p.r.ReadNonSymmetric(possibleValues)
	if err != nil {
		return 0, ErrNotEnoughBits
	}
	return v, nil
}
