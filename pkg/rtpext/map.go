package rtpext

// MaxID is the largest extension id the one-byte RFC 8285 header form
// can carry. The map only holds ids 1 through MaxID.
const MaxID = 14

type mapEntry struct {
	ext    Extension
	locked bool
}

// ExtensionMap maps RTP header extension ids (1-14, 1-indexed) to
// extensions. Entries lock the first time they are confirmed by a remote
// mapping and thereafter cannot change id or extension.
type ExtensionMap struct {
	entries [MaxID]mapEntry // index 0 is extmap:1
}

// NewExtensionMap returns an empty map.
func NewExtensionMap() *ExtensionMap {
	return &ExtensionMap{}
}

// StandardExtensionMap returns a map with the standard mappings, taken
// from what Chrome offers.
func StandardExtensionMap() *ExtensionMap {
	m := NewExtensionMap()
	m.Set(1, ExtensionAudioLevel)
	m.Set(2, ExtensionAbsoluteSendTime)
	m.Set(3, ExtensionTransportSequenceNumber)
	m.Set(4, ExtensionRtpMid)
	m.Set(6, ExtensionVideoLayersAllocation)
	m.Set(10, ExtensionRtpStreamID)
	m.Set(11, ExtensionRepairedRtpStreamID)
	m.Set(13, ExtensionVideoOrientation)
	return m
}

// Set maps id to ext, replacing any previous entry. Ids outside 1-14 are
// rejected.
func (m *ExtensionMap) Set(id uint8, ext Extension) bool {
	if id < 1 || id > MaxID {
		return false
	}
	m.entries[id-1] = mapEntry{ext: ext}
	return true
}

// Lookup returns the extension mapped at id, or ExtensionUnknown.
func (m *ExtensionMap) Lookup(id uint8) Extension {
	if id < 1 || id > MaxID {
		return ExtensionUnknown
	}
	return m.entries[id-1].ext
}

// IDOf returns the 1-based id the extension is mapped at, or 0 when it
// is not mapped.
func (m *ExtensionMap) IDOf(ext Extension) uint8 {
	for i, e := range m.entries {
		if e.ext == ext {
			return uint8(i) + 1
		}
	}
	return 0
}

// Mapping is one (id, extension) pair of an ExtensionMap.
type Mapping struct {
	ID        uint8
	Extension Extension
}

// Mappings returns the populated entries filtered on media direction.
func (m *ExtensionMap) Mappings(audio bool) []Mapping {
	var out []Mapping
	for i, e := range m.entries {
		if e.ext == ExtensionUnknown {
			continue
		}
		if audio && !e.ext.IsAudio() || !audio && !e.ext.IsVideo() {
			continue
		}
		out = append(out, Mapping{ID: uint8(i) + 1, Extension: e.ext})
	}
	return out
}

// CloneWithMediaKind returns a copy holding only the entries matching the
// media direction.
func (m *ExtensionMap) CloneWithMediaKind(audio bool) *ExtensionMap {
	out := NewExtensionMap()
	for _, mp := range m.Mappings(audio) {
		out.Set(mp.ID, mp.Extension)
	}
	return out
}

// Parse walks an RFC 5285 header extension block and decodes every known
// extension into values. Zero bytes are padding. In the one-byte form an
// id of 15 terminates processing. A declared length running past the
// buffer terminates without error.
func (m *ExtensionMap) Parse(buf []byte, twoByteHeader bool, values *ExtensionValues) {
	for len(buf) > 0 {
		if buf[0] == 0 {
			buf = buf[1:]
			continue
		}

		var id uint8
		var length int
		if twoByteHeader {
			if len(buf) < 2 {
				return
			}
			id = buf[0]
			length = int(buf[1])
			buf = buf[2:]
		} else {
			id = buf[0] >> 4
			length = int(buf[0]&0xf) + 1
			if id == 15 {
				// RFC 5285: the length of id 15 should be ignored and
				// processing of the entire extension terminates.
				return
			}
			buf = buf[1:]
		}

		if len(buf) < length {
			return
		}
		if ext := m.Lookup(id); ext != ExtensionUnknown {
			ext.ParseValue(buf[:length], values)
		}
		buf = buf[length:]
	}
}

// WriteTo serializes every mapped extension with a set value into buf
// using the one-byte header form, returning the number of bytes written.
// Values longer than 16 bytes are skipped; use WriteToTwoByte for those.
func (m *ExtensionMap) WriteTo(buf []byte, values *ExtensionValues) int {
	written := 0
	for i, e := range m.entries {
		if e.ext == ExtensionUnknown {
			continue
		}
		if len(buf)-written < 2 {
			break
		}
		n := e.ext.WriteTo(buf[written+1:], values)
		if n == 0 || n > 16 {
			continue
		}
		buf[written] = uint8(i+1)<<4 | uint8(n-1)
		written += 1 + n
	}
	return written
}

// WriteToTwoByte serializes using the two-byte header form, which allows
// values up to 255 bytes.
func (m *ExtensionMap) WriteToTwoByte(buf []byte, values *ExtensionValues) int {
	written := 0
	for i, e := range m.entries {
		if e.ext == ExtensionUnknown {
			continue
		}
		if len(buf)-written < 3 {
			break
		}
		n := e.ext.WriteTo(buf[written+2:], values)
		if n == 0 || n > 255 {
			continue
		}
		buf[written] = uint8(i + 1)
		buf[written+1] = uint8(n)
		written += 2 + n
	}
	return written
}

// NeedsTwoByteHeader reports whether any mapped extension requires the
// two-byte header form for these values.
func (m *ExtensionMap) NeedsTwoByteHeader(values *ExtensionValues) bool {
	for _, e := range m.entries {
		if e.ext != ExtensionUnknown && e.ext.NeedsTwoByteHeader(values) {
			return true
		}
	}
	return false
}

// RemapObserver is notified when a remote remap is refused because the
// binding was locked by a previous negotiation.
type RemapObserver func(ext Extension, oldID, newID uint8)

// Remap applies a remote extension list. Matching entries move to the
// remote's id unless locked with a different binding, and every applied
// entry locks. Applying the same list twice is idempotent.
func (m *ExtensionMap) Remap(remote []Mapping, refused RemapObserver) {
	for _, r := range remote {
		m.swap(r.ID, r.Extension, refused)
	}
}

func (m *ExtensionMap) swap(id uint8, ext Extension, refused RemapObserver) {
	if id < 1 || id > MaxID {
		return
	}
	newIndex := int(id) - 1

	oldIndex := -1
	for i, e := range m.entries {
		if e.ext == ext {
			oldIndex = i
			break
		}
	}
	if oldIndex < 0 {
		return
	}

	isChange := newIndex != oldIndex

	if isChange && m.entries[oldIndex].locked {
		if refused != nil {
			refused(ext, uint8(oldIndex)+1, id)
		}
		return
	}

	// Locking happens regardless of whether there was an actual change.
	m.entries[oldIndex].locked = true

	if !isChange {
		return
	}
	m.entries[oldIndex], m.entries[newIndex] = m.entries[newIndex], m.entries[oldIndex]
}
