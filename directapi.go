package rtcengine

import (
	"github.com/pion/rtcengine/pkg/rtcerr"
	"github.com/pion/rtcengine/pkg/rtpext"
)

// DirectAPI exposes the session controls that an SDP negotiator would
// normally drive: credentials, fingerprints, roles and declarations.
// All methods are safe to call before connectivity is established.
type DirectAPI struct {
	session *Session
}

// DirectAPI returns the direct control surface of the session.
func (s *Session) DirectAPI() *DirectAPI {
	return &DirectAPI{session: s}
}

// SetRemoteFingerprint sets the expected fingerprint of the peer's DTLS
// certificate. Must be set before StartDtls; the handshake fails the
// session when the peer certificate does not match.
func (d *DirectAPI) SetRemoteFingerprint(fp Fingerprint) error {
	s := d.session
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.dtls.setRemoteFingerprint(fp); err != nil {
		return &rtcerr.ConfigError{Err: err}
	}
	return nil
}

// SetRemoteIceCredentials sets the peer's ufrag and pwd.
func (d *DirectAPI) SetRemoteIceCredentials(creds IceCreds) error {
	s := d.session
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.iceAgent.setRemoteCredentials(creds); err != nil {
		return &rtcerr.ConfigError{Err: err}
	}
	return nil
}

// SetIceControlling sets whether this side nominates candidate pairs.
// Exactly one side must be controlling.
func (d *DirectAPI) SetIceControlling(controlling bool) {
	s := d.session
	s.mu.Lock()
	defer s.mu.Unlock()
	s.iceAgent.controlling = controlling
}

// SetIceLite puts the agent in lite mode: it only answers checks and
// never sends its own.
func (d *DirectAPI) SetIceLite(lite bool) {
	s := d.session
	s.mu.Lock()
	defer s.mu.Unlock()
	s.iceAgent.lite = lite
}

// StartDtls requests the DTLS handshake. active selects the client
// role. The handshake itself launches when ICE nominates a pair.
func (d *DirectAPI) StartDtls(active bool) error {
	s := d.session
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == SessionStateDisconnected {
		return &rtcerr.StateError{Err: ErrSessionClosed}
	}
	if err := s.dtls.request(active); err != nil {
		return &rtcerr.StateError{Err: err}
	}
	if _, remote, ok := s.iceAgent.selectedAddrs(); ok {
		s.state = SessionStateDtlsConnecting
		s.dtls.start(remote)
	}
	return nil
}

// StartSctp requests the SCTP association over DTLS. active selects the
// connecting role. The association launches when DTLS completes.
func (d *DirectAPI) StartSctp(active bool) {
	s := d.session
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sctp.request(active)
}

// CreateDataChannel declares a data channel. Negotiated channels open
// as soon as the association is up; in-band channels announce to the
// peer with DCEP. The open is signalled with a ChannelOpenEvent.
func (d *DirectAPI) CreateDataChannel(config ChannelConfig) {
	d.session.sctp.addPendingChannel(config)
}

// DeclareMedia declares a media section addressed by mid.
func (d *DirectAPI) DeclareMedia(mid rtpext.Mid, kind MediaKind) {
	s := d.session
	s.mu.Lock()
	defer s.mu.Unlock()
	s.medias = append(s.medias, mediaDecl{mid: mid, kind: kind})
	s.pushOutputLocked(MediaAddedEvent{Mid: mid, Kind: kind})
}

// DeclareStreamTx declares a transmit stream. rtxSsrc is zero when the
// stream has no repair stream, rid is empty without simulcast.
func (d *DirectAPI) DeclareStreamTx(
	ssrc, rtxSsrc uint32,
	mid rtpext.Mid,
	rid rtpext.Rid,
) (*StreamTx, error) {
	s := d.session
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.streamsTx[ssrc]; exists {
		return nil, &rtcerr.ConfigError{Err: ErrStreamExists}
	}
	stream := &StreamTx{
		session: s,
		ssrc:    ssrc,
		rtxSsrc: rtxSsrc,
		mid:     mid,
		rid:     rid,
	}
	s.streamsTx[ssrc] = stream
	return stream, nil
}

// EnableTwccFeedback turns on transport-wide congestion control
// feedback generation for received media.
func (d *DirectAPI) EnableTwccFeedback() {
	s := d.session
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.twcc == nil {
		s.twcc = newTwccGenerator(s.senderSSRC)
	}
}

// RemapExtensions applies a remote header extension mapping to the
// local map, locking every confirmed entry.
func (d *DirectAPI) RemapExtensions(remote []rtpext.Mapping) {
	s := d.session
	s.mu.Lock()
	defer s.mu.Unlock()
	s.extmap.Remap(remote, func(ext rtpext.Extension, oldID, newID uint8) {
		s.log.Warnf("extmap locked by previous negotiation, ignoring %s: %d -> %d", ext, oldID, newID)
	})
}
