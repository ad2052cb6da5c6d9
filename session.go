// Package rtcengine implements a single-peer, sans-I/O WebRTC endpoint.
// The session is a deterministic state machine: the host feeds it
// received datagrams and timeout ticks through HandleInput and drains
// transmits, events and the next deadline through PollOutput. The
// engine performs no socket I/O and never reads a clock.
package rtcengine

import (
	"crypto/tls"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/ice/v4"
	"github.com/pion/logging"
	"github.com/pion/randutil"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"

	"github.com/pion/rtcengine/internal/mux"
	enginecrypto "github.com/pion/rtcengine/pkg/crypto"
	"github.com/pion/rtcengine/pkg/rtcerr"
	"github.com/pion/rtcengine/pkg/rtpext"
	"github.com/pion/rtcengine/pkg/srtp"
)

// DatagramMtuWarnLimit is the transmit size above which a warning is
// logged. Contents are never truncated.
const DatagramMtuWarnLimit = 1200

const credentialRunes = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// SessionConfig configures a Session. The zero value is usable.
type SessionConfig struct {
	// LoggerFactory defaults to the pion default factory.
	LoggerFactory logging.LoggerFactory

	// CryptoProvider defaults to the standard library provider.
	CryptoProvider enginecrypto.Provider

	// Certificate is the local DTLS identity. Generated by the crypto
	// provider when nil.
	Certificate *tls.Certificate

	// ExtensionMap defaults to the standard mappings.
	ExtensionMap *rtpext.ExtensionMap

	// ReplayWindow is the SRTP replay window width, minimum 64.
	ReplayWindow uint

	// MtuWarnLimit defaults to DatagramMtuWarnLimit.
	MtuWarnLimit int

	// LocalCreds are generated when nil.
	LocalCreds *IceCreds
}

// Session is the top-level container: it owns the ICE agent, the DTLS
// context, the SRTP transforms, the SCTP association, the RTP streams,
// the extension map and the stats aggregator.
type Session struct {
	mu sync.Mutex

	id            string
	log           logging.LeveledLogger
	loggerFactory logging.LoggerFactory
	provider      enginecrypto.Provider
	certificate   *tls.Certificate

	state         SessionState
	connectedSent bool

	queue *outputQueue
	demux *mux.Mux

	iceAgent *iceAgent
	dtls     *dtlsTransport
	sctp     *sctpTransport

	extmap       *rtpext.ExtensionMap
	replayWindow uint
	mtuWarnLimit int

	// At most one SRTP transform pair per session, created exactly when
	// DTLS completes and keying material is extracted.
	srtpTx *srtp.Context
	srtpRx *srtp.Context

	localCreds IceCreds
	medias     []mediaDecl
	streamsRx  map[uint32]*streamRx
	streamsTx  map[uint32]*StreamTx

	stats      *statsAggregator
	twcc       *twccGenerator
	senderSSRC uint32

	lastNow time.Time

	peerRx, peerTx   uint64
	mediaRx, mediaTx uint64
	protocolErrors   uint64
	authErrors       uint64
}

// NewSession builds a Session from the config.
func NewSession(config SessionConfig) (*Session, error) {
	loggerFactory := config.LoggerFactory
	if loggerFactory == nil {
		loggerFactory = logging.NewDefaultLoggerFactory()
	}
	provider := config.CryptoProvider
	if provider == nil {
		provider = enginecrypto.Std{}
	}

	certificate := config.Certificate
	if certificate == nil {
		var err error
		certificate, err = provider.CreateDtlsIdentity()
		if err != nil {
			return nil, &rtcerr.ConfigError{Err: err}
		}
	}

	extmap := config.ExtensionMap
	if extmap == nil {
		extmap = rtpext.StandardExtensionMap()
	}

	localCreds := IceCreds{}
	if config.LocalCreds != nil {
		localCreds = *config.LocalCreds
	} else {
		ufrag, err := randutil.GenerateCryptoRandomString(4, credentialRunes)
		if err != nil {
			return nil, &rtcerr.ConfigError{Err: err}
		}
		pwd, err := randutil.GenerateCryptoRandomString(22, credentialRunes)
		if err != nil {
			return nil, &rtcerr.ConfigError{Err: err}
		}
		localCreds = IceCreds{UFrag: ufrag, Pwd: pwd}
	}
	if !localCreds.valid() {
		return nil, &rtcerr.ConfigError{Err: ErrInvalidIceCredentials}
	}

	mtuWarnLimit := config.MtuWarnLimit
	if mtuWarnLimit == 0 {
		mtuWarnLimit = DatagramMtuWarnLimit
	}

	mathRand := randutil.NewMathRandomGenerator()

	s := &Session{
		id:            uuid.NewString(),
		log:           loggerFactory.NewLogger("session"),
		loggerFactory: loggerFactory,
		provider:      provider,
		certificate:   certificate,
		queue:         &outputQueue{},
		extmap:        extmap,
		replayWindow:  config.ReplayWindow,
		mtuWarnLimit:  mtuWarnLimit,
		localCreds:    localCreds,
		streamsRx:     map[uint32]*streamRx{},
		streamsTx:     map[uint32]*StreamTx{},
		senderSSRC:    mathRand.Uint32(),
	}
	s.stats = newStatsAggregator(s.id)
	s.demux = mux.NewMux(loggerFactory.NewLogger("mux"))

	tieBreaker := uint64(mathRand.Uint32())<<32 | uint64(mathRand.Uint32())
	s.iceAgent = newIceAgent(loggerFactory.NewLogger("ice"), tieBreaker, s.pushOutputLocked)
	s.iceAgent.local = localCreds
	s.iceAgent.onConnected = s.onIceConnectedLocked
	s.iceAgent.onDisconnected = func() {
		s.fatalLocked(errors.New("ICE disconnected"))
	}

	dtlsEndpoint := s.demux.NewEndpoint(mux.MatchDTLS, s.transmitFromCollaborator)
	s.dtls = newDtlsTransport(loggerFactory.NewLogger("dtls"), dtlsEndpoint, certificate, s.handleDtlsResult)
	s.sctp = newSctpTransport(loggerFactory.NewLogger("sctp"), loggerFactory, s.pushOutput, func(err error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.fatalLocked(err)
	})

	return s, nil
}

// LocalIceCredentials returns the local ufrag and pwd for signalling.
func (s *Session) LocalIceCredentials() IceCreds {
	return s.localCreds
}

// LocalFingerprint returns the sha-256 fingerprint of the local DTLS
// certificate for signalling.
func (s *Session) LocalFingerprint() (Fingerprint, error) {
	return CertificateFingerprint(s.certificate, "sha-256")
}

// AddLocalCandidate injects a local candidate, usually a host candidate
// for a bound socket.
func (s *Session) AddLocalCandidate(candidate ice.Candidate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.iceAgent.addLocalCandidate(candidate); err != nil {
		return &rtcerr.ConfigError{Err: err}
	}
	return nil
}

// AddRemoteCandidate injects a candidate signalled by the peer.
func (s *Session) AddRemoteCandidate(candidate ice.Candidate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.iceAgent.addRemoteCandidate(candidate); err != nil {
		return &rtcerr.ConfigError{Err: err}
	}
	return nil
}

// IsConnected reports whether both ICE and DTLS are established.
func (s *Session) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == SessionStateConnected
}

// IsAlive reports whether the session has not reached the terminal
// state.
func (s *Session) IsAlive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state != SessionStateDisconnected
}

// State returns the composed session state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Channel returns the data channel with the given stream identifier, or
// nil before it opens.
func (s *Session) Channel(id uint16) *DataChannel {
	s.sctp.lock.Lock()
	defer s.sctp.lock.Unlock()
	for _, c := range s.sctp.channels {
		if c.id == id {
			return c
		}
	}
	return nil
}

// Disconnect forces the session into the terminal state.
func (s *Session) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fatalLocked(errors.New("disconnected by host"))
}

// HandleInput advances the session with one received datagram or a
// timeout tick. It never blocks; processable failures surface through
// PollOutput or the terminal state.
func (s *Session) HandleInput(input Input) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == SessionStateDisconnected {
		return nil
	}
	if input.Now.After(s.lastNow) {
		s.lastNow = input.Now
	}

	if r := input.Receive; r != nil {
		if len(r.Contents) == 0 || len(r.Contents) > 2000 {
			return &rtcerr.ConfigError{Err: errors.New("datagram size out of range")}
		}
		s.peerRx += uint64(len(r.Contents))
		s.demuxReceive(input.Now, r)
	}

	s.driveTimers(input.Now)
	return nil
}

// PollOutput returns the next transmit or event, or the next deadline
// once the queue is drained. Callers must drain until Timeout before
// waiting.
func (s *Session) PollOutput() Output {
	if o, ok := s.queue.pop(); ok {
		return o
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return Timeout(s.nextDeadline())
}

// demuxReceive routes one datagram by its first byte (RFC 7983).
func (s *Session) demuxReceive(now time.Time, r *Receive) {
	b := r.Contents
	switch {
	case mux.MatchSTUN(b):
		s.iceAgent.handleSTUN(now, r.Source, r.Destination, b)
	case mux.MatchDTLS(b):
		s.demux.Dispatch(b)
	case mux.MatchTURNChannel(b):
		s.log.Tracef("ignoring TURN channel data from %s", r.Source)
	case mux.MatchSRTCP(b):
		s.handleSrtcp(b)
	case mux.MatchSRTP(b):
		s.handleSrtp(now, b)
	default:
		s.log.Tracef("dropping packet with first byte %d from %s", b[0], r.Source)
	}
}

func (s *Session) driveTimers(now time.Time) {
	s.iceAgent.handleTimeout(now)
	if s.state == SessionStateDisconnected {
		return
	}
	if s.twcc != nil && s.twcc.wantsTimeout(now) {
		s.sendTwccFeedback(now)
	}
	if s.stats.wantsTimeout(now) {
		s.stats.handleTimeout(s.snapshot(now), s.pushOutputLocked)
		s.sendReceiverReports()
	}
}

// nextDeadline is the earliest of the subsystem deadlines. Deadlines
// are monotonic; an overdue deadline clamps to the last seen now.
func (s *Session) nextDeadline() time.Time {
	var deadline time.Time
	consider := func(t time.Time) {
		if t.IsZero() {
			return
		}
		if deadline.IsZero() || t.Before(deadline) {
			deadline = t
		}
	}

	consider(s.iceAgent.nextTimeout())
	statsNext := s.stats.nextTimeout()
	if statsNext.IsZero() {
		// Stats want the very first tick so counters flow right away.
		statsNext = s.lastNow
	}
	consider(statsNext)
	if s.twcc != nil {
		consider(s.twcc.nextTimeout())
	}

	if deadline.Before(s.lastNow) {
		deadline = s.lastNow
	}
	return deadline
}

// pushOutputLocked queues one output. The session mutex must be held.
func (s *Session) pushOutputLocked(o Output) {
	if s.state == SessionStateDisconnected {
		return
	}
	if t, ok := o.(Transmit); ok {
		s.peerTx += uint64(len(t.Contents))
		if len(t.Contents) > s.mtuWarnLimit {
			s.log.Warnf("transmit of %d bytes exceeds %d", len(t.Contents), s.mtuWarnLimit)
		}
	}
	s.queue.push(o)
}

// pushOutput is the goroutine-safe variant used by the conn-driven
// collaborators.
func (s *Session) pushOutput(o Output) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pushOutputLocked(o)
}

// transmitLocked queues contents on the nominated pair.
func (s *Session) transmitLocked(contents []byte) {
	local, remote, ok := s.iceAgent.selectedAddrs()
	if !ok {
		s.log.Tracef("dropping %d byte transmit, no nominated pair", len(contents))
		return
	}
	s.pushOutputLocked(Transmit{
		Proto:       ProtocolUDP,
		Source:      local,
		Destination: remote,
		Contents:    contents,
	})
}

// transmitFromCollaborator is the write path of the demux endpoints.
func (s *Session) transmitFromCollaborator(contents []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transmitLocked(contents)
}

func (s *Session) onIceConnectedLocked() {
	if s.state == SessionStateNew || s.state == SessionStateIceChecking {
		s.state = SessionStateIceConnected
	}
	local, remote, _ := s.iceAgent.selectedAddrs()
	s.demux.SetAddrs(local, remote)
	if s.dtls.requested && s.state == SessionStateIceConnected {
		s.state = SessionStateDtlsConnecting
		s.dtls.start(remote)
	}
	s.maybeEmitConnectedLocked()
}

// handleDtlsResult runs on the handshake goroutine.
func (s *Session) handleDtlsResult(result dtlsResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == SessionStateDisconnected {
		return
	}
	if result.err != nil {
		s.fatalLocked(result.err)
		return
	}

	material, err := srtp.SplitKeyingMaterial(result.profile, result.keyingMaterial)
	if err != nil {
		s.fatalLocked(err)
		return
	}

	// The DTLS client encrypts with the client write keys.
	txKey, txSalt := material.ClientWriteKey, material.ClientWriteSalt
	rxKey, rxSalt := material.ServerWriteKey, material.ServerWriteSalt
	if !s.dtls.active {
		txKey, txSalt, rxKey, rxSalt = rxKey, rxSalt, txKey, txSalt
	}

	var opts []srtp.ContextOption
	if s.replayWindow > 0 {
		opts = append(opts, srtp.WithReplayWindow(s.replayWindow))
	}
	if s.srtpTx, err = srtp.CreateContext(result.profile, txKey, txSalt, s.provider, opts...); err != nil {
		s.fatalLocked(err)
		return
	}
	if s.srtpRx, err = srtp.CreateContext(result.profile, rxKey, rxSalt, s.provider, opts...); err != nil {
		s.fatalLocked(err)
		return
	}

	s.state = SessionStateConnected
	s.maybeEmitConnectedLocked()
	s.sctp.start(result.conn)
}

func (s *Session) maybeEmitConnectedLocked() {
	if s.connectedSent {
		return
	}
	if s.iceAgent.state != IceConnectionStateConnected || s.srtpTx == nil {
		return
	}
	s.connectedSent = true
	s.state = SessionStateConnected
	s.pushOutputLocked(ConnectedEvent{})
}

func (s *Session) fatalLocked(err error) {
	if s.state == SessionStateDisconnected {
		return
	}
	s.log.Errorf("session terminal: %v", err)
	s.state = SessionStateDisconnected
	s.dtls.close()
	s.sctp.close()
	if closeErr := s.demux.Close(); closeErr != nil {
		s.log.Debugf("closing demux: %v", closeErr)
	}
}

func (s *Session) handleSrtp(now time.Time, buf []byte) {
	if s.srtpRx == nil {
		s.log.Tracef("dropping SRTP before keys are established")
		return
	}

	var header rtp.Header
	headerLen, err := header.Unmarshal(buf)
	if err != nil {
		s.protocolErrors++
		return
	}

	// Header extensions are readable without decrypting the payload.
	values := rtpext.ExtensionValues{}
	for _, id := range header.GetExtensionIDs() {
		ext := s.extmap.Lookup(id)
		if ext == rtpext.ExtensionUnknown {
			continue
		}
		ext.ParseValue(header.GetExtension(id), &values)
	}

	plain, err := s.srtpRx.DecryptRTP(buf)
	if err != nil {
		if errors.Is(err, srtp.ErrDuplicated) || errors.Is(err, srtp.ErrFailedToVerifyAuthTag) {
			s.authErrors++
		} else {
			s.protocolErrors++
		}
		return
	}
	payload := plain[headerLen:]

	stream := s.streamRxFor(header.SSRC, &values)
	stream.packetsRx++
	stream.bytesRx += uint64(len(payload))
	stream.highestSeq = header.SequenceNumber
	s.mediaRx += uint64(len(payload))

	if s.twcc != nil && values.TransportSequenceNumber != nil {
		s.twcc.record(now, header.SSRC, *values.TransportSequenceNumber)
	}

	var descriptor *rtpext.DependencyDescriptor
	if len(values.DependencyDescriptor) > 0 {
		descriptor, err = stream.parseDependencyDescriptor(values.DependencyDescriptor)
		if err != nil {
			s.log.Tracef("dependency descriptor on ssrc %d: %v", header.SSRC, err)
		}
	}

	s.pushOutputLocked(RtpPacketEvent{
		Now:                  now,
		Mid:                  stream.mid,
		Rid:                  stream.rid,
		Header:               header,
		Payload:              payload,
		Values:               values,
		DependencyDescriptor: descriptor,
	})
}

func (s *Session) streamRxFor(ssrc uint32, values *rtpext.ExtensionValues) *streamRx {
	if stream, ok := s.streamsRx[ssrc]; ok {
		return stream
	}
	stream := &streamRx{ssrc: ssrc}
	if values.Mid != nil {
		stream.mid = *values.Mid
	} else if len(s.medias) == 1 {
		stream.mid = s.medias[0].mid
	}
	if values.Rid != nil {
		stream.rid = *values.Rid
	}
	s.streamsRx[ssrc] = stream
	s.log.Debugf("new receive stream ssrc %d mid %q rid %q", ssrc, stream.mid, stream.rid)
	return stream
}

func (s *Session) handleSrtcp(buf []byte) {
	if s.srtpRx == nil {
		s.log.Tracef("dropping SRTCP before keys are established")
		return
	}
	plain, err := s.srtpRx.DecryptRTCP(buf)
	if err != nil {
		if errors.Is(err, srtp.ErrDuplicated) || errors.Is(err, srtp.ErrFailedToVerifyAuthTag) {
			s.authErrors++
		} else {
			s.protocolErrors++
		}
		return
	}
	packets, err := rtcp.Unmarshal(plain)
	if err != nil {
		s.protocolErrors++
		return
	}
	for _, packet := range packets {
		switch p := packet.(type) {
		case *rtcp.SenderReport:
			s.log.Tracef("sender report from ssrc %d", p.SSRC)
		case *rtcp.ReceiverReport:
			s.log.Tracef("receiver report from ssrc %d", p.SSRC)
		case *rtcp.Goodbye:
			s.log.Debugf("bye for ssrcs %v", p.Sources)
		case *rtcp.TransportLayerCC:
			s.log.Tracef("twcc feedback, base seq %d", p.BaseSequenceNumber)
		}
	}
}

func (s *Session) sendTwccFeedback(now time.Time) {
	if s.srtpTx == nil {
		return
	}
	feedback := s.twcc.buildFeedback(now)
	if feedback == nil {
		return
	}
	raw, err := feedback.Marshal()
	if err != nil {
		s.log.Warnf("marshaling twcc feedback: %v", err)
		return
	}
	protected, err := s.srtpTx.EncryptRTCP(raw)
	if err != nil {
		s.log.Warnf("protecting twcc feedback: %v", err)
		return
	}
	s.transmitLocked(protected)
}

// sendReceiverReports emits one receiver report per receive stream on
// the stats cadence.
func (s *Session) sendReceiverReports() {
	if s.srtpTx == nil || len(s.streamsRx) == 0 {
		return
	}
	for _, stream := range s.streamsRx {
		report := rtcp.ReceiverReport{
			SSRC: s.senderSSRC,
			Reports: []rtcp.ReceptionReport{{
				SSRC:               stream.ssrc,
				LastSequenceNumber: uint32(stream.highestSeq),
			}},
		}
		raw, err := report.Marshal()
		if err != nil {
			s.log.Warnf("marshaling receiver report: %v", err)
			continue
		}
		protected, err := s.srtpTx.EncryptRTCP(raw)
		if err != nil {
			s.log.Warnf("protecting receiver report: %v", err)
			continue
		}
		s.transmitLocked(protected)
	}
}

func (s *Session) snapshot(now time.Time) *StatsSnapshot {
	snapshot := &StatsSnapshot{
		PeerTx:    s.peerTx,
		PeerRx:    s.peerRx,
		Tx:        s.mediaTx,
		Rx:        s.mediaRx,
		Ingress:   map[statsKey]uint64{},
		Egress:    map[statsKey]uint64{},
		Timestamp: now,
	}
	for _, stream := range s.streamsRx {
		snapshot.Ingress[statsKey{mid: stream.mid, rid: stream.rid}] += stream.bytesRx
	}
	for _, stream := range s.streamsTx {
		snapshot.Egress[statsKey{mid: stream.mid, rid: stream.rid}] += stream.bytesTx
	}
	return snapshot
}
