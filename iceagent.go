package rtcengine

import (
	"encoding/binary"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/pion/ice/v4"
	"github.com/pion/logging"
	"github.com/pion/stun/v3"
)

const (
	iceCheckInterval     = 50 * time.Millisecond
	iceKeepaliveInterval = 2500 * time.Millisecond
	iceDisconnectTimeout = 15 * time.Second
)

// IceCreds is the ICE username fragment and password of one side.
// Immutable after negotiation.
type IceCreds struct {
	UFrag string
	Pwd   string
}

func (c IceCreds) valid() bool {
	if c.UFrag == "" || c.Pwd == "" {
		return false
	}
	for _, s := range []string{c.UFrag, c.Pwd} {
		for _, r := range s {
			if r < 0x21 || r > 0x7e {
				return false
			}
		}
	}
	return true
}

type icePairState int

const (
	pairWaiting icePairState = iota
	pairInProgress
	pairSucceeded
)

type icePair struct {
	local         net.Addr
	remote        net.Addr
	localPriority uint32
	pairPriority  uint64

	state        icePairState
	nominated    bool
	lastSent     time.Time
	lastReceived time.Time
}

type icePendingCheck struct {
	pair       *icePair
	nominating bool
}

// iceAgent is a minimal sans-I/O connectivity agent: candidates are
// injected, checks and responses are built with pion/stun, and all
// scheduling is driven by the session's timeout ticks.
type iceAgent struct {
	log  logging.LeveledLogger
	emit func(Output)

	onConnected    func()
	onDisconnected func()

	controlling bool
	lite        bool
	tieBreaker  uint64

	local          IceCreds
	remote         IceCreds
	hasRemoteCreds bool

	localCandidates  []ice.Candidate
	remoteCandidates []ice.Candidate
	pairs            []*icePair
	selected         *icePair

	state         IceConnectionState
	pending       map[[stun.TransactionIDSize]byte]icePendingCheck
	nextPairIndex int
	nextAction    time.Time
	checkingSince time.Time
}

func newIceAgent(log logging.LeveledLogger, tieBreaker uint64, emit func(Output)) *iceAgent {
	return &iceAgent{
		log:        log,
		emit:       emit,
		tieBreaker: tieBreaker,
		pending:    map[[stun.TransactionIDSize]byte]icePendingCheck{},
	}
}

func candidateAddr(c ice.Candidate) net.Addr {
	return &net.UDPAddr{IP: net.ParseIP(c.Address()), Port: c.Port()}
}

func (a *iceAgent) addLocalCandidate(c ice.Candidate) error {
	if net.ParseIP(c.Address()) == nil {
		return ErrInvalidCandidate
	}
	a.localCandidates = append(a.localCandidates, c)
	a.formPairs()
	return nil
}

func (a *iceAgent) addRemoteCandidate(c ice.Candidate) error {
	if net.ParseIP(c.Address()) == nil {
		return ErrInvalidCandidate
	}
	a.remoteCandidates = append(a.remoteCandidates, c)
	a.formPairs()
	return nil
}

func (a *iceAgent) setRemoteCredentials(creds IceCreds) error {
	if !creds.valid() {
		return ErrInvalidIceCredentials
	}
	a.remote = creds
	a.hasRemoteCreds = true
	return nil
}

// formPairs keeps the checklist as the full cross product, ordered by
// RFC 8445 pair priority.
func (a *iceAgent) formPairs() {
	for _, lc := range a.localCandidates {
		for _, rc := range a.remoteCandidates {
			local, remote := candidateAddr(lc), candidateAddr(rc)
			if a.findPair(local, remote) != nil {
				continue
			}
			a.pairs = append(a.pairs, &icePair{
				local:         local,
				remote:        remote,
				localPriority: lc.Priority(),
				pairPriority:  pairPriority(a.controlling, lc.Priority(), rc.Priority()),
			})
		}
	}
	for i := 1; i < len(a.pairs); i++ {
		for j := i; j > 0 && a.pairs[j].pairPriority > a.pairs[j-1].pairPriority; j-- {
			a.pairs[j], a.pairs[j-1] = a.pairs[j-1], a.pairs[j]
		}
	}
}

func pairPriority(controlling bool, localPrio, remotePrio uint32) uint64 {
	g, d := uint64(localPrio), uint64(remotePrio)
	if !controlling {
		g, d = d, g
	}
	min, max := g, d
	if min > max {
		min, max = max, min
	}
	extra := uint64(0)
	if g > d {
		extra = 1
	}
	return min<<32 + max<<1 + extra
}

func (a *iceAgent) findPair(local, remote net.Addr) *icePair {
	for _, p := range a.pairs {
		if p.local.String() == local.String() && p.remote.String() == remote.String() {
			return p
		}
	}
	return nil
}

// pairFor returns the pair for the addresses, creating a peer-reflexive
// one when the source was never signalled.
func (a *iceAgent) pairFor(local, remote net.Addr) *icePair {
	if p := a.findPair(local, remote); p != nil {
		return p
	}
	a.log.Debugf("new peer reflexive pair %s -> %s", local, remote)
	p := &icePair{local: local, remote: remote}
	a.pairs = append(a.pairs, p)
	return p
}

func (a *iceAgent) setState(state IceConnectionState) {
	if a.state == state {
		return
	}
	a.state = state
	a.emit(IceConnectionStateChangeEvent{State: state})
	if state == IceConnectionStateDisconnected && a.onDisconnected != nil {
		a.onDisconnected()
	}
}

func (a *iceAgent) handleTimeout(now time.Time) {
	if a.state == IceConnectionStateNew && a.hasRemoteCreds && len(a.pairs) > 0 && !a.lite {
		a.checkingSince = now
		a.setState(IceConnectionStateChecking)
	}

	if a.state == IceConnectionStateChecking && !a.lite {
		if !now.Before(a.nextAction) {
			a.sendNextCheck(now)
			a.nextAction = now.Add(iceCheckInterval)
		}
		if now.Sub(a.checkingSince) > iceDisconnectTimeout {
			a.log.Warnf("connectivity checks timed out")
			a.setState(IceConnectionStateDisconnected)
		}
		return
	}

	if a.selected != nil {
		if now.Sub(a.selected.lastReceived) > iceDisconnectTimeout {
			a.log.Warnf("nominated pair went silent")
			a.setState(IceConnectionStateDisconnected)
			return
		}
		if !a.lite && now.Sub(a.selected.lastSent) >= iceKeepaliveInterval {
			a.sendCheck(a.selected, false, now)
		}
		a.nextAction = now.Add(iceKeepaliveInterval)
	}
}

// nextTimeout returns the next time the agent wants a tick, or the zero
// time when it is idle.
func (a *iceAgent) nextTimeout() time.Time {
	switch {
	case a.state == IceConnectionStateChecking:
		return a.nextAction
	case a.selected != nil:
		return a.nextAction
	default:
		return time.Time{}
	}
}

func (a *iceAgent) sendNextCheck(now time.Time) {
	if len(a.pairs) == 0 {
		return
	}
	pair := a.pairs[a.nextPairIndex%len(a.pairs)]
	a.nextPairIndex++
	a.sendCheck(pair, false, now)
}

func (a *iceAgent) sendCheck(pair *icePair, nominate bool, now time.Time) {
	setters := []stun.Setter{
		stun.TransactionID,
		stun.BindingRequest,
		stun.NewUsername(a.remote.UFrag + ":" + a.local.UFrag),
		stunPriority(pair.localPriority),
	}
	if a.controlling {
		setters = append(setters, stunControlling(a.tieBreaker))
		if nominate {
			setters = append(setters, stunUseCandidate{})
		}
	} else {
		setters = append(setters, stunControlled(a.tieBreaker))
	}
	setters = append(setters, stun.NewShortTermIntegrity(a.remote.Pwd), stun.Fingerprint)

	msg, err := stun.Build(setters...)
	if err != nil {
		a.log.Errorf("building binding request: %v", err)
		return
	}
	a.pending[msg.TransactionID] = icePendingCheck{pair: pair, nominating: nominate}
	pair.lastSent = now
	if pair.state == pairWaiting {
		pair.state = pairInProgress
	}
	a.emit(Transmit{
		Proto:       ProtocolUDP,
		Source:      pair.local,
		Destination: pair.remote,
		Contents:    msg.Raw,
	})
}

func (a *iceAgent) handleSTUN(now time.Time, src, dst net.Addr, data []byte) {
	msg := &stun.Message{Raw: append([]byte(nil), data...)}
	if err := msg.Decode(); err != nil {
		a.log.Tracef("dropping malformed STUN from %s: %v", src, err)
		return
	}

	switch msg.Type {
	case stun.BindingRequest:
		a.handleBindingRequest(now, src, dst, msg)
	case stun.BindingSuccess:
		a.handleBindingSuccess(now, src, dst, msg)
	case stun.BindingError:
		a.log.Debugf("binding error from %s", src)
	default:
		if msg.Type.Method == stun.MethodBinding && msg.Type.Class == stun.ClassIndication {
			if pair := a.findPair(dst, src); pair != nil {
				pair.lastReceived = now
			}
		}
	}
}

func (a *iceAgent) handleBindingRequest(now time.Time, src, dst net.Addr, msg *stun.Message) {
	if err := stun.NewShortTermIntegrity(a.local.Pwd).Check(msg); err != nil {
		a.log.Tracef("binding request failed integrity check: %v", err)
		return
	}
	var username stun.Username
	if err := username.GetFrom(msg); err != nil ||
		!strings.HasPrefix(string(username), a.local.UFrag+":") {
		a.log.Tracef("binding request with wrong username")
		return
	}

	pair := a.pairFor(dst, src)
	pair.lastReceived = now

	ip, port := addrIPPort(src)
	resp, err := stun.Build(
		stun.NewTransactionIDSetter(msg.TransactionID),
		stun.BindingSuccess,
		&stun.XORMappedAddress{IP: ip, Port: port},
		stun.NewShortTermIntegrity(a.local.Pwd),
		stun.Fingerprint,
	)
	if err != nil {
		a.log.Errorf("building binding response: %v", err)
		return
	}
	a.emit(Transmit{
		Proto:       ProtocolUDP,
		Source:      dst,
		Destination: src,
		Contents:    resp.Raw,
	})

	if !a.controlling && msg.Contains(stun.AttrUseCandidate) {
		a.nominate(pair, now)
	}
}

func (a *iceAgent) handleBindingSuccess(now time.Time, src, dst net.Addr, msg *stun.Message) {
	check, ok := a.pending[msg.TransactionID]
	if !ok {
		a.log.Tracef("binding response with unknown transaction from %s", src)
		return
	}
	delete(a.pending, msg.TransactionID)

	if err := stun.NewShortTermIntegrity(a.remote.Pwd).Check(msg); err != nil {
		a.log.Tracef("binding response failed integrity check: %v", err)
		return
	}

	pair := check.pair
	pair.state = pairSucceeded
	pair.lastReceived = now

	if check.nominating {
		a.nominate(pair, now)
		return
	}
	if a.controlling && a.selected == nil {
		a.sendCheck(pair, true, now)
	}
}

func (a *iceAgent) nominate(pair *icePair, now time.Time) {
	pair.nominated = true
	a.selected = pair
	a.nextAction = now.Add(iceKeepaliveInterval)
	a.setState(IceConnectionStateConnected)
	if a.onConnected != nil {
		a.onConnected()
	}
}

// selectedAddrs returns the nominated pair's addresses.
func (a *iceAgent) selectedAddrs() (local, remote net.Addr, ok bool) {
	if a.selected == nil {
		return nil, nil, false
	}
	return a.selected.local, a.selected.remote, true
}

func addrIPPort(addr net.Addr) (net.IP, int) {
	switch addr := addr.(type) {
	case *net.UDPAddr:
		return addr.IP, addr.Port
	case *net.TCPAddr:
		return addr.IP, addr.Port
	default:
		host, port, err := net.SplitHostPort(addr.String())
		if err != nil {
			return nil, 0
		}
		ip := net.ParseIP(host)
		p, _ := strconv.Atoi(port)
		return ip, p
	}
}

// STUN attribute setters for the ICE specific attributes.

type stunPriority uint32

func (p stunPriority) AddTo(m *stun.Message) error {
	v := make([]byte, 4)
	binary.BigEndian.PutUint32(v, uint32(p))
	m.Add(stun.AttrPriority, v)
	return nil
}

type stunControlling uint64

func (c stunControlling) AddTo(m *stun.Message) error {
	v := make([]byte, 8)
	binary.BigEndian.PutUint64(v, uint64(c))
	m.Add(stun.AttrICEControlling, v)
	return nil
}

type stunControlled uint64

func (c stunControlled) AddTo(m *stun.Message) error {
	v := make([]byte, 8)
	binary.BigEndian.PutUint64(v, uint64(c))
	m.Add(stun.AttrICEControlled, v)
	return nil
}

type stunUseCandidate struct{}

func (stunUseCandidate) AddTo(m *stun.Message) error {
	m.Add(stun.AttrUseCandidate, nil)
	return nil
}
