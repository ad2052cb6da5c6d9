package rtcengine

import (
	"net"
	"sync"

	"github.com/pion/datachannel"
	"github.com/pion/logging"
	"github.com/pion/sctp"
)

// ChannelConfig describes a data channel to create.
type ChannelConfig struct {
	Label    string
	Protocol string

	// Negotiated pins the stream identifier instead of negotiating it
	// in-band with DCEP.
	Negotiated *uint16

	Ordered bool
}

// sctpTransport runs the SCTP association over the DTLS conn and owns
// the data channels. The association library is conn-driven; its
// goroutines stay contained here and deliver through emit.
type sctpTransport struct {
	lock sync.Mutex

	log           logging.LeveledLogger
	loggerFactory logging.LoggerFactory

	requested bool
	active    bool
	started   bool

	association *sctp.Association
	channels    []*DataChannel
	pending     []ChannelConfig

	emit    func(Output)
	onError func(error)
}

func newSctpTransport(
	log logging.LeveledLogger,
	loggerFactory logging.LoggerFactory,
	emit func(Output),
	onError func(error),
) *sctpTransport {
	return &sctpTransport{
		log:           log,
		loggerFactory: loggerFactory,
		emit:          emit,
		onError:       onError,
	}
}

func (t *sctpTransport) request(active bool) {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.requested = true
	t.active = active
}

func (t *sctpTransport) addPendingChannel(config ChannelConfig) {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.pending = append(t.pending, config)
}

// start brings up the association once DTLS is connected.
func (t *sctpTransport) start(conn net.Conn) {
	t.lock.Lock()
	if !t.requested || t.started {
		t.lock.Unlock()
		return
	}
	t.started = true
	active := t.active
	t.lock.Unlock()

	go func() {
		config := sctp.Config{
			NetConn:       conn,
			LoggerFactory: t.loggerFactory,
		}
		var association *sctp.Association
		var err error
		if active {
			association, err = sctp.Client(config)
		} else {
			association, err = sctp.Server(config)
		}
		if err != nil {
			t.onError(err)
			return
		}

		t.lock.Lock()
		t.association = association
		pending := t.pending
		t.pending = nil
		t.lock.Unlock()

		for _, cfg := range pending {
			if err := t.openChannel(association, cfg); err != nil {
				t.log.Warnf("opening data channel %q: %v", cfg.Label, err)
			}
		}
		t.acceptDataChannels(association)
	}()
}

func (t *sctpTransport) openChannel(association *sctp.Association, cfg ChannelConfig) error {
	channelType := datachannel.ChannelTypeReliable
	if !cfg.Ordered {
		channelType = datachannel.ChannelTypeReliableUnordered
	}
	dcConfig := &datachannel.Config{
		ChannelType:   channelType,
		Negotiated:    cfg.Negotiated != nil,
		Label:         cfg.Label,
		Protocol:      cfg.Protocol,
		LoggerFactory: t.loggerFactory,
	}
	id := uint16(0)
	if cfg.Negotiated != nil {
		id = *cfg.Negotiated
	}
	dc, err := datachannel.Dial(association, id, dcConfig)
	if err != nil {
		return err
	}
	t.registerChannel(dc, cfg.Label)
	return nil
}

func (t *sctpTransport) acceptDataChannels(association *sctp.Association) {
	for {
		dc, err := datachannel.Accept(association, &datachannel.Config{
			LoggerFactory: t.loggerFactory,
		})
		if err != nil {
			t.log.Debugf("accepting data channels stopped: %v", err)
			return
		}
		t.registerChannel(dc, dc.Config.Label)
	}
}

func (t *sctpTransport) registerChannel(dc *datachannel.DataChannel, label string) {
	channel := &DataChannel{
		id:    dc.StreamIdentifier(),
		label: label,
		dc:    dc,
	}
	t.lock.Lock()
	t.channels = append(t.channels, channel)
	t.lock.Unlock()

	t.emit(ChannelOpenEvent{ID: channel.id, Label: label})
	go t.readLoop(channel)
}

func (t *sctpTransport) readLoop(channel *DataChannel) {
	buffer := make([]byte, dataChannelBufferSize)
	for {
		n, isString, err := channel.dc.ReadDataChannel(buffer)
		if err != nil {
			t.log.Debugf("data channel %d closed: %v", channel.id, err)
			return
		}
		data := make([]byte, n)
		copy(data, buffer[:n])
		t.emit(ChannelDataEvent{ID: channel.id, Binary: !isString, Data: data})
	}
}

func (t *sctpTransport) close() {
	t.lock.Lock()
	association := t.association
	channels := t.channels
	t.lock.Unlock()

	for _, c := range channels {
		if err := c.dc.Close(); err != nil {
			t.log.Debugf("closing data channel %d: %v", c.id, err)
		}
	}
	if association != nil {
		if err := association.Close(); err != nil {
			t.log.Debugf("closing SCTP association: %v", err)
		}
	}
}
