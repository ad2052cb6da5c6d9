package rtcengine

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"

	"github.com/pion/dtls/v3"
	"github.com/pion/dtls/v3/pkg/crypto/fingerprint"
	"github.com/pion/logging"

	"github.com/pion/rtcengine/internal/mux"
	"github.com/pion/rtcengine/pkg/srtp"
)

// Fingerprint identifies a DTLS certificate: a hash algorithm name
// ("sha-256") and the colon separated hex digest.
type Fingerprint struct {
	Algorithm string
	Value     string
}

// CertificateFingerprint computes the fingerprint of the leaf
// certificate with the given algorithm.
func CertificateFingerprint(cert *tls.Certificate, algorithm string) (Fingerprint, error) {
	hash, err := fingerprint.HashFromString(algorithm)
	if err != nil {
		return Fingerprint{}, ErrInvalidFingerprint
	}
	parsed, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		return Fingerprint{}, err
	}
	value, err := fingerprint.Fingerprint(parsed, hash)
	if err != nil {
		return Fingerprint{}, err
	}
	return Fingerprint{Algorithm: algorithm, Value: value}, nil
}

// dtlsResult is what the handshake goroutine reports back to the
// session.
type dtlsResult struct {
	conn            *dtls.Conn
	profile         srtp.Profile
	keyingMaterial  []byte
	peerFingerprint string
	err             error
}

// dtlsTransport drives the DTLS handshake over the demux endpoint. The
// handshake library is conn-driven; its concurrency stays contained
// here and every outcome reaches the session through onResult.
type dtlsTransport struct {
	lock sync.Mutex

	log         logging.LeveledLogger
	endpoint    *mux.Endpoint
	certificate *tls.Certificate

	remoteFingerprint *Fingerprint
	requested         bool
	active            bool
	started           bool
	conn              *dtls.Conn

	onResult func(dtlsResult)
}

func newDtlsTransport(
	log logging.LeveledLogger,
	endpoint *mux.Endpoint,
	certificate *tls.Certificate,
	onResult func(dtlsResult),
) *dtlsTransport {
	return &dtlsTransport{
		log:         log,
		endpoint:    endpoint,
		certificate: certificate,
		onResult:    onResult,
	}
}

func (t *dtlsTransport) setRemoteFingerprint(fp Fingerprint) error {
	if _, err := fingerprint.HashFromString(fp.Algorithm); err != nil {
		return ErrInvalidFingerprint
	}
	if fp.Value == "" {
		return ErrInvalidFingerprint
	}
	t.lock.Lock()
	t.remoteFingerprint = &fp
	t.lock.Unlock()
	return nil
}

func (t *dtlsTransport) request(active bool) error {
	t.lock.Lock()
	defer t.lock.Unlock()
	if t.requested {
		return ErrDtlsAlreadyStarted
	}
	if t.remoteFingerprint == nil {
		return ErrNoRemoteFingerprint
	}
	t.requested = true
	t.active = active
	return nil
}

// start launches the handshake once ICE has a nominated pair. remote is
// the address of the selected remote candidate.
func (t *dtlsTransport) start(remote net.Addr) {
	t.lock.Lock()
	if !t.requested || t.started {
		t.lock.Unlock()
		return
	}
	t.started = true
	active := t.active
	t.lock.Unlock()

	config := &dtls.Config{
		Certificates: []tls.Certificate{*t.certificate},
		SRTPProtectionProfiles: []dtls.SRTPProtectionProfile{
			dtls.SRTP_AEAD_AES_128_GCM,
			dtls.SRTP_AES128_CM_HMAC_SHA1_80,
		},
		ClientAuth:         dtls.RequireAnyClientCert,
		InsecureSkipVerify: true,
	}

	go func() {
		var conn *dtls.Conn
		var err error
		if active {
			conn, err = dtls.Client(t.endpoint, remote, config)
		} else {
			conn, err = dtls.Server(t.endpoint, remote, config)
		}
		if err != nil {
			t.onResult(dtlsResult{err: err})
			return
		}
		t.onResult(t.finish(conn))
	}()
}

// finish validates the peer against the negotiated fingerprint and
// extracts the SRTP profile and keying material.
func (t *dtlsTransport) finish(conn *dtls.Conn) dtlsResult {
	state, ok := conn.ConnectionState()
	if !ok {
		return dtlsResult{err: errors.New("no DTLS connection state")}
	}
	if len(state.PeerCertificates) == 0 {
		return dtlsResult{err: errors.New("peer sent no certificate")}
	}
	peerCert, err := x509.ParseCertificate(state.PeerCertificates[0])
	if err != nil {
		return dtlsResult{err: err}
	}

	t.lock.Lock()
	remoteFingerprint := t.remoteFingerprint
	t.conn = conn
	t.lock.Unlock()

	hash, err := fingerprint.HashFromString(remoteFingerprint.Algorithm)
	if err != nil {
		return dtlsResult{err: err}
	}
	actual, err := fingerprint.Fingerprint(peerCert, hash)
	if err != nil {
		return dtlsResult{err: err}
	}
	if !strings.EqualFold(actual, remoteFingerprint.Value) {
		return dtlsResult{err: ErrFingerprintMismatch}
	}

	profileID, ok := conn.SelectedSRTPProtectionProfile()
	if !ok {
		return dtlsResult{err: errors.New("no SRTP profile negotiated")}
	}
	profile, ok := srtp.ProfileFromID(uint16(profileID))
	if !ok {
		return dtlsResult{err: fmt.Errorf("unsupported SRTP profile 0x%04x", uint16(profileID))}
	}

	material, err := state.ExportKeyingMaterial("EXTRACTOR-dtls_srtp", nil, profile.KeyingMaterialLen())
	if err != nil {
		return dtlsResult{err: err}
	}

	t.log.Debugf("DTLS connected, profile %s", profile)
	return dtlsResult{
		conn:            conn,
		profile:         profile,
		keyingMaterial:  material,
		peerFingerprint: actual,
	}
}

func (t *dtlsTransport) close() {
	t.lock.Lock()
	conn := t.conn
	t.lock.Unlock()
	if conn != nil {
		if err := conn.Close(); err != nil {
			t.log.Debugf("closing DTLS conn: %v", err)
		}
	}
}
