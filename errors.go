package rtcengine

import "errors"

// Sentinel errors wrapped by the pkg/rtcerr taxonomy.
var (
	// ErrSessionClosed is returned by API calls after Disconnect.
	ErrSessionClosed = errors.New("session closed")

	// ErrNoRemoteFingerprint means StartDtls was called before
	// SetRemoteFingerprint.
	ErrNoRemoteFingerprint = errors.New("remote fingerprint not set")

	// ErrNoRemoteCredentials means connectivity cannot start because the
	// remote ufrag/pwd are unknown.
	ErrNoRemoteCredentials = errors.New("remote ICE credentials not set")

	// ErrDtlsAlreadyStarted means StartDtls was called twice.
	ErrDtlsAlreadyStarted = errors.New("DTLS already started")

	// ErrNotConnected means the operation needs the keyed SRTP
	// transform, which exists only after DTLS completes.
	ErrNotConnected = errors.New("session not connected")

	// ErrFingerprintMismatch means the peer certificate did not match
	// the fingerprint set before the handshake.
	ErrFingerprintMismatch = errors.New("DTLS fingerprint mismatch")

	// ErrInvalidCandidate means the candidate could not be used.
	ErrInvalidCandidate = errors.New("invalid ICE candidate")

	// ErrInvalidFingerprint means the fingerprint string did not parse.
	ErrInvalidFingerprint = errors.New("invalid fingerprint")

	// ErrInvalidIceCredentials means the ufrag or pwd is empty or not
	// short ASCII.
	ErrInvalidIceCredentials = errors.New("invalid ICE credentials")

	// ErrStreamExists means the SSRC is already declared.
	ErrStreamExists = errors.New("stream already declared")

	// ErrChannelClosed is returned when sending on a closed channel.
	ErrChannelClosed = errors.New("data channel closed")
)
