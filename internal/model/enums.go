package model

// SessionStatus is the lifecycle state of a session, mirrored best-effort
// into the persisted record on every transition.
type SessionStatus string

const (
	SessionStatusConnecting     SessionStatus = "CONNECTING"
	SessionStatusQRPending      SessionStatus = "QR_PENDING"
	SessionStatusPairingPending SessionStatus = "PAIRING_PENDING"
	SessionStatusReady          SessionStatus = "READY"
	SessionStatusDisconnected   SessionStatus = "DISCONNECTED"
	SessionStatusAuthFailed     SessionStatus = "AUTH_FAILED"
	SessionStatusDestroyed      SessionStatus = "DESTROYED"
)

// Initializing reports whether the session is mid-handshake: a second create
// call for the same account in any of these states is answered idempotently.
func (s SessionStatus) Initializing() bool {
	switch s {
	case SessionStatusConnecting, SessionStatusQRPending, SessionStatusPairingPending:
		return true
	}
	return false
}

// DestroyReason explains why a session was torn down.
type DestroyReason string

const (
	DestroyReasonUserRequest   DestroyReason = "USER_REQUEST"
	DestroyReasonAuthTimeout   DestroyReason = "AUTH_TIMEOUT"
	DestroyReasonAuthFailure   DestroyReason = "AUTH_FAILURE"
	DestroyReasonMaxReconnects DestroyReason = "MAX_RECONNECTS_REACHED"
	DestroyReasonRestoreFailed DestroyReason = "RESTORE_FAILED"
	DestroyReasonOrphaned      DestroyReason = "ORPHANED_RECORD"
	DestroyReasonShutdown      DestroyReason = "SHUTDOWN"
)

// PairingMode selects which pairing artifact a caller wants.
type PairingMode string

const (
	PairingModeQR   PairingMode = "QR"
	PairingModeCode PairingMode = "CODE"
)
