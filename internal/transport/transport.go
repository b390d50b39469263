// Package transport defines the boundary between the gateway core and the
// messaging-protocol client. The core drives connections exclusively through
// this interface so the protocol library can be swapped or stubbed in tests.
package transport

import (
	"context"
	"time"
)

// ConnState is the coarse connection state reported by a transport.
type ConnState int

const (
	ConnStateConnecting ConnState = iota
	ConnStateOpen
	ConnStateClosed
)

// DisconnectReason classifies why a connection closed. Unrecoverable reasons
// mean the stored credentials are known-bad and must never be retried.
type DisconnectReason struct {
	Code        string
	Err         error
	recoverable bool
}

func (r DisconnectReason) Recoverable() bool {
	return r.recoverable
}

func RecoverableDisconnect(code string, err error) DisconnectReason {
	return DisconnectReason{Code: code, Err: err, recoverable: true}
}

func UnrecoverableDisconnect(code string, err error) DisconnectReason {
	return DisconnectReason{Code: code, Err: err}
}

// StateEvent is emitted on every connection state change. QR is set when the
// transport produced a fresh QR payload as part of an unauthenticated connect.
type StateEvent struct {
	State  ConnState
	QR     string
	Reason DisconnectReason
}

// MessageEvent is one inbound message from the network.
type MessageEvent struct {
	Sender      string // digits-only sender address
	Text        string
	IsGroup     bool
	IsBroadcast bool
	Timestamp   time.Time
	Raw         any // full protocol-level payload, forwarded to webhooks verbatim
}

// Events are callbacks the core registers on a transport before connecting.
// CredentialsChanged fires when the transport has persisted fresh
// authentication material; the gateway keeps no copy of its own.
type Events struct {
	ConnectionState    func(ev StateEvent)
	Message            func(ev MessageEvent)
	CredentialsChanged func()
}

// Identity describes the authenticated device once the connection is open.
type Identity struct {
	PushName string
	Number   string
}

// Media is an outbound media reference the transport can resolve.
type Media struct {
	Kind     MediaKind
	URL      string
	Caption  string
	FileName string
	MimeType string
}

type MediaKind string

const (
	MediaKindImage    MediaKind = "image"
	MediaKindVideo    MediaKind = "video"
	MediaKindDocument MediaKind = "document"
)

// Transport is one live protocol connection for a single account.
type Transport interface {
	// Connect opens the connection and returns once the attempt is launched;
	// progress is reported through Events.
	Connect(ctx context.Context) error
	Disconnect()
	Logout(ctx context.Context) error

	// IsRegistered reports whether stored credentials exist, i.e. whether the
	// connection can resume without a fresh pairing handshake.
	IsRegistered() bool

	RequestPairingCode(ctx context.Context, phone string) (string, error)

	SendText(ctx context.Context, toAccountID, body string) (string, error)
	SendMedia(ctx context.Context, toAccountID string, media Media) (string, error)

	// Identity returns the connected device identity, or nil before READY.
	Identity() *Identity
}

// Factory builds a transport for one account with its event callbacks bound.
type Factory interface {
	New(accountID string, events Events) (Transport, error)
}
