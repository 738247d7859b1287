package mtclient

import (
	"context"
	"time"
)

// PendingOperationObserver receives the lifecycle signals of a
// PendingOperation. OnFinished always fires last and exactly once;
// OnSucceeded and OnFailed are mutually exclusive and each fire at most
// once, immediately before OnFinished.
type PendingOperationObserver interface {
	OnSucceeded()
	OnFailed(details ErrorDetails)
	OnFinished()
}

// PendingOperation is a single-assignment future: every asynchronous
// action in this library (connecting, authenticating, a single RPC round
// trip treated as a unit of work) is modeled as one.
type PendingOperation interface {
	Start()
	StartLater()
	SetFinished()
	SetFinishedWithError(details ErrorDetails)
	SetDelayedFinishedWithError(details ErrorDetails)
	RunAfter(prior PendingOperation)
	ClearResult()
	Subscribe(PendingOperationObserver)
}

// AccountStorage is the caller-supplied persistence for the single account
// this client instance represents.
type AccountStorage interface {
	AuthKey() []byte
	SessionID() uint64
	ContentRelatedMessagesNumber() uint32
	DCInfo() DcOption
	DeltaTime() int32
	HasMinimalDataSet() bool
	PersistAuthKey([]byte) error
	PersistSessionID(uint64) error
}

// ServerConfigProvider resolves a ConnectionSpec to a concrete DcOption,
// backed by whatever server configuration the caller last fetched from
// Telegram (help.getConfig) or shipped as a default.
type ServerConfigProvider interface {
	GetOption(spec ConnectionSpec) (DcOption, bool)
}

// DataStorage is the caller-supplied persistence for data that outlives a
// single connection but isn't account credentials: the server
// configuration directory in particular.
type DataStorage interface {
	ServerConfiguration() ServerConfigProvider
}

// Settings is the caller-supplied static configuration: which DCs to try,
// in what order, which RSA key to trust, and how to reach the network.
type Settings interface {
	ServerConfiguration() []DcOption
	ServerRSAKey() RSAKey
	Proxy() *DialSpec
	PreferedSessionType() SessionType
	PingInterval() time.Duration
	IsValid() bool
}

// DHObserver is notified whenever a DHLayer's State changes.
type DHObserver interface {
	OnDHStateChanged(DHState)
}

// DHLayer performs the Diffie-Hellman key exchange that establishes an
// auth_key for a connection. It is supplied by the caller; this library
// only observes its state and reads the resulting key and salt.
type DHLayer interface {
	State() DHState
	Subscribe(DHObserver)
	ServerSalt() uint64
	AuthKey() []byte
}

// RPCOperation is a single outgoing RPC call, opaque to this library
// beyond what SendRPC needs to serialize and transmit it.
type RPCOperation interface {
	Serialize() ([]byte, error)
}

// UpdatesHandler receives unsolicited (non-RPC-response) updates the RPC
// layer decodes off the wire.
type UpdatesHandler interface {
	HandleUpdate(payload []byte)
}

// RPCLayer encodes and tracks outgoing RPC calls and decodes inbound
// replies/updates. It is supplied by the caller; this library drives its
// session lifecycle and forwards inbound nonzero-auth_key_id frames to it.
type RPCLayer interface {
	StartNewSession()
	SetServerSalt(uint64)
	SetSessionData(sessionID uint64, contentMsgCount uint32)
	SendRPC(op RPCOperation) (int64, error)
	SetAppInformation(info AppInfo)
	InstallUpdatesHandler(h UpdatesHandler)
	HandleIncoming(payload []byte)
}

// AuthOperation is the PendingOperation a controller runs to take a
// connection from HasDhKey to Signed (requesting a code, signing in,
// whatever the caller's authentication flow requires).
type AuthOperation interface {
	PendingOperation
	AuthenticatedConnection() ConnectionHandle
}

// ConnectionHandle is the subset of Connection that external collaborators
// (an AuthOperation implementation in particular) are allowed to drive,
// kept narrow so the core Connection type's full surface stays internal.
type ConnectionHandle interface {
	Status() ConnectionStatus
	SendRPC(op RPCOperation) (int64, error)

	// SetSigned drives the HasDhKey→Signed transition (§4.7): an
	// AuthOperation calls it once it has finished whatever sign-in
	// handshake the caller's authentication flow requires. A call from any
	// other status is ignored.
	SetSigned()
}

// ConnectionFactory builds the transport and collaborator stack for one
// DcOption; Controller uses it to create connections without importing
// internal/connection directly, keeping this package free of a dependency
// on the concrete implementation.
type ConnectionFactory interface {
	NewConnection(ctx context.Context, opt DcOption) (Connection, error)
}

// Connection is the narrow interface Controller drives; the concrete type
// living in internal/connection implements it and carries the rest of its
// machinery privately.
type Connection interface {
	SetServerRSAKey(k RSAKey)
	SetDeltaTime(seconds int32)
	SetAuthKey(key []byte)
	AuthKey() []byte
	ConnectToDC(ctx context.Context) error
	Disconnect()
	Status() ConnectionStatus
	ProcessSeeOthers(op PendingOperation)
	SendRPC(op RPCOperation) (int64, error)
	Subscribe(StatusObserver)
	SetSigned()
}

// StatusObserver is notified of Connection status transitions.
type StatusObserver interface {
	OnStatusChanged(status ConnectionStatus, reason StatusReason)
}

// ControllerStatusObserver is notified of Controller status transitions.
type ControllerStatusObserver interface {
	OnControllerStatusChanged(status ControllerStatus, reason StatusReason)
}
