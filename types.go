// Package mtclient is a client-side MTProto transport and connection state
// machine library: it owns the TCP framing, the per-DC connection state
// machine, and the reconnection/keep-alive controller, while key exchange
// (DHLayer) and RPC encoding (RPCLayer) are supplied by the caller through
// the interfaces declared in this package.
package mtclient

import "fmt"

// SessionType selects which wire framing a connection speaks. It has no
// FakeTLS member: this library's data model stops at abridged and
// obfuscated, matching the scope this repo was built to cover.
type SessionType int

const (
	SessionUnknown SessionType = iota
	SessionAbridged
	SessionObfuscated
)

func (s SessionType) String() string {
	switch s {
	case SessionAbridged:
		return "abridged"
	case SessionObfuscated:
		return "obfuscated"
	default:
		return "unknown"
	}
}

// DcOption names a single candidate address for a data center: its numeric
// id, host, port, and whether this candidate itself requires the
// obfuscated framing (some DC options are obfuscated-only).
type DcOption struct {
	DCID        int16
	Address     string
	Port        uint16
	Obfuscated  bool
	MediaOnly   bool
}

func (o DcOption) HostPort() string {
	return fmt.Sprintf("%s:%d", o.Address, o.Port)
}

// ConnectionSpec identifies which logical connection a caller wants: a DC
// id plus the MediaOnly/Ipv4Only role flags; it does not name a specific
// DcOption, which is resolved from it by a ServerConfigProvider. Ipv4Only is always forced
// true by Controller.EnsureConnection (§4.8); it is part of the struct so
// the spec's structural-equality cache key reflects that forcing.
type ConnectionSpec struct {
	DCID      int16
	MediaOnly bool
	Ipv4Only  bool
}

// RSAKey is a server public key used during DH key exchange, identified by
// its fingerprint.
type RSAKey struct {
	Fingerprint uint64
	Modulus     []byte
	Exponent    []byte
}

// DialSpec describes how to reach a DC: direct, or through a SOCKS5 proxy.
type DialSpec struct {
	Socks5URL string
	User      *string
	Password  *string
}

// ErrorDetails is the small string-keyed bag every failure path in this
// library carries. It is never empty on a failure.
type ErrorDetails map[string]string

// AppInfo is the api_id/api_hash/device metadata the RPC layer attaches to
// the initConnection wrapper of the first request on a session.
type AppInfo struct {
	APIID          int32
	APIHash        string
	DeviceModel    string
	SystemVersion  string
	AppVersion     string
	LangCode       string
}

// MessageIDMode selects how NewMessageID rounds its result, mirroring the
// two cases MTProto distinguishes: a content-bearing message (strictly
// increasing, clears the low two bits) versus a response/ack id.
type MessageIDMode int

const (
	MessageIDContent MessageIDMode = iota
	MessageIDResponse
)

// DHState is the key-exchange layer's lifecycle, owned by the caller's
// DHLayer implementation and observed by Connection.
type DHState int

const (
	DHStateNone DHState = iota
	DHStatePqRequested
	DHStateDhRequested
	DHStateHasKey
	DHStateFailed
)

// ConnectionStatus is Connection's own state machine (§4.7).
type ConnectionStatus int

const (
	ConnectionDisconnected ConnectionStatus = iota
	ConnectionConnecting
	ConnectionConnected
	ConnectionHasDhKey
	ConnectionSigned
	ConnectionFailed
)

func (s ConnectionStatus) String() string {
	switch s {
	case ConnectionConnecting:
		return "connecting"
	case ConnectionConnected:
		return "connected"
	case ConnectionHasDhKey:
		return "has_dh_key"
	case ConnectionSigned:
		return "signed"
	case ConnectionFailed:
		return "failed"
	default:
		return "disconnected"
	}
}

// ControllerStatus is the top-level state machine driven by Controller.
type ControllerStatus int

const (
	ControllerDisconnected ControllerStatus = iota
	ControllerConnecting
	ControllerWaitForReconnection
	ControllerWaitForAuthentication
	ControllerConnected
	ControllerReady
	ControllerDisconnecting
)

func (s ControllerStatus) String() string {
	switch s {
	case ControllerConnecting:
		return "connecting"
	case ControllerWaitForReconnection:
		return "wait_for_reconnection"
	case ControllerWaitForAuthentication:
		return "wait_for_authentication"
	case ControllerConnected:
		return "connected"
	case ControllerReady:
		return "ready"
	case ControllerDisconnecting:
		return "disconnecting"
	default:
		return "disconnected"
	}
}

// StatusReason distinguishes why a status transition happened, for callers
// that want to tell a deliberate disconnect from a remote-initiated one.
type StatusReason int

const (
	ReasonNone StatusReason = iota
	ReasonLocal
	ReasonRemote
)
