// Package mtproto holds the send helper (C4): message id assignment and
// the auth_key_id-keyed routing data the connection needs to tell DH
// traffic from RPC traffic. It is grounded on the original client-side
// SendPackageHelper, whose newMessageId combined a server clock offset
// with the local monotonic clock and rounded to the protocol's four-byte
// alignment (ClientConnection.cpp's SendPackageHelper::newMessageId).
package mtproto

import (
	"crypto/sha1"
	"fmt"
	"sync"
	"time"

	"github.com/geovex/mtclient"
	"github.com/geovex/mtclient/internal/transport"
)

// Sender assigns outgoing message ids and forwards framed payloads to a
// transport. One Sender belongs to exactly one Connection, and is shared by
// that connection's DH and RPC layers (ClientConnection.cpp wires the same
// SendPackageHelper into both ClientDhLayer and ClientRpcLayer) so every
// outgoing message on a session draws from one monotonic id stream and one
// auth_key_id.
type Sender struct {
	mu         sync.Mutex
	deltaTime  int32
	lastID     int64
	authID     uint64
	transport  *transport.Transport
	now        func() time.Time
}

func New(t *transport.Transport) *Sender {
	return &Sender{transport: t, now: time.Now}
}

// SetTransport binds (or rebinds) the transport this Sender forwards
// outgoing packets to, matching the pattern Connection.SetTransport uses to
// attach the same transport to itself.
func (s *Sender) SetTransport(t *transport.Transport) {
	s.mu.Lock()
	s.transport = t
	s.mu.Unlock()
}

// SetDeltaTime records the signed offset (seconds) between the local clock
// and the server clock, learned from the DH layer's first responses.
func (s *Sender) SetDeltaTime(seconds int32) {
	s.mu.Lock()
	s.deltaTime = seconds
	s.mu.Unlock()
}

func (s *Sender) DeltaTime() int32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deltaTime
}

// SetAuthID records the 64-bit key identifier this session's RPC traffic
// is keyed under. Zero means "no key yet" (all traffic is DH traffic).
func (s *Sender) SetAuthID(id uint64) {
	s.mu.Lock()
	s.authID = id
	s.mu.Unlock()
}

func (s *Sender) AuthID() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authID
}

// AuthKeyID derives the 64-bit auth_key_id an authorization key is known by
// on the wire: the low 64 bits of SHA1(authKey), read the same
// little-endian way Connection parses the id prefix off an incoming frame.
// Connection.processAuthKey in the source compares an inbound frame's id
// against exactly this value to decide whether the frame belongs to this
// session.
func AuthKeyID(authKey []byte) uint64 {
	sum := sha1.Sum(authKey)
	tail := sum[12:20]
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(tail[i])
	}
	return v
}

// NewMessageID computes a fresh message id as unix_ms_now + the recorded
// clock offset, formatted to MTProto's message_id representation (seconds
// in the high 32 bits, a sub-second fraction in the low 32 bits), then
// masked for mode: Content clears the low two bits, Response sets them to
// 01. The result is always strictly greater than every id this Sender
// previously returned; when the naive computation would not be (a fast
// clock, or two calls inside the same sub-4-unit window), it becomes the
// previous id rounded down to a multiple of 4, plus 4, with this mode's
// low two bits kept.
func (s *Sender) NewMessageID(mode mtclient.MessageIDMode) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	nowMs := s.now().UnixMilli() + int64(s.deltaTime)*1000
	id := formatTimestamp(nowMs)
	switch mode {
	case mtclient.MessageIDResponse:
		id = (id &^ 3) | 1
	default:
		id = id &^ 3
	}
	if id <= s.lastID {
		id = ((s.lastID &^ 3) + 4) | (id & 3)
	}
	s.lastID = id
	return id
}

// formatTimestamp converts a millisecond unix timestamp into MTProto's
// 64-bit message_id scale: seconds in the high bits, the millisecond
// remainder scaled into a 32-bit fraction in the low bits.
func formatTimestamp(ms int64) int64 {
	seconds := ms / 1000
	fracMs := ms % 1000
	frac := (fracMs << 32) / 1000
	return (seconds << 32) | frac
}

// SendPackage forwards payload to the bound transport unchanged.
func (s *Sender) SendPackage(payload []byte) error {
	s.mu.Lock()
	t := s.transport
	s.mu.Unlock()
	if t == nil {
		return fmt.Errorf("mtproto: sender has no bound transport")
	}
	return t.SendPacket(payload)
}
