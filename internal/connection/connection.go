// Package connection implements the per-DC session composite (C7): it
// owns one transport, drives the handshake for whichever session type the
// DC option calls for, and tracks the state machine from Disconnected
// through Connecting/Connected/HasDhKey/Signed, delegating key exchange
// and RPC encoding to caller-supplied DHLayer/RPCLayer implementations.
package connection

import (
	"context"
	"fmt"
	"sync"

	"github.com/geovex/mtclient"
	"github.com/geovex/mtclient/internal/async"
	"github.com/geovex/mtclient/internal/dial"
	"github.com/geovex/mtclient/internal/mtproto"
	"github.com/geovex/mtclient/internal/tgcrypt"
	"github.com/geovex/mtclient/internal/transport"
	"go.uber.org/zap"
)

// Connection is the concrete mtclient.Connection.
type Connection struct {
	logger *zap.Logger
	loop   *async.Loop

	dialer      dial.DCDialer
	dh          mtclient.DHLayer
	rpc         mtclient.RPCLayer
	sessionType mtclient.SessionType
	secret      *tgcrypt.Secret
	sender      *mtproto.Sender

	mu           sync.Mutex
	dcOption     mtclient.DcOption
	serverRSAKey mtclient.RSAKey
	deltaTime    int32
	authKey      []byte
	status       mtclient.ConnectionStatus
	observers    []mtclient.StatusObserver
	pendingOps   []mtclient.PendingOperation

	transport *transport.Transport
}

var _ mtclient.Connection = &Connection{}
var _ transport.Observer = &Connection{}

// New builds a Connection that dials through dialer and delegates key
// exchange and RPC encoding to dh/rpc. loop is the single-goroutine
// dispatcher every signal this Connection observes is re-posted through,
// so that transport callbacks (delivered on the transport's own read
// goroutine) never touch Connection state directly. sender is the send
// helper (C4) this connection shares with dh/rpc for message-id assignment
// and auth_key_id routing; a nil sender gets a fresh, unshared one, which
// is only appropriate for tests that never exercise dh/rpc.
func New(logger *zap.Logger, loop *async.Loop, dialer dial.DCDialer, dh mtclient.DHLayer, rpc mtclient.RPCLayer, sessionType mtclient.SessionType, secret *tgcrypt.Secret, sender *mtproto.Sender) *Connection {
	if sender == nil {
		sender = mtproto.New(nil)
	}
	c := &Connection{
		logger:      logger.Named("connection"),
		loop:        loop,
		dialer:      dialer,
		dh:          dh,
		rpc:         rpc,
		sessionType: sessionType,
		secret:      secret,
		sender:      sender,
		status:      mtclient.ConnectionDisconnected,
	}
	if dh != nil {
		dh.Subscribe(c)
	}
	return c
}

func (c *Connection) SetDCOption(opt mtclient.DcOption) {
	c.mu.Lock()
	c.dcOption = opt
	c.mu.Unlock()
}

func (c *Connection) SetTransport(t *transport.Transport) {
	c.mu.Lock()
	c.transport = t
	c.mu.Unlock()
	t.Subscribe(c)
	c.sender.SetTransport(t)
}

func (c *Connection) SetServerRSAKey(k mtclient.RSAKey) {
	c.mu.Lock()
	c.serverRSAKey = k
	c.mu.Unlock()
}

func (c *Connection) SetDeltaTime(seconds int32) {
	c.mu.Lock()
	c.deltaTime = seconds
	c.mu.Unlock()
	c.sender.SetDeltaTime(seconds)
}

func (c *Connection) SetAuthKey(key []byte) {
	c.mu.Lock()
	c.authKey = key
	c.mu.Unlock()
}

// AuthKey returns the auth key learned from the DH layer once the
// connection reaches HasDhKey (or whatever was last set via SetAuthKey).
// Nil before then.
func (c *Connection) AuthKey() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authKey
}

func (c *Connection) Status() mtclient.ConnectionStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *Connection) Subscribe(obs mtclient.StatusObserver) {
	c.mu.Lock()
	c.observers = append(c.observers, obs)
	c.mu.Unlock()
}

func (c *Connection) setStatus(status mtclient.ConnectionStatus, reason mtclient.StatusReason) {
	c.mu.Lock()
	c.status = status
	observers := append([]mtclient.StatusObserver{}, c.observers...)
	c.mu.Unlock()
	for _, obs := range observers {
		obs.OnStatusChanged(status, reason)
	}
}

// ConnectToDC dials the bound transport to the bound DcOption. Dialing
// happens on its own goroutine (the I/O suspension point §5 allows);
// every observable result — attach success, dial failure — is posted
// back to loop before it touches Connection state. The dial itself carries
// transport.ConnectTimeout (§5's mandated 15-second connect timeout):
// Transport.Connect is never reached on this path (dialing goes through
// the caller's DCDialer so SOCKS5/direct/IPv6-then-IPv4 dialing all
// apply), so the same deadline is enforced here instead, and a trip emits
// OnTimeout exactly as Transport.Connect's own timeout would.
func (c *Connection) ConnectToDC(ctx context.Context) error {
	c.mu.Lock()
	opt := c.dcOption
	t := c.transport
	dialer := c.dialer
	c.mu.Unlock()
	if t == nil {
		return fmt.Errorf("connection: no transport bound")
	}
	if dialer == nil {
		return fmt.Errorf("connection: no dialer bound")
	}
	c.setStatus(mtclient.ConnectionConnecting, mtclient.ReasonLocal)

	dialCtx, cancel := context.WithTimeout(ctx, transport.ConnectTimeout)
	go func() {
		defer cancel()
		conn, err := dialer.DialDC(dialCtx, opt.DCID)
		if err != nil {
			if dialCtx.Err() == context.DeadlineExceeded {
				c.logger.Warn("dial timed out", zap.Int16("dc", opt.DCID))
				c.OnTimeout()
				return
			}
			c.loop.Post(func() {
				c.logger.Warn("dial failed", zap.Int16("dc", opt.DCID), zap.Error(err))
				c.setStatus(mtclient.ConnectionDisconnected, mtclient.ReasonLocal)
			})
			return
		}
		if c.sessionType == mtclient.SessionObfuscated {
			handshake := tgcrypt.NewHandshake(opt.DCID, tgcrypt.Abridged, c.secret)
			if _, writeErr := conn.Write(handshake.Nonce[:]); writeErr != nil {
				conn.Close()
				c.loop.Post(func() {
					c.logger.Warn("handshake write failed", zap.Error(writeErr))
					c.setStatus(mtclient.ConnectionDisconnected, mtclient.ReasonLocal)
				})
				return
			}
			c.loop.Post(func() {
				if err := t.SetCryptoSource(handshake.Header, false); err != nil {
					c.logger.Error("crypto source setup failed", zap.Error(err))
					conn.Close()
					c.setStatus(mtclient.ConnectionDisconnected, mtclient.ReasonLocal)
					return
				}
				t.Attach(conn)
			})
			return
		}
		c.loop.Post(func() { t.Attach(conn) })
	}()
	return nil
}

// Disconnect tears down the transport; the resulting OnStateChanged
// callback drives this Connection's own status to Disconnected.
func (c *Connection) Disconnect() {
	c.mu.Lock()
	t := c.transport
	c.mu.Unlock()
	if t != nil {
		t.Disconnect()
	}
}

// ProcessSeeOthers re-drives the connection if it is disconnected, and
// either enqueues op until the DH layer reaches HasKey or resubmits it
// immediately when it already has. A see_others directed at an operation
// that has already finished is expected to be filtered by the caller
// before reaching here (the mtclient.PendingOperation interface exposes
// no "already finished" query); ProcessSeeOthers itself only guards
// against queueing work this Connection can no longer deliver.
func (c *Connection) ProcessSeeOthers(op mtclient.PendingOperation) {
	c.mu.Lock()
	status := c.status
	c.mu.Unlock()

	switch status {
	case mtclient.ConnectionDisconnected:
		c.mu.Lock()
		c.pendingOps = append(c.pendingOps, op)
		c.mu.Unlock()
		if err := c.ConnectToDC(context.Background()); err != nil {
			c.logger.Warn("see_others reconnect failed", zap.Error(err))
		}
	case mtclient.ConnectionConnecting, mtclient.ConnectionConnected:
		c.mu.Lock()
		c.pendingOps = append(c.pendingOps, op)
		c.mu.Unlock()
	default: // HasDhKey, Signed
		op.StartLater()
	}
}

// SetSigned implements mtclient.ConnectionHandle: a caller's AuthOperation
// calls it once the sign-in handshake it runs against this connection has
// completed, driving the HasDhKey→Signed transition of §4.7. A call from
// any other status is ignored, so a stray or duplicate call is harmless.
func (c *Connection) SetSigned() {
	c.mu.Lock()
	status := c.status
	c.mu.Unlock()
	if status != mtclient.ConnectionHasDhKey {
		return
	}
	c.setStatus(mtclient.ConnectionSigned, mtclient.ReasonLocal)
}

// SendRPC forwards an RPC operation once the connection has a key.
func (c *Connection) SendRPC(op mtclient.RPCOperation) (int64, error) {
	c.mu.Lock()
	rpc := c.rpc
	status := c.status
	c.mu.Unlock()
	if rpc == nil {
		return 0, fmt.Errorf("connection: no rpc layer bound")
	}
	if status != mtclient.ConnectionHasDhKey && status != mtclient.ConnectionSigned {
		return 0, fmt.Errorf("connection: not ready to send rpc, status=%s", status)
	}
	return rpc.SendRPC(op)
}

// OnDHStateChanged implements mtclient.DHObserver. It runs on whatever
// goroutine the DH layer calls from, so the actual transition is posted
// to the connection's loop.
func (c *Connection) OnDHStateChanged(state mtclient.DHState) {
	c.loop.Post(func() { c.handleDHStateChanged(state) })
}

func (c *Connection) handleDHStateChanged(state mtclient.DHState) {
	if state != mtclient.DHStateHasKey {
		if state == mtclient.DHStateFailed {
			c.setStatus(mtclient.ConnectionFailed, mtclient.ReasonRemote)
		}
		return
	}
	c.mu.Lock()
	status := c.status
	c.mu.Unlock()
	if status != mtclient.ConnectionConnected {
		return
	}

	c.mu.Lock()
	var salt uint64
	var authKey []byte
	if c.dh != nil {
		salt = c.dh.ServerSalt()
		authKey = c.dh.AuthKey()
	}
	rpc := c.rpc
	queued := c.pendingOps
	c.pendingOps = nil
	c.authKey = authKey
	c.mu.Unlock()

	if len(authKey) > 0 {
		c.sender.SetAuthID(mtproto.AuthKeyID(authKey))
	}
	if rpc != nil {
		rpc.StartNewSession()
		rpc.SetServerSalt(salt)
	}
	c.setStatus(mtclient.ConnectionHasDhKey, mtclient.ReasonRemote)
	for _, op := range queued {
		op.StartLater()
	}
}

// OnPacketReceived implements transport.Observer, routing by auth_key_id
// (the first 8 bytes of every decoded frame): zero goes to the DH layer's
// own wire handling (outside this package's scope — the DH layer reads
// straight off transport.Observer too, via its own subscription, in a
// full wiring), nonzero goes to the RPC layer.
func (c *Connection) OnPacketReceived(frame []byte) {
	c.loop.Post(func() { c.handlePacket(frame) })
}

func (c *Connection) handlePacket(frame []byte) {
	if len(frame) < 8 {
		c.logger.Warn("frame shorter than an auth_key_id", zap.Int("length", len(frame)))
		return
	}
	authKeyID := leUint64(frame[:8])
	c.mu.Lock()
	rpc := c.rpc
	c.mu.Unlock()
	if authKeyID == 0 {
		// DH-layer traffic: the DH layer implementation is expected to
		// subscribe to the transport itself for its own wire handling;
		// this Connection only needs to observe its State().
		return
	}
	// Route against the sender's cached auth_key_id the way the source's
	// Connection::processAuthKey compares an inbound frame's id against
	// m_sendHelper->authId(): a mismatch means the frame belongs to a key
	// this connection no longer (or never did) hold.
	if known := c.sender.AuthID(); known != 0 && authKeyID != known {
		c.logger.Warn("frame auth_key_id mismatch", zap.Uint64("got", authKeyID), zap.Uint64("want", known))
		return
	}
	if rpc != nil {
		rpc.HandleIncoming(frame)
	}
}

func leUint64(b []byte) uint64 {
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

// OnStateChanged implements transport.Observer.
func (c *Connection) OnStateChanged(state transport.State) {
	c.loop.Post(func() { c.handleTransportState(state) })
}

func (c *Connection) handleTransportState(state transport.State) {
	switch state {
	case transport.StateConnected:
		c.setStatus(mtclient.ConnectionConnected, mtclient.ReasonRemote)
	case transport.StateUnconnected, transport.StateDisconnecting:
		c.setStatus(mtclient.ConnectionDisconnected, mtclient.ReasonRemote)
	}
}

// OnError implements transport.Observer.
func (c *Connection) OnError(kind transport.ErrorKind, err error) {
	c.loop.Post(func() {
		c.logger.Warn("transport error", zap.Int("kind", int(kind)), zap.Error(err))
	})
}

// OnTimeout implements transport.Observer.
func (c *Connection) OnTimeout() {
	c.loop.Post(func() {
		c.logger.Warn("transport connect timed out")
		c.setStatus(mtclient.ConnectionDisconnected, mtclient.ReasonLocal)
	})
}
