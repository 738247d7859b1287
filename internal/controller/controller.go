// Package controller implements the top-level connection controller (C8)
// and its ping keep-alive (C9): the state machine that walks a server
// configuration list, reconnects on loss with a capped exponential
// backoff, and promotes a signed-in connection to the long-lived main
// connection.
package controller

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/geovex/mtclient"
	"github.com/geovex/mtclient/internal/async"
	"github.com/geovex/mtclient/internal/metrics"
	"go.uber.org/zap"
)

const (
	backoffBase = 100 * time.Millisecond
	backoffCap  = 10 * time.Second
	pingFailureThreshold = 3
)

// Controller is the concrete implementation driving mtclient.Connection
// instances through the reconnection algorithm of §4.8.
type Controller struct {
	logger  *zap.Logger
	loop    *async.Loop
	metrics *metrics.Metrics

	accountStorage mtclient.AccountStorage
	dataStorage    mtclient.DataStorage
	settings       mtclient.Settings
	factory        mtclient.ConnectionFactory

	mu                sync.Mutex
	status            mtclient.ControllerStatus
	servers           []mtclient.DcOption
	nextServerIndex   int
	initialConn       mtclient.Connection
	mainConn          mtclient.Connection
	authOp            mtclient.AuthOperation
	reconnectAttempt  int
	pingActive        bool
	pingFailures      int
	observers         []mtclient.ControllerStatusObserver
	connectionsBySpec map[mtclient.ConnectionSpec]mtclient.Connection

	pingStop chan struct{}
}

// New builds a Controller. factory is how the controller obtains
// mtclient.Connection instances without this package importing
// internal/connection directly (kept decoupled per mtclient.ConnectionFactory).
func New(logger *zap.Logger, loop *async.Loop, m *metrics.Metrics, accountStorage mtclient.AccountStorage, dataStorage mtclient.DataStorage, settings mtclient.Settings, factory mtclient.ConnectionFactory) *Controller {
	return &Controller{
		logger:            logger.Named("controller"),
		loop:              loop,
		metrics:           m,
		accountStorage:    accountStorage,
		dataStorage:       dataStorage,
		settings:          settings,
		factory:           factory,
		status:            mtclient.ControllerDisconnected,
		connectionsBySpec: map[mtclient.ConnectionSpec]mtclient.Connection{},
	}
}

func (c *Controller) Subscribe(obs mtclient.ControllerStatusObserver) {
	c.mu.Lock()
	c.observers = append(c.observers, obs)
	c.mu.Unlock()
}

func (c *Controller) Status() mtclient.ControllerStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *Controller) setStatus(status mtclient.ControllerStatus, reason mtclient.StatusReason) {
	c.mu.Lock()
	c.status = status
	observers := append([]mtclient.ControllerStatusObserver{}, c.observers...)
	c.mu.Unlock()
	for _, obs := range observers {
		obs.OnControllerStatusChanged(status, reason)
	}
}

// ConnectToServer validates prerequisites and starts an attempt on the
// first candidate server. It mutates no state on failure.
func (c *Controller) ConnectToServer(ctx context.Context) error {
	if c.accountStorage == nil {
		return fmt.Errorf("controller: no account storage configured")
	}
	if c.dataStorage == nil {
		return fmt.Errorf("controller: no data storage configured")
	}
	if c.settings == nil || !c.settings.IsValid() {
		return fmt.Errorf("controller: settings missing or invalid")
	}

	servers := c.settings.ServerConfiguration()
	if len(servers) == 0 {
		return fmt.Errorf("controller: settings carry no candidate servers")
	}

	c.mu.Lock()
	c.servers = servers
	c.nextServerIndex = 0
	c.mu.Unlock()

	c.connectToNextServer(ctx)
	return nil
}

// connectToNextServer destroys any current initial connection, builds a
// fresh one bound to the next candidate, and advances the round-robin
// index, matching the algorithm of §4.8 step 2.
func (c *Controller) connectToNextServer(ctx context.Context) {
	c.mu.Lock()
	if c.initialConn != nil {
		c.initialConn.Disconnect()
	}
	if len(c.servers) == 0 {
		c.mu.Unlock()
		return
	}
	opt := c.servers[c.nextServerIndex]
	c.nextServerIndex = (c.nextServerIndex + 1) % len(c.servers)
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.DialAttempt(opt.DCID)
	}

	conn, err := c.factory.NewConnection(ctx, opt)
	if err != nil {
		c.logger.Warn("failed to build connection", zap.Int16("dc", opt.DCID), zap.Error(err))
		if c.metrics != nil {
			c.metrics.DialFailed(opt.DCID)
		}
		c.scheduleReconnect(ctx)
		return
	}

	c.mu.Lock()
	c.initialConn = conn
	c.mu.Unlock()
	conn.Subscribe(&initialConnObserver{ctrl: c, ctx: ctx})

	if err := conn.ConnectToDC(ctx); err != nil {
		c.logger.Warn("connect to dc failed", zap.Int16("dc", opt.DCID), zap.Error(err))
		if c.metrics != nil {
			c.metrics.DialFailed(opt.DCID)
		}
		c.scheduleReconnect(ctx)
	}
}

// scheduleReconnect applies the capped exponential backoff before the
// next connectToNextServer attempt. This backoff is a deliberate
// extension over the source's immediate-retry behavior (§4.8).
func (c *Controller) scheduleReconnect(ctx context.Context) {
	c.mu.Lock()
	attempt := c.reconnectAttempt
	c.reconnectAttempt++
	c.mu.Unlock()

	delay := backoffBase * time.Duration(1<<uint(minInt(attempt, 7)))
	if delay > backoffCap {
		delay = backoffCap
	}
	jitter := time.Duration(rand.Int63n(int64(delay) / 4+1))
	delay += jitter

	c.setStatus(mtclient.ControllerWaitForReconnection, mtclient.ReasonLocal)
	if c.metrics != nil {
		c.metrics.Reconnected()
	}
	time.AfterFunc(delay, func() {
		c.loop.Post(func() { c.connectToNextServer(ctx) })
	})
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// initialConnObserver reacts to the initial connection's status
// transitions during the bring-up phase: before HasDhKey, loss of the
// transport re-triggers reconnection; at HasDhKey the controller moves to
// WaitForAuthentication; at Signed it is promoted to the main connection.
type initialConnObserver struct {
	ctrl *Controller
	ctx  context.Context
}

func (o *initialConnObserver) OnStatusChanged(status mtclient.ConnectionStatus, reason mtclient.StatusReason) {
	o.ctrl.loop.Post(func() { o.ctrl.handleInitialConnStatus(o.ctx, status, reason) })
}

func (c *Controller) handleInitialConnStatus(ctx context.Context, status mtclient.ConnectionStatus, reason mtclient.StatusReason) {
	switch status {
	case mtclient.ConnectionDisconnected:
		c.mu.Lock()
		alreadyHasKey := c.status == mtclient.ControllerWaitForAuthentication || c.status == mtclient.ControllerConnected || c.status == mtclient.ControllerReady
		c.mu.Unlock()
		if alreadyHasKey {
			c.handleMainConnectionLost(ctx)
			return
		}
		c.scheduleReconnect(ctx)
	case mtclient.ConnectionHasDhKey:
		c.mu.Lock()
		c.reconnectAttempt = 0
		c.mu.Unlock()
		c.setStatus(mtclient.ControllerWaitForAuthentication, mtclient.ReasonRemote)
		c.setPingActive(true)
	case mtclient.ConnectionSigned:
		c.mu.Lock()
		c.mainConn = c.initialConn
		conn := c.initialConn
		c.mu.Unlock()
		if conn != nil {
			if err := c.accountStorage.PersistAuthKey(conn.AuthKey()); err != nil {
				c.logger.Warn("persist auth key failed", zap.Error(err))
			}
		}
		c.setStatus(mtclient.ControllerConnected, mtclient.ReasonRemote)
		// A real data-sync operation would run here before promoting to
		// Ready; this repo's scope stops at the transport/connection
		// layer, so readiness follows immediately.
		c.setStatus(mtclient.ControllerReady, mtclient.ReasonRemote)
	}
}

// handleMainConnectionLost triggers an automatic reconnection to the same
// DcOption per §4.8 step 6: the round-robin cursor is stepped back to the
// option the lost connection was built from before the attempt is scheduled.
func (c *Controller) handleMainConnectionLost(ctx context.Context) {
	c.mu.Lock()
	if n := len(c.servers); n > 0 {
		c.nextServerIndex = (c.nextServerIndex - 1 + n) % n
	}
	c.mu.Unlock()
	c.setPingActive(false)
	c.setStatus(mtclient.ControllerWaitForReconnection, mtclient.ReasonRemote)
	c.scheduleReconnect(ctx)
}

// StartAuthentication requires status == WaitForAuthentication and starts
// the caller-supplied authOp on the next turn. It
// subscribes to authOp's own completion so that its success promotes the
// connection it authenticated to Signed (§4.7's HasDhKey→Signed row, §4.8
// step 5) — nothing else in this package drives that transition.
func (c *Controller) StartAuthentication(authOp mtclient.AuthOperation) error {
	c.mu.Lock()
	if c.status != mtclient.ControllerWaitForAuthentication {
		c.mu.Unlock()
		return fmt.Errorf("controller: not waiting for authentication, status=%s", c.status)
	}
	if c.authOp != nil {
		c.mu.Unlock()
		return fmt.Errorf("controller: authentication already in progress")
	}
	c.authOp = authOp
	c.mu.Unlock()
	authOp.Subscribe(&authOpObserver{ctrl: c})
	authOp.StartLater()
	return nil
}

// authOpObserver promotes the connection an AuthOperation authenticated
// once it finishes. On failure it clears the in-progress operation and
// leaves the connection up, so the controller stays in
// WaitForAuthentication and StartAuthentication can be called again.
type authOpObserver struct {
	ctrl *Controller
}

func (o *authOpObserver) OnSucceeded() {
	o.ctrl.loop.Post(o.ctrl.handleAuthSucceeded)
}

func (o *authOpObserver) OnFailed(details mtclient.ErrorDetails) {
	o.ctrl.loop.Post(func() { o.ctrl.handleAuthFailed(details) })
}

func (o *authOpObserver) OnFinished() {}

func (c *Controller) handleAuthSucceeded() {
	c.mu.Lock()
	authOp := c.authOp
	c.authOp = nil
	c.mu.Unlock()
	if authOp == nil {
		return
	}
	authOp.AuthenticatedConnection().SetSigned()
}

func (c *Controller) handleAuthFailed(details mtclient.ErrorDetails) {
	c.mu.Lock()
	c.authOp = nil
	c.mu.Unlock()
	c.logger.Warn("authentication failed", zap.Any("details", details))
}

// CheckIn resumes a session from stored account data without
// re-authenticating. Requires the account storage to carry a minimal
// data set (auth key and session id).
func (c *Controller) CheckIn(ctx context.Context) error {
	if c.accountStorage == nil || !c.accountStorage.HasMinimalDataSet() {
		return fmt.Errorf("controller: no stored session to check in with")
	}
	return c.ConnectToServer(ctx)
}

// DisconnectFromServer moves status to Disconnecting and tears down every
// known connection.
func (c *Controller) DisconnectFromServer() {
	c.setStatus(mtclient.ControllerDisconnecting, mtclient.ReasonLocal)
	c.setPingActive(false)
	c.mu.Lock()
	initial, main := c.initialConn, c.mainConn
	c.initialConn, c.mainConn = nil, nil
	c.mu.Unlock()
	if initial != nil {
		initial.Disconnect()
	}
	if main != nil && main != initial {
		main.Disconnect()
	}
	c.setStatus(mtclient.ControllerDisconnected, mtclient.ReasonLocal)
}

// EnsureConnection returns the cached connection for spec, or resolves spec
// against the stored server configuration and builds one (§3's
// connections_by_spec, §4.8). Ipv4Only is always forced true regardless of
// what the caller passed in, both for the dial itself and for the cache
// key, so distinct specs that differ only in a caller-supplied Ipv4Only
// never produce two connections to the same option. It does not affect
// initialConn/mainConn bookkeeping.
func (c *Controller) EnsureConnection(ctx context.Context, spec mtclient.ConnectionSpec) (mtclient.Connection, error) {
	spec.Ipv4Only = true

	c.mu.Lock()
	if conn, ok := c.connectionsBySpec[spec]; ok {
		c.mu.Unlock()
		return conn, nil
	}
	c.mu.Unlock()

	if c.dataStorage == nil {
		return nil, fmt.Errorf("controller: no data storage configured")
	}
	opt, ok := c.dataStorage.ServerConfiguration().GetOption(spec)
	if !ok {
		return nil, fmt.Errorf("controller: no matching dc option for spec %+v", spec)
	}
	conn, err := c.factory.NewConnection(ctx, opt)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.connectionsBySpec[spec] = conn
	c.mu.Unlock()
	return conn, nil
}
