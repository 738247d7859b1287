package controller

import (
	"time"

	"github.com/geovex/mtclient"
	"go.uber.org/zap"
)

const defaultPingInterval = 60 * time.Second

// pingOperation is the ping_delay_disconnect RPC the keep-alive issues.
// It carries no payload beyond what a real RPCOperation implementation
// would encode; this library only needs SendRPC to accept it.
type pingOperation struct{}

func (pingOperation) Serialize() ([]byte, error) { return []byte("ping_delay_disconnect"), nil }

// setPingActive starts or stops the keep-alive ticker. The controller
// keeps ping_operation active whenever the main connection is in
// HasDhKey or Signed, per §4.8's keep-alive coupling.
func (c *Controller) setPingActive(active bool) {
	c.mu.Lock()
	wasActive := c.pingActive
	c.pingActive = active
	stop := c.pingStop
	c.mu.Unlock()

	if active == wasActive {
		return
	}
	if !active {
		if stop != nil {
			close(stop)
		}
		return
	}

	stop = make(chan struct{})
	c.mu.Lock()
	c.pingStop = stop
	c.pingFailures = 0
	c.mu.Unlock()

	interval := defaultPingInterval
	if c.settings != nil {
		if d := c.settings.PingInterval(); d > 0 {
			interval = d
		}
	}
	go c.runPingTicker(interval, stop)
}

func (c *Controller) runPingTicker(interval time.Duration, stop chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.loop.Post(c.sendPing)
		}
	}
}

// sendPing issues one ping_delay_disconnect through the main connection.
// On reaching pingFailureThreshold consecutive failures it emits a
// warning log; the controller's policy today is to log, not disconnect
// (documented ambiguity, §9).
func (c *Controller) sendPing() {
	c.mu.Lock()
	main := c.mainConn
	c.mu.Unlock()
	if main == nil {
		return
	}
	_, err := main.SendRPC(pingOperation{})
	c.mu.Lock()
	if err != nil {
		c.pingFailures++
		failures := c.pingFailures
		c.mu.Unlock()
		if failures >= pingFailureThreshold {
			c.logger.Warn("ping_delay_disconnect failed repeatedly", zap.Int("consecutive_failures", failures))
			if c.metrics != nil {
				c.metrics.PingFailed()
			}
		}
		return
	}
	c.pingFailures = 0
	c.mu.Unlock()
}

var _ mtclient.RPCOperation = pingOperation{}
