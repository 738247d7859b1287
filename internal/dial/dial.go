// Package dial resolves and dials a Telegram data center, either directly
// or through a SOCKS5 proxy, trying the IPv6 candidate first and the IPv4
// one after it (one at a time, not concurrently) the way the source's
// proxy-side DCConnector dials outward to a DC on a relayed client's
// behalf — the same direction of travel this client library needs for its
// own connection attempts.
package dial

import (
	"context"
	"fmt"
	"net"

	"github.com/geovex/mtclient/internal/tgcrypt"
	"go.uber.org/zap"
	"golang.org/x/net/proxy"
)

// DCDialer reaches a Telegram DC by number or by a raw host:port, returning
// an established net.Conn with TCP_NODELAY set.
type DCDialer interface {
	DialDC(ctx context.Context, dc int16) (net.Conn, error)
	DialHost(ctx context.Context, host string) (net.Conn, error)
}

// DirectDialer dials a DC's public IPv4/IPv6 addresses with no intervening
// proxy. allowIPv6 is fixed at construction time, from the Settings value
// in force when the dialer was built.
type DirectDialer struct {
	logger    *zap.Logger
	allowIPv6 bool
}

var _ DCDialer = &DirectDialer{}

func NewDirectDialer(logger *zap.Logger, allowIPv6 bool) *DirectDialer {
	return &DirectDialer{logger: logger.Named("dial.direct"), allowIPv6: allowIPv6}
}

func (d *DirectDialer) DialDC(ctx context.Context, dc int16) (net.Conn, error) {
	addr4, addr6, err := tgcrypt.GetDcAddr(dc)
	if err != nil {
		return nil, err
	}
	if !d.allowIPv6 {
		addr6 = ""
	}
	c, err4, err6 := dialBoth(ctx, addr4, addr6, proxy.Direct)
	if c == nil {
		d.logger.Warn("direct dial failed", zap.Int16("dc", dc), zap.Error(err4), zap.NamedError("ipv6_error", err6))
		return nil, fmt.Errorf("can't connect to dc %d: %w, %w", dc, err4, err6)
	}
	setNoDelay(c)
	return c, nil
}

func (d *DirectDialer) DialHost(ctx context.Context, host string) (net.Conn, error) {
	c, err := (&net.Dialer{}).DialContext(ctx, "tcp", host)
	if err != nil {
		d.logger.Warn("direct dial failed", zap.String("host", host), zap.Error(err))
		return nil, fmt.Errorf("can't connect to %s: %w", host, err)
	}
	setNoDelay(c)
	return c, nil
}

// SocksDialer reaches a DC through a SOCKS5 proxy, with the same
// IPv6-then-IPv4 fallback as DirectDialer.
type SocksDialer struct {
	logger     *zap.Logger
	socks5URL  string
	user, pass *string
	allowIPv6  bool
}

var _ DCDialer = &SocksDialer{}

func NewSocksDialer(logger *zap.Logger, socks5URL string, user, pass *string, allowIPv6 bool) *SocksDialer {
	return &SocksDialer{
		logger:    logger.Named("dial.socks5"),
		socks5URL: socks5URL,
		user:      user,
		pass:      pass,
		allowIPv6: allowIPv6,
	}
}

func (s *SocksDialer) createDialer() (proxy.Dialer, error) {
	var auth *proxy.Auth
	if s.user != nil {
		pass := ""
		if s.pass != nil {
			pass = *s.pass
		}
		auth = &proxy.Auth{User: *s.user, Password: pass}
	}
	dialer, err := proxy.SOCKS5("tcp", s.socks5URL, auth, proxy.Direct)
	if err != nil {
		return nil, fmt.Errorf("proxy dialer not created: %w", err)
	}
	return dialer, nil
}

func (s *SocksDialer) DialDC(ctx context.Context, dc int16) (net.Conn, error) {
	dialer, err := s.createDialer()
	if err != nil {
		return nil, err
	}
	addr4, addr6, err := tgcrypt.GetDcAddr(dc)
	if err != nil {
		return nil, err
	}
	if !s.allowIPv6 {
		addr6 = ""
	}
	c, err4, err6 := dialBoth(ctx, addr4, addr6, dialer)
	if c == nil {
		s.logger.Warn("socks5 dial failed", zap.Int16("dc", dc), zap.Error(err4), zap.NamedError("ipv6_error", err6))
		return nil, fmt.Errorf("can't connect to dc %d: %w, %w", dc, err4, err6)
	}
	setNoDelay(c)
	return c, nil
}

func (s *SocksDialer) DialHost(ctx context.Context, host string) (net.Conn, error) {
	dialer, err := s.createDialer()
	if err != nil {
		return nil, err
	}
	type ctxDialer interface {
		DialContext(ctx context.Context, network, addr string) (net.Conn, error)
	}
	var c net.Conn
	if cd, ok := dialer.(ctxDialer); ok {
		c, err = cd.DialContext(ctx, "tcp", host)
	} else {
		c, err = dialer.Dial("tcp", host)
	}
	if err != nil {
		s.logger.Warn("socks5 dial failed", zap.String("host", host), zap.Error(err))
		return nil, fmt.Errorf("can't connect to %s: %w", host, err)
	}
	setNoDelay(c)
	return c, nil
}

// dialBoth tries the IPv6 candidate first when present, falling back to
// IPv4 on failure, and reports both errors so the caller can log whichever
// family actually mattered.
func dialBoth(ctx context.Context, host4, host6 string, dialer proxy.Dialer) (c net.Conn, err4, err6 error) {
	type ctxDialer interface {
		DialContext(ctx context.Context, network, addr string) (net.Conn, error)
	}
	dial := func(addr string) (net.Conn, error) {
		if cd, ok := dialer.(ctxDialer); ok {
			return cd.DialContext(ctx, "tcp", addr)
		}
		return dialer.Dial("tcp", addr)
	}
	if host6 != "" {
		c, err6 = dial(host6)
		if err6 == nil {
			return c, nil, nil
		}
	} else {
		err6 = fmt.Errorf("no ipv6 address specified")
	}
	c, err4 = dial(host4)
	if err4 != nil {
		return nil, err4, err6
	}
	return c, nil, err6
}

// setNoDelay disables Nagle buffering on freshly dialed TCP sockets; it is
// a no-op for anything else a Dialer might hand back (e.g. through a
// SOCKS5 tunnel where the underlying conn type is unexported).
func setNoDelay(c net.Conn) {
	if sock, ok := c.(*net.TCPConn); ok {
		sock.SetNoDelay(true)
	}
}

// NewDialer picks a DirectDialer or SocksDialer depending on whether a
// SOCKS5 URL is configured, mirroring the source's dcConnectorFromSocks.
func NewDialer(logger *zap.Logger, socks5URL *string, user, pass *string, allowIPv6 bool) DCDialer {
	if socks5URL == nil || *socks5URL == "" {
		return NewDirectDialer(logger, allowIPv6)
	}
	return NewSocksDialer(logger, *socks5URL, user, pass, allowIPv6)
}
