// Package config implements the caller-facing mtclient.Settings (C14) as a
// TOML document. It is adapted from the teacher's listener-facing
// internal/config package: "server proxy config" (listen address, per-user
// secrets, middle-proxy ad-tag) becomes "client session config" (candidate
// server list, preferred session type, proxy, RSA key source).
package config

import (
	"fmt"
	"time"

	"github.com/geovex/mtclient"
)

var defaultConfigData = `
prefered_session_type = "obfuscated"
socks5 = "127.0.0.1:9050"
allowipv6 = true
ping_interval = "60s"

[[servers]]
dc_id = 2
address = "149.154.167.51"
port = 443
`

// Config is the concrete mtclient.Settings implementation.
type Config struct {
	servers             []mtclient.DcOption
	preferedSessionType mtclient.SessionType
	rsaKey              mtclient.RSAKey
	socks5              *string
	socks5_user         *string
	socks5_pass         *string
	allowIPv6           bool
	pingInterval        time.Duration
}

var _ mtclient.Settings = &Config{}

func (c *Config) ServerConfiguration() []mtclient.DcOption {
	return c.servers
}

func (c *Config) ServerRSAKey() mtclient.RSAKey {
	return c.rsaKey
}

func (c *Config) Proxy() *mtclient.DialSpec {
	if c.socks5 == nil {
		return nil
	}
	return &mtclient.DialSpec{
		Socks5URL: *c.socks5,
		User:      c.socks5_user,
		Password:  c.socks5_pass,
	}
}

func (c *Config) PreferedSessionType() mtclient.SessionType {
	return c.preferedSessionType
}

func (c *Config) PingInterval() time.Duration {
	return c.pingInterval
}

func (c *Config) GetAllowIPv6() bool {
	return c.allowIPv6
}

// IsValid mirrors the teacher's configFromParsed validation
// (checkSocksValues: socks user/pass must be specified together and
// non-empty), generalized to also require at least one server. An
// unrecognized prefered_session_type is already rejected at parse time.
func (c *Config) IsValid() bool {
	if len(c.servers) == 0 {
		return false
	}
	if err := checkSocksValues(c.socks5_user, c.socks5_pass); err != nil {
		return false
	}
	return true
}

func checkSocksValues(user *string, pass *string) error {
	if (user == nil && pass != nil) ||
		(user != nil && pass == nil) {
		return fmt.Errorf("both socks5_user and socks5_pass must be specified")
	}
	if (user != nil && *user == "") ||
		(pass != nil && *pass == "") {
		return fmt.Errorf("socks5_user or socks5_pass can't have zero length")
	}
	return nil
}
