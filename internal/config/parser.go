package config

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/geovex/mtclient"
)

type parsedServer struct {
	Dc_id      int16
	Address    string
	Port       uint16
	Obfuscated *bool
	Media_only *bool
}

type parsedRSAKey struct {
	Fingerprint uint64
	Modulus     string
	Exponent    string
}

type parsedConfig struct {
	Prefered_session_type *string
	Socks5                *string
	Socks5_user           *string
	Socks5_pass           *string
	Allowipv6             *bool
	Ping_interval         *string
	Rsa_key               *parsedRSAKey
	Servers               []parsedServer
}

func ReadConfig(path string) (*Config, error) {
	var c parsedConfig
	if _, err := toml.DecodeFile(path, &c); err != nil {
		return nil, err
	}
	return configFromParsed(&c)
}

func DefaultConfig() *Config {
	var c parsedConfig
	if _, err := toml.Decode(defaultConfigData, &c); err != nil {
		panic(err)
	}
	result, err := configFromParsed(&c)
	if err != nil {
		panic(err)
	}
	return result
}

func configFromParsed(parsed *parsedConfig) (*Config, error) {
	if err := checkSocksValues(parsed.Socks5_user, parsed.Socks5_pass); err != nil {
		return nil, err
	}

	sessionType, err := parseSessionType(parsed.Prefered_session_type)
	if err != nil {
		return nil, err
	}

	servers := make([]mtclient.DcOption, 0, len(parsed.Servers))
	for _, s := range parsed.Servers {
		opt := mtclient.DcOption{
			DCID:    s.Dc_id,
			Address: s.Address,
			Port:    s.Port,
		}
		if s.Obfuscated != nil {
			opt.Obfuscated = *s.Obfuscated
		}
		if s.Media_only != nil {
			opt.MediaOnly = *s.Media_only
		}
		servers = append(servers, opt)
	}

	pingInterval := 60 * time.Second
	if parsed.Ping_interval != nil {
		d, err := time.ParseDuration(*parsed.Ping_interval)
		if err != nil {
			return nil, fmt.Errorf("invalid ping_interval: %w", err)
		}
		pingInterval = d
	}

	var rsaKey mtclient.RSAKey
	if parsed.Rsa_key != nil {
		modulus, err := decodeHex(parsed.Rsa_key.Modulus)
		if err != nil {
			return nil, fmt.Errorf("invalid rsa_key.modulus: %w", err)
		}
		exponent, err := decodeHex(parsed.Rsa_key.Exponent)
		if err != nil {
			return nil, fmt.Errorf("invalid rsa_key.exponent: %w", err)
		}
		rsaKey = mtclient.RSAKey{
			Fingerprint: parsed.Rsa_key.Fingerprint,
			Modulus:     modulus,
			Exponent:    exponent,
		}
	}

	allowIPv6 := false
	if parsed.Allowipv6 != nil {
		allowIPv6 = *parsed.Allowipv6
	}

	return &Config{
		servers:             servers,
		preferedSessionType: sessionType,
		rsaKey:              rsaKey,
		socks5:              parsed.Socks5,
		socks5_user:         parsed.Socks5_user,
		socks5_pass:         parsed.Socks5_pass,
		allowIPv6:           allowIPv6,
		pingInterval:        pingInterval,
	}, nil
}

func parseSessionType(s *string) (mtclient.SessionType, error) {
	if s == nil {
		return mtclient.SessionAbridged, nil
	}
	switch *s {
	case "none":
		return mtclient.SessionUnknown, nil
	case "abridged":
		return mtclient.SessionAbridged, nil
	case "obfuscated":
		return mtclient.SessionObfuscated, nil
	default:
		return mtclient.SessionUnknown, fmt.Errorf("unknown prefered_session_type: %s", *s)
	}
}

func decodeHex(s string) ([]byte, error) {
	if len(s)%2 != 0 {
		return nil, fmt.Errorf("odd-length hex string")
	}
	out := make([]byte, len(s)/2)
	for i := range out {
		var b byte
		for _, c := range s[i*2 : i*2+2] {
			b <<= 4
			switch {
			case c >= '0' && c <= '9':
				b |= byte(c - '0')
			case c >= 'a' && c <= 'f':
				b |= byte(c-'a') + 10
			case c >= 'A' && c <= 'F':
				b |= byte(c-'A') + 10
			default:
				return nil, fmt.Errorf("invalid hex character %q", c)
			}
		}
		out[i] = b
	}
	return out, nil
}
