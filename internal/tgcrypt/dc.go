package tgcrypt

import (
	"crypto/sha256"
	"fmt"
	"math/rand"

	"github.com/geovex/mtclient/internal/maplist"
)

const (
	Abridged     = 0xef
	Intermediate = 0xee
	Padded       = 0xdd
	Full         = 0
)

type ErrInvalidProtocol struct {
	value byte
}

var _ error = &ErrInvalidProtocol{}

func (ip ErrInvalidProtocol) Error() string {
	return fmt.Sprintf("invalid protocol %x", ip.value)
}

type ErrInvalidProtocolFields struct {
	values [4]byte
}

var _ error = &ErrInvalidProtocolFields{}

func (ipf ErrInvalidProtocolFields) Error() string {
	return fmt.Sprintf("invalid protocol fields %x %x %x %x", ipf.values[0], ipf.values[1], ipf.values[2], ipf.values[3])
}

// HandshakeCtx is the obfuscated-session state this client builds when it
// initiates a connection to a DC: the nonce it sends and the Obfuscator
// derived from it. Unlike a proxy's server-side ObfCtx (which decodes a
// nonce someone else generated), this side always generates its own.
type HandshakeCtx struct {
	// Nonce is the 64-byte prefix sent as-is to the DC (or to the proxy
	// in front of it) to start the obfuscated session.
	Nonce Nonce
	// Header is the plaintext form Nonce was derived from (identical in
	// bytes 0:56, the source of bytes 56:64 once encrypted). A transport
	// deriving its own read/write ciphers from this handshake uses
	// Header, not Nonce, as DeriveKeys' input.
	Header   Nonce
	Protocol uint8
	obf      Obfuscator
}

func (c *HandshakeCtx) DecryptNext(buf []byte) { c.obf.DecryptNext(buf) }
func (c *HandshakeCtx) EncryptNext(buf []byte) { c.obf.EncryptNext(buf) }

// NewHandshake builds a HandshakeCtx for an obfuscated connection to dc
// using protocol as the framing variant tag. If secret is non-nil, the
// derived keys are additionally mixed with the secret exactly as
// ObfCtxFromNonce mixes a client nonce with a proxy secret on the source's
// server side; this is what lets the same derivation serve both a direct
// connection to Telegram (secret == nil) and a connection relayed through
// an MTProxy that demands a shared secret.
func NewHandshake(dc int16, protocol byte, secret *Secret) *HandshakeCtx {
	header := genNonce()
	header[56] = protocol
	header[57] = protocol
	header[58] = protocol
	header[59] = protocol
	encKey, encIV, decKey, decIV := DeriveKeys(header)
	if secret != nil {
		secretData := secret.RawSecret[0:16]
		hasher := sha256.New()
		hasher.Write(encKey)
		hasher.Write(secretData)
		encKey = hasher.Sum(nil)
		hasher.Reset()
		hasher.Write(decKey)
		hasher.Write(secretData)
		decKey = hasher.Sum(nil)
	}
	toStream := newAesStream(encKey, encIV)
	fromStream := newAesStream(decKey, decIV)
	nonce := header // copy: header stays plaintext, nonce becomes the wire form
	toStream.Crypt(nonce[:])
	copy(nonce[:56], header[:56]) // only the protocol tag (bytes 56:64) travels encrypted
	return &HandshakeCtx{
		Nonce:    nonce,
		Header:   header,
		Protocol: protocol,
		obf: &obfuscatorCtx{
			reader: fromStream,
			writer: toStream,
		},
	}
}

const DcMaxIdx = int16(5)

var dcIP4 = maplist.MapList[int16, string]{
	Data: map[int16][]string{
		1: {"149.154.175.50:443"},
		2: {"149.154.167.51:443", "95.161.76.100:443"},
		3: {"149.154.175.100:443"},
		4: {"149.154.167.91:443"},
		5: {"149.154.171.5:443"},
	},
}

var dcIP6 = maplist.MapList[int16, string]{
	Data: map[int16][]string{
		1: {"[2001:b28:f23d:f001::a]:443"},
		2: {"[2001:67c:04e8:f002::a]:443"},
		3: {"[2001:b28:f23d:f003::a]:443"},
		4: {"[2001:67c:04e8:f004::a]:443"},
		5: {"[2001:b28:f23f:f005::a]:443"},
	},
}

// GetDcAddr returns a randomly-picked IPv4 and IPv6 candidate address for
// dc (negative ids address the media/test variant and are normalized by
// absolute value). An out-of-range dc silently falls back to a random
// valid one, matching the source's fallback-over-error choice at this call
// site.
func GetDcAddr(dc int16) (ipv4, ipv6 string, err error) {
	if dc < 0 {
		dc = -dc
	}
	if dc < 1 || dc > DcMaxIdx {
		dc = int16(rand.Intn(int(DcMaxIdx)) + 1)
	}
	ipv4, _ = dcIP4.GetRandom(dc)
	ipv6, _ = dcIP6.GetRandom(dc)
	if ipv4 == "" && ipv6 == "" {
		return "", "", fmt.Errorf("invalid dc number %d", dc)
	}
	return ipv4, ipv6, nil
}
