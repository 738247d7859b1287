package tgcrypt

import (
	"encoding/hex"
	"fmt"
)

type SecretType int

const simpleSecretLen = 16

const (
	Simple  SecretType = 1
	Secured SecretType = 2
	FakeTLS SecretType = 3
)

// Secret is a parsed proxy credential. Depending on its wire length it is a
// bare 16-byte key (Simple), a tag-prefixed 16-byte key (Secured), or a
// tag-prefixed key followed by a SNI hostname to present during a FakeTLS
// handshake (FakeTLS).
type Secret struct {
	RawSecret []byte
	Type      SecretType
	Tag       byte
	Fakehost  string
}

// ParseSecretHex decodes a hex-encoded secret and parses it.
func ParseSecretHex(secret string) (*Secret, error) {
	secretBytes, err := hex.DecodeString(secret)
	if err != nil {
		return nil, err
	}
	return ParseSecret(secretBytes)
}

type ErrSecretLength struct {
	length int
}

var _ error = &ErrSecretLength{}

func (e ErrSecretLength) Error() string {
	return fmt.Sprintf("incorrect secret length: %d", e.length)
}

// ParseSecret parses a proxy secret from its raw bytes.
func ParseSecret(secret []byte) (*Secret, error) {
	switch {
	case len(secret) == simpleSecretLen:
		return &Secret{
			RawSecret: secret,
			Type:      Simple,
		}, nil
	case len(secret) == simpleSecretLen+1:
		return &Secret{
			RawSecret: secret[1 : simpleSecretLen+1],
			Type:      Secured,
			Tag:       secret[0],
		}, nil
	case len(secret) > simpleSecretLen+1:
		return &Secret{
			RawSecret: secret[1 : simpleSecretLen+1],
			Type:      FakeTLS,
			Tag:       secret[0],
			Fakehost:  string(secret[simpleSecretLen+1:]),
		}, nil
	default:
		return nil, &ErrSecretLength{length: len(secret)}
	}
}
