package tgcrypt

import (
	"bytes"
	"testing"
)

func TestNewHandshakeProtocolTagSurvivesRoundTrip(t *testing.T) {
	hs := NewHandshake(2, Abridged, nil)
	if IsWrongNonce(hs.Nonce) {
		t.Fatal("generated nonce collides with a reserved prefix")
	}
	// The receiving end derives the same two streams from the nonce's
	// plaintext half and must recover the repeated protocol tag.
	encKey := hs.Nonce[8:40]
	encIV := hs.Nonce[40:56]
	c, err := NewCipherContext(encKey, encIV)
	if err != nil {
		t.Fatalf("new cipher: %v", err)
	}
	decoded := make([]byte, NonceSize)
	copy(decoded, hs.Nonce[:])
	c.Crypt(decoded)
	if decoded[56] != Abridged || decoded[57] != Abridged || decoded[58] != Abridged || decoded[59] != Abridged {
		t.Fatalf("protocol tag not recoverable: %x", decoded[56:60])
	}
}

func TestNewHandshakeWithSecretDiffersFromDirect(t *testing.T) {
	secret, err := ParseSecret(bytes.Repeat([]byte{0x11}, 16))
	if err != nil {
		t.Fatalf("parse secret: %v", err)
	}
	direct := NewHandshake(2, Abridged, nil)
	withSecret := NewHandshake(2, Abridged, secret)
	// Nonces are random regardless, but the derived keystreams must differ:
	// encrypt the same buffer under each and expect different ciphertexts.
	plain := []byte("01234567")
	a := append([]byte{}, plain...)
	b := append([]byte{}, plain...)
	direct.EncryptNext(a)
	withSecret.EncryptNext(b)
	if bytes.Equal(a, b) {
		t.Fatal("secret mixing had no effect on the derived keystream")
	}
}

func TestGetDcAddrKnownRange(t *testing.T) {
	for dc := int16(1); dc <= DcMaxIdx; dc++ {
		v4, v6, err := GetDcAddr(dc)
		if err != nil {
			t.Fatalf("dc %d: %v", dc, err)
		}
		if v4 == "" && v6 == "" {
			t.Fatalf("dc %d: no addresses", dc)
		}
	}
}

func TestGetDcAddrNegativeNormalizes(t *testing.T) {
	v4pos, _, err := GetDcAddr(3)
	if err != nil {
		t.Fatalf("dc 3: %v", err)
	}
	v4neg, _, err := GetDcAddr(-3)
	if err != nil {
		t.Fatalf("dc -3: %v", err)
	}
	// dc 3 has a single IPv4 candidate, so -3 must resolve to the same one.
	if v4neg != v4pos {
		t.Fatalf("dc -3 resolved to %s, want dc 3's %s", v4neg, v4pos)
	}
}
