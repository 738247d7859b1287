package tgcrypt

import (
	"bytes"
	"testing"
)

func TestCipherContextRoundTrip(t *testing.T) {
	var key [32]byte
	var iv [16]byte
	for i := range key {
		key[i] = byte(i)
	}
	for i := range iv {
		iv[i] = byte(i * 3)
	}
	plain := bytes.Repeat([]byte("telegram-mtproto"), 10)

	enc, err := NewCipherContext(key[:], iv[:])
	if err != nil {
		t.Fatalf("new cipher: %v", err)
	}
	buf := append([]byte{}, plain...)
	enc.Crypt(buf)
	if bytes.Equal(buf, plain) {
		t.Fatal("ciphertext equals plaintext")
	}

	dec, err := NewCipherContext(key[:], iv[:])
	if err != nil {
		t.Fatalf("new cipher: %v", err)
	}
	dec.Crypt(buf)
	if !bytes.Equal(buf, plain) {
		t.Fatalf("round trip failed: got %x want %x", buf, plain)
	}
}

func TestCipherContextAdvancesState(t *testing.T) {
	var key [32]byte
	var iv [16]byte
	c, err := NewCipherContext(key[:], iv[:])
	if err != nil {
		t.Fatalf("new cipher: %v", err)
	}
	a := make([]byte, 8)
	b := make([]byte, 8)
	c.Crypt(a)
	c.Crypt(b)
	if bytes.Equal(a, b) {
		t.Fatal("keystream did not advance between calls")
	}
}
