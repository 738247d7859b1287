package tgcrypt

import (
	"bytes"
	"crypto/rand"
	"runtime"
)

const NonceSize = 64

// Nonce is the 64-byte handshake prefix exchanged when an obfuscated
// transport activates: the first bytes a client sends, or the first bytes
// it must be prepared to decode a sentinel out of.
type Nonce [NonceSize]byte

// wrongNonceStarters lists byte prefixes a nonce must never collide with:
// plaintext framing headers and common plaintext protocol greetings a DPI
// box would otherwise recognize as the thing the obfuscation is trying to
// hide.
var wrongNonceStarters = [...][]byte{
	{0xef},                   // abridged header
	{0x48, 0x45, 0x41, 0x44}, // HEAD
	{0x50, 0x4f, 0x53, 0x54}, // POST
	{0x47, 0x45, 0x54, 0x20}, // GET
	{0x4f, 0x50, 0x54, 0x49}, // OPTI
	{0x16, 0x03, 0x01, 0x02}, // FakeTLS
	{0xdd, 0xdd, 0xdd, 0xdd}, // padded intermediate header
	{0xee, 0xee, 0xee, 0xee}, // intermediate header
}

// decryptInit returns the byte-reversed view (offsets 55 down to 8) of a
// nonce, which is how MTProto derives the second direction's key/IV from
// the first direction's without transmitting them separately.
func decryptInit(packet Nonce) (decrypt [48]byte) {
	k := 0
	for i := 55; i >= 8; i-- {
		decrypt[k] = packet[i]
		k++
	}
	return
}

// IsWrongNonce reports whether nonce collides with a recognizable plaintext
// protocol prefix, or has a zero second dword (bytes 4:8, reserved by the
// protocol).
func IsWrongNonce(nonce Nonce) bool {
	for _, s := range wrongNonceStarters {
		if bytes.Equal(nonce[:len(s)], s) {
			return true
		}
	}
	return bytes.Equal(nonce[4:8], []byte{0, 0, 0, 0})
}

// genNonce draws a fresh random nonce, retrying until it clears
// IsWrongNonce.
func genNonce() (packet Nonce) {
	for {
		_, err := rand.Read(packet[:])
		if err != nil {
			panic(err)
		}
		runtime.Gosched()
		if IsWrongNonce(packet) {
			continue
		}
		return
	}
}

// DeriveKeys splits a 64-byte handshake nonce into the key/IV pair for the
// direction the bytes describe as-is (bytes 8:40 and 40:56) and the key/IV
// pair for the reversed direction (decryptInit), mirroring Telegram's
// client/server role symmetry: whichever side reads the nonce as sent uses
// the first pair to encrypt and the second to decrypt, and the peer uses
// them the other way around.
func DeriveKeys(nonce Nonce) (keyA, ivA, keyB, ivB []byte) {
	keyA = append([]byte{}, nonce[8:40]...)
	ivA = append([]byte{}, nonce[40:56]...)
	reversed := decryptInit(nonce)
	keyB = append([]byte{}, reversed[:32]...)
	ivB = append([]byte{}, reversed[32:48]...)
	return
}
