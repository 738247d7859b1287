package tgcrypt

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"
)

// CipherContext is stateful AES-CTR keystream for a single direction of an
// obfuscated transport. It has no useful zero value; build one with
// NewCipherContext once both key and IV are known. There is no
// finalization step: the context is a pure transform over however many
// bytes pass through it.
type CipherContext struct {
	stream cipher.Stream
}

func NewCipherContext(key, iv []byte) (*CipherContext, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("tgcrypt: new cipher: %w", err)
	}
	return &CipherContext{stream: cipher.NewCTR(block, iv)}, nil
}

// Crypt XORs buf with the next len(buf) keystream bytes in place, advancing
// the context by exactly that many bytes.
func (c *CipherContext) Crypt(buf []byte) {
	c.stream.XORKeyStream(buf, buf)
}

// Obfuscator is satisfied by anything that can decrypt inbound bytes and
// encrypt outbound bytes for one obfuscated transport.
type Obfuscator interface {
	// DecryptNext decrypts supposedly-received bytes in place.
	DecryptNext(buf []byte)
	// EncryptNext encrypts supposedly-outgoing bytes in place.
	EncryptNext(buf []byte)
}

// obfuscatorCtx pairs an independent read and write CipherContext into one
// Obfuscator, the two-contexts-per-transport split required of an
// obfuscated session.
type obfuscatorCtx struct {
	reader, writer *CipherContext
}

var _ Obfuscator = &obfuscatorCtx{}

func (e *obfuscatorCtx) DecryptNext(buf []byte) {
	e.reader.Crypt(buf)
}

func (e *obfuscatorCtx) EncryptNext(buf []byte) {
	e.writer.Crypt(buf)
}

func newAesStream(key, iv []byte) *CipherContext {
	c, err := NewCipherContext(key, iv)
	if err != nil {
		// key is always 32 bytes here (a nonce slice or a sha256 sum);
		// aes.NewCipher only fails on bad key length.
		panic(err)
	}
	return c
}
