// Package cipher128 implements the block-cipher capability named in
// spec.md §6 EXTERNAL INTERFACES: set-128-bit-key and encrypt-128-bit-block.
// Built on crypto/aes + crypto/cipher (stdlib); see DESIGN.md for why no
// third-party cipher library from the example corpus fits this shape
// better than the standard library's own AES block primitive.
package cipher128

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"
)

// BlockSize is fixed at 128 bits, per spec.md §4.6/§6: "The block size is
// fixed at 128 bits; no other modes are used."
const BlockSize = 16

// Cipher is the set-128-bit-key / encrypt-128-bit-block capability.
type Cipher struct {
	block cipher.Block
}

// SetKey installs a 16-byte key, replacing any previously installed one.
func (c *Cipher) SetKey(key [BlockSize]byte) error {
	var block, err = aes.NewCipher(key[:])
	if err != nil {
		return fmt.Errorf("cipher128: set key: %w", err)
	}
	c.block = block
	return nil
}

// Encrypt encrypts one 16-byte block with the installed key. It panics if
// no key has been installed, since the whitener (internal/spike) never
// calls Encrypt before SpikeAccumulator has seeded the key.
func (c *Cipher) Encrypt(plain [BlockSize]byte) [BlockSize]byte {
	if c.block == nil {
		panic("cipher128: Encrypt called before SetKey")
	}
	var out [BlockSize]byte
	c.block.Encrypt(out[:], plain[:])
	return out
}
