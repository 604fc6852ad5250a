// Copyright 2026 The fwprotect authors. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package engine provides the block cipher engine used to protect firmware
// payloads, page tags and version signatures.
//
// An Engine is built once per run from a key and a block width. The key
// schedule is expanded at construction and never changes afterwards, so an
// Engine is safe for concurrent use.
package engine

import (
	"crypto/cipher"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/embedsec/fwprotect/internal/errs"
	"github.com/embedsec/fwprotect/simon"
)

// Supported block widths, in bits.
const (
	Width64  = 64
	Width128 = 128
)

// DigestSize is the size of a sealed digest: two encrypted SHA-256 halves.
const DigestSize = sha256.Size

// Tweak selects how payload blocks are bound to their position in memory.
type Tweak int

const (
	// TweakNone encrypts every block independently, as the bootloader expects.
	// Equal plaintext blocks produce equal ciphertext blocks.
	TweakNone Tweak = iota
	// TweakAddress masks each block with the encryption of its absolute
	// address before and after encryption.
	TweakAddress
)

func (t Tweak) String() string {
	switch t {
	case TweakNone:
		return "none"
	case TweakAddress:
		return "address"
	}
	return fmt.Sprintf("Tweak(%d)", int(t))
}

// ParseTweak parses the textual form of a Tweak.
func ParseTweak(s string) (Tweak, error) {
	switch strings.ToLower(s) {
	case "", "none":
		return TweakNone, nil
	case "address":
		return TweakAddress, nil
	}
	return TweakNone, fmt.Errorf("unknown tweak mode %q", s)
}

type config struct {
	width int
	tweak Tweak
}

// Option configures an Engine.
type Option func(*config)

// WithBlockWidth selects the cipher block width in bits, Width64 or Width128.
func WithBlockWidth(bits int) Option {
	return func(c *config) {
		c.width = bits
	}
}

// WithTweak selects how payload blocks are bound to their address.
func WithTweak(t Tweak) Option {
	return func(c *config) {
		c.tweak = t
	}
}

// Engine encrypts and decrypts fixed-size blocks under a single key.
type Engine struct {
	block cipher.Block
	tweak Tweak
}

// New returns an Engine for the 128 bit key. The default block width is 64
// bits with no tweak.
func New(key []byte, opts ...Option) (*Engine, error) {
	cfg := config{width: Width64}
	for _, o := range opts {
		o(&cfg)
	}
	if len(key) == 0 {
		return nil, &errs.KeyError{Reason: "no key supplied"}
	}
	if len(key) != simon.KeySize {
		return nil, &errs.KeyError{Reason: fmt.Sprintf("got %d bytes, want %d", len(key), simon.KeySize)}
	}

	var (
		b   cipher.Block
		err error
	)
	switch cfg.width {
	case Width64:
		b, err = simon.New64(key)
	case Width128:
		b, err = simon.New128(key)
	default:
		return nil, fmt.Errorf("%w: unsupported block width %d bits", errs.ErrCrypto, cfg.width)
	}
	if err != nil {
		return nil, &errs.KeyError{Reason: err.Error()}
	}
	if cfg.tweak != TweakNone && cfg.tweak != TweakAddress {
		return nil, fmt.Errorf("%w: unsupported tweak %v", errs.ErrCrypto, cfg.tweak)
	}
	return &Engine{block: b, tweak: cfg.tweak}, nil
}

// BlockSize returns the block size in bytes.
func (e *Engine) BlockSize() int {
	return e.block.BlockSize()
}

// Tweak returns the tweak mode the Engine was built with.
func (e *Engine) Tweak() Tweak {
	return e.tweak
}

func (e *Engine) checkBlock(dst, src []byte) error {
	bs := e.block.BlockSize()
	if len(src) != bs {
		return &errs.BlockSizeError{Got: len(src), Want: bs}
	}
	if len(dst) < bs {
		return &errs.BlockSizeError{Got: len(dst), Want: bs}
	}
	return nil
}

// EncryptBlock encrypts exactly one block from src into dst.
func (e *Engine) EncryptBlock(dst, src []byte) error {
	if err := e.checkBlock(dst, src); err != nil {
		return err
	}
	e.block.Encrypt(dst, src)
	return nil
}

// DecryptBlock decrypts exactly one block from src into dst.
func (e *Engine) DecryptBlock(dst, src []byte) error {
	if err := e.checkBlock(dst, src); err != nil {
		return err
	}
	e.block.Decrypt(dst, src)
	return nil
}

// Encrypt encrypts src, which must be a whole number of blocks, into dst.
// addr is the absolute memory address of src[0]; it only affects the result
// when the Engine uses TweakAddress.
func (e *Engine) Encrypt(dst, src []byte, addr uint32) error {
	return e.crypt(dst, src, addr, e.block.Encrypt)
}

// Decrypt reverses Encrypt.
func (e *Engine) Decrypt(dst, src []byte, addr uint32) error {
	return e.crypt(dst, src, addr, e.block.Decrypt)
}

func (e *Engine) crypt(dst, src []byte, addr uint32, fn func(dst, src []byte)) error {
	bs := e.block.BlockSize()
	if len(src)%bs != 0 {
		return &errs.MisalignedPayloadError{Address: addr, Length: len(src), BlockSize: bs}
	}
	if len(dst) < len(src) {
		return &errs.BlockSizeError{Got: len(dst), Want: len(src)}
	}

	var mask []byte
	if e.tweak == TweakAddress {
		mask = make([]byte, bs)
	}
	for off := 0; off < len(src); off += bs {
		out, in := dst[off:off+bs], src[off:off+bs]
		if mask == nil {
			fn(out, in)
			continue
		}
		e.addressMask(mask, addr+uint32(off))
		xor(out, in, mask)
		fn(out, out)
		xor(out, out, mask)
	}
	return nil
}

// addressMask fills mask with the encryption of the block address.
func (e *Engine) addressMask(mask []byte, addr uint32) {
	clear(mask)
	binary.LittleEndian.PutUint32(mask, addr)
	mask[len(mask)-1] = 0xa5
	e.block.Encrypt(mask, mask)
}

func xor(dst, a, b []byte) {
	for i := range dst {
		dst[i] = a[i] ^ b[i]
	}
}

// SealDigest encrypts a SHA-256 digest in two independent 128 bit halves and
// returns the concatenation. With a 64 bit block width each half spans two
// blocks, matching how the bootloader re-encrypts digests for comparison.
// Sealing never uses the address tweak.
func (e *Engine) SealDigest(d [sha256.Size]byte) []byte {
	bs := e.block.BlockSize()
	out := make([]byte, DigestSize)
	for off := 0; off < DigestSize; off += bs {
		e.block.Encrypt(out[off:off+bs], d[off:off+bs])
	}
	return out
}

// Seal hashes data with SHA-256 and seals the digest.
func (e *Engine) Seal(data []byte) []byte {
	return e.SealDigest(sha256.Sum256(data))
}

// OpenDigest reverses SealDigest.
func (e *Engine) OpenDigest(sealed []byte) ([sha256.Size]byte, error) {
	var d [sha256.Size]byte
	if len(sealed) != DigestSize {
		return d, &errs.BlockSizeError{Got: len(sealed), Want: DigestSize}
	}
	bs := e.block.BlockSize()
	for off := 0; off < DigestSize; off += bs {
		e.block.Decrypt(d[off:off+bs], sealed[off:off+bs])
	}
	return d, nil
}
