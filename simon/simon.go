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

// Package simon implements the Simon64/128 and Simon128/128 lightweight
// block ciphers.
//
// Both ciphers take a 128 bit key. Blocks and keys are loaded as
// little-endian words with the low word first, which is the memory layout
// used by the AVR bootloader when it runs the same key schedule over a
// uint32 view of the key.
//
// The ciphers satisfy crypto/cipher.Block. As with the standard library
// block ciphers, Encrypt and Decrypt panic when handed short buffers; callers
// needing validated input should use the fwprotect engine package.
package simon

import (
	"crypto/cipher"
	"encoding/binary"
	"math/bits"
	"strconv"
)

// KeySize is the key length in bytes accepted by both ciphers.
const KeySize = 16

const (
	// BlockSize64 is the block size in bytes of Simon64/128.
	BlockSize64 = 8
	// BlockSize128 is the block size in bytes of Simon128/128.
	BlockSize128 = 16

	rounds64  = 44
	rounds128 = 68
)

// Round constant sequences, most significant bit first.
const (
	z2 = "10101111011100000011010010011000101000010001111110010110110011"
	z3 = "11011011101011000110010111100000010010001010011100110100001111"
)

// KeySizeError is returned for keys which are not KeySize bytes long.
type KeySizeError int

func (k KeySizeError) Error() string {
	return "simon: invalid key size " + strconv.Itoa(int(k))
}

type cipher64 struct {
	rk [rounds64]uint32
}

// New64 returns a Simon64/128 cipher for the given 16 byte key.
func New64(key []byte) (cipher.Block, error) {
	if len(key) != KeySize {
		return nil, KeySizeError(len(key))
	}
	c := &cipher64{}
	for i := 0; i < 4; i++ {
		c.rk[i] = binary.LittleEndian.Uint32(key[4*i:])
	}
	for i := 4; i < rounds64; i++ {
		tmp := bits.RotateLeft32(c.rk[i-1], -3) ^ c.rk[i-3]
		tmp ^= bits.RotateLeft32(tmp, -1)
		c.rk[i] = ^c.rk[i-4] ^ tmp ^ uint32(z3[(i-4)%62]-'0') ^ 3
	}
	return c, nil
}

func (c *cipher64) BlockSize() int { return BlockSize64 }

func f32(x uint32) uint32 {
	return (bits.RotateLeft32(x, 1) & bits.RotateLeft32(x, 8)) ^ bits.RotateLeft32(x, 2)
}

func (c *cipher64) Encrypt(dst, src []byte) {
	if len(src) < BlockSize64 || len(dst) < BlockSize64 {
		panic("simon: input not full block")
	}
	y := binary.LittleEndian.Uint32(src[0:4])
	x := binary.LittleEndian.Uint32(src[4:8])
	for _, k := range c.rk {
		x, y = y^f32(x)^k, x
	}
	binary.LittleEndian.PutUint32(dst[0:4], y)
	binary.LittleEndian.PutUint32(dst[4:8], x)
}

func (c *cipher64) Decrypt(dst, src []byte) {
	if len(src) < BlockSize64 || len(dst) < BlockSize64 {
		panic("simon: input not full block")
	}
	y := binary.LittleEndian.Uint32(src[0:4])
	x := binary.LittleEndian.Uint32(src[4:8])
	for i := rounds64 - 1; i >= 0; i-- {
		x, y = y, x^f32(y)^c.rk[i]
	}
	binary.LittleEndian.PutUint32(dst[0:4], y)
	binary.LittleEndian.PutUint32(dst[4:8], x)
}

type cipher128 struct {
	rk [rounds128]uint64
}

// New128 returns a Simon128/128 cipher for the given 16 byte key.
func New128(key []byte) (cipher.Block, error) {
	if len(key) != KeySize {
		return nil, KeySizeError(len(key))
	}
	c := &cipher128{}
	c.rk[0] = binary.LittleEndian.Uint64(key[0:8])
	c.rk[1] = binary.LittleEndian.Uint64(key[8:16])
	for i := 2; i < rounds128; i++ {
		tmp := bits.RotateLeft64(c.rk[i-1], -3)
		tmp ^= bits.RotateLeft64(tmp, -1)
		c.rk[i] = ^c.rk[i-2] ^ tmp ^ uint64(z2[(i-2)%62]-'0') ^ 3
	}
	return c, nil
}

func (c *cipher128) BlockSize() int { return BlockSize128 }

func f64(x uint64) uint64 {
	return (bits.RotateLeft64(x, 1) & bits.RotateLeft64(x, 8)) ^ bits.RotateLeft64(x, 2)
}

func (c *cipher128) Encrypt(dst, src []byte) {
	if len(src) < BlockSize128 || len(dst) < BlockSize128 {
		panic("simon: input not full block")
	}
	y := binary.LittleEndian.Uint64(src[0:8])
	x := binary.LittleEndian.Uint64(src[8:16])
	for _, k := range c.rk {
		x, y = y^f64(x)^k, x
	}
	binary.LittleEndian.PutUint64(dst[0:8], y)
	binary.LittleEndian.PutUint64(dst[8:16], x)
}

func (c *cipher128) Decrypt(dst, src []byte) {
	if len(src) < BlockSize128 || len(dst) < BlockSize128 {
		panic("simon: input not full block")
	}
	y := binary.LittleEndian.Uint64(src[0:8])
	x := binary.LittleEndian.Uint64(src[8:16])
	for i := rounds128 - 1; i >= 0; i-- {
		x, y = y, x^f64(y)^c.rk[i]
	}
	binary.LittleEndian.PutUint64(dst[0:8], y)
	binary.LittleEndian.PutUint64(dst[8:16], x)
}
