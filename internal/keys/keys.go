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

// Package keys loads the cipher key used to protect firmware.
//
// A key is supplied in exactly one of three ways: as hex text, as a file
// holding either hex text or the raw key bytes, or as a passphrase stretched
// with Argon2id. The result may then be diversified per product line with a
// label, so that one master secret yields unrelated keys.
package keys

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/hkdf"

	"github.com/embedsec/fwprotect/internal/errs"
	"github.com/embedsec/fwprotect/simon"
)

// Size is the length of a cipher key in bytes.
const Size = simon.KeySize

// MinSaltSize is the shortest salt accepted for passphrase keys.
const MinSaltSize = 8

// Argon2Params tunes passphrase stretching.
type Argon2Params struct {
	Time    uint32 // iterations
	Memory  uint32 // KiB
	Threads uint8
}

// DefaultArgon2 are the parameters used when none are given.
var DefaultArgon2 = Argon2Params{
	Time: 3, Memory: 64 * 1024, Threads: 4,
}

// Source describes where the key comes from.
type Source struct {
	// Hex is the key as 32 hex digits, optionally prefixed with 0x.
	Hex string
	// File names a file holding the key as hex text or as raw bytes.
	File string
	// Passphrase is stretched with Argon2id under Salt.
	Passphrase string
	Salt       string
	// Argon2 overrides DefaultArgon2 when non-zero.
	Argon2 Argon2Params
	// Label, if set, diversifies the loaded key with HKDF.
	Label string
}

// Load returns the key described by src.
func Load(src Source) ([]byte, error) {
	n := 0
	for _, s := range []string{src.Hex, src.File, src.Passphrase} {
		if s != "" {
			n++
		}
	}
	switch {
	case n == 0:
		return nil, &errs.KeyError{Reason: "no key supplied"}
	case n > 1:
		return nil, &errs.KeyError{Reason: "more than one of key, key file and passphrase supplied"}
	}

	var (
		key []byte
		err error
	)
	switch {
	case src.Hex != "":
		key, err = ParseHex(src.Hex)
	case src.File != "":
		key, err = ReadFile(src.File)
	default:
		p := src.Argon2
		if p == (Argon2Params{}) {
			p = DefaultArgon2
		}
		key, err = FromPassphrase([]byte(src.Passphrase), []byte(src.Salt), p)
	}
	if err != nil {
		return nil, err
	}
	if src.Label == "" {
		return key, nil
	}
	return Diversify(key, src.Label)
}

// ParseHex decodes a hex key.
func ParseHex(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	key, err := hex.DecodeString(s)
	if err != nil {
		return nil, &errs.KeyError{Reason: fmt.Sprintf("key is not valid hex: %v", err)}
	}
	if len(key) != Size {
		return nil, &errs.KeyError{Reason: fmt.Sprintf("got %d bytes, want %d", len(key), Size)}
	}
	return key, nil
}

// ReadFile loads a key file. A file of exactly Size bytes is the raw key,
// whatever its bytes; hex text of a key is always twice as long.
func ReadFile(path string) ([]byte, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.IO("read key file", err)
	}
	if len(b) == Size {
		return b, nil
	}
	return ParseHex(string(bytes.TrimSpace(b)))
}

// FromPassphrase stretches a passphrase into a key with Argon2id.
func FromPassphrase(pass, salt []byte, p Argon2Params) ([]byte, error) {
	if len(pass) == 0 {
		return nil, &errs.KeyError{Reason: "empty passphrase"}
	}
	if len(salt) < MinSaltSize {
		return nil, &errs.KeyError{Reason: fmt.Sprintf("salt must be at least %d bytes", MinSaltSize)}
	}
	if p.Time == 0 || p.Memory == 0 || p.Threads == 0 {
		return nil, &errs.KeyError{Reason: fmt.Sprintf("invalid argon2 parameters %+v", p)}
	}
	return argon2.IDKey(pass, salt, p.Time, p.Memory, p.Threads, Size), nil
}

// Diversify derives the key for label from a master key.
func Diversify(master []byte, label string) ([]byte, error) {
	if len(master) == 0 {
		return nil, &errs.KeyError{Reason: "no master key"}
	}
	r := hkdf.New(sha256.New, master, nil, []byte("fwprotect cipher key: "+label))
	key := make([]byte, Size)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, &errs.KeyError{Reason: fmt.Sprintf("derive key: %v", err)}
	}
	return key, nil
}

// Generate reads a fresh random key from rnd.
func Generate(rnd io.Reader) ([]byte, error) {
	key := make([]byte, Size)
	if _, err := io.ReadFull(rnd, key); err != nil {
		return nil, fmt.Errorf("failed to read key entropy: %v", err)
	}
	return key, nil
}
