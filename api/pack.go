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

package api

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/embedsec/fwprotect/internal/errs"
)

// Pack validates, encodes and compresses an Artifact.
func Pack(a *Artifact, codec Codec, comp Compression) ([]byte, error) {
	if err := a.Validate(); err != nil {
		return nil, errs.Inputf("invalid artifact: %v", err)
	}
	enc, err := codec.Marshal(a)
	if err != nil {
		return nil, packError(fmt.Sprintf("encode artifact as %v", codec), err)
	}
	out, err := comp.Compress(enc)
	if err != nil {
		return nil, packError(fmt.Sprintf("compress artifact with %v", comp), err)
	}
	return out, nil
}

// packError keeps input errors as they are and reports encoder failures as
// ErrIO.
func packError(op string, err error) error {
	if errors.Is(err, errs.ErrInput) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return errs.IO(op, err)
}

// Unpack reverses Pack. The compression and codec are detected from the
// content.
func Unpack(b []byte) (*Artifact, error) {
	comp, err := DetectCompression(b)
	if err != nil {
		return nil, errs.Inputf("%v", err)
	}
	dec, err := comp.Decompress(b)
	if err != nil {
		return nil, errs.Inputf("decompress %v artifact: %v", comp, err)
	}
	codec := Proto
	if t := bytes.TrimLeft(dec, " \t\r\n"); len(t) > 0 && t[0] == '{' {
		codec = JSON
	}
	a, err := codec.Unmarshal(dec)
	if err != nil {
		return nil, errs.Inputf("decode %v artifact: %v", codec, err)
	}
	if err := a.Validate(); err != nil {
		return nil, errs.Inputf("invalid artifact: %v", err)
	}
	return a, nil
}
