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

// Package errs defines the error categories reported by the protection
// pipeline.
//
// Every error returned by the pipeline matches exactly one of the category
// sentinels with errors.Is, so callers can decide how to report a failure
// without inspecting messages:
//
//	if errors.Is(err, errs.ErrInput) {
//	    // bad image, version or message
//	}
package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrInput covers malformed images, versions and release messages.
	ErrInput = errors.New("input error")
	// ErrAlignment covers payloads which are not a whole number of cipher blocks.
	ErrAlignment = errors.New("alignment error")
	// ErrCrypto covers missing or invalid key material.
	ErrCrypto = errors.New("crypto error")
	// ErrIO covers failures reading the image or writing the artifact.
	ErrIO = errors.New("i/o error")
)

// BlockSizeError is returned when a block passed to the cipher engine does
// not match the configured block width.
type BlockSizeError struct {
	Got  int
	Want int
}

func (e *BlockSizeError) Error() string {
	return fmt.Sprintf("invalid block size: got %d bytes, want %d", e.Got, e.Want)
}

func (e *BlockSizeError) Unwrap() error { return ErrAlignment }

// MisalignedPayloadError is returned when a data record's payload is not a
// multiple of the cipher block width.
type MisalignedPayloadError struct {
	Address   uint32
	Length    int
	BlockSize int
}

func (e *MisalignedPayloadError) Error() string {
	return fmt.Sprintf("misaligned payload at 0x%08X: %d bytes is not a multiple of the %d byte block",
		e.Address, e.Length, e.BlockSize)
}

func (e *MisalignedPayloadError) Unwrap() error { return ErrAlignment }

// VersionRangeError is returned when a firmware version does not fit in 16 bits.
type VersionRangeError struct {
	Version uint64
}

func (e *VersionRangeError) Error() string {
	return fmt.Sprintf("version %d out of range: must fit in 16 bits", e.Version)
}

func (e *VersionRangeError) Unwrap() error { return ErrInput }

// MessageEncodingError is returned when a release message cannot be embedded
// as a NUL-terminated string.
type MessageEncodingError struct {
	Offset int
}

func (e *MessageEncodingError) Error() string {
	return fmt.Sprintf("release message contains a NUL byte at offset %d", e.Offset)
}

func (e *MessageEncodingError) Unwrap() error { return ErrInput }

// RecordError reports a malformed memory image line.
type RecordError struct {
	Line int
	Err  error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

// Is matches ErrInput as well as the wrapped cause.
func (e *RecordError) Is(target error) bool { return target == ErrInput }

func (e *RecordError) Unwrap() error { return e.Err }

// KeyError reports missing or unusable key material.
type KeyError struct {
	Reason string
}

func (e *KeyError) Error() string {
	return fmt.Sprintf("invalid key: %s", e.Reason)
}

func (e *KeyError) Unwrap() error { return ErrCrypto }

// IO wraps err as an ErrIO failure for op, or returns nil when err is nil.
func IO(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, ErrIO, err)
}

// Inputf formats an ErrInput failure.
func Inputf(format string, a ...any) error {
	return fmt.Errorf("%w: %s", ErrInput, fmt.Sprintf(format, a...))
}
