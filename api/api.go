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

// Package api defines the protected firmware artifact and its on-disk
// container format.
package api

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

const (
	// VersionSize is the length of the little-endian version number.
	VersionSize = 2
	// DigestSize is the length of a version signature or page tag.
	DigestSize = 32
)

// Blob is a byte string carried as lowercase hex in JSON.
type Blob []byte

// MarshalJSON implements json.Marshaler.
func (b Blob) MarshalJSON() ([]byte, error) {
	return json.Marshal(hex.EncodeToString(b))
}

// UnmarshalJSON implements json.Unmarshaler.
func (b *Blob) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("invalid hex blob: %v", err)
	}
	*b = raw
	return nil
}

// String returns the hex form of the blob.
func (b Blob) String() string {
	return hex.EncodeToString(b)
}

// Artifact is a protected firmware release as handed to the bootloader
// tooling.
type Artifact struct {
	// FirmwareSize is the highest image address plus one, before the release
	// message was embedded. The bootloader reads the message back from here.
	FirmwareSize uint32 `json:"firmware_size"`
	// VersionBytes is the firmware version, little-endian.
	VersionBytes Blob `json:"version_bytes"`
	// VersionSig is the sealed digest of VersionBytes.
	VersionSig Blob `json:"version_sig"`
	// HexData is the memory image with encrypted data records, in Intel HEX
	// text form.
	HexData string `json:"hex_data"`
	// Tags holds one sealed digest per page of encrypted data records.
	Tags []Blob `json:"tags"`
}

// Version returns the firmware version number.
func (a *Artifact) Version() uint16 {
	if len(a.VersionBytes) != VersionSize {
		return 0
	}
	return uint16(a.VersionBytes[0]) | uint16(a.VersionBytes[1])<<8
}

// Validate checks the sizes of the fixed-length fields.
func (a *Artifact) Validate() error {
	if l := len(a.VersionBytes); l != VersionSize {
		return fmt.Errorf("version_bytes: got %d bytes, want %d", l, VersionSize)
	}
	if l := len(a.VersionSig); l != DigestSize {
		return fmt.Errorf("version_sig: got %d bytes, want %d", l, DigestSize)
	}
	if a.HexData == "" {
		return fmt.Errorf("hex_data is empty")
	}
	for i, t := range a.Tags {
		if len(t) != DigestSize {
			return fmt.Errorf("tags[%d]: got %d bytes, want %d", i, len(t), DigestSize)
		}
	}
	return nil
}

// Print returns the artifact summary in textual format.
func (a *Artifact) Print() string {
	var status bytes.Buffer

	lines := strings.Count(a.HexData, "\n")
	if a.HexData != "" && !strings.HasSuffix(a.HexData, "\n") {
		lines++
	}

	status.WriteString("------------------------------------------------------------ Artifact ----\n")
	status.WriteString(fmt.Sprintf("Firmware size ..........: %d (0x%08X)\n", a.FirmwareSize, a.FirmwareSize))
	status.WriteString(fmt.Sprintf("Version ................: %d (%s)\n", a.Version(), a.VersionBytes))
	status.WriteString(fmt.Sprintf("Version signature ......: %s\n", a.VersionSig))
	status.WriteString(fmt.Sprintf("Records ................: %d\n", lines))
	status.WriteString(fmt.Sprintf("Tags ...................: %d", len(a.Tags)))
	for i, t := range a.Tags {
		status.WriteString(fmt.Sprintf("\n  [%3d] ................: %s", i, t))
	}

	return status.String()
}
