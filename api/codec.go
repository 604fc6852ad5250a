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
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/embedsec/fwprotect/internal/errs"
)

// Codec selects the structured encoding of an Artifact.
type Codec int

const (
	// JSON is the default encoding, readable by the existing bootloader
	// tooling.
	JSON Codec = iota
	// Proto is the protocol buffer wire encoding of Artifact.
	Proto
)

func (c Codec) String() string {
	switch c {
	case JSON:
		return "json"
	case Proto:
		return "proto"
	}
	return fmt.Sprintf("Codec(%d)", int(c))
}

// ParseCodec parses the textual form of a Codec.
func ParseCodec(s string) (Codec, error) {
	switch strings.ToLower(s) {
	case "", "json":
		return JSON, nil
	case "proto", "protobuf":
		return Proto, nil
	}
	return JSON, errs.Inputf("unknown codec %q", s)
}

// Protocol buffer field numbers of Artifact:
//
//	message Artifact {
//	  uint32 firmware_size = 1;
//	  bytes version_bytes = 2;
//	  bytes version_sig = 3;
//	  string hex_data = 4;
//	  repeated bytes tags = 5;
//	}
const (
	fieldFirmwareSize protowire.Number = 1
	fieldVersionBytes protowire.Number = 2
	fieldVersionSig   protowire.Number = 3
	fieldHexData      protowire.Number = 4
	fieldTags         protowire.Number = 5
)

// Marshal encodes a with the codec.
func (c Codec) Marshal(a *Artifact) ([]byte, error) {
	switch c {
	case JSON:
		if a.Tags == nil {
			cp := *a
			cp.Tags = []Blob{}
			a = &cp
		}
		return json.Marshal(a)
	case Proto:
		return marshalProto(a), nil
	}
	return nil, errs.Inputf("unsupported codec %v", c)
}

// Unmarshal decodes b with the codec.
func (c Codec) Unmarshal(b []byte) (*Artifact, error) {
	switch c {
	case JSON:
		a := &Artifact{}
		if err := json.Unmarshal(b, a); err != nil {
			return nil, err
		}
		if a.Tags == nil {
			a.Tags = []Blob{}
		}
		return a, nil
	case Proto:
		return unmarshalProto(b)
	}
	return nil, errs.Inputf("unsupported codec %v", c)
}

func marshalProto(a *Artifact) []byte {
	var b []byte
	if a.FirmwareSize != 0 {
		b = protowire.AppendTag(b, fieldFirmwareSize, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(a.FirmwareSize))
	}
	b = protowire.AppendTag(b, fieldVersionBytes, protowire.BytesType)
	b = protowire.AppendBytes(b, a.VersionBytes)
	b = protowire.AppendTag(b, fieldVersionSig, protowire.BytesType)
	b = protowire.AppendBytes(b, a.VersionSig)
	b = protowire.AppendTag(b, fieldHexData, protowire.BytesType)
	b = protowire.AppendString(b, a.HexData)
	for _, t := range a.Tags {
		b = protowire.AppendTag(b, fieldTags, protowire.BytesType)
		b = protowire.AppendBytes(b, t)
	}
	return b
}

func unmarshalProto(b []byte) (*Artifact, error) {
	a := &Artifact{Tags: []Blob{}}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		b = b[n:]

		switch {
		case num == fieldFirmwareSize && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			if v > 0xffffffff {
				return nil, fmt.Errorf("firmware_size %d overflows 32 bits", v)
			}
			a.FirmwareSize = uint32(v)
			b = b[n:]
		case typ == protowire.BytesType && num >= fieldVersionBytes && num <= fieldTags:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			v = append([]byte(nil), v...)
			switch num {
			case fieldVersionBytes:
				a.VersionBytes = v
			case fieldVersionSig:
				a.VersionSig = v
			case fieldHexData:
				a.HexData = string(v)
			case fieldTags:
				a.Tags = append(a.Tags, v)
			}
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return a, nil
}
