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
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/embedsec/fwprotect/internal/errs"
)

// Compression selects the compression applied to an encoded Artifact.
type Compression int

const (
	// Zlib is the default compression, readable by the existing bootloader
	// tooling.
	Zlib Compression = iota
	// Zstd is Zstandard compression.
	Zstd
	// LZ4 is LZ4 frame compression.
	LZ4
)

var (
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
	lz4Magic  = []byte{0x04, 0x22, 0x4d, 0x18}
)

func (c Compression) String() string {
	switch c {
	case Zlib:
		return "zlib"
	case Zstd:
		return "zstd"
	case LZ4:
		return "lz4"
	}
	return fmt.Sprintf("Compression(%d)", int(c))
}

// ParseCompression parses the textual form of a Compression.
func ParseCompression(s string) (Compression, error) {
	switch strings.ToLower(s) {
	case "", "zlib":
		return Zlib, nil
	case "zstd":
		return Zstd, nil
	case "lz4":
		return LZ4, nil
	}
	return Zlib, errs.Inputf("unknown compression %q", s)
}

// Compress compresses b. The output only depends on b and c.
func (c Compression) Compress(b []byte) ([]byte, error) {
	switch c {
	case Zlib:
		var buf bytes.Buffer
		zw, err := zlib.NewWriterLevel(&buf, zlib.BestCompression)
		if err != nil {
			return nil, err
		}
		if _, err := zw.Write(b); err != nil {
			return nil, err
		}
		if err := zw.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case Zstd:
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderConcurrency(1))
		if err != nil {
			return nil, err
		}
		defer enc.Close()
		return enc.EncodeAll(b, nil), nil
	case LZ4:
		var buf bytes.Buffer
		zw := lz4.NewWriter(&buf)
		if err := zw.Apply(lz4.ChecksumOption(true)); err != nil {
			return nil, err
		}
		if _, err := zw.Write(b); err != nil {
			return nil, err
		}
		if err := zw.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}
	return nil, errs.Inputf("unsupported compression %v", c)
}

// Decompress reverses Compress.
func (c Compression) Decompress(b []byte) ([]byte, error) {
	switch c {
	case Zlib:
		zr, err := zlib.NewReader(bytes.NewReader(b))
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		return io.ReadAll(zr)
	case Zstd:
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, err
		}
		defer dec.Close()
		return dec.DecodeAll(b, nil)
	case LZ4:
		return io.ReadAll(lz4.NewReader(bytes.NewReader(b)))
	}
	return nil, errs.Inputf("unsupported compression %v", c)
}

// DetectCompression identifies the compression of b from its leading bytes.
func DetectCompression(b []byte) (Compression, error) {
	switch {
	case bytes.HasPrefix(b, zstdMagic):
		return Zstd, nil
	case bytes.HasPrefix(b, lz4Magic):
		return LZ4, nil
	case len(b) >= 2 && b[0]&0x0f == 8 && (uint16(b[0])<<8|uint16(b[1]))%31 == 0:
		return Zlib, nil
	}
	return Zlib, fmt.Errorf("unrecognised compression header % x", b[:min(len(b), 4)])
}
