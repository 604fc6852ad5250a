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

package ihex

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/embedsec/fwprotect/internal/errs"
)

// RecordType identifies the kind of an Intel HEX record.
type RecordType byte

// Intel HEX record types.
const (
	Data                   RecordType = 0x00
	EOF                    RecordType = 0x01
	ExtendedSegmentAddress RecordType = 0x02
	StartSegmentAddress    RecordType = 0x03
	ExtendedLinearAddress  RecordType = 0x04
	StartLinearAddress     RecordType = 0x05
)

func (t RecordType) String() string {
	switch t {
	case Data:
		return "data"
	case EOF:
		return "eof"
	case ExtendedSegmentAddress:
		return "extended segment address"
	case StartSegmentAddress:
		return "start segment address"
	case ExtendedLinearAddress:
		return "extended linear address"
	case StartLinearAddress:
		return "start linear address"
	}
	return fmt.Sprintf("type 0x%02X", byte(t))
}

// recordOverhead is byte count + address (2) + type + checksum.
const recordOverhead = 5

// Record is a single line of an Intel HEX image.
type Record struct {
	// Address is the 16 bit load offset of the record.
	Address uint16
	// Type is the record type.
	Type RecordType
	// Data holds the record payload; its length is the byte count field.
	Data []byte
	// Checksum is the stored checksum byte. It is not recomputed
	// automatically when Data changes, see SetChecksum.
	Checksum byte
}

// Clone returns a deep copy of r.
func (r *Record) Clone() *Record {
	c := *r
	c.Data = bytes.Clone(r.Data)
	return &c
}

func (r *Record) header() []byte {
	b := make([]byte, 4, len(r.Data)+recordOverhead)
	b[0] = byte(len(r.Data))
	binary.BigEndian.PutUint16(b[1:3], r.Address)
	b[3] = byte(r.Type)
	return b
}

// ComputeChecksum returns the two's complement of the sum of every byte of
// the record preceding the checksum.
func (r *Record) ComputeChecksum() byte {
	return checksum(append(r.header(), r.Data...))
}

// SetChecksum recomputes and stores the record checksum.
func (r *Record) SetChecksum() {
	r.Checksum = r.ComputeChecksum()
}

// String returns the record in its textual ":LLAAAATT...CC" form.
func (r *Record) String() string {
	b := append(r.header(), r.Data...)
	b = append(b, r.Checksum)
	return ":" + strings.ToUpper(hex.EncodeToString(b))
}

func checksum(b []byte) byte {
	var sum byte
	for _, v := range b {
		sum += v
	}
	return ^sum + 1
}

type parseConfig struct {
	ignoreChecksums bool
}

// ParseOption configures record parsing.
type ParseOption func(*parseConfig)

// IgnoreChecksums accepts records whose stored checksum does not match their
// contents, as produced when checksums are preserved across encryption.
func IgnoreChecksums() ParseOption {
	return func(c *parseConfig) {
		c.ignoreChecksums = true
	}
}

// ParseRecord parses a single ":LLAAAATT...CC" line.
func ParseRecord(line string, opts ...ParseOption) (*Record, error) {
	cfg := parseConfig{}
	for _, o := range opts {
		o(&cfg)
	}

	line = strings.TrimRight(line, "\r\n")
	if len(line) == 0 || line[0] != ':' {
		return nil, fmt.Errorf("record must start with ':'")
	}
	b, err := hex.DecodeString(line[1:])
	if err != nil {
		return nil, fmt.Errorf("invalid hex data: %w", err)
	}
	if len(b) < recordOverhead {
		return nil, fmt.Errorf("record too short: got %d bytes, minimum is %d", len(b), recordOverhead)
	}
	if want := int(b[0]) + recordOverhead; len(b) != want {
		return nil, fmt.Errorf("byte count mismatch: count field says %d data bytes, record holds %d", b[0], len(b)-recordOverhead)
	}

	r := &Record{
		Address:  binary.BigEndian.Uint16(b[1:3]),
		Type:     RecordType(b[3]),
		Data:     bytes.Clone(b[4 : len(b)-1]),
		Checksum: b[len(b)-1],
	}
	if want := checksum(b[:len(b)-1]); !cfg.ignoreChecksums && r.Checksum != want {
		return nil, fmt.Errorf("checksum mismatch: got 0x%02X, expected 0x%02X", r.Checksum, want)
	}
	return r, nil
}

// ParseText parses every non-empty line read from r. Failures are reported as
// *errs.RecordError carrying the 1-based line number.
func ParseText(r io.Reader, opts ...ParseOption) ([]*Record, error) {
	var recs []*Record
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 1024), 1<<20)
	line := 0
	for s.Scan() {
		line++
		text := strings.TrimSpace(s.Text())
		if text == "" {
			continue
		}
		rec, err := ParseRecord(text, opts...)
		if err != nil {
			return nil, &errs.RecordError{Line: line, Err: err}
		}
		recs = append(recs, rec)
	}
	if err := s.Err(); err != nil {
		return nil, errs.IO("read image", err)
	}
	return recs, nil
}

// Encode writes recs to w, one record per line.
func Encode(w io.Writer, recs []*Record) error {
	bw := bufio.NewWriter(w)
	for _, r := range recs {
		if _, err := bw.WriteString(r.String() + "\n"); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// EncodeString returns the textual form of recs.
func EncodeString(recs []*Record) string {
	var sb strings.Builder
	_ = Encode(&sb, recs)
	return sb.String()
}

// Walk calls fn for every record with the absolute address of its first data
// byte, following extended address records.
func Walk(recs []*Record, fn func(addr uint32, r *Record) error) error {
	var base uint32
	for _, r := range recs {
		switch r.Type {
		case ExtendedLinearAddress:
			if len(r.Data) == 2 {
				base = uint32(binary.BigEndian.Uint16(r.Data)) << 16
			}
		case ExtendedSegmentAddress:
			if len(r.Data) == 2 {
				base = uint32(binary.BigEndian.Uint16(r.Data)) << 4
			}
		}
		if err := fn(base+uint32(r.Address), r); err != nil {
			return err
		}
	}
	return nil
}
