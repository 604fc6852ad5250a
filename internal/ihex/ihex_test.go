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
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/embedsec/fwprotect/internal/errs"
)

const eofLine = ":00000001FF"

// hexText renders data at base as 16 byte data records followed by EOF.
func hexText(t *testing.T, base uint16, data []byte) string {
	t.Helper()
	var sb strings.Builder
	for off := 0; off < len(data); off += 16 {
		end := min(off+16, len(data))
		r := &Record{Address: base + uint16(off), Type: Data, Data: data[off:end]}
		r.SetChecksum()
		sb.WriteString(r.String() + "\n")
	}
	sb.WriteString(eofLine + "\n")
	return sb.String()
}

func seq(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i)
	}
	return b
}

func TestParseRecord(t *testing.T) {
	for _, test := range []struct {
		name    string
		line    string
		opts    []ParseOption
		want    *Record
		wantErr string
	}{
		{
			name: "data",
			line: ":10000000000102030405060708090A0B0C0D0E0F78",
			want: &Record{Address: 0, Type: Data, Data: seq(16), Checksum: 0x78},
		}, {
			name: "eof with CRLF",
			line: eofLine + "\r\n",
			want: &Record{Type: EOF, Data: []byte{}, Checksum: 0xFF},
		}, {
			name: "extended linear address",
			line: ":020000040001F9",
			want: &Record{Type: ExtendedLinearAddress, Data: []byte{0x00, 0x01}, Checksum: 0xF9},
		}, {
			name:    "bad checksum",
			line:    ":10000000000102030405060708090A0B0C0D0E0F77",
			wantErr: "checksum mismatch",
		}, {
			name: "bad checksum ignored",
			line: ":10000000000102030405060708090A0B0C0D0E0F77",
			opts: []ParseOption{IgnoreChecksums()},
			want: &Record{Address: 0, Type: Data, Data: seq(16), Checksum: 0x77},
		}, {
			name:    "byte count larger than data",
			line:    ":11000000000102030405060708090A0B0C0D0E0F77",
			wantErr: "byte count mismatch",
		}, {
			name:    "missing colon",
			line:    "10000000000102030405060708090A0B0C0D0E0F78",
			wantErr: "must start with ':'",
		}, {
			name:    "odd hex",
			line:    ":1000000",
			wantErr: "invalid hex",
		}, {
			name:    "too short",
			line:    ":0000",
			wantErr: "too short",
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			got, err := ParseRecord(test.line, test.opts...)
			if test.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), test.wantErr) {
					t.Fatalf("ParseRecord() = %v, want error containing %q", err, test.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseRecord() = %v", err)
			}
			if diff := cmp.Diff(test.want, got); diff != "" {
				t.Fatalf("ParseRecord() diff: %s", diff)
			}
		})
	}
}

func TestRecordString(t *testing.T) {
	line := ":10000000000102030405060708090A0B0C0D0E0F78"
	r, err := ParseRecord(line)
	if err != nil {
		t.Fatalf("ParseRecord: %v", err)
	}
	if got := r.String(); got != line {
		t.Errorf("String() = %q, want %q", got, line)
	}

	r.Data[0] = 0xff
	if r.ComputeChecksum() == r.Checksum {
		t.Error("checksum unchanged after data change")
	}
	r.SetChecksum()
	if _, err := ParseRecord(r.String()); err != nil {
		t.Errorf("ParseRecord after SetChecksum: %v", err)
	}
}

func TestParseMalformed(t *testing.T) {
	good := hexText(t, 0, seq(32))
	for _, test := range []struct {
		name     string
		text     string
		wantLine int
	}{
		{
			name:     "byte count inconsistent with data",
			text:     strings.Replace(good, ":10001000", ":11001000", 1),
			wantLine: 2,
		}, {
			name:     "corrupt checksum",
			text:     strings.Replace(good, eofLine, ":00000001FE", 1),
			wantLine: 3,
		}, {
			name: "missing eof",
			text: strings.Replace(good, eofLine+"\n", "", 1),
		}, {
			name: "empty",
			text: "",
		}, {
			name: "no data",
			text: eofLine + "\n",
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			_, err := ParseString(test.text)
			if !errors.Is(err, errs.ErrInput) {
				t.Fatalf("Parse() = %v, want ErrInput", err)
			}
			if test.wantLine == 0 {
				return
			}
			var re *errs.RecordError
			if !errors.As(err, &re) {
				t.Fatalf("Parse() = %v, want RecordError", err)
			}
			if re.Line != test.wantLine {
				t.Errorf("RecordError.Line = %d, want %d", re.Line, test.wantLine)
			}
		})
	}
}

func TestEmbed(t *testing.T) {
	im, err := ParseString(hexText(t, 0, seq(16)))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got, want := im.Size(), uint32(16); got != want {
		t.Fatalf("Size() = %d, want %d", got, want)
	}

	const msg = "release v1"
	at, err := im.Embed(msg)
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if at != 16 {
		t.Errorf("Embed() wrote at 0x%X, want 0x10", at)
	}
	if got, want := im.Size(), uint32(16+len(msg)+1); got != want {
		t.Errorf("Size() after Embed = %d, want %d", got, want)
	}
	got, err := im.ReadCString(at)
	if err != nil {
		t.Fatalf("ReadCString: %v", err)
	}
	if got != msg {
		t.Errorf("ReadCString() = %q, want %q", got, msg)
	}
	if segs := im.Segments(); len(segs) != 1 {
		t.Errorf("got %d segments, want message merged into 1", len(segs))
	}
}

func TestEmbedRejectsNUL(t *testing.T) {
	im, err := ParseString(hexText(t, 0, seq(16)))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	_, err = im.Embed("v1\x00v2")
	var mee *errs.MessageEncodingError
	if !errors.As(err, &mee) {
		t.Fatalf("Embed() = %v, want MessageEncodingError", err)
	}
	if mee.Offset != 2 {
		t.Errorf("Offset = %d, want 2", mee.Offset)
	}
	if im.Size() != 16 {
		t.Errorf("Size() = %d, image modified by failed Embed", im.Size())
	}
}

func TestAlignTail(t *testing.T) {
	for _, test := range []struct {
		name      string
		dataLen   int
		blockSize int
		want      int
	}{
		{name: "already aligned", dataLen: 16, blockSize: 8, want: 0},
		{name: "three bytes over", dataLen: 19, blockSize: 8, want: 5},
		{name: "wide block", dataLen: 19, blockSize: 16, want: 13},
	} {
		t.Run(test.name, func(t *testing.T) {
			im, err := ParseString(hexText(t, 0x100, bytes.Repeat([]byte{0xaa}, test.dataLen)))
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			got, err := im.AlignTail(test.blockSize, 0x00)
			if err != nil {
				t.Fatalf("AlignTail: %v", err)
			}
			if got != test.want {
				t.Errorf("AlignTail() = %d, want %d", got, test.want)
			}
			if size := im.Size(); (size-0x100)%uint32(test.blockSize) != 0 {
				t.Errorf("Size() = 0x%X, tail not aligned", size)
			}
		})
	}
}

func TestRecords(t *testing.T) {
	im, err := ParseString(hexText(t, 0, seq(16)))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if _, err := im.Embed("v1"); err != nil {
		t.Fatalf("Embed: %v", err)
	}
	recs, err := im.Records(DefaultLineLength)
	if err != nil {
		t.Fatalf("Records: %v", err)
	}

	type shape struct {
		Type    RecordType
		Address uint16
		Len     int
	}
	var got []shape
	for _, r := range recs {
		got = append(got, shape{r.Type, r.Address, len(r.Data)})
		if r.ComputeChecksum() != r.Checksum {
			t.Errorf("record %v has bad checksum", r)
		}
	}
	want := []shape{
		{ExtendedLinearAddress, 0, 2},
		{Data, 0x00, 16},
		{Data, 0x10, 3},
		{EOF, 0, 0},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("Records() diff: %s", diff)
	}
	if diff := cmp.Diff([]byte("v1\x00"), recs[2].Data); diff != "" {
		t.Errorf("message record diff: %s", diff)
	}
}

func TestWalk(t *testing.T) {
	text := ":020000040001F9\n" + hexText(t, 0x0010, seq(8))
	recs, err := ParseText(strings.NewReader(text))
	if err != nil {
		t.Fatalf("ParseText: %v", err)
	}
	var addrs []uint32
	if err := Walk(recs, func(addr uint32, r *Record) error {
		if r.Type == Data {
			addrs = append(addrs, addr)
		}
		return nil
	}); err != nil {
		t.Fatalf("Walk: %v", err)
	}
	if diff := cmp.Diff([]uint32{0x00010010}, addrs); diff != "" {
		t.Errorf("Walk addresses diff: %s", diff)
	}
}

func TestFromRecords(t *testing.T) {
	im, err := ParseString(hexText(t, 0x40, seq(40)))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	recs, err := im.Records(DefaultLineLength)
	if err != nil {
		t.Fatalf("Records: %v", err)
	}
	// Corrupt stored checksums; FromRecords must not care.
	for _, r := range recs {
		r.Checksum ^= 0xff
	}
	back, err := FromRecords(recs)
	if err != nil {
		t.Fatalf("FromRecords: %v", err)
	}
	if diff := cmp.Diff(im.Segments(), back.Segments()); diff != "" {
		t.Errorf("FromRecords segments diff: %s", diff)
	}

	var buf bytes.Buffer
	if _, err := back.WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}
	if _, err := ParseString(buf.String()); err != nil {
		t.Errorf("WriteTo output does not parse: %v", err)
	}
}

func TestStartAddress(t *testing.T) {
	im, err := ParseString(hexText(t, 0, seq(16)))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if a, ok := im.StartAddress(); ok {
		t.Errorf("StartAddress() = 0x%X, true for an image without entry point", a)
	}

	sla := &Record{Type: StartLinearAddress, Data: []byte{0x08, 0x00, 0x01, 0x00}}
	sla.SetChecksum()
	im, err = ParseString(sla.String() + "\n" + hexText(t, 0, seq(16)))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if a, ok := im.StartAddress(); !ok || a != 0x08000100 {
		t.Errorf("StartAddress() = 0x%X, %v, want 0x08000100, true", a, ok)
	}
	recs, err := im.Records(DefaultLineLength)
	if err != nil {
		t.Fatalf("Records: %v", err)
	}
	if recs[0].Type != StartLinearAddress {
		t.Errorf("first record is %v, want the start address", recs[0].Type)
	}
}
