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
	"fmt"
	"io"
	"strings"

	"github.com/marcinbor85/gohex"
	"k8s.io/klog/v2"

	"github.com/embedsec/fwprotect/internal/errs"
)

// DefaultLineLength is the number of data bytes per emitted record.
const DefaultLineLength = 16

// Image is a firmware memory image.
type Image struct {
	mem *gohex.Memory
}

// Parse reads an Intel HEX image from r.
//
// Every line is checked for byte count and checksum consistency before the
// image is loaded, so malformed input is reported with its line number.
func Parse(r io.Reader) (*Image, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, errs.IO("read image", err)
	}
	recs, err := ParseText(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, errs.Inputf("image is empty")
	}
	for _, rec := range recs {
		if rec.Type > StartLinearAddress {
			klog.Warningf("Ignoring record of unknown %v at offset 0x%04X", rec.Type, rec.Address)
		}
	}

	mem := gohex.NewMemory()
	if err := mem.ParseIntelHex(bytes.NewReader(raw)); err != nil {
		return nil, errs.Inputf("malformed image: %v", err)
	}
	im := &Image{mem: mem}
	if len(mem.GetDataSegments()) == 0 {
		return nil, errs.Inputf("image contains no data records")
	}
	return im, nil
}

// ParseString is a convenience wrapper around Parse.
func ParseString(s string) (*Image, error) {
	return Parse(strings.NewReader(s))
}

// FromRecords builds an Image from a record sequence. Stored checksums are
// not checked.
func FromRecords(recs []*Record) (*Image, error) {
	var text strings.Builder
	for _, r := range recs {
		c := r.Clone()
		c.SetChecksum()
		text.WriteString(c.String())
		text.WriteString("\n")
	}
	mem := gohex.NewMemory()
	if err := mem.ParseIntelHex(strings.NewReader(text.String())); err != nil {
		return nil, errs.Inputf("malformed image: %v", err)
	}
	return &Image{mem: mem}, nil
}

// Size returns the highest populated address plus one.
func (im *Image) Size() uint32 {
	var end uint32
	for _, s := range im.mem.GetDataSegments() {
		if e := s.Address + uint32(len(s.Data)); e > end {
			end = e
		}
	}
	return end
}

// Segments returns copies of the contiguous data regions of the image in
// address order.
func (im *Image) Segments() []gohex.DataSegment {
	segs := im.mem.GetDataSegments()
	for i := range segs {
		segs[i].Data = bytes.Clone(segs[i].Data)
	}
	return segs
}

// StartAddress returns the entry point recorded in the image, if any.
func (im *Image) StartAddress() (uint32, bool) {
	return im.mem.GetStartAddress()
}

// Embed appends message and a terminating NUL at the current end of the
// image and returns the address the message was written to.
func (im *Image) Embed(message string) (uint32, error) {
	if i := strings.IndexByte(message, 0); i >= 0 {
		return 0, &errs.MessageEncodingError{Offset: i}
	}
	at := im.Size()
	if err := im.mem.AddBinary(at, append([]byte(message), 0)); err != nil {
		return 0, errs.Inputf("embed release message at 0x%08X: %v", at, err)
	}
	return at, nil
}

// AlignTail pads the last data segment of the image with pad bytes until its
// length is a multiple of blockSize, and returns the number of bytes added.
func (im *Image) AlignTail(blockSize int, pad byte) (int, error) {
	if blockSize <= 0 {
		return 0, fmt.Errorf("invalid block size %d", blockSize)
	}
	segs := im.mem.GetDataSegments()
	if len(segs) == 0 {
		return 0, nil
	}
	last := segs[len(segs)-1]
	n := (blockSize - len(last.Data)%blockSize) % blockSize
	if n == 0 {
		return 0, nil
	}
	if err := im.mem.AddBinary(im.Size(), bytes.Repeat([]byte{pad}, n)); err != nil {
		return 0, errs.Inputf("pad image tail: %v", err)
	}
	return n, nil
}

// ReadCString returns the NUL-terminated string stored at addr.
func (im *Image) ReadCString(addr uint32) (string, error) {
	for _, s := range im.mem.GetDataSegments() {
		if addr < s.Address || addr >= s.Address+uint32(len(s.Data)) {
			continue
		}
		b := s.Data[addr-s.Address:]
		i := bytes.IndexByte(b, 0)
		if i < 0 {
			return "", fmt.Errorf("no NUL terminator after 0x%08X", addr)
		}
		return string(b[:i]), nil
	}
	return "", fmt.Errorf("address 0x%08X is not populated", addr)
}

// Records frames the image into Intel HEX records carrying at most
// lineLength data bytes each. The sequence starts with address records and
// ends with an end-of-file record.
func (im *Image) Records(lineLength int) ([]*Record, error) {
	if lineLength <= 0 || lineLength > 0xff {
		return nil, fmt.Errorf("invalid line length %d", lineLength)
	}
	var buf bytes.Buffer
	if err := im.mem.DumpIntelHex(&buf, byte(lineLength)); err != nil {
		return nil, fmt.Errorf("dump image: %v", err)
	}
	return ParseText(&buf)
}

// WriteTo writes the image as Intel HEX text.
func (im *Image) WriteTo(w io.Writer) (int64, error) {
	var buf bytes.Buffer
	if err := im.mem.DumpIntelHex(&buf, DefaultLineLength); err != nil {
		return 0, err
	}
	return buf.WriteTo(w)
}
