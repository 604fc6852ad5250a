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

// Package protect implements the firmware protection pipeline.
//
// A run takes an Intel HEX image, a version number and a release message,
// and produces an api.Artifact:
//
//	image -> embed message -> frame records -> encrypt records -> artifact
//	                                                \-> page tags -/
//	version -------------------------------> version signature -/
//
// Page tags and the version signature only share the read-only engine and
// are computed concurrently.
package protect

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"

	"github.com/embedsec/fwprotect/api"
	"github.com/embedsec/fwprotect/internal/engine"
	"github.com/embedsec/fwprotect/internal/errs"
	"github.com/embedsec/fwprotect/internal/ihex"
)

const (
	// DefaultPageSize is the number of data records covered by one tag.
	DefaultPageSize = 16
	// MaxVersion is the largest version number the bootloader accepts.
	MaxVersion = 0xffff
)

// ChecksumMode selects what happens to record checksums after encryption.
type ChecksumMode int

const (
	// ChecksumRecompute rewrites each encrypted record's checksum so the
	// output is a well-formed Intel HEX image.
	ChecksumRecompute ChecksumMode = iota
	// ChecksumPreserve keeps the plaintext checksums, producing output
	// identical to the legacy tool. Such images fail strict HEX parsers.
	ChecksumPreserve
)

func (m ChecksumMode) String() string {
	switch m {
	case ChecksumRecompute:
		return "recompute"
	case ChecksumPreserve:
		return "preserve"
	}
	return fmt.Sprintf("ChecksumMode(%d)", int(m))
}

// ParseChecksumMode parses the textual form of a ChecksumMode.
func ParseChecksumMode(s string) (ChecksumMode, error) {
	switch strings.ToLower(s) {
	case "", "recompute":
		return ChecksumRecompute, nil
	case "preserve":
		return ChecksumPreserve, nil
	}
	return ChecksumRecompute, fmt.Errorf("unknown checksum mode %q", s)
}

// Option configures a Protector.
type Option func(*Protector)

// WithPageSize sets the number of data records per tagged page.
func WithPageSize(n int) Option {
	return func(p *Protector) {
		p.pageSize = n
	}
}

// WithLineLength sets the maximum number of data bytes per emitted record.
func WithLineLength(n int) Option {
	return func(p *Protector) {
		p.lineLength = n
	}
}

// WithChecksumMode sets how encrypted record checksums are handled.
func WithChecksumMode(m ChecksumMode) Option {
	return func(p *Protector) {
		p.checksum = m
	}
}

// WithFinalPageTag makes the trailing partial page carry a tag too.
func WithFinalPageTag(enabled bool) Option {
	return func(p *Protector) {
		p.tagFinalPage = enabled
	}
}

// WithTailPadding controls whether the image tail is padded with pad up to a
// whole cipher block after the release message is embedded.
func WithTailPadding(enabled bool, pad byte) Option {
	return func(p *Protector) {
		p.padTail = enabled
		p.padByte = pad
	}
}

// WithProgress registers a callback invoked after each data record is
// encrypted.
func WithProgress(fn func(done, total int)) Option {
	return func(p *Protector) {
		p.progress = fn
	}
}

// Protector runs the protection pipeline under a single engine.
type Protector struct {
	e            *engine.Engine
	pageSize     int
	lineLength   int
	checksum     ChecksumMode
	tagFinalPage bool
	padTail      bool
	padByte      byte
	progress     func(done, total int)
}

// New returns a Protector using e.
//
// Defaults: 16 records per page, 16 bytes per record, checksums recomputed,
// the final partial page untagged, and the tail zero-padded.
func New(e *engine.Engine, opts ...Option) (*Protector, error) {
	if e == nil {
		return nil, &errs.KeyError{Reason: "no engine"}
	}
	p := &Protector{
		e:          e,
		pageSize:   DefaultPageSize,
		lineLength: ihex.DefaultLineLength,
		checksum:   ChecksumRecompute,
		padTail:    true,
	}
	for _, o := range opts {
		o(p)
	}
	if p.pageSize <= 0 {
		return nil, errs.Inputf("page size must be positive, got %d", p.pageSize)
	}
	if p.lineLength <= 0 || p.lineLength > 0xff {
		return nil, errs.Inputf("line length must be in [1, 255], got %d", p.lineLength)
	}
	if bs := e.BlockSize(); p.lineLength%bs != 0 {
		return nil, fmt.Errorf("%w: line length %d is not a multiple of the %d byte block", errs.ErrAlignment, p.lineLength, bs)
	}
	if p.checksum != ChecksumRecompute && p.checksum != ChecksumPreserve {
		return nil, errs.Inputf("unknown checksum mode %v", p.checksum)
	}
	return p, nil
}

// Stats describes a completed run.
type Stats struct {
	// Records is the number of emitted records, including address and EOF
	// records.
	Records int
	// DataRecords is the number of encrypted data records.
	DataRecords int
	// Tags is the number of page tags.
	Tags int
	// MessageAddress is where the release message was embedded.
	MessageAddress uint32
	// Padding is the number of bytes appended to align the image tail.
	Padding int
}

// Result is the outcome of a protection run.
type Result struct {
	Artifact *api.Artifact
	Stats    Stats
}

// Protect runs the full pipeline over an Intel HEX image.
//
// It fails with an errs.ErrInput error for a malformed image, an out of range
// version or a message containing NUL, and with an errs.ErrAlignment error
// if a data record cannot be split into whole cipher blocks.
func (p *Protector) Protect(image []byte, version uint64, message string) (*Result, error) {
	if version > MaxVersion {
		return nil, &errs.VersionRangeError{Version: version}
	}
	im, err := ihex.Parse(bytes.NewReader(image))
	if err != nil {
		return nil, err
	}
	fwSize := im.Size()
	klog.Infof("Firmware size: %d bytes (0x%08X)", fwSize, fwSize)

	if message == "" {
		klog.Warning("Release message is empty")
	}
	msgAddr, err := im.Embed(message)
	if err != nil {
		return nil, err
	}
	klog.V(1).Infof("Embedded %d byte release message at 0x%08X", len(message)+1, msgAddr)

	var padding int
	if p.padTail {
		if padding, err = im.AlignTail(p.e.BlockSize(), p.padByte); err != nil {
			return nil, err
		}
		klog.V(1).Infof("Padded image tail with %d bytes", padding)
	}

	recs, err := im.Records(p.lineLength)
	if err != nil {
		return nil, fmt.Errorf("frame image: %w", err)
	}
	enc, err := p.EncryptRecords(recs)
	if err != nil {
		return nil, err
	}

	var (
		g                  errgroup.Group
		tags               [][]byte
		versionBytes, vSig []byte
	)
	g.Go(func() error {
		tags = p.GenerateTags(Payloads(enc))
		return nil
	})
	g.Go(func() error {
		var err error
		versionBytes, vSig, err = p.SignVersion(version)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	a, err := p.Assemble(fwSize, versionBytes, vSig, enc, tags)
	if err != nil {
		return nil, err
	}
	st := Stats{
		Records:        len(enc),
		DataRecords:    len(Payloads(enc)),
		Tags:           len(tags),
		MessageAddress: msgAddr,
		Padding:        padding,
	}
	klog.Infof("Protected %d data records in %d records, %d tags", st.DataRecords, st.Records, st.Tags)
	return &Result{Artifact: a, Stats: st}, nil
}

// EncryptRecords returns a copy of recs with the payload of every data
// record encrypted. Other records are passed through unmodified.
func (p *Protector) EncryptRecords(recs []*ihex.Record) ([]*ihex.Record, error) {
	total := 0
	for _, r := range recs {
		if r.Type == ihex.Data {
			total++
		}
	}

	out := make([]*ihex.Record, 0, len(recs))
	done := 0
	err := ihex.Walk(recs, func(addr uint32, r *ihex.Record) error {
		c := r.Clone()
		out = append(out, c)
		if r.Type != ihex.Data {
			return nil
		}
		if err := p.e.Encrypt(c.Data, r.Data, addr); err != nil {
			return err
		}
		if p.checksum == ChecksumRecompute {
			c.SetChecksum()
		}
		done++
		klog.V(2).Infof("Encrypted record at 0x%08X (%d bytes)", addr, len(c.Data))
		if p.progress != nil {
			p.progress(done, total)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Payloads returns the data of the data records in recs, in order.
func Payloads(recs []*ihex.Record) [][]byte {
	var out [][]byte
	for _, r := range recs {
		if r.Type == ihex.Data {
			out = append(out, r.Data)
		}
	}
	return out
}

// GenerateTags seals the SHA-256 digest of each page of consecutive
// payloads. Only complete pages are tagged unless the Protector was built
// with WithFinalPageTag. A page holding no bytes is never tagged.
func (p *Protector) GenerateTags(payloads [][]byte) [][]byte {
	tags := [][]byte{}
	for start := 0; start < len(payloads); start += p.pageSize {
		end := start + p.pageSize
		if end > len(payloads) {
			if !p.tagFinalPage {
				klog.V(1).Infof("Leaving final page of %d records untagged", len(payloads)-start)
				break
			}
			end = len(payloads)
		}
		h := sha256.New()
		n := 0
		for _, pl := range payloads[start:end] {
			h.Write(pl)
			n += len(pl)
		}
		if n == 0 {
			continue
		}
		var d [sha256.Size]byte
		h.Sum(d[:0])
		tag := p.e.SealDigest(d)
		klog.V(2).Infof("Page %d: %d records, %d bytes, tag %x", len(tags), end-start, n, tag)
		tags = append(tags, tag)
	}
	return tags
}

// SignVersion encodes version as two little-endian bytes and seals their
// SHA-256 digest.
func (p *Protector) SignVersion(version uint64) (versionBytes, sig []byte, err error) {
	if version > MaxVersion {
		return nil, nil, &errs.VersionRangeError{Version: version}
	}
	versionBytes = binary.LittleEndian.AppendUint16(nil, uint16(version))
	return versionBytes, p.e.Seal(versionBytes), nil
}

// Assemble packages the outputs of a run into an artifact, encoding the
// records as Intel HEX text.
func (p *Protector) Assemble(firmwareSize uint32, versionBytes, versionSig []byte, recs []*ihex.Record, tags [][]byte) (*api.Artifact, error) {
	a := &api.Artifact{
		FirmwareSize: firmwareSize,
		VersionBytes: versionBytes,
		VersionSig:   versionSig,
		HexData:      ihex.EncodeString(recs),
		Tags:         make([]api.Blob, 0, len(tags)),
	}
	for _, t := range tags {
		a.Tags = append(a.Tags, t)
	}
	if err := a.Validate(); err != nil {
		return nil, fmt.Errorf("assemble artifact: %w", err)
	}
	return a, nil
}
