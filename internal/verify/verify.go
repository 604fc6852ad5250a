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

// Package verify checks protected artifacts on the host.
//
// It recomputes the version signature and page tags of an artifact under a
// key, decrypts the image and reads back the embedded release message, the
// same checks the bootloader performs before flashing.
package verify

import (
	"crypto/subtle"
	"fmt"
	"strings"

	"k8s.io/klog/v2"

	"github.com/embedsec/fwprotect/api"
	"github.com/embedsec/fwprotect/internal/engine"
	"github.com/embedsec/fwprotect/internal/errs"
	"github.com/embedsec/fwprotect/internal/ihex"
	"github.com/embedsec/fwprotect/internal/protect"
)

// Report is the outcome of verifying an artifact.
type Report struct {
	// Version is the firmware version carried by the artifact.
	Version uint16
	// SignatureOK is true if the version signature matches.
	SignatureOK bool
	// Tags is the number of tags carried by the artifact, WantTags the
	// number the encrypted image calls for.
	Tags, WantTags int
	// BadTags lists the indices of tags which do not match their page.
	BadTags []int
	// ChecksumsOK is false if any record checksum does not match its
	// contents, as is the case for artifacts built with preserved checksums.
	ChecksumsOK bool
	// Message is the release message embedded at the firmware size.
	Message string
	// StartAddress is the entry point carried by the image, valid if
	// HasStartAddress is set.
	StartAddress    uint32
	HasStartAddress bool
	// Image is the decrypted memory image.
	Image *ihex.Image
}

// Err returns a non-nil error describing the first failed check.
func (r *Report) Err() error {
	switch {
	case !r.SignatureOK:
		return fmt.Errorf("%w: version signature mismatch", errs.ErrCrypto)
	case r.Tags != r.WantTags:
		return fmt.Errorf("%w: artifact carries %d tags, image calls for %d", errs.ErrCrypto, r.Tags, r.WantTags)
	case len(r.BadTags) > 0:
		return fmt.Errorf("%w: tag mismatch on pages %v", errs.ErrCrypto, r.BadTags)
	}
	return nil
}

// Print returns the report in textual format.
func (r *Report) Print() string {
	var b strings.Builder
	ok := func(v bool) string {
		if v {
			return "ok"
		}
		return "MISMATCH"
	}
	b.WriteString("---------------------------------------------------------- Verification ----\n")
	b.WriteString(fmt.Sprintf("Version signature ......: %s\n", ok(r.SignatureOK)))
	b.WriteString(fmt.Sprintf("Tags ...................: %d/%d %s\n", r.Tags-len(r.BadTags), r.WantTags, ok(r.Tags == r.WantTags && len(r.BadTags) == 0)))
	b.WriteString(fmt.Sprintf("Record checksums .......: %s\n", ok(r.ChecksumsOK)))
	if r.HasStartAddress {
		b.WriteString(fmt.Sprintf("Start address ..........: 0x%08X\n", r.StartAddress))
	}
	b.WriteString(fmt.Sprintf("Release message ........: %q", r.Message))
	return b.String()
}

// Artifact verifies a under e. opts must match the options the artifact
// was protected with; only the paging options matter here.
//
// A non-nil error means the artifact could not be checked at all; failed
// checks are reported through Report.Err.
func Artifact(e *engine.Engine, a *api.Artifact, opts ...protect.Option) (*Report, error) {
	if err := a.Validate(); err != nil {
		return nil, errs.Inputf("invalid artifact: %v", err)
	}
	p, err := protect.New(e, opts...)
	if err != nil {
		return nil, err
	}
	r := &Report{
		Version:     a.Version(),
		SignatureOK: subtle.ConstantTimeCompare(e.Seal(a.VersionBytes), a.VersionSig) == 1,
		Tags:        len(a.Tags),
		ChecksumsOK: true,
	}

	recs, err := ihex.ParseText(strings.NewReader(a.HexData), ihex.IgnoreChecksums())
	if err != nil {
		return nil, fmt.Errorf("hex_data: %w", err)
	}
	for _, rec := range recs {
		if rec.ComputeChecksum() != rec.Checksum {
			r.ChecksumsOK = false
			break
		}
	}

	want := p.GenerateTags(protect.Payloads(recs))
	r.WantTags = len(want)
	for i := 0; i < min(len(want), len(a.Tags)); i++ {
		if subtle.ConstantTimeCompare(want[i], a.Tags[i]) != 1 {
			r.BadTags = append(r.BadTags, i)
		}
	}

	plain, err := Decrypt(e, recs)
	if err != nil {
		return nil, err
	}
	if r.Image, err = ihex.FromRecords(plain); err != nil {
		return nil, err
	}
	r.StartAddress, r.HasStartAddress = r.Image.StartAddress()
	if r.Message, err = r.Image.ReadCString(a.FirmwareSize); err != nil {
		klog.Warningf("No release message at 0x%08X: %v", a.FirmwareSize, err)
	}
	return r, nil
}

// Decrypt returns a copy of recs with every data record decrypted and its
// checksum recomputed.
func Decrypt(e *engine.Engine, recs []*ihex.Record) ([]*ihex.Record, error) {
	out := make([]*ihex.Record, 0, len(recs))
	err := ihex.Walk(recs, func(addr uint32, rec *ihex.Record) error {
		c := rec.Clone()
		if rec.Type == ihex.Data {
			if err := e.Decrypt(c.Data, rec.Data, addr); err != nil {
				return err
			}
			c.SetChecksum()
		}
		out = append(out, c)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
