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

// Package ihex reads, edits and re-frames Intel HEX firmware images.
//
// # Record Format
//
// Each line of an image is one record:
//
//	:LLAAAATT[DD...]CC
//	  LL = byte count
//	  AAAA = 16 bit load offset (big-endian)
//	  TT = record type
//	  DD = data bytes
//	  CC = two's complement of the sum of all preceding bytes
//
// Example:
//
//	:10000000000102030405060708090A0B0C0D0E0F78
//
// # Usage
//
// Load an image, append a release message and frame it into records:
//
//	im, err := ihex.Parse(f)
//	if err != nil {
//	    return err
//	}
//	size := im.Size()
//	if _, err := im.Embed("release 1.2"); err != nil {
//	    return err
//	}
//	recs, err := im.Records(ihex.DefaultLineLength)
//
// Images are held in memory by github.com/marcinbor85/gohex, which merges
// adjacent data and keeps segments sorted by address. Records emitted by
// Records therefore always start at the beginning of a contiguous segment.
package ihex
