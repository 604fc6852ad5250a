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

// Package manifest produces signed release manifests for protected
// firmware artifacts.
//
// A manifest commits to the packed artifact by digest and to its page tags
// by an RFC 6962 Merkle root, so a single page can later be proven part of a
// release without shipping every tag. Manifests are signed as notes.
package manifest

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/coreos/go-semver/semver"
	"github.com/google/uuid"
	"github.com/transparency-dev/merkle/compact"
	"github.com/transparency-dev/merkle/proof"
	"github.com/transparency-dev/merkle/rfc6962"
	"golang.org/x/mod/sumdb/note"

	"github.com/embedsec/fwprotect/api"
	"github.com/embedsec/fwprotect/internal/errs"
)

// DefaultComponent names the firmware in manifests when no component is
// given.
const DefaultComponent = "firmware"

// releaseNamespace scopes release IDs.
var releaseNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/embedsec/fwprotect/release"))

// Release describes one protected firmware release.
type Release struct {
	Component      string `json:"component"`
	Version        uint16 `json:"version"`
	ReleaseTag     string `json:"release_tag,omitempty"`
	ReleaseID      string `json:"release_id"`
	FirmwareSize   uint32 `json:"firmware_size"`
	ArtifactSHA256 string `json:"artifact_sha256"`
	TagCount       int    `json:"tag_count"`
	TagsRoot       string `json:"tags_root"`
	Message        string `json:"message"`
}

// New builds the manifest for a packed artifact. releaseTag is optional and
// must be a semantic version, with or without a leading "v".
func New(component string, packed []byte, a *api.Artifact, message, releaseTag string) (*Release, error) {
	if component == "" {
		component = DefaultComponent
	}
	if releaseTag != "" {
		v, err := semver.NewVersion(strings.TrimPrefix(releaseTag, "v"))
		if err != nil {
			return nil, errs.Inputf("release tag %q: %v", releaseTag, err)
		}
		releaseTag = "v" + v.String()
	}

	digest := sha256.Sum256(packed)
	root, err := TagsRoot(blobs(a.Tags))
	if err != nil {
		return nil, err
	}
	return &Release{
		Component:      component,
		Version:        a.Version(),
		ReleaseTag:     releaseTag,
		ReleaseID:      uuid.NewSHA1(releaseNamespace, digest[:]).String(),
		FirmwareSize:   a.FirmwareSize,
		ArtifactSHA256: hex.EncodeToString(digest[:]),
		TagCount:       len(a.Tags),
		TagsRoot:       hex.EncodeToString(root),
		Message:        message,
	}, nil
}

// Check verifies that r describes the packed artifact a.
func (r *Release) Check(packed []byte, a *api.Artifact) error {
	digest := sha256.Sum256(packed)
	if got := hex.EncodeToString(digest[:]); got != r.ArtifactSHA256 {
		return fmt.Errorf("%w: artifact digest %s, manifest says %s", errs.ErrCrypto, got, r.ArtifactSHA256)
	}
	if v := a.Version(); v != r.Version {
		return fmt.Errorf("%w: artifact version %d, manifest says %d", errs.ErrCrypto, v, r.Version)
	}
	if len(a.Tags) != r.TagCount {
		return fmt.Errorf("%w: artifact carries %d tags, manifest says %d", errs.ErrCrypto, len(a.Tags), r.TagCount)
	}
	root, err := TagsRoot(blobs(a.Tags))
	if err != nil {
		return err
	}
	if got := hex.EncodeToString(root); got != r.TagsRoot {
		return fmt.Errorf("%w: tags root %s, manifest says %s", errs.ErrCrypto, got, r.TagsRoot)
	}
	return nil
}

func blobs(tags []api.Blob) [][]byte {
	out := make([][]byte, len(tags))
	for i, t := range tags {
		out[i] = t
	}
	return out
}

// TagsRoot returns the RFC 6962 Merkle root over tags, each tag being one
// leaf.
func TagsRoot(tags [][]byte) ([]byte, error) {
	if len(tags) == 0 {
		return rfc6962.DefaultHasher.EmptyRoot(), nil
	}
	r, err := tagsRange(tags, nil)
	if err != nil {
		return nil, err
	}
	return r.GetRootHash(nil)
}

// ProveTag returns the inclusion proof of tags[index] under TagsRoot(tags).
func ProveTag(tags [][]byte, index int) ([][]byte, error) {
	if index < 0 || index >= len(tags) {
		return nil, fmt.Errorf("tag index %d out of range [0, %d)", index, len(tags))
	}
	nodes, err := proof.Inclusion(uint64(index), uint64(len(tags)))
	if err != nil {
		return nil, err
	}
	seen := make(map[compact.NodeID][]byte)
	if _, err := tagsRange(tags, func(id compact.NodeID, hash []byte) {
		seen[id] = hash
	}); err != nil {
		return nil, err
	}
	hashes := make([][]byte, 0, len(nodes.IDs))
	for _, id := range nodes.IDs {
		h, ok := seen[id]
		if !ok {
			return nil, fmt.Errorf("missing tree node %+v", id)
		}
		hashes = append(hashes, h)
	}
	return nodes.Rehash(hashes, rfc6962.DefaultHasher.HashChildren)
}

// tagsRange builds the compact range over tags, reporting every tree node to
// visit if it is non-nil.
func tagsRange(tags [][]byte, visit compact.VisitFn) (*compact.Range, error) {
	rf := compact.RangeFactory{Hash: rfc6962.DefaultHasher.HashChildren}
	r := rf.NewEmptyRange(0)
	for _, t := range tags {
		if err := r.Append(rfc6962.DefaultHasher.HashLeaf(t), visit); err != nil {
			return nil, fmt.Errorf("append tag: %v", err)
		}
	}
	return r, nil
}

// VerifyTag checks that tag is page index of the release.
func (r *Release) VerifyTag(index int, tag []byte, p [][]byte) error {
	root, err := hex.DecodeString(r.TagsRoot)
	if err != nil {
		return fmt.Errorf("invalid tags_root: %v", err)
	}
	if index < 0 {
		return fmt.Errorf("negative tag index %d", index)
	}
	h := rfc6962.DefaultHasher
	return proof.VerifyInclusion(h, uint64(index), uint64(r.TagCount), h.HashLeaf(tag), p, root)
}

// Sign serialises r and signs it as a note.
func Sign(r *Release, s note.Signer) ([]byte, error) {
	b, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal manifest: %v", err)
	}
	return note.Sign(&note.Note{Text: string(b) + "\n"}, s)
}

// Open verifies a signed manifest with v and returns its contents.
func Open(b []byte, v note.Verifier) (*Release, error) {
	n, err := note.Open(b, note.VerifierList(v))
	if err != nil {
		return nil, fmt.Errorf("failed to verify manifest: %v", err)
	}
	r := &Release{}
	if err := json.Unmarshal([]byte(n.Text), r); err != nil {
		return nil, fmt.Errorf("invalid manifest contents %q: %v", n.Text, err)
	}
	return r, nil
}

// NewSigner parses a note signer key.
func NewSigner(skey string) (note.Signer, error) {
	s, err := note.NewSigner(strings.TrimSpace(skey))
	if err != nil {
		return nil, &errs.KeyError{Reason: fmt.Sprintf("manifest signer key: %v", err)}
	}
	return s, nil
}

// NewVerifier parses a note verifier key.
func NewVerifier(vkey string) (note.Verifier, error) {
	v, err := note.NewVerifier(strings.TrimSpace(vkey))
	if err != nil {
		return nil, &errs.KeyError{Reason: fmt.Sprintf("manifest verifier key: %v", err)}
	}
	return v, nil
}

// GenerateKey returns a new manifest signer and verifier key pair.
func GenerateKey(rnd io.Reader, name string) (skey, vkey string, err error) {
	return note.GenerateKey(rnd, name)
}
