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

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/embedsec/fwprotect/api"
	"github.com/embedsec/fwprotect/internal/config"
	"github.com/embedsec/fwprotect/internal/errs"
	"github.com/embedsec/fwprotect/internal/manifest"
	"github.com/embedsec/fwprotect/internal/verify"
)

type inspectOptions struct {
	verify         bool
	output         string
	manifest       string
	manifestPubKey string
}

// artifactSummary is the machine readable form of an artifact.
type artifactSummary struct {
	FirmwareSize uint32   `json:"firmware_size" yaml:"firmware_size"`
	Version      uint16   `json:"version" yaml:"version"`
	VersionSig   string   `json:"version_sig" yaml:"version_sig"`
	Records      int      `json:"records" yaml:"records"`
	Tags         []string `json:"tags" yaml:"tags"`
	Message      string   `json:"message,omitempty" yaml:"message,omitempty"`
	Verified     *bool    `json:"verified,omitempty" yaml:"verified,omitempty"`
}

func newInspectCmd(ro *rootOptions) *cobra.Command {
	o := &inspectOptions{}
	cmd := &cobra.Command{
		Use:   "inspect ARTIFACT",
		Short: "Print, and optionally verify, a protected artifact",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(cmd.OutOrStdout(), ro.cfg, o, args[0])
		},
	}
	f := cmd.Flags()
	f.BoolVar(&o.verify, "verify", false, "Recompute tags and signature under the configured key.")
	f.StringVarP(&o.output, "output", "o", "text", "Output format: text, json or yaml.")
	f.StringVar(&o.manifest, "manifest", "", "Signed release manifest to check the artifact against.")
	f.StringVar(&o.manifestPubKey, "manifest_pubkey", "", "File containing the note verifier key of the manifest.")
	return cmd
}

func runInspect(out io.Writer, c *config.Config, o *inspectOptions, path string) error {
	packed, err := os.ReadFile(path)
	if err != nil {
		return errs.IO("read artifact", err)
	}
	a, err := api.Unpack(packed)
	if err != nil {
		return err
	}

	var rel *manifest.Release
	if o.manifest != "" {
		if rel, err = checkManifest(packed, a, o); err != nil {
			return err
		}
	}

	var report *verify.Report
	if o.verify {
		e, err := newEngine(c)
		if err != nil {
			return err
		}
		popts, err := c.ProtectOptions()
		if err != nil {
			return err
		}
		if report, err = verify.Artifact(e, a, popts...); err != nil {
			return err
		}
	}

	format := strings.ToLower(o.output)
	switch format {
	case "text":
		fmt.Fprintln(out, a.Print())
		if rel != nil {
			fmt.Fprintf(out, "Manifest ...............: ok (%s %s, release %s)\n", rel.Component, rel.ReleaseTag, rel.ReleaseID)
		}
		if report != nil {
			fmt.Fprintln(out, report.Print())
		}
	case "json", "yaml":
		s := summarise(a, report)
		var b []byte
		if format == "json" {
			if b, err = json.MarshalIndent(s, "", "  "); err == nil {
				b = append(b, '\n')
			}
		} else {
			b, err = yaml.Marshal(s)
		}
		if err != nil {
			return err
		}
		if _, err := out.Write(b); err != nil {
			return errs.IO("write summary", err)
		}
	default:
		return errs.Inputf("unknown output format %q", o.output)
	}

	if report != nil {
		return report.Err()
	}
	return nil
}

func summarise(a *api.Artifact, r *verify.Report) artifactSummary {
	s := artifactSummary{
		FirmwareSize: a.FirmwareSize,
		Version:      a.Version(),
		VersionSig:   a.VersionSig.String(),
		Records:      strings.Count(strings.TrimRight(a.HexData, "\n"), "\n") + 1,
		Tags:         make([]string, 0, len(a.Tags)),
	}
	for _, t := range a.Tags {
		s.Tags = append(s.Tags, t.String())
	}
	if r != nil {
		ok := r.Err() == nil
		s.Verified = &ok
		s.Message = r.Message
	}
	return s
}

func checkManifest(packed []byte, a *api.Artifact, o *inspectOptions) (*manifest.Release, error) {
	if o.manifestPubKey == "" {
		return nil, errs.Inputf("--manifest requires --manifest_pubkey")
	}
	vkey, err := os.ReadFile(o.manifestPubKey)
	if err != nil {
		return nil, errs.IO("read manifest verifier key", err)
	}
	v, err := manifest.NewVerifier(string(vkey))
	if err != nil {
		return nil, err
	}
	mb, err := os.ReadFile(o.manifest)
	if err != nil {
		return nil, errs.IO("read manifest", err)
	}
	rel, err := manifest.Open(mb, v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrCrypto, err)
	}
	if err := rel.Check(packed, a); err != nil {
		return nil, err
	}
	return rel, nil
}
