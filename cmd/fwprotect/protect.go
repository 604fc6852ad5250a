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
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/cheggaaa/pb/v3"
	"github.com/machinebox/progress"
	"github.com/spf13/cobra"
	"k8s.io/klog/v2"

	"github.com/embedsec/fwprotect/api"
	"github.com/embedsec/fwprotect/internal/config"
	"github.com/embedsec/fwprotect/internal/errs"
	"github.com/embedsec/fwprotect/internal/manifest"
	"github.com/embedsec/fwprotect/internal/metrics"
	"github.com/embedsec/fwprotect/internal/protect"
)

type protectOptions struct {
	infile  string
	outfile string
	version string
	message string

	manifestOut string
	manifestKey string
	component   string
	releaseTag  string

	progress    bool
	metricsFile string
}

func newProtectCmd(ro *rootOptions) *cobra.Command {
	o := &protectOptions{}
	cmd := &cobra.Command{
		Use:   "protect",
		Short: "Protect a firmware image and write the artifact",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var man api.Sink
			if o.manifestOut != "" {
				man = api.FileSink{Path: o.manifestOut}
			}
			return runProtect(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), ro.cfg, o, api.FileSink{Path: o.outfile}, man)
		},
	}
	f := cmd.Flags()
	f.StringVar(&o.infile, "infile", "", "Intel HEX firmware image to protect.")
	f.StringVar(&o.outfile, "outfile", "", "File to write the artifact to.")
	f.StringVar(&o.version, "version", "", "Firmware version, 0 to 65535.")
	f.StringVar(&o.message, "message", "", "Release message to embed after the firmware.")
	f.StringVar(&o.manifestOut, "manifest_out", "", "File to write the release manifest to.")
	f.StringVar(&o.manifestKey, "manifest_key", "", "File containing a note signer key to sign the manifest with.")
	f.StringVar(&o.component, "component", manifest.DefaultComponent, "Component name recorded in the manifest.")
	f.StringVar(&o.releaseTag, "release_tag", "", "Semantic version recorded in the manifest.")
	f.BoolVar(&o.progress, "progress", false, "Show progress while reading and encrypting.")
	f.StringVar(&o.metricsFile, "metrics_file", "", "File to write run metrics to, in Prometheus text format.")
	for _, n := range []string{"infile", "outfile", "version"} {
		if err := cmd.MarkFlagRequired(n); err != nil {
			klog.Exitf("MarkFlagRequired(%q): %v", n, err)
		}
	}
	return cmd
}

// runProtect protects o.infile and stores the packed artifact in
// artifactSink. If manifestSink is non-nil the release manifest is stored
// there after the artifact.
func runProtect(ctx context.Context, out, errOut io.Writer, c *config.Config, o *protectOptions, artifactSink, manifestSink api.Sink) (err error) {
	start := time.Now()
	var m *metrics.Run
	if o.metricsFile != "" {
		m = metrics.New()
		defer func() {
			if err != nil {
				m.Failure(category(err), time.Since(start))
			}
			if wErr := m.WriteFile(o.metricsFile); wErr != nil {
				klog.Errorf("Failed to write metrics to %q: %v", o.metricsFile, wErr)
			}
		}()
	}

	version, err := parseVersion(o.version)
	if err != nil {
		return err
	}
	image, err := readInput(ctx, o.infile, o.progress)
	if err != nil {
		return err
	}

	e, err := newEngine(c)
	if err != nil {
		return err
	}
	popts, err := c.ProtectOptions()
	if err != nil {
		return err
	}
	if o.progress {
		var bar *pb.ProgressBar
		popts = append(popts, protect.WithProgress(func(done, total int) {
			if bar == nil {
				bar = pb.New(total).SetWriter(errOut).Start()
			}
			bar.SetCurrent(int64(done))
			if done == total {
				bar.Finish()
			}
		}))
	}
	p, err := protect.New(e, popts...)
	if err != nil {
		return err
	}
	res, err := p.Protect(image, version, o.message)
	if err != nil {
		return err
	}

	codec, err := c.ArtifactCodec()
	if err != nil {
		return err
	}
	comp, err := c.ArtifactCompression()
	if err != nil {
		return err
	}
	packed, err := api.Pack(res.Artifact, codec, comp)
	if err != nil {
		return err
	}

	// The manifest is prepared first so a bad signing key leaves no
	// artifact behind.
	var man []byte
	if manifestSink != nil {
		if man, err = buildManifest(packed, res.Artifact, o); err != nil {
			return err
		}
	}

	if err := store(artifactSink, "artifact", packed); err != nil {
		return err
	}
	klog.Infof("Stored %d bytes of %v/%v artifact", len(packed), codec, comp)
	if manifestSink != nil {
		if err := store(manifestSink, "manifest", man); err != nil {
			return err
		}
		klog.Info("Stored release manifest")
	}

	if m != nil {
		m.Success(res.Stats, len(packed), time.Since(start), time.Now())
	}
	fmt.Fprintf(out, "%s\n", res.Artifact.Print())
	return nil
}

// store writes b to s, classifying failures as ErrIO.
func store(s api.Sink, what string, b []byte) error {
	err := s.Store(b)
	if err == nil || errors.Is(err, errs.ErrIO) {
		return err
	}
	return errs.IO("store "+what, err)
}

// parseVersion parses a decimal or 0x-prefixed version number.
func parseVersion(s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, errs.Inputf("version %q is not a non-negative integer", s)
	}
	if v > protect.MaxVersion {
		return 0, &errs.VersionRangeError{Version: v}
	}
	return v, nil
}

// readInput reads the firmware image, logging progress for large files.
func readInput(ctx context.Context, path string, logProgress bool) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errs.IO("open image", err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, errs.IO("stat image", err)
	}
	pr := progress.NewReader(f)
	if logProgress && fi.Size() > 0 {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()
		go func() {
			progressChan := progress.NewTicker(ctx, pr, fi.Size(), 1*time.Second)
			for p := range progressChan {
				klog.Infof("Reading %q: %d%%, %v remaining...", path, int(p.Percent()), p.Remaining().Round(time.Second))
			}
		}()
	}
	b, err := io.ReadAll(pr)
	if err != nil {
		return nil, errs.IO("read image", err)
	}
	return b, nil
}

func buildManifest(packed []byte, a *api.Artifact, o *protectOptions) ([]byte, error) {
	rel, err := manifest.New(o.component, packed, a, o.message, o.releaseTag)
	if err != nil {
		return nil, err
	}
	if o.manifestKey == "" {
		klog.Warning("No --manifest_key given, writing unsigned manifest")
		b, err := json.MarshalIndent(rel, "", "  ")
		if err != nil {
			return nil, err
		}
		return append(b, '\n'), nil
	}
	skey, err := os.ReadFile(o.manifestKey)
	if err != nil {
		return nil, errs.IO("read manifest key", err)
	}
	s, err := manifest.NewSigner(string(skey))
	if err != nil {
		return nil, err
	}
	return manifest.Sign(rel, s)
}
