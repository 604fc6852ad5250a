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
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"path/filepath"

	"github.com/goombaio/namegenerator"
	"github.com/spf13/cobra"
	"k8s.io/klog/v2"

	"github.com/embedsec/fwprotect/api"
	"github.com/embedsec/fwprotect/internal/keys"
	"github.com/embedsec/fwprotect/internal/manifest"
)

const (
	cipherKeyFile    = "cipher.key"
	manifestSecFile  = "manifest.sec"
	manifestPubFile  = "manifest.pub"
	secretPermission = 0o600
)

type keygenOptions struct {
	outDir   string
	note     bool
	noteName string
}

func newKeygenCmd() *cobra.Command {
	o := &keygenOptions{}
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a cipher key and, optionally, a manifest signing key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var sinkFor func(name string) api.Sink
			if o.outDir != "" {
				sinkFor = func(name string) api.Sink {
					return api.FileSink{Path: filepath.Join(o.outDir, name), Perm: secretPermission}
				}
			}
			return runKeygen(cmd.OutOrStdout(), rand.Reader, o, sinkFor)
		},
	}
	f := cmd.Flags()
	f.StringVar(&o.outDir, "out_dir", "", "Directory to write key files to. Keys are printed if unset.")
	f.BoolVar(&o.note, "note", false, "Also generate a note key pair for signing manifests.")
	f.StringVar(&o.noteName, "note_name", "", "Name of the manifest signing key. Implies --note; a random name is used if unset.")
	return cmd
}

// runKeygen generates keys from rnd. Each key file is stored in the sink
// sinkFor returns for its name, or printed to out if sinkFor is nil.
func runKeygen(out io.Writer, rnd io.Reader, o *keygenOptions, sinkFor func(name string) api.Sink) error {
	key, err := keys.Generate(rnd)
	if err != nil {
		return err
	}
	files := map[string]string{cipherKeyFile: hex.EncodeToString(key) + "\n"}

	if o.note || o.noteName != "" {
		name := o.noteName
		if name == "" {
			if name, err = randomName(rnd); err != nil {
				return err
			}
		}
		skey, vkey, err := manifest.GenerateKey(rnd, name)
		if err != nil {
			return err
		}
		files[manifestSecFile] = skey + "\n"
		files[manifestPubFile] = vkey + "\n"
	}

	for _, n := range []string{cipherKeyFile, manifestSecFile, manifestPubFile} {
		v, ok := files[n]
		if !ok {
			continue
		}
		if sinkFor == nil {
			fmt.Fprintf(out, "%s: %s", n, v)
			continue
		}
		if err := store(sinkFor(n), n, []byte(v)); err != nil {
			return err
		}
		klog.Infof("Stored %s", n)
	}
	return nil
}

// randomName generates a human-friendly key name.
func randomName(rnd io.Reader) (string, error) {
	nSeed := make([]byte, 8)
	if _, err := io.ReadFull(rnd, nSeed); err != nil {
		return "", fmt.Errorf("failed to read name entropy: %v", err)
	}
	ng := namegenerator.NewNameGenerator(int64(binary.LittleEndian.Uint64(nSeed)))
	return ng.Generate(), nil
}
