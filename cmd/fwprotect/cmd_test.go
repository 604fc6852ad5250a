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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/embedsec/fwprotect/api"
	"github.com/embedsec/fwprotect/api/testonly"
	"github.com/embedsec/fwprotect/internal/config"
	"github.com/embedsec/fwprotect/internal/errs"
	"github.com/embedsec/fwprotect/internal/ihex"
	"github.com/embedsec/fwprotect/internal/manifest"
)

const testCipherKey = "000102030405060708090a0b0c0d0e0f"

// run executes the CLI with args and returns what it wrote to stdout.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCmd()
	cmd.SetArgs(append(args, "--env_file", ""))
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	err := cmd.Execute()
	return out.String(), err
}

func writeImage(t *testing.T, dir string, n int) string {
	t.Helper()
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i*13 + 1)
	}
	var recs []*ihex.Record
	for off := 0; off < n; off += 16 {
		end := min(off+16, n)
		recs = append(recs, &ihex.Record{Address: uint16(off), Type: ihex.Data, Data: data[off:end]})
	}
	recs = append(recs, &ihex.Record{Type: ihex.EOF})
	for _, r := range recs {
		r.SetChecksum()
	}
	p := filepath.Join(dir, "firmware.hex")
	require.NoError(t, os.WriteFile(p, []byte(ihex.EncodeString(recs)), 0o644))
	return p
}

func TestKeygenProtectInspect(t *testing.T) {
	dir := t.TempDir()
	keyDir := filepath.Join(dir, "keys")
	require.NoError(t, os.Mkdir(keyDir, 0o700))

	_, err := run(t, "keygen", "--out_dir", keyDir, "--note_name", "release-signer")
	require.NoError(t, err)
	for _, n := range []string{cipherKeyFile, manifestSecFile, manifestPubFile} {
		fi, err := os.Stat(filepath.Join(keyDir, n))
		require.NoError(t, err, n)
		assert.Equal(t, os.FileMode(secretPermission), fi.Mode().Perm(), n)
	}
	pub, err := os.ReadFile(filepath.Join(keyDir, manifestPubFile))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(pub), "release-signer+"), "verifier key %q", pub)

	img := writeImage(t, dir, 300)
	art := filepath.Join(dir, "firmware.fwp")
	man := filepath.Join(dir, "firmware.manifest")
	met := filepath.Join(dir, "fwprotect.prom")
	keyFile := filepath.Join(keyDir, cipherKeyFile)

	out, err := run(t, "protect",
		"--key_file", keyFile,
		"--infile", img,
		"--outfile", art,
		"--version", "0x0102",
		"--message", "v1.2.0",
		"--manifest_out", man,
		"--manifest_key", filepath.Join(keyDir, manifestSecFile),
		"--release_tag", "1.2.0",
		"--metrics_file", met,
		"--page_size", "4",
		"--compression", "zstd")
	require.NoError(t, err)
	assert.Contains(t, out, "Firmware size ..........: 300")

	packed, err := os.ReadFile(art)
	require.NoError(t, err)
	a, err := api.Unpack(packed)
	require.NoError(t, err)
	assert.Equal(t, uint16(0x0102), a.Version())
	assert.Equal(t, uint32(300), a.FirmwareSize)
	// 300 + 7 bytes pad to 312, which is 20 records or 5 full pages.
	assert.Len(t, a.Tags, 5)

	m, err := os.ReadFile(met)
	require.NoError(t, err)
	assert.Contains(t, string(m), "fwprotect_tags 5")
	assert.Contains(t, string(m), "fwprotect_last_success_timestamp_seconds")

	out, err = run(t, "inspect", art,
		"--key_file", keyFile,
		"--page_size", "4",
		"--verify",
		"--manifest", man,
		"--manifest_pubkey", filepath.Join(keyDir, manifestPubFile))
	require.NoError(t, err)
	assert.Contains(t, out, "Manifest ...............: ok (firmware v1.2.0")
	assert.Contains(t, out, `"v1.2.0"`)

	out, err = run(t, "inspect", art, "--key_file", keyFile, "--page_size", "4", "--verify", "-o", "yaml")
	require.NoError(t, err)
	var s artifactSummary
	require.NoError(t, yaml.Unmarshal([]byte(out), &s))
	require.NotNil(t, s.Verified)
	assert.True(t, *s.Verified)
	assert.Equal(t, uint16(0x0102), s.Version)
	assert.Equal(t, "v1.2.0", s.Message)
	assert.Len(t, s.Tags, 5)
	assert.Equal(t, 22, s.Records)

	// Verifying with a different page size finds the tags missing.
	_, err = run(t, "inspect", art, "--key_file", keyFile, "--verify")
	assert.True(t, errors.Is(err, errs.ErrCrypto), "got %v", err)
}

func TestInspectWrongKey(t *testing.T) {
	dir := t.TempDir()
	art := filepath.Join(dir, "firmware.fwp")
	_, err := run(t, "protect", "--key", testCipherKey, "--infile", writeImage(t, dir, 64), "--outfile", art, "--version", "1")
	require.NoError(t, err)

	_, err = run(t, "inspect", art, "--key", strings.Repeat("ff", 16), "--verify", "-o", "json")
	assert.True(t, errors.Is(err, errs.ErrCrypto), "got %v", err)

	// Without --verify no key is needed.
	out, err := run(t, "inspect", art, "-o", "json")
	require.NoError(t, err)
	assert.Contains(t, out, `"firmware_size": 64`)
	assert.NotContains(t, out, "verified")
}

func TestProtectFailures(t *testing.T) {
	for _, test := range []struct {
		name     string
		image    string
		args     []string
		wantErr  error
		category string
	}{
		{
			name:     "malformed image",
			image:    ":10000000zz\n",
			args:     []string{"--version", "1", "--key", testCipherKey},
			wantErr:  errs.ErrInput,
			category: "input",
		},
		{
			name:     "version out of range",
			args:     []string{"--version", "65536", "--key", testCipherKey},
			wantErr:  errs.ErrInput,
			category: "input",
		},
		{
			name:     "negative version",
			args:     []string{"--version", "-1", "--key", testCipherKey},
			wantErr:  errs.ErrInput,
			category: "input",
		},
		{
			name:     "no key",
			args:     []string{"--version", "1"},
			wantErr:  errs.ErrCrypto,
			category: "crypto",
		},
		{
			name:     "bad manifest key",
			args:     []string{"--version", "1", "--key", testCipherKey, "--manifest_out", "m", "--manifest_key", "nonexistent.sec"},
			wantErr:  errs.ErrIO,
			category: "io",
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			dir := t.TempDir()
			img := writeImage(t, dir, 40)
			if test.image != "" {
				require.NoError(t, os.WriteFile(img, []byte(test.image), 0o644))
			}
			art := filepath.Join(dir, "out.fwp")
			met := filepath.Join(dir, "fwprotect.prom")
			args := append([]string{"protect", "--infile", img, "--outfile", art, "--metrics_file", met}, test.args...)

			_, err := run(t, args...)
			if !errors.Is(err, test.wantErr) {
				t.Fatalf("got %v, want %v", err, test.wantErr)
			}
			assert.Equal(t, test.category, category(err))
			assert.NoFileExists(t, art)

			m, err := os.ReadFile(met)
			require.NoError(t, err)
			assert.Contains(t, string(m), `fwprotect_failures_total{category="`+test.category+`"} 1`)
		})
	}
}

func TestKeygenPrint(t *testing.T) {
	out, err := run(t, "keygen", "--note")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.Regexp(t, `^cipher\.key: [0-9a-f]{32}$`, lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "manifest.sec: PRIVATE+KEY+"), lines[1])
	assert.True(t, strings.HasPrefix(lines[2], "manifest.pub: "), lines[2])
}

func TestInspectBadOutput(t *testing.T) {
	dir := t.TempDir()
	art := filepath.Join(dir, "firmware.fwp")
	_, err := run(t, "protect", "--key", testCipherKey, "--infile", writeImage(t, dir, 16), "--outfile", art, "--version", "1")
	require.NoError(t, err)

	_, err = run(t, "inspect", art, "-o", "xml")
	assert.True(t, errors.Is(err, errs.ErrInput), "got %v", err)
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	c, err := config.Load(viper.New(), nil, "", "")
	require.NoError(t, err)
	c.Key = testCipherKey
	return c
}

func TestProtectSinks(t *testing.T) {
	dir := t.TempDir()
	o := &protectOptions{
		infile:    writeImage(t, dir, 64),
		version:   "3",
		message:   "rel",
		component: manifest.DefaultComponent,
	}
	art, man := testonly.NewMemSink(t), testonly.NewMemSink(t)
	var out bytes.Buffer
	require.NoError(t, runProtect(context.Background(), &out, io.Discard, testConfig(t), o, art, man))

	a, err := api.Unpack(art.Last(t))
	require.NoError(t, err)
	assert.Equal(t, uint16(3), a.Version())

	var rel manifest.Release
	require.NoError(t, json.Unmarshal(man.Last(t), &rel))
	assert.Equal(t, "rel", rel.Message)
	require.NoError(t, rel.Check(art.Last(t), a))
	assert.Contains(t, out.String(), "Firmware size ..........: 64")
}

func TestProtectArtifactStoreFailure(t *testing.T) {
	dir := t.TempDir()
	met := filepath.Join(dir, "fwprotect.prom")
	o := &protectOptions{
		infile:      writeImage(t, dir, 64),
		version:     "3",
		component:   manifest.DefaultComponent,
		metricsFile: met,
	}
	art := &testonly.MemSink{Fail: true}
	man := testonly.NewMemSink(t)
	var out bytes.Buffer

	err := runProtect(context.Background(), &out, io.Discard, testConfig(t), o, art, man)
	require.ErrorIs(t, err, errs.ErrIO)
	assert.ErrorIs(t, err, testonly.ErrInjected)
	assert.Equal(t, "io", category(err))
	assert.Empty(t, man.Stored(), "manifest stored after the artifact failed")
	assert.Empty(t, out.String())

	m, err := os.ReadFile(met)
	require.NoError(t, err)
	assert.Contains(t, string(m), `fwprotect_failures_total{category="io"} 1`)
	assert.NotContains(t, string(m), "fwprotect_last_success_timestamp_seconds 1")
}

func TestKeygenSinks(t *testing.T) {
	sinks := map[string]*testonly.MemSink{}
	sinkFor := func(name string) api.Sink {
		s := testonly.NewMemSink(t)
		sinks[name] = s
		return s
	}
	var out bytes.Buffer
	require.NoError(t, runKeygen(&out, bytes.NewReader(bytes.Repeat([]byte{0x42}, 256)), &keygenOptions{note: true}, sinkFor))

	assert.Empty(t, out.String())
	require.Len(t, sinks, 3)
	assert.Equal(t, strings.Repeat("42", 16)+"\n", string(sinks[cipherKeyFile].Last(t)))
	sec := string(sinks[manifestSecFile].Last(t))
	pub := string(sinks[manifestPubFile].Last(t))
	_, err := manifest.NewSigner(sec)
	require.NoError(t, err)
	_, err = manifest.NewVerifier(pub)
	require.NoError(t, err)
}

func TestKeygenStoreFailure(t *testing.T) {
	sinkFor := func(string) api.Sink { return &testonly.MemSink{Fail: true} }
	err := runKeygen(io.Discard, bytes.NewReader(bytes.Repeat([]byte{1}, 64)), &keygenOptions{}, sinkFor)
	assert.ErrorIs(t, err, errs.ErrIO)
}
