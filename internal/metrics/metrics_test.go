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

package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/embedsec/fwprotect/internal/protect"
)

func TestWriteFile(t *testing.T) {
	r := New()
	r.Success(protect.Stats{Records: 40, DataRecords: 38, Tags: 2, Padding: 5}, 1234, 1500*time.Millisecond, time.Unix(1700000000, 0))
	r.Failure("input", time.Second)

	p := filepath.Join(t.TempDir(), "fwprotect.prom")
	if err := r.WriteFile(p); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	b, err := os.ReadFile(p)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}

	got := map[string]string{}
	for _, l := range strings.Split(string(b), "\n") {
		if l == "" || strings.HasPrefix(l, "#") {
			continue
		}
		f := strings.Fields(l)
		got[f[0]] = f[1]
	}
	want := map[string]string{
		"fwprotect_records":                          "40",
		"fwprotect_data_records":                     "38",
		"fwprotect_tags":                             "2",
		"fwprotect_padding_bytes":                    "5",
		"fwprotect_artifact_bytes":                   "1234",
		"fwprotect_run_duration_seconds":             "1",
		"fwprotect_last_success_timestamp_seconds":   "1.7e+09",
		`fwprotect_failures_total{category="input"}`: "1",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("Got diff: %s", diff)
	}
}

func TestGatherer(t *testing.T) {
	mfs, err := New().Gatherer().Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	// The failure counter vector has no series until a failure is recorded.
	if got, want := len(mfs), 7; got != want {
		t.Errorf("got %d metric families, want %d", got, want)
	}
}
