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

package api

import (
	"os"
	"path/filepath"

	"k8s.io/klog/v2"

	"github.com/embedsec/fwprotect/internal/errs"
)

// Sink persists a packed artifact.
type Sink interface {
	// Store writes b in full, or nothing at all.
	Store(b []byte) error
}

// FileSink stores artifacts in a file on the local filesystem.
//
// The artifact is written to a temporary file in the destination directory
// and renamed into place, so a failed run never leaves a truncated or partial
// file at Path.
type FileSink struct {
	Path string
	// Perm is the mode of the created file, 0o644 if zero.
	Perm os.FileMode
}

// Store implements Sink.
func (s FileSink) Store(b []byte) (err error) {
	perm := s.Perm
	if perm == 0 {
		perm = 0o644
	}
	f, err := os.CreateTemp(filepath.Dir(s.Path), "."+filepath.Base(s.Path)+".tmp-*")
	if err != nil {
		return errs.IO("create artifact", err)
	}
	tmp := f.Name()
	defer func() {
		if err == nil {
			return
		}
		if rErr := os.Remove(tmp); rErr != nil && !os.IsNotExist(rErr) {
			klog.Errorf("Failed to remove %q: %v", tmp, rErr)
		}
	}()

	if _, err := f.Write(b); err != nil {
		f.Close()
		return errs.IO("write artifact", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return errs.IO("sync artifact", err)
	}
	if err := f.Close(); err != nil {
		return errs.IO("close artifact", err)
	}
	if err := os.Chmod(tmp, perm); err != nil {
		return errs.IO("chmod artifact", err)
	}
	if err := os.Rename(tmp, s.Path); err != nil {
		return errs.IO("rename artifact", err)
	}
	return nil
}
