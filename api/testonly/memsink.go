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

// Package testonly provides support for artifact tests.
package testonly

import (
	"errors"
	"sync"
	"testing"
)

// ErrInjected is returned by a MemSink configured to fail.
var ErrInjected = errors.New("injected sink failure")

// MemSink is a simple in-memory artifact sink.
type MemSink struct {
	mu     sync.Mutex
	stored [][]byte

	// Fail makes every Store call return ErrInjected without storing.
	Fail bool
	// OnStore is called just after an artifact has been stored.
	OnStore func(b []byte)
}

// Store implements api.Sink.
func (s *MemSink) Store(b []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail {
		return ErrInjected
	}
	c := append([]byte(nil), b...)
	s.stored = append(s.stored, c)
	if s.OnStore != nil {
		s.OnStore(c)
	}
	return nil
}

// Stored returns the artifacts stored so far, oldest first.
func (s *MemSink) Stored() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.stored...)
}

// Last returns the most recently stored artifact, failing the test if there
// is none.
func (s *MemSink) Last(t *testing.T) []byte {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.stored) == 0 {
		t.Fatal("No artifact stored")
	}
	return s.stored[len(s.stored)-1]
}

// NewMemSink creates a new in-memory sink.
func NewMemSink(t *testing.T) *MemSink {
	t.Helper()
	return &MemSink{}
}
