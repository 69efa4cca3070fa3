// Copyright 2026 The Stockade Authors
// SPDX-License-Identifier: Apache-2.0

package jail

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestIdentityMapperWriteOrder(t *testing.T) {
	t.Parallel()

	mapper := newIdentityMapper(1000, 1000)
	mapper.dir = "/proc/self"

	type write struct {
		path     string
		contents string
	}
	var writes []write
	mapper.write = func(path, contents string) error {
		writes = append(writes, write{path, contents})
		return nil
	}

	if err := mapper.apply(); err != nil {
		t.Fatalf("apply() = %v", err)
	}

	want := []write{
		{"/proc/self/uid_map", "0 1000 1"},
		{"/proc/self/setgroups", "deny"},
		{"/proc/self/gid_map", "0 1000 1"},
	}
	if len(writes) != len(want) {
		t.Fatalf("got %d writes, want %d: %+v", len(writes), len(want), writes)
	}
	for i := range want {
		if writes[i] != want[i] {
			t.Errorf("write[%d] = %+v, want %+v", i, writes[i], want[i])
		}
	}
}

func TestIdentityMapperAbortsOnFailure(t *testing.T) {
	t.Parallel()

	mapper := newIdentityMapper(1000, 1000)
	boom := errors.New("permission denied")

	var calls int
	mapper.write = func(path, contents string) error {
		calls++
		if filepath.Base(path) == "setgroups" {
			return boom
		}
		return nil
	}

	err := mapper.apply()
	if err == nil {
		t.Fatal("apply() = nil, want error")
	}
	if !IsStage(err, StageMapping) {
		t.Errorf("error %v is not a mapping stage error", err)
	}
	if !errors.Is(err, boom) {
		t.Errorf("error %v does not wrap the write failure", err)
	}
	if calls != 2 {
		t.Errorf("got %d writes before abort, want 2 (no gid_map after a setgroups failure)", calls)
	}
}
