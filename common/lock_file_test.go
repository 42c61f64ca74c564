// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package common

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
)

func exists(path string) bool {
	_, err := os.Stat(path)
	return !errors.Is(err, os.ErrNotExist)
}

func TestLockFile_DefaultLockFileIsInvalid(t *testing.T) {
	lock := lockFile{}
	if lock.Valid() {
		t.Errorf("default lockfile should be invalid")
	}
}

func TestLockFile_CanBeAcquiredAndReleased(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a")
	if exists(path) {
		t.Errorf("lock file should not exist before acquiring it")
	}
	lock, err := CreateLockFile(path)
	if err != nil {
		t.Fatalf("Failed to acquire lock: %v", err)
	}
	if !lock.Valid() {
		t.Errorf("acquired lock file is not valid")
	}
	if !exists(path) {
		t.Errorf("lock file should exist while acquired")
	}
	if err := lock.Release(); err != nil {
		t.Fatalf("Failed to release lock: %v", err)
	}
	if lock.Valid() {
		t.Errorf("released lock file is still valid")
	}
	if exists(path) {
		t.Errorf("lock file should no longer exist after releasing it")
	}
}

func TestLockFile_LockFilesAreExclusive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a")

	lockA, err := CreateLockFile(path)
	if err != nil {
		t.Fatalf("failed to acquire lock: %v", err)
	}

	if _, err := CreateLockFile(path); err == nil {
		t.Errorf("should not be able to acquire an occupied lock")
	}

	if err := lockA.Release(); err != nil {
		t.Errorf("failed to release acquired file lock: %v", err)
	}

	if _, err := CreateLockFile(path); err != nil {
		t.Errorf("should be able to acquire a released lock")
	}
}

func TestLockFile_CanOnlyBeReleasedOnce(t *testing.T) {
	lock, err := CreateLockFile(filepath.Join(t.TempDir(), "a"))
	if err != nil {
		t.Fatalf("failed to acquire lock: %v", err)
	}
	if err := lock.Release(); err != nil {
		t.Errorf("failed to release lock: %v", err)
	}
	if err := lock.Release(); err == nil {
		t.Errorf("second release should have failed")
	}
}

func TestLockFile_RemovedLockFile_ReleaseGivesError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a")
	lock, err := CreateLockFile(path)
	if err != nil {
		t.Fatalf("failed to acquire lock: %v", err)
	}
	if err := os.Remove(path); err != nil {
		t.Fatalf("cannot prepare for test: %v", err)
	}
	if err := lock.Release(); err == nil {
		t.Errorf("release should fail")
	}
}

func TestLockFile_LockSiblingIsPlacedNextToTarget(t *testing.T) {
	target := filepath.Join(t.TempDir(), "state.bin")
	lock, err := LockSibling(target)
	if err != nil {
		t.Fatalf("failed to acquire lock: %v", err)
	}
	if want, got := target+"~lock", lock.Path(); want != got {
		t.Errorf("unexpected lock location, wanted %s, got %s", want, got)
	}
	if _, err := LockSibling(target); err == nil {
		t.Errorf("second lock on the same target should fail")
	}
	if err := lock.Release(); err != nil {
		t.Errorf("failed to release lock: %v", err)
	}
}

func TestLockFile_GovernsExclusiveAccessForSingleProcess(t *testing.T) {
	const N = 8
	path := filepath.Join(t.TempDir(), "a")
	timesAcquired := atomic.Int32{}
	numOwners := atomic.Int32{}

	var wg sync.WaitGroup
	wg.Add(N)
	for i := 0; i < N; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				lock, err := CreateLockFile(path)
				if err != nil {
					continue
				}
				timesAcquired.Add(1)
				if owners := numOwners.Add(1); owners > 1 {
					t.Errorf("Invalid number of lock owners: %d", owners)
				}
				numOwners.Add(-1)
				if err := lock.Release(); err != nil {
					t.Errorf("failed to release lock: %v", err)
				}
			}
		}()
	}
	wg.Wait()

	if timesAcquired.Load() < 1 {
		t.Errorf("lock was never acquired")
	}
}
