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
	"fmt"
	"os"
)

// LockFile is an inter-process synchronization primitive guarding the
// exclusive ownership of on-disk tree data. Internally, the lock creates
// a file in the file system to mark the ownership and deletes this file if
// the lock is released.
//
// Note: locks that are not released by a process are not automatically
// released at the end of the process.
type LockFile interface {
	// Release gives up the ownership by deleting the underlying file. Each
	// lock may only be released once. Subsequent calls produce errors.
	Release() error
	// Valid checks whether this lock still owns the underlying resource.
	Valid() bool
	// Path returns the location of the lock file.
	Path() string
}

type lockFile struct {
	path string
	file *os.File
}

// CreateLockFile atomically creates a file with the given path and holds
// a lock on it. The operation fails if a file with the given name already
// exists.
func CreateLockFile(path string) (LockFile, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire file lock: %w", err)
	}
	return &lockFile{path: path, file: file}, nil
}

// LockSibling acquires a lock file placed next to the given path, e.g. the
// control state file of a durable tree.
func LockSibling(path string) (LockFile, error) {
	lock, err := CreateLockFile(path + "~lock")
	if err != nil {
		return nil, fmt.Errorf("unable to gain exclusive access to %s: %w", path, err)
	}
	return lock, nil
}

func (f *lockFile) Valid() bool {
	return f.file != nil
}

func (f *lockFile) Path() string {
	return f.path
}

func (f *lockFile) Release() error {
	if f.file == nil {
		return fmt.Errorf("unable to release invalid lock")
	}
	err := errors.Join(f.file.Close(), os.Remove(f.path))
	f.file = nil
	if err != nil {
		return fmt.Errorf("failed to release file lock: %w", err)
	}
	return nil
}
