// Copyright 2025 The fawa Authors
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

package util

import (
	"errors"
	"fmt"
	"os"
)

const (
	// the owner can make/remove files inside the directory
	privateDirMode = 0700
)

// Exist reports whether dirpath exists and is a directory.
func Exist(dirpath string) bool {
	fi, err := os.Stat(dirpath)
	if err != nil {
		return false
	}
	return fi.IsDir()
}

// FileExists reports whether path exists and is a regular file.
func FileExists(path string) bool {
	fi, err := os.Stat(path)
	if err != nil {
		return false
	}
	return fi.Mode().IsRegular()
}

// CreateDir creates dirpath and any missing parents. It returns
// os.ErrExist if the directory is already there.
func CreateDir(dirpath string) error {
	if Exist(dirpath) {
		return os.ErrExist
	}

	if err := os.MkdirAll(dirpath, privateDirMode); err != nil {
		return err
	}

	return nil
}

// EnsureDir is CreateDir without the os.ErrExist case.
func EnsureDir(dirpath string) error {
	if err := CreateDir(dirpath); err != nil && !errors.Is(err, os.ErrExist) {
		return fmt.Errorf("create dir %s: %w", dirpath, err)
	}
	return nil
}

// SyncDir fsyncs a directory so that entries created or renamed in it
// survive a crash.
func SyncDir(dirpath string) error {
	d, err := os.Open(dirpath)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}
