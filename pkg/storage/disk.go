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

package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/fawa-io/drop/pkg/fwlog"
	"github.com/fawa-io/drop/pkg/util"
)

const tempPrefix = ".upload-"

// DiskStore implements BlobStore with one file per identifier directly
// under root, so the directory can also be served as-is.
type DiskStore struct {
	root string
}

// NewDiskStore creates root if needed and removes temp files left by an
// earlier crash.
func NewDiskStore(root string) (*DiskStore, error) {
	root = filepath.Clean(root)
	if err := util.EnsureDir(root); err != nil {
		return nil, err
	}
	s := &DiskStore{root: root}

	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("read storage dir: %w", err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), tempPrefix) {
			_ = os.Remove(filepath.Join(root, e.Name()))
		}
	}
	return s, nil
}

// Root returns the storage directory.
func (s *DiskStore) Root() string {
	return s.root
}

func (s *DiskStore) path(id string) (string, error) {
	if err := ValidateID(id); err != nil {
		return "", err
	}
	return filepath.Join(s.root, id), nil
}

// Exists implements BlobStore.
func (s *DiskStore) Exists(ctx context.Context, id string) (bool, error) {
	p, err := s.path(id)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(p)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Write implements BlobStore. The bytes land in a temp file first and are
// published with a hard link, which fails if id is taken; a reader never
// sees a partial blob and an existing blob is never replaced.
func (s *DiskStore) Write(ctx context.Context, id string, r io.Reader, size int64) (written bool, err error) {
	p, err := s.path(id)
	if err != nil {
		return false, err
	}

	if _, err := os.Stat(p); err == nil {
		_, err = io.Copy(io.Discard, contextReader{ctx: ctx, r: r})
		return false, err
	}

	tmp, err := os.CreateTemp(s.root, tempPrefix+"*")
	if err != nil {
		return false, fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}()

	if _, err := io.Copy(tmp, contextReader{ctx: ctx, r: r}); err != nil {
		return false, fmt.Errorf("write blob %s: %w", id, err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		return false, err
	}
	if err := tmp.Sync(); err != nil {
		return false, fmt.Errorf("sync blob %s: %w", id, err)
	}
	if err := tmp.Close(); err != nil {
		return false, err
	}

	if err := os.Link(tmp.Name(), p); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return false, nil
		}
		return false, fmt.Errorf("publish blob %s: %w", id, err)
	}
	if err := util.SyncDir(s.root); err != nil {
		return true, fmt.Errorf("sync storage dir: %w", err)
	}
	return true, nil
}

// Read implements BlobStore. The returned reader is an *os.File and
// supports seeking.
func (s *DiskStore) Read(ctx context.Context, id string) (io.ReadCloser, error) {
	p, err := s.path(id)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("blob %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("open blob %s: %w", id, err)
	}
	return f, nil
}

// Delete implements BlobStore.
func (s *DiskStore) Delete(ctx context.Context, id string) error {
	p, err := s.path(id)
	if err != nil {
		return err
	}
	err = os.Remove(p)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("blob %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("delete blob %s: %w", id, err)
	}
	return nil
}

// List implements BlobStore. Directories, dot files and names that are
// not valid identifiers are skipped, so every listed id can be deleted.
func (s *DiskStore) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("list storage dir: %w", err)
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if err := ValidateID(e.Name()); err != nil {
			fwlog.Warnf("Ignoring %s in storage dir: %v", e.Name(), err)
			continue
		}
		ids = append(ids, e.Name())
	}
	return ids, nil
}

// contextReader stops a copy once ctx is done, so an abandoned upload does
// not keep writing.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
