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
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/fawa-io/drop/pkg/util"
)

var errStoreClosed = errors.New("metadata store is closed")

// FileStore implements MetaStore as a single YAML document on disk.
// All records are held in memory; every mutation rewrites the document
// through a temporary file and a rename before returning.
type FileStore struct {
	path string

	mu      sync.RWMutex
	records map[string]Record
	closed  bool
}

// OpenFileStore loads path, creating an empty store if the file does not
// exist. A file that is not a valid record map is an error.
func OpenFileStore(path string) (*FileStore, error) {
	s := &FileStore{
		path:    filepath.Clean(path),
		records: make(map[string]Record),
	}

	data, err := os.ReadFile(s.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if err := util.EnsureDir(filepath.Dir(s.path)); err != nil {
			return nil, err
		}
		if err := s.flush(); err != nil {
			return nil, fmt.Errorf("create metadata file: %w", err)
		}
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("read metadata file: %w", err)
	}

	var raw map[string]*Record
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse metadata file %s: %w", s.path, err)
	}
	for id, rec := range raw {
		if rec == nil {
			return nil, fmt.Errorf("parse metadata file %s: empty record for %q", s.path, id)
		}
		s.records[id] = *rec
	}
	return s, nil
}

// Path returns the backing file.
func (s *FileStore) Path() string {
	return s.path
}

// Len returns the number of records.
func (s *FileStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Get implements MetaStore.
func (s *FileStore) Get(ctx context.Context, id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, errStoreClosed
	}
	rec, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("record %s: %w", id, ErrNotFound)
	}
	return &rec, nil
}

// Put implements MetaStore.
func (s *FileStore) Put(ctx context.Context, id string, rec *Record) error {
	if rec == nil {
		return errors.New("record cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errStoreClosed
	}
	prev, had := s.records[id]
	s.records[id] = *rec
	if err := s.flush(); err != nil {
		if had {
			s.records[id] = prev
		} else {
			delete(s.records, id)
		}
		return fmt.Errorf("put record %s: %w", id, err)
	}
	return nil
}

// Delete implements MetaStore.
func (s *FileStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errStoreClosed
	}
	prev, ok := s.records[id]
	if !ok {
		return fmt.Errorf("record %s: %w", id, ErrNotFound)
	}
	delete(s.records, id)
	if err := s.flush(); err != nil {
		s.records[id] = prev
		return fmt.Errorf("delete record %s: %w", id, err)
	}
	return nil
}

// Close implements MetaStore. Every mutation is already on disk, so
// Close only stops further use.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// flush writes all records to a temp file next to path and renames it
// into place. Caller holds the write lock.
func (s *FileStore) flush() (err error) {
	data, err := yaml.Marshal(s.records)
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	if err = os.Rename(tmp.Name(), s.path); err != nil {
		return err
	}
	return util.SyncDir(dir)
}
