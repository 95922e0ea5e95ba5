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

// Package storage holds the two halves of a stored upload: the file
// record kept by a MetaStore and the blob bytes kept by a BlobStore.
// Both are keyed by the same public identifier.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when an identifier has no record or no blob.
	ErrNotFound = errors.New("not found")
	// ErrInvalidID is returned for identifiers that are not a plain file name.
	ErrInvalidID = errors.New("invalid identifier")
)

// Record is the metadata kept for one identifier.
type Record struct {
	Hash   string    `json:"hash" yaml:"hash"`
	Expiry time.Time `json:"expiry" yaml:"expiry"`
}

// Expired reports whether the record is due for collection at now.
func (r *Record) Expired(now time.Time) bool {
	return !now.Before(r.Expiry)
}

// MetaStore maps identifiers to records. A successful Put or Delete is
// durable before it returns. Implementations are safe for concurrent use.
type MetaStore interface {
	// Get returns ErrNotFound when no record exists.
	Get(ctx context.Context, id string) (*Record, error)

	// Put inserts or overwrites the record for id.
	Put(ctx context.Context, id string, rec *Record) error

	// Delete returns ErrNotFound when no record exists.
	Delete(ctx context.Context, id string) error

	Close() error
}

// BlobStore persists upload bytes by identifier. Blobs are write-once.
type BlobStore interface {
	Exists(ctx context.Context, id string) (bool, error)

	// Write stores r under id unless a blob already occupies id, in which
	// case r is drained and written is false. size is the length of r if
	// known, or -1.
	Write(ctx context.Context, id string, r io.Reader, size int64) (written bool, err error)

	// Read returns ErrNotFound when no blob exists.
	Read(ctx context.Context, id string) (io.ReadCloser, error)

	// Delete returns ErrNotFound when no blob exists.
	Delete(ctx context.Context, id string) error

	// List returns every identifier currently stored, in no particular order.
	List(ctx context.Context) ([]string, error)
}

// ValidateID rejects identifiers that could escape the storage root or
// collide with temporary files. Without separators and a leading dot an
// identifier is always a single plain name, so "a..b" is accepted.
func ValidateID(id string) error {
	switch {
	case id == "":
		return fmt.Errorf("%w: empty", ErrInvalidID)
	case strings.ContainsAny(id, `/\`):
		return fmt.Errorf("%w: %q contains a path separator", ErrInvalidID, id)
	case strings.HasPrefix(id, "."):
		return fmt.Errorf("%w: %q starts with a dot", ErrInvalidID, id)
	}
	return nil
}
