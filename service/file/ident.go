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

package file

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/fawa-io/drop/pkg/storage"
	"github.com/fawa-io/drop/pkg/util"
)

// DefaultIDLength is the number of random characters in an identifier.
const DefaultIDLength = 6

const maxExtLen = 16

// Generator issues identifiers that no record, blob or in-flight upload
// is using. A reserved identifier stays taken until its release func runs,
// so two uploads in this process never share one.
type Generator struct {
	meta   storage.MetaStore
	blobs  storage.BlobStore
	length int
	rand   func(n int) string

	mu       sync.Mutex
	reserved map[string]struct{}
}

// NewGenerator returns a Generator drawing length random characters.
// blobs may be nil, in which case only meta is consulted.
func NewGenerator(meta storage.MetaStore, blobs storage.BlobStore, length int) *Generator {
	if length <= 0 {
		length = DefaultIDLength
	}
	return &Generator{
		meta:     meta,
		blobs:    blobs,
		length:   length,
		rand:     util.RandomString,
		reserved: make(map[string]struct{}),
	}
}

// Reserve draws candidates until one is free and returns it with a func
// that releases the reservation. The loop has no attempt cap; it ends on
// success, a store error or ctx cancellation.
func (g *Generator) Reserve(ctx context.Context, ext string) (string, func(), error) {
	for {
		if err := ctx.Err(); err != nil {
			return "", nil, err
		}
		id := g.rand(g.length)
		if ext != "" {
			id += "." + ext
		}
		if !g.tryReserve(id) {
			continue
		}
		free, err := g.unused(ctx, id)
		if err != nil {
			g.release(id)
			return "", nil, err
		}
		if !free {
			g.release(id)
			continue
		}
		var once sync.Once
		return id, func() { once.Do(func() { g.release(id) }) }, nil
	}
}

// Reserved reports whether id is held by an upload in progress.
func (g *Generator) Reserved(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.reserved[id]
	return ok
}

func (g *Generator) tryReserve(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.reserved[id]; ok {
		return false
	}
	g.reserved[id] = struct{}{}
	return true
}

func (g *Generator) release(id string) {
	g.mu.Lock()
	delete(g.reserved, id)
	g.mu.Unlock()
}

// unused reports whether id has neither a record nor a blob. An expired
// record that has not been collected yet still counts as a use.
func (g *Generator) unused(ctx context.Context, id string) (bool, error) {
	_, err := g.meta.Get(ctx, id)
	switch {
	case err == nil:
		return false, nil
	case !errors.Is(err, storage.ErrNotFound):
		return false, fmt.Errorf("look up %q: %w", id, err)
	}
	if g.blobs == nil {
		return true, nil
	}
	ok, err := g.blobs.Exists(ctx, id)
	if err != nil {
		return false, fmt.Errorf("stat blob %q: %w", id, err)
	}
	return !ok, nil
}

// Extension returns the part of filename after its last dot, reduced to
// ASCII letters and digits. A name without a dot has no extension.
func Extension(filename string) string {
	i := strings.LastIndexByte(filename, '.')
	if i < 0 {
		return ""
	}
	var b strings.Builder
	for _, c := range filename[i+1:] {
		if b.Len() == maxExtLen {
			break
		}
		if c < 0x80 && (c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9') {
			b.WriteRune(c)
		}
	}
	return b.String()
}
