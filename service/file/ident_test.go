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
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fawa-io/drop/pkg/storage"
)

func TestExtension(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"photo.png", "png"},
		{"archive.tar.gz", "gz"},
		{"README", ""},
		{"trailing.", ""},
		{".bashrc", "bashrc"},
		{"weird.p/n\\g", "png"},
		{"x." + strings.Repeat("a", 40), strings.Repeat("a", maxExtLen)},
		{"unicode.jpég", "jpg"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Extension(tt.name))
		})
	}
}

func TestReserveFormat(t *testing.T) {
	meta, blobs := newStores(t)
	g := NewGenerator(meta, blobs, 0)

	id, release, err := g.Reserve(context.Background(), "txt")
	require.NoError(t, err)
	defer release()
	require.Len(t, id, DefaultIDLength+len(".txt"))
	assert.True(t, strings.HasSuffix(id, ".txt"))
	assert.NoError(t, storage.ValidateID(id))

	id, release2, err := g.Reserve(context.Background(), "")
	require.NoError(t, err)
	defer release2()
	assert.Len(t, id, DefaultIDLength)
	assert.NotContains(t, id, ".")
}

func TestReserveSkipsUsedIdentifiers(t *testing.T) {
	ctx := context.Background()
	meta, blobs := newStores(t)

	// live record
	require.NoError(t, meta.Put(ctx, "aaaaaa.txt", &storage.Record{Hash: "h", Expiry: time.Now().Add(time.Hour)}))
	// expired but not yet collected
	require.NoError(t, meta.Put(ctx, "bbbbbb.txt", &storage.Record{Hash: "h", Expiry: time.Now().Add(-time.Hour)}))
	// orphan blob
	_, err := blobs.Write(ctx, "cccccc.txt", strings.NewReader("orphan"), -1)
	require.NoError(t, err)

	g := NewGenerator(meta, blobs, 6)
	g.rand = sequence("aaaaaa", "bbbbbb", "cccccc", "dddddd")

	id, release, err := g.Reserve(ctx, "txt")
	require.NoError(t, err)
	defer release()
	assert.Equal(t, "dddddd.txt", id)
}

func TestReserveInFlight(t *testing.T) {
	meta, blobs := newStores(t)
	g := NewGenerator(meta, blobs, 6)
	g.rand = sequence("aaaaaa", "aaaaaa", "bbbbbb")

	first, release, err := g.Reserve(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "aaaaaa", first)
	assert.True(t, g.Reserved("aaaaaa"))

	second, release2, err := g.Reserve(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "bbbbbb", second)

	release()
	release() // idempotent
	release2()
	assert.False(t, g.Reserved("aaaaaa"))
	assert.False(t, g.Reserved("bbbbbb"))
}

func TestReserveStoreError(t *testing.T) {
	meta, blobs := newStores(t)
	g := NewGenerator(&faultyMeta{MetaStore: meta, getErr: errBackend}, blobs, 6)
	g.rand = sequence("aaaaaa")

	_, _, err := g.Reserve(context.Background(), "txt")
	require.ErrorIs(t, err, errBackend)
	assert.False(t, g.Reserved("aaaaaa.txt"))
}

func TestReserveCancelled(t *testing.T) {
	ctx := context.Background()
	meta, _ := newStores(t)
	require.NoError(t, meta.Put(ctx, "aaaaaa", &storage.Record{Expiry: time.Now().Add(time.Hour)}))

	g := NewGenerator(meta, nil, 6)
	g.rand = sequence("aaaaaa")

	cctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, _, err := g.Reserve(cctx, "")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestReserveConcurrentUnique(t *testing.T) {
	meta, blobs := newStores(t)
	g := NewGenerator(meta, blobs, 2)

	const n = 200
	ids := make(chan string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, _, err := g.Reserve(context.Background(), "bin")
			if assert.NoError(t, err) {
				ids <- id
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[string]bool)
	for id := range ids {
		assert.False(t, seen[id], "duplicate %s", id)
		seen[id] = true
	}
	assert.Len(t, seen, n)
}
