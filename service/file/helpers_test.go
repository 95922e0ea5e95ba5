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
	"io"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fawa-io/drop/pkg/metrics"
	"github.com/fawa-io/drop/pkg/storage"
)

func newStores(t *testing.T) (*storage.FileStore, *storage.DiskStore) {
	t.Helper()
	dir := t.TempDir()
	meta, err := storage.OpenFileStore(filepath.Join(dir, "db.yaml"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = meta.Close() })
	blobs, err := storage.NewDiskStore(filepath.Join(dir, "files"))
	require.NoError(t, err)
	return meta, blobs
}

// sequence returns a rand func that yields vals in order and then repeats
// the last one.
func sequence(vals ...string) func(int) string {
	var mu sync.Mutex
	i := 0
	return func(int) string {
		mu.Lock()
		defer mu.Unlock()
		v := vals[i]
		if i < len(vals)-1 {
			i++
		}
		return v
	}
}

// faultyMeta fails every Get with err and records nothing.
type faultyMeta struct {
	storage.MetaStore
	getErr error
	putErr error
}

func (f *faultyMeta) Get(ctx context.Context, id string) (*storage.Record, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.MetaStore.Get(ctx, id)
}

func (f *faultyMeta) Put(ctx context.Context, id string, rec *storage.Record) error {
	if f.putErr != nil {
		return f.putErr
	}
	return f.MetaStore.Put(ctx, id, rec)
}

var errBackend = errors.New("backend unavailable")

func scrape(t *testing.T, m *metrics.Prom) io.Reader {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	return rec.Body
}
