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
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fawa-io/drop/pkg/metrics"
	"github.com/fawa-io/drop/pkg/storage"
)

type testServer struct {
	meta    *storage.FileStore
	blobs   *storage.DiskStore
	handler *Handler
	mux     http.Handler
}

func newTestServer(t *testing.T, opts Options) *testServer {
	t.Helper()
	meta, blobs := newStores(t)
	m := metrics.NewProm("drop", nil)
	opts.Metrics = m
	h := NewHandler(NewPipeline(meta, blobs, opts), meta, blobs, m.Handler())
	return &testServer{meta: meta, blobs: blobs, handler: h, mux: h.Routes()}
}

func (s *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) assertEmpty(t *testing.T) {
	t.Helper()
	assert.Equal(t, 0, s.meta.Len())
	ids, err := s.blobs.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ids)
}

// multipartBody builds a form with an optional file part and date field.
func multipartBody(t *testing.T, filename string, content []byte, date string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if date != "" {
		require.NoError(t, mw.WriteField("date", date))
	}
	if filename != "" {
		fw, err := mw.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = fw.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func uploadRequest(t *testing.T, filename string, content []byte, date string) *http.Request {
	body, ct := multipartBody(t, filename, content, date)
	req := httptest.NewRequest(http.MethodPost, "/upload", body)
	req.Header.Set("Content-Type", ct)
	return req
}

func TestUploadAndServe(t *testing.T) {
	s := newTestServer(t, Options{})
	payload := []byte("%PDF-1.4 not really")

	rec := s.do(uploadRequest(t, "report.pdf", payload, "month"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	p := rec.Body.String()
	require.True(t, strings.HasPrefix(p, "/file/"))
	require.True(t, strings.HasSuffix(p, ".pdf"))
	id := strings.TrimPrefix(p, "/file/")

	got, err := s.meta.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, sha256Hex(payload), got.Hash)
	assert.WithinDuration(t, time.Now().Add(28*24*time.Hour), got.Expiry, time.Minute)

	rec = s.do(httptest.NewRequest(http.MethodGet, p, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, payload, rec.Body.Bytes())
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	// conditional request against the content hash
	req := httptest.NewRequest(http.MethodGet, p, nil)
	req.Header.Set("If-None-Match", `"`+got.Hash+`"`)
	assert.Equal(t, http.StatusNotModified, s.do(req).Code)
}

func TestUploadRejections(t *testing.T) {
	tests := []struct {
		name   string
		req    func(t *testing.T) *http.Request
		status int
	}{
		{
			name: "no content length",
			req: func(t *testing.T) *http.Request {
				r := uploadRequest(t, "a.txt", []byte("x"), "")
				r.ContentLength = -1
				return r
			},
			status: http.StatusLengthRequired,
		},
		{
			name: "declared too large",
			req: func(t *testing.T) *http.Request {
				return uploadRequest(t, "big.bin", bytes.Repeat([]byte("x"), 2048), "")
			},
			status: http.StatusRequestEntityTooLarge,
		},
		{
			name: "not multipart",
			req: func(t *testing.T) *http.Request {
				r := httptest.NewRequest(http.MethodPost, "/upload", strings.NewReader("plain"))
				r.Header.Set("Content-Type", "text/plain")
				return r
			},
			status: http.StatusBadRequest,
		},
		{
			name: "missing file part",
			req: func(t *testing.T) *http.Request {
				return uploadRequest(t, "", nil, "week")
			},
			status: http.StatusBadRequest,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, Options{MaxBytes: 1024})
			rec := s.do(tt.req(t))
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			s.assertEmpty(t)
		})
	}
}

func TestUploadBodyLongerThanCeiling(t *testing.T) {
	s := newTestServer(t, Options{MaxBytes: 1024})
	req := uploadRequest(t, "big.bin", bytes.Repeat([]byte("x"), 4096), "")
	// a client that understates its length
	req.ContentLength = 100
	rec := s.do(req)
	assert.Contains(t, []int{http.StatusRequestEntityTooLarge, http.StatusBadRequest}, rec.Code)
	s.assertEmpty(t)
}

func TestUploadDefaultRetention(t *testing.T) {
	s := newTestServer(t, Options{})
	rec := s.do(uploadRequest(t, "notes", []byte("no extension"), "forever"))
	require.Equal(t, http.StatusOK, rec.Code)
	id := strings.TrimPrefix(rec.Body.String(), "/file/")
	assert.NotContains(t, id, ".")

	got, err := s.meta.Get(context.Background(), id)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(24*time.Hour), got.Expiry, time.Minute)
}

func TestServeFileNotFound(t *testing.T) {
	ctx := context.Background()
	s := newTestServer(t, Options{})

	// expired record with blob still present
	_, err := s.blobs.Write(ctx, "old.txt", strings.NewReader("stale"), -1)
	require.NoError(t, err)
	require.NoError(t, s.meta.Put(ctx, "old.txt", &storage.Record{Hash: "h", Expiry: time.Now().Add(-time.Second)}))

	// orphan blob without a record
	_, err = s.blobs.Write(ctx, "orphan.txt", strings.NewReader("orphan"), -1)
	require.NoError(t, err)

	// live record whose blob is gone
	require.NoError(t, s.meta.Put(ctx, "lost.txt", &storage.Record{Hash: "h", Expiry: time.Now().Add(time.Hour)}))

	for _, p := range []string{"/file/old.txt", "/file/orphan.txt", "/file/lost.txt", "/file/missing", "/file/a/b"} {
		rec := s.do(httptest.NewRequest(http.MethodGet, p, nil))
		assert.Equal(t, http.StatusNotFound, rec.Code, p)
	}
}

func TestIndexHealthMetrics(t *testing.T) {
	s := newTestServer(t, Options{})

	rec := s.do(httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `name="file"`)
	assert.Contains(t, body, `name="date"`)
	assert.Contains(t, body, "File size limit is 512MB")

	rec = s.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	s.do(uploadRequest(t, "a.txt", []byte("abc"), "week"))
	rec = s.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	out, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(out), `drop_uploads_total{retention="week"} 1`)

	rec = s.do(httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// sizeRecorder remembers the size passed to each Write.
type sizeRecorder struct {
	storage.BlobStore
	sizes []int64
}

func (s *sizeRecorder) Write(ctx context.Context, id string, r io.Reader, size int64) (bool, error) {
	s.sizes = append(s.sizes, size)
	return s.BlobStore.Write(ctx, id, r, size)
}

func TestUploadPassesFileSize(t *testing.T) {
	meta, blobs := newStores(t)
	rec := &sizeRecorder{BlobStore: blobs}
	p := NewPipeline(meta, rec, Options{})
	mux := NewHandler(p, meta, rec, nil).Routes()

	payload := bytes.Repeat([]byte("z"), 3000)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, uploadRequest(t, "z.bin", payload, ""))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, []int64{int64(len(payload))}, rec.sizes)
}
