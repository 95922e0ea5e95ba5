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
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/fawa-io/drop/pkg/fwlog"
	"github.com/fawa-io/drop/pkg/metrics"
	"github.com/fawa-io/drop/pkg/storage"
)

// DefaultMaxBytes is the largest declared request length accepted.
const DefaultMaxBytes int64 = 512 << 20

// ErrorKind classifies a rejected upload.
type ErrorKind string

const (
	KindLengthRequired  ErrorKind = "length-required"
	KindPayloadTooLarge ErrorKind = "payload-too-large"
	KindBadRequest      ErrorKind = "bad-request"
	KindInternal        ErrorKind = "internal"
)

// Status returns the HTTP status code for k.
func (k ErrorKind) Status() int {
	switch k {
	case KindLengthRequired:
		return http.StatusLengthRequired
	case KindPayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	case KindBadRequest:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// UploadError is returned for every failed upload.
type UploadError struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *UploadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *UploadError) Unwrap() error { return e.Err }

// Upload is one parsed file part.
type Upload struct {
	Filename string
	Body     io.Reader
	// Size is the length of Body; zero or less means unknown.
	Size      int64
	Retention string
}

// Result describes a stored upload.
type Result struct {
	ID     string
	Path   string
	Hash   string
	Expiry time.Time
	Size   int64
	// Written is false when a blob already occupied ID and was left as is.
	Written bool
}

// Options tunes a Pipeline. Zero values take the defaults.
type Options struct {
	MaxBytes int64
	IDLength int
	Policy   Policy
	Metrics  metrics.Metrics
}

// Pipeline stores uploads: it reserves an identifier, streams the body
// into the blob store while hashing it, then records hash and expiry.
type Pipeline struct {
	meta     storage.MetaStore
	blobs    storage.BlobStore
	gen      *Generator
	policy   Policy
	maxBytes int64
	metrics  metrics.Metrics
	now      func() time.Time
}

func NewPipeline(meta storage.MetaStore, blobs storage.BlobStore, opts Options) *Pipeline {
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = DefaultMaxBytes
	}
	if opts.Policy == (Policy{}) {
		opts.Policy = DefaultPolicy
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Noop{}
	}
	return &Pipeline{
		meta:     meta,
		blobs:    blobs,
		gen:      NewGenerator(meta, blobs, opts.IDLength),
		policy:   opts.Policy,
		maxBytes: opts.MaxBytes,
		metrics:  opts.Metrics,
		now:      time.Now,
	}
}

// MaxBytes returns the declared-length ceiling.
func (p *Pipeline) MaxBytes() int64 { return p.maxBytes }

// Generator returns the identifier generator, whose reservations the
// collector honours.
func (p *Pipeline) Generator() *Generator { return p.gen }

// Admit checks the declared request length; -1 means none was declared.
func (p *Pipeline) Admit(declared int64) error {
	switch {
	case declared < 0:
		return p.Reject(KindLengthRequired, "length required", nil)
	case declared > p.maxBytes:
		return p.Reject(KindPayloadTooLarge,
			fmt.Sprintf("file is too large, limit is %d MB", p.maxBytes>>20), nil)
	}
	return nil
}

// Reject counts a rejected upload and returns it as an *UploadError.
func (p *Pipeline) Reject(kind ErrorKind, msg string, err error) *UploadError {
	p.metrics.IncRejected(string(kind))
	return &UploadError{Kind: kind, Msg: msg, Err: err}
}

// Ingest stores up. The blob is written before the record, and no record
// is written unless the blob write succeeded.
func (p *Pipeline) Ingest(ctx context.Context, up Upload) (*Result, error) {
	if up.Body == nil {
		return nil, p.Reject(KindBadRequest, "cannot locate file", nil)
	}

	id, release, err := p.gen.Reserve(ctx, Extension(up.Filename))
	if err != nil {
		return nil, p.Reject(KindInternal, "assign identifier", err)
	}
	defer release()

	size := up.Size
	if size <= 0 {
		size = -1
	}
	h := sha256.New()
	body := &countingReader{r: io.TeeReader(up.Body, h)}
	written, err := p.blobs.Write(ctx, id, body, size)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, p.Reject(KindPayloadTooLarge, "file is too large", err)
		}
		return nil, p.Reject(KindInternal, "write blob", err)
	}
	if !written {
		fwlog.Warnf("Blob %s already present, write skipped", id)
	}

	now := p.now()
	rec := &storage.Record{
		Hash:   hex.EncodeToString(h.Sum(nil)),
		Expiry: p.policy.Expiry(up.Retention, now),
	}
	if err := p.meta.Put(ctx, id, rec); err != nil {
		return nil, p.Reject(KindInternal, "record upload", err)
	}

	p.metrics.ObserveUpload(Normalize(up.Retention), body.n)
	fwlog.Infof("Stored %s (%d bytes, sha256 %s) until %s",
		id, body.n, rec.Hash, rec.Expiry.Format(time.RFC3339))

	return &Result{
		ID:      id,
		Path:    "/file/" + id,
		Hash:    rec.Hash,
		Expiry:  rec.Expiry,
		Size:    body.n,
		Written: written,
	}, nil
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
