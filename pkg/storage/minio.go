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
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/fawa-io/drop/pkg/fwlog"
)

// MinioOptions configures a MinioStore.
type MinioOptions struct {
	// Endpoint is host:port or a http(s):// URL; the scheme selects TLS.
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
}

// MinioStore implements BlobStore on a MinIO/S3 bucket, one object per
// identifier. The existence check before a write is best-effort: S3 has
// no create-if-absent put, so two writers racing on one key can both
// pass it.
type MinioStore struct {
	client *minio.Client
	bucket string
}

// normaliseEndpoint accepts either "minio:9000" or "http(s)://minio:9000".
func normaliseEndpoint(raw string) (endpoint string, secure bool, err error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false, errors.New("empty endpoint")
	}

	if strings.Contains(raw, "://") {
		u, err := url.Parse(raw)
		if err != nil {
			return "", false, err
		}
		if u.Host == "" {
			return "", false, errors.New("invalid endpoint")
		}
		if u.Path != "" && u.Path != "/" {
			return "", false, errors.New("endpoint must not contain a path")
		}
		return u.Host, u.Scheme == "https", nil
	}

	return raw, false, nil
}

// NewMinioStore connects to MinIO and creates the bucket if it is missing.
func NewMinioStore(ctx context.Context, opts MinioOptions) (*MinioStore, error) {
	if opts.Bucket == "" {
		return nil, errors.New("minio bucket is required")
	}
	endpoint, secure, err := normaliseEndpoint(opts.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("minio endpoint: %w", err)
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKeyID, opts.SecretAccessKey, ""),
		Secure: secure,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio client: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	exists, err := client.BucketExists(ctx, opts.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check minio bucket %q: %w", opts.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, opts.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create minio bucket %q: %w", opts.Bucket, err)
		}
		fwlog.Infof("Created MinIO bucket: %s", opts.Bucket)
	}

	return &MinioStore{client: client, bucket: opts.Bucket}, nil
}

func isNoSuchKey(err error) bool {
	code := minio.ToErrorResponse(err).Code
	return code == "NoSuchKey" || code == "NotFound"
}

// Exists implements BlobStore.
func (s *MinioStore) Exists(ctx context.Context, id string) (bool, error) {
	if err := ValidateID(id); err != nil {
		return false, err
	}
	_, err := s.client.StatObject(ctx, s.bucket, id, minio.StatObjectOptions{})
	if err != nil {
		if isNoSuchKey(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat blob %s: %w", id, err)
	}
	return true, nil
}

// minioPartSize bounds the buffer minio-go allocates per upload. Left at
// zero, a stream of unknown length is split for the 5 TiB object maximum.
const minioPartSize = 16 << 20

// putArgs returns the size and options handed to PutObject.
func putArgs(size int64) (int64, minio.PutObjectOptions) {
	if size < 0 {
		size = -1
	}
	return size, minio.PutObjectOptions{
		ContentType: "application/octet-stream",
		PartSize:    minioPartSize,
	}
}

// Write implements BlobStore.
func (s *MinioStore) Write(ctx context.Context, id string, r io.Reader, size int64) (bool, error) {
	exists, err := s.Exists(ctx, id)
	if err != nil {
		return false, err
	}
	if exists {
		_, err := io.Copy(io.Discard, contextReader{ctx: ctx, r: r})
		return false, err
	}

	size, opts := putArgs(size)
	_, err = s.client.PutObject(ctx, s.bucket, id, r, size, opts)
	if err != nil {
		return false, fmt.Errorf("put blob %s: %w", id, err)
	}
	return true, nil
}

// Read implements BlobStore. The returned *minio.Object supports seeking.
func (s *MinioStore) Read(ctx context.Context, id string) (io.ReadCloser, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}
	obj, err := s.client.GetObject(ctx, s.bucket, id, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get blob %s: %w", id, err)
	}
	// GetObject is lazy; Stat surfaces a missing key now.
	if _, err := obj.Stat(); err != nil {
		_ = obj.Close()
		if isNoSuchKey(err) {
			return nil, fmt.Errorf("blob %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get blob %s: %w", id, err)
	}
	return obj, nil
}

// Delete implements BlobStore. RemoveObject succeeds on missing keys, so
// the object is stat'ed first to report ErrNotFound.
func (s *MinioStore) Delete(ctx context.Context, id string) error {
	exists, err := s.Exists(ctx, id)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("blob %s: %w", id, ErrNotFound)
	}
	if err := s.client.RemoveObject(ctx, s.bucket, id, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("delete blob %s: %w", id, err)
	}
	return nil
}

// List implements BlobStore.
func (s *MinioStore) List(ctx context.Context) ([]string, error) {
	var ids []string
	for object := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Recursive: true}) {
		if object.Err != nil {
			return nil, fmt.Errorf("list blobs: %w", object.Err)
		}
		if err := ValidateID(object.Key); err != nil {
			fwlog.Warnf("Ignoring object %s in bucket %s: %v", object.Key, s.bucket, err)
			continue
		}
		ids = append(ids, object.Key)
	}
	return ids, nil
}
