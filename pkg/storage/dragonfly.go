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
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fawa-io/drop/pkg/fwlog"
)

const keyPrefix = "drop:file:"

// DragonflyStore implements MetaStore on Dragonfly/Redis. Records carry
// no TTL; the collector decides when they go. Durability is whatever the
// server's persistence settings give.
type DragonflyStore struct {
	client redis.Cmdable
}

// NewDragonflyStore connects to url (redis://host:port/db) and checks the
// connection.
func NewDragonflyStore(url string) (*DragonflyStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse dragonfly url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect dragonfly: %w", err)
	}
	return &DragonflyStore{client: client}, nil
}

func recordKey(id string) string {
	return keyPrefix + id
}

// Put implements MetaStore.
func (d *DragonflyStore) Put(ctx context.Context, id string, rec *Record) error {
	if rec == nil {
		return errors.New("record cannot be nil")
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := d.client.Set(ctx, recordKey(id), payload, 0).Err(); err != nil {
		return fmt.Errorf("put record %s: %w", id, err)
	}
	return nil
}

// Get implements MetaStore.
func (d *DragonflyStore) Get(ctx context.Context, id string) (*Record, error) {
	val, err := d.client.Get(ctx, recordKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("record %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get record %s: %w", id, err)
	}

	var rec Record
	if err := json.Unmarshal([]byte(val), &rec); err != nil {
		return nil, fmt.Errorf("decode record %s: %w", id, err)
	}
	return &rec, nil
}

// Delete implements MetaStore.
func (d *DragonflyStore) Delete(ctx context.Context, id string) error {
	n, err := d.client.Del(ctx, recordKey(id)).Result()
	if err != nil {
		return fmt.Errorf("delete record %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("record %s: %w", id, ErrNotFound)
	}
	return nil
}

// Close implements MetaStore.
func (d *DragonflyStore) Close() error {
	if d == nil {
		return nil
	}
	if client, ok := d.client.(*redis.Client); ok {
		fwlog.Info("Closing Redis/Dragonfly connection...")
		return client.Close()
	}
	if client, ok := d.client.(*redis.ClusterClient); ok {
		fwlog.Info("Closing Redis/Dragonfly cluster connection...")
		return client.Close()
	}
	return nil
}
