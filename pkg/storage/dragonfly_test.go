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
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testExpiry = time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)

func TestDragonflyStore_Put(t *testing.T) {
	client, mock := redismock.NewClientMock()

	store := &DragonflyStore{client: client}

	testCases := []struct {
		name    string
		id      string
		rec     *Record
		mocker  func()
		wantErr bool
	}{
		{
			name: "success",
			id:   "aB3xY9.txt",
			rec:  &Record{Hash: "deadbeef", Expiry: testExpiry},
			mocker: func() {
				payload, _ := json.Marshal(&Record{Hash: "deadbeef", Expiry: testExpiry})
				mock.ExpectSet("drop:file:aB3xY9.txt", payload, 0).SetVal("OK")
			},
			wantErr: false,
		},
		{
			name:    "nil record",
			id:      "nil.txt",
			rec:     nil,
			mocker:  func() {},
			wantErr: true,
		},
		{
			name: "redis error",
			id:   "err.txt",
			rec:  &Record{Hash: "cafe"},
			mocker: func() {
				payload, _ := json.Marshal(&Record{Hash: "cafe"})
				mock.ExpectSet("drop:file:err.txt", payload, 0).SetErr(errors.New("redis error"))
			},
			wantErr: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			tc.mocker()
			err := store.Put(context.Background(), tc.id, tc.rec)
			if (err != nil) != tc.wantErr {
				t.Errorf("Put() error = %v, wantErr %v", err, tc.wantErr)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("there were unfulfilled expectations: %s", err)
			}
		})
	}
}

func TestDragonflyStore_Get(t *testing.T) {
	client, mock := redismock.NewClientMock()

	store := &DragonflyStore{client: client}

	testCases := []struct {
		name         string
		id           string
		mocker       func()
		wantResult   *Record
		wantNotFound bool
		wantErr      bool
	}{
		{
			name: "success",
			id:   "aB3xY9.txt",
			mocker: func() {
				payload, _ := json.Marshal(&Record{Hash: "deadbeef", Expiry: testExpiry})
				mock.ExpectGet("drop:file:aB3xY9.txt").SetVal(string(payload))
			},
			wantResult: &Record{Hash: "deadbeef", Expiry: testExpiry},
		},
		{
			name: "key not found",
			id:   "missing.txt",
			mocker: func() {
				mock.ExpectGet("drop:file:missing.txt").SetErr(redis.Nil)
			},
			wantNotFound: true,
			wantErr:      true,
		},
		{
			name: "json unmarshal error",
			id:   "garbage.txt",
			mocker: func() {
				mock.ExpectGet("drop:file:garbage.txt").SetVal("invalid json")
			},
			wantErr: true,
		},
		{
			name: "redis error",
			id:   "down.txt",
			mocker: func() {
				mock.ExpectGet("drop:file:down.txt").SetErr(errors.New("connection refused"))
			},
			wantErr: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			tc.mocker()
			got, err := store.Get(context.Background(), tc.id)
			if (err != nil) != tc.wantErr {
				t.Fatalf("Get() error = %v, wantErr %v", err, tc.wantErr)
			}
			assert.Equal(t, tc.wantNotFound, errors.Is(err, ErrNotFound))
			if tc.wantResult != nil {
				require.NotNil(t, got)
				assert.Equal(t, tc.wantResult.Hash, got.Hash)
				assert.True(t, tc.wantResult.Expiry.Equal(got.Expiry))
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("there were unfulfilled expectations: %s", err)
			}
		})
	}
}

func TestDragonflyStore_Delete(t *testing.T) {
	client, mock := redismock.NewClientMock()
	store := &DragonflyStore{client: client}
	ctx := context.Background()

	mock.ExpectDel("drop:file:gone.txt").SetVal(1)
	assert.NoError(t, store.Delete(ctx, "gone.txt"))

	mock.ExpectDel("drop:file:never.txt").SetVal(0)
	assert.ErrorIs(t, store.Delete(ctx, "never.txt"), ErrNotFound)

	mock.ExpectDel("drop:file:down.txt").SetErr(errors.New("connection refused"))
	err := store.Delete(ctx, "down.txt")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDragonflyStore_RoundTrip(t *testing.T) {
	srv, err := miniredis.Run()
	if err != nil {
		t.Skipf("miniredis unavailable: %v", err)
	}
	defer srv.Close()

	store, err := NewDragonflyStore("redis://" + srv.Addr())
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	rec := &Record{Hash: "abc", Expiry: testExpiry}
	require.NoError(t, store.Put(ctx, "k1.png", rec))

	assert.True(t, srv.Exists("drop:file:k1.png"))
	assert.Zero(t, srv.TTL("drop:file:k1.png"))

	got, err := store.Get(ctx, "k1.png")
	require.NoError(t, err)
	assert.Equal(t, "abc", got.Hash)
	assert.True(t, testExpiry.Equal(got.Expiry))

	require.NoError(t, store.Delete(ctx, "k1.png"))
	_, err = store.Get(ctx, "k1.png")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNewDragonflyStoreErrors(t *testing.T) {
	_, err := NewDragonflyStore("not a url")
	assert.Error(t, err)

	srv, err := miniredis.Run()
	if err != nil {
		t.Skipf("miniredis unavailable: %v", err)
	}
	addr := srv.Addr()
	srv.Close()
	_, err = NewDragonflyStore("redis://" + addr)
	assert.Error(t, err)
}

var _ MetaStore = (*DragonflyStore)(nil)
