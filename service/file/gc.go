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
	"sync"
	"time"

	"github.com/fawa-io/drop/pkg/fwlog"
	"github.com/fawa-io/drop/pkg/metrics"
	"github.com/fawa-io/drop/pkg/storage"
)

// ErrIntegrity marks a record whose blob was gone when the collector came
// to delete it.
var ErrIntegrity = errors.New("integrity failure")

// InFlight reports identifiers whose upload has not finished yet.
type InFlight interface {
	Reserved(id string) bool
}

// Report summarises one sweep.
type Report struct {
	Scanned  int
	Expired  int
	Orphaned int
	Kept     int
	Skipped  int
}

// Collector removes expired uploads and blobs that have no record.
type Collector struct {
	meta     storage.MetaStore
	blobs    storage.BlobStore
	inflight InFlight
	metrics  metrics.Metrics
	now      func() time.Time

	// pending holds expired ids whose blob is gone but whose record
	// could not be deleted; List no longer reports them.
	mu      sync.Mutex
	pending map[string]struct{}
}

// NewCollector returns a Collector. inflight may be nil when no uploads
// run in this process; m may be nil.
func NewCollector(meta storage.MetaStore, blobs storage.BlobStore, inflight InFlight, m metrics.Metrics) *Collector {
	if m == nil {
		m = metrics.Noop{}
	}
	return &Collector{
		meta:     meta,
		blobs:    blobs,
		inflight: inflight,
		metrics:  m,
		now:      time.Now,
		pending:  make(map[string]struct{}),
	}
}

// Sweep visits every stored blob once. A blob without a record is deleted;
// a blob whose record has expired is deleted, then its record. Failures on
// one blob do not stop the sweep and are returned joined.
func (c *Collector) Sweep(ctx context.Context) (Report, error) {
	var rep Report
	errs := c.retryPending(ctx, &rep)

	ids, err := c.blobs.List(ctx)
	if err != nil {
		c.metrics.IncSweep("error")
		return rep, errors.Join(append(errs, fmt.Errorf("list blobs: %w", err))...)
	}

	now := c.now()
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		rep.Scanned++
		if c.inflight != nil && c.inflight.Reserved(id) {
			rep.Skipped++
			continue
		}
		if err := c.collect(ctx, id, now, &rep); err != nil {
			fwlog.Errorf("GC %s: %v", id, err)
			errs = append(errs, err)
		}
	}

	err = errors.Join(errs...)
	if err != nil {
		c.metrics.IncSweep("error")
	} else {
		c.metrics.IncSweep("ok")
	}
	return rep, err
}

func (c *Collector) collect(ctx context.Context, id string, now time.Time, rep *Report) error {
	rec, err := c.meta.Get(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		if err := c.blobs.Delete(ctx, id); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("delete orphan blob %s: %w", id, err)
		}
		rep.Orphaned++
		c.metrics.IncCollected("orphan")
		fwlog.Infof("GC removed orphan blob %s", id)
		return nil
	}
	if err != nil {
		return fmt.Errorf("look up %s: %w", id, err)
	}

	if !rec.Expired(now) {
		rep.Kept++
		return nil
	}

	var integrity error
	if err := c.blobs.Delete(ctx, id); err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("delete blob %s: %w", id, err)
		}
		integrity = fmt.Errorf("%w: blob %s of expired record vanished", ErrIntegrity, id)
	}
	if err := c.meta.Delete(ctx, id); err != nil && !errors.Is(err, storage.ErrNotFound) {
		c.addPending(id)
		return errors.Join(integrity, fmt.Errorf("delete record %s: %w", id, err))
	}
	rep.Expired++
	c.metrics.IncCollected("expired")
	fwlog.Infof("GC removed %s, expired at %s", id, rec.Expiry.Format(time.RFC3339))
	return integrity
}

// retryPending deletes records left behind by an earlier sweep.
func (c *Collector) retryPending(ctx context.Context, rep *Report) []error {
	c.mu.Lock()
	ids := make([]string, 0, len(c.pending))
	for id := range c.pending {
		ids = append(ids, id)
	}
	c.mu.Unlock()

	var errs []error
	for _, id := range ids {
		if err := c.meta.Delete(ctx, id); err != nil && !errors.Is(err, storage.ErrNotFound) {
			fwlog.Errorf("GC %s: retry delete record: %v", id, err)
			errs = append(errs, fmt.Errorf("delete record %s: %w", id, err))
			continue
		}
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		rep.Expired++
		c.metrics.IncCollected("expired")
		fwlog.Infof("GC removed leftover record %s", id)
	}
	return errs
}

func (c *Collector) addPending(id string) {
	c.mu.Lock()
	c.pending[id] = struct{}{}
	c.mu.Unlock()
}

// Run sweeps every interval until ctx is done.
func (c *Collector) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	fwlog.Infof("GC running every %s", interval)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rep, err := c.Sweep(ctx)
			if err != nil {
				fwlog.Errorf("GC sweep: %v", err)
			}
			fwlog.Debugf("GC sweep scanned=%d expired=%d orphaned=%d kept=%d skipped=%d",
				rep.Scanned, rep.Expired, rep.Orphaned, rep.Kept, rep.Skipped)
		}
	}
}
