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

package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics records upload and collection activity.
type Metrics interface {
	ObserveUpload(retention string, bytes int64)
	IncRejected(reason string)
	IncCollected(reason string)
	IncSweep(status string)
}

// Noop implements Metrics without emitting anything.
type Noop struct{}

func (Noop) ObserveUpload(string, int64) {}
func (Noop) IncRejected(string)          {}
func (Noop) IncCollected(string)         {}
func (Noop) IncSweep(string)             {}

// Prom implements Metrics backed by Prometheus counters.
type Prom struct {
	uploads     *prometheus.CounterVec
	uploadBytes prometheus.Counter
	rejected    *prometheus.CounterVec
	collected   *prometheus.CounterVec
	sweeps      *prometheus.CounterVec
	gatherer    prometheus.Gatherer
}

// NewProm registers the counters with reg. A nil reg uses a fresh
// registry, which keeps tests independent of the global one.
func NewProm(namespace string, reg *prometheus.Registry) *Prom {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	p := &Prom{
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_total",
			Help:      "Stored uploads by retention keyword",
		}, []string{"retention"}),
		uploadBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upload_bytes_total",
			Help:      "Bytes received in stored uploads",
		}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_rejected_total",
			Help:      "Rejected uploads by reason",
		}, []string{"reason"}),
		collected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gc_deleted_total",
			Help:      "Blobs removed by the collector by reason",
		}, []string{"reason"}),
		sweeps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gc_sweeps_total",
			Help:      "Collector sweeps by outcome",
		}, []string{"status"}),
		gatherer: reg,
	}
	reg.MustRegister(p.uploads, p.uploadBytes, p.rejected, p.collected, p.sweeps)
	return p
}

func (p *Prom) ObserveUpload(retention string, bytes int64) {
	p.uploads.WithLabelValues(retention).Inc()
	if bytes > 0 {
		p.uploadBytes.Add(float64(bytes))
	}
}

func (p *Prom) IncRejected(reason string) {
	p.rejected.WithLabelValues(reason).Inc()
}

func (p *Prom) IncCollected(reason string) {
	p.collected.WithLabelValues(reason).Inc()
}

func (p *Prom) IncSweep(status string) {
	p.sweeps.WithLabelValues(status).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (p *Prom) Handler() http.Handler {
	return promhttp.HandlerFor(p.gatherer, promhttp.HandlerOpts{})
}
