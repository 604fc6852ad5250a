// Copyright 2026 The fwprotect authors. All Rights Reserved.
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

// Package metrics records protection runs as Prometheus metrics, written in
// the text exposition format for a node exporter textfile collector.
package metrics

import (
	"time"

	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/embedsec/fwprotect/internal/protect"
)

const namespace = "fwprotect"

// Run holds the metrics of a single protection run.
type Run struct {
	reg *prom.Registry

	records       prom.Gauge
	dataRecords   prom.Gauge
	tags          prom.Gauge
	padding       prom.Gauge
	artifactBytes prom.Gauge
	duration      prom.Gauge
	lastSuccess   prom.Gauge
	failures      *prom.CounterVec
}

// New returns a Run with every metric registered on a private registry.
func New() *Run {
	gauge := func(name, help string) prom.Gauge {
		return prom.NewGauge(prom.GaugeOpts{Namespace: namespace, Name: name, Help: help})
	}
	r := &Run{
		reg:           prom.NewRegistry(),
		records:       gauge("records", "Number of records in the last protected image."),
		dataRecords:   gauge("data_records", "Number of encrypted data records in the last protected image."),
		tags:          gauge("tags", "Number of page tags in the last artifact."),
		padding:       gauge("padding_bytes", "Bytes of tail padding added to the last image."),
		artifactBytes: gauge("artifact_bytes", "Size of the last packed artifact."),
		duration:      gauge("run_duration_seconds", "Wall time of the last protection run."),
		lastSuccess:   gauge("last_success_timestamp_seconds", "Unix time of the last successful run."),
		failures: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "failures_total",
			Help:      "Number of failed runs by error category.",
		}, []string{"category"}),
	}
	r.reg.MustRegister(r.records, r.dataRecords, r.tags, r.padding, r.artifactBytes, r.duration, r.lastSuccess, r.failures)
	return r
}

// Success records a completed run.
func (r *Run) Success(st protect.Stats, artifactBytes int, d time.Duration, now time.Time) {
	r.records.Set(float64(st.Records))
	r.dataRecords.Set(float64(st.DataRecords))
	r.tags.Set(float64(st.Tags))
	r.padding.Set(float64(st.Padding))
	r.artifactBytes.Set(float64(artifactBytes))
	r.duration.Set(d.Seconds())
	r.lastSuccess.Set(float64(now.Unix()))
}

// Failure records a failed run.
func (r *Run) Failure(category string, d time.Duration) {
	r.failures.WithLabelValues(category).Inc()
	r.duration.Set(d.Seconds())
}

// Gatherer exposes the registry.
func (r *Run) Gatherer() prom.Gatherer {
	return r.reg
}

// WriteFile writes the metrics to path atomically.
func (r *Run) WriteFile(path string) error {
	return prom.WriteToTextfile(path, r.reg)
}
