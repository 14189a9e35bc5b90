// Licensed to Elasticsearch B.V. under one or more contributor
// license agreements. See the NOTICE file distributed with
// this work for additional information regarding copyright
// ownership. Elasticsearch B.V. licenses this file to you under
// the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an
// "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
// KIND, either express or implied.  See the License for the
// specific language governing permissions and limitations
// under the License.

package docpipe

import (
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

type metrics struct {
	flushDuration        metric.Float64Histogram
	docsAdded            metric.Int64Counter
	docsProcessed        metric.Int64Counter
	bulkRequests         metric.Int64Counter
	bulkRequestsRetried  metric.Int64Counter
	bytesTotal           metric.Int64Counter
	inflightBulkRequests metric.Int64UpDownCounter
}

type histogramMetric struct {
	name        string
	description string
	unit        string
	p           *metric.Float64Histogram
}

type counterMetric struct {
	name        string
	description string
	unit        string
	p           *metric.Int64Counter
}

func newMetrics(cfg Config) (metrics, error) {
	if cfg.MeterProvider == nil {
		cfg.MeterProvider = otel.GetMeterProvider()
	}
	meter := cfg.MeterProvider.Meter("github.com/elastic/go-docpipe")
	ms := metrics{}
	histograms := []histogramMetric{
		{
			name:        "docpipe.flushed.latency",
			description: "The amount of time a batch took to complete, including retries, in seconds.",
			unit:        "s",
			p:           &ms.flushDuration,
		},
	}
	for _, m := range histograms {
		if err := newFloat64Histogram(meter, m); err != nil {
			return ms, err
		}
	}

	counters := []counterMetric{
		{
			name:        "docpipe.docs.added",
			description: "The number of documents passed to the appender.",
			p:           &ms.docsAdded,
		},
		{
			name:        "docpipe.docs.processed",
			description: "The number of documents whose batch terminated, by status.",
			p:           &ms.docsProcessed,
		},
		{
			name:        "docpipe.bulk_requests.count",
			description: "The number of bulk requests sent, including retries.",
			p:           &ms.bulkRequests,
		},
		{
			name:        "docpipe.bulk_requests.retried",
			description: "The number of bulk requests retried after being throttled.",
			p:           &ms.bulkRequestsRetried,
		},
		{
			name:        "docpipe.flushed.bytes",
			description: "The total number of bytes written to request bodies.",
			unit:        "by",
			p:           &ms.bytesTotal,
		},
	}
	for _, m := range counters {
		if err := newInt64Counter(meter, m); err != nil {
			return ms, err
		}
	}

	inflight, err := meter.Int64UpDownCounter(
		"docpipe.bulk_requests.inflight",
		metric.WithUnit("1"),
		metric.WithDescription("The number of batches being sent or waiting to be retried."),
	)
	if err != nil {
		return ms, fmt.Errorf("failed creating docpipe.bulk_requests.inflight metric: %w", err)
	}
	ms.inflightBulkRequests = inflight
	return ms, nil
}

func newInt64Counter(meter metric.Meter, c counterMetric) error {
	unit := c.unit
	if unit == "" {
		unit = "1"
	}
	m, err := meter.Int64Counter(
		c.name,
		metric.WithUnit(unit),
		metric.WithDescription(c.description),
	)
	if err != nil {
		return fmt.Errorf(
			"failed creating %s metric: %w", c.name, err,
		)
	}
	*c.p = m
	return nil
}

func newFloat64Histogram(meter metric.Meter, h histogramMetric) error {
	m, err := meter.Float64Histogram(
		h.name,
		metric.WithUnit(h.unit),
		metric.WithDescription(h.description),
	)
	if err != nil {
		return fmt.Errorf(
			"failed creating %s metric: %w", h.name, err,
		)
	}
	*h.p = m
	return nil
}
