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
	"time"

	"go.elastic.co/apm/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	// DefaultBatchSize is the number of documents sent in each bulk request
	// when Config.BatchSize is unset.
	DefaultBatchSize = 5000

	defaultMaxRequests     = 10
	defaultRetryBackoff    = time.Second
	defaultRetryBackoffMax = 30 * time.Second
)

// Config holds configuration for Appender.
type Config struct {
	// Logger holds an optional Logger to use for logging bulk requests.
	//
	// Rejected and lost batches are logged at error level, throttled
	// requests and item level failures at warn level.
	//
	// If Logger is nil, logging will be disabled.
	Logger *zap.Logger

	// Tracer holds an optional apm.Tracer to use for tracing bulk requests
	// to Elasticsearch. Each bulk request is traced as a transaction.
	//
	// If Tracer is nil, requests will not be traced.
	Tracer *apm.Tracer

	// TracerProvider holds an optional OTel TracerProvider. When set, each
	// bulk request is recorded as a span.
	TracerProvider trace.TracerProvider

	// MeterProvider holds the OTel MeterProvider to be used to create and
	// record appender metrics.
	//
	// If unset, the global OTel MeterProvider will be used, if that is unset,
	// no metrics will be recorded.
	MeterProvider metric.MeterProvider

	// MetricAttributes holds any extra attributes to set in the recorded
	// metrics.
	MetricAttributes attribute.Set

	// Action selects how documents are encoded into bulk operations.
	//
	// Defaults to ActionCreate.
	Action Action

	// BatchSize holds the number of documents queued before a bulk request
	// is dispatched.
	//
	// If BatchSize is zero, DefaultBatchSize will be used.
	BatchSize int

	// MaxRequests holds the maximum number of bulk requests in flight at
	// once. Send blocks while the limit is reached.
	//
	// If MaxRequests is less than or equal to zero, the default of 10 will be used.
	MaxRequests int

	// CompressionLevel holds the gzip compression level, from 0 (gzip.NoCompression)
	// to 9 (gzip.BestCompression). Higher values provide greater compression, at a
	// greater cost of CPU. The special value -1 (gzip.DefaultCompression) selects the
	// default compression level.
	CompressionLevel int

	// RetryBackoff holds the wait before the first retry of a throttled
	// bulk request. The wait doubles after every retry.
	//
	// If RetryBackoff is zero, the default of 1 second will be used.
	RetryBackoff time.Duration

	// RetryBackoffMax caps the wait between retries.
	//
	// If RetryBackoffMax is zero, the default of 30 seconds will be used.
	RetryBackoffMax time.Duration

	// MaxRetries holds the maximum number of retries of a throttled bulk
	// request. A batch still throttled after the last retry is dropped.
	//
	// If MaxRetries is zero, throttled requests are retried until they
	// succeed or Close is cancelled.
	MaxRetries int

	// OnBatch is called with the result of every batch once it terminates.
	// It may be called concurrently from multiple goroutines.
	OnBatch func(BatchResult)

	// Pipeline holds the ingest pipeline ID.
	//
	// If Pipeline is empty, no ingest pipeline will be specified in the Bulk request.
	Pipeline string
}

// DefaultConfig returns a copy of cfg with zero values replaced by defaults.
func DefaultConfig(cfg Config) Config {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.MaxRequests <= 0 {
		cfg.MaxRequests = defaultMaxRequests
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = defaultRetryBackoff
	}
	if cfg.RetryBackoffMax <= 0 {
		cfg.RetryBackoffMax = defaultRetryBackoffMax
	}
	if cfg.RetryBackoffMax < cfg.RetryBackoff {
		cfg.RetryBackoffMax = cfg.RetryBackoff
	}
	return cfg
}
