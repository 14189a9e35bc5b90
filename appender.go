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
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/elastic/go-elasticsearch/v8/esapi"
	"go.elastic.co/apm/module/apmzap/v2"
	"go.elastic.co/apm/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

var (
	// ErrClosed is returned from methods of closed Appenders.
	ErrClosed = errors.New("appender closed")

	errMissingHost  = errors.New("missing host name")
	errMissingIndex = errors.New("missing index name")
	errThrottled    = errors.New("bulk request throttled")
)

// Outcome describes how a batch terminated.
type Outcome int

const (
	// OutcomeAccepted means Elasticsearch processed the bulk request. Some
	// items may still have failed.
	OutcomeAccepted Outcome = iota
	// OutcomeRejected means Elasticsearch rejected the whole request with
	// 400 Bad Request.
	OutcomeRejected
	// OutcomeLost means the request could not be executed, its response
	// could not be read, or it stayed throttled past the retry limit.
	OutcomeLost
	// OutcomeUnencodable means a document of the batch could not be
	// encoded, so the batch was never sent.
	OutcomeUnencodable
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAccepted:
		return "Accepted"
	case OutcomeRejected:
		return "Rejected"
	case OutcomeLost:
		return "Lost"
	case OutcomeUnencodable:
		return "Unencodable"
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

// BatchResult is the result of sending one batch.
type BatchResult struct {
	// Docs holds the number of documents in the batch.
	Docs int
	// Indexed holds the number of documents Elasticsearch accepted.
	Indexed int
	// Attempts holds the number of bulk requests sent for the batch.
	Attempts int
	Outcome  Outcome
	// Err is set for every outcome other than OutcomeAccepted.
	Err error
}

// Stats holds bulk indexing statistics.
type Stats struct {
	// Added holds the number of documents passed to Send.
	Added int64

	// Batches holds the number of batches dispatched or dropped.
	Batches int64

	// BulkRequests holds the number of bulk requests sent, including retries.
	BulkRequests int64

	// Retries holds the number of bulk requests resent after a 429.
	Retries int64

	// Indexed holds the number of documents Elasticsearch confirmed.
	Indexed int64

	// Failed holds the number of documents failing at item level in
	// otherwise accepted batches.
	Failed int64

	// Rejected holds the number of documents in batches rejected with 400.
	Rejected int64

	// Lost holds the number of documents in batches lost to transport
	// errors, undecodable responses or exhausted retries.
	Lost int64

	// Unencodable holds the number of documents in batches that failed to
	// encode.
	Unencodable int64
}

// Appender sends documents to a single Elasticsearch index using the bulk API.
//
// Documents are queued until Config.BatchSize is reached, then the batch is
// encoded and sent in a background goroutine while Send returns. Up to
// Config.MaxRequests batches may be in flight; beyond that Send blocks until
// one completes. There is no ordering guarantee across batches.
//
// Send and Close must not be called concurrently with each other.
type Appender struct {
	added       atomic.Int64
	batches     atomic.Int64
	requests    atomic.Int64
	retries     atomic.Int64
	indexed     atomic.Int64
	failed      atomic.Int64
	rejected    atomic.Int64
	lost        atomic.Int64
	unencodable atomic.Int64

	config                Config
	host                  string
	indexer               *bulkIndexer
	queue                 *batchQueue
	sem                   *semaphore.Weighted
	errgroup              errgroup.Group
	errgroupContext       context.Context
	cancelErrgroupContext context.CancelCauseFunc
	metrics               metrics
	mu                    sync.Mutex
	closed                chan struct{}

	// tracer is an OTel tracer, and should not be confused with `a.config.Tracer`
	// which is an Elastic APM Tracer.
	tracer trace.Tracer
}

// New returns a new Appender that sends documents to the index named by the
// path of target, on the host of target. Requests are sent through client,
// which is expected to already point at that host.
func New(client esapi.Transport, target *url.URL, cfg Config) (*Appender, error) {
	cfg = DefaultConfig(cfg)
	if target == nil || target.Hostname() == "" {
		return nil, fmt.Errorf("invalid target: %w", errMissingHost)
	}
	index := strings.Trim(target.Path, "/")
	if index == "" {
		return nil, fmt.Errorf("invalid target %s: %w", target.Redacted(), errMissingIndex)
	}
	if cfg.BatchSize < 1 {
		return nil, fmt.Errorf("expected BatchSize of at least 1, got %d", cfg.BatchSize)
	}
	if !cfg.Action.valid() {
		return nil, fmt.Errorf("invalid bulk action %s", cfg.Action)
	}
	indexer, err := newBulkIndexer(client, index, cfg)
	if err != nil {
		return nil, fmt.Errorf("error creating bulk indexer: %w", err)
	}
	ms, err := newMetrics(cfg)
	if err != nil {
		return nil, err
	}

	a := &Appender{
		config:  cfg,
		host:    target.Hostname(),
		indexer: indexer,
		queue:   newBatchQueue(cfg.BatchSize),
		sem:     semaphore.NewWeighted(int64(cfg.MaxRequests)),
		metrics: ms,
		closed:  make(chan struct{}),
	}
	// One batch failing must not cancel the others, so errgroup.WithContext
	// is not used. The context is cancelled when Close's context is done.
	a.errgroupContext, a.cancelErrgroupContext = context.WithCancelCause(
		context.Background(),
	)
	if cfg.TracerProvider != nil {
		a.tracer = cfg.TracerProvider.Tracer("github.com/elastic/go-docpipe.appender")
	}
	cfg.Logger.Debug("elasticsearch output", zap.String("host", a.host), zap.String("index", index))
	return a, nil
}

// String returns the destination as host:index.
func (a *Appender) String() string {
	return a.host + ":" + a.indexer.index
}

// Send queues doc. When the queue reaches Config.BatchSize, the batch is
// dispatched in the background.
//
// Send always reports 0 documents sent: the number of documents
// Elasticsearch accepted is only known once Close returns. An error is only
// returned when the Appender is closed, or when ctx is done while waiting
// for a free bulk request slot, in which case the batch is counted as lost.
func (a *Appender) Send(ctx context.Context, doc Document) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	select {
	case <-a.closed:
		return 0, ErrClosed
	default:
	}

	a.added.Add(1)
	a.metrics.docsAdded.Add(context.Background(), 1, a.metricAttrs())
	if a.queue.push(doc) {
		if err := a.flush(ctx); err != nil {
			return 0, err
		}
	}
	return 0, nil
}

// Close sends any queued documents and waits for every batch to terminate.
//
// Batch failures are logged and reflected in the returned Stats rather than
// returned as errors. If ctx is done before all batches terminate, pending
// retries are abandoned and ctx.Err() is returned.
func (a *Appender) Close(ctx context.Context) (Stats, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	select {
	case <-a.closed:
		a.errgroup.Wait()
		return a.Stats(), nil
	default:
	}
	close(a.closed)

	// Cancel backoff waits and in flight requests when ctx is done.
	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		defer a.cancelErrgroupContext(errors.New("cancelled by appender close"))
		<-waitCtx.Done()
	}()

	flushErr := a.flush(waitCtx)
	a.errgroup.Wait()
	if err := ctx.Err(); err != nil {
		return a.Stats(), err
	}
	return a.Stats(), flushErr
}

// Stats returns the bulk indexing stats.
func (a *Appender) Stats() Stats {
	return Stats{
		Added:        a.added.Load(),
		Batches:      a.batches.Load(),
		BulkRequests: a.requests.Load(),
		Retries:      a.retries.Load(),
		Indexed:      a.indexed.Load(),
		Failed:       a.failed.Load(),
		Rejected:     a.rejected.Load(),
		Lost:         a.lost.Load(),
		Unencodable:  a.unencodable.Load(),
	}
}

// flush drains the queue into a batch and dispatches it. It must be called
// with a.mu held.
func (a *Appender) flush(ctx context.Context) error {
	docs := a.queue.drain()
	n := len(docs)
	if n == 0 {
		return nil
	}
	logger := a.config.Logger
	logger.Debug("flushing queue", zap.Int("documents", n), zap.Int("queued", a.queue.size()))

	ops, err := EncodeBatch(a.config.Action, docs)
	if err != nil {
		logger.Error("failed to encode batch, dropping it", zap.Error(err), zap.Int("documents", n))
		a.record(BatchResult{Docs: n, Outcome: OutcomeUnencodable, Err: err})
		return nil
	}
	payload, err := a.indexer.encode(ops)
	if err != nil {
		logger.Error("failed to encode batch, dropping it", zap.Error(err), zap.Int("documents", n))
		a.record(BatchResult{Docs: n, Outcome: OutcomeUnencodable, Err: err})
		return nil
	}

	if err := a.sem.Acquire(ctx, 1); err != nil {
		logger.Error("no bulk request slot available, dropping batch", zap.Error(err), zap.Int("documents", n))
		a.record(BatchResult{Docs: n, Outcome: OutcomeLost, Err: err})
		return err
	}
	a.metrics.inflightBulkRequests.Add(context.Background(), 1, a.metricAttrs())
	a.errgroup.Go(func() error {
		defer a.sem.Release(1)
		var result BatchResult
		took := timeFunc(func() {
			result = a.send(a.errgroupContext, payload)
		})
		attrs := a.metricAttrs()
		a.metrics.inflightBulkRequests.Add(context.Background(), -1, attrs)
		a.metrics.flushDuration.Record(context.Background(), took.Seconds(), attrs)
		a.record(result)
		return nil
	})
	return nil
}

// send executes the bulk request for one batch, retrying while
// Elasticsearch responds with 429 Too Many Requests.
func (a *Appender) send(ctx context.Context, p *bulkPayload) BatchResult {
	n := p.docs
	logger := a.config.Logger.With(zap.String("output", a.String()))

	if a.config.Tracer != nil {
		tx := a.config.Tracer.StartTransaction("docpipe.flush", "output")
		defer tx.End()
		ctx = apm.ContextWithTransaction(ctx, tx)
		logger = logger.With(apmzap.TraceContext(ctx)...)
	}
	var span trace.Span
	if a.tracer != nil {
		ctx, span = a.tracer.Start(ctx, "docpipe.flush", trace.WithAttributes(
			attribute.Int("documents", n),
		))
		defer span.End()
	}
	fail := func(result BatchResult, msg string) BatchResult {
		if a.config.Tracer != nil {
			apm.CaptureError(ctx, result.Err).Send()
		}
		if span != nil && span.IsRecording() {
			span.RecordError(result.Err)
			span.SetStatus(codes.Error, msg)
		}
		return result
	}

	policy := newRetryPolicy(a.config)
	for {
		logger.Debug("sending bulk request", zap.Int("documents", n), zap.Int("attempt", policy.attempt))
		status, resp, err := a.indexer.Do(ctx, p)
		a.requests.Add(1)
		attrs := a.metricAttrs()
		a.metrics.bulkRequests.Add(context.Background(), 1, attrs)
		if err != nil {
			logger.Error("bulk request failed", zap.Error(err), zap.Int("documents", n))
			return fail(BatchResult{Docs: n, Attempts: policy.attempt, Outcome: OutcomeLost, Err: err}, "bulk request failed")
		}
		a.metrics.bytesTotal.Add(context.Background(), int64(len(p.body)), attrs)

		switch status {
		case http.StatusBadRequest:
			err := fmt.Errorf("bulk request rejected: %s", resp.ErrorCause())
			logger.Error("bulk response: 400 - Bad request",
				zap.String("cause", resp.ErrorCause()),
				zap.Int("documents", n),
			)
			return fail(BatchResult{Docs: n, Attempts: policy.attempt, Outcome: OutcomeRejected, Err: err}, "bulk request rejected")
		case http.StatusTooManyRequests:
			attempt := policy.attempt
			wait, ok := policy.next()
			if !ok {
				err := fmt.Errorf("%w after %d attempts: %s", errThrottled, attempt, resp.ErrorCause())
				logger.Error("bulk response: 429 - Too many requests, giving up",
					zap.String("cause", resp.ErrorCause()),
					zap.Int("attempts", attempt),
					zap.Int("documents", n),
				)
				return fail(BatchResult{Docs: n, Attempts: attempt, Outcome: OutcomeLost, Err: err}, "bulk request throttled")
			}
			logger.Warn("bulk response: 429 - Too many requests, retrying",
				zap.String("cause", resp.ErrorCause()),
				zap.Int("attempt", attempt),
				zap.Duration("backoff", wait),
			)
			a.retries.Add(1)
			a.metrics.bulkRequestsRetried.Add(context.Background(), 1, attrs)
			if err := sleepContext(ctx, wait); err != nil {
				return fail(BatchResult{Docs: n, Attempts: attempt, Outcome: OutcomeLost, Err: err}, "bulk request retry cancelled")
			}
			continue
		}

		indexed := min(resp.SuccessCount(), n)
		if resp.HasErrors() {
			logger.Warn("bulk response contained errors",
				zap.String("errors", resp.ErrorCounts()),
				zap.Int("documents_failed", n-indexed),
			)
		}
		logger.Debug("bulk request completed",
			zap.Int("status", status),
			zap.Int("docs_indexed", indexed),
			zap.Int("docs_failed", n-indexed),
		)
		if span != nil && span.IsRecording() {
			span.SetStatus(codes.Ok, "")
		}
		return BatchResult{Docs: n, Indexed: indexed, Attempts: policy.attempt, Outcome: OutcomeAccepted}
	}
}

func (a *Appender) record(r BatchResult) {
	a.batches.Add(1)
	var status string
	switch r.Outcome {
	case OutcomeAccepted:
		a.indexed.Add(int64(r.Indexed))
		a.failed.Add(int64(r.Docs - r.Indexed))
		a.recordProcessed(int64(r.Indexed), "Success")
		a.recordProcessed(int64(r.Docs-r.Indexed), "Failed")
	case OutcomeRejected:
		a.rejected.Add(int64(r.Docs))
		status = "Rejected"
	case OutcomeLost:
		a.lost.Add(int64(r.Docs))
		status = "Lost"
	case OutcomeUnencodable:
		a.unencodable.Add(int64(r.Docs))
		status = "Unencodable"
	}
	if status != "" {
		a.recordProcessed(int64(r.Docs), status)
	}
	if a.config.OnBatch != nil {
		a.config.OnBatch(r)
	}
}

func (a *Appender) recordProcessed(n int64, status string) {
	if n <= 0 {
		return
	}
	a.metrics.docsProcessed.Add(
		context.Background(),
		n,
		metric.WithAttributes(attribute.String("status", status)),
		a.metricAttrs(),
	)
}

func (a *Appender) metricAttrs() metric.MeasurementOption {
	return metric.WithAttributeSet(a.config.MetricAttributes)
}

func timeFunc(f func()) time.Duration {
	t0 := time.Now()
	if f != nil {
		f()
	}
	return time.Since(t0)
}
