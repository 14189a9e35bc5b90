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

// Package output selects and implements the sinks documents are piped to.
package output

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/klauspost/compress/gzip"
	"go.elastic.co/apm/v2"
	"go.uber.org/zap"

	"github.com/elastic/go-docpipe"
	"github.com/elastic/go-docpipe/internal/client"
	"github.com/elastic/go-docpipe/internal/knownhost"
)

// Sink receives documents.
type Sink interface {
	// Send writes doc and returns the number of documents known to be
	// written so far by this call.
	Send(ctx context.Context, doc docpipe.Document) (int, error)
	// Close flushes the sink and returns the number of documents written
	// that previous Send calls did not report.
	Close(ctx context.Context) (int, error)
	String() string
}

// Options configures Open.
type Options struct {
	Logger *zap.Logger
	Tracer *apm.Tracer

	// Auth and Insecure apply to http(s) outputs. Known hosts carry their
	// own settings.
	Auth     client.Auth
	Insecure bool

	// Uncompressed disables gzip compression of bulk request bodies.
	Uncompressed bool

	// Appender holds the bulk settings of Elasticsearch outputs. Its
	// Action also selects the operation written by file outputs.
	Appender docpipe.Config
}

// Open returns the Sink for uri:
//
//   - http(s)://host:port/index sends to Elasticsearch,
//   - file://path or a plain path writes a bulk request body to a file,
//   - "-" writes documents to stdout, one per line,
//   - alias:index or alias:///index sends to the known host alias.
func Open(uri string, opts Options) (Sink, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("invalid output %q: %w", uri, err)
	}
	switch u.Scheme {
	case "":
		if u.Path == "-" {
			return NewStdout(nil), nil
		}
		return NewFile(u.Path, opts.Appender.Action)
	case "file":
		return NewFile(u.Path, opts.Appender.Action)
	case "http", "https":
		return newElasticsearch(u, client.Options{URL: u, Auth: opts.Auth, Insecure: opts.Insecure}, opts)
	}

	host, err := knownhost.Lookup(u.Scheme, opts.Logger)
	if err != nil {
		return nil, err
	}
	opts.Logger.Debug("using known host", zap.String("alias", u.Scheme), zap.Stringer("host", host))
	clientOpts, err := client.FromKnownHost(host)
	if err != nil {
		return nil, err
	}
	index := u.Path
	if index == "" {
		index = u.Opaque
	}
	target := clientOpts.URL.ResolveReference(&url.URL{Path: "/" + strings.TrimPrefix(index, "/")})
	return newElasticsearch(target, clientOpts, opts)
}

// Elasticsearch sends documents to an index through a docpipe.Appender.
type Elasticsearch struct {
	appender *docpipe.Appender
	logger   *zap.Logger
}

func newElasticsearch(target *url.URL, clientOpts client.Options, opts Options) (*Elasticsearch, error) {
	es, err := client.New(clientOpts)
	if err != nil {
		return nil, err
	}
	cfg := opts.Appender
	cfg.Logger = opts.Logger
	cfg.Tracer = opts.Tracer
	cfg.CompressionLevel = gzip.BestSpeed
	if opts.Uncompressed {
		cfg.CompressionLevel = gzip.NoCompression
	}
	appender, err := docpipe.New(es, target, cfg)
	if err != nil {
		return nil, err
	}
	opts.Logger.Debug("output", zap.String("auth", clientOpts.Auth.String()), zap.Stringer("output", appender))
	return &Elasticsearch{appender: appender, logger: opts.Logger}, nil
}

func (e *Elasticsearch) Send(ctx context.Context, doc docpipe.Document) (int, error) {
	return e.appender.Send(ctx, doc)
}

// Close waits for all bulk requests and returns the number of documents
// Elasticsearch confirmed.
func (e *Elasticsearch) Close(ctx context.Context) (int, error) {
	stats, err := e.appender.Close(ctx)
	e.logger.Info("elasticsearch output closed",
		zap.Int64("added", stats.Added),
		zap.Int64("indexed", stats.Indexed),
		zap.Int64("failed", stats.Failed),
		zap.Int64("rejected", stats.Rejected),
		zap.Int64("lost", stats.Lost),
		zap.Int64("unencodable", stats.Unencodable),
		zap.Int64("bulk_requests", stats.BulkRequests),
		zap.Int64("retries", stats.Retries),
	)
	return int(stats.Indexed), err
}

// Stats returns the appender statistics.
func (e *Elasticsearch) Stats() docpipe.Stats {
	return e.appender.Stats()
}

func (e *Elasticsearch) String() string {
	return e.appender.String()
}
