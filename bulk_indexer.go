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
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/klauspost/compress/gzip"
)

// bulkIndexer turns encoded batches into _bulk requests against a single
// index. It holds no per-request state and is safe for concurrent use.
type bulkIndexer struct {
	client           esapi.Transport
	index            string
	pipeline         string
	compressionLevel int
}

// bulkPayload is the request body of one batch. It is kept until the batch
// terminates so that throttled requests resend identical bytes.
type bulkPayload struct {
	body         []byte
	docs         int
	uncompressed int
	gzip         bool
}

func newBulkIndexer(client esapi.Transport, index string, cfg Config) (*bulkIndexer, error) {
	if client == nil {
		return nil, errors.New("client is nil")
	}
	if cfg.CompressionLevel < -1 || cfg.CompressionLevel > 9 {
		return nil, fmt.Errorf(
			"expected CompressionLevel in range [-1,9], got %d",
			cfg.CompressionLevel,
		)
	}
	return &bulkIndexer{
		client:           client,
		index:            index,
		pipeline:         cfg.Pipeline,
		compressionLevel: cfg.CompressionLevel,
	}, nil
}

// encode writes ops into a new request body, compressing it when enabled.
func (b *bulkIndexer) encode(ops []BulkOperation) (*bulkPayload, error) {
	var buf bytes.Buffer
	var w io.Writer = &buf
	var gzipw *gzip.Writer
	if b.compressionLevel != gzip.NoCompression {
		gzipw, _ = gzip.NewWriterLevel(&buf, b.compressionLevel)
		w = gzipw
	}
	var uncompressed int64
	for _, op := range ops {
		n, err := op.WriteTo(w)
		if err != nil {
			return nil, fmt.Errorf("failed to write bulk operation: %w", err)
		}
		uncompressed += n
	}
	if gzipw != nil {
		if err := gzipw.Close(); err != nil {
			return nil, fmt.Errorf("failed closing the gzip writer: %w", err)
		}
	}
	return &bulkPayload{
		body:         buf.Bytes(),
		docs:         len(ops),
		uncompressed: int(uncompressed),
		gzip:         gzipw != nil,
	}, nil
}

// Do sends p and returns the response status code and decoded body.
//
// The body of 400 and 429 responses is decoded on a best effort basis,
// since it is only used to describe the failure. An error is returned when
// the request cannot be executed or an accepted response cannot be decoded.
func (b *bulkIndexer) Do(ctx context.Context, p *bulkPayload) (int, *BulkResponse, error) {
	req := esapi.BulkRequest{
		Index:  b.index,
		Body:   bytes.NewReader(p.body),
		Header: make(http.Header),
		FilterPath: []string{
			"errors", "error",
			"items.*._index", "items.*._id", "items.*.status",
			"items.*.error.type", "items.*.error.reason", "items.*.error.caused_by",
		},
		Pipeline: b.pipeline,
	}
	if p.gzip {
		req.Header.Set("Content-Encoding", "gzip")
	}

	res, err := req.Do(ctx, b.client)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to execute the request: %w", err)
	}
	defer res.Body.Close()

	switch res.StatusCode {
	case http.StatusBadRequest, http.StatusTooManyRequests:
		resp, err := DecodeBulkResponse(res.Body)
		if err != nil {
			resp = &BulkResponse{}
		}
		return res.StatusCode, resp, nil
	}
	resp, err := DecodeBulkResponse(res.Body)
	if err != nil {
		return res.StatusCode, nil, err
	}
	return res.StatusCode, resp, nil
}
