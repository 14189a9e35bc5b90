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

package docpipe_test

import (
	"bufio"
	"context"
	"net/http"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.elastic.co/fastjson"

	"github.com/elastic/go-docpipe"
	"github.com/elastic/go-docpipe/docpipetest"
)

func BenchmarkAppender(b *testing.B) {
	for name, level := range map[string]int{
		"NoCompression":      gzip.NoCompression,
		"BestSpeed":          gzip.BestSpeed,
		"DefaultCompression": gzip.DefaultCompression,
		"BestCompression":    gzip.BestCompression,
	} {
		b.Run(name, func(b *testing.B) {
			benchmarkAppender(b, docpipe.Config{CompressionLevel: level})
		})
		b.Run(name+"Update", func(b *testing.B) {
			benchmarkAppender(b, docpipe.Config{CompressionLevel: level, Action: docpipe.ActionUpdate})
		})
	}
}

func BenchmarkAppenderError(b *testing.B) {
	client := docpipetest.NewMockElasticsearchClient(b, func(w http.ResponseWriter, r *http.Request) {
		_, result := docpipetest.DecodeBulkRequest(r)
		for i, item := range result.Items {
			itemResp := item["create"]
			itemResp.Status = http.StatusBadRequest
			itemResp.Error.Type = "error_type"
			if i%2 == 0 {
				itemResp.Error.Reason = "error_reason_even. Preview of field's value: 'abc def ghi'"
			} else {
				itemResp.Error.Reason = "error_reason_odd. Preview of field's value: some field value"
			}
			item["create"] = itemResp
		}
		result.HasErrors = true
		docpipetest.WriteResponse(w, http.StatusOK, result)
	})
	appender, err := docpipe.New(client, benchTarget, docpipe.Config{})
	require.NoError(b, err)

	doc := newBenchDocument()
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := appender.Send(ctx, doc); err != nil {
			b.Fatal(err)
		}
	}
	stats, err := appender.Close(ctx)
	require.NoError(b, err)
	assert.Equal(b, int64(b.N), stats.Failed)
}

var benchTarget = &url.URL{Scheme: "http", Host: "localhost:9200", Path: "/logs-foo-testing"}

func benchmarkAppender(b *testing.B, cfg docpipe.Config) {
	var indexed atomic.Int64
	client := docpipetest.NewMockElasticsearchClient(b, func(w http.ResponseWriter, r *http.Request) {
		body := r.Body
		if r.Header.Get("Content-Encoding") == "gzip" {
			r, err := gzip.NewReader(body)
			if err != nil {
				panic(err)
			}
			defer r.Close()
			body = r
		}

		action := cfg.Action.String()
		status := 201
		if cfg.Action == docpipe.ActionUpdate {
			status = 200
		}
		var n int64
		var jsonw fastjson.Writer
		jsonw.RawString(`{"items":[`)
		scanner := bufio.NewScanner(body)
		for scanner.Scan() {
			// The action is known, skip decoding to avoid inflating
			// allocations in the benchmark.
			if !scanner.Scan() {
				panic("expected source")
			}
			if n > 0 {
				jsonw.RawByte(',')
			}
			jsonw.RawString(`{"`)
			jsonw.RawString(action)
			jsonw.RawString(`":{"status":`)
			jsonw.Int64(int64(status))
			jsonw.RawString(`}}`)
			n++
		}
		require.NoError(b, scanner.Err())
		jsonw.RawString(`]}`)
		w.Write(jsonw.Bytes())
		indexed.Add(n)
	})
	appender, err := docpipe.New(client, benchTarget, cfg)
	require.NoError(b, err)

	doc := newBenchDocument()
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := appender.Send(ctx, doc); err != nil {
			b.Fatal(err)
		}
	}
	// Closing the appender flushes queued documents.
	stats, err := appender.Close(ctx)
	require.NoError(b, err)
	assert.Equal(b, int64(b.N), indexed.Load())
	assert.Equal(b, int64(b.N), stats.Indexed)
}

func newBenchDocument() docpipe.Document {
	return map[string]any{
		"_id":                   "bench",
		"@timestamp":            time.Now().Format(docpipetest.TimestampFormat),
		"data_stream.type":      "logs",
		"data_stream.dataset":   "foo",
		"data_stream.namespace": "testing",
	}
}
