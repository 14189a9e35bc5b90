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

package output

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elastic/go-docpipe"
	"github.com/elastic/go-docpipe/docpipetest"
	"github.com/elastic/go-docpipe/internal/knownhost"
)

func TestFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.ndjson")
	sink, err := Open(path, Options{})
	require.NoError(t, err)
	assert.Equal(t, path, sink.String())

	for i := 0; i < 3; i++ {
		n, err := sink.Send(context.Background(), map[string]any{"n": i})
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	}
	n, err := sink.Close(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	require.Len(t, lines, 6)
	for i := 0; i < 3; i++ {
		assert.Equal(t, `{"create":{}}`, lines[2*i])
		assert.Equal(t, fmt.Sprintf(`{"n":%d}`, i), lines[2*i+1])
	}
}

func TestFileUpdate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.ndjson")
	sink, err := Open("file://"+path, Options{Appender: docpipe.Config{Action: docpipe.ActionUpdate}})
	require.NoError(t, err)

	_, err = sink.Send(context.Background(), map[string]any{"_id": "1", "a": "b"})
	require.NoError(t, err)
	_, err = sink.Send(context.Background(), map[string]any{"a": "b"})
	var encodingErr *docpipe.EncodingError
	assert.ErrorAs(t, err, &encodingErr)
	_, err = sink.Close(context.Background())
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "{\"update\":{\"_id\":\"1\"}}\n{\"doc\":{\"a\":\"b\"}}\n", string(data))
}

func TestStdout(t *testing.T) {
	var buf bytes.Buffer
	sink := NewStdout(&buf)
	assert.Equal(t, "stdout", sink.String())

	n, err := sink.Send(context.Background(), map[string]any{"b": 1, "a": []any{"x"}})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, err = sink.Close(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "{\"a\":[\"x\"],\"b\":1}\n", buf.String())

	sink2, err := Open("-", Options{})
	require.NoError(t, err)
	assert.IsType(t, &Stdout{}, sink2)
}

// newBulkServer returns the URL of a mock Elasticsearch server, and a
// function returning the documents it received.
func newBulkServer(t *testing.T) (string, func() []docpipetest.BulkItem) {
	var mu sync.Mutex
	var items []docpipetest.BulkItem
	config := docpipetest.NewMockElasticsearchClientConfig(t, func(w http.ResponseWriter, r *http.Request) {
		decoded, result := docpipetest.DecodeBulkRequest(r)
		mu.Lock()
		items = append(items, decoded...)
		mu.Unlock()
		json.NewEncoder(w).Encode(result)
	})
	return config.Addresses[0], func() []docpipetest.BulkItem {
		mu.Lock()
		defer mu.Unlock()
		return items
	}
}

func TestElasticsearch(t *testing.T) {
	addr, received := newBulkServer(t)
	sink, err := Open(addr+"/logs", Options{Appender: docpipe.Config{BatchSize: 2}})
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:logs", sink.String())

	for i := 0; i < 5; i++ {
		n, err := sink.Send(context.Background(), map[string]any{"n": i})
		require.NoError(t, err)
		assert.Zero(t, n)
	}
	n, err := sink.Close(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Len(t, received(), 5)
	assert.Equal(t, int64(3), sink.(*Elasticsearch).Stats().BulkRequests)
}

func TestElasticsearchKnownHost(t *testing.T) {
	addr, received := newBulkServer(t)
	path := filepath.Join(t.TempDir(), "hosts.yml")
	require.NoError(t, os.WriteFile(path, []byte(fmt.Sprintf("mock:\n  auth: None\n  url: %s\n", addr)), 0o600))
	t.Setenv(knownhost.EnvPath, path)

	for _, uri := range []string{"mock:logs", "mock:///logs"} {
		sink, err := Open(uri, Options{Uncompressed: true})
		require.NoError(t, err, uri)
		assert.Equal(t, "127.0.0.1:logs", sink.String())
		_, err = sink.Send(context.Background(), map[string]any{"a": "b"})
		require.NoError(t, err)
		n, err := sink.Close(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	}
	assert.Len(t, received(), 2)

	_, err := Open("unknown:logs", Options{})
	assert.EqualError(t, err, "no known host entry for: unknown")
}

func TestElasticsearchMissingIndex(t *testing.T) {
	_, err := Open("http://localhost:9200", Options{})
	assert.ErrorContains(t, err, "missing index name")
}

func TestFileBulkBodyIsReplayable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.ndjson")
	sink, err := NewFile(path, docpipe.ActionIndex)
	require.NoError(t, err)
	for _, doc := range []docpipe.Document{map[string]any{"a": 1}, []any{1, 2}, "text"} {
		_, err := sink.Send(context.Background(), doc)
		require.NoError(t, err)
	}
	_, err = sink.Close(context.Background())
	require.NoError(t, err)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	scanner := bufio.NewScanner(f)
	var pairs int
	for scanner.Scan() {
		var action map[string]map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &action))
		assert.Contains(t, action, "index")
		require.True(t, scanner.Scan())
		assert.True(t, json.Valid(scanner.Bytes()))
		pairs++
	}
	assert.Equal(t, 3, pairs)
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) {
	return 0, errors.New("disk full")
}

func TestStdoutWriteError(t *testing.T) {
	sink := NewStdout(failingWriter{})
	// Larger than the write buffer, so the write reaches the writer.
	doc := map[string]any{"message": strings.Repeat("x", 8192)}
	n, err := sink.Send(context.Background(), doc)
	assert.EqualError(t, err, "disk full")
	assert.Zero(t, n)
}
