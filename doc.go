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

// Package docpipe provides a batching bulk loader that streams JSON documents
// into an Elasticsearch-compatible _bulk API.
//
// Documents are queued in arrival order and dispatched in fixed-size batches,
// each batch as a single bulk request sent in the background. Throttled
// requests (429) are retried with exponential backoff, rejected requests (400)
// are dropped, and per-item failures are logged. The number of documents the
// store confirmed is only known once the Appender is closed.
package docpipe
