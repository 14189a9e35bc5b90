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

// Document is a decoded JSON value.
type Document = any

// batchQueue holds documents in arrival order until a batch is drained.
// It is not safe for concurrent use.
type batchQueue struct {
	docs     []Document
	capacity int
}

func newBatchQueue(capacity int) *batchQueue {
	return &batchQueue{
		docs:     make([]Document, 0, capacity),
		capacity: capacity,
	}
}

// push appends doc and reports whether the queue reached its capacity.
func (q *batchQueue) push(doc Document) bool {
	q.docs = append(q.docs, doc)
	return len(q.docs) >= q.capacity
}

// drain removes up to capacity documents from the head of the queue. The
// returned slice does not share memory with the queue.
func (q *batchQueue) drain() []Document {
	n := min(len(q.docs), q.capacity)
	if n == 0 {
		return nil
	}
	batch := make([]Document, n)
	copy(batch, q.docs[:n])
	rest := copy(q.docs, q.docs[n:])
	clear(q.docs[rest:])
	q.docs = q.docs[:rest]
	return batch
}

func (q *batchQueue) size() int {
	return len(q.docs)
}
