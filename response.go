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
	"io"
	"net/http"
	"sort"
	"strings"
)

// BulkResponse is the decoded body of a _bulk response.
type BulkResponse struct {
	HasErrorsFlag bool                          `json:"errors"`
	Error         *ErrorCause                   `json:"error,omitempty"`
	Items         []map[string]BulkResponseItem `json:"items,omitempty"`
}

// ErrorCause describes a request level failure. Elasticsearch reports it
// either as an object or, for some proxies and older versions, as a plain
// string.
type ErrorCause struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

// UnmarshalJSON accepts both the object and the plain string form.
func (c *ErrorCause) UnmarshalJSON(data []byte) error {
	var s string
	if err := jsonCodec.Unmarshal(data, &s); err == nil {
		*c = ErrorCause{Type: s}
		return nil
	}
	type plain ErrorCause
	return jsonCodec.Unmarshal(data, (*plain)(c))
}

// BulkResponseItem is the result of one bulk operation.
type BulkResponseItem struct {
	Index  string     `json:"_index"`
	ID     string     `json:"_id"`
	Status int        `json:"status"`
	Error  *ItemError `json:"error,omitempty"`
}

// ItemError is the failure reported for a single bulk operation.
type ItemError struct {
	Type     string     `json:"type"`
	Reason   string     `json:"reason"`
	CausedBy ErrorCause `json:"caused_by"`
}

func (e *ItemError) causeType() string {
	if e == nil {
		return ""
	}
	if e.CausedBy.Type != "" {
		return e.CausedBy.Type
	}
	return e.Type
}

// DecodeBulkResponse decodes a _bulk response body.
func DecodeBulkResponse(r io.Reader) (*BulkResponse, error) {
	var resp BulkResponse
	if err := jsonCodec.NewDecoder(r).Decode(&resp); err != nil {
		return nil, fmt.Errorf("error decoding bulk response: %w", err)
	}
	return &resp, nil
}

// HasErrors reports whether Elasticsearch flagged at least one failed item.
func (r *BulkResponse) HasErrors() bool {
	return r.HasErrorsFlag
}

// ErrorCause returns the type of the request level error, or "unknown".
func (r *BulkResponse) ErrorCause() string {
	if r.Error == nil || r.Error.Type == "" {
		return "unknown"
	}
	return r.Error.Type
}

// SuccessCount returns the number of items Elasticsearch accepted. Create
// operations only succeed with 201 Created, index and update operations
// with either 200 OK or 201 Created.
func (r *BulkResponse) SuccessCount() int {
	var n int
	for _, item := range r.Items {
		for action, result := range item {
			if itemSucceeded(action, result.Status) {
				n++
			}
		}
	}
	return n
}

// Failed returns the number of items that did not succeed.
func (r *BulkResponse) Failed() int {
	return len(r.Items) - r.SuccessCount()
}

// ErrorCounts summarises failed items by index and error type, in the form
// "(2) <logs> mapper_parsing_exception, (1) <logs> version_conflict".
//
// It returns an empty string unless HasErrors is true.
func (r *BulkResponse) ErrorCounts() string {
	if !r.HasErrors() {
		return ""
	}
	type key struct{ index, cause string }
	counts := make(map[key]int)
	for _, item := range r.Items {
		for _, result := range item {
			if cause := result.Error.causeType(); cause != "" {
				counts[key{result.Index, cause}]++
			}
		}
	}
	keys := make([]key, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].index != keys[j].index {
			return keys[i].index < keys[j].index
		}
		return keys[i].cause < keys[j].cause
	})
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("(%d) <%s> %s", counts[k], k.index, k.cause)
	}
	return strings.Join(parts, ", ")
}

func itemSucceeded(action string, status int) bool {
	switch action {
	case "create":
		return status == http.StatusCreated
	case "index", "update":
		return status == http.StatusOK || status == http.StatusCreated
	}
	return false
}
