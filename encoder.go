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

	jsoniter "github.com/json-iterator/go"
	"go.elastic.co/fastjson"
)

// idField is the document field holding the target document id for updates.
const idField = "_id"

var jsonCodec = jsoniter.ConfigCompatibleWithStandardLibrary

// EncodingError is returned when a document cannot be encoded for the
// configured Action.
type EncodingError struct {
	// Position of the document within its batch.
	Position int
	Field    string
	Reason   string
}

func (e *EncodingError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("cannot encode document %d: %s", e.Position, e.Reason)
	}
	return fmt.Sprintf("cannot encode document %d: field %q %s", e.Position, e.Field, e.Reason)
}

// BulkOperation is a single document encoded as a bulk action line and a
// source line.
type BulkOperation struct {
	Action Action
	// ID is only set for ActionUpdate.
	ID     string
	Source []byte
}

// WriteTo writes the action line and the source line, each terminated by a
// newline.
func (op BulkOperation) WriteTo(w io.Writer) (int64, error) {
	var jw fastjson.Writer
	jw.RawString(`{"`)
	jw.RawString(op.Action.String())
	jw.RawString(`":{`)
	if op.ID != "" {
		jw.RawString(`"_id":`)
		jw.String(op.ID)
	}
	jw.RawString("}}\n")
	jw.RawBytes(op.Source)
	jw.RawByte('\n')
	n, err := w.Write(jw.Bytes())
	return int64(n), err
}

// EncodeBatch encodes docs into bulk operations, preserving their order.
//
// Encoding stops at the first document that cannot be encoded, in which
// case no operations are returned and the error is an *EncodingError.
func EncodeBatch(action Action, docs []Document) ([]BulkOperation, error) {
	ops := make([]BulkOperation, 0, len(docs))
	for i, doc := range docs {
		op, err := encodeOperation(action, doc)
		if err != nil {
			if encErr, ok := err.(*EncodingError); ok {
				encErr.Position = i
				return nil, encErr
			}
			return nil, &EncodingError{Position: i, Reason: err.Error()}
		}
		ops = append(ops, op)
	}
	return ops, nil
}

func encodeOperation(action Action, doc Document) (BulkOperation, error) {
	switch action {
	case ActionCreate, ActionIndex:
		source, err := jsonCodec.Marshal(doc)
		if err != nil {
			return BulkOperation{}, err
		}
		return BulkOperation{Action: action, Source: source}, nil
	case ActionUpdate:
		return encodeUpdate(doc)
	}
	return BulkOperation{}, &EncodingError{Reason: fmt.Sprintf("unsupported action %s", action)}
}

func encodeUpdate(doc Document) (BulkOperation, error) {
	fields, ok := doc.(map[string]any)
	if !ok {
		return BulkOperation{}, &EncodingError{Reason: fmt.Sprintf("document is a %T, not an object", doc)}
	}
	value, ok := fields[idField]
	if !ok {
		return BulkOperation{}, &EncodingError{Field: idField, Reason: "is missing"}
	}
	id, ok := value.(string)
	if !ok {
		return BulkOperation{}, &EncodingError{Field: idField, Reason: fmt.Sprintf("is a %T, not a string", value)}
	}

	partial := make(map[string]any, len(fields)-1)
	for k, v := range fields {
		if k != idField {
			partial[k] = v
		}
	}
	source, err := jsonCodec.Marshal(map[string]any{"doc": partial})
	if err != nil {
		return BulkOperation{}, err
	}
	return BulkOperation{Action: ActionUpdate, ID: id, Source: source}, nil
}
