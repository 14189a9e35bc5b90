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
	"context"
	"fmt"
	"io"
	"os"

	jsoniter "github.com/json-iterator/go"

	"github.com/elastic/go-docpipe"
)

var jsonCodec = jsoniter.ConfigCompatibleWithStandardLibrary

// File writes documents as a _bulk request body, one action line and one
// source line per document, so the file can be replayed against the bulk
// API.
type File struct {
	f      *os.File
	w      *bufio.Writer
	action docpipe.Action
}

// NewFile creates or truncates the file at path.
func NewFile(path string, action docpipe.Action) (*File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("cannot open output file: %w", err)
	}
	return &File{f: f, w: bufio.NewWriter(f), action: action}, nil
}

func (o *File) Send(_ context.Context, doc docpipe.Document) (int, error) {
	ops, err := docpipe.EncodeBatch(o.action, []docpipe.Document{doc})
	if err != nil {
		return 0, err
	}
	if _, err := ops[0].WriteTo(o.w); err != nil {
		return 0, fmt.Errorf("error writing %s: %w", o.f.Name(), err)
	}
	return 1, nil
}

func (o *File) Close(context.Context) (int, error) {
	if err := o.w.Flush(); err != nil {
		o.f.Close()
		return 0, fmt.Errorf("error writing %s: %w", o.f.Name(), err)
	}
	return 0, o.f.Close()
}

func (o *File) String() string {
	return o.f.Name()
}

// Stdout writes each document as one JSON line.
type Stdout struct {
	w *bufio.Writer
}

// NewStdout returns a Stdout sink writing to w, or os.Stdout if w is nil.
func NewStdout(w io.Writer) *Stdout {
	if w == nil {
		w = os.Stdout
	}
	return &Stdout{w: bufio.NewWriter(w)}
}

func (o *Stdout) Send(_ context.Context, doc docpipe.Document) (int, error) {
	line, err := jsonCodec.Marshal(doc)
	if err != nil {
		return 0, err
	}
	if _, err := o.w.Write(line); err != nil {
		return 0, err
	}
	if err := o.w.WriteByte('\n'); err != nil {
		return 0, err
	}
	return 1, nil
}

func (o *Stdout) Close(context.Context) (int, error) {
	return 0, o.w.Flush()
}

func (o *Stdout) String() string {
	return "stdout"
}
