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

// Package input reads documents from files and stdin.
package input

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"

	jsoniter "github.com/json-iterator/go"

	"github.com/elastic/go-docpipe"
)

// jsonCodec decodes numbers as json.Number so that they are re-encoded
// exactly as read.
var jsonCodec = jsoniter.Config{
	EscapeHTML:             true,
	SortMapKeys:            true,
	ValidateJsonRawMessage: true,
	UseNumber:              true,
}.Froze()

// maxLineSize bounds a single ndjson line.
const maxLineSize = 64 << 20

// Reader yields documents until it returns io.EOF.
type Reader interface {
	// Next returns the next document. Malformed documents are reported with
	// a *SyntaxError, after which reading may continue.
	Next() (docpipe.Document, error)
	Close() error
	String() string
}

// SyntaxError reports a document that could not be decoded.
type SyntaxError struct {
	Line int
	Err  error
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e *SyntaxError) Unwrap() error {
	return e.Err
}

// Open returns a Reader for uri. A plain path or file:// URI opens a .ndjson
// or .csv file, and "-" reads ndjson from stdin.
func Open(uri string) (Reader, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("invalid input %q: %w", uri, err)
	}
	switch u.Scheme {
	case "":
		if u.Path == "-" {
			return NewNDJSON(io.NopCloser(os.Stdin), "stdin"), nil
		}
		return openFile(u.Path)
	case "file":
		return openFile(u.Path)
	case "http", "https":
		return nil, fmt.Errorf("unsupported input %s: url input is not implemented", uri)
	}
	return nil, fmt.Errorf("unsupported input scheme: %s", u.Scheme)
}

func openFile(path string) (Reader, error) {
	ext := filepath.Ext(path)
	if ext != ".ndjson" && ext != ".csv" {
		return nil, fmt.Errorf("unsupported file extension %q", ext)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	if ext == ".csv" {
		return NewCSV(f, path), nil
	}
	return NewNDJSON(f, path), nil
}

type ndjsonReader struct {
	rc      io.ReadCloser
	name    string
	scanner *bufio.Scanner
	line    int
}

// NewNDJSON returns a Reader decoding one JSON document per line of rc.
// Blank lines are skipped.
func NewNDJSON(rc io.ReadCloser, name string) Reader {
	scanner := bufio.NewScanner(rc)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return &ndjsonReader{rc: rc, name: name, scanner: scanner}
}

func (r *ndjsonReader) Next() (docpipe.Document, error) {
	for r.scanner.Scan() {
		r.line++
		line := bytes.TrimSpace(r.scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var doc any
		if err := jsonCodec.Unmarshal(line, &doc); err != nil {
			return nil, &SyntaxError{Line: r.line, Err: err}
		}
		return doc, nil
	}
	if err := r.scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading %s: %w", r.name, err)
	}
	return nil, io.EOF
}

func (r *ndjsonReader) Close() error   { return r.rc.Close() }
func (r *ndjsonReader) String() string { return r.name }

type csvReader struct {
	rc     io.ReadCloser
	name   string
	reader *csv.Reader
	header []string
}

// NewCSV returns a Reader turning each row of rc into an object keyed by
// the header row. All values are strings.
func NewCSV(rc io.ReadCloser, name string) Reader {
	reader := csv.NewReader(rc)
	reader.ReuseRecord = true
	return &csvReader{rc: rc, name: name, reader: reader}
}

func (r *csvReader) Next() (docpipe.Document, error) {
	if r.header == nil {
		header, err := r.reader.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("error reading header of %s: %w", r.name, err)
		}
		r.header = append([]string(nil), header...)
	}
	record, err := r.reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		var parseErr *csv.ParseError
		if errors.As(err, &parseErr) {
			return nil, &SyntaxError{Line: parseErr.Line, Err: err}
		}
		return nil, fmt.Errorf("error reading %s: %w", r.name, err)
	}
	doc := make(map[string]any, len(r.header))
	for i, name := range r.header {
		doc[name] = record[i]
	}
	return doc, nil
}

func (r *csvReader) Close() error   { return r.rc.Close() }
func (r *csvReader) String() string { return r.name }
