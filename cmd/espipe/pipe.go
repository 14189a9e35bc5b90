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

package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/elastic/go-docpipe"
	"github.com/elastic/go-docpipe/internal/input"
	"github.com/elastic/go-docpipe/internal/output"
)

// pipe sends every document of in to out and closes out. It returns the
// number of documents read and the number out reported as written.
//
// Malformed input documents and documents the output cannot encode are
// logged and skipped.
func pipe(ctx context.Context, in input.Reader, out output.Sink, logger *zap.Logger) (read, sent int, err error) {
	for {
		doc, err := in.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		var syntaxErr *input.SyntaxError
		if errors.As(err, &syntaxErr) {
			logger.Warn("skipping malformed document", zap.String("input", in.String()), zap.Error(err))
			continue
		}
		if err != nil {
			out.Close(ctx)
			return read, sent, err
		}
		read++

		n, err := out.Send(ctx, doc)
		var encodingErr *docpipe.EncodingError
		if errors.As(err, &encodingErr) {
			logger.Warn("skipping document", zap.Int("document", read), zap.Error(err))
			continue
		}
		if err != nil {
			out.Close(ctx)
			return read, sent, fmt.Errorf("output send error: %w", err)
		}
		sent += n
	}

	n, err := out.Close(ctx)
	sent += n
	if err != nil {
		return read, sent, fmt.Errorf("output close error: %w", err)
	}
	return read, sent, nil
}
