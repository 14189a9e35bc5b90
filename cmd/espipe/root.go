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
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.elastic.co/apm/v2"
	"go.uber.org/zap"

	"github.com/elastic/go-docpipe"
	"github.com/elastic/go-docpipe/internal/client"
	"github.com/elastic/go-docpipe/internal/input"
	"github.com/elastic/go-docpipe/internal/output"
)

type flags struct {
	insecure     bool
	apiKey       string
	username     string
	password     string
	quiet        bool
	uncompressed bool
	action       string
	batchSize    int
	maxRequests  int
	maxRetries   int
	pipeline     string
}

func newRootCmd() *cobra.Command {
	var f flags
	cmd := &cobra.Command{
		Use:   "espipe <input> <output>",
		Short: "Pipe JSON documents into Elasticsearch",
		Long: `espipe reads documents from an .ndjson or .csv file, or ndjson from stdin ("-"),
and sends them to an output:

  http(s)://host:port/index   Elasticsearch index
  alias:index                 Elasticsearch index on a host from ~/.espipe/hosts.yml
  file://path, path           file holding a _bulk request body
  -                           stdout, one document per line`,
		Example: `  espipe docs.ndjson http://localhost:9200/my-index
  cat docs.ndjson | espipe -a $API_KEY - https://es.example.com:9200/my-index
  espipe people.csv prod:people`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, args[0], args[1], f)
		},
	}
	fs := cmd.Flags()
	fs.BoolVarP(&f.insecure, "insecure", "k", false, "Ignore certificate validation")
	fs.StringVarP(&f.apiKey, "apikey", "a", "", "Apikey to authenticate via http header")
	fs.StringVarP(&f.username, "username", "u", "", "Username for basic authentication")
	fs.StringVarP(&f.password, "password", "p", "", "Password for basic authentication")
	fs.BoolVarP(&f.quiet, "quiet", "q", false, "Quiet mode, don't print runtime summary")
	fs.BoolVarP(&f.uncompressed, "uncompressed", "z", false, "Disable request body gzip compression")
	fs.StringVar(&f.action, "action", "create", "Bulk action: create, index or update")
	fs.IntVar(&f.batchSize, "batch-size", docpipe.DefaultBatchSize, "Documents per bulk request")
	fs.IntVar(&f.maxRequests, "max-requests", 10, "Maximum concurrent bulk requests")
	fs.IntVar(&f.maxRetries, "max-retries", 0, "Maximum retries of a throttled bulk request, 0 retries forever")
	fs.StringVar(&f.pipeline, "pipeline", "", "Ingest pipeline to run documents through")
	cmd.MarkFlagsMutuallyExclusive("apikey", "username")
	cmd.MarkFlagsMutuallyExclusive("apikey", "password")
	cmd.MarkFlagsRequiredTogether("username", "password")
	return cmd
}

func run(cmd *cobra.Command, inputURI, outputURI string, f flags) error {
	start := time.Now()
	logger, err := newLogger(os.Getenv("LOG_LEVEL"))
	if err != nil {
		return err
	}
	defer logger.Sync()

	auth, err := client.NewAuth(f.apiKey, f.username, f.password)
	if err != nil {
		return err
	}
	action, err := docpipe.ParseAction(f.action)
	if err != nil {
		return err
	}
	tracer, err := newTracer()
	if err != nil {
		return err
	}
	if tracer != nil {
		defer tracer.Close()
		defer tracer.Flush(nil)
	}

	in, err := input.Open(inputURI)
	if err != nil {
		return fmt.Errorf("invalid input: %w", err)
	}
	defer in.Close()
	logger.Debug("input", zap.Stringer("input", in))

	out, err := output.Open(outputURI, output.Options{
		Logger:       logger,
		Tracer:       tracer,
		Auth:         auth,
		Insecure:     f.insecure,
		Uncompressed: f.uncompressed,
		Appender: docpipe.Config{
			Action:      action,
			BatchSize:   f.batchSize,
			MaxRequests: f.maxRequests,
			MaxRetries:  f.maxRetries,
			Pipeline:    f.pipeline,
		},
	})
	if err != nil {
		return fmt.Errorf("invalid output: %w", err)
	}
	logger.Debug("output", zap.Stringer("output", out))

	read, sent, err := pipe(cmd.Context(), in, out, logger)
	if err != nil {
		return err
	}
	if !f.quiet {
		fmt.Fprintf(cmd.OutOrStdout(), "Piped %s of %s docs to %s in %.3f seconds\n",
			humanize.Comma(int64(sent)),
			humanize.Comma(int64(read)),
			out,
			time.Since(start).Seconds(),
		)
	}
	return nil
}

// newTracer returns an APM tracer when an APM server is configured through
// the standard ELASTIC_APM_* environment variables.
func newTracer() (*apm.Tracer, error) {
	if os.Getenv("ELASTIC_APM_SERVER_URL") == "" {
		return nil, nil
	}
	tracer, err := apm.NewTracer("espipe", "")
	if err != nil {
		return nil, fmt.Errorf("error creating apm tracer: %w", err)
	}
	return tracer, nil
}
