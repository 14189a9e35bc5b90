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

// Package client builds Elasticsearch clients for espipe outputs.
package client

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/elastic/go-elasticsearch/v8"
	"go.elastic.co/apm/module/apmelasticsearch/v2"

	"github.com/elastic/go-docpipe/internal/knownhost"
)

// Auth holds request credentials. At most one of APIKey and
// Username/Password is set.
type Auth struct {
	APIKey   string
	Username string
	Password string
}

// NewAuth validates a combination of credentials given on the command line.
// An API key excludes basic auth, and a username requires a password and
// vice versa.
func NewAuth(apiKey, username, password string) (Auth, error) {
	switch {
	case apiKey != "" && (username != "" || password != ""):
		return Auth{}, errors.New("invalid auth configuration: apikey conflicts with username and password")
	case (username == "") != (password == ""):
		return Auth{}, errors.New("invalid auth configuration: username and password must be set together")
	}
	return Auth{APIKey: apiKey, Username: username, Password: password}, nil
}

// String returns the auth method name, never the credentials.
func (a Auth) String() string {
	switch {
	case a.APIKey != "":
		return "Apikey"
	case a.Username != "":
		return "Basic"
	}
	return "None"
}

// Options configures New.
type Options struct {
	// URL is the Elasticsearch base URL. Its path is ignored.
	URL *url.URL
	// Auth holds the request credentials.
	Auth Auth
	// Insecure disables TLS certificate verification.
	Insecure bool
}

// FromKnownHost returns the Options for connecting to host.
func FromKnownHost(host knownhost.Host) (Options, error) {
	if err := host.Validate(); err != nil {
		return Options{}, err
	}
	u, err := host.BaseURL()
	if err != nil {
		return Options{}, err
	}
	opts := Options{URL: u, Insecure: host.Insecure}
	switch host.Auth {
	case knownhost.AuthAPIKey:
		opts.Auth.APIKey = host.APIKey
	case knownhost.AuthBasic:
		opts.Auth.Username = host.Username
		opts.Auth.Password = host.Password
	}
	return opts, nil
}

// New returns an Elasticsearch client for a single node. Requests are
// instrumented with Elastic APM when a tracer is active.
func New(opts Options) (*elasticsearch.Client, error) {
	if opts.URL == nil || opts.URL.Host == "" {
		return nil, errors.New("missing elasticsearch url")
	}
	base := *opts.URL
	base.Path = ""
	base.RawPath = ""
	base.RawQuery = ""
	base.Fragment = ""
	base.User = nil

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if opts.Insecure {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: []string{base.String()},
		APIKey:    opts.Auth.APIKey,
		Username:  opts.Auth.Username,
		Password:  opts.Auth.Password,
		Transport: apmelasticsearch.WrapRoundTripper(transport),
		// Bulk requests are retried by docpipe on 429 only.
		DisableRetry: true,
	})
	if err != nil {
		return nil, fmt.Errorf("error creating elasticsearch client: %w", err)
	}
	return client, nil
}
