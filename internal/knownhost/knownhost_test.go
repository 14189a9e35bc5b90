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

package knownhost

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

const hostsYAML = `
prod:
  auth: ApiKey
  url: https://prod.example.com:9200
  apikey: c2VjcmV0
staging:
  auth: Basic
  url: https://staging.example.com:9200
  username: elastic
  password: changeme
  insecure: true
local:
  auth: None
  url: http://localhost:9200
`

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hosts.yml")
	require.NoError(t, os.WriteFile(path, []byte(hostsYAML), 0o600))

	hosts, err := Load(path, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, map[string]Host{
		"prod":    {Auth: AuthAPIKey, URL: "https://prod.example.com:9200", APIKey: "c2VjcmV0"},
		"staging": {Auth: AuthBasic, URL: "https://staging.example.com:9200", Username: "elastic", Password: "changeme", Insecure: true},
		"local":   {Auth: AuthNone, URL: "http://localhost:9200"},
	}, hosts)
	assert.Equal(t, []string{"local", "prod", "staging"}, aliases(hosts))

	assert.Equal(t, "ApiKey auth: https://prod.example.com:9200", hosts["prod"].String())
	assert.Equal(t, "Basic auth: elastic@ https://staging.example.com:9200", hosts["staging"].String())
	assert.Equal(t, "No auth: http://localhost:9200", hosts["local"].String())
}

func TestLoadCreatesMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hosts.yml")
	core, logs := observer.New(zapcore.InfoLevel)

	hosts, err := Load(path, zap.New(core))
	require.NoError(t, err)
	assert.Empty(t, hosts)
	assert.FileExists(t, path)
	assert.Equal(t, 1, logs.FilterMessage("no known hosts file, creating it").Len())

	// The created file is empty and loads again.
	hosts, err = Load(path, zap.NewNop())
	require.NoError(t, err)
	assert.Empty(t, hosts)
}

func TestLoadInvalid(t *testing.T) {
	for name, tc := range map[string]struct {
		yaml   string
		errMsg string
	}{
		"syntax":       {yaml: "prod: [", errMsg: "cannot parse hosts file"},
		"unknown_auth": {yaml: "prod: {auth: Token, url: 'http://localhost:9200'}", errMsg: `known host "prod": unknown auth "Token"`},
		"missing_key":  {yaml: "prod: {auth: ApiKey, url: 'http://localhost:9200'}", errMsg: "auth ApiKey requires apikey"},
		"missing_pass": {yaml: "prod: {auth: Basic, url: 'http://localhost:9200', username: u}", errMsg: "auth Basic requires username and password"},
		"missing_url":  {yaml: "prod: {auth: None}", errMsg: "missing url"},
		"bad_scheme":   {yaml: "prod: {auth: None, url: 'ftp://localhost'}", errMsg: "expected http or https scheme"},
	} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "hosts.yml")
			require.NoError(t, os.WriteFile(path, []byte(tc.yaml), 0o600))
			_, err := Load(path, zap.NewNop())
			assert.ErrorContains(t, err, tc.errMsg)
		})
	}
}

func TestLookup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hosts.yml")
	require.NoError(t, os.WriteFile(path, []byte(hostsYAML), 0o600))
	t.Setenv(EnvPath, path)

	host, err := Lookup("local", zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, AuthNone, host.Auth)

	_, err = Lookup("missing", zap.NewNop())
	assert.EqualError(t, err, "no known host entry for: missing")
}

func TestPathDefault(t *testing.T) {
	home := t.TempDir()
	t.Setenv(EnvPath, "")
	t.Setenv("HOME", home)

	path, err := Path()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".espipe", "hosts.yml"), path)
	assert.DirExists(t, filepath.Join(home, ".espipe"))
}
