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

// Package knownhost resolves Elasticsearch host aliases from a YAML file.
//
// The file maps alias names to hosts:
//
//	prod:
//	  auth: ApiKey
//	  url: https://prod.example.com:9200
//	  apikey: <base64 key>
//	local:
//	  auth: None
//	  url: http://localhost:9200
//	  insecure: true
package knownhost

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// EnvPath names the environment variable overriding the hosts file path.
const EnvPath = "ESPIPE_HOSTS"

// Auth selects how requests to a known host are authenticated.
type Auth string

const (
	AuthAPIKey Auth = "ApiKey"
	AuthBasic  Auth = "Basic"
	AuthNone   Auth = "None"
)

// Host is one entry of the hosts file.
type Host struct {
	Auth     Auth   `yaml:"auth"`
	URL      string `yaml:"url"`
	APIKey   string `yaml:"apikey,omitempty"`
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`
	Insecure bool   `yaml:"insecure,omitempty"`
}

// Validate checks that h carries the credentials its Auth requires and a
// usable URL.
func (h Host) Validate() error {
	if _, err := h.BaseURL(); err != nil {
		return err
	}
	switch h.Auth {
	case AuthAPIKey:
		if h.APIKey == "" {
			return errors.New("auth ApiKey requires apikey")
		}
	case AuthBasic:
		if h.Username == "" || h.Password == "" {
			return errors.New("auth Basic requires username and password")
		}
	case AuthNone:
	default:
		return fmt.Errorf("unknown auth %q, expected one of ApiKey, Basic, None", h.Auth)
	}
	return nil
}

// BaseURL returns the parsed host URL.
func (h Host) BaseURL() (*url.URL, error) {
	if h.URL == "" {
		return nil, errors.New("missing url")
	}
	u, err := url.Parse(h.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid url %q: expected http or https scheme", h.URL)
	}
	return u, nil
}

func (h Host) String() string {
	switch h.Auth {
	case AuthAPIKey:
		return "ApiKey auth: " + h.URL
	case AuthBasic:
		return fmt.Sprintf("Basic auth: %s@ %s", h.Username, h.URL)
	}
	return "No auth: " + h.URL
}

// Path returns the hosts file path: $ESPIPE_HOSTS if set, otherwise
// ~/.espipe/hosts.yml. The ~/.espipe directory is created if missing.
func Path() (string, error) {
	if path := os.Getenv(EnvPath); path != "" {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot locate hosts file: %w", err)
	}
	dir := filepath.Join(home, ".espipe")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("cannot create %s: %w", dir, err)
	}
	return filepath.Join(dir, "hosts.yml"), nil
}

// Load reads the hosts file at path. A missing file is created empty and
// yields no hosts.
func Load(path string, logger *zap.Logger) (map[string]Host, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		logger.Info("no known hosts file, creating it", zap.String("path", path))
		if err := os.WriteFile(path, nil, 0o600); err != nil {
			return nil, fmt.Errorf("cannot create hosts file: %w", err)
		}
		return map[string]Host{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cannot read hosts file: %w", err)
	}

	hosts := make(map[string]Host)
	if err := yaml.Unmarshal(data, &hosts); err != nil {
		return nil, fmt.Errorf("cannot parse hosts file %s: %w", path, err)
	}
	for alias, host := range hosts {
		if err := host.Validate(); err != nil {
			return nil, fmt.Errorf("known host %q: %w", alias, err)
		}
	}
	return hosts, nil
}

// Lookup returns the host named alias from the default hosts file.
func Lookup(alias string, logger *zap.Logger) (Host, error) {
	path, err := Path()
	if err != nil {
		return Host{}, err
	}
	hosts, err := Load(path, logger)
	if err != nil {
		return Host{}, err
	}
	logger.Debug("known hosts", zap.String("path", path), zap.String("aliases", strings.Join(aliases(hosts), ", ")))
	host, ok := hosts[alias]
	if !ok {
		return Host{}, fmt.Errorf("no known host entry for: %s", alias)
	}
	return host, nil
}

func aliases(hosts map[string]Host) []string {
	names := make([]string, 0, len(hosts))
	for name := range hosts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
