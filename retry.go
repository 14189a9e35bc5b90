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
	"context"
	"time"
)

// retryPolicy tracks the attempts of one bulk request against a throttling
// Elasticsearch. The backoff doubles after every retry up to max.
type retryPolicy struct {
	attempt     int
	backoff     time.Duration
	max         time.Duration
	maxAttempts int // 0 means unbounded
}

func newRetryPolicy(cfg Config) *retryPolicy {
	p := &retryPolicy{
		attempt: 1,
		backoff: cfg.RetryBackoff,
		max:     cfg.RetryBackoffMax,
	}
	if cfg.MaxRetries > 0 {
		p.maxAttempts = cfg.MaxRetries + 1
	}
	return p
}

// next returns how long to wait before the next attempt, and advances the
// policy. It returns false when no attempts are left.
func (p *retryPolicy) next() (time.Duration, bool) {
	if p.maxAttempts > 0 && p.attempt >= p.maxAttempts {
		return 0, false
	}
	wait := p.backoff
	p.backoff = min(p.backoff*2, p.max)
	p.attempt++
	return wait, true
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
