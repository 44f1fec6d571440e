// Copyright 2024 Google, LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package inference

import (
	"context"
	"time"
)

// RetryPolicy bounds a retry or polling loop. A Multiplier above 1 turns the
// fixed Interval into exponential backoff, capped by MaxInterval when set.
type RetryPolicy struct {
	MaxAttempts int
	Interval    time.Duration
	Multiplier  float64
	MaxInterval time.Duration
}

var (
	// MediaPolling waits up to five minutes for image, audio and video jobs.
	MediaPolling = RetryPolicy{MaxAttempts: 60, Interval: 5 * time.Second}
	// TextPolling waits up to one minute for text jobs.
	TextPolling = RetryPolicy{MaxAttempts: 30, Interval: 2 * time.Second}
	// SubmitBackoff retries throttled submissions after 1s, 2s, 4s and 8s.
	SubmitBackoff = RetryPolicy{MaxAttempts: 5, Interval: time.Second, Multiplier: 2, MaxInterval: 8 * time.Second}
)

// Delay is the wait after the given 1-based attempt has failed.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.Interval
	if p.Multiplier > 1 {
		for i := 1; i < attempt; i++ {
			d = time.Duration(float64(d) * p.Multiplier)
			if p.MaxInterval > 0 && d >= p.MaxInterval {
				return p.MaxInterval
			}
		}
	}
	if p.MaxInterval > 0 && d > p.MaxInterval {
		return p.MaxInterval
	}
	return d
}

// Exhausted reports whether no attempt may follow the given one.
func (p RetryPolicy) Exhausted(attempt int) bool {
	return attempt >= p.MaxAttempts
}

// Sleeper blocks for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// ContextSleep is the production Sleeper.
func ContextSleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
