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

package inference_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/jaycherian/gcp-go-multimodal-search/internal/core/inference"
)

func TestSubmitBackoffDelays(t *testing.T) {
	p := inference.SubmitBackoff
	got := make([]time.Duration, 0)
	for attempt := 1; !p.Exhausted(attempt); attempt++ {
		got = append(got, p.Delay(attempt))
	}
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second}, got)
	assert.Equal(t, 8*time.Second, p.Delay(10))
}

func TestFixedPolicies(t *testing.T) {
	assert.Equal(t, 5*time.Second, inference.MediaPolling.Delay(1))
	assert.Equal(t, 5*time.Second, inference.MediaPolling.Delay(30))
	assert.Equal(t, 60, inference.MediaPolling.MaxAttempts)
	assert.Equal(t, 2*time.Second, inference.TextPolling.Delay(7))
	assert.Equal(t, 30, inference.TextPolling.MaxAttempts)
}

func TestContextSleepHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, inference.ContextSleep(ctx, time.Hour), context.Canceled)
}
