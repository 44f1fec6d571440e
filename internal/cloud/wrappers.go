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

package cloud

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/jaycherian/gcp-go-multimodal-search/internal/core/inference"
)

// QuotaAwareGateway throttles job submissions on the client side so bursts
// of notifications stay under the provider quota. Polls are not limited.
type QuotaAwareGateway struct {
	inference.Gateway
	limiter *rate.Limiter
}

// NewQuotaAwareGateway allows perSecond submissions with the given burst. A
// non positive rate disables the limit.
func NewQuotaAwareGateway(wrapped inference.Gateway, perSecond float64, burst int) *QuotaAwareGateway {
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	if burst < 1 {
		burst = 1
	}
	return &QuotaAwareGateway{Gateway: wrapped, limiter: rate.NewLimiter(limit, burst)}
}

func (q *QuotaAwareGateway) Submit(ctx context.Context, in inference.Input) (inference.JobHandle, error) {
	if err := q.limiter.Wait(ctx); err != nil {
		return inference.JobHandle{}, err
	}
	return q.Gateway.Submit(ctx, in)
}
