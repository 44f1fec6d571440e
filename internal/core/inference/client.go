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
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jaycherian/gcp-go-multimodal-search/internal/core/model"
)

// DefaultPollTimeout bounds a single poll request.
const DefaultPollTimeout = 30 * time.Second

// Client submits a job, waits for it and decodes its result.
type Client struct {
	gateway       Gateway
	reader        ResultReader
	sleep         Sleeper
	mediaPolling  RetryPolicy
	textPolling   RetryPolicy
	submitBackoff RetryPolicy
	pollTimeout   time.Duration
	dimension     int
	tracer        trace.Tracer
}

// Option configures a Client.
type Option func(*Client)

// WithSleeper replaces the wait between attempts, mainly for tests.
func WithSleeper(s Sleeper) Option { return func(c *Client) { c.sleep = s } }

func WithMediaPolling(p RetryPolicy) Option { return func(c *Client) { c.mediaPolling = p } }

func WithTextPolling(p RetryPolicy) Option { return func(c *Client) { c.textPolling = p } }

func WithSubmitBackoff(p RetryPolicy) Option { return func(c *Client) { c.submitBackoff = p } }

func WithPollTimeout(d time.Duration) Option { return func(c *Client) { c.pollTimeout = d } }

// WithDimension enforces the vector length of decoded results. Zero disables the check.
func WithDimension(d int) Option { return func(c *Client) { c.dimension = d } }

func NewClient(gateway Gateway, reader ResultReader, opts ...Option) *Client {
	c := &Client{
		gateway:       gateway,
		reader:        reader,
		sleep:         ContextSleep,
		mediaPolling:  MediaPolling,
		textPolling:   TextPolling,
		submitBackoff: SubmitBackoff,
		pollTimeout:   DefaultPollTimeout,
		dimension:     model.DefaultDimension,
		tracer:        otel.Tracer("inference-client"),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// EmbedText embeds a text query.
func (c *Client) EmbedText(ctx context.Context, text string) ([]float32, error) {
	res, err := c.Embed(ctx, Input{MediaType: model.MediaTypeText, Text: text})
	if err != nil {
		return nil, err
	}
	vec, _, err := model.QueryVector(res, "")
	return vec, err
}

// Embed runs one job to completion. Errors are *model.TransientInferenceError
// when submission stayed throttled, *model.InferenceFailure for failed or
// cancelled jobs, *model.TimeoutError when polling gave up and
// *model.StorageError when the result could not be read.
func (c *Client) Embed(ctx context.Context, in Input) (res model.EmbeddingResult, err error) {
	ctx, span := c.tracer.Start(ctx, "embed")
	span.SetAttributes(attribute.String("media_type", string(in.MediaType)), attribute.String("locator", in.Locator))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "embedding failed")
		} else {
			span.SetStatus(codes.Ok, "embedded")
		}
		span.End()
	}()

	handle, err := c.submit(ctx, in)
	if err != nil {
		return nil, err
	}

	policy := c.mediaPolling
	if in.MediaType == model.MediaTypeText {
		policy = c.textPolling
	}
	status, err := c.await(ctx, handle, policy)
	if err != nil {
		return nil, err
	}

	raw, err := c.reader.Get(ctx, status.ResultLocator)
	if err != nil {
		return nil, &model.StorageError{Op: "read inference result " + status.ResultLocator, Err: err}
	}
	return Decode(in.MediaType, raw, c.dimension)
}

func (c *Client) submit(ctx context.Context, in Input) (JobHandle, error) {
	for attempt := 1; ; attempt++ {
		handle, err := c.gateway.Submit(ctx, in)
		if err == nil {
			return handle, nil
		}
		if !model.IsTransient(err) || c.submitBackoff.Exhausted(attempt) {
			return JobHandle{}, err
		}
		delay := c.submitBackoff.Delay(attempt)
		slog.WarnContext(ctx, "inference submission throttled, backing off",
			"attempt", attempt, "delay", delay.String(), "locator", in.Locator)
		if err := c.sleep(ctx, delay); err != nil {
			return JobHandle{}, err
		}
	}
}

func (c *Client) await(ctx context.Context, handle JobHandle, policy RetryPolicy) (JobStatus, error) {
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		pollCtx, cancel := context.WithTimeout(ctx, c.pollTimeout)
		status, err := c.gateway.Poll(pollCtx, handle)
		cancel()

		switch {
		case err != nil:
			if ctx.Err() != nil {
				return JobStatus{}, ctx.Err()
			}
			slog.WarnContext(ctx, "inference poll failed", "job", handle.ID, "attempt", attempt, "error", err)
		case status.State == JobCompleted:
			return status, nil
		case status.State == JobFailed:
			return status, model.NewInferenceFailure(status.Message, false)
		case status.State == JobCancelled:
			return status, model.NewInferenceFailure(status.Message, true)
		}

		if attempt == policy.MaxAttempts {
			break
		}
		if err := c.sleep(ctx, policy.Delay(attempt)); err != nil {
			return JobStatus{}, err
		}
	}
	return JobStatus{}, &model.TimeoutError{Operation: "inference job " + handle.ID, Attempts: policy.MaxAttempts}
}
