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

package commands

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jaycherian/gcp-go-multimodal-search/internal/cloud"
	"github.com/jaycherian/gcp-go-multimodal-search/internal/core/cor"
	"github.com/jaycherian/gcp-go-multimodal-search/internal/core/inference"
	"github.com/jaycherian/gcp-go-multimodal-search/internal/core/model"
	"github.com/jaycherian/gcp-go-multimodal-search/internal/core/services"
)

// MediaEmbeddingIngestor embeds each classified object and writes one index
// row per returned segment, recording the IngestionStatus of every attempt.
//
// Objects are processed in order. The first failure stops the command: the
// object is marked retrying, the error is put on the chain and the message
// stays unacked so the queue delivers the whole event again. Segment ids are
// deterministic, so objects indexed before the failure are overwritten in
// place on the next delivery.
type MediaEmbeddingIngestor struct {
	cor.BaseCommand
	embedder  Embedder
	index     services.VectorIndex
	statuses  services.StatusStore
	dimension int
	now       func() time.Time
}

func NewMediaEmbeddingIngestor(name string, embedder Embedder, index services.VectorIndex, statuses services.StatusStore, dimension int) *MediaEmbeddingIngestor {
	return &MediaEmbeddingIngestor{
		BaseCommand: *cor.NewBaseCommand(name),
		embedder:    embedder,
		index:       index,
		statuses:    statuses,
		dimension:   dimension,
		now:         time.Now,
	}
}

// IngestionReport is the output of a successful run.
type IngestionReport struct {
	Objects  int
	Segments int
}

func (c *MediaEmbeddingIngestor) Execute(context cor.Context) {
	objects, _ := context.Get(c.GetInputParam()).([]model.MediaObject)
	ctx := context.GetContext()

	retryCount := 0
	if attempt, ok := cor.GetAs[int](context, cor.CtxDeliveryAttempt); ok && attempt > 1 {
		retryCount = attempt - 1
	}

	report := &IngestionReport{}
	for _, obj := range objects {
		n, err := c.ingest(ctx, obj, retryCount)
		if err != nil {
			c.recordFailure(ctx, obj, retryCount, err)
			c.Fail(context, fmt.Errorf("failed to ingest %s: %w", obj.Locator, err))
			return
		}
		report.Objects++
		report.Segments += n
	}
	c.Succeed(context, report)
}

func (c *MediaEmbeddingIngestor) ingest(ctx context.Context, obj model.MediaObject, retryCount int) (int, error) {
	trace.SpanFromContext(ctx).SetAttributes(
		attribute.String("locator", obj.Locator),
		attribute.Int("retry_count", retryCount))

	if err := c.putStatus(ctx, obj.Locator, model.IngestionProcessing, retryCount, ""); err != nil {
		return 0, err
	}

	res, err := c.embedder.Embed(ctx, inference.Input{MediaType: obj.MediaType, Locator: obj.Locator})
	if err != nil {
		return 0, err
	}
	segments, err := model.SegmentsFromResult(obj, res, c.now())
	if err != nil {
		return 0, err
	}
	for _, s := range segments {
		if err := s.Validate(c.dimension); err != nil {
			return 0, model.NewInferenceFailure(err.Error(), false)
		}
		if err := c.index.Index(ctx, s); err != nil {
			return 0, &model.StorageError{Op: "index segment " + s.ID, Err: err}
		}
	}

	if err := c.putStatus(ctx, obj.Locator, model.IngestionCompleted, retryCount, ""); err != nil {
		return 0, err
	}
	slog.InfoContext(ctx, "ingested media object",
		"locator", obj.Locator, "media_type", obj.MediaType, "segments", len(segments), "retry_count", retryCount)
	return len(segments), nil
}

func (c *MediaEmbeddingIngestor) recordFailure(ctx context.Context, obj model.MediaObject, retryCount int, err error) {
	if model.IsTransient(err) || cloud.IsThrottled(err) {
		slog.WarnContext(ctx, "inference throttled, leaving object for redelivery",
			"locator", obj.Locator, "retry_count", retryCount, "throttled", true, "error", err)
	} else {
		slog.ErrorContext(ctx, "media ingestion failed",
			"locator", obj.Locator, "retry_count", retryCount, "error", err)
	}
	if serr := c.putStatus(ctx, obj.Locator, model.IngestionRetrying, retryCount, err.Error()); serr != nil {
		slog.ErrorContext(ctx, "failed to record ingestion status", "locator", obj.Locator, "error", serr)
	}
}

func (c *MediaEmbeddingIngestor) putStatus(ctx context.Context, locator string, state model.IngestionState, retryCount int, lastError string) error {
	err := c.statuses.PutIngestionStatus(ctx, &model.IngestionStatus{
		Locator:     locator,
		Status:      state,
		RetryCount:  retryCount,
		LastError:   model.TruncateError(lastError),
		LastUpdated: c.now().UTC(),
	})
	if err != nil {
		return &model.StorageError{Op: "record ingestion status", Err: err}
	}
	return nil
}
