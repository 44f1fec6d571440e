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

// Package services contains the search task manager, the cleanup service and
// the storage contracts the pipelines are written against. Implementations
// live in the cloud package; tests use the fakes in testutil.
package services

import (
	"context"
	"time"

	"github.com/jaycherian/gcp-go-multimodal-search/internal/core/matching"
	"github.com/jaycherian/gcp-go-multimodal-search/internal/core/model"
)

// ObjectStore is durable blob storage addressed by gs:// locators.
type ObjectStore interface {
	Put(ctx context.Context, locator string, data []byte, contentType string) error
	Get(ctx context.Context, locator string) ([]byte, error)
	Delete(ctx context.Context, locator string) error
	List(ctx context.Context, prefixLocator string) ([]string, error)
	Presign(ctx context.Context, locator string, ttl time.Duration) (string, error)
}

// TaskStore keeps SearchTask records. TransitionTask is a conditional update:
// it fails with an error wrapping model.ErrConflict when the stored status
// may not move to the requested one, and with *model.NotFoundError when the
// task does not exist. A non nil error from mutate aborts the update and is
// returned as is.
type TaskStore interface {
	CreateTask(ctx context.Context, task *model.SearchTask) error
	GetTask(ctx context.Context, taskID string) (*model.SearchTask, error)
	TransitionTask(ctx context.Context, taskID string, to model.TaskStatus, mutate func(*model.SearchTask) error) (*model.SearchTask, error)
	// Purge removes every task and ingestion status record.
	Purge(ctx context.Context) (int, error)
}

// StatusStore keeps the IngestionStatus diagnostic per object locator.
type StatusStore interface {
	PutIngestionStatus(ctx context.Context, status *model.IngestionStatus) error
	GetIngestionStatus(ctx context.Context, locator string) (*model.IngestionStatus, error)
}

// VectorIndex stores EmbeddingSegments and answers per field KNN queries.
// Index is an upsert keyed by the segment id.
type VectorIndex interface {
	matching.VectorSearcher
	EnsureIndex(ctx context.Context) error
	Index(ctx context.Context, segment *model.EmbeddingSegment) error
	Purge(ctx context.Context) (int64, error)
}

// Publisher enqueues a message for asynchronous processing.
type Publisher interface {
	Publish(ctx context.Context, data []byte) (string, error)
}
