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

// Package inference drives asynchronous embedding jobs on an external
// provider: submission with throttling backoff, bounded polling and decoding
// of the result document into a model.EmbeddingResult.
package inference

import (
	"context"

	"github.com/jaycherian/gcp-go-multimodal-search/internal/core/model"
)

// Input describes one embedding job. Locator is empty for text jobs.
// Options optionally restricts the embedding kinds produced for a video.
type Input struct {
	MediaType model.MediaType
	Locator   string
	Text      string
	Options   []model.EmbeddingOption
}

// JobHandle identifies a submitted job and the fresh location its output is
// written to.
type JobHandle struct {
	ID            string
	OutputLocator string
}

// JobState is the provider independent state of a job.
type JobState string

const (
	JobPending   JobState = "Pending"
	JobCompleted JobState = "Completed"
	JobFailed    JobState = "Failed"
	JobCancelled JobState = "Cancelled"
)

// JobStatus is the result of one poll. ResultLocator is set when Completed,
// Message when Failed or Cancelled.
type JobStatus struct {
	State         JobState
	ResultLocator string
	Message       string
}

// Gateway is the external asynchronous inference service. Submit returns a
// *model.TransientInferenceError when the provider throttles the request.
type Gateway interface {
	Submit(ctx context.Context, in Input) (JobHandle, error)
	Poll(ctx context.Context, handle JobHandle) (JobStatus, error)
}

// ResultReader loads the result document of a completed job.
type ResultReader interface {
	Get(ctx context.Context, locator string) ([]byte, error)
}
