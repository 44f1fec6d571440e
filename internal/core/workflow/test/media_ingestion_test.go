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

package workflow_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jaycherian/gcp-go-multimodal-search/internal/core/inference"
	"github.com/jaycherian/gcp-go-multimodal-search/internal/core/model"
	"github.com/jaycherian/gcp-go-multimodal-search/internal/core/workflow"
	test "github.com/jaycherian/gcp-go-multimodal-search/internal/testutil"
)

func videoResult() model.VideoResult {
	return model.VideoResult{Segments: []model.VideoSegment{
		{Option: model.OptionVisualImage, Vector: test.Vector(dim, 0, 1), StartTime: test.Float(0), EndTime: test.Float(4)},
		{Option: model.OptionVisualText, Vector: test.Vector(dim, 1, 1), StartTime: test.Float(0), EndTime: test.Float(4)},
		{Option: model.OptionAudio, Vector: test.Vector(dim, 2, 1), StartTime: test.Float(0), EndTime: test.Float(4)},
	}}
}

func newIngestion(embedder *test.FakeEmbedder) (*workflow.MediaIngestionWorkflow, *test.MemoryVectorIndex, *test.MemoryTaskStore) {
	index := test.NewMemoryVectorIndex()
	statuses := test.NewMemoryTaskStore()
	wf := workflow.NewMediaIngestionWorkflow(embedder, index, statuses, dim, config.Storage.ReservedPrefixes()...)
	return wf, index, statuses
}

func TestMediaIngestionIndexesVideo(t *testing.T) {
	embedder := &test.FakeEmbedder{EmbedFn: func(in inference.Input) (model.EmbeddingResult, error) {
		return videoResult(), nil
	}}
	wf, index, statuses := newIngestion(embedder)

	chainCtx := messageContext(t, test.GetTestMediaMessageText("media", "videos/clip.mp4", "video/mp4"), 1)
	wf.Execute(chainCtx)

	require.False(t, chainCtx.HasErrors(), "%v", chainCtx.Err())
	assert.Equal(t, 3, index.Len())
	require.Len(t, embedder.Inputs, 1)
	assert.Equal(t, model.MediaTypeVideo, embedder.Inputs[0].MediaType)
	assert.Equal(t, "gs://media/videos/clip.mp4", embedder.Inputs[0].Locator)

	status := statuses.Statuses["gs://media/videos/clip.mp4"]
	require.NotNil(t, status)
	assert.Equal(t, model.IngestionCompleted, status.Status)
	assert.Zero(t, status.RetryCount)
	assert.Equal(t, model.IngestionProcessing, statuses.History[0].Status)

	seg := index.Segments[model.DocumentID("gs://media/videos/clip.mp4", 2)]
	require.NotNil(t, seg)
	assert.Equal(t, test.Vector(dim, 2, 1), seg.AudioEmbedding)
	assert.InDelta(t, 4.0, *seg.Duration, 1e-9)
}

func TestMediaIngestionRedeliveryUpserts(t *testing.T) {
	embedder := &test.FakeEmbedder{EmbedFn: func(inference.Input) (model.EmbeddingResult, error) {
		return model.ImageResult{Vector: test.Vector(dim, 0, 1)}, nil
	}}
	wf, index, statuses := newIngestion(embedder)
	body := test.GetTestMediaMessageText("media", "photos/cat.png", "image/png")

	wf.Execute(messageContext(t, body, 1))
	wf.Execute(messageContext(t, body, 2))

	assert.Equal(t, 1, index.Len())
	assert.Equal(t, 1, statuses.Statuses["gs://media/photos/cat.png"].RetryCount)
}

func TestMediaIngestionSkipsReservedAndUnsupported(t *testing.T) {
	cases := map[string]string{
		"temporary upload":   config.Storage.TempPrefix + "abc.png",
		"inference output":   config.Storage.InferenceOutputPrefix + "job/predictions.jsonl",
		"unsupported":        "docs/readme.txt",
		"folder placeholder": "videos/",
	}
	for name, key := range cases {
		t.Run(name, func(t *testing.T) {
			embedder := &test.FakeEmbedder{EmbedFn: func(inference.Input) (model.EmbeddingResult, error) {
				t.Fatal("embedder must not be called")
				return nil, nil
			}}
			wf, index, statuses := newIngestion(embedder)

			chainCtx := messageContext(t, test.GetTestMediaMessageText("media", key, "application/octet-stream"), 1)
			wf.Execute(chainCtx)

			assert.False(t, chainCtx.HasErrors())
			assert.Zero(t, index.Len())
			assert.Empty(t, statuses.History)
		})
	}
}

func TestMediaIngestionBatchNotification(t *testing.T) {
	embedder := &test.FakeEmbedder{EmbedFn: func(in inference.Input) (model.EmbeddingResult, error) {
		if in.MediaType == model.MediaTypeAudio {
			return model.AudioResult{Vector: test.Vector(dim, 3, 1)}, nil
		}
		return model.ImageResult{Vector: test.Vector(dim, 0, 1)}, nil
	}}
	wf, index, _ := newIngestion(embedder)

	body := fmt.Sprintf("[%s,%s,%s]",
		test.GetTestMediaMessageText("media", "a.png", "image/png"),
		test.GetTestMediaMessageText("media", "temp/q.png", "image/png"),
		test.GetTestMediaMessageText("media", "b.mp3", "audio/mpeg"))
	chainCtx := messageContext(t, body, 1)
	wf.Execute(chainCtx)

	require.False(t, chainCtx.HasErrors())
	assert.Equal(t, 2, index.Len())
	assert.Len(t, embedder.Inputs, 2)
}

func TestMediaIngestionThrottledIsRedelivered(t *testing.T) {
	embedder := &test.FakeEmbedder{EmbedFn: func(inference.Input) (model.EmbeddingResult, error) {
		return nil, &model.TransientInferenceError{Err: errors.New("429 quota exceeded")}
	}}
	wf, index, statuses := newIngestion(embedder)

	chainCtx := messageContext(t, test.GetTestMediaMessageText("media", "clip.mp4", "video/mp4"), 3)
	wf.Execute(chainCtx)

	require.True(t, chainCtx.HasErrors(), "the message must stay unacked")
	assert.True(t, model.IsTransient(chainCtx.Err()))
	assert.Zero(t, index.Len())

	status := statuses.Statuses["gs://media/clip.mp4"]
	require.NotNil(t, status)
	assert.Equal(t, model.IngestionRetrying, status.Status)
	assert.Equal(t, 2, status.RetryCount)
	assert.Contains(t, status.LastError, "429 quota exceeded")
}

func TestMediaIngestionRejectsBadVectors(t *testing.T) {
	embedder := &test.FakeEmbedder{EmbedFn: func(inference.Input) (model.EmbeddingResult, error) {
		return model.ImageResult{Vector: []float32{1, 2}}, nil
	}}
	wf, index, statuses := newIngestion(embedder)

	chainCtx := messageContext(t, test.GetTestMediaMessageText("media", "a.png", "image/png"), 1)
	wf.Execute(chainCtx)

	var failure *model.InferenceFailure
	assert.ErrorAs(t, chainCtx.Err(), &failure)
	assert.Zero(t, index.Len())
	assert.Equal(t, model.IngestionRetrying, statuses.Statuses["gs://media/a.png"].Status)
}

func TestMediaIngestionIndexFailure(t *testing.T) {
	embedder := &test.FakeEmbedder{EmbedFn: func(inference.Input) (model.EmbeddingResult, error) {
		return model.ImageResult{Vector: test.Vector(dim, 0, 1)}, nil
	}}
	wf, index, _ := newIngestion(embedder)
	index.IndexErr = errors.New("bigquery unavailable")

	chainCtx := messageContext(t, test.GetTestMediaMessageText("media", "a.png", "image/png"), 1)
	wf.Execute(chainCtx)

	var storageErr *model.StorageError
	assert.ErrorAs(t, chainCtx.Err(), &storageErr)
}

func TestMediaIngestionMalformedNotification(t *testing.T) {
	wf, _, _ := newIngestion(&test.FakeEmbedder{})
	chainCtx := messageContext(t, "{not json", 1)
	wf.Execute(chainCtx)
	assert.True(t, chainCtx.HasErrors())
}
