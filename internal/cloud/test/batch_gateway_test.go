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

package cloud_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/aiplatform/v1"
	"google.golang.org/api/option"

	"github.com/jaycherian/gcp-go-multimodal-search/internal/cloud"
	"github.com/jaycherian/gcp-go-multimodal-search/internal/core/inference"
	"github.com/jaycherian/gcp-go-multimodal-search/internal/core/model"
	test "github.com/jaycherian/gcp-go-multimodal-search/internal/testutil"
)

// fakeVertex serves the batch prediction job endpoints.
type fakeVertex struct {
	mu       sync.Mutex
	created  []*aiplatform.GoogleCloudAiplatformV1BatchPredictionJob
	state    string
	errorMsg string
	throttle bool
}

func (f *fakeVertex) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")

	if f.throttle {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, `{"error":{"code":429,"message":"Quota exceeded","status":"RESOURCE_EXHAUSTED"}}`)
		return
	}
	switch r.Method {
	case http.MethodPost:
		job := &aiplatform.GoogleCloudAiplatformV1BatchPredictionJob{}
		_ = json.NewDecoder(r.Body).Decode(job)
		f.created = append(f.created, job)
		job.Name = "projects/test-project/locations/us-central1/batchPredictionJobs/42"
		job.State = "JOB_STATE_PENDING"
		_ = json.NewEncoder(w).Encode(job)
	case http.MethodGet:
		job := &aiplatform.GoogleCloudAiplatformV1BatchPredictionJob{
			Name:  strings.TrimPrefix(r.URL.Path, "/v1/"),
			State: f.state,
		}
		if f.errorMsg != "" {
			job.Error = &aiplatform.GoogleRpcStatus{Code: 3, Message: f.errorMsg}
		}
		_ = json.NewEncoder(w).Encode(job)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func newVertexService(t *testing.T, vertex *fakeVertex) *aiplatform.Service {
	srv := httptest.NewServer(vertex)
	t.Cleanup(srv.Close)

	service, err := aiplatform.NewService(context.Background(),
		option.WithEndpoint(srv.URL+"/"),
		option.WithoutAuthentication(),
		option.WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	return service
}

func gatewayConfig() *cloud.Config {
	config := cloud.NewConfig()
	config.Application.GoogleProjectId = "test-project"
	config.Application.GoogleLocation = "us-central1"
	config.Storage.MediaBucket = "media"
	config.Storage.InferenceBucket = "artifacts"
	return config
}

func newGateway(t *testing.T, vertex *fakeVertex) (*cloud.VertexBatchGateway, *test.MemoryObjectStore) {
	artifacts := test.NewMemoryObjectStore()
	return cloud.NewVertexBatchGateway(newVertexService(t, vertex), artifacts, gatewayConfig()), artifacts
}

// deadlineArtifacts records the deadline each upload ran under.
type deadlineArtifacts struct {
	*test.MemoryObjectStore
	deadlines []time.Time
}

func (d *deadlineArtifacts) Put(ctx context.Context, locator string, data []byte, contentType string) error {
	deadline, ok := ctx.Deadline()
	if !ok {
		return errors.New("upload without deadline")
	}
	d.deadlines = append(d.deadlines, deadline)
	return d.MemoryObjectStore.Put(ctx, locator, data, contentType)
}

func TestBatchGatewaySubmitIsBounded(t *testing.T) {
	config := gatewayConfig()
	config.Inference.CallTimeoutSeconds = 45
	artifacts := &deadlineArtifacts{MemoryObjectStore: test.NewMemoryObjectStore()}
	gw := cloud.NewVertexBatchGateway(newVertexService(t, &fakeVertex{}), artifacts, config)

	start := time.Now()
	_, err := gw.Submit(context.Background(), inference.Input{MediaType: model.MediaTypeText, Text: "hello"})
	require.NoError(t, err)
	require.Len(t, artifacts.deadlines, 1)
	assert.WithinDuration(t, start.Add(45*time.Second), artifacts.deadlines[0], 5*time.Second)
}

func TestBatchGatewaySubmitWritesRequest(t *testing.T) {
	vertex := &fakeVertex{}
	gw, artifacts := newGateway(t, vertex)

	handle, err := gw.Submit(context.Background(), inference.Input{
		MediaType: model.MediaTypeVideo,
		Locator:   "gs://media/clip.mp4",
		Options:   []model.EmbeddingOption{model.OptionAudio},
	})
	require.NoError(t, err)
	assert.Equal(t, "projects/test-project/locations/us-central1/batchPredictionJobs/42", handle.ID)
	assert.True(t, strings.HasPrefix(handle.OutputLocator, "gs://artifacts/inference-outputs/"))

	requests, err := artifacts.List(context.Background(), "gs://artifacts/inference-inputs/")
	require.NoError(t, err)
	require.Len(t, requests, 1)
	assert.True(t, strings.HasSuffix(requests[0], "/request.jsonl"))

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(artifacts.Objects[requests[0]], &line))
	assert.Equal(t, "video", line["inputType"])
	assert.Equal(t, map[string]interface{}{"gcsUri": "gs://media/clip.mp4"}, line["mediaSource"])
	assert.Equal(t, []interface{}{"audio"}, line["embeddingOptions"])

	require.Len(t, vertex.created, 1)
	job := vertex.created[0]
	assert.Equal(t, "projects/test-project/locations/us-central1/publishers/google/models/multimodalembedding@001", job.Model)
	assert.Equal(t, []string{requests[0]}, job.InputConfig.GcsSource.Uris)
	assert.Equal(t, handle.OutputLocator, job.OutputConfig.GcsDestination.OutputUriPrefix)
}

func TestBatchGatewayThrottlingIsTransient(t *testing.T) {
	gw, _ := newGateway(t, &fakeVertex{throttle: true})
	_, err := gw.Submit(context.Background(), inference.Input{MediaType: model.MediaTypeText, Text: "hello"})
	assert.True(t, model.IsTransient(err))
	assert.True(t, cloud.IsThrottled(err))
}

func TestBatchGatewayPollStates(t *testing.T) {
	vertex := &fakeVertex{}
	gw, artifacts := newGateway(t, vertex)
	handle := inference.JobHandle{
		ID:            "projects/test-project/locations/us-central1/batchPredictionJobs/42",
		OutputLocator: "gs://artifacts/inference-outputs/abc/",
	}

	cases := []struct {
		state    string
		errorMsg string
		want     inference.JobState
		message  string
	}{
		{"JOB_STATE_RUNNING", "", inference.JobPending, ""},
		{"JOB_STATE_QUEUED", "", inference.JobPending, ""},
		{"JOB_STATE_FAILED", "Unsupported media", inference.JobFailed, "Unsupported media"},
		{"JOB_STATE_EXPIRED", "", inference.JobFailed, "expired"},
		{"JOB_STATE_CANCELLED", "", inference.JobCancelled, "cancelled"},
	}
	for _, c := range cases {
		t.Run(c.state, func(t *testing.T) {
			vertex.mu.Lock()
			vertex.state, vertex.errorMsg = c.state, c.errorMsg
			vertex.mu.Unlock()

			status, err := gw.Poll(context.Background(), handle)
			require.NoError(t, err)
			assert.Equal(t, c.want, status.State)
			assert.Equal(t, c.message, status.Message)
		})
	}

	vertex.state, vertex.errorMsg = "JOB_STATE_SUCCEEDED", ""
	_, err := gw.Poll(context.Background(), handle)
	assert.Error(t, err, "succeeded without output")

	artifacts.Objects["gs://artifacts/inference-outputs/abc/prediction-model-1/predictions_00001.jsonl"] = []byte("{}")
	status, err := gw.Poll(context.Background(), handle)
	require.NoError(t, err)
	assert.Equal(t, inference.JobCompleted, status.State)
	assert.Equal(t, "gs://artifacts/inference-outputs/abc/prediction-model-1/predictions_00001.jsonl", status.ResultLocator)
}

func TestQuotaAwareGatewayDelegates(t *testing.T) {
	inner := &test.ScriptedGateway{Statuses: []inference.JobStatus{{State: inference.JobPending}}}
	gw := cloud.NewQuotaAwareGateway(inner, 0, 0)

	handle, err := gw.Submit(context.Background(), inference.Input{MediaType: model.MediaTypeImage})
	require.NoError(t, err)
	status, err := gw.Poll(context.Background(), handle)
	require.NoError(t, err)
	assert.Equal(t, inference.JobPending, status.State)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	limited := cloud.NewQuotaAwareGateway(inner, 1, 1)
	_, err = limited.Submit(ctx, inference.Input{MediaType: model.MediaTypeImage})
	assert.Error(t, err)
	assert.Len(t, inner.Submits, 1)
}
