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
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"google.golang.org/api/aiplatform/v1"

	"github.com/jaycherian/gcp-go-multimodal-search/internal/core/inference"
	"github.com/jaycherian/gcp-go-multimodal-search/internal/core/model"
)

// ArtifactStore is the part of the object store the batch gateway needs.
type ArtifactStore interface {
	Put(ctx context.Context, locator string, data []byte, contentType string) error
	List(ctx context.Context, prefixLocator string) ([]string, error)
}

// batchInstance is the single request line of a batch job.
type batchInstance struct {
	InputType        string                  `json:"inputType"`
	MediaSource      *mediaSource            `json:"mediaSource,omitempty"`
	InputText        string                  `json:"inputText,omitempty"`
	EmbeddingOptions []model.EmbeddingOption `json:"embeddingOptions,omitempty"`
}

type mediaSource struct {
	GcsURI string `json:"gcsUri"`
}

// VertexBatchGateway runs embedding jobs as Vertex AI batch prediction jobs.
// Each submission writes its request under a fresh uuid and points the job
// output at a fresh prefix, so concurrent jobs never share files.
type VertexBatchGateway struct {
	service      *aiplatform.Service
	artifacts    ArtifactStore
	parent       string
	model        string
	bucket       string
	inputPrefix  string
	outputPrefix string
	callTimeout  time.Duration
}

func NewVertexBatchGateway(service *aiplatform.Service, artifacts ArtifactStore, config *Config) *VertexBatchGateway {
	parent := fmt.Sprintf("projects/%s/locations/%s", config.Application.GoogleProjectId, config.Application.GoogleLocation)
	modelName := config.Inference.Model
	if strings.HasPrefix(modelName, "publishers/") {
		modelName = parent + "/" + modelName
	}
	callTimeout := time.Duration(config.Inference.CallTimeoutSeconds) * time.Second
	if callTimeout <= 0 {
		callTimeout = time.Minute
	}
	return &VertexBatchGateway{
		service:      service,
		artifacts:    artifacts,
		parent:       parent,
		model:        modelName,
		bucket:       config.Storage.ArtifactBucket(),
		inputPrefix:  config.Storage.InferenceInputPrefix,
		outputPrefix: config.Storage.InferenceOutputPrefix,
		callTimeout:  callTimeout,
	}
}

// Submit uploads the request file and creates the job, both under a single
// call timeout.
func (g *VertexBatchGateway) Submit(ctx context.Context, in inference.Input) (inference.JobHandle, error) {
	ctx, cancel := context.WithTimeout(ctx, g.callTimeout)
	defer cancel()

	line, err := json.Marshal(newBatchInstance(in))
	if err != nil {
		return inference.JobHandle{}, err
	}

	id := uuid.New().String()
	requestLoc := model.Locator(g.bucket, g.inputPrefix+id+"/request.jsonl")
	outputLoc := model.Locator(g.bucket, g.outputPrefix+id+"/")
	if err := g.artifacts.Put(ctx, requestLoc, append(line, '\n'), "application/jsonl"); err != nil {
		return inference.JobHandle{}, &model.StorageError{Op: "write inference request", Err: err}
	}

	job := &aiplatform.GoogleCloudAiplatformV1BatchPredictionJob{
		DisplayName: "embed-" + id,
		Model:       g.model,
		InputConfig: &aiplatform.GoogleCloudAiplatformV1BatchPredictionJobInputConfig{
			InstancesFormat: "jsonl",
			GcsSource:       &aiplatform.GoogleCloudAiplatformV1GcsSource{Uris: []string{requestLoc}},
		},
		OutputConfig: &aiplatform.GoogleCloudAiplatformV1BatchPredictionJobOutputConfig{
			PredictionsFormat: "jsonl",
			GcsDestination:    &aiplatform.GoogleCloudAiplatformV1GcsDestination{OutputUriPrefix: outputLoc},
		},
	}
	created, err := g.service.Projects.Locations.BatchPredictionJobs.Create(g.parent, job).Context(ctx).Do()
	if err != nil {
		if IsThrottled(err) {
			return inference.JobHandle{}, &model.TransientInferenceError{Err: err}
		}
		return inference.JobHandle{}, fmt.Errorf("failed to create batch prediction job: %w", err)
	}
	return inference.JobHandle{ID: created.Name, OutputLocator: outputLoc}, nil
}

func newBatchInstance(in inference.Input) batchInstance {
	inst := batchInstance{InputType: string(in.MediaType), EmbeddingOptions: in.Options}
	if in.MediaType == model.MediaTypeText {
		inst.InputText = in.Text
	} else {
		inst.MediaSource = &mediaSource{GcsURI: in.Locator}
	}
	return inst
}

func (g *VertexBatchGateway) Poll(ctx context.Context, handle inference.JobHandle) (inference.JobStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, g.callTimeout)
	defer cancel()
	job, err := g.service.Projects.Locations.BatchPredictionJobs.Get(handle.ID).Context(ctx).Do()
	if err != nil {
		return inference.JobStatus{}, err
	}

	switch job.State {
	case "JOB_STATE_SUCCEEDED", "JOB_STATE_PARTIALLY_SUCCEEDED":
		dir := handle.OutputLocator
		if job.OutputInfo != nil && job.OutputInfo.GcsOutputDirectory != "" {
			dir = strings.TrimSuffix(job.OutputInfo.GcsOutputDirectory, "/") + "/"
		}
		loc, err := g.findOutput(ctx, dir)
		if err != nil {
			return inference.JobStatus{}, err
		}
		return inference.JobStatus{State: inference.JobCompleted, ResultLocator: loc}, nil
	case "JOB_STATE_FAILED", "JOB_STATE_EXPIRED":
		return inference.JobStatus{State: inference.JobFailed, Message: jobMessage(job)}, nil
	case "JOB_STATE_CANCELLED", "JOB_STATE_CANCELLING":
		return inference.JobStatus{State: inference.JobCancelled, Message: jobMessage(job)}, nil
	}
	return inference.JobStatus{State: inference.JobPending}, nil
}

var errNoOutput = errors.New("batch job succeeded without an output file")

// findOutput picks the predictions file of a finished job.
func (g *VertexBatchGateway) findOutput(ctx context.Context, dir string) (string, error) {
	locators, err := g.artifacts.List(ctx, dir)
	if err != nil {
		return "", err
	}
	for _, loc := range locators {
		name := loc[strings.LastIndex(loc, "/")+1:]
		if strings.HasSuffix(name, ".jsonl") || name == "output.json" || strings.HasPrefix(name, "predictions") {
			return loc, nil
		}
	}
	return "", fmt.Errorf("%w: %s", errNoOutput, dir)
}

func jobMessage(job *aiplatform.GoogleCloudAiplatformV1BatchPredictionJob) string {
	if job.Error != nil && job.Error.Message != "" {
		return job.Error.Message
	}
	return strings.ToLower(strings.TrimPrefix(job.State, "JOB_STATE_"))
}
