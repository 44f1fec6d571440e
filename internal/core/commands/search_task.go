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
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jaycherian/gcp-go-multimodal-search/internal/core/cor"
	"github.com/jaycherian/gcp-go-multimodal-search/internal/core/inference"
	"github.com/jaycherian/gcp-go-multimodal-search/internal/core/matching"
	"github.com/jaycherian/gcp-go-multimodal-search/internal/core/model"
	"github.com/jaycherian/gcp-go-multimodal-search/internal/core/services"
)

// CtxTaskID holds the id of the search task a chain is working on.
const CtxTaskID = "__TASK_ID__"

// SearchJob travels through the search chain, gaining the query embedding
// and then the results.
type SearchJob struct {
	Task    *model.SearchTask
	Query   matching.Query
	Results []*model.SearchResult
}

// SearchMessageReader decodes the queue message of a search task.
type SearchMessageReader struct {
	cor.BaseCommand
}

func NewSearchMessageReader(name string) *SearchMessageReader {
	return &SearchMessageReader{BaseCommand: *cor.NewBaseCommand(name)}
}

func (c *SearchMessageReader) Execute(context cor.Context) {
	in, _ := context.Get(c.GetInputParam()).(string)
	var msg model.SearchMessage
	if err := json.Unmarshal([]byte(in), &msg); err != nil {
		c.Fail(context, fmt.Errorf("failed to unmarshal search message: %w", err))
		return
	}
	if strings.TrimSpace(msg.TaskID) == "" {
		c.Fail(context, model.NewValidationError("search_id", "missing task id"))
		return
	}
	context.Add(CtxTaskID, msg.TaskID)
	c.Succeed(context, msg.TaskID)
}

// DefaultClaimLease is used when no lease is configured.
const DefaultClaimLease = 10 * time.Minute

// TaskClaimer moves the task to processing. A task that is already
// processing is only taken over once its claim is older than the lease, so
// a concurrent duplicate delivery never runs the search a second time; the
// duplicate fails the chain and comes back later, by which time the task
// has finished or the claim has expired. Redelivered messages of finished
// tasks and messages of tasks that no longer exist end the chain without
// error so they are acked and the stored task is untouched.
type TaskClaimer struct {
	cor.BaseCommand
	tasks services.TaskStore
	lease time.Duration
	now   func() time.Time
}

func NewTaskClaimer(name string, tasks services.TaskStore, lease time.Duration) *TaskClaimer {
	if lease <= 0 {
		lease = DefaultClaimLease
	}
	return &TaskClaimer{BaseCommand: *cor.NewBaseCommand(name), tasks: tasks, lease: lease, now: time.Now}
}

func (c *TaskClaimer) claim(t *model.SearchTask) error {
	if t.Status != model.TaskProcessing {
		return nil
	}
	if age := c.now().Sub(t.UpdatedAt); age < c.lease {
		return fmt.Errorf("task %s processing for %s: %w", t.TaskID, age.Round(time.Second), model.ErrClaimed)
	}
	return nil
}

func (c *TaskClaimer) Execute(context cor.Context) {
	taskID, _ := context.Get(c.GetInputParam()).(string)
	ctx := context.GetContext()

	task, err := c.tasks.TransitionTask(ctx, taskID, model.TaskProcessing, c.claim)
	switch {
	case err == nil:
		c.Succeed(context, &SearchJob{Task: task})
	case errors.Is(err, model.ErrClaimed):
		slog.InfoContext(ctx, "search task is being processed, deferring duplicate delivery", "task_id", taskID, "reason", err)
		c.Fail(context, err)
	case errors.Is(err, model.ErrConflict):
		slog.InfoContext(ctx, "search task already finished, ignoring duplicate delivery", "task_id", taskID, "reason", err)
		c.Succeed(context, nil)
	case model.IsNotFound(err):
		slog.WarnContext(ctx, "search task not found, dropping message", "task_id", taskID)
		c.Succeed(context, nil)
	default:
		c.Fail(context, &model.StorageError{Op: "claim search task", Err: err})
	}
}

// QueryEmbedder obtains the query embedding of the task. File queries are
// embedded from their temporary upload, which is deleted afterwards; a failed
// delete is only logged.
type QueryEmbedder struct {
	cor.BaseCommand
	embedder Embedder
	objects  services.ObjectStore
}

func NewQueryEmbedder(name string, embedder Embedder, objects services.ObjectStore) *QueryEmbedder {
	return &QueryEmbedder{BaseCommand: *cor.NewBaseCommand(name), embedder: embedder, objects: objects}
}

func (c *QueryEmbedder) Execute(context cor.Context) {
	job, _ := context.Get(c.GetInputParam()).(*SearchJob)
	ctx := context.GetContext()
	task := job.Task

	if task.SearchType == model.SearchTypeText {
		vector, err := c.embedder.EmbedText(ctx, task.QueryText)
		if err != nil {
			c.Fail(context, err)
			return
		}
		job.Query = matching.Query{Media: model.MediaTypeText, Kind: model.EmbeddingKindText, Vector: vector}
		c.Succeed(context, job)
		return
	}

	defer func() {
		if err := c.objects.Delete(ctx, task.FileLoc); err != nil {
			slog.WarnContext(ctx, "failed to delete query upload", "task_id", task.TaskID, "locator", task.FileLoc, "error", err)
		}
	}()

	mediaType, ext, ok := model.Classify(task.FileName)
	if !ok {
		c.Fail(context, model.NewValidationError("fileName", fmt.Sprintf("unsupported file type %q", ext)))
		return
	}
	res, err := c.embedder.Embed(ctx, inputFor(mediaType, task))
	if err != nil {
		c.Fail(context, err)
		return
	}
	vector, kind, err := model.QueryVector(res, task.SearchMode)
	if err != nil {
		c.Fail(context, err)
		return
	}
	job.Query = matching.Query{Media: mediaType, Kind: kind, Vector: vector}
	c.Succeed(context, job)
}

func inputFor(mediaType model.MediaType, task *model.SearchTask) inference.Input {
	in := inference.Input{MediaType: mediaType, Locator: task.FileLoc}
	if mediaType == model.MediaTypeVideo && task.SearchMode != "" {
		in.Options = []model.EmbeddingOption{task.SearchMode}
	}
	return in
}

// CrossModalSearch ranks the index against the query embedding.
type CrossModalSearch struct {
	cor.BaseCommand
	matcher *matching.Matcher
}

func NewCrossModalSearch(name string, matcher *matching.Matcher) *CrossModalSearch {
	return &CrossModalSearch{BaseCommand: *cor.NewBaseCommand(name), matcher: matcher}
}

func (c *CrossModalSearch) Execute(context cor.Context) {
	job, _ := context.Get(c.GetInputParam()).(*SearchJob)
	results, err := c.matcher.Match(context.GetContext(), job.Query, job.Task.TopK)
	if err != nil {
		c.Fail(context, err)
		return
	}
	job.Results = results
	c.Succeed(context, job)
}

// TaskCompleter stores the results and completes the task.
type TaskCompleter struct {
	cor.BaseCommand
	tasks services.TaskStore
}

func NewTaskCompleter(name string, tasks services.TaskStore) *TaskCompleter {
	return &TaskCompleter{BaseCommand: *cor.NewBaseCommand(name), tasks: tasks}
}

func (c *TaskCompleter) Execute(context cor.Context) {
	job, _ := context.Get(c.GetInputParam()).(*SearchJob)
	ctx := context.GetContext()

	results := job.Results
	if results == nil {
		results = make([]*model.SearchResult, 0)
	}
	task, err := c.tasks.TransitionTask(ctx, job.Task.TaskID, model.TaskCompleted, func(t *model.SearchTask) error {
		t.Results = results
		t.Error = ""
		return nil
	})
	if err != nil {
		if errors.Is(err, model.ErrConflict) {
			slog.WarnContext(ctx, "search task finished elsewhere, discarding results", "task_id", job.Task.TaskID)
			c.Succeed(context, nil)
			return
		}
		c.Fail(context, &model.StorageError{Op: "complete search task", Err: err})
		return
	}
	slog.InfoContext(ctx, "search task completed", "task_id", task.TaskID, "results", len(results))
	c.Succeed(context, task)
}
