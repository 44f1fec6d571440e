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

package services

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/h2non/filetype"

	"github.com/jaycherian/gcp-go-multimodal-search/internal/core/model"
)

// SearchTaskManagerConfig holds the settings of the search task manager.
type SearchTaskManagerConfig struct {
	UploadBucket string // Bucket receiving the temporary query uploads.
	TempPrefix   string // Key prefix of temporary uploads, e.g. "temp/".
	DefaultTopK  int
	MaxTopK      int
}

// SearchTaskManager accepts search requests and reports their progress. It
// only persists state and enqueues work; the search workflow does the rest.
type SearchTaskManager struct {
	tasks   TaskStore
	objects ObjectStore
	queue   Publisher
	config  SearchTaskManagerConfig
	newID   func() string
	now     func() time.Time
}

func NewSearchTaskManager(tasks TaskStore, objects ObjectStore, queue Publisher, config SearchTaskManagerConfig) *SearchTaskManager {
	if config.DefaultTopK <= 0 {
		config.DefaultTopK = 10
	}
	if config.MaxTopK < config.DefaultTopK {
		config.MaxTopK = config.DefaultTopK
	}
	return &SearchTaskManager{
		tasks:   tasks,
		objects: objects,
		queue:   queue,
		config:  config,
		newID:   func() string { return uuid.New().String() },
		now:     time.Now,
	}
}

// TempLocator is where the query upload of a task is stored.
func (s *SearchTaskManager) TempLocator(taskID string, ext string) string {
	return model.Locator(s.config.UploadBucket, s.config.TempPrefix+taskID+"."+ext)
}

// Submit validates req, stores the upload and the pending task and enqueues
// the task for the search workflow.
func (s *SearchTaskManager) Submit(ctx context.Context, req *model.SearchRequest) (*model.SubmitResponse, error) {
	if req == nil {
		return nil, model.NewValidationError("", "missing request body")
	}
	topK, err := s.topK(req.TopK)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	task := &model.SearchTask{
		TaskID:    s.newID(),
		Status:    model.TaskPending,
		TopK:      topK,
		CreatedAt: now,
		UpdatedAt: now,
	}

	switch req.SearchType {
	case model.SearchTypeText:
		query := strings.TrimSpace(req.QueryText)
		if query == "" {
			return nil, model.NewValidationError("queryText", "missing query text")
		}
		task.SearchType = model.SearchTypeText
		task.QueryText = query
	default:
		if err := s.prepareFileTask(ctx, req, task); err != nil {
			return nil, err
		}
	}

	if err := s.tasks.CreateTask(ctx, task); err != nil {
		s.discardUpload(ctx, task)
		return nil, &model.StorageError{Op: "create search task", Err: err}
	}

	body, err := json.Marshal(&model.SearchMessage{TaskID: task.TaskID})
	if err != nil {
		return nil, err
	}
	if _, err := s.queue.Publish(ctx, body); err != nil {
		slog.ErrorContext(ctx, "failed to enqueue search task", "task_id", task.TaskID, "error", err)
		if _, terr := s.tasks.TransitionTask(ctx, task.TaskID, model.TaskFailed, func(t *model.SearchTask) error {
			t.Error = "failed to enqueue search task"
			return nil
		}); terr != nil {
			slog.ErrorContext(ctx, "failed to mark unqueued task as failed", "task_id", task.TaskID, "error", terr)
		}
		s.discardUpload(ctx, task)
		return nil, &model.StorageError{Op: "enqueue search task", Err: err}
	}

	slog.InfoContext(ctx, "search task submitted", "task_id", task.TaskID, "search_type", task.SearchType)
	return &model.SubmitResponse{
		TaskID:  task.TaskID,
		Status:  model.TaskPending,
		Message: "Search task submitted, poll /status/" + task.TaskID + " for results",
	}, nil
}

// prepareFileTask validates a file search and writes its upload. It runs
// before the task record exists so the worker always finds the file.
func (s *SearchTaskManager) prepareFileTask(ctx context.Context, req *model.SearchRequest, task *model.SearchTask) error {
	if req.File == "" || req.FileName == "" || req.FileType == "" {
		return model.NewValidationError("file", "missing file data or filename")
	}
	_, ext, ok := model.Classify(req.FileName)
	if !ok {
		return model.NewValidationError("fileName", fmt.Sprintf("unsupported file type %q", ext))
	}
	mode := req.SearchMode
	if mode == "" {
		mode = model.OptionVisualImage
	}
	if !mode.Valid() {
		return model.NewValidationError("searchMode", fmt.Sprintf("unknown search mode %q", mode))
	}
	data, err := decodePayload(req.File)
	if err != nil {
		return model.NewValidationError("file", "payload is not valid base64")
	}
	if len(data) == 0 {
		return model.NewValidationError("file", "empty payload")
	}

	contentType := req.FileType
	if kind, err := filetype.Match(data); err == nil && kind != filetype.Unknown {
		contentType = kind.MIME.Value
	}

	task.SearchType = model.SearchTypeFile
	task.SearchMode = mode
	task.FileName = req.FileName
	task.FileType = ext
	task.FileLoc = s.TempLocator(task.TaskID, ext)
	if err := s.objects.Put(ctx, task.FileLoc, data, contentType); err != nil {
		return &model.StorageError{Op: "store query upload", Err: err}
	}
	return nil
}

func (s *SearchTaskManager) discardUpload(ctx context.Context, task *model.SearchTask) {
	if task.FileLoc == "" {
		return
	}
	if err := s.objects.Delete(ctx, task.FileLoc); err != nil {
		slog.WarnContext(ctx, "failed to delete query upload", "locator", task.FileLoc, "error", err)
	}
}

func (s *SearchTaskManager) topK(requested int) (int, error) {
	switch {
	case requested < 0:
		return 0, model.NewValidationError("topK", "must not be negative")
	case requested == 0:
		return s.config.DefaultTopK, nil
	case requested > s.config.MaxTopK:
		return s.config.MaxTopK, nil
	}
	return requested, nil
}

// decodePayload accepts plain base64 and data URLs.
func decodePayload(in string) ([]byte, error) {
	if i := strings.Index(in, ";base64,"); strings.HasPrefix(in, "data:") && i >= 0 {
		in = in[i+len(";base64,"):]
	}
	return base64.StdEncoding.DecodeString(strings.TrimSpace(in))
}

// GetStatus returns the client view of a task.
func (s *SearchTaskManager) GetStatus(ctx context.Context, taskID string) (*model.TaskView, error) {
	if strings.TrimSpace(taskID) == "" {
		return nil, model.NewValidationError("taskId", "missing task id")
	}
	task, err := s.tasks.GetTask(ctx, taskID)
	if err != nil {
		if model.IsNotFound(err) {
			return nil, err
		}
		return nil, &model.StorageError{Op: "get search task", Err: err}
	}
	return task.View(), nil
}
