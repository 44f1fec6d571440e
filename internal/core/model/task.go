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

package model

import (
	"encoding/json"
	"strings"
	"time"
)

// TaskStatus is the lifecycle state of a SearchTask.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskProcessing TaskStatus = "processing"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
)

// Terminal reports whether no further transition is allowed.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

// CanTransition encodes pending -> processing -> completed|failed. A
// processing task may be claimed again once its claim has expired, and a
// pending task may fail directly when its message could not be queued.
func CanTransition(from, to TaskStatus) bool {
	switch from {
	case TaskPending:
		return to == TaskProcessing || to == TaskFailed
	case TaskProcessing:
		return to == TaskProcessing || to == TaskCompleted || to == TaskFailed
	}
	return false
}

// SearchType selects how the query embedding is obtained.
type SearchType string

const (
	SearchTypeFile SearchType = "file"
	SearchTypeText SearchType = "text"
)

// SearchTask is the durable record of one search request.
type SearchTask struct {
	TaskID     string          `json:"task_id"`
	Status     TaskStatus      `json:"status"`
	SearchType SearchType      `json:"search_type"`
	SearchMode EmbeddingOption `json:"search_mode,omitempty"`
	QueryText  string          `json:"query_text,omitempty"`
	FileName   string          `json:"file_name,omitempty"`
	FileType   string          `json:"file_type,omitempty"`
	FileLoc    string          `json:"file_locator,omitempty"`
	TopK       int             `json:"top_k"`
	Results    []*SearchResult `json:"results,omitempty"`
	Error      string          `json:"error,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// SearchResult is one ranked hit returned to the client.
type SearchResult struct {
	Score               float64       `json:"score"`
	SourceLocator       string        `json:"s3_uri"`
	FileType            string        `json:"file_type"`
	MediaType           MediaType     `json:"media_type"`
	SegmentIndex        int           `json:"segment_index"`
	StartTime           *float64      `json:"start_time,omitempty"`
	EndTime             *float64      `json:"end_time,omitempty"`
	Timestamp           time.Time     `json:"timestamp"`
	QueryEmbeddingType  EmbeddingKind `json:"query_embedding_type"`
	TargetEmbeddingType EmbeddingKind `json:"target_embedding_type"`
	URL                 string        `json:"image_url"`
}

// TaskView is what GET /status returns. Results are only set for completed
// tasks and Error only for failed ones.
type TaskView struct {
	TaskID     string          `json:"search_id"`
	Status     TaskStatus      `json:"status"`
	SearchType SearchType      `json:"search_type"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
	Results    []*SearchResult `json:"results,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// View projects the task for clients.
func (t *SearchTask) View() *TaskView {
	v := &TaskView{
		TaskID:     t.TaskID,
		Status:     t.Status,
		SearchType: t.SearchType,
		CreatedAt:  t.CreatedAt,
		UpdatedAt:  t.UpdatedAt,
	}
	switch t.Status {
	case TaskCompleted:
		v.Results = t.Results
	case TaskFailed:
		v.Error = t.Error
	}
	return v
}

// MarshalJSON always includes results for completed tasks, even when empty.
func (v TaskView) MarshalJSON() ([]byte, error) {
	type view TaskView
	if v.Status != TaskCompleted {
		return json.Marshal(view(v))
	}
	results := v.Results
	if results == nil {
		results = make([]*SearchResult, 0)
	}
	return json.Marshal(struct {
		view
		Results []*SearchResult `json:"results"`
	}{view(v), results})
}

// SearchRequest is the body of POST /search.
type SearchRequest struct {
	SearchType SearchType      `json:"searchType"`
	SearchMode EmbeddingOption `json:"searchMode"`
	QueryText  string          `json:"queryText"`
	File       string          `json:"file"`
	FileName   string          `json:"fileName"`
	FileType   string          `json:"fileType"`
	TopK       int             `json:"topK"`
}

// SubmitResponse acknowledges an accepted search request.
type SubmitResponse struct {
	TaskID  string     `json:"search_id"`
	Status  TaskStatus `json:"status"`
	Message string     `json:"message"`
}

// SearchMessage is the queue payload for the search worker.
type SearchMessage struct {
	TaskID string `json:"search_id"`
}

// IngestionState is the diagnostic state of one media object.
type IngestionState string

const (
	IngestionProcessing IngestionState = "processing"
	IngestionCompleted  IngestionState = "completed"
	IngestionRetrying   IngestionState = "retrying"
)

// MaxErrorLength bounds the lastError kept on an IngestionStatus.
const MaxErrorLength = 1024

// IngestionStatus records the last ingestion attempt of a media object.
type IngestionStatus struct {
	Locator     string         `json:"locator"`
	Status      IngestionState `json:"status"`
	RetryCount  int            `json:"retry_count"`
	LastError   string         `json:"last_error,omitempty"`
	LastUpdated time.Time      `json:"last_updated"`
}

// TruncateError shortens msg to MaxErrorLength bytes.
func TruncateError(msg string) string {
	if len(msg) <= MaxErrorLength {
		return msg
	}
	return strings.ToValidUTF8(msg[:MaxErrorLength], "")
}
