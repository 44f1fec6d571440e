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

package test

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jaycherian/gcp-go-multimodal-search/internal/core/inference"
	"github.com/jaycherian/gcp-go-multimodal-search/internal/core/model"
)

// MemoryObjectStore is an ObjectStore backed by a map.
type MemoryObjectStore struct {
	mu        sync.Mutex
	Objects   map[string][]byte
	Types     map[string]string
	PutErr    error
	DeleteErr error
	Deleted   []string
}

func NewMemoryObjectStore() *MemoryObjectStore {
	return &MemoryObjectStore{Objects: make(map[string][]byte), Types: make(map[string]string)}
}

func (m *MemoryObjectStore) Put(_ context.Context, locator string, data []byte, contentType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.PutErr != nil {
		return m.PutErr
	}
	m.Objects[locator] = append([]byte(nil), data...)
	m.Types[locator] = contentType
	return nil
}

func (m *MemoryObjectStore) Get(_ context.Context, locator string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.Objects[locator]
	if !ok {
		return nil, &model.NotFoundError{Kind: "object", ID: locator}
	}
	return data, nil
}

func (m *MemoryObjectStore) Delete(_ context.Context, locator string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.DeleteErr != nil {
		return m.DeleteErr
	}
	delete(m.Objects, locator)
	m.Deleted = append(m.Deleted, locator)
	return nil
}

func (m *MemoryObjectStore) List(_ context.Context, prefixLocator string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0)
	for k := range m.Objects {
		if strings.HasPrefix(k, prefixLocator) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *MemoryObjectStore) Presign(_ context.Context, locator string, ttl time.Duration) (string, error) {
	bucket, key, err := model.SplitLocator(locator)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s?X-Goog-Expires=%d", bucket, key, int(ttl.Seconds())), nil
}

// Has reports whether locator is stored.
func (m *MemoryObjectStore) Has(locator string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.Objects[locator]
	return ok
}

// MemoryTaskStore implements the task and ingestion status stores.
type MemoryTaskStore struct {
	mu        sync.Mutex
	Tasks     map[string]*model.SearchTask
	Statuses  map[string]*model.IngestionStatus
	History   []model.IngestionStatus
	CreateErr error
	// TransitionErr, when set, is returned for transitions to the given status.
	TransitionErr map[model.TaskStatus]error
}

func NewMemoryTaskStore() *MemoryTaskStore {
	return &MemoryTaskStore{
		Tasks:         make(map[string]*model.SearchTask),
		Statuses:      make(map[string]*model.IngestionStatus),
		TransitionErr: make(map[model.TaskStatus]error),
	}
}

func cloneTask(t *model.SearchTask) *model.SearchTask {
	c := *t
	if t.Results != nil {
		c.Results = make([]*model.SearchResult, len(t.Results))
		copy(c.Results, t.Results)
	}
	return &c
}

func (m *MemoryTaskStore) CreateTask(_ context.Context, task *model.SearchTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CreateErr != nil {
		return m.CreateErr
	}
	if _, ok := m.Tasks[task.TaskID]; ok {
		return fmt.Errorf("task %s exists: %w", task.TaskID, model.ErrConflict)
	}
	m.Tasks[task.TaskID] = cloneTask(task)
	return nil
}

func (m *MemoryTaskStore) GetTask(_ context.Context, taskID string) (*model.SearchTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.Tasks[taskID]
	if !ok {
		return nil, &model.NotFoundError{Kind: "search task", ID: taskID}
	}
	return cloneTask(t), nil
}

func (m *MemoryTaskStore) TransitionTask(_ context.Context, taskID string, to model.TaskStatus, mutate func(*model.SearchTask) error) (*model.SearchTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.TransitionErr[to]; err != nil {
		return nil, err
	}
	t, ok := m.Tasks[taskID]
	if !ok {
		return nil, &model.NotFoundError{Kind: "search task", ID: taskID}
	}
	if !model.CanTransition(t.Status, to) {
		return nil, fmt.Errorf("task %s is %s: %w", taskID, t.Status, model.ErrConflict)
	}
	next := cloneTask(t)
	if mutate != nil {
		if err := mutate(next); err != nil {
			return nil, err
		}
	}
	next.Status = to
	next.UpdatedAt = time.Now().UTC()
	m.Tasks[taskID] = next
	return cloneTask(next), nil
}

func (m *MemoryTaskStore) PutIngestionStatus(_ context.Context, status *model.IngestionStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *status
	m.Statuses[status.Locator] = &c
	m.History = append(m.History, c)
	return nil
}

func (m *MemoryTaskStore) GetIngestionStatus(_ context.Context, locator string) (*model.IngestionStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.Statuses[locator]
	if !ok {
		return nil, &model.NotFoundError{Kind: "ingestion status", ID: locator}
	}
	c := *s
	return &c, nil
}

func (m *MemoryTaskStore) Purge(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.Tasks) + len(m.Statuses)
	m.Tasks = make(map[string]*model.SearchTask)
	m.Statuses = make(map[string]*model.IngestionStatus)
	return n, nil
}

// SearchCall records one KNN query.
type SearchCall struct {
	Field     model.EmbeddingKind
	K         int
	FileTypes []string
}

// MemoryVectorIndex keeps segments by id and ranks them by cosine
// similarity. When Scripted has an entry for a field those hits are returned
// as is.
type MemoryVectorIndex struct {
	mu        sync.Mutex
	Segments  map[string]*model.EmbeddingSegment
	Scripted  map[model.EmbeddingKind][]*model.IndexHit
	Calls     []SearchCall
	IndexErr  error
	SearchErr error
	Ensured   int
}

func NewMemoryVectorIndex() *MemoryVectorIndex {
	return &MemoryVectorIndex{
		Segments: make(map[string]*model.EmbeddingSegment),
		Scripted: make(map[model.EmbeddingKind][]*model.IndexHit),
	}
}

func (m *MemoryVectorIndex) EnsureIndex(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Ensured++
	return nil
}

func (m *MemoryVectorIndex) Index(_ context.Context, segment *model.EmbeddingSegment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.IndexErr != nil {
		return m.IndexErr
	}
	c := *segment
	m.Segments[segment.ID] = &c
	return nil
}

func (m *MemoryVectorIndex) Search(_ context.Context, field model.EmbeddingKind, vector []float32, k int, fileTypes []string) ([]*model.IndexHit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, SearchCall{Field: field, K: k, FileTypes: fileTypes})
	if m.SearchErr != nil {
		return nil, m.SearchErr
	}
	if hits, ok := m.Scripted[field]; ok {
		return hits, nil
	}

	allowed := make(map[string]bool, len(fileTypes))
	for _, ft := range fileTypes {
		allowed[ft] = true
	}
	hits := make([]*model.IndexHit, 0)
	for _, s := range m.Segments {
		v := s.Vector(field)
		if len(v) == 0 || !allowed[s.FileType] {
			continue
		}
		hits = append(hits, &model.IndexHit{
			DocumentID:    s.ID,
			SourceLocator: s.SourceLocator,
			MediaType:     s.MediaType,
			FileType:      s.FileType,
			SegmentIndex:  s.SegmentIndex,
			StartTime:     s.StartTime,
			EndTime:       s.EndTime,
			Timestamp:     s.Timestamp,
			Score:         cosine(vector, v),
		})
	}
	sort.SliceStable(hits, func(a, b int) bool {
		if hits[a].Score != hits[b].Score {
			return hits[a].Score > hits[b].Score
		}
		return hits[a].DocumentID < hits[b].DocumentID
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func (m *MemoryVectorIndex) Purge(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := int64(len(m.Segments))
	m.Segments = make(map[string]*model.EmbeddingSegment)
	return n, nil
}

// Len returns the number of stored segments.
func (m *MemoryVectorIndex) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Segments)
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// RecordingPublisher keeps published payloads.
type RecordingPublisher struct {
	mu       sync.Mutex
	Messages [][]byte
	Err      error
}

func (p *RecordingPublisher) Publish(_ context.Context, data []byte) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return "", p.Err
	}
	p.Messages = append(p.Messages, append([]byte(nil), data...))
	return fmt.Sprintf("msg-%d", len(p.Messages)), nil
}

// ScriptedGateway replays scripted submission errors and poll statuses.
// Poll returns the last status once the script is exhausted.
type ScriptedGateway struct {
	mu         sync.Mutex
	SubmitErrs []error
	Statuses   []inference.JobStatus
	PollErrs   []error
	Submits    []inference.Input
	Polls      int
}

func (g *ScriptedGateway) Submit(_ context.Context, in inference.Input) (inference.JobHandle, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Submits = append(g.Submits, in)
	if len(g.SubmitErrs) > 0 {
		err := g.SubmitErrs[0]
		g.SubmitErrs = g.SubmitErrs[1:]
		if err != nil {
			return inference.JobHandle{}, err
		}
	}
	id := fmt.Sprintf("job-%d", len(g.Submits))
	return inference.JobHandle{ID: id, OutputLocator: "gs://artifacts/inference-outputs/" + id + "/"}, nil
}

func (g *ScriptedGateway) Poll(context.Context, inference.JobHandle) (inference.JobStatus, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	i := g.Polls
	g.Polls++
	if i < len(g.PollErrs) && g.PollErrs[i] != nil {
		return inference.JobStatus{}, g.PollErrs[i]
	}
	if len(g.Statuses) == 0 {
		return inference.JobStatus{}, errors.New("no scripted status")
	}
	if i >= len(g.Statuses) {
		i = len(g.Statuses) - 1
	}
	return g.Statuses[i], nil
}

// FakeEmbedder answers embedding calls with functions set by the test.
type FakeEmbedder struct {
	mu          sync.Mutex
	EmbedFn     func(in inference.Input) (model.EmbeddingResult, error)
	EmbedTextFn func(text string) ([]float32, error)
	Inputs      []inference.Input
}

func (f *FakeEmbedder) Embed(_ context.Context, in inference.Input) (model.EmbeddingResult, error) {
	f.mu.Lock()
	f.Inputs = append(f.Inputs, in)
	f.mu.Unlock()
	return f.EmbedFn(in)
}

func (f *FakeEmbedder) EmbedText(_ context.Context, text string) ([]float32, error) {
	return f.EmbedTextFn(text)
}

// NoSleep records the requested delays. Pass its Sleep method to
// inference.WithSleeper.
type NoSleep struct {
	mu     sync.Mutex
	Delays []time.Duration
}

func (n *NoSleep) Sleep(ctx context.Context, d time.Duration) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Delays = append(n.Delays, d)
	return ctx.Err()
}
