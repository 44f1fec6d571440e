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
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jaycherian/gcp-go-multimodal-search/internal/cloud"
	"github.com/jaycherian/gcp-go-multimodal-search/internal/core/model"
)

func newRedisStore(t *testing.T, ttl time.Duration) (*cloud.RedisTaskStore, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	rdb, err := cloud.NewRedisClient(context.Background(), cloud.TaskStore{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = rdb.Close() })
	return cloud.NewRedisTaskStore(rdb, "ms", ttl), mr
}

func pendingTask(id string) *model.SearchTask {
	now := time.Now().UTC()
	return &model.SearchTask{TaskID: id, Status: model.TaskPending, SearchType: model.SearchTypeText, QueryText: "q", TopK: 5, CreatedAt: now, UpdatedAt: now}
}

func TestRedisCreateAndGet(t *testing.T) {
	store, mr := newRedisStore(t, time.Hour)
	ctx := context.Background()

	require.NoError(t, store.CreateTask(ctx, pendingTask("t1")))
	assert.True(t, mr.Exists("ms:task:t1"))
	assert.Equal(t, time.Hour, mr.TTL("ms:task:t1"))

	err := store.CreateTask(ctx, pendingTask("t1"))
	assert.ErrorIs(t, err, model.ErrConflict)

	task, err := store.GetTask(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "q", task.QueryText)
	assert.Equal(t, model.TaskPending, task.Status)

	_, err = store.GetTask(ctx, "nope")
	assert.True(t, model.IsNotFound(err))
}

func TestRedisTransitions(t *testing.T) {
	store, mr := newRedisStore(t, time.Hour)
	ctx := context.Background()
	require.NoError(t, store.CreateTask(ctx, pendingTask("t1")))

	task, err := store.TransitionTask(ctx, "t1", model.TaskProcessing, nil)
	require.NoError(t, err)
	assert.Equal(t, model.TaskProcessing, task.Status)

	task, err = store.TransitionTask(ctx, "t1", model.TaskCompleted, func(stored *model.SearchTask) error {
		stored.Results = []*model.SearchResult{{Score: 0.91}, {Score: 0.77}}
		return nil
	})
	require.NoError(t, err)
	assert.Len(t, task.Results, 2)
	assert.Equal(t, time.Hour, mr.TTL("ms:task:t1"), "transitions keep the ttl")

	_, err = store.TransitionTask(ctx, "t1", model.TaskFailed, nil)
	assert.ErrorIs(t, err, model.ErrConflict, "terminal tasks never change")
	_, err = store.TransitionTask(ctx, "t1", model.TaskProcessing, nil)
	assert.ErrorIs(t, err, model.ErrConflict)

	stored, err := store.GetTask(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, model.TaskCompleted, stored.Status)
	assert.Len(t, stored.Results, 2)

	_, err = store.TransitionTask(ctx, "missing", model.TaskProcessing, nil)
	assert.True(t, model.IsNotFound(err))
}

func TestRedisConcurrentClaimsFinishOnce(t *testing.T) {
	store, _ := newRedisStore(t, 0)
	ctx := context.Background()
	require.NoError(t, store.CreateTask(ctx, pendingTask("t1")))
	_, err := store.TransitionTask(ctx, "t1", model.TaskProcessing, nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]error, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			to := model.TaskCompleted
			if i%2 == 1 {
				to = model.TaskFailed
			}
			_, results[i] = store.TransitionTask(ctx, "t1", to, nil)
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range results {
		if err == nil {
			wins++
			continue
		}
		assert.True(t, errors.Is(err, model.ErrConflict), "unexpected error %v", err)
	}
	assert.Equal(t, 1, wins)
}

func TestRedisIngestionStatusAndPurge(t *testing.T) {
	store, mr := newRedisStore(t, 0)
	ctx := context.Background()

	_, err := store.GetIngestionStatus(ctx, "gs://m/a.png")
	assert.True(t, model.IsNotFound(err))

	require.NoError(t, store.PutIngestionStatus(ctx, &model.IngestionStatus{
		Locator: "gs://m/a.png", Status: model.IngestionRetrying, RetryCount: 2, LastError: "throttled",
	}))
	status, err := store.GetIngestionStatus(ctx, "gs://m/a.png")
	require.NoError(t, err)
	assert.Equal(t, model.IngestionRetrying, status.Status)
	assert.Equal(t, 2, status.RetryCount)

	require.NoError(t, store.CreateTask(ctx, pendingTask("t1")))
	require.NoError(t, mr.Set("other:key", "kept"))

	n, err := store.Purge(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.True(t, mr.Exists("other:key"))
	assert.False(t, mr.Exists("ms:task:t1"))
}

func TestRedisClientPingFailure(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()
	_, err := cloud.NewRedisClient(context.Background(), cloud.TaskStore{Addr: addr})
	assert.Error(t, err)
}

func TestRedisTransitionVetoedByMutate(t *testing.T) {
	store, _ := newRedisStore(t, 0)
	ctx := context.Background()
	require.NoError(t, store.CreateTask(ctx, pendingTask("t1")))
	_, err := store.TransitionTask(ctx, "t1", model.TaskProcessing, nil)
	require.NoError(t, err)
	before, err := store.GetTask(ctx, "t1")
	require.NoError(t, err)

	_, err = store.TransitionTask(ctx, "t1", model.TaskProcessing, func(stored *model.SearchTask) error {
		assert.Equal(t, model.TaskProcessing, stored.Status)
		return model.ErrClaimed
	})
	assert.ErrorIs(t, err, model.ErrClaimed)

	after, err := store.GetTask(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, before.UpdatedAt, after.UpdatedAt)
}
