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
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jaycherian/gcp-go-multimodal-search/internal/core/model"
)

const maxTransitionRetries = 10

// RedisTaskStore keeps search tasks and ingestion status records as JSON
// values. Task transitions are optimistic WATCH/MULTI transactions, so
// concurrent workers can never move a task out of a terminal state.
type RedisTaskStore struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

// NewRedisClient connects and pings the server.
func NewRedisClient(ctx context.Context, config TaskStore) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        config.Addr,
		Password:    config.Password,
		DB:          config.DB,
		DialTimeout: 5 * time.Second,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

func NewRedisTaskStore(rdb *redis.Client, prefix string, ttl time.Duration) *RedisTaskStore {
	return &RedisTaskStore{rdb: rdb, prefix: prefix, ttl: ttl, now: time.Now}
}

func (r *RedisTaskStore) taskKey(id string) string {
	return r.prefix + ":task:" + id
}

func (r *RedisTaskStore) ingestKey(locator string) string {
	return r.prefix + ":ingest:" + locator
}

func (r *RedisTaskStore) CreateTask(ctx context.Context, task *model.SearchTask) error {
	raw, err := json.Marshal(task)
	if err != nil {
		return err
	}
	created, err := r.rdb.SetNX(ctx, r.taskKey(task.TaskID), raw, r.ttl).Result()
	if err != nil {
		return err
	}
	if !created {
		return fmt.Errorf("task %s already exists: %w", task.TaskID, model.ErrConflict)
	}
	return nil
}

func (r *RedisTaskStore) GetTask(ctx context.Context, taskID string) (*model.SearchTask, error) {
	raw, err := r.rdb.Get(ctx, r.taskKey(taskID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, &model.NotFoundError{Kind: "search task", ID: taskID}
	}
	if err != nil {
		return nil, err
	}
	task := &model.SearchTask{}
	if err := json.Unmarshal(raw, task); err != nil {
		return nil, fmt.Errorf("corrupt task %s: %w", taskID, err)
	}
	return task, nil
}

// TransitionTask moves the task to status to when model.CanTransition allows
// it, applying mutate to the stored record in the same transaction. mutate
// sees the stored status and may veto the update by returning an error.
func (r *RedisTaskStore) TransitionTask(ctx context.Context, taskID string, to model.TaskStatus, mutate func(*model.SearchTask) error) (*model.SearchTask, error) {
	key := r.taskKey(taskID)
	var updated *model.SearchTask

	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return &model.NotFoundError{Kind: "search task", ID: taskID}
		}
		if err != nil {
			return err
		}
		task := &model.SearchTask{}
		if err := json.Unmarshal(raw, task); err != nil {
			return fmt.Errorf("corrupt task %s: %w", taskID, err)
		}
		if !model.CanTransition(task.Status, to) {
			return fmt.Errorf("task %s is %s, cannot become %s: %w", taskID, task.Status, to, model.ErrConflict)
		}
		if mutate != nil {
			if err := mutate(task); err != nil {
				return err
			}
		}
		task.Status = to
		task.UpdatedAt = r.now().UTC()
		out, err := json.Marshal(task)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, out, redis.KeepTTL)
			return nil
		})
		if err == nil {
			updated = task
		}
		return err
	}

	for i := 0; i < maxTransitionRetries; i++ {
		err := r.rdb.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return updated, err
	}
	return nil, fmt.Errorf("task %s changed concurrently %d times", taskID, maxTransitionRetries)
}

func (r *RedisTaskStore) PutIngestionStatus(ctx context.Context, status *model.IngestionStatus) error {
	raw, err := json.Marshal(status)
	if err != nil {
		return err
	}
	return r.rdb.Set(ctx, r.ingestKey(status.Locator), raw, r.ttl).Err()
}

func (r *RedisTaskStore) GetIngestionStatus(ctx context.Context, locator string) (*model.IngestionStatus, error) {
	raw, err := r.rdb.Get(ctx, r.ingestKey(locator)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, &model.NotFoundError{Kind: "ingestion status", ID: locator}
	}
	if err != nil {
		return nil, err
	}
	status := &model.IngestionStatus{}
	if err := json.Unmarshal(raw, status); err != nil {
		return nil, fmt.Errorf("corrupt ingestion status %s: %w", locator, err)
	}
	return status, nil
}

// Purge deletes every key under the store prefix.
func (r *RedisTaskStore) Purge(ctx context.Context) (int, error) {
	deleted := 0
	var cursor uint64
	for {
		keys, next, err := r.rdb.Scan(ctx, cursor, r.prefix+":*", 500).Result()
		if err != nil {
			return deleted, err
		}
		if len(keys) > 0 {
			n, err := r.rdb.Del(ctx, keys...).Result()
			if err != nil {
				return deleted, err
			}
			deleted += int(n)
		}
		cursor = next
		if cursor == 0 {
			return deleted, nil
		}
	}
}
