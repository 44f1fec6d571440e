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
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/bigquery"
	credentials "cloud.google.com/go/iam/credentials/apiv1"
	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/redis/go-redis/v9"
	"google.golang.org/api/aiplatform/v1"
	"google.golang.org/api/option"
	"gorm.io/gorm"

	"github.com/jaycherian/gcp-go-multimodal-search/internal/core/services"
)

// ServiceClients owns every external client of the process. It is built once
// at start-up and handed to the components that need it.
type ServiceClients struct {
	StorageClient   *storage.Client
	PubsubClient    *pubsub.Client
	BiqQueryClient  *bigquery.Client
	IAMClient       *credentials.IamCredentialsClient
	AIPlatform      *aiplatform.Service
	Redis           *redis.Client
	Postgres        *gorm.DB // nil unless the pgvector backend is selected
	PubSubListeners map[string]*PubSubListener
}

func (c *ServiceClients) Close() {
	if c.StorageClient != nil {
		_ = c.StorageClient.Close()
	}
	if c.PubsubClient != nil {
		_ = c.PubsubClient.Close()
	}
	if c.BiqQueryClient != nil {
		_ = c.BiqQueryClient.Close()
	}
	if c.IAMClient != nil {
		_ = c.IAMClient.Close()
	}
	if c.Redis != nil {
		_ = c.Redis.Close()
	}
	if c.Postgres != nil {
		if db, err := c.Postgres.DB(); err == nil {
			_ = db.Close()
		}
	}
}

// NewCloudServiceClients connects every client the configuration asks for.
// Listeners are created without a command; the caller binds the workflows.
func NewCloudServiceClients(ctx context.Context, config *Config) (_ *ServiceClients, err error) {
	cloud := &ServiceClients{PubSubListeners: make(map[string]*PubSubListener)}
	defer func() {
		if err != nil {
			cloud.Close()
		}
	}()

	if cloud.StorageClient, err = storage.NewClient(ctx); err != nil {
		return nil, fmt.Errorf("storage client: %w", err)
	}
	if cloud.PubsubClient, err = pubsub.NewClient(ctx, config.Application.GoogleProjectId); err != nil {
		return nil, fmt.Errorf("pubsub client: %w", err)
	}
	if cloud.BiqQueryClient, err = bigquery.NewClient(ctx, config.Application.GoogleProjectId); err != nil {
		return nil, fmt.Errorf("bigquery client: %w", err)
	}
	if config.Application.SignerServiceAccountEmail != "" {
		if cloud.IAMClient, err = credentials.NewIamCredentialsClient(ctx); err != nil {
			return nil, fmt.Errorf("iam credentials client: %w", err)
		}
	}

	endpoint := fmt.Sprintf("https://%s-aiplatform.googleapis.com/", config.Application.GoogleLocation)
	if cloud.AIPlatform, err = aiplatform.NewService(ctx, option.WithEndpoint(endpoint)); err != nil {
		return nil, fmt.Errorf("aiplatform service: %w", err)
	}

	if cloud.Redis, err = NewRedisClient(ctx, config.TaskStore); err != nil {
		return nil, err
	}

	if config.VectorIndex.Backend == IndexBackendPgVector {
		if cloud.Postgres, err = OpenPostgres(config.VectorIndex.PostgresDSN); err != nil {
			return nil, err
		}
	}

	for key, values := range config.TopicSubscriptions {
		cloud.PubSubListeners[key] = NewPubSubListener(cloud.PubsubClient, values, nil)
	}

	slog.Info("cloud clients ready",
		"project", config.Application.GoogleProjectId,
		"location", config.Application.GoogleLocation,
		"vector_index", config.VectorIndex.Backend)
	return cloud, nil
}

// ObjectStore returns the GCS object store.
func (c *ServiceClients) ObjectStore(config *Config) *GCSObjectStore {
	return NewGCSObjectStore(c.StorageClient, c.IAMClient, config.Application.SignerServiceAccountEmail, config.Storage.OpTimeout())
}

// TaskStore returns the Redis task and ingestion status store.
func (c *ServiceClients) TaskStore(config *Config) *RedisTaskStore {
	return NewRedisTaskStore(c.Redis, config.TaskStore.KeyPrefix, time.Duration(config.TaskStore.TTLSeconds)*time.Second)
}

// VectorIndex returns the configured segment index backend.
func (c *ServiceClients) VectorIndex(config *Config) services.VectorIndex {
	timeout := time.Duration(config.VectorIndex.QueryTimeoutSeconds) * time.Second
	if config.VectorIndex.Backend == IndexBackendPgVector && c.Postgres != nil {
		return NewPgVectorIndex(c.Postgres, config.VectorIndex.Table, config.Inference.Dimension, timeout)
	}
	return NewBigQueryVectorIndex(c.BiqQueryClient, config.VectorIndex.Dataset, config.VectorIndex.Table, timeout)
}
