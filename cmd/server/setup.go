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

package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/jaycherian/gcp-go-multimodal-search/internal/cloud"
	"github.com/jaycherian/gcp-go-multimodal-search/internal/core/inference"
	"github.com/jaycherian/gcp-go-multimodal-search/internal/core/matching"
	"github.com/jaycherian/gcp-go-multimodal-search/internal/core/services"
)

type StateManager struct {
	config      *cloud.Config
	cloud       *cloud.ServiceClients
	objects     *cloud.GCSObjectStore
	taskStore   *cloud.RedisTaskStore
	index       services.VectorIndex
	embedder    *inference.Client
	matcher     *matching.Matcher
	publisher   *cloud.TopicPublisher
	searchTasks *services.SearchTaskManager
}

var state = &StateManager{}

func SetupOS() (err error) {
	if os.Getenv(cloud.EnvConfigFilePrefix) == "" {
		if err = os.Setenv(cloud.EnvConfigFilePrefix, "configs"); err != nil {
			return err
		}
	}
	if os.Getenv(cloud.EnvConfigRuntime) == "" {
		err = os.Setenv(cloud.EnvConfigRuntime, "local")
	}
	return err
}

func GetConfig() *cloud.Config {
	if state.config == nil {
		if err := SetupOS(); err != nil {
			log.Fatalf("failed to setup os: %v\n", err)
		}
		config := cloud.NewConfig()
		if err := cloud.LoadConfig(config); err != nil {
			log.Fatalf("failed to load configuration: %v\n", err)
		}
		state.config = config
	}
	return state.config
}

// InitState connects the clients, builds the stores and the embedding client
// and starts the listeners.
func InitState(ctx context.Context) error {
	config := GetConfig()

	cloudClients, err := cloud.NewCloudServiceClients(ctx, config)
	if err != nil {
		return err
	}
	state.cloud = cloudClients

	state.objects = cloudClients.ObjectStore(config)
	state.taskStore = cloudClients.TaskStore(config)
	state.index = cloudClients.VectorIndex(config)

	indexCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()
	if err := state.index.EnsureIndex(indexCtx); err != nil {
		return fmt.Errorf("failed to prepare vector index: %w", err)
	}

	gateway := cloud.NewQuotaAwareGateway(
		cloud.NewVertexBatchGateway(cloudClients.AIPlatform, state.objects, config),
		config.Inference.SubmitRatePerSecond,
		config.Inference.SubmitBurst)
	state.embedder = inference.NewClient(gateway, state.objects,
		inference.WithMediaPolling(config.Inference.MediaPolling.Policy()),
		inference.WithTextPolling(config.Inference.TextPolling.Policy()),
		inference.WithSubmitBackoff(config.Inference.SubmitBackoff.Policy()),
		inference.WithPollTimeout(time.Duration(config.Inference.PollTimeoutSeconds)*time.Second),
		inference.WithDimension(config.Inference.Dimension))

	state.matcher = matching.NewMatcher(state.index, state.objects, config.Storage.PresignTTL())

	state.publisher = cloud.NewTopicPublisher(cloudClients.PubsubClient, config.Topics.Search)
	state.searchTasks = services.NewSearchTaskManager(state.taskStore, state.objects, state.publisher,
		services.SearchTaskManagerConfig{
			UploadBucket: config.Storage.MediaBucket,
			TempPrefix:   config.Storage.TempPrefix,
			DefaultTopK:  config.Search.DefaultTopK,
			MaxTopK:      config.Search.MaxTopK,
		})

	return SetupListeners(ctx, config, cloudClients)
}

func (s *StateManager) Close() {
	if s.publisher != nil {
		s.publisher.Stop()
	}
	if s.cloud != nil {
		s.cloud.Close()
	}
	slog.Info("clients closed")
}
