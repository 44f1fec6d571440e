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

	"github.com/jaycherian/gcp-go-multimodal-search/internal/cloud"
	"github.com/jaycherian/gcp-go-multimodal-search/internal/core/workflow"
)

// SetupListeners binds the ingestion and search workflows to their
// subscriptions and starts receiving.
func SetupListeners(ctx context.Context, config *cloud.Config, cloudClients *cloud.ServiceClients) error {
	ingestion, ok := cloudClients.PubSubListeners[cloud.IngestionTopic]
	if !ok {
		return fmt.Errorf("no subscription configured for %s", cloud.IngestionTopic)
	}
	search, ok := cloudClients.PubSubListeners[cloud.SearchTopic]
	if !ok {
		return fmt.Errorf("no subscription configured for %s", cloud.SearchTopic)
	}

	ingestion.SetCommand(workflow.NewMediaIngestionWorkflow(
		state.embedder,
		state.index,
		state.taskStore,
		config.Inference.Dimension,
		config.Storage.ReservedPrefixes()...))
	ingestion.Listen(ctx)

	search.SetCommand(workflow.NewSearchWorkflow(state.embedder, state.objects, state.taskStore, state.matcher, search.Timeout()))
	search.Listen(ctx)
	return nil
}
