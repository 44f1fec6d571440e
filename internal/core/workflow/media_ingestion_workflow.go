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

// Package workflow assembles the commands into the chains run by the queue
// listeners.
package workflow

import (
	"github.com/jaycherian/gcp-go-multimodal-search/internal/core/commands"
	"github.com/jaycherian/gcp-go-multimodal-search/internal/core/cor"
	"github.com/jaycherian/gcp-go-multimodal-search/internal/core/services"
)

// MediaIngestionWorkflow handles one storage event:
// notification -> classified objects -> embeddings -> index rows.
type MediaIngestionWorkflow struct {
	cor.BaseCommand
	chain cor.Chain
}

func (m *MediaIngestionWorkflow) IsExecutable(context cor.Context) bool {
	return m.chain.IsExecutable(context)
}

func (m *MediaIngestionWorkflow) Execute(context cor.Context) {
	m.chain.Execute(context)
}

// NewMediaIngestionWorkflow wires the ingestion chain. reservedPrefixes are
// the object key prefixes written by the system itself.
func NewMediaIngestionWorkflow(
	embedder commands.Embedder,
	index services.VectorIndex,
	statuses services.StatusStore,
	dimension int,
	reservedPrefixes ...string) *MediaIngestionWorkflow {

	chain := cor.NewBaseChain("media-ingestion")
	chain.AddCommand(commands.NewNotificationReader("read-storage-notification"))
	chain.AddCommand(commands.NewMediaClassifier("classify-media", reservedPrefixes...))
	chain.AddCommand(commands.NewMediaEmbeddingIngestor("embed-and-index-media", embedder, index, statuses, dimension))

	return &MediaIngestionWorkflow{
		BaseCommand: *cor.NewBaseCommand("media-ingestion-workflow"),
		chain:       chain,
	}
}
