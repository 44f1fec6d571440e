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

// Package commands holds the chain of responsibility steps of the ingestion
// and search workflows. Every command reads its input from cor.CtxIn, writes
// its output to cor.CtxOut and records failures on the chain context.
package commands

import (
	"context"

	"github.com/jaycherian/gcp-go-multimodal-search/internal/core/inference"
	"github.com/jaycherian/gcp-go-multimodal-search/internal/core/model"
)

// Embedder is the inference client as seen by the commands.
type Embedder interface {
	Embed(ctx context.Context, in inference.Input) (model.EmbeddingResult, error)
	EmbedText(ctx context.Context, text string) ([]float32, error)
}
