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

// Package matching decides which stored embedding fields a query embedding
// is compared against and merges the per field nearest neighbour results.
package matching

import (
	"fmt"

	"github.com/jaycherian/gcp-go-multimodal-search/internal/core/model"
)

// Pair is one KNN query: the query embedding kind, the target field and the
// file types that may carry a vector in that field.
type Pair struct {
	Query     model.EmbeddingKind
	Target    model.EmbeddingKind
	FileTypes []string
}

// TargetFileTypes lists the file types whose segments populate a field.
// Text embeddings are only produced for videos.
func TargetFileTypes(target model.EmbeddingKind) []string {
	switch target {
	case model.EmbeddingKindVisual:
		return model.FileTypesFor(model.MediaTypeImage, model.MediaTypeVideo)
	case model.EmbeddingKindText:
		return model.FileTypesFor(model.MediaTypeVideo)
	case model.EmbeddingKindAudio:
		return model.FileTypesFor(model.MediaTypeAudio, model.MediaTypeVideo)
	}
	return nil
}

func pair(query, target model.EmbeddingKind) Pair {
	return Pair{Query: query, Target: target, FileTypes: TargetFileTypes(target)}
}

// Plan returns the KNN queries for a query of the given media type whose
// embedding is of the given kind. Text is the only kind searched against
// fields of a different name.
func Plan(queryMedia model.MediaType, kind model.EmbeddingKind) ([]Pair, error) {
	switch queryMedia {
	case model.MediaTypeImage:
		if kind != model.EmbeddingKindVisual {
			return nil, fmt.Errorf("image queries use visual embeddings, got %q", kind)
		}
		return []Pair{pair(kind, model.EmbeddingKindVisual)}, nil
	case model.MediaTypeAudio:
		if kind != model.EmbeddingKindAudio {
			return nil, fmt.Errorf("audio queries use audio embeddings, got %q", kind)
		}
		return []Pair{pair(kind, model.EmbeddingKindAudio)}, nil
	case model.MediaTypeText:
		if kind != model.EmbeddingKindText {
			return nil, fmt.Errorf("text queries use text embeddings, got %q", kind)
		}
		return []Pair{
			pair(kind, model.EmbeddingKindText),
			pair(kind, model.EmbeddingKindVisual),
			pair(kind, model.EmbeddingKindAudio),
		}, nil
	case model.MediaTypeVideo:
		switch kind {
		case model.EmbeddingKindVisual, model.EmbeddingKindText, model.EmbeddingKindAudio:
			return []Pair{pair(kind, kind)}, nil
		}
		return nil, fmt.Errorf("unknown embedding kind %q for video query", kind)
	}
	return nil, fmt.Errorf("unsupported query media type %q", queryMedia)
}
