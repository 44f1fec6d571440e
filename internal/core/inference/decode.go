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

package inference

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/jaycherian/gcp-go-multimodal-search/internal/core/model"
)

type resultEntry struct {
	Embedding       []float32 `json:"embedding"`
	EmbeddingOption string    `json:"embeddingOption"`
	StartSec        *float64  `json:"startSec"`
	EndSec          *float64  `json:"endSec"`
}

type resultDocument struct {
	Data []resultEntry `json:"data"`
}

// predictionLine is one line of a batch prediction output file.
type predictionLine struct {
	Prediction *resultDocument `json:"prediction"`
	Data       []resultEntry   `json:"data"`
}

// Decode parses a result document for a job of the given media type. It
// accepts a single {"data": [...]} document or JSON lines carrying that
// document under "prediction". A positive dimension is enforced on every
// vector.
func Decode(mediaType model.MediaType, raw []byte, dimension int) (model.EmbeddingResult, error) {
	entries, err := decodeEntries(raw)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, model.NewInferenceFailure("result document contains no embeddings", false)
	}
	for i, e := range entries {
		if len(e.Embedding) == 0 {
			return nil, model.NewInferenceFailure(fmt.Sprintf("result entry %d has an empty embedding", i), false)
		}
		if dimension > 0 && len(e.Embedding) != dimension {
			return nil, model.NewInferenceFailure(fmt.Sprintf("result entry %d has dimension %d, want %d", i, len(e.Embedding), dimension), false)
		}
	}

	switch mediaType {
	case model.MediaTypeImage:
		return model.ImageResult{Vector: entries[0].Embedding}, nil
	case model.MediaTypeAudio:
		return model.AudioResult{Vector: entries[0].Embedding}, nil
	case model.MediaTypeText:
		return model.TextResult{Vector: entries[0].Embedding}, nil
	case model.MediaTypeVideo:
		segments := make([]model.VideoSegment, 0, len(entries))
		for i, e := range entries {
			opt := model.EmbeddingOption(e.EmbeddingOption)
			if !opt.Valid() {
				return nil, model.NewInferenceFailure(fmt.Sprintf("video segment %d has unknown embedding option %q", i, e.EmbeddingOption), false)
			}
			segments = append(segments, model.VideoSegment{
				Option:    opt,
				Vector:    e.Embedding,
				StartTime: e.StartSec,
				EndTime:   e.EndSec,
			})
		}
		return model.VideoResult{Segments: segments}, nil
	}
	return nil, fmt.Errorf("unsupported media type %q", mediaType)
}

func decodeEntries(raw []byte) ([]resultEntry, error) {
	raw = bytes.TrimSpace(raw)
	var line predictionLine
	if err := json.Unmarshal(raw, &line); err == nil {
		if line.Prediction != nil {
			return append(line.Prediction.Data, line.Data...), nil
		}
		return line.Data, nil
	}

	entries := make([]resultEntry, 0)
	scanner := bufio.NewScanner(bytes.NewReader(raw))
	// Lines hold full vectors and easily exceed the default token size.
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var pl predictionLine
		if err := json.Unmarshal(line, &pl); err != nil {
			return nil, fmt.Errorf("failed to decode result line: %w", err)
		}
		if pl.Prediction != nil {
			entries = append(entries, pl.Prediction.Data...)
		}
		entries = append(entries, pl.Data...)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read result document: %w", err)
	}
	return entries, nil
}
