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

package model

import "fmt"

// EmbeddingResult is the decoded output of one inference job. It is one of
// ImageResult, AudioResult, VideoResult or TextResult.
type EmbeddingResult interface {
	MediaType() MediaType
}

// ImageResult carries the single visual embedding of an image.
type ImageResult struct {
	Vector []float32
}

// AudioResult carries the single audio embedding of an audio clip.
type AudioResult struct {
	Vector []float32
}

// TextResult carries the embedding of a text query.
type TextResult struct {
	Vector []float32
}

// VideoResult carries the per segment embeddings of a video.
type VideoResult struct {
	Segments []VideoSegment
}

// VideoSegment is one time window of a video embedded with one option.
type VideoSegment struct {
	Option    EmbeddingOption
	Vector    []float32
	StartTime *float64
	EndTime   *float64
}

func (ImageResult) MediaType() MediaType { return MediaTypeImage }
func (AudioResult) MediaType() MediaType { return MediaTypeAudio }
func (TextResult) MediaType() MediaType  { return MediaTypeText }
func (VideoResult) MediaType() MediaType { return MediaTypeVideo }

// QueryVector picks the vector used to search with res. Video results use the
// first segment produced for mode.
func QueryVector(res EmbeddingResult, mode EmbeddingOption) ([]float32, EmbeddingKind, error) {
	switch r := res.(type) {
	case ImageResult:
		return r.Vector, EmbeddingKindVisual, nil
	case AudioResult:
		return r.Vector, EmbeddingKindAudio, nil
	case TextResult:
		return r.Vector, EmbeddingKindText, nil
	case VideoResult:
		kind, ok := mode.Kind()
		if !ok {
			return nil, "", NewValidationError("searchMode", fmt.Sprintf("unknown search mode %q", mode))
		}
		for _, s := range r.Segments {
			if s.Option == mode && len(s.Vector) > 0 {
				return s.Vector, kind, nil
			}
		}
		return nil, "", &InferenceFailure{Message: fmt.Sprintf("no %s embedding returned for video query", mode)}
	}
	return nil, "", fmt.Errorf("unexpected embedding result %T", res)
}
