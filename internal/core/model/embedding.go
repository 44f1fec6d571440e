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

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DefaultDimension is the length of every stored embedding vector.
const DefaultDimension = 1024

// EmbeddingKind names one of the three vector fields of a segment.
type EmbeddingKind string

const (
	EmbeddingKindVisual EmbeddingKind = "visual"
	EmbeddingKindText   EmbeddingKind = "text"
	EmbeddingKindAudio  EmbeddingKind = "audio"
)

// Field returns the document field name holding vectors of this kind.
func (k EmbeddingKind) Field() string {
	return string(k) + "Embedding"
}

// EmbeddingOption tags a video segment with the kind of embedding the
// provider produced for it. The same values select the query field of a
// video search.
type EmbeddingOption string

const (
	OptionVisualImage EmbeddingOption = "visual-image"
	OptionVisualText  EmbeddingOption = "visual-text"
	OptionAudio       EmbeddingOption = "audio"
)

// Kind maps the option to the vector field it is stored in.
func (o EmbeddingOption) Kind() (EmbeddingKind, bool) {
	switch o {
	case OptionVisualImage:
		return EmbeddingKindVisual, true
	case OptionVisualText:
		return EmbeddingKindText, true
	case OptionAudio:
		return EmbeddingKindAudio, true
	}
	return "", false
}

// Valid reports whether o is one of the known options.
func (o EmbeddingOption) Valid() bool {
	_, ok := o.Kind()
	return ok
}

// EmbeddingSegment is one row of the vector index.
type EmbeddingSegment struct {
	ID              string          `json:"id"`
	SourceLocator   string          `json:"source_locator"`
	MediaType       MediaType       `json:"media_type"`
	FileType        string          `json:"file_type"`
	SegmentIndex    int             `json:"segment_index"`
	EmbeddingOption EmbeddingOption `json:"embedding_option,omitempty"`
	StartTime       *float64        `json:"start_time,omitempty"`
	EndTime         *float64        `json:"end_time,omitempty"`
	Duration        *float64        `json:"duration,omitempty"`
	VisualEmbedding []float32       `json:"visual_embedding,omitempty"`
	TextEmbedding   []float32       `json:"text_embedding,omitempty"`
	AudioEmbedding  []float32       `json:"audio_embedding,omitempty"`
	Timestamp       time.Time       `json:"timestamp"`
}

// IndexHit is one nearest neighbour returned by a vector index query. Score
// is a similarity where higher is closer.
type IndexHit struct {
	DocumentID    string
	SourceLocator string
	MediaType     MediaType
	FileType      string
	SegmentIndex  int
	StartTime     *float64
	EndTime       *float64
	Timestamp     time.Time
	Score         float64
}

// DocumentID derives the index id of a segment. Redelivered ingestion of the
// same object produces the same ids, so writes become upserts.
func DocumentID(locator string, segmentIndex int) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(fmt.Sprintf("%s#%d", locator, segmentIndex))).String()
}

// NewEmbeddingSegment builds a segment for obj and computes its id and
// duration. start and end may be nil for images and whole-object audio.
func NewEmbeddingSegment(obj MediaObject, index int, start, end *float64, ts time.Time) *EmbeddingSegment {
	s := &EmbeddingSegment{
		ID:            DocumentID(obj.Locator, index),
		SourceLocator: obj.Locator,
		MediaType:     obj.MediaType,
		FileType:      obj.FileType,
		SegmentIndex:  index,
		StartTime:     start,
		EndTime:       end,
		Timestamp:     ts.UTC(),
	}
	if start != nil && end != nil {
		d := *end - *start
		s.Duration = &d
	}
	return s
}

// Vector returns the embedding of the given kind, or nil when absent.
func (s *EmbeddingSegment) Vector(kind EmbeddingKind) []float32 {
	switch kind {
	case EmbeddingKindVisual:
		return s.VisualEmbedding
	case EmbeddingKindText:
		return s.TextEmbedding
	case EmbeddingKindAudio:
		return s.AudioEmbedding
	}
	return nil
}

// SetVector stores v in the field of the given kind.
func (s *EmbeddingSegment) SetVector(kind EmbeddingKind, v []float32) {
	switch kind {
	case EmbeddingKindVisual:
		s.VisualEmbedding = v
	case EmbeddingKindText:
		s.TextEmbedding = v
	case EmbeddingKindAudio:
		s.AudioEmbedding = v
	}
}

// Kinds lists the embedding kinds present on the segment.
func (s *EmbeddingSegment) Kinds() []EmbeddingKind {
	out := make([]EmbeddingKind, 0, 3)
	for _, k := range []EmbeddingKind{EmbeddingKindVisual, EmbeddingKindText, EmbeddingKindAudio} {
		if len(s.Vector(k)) > 0 {
			out = append(out, k)
		}
	}
	return out
}

// Validate checks the segment invariants against the index dimension.
func (s *EmbeddingSegment) Validate(dimension int) error {
	kinds := s.Kinds()
	if len(kinds) == 0 {
		return fmt.Errorf("segment %d of %s has no embedding", s.SegmentIndex, s.SourceLocator)
	}
	for _, k := range kinds {
		if n := len(s.Vector(k)); n != dimension {
			return fmt.Errorf("segment %d of %s: %s has dimension %d, want %d", s.SegmentIndex, s.SourceLocator, k.Field(), n, dimension)
		}
	}
	if s.StartTime != nil && s.EndTime != nil && *s.EndTime < *s.StartTime {
		return fmt.Errorf("segment %d of %s ends before it starts", s.SegmentIndex, s.SourceLocator)
	}
	return nil
}

// SegmentsFromResult converts an inference result for obj into index rows.
// Segment indexes follow the order of the result.
func SegmentsFromResult(obj MediaObject, res EmbeddingResult, ts time.Time) ([]*EmbeddingSegment, error) {
	switch r := res.(type) {
	case ImageResult:
		s := NewEmbeddingSegment(obj, 0, nil, nil, ts)
		s.VisualEmbedding = r.Vector
		return []*EmbeddingSegment{s}, nil
	case AudioResult:
		s := NewEmbeddingSegment(obj, 0, nil, nil, ts)
		s.AudioEmbedding = r.Vector
		return []*EmbeddingSegment{s}, nil
	case VideoResult:
		out := make([]*EmbeddingSegment, 0, len(r.Segments))
		for i, vs := range r.Segments {
			kind, ok := vs.Option.Kind()
			if !ok {
				return nil, fmt.Errorf("video segment %d has unknown embedding option %q", i, vs.Option)
			}
			s := NewEmbeddingSegment(obj, i, vs.StartTime, vs.EndTime, ts)
			s.EmbeddingOption = vs.Option
			s.SetVector(kind, vs.Vector)
			out = append(out, s)
		}
		return out, nil
	case TextResult:
		return nil, fmt.Errorf("text results are not ingested: %s", obj.Locator)
	}
	return nil, fmt.Errorf("unexpected embedding result %T", res)
}
