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

package model_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jaycherian/gcp-go-multimodal-search/internal/core/model"
	test "github.com/jaycherian/gcp-go-multimodal-search/internal/testutil"
)

var clip = model.MediaObject{Locator: "gs://media/clip.mp4", MediaType: model.MediaTypeVideo, FileType: "mp4"}

func TestDocumentIDIsDeterministic(t *testing.T) {
	want := uuid.NewSHA1(uuid.NameSpaceURL, []byte("gs://media/clip.mp4#3")).String()
	assert.Equal(t, want, model.DocumentID(clip.Locator, 3))
	assert.Equal(t, model.DocumentID(clip.Locator, 3), model.DocumentID(clip.Locator, 3))
	assert.NotEqual(t, model.DocumentID(clip.Locator, 3), model.DocumentID(clip.Locator, 4))
}

func TestNewEmbeddingSegmentDuration(t *testing.T) {
	now := time.Date(2024, 10, 11, 3, 4, 8, 0, time.FixedZone("x", 3600))
	s := model.NewEmbeddingSegment(clip, 1, test.Float(10), test.Float(15.5), now)

	require.NotNil(t, s.Duration)
	assert.InDelta(t, 5.5, *s.Duration, 1e-9)
	assert.Equal(t, time.UTC, s.Timestamp.Location())
	assert.Equal(t, model.DocumentID(clip.Locator, 1), s.ID)

	img := model.NewEmbeddingSegment(model.MediaObject{Locator: "gs://media/a.png"}, 0, nil, nil, now)
	assert.Nil(t, img.Duration)
}

func TestSegmentValidate(t *testing.T) {
	s := model.NewEmbeddingSegment(clip, 0, test.Float(0), test.Float(4), time.Now())
	assert.Error(t, s.Validate(4), "segment without embeddings")

	s.TextEmbedding = test.Vector(4, 0, 1)
	assert.NoError(t, s.Validate(4))
	assert.Error(t, s.Validate(8), "dimension mismatch")

	s.StartTime, s.EndTime = test.Float(5), test.Float(4)
	assert.Error(t, s.Validate(4), "end before start")
}

func TestSegmentsFromVideoResult(t *testing.T) {
	res := model.VideoResult{Segments: []model.VideoSegment{
		{Option: model.OptionVisualImage, Vector: test.Vector(4, 0, 1), StartTime: test.Float(0), EndTime: test.Float(4)},
		{Option: model.OptionVisualText, Vector: test.Vector(4, 1, 1), StartTime: test.Float(0), EndTime: test.Float(4)},
		{Option: model.OptionAudio, Vector: test.Vector(4, 2, 1), StartTime: test.Float(4), EndTime: test.Float(8)},
	}}
	segments, err := model.SegmentsFromResult(clip, res, time.Now())
	require.NoError(t, err)
	require.Len(t, segments, 3)

	assert.Equal(t, []model.EmbeddingKind{model.EmbeddingKindVisual}, segments[0].Kinds())
	assert.Equal(t, []model.EmbeddingKind{model.EmbeddingKindText}, segments[1].Kinds())
	assert.Equal(t, []model.EmbeddingKind{model.EmbeddingKindAudio}, segments[2].Kinds())
	for i, s := range segments {
		assert.Equal(t, i, s.SegmentIndex)
		assert.NoError(t, s.Validate(4))
	}
	assert.Equal(t, model.OptionAudio, segments[2].EmbeddingOption)
}

func TestSegmentsFromImageAndAudio(t *testing.T) {
	img := model.MediaObject{Locator: "gs://media/a.png", MediaType: model.MediaTypeImage, FileType: "png"}
	segments, err := model.SegmentsFromResult(img, model.ImageResult{Vector: test.Vector(4, 0, 1)}, time.Now())
	require.NoError(t, err)
	require.Len(t, segments, 1)
	assert.NotEmpty(t, segments[0].VisualEmbedding)
	assert.Nil(t, segments[0].StartTime)

	song := model.MediaObject{Locator: "gs://media/a.mp3", MediaType: model.MediaTypeAudio, FileType: "mp3"}
	segments, err = model.SegmentsFromResult(song, model.AudioResult{Vector: test.Vector(4, 0, 1)}, time.Now())
	require.NoError(t, err)
	assert.NotEmpty(t, segments[0].AudioEmbedding)

	_, err = model.SegmentsFromResult(song, model.TextResult{Vector: test.Vector(4, 0, 1)}, time.Now())
	assert.Error(t, err)
}

func TestQueryVector(t *testing.T) {
	video := model.VideoResult{Segments: []model.VideoSegment{
		{Option: model.OptionVisualImage, Vector: test.Vector(4, 0, 1)},
		{Option: model.OptionAudio, Vector: test.Vector(4, 2, 1)},
		{Option: model.OptionAudio, Vector: test.Vector(4, 3, 1)},
	}}

	v, kind, err := model.QueryVector(video, model.OptionAudio)
	require.NoError(t, err)
	assert.Equal(t, model.EmbeddingKindAudio, kind)
	assert.Equal(t, test.Vector(4, 2, 1), v, "first segment of the mode wins")

	_, _, err = model.QueryVector(video, model.OptionVisualText)
	var failure *model.InferenceFailure
	assert.ErrorAs(t, err, &failure)

	_, _, err = model.QueryVector(video, "bogus")
	assert.True(t, model.IsValidation(err))

	_, kind, err = model.QueryVector(model.ImageResult{Vector: test.Vector(4, 0, 1)}, "")
	require.NoError(t, err)
	assert.Equal(t, model.EmbeddingKindVisual, kind)
}
