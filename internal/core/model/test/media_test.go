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

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jaycherian/gcp-go-multimodal-search/internal/core/model"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name      string
		mediaType model.MediaType
		fileType  string
		ok        bool
	}{
		{"photos/cat.PNG", model.MediaTypeImage, "png", true},
		{"a.jpeg", model.MediaTypeImage, "jpeg", true},
		{"clips/intro.mov", model.MediaTypeVideo, "mov", true},
		{"song.flac", model.MediaTypeAudio, "flac", true},
		{"notes.txt", "", "txt", false},
		{"README", "", "", false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			mt, ft, ok := model.Classify(c.name)
			assert.Equal(t, c.ok, ok)
			assert.Equal(t, c.mediaType, mt)
			assert.Equal(t, c.fileType, ft)
		})
	}
}

func TestFileTypesFor(t *testing.T) {
	assert.Equal(t, []string{"mov", "mp4"}, model.FileTypesFor(model.MediaTypeVideo))
	assert.Equal(t, []string{"flac", "m4a", "mov", "mp3", "mp4", "ogg", "wav"},
		model.FileTypesFor(model.MediaTypeAudio, model.MediaTypeVideo))
	assert.Len(t, model.SupportedExtensions(), 11)
}

func TestLocator(t *testing.T) {
	loc := model.Locator("media", "videos/clip.mp4")
	assert.Equal(t, "gs://media/videos/clip.mp4", loc)

	bucket, key, err := model.SplitLocator(loc)
	require.NoError(t, err)
	assert.Equal(t, "media", bucket)
	assert.Equal(t, "videos/clip.mp4", key)

	bucket, key, err = model.SplitLocator("gs://media")
	require.NoError(t, err)
	assert.Equal(t, "media", bucket)
	assert.Empty(t, key)

	_, _, err = model.SplitLocator("s3://media/x.png")
	assert.Error(t, err)
	_, _, err = model.SplitLocator("gs:///x.png")
	assert.Error(t, err)
}
