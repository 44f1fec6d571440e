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
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jaycherian/gcp-go-multimodal-search/internal/cloud"
)

func TestPurgeRequiresScope(t *testing.T) {
	cmd := newPurgeCmd()
	cmd.SetArgs([]string{})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})

	assert.ErrorIs(t, cmd.Execute(), errNoScope)
}

func TestScratchPrefixes(t *testing.T) {
	config := cloud.NewConfig()
	config.Storage.MediaBucket = "media"

	assert.Equal(t, []string{
		"gs://media/temp/",
		"gs://media/inference-inputs/",
		"gs://media/inference-outputs/",
	}, ScratchPrefixes(config))

	config.Storage.InferenceBucket = "scratch"
	assert.Equal(t, "gs://scratch/inference-outputs/", ScratchPrefixes(config)[2])
}
