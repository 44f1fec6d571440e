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


//go:build integration

package cloud_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jaycherian/gcp-go-multimodal-search/internal/cloud"
	"github.com/jaycherian/gcp-go-multimodal-search/internal/core/model"
)

// Run with: PGVECTOR_TEST_DSN=postgres://... go test -tags integration ./internal/cloud/test/
func newPgVectorIndex(t *testing.T) *cloud.PgVectorIndex {
	dsn := os.Getenv("PGVECTOR_TEST_DSN")
	if dsn == "" {
		t.Skip("PGVECTOR_TEST_DSN not set")
	}
	db, err := cloud.OpenPostgres(dsn)
	require.NoError(t, err)

	table := "segments_it_" + time.Now().Format("150405")
	t.Cleanup(func() {
		_ = db.Exec("DROP TABLE IF EXISTS " + table).Error
	})
	index := cloud.NewPgVectorIndex(db, table, 3, 30*time.Second)
	require.NoError(t, index.EnsureIndex(context.Background()))
	return index
}

func pgSegmentFixture(id, fileType string, visual []float32) *model.EmbeddingSegment {
	return &model.EmbeddingSegment{
		ID:              id,
		SourceLocator:   "gs://media/" + id + "." + fileType,
		MediaType:       model.MediaTypeImage,
		FileType:        fileType,
		VisualEmbedding: visual,
		Timestamp:       time.Now().UTC(),
	}
}

func TestPgVectorIndexRoundTrip(t *testing.T) {
	index := newPgVectorIndex(t)
	ctx := context.Background()
	require.NoError(t, index.EnsureIndex(ctx), "schema creation is repeatable")

	require.NoError(t, index.Index(ctx, pgSegmentFixture("near", "jpg", []float32{0, 1, 0})))
	require.NoError(t, index.Index(ctx, pgSegmentFixture("far", "jpg", []float32{1, 0, 0})))
	require.NoError(t, index.Index(ctx, pgSegmentFixture("other", "png", []float32{1, 0, 0})))

	// the second write of an id replaces the first
	require.NoError(t, index.Index(ctx, pgSegmentFixture("near", "jpg", []float32{0.1, 1, 0})))

	hits, err := index.Search(ctx, model.EmbeddingKindVisual, []float32{0, 1, 0}, 10, []string{"jpg"})
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "near", hits[0].DocumentID)
	assert.Equal(t, "far", hits[1].DocumentID)
	assert.Greater(t, hits[0].Score, hits[1].Score)

	none, err := index.Search(ctx, model.EmbeddingKindText, []float32{0, 1, 0}, 10, []string{"jpg"})
	require.NoError(t, err)
	assert.Empty(t, none)

	purged, err := index.Purge(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, purged)
}
