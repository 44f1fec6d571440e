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

package matching

import (
	"context"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jaycherian/gcp-go-multimodal-search/internal/core/model"
)

// DefaultURLTTL is the lifetime of the retrieval URL attached to each result.
const DefaultURLTTL = time.Hour

// VectorSearcher runs one KNN query against a single vector field.
type VectorSearcher interface {
	Search(ctx context.Context, field model.EmbeddingKind, vector []float32, k int, fileTypes []string) ([]*model.IndexHit, error)
}

// Presigner issues a time limited retrieval URL for a stored object.
type Presigner interface {
	Presign(ctx context.Context, locator string, ttl time.Duration) (string, error)
}

// Query is a resolved query embedding.
type Query struct {
	Media  model.MediaType
	Kind   model.EmbeddingKind
	Vector []float32
}

// Matcher executes the cross-modal plan for a query.
type Matcher struct {
	index     VectorSearcher
	presigner Presigner
	urlTTL    time.Duration
}

func NewMatcher(index VectorSearcher, presigner Presigner, urlTTL time.Duration) *Matcher {
	if urlTTL <= 0 {
		urlTTL = DefaultURLTTL
	}
	return &Matcher{index: index, presigner: presigner, urlTTL: urlTTL}
}

// Match issues one KNN query per compatible field, pools the hits in plan
// order, sorts them by descending score keeping pool order for ties and
// returns at most topK results with retrieval URLs.
func (m *Matcher) Match(ctx context.Context, q Query, topK int) ([]*model.SearchResult, error) {
	if topK <= 0 {
		return nil, model.NewValidationError("topK", "must be positive")
	}
	if len(q.Vector) == 0 {
		return nil, fmt.Errorf("empty query vector")
	}
	pairs, err := Plan(q.Media, q.Kind)
	if err != nil {
		return nil, err
	}

	perPair := make([][]*model.IndexHit, len(pairs))
	g, gctx := errgroup.WithContext(ctx)
	for i, p := range pairs {
		g.Go(func() error {
			hits, err := m.index.Search(gctx, p.Target, q.Vector, topK, p.FileTypes)
			if err != nil {
				return &model.StorageError{Op: fmt.Sprintf("knn on %s", p.Target.Field()), Err: err}
			}
			perPair[i] = hits
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	pooled := make([]*model.SearchResult, 0)
	for i, p := range pairs {
		for _, h := range perPair[i] {
			pooled = append(pooled, &model.SearchResult{
				Score:               h.Score,
				SourceLocator:       h.SourceLocator,
				FileType:            h.FileType,
				MediaType:           h.MediaType,
				SegmentIndex:        h.SegmentIndex,
				StartTime:           h.StartTime,
				EndTime:             h.EndTime,
				Timestamp:           h.Timestamp,
				QueryEmbeddingType:  p.Query,
				TargetEmbeddingType: p.Target,
			})
		}
	}

	sort.SliceStable(pooled, func(a, b int) bool { return pooled[a].Score > pooled[b].Score })
	if len(pooled) > topK {
		pooled = pooled[:topK]
	}

	for _, r := range pooled {
		url, err := m.presigner.Presign(ctx, r.SourceLocator, m.urlTTL)
		if err != nil {
			return nil, &model.StorageError{Op: "presign " + r.SourceLocator, Err: err}
		}
		r.URL = url
	}
	return pooled, nil
}
