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

package cloud

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"

	"github.com/jaycherian/gcp-go-multimodal-search/internal/core/model"
	"github.com/jaycherian/gcp-go-multimodal-search/internal/core/services"
)

// segmentRow is the BigQuery layout of an EmbeddingSegment. Unused vector
// columns hold empty arrays.
type segmentRow struct {
	ID              string               `bigquery:"id"`
	SourceLocator   string               `bigquery:"source_locator"`
	MediaType       string               `bigquery:"media_type"`
	FileType        string               `bigquery:"file_type"`
	SegmentIndex    int64                `bigquery:"segment_index"`
	EmbeddingOption string               `bigquery:"embedding_option"`
	StartTime       bigquery.NullFloat64 `bigquery:"start_time"`
	EndTime         bigquery.NullFloat64 `bigquery:"end_time"`
	Duration        bigquery.NullFloat64 `bigquery:"duration"`
	VisualEmbedding []float64            `bigquery:"visual_embedding"`
	TextEmbedding   []float64            `bigquery:"text_embedding"`
	AudioEmbedding  []float64            `bigquery:"audio_embedding"`
	Timestamp       time.Time            `bigquery:"timestamp"`
}

type hitRow struct {
	ID            string               `bigquery:"id"`
	SourceLocator string               `bigquery:"source_locator"`
	MediaType     string               `bigquery:"media_type"`
	FileType      string               `bigquery:"file_type"`
	SegmentIndex  int64                `bigquery:"segment_index"`
	StartTime     bigquery.NullFloat64 `bigquery:"start_time"`
	EndTime       bigquery.NullFloat64 `bigquery:"end_time"`
	Timestamp     time.Time            `bigquery:"timestamp"`
	Distance      float64              `bigquery:"distance"`
}

// BigQueryVectorIndex stores segments in a BigQuery table and answers KNN
// queries with VECTOR_SEARCH using cosine distance. Scores are 1 - distance.
type BigQueryVectorIndex struct {
	client       *bigquery.Client
	datasetName  string
	tableName    string
	queryTimeout time.Duration
}

func NewBigQueryVectorIndex(client *bigquery.Client, datasetName, tableName string, queryTimeout time.Duration) *BigQueryVectorIndex {
	if queryTimeout <= 0 {
		queryTimeout = time.Minute
	}
	return &BigQueryVectorIndex{client: client, datasetName: datasetName, tableName: tableName, queryTimeout: queryTimeout}
}

// GetFQN returns the table name in project.dataset.table form.
func (b *BigQueryVectorIndex) GetFQN() string {
	fqn := b.client.Dataset(b.datasetName).Table(b.tableName).FullyQualifiedName()
	return strings.Replace(fqn, ":", ".", 1)
}

func columnFor(kind model.EmbeddingKind) string {
	return string(kind) + "_embedding"
}

func isAlreadyExists(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusConflict
}

// EnsureIndex creates the dataset and table when missing.
func (b *BigQueryVectorIndex) EnsureIndex(ctx context.Context) error {
	ds := b.client.Dataset(b.datasetName)
	if err := ds.Create(ctx, &bigquery.DatasetMetadata{}); err != nil && !isAlreadyExists(err) {
		return fmt.Errorf("failed to create dataset %s: %w", b.datasetName, err)
	}
	schema, err := bigquery.InferSchema(segmentRow{})
	if err != nil {
		return err
	}
	meta := &bigquery.TableMetadata{
		Schema:     schema,
		Clustering: &bigquery.Clustering{Fields: []string{"file_type"}},
	}
	if err := ds.Table(b.tableName).Create(ctx, meta); err != nil && !isAlreadyExists(err) {
		return fmt.Errorf("failed to create table %s: %w", b.tableName, err)
	}
	return nil
}

// Index upserts the segment by id.
func (b *BigQueryVectorIndex) Index(ctx context.Context, segment *model.EmbeddingSegment) error {
	q := b.client.Query(fmt.Sprintf(services.QryUpsertSegment, b.GetFQN()))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "id", Value: segment.ID},
		{Name: "source_locator", Value: segment.SourceLocator},
		{Name: "media_type", Value: string(segment.MediaType)},
		{Name: "file_type", Value: segment.FileType},
		{Name: "segment_index", Value: int64(segment.SegmentIndex)},
		{Name: "embedding_option", Value: string(segment.EmbeddingOption)},
		{Name: "start_time", Value: nullFloat(segment.StartTime)},
		{Name: "end_time", Value: nullFloat(segment.EndTime)},
		{Name: "duration", Value: nullFloat(segment.Duration)},
		{Name: "visual_embedding", Value: toFloat64(segment.VisualEmbedding)},
		{Name: "text_embedding", Value: toFloat64(segment.TextEmbedding)},
		{Name: "audio_embedding", Value: toFloat64(segment.AudioEmbedding)},
		{Name: "timestamp", Value: segment.Timestamp},
	}
	_, err := b.runDML(ctx, q)
	return err
}

func (b *BigQueryVectorIndex) Search(ctx context.Context, field model.EmbeddingKind, vector []float32, k int, fileTypes []string) ([]*model.IndexHit, error) {
	ctx, cancel := context.WithTimeout(ctx, b.queryTimeout)
	defer cancel()

	column := columnFor(field)
	q := b.client.Query(fmt.Sprintf(services.QrySegmentKnn, b.GetFQN(), column, column, k))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "file_types", Value: fileTypes},
		{Name: "query", Value: toFloat64(vector)},
	}
	it, err := q.Read(ctx)
	if err != nil {
		return nil, err
	}

	hits := make([]*model.IndexHit, 0, k)
	for {
		var row hitRow
		err := it.Next(&row)
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, err
		}
		hits = append(hits, &model.IndexHit{
			DocumentID:    row.ID,
			SourceLocator: row.SourceLocator,
			MediaType:     model.MediaType(row.MediaType),
			FileType:      row.FileType,
			SegmentIndex:  int(row.SegmentIndex),
			StartTime:     floatPtr(row.StartTime),
			EndTime:       floatPtr(row.EndTime),
			Timestamp:     row.Timestamp,
			Score:         1 - row.Distance,
		})
	}
	return hits, nil
}

// Purge deletes every segment.
func (b *BigQueryVectorIndex) Purge(ctx context.Context) (int64, error) {
	return b.runDML(ctx, b.client.Query(fmt.Sprintf(services.QryPurgeSegments, b.GetFQN())))
}

func (b *BigQueryVectorIndex) runDML(ctx context.Context, q *bigquery.Query) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, b.queryTimeout)
	defer cancel()

	job, err := q.Run(ctx)
	if err != nil {
		return 0, err
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return 0, err
	}
	if err := status.Err(); err != nil {
		return 0, err
	}
	if status.Statistics != nil {
		if qs, ok := status.Statistics.Details.(*bigquery.QueryStatistics); ok {
			return qs.NumDMLAffectedRows, nil
		}
	}
	return 0, nil
}

func toFloat64(in []float32) []float64 {
	out := make([]float64, len(in))
	for i, v := range in {
		out[i] = float64(v)
	}
	return out
}

func nullFloat(v *float64) bigquery.NullFloat64 {
	if v == nil {
		return bigquery.NullFloat64{}
	}
	return bigquery.NullFloat64{Float64: *v, Valid: true}
}

func floatPtr(v bigquery.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
