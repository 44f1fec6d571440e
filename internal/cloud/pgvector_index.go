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
	"fmt"
	"time"

	"github.com/pgvector/pgvector-go"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/jaycherian/gcp-go-multimodal-search/internal/core/model"
)

// pgSegment is the Postgres row of an EmbeddingSegment. Vector columns a
// segment does not carry are NULL.
type pgSegment struct {
	ID              string `gorm:"primaryKey"`
	SourceLocator   string
	MediaType       string
	FileType        string
	SegmentIndex    int
	EmbeddingOption string
	StartTime       *float64
	EndTime         *float64
	Duration        *float64
	VisualEmbedding *pgvector.Vector
	TextEmbedding   *pgvector.Vector
	AudioEmbedding  *pgvector.Vector
	Timestamp       time.Time
}

// PgVectorSchema returns the statements creating the segment table with
// vector columns of the given dimension.
func PgVectorSchema(table string, dimension int) []string {
	return []string{
		"CREATE EXTENSION IF NOT EXISTS vector",
		fmt.Sprintf("CREATE TABLE IF NOT EXISTS %[1]s ("+
			"id text PRIMARY KEY, "+
			"source_locator text NOT NULL, "+
			"media_type text NOT NULL, "+
			"file_type text NOT NULL, "+
			"segment_index bigint NOT NULL, "+
			"embedding_option text, "+
			"start_time double precision, "+
			"end_time double precision, "+
			"duration double precision, "+
			"visual_embedding vector(%[2]d), "+
			"text_embedding vector(%[2]d), "+
			"audio_embedding vector(%[2]d), "+
			"timestamp timestamptz)", table, dimension),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %[1]s_source_locator_idx ON %[1]s (source_locator)", table),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %[1]s_file_type_idx ON %[1]s (file_type)", table),
	}
}

type pgHit struct {
	ID            string
	SourceLocator string
	MediaType     string
	FileType      string
	SegmentIndex  int
	StartTime     *float64
	EndTime       *float64
	Timestamp     time.Time
	Distance      float64
}

// PgVectorIndex is the Postgres alternative to BigQueryVectorIndex, ordering
// by cosine distance with the pgvector <=> operator.
type PgVectorIndex struct {
	db           *gorm.DB
	table        string
	dimension    int
	queryTimeout time.Duration
}

// OpenPostgres connects with the pgx backed gorm driver.
func OpenPostgres(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	return db, nil
}

func NewPgVectorIndex(db *gorm.DB, table string, dimension int, queryTimeout time.Duration) *PgVectorIndex {
	if queryTimeout <= 0 {
		queryTimeout = time.Minute
	}
	return &PgVectorIndex{db: db, table: table, dimension: dimension, queryTimeout: queryTimeout}
}

func (p *PgVectorIndex) tx(ctx context.Context) *gorm.DB {
	return p.db.WithContext(ctx).Table(p.table)
}

// EnsureIndex installs the extension and creates the table.
func (p *PgVectorIndex) EnsureIndex(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, p.queryTimeout)
	defer cancel()
	for _, stmt := range PgVectorSchema(p.table, p.dimension) {
		if err := p.db.WithContext(ctx).Exec(stmt).Error; err != nil {
			return fmt.Errorf("failed to prepare %s: %w", p.table, err)
		}
	}
	return nil
}

func (p *PgVectorIndex) Index(ctx context.Context, segment *model.EmbeddingSegment) error {
	ctx, cancel := context.WithTimeout(ctx, p.queryTimeout)
	defer cancel()

	row := &pgSegment{
		ID:              segment.ID,
		SourceLocator:   segment.SourceLocator,
		MediaType:       string(segment.MediaType),
		FileType:        segment.FileType,
		SegmentIndex:    segment.SegmentIndex,
		EmbeddingOption: string(segment.EmbeddingOption),
		StartTime:       segment.StartTime,
		EndTime:         segment.EndTime,
		Duration:        segment.Duration,
		VisualEmbedding: vectorOrNil(segment.VisualEmbedding),
		TextEmbedding:   vectorOrNil(segment.TextEmbedding),
		AudioEmbedding:  vectorOrNil(segment.AudioEmbedding),
		Timestamp:       segment.Timestamp,
	}
	return p.tx(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(row).Error
}

func (p *PgVectorIndex) Search(ctx context.Context, field model.EmbeddingKind, vector []float32, k int, fileTypes []string) ([]*model.IndexHit, error) {
	ctx, cancel := context.WithTimeout(ctx, p.queryTimeout)
	defer cancel()
	column := columnFor(field)
	query := fmt.Sprintf(
		"SELECT id, source_locator, media_type, file_type, segment_index, start_time, end_time, timestamp, "+
			"%[1]s <=> ? AS distance FROM %[2]s WHERE %[1]s IS NOT NULL AND file_type IN ? ORDER BY distance LIMIT ?",
		column, p.table)

	var rows []pgHit
	if err := p.db.WithContext(ctx).Raw(query, pgvector.NewVector(vector), fileTypes, k).Scan(&rows).Error; err != nil {
		return nil, err
	}
	hits := make([]*model.IndexHit, 0, len(rows))
	for _, r := range rows {
		hits = append(hits, &model.IndexHit{
			DocumentID:    r.ID,
			SourceLocator: r.SourceLocator,
			MediaType:     model.MediaType(r.MediaType),
			FileType:      r.FileType,
			SegmentIndex:  r.SegmentIndex,
			StartTime:     r.StartTime,
			EndTime:       r.EndTime,
			Timestamp:     r.Timestamp,
			Score:         1 - r.Distance,
		})
	}
	return hits, nil
}

func (p *PgVectorIndex) Purge(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, p.queryTimeout)
	defer cancel()
	res := p.tx(ctx).Where("1 = 1").Delete(&pgSegment{})
	return res.RowsAffected, res.Error
}

func vectorOrNil(v []float32) *pgvector.Vector {
	if len(v) == 0 {
		return nil
	}
	vec := pgvector.NewVector(v)
	return &vec
}
