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

package services

// BigQuery statements used by the segment index. Table names and vector
// columns are formatted in with fmt.Sprintf; values are bound as named
// query parameters.
const (
	// QrySegmentKnn runs VECTOR_SEARCH on one embedding column. Candidate
	// rows are restricted to the given file types and to rows where the
	// column is populated, since ARRAY columns are never NULL in BigQuery.
	//
	// Placeholders: table, column, column, top_k.
	QrySegmentKnn = "SELECT base.id, base.source_locator, base.media_type, base.file_type, base.segment_index, " +
		"base.start_time, base.end_time, base.timestamp, distance " +
		"FROM VECTOR_SEARCH(" +
		"(SELECT * FROM `%s` WHERE file_type IN UNNEST(@file_types) AND ARRAY_LENGTH(%s) > 0), " +
		"'%s', (SELECT @query AS embed), query_column_to_search => 'embed', " +
		"top_k => %d, distance_type => 'COSINE') " +
		"ORDER BY distance ASC"

	// QryUpsertSegment writes a segment keyed by its deterministic id so a
	// redelivered notification replaces the rows of the earlier attempt.
	QryUpsertSegment = "MERGE `%s` T USING (SELECT @id AS id) S ON T.id = S.id " +
		"WHEN MATCHED THEN UPDATE SET source_locator = @source_locator, media_type = @media_type, " +
		"file_type = @file_type, segment_index = @segment_index, embedding_option = @embedding_option, " +
		"start_time = @start_time, end_time = @end_time, duration = @duration, " +
		"visual_embedding = @visual_embedding, text_embedding = @text_embedding, " +
		"audio_embedding = @audio_embedding, timestamp = @timestamp " +
		"WHEN NOT MATCHED THEN INSERT (id, source_locator, media_type, file_type, segment_index, " +
		"embedding_option, start_time, end_time, duration, visual_embedding, text_embedding, " +
		"audio_embedding, timestamp) VALUES (@id, @source_locator, @media_type, @file_type, " +
		"@segment_index, @embedding_option, @start_time, @end_time, @duration, @visual_embedding, " +
		"@text_embedding, @audio_embedding, @timestamp)"

	// QryPurgeSegments empties the segment table.
	QryPurgeSegments = "DELETE FROM `%s` WHERE TRUE"
)
