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
	"time"

	"github.com/jaycherian/gcp-go-multimodal-search/internal/core/inference"
)

// Logical subscription names used as keys of Config.TopicSubscriptions.
const (
	IngestionTopic = "IngestionTopic"
	SearchTopic    = "SearchTopic"
)

// Vector index backends.
const (
	IndexBackendBigQuery = "bigquery"
	IndexBackendPgVector = "pgvector"
)

// Storage holds the bucket and prefix layout.
type Storage struct {
	// MediaBucket holds user media and the temporary query uploads.
	MediaBucket           string `toml:"media_bucket"`
	TempPrefix            string `toml:"temp_prefix"`
	InferenceInputPrefix  string `toml:"inference_input_prefix"`
	InferenceOutputPrefix string `toml:"inference_output_prefix"`
	PresignTTLSeconds     int    `toml:"presign_ttl_seconds"`
	OpTimeoutSeconds      int    `toml:"op_timeout_seconds"` // per object operation
	// InferenceBucket optionally separates inference artifacts from media.
	InferenceBucket string `toml:"inference_bucket"`
}

// ReservedPrefixes are the key prefixes the ingestion pipeline never processes.
func (s Storage) ReservedPrefixes() []string {
	return []string{s.TempPrefix, s.InferenceInputPrefix, s.InferenceOutputPrefix}
}

// ArtifactBucket is where inference requests and outputs are written.
func (s Storage) ArtifactBucket() string {
	if s.InferenceBucket != "" {
		return s.InferenceBucket
	}
	return s.MediaBucket
}

// OpTimeout is OpTimeoutSeconds as a duration.
func (s Storage) OpTimeout() time.Duration {
	return time.Duration(s.OpTimeoutSeconds) * time.Second
}

// PresignTTL is PresignTTLSeconds as a duration.
func (s Storage) PresignTTL() time.Duration {
	return time.Duration(s.PresignTTLSeconds) * time.Second
}

// Polling configures one RetryPolicy.
type Polling struct {
	MaxAttempts        int     `toml:"max_attempts"`
	IntervalSeconds    float64 `toml:"interval_seconds"`
	Multiplier         float64 `toml:"multiplier"`
	MaxIntervalSeconds float64 `toml:"max_interval_seconds"`
}

// Policy converts the settings.
func (p Polling) Policy() inference.RetryPolicy {
	return inference.RetryPolicy{
		MaxAttempts: p.MaxAttempts,
		Interval:    seconds(p.IntervalSeconds),
		Multiplier:  p.Multiplier,
		MaxInterval: seconds(p.MaxIntervalSeconds),
	}
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// Inference configures the batch embedding model.
type Inference struct {
	// Model is the publisher model resource used for batch jobs.
	Model               string  `toml:"model"`
	Dimension           int     `toml:"dimension"`
	SubmitRatePerSecond float64 `toml:"submit_rate_per_second"`
	SubmitBurst         int     `toml:"submit_burst"`
	PollTimeoutSeconds  int     `toml:"poll_timeout_seconds"`
	CallTimeoutSeconds  int     `toml:"call_timeout_seconds"` // job creation and request upload
	MediaPolling        Polling `toml:"media_polling"`
	TextPolling         Polling `toml:"text_polling"`
	SubmitBackoff       Polling `toml:"submit_backoff"`
}

// VectorIndex selects and configures the segment index.
type VectorIndex struct {
	Backend             string `toml:"backend"` // bigquery or pgvector
	Dataset             string `toml:"dataset"`
	Table               string `toml:"table"`
	PostgresDSN         string `toml:"postgres_dsn"`
	QueryTimeoutSeconds int    `toml:"query_timeout_seconds"`
}

// TaskStore configures the Redis task and ingestion status store.
type TaskStore struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	KeyPrefix  string `toml:"key_prefix"`
	TTLSeconds int    `toml:"ttl_seconds"` // zero keeps records forever
}

// TopicSubscription names a subscription the server listens on.
type TopicSubscription struct {
	Name                   string `toml:"name"`
	DeadLetterTopic        string `toml:"dead_letter_topic"`
	TimeoutInSeconds       int    `toml:"timeout_in_seconds"`
	MaxOutstandingMessages int    `toml:"max_outstanding_messages"`
}

// Topics lists the topics the server publishes to.
type Topics struct {
	Search string `toml:"search"`
}

// Search holds the limits of search requests.
type Search struct {
	DefaultTopK int `toml:"default_top_k"`
	MaxTopK     int `toml:"max_top_k"`
}

// Telemetry controls trace and metric export.
type Telemetry struct {
	Enabled               bool    `toml:"enabled"`
	TraceSampleRatio      float64 `toml:"trace_sample_ratio"`
	MetricIntervalSeconds int     `toml:"metric_interval_seconds"`
}

// Config is the complete application configuration decoded from TOML.
type Config struct {
	Application struct {
		Name                      string `toml:"name"`
		GoogleProjectId           string `toml:"google_project_id"`
		GoogleLocation            string `toml:"location"`
		SignerServiceAccountEmail string `toml:"signer_service_account_email"`
		HTTPPort                  int    `toml:"http_port"`
		LogLevel                  string `toml:"log_level"`
	} `toml:"application"`
	Storage            Storage                      `toml:"storage"`
	Inference          Inference                    `toml:"inference"`
	VectorIndex        VectorIndex                  `toml:"vector_index"`
	TaskStore          TaskStore                    `toml:"task_store"`
	Topics             Topics                       `toml:"topics"`
	TopicSubscriptions map[string]TopicSubscription `toml:"topic_subscriptions"`
	Search             Search                       `toml:"search"`
	Telemetry          Telemetry                    `toml:"telemetry"`
}

// NewConfig returns a Config populated with the defaults TOML files override.
func NewConfig() *Config {
	c := &Config{
		Storage: Storage{
			TempPrefix:            "temp/",
			InferenceInputPrefix:  "inference-inputs/",
			InferenceOutputPrefix: "inference-outputs/",
			PresignTTLSeconds:     3600,
			OpTimeoutSeconds:      60,
		},
		Inference: Inference{
			Model:               "publishers/google/models/multimodalembedding@001",
			Dimension:           1024,
			SubmitRatePerSecond: 5,
			SubmitBurst:         5,
			PollTimeoutSeconds:  30,
			CallTimeoutSeconds:  60,
			MediaPolling:        Polling{MaxAttempts: 60, IntervalSeconds: 5, Multiplier: 1},
			TextPolling:         Polling{MaxAttempts: 30, IntervalSeconds: 2, Multiplier: 1},
			SubmitBackoff:       Polling{MaxAttempts: 5, IntervalSeconds: 1, Multiplier: 2, MaxIntervalSeconds: 8},
		},
		VectorIndex: VectorIndex{
			Backend:             IndexBackendBigQuery,
			Dataset:             "media_search",
			Table:               "segments",
			QueryTimeoutSeconds: 60,
		},
		TaskStore: TaskStore{
			Addr:      "localhost:6379",
			KeyPrefix: "media-search",
		},
		TopicSubscriptions: make(map[string]TopicSubscription),
		Search:             Search{DefaultTopK: 10, MaxTopK: 100},
		Telemetry:          Telemetry{Enabled: true, TraceSampleRatio: 1, MetricIntervalSeconds: 60},
	}
	c.Application.HTTPPort = 8080
	c.Application.LogLevel = "info"
	return c
}
