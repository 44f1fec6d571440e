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

package cloud_test

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/jaycherian/gcp-go-multimodal-search/internal/cloud"
	"github.com/jaycherian/gcp-go-multimodal-search/internal/core/cor"
)

func TestLoadConfigOverlay(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env.toml"), []byte(`
[application]
google_project_id = "base"
http_port = 9090

[storage]
media_bucket = "base-bucket"

[topic_subscriptions.SearchTopic]
name = "search-sub"
max_outstanding_messages = 3
`), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env.unit.toml"), []byte(`
[storage]
media_bucket = "unit-bucket"
`), 0o600))
	t.Setenv(cloud.EnvConfigFilePrefix, dir)
	t.Setenv(cloud.EnvConfigRuntime, "unit")

	config := cloud.NewConfig()
	require.NoError(t, cloud.LoadConfig(config))

	assert.Equal(t, "base", config.Application.GoogleProjectId)
	assert.Equal(t, 9090, config.Application.HTTPPort)
	assert.Equal(t, "unit-bucket", config.Storage.MediaBucket)
	assert.Equal(t, "temp/", config.Storage.TempPrefix, "defaults survive")
	assert.Equal(t, 3, config.TopicSubscriptions[cloud.SearchTopic].MaxOutstandingMessages)
}

func TestLoadConfigRejectsInvalidToml(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env.toml"), []byte("[application\n"), 0o600))
	t.Setenv(cloud.EnvConfigFilePrefix, dir)
	t.Setenv(cloud.EnvConfigRuntime, "missing")

	assert.Error(t, cloud.LoadConfig(cloud.NewConfig()))
}

func TestConfigHelpers(t *testing.T) {
	config := cloud.NewConfig()
	config.Storage.MediaBucket = "media"

	assert.Equal(t, []string{"temp/", "inference-inputs/", "inference-outputs/"}, config.Storage.ReservedPrefixes())
	assert.Equal(t, "media", config.Storage.ArtifactBucket())
	config.Storage.InferenceBucket = "scratch"
	assert.Equal(t, "scratch", config.Storage.ArtifactBucket())
	assert.Equal(t, time.Hour, config.Storage.PresignTTL())
	assert.Equal(t, time.Minute, config.Storage.OpTimeout())
	assert.Equal(t, 60, config.Inference.CallTimeoutSeconds)

	backoff := config.Inference.SubmitBackoff.Policy()
	assert.Equal(t, 5, backoff.MaxAttempts)
	assert.Equal(t, 4*time.Second, backoff.Delay(3))
	assert.Equal(t, 5*time.Second, config.Inference.MediaPolling.Policy().Delay(9))
}

func TestIsThrottled(t *testing.T) {
	assert.False(t, cloud.IsThrottled(nil))
	assert.True(t, cloud.IsThrottled(&googleapi.Error{Code: http.StatusTooManyRequests}))
	assert.False(t, cloud.IsThrottled(&googleapi.Error{Code: http.StatusBadRequest, Message: "bad"}))
	assert.True(t, cloud.IsThrottled(status.Error(codes.ResourceExhausted, "slow down")))
	assert.True(t, cloud.IsThrottled(status.Error(codes.Unavailable, "try later")))
	assert.False(t, cloud.IsThrottled(status.Error(codes.PermissionDenied, "no")))
	assert.True(t, cloud.IsThrottled(errors.New("Quota exceeded for aiplatform.googleapis.com")))
	assert.False(t, cloud.IsThrottled(errors.New("file not found")))
}

func TestNewMessageContext(t *testing.T) {
	attempt := 4
	chainCtx := cloud.NewMessageContext(context.Background(), &pubsub.Message{
		ID:              "m-1",
		Data:            []byte(`{"search_id":"t1"}`),
		DeliveryAttempt: &attempt,
	})
	assert.Equal(t, `{"search_id":"t1"}`, chainCtx.Get(cor.CtxIn))
	assert.Equal(t, "m-1", chainCtx.Get(cor.CtxMessageID))
	assert.Equal(t, 4, chainCtx.Get(cor.CtxDeliveryAttempt))

	chainCtx = cloud.NewMessageContext(context.Background(), &pubsub.Message{ID: "m-2"})
	assert.Equal(t, 1, chainCtx.Get(cor.CtxDeliveryAttempt), "dead lettering disabled")
}

func TestGCSObjectLocator(t *testing.T) {
	o := cloud.GCSObject{Bucket: "media", Name: "videos/clip.mp4"}
	assert.Equal(t, "gs://media/videos/clip.mp4", o.Locator())
}
