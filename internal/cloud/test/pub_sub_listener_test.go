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
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/jaycherian/gcp-go-multimodal-search/internal/cloud"
	"github.com/jaycherian/gcp-go-multimodal-search/internal/core/cor"
)

// deadlineRecorder captures what a handler invocation sees.
type deadlineRecorder struct {
	cor.BaseCommand
	deadline   time.Time
	hasLimit   bool
	attributes map[string]string
}

func (d *deadlineRecorder) Execute(context cor.Context) {
	d.deadline, d.hasLimit = context.GetContext().Deadline()
	d.attributes, _ = cor.GetAs[map[string]string](context, cor.CtxAttributes)
	d.Succeed(context, "done")
}

func newPubSubClient(t *testing.T) *pubsub.Client {
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	client, err := pubsub.NewClient(context.Background(), "test-project", option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestListenerHandlerHasDeadline(t *testing.T) {
	client := newPubSubClient(t)
	recorder := &deadlineRecorder{BaseCommand: *cor.NewBaseCommand("recorder")}
	listener := cloud.NewPubSubListener(client, cloud.TopicSubscription{Name: "search-sub", TimeoutInSeconds: 30}, recorder)
	assert.Equal(t, 30*time.Second, listener.Timeout())

	start := time.Now()
	chainCtx := listener.Handle(context.Background(), &pubsub.Message{
		ID:         "m-1",
		Data:       []byte(`{"search_id":"t1"}`),
		Attributes: map[string]string{cloud.AttrEventType: cloud.EventObjectFinalize},
	})

	assert.False(t, chainCtx.HasErrors())
	require.True(t, recorder.hasLimit)
	assert.WithinDuration(t, start.Add(30*time.Second), recorder.deadline, 5*time.Second)
	assert.Equal(t, cloud.EventObjectFinalize, recorder.attributes[cloud.AttrEventType])
}

func TestListenerDefaultTimeout(t *testing.T) {
	client := newPubSubClient(t)
	listener := cloud.NewPubSubListener(client, cloud.TopicSubscription{Name: "ingest-sub"}, nil)
	assert.Equal(t, cloud.DefaultHandlerTimeout, listener.Timeout())
}
