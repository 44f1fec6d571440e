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

	"cloud.google.com/go/pubsub"
)

// TopicPublisher publishes raw payloads to one topic and waits for the
// server to acknowledge them.
type TopicPublisher struct {
	topic *pubsub.Topic
}

func NewTopicPublisher(client *pubsub.Client, topicID string) *TopicPublisher {
	return &TopicPublisher{topic: client.Topic(topicID)}
}

func (p *TopicPublisher) Publish(ctx context.Context, data []byte) (string, error) {
	id, err := p.topic.Publish(ctx, &pubsub.Message{Data: data}).Get(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to publish to %s: %w", p.topic.ID(), err)
	}
	return id, nil
}

// Stop flushes pending messages.
func (p *TopicPublisher) Stop() {
	p.topic.Stop()
}
