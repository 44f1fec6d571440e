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

package commands

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jaycherian/gcp-go-multimodal-search/internal/cloud"
	"github.com/jaycherian/gcp-go-multimodal-search/internal/core/cor"
)

// NotificationReader parses a storage event into the objects it names. The
// body is either a single Cloud Storage notification or a JSON array of them.
// Messages whose eventType attribute is not OBJECT_FINALIZE (deletes,
// metadata updates, archives) end the chain quietly.
type NotificationReader struct {
	cor.BaseCommand
}

func NewNotificationReader(name string) *NotificationReader {
	return &NotificationReader{BaseCommand: *cor.NewBaseCommand(name)}
}

func (c *NotificationReader) Execute(context cor.Context) {
	attributes, _ := cor.GetAs[map[string]string](context, cor.CtxAttributes)
	if eventType, ok := attributes[cloud.AttrEventType]; ok && eventType != cloud.EventObjectFinalize {
		slog.DebugContext(context.GetContext(), "ignoring storage event", "event_type", eventType, "object_id", attributes["objectId"])
		c.Succeed(context, nil)
		return
	}

	in, ok := context.Get(c.GetInputParam()).(string)
	if !ok {
		c.Fail(context, errors.New("notification body is not a string"))
		return
	}

	notifications, err := parseNotifications([]byte(in))
	if err != nil {
		c.Fail(context, fmt.Errorf("failed to unmarshal storage notification: %w", err))
		return
	}

	objects := make([]cloud.GCSObject, 0, len(notifications))
	for _, n := range notifications {
		if n.Bucket == "" || n.Name == "" {
			continue
		}
		objects = append(objects, cloud.GCSObject{Bucket: n.Bucket, Name: n.Name, MIMEType: n.ContentType})
	}
	c.Succeed(context, objects)
}

func parseNotifications(raw []byte) ([]cloud.GCSPubSubNotification, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '[' {
		var many []cloud.GCSPubSubNotification
		if err := json.Unmarshal(raw, &many); err != nil {
			return nil, err
		}
		return many, nil
	}
	var one cloud.GCSPubSubNotification
	if err := json.Unmarshal(raw, &one); err != nil {
		return nil, err
	}
	return []cloud.GCSPubSubNotification{one}, nil
}
