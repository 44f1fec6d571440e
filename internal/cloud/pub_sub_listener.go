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
	"log/slog"
	"time"

	"cloud.google.com/go/pubsub"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/jaycherian/gcp-go-multimodal-search/internal/core/cor"
)

// PubSubListener feeds every message of a subscription to a command. The
// message is acked when the command leaves no errors on the chain context and
// left unacked otherwise, so Pub/Sub redelivers it.
type PubSubListener struct {
	client       *pubsub.Client
	subscription *pubsub.Subscription
	command      cor.Command
	timeout      time.Duration
}

// DefaultHandlerTimeout bounds a message handler when the subscription sets
// no timeout.
const DefaultHandlerTimeout = 10 * time.Minute

// NewPubSubListener binds the subscription described by config.
// MaxOutstandingMessages limits concurrent handler invocations when positive
// and TimeoutInSeconds is the deadline of each handler invocation.
func NewPubSubListener(pubsubClient *pubsub.Client, config TopicSubscription, command cor.Command) *PubSubListener {
	sub := pubsubClient.Subscription(config.Name)
	if config.MaxOutstandingMessages > 0 {
		sub.ReceiveSettings.MaxOutstandingMessages = config.MaxOutstandingMessages
	}
	timeout := time.Duration(config.TimeoutInSeconds) * time.Second
	if timeout <= 0 {
		timeout = DefaultHandlerTimeout
	}
	return &PubSubListener{
		client:       pubsubClient,
		subscription: sub,
		command:      command,
		timeout:      timeout,
	}
}

// Timeout is the deadline applied to each message handler.
func (m *PubSubListener) Timeout() time.Duration {
	return m.timeout
}

// Handle runs the command for one message under the handler deadline and
// returns the chain context; the message should be acked when it holds no
// errors.
func (m *PubSubListener) Handle(ctx context.Context, msg *pubsub.Message) cor.Context {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	chainCtx := NewMessageContext(ctx, msg)
	m.command.Execute(chainCtx)
	return chainCtx
}

// SetCommand sets the handler once; later calls are ignored.
func (m *PubSubListener) SetCommand(command cor.Command) {
	if m.command == nil {
		m.command = command
	}
}

// Listen starts receiving in the background until ctx is cancelled.
func (m *PubSubListener) Listen(ctx context.Context) {
	slog.Info("listening", "subscription", m.subscription.String())

	go func() {
		tracer := otel.Tracer("message-listener")
		err := m.subscription.Receive(ctx, func(msgCtx context.Context, msg *pubsub.Message) {
			spanCtx, span := tracer.Start(msgCtx, "receive-message")
			defer span.End()
			span.SetAttributes(attribute.String("message_id", msg.ID))

			chainCtx := m.Handle(spanCtx, msg)

			if !chainCtx.HasErrors() {
				span.SetStatus(codes.Ok, "success")
				msg.Ack()
				return
			}
			span.SetStatus(codes.Error, "failed")
			slog.ErrorContext(spanCtx, "message handling failed, leaving for redelivery",
				"message_id", msg.ID, "subscription", m.subscription.ID(), "error", chainCtx.Err())
			msg.Nack()
		})
		if err != nil {
			slog.Error("error receiving messages", "subscription", m.subscription.ID(), "error", err)
		}
	}()
}

// NewMessageContext prepares the chain context for one message: the body as
// the chain input, the message attributes and the delivery attempt, which is
// 1 on first delivery.
func NewMessageContext(ctx context.Context, msg *pubsub.Message) cor.Context {
	chainCtx := cor.NewBaseContext()
	chainCtx.SetContext(ctx)
	chainCtx.Add(cor.CtxIn, string(msg.Data))
	chainCtx.Add(cor.CtxMessageID, msg.ID)
	attributes := make(map[string]string, len(msg.Attributes))
	for k, v := range msg.Attributes {
		attributes[k] = v
	}
	chainCtx.Add(cor.CtxAttributes, attributes)
	attempt := 1
	if msg.DeliveryAttempt != nil && *msg.DeliveryAttempt > 0 {
		attempt = *msg.DeliveryAttempt
	}
	chainCtx.Add(cor.CtxDeliveryAttempt, attempt)
	return chainCtx
}
