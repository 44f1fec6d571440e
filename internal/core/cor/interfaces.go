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

// Package cor is a small chain of responsibility runtime. Queue handlers are
// built as chains of commands that pass values through a shared Context; each
// command records a span and success/error counters.
package cor

import (
	"context"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Well known context keys. CtxIn holds the input of the running command and
// CtxOut its output, which the chain moves to CtxIn for the next command.
const (
	CtxIn              = "__IN__"
	CtxOut             = "__OUT__"
	CtxDeliveryAttempt = "__DELIVERY_ATTEMPT__"
	CtxMessageID       = "__MESSAGE_ID__"
	CtxAttributes      = "__ATTRIBUTES__"
)

// Context carries values and errors between the commands of a chain.
type Context interface {
	SetContext(ctx context.Context)
	GetContext() context.Context

	Add(key string, value interface{}) Context
	Get(key string) interface{}
	Remove(key string)

	// AddError records a failure under the name of the command that produced it.
	AddError(key string, err error)
	GetErrors() map[string]error
	HasErrors() bool
	// ClearErrors drops every recorded error, for handlers that convert
	// failures into state instead of redelivery.
	ClearErrors()
	// Err joins the recorded errors, nil when there are none.
	Err() error
}

type Executable interface {
	Execute(context Context)
}

// Command is one step of a chain.
type Command interface {
	Executable

	GetName() string
	GetInputParam() string
	GetOutputParam() string
	IsExecutable(context Context) bool

	GetTracer() trace.Tracer
	GetMeter() metric.Meter
	GetSuccessCounter() metric.Int64Counter
	GetErrorCounter() metric.Int64Counter
}

// Chain runs its commands in order. A chain is itself a Command.
type Chain interface {
	Command

	ContinueOnFailure(bool) Chain
	AddCommand(command Command) Chain
}
