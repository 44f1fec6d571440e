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

// Package telemetry configures structured logging for Cloud Logging and the
// OpenTelemetry trace and metric pipelines.
package telemetry

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"strings"

	"go.opentelemetry.io/otel/trace"
)

// spanContextLogHandler adds the active span to every record using the
// field names Cloud Logging correlates with Cloud Trace.
type spanContextLogHandler struct {
	slog.Handler
	projectID string
}

func (t *spanContextLogHandler) Handle(ctx context.Context, record slog.Record) error {
	if s := trace.SpanContextFromContext(ctx); s.IsValid() {
		traceID := s.TraceID().String()
		if t.projectID != "" {
			traceID = fmt.Sprintf("projects/%s/traces/%s", t.projectID, traceID)
		}
		record.AddAttrs(
			slog.String("logging.googleapis.com/trace", traceID),
			slog.String("logging.googleapis.com/spanId", s.SpanID().String()),
			slog.Bool("logging.googleapis.com/trace_sampled", s.TraceFlags().IsSampled()),
		)
	}
	return t.Handler.Handle(ctx, record)
}

func (t *spanContextLogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &spanContextLogHandler{Handler: t.Handler.WithAttrs(attrs), projectID: t.projectID}
}

func (t *spanContextLogHandler) WithGroup(name string) slog.Handler {
	return &spanContextLogHandler{Handler: t.Handler.WithGroup(name), projectID: t.projectID}
}

// replacer renames the standard keys to the Cloud Logging structured format.
func replacer(_ []string, a slog.Attr) slog.Attr {
	switch a.Key {
	case slog.LevelKey:
		a.Key = "severity"
		if level, ok := a.Value.Any().(slog.Level); ok && level == slog.LevelWarn {
			a.Value = slog.StringValue("WARNING")
		}
	case slog.TimeKey:
		a.Key = "timestamp"
	case slog.MessageKey:
		a.Key = "message"
	}
	return a
}

// ParseLevel maps debug, info, warn/warning and error; anything else is info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// NewLogHandler returns the JSON handler used by the process.
func NewLogHandler(w io.Writer, level slog.Leveler, projectID string) slog.Handler {
	jsonHandler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level, ReplaceAttr: replacer})
	return &spanContextLogHandler{Handler: jsonHandler, projectID: projectID}
}

var logLevel = new(slog.LevelVar)

// SetupLogging installs the JSON handler on stdout as the slog default and
// routes the standard logger through it.
func SetupLogging(projectID string) {
	slog.SetDefault(slog.New(NewLogHandler(os.Stdout, logLevel, projectID)))
	log.SetFlags(0)
}

// SetLogLevel changes the level of the default handler at runtime.
func SetLogLevel(level string) {
	logLevel.Set(ParseLevel(level))
}
