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

package model

import (
	"errors"
	"fmt"
	"strings"
)

// ErrConflict is wrapped by stores when a conditional update finds the record
// in a state it may not leave.
var ErrConflict = errors.New("state conflict")

// ErrClaimed is returned when another worker holds a live claim on a task.
var ErrClaimed = errors.New("claimed by another worker")

// ValidationError reports a missing or malformed request field.
type ValidationError struct {
	Field   string
	Message string
}

func NewValidationError(field string, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// NotFoundError reports an unknown task or object.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

// TransientInferenceError wraps throttling, quota and rate limit signals from
// the inference provider. The work is retried by queue redelivery.
type TransientInferenceError struct {
	Err error
}

func (e *TransientInferenceError) Error() string {
	return fmt.Sprintf("inference throttled: %v", e.Err)
}

func (e *TransientInferenceError) Unwrap() error { return e.Err }

// InferenceFailure is an explicit failed or cancelled inference job.
// Unprocessable is set when the provider rejected the media itself.
type InferenceFailure struct {
	Message       string
	Cancelled     bool
	Unprocessable bool
}

var unprocessableMarkers = []string{"unprocessable", "malformed", "unsupported", "too long", "exceeds the maximum"}

// NewInferenceFailure classifies the provider message.
func NewInferenceFailure(message string, cancelled bool) *InferenceFailure {
	lower := strings.ToLower(message)
	f := &InferenceFailure{Message: message, Cancelled: cancelled}
	for _, m := range unprocessableMarkers {
		if strings.Contains(lower, m) {
			f.Unprocessable = true
			break
		}
	}
	return f
}

func (e *InferenceFailure) Error() string {
	switch {
	case e.Unprocessable:
		return fmt.Sprintf("media could not be processed (check the file is not corrupt and within the supported length): %s", e.Message)
	case e.Cancelled:
		return fmt.Sprintf("inference job cancelled: %s", e.Message)
	}
	return fmt.Sprintf("inference job failed: %s", e.Message)
}

// TimeoutError is returned when polling exhausts its attempt budget.
type TimeoutError struct {
	Operation string
	Attempts  int
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %d attempts", e.Operation, e.Attempts)
}

// StorageError wraps a failed object, index or task store operation.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// IsTransient reports whether err carries a throttling signal.
func IsTransient(err error) bool {
	var t *TransientInferenceError
	return errors.As(err, &t)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var n *NotFoundError
	return errors.As(err, &n)
}
