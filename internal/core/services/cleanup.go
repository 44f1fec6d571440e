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

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jaycherian/gcp-go-multimodal-search/internal/core/model"
)

// PurgeScope selects what CleanupService.Purge removes.
type PurgeScope struct {
	Index   bool
	Tasks   bool
	Objects bool
}

// All reports whether every store is selected.
func (p PurgeScope) All() bool { return p.Index && p.Tasks && p.Objects }

// PurgeReport counts what was removed.
type PurgeReport struct {
	Segments int64 `json:"segments"`
	Records  int   `json:"records"`
	Objects  int   `json:"objects"`
}

// CleanupService resets the stores to an empty state. It is an operator
// command and is never called by the pipelines.
type CleanupService struct {
	index   VectorIndex
	tasks   TaskStore
	objects ObjectStore
	// Prefixes are the object locators whose contents are removed, usually
	// the temporary upload and inference scratch areas.
	prefixes []string
}

func NewCleanupService(index VectorIndex, tasks TaskStore, objects ObjectStore, prefixes ...string) *CleanupService {
	return &CleanupService{index: index, tasks: tasks, objects: objects, prefixes: prefixes}
}

// Purge removes the selected data. Every selected store is attempted; the
// returned error joins the individual failures.
func (c *CleanupService) Purge(ctx context.Context, scope PurgeScope) (*PurgeReport, error) {
	report := &PurgeReport{}
	var errs []error

	if scope.Index {
		n, err := c.index.Purge(ctx)
		if err != nil {
			errs = append(errs, &model.StorageError{Op: "purge vector index", Err: err})
		}
		report.Segments = n
	}
	if scope.Tasks {
		n, err := c.tasks.Purge(ctx)
		if err != nil {
			errs = append(errs, &model.StorageError{Op: "purge task store", Err: err})
		}
		report.Records = n
	}
	if scope.Objects {
		for _, prefix := range c.prefixes {
			locators, err := c.objects.List(ctx, prefix)
			if err != nil {
				errs = append(errs, &model.StorageError{Op: "list " + prefix, Err: err})
				continue
			}
			for _, loc := range locators {
				if err := c.objects.Delete(ctx, loc); err != nil {
					errs = append(errs, &model.StorageError{Op: "delete " + loc, Err: err})
					continue
				}
				report.Objects++
			}
		}
	}

	slog.InfoContext(ctx, "purge finished",
		"segments", report.Segments, "records", report.Records, "objects", report.Objects, "failures", len(errs))
	return report, errors.Join(errs...)
}
