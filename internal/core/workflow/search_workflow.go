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

package workflow

import (
	"errors"
	"log/slog"
	"time"

	"github.com/jaycherian/gcp-go-multimodal-search/internal/core/commands"
	"github.com/jaycherian/gcp-go-multimodal-search/internal/core/cor"
	"github.com/jaycherian/gcp-go-multimodal-search/internal/core/matching"
	"github.com/jaycherian/gcp-go-multimodal-search/internal/core/model"
	"github.com/jaycherian/gcp-go-multimodal-search/internal/core/services"
)

// Names of the search chain steps. Errors of the steps in failTaskOn turn
// the task into failed; errors of the others are left for redelivery.
const (
	stepReadMessage  = "read-search-message"
	stepClaimTask    = "claim-search-task"
	stepEmbedQuery   = "embed-search-query"
	stepSearch       = "cross-modal-search"
	stepCompleteTask = "complete-search-task"
)

var failTaskOn = []string{stepEmbedQuery, stepSearch}

// SearchWorkflow runs one search task to a terminal state. A search task is
// never retried: once claimed, any error while embedding or matching marks
// it failed and the message is acked. Store errors while claiming or
// completing stay on the chain so the message is redelivered.
type SearchWorkflow struct {
	cor.BaseCommand
	tasks services.TaskStore
	chain cor.Chain
}

// NewSearchWorkflow builds the search chain. claimLease is how long a claim
// on a processing task stays valid; it should match the handler timeout of
// the search subscription.
func NewSearchWorkflow(
	embedder commands.Embedder,
	objects services.ObjectStore,
	tasks services.TaskStore,
	matcher *matching.Matcher,
	claimLease time.Duration) *SearchWorkflow {

	chain := cor.NewBaseChain("search-task")
	chain.AddCommand(commands.NewSearchMessageReader(stepReadMessage))
	chain.AddCommand(commands.NewTaskClaimer(stepClaimTask, tasks, claimLease))
	chain.AddCommand(commands.NewQueryEmbedder(stepEmbedQuery, embedder, objects))
	chain.AddCommand(commands.NewCrossModalSearch(stepSearch, matcher))
	chain.AddCommand(commands.NewTaskCompleter(stepCompleteTask, tasks))

	return &SearchWorkflow{
		BaseCommand: *cor.NewBaseCommand("search-workflow"),
		tasks:       tasks,
		chain:       chain,
	}
}

func (s *SearchWorkflow) IsExecutable(context cor.Context) bool {
	return s.chain.IsExecutable(context)
}

func (s *SearchWorkflow) Execute(context cor.Context) {
	s.chain.Execute(context)
	if !context.HasErrors() {
		return
	}

	ctx := context.GetContext()
	errs := context.GetErrors()
	if err := errs[stepReadMessage]; err != nil {
		// redelivering an unreadable message cannot help
		slog.ErrorContext(ctx, "dropping malformed search message", "error", err)
		context.ClearErrors()
		return
	}

	var cause error
	for _, step := range failTaskOn {
		if errs[step] != nil {
			cause = errs[step]
			break
		}
	}
	if cause == nil {
		return
	}

	taskID, _ := cor.GetAs[string](context, commands.CtxTaskID)
	_, err := s.tasks.TransitionTask(ctx, taskID, model.TaskFailed, func(t *model.SearchTask) error {
		t.Error = model.TruncateError(cause.Error())
		t.Results = nil
		return nil
	})
	if err != nil && !errors.Is(err, model.ErrConflict) {
		slog.ErrorContext(ctx, "failed to mark search task failed", "task_id", taskID, "error", err)
		return
	}
	slog.ErrorContext(ctx, "search task failed", "task_id", taskID, "error", cause)
	context.ClearErrors()
}
