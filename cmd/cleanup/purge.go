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

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/jaycherian/gcp-go-multimodal-search/internal/cloud"
	"github.com/jaycherian/gcp-go-multimodal-search/internal/core/model"
	"github.com/jaycherian/gcp-go-multimodal-search/internal/core/services"
	"github.com/jaycherian/gcp-go-multimodal-search/internal/telemetry"
)

var errNoScope = errors.New("nothing selected, pass --index, --tasks, --objects or --all")

func newPurgeCmd() *cobra.Command {
	var (
		scope services.PurgeScope
		all   bool
	)

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete stored segments, task records and temporary objects",
		Long: "Purges the selected stores. Media under the bucket root is never touched; " +
			"--objects only removes the temporary uploads and inference artifacts.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if all {
				scope = services.PurgeScope{Index: true, Tasks: true, Objects: true}
			}
			return runPurge(cmd, scope)
		},
	}

	cmd.Flags().BoolVar(&scope.Index, "index", false, "delete every indexed segment")
	cmd.Flags().BoolVar(&scope.Tasks, "tasks", false, "delete search tasks and ingestion status records")
	cmd.Flags().BoolVar(&scope.Objects, "objects", false, "delete temporary uploads and inference artifacts")
	cmd.Flags().BoolVar(&all, "all", false, "purge everything")
	return cmd
}

// ScratchPrefixes are the locators purged by --objects.
func ScratchPrefixes(config *cloud.Config) []string {
	s := config.Storage
	return []string{
		model.Locator(s.MediaBucket, s.TempPrefix),
		model.Locator(s.ArtifactBucket(), s.InferenceInputPrefix),
		model.Locator(s.ArtifactBucket(), s.InferenceOutputPrefix),
	}
}

func loadConfig() (*cloud.Config, error) {
	if os.Getenv(cloud.EnvConfigFilePrefix) == "" {
		if err := os.Setenv(cloud.EnvConfigFilePrefix, "configs"); err != nil {
			return nil, err
		}
	}
	config := cloud.NewConfig()
	if err := cloud.LoadConfig(config); err != nil {
		return nil, err
	}
	return config, nil
}

func runPurge(cmd *cobra.Command, scope services.PurgeScope) error {
	if !scope.Index && !scope.Tasks && !scope.Objects {
		return errNoScope
	}

	config, err := loadConfig()
	if err != nil {
		return err
	}
	telemetry.SetupLogging(config.Application.GoogleProjectId)
	telemetry.SetLogLevel(config.Application.LogLevel)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	clients, err := cloud.NewCloudServiceClients(ctx, config)
	if err != nil {
		return err
	}
	defer clients.Close()

	cleanup := services.NewCleanupService(
		clients.VectorIndex(config),
		clients.TaskStore(config),
		clients.ObjectStore(config),
		ScratchPrefixes(config)...)

	report, err := cleanup.Purge(ctx, scope)
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "segments deleted: %d\n", report.Segments)
	fmt.Fprintf(out, "records deleted:  %d\n", report.Records)
	fmt.Fprintf(out, "objects deleted:  %d\n", report.Objects)
	if err != nil {
		slog.Error("purge incomplete", "error", err)
		return err
	}
	return nil
}
