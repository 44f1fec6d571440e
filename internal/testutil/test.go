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

// Package test provides configuration helpers, fixtures and in-memory fakes
// of the stores and the inference gateway for tests.
package test

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"testing"

	"github.com/jaycherian/gcp-go-multimodal-search/internal/cloud"
)

type StateManager struct {
	config *cloud.Config
}

var state = &StateManager{}

func HandleErr(err error, t *testing.T) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// GetTestMediaMessageText returns an OBJECT_FINALIZE notification body.
func GetTestMediaMessageText(bucket, name, contentType string) string {
	return fmt.Sprintf(`{
  "kind": "storage#object",
  "id": "%[1]s/%[2]s/1728615848664286",
  "selfLink": "https://www.googleapis.com/storage/v1/b/%[1]s/o/%[2]s",
  "name": "%[2]s",
  "bucket": "%[1]s",
  "generation": "1728615848664286",
  "metageneration": "1",
  "contentType": "%[3]s",
  "timeCreated": "2024-10-11T03:04:08.672Z",
  "updated": "2024-10-11T03:04:08.672Z",
  "storageClass": "STANDARD",
  "size": "259348037",
  "md5Hash": "67c1rAU+1RYZzK5zp8iBkA==",
  "metadata": { "touch": "18" },
  "crc32c": "IYeSTw==",
  "etag": "CN658+yrhYkDEAE="
}`, bucket, name, contentType)
}

// configDir finds the configs directory of the module from the working
// directory of the test binary, which is the package directory.
func configDir() string {
	dir, err := os.Getwd()
	if err != nil {
		return "configs"
	}
	for {
		candidate := filepath.Join(dir, "configs")
		if _, err := os.Stat(filepath.Join(candidate, cloud.ConfigFileBaseName+cloud.ConfigFileExtension)); err == nil {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "configs"
		}
		dir = parent
	}
}

func SetupOS() (err error) {
	err = os.Setenv(cloud.EnvConfigFilePrefix, configDir())
	if err != nil {
		return err
	}
	return os.Setenv(cloud.EnvConfigRuntime, "test")
}

// GetConfig loads the test configuration once. Missing files leave the
// defaults of cloud.NewConfig in place.
func GetConfig() *cloud.Config {
	if state.config == nil {
		if err := SetupOS(); err != nil {
			log.Fatalf("failed to setup environment for test: %v\n", err)
		}
		config := cloud.NewConfig()
		if err := cloud.LoadConfig(config); err != nil {
			log.Fatalf("failed to load test configuration: %v\n", err)
		}
		state.config = config
	}
	return state.config
}

// Vector returns a vector of the given dimension with v at position hot and
// zeros elsewhere.
func Vector(dimension, hot int, v float32) []float32 {
	out := make([]float32, dimension)
	out[hot%dimension] = v
	return out
}

func Float(v float64) *float64 { return &v }
