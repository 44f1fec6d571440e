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
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	ConfigFileBaseName  = ".env"
	ConfigFileExtension = ".toml"
	ConfigSeparator     = "."
	EnvConfigFilePrefix = "GCP_CONFIG_PREFIX" // Directory holding the configuration files.
	EnvConfigRuntime    = "GCP_RUNTIME"       // Runtime overlay name, e.g. "local", "test", "prod".
)

func fileExists(in string) bool {
	_, err := os.Stat(in)
	return !errors.Is(err, os.ErrNotExist)
}

// ConfigFiles returns the base and the runtime overlay file names.
func ConfigFiles() (base string, overlay string) {
	prefix := os.Getenv(EnvConfigFilePrefix)
	if len(prefix) > 0 && !strings.HasSuffix(prefix, string(os.PathSeparator)) {
		prefix = prefix + string(os.PathSeparator)
	}
	runtime := os.Getenv(EnvConfigRuntime)
	if runtime == "" {
		runtime = "test"
	}
	base = prefix + ConfigFileBaseName + ConfigFileExtension
	overlay = prefix + ConfigFileBaseName + ConfigSeparator + runtime + ConfigFileExtension
	return base, overlay
}

// LoadConfig decodes the base file and then the runtime overlay into
// baseConfig. Missing files are skipped, so values set before the call act
// as defaults.
func LoadConfig(baseConfig interface{}) error {
	base, overlay := ConfigFiles()
	for _, name := range []string{base, overlay} {
		if !fileExists(name) {
			slog.Debug("configuration file not found, skipping", "file", name)
			continue
		}
		if _, err := toml.DecodeFile(name, baseConfig); err != nil {
			return fmt.Errorf("failed to decode configuration file %s: %w", name, err)
		}
		slog.Info("loaded configuration file", "file", name)
	}
	return nil
}

var throttleMarkers = []string{"resource_exhausted", "resource exhausted", "quota", "rate limit", "too many requests"}

// IsThrottled reports whether err is a throttling, quota or rate limit signal
// from a Google API.
func IsThrottled(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		if apiErr.Code == http.StatusTooManyRequests {
			return true
		}
	}
	if s, ok := status.FromError(err); ok {
		switch s.Code() {
		case codes.ResourceExhausted, codes.Unavailable:
			return true
		}
	}
	msg := strings.ToLower(err.Error())
	for _, m := range throttleMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}
