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
	"log/slog"
	"strings"

	"github.com/jaycherian/gcp-go-multimodal-search/internal/cloud"
	"github.com/jaycherian/gcp-go-multimodal-search/internal/core/cor"
	"github.com/jaycherian/gcp-go-multimodal-search/internal/core/model"
)

// MediaClassifier keeps the objects the ingestion pipeline should embed.
// Objects under a reserved prefix are the system's own artifacts and are
// dropped, as are folder placeholders and unsupported extensions. When
// nothing is left the command produces no output and the chain ends.
type MediaClassifier struct {
	cor.BaseCommand
	reservedPrefixes []string
}

func NewMediaClassifier(name string, reservedPrefixes ...string) *MediaClassifier {
	prefixes := make([]string, 0, len(reservedPrefixes))
	for _, p := range reservedPrefixes {
		if p != "" {
			prefixes = append(prefixes, p)
		}
	}
	return &MediaClassifier{BaseCommand: *cor.NewBaseCommand(name), reservedPrefixes: prefixes}
}

func (c *MediaClassifier) Reserved(key string) bool {
	for _, p := range c.reservedPrefixes {
		if strings.HasPrefix(key, p) {
			return true
		}
	}
	return false
}

func (c *MediaClassifier) Execute(context cor.Context) {
	objects, _ := context.Get(c.GetInputParam()).([]cloud.GCSObject)
	ctx := context.GetContext()

	out := make([]model.MediaObject, 0, len(objects))
	for _, o := range objects {
		if c.Reserved(o.Name) || strings.HasSuffix(o.Name, "/") {
			slog.DebugContext(ctx, "skipping reserved object", "locator", o.Locator())
			continue
		}
		mediaType, ext, ok := model.Classify(o.Name)
		if !ok {
			slog.InfoContext(ctx, "skipping unsupported file type", "locator", o.Locator(), "extension", ext)
			continue
		}
		out = append(out, model.MediaObject{Locator: o.Locator(), MediaType: mediaType, FileType: ext})
	}

	if len(out) == 0 {
		c.Succeed(context, nil)
		return
	}
	c.Succeed(context, out)
}
