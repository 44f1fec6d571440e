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

// Package model holds the data types shared by the ingestion and search
// pipelines: media classification, embedding segments, the inference result
// union, ingestion diagnostics, search tasks and the error taxonomy.
package model

import (
	"fmt"
	"path"
	"sort"
	"strings"
)

// MediaType is the modality of a stored object or a query.
type MediaType string

const (
	MediaTypeImage MediaType = "image"
	MediaTypeVideo MediaType = "video"
	MediaTypeAudio MediaType = "audio"
	MediaTypeText  MediaType = "text"
)

// extensions maps a lower case file extension to its media type.
var extensions = map[string]MediaType{
	"png":  MediaTypeImage,
	"jpg":  MediaTypeImage,
	"jpeg": MediaTypeImage,
	"webp": MediaTypeImage,
	"mp4":  MediaTypeVideo,
	"mov":  MediaTypeVideo,
	"mp3":  MediaTypeAudio,
	"wav":  MediaTypeAudio,
	"m4a":  MediaTypeAudio,
	"flac": MediaTypeAudio,
	"ogg":  MediaTypeAudio,
}

// MediaObject is a user uploaded object that has been classified for ingestion.
type MediaObject struct {
	Locator   string    `json:"locator"`
	MediaType MediaType `json:"media_type"`
	FileType  string    `json:"file_type"`
}

// FileExtension returns the lower case extension of name without the dot.
func FileExtension(name string) string {
	ext := path.Ext(name)
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// Classify derives the media type and file type from a file name. The
// boolean is false for unsupported extensions.
func Classify(name string) (MediaType, string, bool) {
	ext := FileExtension(name)
	mt, ok := extensions[ext]
	if !ok {
		return "", ext, false
	}
	return mt, ext, true
}

// FileTypesFor lists the supported extensions of the given media types in a
// stable order.
func FileTypesFor(types ...MediaType) []string {
	wanted := make(map[MediaType]bool, len(types))
	for _, t := range types {
		wanted[t] = true
	}
	out := make([]string, 0)
	for ext, mt := range extensions {
		if wanted[mt] {
			out = append(out, ext)
		}
	}
	sort.Strings(out)
	return out
}

// SupportedExtensions lists every extension accepted by ingestion.
func SupportedExtensions() []string {
	return FileTypesFor(MediaTypeImage, MediaTypeVideo, MediaTypeAudio)
}

// LocatorScheme prefixes object locators.
const LocatorScheme = "gs://"

// Locator joins a bucket and object key.
func Locator(bucket, key string) string {
	return LocatorScheme + bucket + "/" + key
}

// SplitLocator is the inverse of Locator.
func SplitLocator(locator string) (bucket string, key string, err error) {
	if !strings.HasPrefix(locator, LocatorScheme) {
		return "", "", fmt.Errorf("invalid object locator %q", locator)
	}
	parts := strings.SplitN(strings.TrimPrefix(locator, LocatorScheme), "/", 2)
	if parts[0] == "" {
		return "", "", fmt.Errorf("invalid object locator %q", locator)
	}
	if len(parts) == 1 {
		return parts[0], "", nil
	}
	return parts[0], parts[1], nil
}
