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

// Package api exposes the search task manager over HTTP with gin.
package api

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/jaycherian/gcp-go-multimodal-search/internal/core/services"
)

// CORSConfig allows any origin to submit searches and poll their status.
func CORSConfig() cors.Config {
	return cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:    []string{"Content-Type", "Authorization"},
		MaxAge:          12 * time.Hour,
	}
}

// NewRouter builds the engine. Routes are served both at the root and under
// /api/v1.
func NewRouter(serviceName string, tasks *services.SearchTaskManager, statuses services.StatusStore) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware(serviceName))
	r.Use(cors.New(CORSConfig()))

	h := &Handlers{tasks: tasks, statuses: statuses}
	for _, g := range []*gin.RouterGroup{r.Group(""), r.Group("/api/v1")} {
		SearchRouter(g, h)
		Dashboard(g, h)
	}
	return r
}
