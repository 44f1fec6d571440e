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

package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jaycherian/gcp-go-multimodal-search/internal/core/model"
)

// Dashboard exposes ingestion diagnostics under /stats.
func Dashboard(r *gin.RouterGroup, h *Handlers) {
	stats := r.Group("/stats")
	{
		stats.GET("/ingestion", func(c *gin.Context) {
			locator := c.Query("locator")
			if locator == "" {
				c.JSON(http.StatusBadRequest, gin.H{"error": "missing locator"})
				return
			}
			status, err := h.statuses.GetIngestionStatus(c.Request.Context(), locator)
			if err != nil {
				if model.IsNotFound(err) {
					c.JSON(http.StatusNotFound, gin.H{"error": "No ingestion recorded"})
					return
				}
				c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read ingestion status"})
				return
			}
			c.JSON(http.StatusOK, status)
		})
	}
}
