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
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jaycherian/gcp-go-multimodal-search/internal/core/model"
	"github.com/jaycherian/gcp-go-multimodal-search/internal/core/services"
)

// Handlers holds what the routes call into.
type Handlers struct {
	tasks    *services.SearchTaskManager
	statuses services.StatusStore
}

// SearchRouter registers POST /search and GET /status/:taskId.
func SearchRouter(r *gin.RouterGroup, h *Handlers) {
	r.POST("/search", h.submitSearch)
	r.GET("/status/:taskId", h.searchStatus)
}

func (h *Handlers) submitSearch(c *gin.Context) {
	var req model.SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	resp, err := h.tasks.Submit(c.Request.Context(), &req)
	if err != nil {
		if model.IsValidation(err) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		slog.ErrorContext(c.Request.Context(), "failed to submit search", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to submit search"})
		return
	}
	c.JSON(http.StatusAccepted, resp)
}

func (h *Handlers) searchStatus(c *gin.Context) {
	view, err := h.tasks.GetStatus(c.Request.Context(), c.Param("taskId"))
	switch {
	case err == nil:
		c.JSON(http.StatusOK, view)
	case model.IsNotFound(err):
		c.JSON(http.StatusNotFound, gin.H{"error": "Search not found"})
	case model.IsValidation(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		slog.ErrorContext(c.Request.Context(), "failed to read search status", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read search status"})
	}
}
