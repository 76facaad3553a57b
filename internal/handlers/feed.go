// internal/handlers/feed.go
package handlers

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/javajoker/marketsync/internal/feeds"
	"github.com/javajoker/marketsync/internal/store"
	"github.com/javajoker/marketsync/internal/utils"
)

type FeedHandler struct {
	store    store.FeedStore
	exporter *feeds.Exporter
}

func NewFeedHandler(st store.FeedStore, exporter *feeds.Exporter) *FeedHandler {
	return &FeedHandler{store: st, exporter: exporter}
}

// GET /feed-requests?launched=
func (h *FeedHandler) GetFeedRequests(c *gin.Context) {
	params := utils.GetPaginationParams(c)

	var launched *bool
	if raw := c.Query("launched"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			utils.BadRequestResponse(c, "Invalid launched filter", nil)
			return
		}
		launched = &v
	}

	requests, total, err := h.store.ListFeedRequests(c.Request.Context(), launched, params.StorePage())
	if err != nil {
		respondError(c, "feed request", err)
		return
	}
	utils.PaginatedResponse(c, utils.CreatePaginationResult(requests, total, params))
}

// POST /feed-requests/export
func (h *FeedHandler) Export(c *gin.Context) {
	submissions, err := h.exporter.ExportPending(c.Request.Context())
	if err != nil && len(submissions) == 0 {
		respondError(c, "feed request", err)
		return
	}

	data := gin.H{"submissions": submissions}
	if err != nil {
		// Some groups went out, the rest stay pending.
		data["error"] = err.Error()
	}
	utils.SuccessResponse(c, data)
}
