// internal/handlers/job.go
package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/javajoker/marketsync/internal/models"
	"github.com/javajoker/marketsync/internal/store"
	"github.com/javajoker/marketsync/internal/utils"
)

type JobHandler struct {
	store store.JobStore
}

func NewJobHandler(st store.JobStore) *JobHandler {
	return &JobHandler{store: st}
}

// GET /jobs?state=
func (h *JobHandler) GetJobs(c *gin.Context) {
	params := utils.GetPaginationParams(c)

	state := models.JobState(c.Query("state"))
	switch state {
	case "", models.JobStatePending, models.JobStateStarted, models.JobStateDone, models.JobStateFailed:
	default:
		utils.BadRequestResponse(c, "Invalid job state", nil)
		return
	}

	list, total, err := h.store.ListJobs(c.Request.Context(), state, params.StorePage())
	if err != nil {
		respondError(c, "job", err)
		return
	}
	utils.PaginatedResponse(c, utils.CreatePaginationResult(list, total, params))
}
