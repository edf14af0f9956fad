package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
	"github.com/vladislavdragonenkov/orderflow/internal/queue"
)

func (h *handlers) queueStats(c *gin.Context) {
	stats, err := h.deps.Queue.Stats(c.Request.Context())
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, stats)
}

func (h *handlers) failedJobs(c *gin.Context) {
	limit, err := parseLimit(c.Query("limit"))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	jobs, err := h.deps.Queue.Failed(c.Request.Context(), limit)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	if jobs == nil {
		jobs = []queue.Job{}
	}
	respond(c, http.StatusOK, jobs)
}

func (h *handlers) replayJob(c *gin.Context) {
	job, err := h.deps.Queue.Replay(c.Request.Context(), c.Param("jobId"))
	if errors.Is(err, queue.ErrJobNotFound) {
		fail(c, http.StatusNotFound, "NOT_FOUND", err.Error())
		return
	}
	if errors.Is(err, queue.ErrJobNotFailed) {
		fail(c, http.StatusConflict, "JOB_NOT_FAILED", err.Error())
		return
	}
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, job)
}

func (h *handlers) failedSyncs(c *gin.Context) {
	limit, err := parseLimit(c.Query("limit"))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	status := domain.FailedSyncStatus(strings.ToUpper(strings.TrimSpace(c.Query("status"))))
	switch status {
	case "", domain.FailedSyncPending, domain.FailedSyncSuccess, domain.FailedSyncFailed:
	default:
		writeError(c, h.logger, domain.NewValidationError("status", "must be PENDING, SUCCESS or FAILED"))
		return
	}

	records, err := h.deps.FailedSyncs.List(tenantOf(c), status, limit)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	out := make([]failedSyncResponse, 0, len(records))
	for _, r := range records {
		out = append(out, toFailedSyncResponse(r))
	}
	respond(c, http.StatusOK, out)
}
