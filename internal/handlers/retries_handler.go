package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/go-route-retry/internal/replay"
	"github.com/imrishuroy/go-route-retry/internal/retries"
	"github.com/imrishuroy/go-route-retry/internal/validation"
)

// HandlerConfig groups dependencies for the retry admin handlers.
type HandlerConfig struct {
	Store     retries.Store
	Processor *replay.Processor
	Logger    *slog.Logger
}

type outcomeResponse struct {
	ID          int64  `json:"id"`
	StatusCode  int    `json:"status_code,omitempty"`
	Disposition string `json:"disposition"`
	Reason      string `json:"reason,omitempty"`
	Error       string `json:"error,omitempty"`
}

// RegisterRetriesRoutes registers the admin routes under /_retries.
func RegisterRetriesRoutes(r gin.IRouter, cfg HandlerConfig) {
	v := validation.New()
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	g := r.Group("/_retries")

	g.GET("", func(c *gin.Context) {
		var q validation.ListQuery
		if err := validation.BindQueryAndValidate(c, &q, v); err != nil {
			return
		}
		recs, err := cfg.Store.List(c.Request.Context(), q.Options())
		if err != nil {
			logger.Error("list retries failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "storage_error"})
			return
		}
		if recs == nil {
			recs = []retries.Record{}
		}
		c.JSON(http.StatusOK, gin.H{"data": recs})
	})

	g.GET("/:id", func(c *gin.Context) {
		id, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_id"})
			return
		}
		rec, err := cfg.Store.Get(c.Request.Context(), id)
		switch {
		case errors.Is(err, retries.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
			return
		case err != nil:
			logger.Error("get retry failed", "retry_id", id, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "storage_error"})
			return
		}
		c.JSON(http.StatusOK, rec)
	})

	g.POST("/process", func(c *gin.Context) {
		var req validation.ProcessRequest
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			return
		}

		res, err := cfg.Processor.Process(c.Request.Context(), req.Filter())
		if err != nil {
			logger.Error("process retries failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "storage_error", "detail": err.Error()})
			return
		}

		outcomes := make([]outcomeResponse, 0, len(res.Outcomes))
		for _, o := range res.Outcomes {
			out := outcomeResponse{
				ID:          o.ID,
				StatusCode:  o.StatusCode,
				Disposition: string(o.Disposition),
				Reason:      o.Reason,
			}
			if o.Err != nil {
				out.Error = o.Err.Error()
			}
			outcomes = append(outcomes, out)
		}
		c.JSON(http.StatusOK, gin.H{
			"found":                res.Found,
			"completed":            res.Count(replay.Completed),
			"rescheduled":          res.Count(replay.Rescheduled),
			"failed":               res.Count(replay.Failed),
			"completed_with_error": res.Count(replay.CompletedWithError),
			"skipped":              res.Count(replay.Skipped),
			"outcomes":             outcomes,
		})
	})
}
