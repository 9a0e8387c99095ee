package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/example/petri-split/internal/fetcher"
	"github.com/example/petri-split/internal/splitter"
	"github.com/example/petri-split/internal/usecase"
)

// MaxRequestBodySize caps the JSON body of a split request.
const MaxRequestBodySize = 64 << 10

// SplitService is the use case surface served over HTTP.
type SplitService interface {
	SplitImage(ctx context.Context, req usecase.SplitRequest) (*usecase.SplitOutcome, error)
	GetSplit(ctx context.Context, parent string) (*usecase.SplitOutcome, error)
	GetMetricsSummary(ctx context.Context) (*usecase.MetricsSummary, error)
}

type splitRequest struct {
	ParentImageURL      string `json:"parent_image_url" binding:"required"`
	ParentObservationID string `json:"parent_obs_id"`
	LeftObservationID   string `json:"left_obs_id" binding:"required"`
	RightObservationID  string `json:"right_obs_id" binding:"required"`
}

// RegisterRoutes wires the HTTP handlers to the Gin router. metricsHandler may be nil.
func RegisterRoutes(router *gin.Engine, svc SplitService, metricsHandler http.Handler) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.POST("/split-petri-image", func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxRequestBodySize)

		var payload splitRequest
		if err := c.ShouldBindJSON(&payload); err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "request body too large"})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": "parent_image_url, left_obs_id and right_obs_id are required"})
			return
		}

		outcome, err := svc.SplitImage(c.Request.Context(), usecase.SplitRequest{
			ParentImageURL:      payload.ParentImageURL,
			ParentObservationID: payload.ParentObservationID,
			LeftObservationID:   payload.LeftObservationID,
			RightObservationID:  payload.RightObservationID,
		})
		if err != nil {
			c.JSON(statusForError(err), gin.H{"status": "error", "error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status":          "ok",
			"request_id":      outcome.RequestID,
			"left_image_url":  outcome.LeftImageURL,
			"right_image_url": outcome.RightImageURL,
			"split_method":    outcome.SplitMethod,
		})
	})

	router.GET("/splits/:parent", func(c *gin.Context) {
		outcome, err := svc.GetSplit(c.Request.Context(), c.Param("parent"))
		switch {
		case errors.Is(err, usecase.ErrInProgress):
			c.JSON(http.StatusAccepted, gin.H{"status": "processing"})
			return
		case errors.Is(err, usecase.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "split not found"})
			return
		case err != nil:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, outcome)
	})

	router.GET("/metrics/summary", func(c *gin.Context) {
		summary, err := svc.GetMetricsSummary(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, summary)
	})

	if metricsHandler != nil {
		router.GET("/metrics", gin.WrapH(metricsHandler))
	}
}

func statusForError(err error) int {
	var (
		decodeErr     *splitter.DecodeError
		degenerateErr *splitter.DegenerateSplitError
		fetchErr      *usecase.FetchError
		statusErr     *fetcher.StatusError
	)
	switch {
	case errors.Is(err, usecase.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.As(err, &decodeErr), errors.As(err, &degenerateErr):
		return http.StatusUnprocessableEntity
	case errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound:
		return http.StatusNotFound
	case errors.Is(err, fetcher.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.As(err, &fetchErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
