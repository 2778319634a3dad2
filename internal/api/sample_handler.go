package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"graphminer/internal/model"
	"graphminer/internal/repository"
	"graphminer/internal/service"
)

type SampleHandler struct {
	feedback *service.FeedbackService
	logger   *zap.Logger
}

func NewSampleHandler(feedback *service.FeedbackService, logger *zap.Logger) *SampleHandler {
	return &SampleHandler{feedback: feedback, logger: logger}
}

type listQuery struct {
	Status string `form:"status"`
	Type   string `form:"type"`
	Limit  int    `form:"limit"`
	Offset int    `form:"offset"`
}

func (h *SampleHandler) List(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}

	var q listQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid query parameters"})
		return
	}

	filter := repository.SampleFilter{
		Status: model.SampleStatus(q.Status),
		Type:   model.SampleType(q.Type),
		Limit:  q.Limit,
		Offset: q.Offset,
	}

	samples, total, err := h.feedback.List(c.Request.Context(), id, filter)
	if err != nil {
		h.logger.Error("ListSamples: failed",
			zap.Int64("session_id", id),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch samples"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"samples": samples,
		"total":   total,
	})
}

func (h *SampleHandler) NextPending(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}

	sample, err := h.feedback.NextPending(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, model.ErrSampleNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no pending samples"})
			return
		}
		h.logger.Error("NextPending: failed",
			zap.Int64("session_id", id),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch next sample"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"sample": sample})
}

type feedbackRequest struct {
	IsCorrect      *bool   `json:"is_correct" binding:"required"`
	CorrectedLabel *string `json:"corrected_label"`
	Notes          *string `json:"notes"`
}

func (h *SampleHandler) SubmitFeedback(c *gin.Context) {
	sampleID := c.Param("id")

	var req feedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("SubmitFeedback: invalid request body", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	sample, err := h.feedback.Submit(c.Request.Context(), sampleID, *req.IsCorrect, req.CorrectedLabel, req.Notes)
	if err != nil {
		h.renderError(c, "SubmitFeedback", sampleID, err)
		return
	}

	h.logger.Info("SubmitFeedback: success",
		zap.String("sample_id", sampleID),
		zap.Bool("is_correct", *req.IsCorrect),
	)
	c.JSON(http.StatusOK, gin.H{"sample": sample})
}

func (h *SampleHandler) Skip(c *gin.Context) {
	sampleID := c.Param("id")

	sample, err := h.feedback.Skip(c.Request.Context(), sampleID)
	if err != nil {
		h.renderError(c, "Skip", sampleID, err)
		return
	}

	h.logger.Info("Skip: success", zap.String("sample_id", sampleID))
	c.JSON(http.StatusOK, gin.H{"sample": sample})
}

func (h *SampleHandler) renderError(c *gin.Context, op, sampleID string, err error) {
	switch {
	case errors.Is(err, model.ErrSampleNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "sample not found"})
	case errors.Is(err, model.ErrAlreadyReviewed):
		c.JSON(http.StatusConflict, gin.H{"error": "sample already reviewed"})
	case errors.Is(err, model.ErrBudgetExhausted):
		c.JSON(http.StatusPaymentRequired, gin.H{"error": "training budget exhausted, top up to continue"})
	default:
		h.logger.Error(op+": failed",
			zap.String("sample_id", sampleID),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	h.logger.Warn(op+": rejected", zap.String("sample_id", sampleID), zap.Error(err))
}
