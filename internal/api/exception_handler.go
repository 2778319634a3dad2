package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"graphminer/internal/model"
	"graphminer/internal/service"
)

type ExceptionHandler struct {
	escalation *service.EscalationService
	logger     *zap.Logger
}

func NewExceptionHandler(escalation *service.EscalationService, logger *zap.Logger) *ExceptionHandler {
	return &ExceptionHandler{escalation: escalation, logger: logger}
}

func (h *ExceptionHandler) List(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}

	status := model.ExceptionStatus(c.Query("status"))
	exceptions, err := h.escalation.List(c.Request.Context(), id, status)
	if err != nil {
		h.logger.Error("ListExceptions: failed",
			zap.Int64("session_id", id),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch exceptions"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"exceptions": exceptions,
		"total":      len(exceptions),
	})
}

func (h *ExceptionHandler) MarkReviewed(c *gin.Context) {
	h.resolve(c, "ReviewException", h.escalation.MarkReviewed)
}

func (h *ExceptionHandler) Dismiss(c *gin.Context) {
	h.resolve(c, "DismissException", h.escalation.Dismiss)
}

func (h *ExceptionHandler) resolve(c *gin.Context, op string, fn func(ctx context.Context, id int64) (*model.Exception, error)) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid exception id"})
		return
	}

	exc, err := fn(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, model.ErrExceptionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "exception not found"})
			return
		}
		h.logger.Error(op+": failed",
			zap.Int64("exception_id", id),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	h.logger.Info(op+": success",
		zap.Int64("exception_id", id),
		zap.String("status", string(exc.Status)),
	)
	c.JSON(http.StatusOK, gin.H{"exception": exc})
}
