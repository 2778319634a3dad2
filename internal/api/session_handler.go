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

type SessionHandler struct {
	sessions *service.SessionService
	logger   *zap.Logger
}

func NewSessionHandler(sessions *service.SessionService, logger *zap.Logger) *SessionHandler {
	return &SessionHandler{sessions: sessions, logger: logger}
}

type startSessionRequest struct {
	UserID               int64  `json:"user_id" binding:"required"`
	Mode                 string `json:"mode"`
	DiscoveryBudgetCents int64  `json:"discovery_budget_cents" binding:"required"`
	TrainingBudgetCents  int64  `json:"training_budget_cents" binding:"required"`
}

func (h *SessionHandler) Start(c *gin.Context) {
	var req startSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Start: invalid request body", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	mode := model.SessionMode(req.Mode)
	if req.Mode == "" {
		mode = model.ModeCollectFeedback
	}

	sess, err := h.sessions.Start(c.Request.Context(), req.UserID, mode, req.DiscoveryBudgetCents, req.TrainingBudgetCents)
	if err != nil {
		h.logger.Warn("Start: failed to start session",
			zap.Int64("user_id", req.UserID),
			zap.Error(err),
		)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	h.logger.Info("Start: session active",
		zap.Int64("session_id", sess.ID),
		zap.Int64("user_id", req.UserID),
	)
	c.JSON(http.StatusCreated, gin.H{"session": sess})
}

func (h *SessionHandler) Status(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}

	report, err := h.sessions.Status(c.Request.Context(), id)
	if err != nil {
		h.renderError(c, "Status", id, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *SessionHandler) Pause(c *gin.Context) {
	h.transition(c, "Pause", h.sessions.Pause)
}

func (h *SessionHandler) Resume(c *gin.Context) {
	h.transition(c, "Resume", h.sessions.Resume)
}

func (h *SessionHandler) Cancel(c *gin.Context) {
	h.transition(c, "Cancel", h.sessions.Cancel)
}

func (h *SessionHandler) Reconcile(c *gin.Context) {
	h.transition(c, "Reconcile", h.sessions.Reconcile)
}

type topUpRequest struct {
	AmountCents int64 `json:"amount_cents" binding:"required"`
}

func (h *SessionHandler) TopUpDiscovery(c *gin.Context) {
	h.topUp(c, "TopUpDiscovery", h.sessions.TopUpDiscovery)
}

func (h *SessionHandler) TopUpTraining(c *gin.Context) {
	h.topUp(c, "TopUpTraining", h.sessions.TopUpTraining)
}

func (h *SessionHandler) transition(c *gin.Context, op string, fn func(ctx context.Context, id int64) (*model.Session, error)) {
	id, ok := sessionID(c)
	if !ok {
		return
	}

	sess, err := fn(c.Request.Context(), id)
	if err != nil {
		h.renderError(c, op, id, err)
		return
	}

	h.logger.Info(op+": success",
		zap.Int64("session_id", id),
		zap.String("status", string(sess.Status)),
	)
	c.JSON(http.StatusOK, gin.H{"session": sess})
}

func (h *SessionHandler) topUp(c *gin.Context, op string, fn func(ctx context.Context, id, amount int64) (*model.Session, error)) {
	id, ok := sessionID(c)
	if !ok {
		return
	}

	var req topUpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn(op+": invalid request body", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	sess, err := fn(c.Request.Context(), id, req.AmountCents)
	if err != nil {
		h.renderError(c, op, id, err)
		return
	}

	h.logger.Info(op+": success",
		zap.Int64("session_id", id),
		zap.Int64("amount_cents", req.AmountCents),
	)
	c.JSON(http.StatusOK, gin.H{"session": sess})
}

func (h *SessionHandler) renderError(c *gin.Context, op string, id int64, err error) {
	switch {
	case errors.Is(err, model.ErrSessionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
	case errors.Is(err, model.ErrSessionTerminal):
		c.JSON(http.StatusConflict, gin.H{"error": "session is complete"})
	case errors.Is(err, model.ErrBudgetExhausted):
		c.JSON(http.StatusPaymentRequired, gin.H{"error": "budget exhausted, top up to continue"})
	default:
		h.logger.Error(op+": failed",
			zap.Int64("session_id", id),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	h.logger.Warn(op+": rejected", zap.Int64("session_id", id), zap.Error(err))
}

func sessionID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
		return 0, false
	}
	return id, true
}
