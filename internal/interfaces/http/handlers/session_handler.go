package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/prismgate/prismgate/internal/domain/entity"
	"github.com/prismgate/prismgate/internal/domain/session"
	apperrors "github.com/prismgate/prismgate/pkg/errors"
)

// SessionHandler manages conversation sessions over HTTP.
type SessionHandler struct {
	store      session.Store
	defaultTTL time.Duration
	logger     *zap.Logger
}

// NewSessionHandler creates the session handler.
func NewSessionHandler(store session.Store, defaultTTL time.Duration, logger *zap.Logger) *SessionHandler {
	return &SessionHandler{
		store:      store,
		defaultTTL: defaultTTL,
		logger:     logger.With(zap.String("component", "session-handler")),
	}
}

// CreateSessionRequest is the optional creation body.
type CreateSessionRequest struct {
	TTLSeconds int                    `json:"ttl_seconds,omitempty"`
	Context    map[string]interface{} `json:"context,omitempty"`
}

// SessionResponse is the session as returned to clients.
type SessionResponse struct {
	ID        string                 `json:"id"`
	Messages  []entity.Message       `json:"messages"`
	Context   map[string]interface{} `json:"context,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
	ExpiresAt time.Time              `json:"expires_at"`
}

// CreateSession handles POST /v1/sessions. The body is optional.
func (h *SessionHandler) CreateSession(c *gin.Context) {
	var req CreateSessionRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			RespondError(c, apperrors.New(apperrors.CodeInvalidReq, "malformed request body: "+err.Error()))
			return
		}
	}

	ttl := h.defaultTTL
	if req.TTLSeconds > 0 {
		ttl = time.Duration(req.TTLSeconds) * time.Second
	}

	sess, err := h.store.Create(c.Request.Context(), ttl, req.Context)
	if err != nil {
		h.logger.Error("session create failed", zap.Error(err))
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toSessionResponse(sess))
}

// GetSession handles GET /v1/sessions/:id.
func (h *SessionHandler) GetSession(c *gin.Context) {
	id := c.Param("id")
	sess, err := h.store.Get(c.Request.Context(), id)
	if err != nil {
		h.logger.Error("session lookup failed", zap.String("session_id", id), zap.Error(err))
		RespondError(c, err)
		return
	}
	if sess == nil {
		RespondError(c, apperrors.NewNotFoundError("session not found: "+id))
		return
	}
	c.JSON(http.StatusOK, toSessionResponse(sess))
}

// DeleteSession handles DELETE /v1/sessions/:id.
func (h *SessionHandler) DeleteSession(c *gin.Context) {
	id := c.Param("id")
	existed, err := h.store.Delete(c.Request.Context(), id)
	if err != nil {
		h.logger.Error("session delete failed", zap.String("session_id", id), zap.Error(err))
		RespondError(c, err)
		return
	}
	if !existed {
		RespondError(c, apperrors.NewNotFoundError("session not found: "+id))
		return
	}
	c.Status(http.StatusNoContent)
}

func toSessionResponse(s *session.Session) SessionResponse {
	messages := s.Messages
	if messages == nil {
		messages = []entity.Message{}
	}
	return SessionResponse{
		ID:        s.ID,
		Messages:  messages,
		Context:   s.Context,
		CreatedAt: s.CreatedAt,
		ExpiresAt: s.ExpiresAt,
	}
}
