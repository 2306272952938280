package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/upb/tma-auth-gateway/services/audit"
	"github.com/upb/tma-auth-gateway/utils"
)

// Exchanger turns signed init data into an identity provider token
type Exchanger interface {
	Exchange(ctx context.Context, rawInitData string, req audit.Request) (string, error)
}

// TelegramAuthRequest is the body of POST /auth/telegram
type TelegramAuthRequest struct {
	InitData string `json:"initData" validate:"required"`
}

// TelegramAuthResponse carries the issued token
type TelegramAuthResponse struct {
	Token string `json:"firebaseToken"`
}

// AuthHandler handles the init data exchange
type AuthHandler struct {
	exchanger Exchanger
	logger    *zap.Logger
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(exchanger Exchanger, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		exchanger: exchanger,
		logger:    logger,
	}
}

// HandleTelegramAuth handles POST /auth/telegram
func (h *AuthHandler) HandleTelegramAuth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		_ = utils.WriteMethodNotAllowed(w, http.MethodPost)
		return
	}

	var req TelegramAuthRequest
	if err := utils.DecodeJSON(w, r, &req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	token, err := h.exchanger.Exchange(r.Context(), req.InitData, requestMeta(r))
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	if err := utils.WriteOK(w, TelegramAuthResponse{Token: token}); err != nil {
		h.logger.Error("failed to write token response", zap.Error(err))
	}
}

func requestMeta(r *http.Request) audit.Request {
	return audit.Request{
		ID:        middleware.GetReqID(r.Context()),
		IPAddress: r.RemoteAddr,
		UserAgent: r.UserAgent(),
	}
}
