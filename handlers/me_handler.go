package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/upb/tma-auth-gateway/middleware"
	"github.com/upb/tma-auth-gateway/utils"
)

// MeHandler returns the mini app user authenticated by init data
type MeHandler struct {
	logger *zap.Logger
}

// NewMeHandler creates a new MeHandler
func NewMeHandler(logger *zap.Logger) *MeHandler {
	return &MeHandler{logger: logger}
}

// HandleMe handles GET /api/v1/me. Must run behind RequireInitData.
func (h *MeHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipalFromContext(r.Context())
	if principal == nil {
		_ = utils.WriteUnauthorized(w, "")
		return
	}

	if err := utils.WriteOK(w, principal); err != nil {
		h.logger.Error("failed to write me response", zap.Error(err))
	}
}
