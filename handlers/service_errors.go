package handlers

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/upb/tma-auth-gateway/internal/shared"
	"github.com/upb/tma-auth-gateway/utils"
)

// StatusForKind maps an error kind to its HTTP status.
func StatusForKind(kind shared.ErrorKind) int {
	switch kind {
	case shared.KindMalformedPayload, shared.KindMissingSignature,
		shared.KindMissingUserField, shared.KindMalformedUserJSON, shared.KindBadRequest:
		return http.StatusBadRequest
	case shared.KindSignatureMismatch, shared.KindExpiredPayload:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// HandleServiceError maps domain errors to HTTP responses. The response body
// carries the kind and the client-safe message, never the wrapped cause.
func HandleServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if err == nil {
		return
	}

	kind := shared.KindOf(err)
	status := StatusForKind(kind)

	message := "An internal error occurred"
	var domainErr *shared.DomainError
	if errors.As(err, &domainErr) && domainErr.Message != "" {
		message = domainErr.Message
	}

	if kind == shared.KindInternal {
		logger.Error("unhandled error type", zap.Error(err))
	}

	if err := utils.WriteError(w, status, string(kind), message); err != nil {
		logger.Error("failed to write error response", zap.Error(err))
	}
}

// HandleValidationError handles validation errors from request parsing
func HandleValidationError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if utils.IsValidationError(err) {
		if err := utils.WriteBadRequest(w, "Validation failed", utils.GetValidationFields(err)); err != nil {
			logger.Error("failed to write validation error response", zap.Error(err))
		}
		return
	}

	message := err.Error()
	if errors.Is(err, utils.ErrBodyTooLarge) {
		message = "Request body too large"
	}
	if err := utils.WriteBadRequest(w, message, nil); err != nil {
		logger.Error("failed to write validation error response", zap.Error(err))
	}
}
