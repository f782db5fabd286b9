package rest

import (
	"errors"
	"net/http"

	"github.com/baechuer/tablebook/internal/domain"
	appCtx "github.com/baechuer/tablebook/internal/pkg/context"
	"github.com/baechuer/tablebook/internal/pkg/logger"
	"github.com/baechuer/tablebook/internal/transport/rest/response"
)

func handleErr(w http.ResponseWriter, r *http.Request, err error) {
	var verr *domain.ValidationError

	switch {
	case errors.Is(err, domain.ErrUnauthenticated):
		fail(w, r, http.StatusUnauthorized, "auth.unauthorized", err.Error(), nil)
	case errors.Is(err, domain.ErrNotFound):
		fail(w, r, http.StatusNotFound, "event.not_found", err.Error(), nil)
	case errors.Is(err, domain.ErrMissingInviteCode):
		fail(w, r, http.StatusBadRequest, "invite.missing", err.Error(), nil)
	case errors.Is(err, domain.ErrInvalidInviteCode):
		// the client clears the code field and lets the user retry
		fail(w, r, http.StatusForbidden, "invite.invalid", err.Error(), map[string]string{
			"clear_input": "true",
		})
	case errors.Is(err, domain.ErrAlreadyJoined):
		fail(w, r, http.StatusConflict, "join.already_joined", err.Error(), nil)
	case errors.Is(err, domain.ErrNotJoined):
		fail(w, r, http.StatusConflict, "join.not_joined", err.Error(), nil)
	case errors.Is(err, domain.ErrEventFull):
		fail(w, r, http.StatusConflict, "event.full", err.Error(), nil)
	case errors.Is(err, domain.ErrForbidden):
		fail(w, r, http.StatusForbidden, "auth.forbidden", err.Error(), nil)
	case errors.As(err, &verr):
		fail(w, r, http.StatusBadRequest, "request.invalid", "validation failed", verr.Fields)
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrMalformed):
		fail(w, r, http.StatusBadRequest, "request.invalid", err.Error(), nil)
	case errors.Is(err, domain.ErrContention):
		w.Header().Set("Retry-After", "1")
		fail(w, r, http.StatusServiceUnavailable, "join.contention", err.Error(), nil)
	case errors.Is(err, domain.ErrStoreUnavailable):
		logger.WithCtx(r.Context()).Error().Err(err).Msg("store unavailable")
		w.Header().Set("Retry-After", "1")
		// the cause stays in the log, not the response
		fail(w, r, http.StatusServiceUnavailable, "store.unavailable", domain.ErrStoreUnavailable.Error(), nil)
	default:
		logger.WithCtx(r.Context()).Error().Err(err).Msg("unhandled error")
		fail(w, r, http.StatusInternalServerError, "internal", "internal error", nil)
	}
}

func fail(w http.ResponseWriter, r *http.Request, status int, code, message string, meta map[string]string) {
	reqID := appCtx.GetRequestID(r.Context())
	if reqID == "" {
		reqID = "no-request-id"
	}
	response.Fail(w, status, code, message, meta, reqID)
}
