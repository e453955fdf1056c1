package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"drawd/internal/dispatch"
	"drawd/internal/session"
	"drawd/internal/studio"
	"drawd/internal/templates"
	"drawd/pkg/types"
)

// HTTPError allows services to provide an HTTP status code for an error.
type HTTPError interface {
	error
	StatusCode() int
}

// Stable error kinds on the wire.
const (
	kindAdmission    = "admission_rejected"
	kindNotFound     = "not_found"
	kindConflict     = "conflict"
	kindForbidden    = "forbidden"
	kindInvalid      = "invalid_request"
	kindSessionGone  = "session_closed"
	kindCollaborator = "collaborator_failure"
	kindUnavailable  = "unavailable"
	kindInternal     = "internal"
)

// classifyError maps service errors to a status code and wire kind.
func classifyError(err error) (int, string) {
	if ae, ok := dispatch.AsAdmissionError(err); ok {
		switch ae.Reason {
		case dispatch.ReasonCooldown, dispatch.ReasonQueueFull:
			IncrementBackpressure(string(ae.Reason))
			return http.StatusTooManyRequests, kindAdmission
		case dispatch.ReasonUnknownEngine:
			return http.StatusBadRequest, kindAdmission
		case dispatch.ReasonEngineDisabled:
			return http.StatusConflict, kindAdmission
		default:
			return http.StatusServiceUnavailable, kindAdmission
		}
	}
	var he HTTPError
	switch {
	case errors.Is(err, studio.ErrDrawInProgress):
		IncrementBackpressure("in_progress")
		return http.StatusTooManyRequests, kindAdmission
	case errors.Is(err, studio.ErrForbidden), errors.Is(err, studio.ErrAPIEngineDisabled):
		return http.StatusForbidden, kindForbidden
	case templates.IsNotFound(err), errors.Is(err, dispatch.ErrRequestNotFound),
		errors.Is(err, dispatch.ErrSlotNotFound), errors.Is(err, session.ErrNoSession):
		return http.StatusNotFound, kindNotFound
	case templates.IsNameConflict(err), errors.Is(err, session.ErrSessionActive),
		errors.Is(err, session.ErrWrongState), errors.Is(err, dispatch.ErrRequestFinished):
		return http.StatusConflict, kindConflict
	case errors.Is(err, session.ErrSessionClosed):
		return http.StatusGone, kindSessionGone
	case session.IsCollaboratorFailure(err):
		return http.StatusBadGateway, kindCollaborator
	case errors.Is(err, studio.ErrEmptyRequest), errors.Is(err, templates.ErrInvalidName),
		errors.Is(err, templates.ErrEmptyPrompt), errors.Is(err, session.ErrInvalidSeed),
		errors.Is(err, session.ErrEmptyInput):
		return http.StatusBadRequest, kindInvalid
	case errors.Is(err, studio.ErrNoCollaborator):
		return http.StatusNotImplemented, kindUnavailable
	case errors.Is(err, session.ErrShutdown):
		return http.StatusServiceUnavailable, kindUnavailable
	case errors.As(err, &he):
		return he.StatusCode(), ""
	}
	return http.StatusInternalServerError, kindInternal
}

// writeError maps err and writes it as JSON.
func writeError(w http.ResponseWriter, err error) {
	status, kind := classifyError(err)
	writeJSONErrorKind(w, status, kind, err.Error())
}

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSONErrorKind(w, status, "", msg)
}

func writeJSONErrorKind(w http.ResponseWriter, status int, kind, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: msg, Code: status, Kind: kind})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger().Error().Err(err).Msg("encode response")
	}
}
