package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"lake-catalog/internal/domain"
)

// ErrorModel is the error envelope of every failed request.
type ErrorModel struct {
	Type    string   `json:"type"`
	Code    int      `json:"code"`
	Message string   `json:"message"`
	Stack   []string `json:"stack"`
}

type errorResponse struct {
	Error ErrorModel `json:"error"`
	// Current is set on commit conflicts.
	Current *domain.MetadataPointer `json:"current,omitempty"`
}

// classify maps a domain error to its HTTP status and error type.
func classify(err error) (int, string) {
	var (
		validation   *domain.ValidationError
		unauth       *domain.UnauthenticatedError
		denied       *domain.AccessDeniedError
		notFound     *domain.NotFoundError
		conflict     *domain.ConflictError
		unavailable  *domain.AuthorizationUnavailableError
		vending      *domain.CredentialVendingError
		downscoping  *domain.DownscopingValidationError
		storeBackend *domain.StorageBackendError
	)
	switch {
	case errors.As(err, &validation):
		return http.StatusBadRequest, "ValidationError"
	case errors.As(err, &unauth):
		return http.StatusUnauthorized, "UnauthenticatedError"
	case errors.As(err, &denied):
		return http.StatusForbidden, "AccessDeniedError"
	case errors.As(err, &notFound):
		return http.StatusNotFound, "NotFoundError"
	case errors.As(err, &conflict):
		return http.StatusConflict, "ConflictError"
	case errors.As(err, &unavailable):
		return http.StatusServiceUnavailable, "AuthorizationUnavailableError"
	case errors.As(err, &downscoping):
		return http.StatusUnprocessableEntity, "DownscopingValidationError"
	case errors.As(err, &vending):
		return http.StatusBadGateway, "CredentialVendingError"
	case errors.As(err, &storeBackend):
		return http.StatusServiceUnavailable, "StorageBackendError"
	default:
		return http.StatusInternalServerError, "InternalError"
	}
}

// errorStack lists the messages of the wrapped chain below the top error.
func errorStack(err error) []string {
	stack := []string{}
	for cause := errors.Unwrap(err); cause != nil; cause = errors.Unwrap(cause) {
		stack = append(stack, cause.Error())
	}
	return stack
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, typ := classify(err)
	body := errorResponse{Error: ErrorModel{Type: typ, Code: status, Message: err.Error(), Stack: errorStack(err)}}

	var conflict *domain.ConflictError
	if errors.As(err, &conflict) && conflict.Current != nil {
		body.Current = conflict.Current
	}
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		body.Error.Message = "internal error"
		body.Error.Stack = []string{}
	} else {
		h.logger.Debug("request rejected", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Default().Warn("encode response", "error", err)
	}
}

// decodeJSON reads a JSON request body into v and rejects unknown fields.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 8<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return domain.ErrValidation("invalid request body: %v", err)
	}
	if dec.More() {
		return domain.ErrValidation("invalid request body: trailing data")
	}
	return nil
}

func errMissing(name string) error {
	return domain.ErrValidation("%s is required", name)
}
