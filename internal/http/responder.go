package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/example/eventhub/internal/application"
	"github.com/example/eventhub/internal/query"
)

const (
	statusSuccess = "success"
	statusError   = "error"
)

var (
	errBadRequestBody   = errors.New("invalid request body")
	errNotLoggedIn      = errors.New("you are not logged in, please log in to get access")
	errInvalidToken     = errors.New("invalid or expired token, please log in again")
	errRouteNotFound    = errors.New("can't find this route on the server")
	errMethodNotAllowed = errors.New("method not allowed on this route")
)

type envelope struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

type listPayload struct {
	Data  any `json:"data"`
	Total int `json:"total"`
	Page  int `json:"page,omitempty"`
	Pages int `json:"pages,omitempty"`
}

type responder struct {
	logger *slog.Logger
}

func newResponder(logger *slog.Logger) responder {
	if logger == nil {
		logger = slog.Default()
	}
	return responder{logger: logger}
}

func (r responder) writeJSON(ctx context.Context, w http.ResponseWriter, status int, payload any) {
	if w == nil {
		return
	}

	if status == http.StatusNoContent || payload == nil {
		w.WriteHeader(status)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		r.loggerFor(ctx).ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (r responder) writeData(ctx context.Context, w http.ResponseWriter, status int, data any) {
	r.writeJSON(ctx, w, status, envelope{Status: statusSuccess, Data: data})
}

func writeList[T any](ctx context.Context, r responder, w http.ResponseWriter, page query.Page[T], items any) {
	payload := listPayload{Data: items, Total: page.Total}
	if page.Paginated {
		payload.Page = page.Page
		payload.Pages = page.Pages
	}
	r.writeData(ctx, w, http.StatusOK, payload)
}

func (r responder) writeError(ctx context.Context, w http.ResponseWriter, status int, err error) {
	message := http.StatusText(status)
	if err != nil {
		if msg := strings.TrimSpace(err.Error()); msg != "" {
			message = msg
		}
		r.loggerFor(ctx).WarnContext(ctx, "request failed", "status", status, "error", err)
	}
	r.writeJSON(ctx, w, status, envelope{Status: statusError, Message: message})
}

// handleServiceError maps service failures onto status codes. Unexpected
// errors become a generic 500 so internals are never echoed to clients.
func (r responder) handleServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	status, message := statusFor(err)
	if status >= http.StatusInternalServerError {
		r.loggerFor(ctx).ErrorContext(ctx, "request failed", "status", status, "error", err, "error_kind", application.ErrorKind(err))
	}
	r.writeJSON(ctx, w, status, envelope{Status: statusError, Message: message})
}

func statusFor(err error) (int, string) {
	var vErr *application.ValidationError
	var sErr *application.StateError
	var nErr *application.NotFoundError

	switch {
	case err == nil:
		return http.StatusInternalServerError, "something went very wrong"
	case errors.As(err, &vErr):
		return http.StatusBadRequest, vErr.Message
	case errors.As(err, &sErr):
		return http.StatusBadRequest, sErr.Message
	case errors.Is(err, query.ErrMalformedQuery):
		return http.StatusBadRequest, detail(err, query.ErrMalformedQuery, "malformed query")
	case errors.Is(err, application.ErrInvalidCredentials):
		return http.StatusUnauthorized, "incorrect email or password"
	case errors.Is(err, application.ErrUnauthenticated):
		return http.StatusUnauthorized, errNotLoggedIn.Error()
	case errors.Is(err, application.ErrForbidden):
		return http.StatusForbidden, "you do not have permission to perform this action"
	case errors.As(err, &nErr):
		return http.StatusNotFound, nErr.Error()
	case errors.Is(err, application.ErrNotFound):
		return http.StatusNotFound, "no document found with that id"
	case errors.Is(err, application.ErrAlreadyExists):
		return http.StatusConflict, detail(err, application.ErrAlreadyExists, "duplicate value, please use another one")
	case errors.Is(err, application.ErrUpstream):
		return http.StatusBadGateway, "an upstream service failed, please try again later"
	default:
		return http.StatusInternalServerError, "something went very wrong"
	}
}

// detail returns the text wrapped after sentinel, e.g. "email already in use"
// from "application: already exists: email already in use".
func detail(err, sentinel error, fallback string) string {
	msg := err.Error()
	if i := strings.Index(msg, sentinel.Error()+": "); i >= 0 {
		if rest := strings.TrimSpace(msg[i+len(sentinel.Error())+2:]); rest != "" {
			return rest
		}
	}
	return fallback
}

func (r responder) loggerFor(ctx context.Context) *slog.Logger {
	if logger := LoggerFromContext(ctx); logger != nil {
		return logger
	}
	return r.logger
}

func decodeJSON(r *http.Request, v any) error {
	if r.Body == nil {
		return errBadRequestBody
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errBadRequestBody
	}
	return nil
}
