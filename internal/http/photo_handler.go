package http

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/example/eventhub/internal/application"
	"github.com/example/eventhub/internal/persistence"
)

// maxPhotoBytes caps uploaded images.
const maxPhotoBytes = 5 << 20

var errPhotoTooLarge = errors.New("photo must be at most 5MB")

type photoService interface {
	PutUserPhoto(ctx context.Context, principal application.Principal, data []byte) (persistence.User, error)
	GetUserPhoto(ctx context.Context, principal application.Principal) ([]byte, error)
	PutEventPhoto(ctx context.Context, principal application.Principal, eventID string, data []byte) (persistence.Event, error)
	GetEventPhoto(ctx context.Context, principal application.Principal, eventID string) ([]byte, error)
}

// PhotoHandler stores and streams JPEG images for users and events. Bodies
// are the raw image bytes.
type PhotoHandler struct {
	service   photoService
	responder responder
	logger    *slog.Logger
}

func NewPhotoHandler(service photoService, logger *slog.Logger) *PhotoHandler {
	base := defaultLogger(logger)
	return &PhotoHandler{service: service, responder: newResponder(base), logger: base}
}

func (h *PhotoHandler) PutUserPhoto(w http.ResponseWriter, r *http.Request) {
	data, ok := h.readBody(w, r)
	if !ok {
		return
	}
	principal, _ := PrincipalFromContext(r.Context())
	user, err := h.service.PutUserPhoto(r.Context(), principal, data)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeData(r.Context(), w, http.StatusOK, userResponse{User: toUserDTO(user)})
}

func (h *PhotoHandler) GetUserPhoto(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())
	data, err := h.service.GetUserPhoto(r.Context(), principal)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.writeImage(w, r, data)
}

func (h *PhotoHandler) PutEventPhoto(w http.ResponseWriter, r *http.Request) {
	data, ok := h.readBody(w, r)
	if !ok {
		return
	}
	principal, _ := PrincipalFromContext(r.Context())
	event, err := h.service.PutEventPhoto(r.Context(), principal, chi.URLParam(r, "id"), data)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeData(r.Context(), w, http.StatusOK, map[string]any{"event": toEventDTO(event)})
}

func (h *PhotoHandler) GetEventPhoto(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())
	data, err := h.service.GetEventPhoto(r.Context(), principal, chi.URLParam(r, "id"))
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.writeImage(w, r, data)
}

func (h *PhotoHandler) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	if r.Body == nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return nil, false
	}
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPhotoBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.responder.writeError(r.Context(), w, http.StatusRequestEntityTooLarge, errPhotoTooLarge)
			return nil, false
		}
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return nil, false
	}
	return data, true
}

func (h *PhotoHandler) writeImage(w http.ResponseWriter, r *http.Request, data []byte) {
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		handlerLogger(r.Context(), h.logger, "PhotoHandler", "writeImage").WarnContext(r.Context(), "failed to write image", "error", err)
	}
}
