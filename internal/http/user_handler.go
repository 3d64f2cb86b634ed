package http

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/example/eventhub/internal/application"
	"github.com/example/eventhub/internal/persistence"
	"github.com/example/eventhub/internal/query"
)

type userService interface {
	GetMe(ctx context.Context, principal application.Principal) (persistence.User, error)
	UpdateMe(ctx context.Context, principal application.Principal, input application.UpdateMeInput) (persistence.User, error)
	DeactivateMe(ctx context.Context, principal application.Principal) error
	AddFavorite(ctx context.Context, principal application.Principal, eventID string) (persistence.User, error)
	RemoveFavorite(ctx context.Context, principal application.Principal, eventID string) (persistence.User, error)
	GetFavorites(ctx context.Context, principal application.Principal, userID string) ([]persistence.Event, error)
	ListUsers(ctx context.Context, principal application.Principal, q query.Query) (query.Page[persistence.User], error)
	GetUser(ctx context.Context, principal application.Principal, userID string) (persistence.User, error)
	UpdateUser(ctx context.Context, principal application.Principal, userID string, input application.AdminUserUpdate) (persistence.User, error)
	DeleteUser(ctx context.Context, principal application.Principal, userID string) error
}

// UserHandler serves the signed-in user's profile and administrator account
// management.
type UserHandler struct {
	service   userService
	responder responder
	logger    *slog.Logger
}

func NewUserHandler(service userService, logger *slog.Logger) *UserHandler {
	base := defaultLogger(logger)
	return &UserHandler{service: service, responder: newResponder(base), logger: base}
}

func (h *UserHandler) writeUser(w http.ResponseWriter, r *http.Request, status int, user persistence.User) {
	h.responder.writeData(r.Context(), w, status, userResponse{User: toUserDTO(user)})
}

func (h *UserHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())
	user, err := h.service.GetMe(r.Context(), principal)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.writeUser(w, r, http.StatusOK, user)
}

func (h *UserHandler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	var req updateMeRequest
	if err := decodeJSON(r, &req); err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, err)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	user, err := h.service.UpdateMe(r.Context(), principal, req.toInput())
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.writeUser(w, r, http.StatusOK, user)
}

func (h *UserHandler) DeactivateMe(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())
	if err := h.service.DeactivateMe(r.Context(), principal); err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	clearTokenCookie(w)
	h.responder.writeJSON(r.Context(), w, http.StatusNoContent, nil)
}

func (h *UserHandler) AddFavorite(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())
	user, err := h.service.AddFavorite(r.Context(), principal, chi.URLParam(r, "eventId"))
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.writeUser(w, r, http.StatusOK, user)
}

func (h *UserHandler) RemoveFavorite(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())
	user, err := h.service.RemoveFavorite(r.Context(), principal, chi.URLParam(r, "eventId"))
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.writeUser(w, r, http.StatusOK, user)
}

func (h *UserHandler) GetFavorites(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())
	events, err := h.service.GetFavorites(r.Context(), principal, chi.URLParam(r, "id"))
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	items, err := project(toEventDTOs(events), nil)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	writeList(r.Context(), h.responder, w, query.NewPage(events, len(events), nil), items)
}

func (h *UserHandler) List(w http.ResponseWriter, r *http.Request) {
	q, err := query.Parse(r.URL.Query())
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	logger := handlerLogger(r.Context(), h.logger, "UserHandler", "List")
	page, err := h.service.ListUsers(r.Context(), principal, q)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	dtos := make([]userDTO, 0, len(page.Items))
	for _, user := range page.Items {
		dtos = append(dtos, toUserDTO(user))
	}
	items, err := project(dtos, q.Fields)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	logger.With("result_count", len(items)).DebugContext(r.Context(), "users listed")
	writeList(r.Context(), h.responder, w, page, items)
}

func (h *UserHandler) Get(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())
	user, err := h.service.GetUser(r.Context(), principal, chi.URLParam(r, "id"))
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.writeUser(w, r, http.StatusOK, user)
}

func (h *UserHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req adminUserRequest
	if err := decodeJSON(r, &req); err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, err)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	user, err := h.service.UpdateUser(r.Context(), principal, chi.URLParam(r, "id"), req.toInput())
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.writeUser(w, r, http.StatusOK, user)
}

func (h *UserHandler) Delete(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())
	if err := h.service.DeleteUser(r.Context(), principal, chi.URLParam(r, "id")); err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusNoContent, nil)
}

// updateMeRequest lists the self-service fields; anything else in the body
// is ignored.
type updateMeRequest struct {
	Name             *string   `json:"name"`
	Email            *string   `json:"email"`
	Tagline          *string   `json:"tagline"`
	Bio              *string   `json:"bio"`
	Interests        *[]string `json:"interests"`
	PrivateFavorites *bool     `json:"privateFavorites"`
	Password         *string   `json:"password"`
	PasswordConfirm  *string   `json:"passwordConfirm"`
}

func (r updateMeRequest) toInput() application.UpdateMeInput {
	return application.UpdateMeInput{
		Name:             r.Name,
		Email:            r.Email,
		Tagline:          r.Tagline,
		Bio:              r.Bio,
		Interests:        r.Interests,
		PrivateFavorites: r.PrivateFavorites,
		PasswordProvided: r.Password != nil || r.PasswordConfirm != nil,
	}
}

type adminUserRequest struct {
	Name   *string `json:"name"`
	Email  *string `json:"email"`
	Role   *string `json:"role"`
	Active *bool   `json:"active"`
}

func (r adminUserRequest) toInput() application.AdminUserUpdate {
	input := application.AdminUserUpdate{Name: r.Name, Email: r.Email, Active: r.Active}
	if r.Role != nil {
		role := persistence.Role(*r.Role)
		input.Role = &role
	}
	return input
}

type userResponse struct {
	User userDTO `json:"user"`
}
