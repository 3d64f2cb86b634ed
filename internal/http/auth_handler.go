package http

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/example/eventhub/internal/application"
)

type authService interface {
	Signup(ctx context.Context, params application.SignupParams) (application.AuthResult, error)
	Login(ctx context.Context, params application.LoginParams) (application.AuthResult, error)
	ForgotPassword(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, params application.ResetPasswordParams) (application.AuthResult, error)
	UpdatePassword(ctx context.Context, principal application.Principal, params application.UpdatePasswordParams) (application.AuthResult, error)
}

// AuthHandler serves signup, login and the password flows.
type AuthHandler struct {
	service   authService
	responder responder
	logger    *slog.Logger
}

func NewAuthHandler(service authService, logger *slog.Logger) *AuthHandler {
	base := defaultLogger(logger)
	return &AuthHandler{service: service, responder: newResponder(base), logger: base}
}

func (h *AuthHandler) log(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return handlerLogger(ctx, h.logger, "AuthHandler", operation, attrs...)
}

func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := decodeJSON(r, &req); err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, err)
		return
	}

	result, err := h.service.Signup(r.Context(), application.SignupParams{
		Name:            req.Name,
		Email:           req.Email,
		Password:        req.Password,
		PasswordConfirm: req.PasswordConfirm,
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.writeAuthResult(w, r, http.StatusCreated, result)
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, err)
		return
	}

	result, err := h.service.Login(r.Context(), application.LoginParams{Email: req.Email, Password: req.Password})
	if err != nil {
		h.log(r.Context(), "Login", "error_kind", application.ErrorKind(err)).WarnContext(r.Context(), "login rejected")
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.writeAuthResult(w, r, http.StatusOK, result)
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	clearTokenCookie(w)
	h.responder.writeData(r.Context(), w, http.StatusOK, nil)
}

func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := decodeJSON(r, &req); err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, err)
		return
	}

	if err := h.service.ForgotPassword(r.Context(), req.Email); err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, envelope{Status: statusSuccess, Message: "token sent to email"})
}

func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req passwordRequest
	if err := decodeJSON(r, &req); err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, err)
		return
	}

	result, err := h.service.ResetPassword(r.Context(), application.ResetPasswordParams{
		Token:           chi.URLParam(r, "token"),
		Password:        req.Password,
		PasswordConfirm: req.PasswordConfirm,
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.writeAuthResult(w, r, http.StatusOK, result)
}

func (h *AuthHandler) UpdatePassword(w http.ResponseWriter, r *http.Request) {
	var req passwordRequest
	if err := decodeJSON(r, &req); err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, err)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	result, err := h.service.UpdatePassword(r.Context(), principal, application.UpdatePasswordParams{
		CurrentPassword: req.PasswordCurrent,
		Password:        req.Password,
		PasswordConfirm: req.PasswordConfirm,
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.writeAuthResult(w, r, http.StatusOK, result)
}

func (h *AuthHandler) writeAuthResult(w http.ResponseWriter, r *http.Request, status int, result application.AuthResult) {
	setTokenCookie(w, result.Token, result.ExpiresAt)
	h.responder.writeData(r.Context(), w, status, authResponse{
		Token:     result.Token,
		ExpiresAt: formatTime(result.ExpiresAt),
		User:      toUserDTO(result.User),
	})
}

type signupRequest struct {
	Name            string `json:"name"`
	Email           string `json:"email"`
	Password        string `json:"password"`
	PasswordConfirm string `json:"passwordConfirm"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type passwordRequest struct {
	PasswordCurrent string `json:"passwordCurrent"`
	Password        string `json:"password"`
	PasswordConfirm string `json:"passwordConfirm"`
}

type authResponse struct {
	Token     string  `json:"token"`
	ExpiresAt string  `json:"expiresAt"`
	User      userDTO `json:"user"`
}
