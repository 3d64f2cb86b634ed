package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/example/eventhub/internal/notify"
	"github.com/example/eventhub/internal/persistence"
)

// AuthOptions carries the tunables of the auth flows.
type AuthOptions struct {
	ResetTTL time.Duration
	Hasher   PasswordHasher
	Verifier PasswordVerifier
}

// AuthService coordinates signup, login, token verification and password
// management.
type AuthService struct {
	users          UserStore
	tokens         *TokenIssuer
	mailer         Mailer
	hashPassword   PasswordHasher
	verifyPassword PasswordVerifier
	resetTTL       time.Duration
	idGenerator    func() string
	now            func() time.Time
	logger         *slog.Logger
}

// NewAuthService constructs an AuthService with the provided dependencies.
func NewAuthService(users UserStore, tokens *TokenIssuer, mailer Mailer, opts AuthOptions, idGenerator func() string, now func() time.Time) *AuthService {
	return NewAuthServiceWithLogger(users, tokens, mailer, opts, idGenerator, now, nil)
}

// NewAuthServiceWithLogger constructs an AuthService with a specified logger.
func NewAuthServiceWithLogger(users UserStore, tokens *TokenIssuer, mailer Mailer, opts AuthOptions, idGenerator func() string, now func() time.Time, logger *slog.Logger) *AuthService {
	if opts.Hasher == nil {
		opts.Hasher = NewArgon2idHasher(DefaultArgon2idParams)
	}
	if opts.Verifier == nil {
		opts.Verifier = VerifyPassword
	}
	if opts.ResetTTL <= 0 {
		opts.ResetTTL = 10 * time.Minute
	}
	if idGenerator == nil {
		idGenerator = func() string { return "" }
	}
	if now == nil {
		now = time.Now
	}
	return &AuthService{
		users:          users,
		tokens:         tokens,
		mailer:         mailer,
		hashPassword:   opts.Hasher,
		verifyPassword: opts.Verifier,
		resetTTL:       opts.ResetTTL,
		idGenerator:    idGenerator,
		now:            now,
		logger:         defaultLogger(logger),
	}
}

func (s *AuthService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "AuthService", operation, attrs...)
}

func (s *AuthService) ready() error {
	if s == nil {
		return fmt.Errorf("AuthService is nil")
	}
	if s.users == nil {
		return fmt.Errorf("user repository not configured")
	}
	if s.tokens == nil {
		return fmt.Errorf("token issuer not configured")
	}
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validateEmail(email string) error {
	if email == "" {
		return invalid("email", "please provide your email")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return invalid("email", "please provide a valid email")
	}
	return nil
}

func (s *AuthService) issue(user persistence.User) (AuthResult, error) {
	token, expires, err := s.tokens.Issue(user)
	if err != nil {
		return AuthResult{}, err
	}
	return AuthResult{User: user, Token: token, ExpiresAt: expires}, nil
}

// Signup registers a regular user and signs them in.
func (s *AuthService) Signup(ctx context.Context, params SignupParams) (result AuthResult, err error) {
	if err = s.ready(); err != nil {
		return
	}

	email := normalizeEmail(params.Email)
	logger := s.loggerWith(ctx, "Signup", "email", email)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "signup failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("user_id", result.User.ID).InfoContext(ctx, "user signed up")
	}()

	name := strings.TrimSpace(params.Name)
	if name == "" {
		err = invalid("name", "please tell us your name")
		return
	}
	if err = validateEmail(email); err != nil {
		return
	}
	if err = validateNewPassword(params.Password, params.PasswordConfirm); err != nil {
		return
	}

	var hash string
	if hash, err = s.hashPassword(params.Password); err != nil {
		return
	}

	now := s.now()
	user := persistence.User{
		ID:           s.idGenerator(),
		Name:         name,
		Email:        email,
		PasswordHash: hash,
		Role:         persistence.RoleUser,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err = s.users.CreateUser(ctx, user); err != nil {
		err = mapRepoError(err, "user")
		if errors.Is(err, ErrAlreadyExists) {
			err = fmt.Errorf("%w: email already in use", ErrAlreadyExists)
		}
		return
	}

	if s.mailer != nil {
		msg := notify.Message{Template: notify.TemplateWelcome, To: user.Email, Data: map[string]any{"name": user.Name}}
		if sendErr := s.mailer.Send(ctx, msg); sendErr != nil {
			logger.WarnContext(ctx, "welcome mail not sent", "error", sendErr)
		}
	}

	result, err = s.issue(user)
	return
}

// Login verifies credentials. Unknown, inactive and mismatching accounts all
// fail with ErrInvalidCredentials.
func (s *AuthService) Login(ctx context.Context, params LoginParams) (result AuthResult, err error) {
	if err = s.ready(); err != nil {
		return
	}

	email := normalizeEmail(params.Email)
	logger := s.loggerWith(ctx, "Login", "email", email)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "login failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("user_id", result.User.ID).InfoContext(ctx, "user logged in")
	}()

	if email == "" || params.Password == "" {
		err = invalid("email", "please provide email and password")
		return
	}

	var user persistence.User
	user, err = s.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			err = ErrInvalidCredentials
		}
		return
	}
	if !user.Active {
		err = ErrInvalidCredentials
		return
	}
	if err = s.verifyPassword(user.PasswordHash, params.Password); err != nil {
		err = ErrInvalidCredentials
		return
	}

	result, err = s.issue(user)
	return
}

// PrincipalFromToken verifies a bearer token and resolves the acting user.
// Tokens issued before the last password change are rejected.
func (s *AuthService) PrincipalFromToken(ctx context.Context, token string) (principal Principal, err error) {
	if err = s.ready(); err != nil {
		return
	}

	logger := s.loggerWith(ctx, "PrincipalFromToken")
	defer func() {
		if err != nil {
			logger.WarnContext(ctx, "token rejected", "error", err, "error_kind", ErrorKind(err))
		}
	}()

	var claims TokenClaims
	if claims, err = s.tokens.Parse(strings.TrimSpace(token)); err != nil {
		err = fmt.Errorf("%w: %v", ErrUnauthenticated, err)
		return
	}

	var user persistence.User
	user, err = s.users.GetUser(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			err = fmt.Errorf("%w: the user of this token no longer exists", ErrUnauthenticated)
		}
		return
	}
	if !user.Active {
		err = fmt.Errorf("%w: account is deactivated", ErrUnauthenticated)
		return
	}
	if changed := user.PasswordChangedAt; changed != nil && changed.Truncate(time.Second).After(claims.IssuedAt) {
		err = fmt.Errorf("%w: password changed, please log in again", ErrUnauthenticated)
		return
	}

	principal = Principal{UserID: user.ID, Role: user.Role}
	return
}

// ForgotPassword stores a hashed reset token and mails the raw token. The
// token is cleared again when the mail cannot be sent.
func (s *AuthService) ForgotPassword(ctx context.Context, email string) (err error) {
	if err = s.ready(); err != nil {
		return
	}

	email = normalizeEmail(email)
	logger := s.loggerWith(ctx, "ForgotPassword", "email", email)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to start password reset", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "password reset token sent")
	}()

	if err = validateEmail(email); err != nil {
		return
	}

	var user persistence.User
	if user, err = s.users.GetUserByEmail(ctx, email); err != nil {
		err = mapRepoError(err, "user")
		return
	}

	raw := s.idGenerator()
	expires := s.now().Add(s.resetTTL)
	user.PasswordResetToken = hashResetToken(raw)
	user.PasswordResetExpires = &expires
	if err = s.users.UpdateUser(ctx, user); err != nil {
		err = mapRepoError(err, "user")
		return
	}

	if s.mailer == nil {
		err = upstream("mailer", errors.New("no mailer configured"))
	} else {
		err = s.mailer.Send(ctx, notify.Message{
			Template: notify.TemplatePasswordReset,
			To:       user.Email,
			Data: map[string]any{
				"name":      user.Name,
				"token":     raw,
				"expiresAt": expires.Format(time.RFC3339),
			},
		})
		if err != nil {
			err = upstream("mailer", err)
		}
	}
	if err != nil {
		user.PasswordResetToken = ""
		user.PasswordResetExpires = nil
		if clearErr := s.users.UpdateUser(ctx, user); clearErr != nil {
			logger.ErrorContext(ctx, "failed to clear reset token", "error", clearErr)
		}
	}
	return
}

// ResetPassword sets a new password using a mailed token and signs the user in.
func (s *AuthService) ResetPassword(ctx context.Context, params ResetPasswordParams) (result AuthResult, err error) {
	if err = s.ready(); err != nil {
		return
	}

	logger := s.loggerWith(ctx, "ResetPassword")
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "password reset failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("user_id", result.User.ID).InfoContext(ctx, "password reset")
	}()

	token := strings.TrimSpace(params.Token)
	if token == "" {
		err = invalid("token", "token is invalid or has expired")
		return
	}

	var user persistence.User
	user, err = s.users.GetUserByResetToken(ctx, hashResetToken(token))
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			err = invalid("token", "token is invalid or has expired")
		}
		return
	}
	now := s.now()
	if user.PasswordResetExpires == nil || !user.PasswordResetExpires.After(now) {
		err = invalid("token", "token is invalid or has expired")
		return
	}

	if user, err = s.setPassword(ctx, user, params.Password, params.PasswordConfirm); err != nil {
		return
	}
	result, err = s.issue(user)
	return
}

// UpdatePassword changes the principal's password after checking the current one.
func (s *AuthService) UpdatePassword(ctx context.Context, principal Principal, params UpdatePasswordParams) (result AuthResult, err error) {
	if err = s.ready(); err != nil {
		return
	}

	logger := s.loggerWith(ctx, "UpdatePassword", "principal_id", principal.UserID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "password update failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "password updated")
	}()

	if err = RequireAuthenticated(principal); err != nil {
		return
	}

	var user persistence.User
	if user, err = s.users.GetUser(ctx, principal.UserID); err != nil {
		err = mapRepoError(err, "user")
		return
	}
	if err = s.verifyPassword(user.PasswordHash, params.CurrentPassword); err != nil {
		err = ErrInvalidCredentials
		return
	}

	if user, err = s.setPassword(ctx, user, params.Password, params.PasswordConfirm); err != nil {
		return
	}
	result, err = s.issue(user)
	return
}

func (s *AuthService) setPassword(ctx context.Context, user persistence.User, password, confirm string) (persistence.User, error) {
	if err := validateNewPassword(password, confirm); err != nil {
		return persistence.User{}, err
	}
	hash, err := s.hashPassword(password)
	if err != nil {
		return persistence.User{}, err
	}

	now := s.now()
	// backdated so a token issued right after the change stays valid
	changed := now.Add(-time.Second)
	user.PasswordHash = hash
	user.PasswordChangedAt = &changed
	user.PasswordResetToken = ""
	user.PasswordResetExpires = nil
	user.UpdatedAt = now
	if err := s.users.UpdateUser(ctx, user); err != nil {
		return persistence.User{}, mapRepoError(err, "user")
	}
	return user, nil
}
