package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/example/eventhub/internal/persistence"
	"github.com/example/eventhub/internal/query"
)

const (
	maxTaglineLength = 100
	maxBioLength     = 1000
	maxInterests     = 20
)

// UserService manages profiles, favorites and administrative account changes.
type UserService struct {
	users  UserStore
	events EventReader
	now    func() time.Time
	logger *slog.Logger
}

// NewUserService wires dependencies for the user service.
func NewUserService(users UserStore, events EventReader, now func() time.Time) *UserService {
	return NewUserServiceWithLogger(users, events, now, nil)
}

// NewUserServiceWithLogger wires dependencies for the user service with a logger.
func NewUserServiceWithLogger(users UserStore, events EventReader, now func() time.Time, logger *slog.Logger) *UserService {
	if now == nil {
		now = time.Now
	}
	return &UserService{users: users, events: events, now: now, logger: defaultLogger(logger)}
}

func (s *UserService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "UserService", operation, attrs...)
}

func (s *UserService) ready() error {
	if s == nil {
		return fmt.Errorf("UserService is nil")
	}
	if s.users == nil {
		return fmt.Errorf("user repository not configured")
	}
	return nil
}

func (s *UserService) load(ctx context.Context, id string) (persistence.User, error) {
	user, err := s.users.GetUser(ctx, strings.TrimSpace(id))
	if err != nil {
		return persistence.User{}, mapRepoError(err, "user")
	}
	return user, nil
}

// GetMe returns the principal's own account.
func (s *UserService) GetMe(ctx context.Context, principal Principal) (persistence.User, error) {
	if err := s.ready(); err != nil {
		return persistence.User{}, err
	}
	if err := RequireAuthenticated(principal); err != nil {
		return persistence.User{}, err
	}
	return s.load(ctx, principal.UserID)
}

// UpdateMe applies the allow-listed profile fields. Password changes have
// their own route and are rejected here.
func (s *UserService) UpdateMe(ctx context.Context, principal Principal, input UpdateMeInput) (user persistence.User, err error) {
	if err = s.ready(); err != nil {
		return
	}

	logger := s.loggerWith(ctx, "UpdateMe", "principal_id", principal.UserID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to update profile", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "profile updated")
	}()

	if err = RequireAuthenticated(principal); err != nil {
		return
	}
	if input.PasswordProvided {
		err = invalid("password", "this route is not for password updates, please use /users/me/password")
		return
	}

	var stored persistence.User
	if stored, err = s.load(ctx, principal.UserID); err != nil {
		return
	}

	updated := stored
	if input.Name != nil {
		updated.Name = strings.TrimSpace(*input.Name)
		if updated.Name == "" {
			err = invalid("name", "please tell us your name")
			return
		}
	}
	if input.Email != nil {
		updated.Email = normalizeEmail(*input.Email)
		if err = validateEmail(updated.Email); err != nil {
			return
		}
	}
	if input.Tagline != nil {
		updated.Tagline = strings.TrimSpace(*input.Tagline)
		if utf8.RuneCountInString(updated.Tagline) > maxTaglineLength {
			err = invalidf("tagline", "a tagline must have at most %d characters", maxTaglineLength)
			return
		}
	}
	if input.Bio != nil {
		updated.Bio = strings.TrimSpace(*input.Bio)
		if utf8.RuneCountInString(updated.Bio) > maxBioLength {
			err = invalidf("bio", "a bio must have at most %d characters", maxBioLength)
			return
		}
	}
	if input.Interests != nil {
		updated.Interests = compactIDs(*input.Interests)
		if len(updated.Interests) > maxInterests {
			err = invalidf("interests", "you can list at most %d interests", maxInterests)
			return
		}
	}
	if input.PrivateFavorites != nil {
		updated.PrivateFavorites = *input.PrivateFavorites
	}
	updated.UpdatedAt = s.now()

	if err = s.users.UpdateUser(ctx, updated); err != nil {
		err = mapRepoError(err, "user")
		return
	}
	user = updated
	return
}

// DeactivateMe soft-deletes the principal's account.
func (s *UserService) DeactivateMe(ctx context.Context, principal Principal) (err error) {
	if err = s.ready(); err != nil {
		return
	}

	logger := s.loggerWith(ctx, "DeactivateMe", "principal_id", principal.UserID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to deactivate account", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "account deactivated")
	}()

	if err = RequireAuthenticated(principal); err != nil {
		return
	}
	var user persistence.User
	if user, err = s.load(ctx, principal.UserID); err != nil {
		return
	}
	user.Active = false
	user.UpdatedAt = s.now()
	err = mapRepoError(s.users.UpdateUser(ctx, user), "user")
	return
}

// AddFavorite appends an event to the principal's favorites. Adding an
// existing favorite is a no-op.
func (s *UserService) AddFavorite(ctx context.Context, principal Principal, eventID string) (persistence.User, error) {
	if err := s.ready(); err != nil {
		return persistence.User{}, err
	}
	if err := RequireAuthenticated(principal); err != nil {
		return persistence.User{}, err
	}
	if s.events == nil {
		return persistence.User{}, fmt.Errorf("event repository not configured")
	}

	eventID = strings.TrimSpace(eventID)
	event, err := s.events.GetEvent(ctx, eventID)
	if err != nil {
		return persistence.User{}, mapRepoError(err, "event")
	}
	if !CanViewEvent(principal, event) {
		return persistence.User{}, notFound("event")
	}

	user, err := s.load(ctx, principal.UserID)
	if err != nil {
		return persistence.User{}, err
	}
	for _, id := range user.Favorites {
		if id == eventID {
			return user, nil
		}
	}
	user.Favorites = append(user.Favorites, eventID)
	user.UpdatedAt = s.now()
	if err := s.users.UpdateUser(ctx, user); err != nil {
		return persistence.User{}, mapRepoError(err, "user")
	}
	s.loggerWith(ctx, "AddFavorite", "principal_id", principal.UserID, "event_id", eventID).InfoContext(ctx, "favorite added")
	return user, nil
}

// RemoveFavorite drops an event from the principal's favorites.
func (s *UserService) RemoveFavorite(ctx context.Context, principal Principal, eventID string) (persistence.User, error) {
	if err := s.ready(); err != nil {
		return persistence.User{}, err
	}
	if err := RequireAuthenticated(principal); err != nil {
		return persistence.User{}, err
	}

	user, err := s.load(ctx, principal.UserID)
	if err != nil {
		return persistence.User{}, err
	}
	eventID = strings.TrimSpace(eventID)
	kept := make([]string, 0, len(user.Favorites))
	for _, id := range user.Favorites {
		if id != eventID {
			kept = append(kept, id)
		}
	}
	if len(kept) == len(user.Favorites) {
		return user, nil
	}
	user.Favorites = kept
	user.UpdatedAt = s.now()
	if err := s.users.UpdateUser(ctx, user); err != nil {
		return persistence.User{}, mapRepoError(err, "user")
	}
	return user, nil
}

// GetFavorites lists a user's favorite events. Private lists are only shown
// to their owner and administrators.
func (s *UserService) GetFavorites(ctx context.Context, principal Principal, userID string) ([]persistence.Event, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if s.events == nil {
		return nil, fmt.Errorf("event repository not configured")
	}

	owner, err := s.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !owner.Active {
		return nil, notFound("user")
	}
	if owner.PrivateFavorites && !principal.IsAdmin() && principal.UserID != owner.ID {
		return nil, ErrForbidden
	}

	out := make([]persistence.Event, 0, len(owner.Favorites))
	for _, id := range owner.Favorites {
		event, err := s.events.GetEvent(ctx, id)
		if err != nil {
			if errors.Is(err, persistence.ErrNotFound) {
				continue
			}
			return nil, err
		}
		if CanViewEvent(principal, event) {
			out = append(out, event)
		}
	}
	return out, nil
}

// ListUsers returns accounts matching q. Administrators only.
func (s *UserService) ListUsers(ctx context.Context, principal Principal, q query.Query) (page query.Page[persistence.User], err error) {
	if err = s.ready(); err != nil {
		return
	}

	logger := s.loggerWith(ctx, "ListUsers", "principal_id", principal.UserID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to list users", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("count", len(page.Items), "total", page.Total).InfoContext(ctx, "users listed")
	}()

	if err = RequireAdmin(principal); err != nil {
		return
	}
	items, total, findErr := s.users.FindUsers(ctx, q)
	if findErr != nil {
		err = findErr
		return
	}
	page = query.NewPage(items, total, q.Pagination)
	return
}

// GetUser returns any account to an administrator.
func (s *UserService) GetUser(ctx context.Context, principal Principal, userID string) (persistence.User, error) {
	if err := s.ready(); err != nil {
		return persistence.User{}, err
	}
	if err := RequireAdmin(principal); err != nil {
		return persistence.User{}, err
	}
	return s.load(ctx, userID)
}

// UpdateUser lets an administrator change name, email, role and active state.
func (s *UserService) UpdateUser(ctx context.Context, principal Principal, userID string, input AdminUserUpdate) (user persistence.User, err error) {
	if err = s.ready(); err != nil {
		return
	}

	logger := s.loggerWith(ctx, "UpdateUser", "principal_id", principal.UserID, "user_id", userID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to update user", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "user updated")
	}()

	if err = RequireAdmin(principal); err != nil {
		return
	}

	var stored persistence.User
	if stored, err = s.load(ctx, userID); err != nil {
		return
	}
	updated := stored
	if input.Name != nil {
		if updated.Name = strings.TrimSpace(*input.Name); updated.Name == "" {
			err = invalid("name", "a user must have a name")
			return
		}
	}
	if input.Email != nil {
		updated.Email = normalizeEmail(*input.Email)
		if err = validateEmail(updated.Email); err != nil {
			return
		}
	}
	if input.Role != nil {
		switch *input.Role {
		case persistence.RoleUser, persistence.RoleAdmin:
			updated.Role = *input.Role
		default:
			err = invalidf("role", "role must be %q or %q", persistence.RoleUser, persistence.RoleAdmin)
			return
		}
	}
	if input.Active != nil {
		updated.Active = *input.Active
	}
	updated.UpdatedAt = s.now()

	if err = s.users.UpdateUser(ctx, updated); err != nil {
		err = mapRepoError(err, "user")
		return
	}
	user = updated
	return
}

// DeleteUser hard-deletes an account. Administrators only.
func (s *UserService) DeleteUser(ctx context.Context, principal Principal, userID string) error {
	if err := s.ready(); err != nil {
		return err
	}
	if err := RequireAdmin(principal); err != nil {
		return err
	}
	logger := s.loggerWith(ctx, "DeleteUser", "principal_id", principal.UserID, "user_id", userID)
	if err := s.users.DeleteUser(ctx, strings.TrimSpace(userID)); err != nil {
		err = mapRepoError(err, "user")
		logger.ErrorContext(ctx, "failed to delete user", "error", err, "error_kind", ErrorKind(err))
		return err
	}
	logger.InfoContext(ctx, "user deleted")
	return nil
}
