package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/example/eventhub/internal/blob"
	"github.com/example/eventhub/internal/persistence"
)

// PhotoService stores event and profile photos in the blob store and
// records their keys on the owning aggregate.
type PhotoService struct {
	blobs  BlobStore
	users  UserStore
	events EventStore
	now    func() time.Time
	logger *slog.Logger
}

// NewPhotoService wires dependencies for the photo service.
func NewPhotoService(blobs BlobStore, users UserStore, events EventStore, now func() time.Time) *PhotoService {
	return NewPhotoServiceWithLogger(blobs, users, events, now, nil)
}

// NewPhotoServiceWithLogger wires dependencies for the photo service with a logger.
func NewPhotoServiceWithLogger(blobs BlobStore, users UserStore, events EventStore, now func() time.Time, logger *slog.Logger) *PhotoService {
	if now == nil {
		now = time.Now
	}
	return &PhotoService{blobs: blobs, users: users, events: events, now: now, logger: defaultLogger(logger)}
}

func (s *PhotoService) ready() error {
	if s == nil {
		return fmt.Errorf("PhotoService is nil")
	}
	if s.blobs == nil || s.users == nil || s.events == nil {
		return fmt.Errorf("photo dependencies not configured")
	}
	return nil
}

func checkJPEG(data []byte) error {
	if len(data) == 0 {
		return invalid("photo", "please upload a photo")
	}
	if http.DetectContentType(data) != "image/jpeg" {
		return invalid("photo", "photos must be JPEG images")
	}
	return nil
}

func (s *PhotoService) get(ctx context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, notFound("photo")
	}
	data, err := s.blobs.Get(ctx, key)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			return nil, notFound("photo")
		}
		return nil, err
	}
	return data, nil
}

// PutUserPhoto stores the principal's profile photo.
func (s *PhotoService) PutUserPhoto(ctx context.Context, principal Principal, data []byte) (user persistence.User, err error) {
	if err = s.ready(); err != nil {
		return
	}

	logger := serviceLogger(ctx, s.logger, "PhotoService", "PutUserPhoto", "principal_id", principal.UserID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to store profile photo", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("key", user.Photo).InfoContext(ctx, "profile photo stored")
	}()

	if err = RequireAuthenticated(principal); err != nil {
		return
	}
	if err = checkJPEG(data); err != nil {
		return
	}
	var stored persistence.User
	if stored, err = s.users.GetUser(ctx, principal.UserID); err != nil {
		err = mapRepoError(err, "user")
		return
	}

	key := blob.Key(blob.CollectionUsers, stored.ID)
	if err = s.blobs.Put(ctx, key, data); err != nil {
		return
	}
	stored.Photo = key
	stored.UpdatedAt = s.now()
	if err = s.users.UpdateUser(ctx, stored); err != nil {
		err = mapRepoError(err, "user")
		return
	}
	user = stored
	return
}

// GetUserPhoto returns the principal's profile photo.
func (s *PhotoService) GetUserPhoto(ctx context.Context, principal Principal) ([]byte, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if err := RequireAuthenticated(principal); err != nil {
		return nil, err
	}
	user, err := s.users.GetUser(ctx, principal.UserID)
	if err != nil {
		return nil, mapRepoError(err, "user")
	}
	return s.get(ctx, user.Photo)
}

// PutEventPhoto stores the cover photo of an event the principal manages.
func (s *PhotoService) PutEventPhoto(ctx context.Context, principal Principal, eventID string, data []byte) (event persistence.Event, err error) {
	if err = s.ready(); err != nil {
		return
	}

	logger := serviceLogger(ctx, s.logger, "PhotoService", "PutEventPhoto", "principal_id", principal.UserID, "event_id", eventID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to store event photo", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("key", event.Photo).InfoContext(ctx, "event photo stored")
	}()

	if err = RequireAuthenticated(principal); err != nil {
		return
	}
	var stored persistence.Event
	if stored, err = s.events.GetEvent(ctx, eventID); err != nil {
		err = mapRepoError(err, "event")
		return
	}
	if err = AuthorizeEventMutation(principal, stored); err != nil {
		return
	}
	if err = checkJPEG(data); err != nil {
		return
	}

	key := blob.Key(blob.CollectionEvents, stored.ID)
	if err = s.blobs.Put(ctx, key, data); err != nil {
		return
	}
	stored.Photo = key
	stored.UpdatedAt = s.now()
	if err = s.events.SaveEvent(ctx, stored); err != nil {
		err = mapRepoError(err, "event")
		return
	}
	stored.Version++
	event = stored
	return
}

// GetEventPhoto returns the cover photo of an event visible to the principal.
func (s *PhotoService) GetEventPhoto(ctx context.Context, principal Principal, eventID string) ([]byte, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	event, err := s.events.GetEvent(ctx, eventID)
	if err != nil {
		return nil, mapRepoError(err, "event")
	}
	if !CanViewEvent(principal, event) {
		return nil, ErrForbidden
	}
	return s.get(ctx, event.Photo)
}
