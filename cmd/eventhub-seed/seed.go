package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/example/eventhub/internal/application"
	"github.com/example/eventhub/internal/persistence"
	"github.com/example/eventhub/internal/persistence/sqlite"
)

// seedFile is the YAML document loaded by the seeder.
type seedFile struct {
	Users  []seedUser  `yaml:"users"`
	Events []seedEvent `yaml:"events"`
}

type seedUser struct {
	Name     string `yaml:"name"`
	Email    string `yaml:"email"`
	Password string `yaml:"password"`
	Role     string `yaml:"role"`
	Tagline  string `yaml:"tagline"`
}

type seedTier struct {
	Name             string  `yaml:"tierName"`
	Description      string  `yaml:"tierDescription"`
	Price            float64 `yaml:"price"`
	Online           bool    `yaml:"online"`
	Capacity         int     `yaml:"capacity"`
	LimitPerCustomer int     `yaml:"limitPerCustomer"`
}

type seedEvent struct {
	Name          string     `yaml:"name"`
	Type          string     `yaml:"type"`
	Category      string     `yaml:"category"`
	Description   string     `yaml:"description"`
	Organizer     string     `yaml:"organizer"`
	Start         time.Time  `yaml:"start"`
	End           time.Time  `yaml:"end"`
	Address       string     `yaml:"address"`
	Location      []float64  `yaml:"location"`
	TotalCapacity int        `yaml:"totalCapacity"`
	Tiers         []seedTier `yaml:"tiers"`
	Publish       string     `yaml:"publish"`
}

func decodeSeed(r io.Reader) (seedFile, error) {
	var file seedFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		if errors.Is(err, io.EOF) {
			return seedFile{}, nil
		}
		return seedFile{}, fmt.Errorf("decode seed file: %w", err)
	}
	return file, nil
}

func (e seedEvent) input() (application.EventInput, error) {
	input := application.EventInput{
		Name:          e.Name,
		Type:          e.Type,
		Category:      e.Category,
		Description:   e.Description,
		DateTimeStart: e.Start,
		DateTimeEnd:   e.End,
		Address:       e.Address,
		TotalCapacity: e.TotalCapacity,
	}
	if len(e.Location) > 0 {
		if len(e.Location) != 2 {
			return application.EventInput{}, fmt.Errorf("event %q: location must be [lon, lat]", e.Name)
		}
		input.Location = &persistence.GeoPoint{Lon: e.Location[0], Lat: e.Location[1]}
	}
	for _, tier := range e.Tiers {
		price, online := tier.Price, tier.Online
		input.TicketTiers = append(input.TicketTiers, application.TicketTierInput{
			Name:             tier.Name,
			Description:      tier.Description,
			Price:            &price,
			Online:           &online,
			Capacity:         tier.Capacity,
			LimitPerCustomer: tier.LimitPerCustomer,
		})
	}
	return input, nil
}

// seeder writes a seed file through the same services the API uses, so
// seeded events pass the usual validation.
type seeder struct {
	storage *sqlite.Storage
	events  *application.EventService
	hash    application.PasswordHasher
	now     func() time.Time
	logger  *slog.Logger
}

func newSeeder(storage *sqlite.Storage, hash application.PasswordHasher, now func() time.Time, logger *slog.Logger) *seeder {
	if now == nil {
		now = time.Now
	}
	return &seeder{
		storage: storage,
		events:  application.NewEventServiceWithLogger(storage.Events, storage.Bookings, nil, uuid.NewString, now, logger),
		hash:    hash,
		now:     now,
		logger:  logger,
	}
}

type seedReport struct {
	UsersCreated  int
	UsersSkipped  int
	EventsCreated int
}

func (s *seeder) apply(ctx context.Context, file seedFile) (seedReport, error) {
	var report seedReport

	for _, u := range file.Users {
		created, err := s.createUser(ctx, u)
		if err != nil {
			return report, err
		}
		if created {
			report.UsersCreated++
		} else {
			report.UsersSkipped++
		}
	}

	for _, e := range file.Events {
		organizer, err := s.storage.Users.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(e.Organizer)))
		if err != nil {
			return report, fmt.Errorf("event %q: organizer %q: %w", e.Name, e.Organizer, err)
		}
		principal := application.Principal{UserID: organizer.ID, Role: organizer.Role}

		input, err := e.input()
		if err != nil {
			return report, err
		}
		event, err := s.events.CreateEvent(ctx, principal, input)
		if err != nil {
			return report, fmt.Errorf("event %q: %w", e.Name, err)
		}
		if e.Publish != "" {
			if _, err := s.events.PublishEvent(ctx, principal, event.ID, application.PublishInput{FeePolicy: e.Publish}); err != nil {
				return report, fmt.Errorf("publish %q: %w", e.Name, err)
			}
		}
		report.EventsCreated++
	}
	return report, nil
}

// createUser stores u unless its email is taken already.
func (s *seeder) createUser(ctx context.Context, u seedUser) (bool, error) {
	email := strings.ToLower(strings.TrimSpace(u.Email))
	if _, err := s.storage.Users.GetUserByEmail(ctx, email); err == nil {
		s.logger.Info("user exists, skipping", "email", email)
		return false, nil
	} else if !errors.Is(err, persistence.ErrNotFound) {
		return false, err
	}

	role := persistence.RoleUser
	if u.Role != "" {
		role = persistence.Role(u.Role)
	}
	if role != persistence.RoleUser && role != persistence.RoleAdmin {
		return false, fmt.Errorf("user %s: unknown role %q", email, u.Role)
	}
	if len(u.Password) < 8 {
		return false, fmt.Errorf("user %s: password must have at least 8 characters", email)
	}
	hash, err := s.hash(u.Password)
	if err != nil {
		return false, err
	}

	now := s.now()
	err = s.storage.Users.CreateUser(ctx, persistence.User{
		ID:           uuid.NewString(),
		Name:         strings.TrimSpace(u.Name),
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		Active:       true,
		Tagline:      u.Tagline,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil {
		return false, fmt.Errorf("user %s: %w", email, err)
	}
	return true, nil
}
