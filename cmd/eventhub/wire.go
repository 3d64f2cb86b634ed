package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/example/eventhub/internal/application"
	"github.com/example/eventhub/internal/config"
	httptransport "github.com/example/eventhub/internal/http"
	"github.com/example/eventhub/internal/notify"
	"github.com/example/eventhub/internal/obs"
	"github.com/example/eventhub/internal/payment"
	"github.com/example/eventhub/internal/persistence/sqlite"
)

type apiDeps struct {
	Config  config.Config
	Storage *sqlite.Storage
	Mailer  application.Mailer
	Gateway application.PaymentGateway
	Blobs   application.BlobStore
	Logger  *slog.Logger
	Now     func() time.Time
}

// newAPI wires repositories, services and handlers into the router.
func newAPI(deps apiDeps) (http.Handler, error) {
	cfg, logger, now := deps.Config, deps.Logger, deps.Now
	if now == nil {
		now = time.Now
	}
	idGenerator := uuid.NewString
	storage := deps.Storage

	tokens, err := application.NewTokenIssuer(cfg.JWTSecret, cfg.JWTTTL, now)
	if err != nil {
		return nil, fmt.Errorf("token issuer: %w", err)
	}

	bookingService := application.NewBookingServiceWithLogger(storage.Bookings, storage.Events, deps.Mailer, idGenerator, now, logger)
	eventService := application.NewEventServiceWithLogger(storage.Events, storage.Bookings, bookingService, idGenerator, now, logger)
	authService := application.NewAuthServiceWithLogger(storage.Users, tokens, deps.Mailer, application.AuthOptions{
		ResetTTL: cfg.PasswordResetTTL,
	}, idGenerator, now, logger)
	userService := application.NewUserServiceWithLogger(storage.Users, storage.Events, now, logger)
	checkoutService := application.NewCheckoutServiceWithLogger(storage.Events, bookingService, deps.Gateway, deps.Mailer, application.CheckoutOptions{
		Currency:  cfg.Currency,
		ReturnURI: cfg.CheckoutReturnURL,
	}, idGenerator, now, logger)
	photoService := application.NewPhotoServiceWithLogger(deps.Blobs, storage.Users, storage.Events, now, logger)

	return httptransport.NewRouter(httptransport.RouterConfig{
		Auth:     httptransport.NewAuthHandler(authService, logger),
		Users:    httptransport.NewUserHandler(userService, logger),
		Events:   httptransport.NewEventHandler(eventService, bookingService, logger),
		Bookings: httptransport.NewBookingHandler(bookingService, logger),
		Checkout: httptransport.NewCheckoutHandler(checkoutService, logger),
		Photos:   httptransport.NewPhotoHandler(photoService, logger),
		Verifier: authService,
		Tracer:   obs.Tracer(),
		Logger:   logger,
	}), nil
}

// newMailer publishes mail jobs to RabbitMQ when a broker is configured and
// only logs them otherwise.
func newMailer(cfg config.Config, logger *slog.Logger) (application.Mailer, func(), error) {
	if cfg.AMQPURL == "" {
		logger.Warn("no message broker configured, mail jobs are only logged")
		return notify.NewLogMailer(logger), func() {}, nil
	}
	publisher, err := notify.NewPublisher(cfg.AMQPURL, cfg.MailExchange)
	if err != nil {
		return nil, nil, fmt.Errorf("connect mail broker: %w", err)
	}
	return publisher, func() {
		if err := publisher.Close(); err != nil {
			logger.Error("failed to close mail publisher", "error", err)
		}
	}, nil
}

// newPaymentGateway returns nil when no Omise keys are configured; only
// free checkouts succeed then.
func newPaymentGateway(cfg config.Config, logger *slog.Logger) (application.PaymentGateway, error) {
	if !cfg.PaymentsEnabled() {
		logger.Warn("payment processor not configured, paid checkout is disabled")
		return nil, nil
	}
	gateway, err := payment.NewOmise(cfg.OmisePublicKey, cfg.OmiseSecretKey, logger)
	if err != nil {
		return nil, fmt.Errorf("payment gateway: %w", err)
	}
	return gateway, nil
}
