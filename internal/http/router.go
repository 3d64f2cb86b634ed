package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/trace"
)

// RouterConfig lists the handlers mounted under /api/v1. Nil handlers leave
// their routes unmounted.
type RouterConfig struct {
	Auth     *AuthHandler
	Users    *UserHandler
	Events   *EventHandler
	Bookings *BookingHandler
	Checkout *CheckoutHandler
	Photos   *PhotoHandler

	Verifier TokenVerifier
	Tracer   trace.Tracer
	Logger   *slog.Logger

	// Middleware runs after the built-in chain, before routing.
	Middleware []func(http.Handler) http.Handler
}

// NewRouter builds the API router. Every request is traced, logged and
// authenticated when a token is present; mutation routes additionally
// require a signed-in principal.
func NewRouter(cfg RouterConfig) http.Handler {
	logger := defaultLogger(cfg.Logger)
	responder := newResponder(logger)
	requireAuth := RequireAuth(logger)

	r := chi.NewRouter()
	r.Use(
		Trace(cfg.Tracer),
		RequestLogger(logger),
		middleware.Recoverer,
		Authenticate(cfg.Verifier, logger),
	)
	for _, mw := range cfg.Middleware {
		if mw != nil {
			r.Use(mw)
		}
	}

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		responder.writeError(req.Context(), w, http.StatusNotFound, errRouteNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		responder.writeError(req.Context(), w, http.StatusMethodNotAllowed, errMethodNotAllowed)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/users", func(r chi.Router) {
			if cfg.Auth != nil {
				r.Post("/signup", cfg.Auth.Signup)
				r.Post("/login", cfg.Auth.Login)
				r.Get("/logout", cfg.Auth.Logout)
				r.Post("/forgotPassword", cfg.Auth.ForgotPassword)
				r.Patch("/resetPassword/{token}", cfg.Auth.ResetPassword)
			}
			if cfg.Users != nil {
				r.Get("/{id}/favorites", cfg.Users.GetFavorites)
			}

			r.Group(func(r chi.Router) {
				r.Use(requireAuth)

				if cfg.Auth != nil {
					r.Patch("/me/password", cfg.Auth.UpdatePassword)
				}
				if cfg.Users != nil {
					r.Get("/me", cfg.Users.GetMe)
					r.Patch("/me", cfg.Users.UpdateMe)
					r.Delete("/me", cfg.Users.DeactivateMe)
					r.Post("/me/favorites/{eventId}", cfg.Users.AddFavorite)
					r.Delete("/me/favorites/{eventId}", cfg.Users.RemoveFavorite)

					r.Get("/", cfg.Users.List)
					r.Get("/{id}", cfg.Users.Get)
					r.Patch("/{id}", cfg.Users.Update)
					r.Delete("/{id}", cfg.Users.Delete)
				}
				if cfg.Events != nil {
					r.Get("/me/events", cfg.Events.MyEvents)
				}
				if cfg.Bookings != nil {
					r.Get("/me/bookings", cfg.Bookings.MyBookings)
					r.Get("/me/booked-events", cfg.Bookings.MyBookedEvents)
				}
				if cfg.Photos != nil {
					r.Put("/me/photo", cfg.Photos.PutUserPhoto)
					r.Get("/me/photo", cfg.Photos.GetUserPhoto)
				}
			})
		})

		r.Route("/events", func(r chi.Router) {
			if cfg.Events != nil {
				r.Get("/", cfg.Events.List)
				r.Get("/{id}", cfg.Events.Get)
			}
			if cfg.Checkout != nil {
				r.Post("/{id}/checkout", cfg.Checkout.Checkout)
			}
			if cfg.Photos != nil {
				r.Get("/{id}/photo", cfg.Photos.GetEventPhoto)
			}

			r.Group(func(r chi.Router) {
				r.Use(requireAuth)

				if cfg.Events != nil {
					r.Post("/", cfg.Events.Create)
					r.Patch("/{id}", cfg.Events.Update)
					r.Delete("/{id}", cfg.Events.Cancel)
					r.Patch("/{id}/publish", cfg.Events.Publish)
					r.Delete("/{id}/tickets/{ticketId}", cfg.Events.CancelTier)
					r.Get("/{id}/stats", cfg.Events.Stats)
					r.Get("/{id}/refund-requests", cfg.Events.RefundRequests)
				}
				if cfg.Photos != nil {
					r.Put("/{id}/photo", cfg.Photos.PutEventPhoto)
				}
			})
		})

		if cfg.Bookings != nil {
			r.Route("/bookings", func(r chi.Router) {
				r.Use(requireAuth)

				r.Get("/", cfg.Bookings.List)
				r.Post("/", cfg.Bookings.Create)
				r.Post("/refund-requests", cfg.Bookings.RequestRefund)
				r.Patch("/refund-requests/{requestId}", cfg.Bookings.ResolveRefund)
				r.Patch("/refund-requests/{requestId}/processed", cfg.Bookings.MarkRefundProcessed)
				r.Get("/{id}", cfg.Bookings.Get)
				r.Delete("/{id}", cfg.Bookings.Delete)
			})
		}

		if cfg.Checkout != nil {
			r.Post("/webhooks/payment", cfg.Checkout.PaymentWebhook)
		}
	})

	return r
}
