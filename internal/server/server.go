package server

import (
	"context"
	"errors"
	"log"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"

	"github.com/CarlosATO/flota-somyl-apps/internal/api"
	"github.com/CarlosATO/flota-somyl-apps/internal/config"
	"github.com/CarlosATO/flota-somyl-apps/internal/dispatch"
	"github.com/CarlosATO/flota-somyl-apps/internal/stream"
	"github.com/CarlosATO/flota-somyl-apps/internal/tracking"
)

// Remote is the slice of the dispatch backend the control surface talks to
// directly, outside the trip controller.
type Remote interface {
	Login(ctx context.Context, email, password string) (api.LoginResult, error)
	History(ctx context.Context) ([]api.Trip, error)
	Route(ctx context.Context, tripID string) ([]tracking.Sample, error)
}

// SessionStore persists the driver's login between restarts.
type SessionStore interface {
	SaveSession(ctx context.Context, token string, driver api.Driver) error
	Driver(ctx context.Context) (api.Driver, bool, error)
	Clear(ctx context.Context) error
}

// StatusSource reports the live tracking session.
type StatusSource interface {
	Status() tracking.Status
}

// Server is the agent's local control surface: the thin UI in the cab talks
// to these routes instead of the dispatch backend directly.
type Server struct {
	App      *fiber.App
	Cfg      config.Config
	Redis    *redis.Client
	Stream   *stream.Hub
	remote   Remote
	trips    *dispatch.Controller
	sessions SessionStore
	tracking StatusSource
}

func NewServer(cfg config.Config, remote Remote, trips *dispatch.Controller, sessions SessionStore, status StatusSource, redisClient *redis.Client) *Server {
	app := fiber.New()
	app.Use(recover.New())
	app.Use(logger.New())

	s := &Server{
		App:      app,
		Cfg:      cfg,
		Redis:    redisClient,
		Stream:   stream.NewHub(redisClient),
		remote:   remote,
		trips:    trips,
		sessions: sessions,
		tracking: status,
	}

	registerRoutes(s)
	return s
}

func registerRoutes(s *Server) {
	s.App.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	registerAuthRoutes(s.App.Group("/auth"), s)
	registerTripRoutes(s.App.Group("/trips"), s)
	registerSelectionRoutes(s.App.Group("/selection"), s)

	s.App.Post("/action", func(c *fiber.Ctx) error {
		pending, err := s.trips.TriggerPrimary()
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{"data": pending})
	})

	s.App.Get("/session", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"data": s.tracking.Status()})
	})

	stream.RegisterRoutes(s.App.Group("/stream"), s.Stream)
}

func registerAuthRoutes(r fiber.Router, s *Server) {
	r.Post("/login", func(c *fiber.Ctx) error {
		var body struct {
			Email    string `json:"email"`
			Password string `json:"password"`
		}
		if err := c.BodyParser(&body); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": "invalid body"})
		}
		if body.Email == "" || body.Password == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": "email and password are required"})
		}

		result, err := s.remote.Login(c.Context(), body.Email, body.Password)
		if err != nil {
			return respondError(c, err)
		}
		if err := s.sessions.SaveSession(c.Context(), result.Token, result.Driver); err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"message": "could not persist session"})
		}

		if err := s.trips.Refresh(c.Context()); err != nil {
			log.Printf("refresh after login: %v", err)
		}
		return c.JSON(fiber.Map{"message": "logged in", "data": result.Driver})
	})

	r.Post("/logout", func(c *fiber.Ctx) error {
		if err := s.sessions.Clear(c.Context()); err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"message": "could not clear session"})
		}
		return c.JSON(fiber.Map{"message": "logged out"})
	})

	r.Get("/me", func(c *fiber.Ctx) error {
		driver, ok, err := s.sessions.Driver(c.Context())
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"message": "session store unavailable"})
		}
		if !ok {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"message": "not logged in"})
		}
		return c.JSON(fiber.Map{"data": driver})
	})
}

func registerTripRoutes(r fiber.Router, s *Server) {
	r.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"data": s.trips.Trips()})
	})

	r.Get("/history", func(c *fiber.Ctx) error {
		trips, err := s.remote.History(c.Context())
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{"data": trips})
	})

	r.Post("/refresh", func(c *fiber.Ctx) error {
		if err := s.trips.Refresh(c.Context()); err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{"data": s.trips.Trips()})
	})

	r.Post("/start", func(c *fiber.Ctx) error {
		var form dispatch.StartForm
		if err := c.BodyParser(&form); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": "invalid body"})
		}
		result, err := s.trips.ConfirmStart(c.Context(), form)
		if err != nil {
			return respondError(c, err)
		}
		payload := fiber.Map{"evidence_key": result.EvidenceKey, "evidence_url": result.EvidenceURL}
		if result.EvidenceErr != nil {
			payload["evidence_error"] = result.EvidenceErr.Error()
		}
		if result.TrackingErr != nil {
			payload["tracking_error"] = result.TrackingErr.Error()
		}
		return c.JSON(fiber.Map{"message": "trip started", "data": payload})
	})

	r.Post("/finish", func(c *fiber.Ctx) error {
		var form dispatch.FinishForm
		if err := c.BodyParser(&form); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": "invalid body"})
		}
		if err := s.trips.ConfirmFinish(c.Context(), form); err != nil {
			return respondError(c, err)
		}
		s.Stream.Forget(form.TripID)
		return c.JSON(fiber.Map{"message": "trip finished"})
	})

	r.Get("/:tripID/route", func(c *fiber.Ctx) error {
		points, err := s.remote.Route(c.Context(), c.Params("tripID"))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{"data": points})
	})
}

func registerSelectionRoutes(r fiber.Router, s *Server) {
	r.Get("/", func(c *fiber.Ctx) error {
		sel, ok := s.trips.Selection()
		if !ok {
			return c.JSON(fiber.Map{"data": nil})
		}
		return c.JSON(fiber.Map{"data": sel})
	})

	// a second POST for the same trip clears the selection, like tapping
	// the highlighted card again
	r.Post("/:tripID", func(c *fiber.Ctx) error {
		if err := s.trips.SelectTrip(c.Params("tripID")); err != nil {
			return respondError(c, err)
		}
		sel, ok := s.trips.Selection()
		if !ok {
			return c.JSON(fiber.Map{"data": nil})
		}
		return c.JSON(fiber.Map{"data": sel})
	})

	r.Delete("/", func(c *fiber.Ctx) error {
		s.trips.ClearSelection()
		return c.JSON(fiber.Map{"message": "selection cleared"})
	})
}

// respondError maps controller and backend failures onto the local surface:
// validation stays 422, backend statuses pass through untouched so the UI
// shows the server's own message.
func respondError(c *fiber.Ctx, err error) error {
	var vErr *dispatch.ValidationError
	if errors.As(err, &vErr) {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"message": vErr.Error()})
	}
	var apiErr *api.Error
	if errors.As(err, &apiErr) {
		return c.Status(apiErr.Status).JSON(fiber.Map{"message": apiErr.Message})
	}
	switch {
	case errors.Is(err, dispatch.ErrNoSelection):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"message": "no trip selected"})
	case errors.Is(err, dispatch.ErrUnknownTrip):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"message": "unknown trip"})
	}
	return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"message": err.Error()})
}
