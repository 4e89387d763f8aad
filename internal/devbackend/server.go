// Package devbackend is a development authentication backend. It speaks the
// wire formats of every provider (session cookie, LDAP proxy, OAuth2 code
// flow, SAML POST binding and JWT) against the users of the config file and
// keeps all state in memory.
package devbackend

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v3"
	recoverer "github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/rs/zerolog/log"

	"github.com/GoPowerDNS-Admin/authsession/internal/auth"
	"github.com/GoPowerDNS-Admin/authsession/internal/config"
	"github.com/GoPowerDNS-Admin/authsession/internal/logger"
	accesslog "github.com/GoPowerDNS-Admin/authsession/internal/logger/adapter/fiber"
	"github.com/GoPowerDNS-Admin/authsession/internal/nonce"
)

// ShutdownTimeout bounds the graceful shutdown of the listener.
const ShutdownTimeout = 5 * time.Second

// secretLength is the size of a generated signing key.
const secretLength = 48

// Server represents the dev backend service.
type Server struct {
	App      *fiber.App
	cfg      config.DevBackend
	users    *directory
	sessions *sessions
	tokens   *issuer
	codes    *codes
	eval     *auth.Evaluator
	now      func() time.Time
}

// New creates the dev backend. Permission checks of the admin endpoints
// use roles.
func New(cfg config.DevBackend, roles auth.RoleTable, logCfg logger.Log) (*Server, error) {
	return newServer(cfg, roles, logCfg, time.Now)
}

func newServer(cfg config.DevBackend, roles auth.RoleTable, logCfg logger.Log, now func() time.Time) (*Server, error) {
	secret := cfg.Secret
	if secret == "" {
		generated, err := nonce.New(secretLength)
		if err != nil {
			return nil, err //nolint:wrapcheck
		}

		log.Warn().Msg("dev backend secret is empty: using a random signing key, tokens do not survive a restart")

		secret = generated
	}

	s := &Server{
		cfg:      cfg,
		users:    newDirectory(cfg.Users),
		sessions: newSessions(cfg.RefreshTTL, now),
		tokens:   &issuer{secret: []byte(secret), ttl: cfg.TokenTTL, now: now},
		codes:    newCodes(now),
		eval:     auth.NewEvaluator(roles),
		now:      now,
	}

	views, err := newViews()
	if err != nil {
		return nil, err
	}

	app := fiber.New(
		fiber.Config{
			AppName:       "authsession-devbackend",
			CaseSensitive: true,
			ErrorHandler:  errorHandler,
			Views:         views,
		},
	)

	app.Use(recoverer.New())
	app.Use(accesslog.New(accesslog.Config{Config: logCfg, SkipPaths: []string{HealthPath}}))

	s.App = app
	s.routes()

	return s, nil
}

// Start serves until ctx is cancelled, then shuts the listener down.
func (s *Server) Start(ctx context.Context) error {
	errc := make(chan error, 1)

	go func() {
		errc <- s.App.Listen(s.cfg.Listen, fiber.ListenConfig{DisableStartupMessage: true})
	}()

	log.Info().Str("listen", s.cfg.Listen).Int("users", len(s.cfg.Users)).Msg("dev backend started")

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}

		return err //nolint:wrapcheck
	case <-ctx.Done():
	}

	log.Info().Msg("stopping dev backend ...")

	if err := s.App.ShutdownWithTimeout(ShutdownTimeout); err != nil {
		return err //nolint:wrapcheck
	}

	log.Info().Msg("dev backend was stopped")

	return nil
}

// errorHandler answers every error in the shape the providers decode.
func errorHandler(c fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError

	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}

	if code >= fiber.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.Path()).Msg("dev backend request failed")
	}

	return c.Status(code).JSON(authResponse{Message: err.Error()})
}
