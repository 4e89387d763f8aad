package devbackend

import (
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog/log"

	"github.com/GoPowerDNS-Admin/authsession/internal/config"
	"github.com/GoPowerDNS-Admin/authsession/internal/token"
)

const localsPrincipal = "principal"

// principal is the authenticated caller of a request.
type principal struct {
	user    config.DevUser
	session session
	// viaCookie is set when the session cookie, not a bearer token,
	// authenticated the request.
	viaCookie bool
}

// resolve authenticates the request by bearer token or session cookie. A
// cookie may carry a session id or, when restored by a client, an access
// token.
func (s *Server) resolve(c fiber.Ctx) (principal, error) {
	if raw, ok := strings.CutPrefix(c.Get(fiber.HeaderAuthorization), "Bearer "); ok && raw != "" {
		return s.fromToken(raw)
	}

	v := c.Cookies(s.cfg.CookieName)
	if v == "" {
		return principal{}, ErrUnknownSession
	}

	if token.Shaped(v) {
		p, err := s.fromToken(v)
		p.viaCookie = true

		return p, err
	}

	sess, err := s.sessions.get(v)
	if err != nil {
		return principal{}, err
	}

	return s.withUser(sess, true)
}

func (s *Server) fromToken(raw string) (principal, error) {
	claims, err := s.tokens.verify(raw)
	if err != nil {
		return principal{}, err
	}

	sess, err := s.sessions.get(claims.SessionID)
	if err != nil {
		return principal{}, err
	}

	return s.withUser(sess, false)
}

func (s *Server) withUser(sess session, viaCookie bool) (principal, error) {
	u, ok := s.users.lookup(sess.Username)
	if !ok {
		return principal{}, ErrUnknownSession
	}

	return principal{user: u, session: sess, viaCookie: viaCookie}, nil
}

func current(c fiber.Ctx) (principal, bool) {
	p, ok := c.Locals(localsPrincipal).(principal)
	return p, ok
}

// RequireAuthenticated rejects requests without a live session.
func (s *Server) RequireAuthenticated() fiber.Handler {
	return func(c fiber.Ctx) error {
		p, err := s.resolve(c)
		if err != nil {
			log.Debug().Err(err).Str("path", c.Path()).Msg("unauthenticated request")
			return fail(c, fiber.StatusUnauthorized, "session expired or invalid")
		}

		c.Locals(localsPrincipal, p)

		return c.Next()
	}
}

// RequirePermission creates middleware that requires a specific permission.
func (s *Server) RequirePermission(permission string) fiber.Handler {
	return s.RequireAnyPermission(permission)
}

// RequireAnyPermission creates middleware that requires at least one of the given permissions.
func (s *Server) RequireAnyPermission(permissions ...string) fiber.Handler {
	return func(c fiber.Ctx) error {
		p, err := s.resolve(c)
		if err != nil {
			return fail(c, fiber.StatusUnauthorized, "Unauthorized")
		}

		if !s.eval.HasAnyPermission(profile(p.user), permissions...) {
			log.Warn().Str("user", p.user.Username).Strs("permissions", permissions).
				Msg("User lacks required permissions")

			return fail(c, fiber.StatusForbidden, "Forbidden: You don't have permission to access this resource")
		}

		c.Locals(localsPrincipal, p)

		return c.Next()
	}
}
