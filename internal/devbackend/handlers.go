package devbackend

import (
	"net/url"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog/log"

	"github.com/GoPowerDNS-Admin/authsession/internal/auth"
	"github.com/GoPowerDNS-Admin/authsession/internal/csrf"
	"github.com/GoPowerDNS-Admin/authsession/internal/nonce"
)

// Routes served besides the provider default paths.
const (
	HealthPath    = "/healthz"
	AuthorizePath = "/oauth2/authorize"
	TokenPath     = "/oauth2/token"
	DonePath      = "/oauth2/done"
	SSOPath       = "/saml/sso"
	SessionsPath  = "/auth/sessions"
	RevokePath    = "/auth/sessions/revoke"
)

// Login sources recorded on sessions.
const (
	providerLDAP     = "ldap"
	providerPassword = "password"
)

// authResponse is the answer shape every provider decodes.
type authResponse struct {
	Success      bool       `json:"success"`
	User         *auth.User `json:"user,omitempty"`
	Token        string     `json:"token,omitempty"`
	RefreshToken string     `json:"refreshToken,omitempty"`
	ExpiresIn    int64      `json:"expiresIn,omitempty"`
	SessionID    string     `json:"sessionId,omitempty"`
	CSRFToken    string     `json:"csrfToken,omitempty"`
	Message      string     `json:"message,omitempty"`
}

// tokenResponse is the RFC 6749 token endpoint answer.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresIn    int64  `json:"expires_in"`
}

type loginRequest struct {
	Username string `json:"username" form:"username"`
	Password string `json:"password" form:"password"`
	OTP      string `json:"otp" form:"otp"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken" form:"refresh_token"`
}

type callbackRequest struct {
	Code        string `json:"code" form:"code"`
	State       string `json:"state" form:"state"`
	RedirectURI string `json:"redirectUri" form:"redirect_uri"`
}

type revokeRequest struct {
	Username  string `json:"username" form:"username"`
	SessionID string `json:"sessionId" form:"sessionId"`
}

func (s *Server) routes() {
	s.App.Get("/", s.index)
	s.App.Get(HealthPath, func(c fiber.Ctx) error {
		return c.SendString("OK")
	})

	s.App.Post(auth.DefaultLoginPath, s.login(providerPassword))
	s.App.Post(auth.DefaultLDAPLoginPath, s.login(providerLDAP))
	s.App.Get(auth.DefaultCheckPath, s.RequireAuthenticated(), s.checkSession)
	s.App.Get(auth.DefaultMePath, s.RequireAuthenticated(), s.checkSession)
	s.App.Post(auth.DefaultRefreshPath, s.refresh)
	s.App.Post(auth.DefaultLogoutPath, s.logout)
	s.App.Post(auth.DefaultOAuth2CallbackPath, s.oauth2Callback)
	s.App.Post(auth.DefaultSAMLACSPath, s.samlACS)
	s.App.Get(SessionsPath, s.RequirePermission(auth.PermUsuariosView), s.listSessions)
	s.App.Post(RevokePath, s.RequirePermission(auth.PermSistemaAdmin), s.revokeSessions)

	s.App.Get(AuthorizePath, s.authorize)
	s.App.Post(TokenPath, s.token)
	s.App.Get(auth.DefaultUserInfoPath, s.RequireAuthenticated(), s.userInfo)
	s.App.Get(DonePath, s.done)
	s.App.Get(SSOPath, s.samlSSO)
}

func fail(c fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(authResponse{Message: message})
}

// bind parses an optional request body.
func bind(c fiber.Ctx, out any) error {
	if len(c.Body()) == 0 {
		return nil
	}

	if err := c.Bind().Body(out); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "malformed request body")
	}

	return nil
}

// index serves a page carrying the csrf meta tag.
func (s *Server) index(c fiber.Ctx) error {
	var tok, user string
	if p, err := s.resolve(c); err == nil {
		tok, user = p.session.CSRFToken, p.user.Username
	}

	if tok == "" {
		generated, err := nonce.Token()
		if err != nil {
			return err //nolint:wrapcheck
		}

		tok = generated
	}

	return c.Render("index", fiber.Map{
		"Title":    "authsession dev backend",
		"MetaName": csrf.DefaultMetaName,
		"Token":    tok,
		"User":     user,
	})
}

func (s *Server) login(provider string) fiber.Handler {
	return func(c fiber.Ctx) error {
		var req loginRequest
		if err := bind(c, &req); err != nil {
			return err
		}

		u, err := s.users.verify(req.Username, req.Password, req.OTP)
		if err != nil {
			log.Info().Err(err).Str("user", req.Username).Str("provider", provider).Msg("login rejected")
			return fail(c, fiber.StatusUnauthorized, err.Error())
		}

		return s.startSession(c, u.Username, provider)
	}
}

// startSession creates a session for username, sets the session cookie and
// answers with the token pair.
func (s *Server) startSession(c fiber.Ctx, username, provider string) error {
	u, ok := s.users.lookup(username)
	if !ok {
		return fail(c, fiber.StatusUnauthorized, ErrInvalidCredentials.Error())
	}

	sess, err := s.sessions.create(u.Username, provider)
	if err != nil {
		return err
	}

	access, err := s.tokens.issue(u, sess.ID)
	if err != nil {
		return err
	}

	c.Cookie(&fiber.Cookie{
		Name:     s.cfg.CookieName,
		Value:    sess.ID,
		Path:     "/",
		Expires:  sess.ExpiresAt,
		HTTPOnly: true,
		SameSite: fiber.CookieSameSiteLaxMode,
	})

	now := s.now()
	user := profile(u)
	user.LastLoginAt = &now

	log.Info().Str("user", u.Username).Str("provider", provider).Str("session", sess.ID).Msg("session started")

	return c.JSON(authResponse{
		Success:      true,
		User:         user,
		Token:        access,
		RefreshToken: sess.RefreshToken,
		ExpiresIn:    s.tokens.expiresIn(),
		SessionID:    sess.ID,
		CSRFToken:    sess.CSRFToken,
	})
}

func (s *Server) checkSession(c fiber.Ctx) error {
	p, _ := current(c)

	return c.JSON(authResponse{
		Success:   true,
		User:      profile(p.user),
		ExpiresIn: int64(p.session.ExpiresAt.Sub(s.now()) / time.Second),
		SessionID: p.session.ID,
		CSRFToken: p.session.CSRFToken,
	})
}

// refresh rotates a refresh token or, without one, extends the cookie session.
func (s *Server) refresh(c fiber.Ctx) error {
	var req refreshRequest
	if err := bind(c, &req); err != nil {
		return err
	}

	if req.RefreshToken == "" {
		return s.extend(c)
	}

	sess, err := s.sessions.rotate(req.RefreshToken)
	if err != nil {
		return fail(c, fiber.StatusUnauthorized, err.Error())
	}

	p, err := s.withUser(sess, false)
	if err != nil {
		return fail(c, fiber.StatusUnauthorized, err.Error())
	}

	access, err := s.tokens.issue(p.user, sess.ID)
	if err != nil {
		return err
	}

	return c.JSON(authResponse{
		Success:      true,
		User:         profile(p.user),
		Token:        access,
		RefreshToken: sess.RefreshToken,
		ExpiresIn:    s.tokens.expiresIn(),
		SessionID:    sess.ID,
	})
}

func (s *Server) extend(c fiber.Ctx) error {
	p, err := s.resolve(c)
	if err != nil {
		return fail(c, fiber.StatusUnauthorized, err.Error())
	}

	if err = checkCSRF(c, p); err != nil {
		return err
	}

	sess, err := s.sessions.extend(p.session.ID)
	if err != nil {
		return fail(c, fiber.StatusUnauthorized, err.Error())
	}

	return c.JSON(authResponse{
		Success:   true,
		User:      profile(p.user),
		ExpiresIn: int64(sess.ExpiresAt.Sub(s.now()) / time.Second),
		SessionID: sess.ID,
		CSRFToken: sess.CSRFToken,
	})
}

// checkCSRF rejects cookie authenticated requests whose csrf header does
// not match the session. Requests without the header pass.
func checkCSRF(c fiber.Ctx, p principal) error {
	got := c.Get(csrf.HeaderToken)
	if !p.viaCookie || got == "" || got == p.session.CSRFToken {
		return nil
	}

	return fiber.NewError(fiber.StatusForbidden, "csrf token mismatch")
}

// logout ends the session named by the refresh token, bearer token or
// cookie. It always succeeds.
func (s *Server) logout(c fiber.Ctx) error {
	var req refreshRequest
	if err := bind(c, &req); err != nil {
		return err
	}

	if req.RefreshToken != "" && s.sessions.revokeRefresh(req.RefreshToken) {
		log.Info().Msg("session ended by refresh token")
	} else if p, err := s.resolve(c); err == nil {
		if err = checkCSRF(c, p); err != nil {
			return err
		}

		s.sessions.revoke(p.session.ID)
		log.Info().Str("user", p.user.Username).Str("session", p.session.ID).Msg("session ended")
	}

	c.ClearCookie(s.cfg.CookieName)

	return c.JSON(authResponse{Success: true, Message: "logged out"})
}

func (s *Server) oauth2Callback(c fiber.Ctx) error {
	var req callbackRequest
	if err := bind(c, &req); err != nil {
		return err
	}

	if req.Code == "" {
		return fail(c, fiber.StatusBadRequest, "missing authorization code")
	}

	g, err := s.codes.consume(req.Code, req.RedirectURI)
	if err != nil {
		return fail(c, fiber.StatusUnauthorized, err.Error())
	}

	return s.startSession(c, g.username, string(auth.ProviderOAuth2))
}

// authorize is the dev identity provider authorization endpoint. It
// approves the user named by login_hint, or username, without a prompt.
func (s *Server) authorize(c fiber.Ctx) error {
	redirect, err := url.Parse(c.Query("redirect_uri"))
	if err != nil || redirect.String() == "" {
		return fail(c, fiber.StatusBadRequest, "invalid redirect_uri")
	}

	q := redirect.Query()
	q.Set("state", c.Query("state"))

	username := c.Query("login_hint", c.Query("username"))

	if u, ok := s.users.lookup(username); !ok {
		q.Set("error", "access_denied")
		q.Set("error_description", "unknown user "+username)
	} else {
		code, errIssue := s.codes.issue(u.Username, redirect.String())
		if errIssue != nil {
			return errIssue
		}

		q.Set("code", code)
	}

	redirect.RawQuery = q.Encode()

	return c.Redirect().Status(fiber.StatusFound).To(redirect.String())
}

// done is a redirect target for clients without their own callback page.
func (s *Server) done(c fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"code":     c.Query("code"),
		"state":    c.Query("state"),
		"error":    c.Query("error"),
		"location": c.BaseURL() + c.OriginalURL(),
	})
}

// token is the RFC 6749 token endpoint for the code and refresh grants.
func (s *Server) token(c fiber.Ctx) error {
	var (
		sess session
		err  error
	)

	switch c.FormValue("grant_type") {
	case "refresh_token":
		sess, err = s.sessions.rotate(c.FormValue("refresh_token"))
	case "authorization_code":
		var g grant

		g, err = s.codes.consume(c.FormValue("code"), c.FormValue("redirect_uri"))
		if err == nil {
			sess, err = s.sessions.create(g.username, string(auth.ProviderOAuth2))
		}
	default:
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "unsupported_grant_type"})
	}

	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_grant", "error_description": err.Error()})
	}

	p, err := s.withUser(sess, false)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_grant"})
	}

	access, err := s.tokens.issue(p.user, sess.ID)
	if err != nil {
		return err
	}

	return c.JSON(tokenResponse{
		AccessToken:  access,
		TokenType:    "Bearer",
		RefreshToken: sess.RefreshToken,
		ExpiresIn:    s.tokens.expiresIn(),
	})
}

// userInfo answers with the bare user object.
func (s *Server) userInfo(c fiber.Ctx) error {
	p, _ := current(c)
	return c.JSON(profile(p.user))
}

// samlSSO is the dev identity provider SSO endpoint. It issues an
// assertion for username without a prompt.
func (s *Server) samlSSO(c fiber.Ctx) error {
	u, ok := s.users.lookup(c.Query("username"))
	if !ok {
		return fail(c, fiber.StatusNotFound, "unknown user")
	}

	value, err := encodeAssertion(u.Username, s.now())
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"SAMLResponse": value,
		"RelayState":   c.Query("RelayState"),
	})
}

func (s *Server) samlACS(c fiber.Ctx) error {
	nameID, err := decodeAssertion(c.FormValue("SAMLResponse"), s.now())
	if err != nil {
		log.Info().Err(err).Msg("assertion rejected")
		return fail(c, fiber.StatusUnauthorized, err.Error())
	}

	return s.startSession(c, nameID, string(auth.ProviderSAML))
}

func (s *Server) listSessions(c fiber.Ctx) error {
	return c.JSON(fiber.Map{"sessions": s.sessions.list()})
}

// revokeSessions ends a single session or every session of a user.
func (s *Server) revokeSessions(c fiber.Ctx) error {
	var req revokeRequest
	if err := bind(c, &req); err != nil {
		return err
	}

	n := 0

	switch {
	case req.SessionID != "":
		if s.sessions.revoke(req.SessionID) {
			n = 1
		}
	case req.Username != "":
		n = s.sessions.revokeUser(req.Username)
	default:
		return fail(c, fiber.StatusBadRequest, "username or sessionId required")
	}

	p, _ := current(c)
	log.Info().Str("by", p.user.Username).Str("user", req.Username).Int("revoked", n).Msg("sessions revoked")

	return c.JSON(fiber.Map{"success": true, "revoked": n})
}
