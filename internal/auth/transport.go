package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

const maxResponseSize = 1 << 20

var validate = validator.New()

func misconfigured(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrProviderMisconfigured, fmt.Sprintf(format, args...))
}

// BackendError is a backend answer that was not a success.
type BackendError struct {
	Status  int
	Message string
	Errors  []string
	Err     error
}

func (e *BackendError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%v: %s", e.Err, e.Message)
	}

	return fmt.Sprintf("%v: status %d", e.Err, e.Status)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// flexString accepts JSON strings and numbers.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}

		*f = flexString(s)

		return nil
	}

	if string(b) == "null" {
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}

	*f = flexString(n.String())

	return nil
}

// userPayload is the user object of backend and userinfo answers.
type userPayload struct {
	ID                flexString `json:"id"`
	Sub               string     `json:"sub"`
	Username          string     `json:"username"`
	PreferredUsername string     `json:"preferred_username"`
	Email             string     `json:"email"`
	DisplayName       string     `json:"displayName"`
	Name              string     `json:"name"`
	Role              string     `json:"role"`
	Roles             []string   `json:"roles"`
	Permissions       []string   `json:"permissions"`
	Groups            []string   `json:"groups"`
	Department        string     `json:"department"`
	IsActive          *bool      `json:"isActive"`
	LastLoginAt       *time.Time `json:"lastLoginAt"`
}

func (p *userPayload) user() (*User, error) {
	u := &User{
		ID:          string(p.ID),
		Username:    p.Username,
		Email:       p.Email,
		DisplayName: p.DisplayName,
		Role:        p.Role,
		Permissions: p.Permissions,
		Groups:      p.Groups,
		Department:  p.Department,
		IsActive:    true,
		LastLoginAt: p.LastLoginAt,
	}

	if u.ID == "" {
		u.ID = p.Sub
	}

	if u.Username == "" {
		u.Username = p.PreferredUsername
	}

	if u.Username == "" {
		u.Username = p.Email
	}

	if u.DisplayName == "" {
		u.DisplayName = p.Name
	}

	if u.Role == "" && len(p.Roles) > 0 {
		u.Role = p.Roles[0]
	}

	if p.IsActive != nil {
		u.IsActive = *p.IsActive
	}

	if err := validate.Struct(u); err != nil {
		return nil, fmt.Errorf("%w: user: %w", ErrMalformedResponse, err)
	}

	return u, nil
}

// payload is the union of every backend answer shape.
type payload struct {
	Success       *bool        `json:"success"`
	Valid         *bool        `json:"valid"`
	Authenticated *bool        `json:"authenticated"`
	User          *userPayload `json:"user"`
	Token         string       `json:"token"`
	AccessToken   string       `json:"access_token"`
	Refresh       string       `json:"refreshToken"`
	RefreshSnake  string       `json:"refresh_token"`
	ExpiresIn     int64        `json:"expiresIn"`
	ExpiresSnake  int64        `json:"expires_in"`
	SessionID     string       `json:"sessionId"`
	CSRFToken     string       `json:"csrfToken"`
	Message       string       `json:"message"`
	Errors        []string     `json:"errors"`

	raw []byte
}

func (p *payload) ok() bool {
	for _, flag := range []*bool{p.Success, p.Valid, p.Authenticated} {
		if flag != nil {
			return *flag
		}
	}

	return true
}

func (p *payload) accessToken() string {
	if p.Token != "" {
		return p.Token
	}

	return p.AccessToken
}

func (p *payload) refreshToken() string {
	if p.Refresh != "" {
		return p.Refresh
	}

	return p.RefreshSnake
}

func (p *payload) expiresIn() time.Duration {
	s := p.ExpiresIn
	if s == 0 {
		s = p.ExpiresSnake
	}

	return time.Duration(s) * time.Second
}

// tokens converts a successful answer that may omit the user object.
func (p *payload) tokens() Result {
	res := Result{
		Success:      true,
		Token:        p.accessToken(),
		RefreshToken: p.refreshToken(),
		ExpiresIn:    p.expiresIn(),
		SessionID:    p.SessionID,
		CSRFToken:    p.CSRFToken,
		Message:      p.Message,
	}

	if p.User != nil {
		u, err := p.User.user()
		if err != nil {
			return failed(err)
		}

		res.User = u
	}

	return res
}

// profile returns the user of an answer that is either wrapped in a
// "user" field or is the bare user object (OIDC userinfo).
func (p *payload) profile() (*User, error) {
	if p.User != nil {
		return p.User.user()
	}

	var up userPayload
	if err := json.Unmarshal(p.raw, &up); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}

	return up.user()
}

// result converts a successful answer; the user object is mandatory.
func (p *payload) result() Result {
	if p.User == nil {
		return failed(fmt.Errorf("%w: no user in answer", ErrMalformedResponse))
	}

	u, err := p.User.user()
	if err != nil {
		return failed(err)
	}

	return Result{
		Success:      true,
		User:         u,
		Token:        p.accessToken(),
		RefreshToken: p.refreshToken(),
		ExpiresIn:    p.expiresIn(),
		SessionID:    p.SessionID,
		CSRFToken:    p.CSRFToken,
		Message:      p.Message,
	}
}

type request struct {
	method string
	path   string
	json   any
	form   url.Values
	bearer string
}

// backend is the JSON client shared by all providers.
type backend struct {
	base    *url.URL
	client  *http.Client
	headers func(ctx context.Context) map[string]string
}

func newBackend(baseURL string, env Environment) (*backend, error) {
	if baseURL == "" {
		return nil, misconfigured("base url is empty")
	}

	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, misconfigured("invalid base url %q", baseURL)
	}

	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}

	return &backend{base: u, client: env.Client, headers: env.Headers}, nil
}

func (b *backend) url(path string) string {
	ref, err := url.Parse(strings.TrimPrefix(path, "/"))
	if err != nil {
		return b.base.String() + path
	}

	if ref.IsAbs() {
		return ref.String()
	}

	return b.base.ResolveReference(ref).String()
}

func (b *backend) do(ctx context.Context, r request) (*payload, error) {
	var (
		body        io.Reader
		contentType string
	)

	switch {
	case r.form != nil:
		body = strings.NewReader(r.form.Encode())
		contentType = "application/x-www-form-urlencoded"
	case r.json != nil:
		raw, err := json.Marshal(r.json)
		if err != nil {
			return nil, err
		}

		body = bytes.NewReader(raw)
		contentType = "application/json"
	}

	req, err := http.NewRequestWithContext(ctx, r.method, b.url(r.path), body)
	if err != nil {
		return nil, misconfigured("build request: %v", err)
	}

	req.Header.Set("Accept", "application/json")

	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	for k, v := range b.headers(ctx) {
		if v != "" {
			req.Header.Set(k, v)
		}
	}

	if r.bearer != "" {
		req.Header.Set("Authorization", "Bearer "+r.bearer)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNetwork, err)
	}

	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %w", ErrNetwork, err)
	}

	p := payload{raw: raw}

	decodeErr := decode(raw, &p)

	switch {
	case resp.StatusCode >= http.StatusInternalServerError:
		return nil, &BackendError{Status: resp.StatusCode, Message: p.Message, Errors: p.Errors, Err: ErrNetwork}
	case resp.StatusCode >= http.StatusBadRequest:
		return nil, &BackendError{Status: resp.StatusCode, Message: p.Message, Errors: p.Errors, Err: ErrInvalidCredentials}
	case decodeErr != nil:
		return nil, fmt.Errorf("%w: %w", ErrMalformedResponse, decodeErr)
	case !p.ok():
		return nil, &BackendError{Status: resp.StatusCode, Message: p.Message, Errors: p.Errors, Err: ErrInvalidCredentials}
	}

	return &p, nil
}

func decode(raw []byte, p *payload) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}

	return json.Unmarshal(raw, p)
}

// failed converts a transport error into a Result, keeping backend messages.
func failed(err error) Result {
	res := Result{Err: err}

	var be *BackendError
	if errors.As(err, &be) {
		res.Message = be.Message
		res.Errors = be.Errors
	}

	if res.Message != "" {
		return res
	}

	switch {
	case errors.Is(err, ErrMalformedResponse):
		res.Message = "unexpected answer from authentication service"
	case Kind(err) == KindCredential:
		res.Message = "invalid credentials"
	case Kind(err) == KindNetwork:
		res.Message = "authentication service unavailable"
	default:
		res.Message = err.Error()
	}

	return res
}

// asExpired reclassifies a rejected session check as an expired session.
func asExpired(err error) error {
	if Kind(err) == KindCredential {
		return fmt.Errorf("%w: %w", ErrSessionExpired, err)
	}

	return err
}
