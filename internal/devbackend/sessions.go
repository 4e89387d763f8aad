package devbackend

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/GoPowerDNS-Admin/authsession/internal/nonce"
)

// ErrUnknownSession is returned for expired, revoked or never issued sessions.
var ErrUnknownSession = errors.New("unknown or expired session")

// session is one backend login. It is handed out by value.
type session struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Provider     string    `json:"provider"`
	CSRFToken    string    `json:"-"`
	RefreshToken string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// sessions is the in-memory session table.
type sessions struct {
	mu        sync.Mutex
	byID      map[string]*session
	byRefresh map[string]string
	ttl       time.Duration
	now       func() time.Time
}

func newSessions(ttl time.Duration, now func() time.Time) *sessions {
	return &sessions{
		byID:      make(map[string]*session),
		byRefresh: make(map[string]string),
		ttl:       ttl,
		now:       now,
	}
}

func (s *sessions) create(username, provider string) (session, error) {
	csrfToken, err := nonce.Token()
	if err != nil {
		return session{}, err //nolint:wrapcheck
	}

	refresh, err := nonce.Token()
	if err != nil {
		return session{}, err //nolint:wrapcheck
	}

	now := s.now()
	sess := &session{
		ID:           uuid.NewString(),
		Username:     username,
		Provider:     provider,
		CSRFToken:    csrfToken,
		RefreshToken: refresh,
		CreatedAt:    now,
		ExpiresAt:    now.Add(s.ttl),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.byID[sess.ID] = sess
	s.byRefresh[refresh] = sess.ID

	return *sess, nil
}

func (s *sessions) get(id string) (session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.live(id)
	if !ok {
		return session{}, ErrUnknownSession
	}

	return *sess, nil
}

// live returns the session if it exists and has not expired. It drops
// expired sessions. Callers hold mu.
func (s *sessions) live(id string) (*session, bool) {
	sess, ok := s.byID[id]
	if !ok {
		return nil, false
	}

	if !s.now().Before(sess.ExpiresAt) {
		s.drop(sess)
		return nil, false
	}

	return sess, true
}

// rotate exchanges a refresh token for a new one and extends the session.
// A refresh token is valid exactly once.
func (s *sessions) rotate(refresh string) (session, error) {
	next, err := nonce.Token()
	if err != nil {
		return session{}, err //nolint:wrapcheck
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byRefresh[refresh]
	if !ok {
		return session{}, ErrUnknownSession
	}

	delete(s.byRefresh, refresh)

	sess, ok := s.live(id)
	if !ok {
		return session{}, ErrUnknownSession
	}

	sess.RefreshToken = next
	sess.ExpiresAt = s.now().Add(s.ttl)
	s.byRefresh[next] = sess.ID

	return *sess, nil
}

// extend renews the lifetime of a cookie session.
func (s *sessions) extend(id string) (session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.live(id)
	if !ok {
		return session{}, ErrUnknownSession
	}

	sess.ExpiresAt = s.now().Add(s.ttl)

	return *sess, nil
}

func (s *sessions) revoke(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.byID[id]
	if ok {
		s.drop(sess)
	}

	return ok
}

func (s *sessions) revokeRefresh(refresh string) bool {
	s.mu.Lock()
	id, ok := s.byRefresh[refresh]
	s.mu.Unlock()

	return ok && s.revoke(id)
}

// revokeUser ends every session of username and returns how many.
func (s *sessions) revokeUser(username string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0

	for _, sess := range s.byID {
		if sess.Username == username {
			s.drop(sess)
			n++
		}
	}

	return n
}

func (s *sessions) list() []session {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]session, 0, len(s.byID))

	for id := range s.byID {
		if sess, ok := s.live(id); ok {
			out = append(out, *sess)
		}
	}

	return out
}

func (s *sessions) drop(sess *session) {
	delete(s.byID, sess.ID)
	delete(s.byRefresh, sess.RefreshToken)
}
