package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/GoPowerDNS-Admin/authsession/internal/auth"
	"github.com/GoPowerDNS-Admin/authsession/internal/storage"
)

// record is the persisted session blob. Tokens are kept under their own keys.
type record struct {
	User      *auth.User        `json:"user"`
	ExpiresAt time.Time         `json:"expiresAt"`
	CSRFToken string            `json:"csrfToken,omitempty"`
	SessionID string            `json:"sessionId,omitempty"`
	Provider  auth.ProviderType `json:"provider"`
}

// Store is the single holder of the current user and session. The pair is
// always set and cleared together.
type Store struct {
	storage storage.Storage
	keys    storage.Keys

	// wmu serializes storage writes; mu guards the in-memory state and is
	// never held during storage I/O.
	wmu sync.Mutex
	mu  sync.RWMutex

	user    *auth.User
	session *auth.Session
	raw     []byte
	gen     uint64
}

// NewStore creates an empty store mirroring into st.
func NewStore(st storage.Storage, keys storage.Keys) *Store {
	return &Store{storage: st, keys: keys}
}

// Snapshot returns copies of the current user and session and the session
// generation. Both are nil when nobody is logged in.
func (s *Store) Snapshot() (*auth.User, *auth.Session, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.user == nil {
		return nil, nil, s.gen
	}

	sess := *s.session

	return s.user.Clone(), &sess, s.gen
}

// Authenticated reports whether a session is held.
func (s *Store) Authenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.user != nil
}

// Generation identifies the current session; it changes on every login,
// logout and adopted cross-tab change.
func (s *Store) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.gen
}

// Set replaces the session and persists it.
func (s *Store) Set(ctx context.Context, user *auth.User, sess auth.Session) error {
	if user == nil {
		return s.Clear(ctx)
	}

	raw, err := encode(user, sess)
	if err != nil {
		return err
	}

	s.wmu.Lock()
	defer s.wmu.Unlock()

	s.mu.Lock()
	s.user = user.Clone()
	s.session = &sess
	s.raw = raw
	s.gen++
	s.mu.Unlock()

	return s.persist(ctx, raw, sess)
}

// Refresh updates the tokens and expiry of the session identified by gen.
// It returns false without changing anything when the session changed.
func (s *Store) Refresh(ctx context.Context, gen uint64, update func(sess *auth.Session)) (bool, error) {
	s.wmu.Lock()
	defer s.wmu.Unlock()

	s.mu.Lock()

	if s.gen != gen || s.user == nil {
		s.mu.Unlock()
		return false, nil
	}

	sess := *s.session
	update(&sess)

	raw, err := encode(s.user, sess)
	if err != nil {
		s.mu.Unlock()
		return false, err
	}

	s.session = &sess
	s.raw = raw
	s.mu.Unlock()

	return true, s.persist(ctx, raw, sess)
}

// Clear drops the session and removes every session key.
func (s *Store) Clear(ctx context.Context) error {
	_, err := s.ClearIf(ctx, 0, false)
	return err
}

// ClearIf clears the session only while it is still generation gen. With
// match false the generation is ignored.
func (s *Store) ClearIf(ctx context.Context, gen uint64, match bool) (bool, error) {
	s.wmu.Lock()
	defer s.wmu.Unlock()

	s.mu.Lock()

	if match && s.gen != gen {
		s.mu.Unlock()
		return false, nil
	}

	s.user = nil
	s.session = nil
	s.raw = nil
	s.gen++
	s.mu.Unlock()

	var errs []error

	for _, key := range s.keys.All() {
		if err := s.storage.Delete(ctx, key); err != nil {
			errs = append(errs, err)
		}
	}

	return true, errors.Join(errs...)
}

// Load restores the session persisted by an earlier run or another tab.
func (s *Store) Load(ctx context.Context) (bool, error) {
	raw, err := s.storage.Get(ctx, s.keys.Session())
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}

	if err != nil {
		return false, err
	}

	_, loggedIn := s.Adopt(ctx, raw)

	return loggedIn, nil
}

// Adopt replaces the in-memory state with the persisted blob raw without
// writing anything. A nil or empty raw clears the state. changed is false
// when raw equals the state already held.
func (s *Store) Adopt(ctx context.Context, raw []byte) (changed, loggedIn bool) {
	s.mu.RLock()
	same := bytes.Equal(s.raw, raw)
	held := s.user != nil
	s.mu.RUnlock()

	if same {
		return false, held
	}

	var rec record
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &rec); err != nil {
			log.Warn().Err(err).Msg("ignoring unreadable session blob")
			rec = record{}
		}
	}

	var sess *auth.Session
	if rec.User != nil {
		sess = &auth.Session{
			Token:        s.read(ctx, s.keys.Token()),
			RefreshToken: s.read(ctx, s.keys.RefreshToken()),
			ExpiresAt:    rec.ExpiresAt,
			Provider:     rec.Provider,
			CSRFToken:    rec.CSRFToken,
			SessionID:    rec.SessionID,
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if bytes.Equal(s.raw, raw) || (sess == nil && s.user == nil) {
		return false, s.user != nil
	}

	s.user = rec.User
	s.session = sess
	s.raw = nil

	if sess != nil {
		s.raw = append([]byte(nil), raw...)
	}

	s.gen++

	return true, sess != nil
}

// persist writes the token keys before the blob so that observers of the
// blob always find matching tokens.
func (s *Store) persist(ctx context.Context, raw []byte, sess auth.Session) error {
	if err := s.write(ctx, s.keys.Token(), sess.Token); err != nil {
		return err
	}

	if err := s.write(ctx, s.keys.RefreshToken(), sess.RefreshToken); err != nil {
		return err
	}

	return s.storage.Set(ctx, s.keys.Session(), raw)
}

func (s *Store) write(ctx context.Context, key, value string) error {
	if value == "" {
		return s.storage.Delete(ctx, key)
	}

	return s.storage.Set(ctx, key, []byte(value))
}

func (s *Store) read(ctx context.Context, key string) string {
	v, err := s.storage.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			log.Warn().Err(err).Str("key", key).Msg("failed to read session key")
		}

		return ""
	}

	return string(v)
}

func encode(user *auth.User, sess auth.Session) ([]byte, error) {
	return json.Marshal(record{
		User:      user,
		ExpiresAt: sess.ExpiresAt,
		CSRFToken: sess.CSRFToken,
		SessionID: sess.SessionID,
		Provider:  sess.Provider,
	})
}
