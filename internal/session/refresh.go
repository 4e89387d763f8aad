package session

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/GoPowerDNS-Admin/authsession/internal/auth"
)

const refreshKey = "refresh"

// RefreshToken renews the session token through the session's provider.
// Concurrent callers share one backend call and receive the same result.
// A failed refresh ends the session; a refresh that completes after the
// session changed is discarded.
func (m *Manager) RefreshToken(ctx context.Context) auth.Result {
	ctx = context.WithoutCancel(ctx)

	v, _, _ := m.refresh.Do(refreshKey, func() (any, error) {
		return m.doRefresh(ctx), nil
	})

	return v.(auth.Result) //nolint:forcetypeassert
}

func (m *Manager) doRefresh(ctx context.Context) auth.Result {
	_, sess, gen := m.store.Snapshot()
	if sess == nil {
		return auth.Failure(auth.ErrSessionExpired, "not authenticated")
	}

	p, err := m.reg.Provider(sess.Provider)
	if err != nil || p == nil {
		if err == nil {
			err = auth.ErrProviderDisabled
		}

		m.forceLogout(ctx, nil, gen, err, "refresh")

		return auth.Failure(err, "")
	}

	m.setState(Refreshing)

	res := p.Refresh(ctx)
	refreshCounter.WithLabelValues(p.Type().String(), outcome(res.Success)).Inc()

	if !res.Success {
		if res.Err == nil {
			res.Err = auth.ErrSessionExpired
		}

		m.forceLogout(ctx, p, gen, res.Err, "refresh")

		return res
	}

	applied, err := m.store.Refresh(ctx, gen, func(s *auth.Session) {
		if res.Token != "" {
			s.Token = res.Token
		}

		if res.RefreshToken != "" {
			s.RefreshToken = res.RefreshToken
		}

		if res.SessionID != "" {
			s.SessionID = res.SessionID
		}

		if res.CSRFToken != "" {
			s.CSRFToken = res.CSRFToken
		}

		s.ExpiresAt = m.expiry(auth.Result{Token: s.Token, ExpiresIn: res.ExpiresIn})
	})
	if err != nil {
		log.Warn().Err(err).Msg("failed to persist refreshed session")
	}

	if !applied {
		log.Debug().Str("provider", p.Type().String()).Msg("discarding refresh of a session that already changed")
		m.settle()

		return auth.Failure(auth.ErrSessionExpired, "session changed during refresh")
	}

	if res.CSRFToken != "" {
		if err = m.csrf.Set(ctx, res.CSRFToken, m.SessionTimeRemaining()); err != nil {
			log.Warn().Err(err).Msg("failed to cache csrf token")
		}
	}

	m.settle()

	user, snap, _ := m.store.Snapshot()
	if res.User == nil {
		res.User = user
	}

	m.events.emit(Event{Type: EventRefreshed, User: user, Session: snap})

	return res
}

// checkExpiry refreshes the session when it is about to expire.
func (m *Manager) checkExpiry(ctx context.Context) {
	if !m.store.Authenticated() || !m.IsSessionExpiring() {
		return
	}

	log.Debug().Dur("remaining", m.SessionTimeRemaining()).Msg("session expiring, refreshing token")
	m.RefreshToken(ctx)
}
