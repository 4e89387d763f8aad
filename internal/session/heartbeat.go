package session

import (
	"context"

	"github.com/GoPowerDNS-Admin/authsession/internal/auth"
)

// heartbeat asks the backend whether the session is still honoured and
// ends it otherwise.
func (m *Manager) heartbeat(ctx context.Context) {
	_, sess, gen := m.store.Snapshot()
	if sess == nil {
		return
	}

	p, err := m.reg.Provider(sess.Provider)
	if err != nil || p == nil {
		if err == nil {
			err = auth.ErrProviderDisabled
		}

		m.forceLogout(ctx, nil, gen, err, "heartbeat")

		return
	}

	res := p.Validate(ctx)
	heartbeatCounter.WithLabelValues(p.Type().String(), outcome(res.Success)).Inc()

	if res.Success {
		return
	}

	cause := res.Err
	if cause == nil {
		cause = auth.ErrSessionExpired
	}

	m.forceLogout(ctx, p, gen, cause, "heartbeat")
}

// VisibilityRegained runs the checks due when the application regains the
// user's attention: a heartbeat followed by the expiry check. It reports
// whether a session is still held.
func (m *Manager) VisibilityRegained(ctx context.Context) bool {
	if !m.store.Authenticated() {
		return false
	}

	m.heartbeat(ctx)
	m.checkExpiry(ctx)

	return m.store.Authenticated()
}
