package session

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/GoPowerDNS-Admin/authsession/internal/storage"
)

// listen subscribes to session changes made by other tabs. It is a no-op
// when already listening.
func (m *Manager) listen() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	if m.unsubscribe == nil {
		m.unsubscribe = m.opts.Storage.Subscribe(m.onStorage)
	}

	return nil
}

// onStorage reconciles the local session with a change made elsewhere. It
// never writes to the storage.
func (m *Manager) onStorage(evt storage.Event) {
	if evt.Key != m.opts.Keys.Session() {
		return
	}

	before, beforeSess, _ := m.store.Snapshot()

	changed, loggedIn := m.store.Adopt(context.Background(), evt.NewValue)
	if !changed {
		return
	}

	if !loggedIn {
		log.Info().Msg("session ended in another tab")
		m.stopTimers()
		m.setState(Unauthenticated)
		m.events.emit(Event{Type: EventLogout, Remote: true})

		return
	}

	user, sess, _ := m.store.Snapshot()
	if user == nil {
		return
	}

	if !m.reg.SetCurrentProvider(sess.Provider) {
		log.Warn().Str("provider", sess.Provider.String()).Msg("adopted session of a disabled provider")
	}

	if before != nil && before.ID == user.ID && beforeSess.Provider == sess.Provider {
		m.events.emit(Event{Type: EventRefreshed, User: user, Session: sess, Remote: true})
		return
	}

	log.Info().Str("user", user.Username).Msg("session adopted from another tab")
	m.setState(Authenticated)
	m.startTimers()
	m.events.emit(Event{Type: EventLogin, User: user, Session: sess, Remote: true})
}
