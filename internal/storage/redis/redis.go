// Package redis provides an Observable storage shared between processes.
// Writes are stored with SET/DEL and announced on a pub/sub channel so that
// every other handle on the same namespace receives a storage.Event.
package redis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/GoPowerDNS-Admin/authsession/internal/storage"
)

// DefaultChannel is the pub/sub channel used when none is configured.
const DefaultChannel = "authsession:storage"

// ErrClientNil is returned when the redis client is nil.
var ErrClientNil = errors.New("redis client is nil")

type message struct {
	Source   string `json:"source"`
	Key      string `json:"key"`
	OldValue []byte `json:"old,omitempty"`
	NewValue []byte `json:"new,omitempty"`
	Removed  bool   `json:"removed,omitempty"`
}

// Store implements storage.Observable on redis.
type Store struct {
	client  *redis.Client
	channel string
	id      string

	mu   sync.Mutex
	subs map[int]func(storage.Event)
	next int

	pubsub *redis.PubSub
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a store and subscribes to channel. Close releases the
// subscription.
func New(ctx context.Context, client *redis.Client, channel string) (*Store, error) {
	if client == nil {
		return nil, ErrClientNil
	}

	if channel == "" {
		channel = DefaultChannel
	}

	s := &Store{
		client:  client,
		channel: channel,
		id:      uuid.NewString(),
		subs:    make(map[int]func(storage.Event)),
	}

	s.pubsub = client.Subscribe(ctx, channel)
	if _, err := s.pubsub.Receive(ctx); err != nil {
		_ = s.pubsub.Close()
		return nil, err
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.wg.Add(1)

	go s.listen(loopCtx)

	return s, nil
}

// Get implements storage.Storage.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, storage.ErrNotFound
	}

	return v, err
}

// Set implements storage.Storage.
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	old, err := s.previous(ctx, key)
	if err != nil {
		return err
	}

	if err = s.client.Set(ctx, key, value, 0).Err(); err != nil {
		return err
	}

	if old != nil && bytes.Equal(old, value) {
		return nil
	}

	if value == nil {
		value = []byte{}
	}

	return s.publish(ctx, message{Key: key, OldValue: old, NewValue: value})
}

// Delete implements storage.Storage.
func (s *Store) Delete(ctx context.Context, key string) error {
	old, err := s.previous(ctx, key)
	if err != nil {
		return err
	}

	if err = s.client.Del(ctx, key).Err(); err != nil {
		return err
	}

	if old == nil {
		return nil
	}

	return s.publish(ctx, message{Key: key, OldValue: old, Removed: true})
}

// Subscribe implements storage.Observable.
func (s *Store) Subscribe(fn func(storage.Event)) func() {
	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// Close stops the subscription. The redis client stays open.
func (s *Store) Close() error {
	s.cancel()
	err := s.pubsub.Close()
	s.wg.Wait()

	return err
}

func (s *Store) previous(ctx context.Context, key string) ([]byte, error) {
	old, err := s.Get(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}

	return old, err
}

func (s *Store) publish(ctx context.Context, msg message) error {
	msg.Source = s.id

	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	return s.client.Publish(ctx, s.channel, payload).Err()
}

func (s *Store) listen(ctx context.Context) {
	defer s.wg.Done()

	ch := s.pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-ch:
			if !ok {
				return
			}

			s.dispatch(m.Payload)
		}
	}
}

func (s *Store) dispatch(payload string) {
	var msg message
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		log.Warn().Err(err).Str("channel", s.channel).Msg("dropping malformed storage event")
		return
	}

	if msg.Source == s.id {
		return
	}

	evt := storage.Event{Key: msg.Key, OldValue: msg.OldValue}
	if !msg.Removed {
		evt.NewValue = msg.NewValue
		if evt.NewValue == nil {
			evt.NewValue = []byte{}
		}
	}

	s.mu.Lock()
	fns := make([]func(storage.Event), 0, len(s.subs))

	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(evt)
	}
}
