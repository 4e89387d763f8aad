package auth

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
)

// Registry holds every configured provider and tracks the active one.
type Registry struct {
	mu        sync.RWMutex
	configs   []ProviderConfig
	providers map[ProviderType]Provider
	errs      map[ProviderType]error
	current   ProviderType
}

// NewRegistry builds every enabled provider in configs with factory. The
// active provider is preferred when it is enabled, otherwise the first
// enabled entry. A provider that fails to build stays in the registry and
// reports its error from Active.
func NewRegistry(configs []ProviderConfig, preferred ProviderType, factory Factory) *Registry {
	r := &Registry{
		providers: make(map[ProviderType]Provider),
		errs:      make(map[ProviderType]error),
	}

	seen := make(map[ProviderType]bool)

	for _, cfg := range configs {
		if seen[cfg.Type] {
			log.Warn().Str("provider", cfg.Type.String()).Msg("ignoring duplicate provider config")
			continue
		}

		seen[cfg.Type] = true
		r.configs = append(r.configs, cfg)

		if !cfg.Enabled {
			continue
		}

		p, err := build(cfg, factory)
		if err != nil {
			log.Error().Err(err).Str("provider", cfg.Type.String()).Msg("failed to build provider")
			r.errs[cfg.Type] = err

			continue
		}

		r.providers[cfg.Type] = p
	}

	if !r.SetCurrentProvider(preferred) {
		for _, cfg := range r.configs {
			if cfg.Enabled {
				r.current = cfg.Type
				break
			}
		}
	}

	return r
}

func build(cfg ProviderConfig, factory Factory) (p Provider, err error) {
	if !cfg.Type.Valid() {
		return nil, misconfigured("unknown provider type %q", cfg.Type)
	}

	if factory == nil {
		return nil, misconfigured("no provider factory")
	}

	defer func() {
		if rec := recover(); rec != nil {
			p, err = nil, misconfigured("building %s panicked: %v", cfg.Type, rec)
		}
	}()

	p, err = factory(cfg)
	if err != nil {
		if Kind(err) != KindMisconfigured {
			err = fmt.Errorf("%w: %w", ErrProviderMisconfigured, err)
		}

		return nil, fmt.Errorf("%s: %w", cfg.Type, err)
	}

	if p.Type() != cfg.Type {
		return nil, misconfigured("factory built %s for %s", p.Type(), cfg.Type)
	}

	return p, nil
}

// AvailableProviders returns the enabled provider configs in order.
func (r *Registry) AvailableProviders() []ProviderConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ProviderConfig, 0, len(r.configs))

	for _, cfg := range r.configs {
		if cfg.Enabled {
			out = append(out, cfg)
		}
	}

	return out
}

// Enabled reports whether t is configured and enabled.
func (r *Registry) Enabled(t ProviderType) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.enabled(t)
}

func (r *Registry) enabled(t ProviderType) bool {
	for _, cfg := range r.configs {
		if cfg.Type == t {
			return cfg.Enabled
		}
	}

	return false
}

// SetCurrentProvider makes t the active provider. It returns false and
// changes nothing when t is not enabled.
func (r *Registry) SetCurrentProvider(t ProviderType) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.enabled(t) {
		return false
	}

	r.current = t

	return true
}

// Current returns the active provider type; "" when nothing is enabled.
func (r *Registry) Current() ProviderType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.current
}

// Active returns the active provider.
func (r *Registry) Active() (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.current == "" {
		return nil, misconfigured("no provider enabled")
	}

	return r.provider(r.current)
}

// Provider returns the provider of type t.
func (r *Registry) Provider(t ProviderType) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.enabled(t) {
		return nil, fmt.Errorf("%w: %s", ErrProviderDisabled, t)
	}

	return r.provider(t)
}

func (r *Registry) provider(t ProviderType) (Provider, error) {
	if err, ok := r.errs[t]; ok {
		return nil, err
	}

	return r.providers[t], nil
}
