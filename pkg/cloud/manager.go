package cloud

import (
	"context"
	"errors"

	"github.com/tuyable/credential-cache/internal/log"
	"github.com/tuyable/credential-cache/pkg/cache"
	"github.com/tuyable/credential-cache/pkg/credentials"
)

// Store holds the local configuration contexts known to this host.
type Store interface {
	// Contexts returns every account and device context, accounts first.
	Contexts(ctx context.Context) ([]LocalConfig, error)
	// Device returns the context saved for address, if any.
	Device(ctx context.Context, address string) (LocalConfig, bool, error)
	// SaveDevice stores a device context keyed by its Address.
	SaveDevice(ctx context.Context, local LocalConfig) error
}

// Manager is a [credentials.Manager] backed by a Resolver and a local Store.
type Manager struct {
	resolver *Resolver
	store    Store
}

var _ credentials.Manager = (*Manager)(nil)

// NewManager returns a Manager. store may be nil, in which case nothing is persisted and only
// cached accounts can be searched.
func NewManager(resolver *Resolver, store Store) (*Manager, error) {
	if resolver == nil {
		return nil, errors.New("manager requires a resolver")
	}
	return &Manager{resolver: resolver, store: store}, nil
}

// Resolver returns the Manager's Resolver.
func (m *Manager) Resolver() *Resolver {
	return m.resolver
}

// DeviceCredentials resolves the credential for address using the context saved for it. If no
// cached account knows the device, the cache is built for all saved contexts and the lookup is
// retried once. When persist is set, the updated context is saved.
func (m *Manager) DeviceCredentials(ctx context.Context, address string, forceUpdate, persist bool) (*credentials.DeviceCredential, error) {
	address = credentials.CanonicalAddress(address)
	local := LocalConfig{Address: address}
	if m.store != nil {
		saved, found, err := m.store.Device(ctx, address)
		if err != nil {
			log.Warning("Could not load configuration for %s: %s", address, err)
		} else if found {
			local = saved
		}
	}

	c, err := m.resolver.Resolve(ctx, address, &local, forceUpdate, persist)
	if errors.Is(err, credentials.ErrDeviceNotFound) && !local.HasLogin() && m.store != nil {
		if _, buildErr := m.Build(ctx); buildErr != nil {
			log.Warning("Could not build cache: %s", buildErr)
		} else {
			c, err = m.resolver.Resolve(ctx, address, &local, false, persist)
		}
	}
	if err != nil {
		return nil, err
	}

	if persist && m.store != nil {
		if err := m.store.SaveDevice(ctx, local); err != nil {
			log.Warning("Could not save configuration for %s: %s", address, err)
		}
	}
	return c, nil
}

// Build warms the cache for every saved context.
func (m *Manager) Build(ctx context.Context) (BuildReport, error) {
	if m.store == nil {
		return BuildReport{}, nil
	}
	contexts, err := m.store.Contexts(ctx)
	if err != nil {
		return BuildReport{}, err
	}
	return m.resolver.BuildForAllContexts(ctx, contexts), nil
}

// Summaries describes the Resolver's cache.
func (m *Manager) Summaries() []cache.EntrySummary {
	return m.resolver.Sessions().Summaries()
}
