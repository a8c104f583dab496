package credentials

import (
	"context"
	"sync"
)

// Manager is a source of device credentials.
//
// Implementations return either a complete DeviceCredential or an error matching
// ErrDeviceNotFound; they never return an incomplete credential. When forceUpdate is set, cached
// data must not short-circuit the lookup. When persist is set, implementations that own a local
// configuration write the resolved credential back into it.
type Manager interface {
	DeviceCredentials(ctx context.Context, address string, forceUpdate, persist bool) (*DeviceCredential, error)
}

// StaticManager serves credentials from memory. It is useful for tests and for devices whose
// credentials were provisioned out of band.
type StaticManager struct {
	lock        sync.Mutex
	credentials map[string]*DeviceCredential
}

// NewStaticManager returns an empty StaticManager.
func NewStaticManager() *StaticManager {
	return &StaticManager{credentials: make(map[string]*DeviceCredential)}
}

// Add registers c for address. Incomplete credentials are rejected with ErrDeviceNotFound so that
// a later lookup cannot observe them.
func (m *StaticManager) Add(address string, c *DeviceCredential) error {
	address = CanonicalAddress(address)
	if !c.Complete() {
		return NotFound(address, nil)
	}
	m.lock.Lock()
	defer m.lock.Unlock()
	m.credentials[address] = c.Clone()
	return nil
}

func (m *StaticManager) DeviceCredentials(_ context.Context, address string, _, _ bool) (*DeviceCredential, error) {
	address = CanonicalAddress(address)
	m.lock.Lock()
	defer m.lock.Unlock()
	if c, ok := m.credentials[address]; ok {
		return c.Clone(), nil
	}
	return nil, NotFound(address, nil)
}
