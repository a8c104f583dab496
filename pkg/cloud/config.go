package cloud

import (
	"time"

	"github.com/tuyable/credential-cache/pkg/account"
	"github.com/tuyable/credential-cache/pkg/credentials"
)

// LocalConfig is one known configuration context: a cloud account, a device, or a device that
// also records the account it was resolved with. Any subset of the fields may be set.
type LocalConfig struct {
	Login   account.Login                `json:"login" yaml:",inline"`
	Address string                       `json:"address,omitempty" yaml:"address,omitempty"`
	Device  credentials.DeviceCredential `json:"device" yaml:",inline"`
}

// HasLogin returns true if c carries every field needed to log in to the directory.
func (c *LocalConfig) HasLogin() bool {
	return c != nil && c.Login.Complete()
}

// HasCredentials returns true if c carries a complete device credential.
func (c *LocalConfig) HasCredentials() bool {
	return c != nil && c.Device.Complete()
}

const (
	DefaultCallTimeout = 30 * time.Second
	DefaultParallelism = 4
)

// Options tune a Resolver.
type Options struct {
	// CallTimeout bounds each individual directory call.
	CallTimeout time.Duration `yaml:"call_timeout"`
	// Parallelism limits how many contexts, and how many devices per context, are fetched at
	// once.
	Parallelism int `yaml:"parallelism"`
}

func (o Options) withDefaults() Options {
	if o.CallTimeout <= 0 {
		o.CallTimeout = DefaultCallTimeout
	}
	if o.Parallelism <= 0 {
		o.Parallelism = DefaultParallelism
	}
	return o
}
