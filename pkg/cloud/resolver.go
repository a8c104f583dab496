/*
Package cloud resolves Tuya BLE device credentials through the remote directory, using a
[cache.SessionCache] so that most lookups do not need a remote call.

The [Resolver] serves a credential from, in order: the caller's local configuration, the session
cache, and finally a fresh login followed by a detail fetch. Concurrent callers that need a login
for the same account wait for the one in flight instead of issuing their own.

Remote failures never escape a Resolver as anything other than a negative result: Resolve returns
either a complete credential or an error matching [credentials.ErrDeviceNotFound], with the login or
fetch failure attached as its cause.
*/
package cloud

import (
	"context"
	"errors"
	"time"

	"github.com/tuyable/credential-cache/internal/log"
	"github.com/tuyable/credential-cache/pkg/account"
	"github.com/tuyable/credential-cache/pkg/cache"
	"github.com/tuyable/credential-cache/pkg/credentials"
)

var (
	ErrNoDirectory = errors.New("resolver requires a directory")
	ErrNoCache     = errors.New("resolver requires a session cache")

	errIncompleteLogin = errors.New("login fields are incomplete")
	errNoSession       = errors.New("directory returned no session")
)

// Resolver looks up device credentials.
type Resolver struct {
	directory Directory
	sessions  *cache.SessionCache
	options   Options
}

// NewResolver returns a Resolver that fetches from directory and stores sessions in sessions.
func NewResolver(directory Directory, sessions *cache.SessionCache, options Options) (*Resolver, error) {
	if directory == nil {
		return nil, ErrNoDirectory
	}
	if sessions == nil {
		return nil, ErrNoCache
	}
	return &Resolver{
		directory: directory,
		sessions:  sessions,
		options:   options.withDefaults(),
	}, nil
}

// Sessions returns the Resolver's cache.
func (r *Resolver) Sessions() *cache.SessionCache {
	return r.sessions
}

func (r *Resolver) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.options.CallTimeout)
}

// Resolve returns the credential for the device at address.
//
// If local already holds a complete credential and forceUpdate is false, a copy of it is returned
// without contacting the directory. Otherwise the account is taken from local's login fields or,
// failing that, from the first cached session that knows address. A cached credential is returned
// when available unless forceUpdate is set; otherwise the Resolver logs in and fetches device
// details before checking again.
//
// If persist is true and a credential is found, the account's login fields, address and credential
// are written into local. A nil local is treated as an empty configuration.
func (r *Resolver) Resolve(ctx context.Context, address string, local *LocalConfig, forceUpdate, persist bool) (*credentials.DeviceCredential, error) {
	address = credentials.CanonicalAddress(address)
	if local == nil {
		local = &LocalConfig{}
		persist = false
	}

	if !forceUpdate && local.HasCredentials() {
		log.Debug("Using configured credentials for %s", address)
		return local.Device.Clone(), nil
	}

	var fp cache.Fingerprint
	var login account.Login
	if local.HasLogin() {
		login = local.Login
		fp = cache.FingerprintOf(login)
	} else if found, entry, ok := r.sessions.FindByAddress(address); ok {
		fp, login = found, entry.Login
	} else {
		log.Debug("No account known for %s", address)
		return nil, credentials.NotFound(address, nil)
	}

	observed := r.sessions.Generation(fp)
	if !forceUpdate {
		if entry, ok := r.sessions.Get(fp); ok {
			if c, ok := entry.Credential(address); ok {
				log.Debug("Using cached credentials for %s", address)
				if persist {
					persistTo(local, entry.Login, address, c)
				}
				return c, nil
			}
		}
	}

	entry, err := r.refresh(ctx, fp, login, address, observed, forceUpdate)
	if err != nil {
		return nil, credentials.NotFound(address, err)
	}
	c, ok := entry.Credential(address)
	if !ok {
		log.Info("Account %s has no device with address %s", login.Label(), address)
		return nil, credentials.NotFound(address, nil)
	}
	if persist {
		persistTo(local, entry.Login, address, c)
	}
	return c, nil
}

// refresh makes sure the entry for fp has a current session and, if it doesn't already know
// address, fetches the account's device details. A login is skipped if another caller completed
// one after observed was read and its session has not expired.
func (r *Resolver) refresh(ctx context.Context, fp cache.Fingerprint, login account.Login, address string, observed uint64, forceUpdate bool) (cache.Entry, error) {
	if err := r.sessions.Lock(ctx, fp); err != nil {
		return cache.Entry{}, err
	}
	defer r.sessions.Unlock(fp)

	entry, ok := r.sessions.Get(fp)
	if ok && !forceUpdate {
		if _, found := entry.Credential(address); found {
			return entry, nil
		}
	}
	if !ok || entry.Session.Expired(time.Now()) || entry.Generation == observed {
		session, err := r.login(ctx, login)
		if err != nil {
			return cache.Entry{}, err
		}
		entry = r.sessions.Put(fp, cache.Entry{Session: session, Login: login})
	} else {
		log.Debug("Reusing session for %s obtained while waiting", login.Label())
		if entry.Listed == entry.Generation {
			// The caller that logged in has already fetched this session's devices.
			return entry, nil
		}
	}

	if _, err := r.fill(ctx, fp, entry.Session); err != nil {
		log.Warning("Could not fetch devices for %s: %s", login.Label(), err)
	}
	entry, _ = r.sessions.Get(fp)
	return entry, nil
}

// login opens a directory session. Every failure, transport errors and timeouts included, is
// reported as a *credentials.LoginError.
func (r *Resolver) login(ctx context.Context, login account.Login) (*account.Session, error) {
	if !login.Complete() {
		return nil, &credentials.LoginError{Account: login.Label(), Err: errIncompleteLogin}
	}
	callCtx, cancel := r.callContext(ctx)
	defer cancel()

	log.Debug("Logging in to %s", login.Label())
	session, err := r.directory.Login(callCtx, login)
	if err == nil && session == nil {
		err = errNoSession
	}
	if err != nil {
		log.Warning("Login to %s failed: %s", login.Label(), err)
		return nil, &credentials.LoginError{Account: login.Label(), Err: err}
	}
	return session, nil
}

// LoginFromCache copies the login fields of the first cached account (in insertion order) that
// has a session into local. It returns true if local has a complete login afterwards.
func (r *Resolver) LoginFromCache(local *LocalConfig) bool {
	if local.HasLogin() {
		return true
	}
	for _, fp := range r.sessions.Fingerprints() {
		entry, ok := r.sessions.Get(fp)
		if !ok || entry.Session == nil {
			continue
		}
		local.Login = entry.Login
		return local.HasLogin()
	}
	return false
}

func persistTo(local *LocalConfig, login account.Login, address string, c *credentials.DeviceCredential) {
	if login.Complete() {
		local.Login = login
	}
	local.Address = address
	local.Device = *c.Clone()
}
