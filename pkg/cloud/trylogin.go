package cloud

import (
	"context"
	"fmt"

	"github.com/tuyable/credential-cache/internal/log"
	"github.com/tuyable/credential-cache/pkg/account"
	"github.com/tuyable/credential-cache/pkg/cache"
)

// LoginInput is what a user provides when adding a cloud account.
type LoginInput struct {
	Country      string
	AccessID     string
	AccessSecret string
	Username     string
	Password     string
}

// ErrUnknownCountry is returned by TryLogin if the country name is not in [account.Countries].
type ErrUnknownCountry struct {
	Country string
}

func (e *ErrUnknownCountry) Error() string {
	return fmt.Sprintf("unknown country '%s'", e.Country)
}

var loginAttempts = []struct {
	appType  string
	authType account.AuthType
}{
	{account.AppTuyaSmart, account.AuthSmartHome},
	{account.AppSmartLife, account.AuthSmartHome},
	{"", account.AuthCustom},
}

// TryLogin finds the login variant that works for input. The Tuya Smart and Smart Life app
// schemas are tried first, followed by a custom-project login. The first successful session is
// stored in the Resolver's cache and its login returned. If every attempt fails, the error from the
// last attempt is returned.
func (r *Resolver) TryLogin(ctx context.Context, input LoginInput) (account.Login, error) {
	country, ok := account.CountryByName(input.Country)
	if !ok {
		return account.Login{}, &ErrUnknownCountry{Country: input.Country}
	}
	login := account.Login{
		Endpoint:     country.Endpoint,
		AccessID:     input.AccessID,
		AccessSecret: input.AccessSecret,
		Username:     input.Username,
		Password:     input.Password,
		CountryCode:  country.CountryCode,
	}

	var lastErr error
	for _, attempt := range loginAttempts {
		login.AppType = attempt.appType
		login.AuthType = attempt.authType
		log.Debug("Trying %s login with app type '%s'", login.AuthType, login.AppType)

		err := r.tryLogin(ctx, login)
		if err == nil {
			log.Info("Logged in to %s with app type '%s'", login.Label(), login.AppType)
			return login, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return account.Login{}, lastErr
}

// tryLogin logs in with login and stores the session, holding the fingerprint's lock so that
// concurrent resolves for the same account wait for the result.
func (r *Resolver) tryLogin(ctx context.Context, login account.Login) error {
	fp := cache.FingerprintOf(login)
	if err := r.sessions.Lock(ctx, fp); err != nil {
		return err
	}
	defer r.sessions.Unlock(fp)

	session, err := r.login(ctx, login)
	if err != nil {
		return err
	}
	r.sessions.Put(fp, cache.Entry{Session: session, Login: login})
	return nil
}
