package cloud

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tuyable/credential-cache/internal/log"
	"github.com/tuyable/credential-cache/pkg/account"
	"github.com/tuyable/credential-cache/pkg/cache"
	"github.com/tuyable/credential-cache/pkg/credentials"
)

var errIncompleteDevice = errors.New("directory returned incomplete device data")

// BuildReport summarizes a BuildForAllContexts pass.
type BuildReport struct {
	// Contexts is the number of contexts examined.
	Contexts int `json:"contexts"`
	// Skipped counts contexts without a complete login and contexts whose account was already
	// populated.
	Skipped       int `json:"skipped"`
	LoggedIn      int `json:"logged_in"`
	LoginFailures int `json:"login_failures"`
	// Devices is the number of credentials stored.
	Devices        int `json:"devices"`
	DeviceFailures int `json:"device_failures"`
}

func (b *BuildReport) add(other BuildReport) {
	b.Skipped += other.Skipped
	b.LoggedIn += other.LoggedIn
	b.LoginFailures += other.LoginFailures
	b.Devices += other.Devices
	b.DeviceFailures += other.DeviceFailures
}

func (b BuildReport) String() string {
	return fmt.Sprintf("%d contexts, %d skipped, %d logins (%d failed), %d devices (%d failed)",
		b.Contexts, b.Skipped, b.LoggedIn+b.LoginFailures, b.LoginFailures, b.Devices, b.DeviceFailures)
}

// BuildForAllContexts makes sure every context with a complete login has a populated cache entry.
//
// Contexts whose account already has cached credentials are skipped without a remote call, so the
// operation is cheap to repeat. A login or device-list failure affects only that context, and a
// failure fetching one device's details skips only that device.
func (r *Resolver) BuildForAllContexts(ctx context.Context, contexts []LocalConfig) BuildReport {
	report := BuildReport{Contexts: len(contexts)}
	var lock sync.Mutex

	var g errgroup.Group
	g.SetLimit(r.options.Parallelism)
	for i := range contexts {
		local := contexts[i]
		g.Go(func() error {
			result := r.buildContext(ctx, &local)
			lock.Lock()
			report.add(result)
			lock.Unlock()
			return nil
		})
	}
	g.Wait()
	log.Info("Cache build complete: %s", report)
	return report
}

func (r *Resolver) buildContext(ctx context.Context, local *LocalConfig) BuildReport {
	var report BuildReport
	if !local.HasLogin() {
		report.Skipped++
		return report
	}
	fp := cache.FingerprintOf(local.Login)
	if populated(r.sessions, fp) {
		report.Skipped++
		return report
	}

	observed := r.sessions.Generation(fp)
	if err := r.sessions.Lock(ctx, fp); err != nil {
		log.Warning("Gave up waiting for %s: %s", local.Login.Label(), err)
		report.LoginFailures++
		return report
	}
	defer r.sessions.Unlock(fp)

	entry, ok := r.sessions.Get(fp)
	if ok && len(entry.Credentials) > 0 {
		report.Skipped++
		return report
	}
	if !ok || entry.Session.Expired(time.Now()) || entry.Generation == observed {
		session, err := r.login(ctx, local.Login)
		if err != nil {
			report.LoginFailures++
			return report
		}
		entry = r.sessions.Put(fp, cache.Entry{Session: session, Login: local.Login})
		report.LoggedIn++
	}

	result, err := r.fill(ctx, fp, entry.Session)
	if err != nil {
		log.Warning("Could not fetch devices for %s: %s", local.Login.Label(), err)
	}
	report.add(result)
	return report
}

func populated(sessions *cache.SessionCache, fp cache.Fingerprint) bool {
	entry, ok := sessions.Get(fp)
	return ok && len(entry.Credentials) > 0
}

// fill runs the detail-fetch pipeline for the account with fingerprint fp: it lists the account's
// devices and stores a credential for each device whose details could be fetched. It returns an
// error only if the device list could not be fetched.
func (r *Resolver) fill(ctx context.Context, fp cache.Fingerprint, session *account.Session) (BuildReport, error) {
	var report BuildReport
	callCtx, cancel := r.callContext(ctx)
	devices, err := r.directory.ListDevices(callCtx, session)
	cancel()
	if err != nil {
		return report, &credentials.PartialFetchError{Stage: credentials.StageListDevices, Err: err}
	}
	r.sessions.MarkListed(fp)
	log.Debug("Account has %d devices", len(devices))

	var stored, failed atomic.Int64
	var g errgroup.Group
	g.SetLimit(r.options.Parallelism)
	for _, device := range devices {
		device := device
		g.Go(func() error {
			if err := r.fetchDevice(ctx, fp, session, device); err != nil {
				log.Warning("Skipping device: %s", err)
				failed.Add(1)
			} else {
				stored.Add(1)
			}
			return nil
		})
	}
	g.Wait()
	report.Devices = int(stored.Load())
	report.DeviceFailures = int(failed.Load())
	return report, nil
}

// fetchDevice fetches one device's hardware address and capabilities and stores its credential.
// Nothing is stored unless every step succeeds.
func (r *Resolver) fetchDevice(ctx context.Context, fp cache.Fingerprint, session *account.Session, device account.Device) error {
	fail := func(stage credentials.FetchStage, err error) error {
		return &credentials.PartialFetchError{DeviceID: device.ID, Stage: stage, Err: err}
	}

	callCtx, cancel := r.callContext(ctx)
	info, err := r.directory.FactoryInfo(callCtx, session, device.ID)
	cancel()
	if err == nil && info == nil {
		err = errors.New("empty factory info")
	}
	if err != nil {
		return fail(credentials.StageFactoryInfo, err)
	}
	address, err := credentials.ParseFactoryMAC(info.MAC)
	if err != nil {
		return fail(credentials.StageFactoryInfo, err)
	}

	callCtx, cancel = r.callContext(ctx)
	spec, err := r.directory.Specification(callCtx, session, device.ID)
	cancel()
	if err == nil && spec == nil {
		err = errors.New("empty specification")
	}
	if err != nil {
		return fail(credentials.StageSpecification, err)
	}

	functions, status, err := credentials.ValidCapabilities(functionsOf(spec), statusOf(spec))
	if err != nil {
		log.Warning("Dropping malformed capabilities of device %s: %s", device.ID, err)
	}

	uuid := device.UUID
	if uuid == "" {
		uuid = info.UUID
	}
	c := credentials.CheckAndCreate(uuid, device.LocalKey, device.ID, device.Category, device.ProductID,
		credentials.WithNames(device.Name, device.Model, device.ProductName),
		credentials.WithCapabilities(functions, status),
	)
	if c == nil {
		return fail(credentials.StageAssemble, errIncompleteDevice)
	}
	if !r.sessions.SetCredential(fp, address, c) {
		return fail(credentials.StageAssemble, fmt.Errorf("no session entry for %s", address))
	}
	log.Debug("Stored credentials for %s: %s", address, c)
	return nil
}

func functionsOf(spec *account.Specification) []credentials.Function {
	if spec == nil || len(spec.Functions) == 0 {
		return nil
	}
	functions := make([]credentials.Function, 0, len(spec.Functions))
	for _, f := range spec.Functions {
		functions = append(functions, credentials.Function{
			Code:        f.Code,
			Name:        f.Name,
			Description: f.Description,
			Type:        f.Type,
			Values:      f.Values,
		})
	}
	return functions
}

func statusOf(spec *account.Specification) []credentials.StatusField {
	if spec == nil || len(spec.Status) == 0 {
		return nil
	}
	status := make([]credentials.StatusField, 0, len(spec.Status))
	for _, s := range spec.Status {
		status = append(status, credentials.StatusField{
			Code:   s.Code,
			Name:   s.Name,
			Type:   s.Type,
			Values: s.Values,
		})
	}
	return status
}
