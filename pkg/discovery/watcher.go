package discovery

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/tuyable/credential-cache/internal/log"
	"github.com/tuyable/credential-cache/pkg/credentials"
)

const queueLength = 32

// Result is the outcome of resolving one discovered device.
type Result struct {
	Advertisement Advertisement
	Name          string
	Credentials   *credentials.DeviceCredential
	Err           error
}

// Watcher resolves credentials for devices as they are discovered. Each address is resolved once;
// addresses whose resolution failed with a temporary error are retried when advertised again.
// Permanent failures are retried too once a cache build logs in to an account.
type Watcher struct {
	manager Manager

	// OnResult, if set, is called after each resolution attempt.
	OnResult func(Result)

	lock    sync.Mutex
	results map[string]Result
	pending map[string]bool
}

// NewWatcher returns a Watcher that resolves devices using manager.
func NewWatcher(manager Manager) *Watcher {
	return &Watcher{
		manager: manager,
		results: make(map[string]Result),
		pending: make(map[string]bool),
	}
}

// claim marks address as in progress. It returns false if address was already resolved, is
// being resolved, or failed permanently.
func (w *Watcher) claim(address string) bool {
	w.lock.Lock()
	defer w.lock.Unlock()
	if w.pending[address] {
		return false
	}
	if r, ok := w.results[address]; ok && (r.Err == nil || !credentials.Temporary(r.Err)) {
		return false
	}
	w.pending[address] = true
	return true
}

// Handle resolves the device behind adv unless its address has been handled before. The second
// return value is false if adv was skipped.
func (w *Watcher) Handle(ctx context.Context, adv Advertisement) (Result, bool) {
	adv.Address = credentials.CanonicalAddress(adv.Address)
	if !w.claim(adv.Address) {
		return Result{}, false
	}
	log.Debug("Discovered %s (%s) via %s", adv.Address, adv.LocalName, adv.Source)

	if report, err := w.manager.Build(ctx); err != nil {
		log.Warning("Could not build cache: %s", err)
	} else {
		log.Debug("Cache build: %s", report)
		if report.LoggedIn > 0 {
			w.forgetFailures()
		}
	}

	result := Result{Advertisement: adv}
	result.Credentials, result.Err = w.manager.DeviceCredentials(ctx, adv.Address, false, true)
	if result.Err == nil {
		result.Name = result.Credentials.ReadableName(adv.Address)
		log.Info("Resolved %s as '%s'", adv.Address, result.Name)
	} else {
		result.Name = adv.LocalName
		log.Warning("Could not resolve %s: %s", adv.Address, result.Err)
	}

	w.lock.Lock()
	delete(w.pending, adv.Address)
	w.results[adv.Address] = result
	w.lock.Unlock()

	if w.OnResult != nil {
		w.OnResult(result)
	}
	return result, true
}

// forgetFailures drops failed results so that those addresses are resolved again.
func (w *Watcher) forgetFailures() {
	w.lock.Lock()
	defer w.lock.Unlock()
	for address, r := range w.results {
		if r.Err != nil {
			delete(w.results, address)
		}
	}
}

// Run handles advertisements from source until source returns. Advertisements are handled one
// at a time; if resolution falls behind, excess advertisements are dropped and picked up again
// when the device next advertises. Advertisements queued when source returns are still handled.
// Run returns nil if ctx is canceled.
func (w *Watcher) Run(ctx context.Context, source Source) error {
	queue := make(chan Advertisement, queueLength)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for adv := range queue {
			if ctx.Err() != nil {
				continue
			}
			w.Handle(ctx, adv)
		}
	}()

	err := source.Run(ctx, func(adv Advertisement) {
		select {
		case queue <- adv:
		default:
			log.Debug("Discovery queue full, dropping advertisement from %s", adv.Address)
		}
	})
	close(queue)
	<-done
	if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return nil
	}
	return err
}

// Limit returns a Source that stops source after d. Reaching the limit is not an error.
func Limit(source Source, d time.Duration) Source {
	return &limited{source: source, duration: d}
}

type limited struct {
	source   Source
	duration time.Duration
}

func (l *limited) Run(ctx context.Context, found func(Advertisement)) error {
	scanCtx, cancel := context.WithTimeout(ctx, l.duration)
	defer cancel()
	err := l.source.Run(scanCtx, found)
	if ctx.Err() == nil && scanCtx.Err() != nil {
		return nil
	}
	return err
}

// Results returns the outcome for every device handled so far, ordered by address.
func (w *Watcher) Results() []Result {
	w.lock.Lock()
	defer w.lock.Unlock()
	results := make([]Result, 0, len(w.results))
	for _, r := range w.results {
		results = append(results, r)
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].Advertisement.Address < results[j].Advertisement.Address
	})
	return results
}
