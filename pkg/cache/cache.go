package cache

import (
	"context"
	"encoding/json"
	"io"
	"sort"
	"sync"

	"github.com/tuyable/credential-cache/pkg/account"
	"github.com/tuyable/credential-cache/pkg/credentials"
)

// Fingerprint identifies the account a SessionCache entry belongs to.
type Fingerprint string

// FingerprintOf returns the Fingerprint for login.
func FingerprintOf(login account.Login) Fingerprint {
	return Fingerprint(login.Fingerprint())
}

// Entry holds the directory session for one account and the device credentials fetched with it.
type Entry struct {
	// Session is nil until a login succeeds.
	Session *account.Session
	Login   account.Login
	// Credentials maps normalized hardware addresses to complete credentials.
	Credentials map[string]*credentials.DeviceCredential
	// Generation is incremented each time a new session is stored in the entry.
	Generation uint64
	// Listed is the Generation whose session last listed the account's devices.
	Listed uint64
}

func (e *Entry) clone() Entry {
	out := Entry{
		Login:       e.Login,
		Generation:  e.Generation,
		Listed:      e.Listed,
		Credentials: make(map[string]*credentials.DeviceCredential, len(e.Credentials)),
	}
	if e.Session != nil {
		session := *e.Session
		out.Session = &session
	}
	for address, c := range e.Credentials {
		out.Credentials[address] = c.Clone()
	}
	return out
}

// Credential returns the complete credential for address, if the entry has one.
func (e *Entry) Credential(address string) (*credentials.DeviceCredential, bool) {
	c, ok := e.Credentials[credentials.CanonicalAddress(address)]
	if !ok || !c.Complete() {
		return nil, false
	}
	return c.Clone(), true
}

type SessionCache struct {
	entries map[Fingerprint]*Entry
	order   []Fingerprint
	lock    sync.Mutex
	fpLock  sync.Map
}

// New returns an empty SessionCache.
func New() *SessionCache {
	return &SessionCache{
		entries: make(map[Fingerprint]*Entry),
	}
}

// Get returns a copy of the entry for fp.
func (c *SessionCache) Get(fp Fingerprint) (Entry, bool) {
	c.lock.Lock()
	defer c.lock.Unlock()

	entry, ok := c.entries[fp]
	if !ok {
		return Entry{}, false
	}
	return entry.clone(), true
}

// Put creates or updates the entry for fp and returns a copy of the result.
//
// Credentials in update are merged into the existing entry; addresses the update does not mention
// are kept. A non-nil update.Session replaces the entry's session and increments its Generation.
// Incomplete credentials are ignored.
func (c *SessionCache) Put(fp Fingerprint, update Entry) Entry {
	c.lock.Lock()
	defer c.lock.Unlock()

	entry, ok := c.entries[fp]
	if !ok {
		entry = &Entry{Credentials: make(map[string]*credentials.DeviceCredential)}
		c.entries[fp] = entry
		c.order = append(c.order, fp)
	}
	if update.Login != (account.Login{}) {
		entry.Login = update.Login
	}
	if update.Session != nil {
		session := *update.Session
		entry.Session = &session
		entry.Generation++
	}
	for address, cred := range update.Credentials {
		if cred.Complete() {
			entry.Credentials[credentials.CanonicalAddress(address)] = cred.Clone()
		}
	}
	return entry.clone()
}

// SetCredential stores a complete credential for address in the entry for fp. It returns false if
// the entry does not exist or cred is incomplete.
func (c *SessionCache) SetCredential(fp Fingerprint, address string, cred *credentials.DeviceCredential) bool {
	if !cred.Complete() {
		return false
	}
	c.lock.Lock()
	defer c.lock.Unlock()

	entry, ok := c.entries[fp]
	if !ok {
		return false
	}
	entry.Credentials[credentials.CanonicalAddress(address)] = cred.Clone()
	return true
}

// FindByAddress returns the first entry, in insertion order, that holds a credential for address.
func (c *SessionCache) FindByAddress(address string) (Fingerprint, Entry, bool) {
	address = credentials.CanonicalAddress(address)
	c.lock.Lock()
	defer c.lock.Unlock()

	for _, fp := range c.order {
		entry := c.entries[fp]
		if _, ok := entry.Credentials[address]; ok {
			return fp, entry.clone(), true
		}
	}
	return "", Entry{}, false
}

// MarkListed records that the account's devices were listed with the entry's current session.
func (c *SessionCache) MarkListed(fp Fingerprint) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if entry, ok := c.entries[fp]; ok {
		entry.Listed = entry.Generation
	}
}

// Generation returns the Generation of the entry for fp, or zero if there is no such entry.
func (c *SessionCache) Generation(fp Fingerprint) uint64 {
	c.lock.Lock()
	defer c.lock.Unlock()

	if entry, ok := c.entries[fp]; ok {
		return entry.Generation
	}
	return 0
}

// Fingerprints returns the fingerprints of all entries in insertion order.
func (c *SessionCache) Fingerprints() []Fingerprint {
	c.lock.Lock()
	defer c.lock.Unlock()

	return append([]Fingerprint(nil), c.order...)
}

// Len returns the number of entries.
func (c *SessionCache) Len() int {
	c.lock.Lock()
	defer c.lock.Unlock()

	return len(c.entries)
}

// Lock acquires the fingerprint-specific mutex for fp, blocking until the operation succeeds or
// ctx expires. Holders may perform remote calls; the cache itself remains usable by other
// goroutines, and different fingerprints never block each other.
func (c *SessionCache) Lock(ctx context.Context, fp Fingerprint) error {
	lock := make(chan bool, 1)
	for {
		if obj, loaded := c.fpLock.LoadOrStore(fp, lock); loaded {
			select {
			case <-obj.(chan bool):
				// The goroutine that reads from the channel doesn't necessarily own the mutex. This
				// allows the owner to delete the map entry, limiting the size of the map to the
				// number of concurrent logins.
			case <-ctx.Done():
				return ctx.Err()
			}
		} else {
			return nil
		}
	}
}

// Unlock releases the fingerprint-specific mutex for fp.
func (c *SessionCache) Unlock(fp Fingerprint) {
	obj, ok := c.fpLock.Load(fp)
	if !ok {
		panic("called unlock without owning mutex")
	}
	c.fpLock.Delete(fp)
	close(obj.(chan bool))
}

// DeviceSummary describes a cached credential without its secrets.
type DeviceSummary struct {
	Address     string `json:"address"`
	Name        string `json:"name"`
	Category    string `json:"category"`
	ProductID   string `json:"product_id"`
	Functions   int    `json:"functions"`
	StatusRange int    `json:"status_range"`
}

// EntrySummary describes an entry without its secrets.
type EntrySummary struct {
	Fingerprint string          `json:"fingerprint"`
	Account     string          `json:"account"`
	LoggedIn    bool            `json:"logged_in"`
	Generation  uint64          `json:"generation"`
	Devices     []DeviceSummary `json:"devices"`
}

// Summaries describes every entry in insertion order. Fingerprints are truncated and tokens,
// passwords and local keys are omitted.
func (c *SessionCache) Summaries() []EntrySummary {
	c.lock.Lock()
	defer c.lock.Unlock()

	summaries := make([]EntrySummary, 0, len(c.order))
	for _, fp := range c.order {
		entry := c.entries[fp]
		summary := EntrySummary{
			Fingerprint: string(fp),
			Account:     entry.Login.Label(),
			LoggedIn:    entry.Session != nil,
			Generation:  entry.Generation,
			Devices:     make([]DeviceSummary, 0, len(entry.Credentials)),
		}
		if len(summary.Fingerprint) > 12 {
			summary.Fingerprint = summary.Fingerprint[:12]
		}
		for address, cred := range entry.Credentials {
			summary.Devices = append(summary.Devices, DeviceSummary{
				Address:     address,
				Name:        cred.ReadableName(address),
				Category:    cred.Category,
				ProductID:   cred.ProductID,
				Functions:   len(cred.Functions),
				StatusRange: len(cred.StatusRange),
			})
		}
		sort.Slice(summary.Devices, func(i, j int) bool {
			return summary.Devices[i].Address < summary.Devices[j].Address
		})
		summaries = append(summaries, summary)
	}
	return summaries
}

// Export writes a redacted JSON description of the cache to w. The output is meant for
// diagnostics; it cannot be imported.
func (c *SessionCache) Export(w io.Writer) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(struct {
		Entries []EntrySummary `json:"entries"`
	}{c.Summaries()})
}
