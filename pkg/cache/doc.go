// Package cache holds directory sessions and the device credentials fetched with them, keyed by
// the fingerprint of the account that produced them.
//
// A [SessionCache] lives for the lifetime of the process and is shared by every caller that
// resolves credentials. Entries are created on the first successful login for an account, updated
// in place on re-login, and never evicted. The credential map of an entry only grows: an address is
// added or overwritten by a successful detail fetch and never removed.
//
// Remote calls must not be made while holding the cache's internal lock; callers that need to
// serialize work for one account (for example, to make sure only one login is in flight) use
// [SessionCache.Lock] and [SessionCache.Unlock], which are scoped to a single fingerprint.
//
// The cache is not persisted. [SessionCache.Export] writes a redacted description for diagnostics
// that omits access tokens, passwords and local keys.
package cache
