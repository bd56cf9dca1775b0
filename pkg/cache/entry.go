package cache

import (
	"time"
)

// DefaultTTL is how long a property list stays valid.
const DefaultTTL = 1 * time.Hour

// Entry is a cached property list.
type Entry struct {
	// Names are the property names in API order.
	Names []string `json:"names"`

	// Expires is when the entry becomes stale.
	Expires time.Time `json:"expires"`

	// CachedAt is when the list was fetched.
	CachedAt time.Time `json:"cached_at"`
}

// NewEntry creates an entry for names valid for ttl. A non-positive ttl uses DefaultTTL.
func NewEntry(names []string, ttl time.Duration) *Entry {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now := time.Now()
	return &Entry{
		Names:    append([]string(nil), names...),
		Expires:  now.Add(ttl),
		CachedAt: now,
	}
}

// IsExpired returns true if the cache entry has expired.
func (e *Entry) IsExpired() bool {
	return time.Now().After(e.Expires)
}

// TTL returns the time until expiration.
// Returns 0 if already expired.
func (e *Entry) TTL() time.Duration {
	ttl := time.Until(e.Expires)
	if ttl < 0 {
		return 0
	}
	return ttl
}
