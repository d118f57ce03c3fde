// Package hoststatus caches a multi-host connection's last known
// read-write/read-only role, process-wide, so Connect doesn't have to
// run "SHOW transaction_read_only" against every fallback candidate on
// every call when TargetSessionAttrs narrows the search.
package hoststatus

import (
	"sync"
	"time"
)

// Role is a host's last observed position in a primary/standby setup.
type Role int

const (
	RoleUnknown Role = iota
	RolePrimary
	RoleStandby
)

type entry struct {
	role      Role
	checkedAt time.Time
}

// Cache is a TTL cache of Role keyed by "host:port". The zero value is
// ready to use.
type Cache struct {
	mu  sync.Mutex
	ttl time.Duration
	m   map[string]entry
}

// NewCache returns a Cache whose entries expire after ttl.
func NewCache(ttl time.Duration) *Cache {
	return &Cache{ttl: ttl, m: make(map[string]entry)}
}

// Get returns the cached role for addr and true, or RoleUnknown and
// false if there is no unexpired entry.
func (c *Cache) Get(addr string) (Role, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.m[addr]
	if !ok || time.Since(e.checkedAt) > c.ttl {
		return RoleUnknown, false
	}
	return e.role, true
}

// Set records role as addr's current status, timestamped now.
func (c *Cache) Set(addr string, role Role) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.m == nil {
		c.m = make(map[string]entry)
	}
	c.m[addr] = entry{role: role, checkedAt: time.Now()}
}

// Invalidate drops any cached entry for addr, forcing the next Get to
// miss. Used after a failed write on a host this cache called primary.
func (c *Cache) Invalidate(addr string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.m, addr)
}
