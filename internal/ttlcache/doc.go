// Package ttlcache provides a size-bounded, time-limited cache whose entries
// are read at most once. The gateway uses it to park OAuth2 login outcomes
// until the polling desk client collects them.
package ttlcache
