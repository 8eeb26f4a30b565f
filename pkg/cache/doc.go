// Package cache provides a generic in-process LRU cache with per-entry TTL.
// It backs the in-memory entitlement cache used in development and tests.
package cache
