// Package session tracks active peer connections: a semaphore-bounded
// registry with per-connection health, request accounting and idle reaping.
package session
