// Package bufpool provides the buffer strategies used to read request
// bodies. A Pool is a per-engine value passed explicitly; there is no
// process-wide pool.
package bufpool
