// Package lock serializes builds sharing a work directory.
package lock
