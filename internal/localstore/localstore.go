// Package localstore provides the durable key→string storage port that
// backs the conversation collection and the day-scoped cache. It is the
// server-side stand-in for a browser's local storage: a flat namespace
// of string keys holding string values.
package localstore

import "errors"

// ErrQuotaExceeded is returned by Set when storing the value would push
// the total stored size past the configured quota.
var ErrQuotaExceeded = errors.New("storage quota exceeded")

// Storage is a synchronous key→string store.
type Storage interface {
	// Get returns the value for key. ok is false when the key is absent.
	Get(key string) (value string, ok bool, err error)

	// Set stores value under key, replacing any previous value.
	Set(key, value string) error

	// Remove deletes key. Removing an absent key is not an error.
	Remove(key string) error

	// Keys returns every stored key in sorted order.
	Keys() ([]string, error)
}
