// Package storage persists board and timer state in a key-value store.
package storage

import "context"

// maxUpdateAttempts bounds optimistic retries before a conflict is surfaced.
const maxUpdateAttempts = 8

// KV is the persisted key-value store shared by the task and timer
// subsystems. Values are opaque JSON documents.
type KV interface {
	// Get returns the values stored under keys. Missing keys are absent from
	// the result rather than reported as errors.
	Get(ctx context.Context, keys ...string) (map[string][]byte, error)
	// Set overwrites every key in record.
	Set(ctx context.Context, record map[string][]byte) error
	// Update applies fn to the current value of key (nil when missing) and
	// stores the result atomically with respect to other updates of key.
	// fn may run more than once; returning an error aborts the update.
	Update(ctx context.Context, key string, fn func(current []byte) ([]byte, error)) error
}
