// Package remote defines the RemoteProvider boundary (§4.6): the capability
// set {get, put, purge, test} against the upstream, authoritative asset
// store. The core only ever depends on this interface — never a concrete
// upstream type — mirroring crowdriff-lru's Store interface (store.go),
// generalized from read-only Get to the full CRUD set this spec requires.
package remote

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/kf6kjg/whip-lru/internal/asset"
)

// Sentinel errors a Provider implementation may return (wrapped or bare).
var (
	ErrNotFound  = errors.New("remote: asset not found")
	ErrDuplicate = errors.New("remote: asset already exists")
)

// TransientError wraps an upstream failure the core should retry with
// backoff, per §4.6/§7.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "remote: transient error: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err as a TransientError. A nil err yields a nil error.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// IsTransient reports whether err (or something it wraps) is a TransientError.
func IsTransient(err error) bool {
	var t *TransientError
	return errors.As(err, &t)
}

// Provider is the upstream asset store's interface, as seen by
// StorageManager.
type Provider interface {
	// Get retrieves the asset identified by id. Returns ErrNotFound if
	// absent, or a TransientError if the upstream call should be retried.
	Get(ctx context.Context, id uuid.UUID) (*asset.Asset, error)

	// Put uploads a. Returns ErrDuplicate if the upstream already has this
	// id, or a TransientError if retryable.
	Put(ctx context.Context, a *asset.Asset) error

	// Purge deletes the asset identified by id. Returns ErrNotFound if
	// absent, or a TransientError if retryable.
	Purge(ctx context.Context, id uuid.UUID) error

	// Test reports whether id exists upstream, without fetching its data.
	Test(ctx context.Context, id uuid.UUID) (bool, error)
}

// NoProvider is a Provider that treats every asset as absent. It is the
// default when no upstream is configured, matching crowdriff-lru's noStore.
type NoProvider struct{}

func (NoProvider) Get(context.Context, uuid.UUID) (*asset.Asset, error) { return nil, ErrNotFound }
func (NoProvider) Put(context.Context, *asset.Asset) error              { return nil }
func (NoProvider) Purge(context.Context, uuid.UUID) error               { return ErrNotFound }
func (NoProvider) Test(context.Context, uuid.UUID) (bool, error)        { return false, nil }
