package keystore

import (
	"context"
	"errors"

	"github.com/driftwoodlabs/pds/internal/identity"
)

// ErrDIDBusy means an unconsumed reservation for a different key already
// exists for the DID, i.e. another provisioning attempt holds it.
var ErrDIDBusy = errors.New("a signing key is already reserved for this did")

// Store escrows signing keypairs reserved for DIDs being provisioned. A
// DID holds at most one unconsumed reservation at a time, which also
// serializes concurrent provisioning attempts for the same DID.
type Store interface {
	// Reserve returns the unconsumed keypair held for did, generating and
	// persisting one if none exists. Idempotent per DID.
	Reserve(ctx context.Context, did string) (*identity.Keypair, error)
	// GetReserved looks up an unconsumed keypair by its did:key id.
	// Returns (nil, nil) when no reservation exists.
	GetReserved(ctx context.Context, keyID string) (*identity.Keypair, error)
	// GetReservedForDID looks up the unconsumed keypair held for did
	// without creating one. Returns (nil, nil) when no reservation exists.
	GetReservedForDID(ctx context.Context, did string) (*identity.Keypair, error)
	// Escrow records kp as the unconsumed reservation for did. When the
	// key is already reserved under another DID the reservation is rebound
	// to did; a different key held for did fails with ErrDIDBusy.
	Escrow(ctx context.Context, did string, kp *identity.Keypair) error
	// Release marks the reservation consumed so the key can never be
	// handed out again. Releasing an already-released or unknown key is a
	// no-op.
	Release(ctx context.Context, keyID, did string) error
}
