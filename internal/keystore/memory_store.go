package keystore

import (
	"context"
	"sync"

	"github.com/driftwoodlabs/pds/internal/identity"
)

type reservation struct {
	did      string
	keypair  *identity.Keypair
	consumed bool
}

// MemoryStore holds reservations in memory. Used by tests and single-node
// setups without a shared database.
type MemoryStore struct {
	mu    sync.Mutex
	byDID map[string]*reservation
	byKey map[string]*reservation
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byDID: make(map[string]*reservation),
		byKey: make(map[string]*reservation),
	}
}

func (s *MemoryStore) Reserve(ctx context.Context, did string) (*identity.Keypair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r, ok := s.byDID[did]; ok && !r.consumed {
		return r.keypair, nil
	}

	kp, err := identity.GenerateKeypair()
	if err != nil {
		return nil, err
	}

	r := &reservation{did: did, keypair: kp}
	s.byDID[did] = r
	s.byKey[kp.DIDKey()] = r

	return kp, nil
}

func (s *MemoryStore) GetReserved(ctx context.Context, keyID string) (*identity.Keypair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.byKey[keyID]
	if !ok || r.consumed {
		return nil, nil
	}
	return r.keypair, nil
}

func (s *MemoryStore) GetReservedForDID(ctx context.Context, did string) (*identity.Keypair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.byDID[did]
	if !ok || r.consumed {
		return nil, nil
	}
	return r.keypair, nil
}

func (s *MemoryStore) Escrow(ctx context.Context, did string, kp *identity.Keypair) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r, ok := s.byDID[did]; ok && !r.consumed {
		if r.keypair.DIDKey() == kp.DIDKey() {
			return nil
		}
		return ErrDIDBusy
	}

	if r, ok := s.byKey[kp.DIDKey()]; ok && !r.consumed {
		// Rebind a pre-reserved key to the DID it ends up serving.
		delete(s.byDID, r.did)
		r.did = did
		s.byDID[did] = r
		return nil
	}

	r := &reservation{did: did, keypair: kp}
	s.byDID[did] = r
	s.byKey[kp.DIDKey()] = r
	return nil
}

func (s *MemoryStore) Release(ctx context.Context, keyID, did string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r, ok := s.byKey[keyID]; ok && r.did == did {
		r.consumed = true
	}
	return nil
}
