package repo

import (
	"context"
	"crypto/sha256"
	"encoding/base32"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrRepoExists   = errors.New("repository already exists for this did")
	ErrRepoNotFound = errors.New("repository not found")
)

// Commit identifies the durable head of an actor repository.
type Commit struct {
	CID string
	Rev string
}

// Store owns per-account repositories. Creation and destruction are
// DID-scoped; a create after a destroy for the same DID is safe.
type Store interface {
	// Create initializes an empty repository for did, returning its
	// initial commit.
	Create(ctx context.Context, did, signingKeyID string) (Commit, error)
	// Transact applies fn and produces a new head commit.
	Transact(ctx context.Context, did string, fn func(ctx context.Context) error) (Commit, error)
	// Destroy removes the repository for did. Destroying an absent
	// repository is a no-op.
	Destroy(ctx context.Context, did string) error
}

var cidEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// commitCID derives a content identifier from the commit's canonical
// fields. Fixed field order in the preimage keeps it deterministic.
func commitCID(did, rev, prev string) string {
	sum := sha256.Sum256([]byte(did + "\n" + rev + "\n" + prev))
	return "b" + strings.ToLower(cidEncoding.EncodeToString(sum[:]))
}

func validateDID(did string) error {
	if did == "" {
		return fmt.Errorf("empty did")
	}
	return nil
}
