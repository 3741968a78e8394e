package provision

import (
	"encoding/json"

	"github.com/driftwoodlabs/pds/internal/identity"
)

// PlanKind discriminates the two trust models a request can be validated
// under.
type PlanKind int

const (
	// PlanEntryway trusts identity material vouched for by an upstream
	// federation gateway.
	PlanEntryway PlanKind = iota
	// PlanLocal is a direct signup validated entirely by this service.
	PlanLocal
)

// Request is the raw createAccount input, immutable once received.
type Request struct {
	DID         string
	Handle      string
	Email       string
	Password    string
	InviteCode  string
	RecoveryKey string
	// Operation is an optional pre-built, signed identity operation
	// supplied by an entryway on behalf of the caller.
	Operation json.RawMessage
	// AuthedDID is the DID of the authenticated caller when the request
	// carried valid credentials, empty otherwise.
	AuthedDID string
}

// Plan is the validated, canonical form of one provisioning request.
// Exactly one of two shapes holds: a caller-supplied DID with no
// operation (deactivated until the identity is published), or a freshly
// minted DID whose operation still has to reach the ledger.
type Plan struct {
	Kind        PlanKind
	DID         string
	Handle      string
	Email       string
	Password    string
	InviteCode  string
	SigningKey  *identity.Keypair
	Operation   *identity.Operation
	Deactivated bool
}
