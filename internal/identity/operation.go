package identity

import (
	"crypto/sha256"
	"encoding/base32"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const (
	OperationType = "plc_operation"

	signingKeyID  = "atproto"
	pdsServiceID  = "atproto_pds"
	pdsServiceTag = "AtprotoPersonalDataServer"

	didPrefix = "did:plc:"
	didLength = 24
)

var (
	ErrNoRotationKeys   = errors.New("operation declares no rotation keys")
	ErrUnsignedOp       = errors.New("operation is not signed")
	ErrBadOperationSig  = errors.New("operation signature does not verify against any rotation key")
	ErrWrongOperationTy = errors.New("unexpected operation type")
)

// Service is a service entry inside an identity operation.
type Service struct {
	Type     string `json:"type"`
	Endpoint string `json:"endpoint"`
}

// Operation is a ledger operation describing a DID's keys and services.
// Field order is fixed by this struct declaration; the canonical byte form
// used for signing and DID derivation is the JSON encoding of exactly
// these fields in this order. Never reorder them.
type Operation struct {
	Type                string             `json:"type"`
	RotationKeys        []string           `json:"rotationKeys"`
	VerificationMethods map[string]string  `json:"verificationMethods"`
	AlsoKnownAs         []string           `json:"alsoKnownAs"`
	Services            map[string]Service `json:"services"`
	Prev                *string            `json:"prev"`
	Sig                 string             `json:"sig,omitempty"`
}

func (op *Operation) SigningKey() string {
	return op.VerificationMethods[signingKeyID]
}

func (op *Operation) Handle() string {
	for _, aka := range op.AlsoKnownAs {
		if h, ok := strings.CutPrefix(aka, "at://"); ok {
			return h
		}
	}
	return ""
}

func (op *Operation) ServiceEndpoint() string {
	return op.Services[pdsServiceID].Endpoint
}

func (op *Operation) HasRotationKey(didKey string) bool {
	for _, k := range op.RotationKeys {
		if k == didKey {
			return true
		}
	}
	return false
}

// UnsignedBytes serializes the operation with the signature stripped.
func (op *Operation) UnsignedBytes() ([]byte, error) {
	unsigned := *op
	unsigned.Sig = ""
	return json.Marshal(&unsigned)
}

// SignedBytes serializes the full operation including its signature.
func (op *Operation) SignedBytes() ([]byte, error) {
	if op.Sig == "" {
		return nil, ErrUnsignedOp
	}
	return json.Marshal(op)
}

func ParseOperation(raw []byte) (*Operation, error) {
	var op Operation
	if err := json.Unmarshal(raw, &op); err != nil {
		return nil, fmt.Errorf("failed to parse identity operation: %w", err)
	}
	if op.Type != OperationType {
		return nil, ErrWrongOperationTy
	}
	return &op, nil
}

// BuildOperation assembles and signs a create operation for a new DID.
// Rotation keys are deduplicated with insertion order preserved; the
// signer's own key is appended when the caller left it out, so earlier
// (recovery) entries keep rotation priority. The returned DID is derived
// from the signed operation's content hash, never chosen.
func BuildOperation(handle, signingKeyDID string, rotationKeys []string, serviceEndpoint string, signer Signer) (string, *Operation, error) {
	keys := dedupeKeys(rotationKeys)
	if !containsKey(keys, signer.DIDKey()) {
		keys = append(keys, signer.DIDKey())
	}

	op := &Operation{
		Type:                OperationType,
		RotationKeys:        keys,
		VerificationMethods: map[string]string{signingKeyID: signingKeyDID},
		AlsoKnownAs:         []string{"at://" + handle},
		Services: map[string]Service{
			pdsServiceID: {Type: pdsServiceTag, Endpoint: serviceEndpoint},
		},
		Prev: nil,
	}

	unsigned, err := op.UnsignedBytes()
	if err != nil {
		return "", nil, err
	}

	sig, err := signer.Sign(unsigned)
	if err != nil {
		return "", nil, err
	}
	op.Sig = base64.RawURLEncoding.EncodeToString(sig)

	did, err := DeriveDID(op)
	if err != nil {
		return "", nil, err
	}

	return did, op, nil
}

// DeriveDID computes the deterministic DID for a signed operation: the
// truncated base32 sha-256 of its canonical signed bytes.
func DeriveDID(op *Operation) (string, error) {
	signed, err := op.SignedBytes()
	if err != nil {
		return "", err
	}

	sum := sha256.Sum256(signed)
	encoded := strings.ToLower(base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(sum[:]))
	return didPrefix + encoded[:didLength], nil
}

// VerifyOperation checks structural validity and that the signature
// verifies against at least one declared rotation key.
func VerifyOperation(op *Operation) error {
	if op.Type != OperationType {
		return ErrWrongOperationTy
	}
	if len(op.RotationKeys) == 0 {
		return ErrNoRotationKeys
	}
	if op.Sig == "" {
		return ErrUnsignedOp
	}

	sig, err := base64.RawURLEncoding.DecodeString(op.Sig)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadOperationSig, err)
	}

	unsigned, err := op.UnsignedBytes()
	if err != nil {
		return err
	}

	for _, key := range op.RotationKeys {
		if VerifyDIDKeySignature(key, unsigned, sig) {
			return nil
		}
	}

	return ErrBadOperationSig
}

func dedupeKeys(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}

func containsKey(keys []string, key string) bool {
	for _, k := range keys {
		if k == key {
			return true
		}
	}
	return false
}
