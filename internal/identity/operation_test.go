package identity

import (
	"strings"
	"testing"
)

func testSigner(t *testing.T) *Keypair {
	t.Helper()
	kp, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("failed to generate keypair: %v", err)
	}
	return kp
}

func TestBuildOperation_Basics(t *testing.T) {
	operator := testSigner(t)
	signing := testSigner(t)

	did, op, err := BuildOperation("alice.example", signing.DIDKey(), nil, "https://pds.example", operator)
	if err != nil {
		t.Fatalf("failed to build operation: %v", err)
	}

	if !strings.HasPrefix(did, "did:plc:") {
		t.Errorf("expected did:plc prefix, got %s", did)
	}
	if len(did) != len("did:plc:")+24 {
		t.Errorf("unexpected did length: %s", did)
	}

	if op.Handle() != "alice.example" {
		t.Errorf("expected handle alice.example, got %s", op.Handle())
	}
	if op.ServiceEndpoint() != "https://pds.example" {
		t.Errorf("expected service endpoint, got %s", op.ServiceEndpoint())
	}
	if op.SigningKey() != signing.DIDKey() {
		t.Error("signing key not recorded in verification methods")
	}
	if !op.HasRotationKey(operator.DIDKey()) {
		t.Error("operator key missing from rotation keys")
	}

	if err := VerifyOperation(op); err != nil {
		t.Errorf("freshly built operation failed verification: %v", err)
	}
}

func TestBuildOperation_RotationKeyOrder(t *testing.T) {
	operator := testSigner(t)
	signing := testSigner(t)
	recovery := testSigner(t)

	rotation := []string{recovery.DIDKey(), "", recovery.DIDKey(), operator.DIDKey()}
	_, op, err := BuildOperation("alice.example", signing.DIDKey(), rotation, "https://pds.example", operator)
	if err != nil {
		t.Fatalf("failed to build operation: %v", err)
	}

	want := []string{recovery.DIDKey(), operator.DIDKey()}
	if len(op.RotationKeys) != len(want) {
		t.Fatalf("expected %d rotation keys, got %d", len(want), len(op.RotationKeys))
	}
	for i, key := range want {
		if op.RotationKeys[i] != key {
			t.Errorf("rotation key %d: expected %s, got %s", i, key, op.RotationKeys[i])
		}
	}
}

func TestDeriveDID_Deterministic(t *testing.T) {
	operator := testSigner(t)
	signing := testSigner(t)

	did, op, err := BuildOperation("alice.example", signing.DIDKey(), nil, "https://pds.example", operator)
	if err != nil {
		t.Fatalf("failed to build operation: %v", err)
	}

	again, err := DeriveDID(op)
	if err != nil {
		t.Fatalf("failed to derive did: %v", err)
	}
	if again != did {
		t.Errorf("derived did changed: %s vs %s", did, again)
	}
}

func TestVerifyOperation_Failures(t *testing.T) {
	operator := testSigner(t)
	signing := testSigner(t)

	_, op, err := BuildOperation("alice.example", signing.DIDKey(), nil, "https://pds.example", operator)
	if err != nil {
		t.Fatalf("failed to build operation: %v", err)
	}

	t.Run("wrong type", func(t *testing.T) {
		bad := *op
		bad.Type = "something_else"
		if err := VerifyOperation(&bad); err == nil {
			t.Error("expected verification failure")
		}
	})

	t.Run("no rotation keys", func(t *testing.T) {
		bad := *op
		bad.RotationKeys = nil
		if err := VerifyOperation(&bad); err == nil {
			t.Error("expected verification failure")
		}
	})

	t.Run("unsigned", func(t *testing.T) {
		bad := *op
		bad.Sig = ""
		if err := VerifyOperation(&bad); err == nil {
			t.Error("expected verification failure")
		}
	})

	t.Run("tampered content", func(t *testing.T) {
		bad := *op
		bad.AlsoKnownAs = []string{"at://mallory.example"}
		if err := VerifyOperation(&bad); err == nil {
			t.Error("expected verification failure")
		}
	})

	t.Run("signer not a rotation key", func(t *testing.T) {
		outsider := testSigner(t)
		bad := *op
		bad.RotationKeys = []string{outsider.DIDKey()}
		if err := VerifyOperation(&bad); err == nil {
			t.Error("expected verification failure")
		}
	})
}

func TestParseOperation(t *testing.T) {
	operator := testSigner(t)
	signing := testSigner(t)

	_, op, err := BuildOperation("alice.example", signing.DIDKey(), nil, "https://pds.example", operator)
	if err != nil {
		t.Fatalf("failed to build operation: %v", err)
	}

	raw, err := op.SignedBytes()
	if err != nil {
		t.Fatalf("failed to serialize: %v", err)
	}

	parsed, err := ParseOperation(raw)
	if err != nil {
		t.Fatalf("failed to parse: %v", err)
	}
	if parsed.Sig != op.Sig {
		t.Error("signature lost in round trip")
	}

	if _, err := ParseOperation([]byte(`{"type":"not_an_op"}`)); err == nil {
		t.Error("expected error for wrong operation type")
	}
	if _, err := ParseOperation([]byte(`{`)); err == nil {
		t.Error("expected error for malformed json")
	}
}
