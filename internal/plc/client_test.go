package plc

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/driftwoodlabs/pds/internal/common/logger"
	"github.com/driftwoodlabs/pds/internal/identity"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("", "test", "error")
	if err != nil {
		t.Fatalf("failed to build logger: %v", err)
	}
	return log
}

func buildTestOperation(t *testing.T, operator *identity.Keypair) (string, *identity.Operation) {
	t.Helper()
	signing, err := identity.GenerateKeypair()
	if err != nil {
		t.Fatalf("failed to generate signing key: %v", err)
	}
	did, op, err := identity.BuildOperation("alice.example", signing.DIDKey(), nil, "https://pds.example", operator)
	if err != nil {
		t.Fatalf("failed to build operation: %v", err)
	}
	return did, op
}

func TestSubmit_Success(t *testing.T) {
	operator, err := identity.GenerateKeypair()
	if err != nil {
		t.Fatalf("failed to generate operator key: %v", err)
	}
	did, op := buildTestOperation(t, operator)

	var gotPath string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, 5*time.Second, 0, testLogger(t))
	if err := client.Submit(context.Background(), did, op, operator); err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	if gotPath != "/transaction_2" {
		t.Errorf("expected POST to /transaction_2, got %s", gotPath)
	}

	var tx Transaction
	if err := json.Unmarshal(gotBody, &tx); err != nil {
		t.Fatalf("failed to decode submitted transaction: %v", err)
	}
	if tx.DID != did {
		t.Errorf("expected did %s, got %s", did, tx.DID)
	}
	if tx.Nonce != 0 {
		t.Errorf("expected nonce 0, got %d", tx.Nonce)
	}
	if tx.VerifyingKey != operator.DIDKey() {
		t.Error("verifying key does not name the operator")
	}

	// The signature must cover the canonical unsigned bytes.
	sig, err := base64.RawURLEncoding.DecodeString(tx.Signature)
	if err != nil {
		t.Fatalf("failed to decode signature: %v", err)
	}
	unsigned, err := tx.unsignedBytes()
	if err != nil {
		t.Fatalf("failed to serialize unsigned transaction: %v", err)
	}
	if !identity.VerifyDIDKeySignature(tx.VerifyingKey, unsigned, sig) {
		t.Error("transaction signature does not verify")
	}
}

func TestSubmit_Rejected(t *testing.T) {
	operator, _ := identity.GenerateKeypair()
	did, op := buildTestOperation(t, operator)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, 5*time.Second, 0, testLogger(t))
	err := client.Submit(context.Background(), did, op, operator)
	if !errors.Is(err, ErrSubmissionFailed) {
		t.Errorf("expected ErrSubmissionFailed, got %v", err)
	}
}

func TestSubmit_NetworkError(t *testing.T) {
	operator, _ := identity.GenerateKeypair()
	did, op := buildTestOperation(t, operator)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	client := NewClient(srv.URL, time.Second, 0, testLogger(t))
	err := client.Submit(context.Background(), did, op, operator)
	if !errors.Is(err, ErrSubmissionFailed) {
		t.Errorf("expected ErrSubmissionFailed, got %v", err)
	}
}

func TestSubmit_SettleWaitCancelled(t *testing.T) {
	operator, _ := identity.GenerateKeypair()
	did, op := buildTestOperation(t, operator)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, 5*time.Second, time.Minute, testLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := client.Submit(ctx, did, op, operator)
	if !errors.Is(err, ErrSubmissionFailed) {
		t.Errorf("expected ErrSubmissionFailed on cancelled settle wait, got %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("cancelled settle wait blocked for too long")
	}
}

func TestSubmit_ZeroSettleDelayReturnsImmediately(t *testing.T) {
	operator, _ := identity.GenerateKeypair()
	did, op := buildTestOperation(t, operator)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, 5*time.Second, 0, testLogger(t))

	start := time.Now()
	if err := client.Submit(context.Background(), did, op, operator); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if time.Since(start) > time.Second {
		t.Error("zero settle delay should not block")
	}
}
