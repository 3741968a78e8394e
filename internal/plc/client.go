package plc

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	commonerrors "github.com/driftwoodlabs/pds/internal/common/errors"

	"github.com/driftwoodlabs/pds/internal/common/logger"
	"github.com/driftwoodlabs/pds/internal/identity"
	"github.com/driftwoodlabs/pds/internal/observability/metrics"
)

// transactionNonce is fixed at 0 for every submission. The ledger's
// per-DID sequencing contract is not published; until it is, a failed
// request mints a brand-new operation rather than resubmitting under a
// bumped nonce.
const transactionNonce = 0

var ErrSubmissionFailed = commonerrors.NewDomainError(
	"LEDGER_SUBMISSION_FAILED",
	commonerrors.CategoryExternal,
	http.StatusBadGateway,
	"identity ledger rejected the transaction",
)

// Transaction is the ledger envelope. Field order is fixed by this struct
// declaration; the signature covers the JSON encoding of exactly these
// fields, in this order, with Signature empty. Never reorder them.
type Transaction struct {
	DID          string              `json:"did"`
	Operation    *identity.Operation `json:"operation"`
	Nonce        int                 `json:"nonce"`
	VerifyingKey string              `json:"verifyingKey"`
	Signature    string              `json:"signature,omitempty"`
}

func (t *Transaction) unsignedBytes() ([]byte, error) {
	unsigned := *t
	unsigned.Signature = ""
	return json.Marshal(&unsigned)
}

// Submitter packages signed operations into ledger transactions. Mocked
// in orchestrator tests.
type Submitter interface {
	Submit(ctx context.Context, did string, op *identity.Operation, signer identity.Signer) error
}

type Client struct {
	baseURL     string
	client      *http.Client
	settleDelay time.Duration
	log         *logger.Logger
}

func NewClient(baseURL string, timeout, settleDelay time.Duration, log *logger.Logger) *Client {
	return &Client{
		baseURL:     baseURL,
		client:      &http.Client{Timeout: timeout},
		settleDelay: settleDelay,
		log:         log,
	}
}

// Submit signs and posts one transaction, then waits for the configured
// settle delay. Any transport error or non-2xx response fails the
// submission; there is no retry. The settle wait aborts on context
// cancellation.
func (c *Client) Submit(ctx context.Context, did string, op *identity.Operation, signer identity.Signer) error {
	tx := &Transaction{
		DID:          did,
		Operation:    op,
		Nonce:        transactionNonce,
		VerifyingKey: signer.DIDKey(),
	}

	unsigned, err := tx.unsignedBytes()
	if err != nil {
		return ErrSubmissionFailed.WithCause(err)
	}

	sig, err := signer.Sign(unsigned)
	if err != nil {
		return ErrSubmissionFailed.WithCause(fmt.Errorf("failed to sign transaction: %w", err))
	}
	tx.Signature = base64.RawURLEncoding.EncodeToString(sig)

	body, err := json.Marshal(tx)
	if err != nil {
		return ErrSubmissionFailed.WithCause(err)
	}

	endpoint := c.baseURL + "/transaction_2"

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return ErrSubmissionFailed.WithCause(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		metrics.LedgerSubmissionsTotal.WithLabelValues("network_error").Inc()
		return ErrSubmissionFailed.WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		metrics.LedgerSubmissionsTotal.WithLabelValues("rejected").Inc()
		c.log.WithFields(ctx, logger.Fields{
			"did":    did,
			"status": resp.StatusCode,
			"action": "ledger_submission_rejected",
		}).Warn("ledger rejected transaction")
		return ErrSubmissionFailed.WithCause(fmt.Errorf("ledger returned status %d", resp.StatusCode))
	}

	metrics.LedgerSubmissionsTotal.WithLabelValues("accepted").Inc()

	return c.waitForSettle(ctx, did)
}

// waitForSettle blocks until the ledger has had time to make the
// operation queryable. A cancelled context aborts the wait and fails the
// submission so the caller rolls back.
func (c *Client) waitForSettle(ctx context.Context, did string) error {
	if c.settleDelay <= 0 {
		return nil
	}

	start := time.Now()
	timer := time.NewTimer(c.settleDelay)
	defer timer.Stop()

	select {
	case <-timer.C:
		metrics.LedgerSettleWaitSeconds.Observe(time.Since(start).Seconds())
		return nil
	case <-ctx.Done():
		c.log.WithFields(ctx, logger.Fields{
			"did":    did,
			"action": "ledger_settle_wait_cancelled",
		}).Warn("settle wait cancelled")
		return ErrSubmissionFailed.WithCause(ctx.Err())
	}
}
