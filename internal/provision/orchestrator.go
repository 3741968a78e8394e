package provision

import (
	"context"
	"errors"
	"time"

	commonerrors "github.com/driftwoodlabs/pds/internal/common/errors"

	"github.com/driftwoodlabs/pds/internal/account/repository"
	"github.com/driftwoodlabs/pds/internal/account/service"
	"github.com/driftwoodlabs/pds/internal/common/constants"
	"github.com/driftwoodlabs/pds/internal/common/logger"
	"github.com/driftwoodlabs/pds/internal/identity"
	"github.com/driftwoodlabs/pds/internal/invite"
	"github.com/driftwoodlabs/pds/internal/keystore"
	"github.com/driftwoodlabs/pds/internal/observability/metrics"
	"github.com/driftwoodlabs/pds/internal/plc"
	"github.com/driftwoodlabs/pds/internal/repo"
	"github.com/driftwoodlabs/pds/internal/sequencer"
)

const rollbackTimeout = 30 * time.Second

// Result is what a successful provisioning attempt hands back to the API
// layer.
type Result struct {
	Handle      string
	DID         string
	Document    *identity.Document
	Session     service.Session
	Deactivated bool
}

type OrchestratorDeps struct {
	Keys      keystore.Store
	Repos     repo.Store
	Accounts  service.Manager
	Invites   invite.Store
	Ledger    plc.Submitter
	Resolver  identity.Resolver
	Sequencer sequencer.Sequencer
	Operator  identity.Signer
	Log       *logger.Logger
}

// Orchestrator drives a plan through the provisioning pipeline: reserve
// the signing key, create the local repository, publish the identity
// operation when the plan carries one, persist the account and sequence
// its lifecycle events. Once the repository exists every failure runs
// the accumulated compensating actions in reverse, so a failed attempt
// leaves no trace.
type Orchestrator struct {
	keys     keystore.Store
	repos    repo.Store
	accounts service.Manager
	invites  invite.Store
	ledger   plc.Submitter
	resolver identity.Resolver
	seq      sequencer.Sequencer
	operator identity.Signer
	log      *logger.Logger
}

func NewOrchestrator(deps OrchestratorDeps) *Orchestrator {
	return &Orchestrator{
		keys:     deps.Keys,
		repos:    deps.Repos,
		accounts: deps.Accounts,
		invites:  deps.Invites,
		ledger:   deps.Ledger,
		resolver: deps.Resolver,
		seq:      deps.Sequencer,
		operator: deps.Operator,
		log:      deps.Log,
	}
}

func (o *Orchestrator) Provision(ctx context.Context, plan Plan) (Result, error) {
	kp, err := o.reserveKey(ctx, plan)
	if err != nil {
		return failEarly(err)
	}

	commit, err := o.repos.Create(ctx, plan.DID, kp.DIDKey())
	if err != nil {
		if errors.Is(err, repo.ErrRepoExists) {
			return failEarly(ErrProvisionInFlight.WithCause(err))
		}
		return failEarly(commonerrors.ErrInternal.WithCause(err))
	}

	var compensators []func(context.Context)
	compensators = append(compensators, func(cctx context.Context) {
		if err := o.repos.Destroy(cctx, plan.DID); err != nil {
			o.log.WithFields(cctx, logger.Fields{
				"did":    plan.DID,
				"action": "rollback_destroy_repo",
			}).Errorf("failed to destroy repository during rollback: %v", err)
		}
	})

	// Rollback never replaces the original error; compensator failures
	// are logged as secondary diagnostics.
	fail := func(cause error) (Result, error) {
		o.rollback(ctx, plan.DID, compensators)
		metrics.ProvisioningAttemptsTotal.WithLabelValues("rolled_back").Inc()
		return Result{}, cause
	}

	if plan.Operation != nil {
		// The operator key authorizes the transaction even when another
		// rotation key authored the operation content.
		if err := o.ledger.Submit(ctx, plan.DID, plan.Operation, o.operator); err != nil {
			return fail(err)
		}
	}

	doc, err := o.resolver.Resolve(ctx, plan.DID, true)
	if err != nil {
		return fail(commonerrors.ErrInternal.WithCause(err))
	}

	session, err := o.accounts.CreateAccountAndSession(ctx, service.CreateParams{
		DID:         plan.DID,
		Handle:      plan.Handle,
		Email:       plan.Email,
		Password:    plan.Password,
		RepoCID:     commit.CID,
		RepoRev:     commit.Rev,
		Deactivated: plan.Deactivated,
	})
	if err != nil {
		return fail(mapAccountError(err))
	}

	compensators = append(compensators, func(cctx context.Context) {
		if err := o.accounts.DeleteAccount(cctx, plan.DID); err != nil {
			o.log.WithFields(cctx, logger.Fields{
				"did":    plan.DID,
				"action": "rollback_delete_account",
			}).Errorf("failed to delete account during rollback: %v", err)
		}
	})

	if plan.InviteCode != "" {
		if err := o.invites.MarkUsed(ctx, plan.InviteCode, plan.DID); err != nil {
			return fail(commonerrors.ErrInternal.WithCause(err))
		}
	}

	if !plan.Deactivated {
		if err := o.sequenceLifecycle(ctx, plan, commit); err != nil {
			return fail(commonerrors.ErrInternal.WithCause(err))
		}
	}

	if err := o.accounts.UpdateRepoRoot(ctx, plan.DID, commit.CID, commit.Rev); err != nil {
		return fail(commonerrors.ErrInternal.WithCause(err))
	}

	if err := o.keys.Release(ctx, kp.DIDKey(), plan.DID); err != nil {
		// The account is live; a stuck reservation is recoverable and not
		// worth failing the signup over.
		o.log.WithFields(ctx, logger.Fields{
			"did":    plan.DID,
			"action": "release_signing_key",
		}).Errorf("failed to release signing key: %v", err)
	}

	metrics.ProvisioningAttemptsTotal.WithLabelValues("success").Inc()
	o.log.WithFields(ctx, logger.Fields{
		"did":    plan.DID,
		"handle": plan.Handle,
		"action": "provisioning_complete",
	}).Info("account provisioned")

	return Result{
		Handle:      plan.Handle,
		DID:         plan.DID,
		Document:    doc,
		Session:     session,
		Deactivated: plan.Deactivated,
	}, nil
}

// reserveKey makes the plan's keypair the unconsumed reservation for the
// target DID, or mints one when the plan carries none. The reservation
// doubles as the mutual-exclusion point for concurrent attempts on the
// same DID.
func (o *Orchestrator) reserveKey(ctx context.Context, plan Plan) (*identity.Keypair, error) {
	if plan.SigningKey == nil {
		kp, err := o.keys.Reserve(ctx, plan.DID)
		if err != nil {
			return nil, commonerrors.ErrInternal.WithCause(err)
		}
		return kp, nil
	}

	if err := o.keys.Escrow(ctx, plan.DID, plan.SigningKey); err != nil {
		if errors.Is(err, keystore.ErrDIDBusy) {
			return nil, ErrProvisionInFlight.WithCause(err)
		}
		return nil, commonerrors.ErrInternal.WithCause(err)
	}
	return plan.SigningKey, nil
}

// sequenceLifecycle emits the four lifecycle events in their fixed order.
// Downstream consumers assume the identity exists before the account is
// active, and the account is active before any repo event.
func (o *Orchestrator) sequenceLifecycle(ctx context.Context, plan Plan, commit repo.Commit) error {
	if err := o.seq.SequenceIdentityEvent(ctx, sequencer.IdentityEvent{DID: plan.DID, Handle: plan.Handle}); err != nil {
		return err
	}
	if err := o.seq.SequenceAccountEvent(ctx, sequencer.AccountEvent{DID: plan.DID, Active: true}); err != nil {
		return err
	}
	if err := o.seq.SequenceCommitEvent(ctx, sequencer.CommitEvent{DID: plan.DID, CID: commit.CID, Rev: commit.Rev}); err != nil {
		return err
	}
	return o.seq.SequenceSyncEvent(ctx, sequencer.SyncEvent{DID: plan.DID, CID: commit.CID, Rev: commit.Rev})
}

// rollback runs compensators newest-first on a fresh context so cleanup
// still happens when the request context is already cancelled.
func (o *Orchestrator) rollback(ctx context.Context, did string, compensators []func(context.Context)) {
	metrics.ProvisioningRollbacksTotal.Inc()

	cctx := context.Background()
	if traceID, ok := ctx.Value(constants.TraceIDKey).(string); ok {
		cctx = context.WithValue(cctx, constants.TraceIDKey, traceID)
	}
	cctx, cancel := context.WithTimeout(cctx, rollbackTimeout)
	defer cancel()

	o.log.WithFields(cctx, logger.Fields{
		"did":    did,
		"action": "provisioning_rollback",
	}).Warn("rolling back failed provisioning attempt")

	for i := len(compensators) - 1; i >= 0; i-- {
		compensators[i](cctx)
	}
}

func failEarly(err error) (Result, error) {
	metrics.ProvisioningAttemptsTotal.WithLabelValues("failed").Inc()
	return Result{}, err
}

func mapAccountError(err error) error {
	switch {
	case errors.Is(err, repository.ErrHandleTaken):
		return ErrHandleTaken.WithCause(err)
	case errors.Is(err, repository.ErrEmailTaken):
		return ErrEmailTaken.WithCause(err)
	case errors.Is(err, repository.ErrDIDTaken):
		return ErrIdentityTaken.WithCause(err)
	default:
		return commonerrors.ErrInternal.WithCause(err)
	}
}
