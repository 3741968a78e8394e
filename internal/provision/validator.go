package provision

import (
	"context"
	"errors"
	"regexp"
	"strings"

	playvalidator "github.com/go-playground/validator/v10"

	commonerrors "github.com/driftwoodlabs/pds/internal/common/errors"

	"github.com/driftwoodlabs/pds/internal/account/repository"
	"github.com/driftwoodlabs/pds/internal/common/constants"
	"github.com/driftwoodlabs/pds/internal/common/logger"
	"github.com/driftwoodlabs/pds/internal/identity"
	"github.com/driftwoodlabs/pds/internal/invite"
	"github.com/driftwoodlabs/pds/internal/keystore"
)

var handlePattern = regexp.MustCompile(`^([a-z0-9]([a-z0-9-]*[a-z0-9])?\.)+[a-z]{2,}$`)

var disposableEmailDomains = map[string]struct{}{
	"mailinator.com":    {},
	"guerrillamail.com": {},
	"10minutemail.com":  {},
	"sharklasers.com":   {},
	"trashmail.com":     {},
	"yopmail.com":       {},
	"discard.email":     {},
}

type ValidatorConfig struct {
	PublicURL       string
	RecoveryDIDKey  string
	InviteRequired  bool
	EntrywayEnabled bool
}

type ValidatorDeps struct {
	Keys     keystore.Store
	Accounts repository.Store
	Invites  invite.Store
	Operator identity.Signer
	Log      *logger.Logger
}

// Validator turns raw requests into provisioning plans under one of two
// mutually exclusive trust models: behind an entryway the caller's
// identity material is pre-vouched, while local signups are checked from
// scratch. Validation never mutates state.
type Validator struct {
	keys     keystore.Store
	accounts repository.Store
	invites  invite.Store
	operator identity.Signer
	validate *playvalidator.Validate
	cfg      ValidatorConfig
	log      *logger.Logger
}

func NewValidator(deps ValidatorDeps, cfg ValidatorConfig) *Validator {
	return &Validator{
		keys:     deps.Keys,
		accounts: deps.Accounts,
		invites:  deps.Invites,
		operator: deps.Operator,
		validate: playvalidator.New(),
		cfg:      cfg,
		log:      deps.Log,
	}
}

func (v *Validator) Validate(ctx context.Context, req Request) (Plan, error) {
	var (
		plan Plan
		err  error
	)
	if v.cfg.EntrywayEnabled {
		plan, err = v.validateEntryway(ctx, req)
	} else {
		plan, err = v.validateLocal(ctx, req)
	}
	if err != nil {
		v.log.WithFields(ctx, logger.Fields{
			"handle": req.Handle,
			"action": "validate_request",
		}).Warnf("provisioning request rejected: %v", err)
		return Plan{}, err
	}
	return plan, nil
}

func (v *Validator) validateEntryway(ctx context.Context, req Request) (Plan, error) {
	if req.DID == "" || len(req.Operation) == 0 {
		return Plan{}, ErrInvalidRequest.WithMessage("entryway signups must carry a did and a signed identity operation")
	}

	handle, err := NormalizeHandle(req.Handle)
	if err != nil {
		return Plan{}, err
	}

	// All operation checks collapse into one error so callers cannot
	// probe which of them failed.
	op, err := identity.ParseOperation(req.Operation)
	if err != nil {
		return Plan{}, ErrIncompatibleDidDoc.WithCause(err)
	}
	if !op.HasRotationKey(v.operator.DIDKey()) {
		return Plan{}, ErrIncompatibleDidDoc
	}
	if err := identity.VerifyOperation(op); err != nil {
		return Plan{}, ErrIncompatibleDidDoc.WithCause(err)
	}
	if op.Handle() != handle || op.ServiceEndpoint() != v.cfg.PublicURL || op.SigningKey() == "" {
		return Plan{}, ErrIncompatibleDidDoc
	}
	if op.Prev == nil {
		derived, err := identity.DeriveDID(op)
		if err != nil || derived != req.DID {
			return Plan{}, ErrIncompatibleDidDoc
		}
	}

	kp, err := v.keys.GetReservedForDID(ctx, req.DID)
	if err != nil {
		return Plan{}, commonerrors.ErrInternal.WithCause(err)
	}
	if kp == nil {
		kp, err = v.keys.GetReserved(ctx, op.SigningKey())
		if err != nil {
			return Plan{}, commonerrors.ErrInternal.WithCause(err)
		}
	}
	if kp == nil {
		return Plan{}, ErrInvalidRequest.WithMessage("no signing key reserved for this identity")
	}
	if kp.DIDKey() != op.SigningKey() {
		return Plan{}, ErrIncompatibleDidDoc
	}

	return Plan{
		Kind:       PlanEntryway,
		DID:        req.DID,
		Handle:     handle,
		SigningKey: kp,
		Operation:  op,
	}, nil
}

func (v *Validator) validateLocal(ctx context.Context, req Request) (Plan, error) {
	if len(req.Operation) > 0 {
		return Plan{}, ErrInvalidRequest.WithMessage("this service mints its own identity operations")
	}

	handle, err := NormalizeHandle(req.Handle)
	if err != nil {
		return Plan{}, err
	}

	if req.Password == "" {
		return Plan{}, ErrInvalidRequest.WithMessage("password is required")
	}
	if len(req.Password) > constants.PasswordMaxLength {
		return Plan{}, ErrInvalidRequest.WithMessage("password is too long")
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	if err := v.validate.Var(email, "required,email"); err != nil {
		return Plan{}, ErrInvalidRequest.WithMessage("a valid email address is required")
	}
	if isDisposableEmail(email) {
		return Plan{}, ErrInvalidRequest.WithMessage("disposable email addresses are not allowed")
	}

	if v.cfg.InviteRequired {
		if req.InviteCode == "" {
			return Plan{}, ErrInvalidRequest.WithMessage("an invite code is required")
		}
		if err := v.invites.CheckAvailable(ctx, req.InviteCode); err != nil {
			switch {
			case errors.Is(err, invite.ErrInviteInvalid):
				return Plan{}, ErrInviteInvalid
			case errors.Is(err, invite.ErrInviteExhausted):
				return Plan{}, ErrInviteExhausted
			default:
				return Plan{}, commonerrors.ErrInternal.WithCause(err)
			}
		}
	}

	if err := v.checkHandleFree(ctx, handle); err != nil {
		return Plan{}, err
	}
	if err := v.checkEmailFree(ctx, email); err != nil {
		return Plan{}, err
	}

	if req.DID != "" {
		// Self-asserted identity: no fresh operation is minted, so only
		// the proven owner of the DID may claim it. The account starts
		// deactivated until an identity operation publishes it here.
		if req.AuthedDID != req.DID {
			return Plan{}, ErrAuthRequired
		}
		return Plan{
			Kind:        PlanLocal,
			DID:         req.DID,
			Handle:      handle,
			Email:       email,
			Password:    req.Password,
			InviteCode:  req.InviteCode,
			Deactivated: true,
		}, nil
	}

	kp, err := identity.GenerateKeypair()
	if err != nil {
		return Plan{}, commonerrors.ErrInternal.WithCause(err)
	}

	// Recovery keys go first so they keep rotation priority over the
	// operator key, which the builder appends when absent.
	rotation := []string{req.RecoveryKey, v.cfg.RecoveryDIDKey}
	did, op, err := identity.BuildOperation(handle, kp.DIDKey(), rotation, v.cfg.PublicURL, v.operator)
	if err != nil {
		return Plan{}, commonerrors.ErrInternal.WithCause(err)
	}

	return Plan{
		Kind:       PlanLocal,
		DID:        did,
		Handle:     handle,
		Email:      email,
		Password:   req.Password,
		InviteCode: req.InviteCode,
		SigningKey: kp,
		Operation:  op,
	}, nil
}

func (v *Validator) checkHandleFree(ctx context.Context, handle string) error {
	_, err := v.accounts.FindByHandle(ctx, handle)
	if err == nil {
		return ErrHandleTaken
	}
	if !errors.Is(err, repository.ErrAccountNotFound) {
		return commonerrors.ErrInternal.WithCause(err)
	}
	return nil
}

func (v *Validator) checkEmailFree(ctx context.Context, email string) error {
	_, err := v.accounts.FindByEmail(ctx, email)
	if err == nil {
		return ErrEmailTaken
	}
	if !errors.Is(err, repository.ErrAccountNotFound) {
		return commonerrors.ErrInternal.WithCause(err)
	}
	return nil
}

// NormalizeHandle lowercases a handle, strips an optional trailing dot
// and checks hostname syntax.
func NormalizeHandle(raw string) (string, error) {
	handle := strings.TrimSuffix(strings.ToLower(strings.TrimSpace(raw)), ".")
	if len(handle) < constants.HandleMinLength || len(handle) > constants.HandleMaxLength {
		return "", ErrInvalidRequest.WithMessage("handle length is out of range")
	}
	if !handlePattern.MatchString(handle) {
		return "", ErrInvalidRequest.WithMessage("handle is not a valid hostname")
	}
	return handle, nil
}

func isDisposableEmail(email string) bool {
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return false
	}
	_, ok := disposableEmailDomains[email[at+1:]]
	return ok
}
