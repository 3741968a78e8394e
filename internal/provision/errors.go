package provision

import (
	"net/http"

	commonerrors "github.com/driftwoodlabs/pds/internal/common/errors"
)

var (
	ErrInvalidRequest = commonerrors.NewDomainError(
		"INVALID_REQUEST",
		commonerrors.CategoryValidation,
		http.StatusBadRequest,
		"invalid provisioning request",
	)

	ErrAuthRequired = commonerrors.NewDomainError(
		"AUTH_REQUIRED",
		commonerrors.CategoryUnauthorized,
		http.StatusUnauthorized,
		"authentication is required to claim this did",
	)

	ErrIncompatibleDidDoc = commonerrors.NewDomainError(
		"INCOMPATIBLE_DID_DOC",
		commonerrors.CategoryValidation,
		http.StatusBadRequest,
		"identity operation is not compatible with this service",
	)

	ErrHandleTaken = commonerrors.NewDomainError(
		"HANDLE_TAKEN",
		commonerrors.CategoryConflict,
		http.StatusConflict,
		"Handle already taken",
	)

	ErrEmailTaken = commonerrors.NewDomainError(
		"EMAIL_TAKEN",
		commonerrors.CategoryConflict,
		http.StatusConflict,
		"Email already taken",
	)

	ErrInviteInvalid = commonerrors.NewDomainError(
		"INVITE_INVALID",
		commonerrors.CategoryValidation,
		http.StatusBadRequest,
		"invite code is invalid",
	)

	ErrInviteExhausted = commonerrors.NewDomainError(
		"INVITE_EXHAUSTED",
		commonerrors.CategoryConflict,
		http.StatusConflict,
		"invite code has no remaining uses",
	)

	ErrIdentityTaken = commonerrors.NewDomainError(
		"IDENTITY_TAKEN",
		commonerrors.CategoryConflict,
		http.StatusConflict,
		"an account already exists for this did",
	)

	ErrProvisionInFlight = commonerrors.NewDomainError(
		"PROVISION_IN_FLIGHT",
		commonerrors.CategoryConflict,
		http.StatusConflict,
		"another provisioning attempt for this identity is in flight",
	)
)
