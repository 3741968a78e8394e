package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	commonerrors "github.com/driftwoodlabs/pds/internal/common/errors"
	commonhttp "github.com/driftwoodlabs/pds/internal/common/http"

	"github.com/driftwoodlabs/pds/internal/common/logger"
	"github.com/driftwoodlabs/pds/internal/identity"
	"github.com/driftwoodlabs/pds/internal/provision"
)

type createAccountRequest struct {
	DID         string          `json:"did,omitempty"`
	Handle      string          `json:"handle"`
	Email       string          `json:"email,omitempty"`
	Password    string          `json:"password,omitempty"`
	InviteCode  string          `json:"inviteCode,omitempty"`
	RecoveryKey string          `json:"recoveryKey,omitempty"`
	PlcOp       json.RawMessage `json:"plcOp,omitempty"`
}

type createAccountResponse struct {
	Handle      string             `json:"handle"`
	DID         string             `json:"did"`
	DIDDoc      *identity.Document `json:"didDoc,omitempty"`
	AccessJwt   string             `json:"accessJwt"`
	RefreshJwt  string             `json:"refreshJwt"`
	Deactivated bool               `json:"deactivated,omitempty"`
}

type describeServerResponse struct {
	DID                string `json:"did"`
	InviteCodeRequired bool   `json:"inviteCodeRequired"`
}

type HandlerConfig struct {
	ServiceDID     string
	InviteRequired bool
	JWTSecret      string
	RequestTimeout time.Duration
}

type Handler struct {
	validator *provision.Validator
	orch      *provision.Orchestrator
	cfg       HandlerConfig
	log       *logger.Logger
}

func NewHandler(validator *provision.Validator, orch *provision.Orchestrator, cfg HandlerConfig, log *logger.Logger) http.Handler {
	h := &Handler{validator: validator, orch: orch, cfg: cfg, log: log}

	post := commonhttp.RequireMethod(http.MethodPost)
	get := commonhttp.RequireMethod(http.MethodGet)
	timed := commonhttp.WithTimeout(cfg.RequestTimeout)

	mux := http.NewServeMux()
	mux.HandleFunc("/xrpc/com.atproto.server.createAccount", post(timed(h.createAccount)))
	mux.HandleFunc("/xrpc/com.atproto.server.describeServer", get(h.describeServer))
	return mux
}

func (h *Handler) createAccount(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if err := commonhttp.DecodeJSON(r, &req); err != nil {
		h.log.Warnf("create account failed: invalid json: %v", err)
		commonhttp.WriteError(w, http.StatusBadRequest, commonhttp.CodeInvalidJSON, "invalid json")
		return
	}

	ctx := r.Context()

	plan, err := h.validator.Validate(ctx, provision.Request{
		DID:         req.DID,
		Handle:      req.Handle,
		Email:       req.Email,
		Password:    req.Password,
		InviteCode:  req.InviteCode,
		RecoveryKey: req.RecoveryKey,
		Operation:   req.PlcOp,
		AuthedDID:   h.authedDID(r),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	result, err := h.orch.Provision(ctx, plan)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	commonhttp.WriteJSON(w, http.StatusOK, createAccountResponse{
		Handle:      result.Handle,
		DID:         result.DID,
		DIDDoc:      result.Document,
		AccessJwt:   result.Session.AccessToken,
		RefreshJwt:  result.Session.RefreshToken,
		Deactivated: result.Deactivated,
	})
}

func (h *Handler) describeServer(w http.ResponseWriter, r *http.Request) {
	commonhttp.WriteJSON(w, http.StatusOK, describeServerResponse{
		DID:                h.cfg.ServiceDID,
		InviteCodeRequired: h.cfg.InviteRequired,
	})
}

// authedDID extracts the caller's DID from a bearer access token. An
// absent or invalid token is not an error here; endpoints that need an
// authenticated caller reject later during validation.
func (h *Handler) authedDID(r *http.Request) string {
	raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || raw == "" {
		return ""
	}

	token, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(h.cfg.JWTSecret), nil
	})
	if err != nil || !token.Valid {
		return ""
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return ""
	}
	sub, err := claims.GetSubject()
	if err != nil {
		return ""
	}
	return sub
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if de, ok := commonerrors.AsDomainError(err); ok {
		if de.Category() == commonerrors.CategoryInternal || de.Category() == commonerrors.CategoryExternal {
			h.log.WithFields(r.Context(), logger.Fields{
				"action": "create_account",
			}).Errorf("provisioning failed: %v", err)
		}
		commonhttp.WriteError(w, de.HTTPStatus(), de.Code(), de.Message())
		return
	}

	h.log.Errorf("create account failed: %v", err)
	commonhttp.WriteError(w, http.StatusInternalServerError, commonhttp.CodeInternal, "internal server error")
}
