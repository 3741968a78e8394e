package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/driftwoodlabs/pds/internal/account/domain"
	"github.com/driftwoodlabs/pds/internal/account/repository"
	"github.com/driftwoodlabs/pds/internal/common/clock"
	commoncrypto "github.com/driftwoodlabs/pds/internal/common/crypto"
	"github.com/driftwoodlabs/pds/internal/common/logger"
	"github.com/driftwoodlabs/pds/internal/observability/metrics"
)

const (
	accessTokenScope  = "com.atproto.access"
	refreshTokenScope = "com.atproto.refresh"
)

type Session struct {
	AccessToken  string
	RefreshToken string
}

type CreateParams struct {
	DID         string
	Handle      string
	Email       string
	Password    string
	RepoCID     string
	RepoRev     string
	Deactivated bool
}

// Manager persists accounts and mints their session credentials. The
// account row and the refresh token land in one transaction; from the
// provisioning pipeline's perspective this is a single atomic step.
type Manager interface {
	CreateAccountAndSession(ctx context.Context, params CreateParams) (Session, error)
	UpdateRepoRoot(ctx context.Context, did, cid, rev string) error
	// DeleteAccount removes the account row and its sessions. Used as a
	// compensating action when provisioning fails after persistence.
	DeleteAccount(ctx context.Context, did string) error
}

type AccountManager struct {
	store      repository.Store
	hasher     commoncrypto.PasswordHasher
	idGen      commoncrypto.IDGenerator
	jwtSecret  []byte
	serviceDID string
	clk        clock.Clock
	log        *logger.Logger
	accessTTL  time.Duration
	refreshTTL time.Duration
}

type ManagerDeps struct {
	Store  repository.Store
	Hasher commoncrypto.PasswordHasher
	IDGen  commoncrypto.IDGenerator
	Clock  clock.Clock
	Log    *logger.Logger
}

type ManagerConfig struct {
	JWTSecret       string
	ServiceDID      string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

func NewAccountManager(deps ManagerDeps, cfg ManagerConfig) *AccountManager {
	return &AccountManager{
		store:      deps.Store,
		hasher:     deps.Hasher,
		idGen:      deps.IDGen,
		jwtSecret:  []byte(cfg.JWTSecret),
		serviceDID: cfg.ServiceDID,
		clk:        deps.Clock,
		log:        deps.Log,
		accessTTL:  cfg.AccessTokenTTL,
		refreshTTL: cfg.RefreshTokenTTL,
	}
}

func (m *AccountManager) CreateAccountAndSession(ctx context.Context, params CreateParams) (Session, error) {
	var passwordHash string
	if params.Password != "" {
		hash, err := m.hasher.Hash(params.Password)
		if err != nil {
			return Session{}, err
		}
		passwordHash = hash
	}

	status := domain.StatusActive
	if params.Deactivated {
		status = domain.StatusDeactivated
	}

	access, err := m.issueAccessToken(params.DID)
	if err != nil {
		return Session{}, err
	}

	rawRefresh, stored, err := m.issueRefreshToken(params.DID)
	if err != nil {
		return Session{}, err
	}

	account := domain.Account{
		DID:          params.DID,
		Handle:       params.Handle,
		Email:        params.Email,
		PasswordHash: passwordHash,
		RepoCID:      params.RepoCID,
		RepoRev:      params.RepoRev,
		Status:       status,
		CreatedAt:    m.clk.Now(),
	}

	if err := m.store.CreateWithSession(ctx, account, stored); err != nil {
		return Session{}, err
	}

	metrics.AccessTokensIssued.Inc()
	metrics.RefreshTokensIssued.Inc()

	m.log.WithFields(ctx, logger.Fields{
		"did":    params.DID,
		"handle": params.Handle,
		"action": "account_created",
	}).Info("account created")

	return Session{AccessToken: access, RefreshToken: rawRefresh}, nil
}

func (m *AccountManager) UpdateRepoRoot(ctx context.Context, did, cid, rev string) error {
	return m.store.UpdateRepoRoot(ctx, did, cid, rev)
}

func (m *AccountManager) DeleteAccount(ctx context.Context, did string) error {
	if err := m.store.Delete(ctx, did); err != nil {
		return err
	}

	m.log.WithFields(ctx, logger.Fields{
		"did":    did,
		"action": "account_deleted",
	}).Info("account deleted")

	return nil
}

func (m *AccountManager) issueAccessToken(did string) (string, error) {
	jti, err := m.idGen.NewID()
	if err != nil {
		return "", err
	}

	now := m.clk.Now()
	claims := jwt.MapClaims{
		"scope": accessTokenScope,
		"sub":   did,
		"aud":   m.serviceDID,
		"jti":   jti,
		"iat":   now.Unix(),
		"exp":   now.Add(m.accessTTL).Unix(),
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.jwtSecret)
}

func (m *AccountManager) issueRefreshToken(did string) (string, domain.RefreshToken, error) {
	jti, err := m.idGen.NewID()
	if err != nil {
		return "", domain.RefreshToken{}, err
	}

	now := m.clk.Now()
	expiresAt := now.Add(m.refreshTTL)

	claims := jwt.MapClaims{
		"scope": refreshTokenScope,
		"sub":   did,
		"aud":   m.serviceDID,
		"jti":   jti,
		"iat":   now.Unix(),
		"exp":   expiresAt.Unix(),
	}

	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.jwtSecret)
	if err != nil {
		return "", domain.RefreshToken{}, err
	}

	stored := domain.RefreshToken{
		ID:        jti,
		TokenHash: hashToken(raw),
		DID:       did,
		ExpiresAt: expiresAt,
		CreatedAt: now,
	}

	return raw, stored, nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
