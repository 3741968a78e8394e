package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgconn"
	pgx "github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"github.com/driftwoodlabs/pds/internal/account/domain"
)

var (
	ErrAccountNotFound = errors.New("account not found")
	ErrDIDTaken        = errors.New("did already registered")
	ErrHandleTaken     = errors.New("handle already taken")
	ErrEmailTaken      = errors.New("email already taken")
)

type Store interface {
	// CreateWithSession inserts the account row and its first refresh
	// token in a single transaction.
	CreateWithSession(ctx context.Context, account domain.Account, refresh domain.RefreshToken) error
	UpdateRepoRoot(ctx context.Context, did, cid, rev string) error
	FindByDID(ctx context.Context, did string) (domain.Account, error)
	FindByHandle(ctx context.Context, handle string) (domain.Account, error)
	FindByEmail(ctx context.Context, email string) (domain.Account, error)
	Delete(ctx context.Context, did string) error
}

type PgStore struct {
	pool *pgxpool.Pool
}

func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

func (s *PgStore) CreateWithSession(ctx context.Context, account domain.Account, refresh domain.RefreshToken) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin account transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(
		ctx,
		`INSERT INTO accounts (did, handle, email, password_hash, repo_cid, repo_rev, status, created_at)
		 VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8)`,
		account.DID,
		account.Handle,
		account.Email,
		account.PasswordHash,
		account.RepoCID,
		account.RepoRev,
		string(account.Status),
		account.CreatedAt.UTC(),
	)
	if err != nil {
		return mapConflict(err)
	}

	_, err = tx.Exec(
		ctx,
		`INSERT INTO refresh_tokens (id, token_hash, did, expires_at, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		refresh.ID,
		refresh.TokenHash,
		refresh.DID,
		refresh.ExpiresAt.UTC(),
		refresh.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to store refresh token: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit account transaction: %w", err)
	}
	return nil
}

func (s *PgStore) UpdateRepoRoot(ctx context.Context, did, cid, rev string) error {
	tag, err := s.pool.Exec(
		ctx,
		`UPDATE accounts SET repo_cid = $2, repo_rev = $3 WHERE did = $1`,
		did,
		cid,
		rev,
	)
	if err != nil {
		return fmt.Errorf("failed to update repo root: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func (s *PgStore) FindByDID(ctx context.Context, did string) (domain.Account, error) {
	return s.findOne(ctx, `WHERE did = $1`, did)
}

func (s *PgStore) FindByHandle(ctx context.Context, handle string) (domain.Account, error) {
	return s.findOne(ctx, `WHERE handle = $1`, handle)
}

func (s *PgStore) FindByEmail(ctx context.Context, email string) (domain.Account, error) {
	return s.findOne(ctx, `WHERE email = $1`, email)
}

func (s *PgStore) Delete(ctx context.Context, did string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM accounts WHERE did = $1`, did); err != nil {
		return fmt.Errorf("failed to delete account: %w", err)
	}
	return nil
}

func (s *PgStore) findOne(ctx context.Context, where string, arg any) (domain.Account, error) {
	row := s.pool.QueryRow(
		ctx,
		`SELECT did, handle, COALESCE(email, ''), password_hash, repo_cid, repo_rev, status, created_at
		 FROM accounts `+where,
		arg,
	)

	var acc domain.Account
	var status string
	err := row.Scan(&acc.DID, &acc.Handle, &acc.Email, &acc.PasswordHash, &acc.RepoCID, &acc.RepoRev, &status, &acc.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Account{}, ErrAccountNotFound
		}
		return domain.Account{}, fmt.Errorf("failed to load account: %w", err)
	}
	acc.Status = domain.Status(status)

	return acc, nil
}

func mapConflict(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		switch pgErr.ConstraintName {
		case "accounts_pkey":
			return ErrDIDTaken
		case "accounts_handle_key":
			return ErrHandleTaken
		case "accounts_email_key":
			return ErrEmailTaken
		}
		return ErrDIDTaken
	}
	return fmt.Errorf("failed to create account: %w", err)
}
