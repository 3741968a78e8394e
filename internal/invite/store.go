package invite

import (
	"context"
	"errors"
	"fmt"

	pgx "github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

var (
	ErrInviteInvalid   = errors.New("invite code is invalid")
	ErrInviteExhausted = errors.New("invite code has no remaining uses")
)

// Store validates and consumes invite codes. A code is only marked used
// once the account it admitted is durable.
type Store interface {
	CheckAvailable(ctx context.Context, code string) error
	MarkUsed(ctx context.Context, code, did string) error
}

type PgStore struct {
	pool *pgxpool.Pool
}

func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

func (s *PgStore) CheckAvailable(ctx context.Context, code string) error {
	row := s.pool.QueryRow(
		ctx,
		`SELECT i.available_uses - COUNT(u.did), i.disabled
		 FROM invite_codes i
		 LEFT JOIN invite_code_uses u ON u.code = i.code
		 WHERE i.code = $1
		 GROUP BY i.available_uses, i.disabled`,
		code,
	)

	var remaining int
	var disabled bool
	if err := row.Scan(&remaining, &disabled); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrInviteInvalid
		}
		return fmt.Errorf("failed to check invite code: %w", err)
	}

	if disabled {
		return ErrInviteInvalid
	}
	if remaining <= 0 {
		return ErrInviteExhausted
	}
	return nil
}

func (s *PgStore) MarkUsed(ctx context.Context, code, did string) error {
	_, err := s.pool.Exec(
		ctx,
		`INSERT INTO invite_code_uses (code, did, used_at) VALUES ($1, $2, now())`,
		code,
		did,
	)
	if err != nil {
		return fmt.Errorf("failed to mark invite code used: %w", err)
	}
	return nil
}
