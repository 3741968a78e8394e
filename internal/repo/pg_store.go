package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgconn"
	pgx "github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"github.com/driftwoodlabs/pds/internal/common/clock"
)

type PgStore struct {
	pool *pgxpool.Pool
	clk  clock.Clock
}

func NewPgStore(pool *pgxpool.Pool, clk clock.Clock) *PgStore {
	return &PgStore{pool: pool, clk: clk}
}

func (s *PgStore) Create(ctx context.Context, did, signingKeyID string) (Commit, error) {
	if err := validateDID(did); err != nil {
		return Commit{}, err
	}

	rev := NextRev(s.clk.Now())
	cid := commitCID(did, rev, "")

	_, err := s.pool.Exec(
		ctx,
		`INSERT INTO actor_repos (did, root_cid, rev, signing_key, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		did,
		cid,
		rev,
		signingKeyID,
		s.clk.Now().UTC(),
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Commit{}, ErrRepoExists
		}
		return Commit{}, fmt.Errorf("failed to create repository: %w", err)
	}

	return Commit{CID: cid, Rev: rev}, nil
}

func (s *PgStore) Transact(ctx context.Context, did string, fn func(ctx context.Context) error) (Commit, error) {
	if err := validateDID(did); err != nil {
		return Commit{}, err
	}

	row := s.pool.QueryRow(ctx, `SELECT root_cid FROM actor_repos WHERE did = $1`, did)

	var prev string
	if err := row.Scan(&prev); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Commit{}, ErrRepoNotFound
		}
		return Commit{}, fmt.Errorf("failed to load repository head: %w", err)
	}

	if fn != nil {
		if err := fn(ctx); err != nil {
			return Commit{}, err
		}
	}

	rev := NextRev(s.clk.Now())
	cid := commitCID(did, rev, prev)

	_, err := s.pool.Exec(
		ctx,
		`UPDATE actor_repos SET root_cid = $2, rev = $3 WHERE did = $1`,
		did,
		cid,
		rev,
	)
	if err != nil {
		return Commit{}, fmt.Errorf("failed to advance repository head: %w", err)
	}

	return Commit{CID: cid, Rev: rev}, nil
}

func (s *PgStore) Destroy(ctx context.Context, did string) error {
	if err := validateDID(did); err != nil {
		return err
	}

	if _, err := s.pool.Exec(ctx, `DELETE FROM actor_repos WHERE did = $1`, did); err != nil {
		return fmt.Errorf("failed to destroy repository: %w", err)
	}
	return nil
}
