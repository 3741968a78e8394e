package keystore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgconn"
	pgx "github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"github.com/driftwoodlabs/pds/internal/identity"
)

type PgStore struct {
	pool *pgxpool.Pool
}

func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

func (s *PgStore) Reserve(ctx context.Context, did string) (*identity.Keypair, error) {
	if kp, err := s.GetReservedForDID(ctx, did); err != nil || kp != nil {
		return kp, err
	}

	kp, err := identity.GenerateKeypair()
	if err != nil {
		return nil, err
	}

	_, err = s.pool.Exec(
		ctx,
		`INSERT INTO reserved_signing_keys (did, key_id, private_key, consumed)
		 VALUES ($1, $2, $3, false)`,
		did,
		kp.DIDKey(),
		[]byte(kp.Private),
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			// Lost the race to a concurrent reservation for the same DID.
			return s.GetReservedForDID(ctx, did)
		}
		return nil, fmt.Errorf("failed to reserve signing key: %w", err)
	}

	return kp, nil
}

func (s *PgStore) Escrow(ctx context.Context, did string, kp *identity.Keypair) error {
	existing, err := s.GetReservedForDID(ctx, did)
	if err != nil {
		return err
	}
	if existing != nil {
		if existing.DIDKey() == kp.DIDKey() {
			return nil
		}
		return ErrDIDBusy
	}

	byKey, err := s.GetReserved(ctx, kp.DIDKey())
	if err != nil {
		return err
	}
	if byKey != nil {
		// Pre-reserved under a placeholder DID; rebind the reservation to
		// the DID it ends up serving.
		_, err = s.pool.Exec(
			ctx,
			`UPDATE reserved_signing_keys SET did = $1 WHERE key_id = $2 AND NOT consumed`,
			did,
			kp.DIDKey(),
		)
		if err != nil {
			return fmt.Errorf("failed to rebind signing key reservation: %w", err)
		}
		return nil
	}

	_, err = s.pool.Exec(
		ctx,
		`INSERT INTO reserved_signing_keys (did, key_id, private_key, consumed)
		 VALUES ($1, $2, $3, false)`,
		did,
		kp.DIDKey(),
		[]byte(kp.Private),
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDIDBusy
		}
		return fmt.Errorf("failed to escrow signing key: %w", err)
	}
	return nil
}

func (s *PgStore) GetReserved(ctx context.Context, keyID string) (*identity.Keypair, error) {
	row := s.pool.QueryRow(
		ctx,
		`SELECT private_key FROM reserved_signing_keys WHERE key_id = $1 AND NOT consumed`,
		keyID,
	)

	var priv []byte
	if err := row.Scan(&priv); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to look up reserved key: %w", err)
	}

	return identity.KeypairFromPrivateKey(priv)
}

func (s *PgStore) Release(ctx context.Context, keyID, did string) error {
	_, err := s.pool.Exec(
		ctx,
		`UPDATE reserved_signing_keys SET consumed = true WHERE key_id = $1 AND did = $2`,
		keyID,
		did,
	)
	if err != nil {
		return fmt.Errorf("failed to release signing key: %w", err)
	}
	return nil
}

func (s *PgStore) GetReservedForDID(ctx context.Context, did string) (*identity.Keypair, error) {
	row := s.pool.QueryRow(
		ctx,
		`SELECT private_key FROM reserved_signing_keys WHERE did = $1 AND NOT consumed`,
		did,
	)

	var priv []byte
	if err := row.Scan(&priv); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to look up reserved key: %w", err)
	}

	return identity.KeypairFromPrivateKey(priv)
}
