// Copyright 2025 Clastix Labs
// SPDX-License-Identifier: Apache-2.0

// Package postgres implements the machine certificate store on a shared PostgreSQL database.
package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"github.com/clastix/signing-cert-enroller/pkg/certstore"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS cert_entries (
    id          BIGSERIAL   PRIMARY KEY,
    label       TEXT        NOT NULL,
    certificate BYTEA       NOT NULL,
    private_key BYTEA       NOT NULL,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
	`CREATE INDEX IF NOT EXISTS idx_cert_entries_label ON cert_entries(label)`,
}

type Store struct{ pool *pgxpool.Pool }

// Open connects to the database and creates the schema when missing.
func Open(ctx context.Context, cfg *PoolConfig) (*Store, error) {
	pool, err := NewPool(ctx, cfg)
	if err != nil {
		return nil, err
	}

	for _, stmt := range schema {
		if _, err = pool.Exec(ctx, stmt); err != nil {
			pool.Close()

			return nil, errors.Wrap(mapPostgresError(err), "failed to initialize certificate store schema")
		}
	}

	return &Store{pool: pool}, nil
}

func (s *Store) Add(ctx context.Context, entry certstore.Entry) (certstore.Entry, error) {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO cert_entries(label, certificate, private_key) VALUES($1, $2, $3) RETURNING id`,
		entry.Label, entry.Certificate, entry.PrivateKey).Scan(&entry.ID)
	if err != nil {
		return certstore.Entry{}, errors.Wrapf(mapPostgresError(err), "failed to add entry %q", entry.Label)
	}

	return entry, nil
}

// Open begins a transaction holding an exclusive lock on the entries table.
func (s *Store) Open(ctx context.Context) (certstore.Session, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, errors.Wrap(mapPostgresError(err), "failed to begin certificate store session")
	}

	if _, err = tx.Exec(ctx, `LOCK TABLE cert_entries IN EXCLUSIVE MODE`); err != nil {
		_ = tx.Rollback(context.WithoutCancel(ctx))

		return nil, errors.Wrap(mapPostgresError(err), "failed to lock certificate store")
	}

	return &session{tx: tx, ctx: context.WithoutCancel(ctx)}, nil
}

func (s *Store) Close() error {
	s.pool.Close()

	return nil
}

type session struct {
	tx pgx.Tx
	// ctx commits the session even when the caller was cancelled.
	ctx context.Context //nolint:containedctx
}

func (s *session) Find(ctx context.Context, label string) ([]certstore.Entry, error) {
	rows, err := s.tx.Query(ctx,
		`SELECT id, label, certificate, private_key FROM cert_entries WHERE label = $1 ORDER BY id`, label)
	if err != nil {
		return nil, errors.Wrapf(mapPostgresError(err), "failed to look up entries tagged %q", label)
	}

	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (certstore.Entry, error) {
		var e certstore.Entry
		err := row.Scan(&e.ID, &e.Label, &e.Certificate, &e.PrivateKey)

		return e, err
	})
	if err != nil {
		return nil, errors.Wrap(mapPostgresError(err), "failed to scan entries")
	}

	return entries, nil
}

func (s *session) Export(_ context.Context, entry certstore.Entry, password string) ([]byte, error) {
	return certstore.ExportEntry(entry, password)
}

func (s *session) Remove(ctx context.Context, entry certstore.Entry) error {
	tag, err := s.tx.Exec(ctx, `DELETE FROM cert_entries WHERE id = $1`, entry.ID)
	if err != nil {
		return errors.Wrapf(mapPostgresError(err), "failed to remove entry %d", entry.ID)
	}

	if tag.RowsAffected() != 1 {
		return errors.Errorf("entry %d not found", entry.ID)
	}

	return nil
}

func (s *session) Close() error {
	if err := s.tx.Commit(s.ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return errors.Wrap(mapPostgresError(err), "failed to commit certificate store changes")
	}

	return nil
}
