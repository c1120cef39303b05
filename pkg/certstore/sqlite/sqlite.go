// Copyright 2025 Clastix Labs
// SPDX-License-Identifier: Apache-2.0

// Package sqlite implements the machine certificate store on a local SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3" // database/sql driver
	"github.com/pkg/errors"

	"github.com/clastix/signing-cert-enroller/pkg/certstore"
)

const schema = `
CREATE TABLE IF NOT EXISTS entries (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    label       TEXT    NOT NULL,
    certificate BLOB    NOT NULL,
    private_key BLOB    NOT NULL,
    created_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_entries_label ON entries(label);`

type Store struct{ db *sql.DB }

// Open opens or creates the store at path. Sessions run in exclusive transactions.
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_txlock=exclusive&_busy_timeout=5000&_journal_mode=WAL&_synchronous=FULL", path)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open sqlite store")
	}

	db.SetMaxOpenConns(1)

	if err = db.PingContext(ctx); err != nil {
		_ = db.Close()

		return nil, errors.Wrapf(err, "cannot access certificate store %s", path)
	}

	if _, err = db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()

		return nil, errors.Wrap(err, "failed to initialize certificate store schema")
	}

	return &Store{db: db}, nil
}

func (s *Store) Add(ctx context.Context, entry certstore.Entry) (certstore.Entry, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO entries(label, certificate, private_key, created_at) VALUES(?, ?, ?, ?)`,
		entry.Label, entry.Certificate, entry.PrivateKey, time.Now().Unix())
	if err != nil {
		return certstore.Entry{}, errors.Wrapf(err, "failed to add entry %q", entry.Label)
	}

	entry.ID, err = res.LastInsertId()
	if err != nil {
		return certstore.Entry{}, errors.Wrap(err, "failed to read entry id")
	}

	return entry, nil
}

func (s *Store) Open(ctx context.Context) (certstore.Session, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to lock certificate store")
	}

	return &session{tx: tx}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

type session struct{ tx *sql.Tx }

func (s *session) Find(ctx context.Context, label string) ([]certstore.Entry, error) {
	rows, err := s.tx.QueryContext(ctx,
		`SELECT id, label, certificate, private_key FROM entries WHERE label = ? ORDER BY id`, label)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to look up entries tagged %q", label)
	}
	defer func() { _ = rows.Close() }()

	var out []certstore.Entry
	for rows.Next() {
		var e certstore.Entry
		if err = rows.Scan(&e.ID, &e.Label, &e.Certificate, &e.PrivateKey); err != nil {
			return nil, errors.Wrap(err, "failed to scan entry")
		}

		out = append(out, e)
	}

	return out, errors.Wrap(rows.Err(), "failed to iterate entries")
}

func (s *session) Export(_ context.Context, entry certstore.Entry, password string) ([]byte, error) {
	return certstore.ExportEntry(entry, password)
}

func (s *session) Remove(ctx context.Context, entry certstore.Entry) error {
	res, err := s.tx.ExecContext(ctx, `DELETE FROM entries WHERE id = ?`, entry.ID)
	if err != nil {
		return errors.Wrapf(err, "failed to remove entry %d", entry.ID)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to read affected rows")
	}

	if n != 1 {
		return errors.Errorf("entry %d not found", entry.ID)
	}

	return nil
}

func (s *session) Close() error {
	if err := s.tx.Commit(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return errors.Wrap(err, "failed to commit certificate store changes")
	}

	return nil
}
