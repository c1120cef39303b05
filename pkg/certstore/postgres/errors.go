// Copyright 2025 Clastix Labs
// SPDX-License-Identifier: Apache-2.0

package postgres

import (
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
)

// mapPostgresError adds a readable cause to PostgreSQL errors.
func mapPostgresError(err error) error {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}

	switch pgErr.Code {
	case pgerrcode.InsufficientPrivilege:
		return errors.Wrap(err, "insufficient privileges on the certificate store")
	case pgerrcode.LockNotAvailable, pgerrcode.DeadlockDetected:
		return errors.Wrap(err, "certificate store is locked by another session")
	case pgerrcode.UndefinedTable:
		return errors.Wrap(err, "certificate store schema is missing")
	case pgerrcode.ConnectionException,
		pgerrcode.ConnectionDoesNotExist,
		pgerrcode.ConnectionFailure,
		pgerrcode.CannotConnectNow,
		pgerrcode.SQLClientUnableToEstablishSQLConnection:
		return errors.Wrap(err, "certificate store connection error")
	case pgerrcode.AdminShutdown, pgerrcode.CrashShutdown:
		return errors.Wrap(err, "certificate store database unavailable")
	case pgerrcode.QueryCanceled:
		return errors.Wrap(err, "certificate store query canceled")
	default:
		return errors.Wrapf(err, "postgres error [%s] (detail: %s, hint: %s)", pgErr.Code, pgErr.Detail, pgErr.Hint)
	}
}
