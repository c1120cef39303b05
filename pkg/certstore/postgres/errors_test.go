// Copyright 2025 Clastix Labs
// SPDX-License-Identifier: Apache-2.0

package postgres

import (
	"testing"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapPostgresError(t *testing.T) {
	require.NoError(t, mapPostgresError(nil))

	plain := errors.New("plain")
	assert.Equal(t, plain, mapPostgresError(plain))

	tests := map[string]string{
		pgerrcode.InsufficientPrivilege: "insufficient privileges",
		pgerrcode.LockNotAvailable:      "locked by another session",
		pgerrcode.UndefinedTable:        "schema is missing",
		pgerrcode.ConnectionFailure:     "connection error",
		pgerrcode.QueryCanceled:         "query canceled",
		pgerrcode.UniqueViolation:       "postgres error [23505]",
	}

	for code, want := range tests {
		pgErr := &pgconn.PgError{Code: code, Message: "boom"}

		err := mapPostgresError(pgErr)
		assert.Contains(t, err.Error(), want, code)

		var target *pgconn.PgError
		require.ErrorAs(t, err, &target)
		assert.Equal(t, code, target.Code)
	}
}

func TestPoolConfigDefaults(t *testing.T) {
	cfg := &PoolConfig{}
	cfg.ApplyDefaults()

	assert.Equal(t, int32(4), cfg.MaxConns)
	assert.Equal(t, int32(10), cfg.ConnectTimeout)
	require.Error(t, cfg.Validate())

	cfg.ConnString = "postgres://localhost/store"
	require.NoError(t, cfg.Validate())
}
