// Copyright 2025 Clastix Labs
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/clastix/signing-cert-enroller/pkg/errors"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, DefaultProviderName, cfg.ProviderName)
	assert.Equal(t, 4096, cfg.KeyBits)
	assert.Equal(t, "WebServer", cfg.TemplateName)
	assert.Equal(t, 2*time.Minute, cfg.Timeout)
	assert.Equal(t, ".", cfg.OutputDir)
}

func TestApplyDefaults(t *testing.T) {
	cfg := Config{KeyBits: 2048, Store: "/tmp/store.db"}
	cfg.ApplyDefaults()

	assert.Equal(t, 2048, cfg.KeyBits)
	assert.Equal(t, "/tmp/store.db", cfg.Store)
	assert.Equal(t, DefaultTemplateName, cfg.TemplateName)
	assert.Equal(t, DefaultProviderName, cfg.ProviderName)
	assert.Equal(t, DefaultTimeout, cfg.Timeout)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		cfg := Default()
		cfg.Endpoints = []string{"localhost:50051/Dev CA"}

		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "odd key size", mutate: func(c *Config) { c.KeyBits = 2047 }, wantErr: pkgerrors.ErrInvalidKeySize},
		{name: "zero key size", mutate: func(c *Config) { c.KeyBits = 0 }, wantErr: pkgerrors.ErrInvalidKeySize},
		{name: "blank template", mutate: func(c *Config) { c.TemplateName = "  " }, wantErr: pkgerrors.ErrMissingTemplate},
		{name: "negative timeout", mutate: func(c *Config) { c.Timeout = -time.Second }, wantErr: pkgerrors.ErrInvalidTimeout},
		{name: "no store", mutate: func(c *Config) { c.Store = "" }, wantErr: pkgerrors.ErrMissingStore},
		{name: "defaults without endpoints", mutate: func(c *Config) { *c = Default() }},
		{name: "empty endpoint", mutate: func(c *Config) { c.Endpoints = []string{"a:1", " "} }, wantErr: pkgerrors.ErrMissingEndpoint},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr == nil {
				require.NoError(t, err)

				return
			}
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestIsPostgres(t *testing.T) {
	cfg := Default()
	assert.False(t, cfg.IsPostgres())

	cfg.Store = "postgres://enroll:secret@db:5432/certs"
	assert.True(t, cfg.IsPostgres())

	cfg.Store = "postgresql://db/certs"
	assert.True(t, cfg.IsPostgres())
}
