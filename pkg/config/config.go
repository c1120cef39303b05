// Copyright 2025 Clastix Labs
// SPDX-License-Identifier: Apache-2.0

// Package config holds the enrollment pipeline settings and their defaults.
package config

import (
	"strings"
	"time"

	"github.com/pkg/errors"

	pkgerrors "github.com/clastix/signing-cert-enroller/pkg/errors"
)

const (
	// DefaultProviderName is the software key provider shipped with the enroller.
	DefaultProviderName = "Software RSA and AES Cryptographic Provider"
	// DefaultKeyBits is the RSA key length requested for signing certificates.
	DefaultKeyBits = 4096
	// DefaultTemplateName is the CA template hint embedded in every request.
	DefaultTemplateName = "WebServer"
	// DefaultTimeout bounds the CA submission.
	DefaultTimeout = 2 * time.Minute
	// DefaultStore is the machine-wide certificate store location.
	DefaultStore = "/var/lib/signing-cert-enroller/machine-store.db"
)

// Config is the explicit configuration passed into the pipeline.
type Config struct {
	// ProviderName selects the key provider that creates the key pair.
	ProviderName string
	// KeyBits is the RSA key length in bits.
	KeyBits int
	// TemplateName is the certificate template the CA applies.
	TemplateName string
	// Endpoints lists the CA endpoints, in `address` or `address/CA Name` form.
	Endpoints []string
	// Token is sent to the CA in the request metadata.
	Token string
	// CACertPath is an optional PEM bundle used to verify the CA transport.
	CACertPath string
	// Insecure disables transport security towards the CA.
	Insecure bool
	// Timeout bounds the CA submission.
	Timeout time.Duration
	// Store is a sqlite file path or a postgres:// connection string.
	Store string
	// OutputDir receives the .pfx and .crt files.
	OutputDir string
	// ExportPassword protects the exported PKCS12 containers.
	ExportPassword string
	// Debug enables debug logging.
	Debug bool
}

// Default returns the configuration with every default applied.
func Default() Config {
	return Config{
		ProviderName: DefaultProviderName,
		KeyBits:      DefaultKeyBits,
		TemplateName: DefaultTemplateName,
		Timeout:      DefaultTimeout,
		Store:        DefaultStore,
		OutputDir:    ".",
	}
}

// ApplyDefaults fills zero values with their defaults.
func (c *Config) ApplyDefaults() {
	def := Default()

	if c.ProviderName == "" {
		c.ProviderName = def.ProviderName
	}
	if c.KeyBits == 0 {
		c.KeyBits = def.KeyBits
	}
	if c.TemplateName == "" {
		c.TemplateName = def.TemplateName
	}
	if c.Timeout == 0 {
		c.Timeout = def.Timeout
	}
	if c.Store == "" {
		c.Store = def.Store
	}
	if c.OutputDir == "" {
		c.OutputDir = def.OutputDir
	}
}

// Validate checks the configuration before the pipeline runs.
func (c *Config) Validate() error {
	switch {
	case c.KeyBits <= 0 || c.KeyBits%8 != 0:
		return errors.Wrapf(pkgerrors.ErrInvalidKeySize, "%d bits", c.KeyBits)
	case strings.TrimSpace(c.TemplateName) == "":
		return pkgerrors.ErrMissingTemplate
	case c.Timeout <= 0:
		return errors.Wrap(pkgerrors.ErrInvalidTimeout, c.Timeout.String())
	case c.Store == "":
		return pkgerrors.ErrMissingStore
	}

	for _, endpoint := range c.Endpoints {
		if strings.TrimSpace(endpoint) == "" {
			return errors.Wrap(pkgerrors.ErrMissingEndpoint, "empty endpoint entry")
		}
	}

	return nil
}

// IsPostgres reports whether the store setting points to a postgres database.
func (c *Config) IsPostgres() bool {
	return strings.HasPrefix(c.Store, "postgres://") || strings.HasPrefix(c.Store, "postgresql://")
}
