// Copyright 2025 Clastix Labs
// SPDX-License-Identifier: Apache-2.0

// Package pipeline runs one enrollment from key generation to the exported files.
package pipeline

import (
	"context"
	"crypto/x509"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/clastix/signing-cert-enroller/pkg/certstore"
	"github.com/clastix/signing-cert-enroller/pkg/config"
	"github.com/clastix/signing-cert-enroller/pkg/csr"
	"github.com/clastix/signing-cert-enroller/pkg/enroll"
	pkgerrors "github.com/clastix/signing-cert-enroller/pkg/errors"
	"github.com/clastix/signing-cert-enroller/pkg/installer"
	"github.com/clastix/signing-cert-enroller/pkg/keygen"
	"github.com/clastix/signing-cert-enroller/pkg/output"
)

// Pipeline wires the enrollment stages together.
type Pipeline struct {
	Config    config.Config
	Providers keygen.Registry
	Selector  *enroll.Selector
	Client    *enroll.Client
	Store     certstore.Store
	Writer    *output.Writer
	// NewID returns the correlation identifier of a run, a random UUID when nil.
	NewID func() string
}

// Result describes a completed enrollment.
type Result struct {
	CorrelationID string
	CA            string
	Certificate   *x509.Certificate
	PFXPath       string
	CRTPath       string
}

// Run enrolls a certificate for commonName. A blank common name is a no-op
// returning a nil Result.
func (p *Pipeline) Run(ctx context.Context, commonName string) (*Result, error) {
	commonName = strings.TrimSpace(commonName)
	if commonName == "" {
		return nil, nil //nolint:nilnil
	}

	if err := fileSafe(commonName); err != nil {
		return nil, err
	}

	res := &Result{
		PFXPath: filepath.Join(p.Config.OutputDir, commonName+".pfx"),
		CRTPath: filepath.Join(p.Config.OutputDir, commonName+".crt"),
	}

	for _, path := range []string{res.CRTPath, res.PFXPath} {
		if err := p.Writer.Check(path); err != nil {
			return nil, err
		}
	}

	endpoint, err := p.Selector.SelectCA(ctx)
	if err != nil {
		return nil, err
	}

	res.CorrelationID = p.newID()

	logger := zerolog.Ctx(ctx).With().
		Str("correlationId", res.CorrelationID).
		Str("commonName", commonName).
		Logger()
	ctx = logger.WithContext(ctx)

	provider, err := p.Providers.Lookup(p.Config.ProviderName)
	if err != nil {
		return nil, err
	}

	logger.Info().Msg("creating a certificate signing request")

	key, err := keygen.Generate(ctx, p.Providers, res.CorrelationID, p.Config.ProviderName, p.Config.KeyBits)
	if err != nil {
		return nil, err
	}

	defer func() {
		if err := provider.Delete(res.CorrelationID); err != nil {
			logger.Warn().Err(err).Msg("failed to delete key container")
		}
	}()

	req, err := (&csr.Builder{TemplateName: p.Config.TemplateName}).Build(ctx, key, commonName)
	if err != nil {
		return nil, err
	}

	res.CA = endpoint.String()
	logger.Info().Str("ca", res.CA).Msg("submitting the certificate signing request")

	outcome, err := p.Client.Submit(ctx, req, endpoint)
	if err != nil {
		return nil, err
	}

	if err = outcome.Err(); err != nil {
		return nil, err
	}

	logger.Info().Int64("requestId", outcome.RequestID).Msg("certificate issued, installing the response")

	bundle, err := (&installer.Installer{
		Provider: provider,
		Store:    p.Store,
		Password: p.Config.ExportPassword,
	}).InstallExportPurge(ctx, outcome, res.CorrelationID)
	if err != nil {
		return nil, err
	}

	res.Certificate = bundle.Certificate

	if err = p.Writer.Write(res.CRTPath, []byte(bundle.Text)); err != nil {
		return nil, err
	}

	if err = p.Writer.Write(res.PFXPath, bundle.PFX); err != nil {
		return nil, err
	}

	logger.Info().Str("pfx", res.PFXPath).Str("crt", res.CRTPath).Msg("enrollment completed")

	return res, nil
}

func (p *Pipeline) newID() string {
	if p.NewID != nil {
		return p.NewID()
	}

	return uuid.NewString()
}

// fileSafe rejects common names that cannot be used as output file names.
func fileSafe(commonName string) error {
	if commonName == "." || commonName == ".." || strings.ContainsAny(commonName, `/\`+"\x00") {
		return errors.Wrapf(pkgerrors.ErrInput, "common name %q cannot be used as a file name", commonName)
	}

	return nil
}
