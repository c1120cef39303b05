// Copyright 2025 Clastix Labs
// SPDX-License-Identifier: Apache-2.0

// Package installer moves an issued certificate through the machine store:
// install, export, purge.
package installer

import (
	"context"
	"crypto"
	"crypto/x509"
	"encoding/base64"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/clastix/signing-cert-enroller/pkg/certstore"
	"github.com/clastix/signing-cert-enroller/pkg/enroll"
	pkgerrors "github.com/clastix/signing-cert-enroller/pkg/errors"
	"github.com/clastix/signing-cert-enroller/pkg/keygen"
)

// ExportedBundle holds the two encodings written to disk.
type ExportedBundle struct {
	// Certificate is the issued leaf certificate.
	Certificate *x509.Certificate
	// PFX is the binary PKCS#12 container built from the issued response.
	PFX []byte
	// Text is the base64 encoding of the PKCS#12 export of the store entry.
	Text string
}

// Installer binds the key provider holding the key pair to the machine store.
type Installer struct {
	Provider keygen.KeyProvider
	Store    certstore.Store
	// Password protects both PKCS#12 exports.
	Password string
}

type publicKey interface {
	Equal(x crypto.PublicKey) bool
}

// InstallExportPurge installs the issued certificate with its private key under
// the correlation identifier, exports it and removes it from the store.
// Once the entry is installed every failure path removes it again; a failed
// removal is returned as a CleanupError carrying the primary failure.
func (i *Installer) InstallExportPurge(ctx context.Context, outcome *enroll.Outcome, correlationID string) (*ExportedBundle, error) {
	if err := outcome.Err(); err != nil {
		return nil, err
	}

	logger := zerolog.Ctx(ctx).With().Str("correlationId", correlationID).Logger()

	cert, key, err := i.accept(outcome, correlationID)
	if err != nil {
		return nil, err
	}

	entry, err := certstore.NewEntry(correlationID, cert, key)
	if err != nil {
		return nil, err
	}

	installed, err := i.Store.Add(ctx, entry)
	if err != nil {
		return nil, errors.Wrap(err, "failed to install certificate in the machine store")
	}

	logger.Debug().Str("subject", cert.Subject.String()).Msg("certificate installed in the machine store")

	bundle, err := i.exportAndPurge(ctx, cert, key, correlationID)
	if err != nil {
		return nil, i.cleanup(ctx, logger, installed, err)
	}

	logger.Debug().Msg("certificate exported and removed from the machine store")

	return bundle, nil
}

// accept parses the issued certificate and pairs it with the container key.
func (i *Installer) accept(outcome *enroll.Outcome, correlationID string) (*x509.Certificate, crypto.PrivateKey, error) {
	cert, err := x509.ParseCertificate(outcome.Certificate)
	if err != nil {
		return nil, nil, errors.Wrapf(pkgerrors.ErrEncoding, "issued certificate: %s", err.Error())
	}

	key, err := i.Provider.Export(correlationID)
	if err != nil {
		return nil, nil, err
	}

	signer, ok := key.(crypto.Signer)
	if !ok {
		return nil, nil, errors.Wrapf(pkgerrors.ErrProvider, "key container %s does not hold a signing key", correlationID)
	}

	pub, ok := signer.Public().(publicKey)
	if !ok || !pub.Equal(cert.PublicKey) {
		return nil, nil, errors.Wrapf(pkgerrors.ErrProvider, "issued certificate does not match key container %s", correlationID)
	}

	return cert, key, nil
}

func (i *Installer) exportAndPurge(ctx context.Context, cert *x509.Certificate, key crypto.PrivateKey, correlationID string) (*ExportedBundle, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, "enrollment cancelled after installation")
	}

	pfx, err := certstore.EncodePKCS12(key, cert, i.Password)
	if err != nil {
		return nil, err
	}

	bundle := &ExportedBundle{Certificate: cert, PFX: pfx}

	err = certstore.WithSession(ctx, i.Store, func(session certstore.Session) error {
		entry, err := certstore.FindOne(ctx, session, correlationID)
		if err != nil {
			return err
		}

		exported, err := session.Export(ctx, entry, i.Password)
		if err != nil {
			return errors.Wrap(err, "failed to export store entry")
		}

		bundle.Text = base64.StdEncoding.EncodeToString(exported)

		return session.Remove(ctx, entry)
	})
	if err != nil {
		return nil, err
	}

	return bundle, nil
}

// cleanup removes the entry this run installed without honouring cancellation.
func (i *Installer) cleanup(ctx context.Context, logger zerolog.Logger, installed certstore.Entry, primary error) error {
	removed, err := certstore.RemoveEntry(context.WithoutCancel(ctx), i.Store, installed)
	if err != nil {
		logger.Warn().
			Err(err).
			AnErr("primary", primary).
			Msg("failed to remove the certificate from the machine store, manual removal required")

		return &pkgerrors.CleanupError{Primary: primary, Cleanup: err}
	}

	logger.Debug().Int64("entryId", installed.ID).Bool("removed", removed).Msg("machine store cleaned up after failure")

	return primary
}
