// Copyright 2025 Clastix Labs
// SPDX-License-Identifier: Apache-2.0

// Package certstore models the machine-wide certificate store that holds
// certificate and private key pairs addressable by a label.
package certstore

import (
	"context"
	"crypto"
	"crypto/x509"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	pkcs12 "software.sslmate.com/src/go-pkcs12"

	pkgerrors "github.com/clastix/signing-cert-enroller/pkg/errors"
)

// Entry is a certificate with its private key stored under a label.
type Entry struct {
	// ID is assigned by the backend on Add.
	ID    int64
	Label string
	// Certificate is the DER encoded leaf certificate.
	Certificate []byte
	// PrivateKey is the PKCS#8 DER encoded private key.
	PrivateKey []byte
}

// NewEntry binds cert and key to label.
func NewEntry(label string, cert *x509.Certificate, key crypto.PrivateKey) (Entry, error) {
	keyDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return Entry{}, errors.Wrap(err, "failed to marshal private key")
	}

	return Entry{Label: label, Certificate: cert.Raw, PrivateKey: keyDER}, nil
}

// Parse decodes the certificate and private key of the entry.
func (e Entry) Parse() (*x509.Certificate, crypto.PrivateKey, error) {
	cert, err := x509.ParseCertificate(e.Certificate)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "failed to parse certificate of entry %q", e.Label)
	}

	key, err := x509.ParsePKCS8PrivateKey(e.PrivateKey)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "failed to parse private key of entry %q", e.Label)
	}

	return cert, key, nil
}

// Store is a persistent certificate store shared by every process on the machine.
type Store interface {
	// Add installs the entry. The issuer chain is not validated.
	Add(ctx context.Context, entry Entry) (Entry, error)
	// Open acquires the store with exclusive read/write intent.
	Open(ctx context.Context) (Session, error)
	Close() error
}

// Session is an exclusive handle on the store, released by Close.
type Session interface {
	// Find returns every entry tagged with label.
	Find(ctx context.Context, label string) ([]Entry, error)
	// Export returns the entry as a password protected PKCS#12 container.
	Export(ctx context.Context, entry Entry, password string) ([]byte, error)
	Remove(ctx context.Context, entry Entry) error
	// Close commits the changes and releases the store.
	Close() error
}

// WithSession opens the store, runs fn and always closes the session.
// An error from fn takes precedence over a failed Close.
func WithSession(ctx context.Context, store Store, fn func(Session) error) (err error) {
	session, err := store.Open(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to open certificate store")
	}

	defer func() {
		closeErr := session.Close()
		if closeErr == nil {
			return
		}

		if err != nil {
			zerolog.Ctx(ctx).Warn().Err(closeErr).Msg("failed to close certificate store")

			return
		}

		err = errors.Wrap(closeErr, "failed to close certificate store")
	}()

	return fn(session)
}

// FindOne returns the single entry tagged with label.
func FindOne(ctx context.Context, session Session, label string) (Entry, error) {
	entries, err := session.Find(ctx, label)
	if err != nil {
		return Entry{}, err
	}

	if len(entries) != 1 {
		return Entry{}, errors.Wrapf(pkgerrors.ErrStoreConsistency, "%d entries tagged %q, expected exactly one", len(entries), label)
	}

	return entries[0], nil
}

// RemoveEntry deletes the entry with the ID of installed, leaving other entries
// under the same label untouched. It reports false when the entry is already gone.
func RemoveEntry(ctx context.Context, store Store, installed Entry) (bool, error) {
	var removed bool

	err := WithSession(ctx, store, func(session Session) error {
		entries, err := session.Find(ctx, installed.Label)
		if err != nil {
			return err
		}

		for _, entry := range entries {
			if entry.ID != installed.ID {
				continue
			}

			if err := session.Remove(ctx, entry); err != nil {
				return err
			}

			removed = true
		}

		return nil
	})
	if err != nil {
		return removed, errors.Wrap(pkgerrors.ErrStoreCleanup, err.Error())
	}

	return removed, nil
}

// EncodePKCS12 builds an end-entity only PKCS#12 container.
func EncodePKCS12(key crypto.PrivateKey, cert *x509.Certificate, password string) ([]byte, error) {
	pfx, err := pkcs12.Modern.Encode(key, cert, nil, password)
	if err != nil {
		return nil, errors.Wrapf(pkgerrors.ErrEncoding, "pkcs12: %s", err.Error())
	}

	return pfx, nil
}

// ExportEntry encodes a stored entry as PKCS#12.
func ExportEntry(entry Entry, password string) ([]byte, error) {
	cert, key, err := entry.Parse()
	if err != nil {
		return nil, err
	}

	return EncodePKCS12(key, cert, password)
}
