// Copyright 2025 Clastix Labs
// SPDX-License-Identifier: Apache-2.0

// Package csr assembles the PKCS#10 request sent to the CA.
package csr

import (
	"context"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/base64"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	pkgerrors "github.com/clastix/signing-cert-enroller/pkg/errors"
	"github.com/clastix/signing-cert-enroller/pkg/keygen"
)

// ub-common-name from RFC 5280.
const maxCommonNameLength = 64

// CertificateRequest is a built and signed PKCS#10 request.
type CertificateRequest struct {
	Subject    pkix.Name
	Extensions []pkix.Extension
	Key        *keygen.KeyPairHandle
	// RawSubject is the DER encoded subject name.
	RawSubject []byte
	// DER is the encoded PKCS#10 structure.
	DER []byte
	// Encoded is the base64 text form of DER, as submitted to the CA.
	Encoded string
}

// Builder creates certificate requests carrying the fixed signing extensions.
type Builder struct {
	// TemplateName is embedded as the certificate template hint.
	TemplateName string
}

// Build creates the request for CN=commonName signed by the handle's key.
func (b *Builder) Build(ctx context.Context, key *keygen.KeyPairHandle, commonName string) (*CertificateRequest, error) {
	if err := ValidateCommonName(commonName); err != nil {
		return nil, err
	}

	subject := pkix.Name{CommonName: commonName}

	rawSubject, err := asn1.Marshal(subject.ToRDNSequence())
	if err != nil {
		return nil, errors.Wrap(pkgerrors.ErrEncoding, err.Error())
	}

	extensions, err := b.extensions(key)
	if err != nil {
		return nil, err
	}

	zerolog.Ctx(ctx).Debug().
		Str("subject", "CN="+commonName).
		Str("template", b.TemplateName).
		Int("extensions", len(extensions)).
		Msg("building certificate request")

	der, err := x509.CreateCertificateRequest(rand.Reader, &x509.CertificateRequest{
		RawSubject:      rawSubject,
		ExtraExtensions: extensions,
	}, key.Signer())
	if err != nil {
		return nil, errors.Wrap(pkgerrors.ErrEncoding, err.Error())
	}

	return &CertificateRequest{
		Subject:    subject,
		Extensions: extensions,
		Key:        key,
		RawSubject: rawSubject,
		DER:        der,
		Encoded:    base64.StdEncoding.EncodeToString(der),
	}, nil
}

func (b *Builder) extensions(key *keygen.KeyPairHandle) ([]pkix.Extension, error) {
	keyUsage, err := keyUsageExtension(RequestedKeyUsage)
	if err != nil {
		return nil, err
	}

	extKeyUsage, err := extKeyUsageExtension(RequestedExtKeyUsage)
	if err != nil {
		return nil, err
	}

	smime, err := smimeCapabilitiesExtension(key.Capabilities())
	if err != nil {
		return nil, err
	}

	template, err := templateNameExtension(b.TemplateName)
	if err != nil {
		return nil, err
	}

	return []pkix.Extension{keyUsage, extKeyUsage, smime, template}, nil
}

// ValidateCommonName rejects names the subject encoder cannot carry.
func ValidateCommonName(commonName string) error {
	switch {
	case strings.TrimSpace(commonName) == "":
		return errors.Wrap(pkgerrors.ErrEncoding, "common name is empty")
	case !utf8.ValidString(commonName):
		return errors.Wrap(pkgerrors.ErrEncoding, "common name is not valid UTF-8")
	case utf8.RuneCountInString(commonName) > maxCommonNameLength:
		return errors.Wrapf(pkgerrors.ErrEncoding, "common name exceeds %d characters", maxCommonNameLength)
	case strings.IndexFunc(commonName, unicode.IsControl) >= 0:
		return errors.Wrap(pkgerrors.ErrEncoding, "common name contains control characters")
	}

	return nil
}
