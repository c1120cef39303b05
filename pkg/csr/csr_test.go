// Copyright 2025 Clastix Labs
// SPDX-License-Identifier: Apache-2.0

package csr

import (
	"context"
	"crypto/x509"
	"encoding/asn1"
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/clastix/signing-cert-enroller/pkg/errors"
	"github.com/clastix/signing-cert-enroller/pkg/keygen"
)

func newKey(t *testing.T) *keygen.KeyPairHandle {
	t.Helper()

	provider := keygen.NewSoftwareProvider("Test Provider")
	handle, err := keygen.Generate(context.Background(), keygen.NewRegistry(provider), t.Name(), "Test Provider", 2048)
	require.NoError(t, err)

	return handle
}

func parse(t *testing.T, req *CertificateRequest) *x509.CertificateRequest {
	t.Helper()

	der, err := base64.StdEncoding.DecodeString(req.Encoded)
	require.NoError(t, err)
	require.Equal(t, req.DER, der)

	parsed, err := x509.ParseCertificateRequest(der)
	require.NoError(t, err)
	require.NoError(t, parsed.CheckSignature())

	return parsed
}

func TestBuild(t *testing.T) {
	key := newKey(t)
	builder := &Builder{TemplateName: "WebServer"}

	for _, cn := range []string{"svc-token-signer", "token signer", "Zürich Signer", "a", strings.Repeat("x", 64)} {
		t.Run(cn, func(t *testing.T) {
			req, err := builder.Build(context.Background(), key, cn)
			require.NoError(t, err)

			parsed := parse(t, req)
			assert.Equal(t, cn, parsed.Subject.CommonName)
			assert.Len(t, parsed.Subject.Names, 1)
			assert.Equal(t, req.RawSubject, parsed.RawSubject)

			requested, err := Inspect(parsed)
			require.NoError(t, err)
			assert.True(t, requested.Complete())

			assert.Equal(t, x509.KeyUsageDigitalSignature|x509.KeyUsageContentCommitment|
				x509.KeyUsageKeyEncipherment|x509.KeyUsageDataEncipherment, requested.KeyUsage)

			assert.ElementsMatch(t, []asn1.ObjectIdentifier{
				{1, 3, 6, 1, 5, 5, 7, 3, 2},
				{1, 3, 6, 1, 5, 5, 7, 3, 1},
			}, requested.ExtKeyUsage)

			assert.Equal(t, "WebServer", requested.TemplateName)
			assert.Equal(t, key.Capabilities(), requested.SMIMECapabilities)
		})
	}
}

func TestBuildRejectsSubject(t *testing.T) {
	key := newKey(t)
	builder := &Builder{TemplateName: "WebServer"}

	for name, cn := range map[string]string{
		"empty":       "",
		"blank":       "   ",
		"invalid utf": "bad\xff",
		"too long":    strings.Repeat("x", 65),
		"control":     "line\nbreak",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := builder.Build(context.Background(), key, cn)
			require.ErrorIs(t, err, pkgerrors.ErrEncoding)
		})
	}
}

func TestBuildRejectsTemplate(t *testing.T) {
	key := newKey(t)

	t.Run("outside the BMP", func(t *testing.T) {
		_, err := (&Builder{TemplateName: "Web\U0001F512"}).Build(context.Background(), key, "svc")
		require.ErrorIs(t, err, pkgerrors.ErrEncoding)
	})

	t.Run("invalid utf-8", func(t *testing.T) {
		_, err := (&Builder{TemplateName: "Web\xff"}).Build(context.Background(), key, "svc")
		require.ErrorIs(t, err, pkgerrors.ErrEncoding)
	})
}

func TestKeyUsageEncoding(t *testing.T) {
	ext, err := keyUsageExtension(RequestedKeyUsage)
	require.NoError(t, err)

	// BIT STRING, 4 unused bits, 1111 0000
	assert.Equal(t, []byte{0x03, 0x02, 0x04, 0xf0}, ext.Value)
	assert.True(t, ext.Critical)

	usage, err := DecodeKeyUsage(ext.Value)
	require.NoError(t, err)
	assert.Equal(t, RequestedKeyUsage, usage)
}

func TestTemplateNameEncoding(t *testing.T) {
	ext, err := templateNameExtension("Web")
	require.NoError(t, err)

	assert.Equal(t, []byte{0x1e, 0x06, 0x00, 'W', 0x00, 'e', 0x00, 'b'}, ext.Value)

	name, err := DecodeTemplateName(ext.Value)
	require.NoError(t, err)
	assert.Equal(t, "Web", name)

	_, err = DecodeTemplateName([]byte{0x0c, 0x01, 'x'})
	require.ErrorIs(t, err, pkgerrors.ErrEncoding)
}

func TestSMIMECapabilitiesEncoding(t *testing.T) {
	capabilities := []keygen.SMIMECapability{
		{OID: asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 1, 42}},
		// RC2-CBC with a 128 bit effective key length parameter
		{OID: asn1.ObjectIdentifier{1, 2, 840, 113549, 3, 2}, Parameters: []byte{0x02, 0x02, 0x00, 0x80}},
	}

	ext, err := smimeCapabilitiesExtension(capabilities)
	require.NoError(t, err)

	decoded, err := DecodeSMIMECapabilities(ext.Value)
	require.NoError(t, err)
	assert.Equal(t, capabilities, decoded)

	empty, err := smimeCapabilitiesExtension(nil)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x30, 0x00}, empty.Value)
}
