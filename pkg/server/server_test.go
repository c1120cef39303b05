// Copyright 2025 Clastix Labs
// SPDX-License-Identifier: Apache-2.0

package server_test

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/clastix/signing-cert-enroller/pkg/csr"
	pkgerrors "github.com/clastix/signing-cert-enroller/pkg/errors"
	"github.com/clastix/signing-cert-enroller/pkg/keygen"
	pb "github.com/clastix/signing-cert-enroller/pkg/proto"
	"github.com/clastix/signing-cert-enroller/pkg/server"
	"github.com/clastix/signing-cert-enroller/pkg/server/servertest"
)

func buildRequest(t *testing.T, template, cn string) *csr.CertificateRequest {
	t.Helper()

	provider := keygen.NewSoftwareProvider("Test Provider")
	key, err := keygen.Generate(context.Background(), keygen.NewRegistry(provider), "req-"+cn, "Test Provider", 2048)
	require.NoError(t, err)

	req, err := (&csr.Builder{TemplateName: template}).Build(context.Background(), key, cn)
	require.NoError(t, err)

	return req
}

func submit(req *csr.CertificateRequest) *pb.SubmitRequest {
	return &pb.SubmitRequest{
		Request:  req.Encoded,
		Flags:    pb.InBase64 | pb.InFormatAny | pb.InPKCS10,
		OutFlags: pb.OutBase64,
	}
}

func TestSubmitIssues(t *testing.T) {
	ca := servertest.NewCA(t)
	req := buildRequest(t, "WebServer", "svc-token-signer")

	resp, err := ca.Submit(context.Background(), submit(req))
	require.NoError(t, err)

	require.Equal(t, pb.DispositionIssued, resp.Disposition, resp.Message)
	assert.Equal(t, int32(0), resp.Status)
	assert.Equal(t, int64(1), resp.RequestID)

	der, err := base64.StdEncoding.DecodeString(resp.Certificate)
	require.NoError(t, err)

	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	assert.Equal(t, "svc-token-signer", cert.Subject.CommonName)
	assert.Equal(t, csr.RequestedKeyUsage, cert.KeyUsage)
	assert.ElementsMatch(t, []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth, x509.ExtKeyUsageServerAuth}, cert.ExtKeyUsage)
	assert.False(t, cert.IsCA)
	assert.True(t, req.Key.Public().(*rsa.PublicKey).Equal(cert.PublicKey))

	block, _ := pem.Decode(ca.CACert)
	require.NotNil(t, block)
	caCert, err := x509.ParseCertificate(block.Bytes)
	require.NoError(t, err)
	require.NoError(t, cert.CheckSignatureFrom(caCert))
}

func TestSubmitDispositions(t *testing.T) {
	t.Run("unknown template is denied", func(t *testing.T) {
		ca := servertest.NewCA(t)

		resp, err := ca.Submit(context.Background(), submit(buildRequest(t, "CodeSigning", "svc")))
		require.NoError(t, err)

		assert.Equal(t, pb.DispositionDenied, resp.Disposition)
		assert.Contains(t, resp.Message, "CodeSigning")
		assert.Equal(t, uint32(0x80094800), uint32(resp.Status))
		assert.Empty(t, resp.Certificate)
	})

	t.Run("manual approval takes the request under submission", func(t *testing.T) {
		ca := servertest.NewCA(t)
		ca.RequireApproval = true

		resp, err := ca.Submit(context.Background(), submit(buildRequest(t, "WebServer", "svc")))
		require.NoError(t, err)

		assert.Equal(t, pb.DispositionUnderSubmission, resp.Disposition)
		assert.Equal(t, "Taken Under Submission", resp.Message)
		assert.Empty(t, resp.Certificate)
	})

	t.Run("garbage request is an error disposition", func(t *testing.T) {
		ca := servertest.NewCA(t)

		resp, err := ca.Submit(context.Background(), &pb.SubmitRequest{Request: "not base64!", Flags: pb.InBase64})
		require.NoError(t, err)
		assert.Equal(t, pb.DispositionError, resp.Disposition)
	})

	t.Run("binary encoding is refused", func(t *testing.T) {
		ca := servertest.NewCA(t)
		req := submit(buildRequest(t, "WebServer", "svc"))
		req.Flags = pb.InPKCS10

		resp, err := ca.Submit(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, pb.DispositionError, resp.Disposition)
	})

	t.Run("pem and wrapped base64 are accepted", func(t *testing.T) {
		ca := servertest.NewCA(t)
		built := buildRequest(t, "WebServer", "svc")

		wrapped := submit(built)
		wrapped.Request = built.Encoded[:64] + "\r\n" + built.Encoded[64:]
		resp, err := ca.Submit(context.Background(), wrapped)
		require.NoError(t, err)
		assert.Equal(t, pb.DispositionIssued, resp.Disposition, resp.Message)

		pemReq := submit(built)
		pemReq.Request = string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE REQUEST", Bytes: built.DER}))
		resp, err = ca.Submit(context.Background(), pemReq)
		require.NoError(t, err)
		assert.Equal(t, pb.DispositionIssued, resp.Disposition, resp.Message)
		assert.Equal(t, int64(2), resp.RequestID)
	})
}

func TestSubmitToken(t *testing.T) {
	ca := servertest.NewCA(t)
	ca.ValidToken = "s3cr3t-token"
	req := submit(buildRequest(t, "WebServer", "svc"))

	t.Run("missing metadata", func(t *testing.T) {
		_, err := ca.Submit(context.Background(), req)
		assert.Equal(t, codes.Unauthenticated, status.Code(err))
	})

	t.Run("missing token", func(t *testing.T) {
		ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs("other", "x"))
		_, err := ca.Submit(ctx, req)
		assert.Equal(t, codes.Unauthenticated, status.Code(err))
	})

	t.Run("invalid token", func(t *testing.T) {
		ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs(pb.TokenMetadataKey, "nope"))
		_, err := ca.Submit(ctx, req)
		assert.Equal(t, codes.Unauthenticated, status.Code(err))
	})

	t.Run("valid token", func(t *testing.T) {
		ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs(pb.TokenMetadataKey, "s3cr3t-token"))
		resp, err := ca.Submit(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, pb.DispositionIssued, resp.Disposition)
	})
}

func TestParsePrivateKey(t *testing.T) {
	_, keyPEM, err := server.NewSelfSignedCA("Dev CA", 0)
	require.NoError(t, err)

	key, err := server.ParsePrivateKey(keyPEM)
	require.NoError(t, err)
	assert.NotNil(t, key)

	_, err = server.ParsePrivateKey([]byte("garbage"))
	require.ErrorIs(t, err, pkgerrors.ErrPemDecoding)

	_, err = server.ParsePrivateKey(pem.EncodeToMemory(&pem.Block{Type: "DSA PRIVATE KEY", Bytes: []byte{1}}))
	require.ErrorIs(t, err, pkgerrors.ErrUnsupportedBlockType)
}

func TestNewServerCertificate(t *testing.T) {
	ca := servertest.NewCA(t)

	t.Run("named after the first host", func(t *testing.T) {
		serving, err := server.NewServerCertificate(ca.CACert, ca.CAPrivateKey, []string{"", "ca.corp.local", "10.0.0.7"})
		require.NoError(t, err)
		require.Len(t, serving.Certificate, 2)

		leaf, err := x509.ParseCertificate(serving.Certificate[0])
		require.NoError(t, err)
		assert.Equal(t, "ca.corp.local", leaf.Subject.CommonName)
		assert.ElementsMatch(t, []string{"localhost", "ca.corp.local"}, leaf.DNSNames)
		assert.Len(t, leaf.IPAddresses, 2)
		assert.False(t, leaf.IsCA)
		require.NoError(t, leaf.VerifyHostname("ca.corp.local"))
		require.NoError(t, leaf.VerifyHostname("10.0.0.7"))
	})

	t.Run("localhost without hosts", func(t *testing.T) {
		serving, err := server.NewServerCertificate(ca.CACert, ca.CAPrivateKey, nil)
		require.NoError(t, err)

		leaf, err := x509.ParseCertificate(serving.Certificate[0])
		require.NoError(t, err)
		assert.Equal(t, "localhost", leaf.Subject.CommonName)
	})

	t.Run("undecodable CA certificate", func(t *testing.T) {
		_, err := server.NewServerCertificate([]byte("not pem"), ca.CAPrivateKey, nil)
		require.ErrorIs(t, err, pkgerrors.ErrPemDecoding)
	})
}
