// Copyright 2025 Clastix Labs
// SPDX-License-Identifier: Apache-2.0

package enroll_test

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/status"

	"github.com/clastix/signing-cert-enroller/pkg/csr"
	"github.com/clastix/signing-cert-enroller/pkg/enroll"
	pkgerrors "github.com/clastix/signing-cert-enroller/pkg/errors"
	"github.com/clastix/signing-cert-enroller/pkg/keygen"
	pb "github.com/clastix/signing-cert-enroller/pkg/proto"
	"github.com/clastix/signing-cert-enroller/pkg/server"
	"github.com/clastix/signing-cert-enroller/pkg/server/servertest"
)

var devCA = enroll.Endpoint{Address: servertest.Address, Name: "Test Issuing CA"}

func buildRequest(t *testing.T, template string) *csr.CertificateRequest {
	t.Helper()

	provider := keygen.NewSoftwareProvider("Test Provider")
	key, err := keygen.Generate(context.Background(), keygen.NewRegistry(provider), "enroll-test", "Test Provider", 2048)
	require.NoError(t, err)

	req, err := (&csr.Builder{TemplateName: template}).Build(context.Background(), key, "svc-token-signer")
	require.NoError(t, err)

	return req
}

func grpcClient(t *testing.T, srv pb.CertificateAuthorityServer, token string) enroll.CAClient {
	t.Helper()

	client, err := enroll.NewGRPCClient(enroll.GRPCConfig{
		Token:    token,
		Insecure: true,
		Logger:   zerolog.Nop(),
	}, servertest.Start(t, srv))
	require.NoError(t, err)

	return client
}

type stubCA struct {
	resp  *pb.SubmitResponse
	err   error
	block bool
	got   *pb.SubmitRequest
}

func (s *stubCA) Submit(ctx context.Context, _ enroll.Endpoint, req *pb.SubmitRequest) (*pb.SubmitResponse, error) {
	s.got = req
	if s.block {
		<-ctx.Done()

		return nil, status.FromContextError(ctx.Err()).Err()
	}

	return s.resp, s.err
}

func TestSubmitOverGRPC(t *testing.T) {
	t.Run("issued", func(t *testing.T) {
		ca := servertest.NewCA(t)
		ca.ValidToken = "token"
		client := &enroll.Client{CA: grpcClient(t, ca, "token"), Timeout: 10 * time.Second}

		outcome, err := client.Submit(context.Background(), buildRequest(t, "WebServer"), devCA)
		require.NoError(t, err)
		require.NoError(t, outcome.Err())

		assert.Equal(t, enroll.Issued, outcome.Disposition)
		assert.Equal(t, `passthrough:///bufnet\Test Issuing CA`, outcome.CA)

		cert, err := x509.ParseCertificate(outcome.Certificate)
		require.NoError(t, err)
		assert.Equal(t, "svc-token-signer", cert.Subject.CommonName)
	})

	t.Run("pending", func(t *testing.T) {
		ca := servertest.NewCA(t)
		ca.RequireApproval = true
		client := &enroll.Client{CA: grpcClient(t, ca, ""), Timeout: 10 * time.Second}

		outcome, err := client.Submit(context.Background(), buildRequest(t, "WebServer"), devCA)
		require.NoError(t, err)

		assert.Equal(t, enroll.Pending, outcome.Disposition)
		assert.Empty(t, outcome.Certificate)

		err = outcome.Err()
		require.ErrorIs(t, err, pkgerrors.ErrSubmissionPending)
		assert.Contains(t, err.Error(), "Taken Under Submission")
		assert.Contains(t, err.Error(), "Test Issuing CA")
	})

	t.Run("denied", func(t *testing.T) {
		client := &enroll.Client{CA: grpcClient(t, servertest.NewCA(t), ""), Timeout: 10 * time.Second}

		outcome, err := client.Submit(context.Background(), buildRequest(t, "CodeSigning"), devCA)
		require.NoError(t, err)

		assert.Equal(t, enroll.Denied, outcome.Disposition)

		var subErr *pkgerrors.SubmissionError
		require.ErrorAs(t, outcome.Err(), &subErr)
		assert.False(t, subErr.Pending)
		assert.Equal(t, uint32(0x80094800), uint32(subErr.Status))
	})

	t.Run("rejected token is denied", func(t *testing.T) {
		ca := servertest.NewCA(t)
		ca.ValidToken = "expected"
		client := &enroll.Client{CA: grpcClient(t, ca, "wrong"), Timeout: 10 * time.Second}

		outcome, err := client.Submit(context.Background(), buildRequest(t, "WebServer"), devCA)
		require.NoError(t, err)

		assert.Equal(t, enroll.Denied, outcome.Disposition)
		assert.Equal(t, "invalid token", outcome.Message)
		assert.Equal(t, int32(codes.Unauthenticated), outcome.Status)
	})
}

func TestSubmitOverTLS(t *testing.T) {
	ca := servertest.NewCA(t)

	serving, err := server.NewServerCertificate(ca.CACert, ca.CAPrivateKey, []string{"127.0.0.1"})
	require.NoError(t, err)

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := grpc.NewServer(grpc.Creds(credentials.NewTLS(&tls.Config{
		Certificates: []tls.Certificate{serving},
		MinVersion:   tls.VersionTLS12,
	})))
	pb.RegisterCertificateAuthorityServer(s, ca)

	go func() { _ = s.Serve(lis) }()
	t.Cleanup(s.Stop)

	caPath := filepath.Join(t.TempDir(), "ca.crt")
	require.NoError(t, os.WriteFile(caPath, ca.CACert, 0o600))

	transport, err := enroll.NewGRPCClient(enroll.GRPCConfig{CACertPath: caPath, Logger: zerolog.Nop()})
	require.NoError(t, err)

	client := &enroll.Client{CA: transport, Timeout: 10 * time.Second}

	outcome, err := client.Submit(context.Background(), buildRequest(t, "WebServer"), enroll.Endpoint{Address: lis.Addr().String()})
	require.NoError(t, err)
	assert.Equal(t, enroll.Issued, outcome.Disposition, outcome.Message)
}

func TestNewGRPCClientBadRoots(t *testing.T) {
	_, err := enroll.NewGRPCClient(enroll.GRPCConfig{CACertPath: filepath.Join(t.TempDir(), "missing.crt")})
	require.ErrorIs(t, err, pkgerrors.ErrReadFile)

	garbage := filepath.Join(t.TempDir(), "garbage.crt")
	require.NoError(t, os.WriteFile(garbage, []byte("not pem"), 0o600))

	_, err = enroll.NewGRPCClient(enroll.GRPCConfig{CACertPath: garbage})
	require.ErrorIs(t, err, pkgerrors.ErrPemDecoding)
}

func TestSubmitFlags(t *testing.T) {
	ca := &stubCA{resp: &pb.SubmitResponse{Disposition: pb.DispositionDenied, Message: "Denied by Policy Module"}}
	client := &enroll.Client{CA: ca}
	req := buildRequest(t, "WebServer")

	outcome, err := client.Submit(context.Background(), req, devCA)
	require.NoError(t, err)

	assert.Equal(t, enroll.Denied, outcome.Disposition)
	assert.Equal(t, pb.InBase64|pb.InFormatAny|pb.InPKCS10, ca.got.Flags)
	assert.Equal(t, pb.OutBase64, ca.got.OutFlags)
	assert.Equal(t, req.Encoded, ca.got.Request)
	assert.Equal(t, devCA.String(), ca.got.Config)
}

func TestSubmitTimeout(t *testing.T) {
	client := &enroll.Client{CA: &stubCA{block: true}, Timeout: 50 * time.Millisecond}

	outcome, err := client.Submit(context.Background(), buildRequest(t, "WebServer"), devCA)
	require.NoError(t, err)

	assert.Equal(t, enroll.Denied, outcome.Disposition)
	assert.Equal(t, enroll.StatusTimeout, outcome.Status)
	assert.True(t, strings.Contains(outcome.Message, "50ms"), outcome.Message)
	require.ErrorIs(t, outcome.Err(), pkgerrors.ErrSubmissionDenied)
}

func TestSubmitCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := &enroll.Client{CA: &stubCA{block: true}, Timeout: time.Second}

	_, err := client.Submit(ctx, buildRequest(t, "WebServer"), devCA)
	require.ErrorIs(t, err, context.Canceled)
}

func TestSubmitUnreadableCertificate(t *testing.T) {
	for name, cert := range map[string]string{"not base64": "%%%", "empty": ""} {
		t.Run(name, func(t *testing.T) {
			client := &enroll.Client{CA: &stubCA{resp: &pb.SubmitResponse{Disposition: pb.DispositionIssued, Certificate: cert}}}

			_, err := client.Submit(context.Background(), buildRequest(t, "WebServer"), devCA)
			require.ErrorIs(t, err, pkgerrors.ErrEncoding)
		})
	}
}

func TestInterpret(t *testing.T) {
	tests := map[pb.Disposition]enroll.Disposition{
		pb.DispositionIncomplete:      enroll.Denied,
		pb.DispositionError:           enroll.Denied,
		pb.DispositionDenied:          enroll.Denied,
		pb.DispositionIssued:          enroll.Issued,
		pb.DispositionIssuedOutOfBand: enroll.Denied,
		pb.DispositionUnderSubmission: enroll.Pending,
		pb.DispositionRevoked:         enroll.Denied,
	}

	for code, want := range tests {
		assert.Equal(t, want, enroll.Interpret(code), code.String())
	}
}
