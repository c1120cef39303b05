// Copyright 2025 Clastix Labs
// SPDX-License-Identifier: Apache-2.0

// Package servertest runs a development CA over an in-memory gRPC listener.
package servertest

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"

	"github.com/clastix/signing-cert-enroller/pkg/logger"
	pb "github.com/clastix/signing-cert-enroller/pkg/proto"
	"github.com/clastix/signing-cert-enroller/pkg/server"
)

// Address is the target to pass to the client together with the Dialer option.
const Address = "passthrough:///bufnet"

// NewCA returns a development CA issuing the WebServer template.
func NewCA(t *testing.T) *server.Server {
	t.Helper()

	caCert, caKey, err := server.NewSelfSignedCA("Test Issuing CA", 24*time.Hour)
	if err != nil {
		t.Fatalf("failed to create test CA: %v", err)
	}

	privateKey, err := server.ParsePrivateKey(caKey)
	if err != nil {
		t.Fatalf("failed to parse test CA key: %v", err)
	}

	return &server.Server{
		CACert:       caCert,
		CAPrivateKey: privateKey,
		Templates:    []string{"WebServer"},
	}
}

// Start serves srv until the test ends and returns the dial option reaching it.
func Start(t *testing.T, srv pb.CertificateAuthorityServer) grpc.DialOption {
	t.Helper()

	lis := bufconn.Listen(1 << 20)
	s := grpc.NewServer(grpc.UnaryInterceptor(logger.UnaryServerInterceptor(zerolog.Nop())))
	pb.RegisterCertificateAuthorityServer(s, srv)

	go func() { _ = s.Serve(lis) }()
	t.Cleanup(s.Stop)

	return grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	})
}
