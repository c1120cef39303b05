// Copyright 2025 Clastix Labs
// SPDX-License-Identifier: Apache-2.0

package enroll

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"os"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"

	pkgerrors "github.com/clastix/signing-cert-enroller/pkg/errors"
	"github.com/clastix/signing-cert-enroller/pkg/logger"
	pb "github.com/clastix/signing-cert-enroller/pkg/proto"
)

// GRPCConfig configures the gRPC transport towards the CA.
type GRPCConfig struct {
	// Token is sent in the request metadata.
	Token string
	// CACertPath is a PEM bundle trusted for the CA transport. System roots are used when empty.
	CACertPath string
	// Insecure disables transport security.
	Insecure bool
	Logger   zerolog.Logger
}

// GRPCClient submits requests over gRPC, one connection per submission.
type GRPCClient struct {
	token       string
	dialOptions []grpc.DialOption
}

// NewGRPCClient builds the transport credentials described by cfg.
func NewGRPCClient(cfg GRPCConfig, extra ...grpc.DialOption) (*GRPCClient, error) {
	creds := insecure.NewCredentials()

	if !cfg.Insecure {
		tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}

		if cfg.CACertPath != "" {
			caPEM, err := os.ReadFile(cfg.CACertPath)
			if err != nil {
				return nil, errors.Wrap(pkgerrors.ErrReadFile, "failed to read CA certificate: "+err.Error())
			}

			pool := x509.NewCertPool()
			if !pool.AppendCertsFromPEM(caPEM) {
				return nil, errors.Wrap(pkgerrors.ErrPemDecoding, cfg.CACertPath)
			}

			tlsConfig.RootCAs = pool
		}

		creds = credentials.NewTLS(tlsConfig)
	}

	opts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(creds),
		grpc.WithUnaryInterceptor(logger.UnaryClientInterceptor(cfg.Logger)),
	}, extra...)

	return &GRPCClient{token: cfg.Token, dialOptions: opts}, nil
}

func (c *GRPCClient) Submit(ctx context.Context, endpoint Endpoint, req *pb.SubmitRequest) (*pb.SubmitResponse, error) {
	conn, err := grpc.NewClient(endpoint.Address, c.dialOptions...)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to connect to CA %s", endpoint)
	}
	defer func() { _ = conn.Close() }()

	if c.token != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, pb.TokenMetadataKey, c.token)
	}

	return pb.NewCertificateAuthorityClient(conn).Submit(ctx, req) //nolint:wrapcheck
}
