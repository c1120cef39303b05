// Copyright 2025 Clastix Labs
// SPDX-License-Identifier: Apache-2.0

// Package server is a gRPC certification authority implementing the request submission service.
package server

import (
	"context"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"math/big"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/clastix/signing-cert-enroller/pkg/csr"
	pb "github.com/clastix/signing-cert-enroller/pkg/proto"
)

// Status codes reported in SubmitResponse.Status.
const (
	statusOK                  uint32 = 0x00000000
	statusPending             uint32 = 0x00000000
	statusInvalidArg          uint32 = 0x80070057
	statusBadSignature        uint32 = 0x80090006
	statusBadRequestSubject   uint32 = 0x80094001
	statusTemplateDenied      uint32 = 0x80094012
	statusUnsupportedCertType uint32 = 0x80094800
)

// DefaultValidity is the lifetime of issued certificates.
const DefaultValidity = 365 * 24 * time.Hour

// Server is the struct satisfying the CertificateAuthorityServer interface.
type Server struct {
	CACert       []byte
	CAPrivateKey interface{}
	ValidToken   string
	// Templates lists the certificate templates this CA issues.
	Templates []string
	// RequireApproval takes every valid request under submission instead of issuing it.
	RequireApproval bool
	Validity        time.Duration

	lastRequestID atomic.Int64
}

// Submit implements the CertificateAuthority.Submit RPC.
//
//nolint:wrapcheck
func (s *Server) Submit(ctx context.Context, req *pb.SubmitRequest) (*pb.SubmitResponse, error) {
	log := zerolog.Ctx(ctx)
	log.Info().Msg("=== New Certificate Request Received ===")

	if err := s.authenticate(ctx); err != nil {
		return nil, err
	}

	requestID := s.lastRequestID.Add(1)
	reply := func(d pb.Disposition, code uint32, format string, args ...any) *pb.SubmitResponse {
		msg := fmt.Sprintf(format, args...)
		log.Info().Int64("requestId", requestID).Str("disposition", d.String()).Msg(msg)

		return &pb.SubmitResponse{Disposition: d, Message: msg, Status: hresult(code), RequestID: requestID}
	}

	der, err := decodeRequest(req)
	if err != nil {
		return reply(pb.DispositionError, statusInvalidArg, "Error Parsing Request: %v", err), nil
	}

	log.Debug().Int("length", len(der)).Msg("CSR decoded successfully")

	request, err := x509.ParseCertificateRequest(der)
	if err != nil {
		return reply(pb.DispositionError, statusInvalidArg, "Error Parsing Request: %v", err), nil
	}

	if err = request.CheckSignature(); err != nil {
		return reply(pb.DispositionDenied, statusBadSignature, "Invalid request signature: %v", err), nil
	}

	log.Debug().Msg("CSR signature verified")

	if strings.TrimSpace(request.Subject.CommonName) == "" {
		return reply(pb.DispositionDenied, statusBadRequestSubject, "The request subject name is invalid or too long"), nil
	}

	requested, err := csr.Inspect(request)
	if err != nil {
		return reply(pb.DispositionError, statusInvalidArg, "Error Parsing Request extensions: %v", err), nil
	}

	if !requested.HasTemplateName || !slices.Contains(s.Templates, requested.TemplateName) {
		return reply(pb.DispositionDenied, statusUnsupportedCertType,
			"The requested certificate template is not supported by this CA (%q)", requested.TemplateName), nil
	}

	if !requested.Complete() {
		return reply(pb.DispositionDenied, statusTemplateDenied,
			"The request does not carry every extension required by template %s", requested.TemplateName), nil
	}

	log.Info().Str("subject", request.Subject.String()).Str("template", requested.TemplateName).Msg("CSR details")

	if s.RequireApproval {
		return reply(pb.DispositionUnderSubmission, statusPending, "Taken Under Submission"), nil
	}

	certDER, err := s.issue(request)
	if err != nil {
		log.Error().Err(err).Msg("failed to issue certificate")

		return nil, status.Error(codes.Internal, err.Error())
	}

	resp := reply(pb.DispositionIssued, statusOK, "Issued")
	resp.Certificate = base64.StdEncoding.EncodeToString(certDER)

	log.Info().Msg("=== Certificate Request Completed Successfully ===")

	return resp, nil
}

func (s *Server) authenticate(ctx context.Context) error {
	if s.ValidToken == "" {
		return nil
	}

	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return status.Error(codes.Unauthenticated, "missing metadata")
	}

	tokenHeader := md.Get(pb.TokenMetadataKey)
	if len(tokenHeader) == 0 {
		return status.Error(codes.Unauthenticated, "missing token")
	}

	if tokenHeader[0] != s.ValidToken {
		zerolog.Ctx(ctx).Warn().Str("prefix", tokenHeader[0][:min(8, len(tokenHeader[0]))]).Msg("invalid token received")

		return status.Error(codes.Unauthenticated, "invalid token")
	}

	return nil
}

func (s *Server) issue(request *x509.CertificateRequest) ([]byte, error) {
	caBlock, _ := pem.Decode(s.CACert)
	if caBlock == nil {
		return nil, fmt.Errorf("failed to decode CA certificate")
	}

	caCert, err := x509.ParseCertificate(caBlock.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse CA cert: %w", err)
	}

	serialNumber, err := generateSerialNumber()
	if err != nil {
		return nil, fmt.Errorf("failed to generate serial: %w", err)
	}

	validity := s.Validity
	if validity <= 0 {
		validity = DefaultValidity
	}

	var extensions []pkix.Extension
	for _, ext := range request.Extensions {
		if ext.Id.Equal(csr.OIDExtensionKeyUsage) ||
			ext.Id.Equal(csr.OIDExtensionExtendedKeyUsage) ||
			ext.Id.Equal(csr.OIDExtensionSMIMECapabilities) ||
			ext.Id.Equal(csr.OIDExtensionTemplateName) {
			extensions = append(extensions, ext)
		}
	}

	now := time.Now()
	template := &x509.Certificate{
		SerialNumber:          serialNumber,
		RawSubject:            request.RawSubject,
		NotBefore:             now.Add(-time.Minute),
		NotAfter:              now.Add(validity),
		BasicConstraintsValid: true,
		ExtraExtensions:       extensions,
	}

	return x509.CreateCertificate(rand.Reader, template, caCert, request.PublicKey, s.CAPrivateKey)
}

func decodeRequest(req *pb.SubmitRequest) ([]byte, error) {
	if req.Flags&pb.InBase64 == 0 {
		return nil, fmt.Errorf("binary request encoding is not supported")
	}

	if format := req.Flags &^ pb.InBase64; format != pb.InFormatAny && format != pb.InPKCS10 {
		return nil, fmt.Errorf("unsupported request format 0x%x", format)
	}

	text := strings.TrimSpace(req.Request)
	if strings.HasPrefix(text, "-----BEGIN") {
		block, _ := pem.Decode([]byte(text))
		if block == nil {
			return nil, fmt.Errorf("failed to decode PEM CSR")
		}

		return block.Bytes, nil
	}

	der, err := base64.StdEncoding.DecodeString(strings.Join(strings.Fields(text), ""))
	if err != nil {
		return nil, err
	}

	if len(der) == 0 {
		return nil, fmt.Errorf("empty request")
	}

	return der, nil
}

func hresult(code uint32) int32 {
	return int32(code) //nolint:gosec
}

func generateSerialNumber() (*big.Int, error) {
	serialNumberLimit := new(big.Int).Lsh(big.NewInt(1), 128)

	return rand.Int(rand.Reader, serialNumberLimit) //nolint:wrapcheck
}
