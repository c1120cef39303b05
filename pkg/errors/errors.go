// Copyright 2025 Clastix Labs
// SPDX-License-Identifier: Apache-2.0

// Package errors contains the errors returned by the signing certificate enroller.
package errors

import (
	"errors"
	"fmt"
)

var (
	// ErrInput is the error when the certificate common name is empty or unusable.
	ErrInput = errors.New("invalid input")
	// ErrProvider is the error when the cryptographic provider is unavailable or refuses key creation.
	ErrProvider = errors.New("key provider error")
	// ErrEncoding is the error when the subject or an extension cannot be encoded.
	ErrEncoding = errors.New("encoding error")
	// ErrSubmissionPending is the error when the CA took the request under submission.
	ErrSubmissionPending = errors.New("certificate request is pending")
	// ErrSubmissionDenied is the error when the CA denied or failed the request.
	ErrSubmissionDenied = errors.New("certificate request failed")
	// ErrStoreConsistency is the error when the tagged store entry is missing or not unique.
	ErrStoreConsistency = errors.New("certificate store consistency error")
	// ErrStoreCleanup is the error when a tagged store entry could not be removed.
	ErrStoreCleanup = errors.New("certificate store cleanup failed")
	// ErrIOConflict is the error when an output path already exists or is locked.
	ErrIOConflict = errors.New("output path conflict")
	// ErrMissingEndpoint is the error when no CA endpoint is configured.
	ErrMissingEndpoint = errors.New("missing CA endpoint")
	// ErrInvalidKeySize is the error when the configured key length is not usable.
	ErrInvalidKeySize = errors.New("invalid key size")
	// ErrMissingTemplate is the error when no certificate template name is configured.
	ErrMissingTemplate = errors.New("missing certificate template")
	// ErrMissingStore is the error when no certificate store is configured.
	ErrMissingStore = errors.New("missing certificate store")
	// ErrInvalidTimeout is the error when the submission timeout is not positive.
	ErrInvalidTimeout = errors.New("invalid submission timeout")
	// ErrMissingPort is the error when a zero value for port is defined.
	ErrMissingPort = errors.New("missing gRPC server port")
	// ErrPortOutOfRange is the error when a port is out of range.
	ErrPortOutOfRange = errors.New("gRPC server port is out of range")
	// ErrMissingPath is the error when a certificate component path is not declared.
	ErrMissingPath = errors.New("path is required")
	// ErrReadFile is the error when reading the certificate components from a path.
	ErrReadFile = errors.New("failed to read file")
	// ErrPemDecoding is the error when decoding the certificate PEM.
	ErrPemDecoding = errors.New("failed to decode PEM")
	// ErrParseCertificate is the error when parsing the certificate private key.
	ErrParseCertificate = errors.New("failed to parse private key")
	// ErrUnsupportedBlockType is the error when trying to parse a certificate with an unhandled block.
	ErrUnsupportedBlockType = errors.New("unsupported block type")
	// ErrLoadingCertificate is the error when the server TLS key pair cannot be loaded.
	ErrLoadingCertificate = errors.New("failed to load TLS key pair")
	// ErrServerListen is the error when the server can't start listening on the given port.
	ErrServerListen = errors.New("failed to listen on given port")
	// ErrGRPCServerServe is the error when the gRPC server is not able to serve requests.
	ErrGRPCServerServe = errors.New("failed to serve gRPC")
)

// SubmissionError reports a CA disposition other than issued.
type SubmissionError struct {
	// CA is the identity string of the CA the request was submitted to.
	CA string
	// Pending is true when the CA took the request under submission.
	Pending bool
	// Message is the CA supplied disposition message.
	Message string
	// Status is the CA supplied status code.
	Status int32
}

func (e *SubmissionError) Error() string {
	if e.Pending {
		return fmt.Sprintf("the certificate request is pending on CA %s: %s", e.CA, e.Message)
	}

	return fmt.Sprintf("the certificate request failed on CA %s: %s (status 0x%08x)", e.CA, e.Message, uint32(e.Status))
}

func (e *SubmissionError) Unwrap() error {
	if e.Pending {
		return ErrSubmissionPending
	}

	return ErrSubmissionDenied
}

// CleanupError carries a primary failure together with a failed store cleanup.
// It unwraps to the primary error only.
type CleanupError struct {
	Primary error
	Cleanup error
}

func (e *CleanupError) Error() string {
	return fmt.Sprintf("%v (store cleanup also failed, manual removal required: %v)", e.Primary, e.Cleanup)
}

func (e *CleanupError) Unwrap() error {
	return e.Primary
}
