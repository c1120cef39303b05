// Copyright 2025 Clastix Labs
// SPDX-License-Identifier: Apache-2.0

// Package proto defines the certificate request submission service.
//
// Messages travel as google.protobuf.Struct values so that the service runs on the
// default gRPC protobuf codec without generated stubs.
package proto

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/types/known/structpb"
)

const (
	// ServiceName is the fully qualified gRPC service name.
	ServiceName = "certsrv.v1.CertificateAuthority"
	// SubmitMethod is the full method name of the Submit RPC.
	SubmitMethod = "/" + ServiceName + "/Submit"
	// TokenMetadataKey carries the CA access token.
	TokenMetadataKey = "token"
)

// Submission flags.
const (
	InBase64    int32 = 0x1
	InFormatAny int32 = 0x0
	InPKCS10    int32 = 0x100

	OutBase64 int32 = 0x1
	OutChain  int32 = 0x100
)

// Disposition is the CA decision on a submitted request.
type Disposition int32

const (
	DispositionIncomplete      Disposition = 0
	DispositionError           Disposition = 1
	DispositionDenied          Disposition = 2
	DispositionIssued          Disposition = 3
	DispositionIssuedOutOfBand Disposition = 4
	DispositionUnderSubmission Disposition = 5
	DispositionRevoked         Disposition = 6
)

func (d Disposition) String() string {
	switch d {
	case DispositionIncomplete:
		return "Incomplete"
	case DispositionError:
		return "Error"
	case DispositionDenied:
		return "Denied"
	case DispositionIssued:
		return "Issued"
	case DispositionIssuedOutOfBand:
		return "IssuedOutOfBand"
	case DispositionUnderSubmission:
		return "UnderSubmission"
	case DispositionRevoked:
		return "Revoked"
	default:
		return fmt.Sprintf("Disposition(%d)", int32(d))
	}
}

// SubmitRequest is the request sent to the CA.
type SubmitRequest struct {
	// Request is the encoded certificate request.
	Request string
	// Flags describe the request encoding and format.
	Flags int32
	// OutFlags select the certificate encoding of the response.
	OutFlags int32
	// Config is the identity of the target CA.
	Config string
}

// SubmitResponse is the CA answer.
type SubmitResponse struct {
	Disposition Disposition
	// Message is the human readable disposition message.
	Message string
	// Status is the last status code reported by the CA.
	Status int32
	// RequestID identifies the request on the CA.
	RequestID int64
	// Certificate is the issued certificate, present only when issued.
	Certificate string
}

// Proto converts the request to its wire message.
func (r *SubmitRequest) Proto() (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"request":   r.Request,
		"flags":     r.Flags,
		"out_flags": r.OutFlags,
		"config":    r.Config,
	})
}

// Proto converts the response to its wire message.
func (r *SubmitResponse) Proto() (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"disposition": int32(r.Disposition),
		"message":     r.Message,
		"status":      r.Status,
		"request_id":  r.RequestID,
		"certificate": r.Certificate,
	})
}

// ParseSubmitRequest decodes a request wire message.
func ParseSubmitRequest(s *structpb.Struct) (*SubmitRequest, error) {
	fields := s.GetFields()

	flags, err := int32Field(fields, "flags")
	if err != nil {
		return nil, err
	}

	outFlags, err := int32Field(fields, "out_flags")
	if err != nil {
		return nil, err
	}

	return &SubmitRequest{
		Request:  fields["request"].GetStringValue(),
		Flags:    flags,
		OutFlags: outFlags,
		Config:   fields["config"].GetStringValue(),
	}, nil
}

// ParseSubmitResponse decodes a response wire message.
func ParseSubmitResponse(s *structpb.Struct) (*SubmitResponse, error) {
	fields := s.GetFields()

	disposition, err := int32Field(fields, "disposition")
	if err != nil {
		return nil, err
	}

	statusCode, err := int32Field(fields, "status")
	if err != nil {
		return nil, err
	}

	requestID := fields["request_id"].GetNumberValue()
	if requestID != math.Trunc(requestID) {
		return nil, fmt.Errorf("field request_id is not an integer: %v", requestID)
	}

	return &SubmitResponse{
		Disposition: Disposition(disposition),
		Message:     fields["message"].GetStringValue(),
		Status:      statusCode,
		RequestID:   int64(requestID),
		Certificate: fields["certificate"].GetStringValue(),
	}, nil
}

func int32Field(fields map[string]*structpb.Value, name string) (int32, error) {
	v := fields[name].GetNumberValue()
	if v != math.Trunc(v) || v < math.MinInt32 || v > math.MaxInt32 {
		return 0, fmt.Errorf("field %s is not a 32-bit integer: %v", name, v)
	}

	return int32(v), nil
}
