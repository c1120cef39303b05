// Copyright 2025 Clastix Labs
// SPDX-License-Identifier: Apache-2.0

// Package enroll submits certificate requests to a CA and interprets its disposition.
package enroll

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/clastix/signing-cert-enroller/pkg/csr"
	pkgerrors "github.com/clastix/signing-cert-enroller/pkg/errors"
	pb "github.com/clastix/signing-cert-enroller/pkg/proto"
)

// StatusTimeout is HRESULT_FROM_WIN32(ERROR_TIMEOUT), reported when the submission times out.
const StatusTimeout int32 = -2147023436

// Disposition is the three-way interpretation of the CA decision.
type Disposition int

const (
	Denied Disposition = iota
	Issued
	Pending
)

func (d Disposition) String() string {
	switch d {
	case Issued:
		return "Issued"
	case Pending:
		return "Pending"
	default:
		return "Denied"
	}
}

// Interpret maps a CA disposition code: issued and under submission are kept, everything else is denied.
func Interpret(d pb.Disposition) Disposition {
	switch d { //nolint:exhaustive
	case pb.DispositionIssued:
		return Issued
	case pb.DispositionUnderSubmission:
		return Pending
	default:
		return Denied
	}
}

// Outcome is the result of a submission.
type Outcome struct {
	Disposition Disposition
	// CA is the identity string of the CA.
	CA        string
	Message   string
	Status    int32
	RequestID int64
	// Certificate is the DER encoded issued certificate, set only when Issued.
	Certificate []byte
}

// Err returns the submission error for pending and denied outcomes.
func (o *Outcome) Err() error {
	if o.Disposition == Issued {
		return nil
	}

	return &pkgerrors.SubmissionError{
		CA:      o.CA,
		Pending: o.Disposition == Pending,
		Message: o.Message,
		Status:  o.Status,
	}
}

// CAClient sends a submission to a CA endpoint.
type CAClient interface {
	Submit(ctx context.Context, endpoint Endpoint, req *pb.SubmitRequest) (*pb.SubmitResponse, error)
}

// Client drives a single request through Built, Submitted and a terminal disposition.
type Client struct {
	CA CAClient
	// Timeout bounds the submission; a timeout is reported as Denied.
	Timeout time.Duration
}

// Submit sends the base64 request to endpoint and interprets the answer.
// Only cancellation of ctx and unreadable certificates are returned as errors.
func (c *Client) Submit(ctx context.Context, req *csr.CertificateRequest, endpoint Endpoint) (*Outcome, error) {
	logger := zerolog.Ctx(ctx).With().Str("ca", endpoint.String()).Logger()

	submitCtx := ctx
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		submitCtx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	logger.Debug().Str("state", "Submitted").Msg("submitting certificate request")

	resp, err := c.CA.Submit(submitCtx, endpoint, &pb.SubmitRequest{
		Request:  req.Encoded,
		Flags:    pb.InBase64 | pb.InFormatAny | pb.InPKCS10,
		OutFlags: pb.OutBase64,
		Config:   endpoint.String(),
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.Wrap(ctx.Err(), "certificate request submission cancelled")
		}

		outcome := c.failed(endpoint, err)
		logger.Debug().Str("state", outcome.Disposition.String()).Err(err).Msg("submission failed")

		return outcome, nil
	}

	outcome := &Outcome{
		Disposition: Interpret(resp.Disposition),
		CA:          endpoint.String(),
		Message:     resp.Message,
		Status:      resp.Status,
		RequestID:   resp.RequestID,
	}

	if outcome.Disposition == Issued {
		outcome.Certificate, err = base64.StdEncoding.DecodeString(resp.Certificate)
		if err != nil {
			return nil, errors.Wrapf(pkgerrors.ErrEncoding, "issued certificate from CA %s: %s", outcome.CA, err.Error())
		}
		if len(outcome.Certificate) == 0 {
			return nil, errors.Wrapf(pkgerrors.ErrEncoding, "CA %s issued an empty certificate", outcome.CA)
		}
	}

	logger.Debug().
		Str("state", outcome.Disposition.String()).
		Str("disposition", resp.Disposition.String()).
		Int64("requestId", resp.RequestID).
		Msg("submission answered")

	return outcome, nil
}

func (c *Client) failed(endpoint Endpoint, err error) *Outcome {
	outcome := &Outcome{Disposition: Denied, CA: endpoint.String()}

	if errors.Is(err, context.DeadlineExceeded) || status.Code(err) == codes.DeadlineExceeded {
		outcome.Message = fmt.Sprintf("the CA did not answer within %s", c.Timeout)
		outcome.Status = StatusTimeout

		return outcome
	}

	st := status.Convert(err)
	outcome.Message = st.Message()
	outcome.Status = int32(st.Code()) //nolint:gosec

	return outcome
}
