// Copyright 2025 Clastix Labs
// SPDX-License-Identifier: Apache-2.0

// Package logger configures zerolog and provides gRPC logging interceptors.
package logger

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

// Setup returns the process logger writing to stderr.
func Setup(debug bool) zerolog.Logger {
	return New(os.Stderr, debug)
}

// New builds a logger on top of w. Debug mode switches to a human readable console writer.
func New(w io.Writer, debug bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}

	logger := zerolog.New(w).Level(level).With().Timestamp().Caller().Logger()

	if debug {
		logger = logger.Output(zerolog.ConsoleWriter{Out: w, FormatTimestamp: func(any) string {
			return time.Now().Format(time.RFC3339)
		}}).Level(level).With().Stack().Logger()
	}

	return logger
}

// UnaryClientInterceptor logs every outgoing unary call with its duration and status code.
func UnaryClientInterceptor(logger zerolog.Logger) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		started := time.Now()

		err := invoker(ctx, method, req, reply, cc, opts...)

		event := logger.Debug()
		if err != nil {
			event = logger.Error().Err(err)
		}

		event.Str("method", method).
			Str("target", cc.Target()).
			Str("code", status.Code(err).String()).
			Dur("duration", time.Since(started)).
			Msg("rpc call")

		return err
	}
}

// UnaryServerInterceptor attaches the logger to the request context and logs the call.
func UnaryServerInterceptor(logger zerolog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		started := time.Now()
		ctx = logger.With().Str("method", info.FullMethod).Logger().WithContext(ctx)

		resp, err := handler(ctx, req)
		if err != nil {
			zerolog.Ctx(ctx).Error().
				Err(err).
				Dur("duration", time.Since(started)).
				Msg("rpc call")

			return resp, err
		}

		zerolog.Ctx(ctx).Info().
			Dur("duration", time.Since(started)).
			Msg("rpc call")

		return resp, nil
	}
}
