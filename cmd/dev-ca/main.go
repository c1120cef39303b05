// Copyright 2025 Clastix Labs
// SPDX-License-Identifier: Apache-2.0

// Run a development certification authority speaking the submission protocol.
package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	pkgerrors "github.com/clastix/signing-cert-enroller/pkg/errors"
	"github.com/clastix/signing-cert-enroller/pkg/logger"
	pb "github.com/clastix/signing-cert-enroller/pkg/proto"
	"github.com/clastix/signing-cert-enroller/pkg/server"
)

const (
	cliPortName           = "port"
	cliCACertificatePath  = "ca-cert-path"
	cliCAPrivateKeyPath   = "ca-key-path"
	cliTLSCertificatePath = "tls-cert-path"
	cliTLSPrivateKeyPath  = "tls-key-path"
	cliServerHosts        = "server-hosts"
	cliInsecure           = "insecure"
	cliToken              = "token"
	cliTemplates          = "templates"
	cliRequireApproval    = "require-approval"
	cliValidity           = "validity"
	cliDebug              = "debug"
)

func transportCredentials(caCertPEM []byte, caPrivateKey interface{}) (credentials.TransportCredentials, error) {
	if viper.GetBool(cliInsecure) {
		return insecure.NewCredentials(), nil
	}

	var (
		cert tls.Certificate
		err  error
	)

	if viper.GetString(cliTLSCertificatePath) != "" {
		cert, err = tls.LoadX509KeyPair(viper.GetString(cliTLSCertificatePath), viper.GetString(cliTLSPrivateKeyPath))
		if err != nil {
			return nil, errors.Wrap(pkgerrors.ErrLoadingCertificate, err.Error())
		}
	} else {
		// serving certificate signed by the development CA itself
		cert, err = server.NewServerCertificate(caCertPEM, caPrivateKey, viper.GetStringSlice(cliServerHosts))
		if err != nil {
			return nil, err
		}
	}

	return credentials.NewTLS(&tls.Config{
		Certificates: []tls.Certificate{cert},
		ClientAuth:   tls.NoClientCert,
		MinVersion:   tls.VersionTLS12,
	}), nil
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "dev-ca",
		Short: "Development certification authority for the signing certificate enroller",
		PreRunE: func(*cobra.Command, []string) error {
			switch {
			case viper.GetInt(cliPortName) <= 0:
				return pkgerrors.ErrMissingPort
			case viper.GetInt(cliPortName) > 65535:
				return pkgerrors.ErrPortOutOfRange
			case viper.GetString(cliCACertificatePath) == "":
				return errors.Wrap(pkgerrors.ErrMissingPath, "CA certificate path is missing")
			case viper.GetString(cliCAPrivateKeyPath) == "":
				return errors.Wrap(pkgerrors.ErrMissingPath, "CA private key path is missing")
			case viper.GetString(cliTLSCertificatePath) != "" && viper.GetString(cliTLSPrivateKeyPath) == "":
				return errors.Wrap(pkgerrors.ErrMissingPath, "server private key path is missing")
			case len(viper.GetStringSlice(cliTemplates)) == 0:
				return pkgerrors.ErrMissingTemplate
			}

			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			log := logger.Setup(viper.GetBool(cliDebug))

			caCertPEM, caCertErr := os.ReadFile(viper.GetString(cliCACertificatePath))
			if caCertErr != nil {
				return errors.Wrap(pkgerrors.ErrReadFile, "failed to read CA certificate: "+caCertErr.Error())
			}

			caKeyPEM, caKeyErr := os.ReadFile(viper.GetString(cliCAPrivateKeyPath))
			if caKeyErr != nil {
				return errors.Wrap(pkgerrors.ErrReadFile, "failed to read CA private key: "+caKeyErr.Error())
			}

			caPrivateKey, err := server.ParsePrivateKey(caKeyPEM)
			if err != nil {
				return err
			}

			creds, err := transportCredentials(caCertPEM, caPrivateKey)
			if err != nil {
				return err
			}

			srv := &server.Server{
				CACert:          caCertPEM,
				CAPrivateKey:    caPrivateKey,
				ValidToken:      viper.GetString(cliToken),
				Templates:       viper.GetStringSlice(cliTemplates),
				RequireApproval: viper.GetBool(cliRequireApproval),
				Validity:        viper.GetDuration(cliValidity),
			}

			port := viper.GetInt(cliPortName)
			lis, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
			if err != nil {
				return errors.Wrap(pkgerrors.ErrServerListen, fmt.Sprintf("%d: %s", port, err.Error()))
			}

			grpcServer := grpc.NewServer(
				grpc.Creds(creds),
				grpc.UnaryInterceptor(logger.UnaryServerInterceptor(log)),
			)
			pb.RegisterCertificateAuthorityServer(grpcServer, srv)

			go func() {
				<-cmd.Context().Done()
				grpcServer.GracefulStop()
			}()

			log.Info().
				Int("port", port).
				Bool("tls", !viper.GetBool(cliInsecure)).
				Strs("templates", srv.Templates).
				Bool("requireApproval", srv.RequireApproval).
				Msg("development CA listening")

			if err = grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				return errors.Wrap(pkgerrors.ErrGRPCServerServe, err.Error())
			}

			return nil
		},
	}

	// Flags with their defaults
	rootCmd.Flags().Int(cliPortName, 50051, "Port to listen on")
	rootCmd.Flags().String(cliCACertificatePath, "/etc/dev-ca/ca.crt", "Path to CA certificate")
	rootCmd.Flags().String(cliCAPrivateKeyPath, "/etc/dev-ca/ca.key", "Path to CA private key")
	rootCmd.Flags().String(cliTLSCertificatePath, "", "Path to the server TLS certificate, issued by the CA when empty")
	rootCmd.Flags().String(cliTLSPrivateKeyPath, "", "Path to the server TLS private key")
	rootCmd.Flags().StringSlice(cliServerHosts, nil, "Extra DNS names or IPs of the generated server certificate")
	rootCmd.Flags().Bool(cliInsecure, false, "Serve without TLS")
	rootCmd.Flags().String(cliToken, "", "Token required from clients, not checked when empty")
	rootCmd.Flags().StringSlice(cliTemplates, []string{"WebServer"}, "Certificate templates this CA issues")
	rootCmd.Flags().Bool(cliRequireApproval, false, "Take every request under submission instead of issuing it")
	rootCmd.Flags().Duration(cliValidity, server.DefaultValidity, "Lifetime of issued certificates")
	rootCmd.Flags().Bool(cliDebug, false, "Enable debug logging")
	// Bind flags to viper keys
	for _, name := range []string{
		cliPortName, cliCACertificatePath, cliCAPrivateKeyPath, cliTLSCertificatePath, cliTLSPrivateKeyPath,
		cliServerHosts, cliInsecure, cliToken, cliTemplates, cliRequireApproval, cliValidity, cliDebug,
	} {
		_ = viper.BindPFlag(name, rootCmd.Flags().Lookup(name))
	}
	// Explicit env key mapping
	_ = viper.BindEnv(cliPortName, "PORT")
	_ = viper.BindEnv(cliCACertificatePath, "CA_CERT_PATH")
	_ = viper.BindEnv(cliCAPrivateKeyPath, "CA_KEY_PATH")
	_ = viper.BindEnv(cliTLSCertificatePath, "TLS_CERT_PATH")
	_ = viper.BindEnv(cliTLSPrivateKeyPath, "TLS_KEY_PATH")
	_ = viper.BindEnv(cliServerHosts, "SERVER_HOSTS")
	_ = viper.BindEnv(cliToken, "CA_TOKEN")
	_ = viper.BindEnv(cliTemplates, "CA_TEMPLATES")
	_ = viper.BindEnv(cliRequireApproval, "CA_REQUIRE_APPROVAL")
	_ = viper.BindEnv(cliValidity, "CA_VALIDITY")
	_ = viper.BindEnv(cliDebug, "CA_DEBUG")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1) //nolint:gocritic
	}
}
