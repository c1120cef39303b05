// Copyright 2025 Clastix Labs
// SPDX-License-Identifier: Apache-2.0

// Enroll a machine token-signing certificate and export it to local files.
package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/clastix/signing-cert-enroller/pkg/certstore"
	"github.com/clastix/signing-cert-enroller/pkg/certstore/postgres"
	"github.com/clastix/signing-cert-enroller/pkg/certstore/sqlite"
	"github.com/clastix/signing-cert-enroller/pkg/config"
	"github.com/clastix/signing-cert-enroller/pkg/enroll"
	"github.com/clastix/signing-cert-enroller/pkg/keygen"
	"github.com/clastix/signing-cert-enroller/pkg/logger"
	"github.com/clastix/signing-cert-enroller/pkg/output"
	"github.com/clastix/signing-cert-enroller/pkg/pipeline"
)

const (
	cliProvider       = "provider"
	cliKeyBits        = "key-bits"
	cliTemplate       = "template"
	cliCA             = "ca"
	cliToken          = "token"
	cliCACertPath     = "ca-cert-path"
	cliInsecure       = "insecure"
	cliTimeout        = "timeout"
	cliStore          = "store"
	cliOutputDir      = "output-dir"
	cliExportPassword = "export-password"
	cliDebug          = "debug"
)

func loadConfig() config.Config {
	cfg := config.Config{
		ProviderName:   viper.GetString(cliProvider),
		KeyBits:        viper.GetInt(cliKeyBits),
		TemplateName:   viper.GetString(cliTemplate),
		Endpoints:      viper.GetStringSlice(cliCA),
		Token:          viper.GetString(cliToken),
		CACertPath:     viper.GetString(cliCACertPath),
		Insecure:       viper.GetBool(cliInsecure),
		Timeout:        viper.GetDuration(cliTimeout),
		Store:          viper.GetString(cliStore),
		OutputDir:      viper.GetString(cliOutputDir),
		ExportPassword: viper.GetString(cliExportPassword),
		Debug:          viper.GetBool(cliDebug),
	}
	cfg.ApplyDefaults()

	return cfg
}

// openStore opens the machine store, failing when the caller lacks the rights to modify it.
func openStore(ctx context.Context, cfg config.Config) (certstore.Store, error) {
	var (
		store certstore.Store
		err   error
	)

	if cfg.IsPostgres() {
		store, err = postgres.Open(ctx, &postgres.PoolConfig{ConnString: cfg.Store})
	} else {
		store, err = sqlite.Open(ctx, cfg.Store)
	}

	if err != nil {
		return nil, errors.Wrap(err, "administrator rights on the machine certificate store are required")
	}

	return store, nil
}

// readCommonName prompts for the certificate common name. EOF reads as an empty name.
func readCommonName(in *bufio.Reader, out io.Writer) (string, error) {
	_, _ = fmt.Fprint(out, "Enter certificate Common Name or press ENTER to exit: ")

	line, err := in.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", errors.Wrap(err, "failed to read common name")
	}

	return line, nil
}

func run(cmd *cobra.Command, cfg config.Config) error {
	log := logger.Setup(cfg.Debug)
	ctx := log.WithContext(cmd.Context())

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	in := bufio.NewReader(cmd.InOrStdin())

	commonName, err := readCommonName(in, cmd.OutOrStdout())
	if err != nil {
		return err
	}

	endpoints, err := enroll.ParseEndpoints(cfg.Endpoints)
	if err != nil {
		return err
	}

	transport, err := enroll.NewGRPCClient(enroll.GRPCConfig{
		Token:      cfg.Token,
		CACertPath: cfg.CACertPath,
		Insecure:   cfg.Insecure,
		Logger:     log,
	})
	if err != nil {
		return err
	}

	p := &pipeline.Pipeline{
		Config:    cfg,
		Providers: keygen.NewRegistry(keygen.NewSoftwareProvider(cfg.ProviderName)),
		Selector: &enroll.Selector{
			Endpoints: endpoints,
			Picker:    &enroll.PromptPicker{In: in, Out: cmd.OutOrStdout()},
		},
		Client: &enroll.Client{CA: transport, Timeout: cfg.Timeout},
		Store:  store,
		Writer: output.NewWriter(),
	}

	res, err := p.Run(ctx, commonName)
	if err != nil {
		return err
	}

	if res == nil {
		return nil
	}

	zerolog.Ctx(ctx).Debug().Str("correlationId", res.CorrelationID).Msg("run finished")
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "done, wrote file %s\n", res.PFXPath)

	return nil
}

func main() {
	rootCmd := &cobra.Command{
		Use:           "signing-cert-enroller",
		Short:         "Enroll a machine token-signing certificate and export it as PFX",
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(*cobra.Command, []string) error {
			cfg := loadConfig()

			return cfg.Validate()
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, loadConfig())
		},
	}

	def := config.Default()
	// Flags with their defaults
	rootCmd.Flags().String(cliProvider, def.ProviderName, "Cryptographic provider creating the key pair")
	rootCmd.Flags().Int(cliKeyBits, def.KeyBits, "RSA key length in bits")
	rootCmd.Flags().String(cliTemplate, def.TemplateName, "Certificate template requested from the CA")
	rootCmd.Flags().StringSlice(cliCA, nil, "CA endpoint as address, address/CA Name or address\\CA Name, repeatable")
	rootCmd.Flags().String(cliToken, "", "Token sent to the CA")
	rootCmd.Flags().String(cliCACertPath, "", "PEM bundle trusted for the CA connection")
	rootCmd.Flags().Bool(cliInsecure, false, "Disable transport security towards the CA")
	rootCmd.Flags().Duration(cliTimeout, def.Timeout, "Submission timeout")
	rootCmd.Flags().String(cliStore, def.Store, "Machine store, sqlite file path or postgres:// URL")
	rootCmd.Flags().String(cliOutputDir, def.OutputDir, "Directory receiving the .pfx and .crt files")
	rootCmd.Flags().String(cliExportPassword, "", "Password protecting the exported PKCS#12 files")
	rootCmd.Flags().Bool(cliDebug, false, "Enable debug logging")

	for _, name := range []string{
		cliProvider, cliKeyBits, cliTemplate, cliCA, cliToken, cliCACertPath, cliInsecure,
		cliTimeout, cliStore, cliOutputDir, cliExportPassword, cliDebug,
	} {
		_ = viper.BindPFlag(name, rootCmd.Flags().Lookup(name))
	}
	// Explicit env key mapping
	_ = viper.BindEnv(cliProvider, "ENROLL_PROVIDER")
	_ = viper.BindEnv(cliKeyBits, "ENROLL_KEY_BITS")
	_ = viper.BindEnv(cliTemplate, "ENROLL_TEMPLATE")
	_ = viper.BindEnv(cliCA, "ENROLL_CA")
	_ = viper.BindEnv(cliToken, "ENROLL_TOKEN")
	_ = viper.BindEnv(cliCACertPath, "ENROLL_CA_CERT_PATH")
	_ = viper.BindEnv(cliInsecure, "ENROLL_INSECURE")
	_ = viper.BindEnv(cliTimeout, "ENROLL_TIMEOUT")
	_ = viper.BindEnv(cliStore, "ENROLL_STORE")
	_ = viper.BindEnv(cliOutputDir, "ENROLL_OUTPUT_DIR")
	_ = viper.BindEnv(cliExportPassword, "ENROLL_EXPORT_PASSWORD")
	_ = viper.BindEnv(cliDebug, "ENROLL_DEBUG")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1) //nolint:gocritic
	}
}
