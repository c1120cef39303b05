// Copyright 2025 Clastix Labs
// SPDX-License-Identifier: Apache-2.0

// Generate a self-signed development CA certificate and key.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/clastix/signing-cert-enroller/pkg/output"
	"github.com/clastix/signing-cert-enroller/pkg/server"
)

func main() {
	var (
		commonName string
		outDir     string
		validity   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "gen-ca",
		Short: "Write a self-signed development CA as ca.crt and ca.key",
		RunE: func(cmd *cobra.Command, _ []string) error {
			certPEM, keyPEM, err := server.NewSelfSignedCA(commonName, validity)
			if err != nil {
				return err
			}

			w := &output.Writer{Fs: afero.NewOsFs()}
			certPath := filepath.Join(outDir, "ca.crt")
			keyPath := filepath.Join(outDir, "ca.key")

			for _, path := range []string{certPath, keyPath} {
				if err = w.Check(path); err != nil {
					return err
				}
			}

			if err = w.Write(certPath, certPEM); err != nil {
				return err
			}

			if err = w.Write(keyPath, keyPEM); err != nil {
				return err
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s\n%s\n", certPath, keyPath)

			return nil
		},
	}

	cmd.Flags().StringVar(&commonName, "cn", "Dev Issuing CA", "CA common name")
	cmd.Flags().StringVar(&outDir, "out", ".", "Output directory")
	cmd.Flags().DurationVar(&validity, "validity", 10*365*24*time.Hour, "CA lifetime")

	if err := cmd.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
