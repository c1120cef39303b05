// Copyright 2025 Clastix Labs
// SPDX-License-Identifier: Apache-2.0

// Package keygen creates machine-scoped, exportable key pairs inside a key provider.
package keygen

import (
	"context"
	"crypto"
	"encoding/asn1"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	pkgerrors "github.com/clastix/signing-cert-enroller/pkg/errors"
)

// ExportPolicy controls how the private key may leave the provider.
type ExportPolicy uint8

const (
	// ExportAllowed permits wrapped export of the private key.
	ExportAllowed ExportPolicy = 1 << iota
	// ExportPlaintext permits plaintext export of the private key.
	ExportPlaintext
)

// Usage restricts the private key operations.
type Usage uint8

const (
	// UsageDecrypt permits decryption and key agreement.
	UsageDecrypt Usage = 1 << iota
	// UsageSign permits signatures.
	UsageSign
	// UsageAll permits every operation.
	UsageAll = UsageDecrypt | UsageSign
)

// SMIMECapability is a symmetric algorithm advertised by a provider.
type SMIMECapability struct {
	OID        asn1.ObjectIdentifier
	Parameters []byte
}

// KeyRequest describes the key pair a provider has to create.
type KeyRequest struct {
	Container string
	Bits      int
	Usage     Usage
	Export    ExportPolicy
	Machine   bool
}

// KeyPairHandle references a key pair living inside a provider.
type KeyPairHandle struct {
	// Container is the correlation identifier naming the key container.
	Container string
	Provider  string
	Bits      int
	Usage     Usage
	Export    ExportPolicy
	Machine   bool

	signer       crypto.Signer
	capabilities []SMIMECapability
}

// Public returns the public half of the key pair.
func (h *KeyPairHandle) Public() crypto.PublicKey {
	return h.signer.Public()
}

// Signer returns the signer backed by the container key.
func (h *KeyPairHandle) Signer() crypto.Signer {
	return h.signer
}

// Capabilities returns the S/MIME capabilities of the owning provider.
func (h *KeyPairHandle) Capabilities() []SMIMECapability {
	return h.capabilities
}

// KeyProvider is a cryptographic provider holding named key containers.
type KeyProvider interface {
	Name() string
	Create(req KeyRequest) (crypto.Signer, error)
	// Export returns the private key of a container whose policy allows plaintext export.
	Export(container string) (crypto.PrivateKey, error)
	Delete(container string) error
	Capabilities() []SMIMECapability
}

// Registry maps provider names to providers.
type Registry map[string]KeyProvider

// NewRegistry indexes the given providers by name.
func NewRegistry(providers ...KeyProvider) Registry {
	r := make(Registry, len(providers))
	for _, p := range providers {
		r[p.Name()] = p
	}

	return r
}

// Lookup returns the named provider.
func (r Registry) Lookup(name string) (KeyProvider, error) {
	p, ok := r[name]
	if !ok {
		return nil, errors.Wrapf(pkgerrors.ErrProvider, "provider %q is not available", name)
	}

	return p, nil
}

// Generate creates an exportable, machine-scoped key pair named after the correlation identifier.
func Generate(ctx context.Context, registry Registry, correlationID, providerName string, bits int) (*KeyPairHandle, error) {
	if correlationID == "" {
		return nil, errors.Wrap(pkgerrors.ErrProvider, "key container name is required")
	}

	provider, err := registry.Lookup(providerName)
	if err != nil {
		return nil, err
	}

	req := KeyRequest{
		Container: correlationID,
		Bits:      bits,
		Usage:     UsageAll,
		Export:    ExportAllowed | ExportPlaintext,
		Machine:   true,
	}

	zerolog.Ctx(ctx).Debug().
		Str("provider", providerName).
		Int("bits", bits).
		Str("container", correlationID).
		Msg("creating key pair")

	signer, err := provider.Create(req)
	if err != nil {
		return nil, err
	}

	return &KeyPairHandle{
		Container:    req.Container,
		Provider:     provider.Name(),
		Bits:         req.Bits,
		Usage:        req.Usage,
		Export:       req.Export,
		Machine:      req.Machine,
		signer:       signer,
		capabilities: provider.Capabilities(),
	}, nil
}
