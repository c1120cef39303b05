// Copyright 2025 Clastix Labs
// SPDX-License-Identifier: Apache-2.0

package keygen

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"encoding/asn1"
	"io"
	"sync"

	"github.com/pkg/errors"

	pkgerrors "github.com/clastix/signing-cert-enroller/pkg/errors"
)

const (
	minKeyBits = 1024
	maxKeyBits = 16384
)

var (
	oidAES256CBC  = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 1, 42}
	oidAES192CBC  = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 1, 22}
	oidAES128CBC  = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 1, 2}
	oidDESEDE3CBC = asn1.ObjectIdentifier{1, 2, 840, 113549, 3, 7}
)

type container struct {
	key    *rsa.PrivateKey
	export ExportPolicy
}

// containerSigner signs with a container key within the usage it was created with.
type containerSigner struct {
	name  string
	key   *rsa.PrivateKey
	usage Usage
}

func (s *containerSigner) Public() crypto.PublicKey {
	return s.key.Public()
}

func (s *containerSigner) Sign(random io.Reader, digest []byte, opts crypto.SignerOpts) ([]byte, error) {
	if s.usage&UsageSign == 0 {
		return nil, errors.Wrapf(pkgerrors.ErrProvider, "key container %s does not permit signing", s.name)
	}

	return s.key.Sign(random, digest, opts)
}

// SoftwareProvider keeps RSA key containers in process memory.
type SoftwareProvider struct {
	name string

	mu         sync.Mutex
	containers map[string]*container
}

// NewSoftwareProvider returns an empty provider registered under name.
func NewSoftwareProvider(name string) *SoftwareProvider {
	return &SoftwareProvider{
		name:       name,
		containers: make(map[string]*container),
	}
}

func (p *SoftwareProvider) Name() string {
	return p.name
}

// Create generates an RSA key in a new container. Existing containers are never overwritten.
func (p *SoftwareProvider) Create(req KeyRequest) (crypto.Signer, error) {
	if req.Bits < minKeyBits || req.Bits > maxKeyBits || req.Bits%8 != 0 {
		return nil, errors.Wrapf(pkgerrors.ErrProvider, "key length %d refused by policy", req.Bits)
	}

	if req.Usage&UsageAll == 0 {
		return nil, errors.Wrapf(pkgerrors.ErrProvider, "key container %s has no permitted usage", req.Container)
	}

	if !req.Machine {
		return nil, errors.Wrap(pkgerrors.ErrProvider, "only machine key containers are supported")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.containers[req.Container]; exists {
		return nil, errors.Wrapf(pkgerrors.ErrProvider, "key container %s already exists", req.Container)
	}

	key, err := rsa.GenerateKey(rand.Reader, req.Bits)
	if err != nil {
		return nil, errors.Wrap(pkgerrors.ErrProvider, err.Error())
	}

	p.containers[req.Container] = &container{key: key, export: req.Export}

	return &containerSigner{name: req.Container, key: key, usage: req.Usage}, nil
}

func (p *SoftwareProvider) Export(name string) (crypto.PrivateKey, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	c, ok := p.containers[name]
	if !ok {
		return nil, errors.Wrapf(pkgerrors.ErrProvider, "key container %s not found", name)
	}

	if c.export&ExportPlaintext == 0 {
		return nil, errors.Wrapf(pkgerrors.ErrProvider, "key container %s does not allow plaintext export", name)
	}

	return c.key, nil
}

// Delete removes the container. Deleting a missing container is not an error.
func (p *SoftwareProvider) Delete(name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.containers, name)

	return nil
}

// Len returns the number of live containers.
func (p *SoftwareProvider) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return len(p.containers)
}

func (p *SoftwareProvider) Capabilities() []SMIMECapability {
	return []SMIMECapability{
		{OID: oidAES256CBC},
		{OID: oidAES192CBC},
		{OID: oidAES128CBC},
		{OID: oidDESEDE3CBC},
	}
}
