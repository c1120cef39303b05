// Copyright 2025 Clastix Labs
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"net"
	"time"

	"github.com/pkg/errors"

	pkgerrors "github.com/clastix/signing-cert-enroller/pkg/errors"
)

// ParsePrivateKey decodes a PEM encoded CA private key.
func ParsePrivateKey(keyPEM []byte) (interface{}, error) {
	block, _ := pem.Decode(keyPEM)
	if block == nil {
		return nil, pkgerrors.ErrPemDecoding
	}

	var privateKey interface{}
	var privateKeyErr error

	switch block.Type {
	case "ED25519 PRIVATE KEY":
		privateKey, privateKeyErr = x509.ParsePKCS8PrivateKey(block.Bytes)
	case "EC PRIVATE KEY":
		privateKey, privateKeyErr = x509.ParseECPrivateKey(block.Bytes)
	case "RSA PRIVATE KEY":
		privateKey, privateKeyErr = x509.ParsePKCS1PrivateKey(block.Bytes)
	case "PRIVATE KEY":
		privateKey, privateKeyErr = x509.ParsePKCS8PrivateKey(block.Bytes)
	default:
		return nil, errors.Wrap(pkgerrors.ErrUnsupportedBlockType, block.Type)
	}

	if privateKeyErr != nil {
		return nil, errors.Wrap(pkgerrors.ErrParseCertificate, privateKeyErr.Error())
	}

	return privateKey, nil
}

// NewSelfSignedCA generates a P-256 development CA and returns its PEM certificate and key.
func NewSelfSignedCA(commonName string, validity time.Duration) ([]byte, []byte, error) {
	caKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to generate CA key")
	}

	serialNumber, err := generateSerialNumber()
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to generate serial")
	}

	now := time.Now()
	template := &x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			CommonName: commonName,
		},
		NotBefore:             now.Add(-time.Minute),
		NotAfter:              now.Add(validity),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, template, &caKey.PublicKey, caKey)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to create CA certificate")
	}

	keyBytes, err := x509.MarshalECPrivateKey(caKey)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to marshal CA key")
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyBytes})

	return certPEM, keyPEM, nil
}

// NewServerCertificate issues a TLS serving certificate for hosts signed by the CA,
// returned with the CA certificate appended to the chain. The subject is the first
// host, or localhost when none is given.
func NewServerCertificate(caCertPEM []byte, caPrivateKey interface{}, hosts []string) (tls.Certificate, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, errors.Wrap(err, "failed to generate private key")
	}

	serialNumber, err := generateSerialNumber()
	if err != nil {
		return tls.Certificate{}, errors.Wrap(err, "failed to generate serial number")
	}

	commonName := "localhost"
	for _, host := range hosts {
		if host != "" {
			commonName = host

			break
		}
	}

	template := &x509.Certificate{
		SerialNumber: serialNumber,
		Subject:      pkix.Name{CommonName: commonName},
		NotBefore:    time.Now(),
		NotAfter:     time.Now().Add(DefaultValidity),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
		DNSNames:     []string{"localhost"},
	}

	for _, host := range hosts {
		if ip := net.ParseIP(host); ip != nil {
			template.IPAddresses = append(template.IPAddresses, ip)
		} else if host != "" {
			template.DNSNames = append(template.DNSNames, host)
		}
	}

	caBlock, _ := pem.Decode(caCertPEM)
	if caBlock == nil {
		return tls.Certificate{}, pkgerrors.ErrPemDecoding
	}

	caCert, err := x509.ParseCertificate(caBlock.Bytes)
	if err != nil {
		return tls.Certificate{}, errors.Wrap(err, "failed to parse CA certificate")
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, caCert, &priv.PublicKey, caPrivateKey)
	if err != nil {
		return tls.Certificate{}, errors.Wrap(err, "failed to create certificate")
	}

	keyBytes, err := x509.MarshalECPrivateKey(priv)
	if err != nil {
		return tls.Certificate{}, errors.Wrap(err, "failed to marshal private key")
	}

	chainPEM := append(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER}), caCertPEM...)
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyBytes})

	cert, err := tls.X509KeyPair(chainPEM, keyPEM)
	if err != nil {
		return tls.Certificate{}, errors.Wrap(pkgerrors.ErrLoadingCertificate, err.Error())
	}

	return cert, nil
}
