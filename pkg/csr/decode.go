// Copyright 2025 Clastix Labs
// SPDX-License-Identifier: Apache-2.0

package csr

import (
	"crypto/x509"
	"encoding/asn1"
	"unicode/utf16"

	"github.com/pkg/errors"
	"golang.org/x/crypto/cryptobyte"
	cbasn1 "golang.org/x/crypto/cryptobyte/asn1"

	pkgerrors "github.com/clastix/signing-cert-enroller/pkg/errors"
	"github.com/clastix/signing-cert-enroller/pkg/keygen"
)

// Requested holds the decoded extension request of a PKCS#10 structure.
type Requested struct {
	KeyUsage          x509.KeyUsage
	ExtKeyUsage       []asn1.ObjectIdentifier
	SMIMECapabilities []keygen.SMIMECapability
	TemplateName      string
	HasKeyUsage       bool
	HasExtKeyUsage    bool
	HasSMIME          bool
	HasTemplateName   bool
}

// Complete reports whether every extension required by the CA template is present.
func (r *Requested) Complete() bool {
	return r.HasKeyUsage && r.HasExtKeyUsage && r.HasSMIME && r.HasTemplateName
}

// Inspect decodes the extensions requested by a parsed certificate request.
func Inspect(req *x509.CertificateRequest) (*Requested, error) {
	out := &Requested{}

	for _, ext := range req.Extensions {
		var err error

		switch {
		case ext.Id.Equal(OIDExtensionKeyUsage):
			out.KeyUsage, err = DecodeKeyUsage(ext.Value)
			out.HasKeyUsage = true
		case ext.Id.Equal(OIDExtensionExtendedKeyUsage):
			out.ExtKeyUsage, err = DecodeExtKeyUsage(ext.Value)
			out.HasExtKeyUsage = true
		case ext.Id.Equal(OIDExtensionSMIMECapabilities):
			out.SMIMECapabilities, err = DecodeSMIMECapabilities(ext.Value)
			out.HasSMIME = true
		case ext.Id.Equal(OIDExtensionTemplateName):
			out.TemplateName, err = DecodeTemplateName(ext.Value)
			out.HasTemplateName = true
		}

		if err != nil {
			return nil, err
		}
	}

	return out, nil
}

// DecodeKeyUsage decodes a KeyUsage extension value.
func DecodeKeyUsage(value []byte) (x509.KeyUsage, error) {
	var bitString asn1.BitString

	rest, err := asn1.Unmarshal(value, &bitString)
	if err != nil {
		return 0, errors.Wrap(pkgerrors.ErrEncoding, err.Error())
	}
	if len(rest) > 0 {
		return 0, errors.Wrap(pkgerrors.ErrEncoding, "trailing data after key usage")
	}

	var usage int
	for i := range 9 {
		if bitString.At(i) != 0 {
			usage |= 1 << uint(i)
		}
	}

	return x509.KeyUsage(usage), nil
}

// DecodeExtKeyUsage decodes an ExtendedKeyUsage extension value.
func DecodeExtKeyUsage(value []byte) ([]asn1.ObjectIdentifier, error) {
	var oids []asn1.ObjectIdentifier

	rest, err := asn1.Unmarshal(value, &oids)
	if err != nil {
		return nil, errors.Wrap(pkgerrors.ErrEncoding, err.Error())
	}
	if len(rest) > 0 {
		return nil, errors.Wrap(pkgerrors.ErrEncoding, "trailing data after extended key usage")
	}

	return oids, nil
}

// DecodeSMIMECapabilities decodes an S/MIME capabilities extension value.
func DecodeSMIMECapabilities(value []byte) ([]keygen.SMIMECapability, error) {
	input := cryptobyte.String(value)

	var seq cryptobyte.String
	if !input.ReadASN1(&seq, cbasn1.SEQUENCE) || !input.Empty() {
		return nil, errors.Wrap(pkgerrors.ErrEncoding, "malformed S/MIME capabilities")
	}

	var out []keygen.SMIMECapability

	for !seq.Empty() {
		var capability cryptobyte.String
		if !seq.ReadASN1(&capability, cbasn1.SEQUENCE) {
			return nil, errors.Wrap(pkgerrors.ErrEncoding, "malformed S/MIME capability")
		}

		var oid asn1.ObjectIdentifier
		if !capability.ReadASN1ObjectIdentifier(&oid) {
			return nil, errors.Wrap(pkgerrors.ErrEncoding, "malformed S/MIME capability identifier")
		}

		c := keygen.SMIMECapability{OID: oid}
		if !capability.Empty() {
			c.Parameters = append([]byte(nil), capability...)
		}

		out = append(out, c)
	}

	return out, nil
}

// DecodeTemplateName decodes a certificate template name extension value.
func DecodeTemplateName(value []byte) (string, error) {
	input := cryptobyte.String(value)

	var bmp cryptobyte.String
	if !input.ReadASN1(&bmp, bmpStringTag) || !input.Empty() || len(bmp)%2 != 0 {
		return "", errors.Wrap(pkgerrors.ErrEncoding, "malformed template name")
	}

	units := make([]uint16, 0, len(bmp)/2)
	for !bmp.Empty() {
		var u uint16
		if !bmp.ReadUint16(&u) {
			return "", errors.Wrap(pkgerrors.ErrEncoding, "malformed template name")
		}
		units = append(units, u)
	}

	return string(utf16.Decode(units)), nil
}
