// Copyright 2025 Clastix Labs
// SPDX-License-Identifier: Apache-2.0

package csr

import (
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"math/bits"
	"unicode/utf16"
	"unicode/utf8"

	"github.com/pkg/errors"
	"golang.org/x/crypto/cryptobyte"
	cbasn1 "golang.org/x/crypto/cryptobyte/asn1"

	pkgerrors "github.com/clastix/signing-cert-enroller/pkg/errors"
	"github.com/clastix/signing-cert-enroller/pkg/keygen"
)

var (
	// OIDExtensionKeyUsage identifies the KeyUsage extension.
	OIDExtensionKeyUsage = asn1.ObjectIdentifier{2, 5, 29, 15}
	// OIDExtensionExtendedKeyUsage identifies the ExtendedKeyUsage extension.
	OIDExtensionExtendedKeyUsage = asn1.ObjectIdentifier{2, 5, 29, 37}
	// OIDExtensionSMIMECapabilities identifies the S/MIME capabilities extension (RFC 4262).
	OIDExtensionSMIMECapabilities = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 15}
	// OIDExtensionTemplateName identifies the certificate template name extension.
	// Value: BMPString
	OIDExtensionTemplateName = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 311, 20, 2}

	// OIDClientAuth is the client authentication extended key usage.
	OIDClientAuth = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 3, 2}
	// OIDServerAuth is the server authentication extended key usage.
	OIDServerAuth = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 3, 1}
)

// RequestedKeyUsage is the fixed key usage of signing certificates.
const RequestedKeyUsage = x509.KeyUsageDigitalSignature |
	x509.KeyUsageContentCommitment |
	x509.KeyUsageKeyEncipherment |
	x509.KeyUsageDataEncipherment

// RequestedExtKeyUsage is the fixed extended key usage of signing certificates.
var RequestedExtKeyUsage = []asn1.ObjectIdentifier{OIDClientAuth, OIDServerAuth}

const bmpStringTag = cbasn1.Tag(30)

func keyUsageExtension(usage x509.KeyUsage) (pkix.Extension, error) {
	var a [2]byte
	a[0] = bits.Reverse8(byte(usage))
	a[1] = bits.Reverse8(byte(usage >> 8))

	l := 1
	if a[1] != 0 {
		l = 2
	}

	bitString := a[:l]

	value, err := asn1.Marshal(asn1.BitString{Bytes: bitString, BitLength: bitLength(bitString)})
	if err != nil {
		return pkix.Extension{}, errors.Wrap(pkgerrors.ErrEncoding, err.Error())
	}

	return pkix.Extension{Id: OIDExtensionKeyUsage, Critical: true, Value: value}, nil
}

func bitLength(b []byte) int {
	n := len(b) * 8

	for i := range b {
		tail := b[len(b)-i-1]

		for j := range 8 {
			if (tail>>j)&1 == 1 {
				return n
			}
			n--
		}
	}

	return 0
}

func extKeyUsageExtension(oids []asn1.ObjectIdentifier) (pkix.Extension, error) {
	value, err := asn1.Marshal(oids)
	if err != nil {
		return pkix.Extension{}, errors.Wrap(pkgerrors.ErrEncoding, err.Error())
	}

	return pkix.Extension{Id: OIDExtensionExtendedKeyUsage, Value: value}, nil
}

func smimeCapabilitiesExtension(capabilities []keygen.SMIMECapability) (pkix.Extension, error) {
	var b cryptobyte.Builder

	b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
		for _, c := range capabilities {
			b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
				b.AddASN1ObjectIdentifier(c.OID)
				if len(c.Parameters) > 0 {
					b.AddBytes(c.Parameters)
				}
			})
		}
	})

	value, err := b.Bytes()
	if err != nil {
		return pkix.Extension{}, errors.Wrap(pkgerrors.ErrEncoding, err.Error())
	}

	return pkix.Extension{Id: OIDExtensionSMIMECapabilities, Value: value}, nil
}

func templateNameExtension(name string) (pkix.Extension, error) {
	if !utf8.ValidString(name) {
		return pkix.Extension{}, errors.Wrap(pkgerrors.ErrEncoding, "template name is not valid UTF-8")
	}

	runes := []rune(name)
	for _, r := range runes {
		if r > 0xFFFF {
			return pkix.Extension{}, errors.Wrapf(pkgerrors.ErrEncoding, "template name rune %U is outside the BMP", r)
		}
	}

	var b cryptobyte.Builder

	b.AddASN1(bmpStringTag, func(b *cryptobyte.Builder) {
		for _, u := range utf16.Encode(runes) {
			b.AddUint16(u)
		}
	})

	value, err := b.Bytes()
	if err != nil {
		return pkix.Extension{}, errors.Wrap(pkgerrors.ErrEncoding, err.Error())
	}

	return pkix.Extension{Id: OIDExtensionTemplateName, Value: value}, nil
}
