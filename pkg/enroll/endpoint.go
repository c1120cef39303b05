// Copyright 2025 Clastix Labs
// SPDX-License-Identifier: Apache-2.0

package enroll

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	pkgerrors "github.com/clastix/signing-cert-enroller/pkg/errors"
)

// Endpoint identifies a CA.
type Endpoint struct {
	// Address is the gRPC target of the CA.
	Address string
	// Name is the CA common name, optional.
	Name string
}

// ParseEndpoint parses `address`, `address/CA Name` or `address\CA Name`.
// The address may be a gRPC target with a scheme: for `scheme://authority/endpoint`
// the CA name follows the endpoint segment, and unix socket targets take the
// CA name only after a backslash.
func ParseEndpoint(s string) (Endpoint, error) {
	address, name := splitEndpoint(strings.TrimSpace(s))

	address = strings.TrimSpace(address)
	if address == "" {
		return Endpoint{}, errors.Wrapf(pkgerrors.ErrMissingEndpoint, "no address in %q", s)
	}

	return Endpoint{Address: address, Name: strings.TrimSpace(name)}, nil
}

func splitEndpoint(s string) (string, string) {
	if i := strings.LastIndex(s, `\`); i >= 0 {
		return s[:i], s[i+1:]
	}

	if strings.HasPrefix(s, "unix:") || strings.HasPrefix(s, "unix-abstract:") {
		return s, ""
	}

	scheme, target, ok := strings.Cut(s, "://")
	if !ok || !validScheme(scheme) {
		address, name, _ := strings.Cut(s, "/")

		return address, name
	}

	authority, path, ok := strings.Cut(target, "/")
	if !ok {
		return s, ""
	}

	endpoint, name, _ := strings.Cut(path, "/")

	return scheme + "://" + authority + "/" + endpoint, name
}

// validScheme reports whether scheme is an RFC 3986 URI scheme.
func validScheme(scheme string) bool {
	if scheme == "" {
		return false
	}

	for i, r := range scheme {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && (r >= '0' && r <= '9' || r == '+' || r == '-' || r == '.'):
		default:
			return false
		}
	}

	return true
}

// ParseEndpoints parses every configured endpoint.
func ParseEndpoints(values []string) ([]Endpoint, error) {
	out := make([]Endpoint, 0, len(values))

	for _, v := range values {
		endpoint, err := ParseEndpoint(v)
		if err != nil {
			return nil, err
		}

		out = append(out, endpoint)
	}

	return out, nil
}

// String returns the CA identity in `address\CA Name` form.
func (e Endpoint) String() string {
	if e.Name == "" {
		return e.Address
	}

	return e.Address + `\` + e.Name
}

// Picker chooses one CA among several.
type Picker interface {
	Pick(ctx context.Context, endpoints []Endpoint) (Endpoint, error)
}

// Selector resolves the CA the request is submitted to.
type Selector struct {
	Endpoints []Endpoint
	// Picker is consulted when more than one endpoint is configured.
	Picker Picker
}

// SelectCA returns the single configured endpoint or asks the picker.
func (s *Selector) SelectCA(ctx context.Context) (Endpoint, error) {
	switch {
	case len(s.Endpoints) == 0:
		return Endpoint{}, pkgerrors.ErrMissingEndpoint
	case len(s.Endpoints) == 1:
		return s.Endpoints[0], nil
	case s.Picker == nil:
		return s.Endpoints[0], nil
	}

	return s.Picker.Pick(ctx, s.Endpoints)
}

// PromptPicker lists the endpoints and reads the operator choice.
type PromptPicker struct {
	In  io.Reader
	Out io.Writer
}

func (p *PromptPicker) Pick(_ context.Context, endpoints []Endpoint) (Endpoint, error) {
	_, _ = fmt.Fprintln(p.Out, "Select the certification authority:")
	for i, e := range endpoints {
		_, _ = fmt.Fprintf(p.Out, "  [%d] %s\n", i+1, e)
	}
	_, _ = fmt.Fprint(p.Out, "CA number: ")

	line, err := bufio.NewReader(p.In).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return Endpoint{}, errors.Wrap(pkgerrors.ErrInput, err.Error())
	}

	choice, err := strconv.Atoi(strings.TrimSpace(line))
	if err != nil || choice < 1 || choice > len(endpoints) {
		return Endpoint{}, errors.Wrapf(pkgerrors.ErrInput, "invalid CA selection %q", strings.TrimSpace(line))
	}

	return endpoints[choice-1], nil
}
