// Copyright 2025 Clastix Labs
// SPDX-License-Identifier: Apache-2.0

package proto

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// CertificateAuthorityServer is the server API for the CertificateAuthority service.
type CertificateAuthorityServer interface {
	Submit(ctx context.Context, req *SubmitRequest) (*SubmitResponse, error)
}

// CertificateAuthorityClient is the client API for the CertificateAuthority service.
type CertificateAuthorityClient interface {
	Submit(ctx context.Context, req *SubmitRequest, opts ...grpc.CallOption) (*SubmitResponse, error)
}

type certificateAuthorityClient struct {
	cc grpc.ClientConnInterface
}

// NewCertificateAuthorityClient returns a client bound to cc.
func NewCertificateAuthorityClient(cc grpc.ClientConnInterface) CertificateAuthorityClient {
	return &certificateAuthorityClient{cc: cc}
}

func (c *certificateAuthorityClient) Submit(ctx context.Context, req *SubmitRequest, opts ...grpc.CallOption) (*SubmitResponse, error) {
	in, err := req.Proto()
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, SubmitMethod, in, out, opts...); err != nil {
		return nil, err
	}

	resp, err := ParseSubmitResponse(out)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}

	return resp, nil
}

// RegisterCertificateAuthorityServer registers srv on s.
func RegisterCertificateAuthorityServer(s grpc.ServiceRegistrar, srv CertificateAuthorityServer) {
	s.RegisterService(&CertificateAuthorityServiceDesc, srv)
}

// CertificateAuthorityServiceDesc is the grpc.ServiceDesc for the CertificateAuthority service.
var CertificateAuthorityServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*CertificateAuthorityServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Submit",
			Handler:    submitHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "certsrv/v1/certsrv.proto",
}

func submitHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}

	handler := func(ctx context.Context, msg any) (any, error) {
		req, err := ParseSubmitRequest(msg.(*structpb.Struct))
		if err != nil {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}

		resp, err := srv.(CertificateAuthorityServer).Submit(ctx, req)
		if err != nil {
			return nil, err
		}

		out, err := resp.Proto()
		if err != nil {
			return nil, status.Error(codes.Internal, err.Error())
		}

		return out, nil
	}

	if interceptor == nil {
		return handler(ctx, in)
	}

	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: SubmitMethod,
	}

	return interceptor(ctx, in, info, handler)
}
