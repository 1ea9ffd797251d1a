package client

import (
	"context"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

// RequestIDMetadataKey carries the caller's request id across gRPC hops.
const RequestIDMetadataKey = "x-request-id"

// forwardMetadata is a gRPC unary client interceptor that propagates
// incoming request metadata to the outgoing call and makes sure every call
// carries an x-request-id.
func forwardMetadata(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
	md, _ := metadata.FromIncomingContext(ctx)
	md = md.Copy()
	if out, ok := metadata.FromOutgoingContext(ctx); ok {
		md = metadata.Join(md, out)
	}
	if len(md.Get(RequestIDMetadataKey)) == 0 {
		md.Set(RequestIDMetadataKey, uuid.NewString())
	}
	return invoker(metadata.NewOutgoingContext(ctx, md), method, req, reply, cc, opts...)
}
