package client

import (
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/pesio-ai/be-ap-invoice-pipeline/internal/api"
)

// PipelineGRPCClient is a gRPC client for the invoice pipeline service
type PipelineGRPCClient struct {
	*api.InvoicePipelineClient
	conn *grpc.ClientConn
}

// NewPipelineGRPCClient creates a new pipeline service gRPC client
func NewPipelineGRPCClient(addr string) (*PipelineGRPCClient, error) {
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithUnaryInterceptor(forwardMetadata),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(api.CodecName)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection: %w", err)
	}

	return &PipelineGRPCClient{
		InvoicePipelineClient: api.NewInvoicePipelineClient(conn),
		conn:                  conn,
	}, nil
}

// Close closes the gRPC connection
func (c *PipelineGRPCClient) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
