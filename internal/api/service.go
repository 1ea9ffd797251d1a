package api

import (
	"context"

	"google.golang.org/grpc"

	"github.com/pesio-ai/be-ap-invoice-pipeline/internal/domain"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "ap.invoicepipeline.v1.InvoicePipelineService"

// InvoicePipelineServer is implemented by the gRPC handler.
type InvoicePipelineServer interface {
	Upload(ctx context.Context, req *UploadRequest) (*domain.WorkflowState, error)
	GetInvoice(ctx context.Context, req *GetInvoiceRequest) (*domain.WorkflowState, error)
	ListInvoices(ctx context.Context, req *ListInvoicesRequest) (*ListInvoicesResponse, error)
	RouteToApproval(ctx context.Context, req *RouteRequest) (*domain.WorkflowState, error)
	Approve(ctx context.Context, req *ApproveRequest) (*domain.WorkflowState, error)
	Reject(ctx context.Context, req *RejectRequest) (*domain.WorkflowState, error)
	ExecutePayment(ctx context.Context, req *PayRequest) (*domain.WorkflowState, error)
}

// RegisterInvoicePipelineServer registers srv on s.
func RegisterInvoicePipelineServer(s grpc.ServiceRegistrar, srv InvoicePipelineServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// unary adapts a typed method to a grpc.MethodDesc handler.
func unary[Req any, Resp any](name string, call func(InvoicePipelineServer, context.Context, *Req) (Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(InvoicePipelineServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: "/" + ServiceName + "/" + name,
			}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(InvoicePipelineServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// ServiceDesc describes InvoicePipelineService for grpc.Server.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*InvoicePipelineServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Upload", InvoicePipelineServer.Upload),
		unary("GetInvoice", InvoicePipelineServer.GetInvoice),
		unary("ListInvoices", InvoicePipelineServer.ListInvoices),
		unary("RouteToApproval", InvoicePipelineServer.RouteToApproval),
		unary("Approve", InvoicePipelineServer.Approve),
		unary("Reject", InvoicePipelineServer.Reject),
		unary("ExecutePayment", InvoicePipelineServer.ExecutePayment),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "ap/invoicepipeline/v1/invoice_pipeline.json",
}

// InvoicePipelineClient calls InvoicePipelineService over a JSON-coded
// connection.
type InvoicePipelineClient struct {
	cc grpc.ClientConnInterface
}

func NewInvoicePipelineClient(cc grpc.ClientConnInterface) *InvoicePipelineClient {
	return &InvoicePipelineClient{cc: cc}
}

func (c *InvoicePipelineClient) invoke(ctx context.Context, method string, in, out any, opts ...grpc.CallOption) error {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	return c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, in, out, opts...)
}

func (c *InvoicePipelineClient) Upload(ctx context.Context, in *UploadRequest, opts ...grpc.CallOption) (*domain.WorkflowState, error) {
	out := new(domain.WorkflowState)
	if err := c.invoke(ctx, "Upload", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *InvoicePipelineClient) GetInvoice(ctx context.Context, in *GetInvoiceRequest, opts ...grpc.CallOption) (*domain.WorkflowState, error) {
	out := new(domain.WorkflowState)
	if err := c.invoke(ctx, "GetInvoice", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *InvoicePipelineClient) ListInvoices(ctx context.Context, in *ListInvoicesRequest, opts ...grpc.CallOption) (*ListInvoicesResponse, error) {
	out := new(ListInvoicesResponse)
	if err := c.invoke(ctx, "ListInvoices", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *InvoicePipelineClient) RouteToApproval(ctx context.Context, in *RouteRequest, opts ...grpc.CallOption) (*domain.WorkflowState, error) {
	out := new(domain.WorkflowState)
	if err := c.invoke(ctx, "RouteToApproval", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *InvoicePipelineClient) Approve(ctx context.Context, in *ApproveRequest, opts ...grpc.CallOption) (*domain.WorkflowState, error) {
	out := new(domain.WorkflowState)
	if err := c.invoke(ctx, "Approve", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *InvoicePipelineClient) Reject(ctx context.Context, in *RejectRequest, opts ...grpc.CallOption) (*domain.WorkflowState, error) {
	out := new(domain.WorkflowState)
	if err := c.invoke(ctx, "Reject", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *InvoicePipelineClient) ExecutePayment(ctx context.Context, in *PayRequest, opts ...grpc.CallOption) (*domain.WorkflowState, error) {
	out := new(domain.WorkflowState)
	if err := c.invoke(ctx, "ExecutePayment", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
