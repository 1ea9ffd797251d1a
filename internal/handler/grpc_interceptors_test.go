package handler

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/pesio-ai/be-ap-invoice-pipeline/internal/logger"
)

func TestUnaryLoggingRecordsRequestID(t *testing.T) {
	var buf bytes.Buffer
	log := logger.New(logger.Config{Level: "info", Output: &buf})

	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs(requestIDMetadataKey, "req-42"))
	info := &grpc.UnaryServerInfo{FullMethod: "/ap.invoice.v1.InvoicePipelineService/GetInvoice"}

	_, err := UnaryLogging(log)(ctx, nil, info, func(ctx context.Context, req any) (any, error) {
		return nil, status.Error(codes.NotFound, "missing")
	})
	if status.Code(err) != codes.NotFound {
		t.Fatalf("code = %v", status.Code(err))
	}

	out := buf.String()
	for _, want := range []string{`"request_id":"req-42"`, `"code":"NotFound"`, `"method":"/ap.invoice.v1.InvoicePipelineService/GetInvoice"`} {
		if !strings.Contains(out, want) {
			t.Errorf("log %q missing %s", out, want)
		}
	}
}

func TestUnaryRecovery(t *testing.T) {
	info := &grpc.UnaryServerInfo{FullMethod: "/svc/Boom"}
	_, err := UnaryRecovery(logger.Nop())(context.Background(), nil, info, func(ctx context.Context, req any) (any, error) {
		panic("boom")
	})
	if status.Code(err) != codes.Internal {
		t.Errorf("code = %v, want Internal", status.Code(err))
	}
}

func TestRequestIDFromMetadataGeneratesWhenMissing(t *testing.T) {
	if id := requestIDFromMetadata(context.Background()); id == "" {
		t.Error("expected generated request id")
	}
}
