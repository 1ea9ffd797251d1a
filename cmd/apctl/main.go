// Command apctl drives the invoice pipeline over gRPC.
//
// Commands:
//
//	upload <file>        Upload extracted invoice text
//	get <invoice-id>     Show one invoice
//	list                 List invoices
//	route <invoice-id>   Triage an INBOX invoice
//	approve <invoice-id> Approve a pending invoice
//	reject <invoice-id>  Reject a pending invoice
//	pay <invoice-id>     Pay an approved invoice
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/pesio-ai/be-ap-invoice-pipeline/internal/api"
	"github.com/pesio-ai/be-ap-invoice-pipeline/internal/client"
	"github.com/pesio-ai/be-ap-invoice-pipeline/internal/domain"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(0)
	}

	cmd := os.Args[1]
	if cmd == "help" || cmd == "-h" || cmd == "--help" {
		printUsage()
		return
	}

	if err := run(cmd, os.Args[2:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "apctl %s: %v\n", cmd, err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage:")
	fmt.Println("  apctl <command> [options] [args]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  upload <file|->      Upload invoice text (- reads stdin)")
	fmt.Println("  get <invoice-id>     Show one invoice")
	fmt.Println("  list                 List invoices (--status, --limit)")
	fmt.Println("  route <invoice-id>   Triage an INBOX invoice")
	fmt.Println("  approve <invoice-id> Approve a pending invoice (--by, --notes)")
	fmt.Println("  reject <invoice-id>  Reject a pending invoice (--by, --reason)")
	fmt.Println("  pay <invoice-id>     Pay an approved invoice")
	fmt.Println()
	fmt.Println("Global options (after the command):")
	fmt.Println("  --addr      gRPC address (default $PIPELINE_GRPC_URL or localhost:9085)")
	fmt.Println("  --timeout   Call timeout (default 5m)")
}

func run(cmd string, args []string, out io.Writer) error {
	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	addr := fs.String("addr", envOr("PIPELINE_GRPC_URL", "localhost:9085"), "gRPC address")
	timeout := fs.Duration("timeout", 5*time.Minute, "call timeout")

	sourceType := fs.String("source-type", "text", "upload: source type")
	key := fs.String("key", "", "upload: idempotency key")
	status := fs.String("status", "", "list: status filter")
	limit := fs.Int("limit", 0, "list: maximum results")
	by := fs.String("by", "", "approve/reject: reviewer")
	notes := fs.String("notes", "", "approve: notes")
	reason := fs.String("reason", "", "reject: reason")

	if err := fs.Parse(args); err != nil {
		return err
	}

	c, err := client.NewPipelineGRPCClient(*addr)
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	var result any
	switch cmd {
	case "upload":
		text, err := readSource(fs.Arg(0))
		if err != nil {
			return err
		}
		result, err = c.Upload(ctx, &api.UploadRequest{
			Text:           text,
			SourceType:     *sourceType,
			SourcePath:     fs.Arg(0),
			IdempotencyKey: *key,
		})
		if err != nil {
			return err
		}
	case "list":
		result, err = c.ListInvoices(ctx, &api.ListInvoicesRequest{
			Status: domain.InvoiceStatus(*status),
			Limit:  *limit,
		})
	case "get", "route", "approve", "reject", "pay":
		id := fs.Arg(0)
		if id == "" {
			return fmt.Errorf("invoice id is required")
		}
		result, err = invokeByID(ctx, c, cmd, id, *by, *notes, *reason)
	default:
		printUsage()
		return fmt.Errorf("unknown command %q", cmd)
	}
	if err != nil {
		return err
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

func invokeByID(ctx context.Context, c *client.PipelineGRPCClient, cmd, id, by, notes, reason string) (*domain.WorkflowState, error) {
	switch cmd {
	case "get":
		return c.GetInvoice(ctx, &api.GetInvoiceRequest{InvoiceID: id})
	case "route":
		return c.RouteToApproval(ctx, &api.RouteRequest{InvoiceID: id})
	case "approve":
		return c.Approve(ctx, &api.ApproveRequest{InvoiceID: id, ApprovedBy: by, Notes: notes})
	case "reject":
		return c.Reject(ctx, &api.RejectRequest{InvoiceID: id, RejectedBy: by, Reason: reason})
	default:
		return c.ExecutePayment(ctx, &api.PayRequest{InvoiceID: id})
	}
}

func readSource(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("file argument is required")
	}
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return string(data), nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
