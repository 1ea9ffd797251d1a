package repository

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/pesio-ai/be-ap-invoice-pipeline/internal/database"
	"github.com/pesio-ai/be-ap-invoice-pipeline/internal/domain"
	"github.com/pesio-ai/be-ap-invoice-pipeline/internal/errors"
)

func getPostgres(t *testing.T) *database.DB {
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	db, err := database.NewFromURL(ctx, url)
	if err != nil {
		t.Skipf("Postgres not available: %v", err)
	}
	if err := MigratePostgres(ctx, db); err != nil {
		db.Close()
		t.Fatalf("MigratePostgres: %v", err)
	}
	return db
}

func TestPostgresStateAndAuditLog(t *testing.T) {
	db := getPostgres(t)
	defer db.Close()

	ctx := context.Background()
	repo := NewPostgresStateRepository(db)
	now := time.Now().UTC().Truncate(time.Millisecond)
	s := newState("test-"+uuid.NewString(), now)

	if err := repo.Put(ctx, s); err != nil {
		t.Fatalf("Put: %v", err)
	}

	s.InvoiceStatus = domain.StatusIngesting
	s.AuditTrail.Append(domain.AuditEvent{
		EventType: domain.EventAIProcessing,
		Timestamp: now.Add(time.Second),
		Actor:     domain.ActorIngestion,
		Title:     "Invoice Ingested",
	})
	if err := repo.CompareAndSwap(ctx, s, 1); err != nil {
		t.Fatalf("CompareAndSwap: %v", err)
	}
	if err := repo.CompareAndSwap(ctx, s, 1); !errors.IsCode(err, errors.ErrCodeConflict) {
		t.Errorf("stale CompareAndSwap error = %v, want CONFLICT", err)
	}

	trail, err := repo.Audit().GetByInvoiceID(ctx, s.InvoiceID)
	if err != nil {
		t.Fatalf("GetByInvoiceID: %v", err)
	}
	if len(trail) != 2 || trail[1].EventType != domain.EventAIProcessing {
		t.Errorf("audit log = %+v", trail)
	}

	got, err := repo.Get(ctx, s.InvoiceID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Version != 2 || got.InvoiceStatus != domain.StatusIngesting {
		t.Errorf("Get = version %d status %s", got.Version, got.InvoiceStatus)
	}
}
