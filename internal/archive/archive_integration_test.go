package archive

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	pgcontainer "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/signalsfoundry/velotrain/internal/archive/migrations"
	"github.com/signalsfoundry/velotrain/internal/types"
)

func setupPostgres(t *testing.T) (*Client, func()) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	container, err := pgcontainer.Run(ctx, "postgres:16-alpine",
		pgcontainer.WithDatabase("velotrain"),
		pgcontainer.WithUsername("velotrain"),
		pgcontainer.WithPassword("velotrain"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections"),
		),
	)
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}

	connStr, err := container.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("connection string: %v", err)
	}
	connStr += "&sslmode=disable"

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := migrations.New(db).Migrate([]*migrations.Migration{migrations.InitialSchema}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	db.Close()

	client, err := New(connStr)
	if err != nil {
		t.Fatalf("archive.New: %v", err)
	}

	cleanup := func() {
		client.Close()
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("terminate postgres container: %v", err)
		}
	}
	return client, cleanup
}

func TestStoreAndGetSessionSummaries_Integration(t *testing.T) {
	client, cleanup := setupPostgres(t)
	defer cleanup()

	start := time.Date(2026, 8, 6, 8, 0, 0, 0, time.UTC)
	end := start.Add(6 * time.Hour)
	summary := types.SessionSummary{
		SessionID:     "3f1b9b4e-0e2a-4f7a-8c9e-2f7b4e6a9d11",
		Day:           "2026-08-06",
		ResetCount:    1,
		TotalEmitted:  42,
		IsolatedCount: 2,
		FinalNoise:    []types.DecoderSnapshot{{Mpid: 1, State: "synced"}},
	}

	if err := client.StoreSessionSummary(0, summary, start, end); err != nil {
		t.Fatalf("StoreSessionSummary: %v", err)
	}

	got, err := client.GetSessionSummaries("2026-08-06")
	if err != nil {
		t.Fatalf("GetSessionSummaries: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 summary, got %d", len(got))
	}
	if got[0].SessionID != summary.SessionID || got[0].TotalEmitted != summary.TotalEmitted {
		t.Errorf("unexpected summary: %+v", got[0])
	}
}

func TestGetSessionSummaries_Integration_EmptyDay(t *testing.T) {
	client, cleanup := setupPostgres(t)
	defer cleanup()

	got, err := client.GetSessionSummaries("2026-01-01")
	if err != nil {
		t.Fatalf("GetSessionSummaries: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected no summaries for untouched day, got %d", len(got))
	}
}
