package archive

import (
	"database/sql"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/signalsfoundry/velotrain/internal/types"
)

func TestStoreSessionSummary_Unit(t *testing.T) {
	start := time.Date(2026, 8, 6, 8, 0, 0, 0, time.UTC)
	end := time.Date(2026, 8, 6, 18, 0, 0, 0, time.UTC)
	summary := types.SessionSummary{
		SessionID:     "3f1b9b4e-0e2a-4f7a-8c9e-2f7b4e6a9d11",
		Day:           "2026-08-06",
		ResetCount:    1,
		TotalEmitted:  420,
		IsolatedCount: 3,
		FinalNoise:    []types.DecoderSnapshot{{Mpid: 1, Name: "Finish", State: "online", Noise: 2}},
	}

	tests := []struct {
		name        string
		setupMock   func(sqlmock.Sqlmock)
		expectError bool
	}{
		{
			name: "successful insert",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(`INSERT INTO session_summaries`).
					WillReturnResult(sqlmock.NewResult(1, 1))
			},
			expectError: false,
		},
		{
			name: "database execution error",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(`INSERT INTO session_summaries`).
					WillReturnError(sql.ErrConnDone)
			},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			if err != nil {
				t.Fatalf("failed to create mock DB: %v", err)
			}
			defer db.Close()

			tt.setupMock(mock)

			client := &Client{db: db}
			err = client.StoreSessionSummary(1, summary, start, end)

			if tt.expectError && err == nil {
				t.Error("expected error, got none")
			}
			if !tt.expectError && err != nil {
				t.Errorf("expected no error, got: %v", err)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unmet expectations: %v", err)
			}
		})
	}
}

func TestGetSessionSummaries_Unit(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock DB: %v", err)
	}
	defer db.Close()

	start := time.Date(2026, 8, 6, 8, 0, 0, 0, time.UTC)
	end := time.Date(2026, 8, 6, 18, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"session_id", "reset_count", "total_emitted", "isolated_count", "final_noise", "start_wall", "end_wall"}).
		AddRow("3f1b9b4e-0e2a-4f7a-8c9e-2f7b4e6a9d11", 1, 420, 3, []byte(`[{"mpid":1,"name":"Finish","state":"online","offset":0,"noise":2}]`), start, end)
	mock.ExpectQuery(`SELECT session_id, reset_count, total_emitted, isolated_count, final_noise, start_wall, end_wall`).
		WithArgs("2026-08-06").
		WillReturnRows(rows)

	client := &Client{db: db}
	out, err := client.GetSessionSummaries("2026-08-06")
	if err != nil {
		t.Fatalf("GetSessionSummaries() failed: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected 1 summary, got %d", len(out))
	}
	if out[0].TotalEmitted != 420 || out[0].Day != "2026-08-06" {
		t.Errorf("unexpected summary: %+v", out[0])
	}
}
