// Package archive is the Postgres-backed historical record of daily
// session summaries. It stores one SessionSummary row per completed
// day/reset cycle and nothing passing-level.
package archive

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/signalsfoundry/velotrain/internal/types"
)

// Client manages the archive's Postgres connection.
type Client struct {
	db *sql.DB
}

// New opens a connection to the archive database at connStr.
func New(connStr string) (*Client, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("archive: open: %w", err)
	}
	return &Client{db: db}, nil
}

// Close closes the database connection.
func (c *Client) Close() error {
	return c.db.Close()
}

// StoreSessionSummary archives one completed day/reset cycle. resetSeq
// distinguishes multiple resets that may occur within the same day.
func (c *Client) StoreSessionSummary(resetSeq int, s types.SessionSummary, start, end time.Time) error {
	noise, err := json.Marshal(s.FinalNoise)
	if err != nil {
		return fmt.Errorf("archive: marshal final noise: %w", err)
	}

	_, err = c.db.Exec(`
		INSERT INTO session_summaries (
			session_id, day, reset_seq, reset_count, total_emitted, isolated_count,
			final_noise, start_wall, end_wall
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		s.SessionID, s.Day, resetSeq, s.ResetCount, s.TotalEmitted, s.IsolatedCount,
		noise, start, end,
	)
	return err
}

// GetSessionSummaries retrieves every archived summary for a given day.
func (c *Client) GetSessionSummaries(day string) ([]types.SessionSummary, error) {
	rows, err := c.db.Query(`
		SELECT session_id, reset_count, total_emitted, isolated_count, final_noise, start_wall, end_wall
		FROM session_summaries
		WHERE day = $1
		ORDER BY reset_seq
	`, day)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.SessionSummary
	for rows.Next() {
		var s types.SessionSummary
		var noise []byte
		var start, end time.Time
		if err := rows.Scan(&s.SessionID, &s.ResetCount, &s.TotalEmitted, &s.IsolatedCount, &noise, &start, &end); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(noise, &s.FinalNoise); err != nil {
			return nil, fmt.Errorf("archive: unmarshal final noise: %w", err)
		}
		s.Day = day
		s.StartWall = start.Format(time.RFC3339)
		s.EndWall = end.Format(time.RFC3339)
		out = append(out, s)
	}
	return out, rows.Err()
}
