package blinkbench

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"

	_ "github.com/marcboeker/go-duckdb"
)

const createResultsTable = `CREATE TABLE IF NOT EXISTS trial_results (
	recorded_at    TIMESTAMP NOT NULL,
	pattern        VARCHAR NOT NULL,
	outcome        VARCHAR NOT NULL,
	percentage     DOUBLE NOT NULL,
	threshold      DOUBLE NOT NULL,
	window_seconds DOUBLE NOT NULL,
	artifact       VARCHAR
)`

// DuckResultLog mirrors trial results into a DuckDB table for ad-hoc queries.
type DuckResultLog struct {
	db *sql.DB
}

func OpenDuckResultLog(path string) (*DuckResultLog, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open DuckDB: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(createResultsTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create trial_results table: %w", err)
	}
	return &DuckResultLog{db: db}, nil
}

func (d *DuckResultLog) Append(ctx context.Context, r TrialResult) error {
	artifact := sql.NullString{String: r.Artifact, Valid: r.Artifact != ""}
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO trial_results VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.Timestamp, r.Pattern, string(r.Outcome), r.Percentage, r.Threshold, r.Window.Seconds(), artifact,
	)
	if err != nil {
		return fmt.Errorf("inserting trial result: %w", err)
	}
	return nil
}

// Results returns every stored trial in insertion order.
func (d *DuckResultLog) Results(ctx context.Context) ([]TrialResult, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT recorded_at, pattern, outcome, percentage, threshold, window_seconds, artifact
		FROM trial_results ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("querying trial results: %w", err)
	}
	defer rows.Close()

	var results []TrialResult
	for rows.Next() {
		var (
			r        TrialResult
			outcome  string
			secs     float64
			artifact sql.NullString
		)
		if err := rows.Scan(&r.Timestamp, &r.Pattern, &outcome, &r.Percentage, &r.Threshold, &secs, &artifact); err != nil {
			return nil, fmt.Errorf("scanning trial result: %w", err)
		}
		r.Outcome = Outcome(outcome)
		r.Window = time.Duration(math.Round(secs * float64(time.Second)))
		r.Artifact = artifact.String
		results = append(results, r)
	}
	return results, rows.Err()
}

func (d *DuckResultLog) Close() error {
	return d.db.Close()
}
