// Package export copies histories into formats suited for ad-hoc analysis.
package export

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"

	"github.com/cwbudde/gomidaco/internal/history"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id   TEXT PRIMARY KEY,
	problem  TEXT NOT NULL,
	path     TEXT NOT NULL,
	created  TEXT NOT NULL,
	seed     INTEGER,
	records  INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS evaluations (
	run_id   TEXT NOT NULL REFERENCES runs(run_id),
	idx      INTEGER NOT NULL,
	fail     INTEGER NOT NULL,
	obj_sum  REAL,
	x        TEXT NOT NULL,
	obj      TEXT NOT NULL,
	con      TEXT NOT NULL,
	PRIMARY KEY (run_id, idx)
);
`

// Summary describes what ToSQLite wrote.
type Summary struct {
	RunID   string
	Records int
}

// ToSQLite copies the history pair at historyPath into the SQLite database at
// dbPath, creating the tables if needed. Exporting the same history again
// replaces its rows.
func ToSQLite(ctx context.Context, historyPath, dbPath string) (Summary, error) {
	src, err := history.Open(historyPath, history.ModeRead)
	if err != nil {
		return Summary{}, err
	}
	defer src.Close()

	records, err := src.Records()
	if err != nil {
		return Summary{}, err
	}
	var seed sql.NullInt64
	if src.HasSeed() {
		v, err := src.Seed()
		if err != nil {
			return Summary{}, err
		}
		seed = sql.NullInt64{Int64: v, Valid: true}
	}
	header := src.Header()

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return Summary{}, err
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return Summary{}, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return Summary{}, fmt.Errorf("create tables: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return Summary{}, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM evaluations WHERE run_id = ?`, header.RunID); err != nil {
		return Summary{}, err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (run_id, problem, path, created, seed, records)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			problem = excluded.problem,
			path = excluded.path,
			created = excluded.created,
			seed = excluded.seed,
			records = excluded.records
	`, header.RunID, header.Problem, historyPath, header.Created.UTC().Format("2006-01-02T15:04:05.000Z07:00"), seed, len(records))
	if err != nil {
		return Summary{}, fmt.Errorf("insert run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO evaluations (run_id, idx, fail, obj_sum, x, obj, con)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return Summary{}, err
	}
	defer stmt.Close()

	for i, rec := range records {
		x, err := encodeVector(rec.X)
		if err != nil {
			return Summary{}, err
		}
		obj, err := encodeVector(rec.Obj)
		if err != nil {
			return Summary{}, err
		}
		con, err := encodeVector(rec.Con)
		if err != nil {
			return Summary{}, err
		}
		if _, err := stmt.ExecContext(ctx, header.RunID, i, rec.Fail, objSum(rec), x, obj, con); err != nil {
			return Summary{}, fmt.Errorf("insert evaluation %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return Summary{}, err
	}
	return Summary{RunID: header.RunID, Records: len(records)}, nil
}

// encodeVector stores a vector as a JSON array. Non-finite components,
// which JSON cannot represent, become null.
func encodeVector(v []float64) (string, error) {
	out := make([]*float64, len(v))
	for i := range v {
		if !math.IsNaN(v[i]) && !math.IsInf(v[i], 0) {
			out[i] = &v[i]
		}
	}
	data, err := json.Marshal(out)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// objSum is NULL for failed or non-finite evaluations.
func objSum(rec history.EvaluationRecord) sql.NullFloat64 {
	if rec.Fail {
		return sql.NullFloat64{}
	}
	var sum float64
	for _, f := range rec.Obj {
		sum += f
	}
	if math.IsNaN(sum) || math.IsInf(sum, 0) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: sum, Valid: true}
}
