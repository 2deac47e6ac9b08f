package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"vrpbench/internal/model"
)

//go:embed schema.sql
var schemaSQL string

// sqlStore holds the queries shared by the Postgres and SQLite backends.
// Queries are written with $n placeholders; rebind rewrites them when the
// driver wants ?.
type sqlStore struct {
	db       *sql.DB
	question bool
}

func (s *sqlStore) q(query string) string {
	if !s.question {
		return query
	}
	return rebind(query)
}

// rebind turns $1..$n placeholders into ?.
func rebind(query string) string {
	var b strings.Builder
	for i := 0; i < len(query); i++ {
		if query[i] == '$' && i+1 < len(query) && query[i+1] >= '0' && query[i+1] <= '9' {
			b.WriteByte('?')
			for i+1 < len(query) && query[i+1] >= '0' && query[i+1] <= '9' {
				i++
			}
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// Migrate creates the tables if they do not exist.
func (s *sqlStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *sqlStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }
func (s *sqlStore) Close() error                   { return s.db.Close() }

func (s *sqlStore) CreateExperiment(ctx context.Context, e model.Experiment) error {
	_, err := s.db.ExecContext(ctx, s.q(`INSERT INTO experiments (id, status, total, completed, solved, no_solution, failed, created_at, finished_at) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`),
		e.ID, e.Status, e.Total, e.Completed, e.Solved, e.NoSolution, e.Failed, millis(e.CreatedAt), nullMillis(e.FinishedAt))
	if err != nil {
		return fmt.Errorf("insert experiment: %w", err)
	}
	return nil
}

func (s *sqlStore) UpdateExperiment(ctx context.Context, e model.Experiment) error {
	res, err := s.db.ExecContext(ctx, s.q(`UPDATE experiments SET status=$2, total=$3, completed=$4, solved=$5, no_solution=$6, failed=$7, finished_at=$8 WHERE id=$1`),
		e.ID, e.Status, e.Total, e.Completed, e.Solved, e.NoSolution, e.Failed, nullMillis(e.FinishedAt))
	if err != nil {
		return fmt.Errorf("update experiment: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

const experimentCols = `id, status, total, completed, solved, no_solution, failed, created_at, finished_at`

func scanExperiment(row interface{ Scan(...any) error }) (model.Experiment, error) {
	var e model.Experiment
	var created int64
	var finished sql.NullInt64
	if err := row.Scan(&e.ID, &e.Status, &e.Total, &e.Completed, &e.Solved, &e.NoSolution, &e.Failed, &created, &finished); err != nil {
		return model.Experiment{}, err
	}
	e.CreatedAt = time.UnixMilli(created).UTC()
	if finished.Valid {
		t := time.UnixMilli(finished.Int64).UTC()
		e.FinishedAt = &t
	}
	return e, nil
}

func (s *sqlStore) GetExperiment(ctx context.Context, id string) (model.Experiment, error) {
	e, err := scanExperiment(s.db.QueryRowContext(ctx, s.q(`SELECT `+experimentCols+` FROM experiments WHERE id=$1`), id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Experiment{}, ErrNotFound
	}
	return e, err
}

func (s *sqlStore) ListExperiments(ctx context.Context, cursor string, limit int) ([]model.Experiment, string, error) {
	limit = clampLimit(limit)
	query := `SELECT ` + experimentCols + ` FROM experiments`
	args := []any{}
	if cursor != "" {
		query += ` WHERE (created_at, id) > (SELECT created_at, id FROM experiments WHERE id=$1)`
		args = append(args, cursor)
	}
	query += ` ORDER BY created_at, id LIMIT ` + strconv.Itoa(limit)
	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, "", fmt.Errorf("list experiments: %w", err)
	}
	defer rows.Close()
	out := []model.Experiment{}
	for rows.Next() {
		e, err := scanExperiment(rows)
		if err != nil {
			return nil, "", err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}
	var next string
	if len(out) == limit {
		next = out[len(out)-1].ID
	}
	return out, next, nil
}

func (s *sqlStore) SaveRun(ctx context.Context, r model.RunRecord) error {
	_, err := s.db.ExecContext(ctx, s.q(`INSERT INTO runs (id, experiment_id, seq, problem, variant, first_solution, local_search, status, elapsed_ms, objective, iterations, summary, error, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
ON CONFLICT (id) DO UPDATE SET status=excluded.status, elapsed_ms=excluded.elapsed_ms, objective=excluded.objective, iterations=excluded.iterations, summary=excluded.summary, error=excluded.error`),
		r.ID, r.ExperimentID, r.Seq, r.Problem, r.Variant, r.FirstSolution, r.LocalSearch, r.Status,
		r.ElapsedMs, nullInt(r.Objective), r.Iterations, r.Summary, r.Error, millis(r.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

const runCols = `id, experiment_id, seq, problem, variant, first_solution, local_search, status, elapsed_ms, objective, iterations, summary, error, created_at`

func scanRun(row interface{ Scan(...any) error }) (model.RunRecord, error) {
	var r model.RunRecord
	var obj sql.NullInt64
	var created int64
	if err := row.Scan(&r.ID, &r.ExperimentID, &r.Seq, &r.Problem, &r.Variant, &r.FirstSolution, &r.LocalSearch,
		&r.Status, &r.ElapsedMs, &obj, &r.Iterations, &r.Summary, &r.Error, &created); err != nil {
		return model.RunRecord{}, err
	}
	if obj.Valid {
		v := obj.Int64
		r.Objective = &v
	}
	r.CreatedAt = time.UnixMilli(created).UTC()
	return r, nil
}

func (s *sqlStore) GetRun(ctx context.Context, id string) (model.RunRecord, error) {
	r, err := scanRun(s.db.QueryRowContext(ctx, s.q(`SELECT `+runCols+` FROM runs WHERE id=$1`), id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.RunRecord{}, ErrNotFound
	}
	return r, err
}

func (s *sqlStore) ListRuns(ctx context.Context, f RunFilter, cursor string, limit int) ([]model.RunRecord, string, error) {
	limit = clampLimit(limit)
	var where []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}
	if f.ExperimentID != "" {
		where = append(where, "experiment_id="+arg(f.ExperimentID))
	}
	if f.Problem != "" {
		where = append(where, "problem="+arg(f.Problem))
	}
	if f.Status != "" {
		where = append(where, "status="+arg(f.Status))
	}
	if cursor != "" {
		where = append(where, "(created_at, seq, id) > (SELECT created_at, seq, id FROM runs WHERE id="+arg(cursor)+")")
	}
	query := `SELECT ` + runCols + ` FROM runs`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at, seq, id LIMIT ` + strconv.Itoa(limit)
	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, "", fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()
	out := []model.RunRecord{}
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, "", err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}
	var next string
	if len(out) == limit {
		next = out[len(out)-1].ID
	}
	return out, next, nil
}

func millis(t time.Time) int64 { return t.UnixMilli() }

func nullMillis(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

func nullInt(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}
