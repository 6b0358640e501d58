package task

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mohans/geodiff/internal/model"
)

// Schema is the table behind SQLStore. Applied by the operator (or by
// tests); the store itself never migrates.
const Schema = `
CREATE TABLE IF NOT EXISTS geodiff_tasks (
    id           VARCHAR(64) PRIMARY KEY,
    status       VARCHAR(32) NOT NULL,
    request_json TEXT        NOT NULL,
    result_json  TEXT        NULL,
    error_kind   VARCHAR(32) NULL,
    error_msg    TEXT        NULL,
    created_at   DATETIME    NOT NULL,
    started_at   DATETIME    NULL,
    finished_at  DATETIME    NULL
);
`

// SQLStore is the durable Store variant backed by a relational DB.
// Transition guards live in the UPDATE's WHERE clause, so a claim or a
// terminal write is a single atomic statement: whoever's UPDATE matches a
// row wins, everyone else sees zero rows affected.
type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

func (s *SQLStore) Create(ctx context.Context, id string, req model.AnalysisRequest) (*model.Task, error) {
	reqJSON, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	createdAt := time.Now().UTC()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO geodiff_tasks (id, status, request_json, created_at) VALUES (?, ?, ?, ?)`,
		id, string(model.StatusQueued), string(reqJSON), createdAt)
	if err != nil {
		return nil, err
	}
	return &model.Task{ID: id, Status: model.StatusQueued, Request: req, CreatedAt: createdAt}, nil
}

func (s *SQLStore) Start(ctx context.Context, id string) (*model.Task, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE geodiff_tasks SET status = ?, started_at = ? WHERE id = ? AND status = ?`,
		string(model.StatusProcessing), time.Now().UTC(), id, string(model.StatusQueued))
	if err != nil {
		return nil, err
	}
	if err := s.checkAffected(ctx, res, id, "start"); err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

func (s *SQLStore) Complete(ctx context.Context, id string, result *model.Result) error {
	resJSON, err := json.Marshal(result)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE geodiff_tasks SET status = ?, result_json = ?, finished_at = ? WHERE id = ? AND status = ?`,
		string(model.StatusCompleted), string(resJSON), time.Now().UTC(), id, string(model.StatusProcessing))
	if err != nil {
		return err
	}
	return s.checkAffected(ctx, res, id, "complete")
}

func (s *SQLStore) Fail(ctx context.Context, id string, terr *model.Error) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE geodiff_tasks SET status = ?, error_kind = ?, error_msg = ?, finished_at = ?
		 WHERE id = ? AND status IN (?, ?)`,
		string(model.StatusFailed), string(terr.Kind), terr.Message, time.Now().UTC(),
		id, string(model.StatusQueued), string(model.StatusProcessing))
	if err != nil {
		return err
	}
	return s.checkAffected(ctx, res, id, "fail")
}

func (s *SQLStore) Cancel(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE geodiff_tasks SET status = ?, error_kind = ?, error_msg = ?, finished_at = ?
		 WHERE id = ? AND status = ?`,
		string(model.StatusFailed), string(model.KindCancelled), "task cancelled", time.Now().UTC(),
		id, string(model.StatusProcessing))
	if err != nil {
		return err
	}
	return s.checkAffected(ctx, res, id, "cancel")
}

func (s *SQLStore) Get(ctx context.Context, id string) (*model.Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, status, request_json, result_json, error_kind, error_msg, created_at, started_at, finished_at
		 FROM geodiff_tasks WHERE id = ?`, id)

	var t model.Task
	var status, reqJSON string
	var resJSON, errKind, errMsg sql.NullString
	var startedAt, finishedAt sql.NullTime
	err := row.Scan(&t.ID, &status, &reqJSON, &resJSON, &errKind, &errMsg, &t.CreatedAt, &startedAt, &finishedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("get %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	t.Status = model.Status(status)
	if err := json.Unmarshal([]byte(reqJSON), &t.Request); err != nil {
		return nil, err
	}
	if resJSON.Valid {
		t.Result = &model.Result{}
		if err := json.Unmarshal([]byte(resJSON.String), t.Result); err != nil {
			return nil, err
		}
	}
	if errKind.Valid {
		t.Err = &model.Error{Kind: model.ErrorKind(errKind.String), Message: errMsg.String}
	}
	if startedAt.Valid {
		v := startedAt.Time
		t.StartedAt = &v
	}
	if finishedAt.Valid {
		v := finishedAt.Time
		t.FinishedAt = &v
	}
	return &t, nil
}

// Sweep deletes terminal tasks finished more than horizon ago. Non-terminal
// rows are never touched. Returns the number of rows deleted.
func (s *SQLStore) Sweep(ctx context.Context, horizon time.Duration) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM geodiff_tasks WHERE status IN (?, ?) AND finished_at < ?`,
		string(model.StatusCompleted), string(model.StatusFailed),
		time.Now().UTC().Add(-horizon))
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// Janitor runs Sweep on the given interval until ctx is done.
func (s *SQLStore) Janitor(ctx context.Context, interval, horizon time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = s.Sweep(ctx, horizon)
		}
	}
}

// checkAffected distinguishes a missing row from a guard rejection after a
// zero-row UPDATE.
func (s *SQLStore) checkAffected(ctx context.Context, res sql.Result, id, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var status string
	err = s.db.QueryRowContext(ctx, `SELECT status FROM geodiff_tasks WHERE id = ?`, id).Scan(&status)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%s %s: %w", op, id, ErrNotFound)
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("%s %s from %s: %w", op, id, status, ErrBadTransition)
}
