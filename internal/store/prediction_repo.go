package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver

	"github.com/Brownie44l1/mri-api/internal/model"
	"github.com/google/uuid"
)

const schema = `
create table if not exists predictions (
	id            uuid primary key,
	request_id    text not null default '',
	filename      text not null default '',
	class         text not null,
	confidence    double precision not null,
	probabilities jsonb not null,
	created_at    timestamptz not null default now()
)`

const addRequestID = `alter table predictions add column if not exists request_id text not null default ''`

// Prediction is one logged classification. The image itself is never stored.
type Prediction struct {
	ID            uuid.UUID          `json:"id"`
	RequestID     string             `json:"request_id"`
	Filename      string             `json:"filename"`
	Class         string             `json:"class"`
	Confidence    float64            `json:"confidence"`
	Probabilities map[string]float64 `json:"predictions"`
	CreatedAt     time.Time          `json:"created_at"`
}

type PredictionRepo struct{ DB *sql.DB }

// Open connects to Postgres and makes sure the predictions table exists.
func Open(ctx context.Context, dsn string) (*PredictionRepo, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql.Open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	repo := NewPredictionRepo(db)
	if err := repo.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return repo, nil
}

func NewPredictionRepo(db *sql.DB) *PredictionRepo { return &PredictionRepo{DB: db} }

func (r *PredictionRepo) Migrate(ctx context.Context) error {
	if _, err := r.DB.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create predictions table: %w", err)
	}
	if _, err := r.DB.ExecContext(ctx, addRequestID); err != nil {
		return fmt.Errorf("add request_id column: %w", err)
	}
	return nil
}

// Insert logs a result as a new row. requestID is informational and may repeat.
func (r *PredictionRepo) Insert(ctx context.Context, id uuid.UUID, requestID, filename string, res model.ClassificationResult) error {
	js, err := json.Marshal(res.Probabilities)
	if err != nil {
		return err
	}
	const q = `
insert into predictions(id, request_id, filename, class, confidence, probabilities)
values ($1,$2,$3,$4,$5,$6)`
	_, err = r.DB.ExecContext(ctx, q, id, requestID, filename, res.Class, res.Confidence, js)
	return err
}

// Recent returns the newest predictions first.
func (r *PredictionRepo) Recent(ctx context.Context, limit int) ([]Prediction, error) {
	const q = `select id, request_id, filename, class, confidence, probabilities, created_at
	           from predictions
	           order by created_at desc
	           limit $1`
	rows, err := r.DB.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Prediction, 0, limit)
	for rows.Next() {
		var (
			p  Prediction
			js []byte
		)
		if err := rows.Scan(&p.ID, &p.RequestID, &p.Filename, &p.Class, &p.Confidence, &js, &p.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(js, &p.Probabilities); err != nil {
			return nil, fmt.Errorf("prediction %s: %w", p.ID, err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *PredictionRepo) Close() error {
	return r.DB.Close()
}
