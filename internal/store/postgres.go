package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/lib/pq"

	"github.com/backyonatan-alt/sitewatch/internal/model"
)

// Open connects to Postgres, retrying the initial ping until the database
// accepts connections or maxWait elapses.
func Open(ctx context.Context, databaseURL string, maxWait time.Duration) (*sql.DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = time.Second
	expBackoff.MaxElapsedTime = maxWait

	operation := func() error {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := db.PingContext(pingCtx); err != nil {
			slog.Warn("database not ready", "error", err)
			return err
		}
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(expBackoff, ctx)); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database after retries: %w", err)
	}
	return db, nil
}

type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (p *Postgres) Migrate(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS projects (
			id                  TEXT PRIMARY KEY,
			title               TEXT NOT NULL DEFAULT '',
			status              TEXT NOT NULL,
			location            JSONB,
			satellite_snapshots JSONB NOT NULL DEFAULT '[]',
			updated_at          TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_projects_status ON projects (status);
	`
	_, err := p.db.ExecContext(ctx, query)
	return err
}

const projectColumns = "id, title, status, location, satellite_snapshots"

func (p *Postgres) ListActiveProjects(ctx context.Context, statuses []string) ([]model.Project, error) {
	rows, err := p.db.QueryContext(ctx,
		"SELECT "+projectColumns+" FROM projects WHERE status = ANY($1) ORDER BY id",
		pq.Array(statuses),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var projects []model.Project
	for rows.Next() {
		proj, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, proj)
	}
	return projects, rows.Err()
}

func (p *Postgres) GetProject(ctx context.Context, id string) (model.Project, error) {
	row := p.db.QueryRowContext(ctx, "SELECT "+projectColumns+" FROM projects WHERE id = $1", id)
	proj, err := scanProject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Project{}, ErrNotFound
	}
	return proj, err
}

func (p *Postgres) UpdateProjectSnapshots(ctx context.Context, id string, snapshots []model.Snapshot) error {
	if snapshots == nil {
		snapshots = []model.Snapshot{}
	}
	data, err := json.Marshal(snapshots)
	if err != nil {
		return fmt.Errorf("encode snapshots: %w", err)
	}
	res, err := p.db.ExecContext(ctx,
		"UPDATE projects SET satellite_snapshots = $1, updated_at = NOW() WHERE id = $2",
		data, id,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanProject(s scanner) (model.Project, error) {
	var (
		proj      model.Project
		location  []byte
		snapshots []byte
	)
	if err := s.Scan(&proj.ID, &proj.Title, &proj.Status, &location, &snapshots); err != nil {
		return model.Project{}, err
	}
	if len(location) > 0 {
		if err := json.Unmarshal(location, &proj.Location); err != nil {
			return model.Project{}, fmt.Errorf("project %s: decode location: %w", proj.ID, err)
		}
	}
	if len(snapshots) > 0 {
		if err := json.Unmarshal(snapshots, &proj.Snapshots); err != nil {
			return model.Project{}, fmt.Errorf("project %s: decode snapshots: %w", proj.ID, err)
		}
	}
	return proj, nil
}
