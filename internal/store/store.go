package store

import (
	"context"
	"errors"

	"github.com/backyonatan-alt/sitewatch/internal/model"
)

var ErrNotFound = errors.New("project not found")

// Store is the repository interface for monitored projects.
type Store interface {
	// ListActiveProjects returns projects whose status is one of statuses.
	ListActiveProjects(ctx context.Context, statuses []string) ([]model.Project, error)
	// GetProject returns one project or ErrNotFound.
	GetProject(ctx context.Context, id string) (model.Project, error)
	// UpdateProjectSnapshots replaces the snapshot history of a project.
	UpdateProjectSnapshots(ctx context.Context, id string, snapshots []model.Snapshot) error
	// Migrate creates the schema.
	Migrate(ctx context.Context) error
}
