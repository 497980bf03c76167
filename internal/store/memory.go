package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"sort"
	"sync"

	"github.com/backyonatan-alt/sitewatch/internal/model"
)

// Memory keeps projects in process memory. Used for local runs and tests.
type Memory struct {
	mu       sync.RWMutex
	projects map[string]model.Project
}

func NewMemory(projects ...model.Project) *Memory {
	m := &Memory{projects: make(map[string]model.Project)}
	for _, p := range projects {
		m.Put(p)
	}
	return m
}

// LoadFile seeds the store from a JSON array of projects.
func (m *Memory) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var projects []model.Project
	if err := json.Unmarshal(data, &projects); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	for _, p := range projects {
		m.Put(p)
	}
	return nil
}

// Put inserts or replaces a project.
func (m *Memory) Put(p model.Project) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.projects[p.ID] = cloneProject(p)
}

func (m *Memory) Migrate(context.Context) error { return nil }

func (m *Memory) ListActiveProjects(ctx context.Context, statuses []string) ([]model.Project, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []model.Project
	for _, p := range m.projects {
		if slices.Contains(statuses, p.Status) {
			out = append(out, cloneProject(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) GetProject(ctx context.Context, id string) (model.Project, error) {
	if err := ctx.Err(); err != nil {
		return model.Project{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.projects[id]
	if !ok {
		return model.Project{}, ErrNotFound
	}
	return cloneProject(p), nil
}

func (m *Memory) UpdateProjectSnapshots(ctx context.Context, id string, snapshots []model.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[id]
	if !ok {
		return ErrNotFound
	}
	p.Snapshots = slices.Clone(snapshots)
	m.projects[id] = p
	return nil
}

func cloneProject(p model.Project) model.Project {
	p.Snapshots = slices.Clone(p.Snapshots)
	if p.Location != nil {
		loc := make(map[string]any, len(p.Location))
		for k, v := range p.Location {
			loc[k] = v
		}
		p.Location = loc
	}
	return p
}
