package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// Snapshot captures the observable execution state of one run. The
// executor persists one after every step transition, so a store always
// holds the latest progress for a workflow.
type Snapshot struct {
	WorkflowID   string                `json:"workflow_id"`
	TakenAt      time.Time             `json:"taken_at"`
	Status       Status                `json:"status"`
	StepStatuses map[string]StepStatus `json:"step_statuses"`
	Variables    map[string]any        `json:"variables,omitempty"`
	Completed    []string              `json:"completed,omitempty"`
}

// SnapshotStore persists execution snapshots keyed by workflow run id.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, snap *Snapshot) error
	LoadSnapshot(ctx context.Context, workflowID string) (*Snapshot, error)
	ListSnapshots(ctx context.Context) ([]*Snapshot, error)
}

// MemorySnapshotStore keeps the latest snapshot per workflow in
// memory. Safe for concurrent use.
type MemorySnapshotStore struct {
	mu    sync.RWMutex
	snaps map[string]*Snapshot
}

func NewMemorySnapshotStore() *MemorySnapshotStore {
	return &MemorySnapshotStore{snaps: make(map[string]*Snapshot)}
}

func (s *MemorySnapshotStore) SaveSnapshot(_ context.Context, snap *Snapshot) error {
	if snap == nil || snap.WorkflowID == "" {
		return fmt.Errorf("snapshot requires a workflow id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snaps[snap.WorkflowID] = cloneSnapshot(snap)
	return nil
}

func (s *MemorySnapshotStore) LoadSnapshot(_ context.Context, workflowID string) (*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snaps[workflowID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSnapshotNotFound, workflowID)
	}
	return cloneSnapshot(snap), nil
}

func (s *MemorySnapshotStore) ListSnapshots(_ context.Context) ([]*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Snapshot, 0, len(s.snaps))
	for _, snap := range s.snaps {
		out = append(out, cloneSnapshot(snap))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TakenAt.Before(out[j].TakenAt) })
	return out, nil
}

// FileSnapshotStore writes one JSON file per workflow run under a base
// directory.
type FileSnapshotStore struct {
	dir string
	mu  sync.Mutex
}

func NewFileSnapshotStore(dir string) (*FileSnapshotStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create snapshot dir: %w", err)
	}
	return &FileSnapshotStore{dir: dir}, nil
}

func (s *FileSnapshotStore) SaveSnapshot(_ context.Context, snap *Snapshot) error {
	if snap == nil || snap.WorkflowID == "" {
		return fmt.Errorf("snapshot requires a workflow id")
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	path := s.path(snap.WorkflowID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return os.Rename(tmp, path)
}

func (s *FileSnapshotStore) LoadSnapshot(_ context.Context, workflowID string) (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path(workflowID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrSnapshotNotFound, workflowID)
		}
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &snap, nil
}

func (s *FileSnapshotStore) ListSnapshots(ctx context.Context) ([]*Snapshot, error) {
	s.mu.Lock()
	entries, err := os.ReadDir(s.dir)
	s.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}

	var out []*Snapshot
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		id := entry.Name()[:len(entry.Name())-len(".json")]
		snap, err := s.LoadSnapshot(ctx, id)
		if err != nil {
			continue // concurrent delete or partial write
		}
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TakenAt.Before(out[j].TakenAt) })
	return out, nil
}

func (s *FileSnapshotStore) path(workflowID string) string {
	return filepath.Join(s.dir, workflowID+".json")
}

func cloneSnapshot(snap *Snapshot) *Snapshot {
	out := &Snapshot{
		WorkflowID: snap.WorkflowID,
		TakenAt:    snap.TakenAt,
		Status:     snap.Status,
	}
	if snap.StepStatuses != nil {
		out.StepStatuses = make(map[string]StepStatus, len(snap.StepStatuses))
		for k, v := range snap.StepStatuses {
			out.StepStatuses[k] = v
		}
	}
	if snap.Variables != nil {
		out.Variables = make(map[string]any, len(snap.Variables))
		for k, v := range snap.Variables {
			out.Variables[k] = v
		}
	}
	out.Completed = append([]string(nil), snap.Completed...)
	return out
}
