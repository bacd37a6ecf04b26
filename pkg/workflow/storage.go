package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Storage persists workflow definitions and execution results. The
// executor never touches storage itself; the CLI and embedding
// services wire one in.
type Storage interface {
	SaveDefinition(ctx context.Context, def *Definition) error
	LoadDefinition(ctx context.Context, id string) (*Definition, error)
	DeleteDefinition(ctx context.Context, id string) error
	ListDefinitions(ctx context.Context) ([]*Definition, error)

	SaveResult(ctx context.Context, result *Result) error
	LoadResult(ctx context.Context, workflowID string) (*Result, error)
	ListResults(ctx context.Context) ([]*Result, error)

	Close() error
}

// MemoryStorage keeps definitions and results in maps. Useful for
// tests and short-lived embedders.
type MemoryStorage struct {
	mu          sync.RWMutex
	definitions map[string]*Definition
	results     map[string]*Result
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		definitions: make(map[string]*Definition),
		results:     make(map[string]*Result),
	}
}

func (s *MemoryStorage) SaveDefinition(_ context.Context, def *Definition) error {
	if def == nil || def.ID == "" {
		return fmt.Errorf("%w: definition requires an id", ErrInvalidDefinition)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.definitions[def.ID] = def
	return nil
}

func (s *MemoryStorage) LoadDefinition(_ context.Context, id string) (*Definition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	def, ok := s.definitions[id]
	if !ok {
		return nil, fmt.Errorf("workflow %q: %w", id, ErrWorkflowNotFound)
	}
	return def, nil
}

func (s *MemoryStorage) DeleteDefinition(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.definitions, id)
	return nil
}

func (s *MemoryStorage) ListDefinitions(_ context.Context) ([]*Definition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Definition, 0, len(s.definitions))
	for _, def := range s.definitions {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStorage) SaveResult(_ context.Context, result *Result) error {
	if result == nil || result.WorkflowID == "" {
		return fmt.Errorf("result requires a workflow id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[result.WorkflowID] = result
	return nil
}

func (s *MemoryStorage) LoadResult(_ context.Context, workflowID string) (*Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result, ok := s.results[workflowID]
	if !ok {
		return nil, fmt.Errorf("run %q: %w", workflowID, ErrResultNotFound)
	}
	return result, nil
}

func (s *MemoryStorage) ListResults(_ context.Context) ([]*Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Result, 0, len(s.results))
	for _, result := range s.results {
		out = append(out, result)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

func (s *MemoryStorage) Close() error { return nil }

// FileStorage lays definitions and results out as JSON files under
// workflows/ and results/ subdirectories of a base path.
type FileStorage struct {
	base string
	mu   sync.Mutex
}

func NewFileStorage(base string) (*FileStorage, error) {
	for _, sub := range []string{"workflows", "results"} {
		if err := os.MkdirAll(filepath.Join(base, sub), 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}
	return &FileStorage{base: base}, nil
}

func (s *FileStorage) SaveDefinition(_ context.Context, def *Definition) error {
	if def == nil || def.ID == "" {
		return fmt.Errorf("%w: definition requires an id", ErrInvalidDefinition)
	}
	return s.writeJSON(filepath.Join(s.base, "workflows", sanitizeFilename(def.ID)+".json"), def)
}

func (s *FileStorage) LoadDefinition(_ context.Context, id string) (*Definition, error) {
	var def Definition
	path := filepath.Join(s.base, "workflows", sanitizeFilename(id)+".json")
	if err := s.readJSON(path, &def, ErrWorkflowNotFound); err != nil {
		return nil, err
	}
	normalizeDefinition(&def)
	return &def, nil
}

func (s *FileStorage) DeleteDefinition(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := os.Remove(filepath.Join(s.base, "workflows", sanitizeFilename(id)+".json"))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete workflow %q: %w", id, err)
	}
	return nil
}

func (s *FileStorage) ListDefinitions(ctx context.Context) ([]*Definition, error) {
	ids, err := s.listIDs("workflows")
	if err != nil {
		return nil, err
	}
	out := make([]*Definition, 0, len(ids))
	for _, id := range ids {
		def, err := s.LoadDefinition(ctx, id)
		if err != nil {
			continue
		}
		out = append(out, def)
	}
	return out, nil
}

func (s *FileStorage) SaveResult(_ context.Context, result *Result) error {
	if result == nil || result.WorkflowID == "" {
		return fmt.Errorf("result requires a workflow id")
	}
	return s.writeJSON(filepath.Join(s.base, "results", sanitizeFilename(result.WorkflowID)+".json"), result)
}

func (s *FileStorage) LoadResult(_ context.Context, workflowID string) (*Result, error) {
	var result Result
	path := filepath.Join(s.base, "results", sanitizeFilename(workflowID)+".json")
	if err := s.readJSON(path, &result, ErrResultNotFound); err != nil {
		return nil, err
	}
	return &result, nil
}

func (s *FileStorage) ListResults(ctx context.Context) ([]*Result, error) {
	ids, err := s.listIDs("results")
	if err != nil {
		return nil, err
	}
	out := make([]*Result, 0, len(ids))
	for _, id := range ids {
		result, err := s.LoadResult(ctx, id)
		if err != nil {
			continue
		}
		out = append(out, result)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

func (s *FileStorage) Close() error { return nil }

func (s *FileStorage) writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return os.Rename(tmp, path)
}

func (s *FileStorage) readJSON(path string, v any, notFound error) error {
	s.mu.Lock()
	data, err := os.ReadFile(path)
	s.mu.Unlock()
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%s: %w", filepath.Base(path), notFound)
		}
		return fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return nil
}

func (s *FileStorage) listIDs(sub string) ([]string, error) {
	s.mu.Lock()
	entries, err := os.ReadDir(filepath.Join(s.base, sub))
	s.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", sub, err)
	}
	var ids []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	sort.Strings(ids)
	return ids, nil
}

// sanitizeFilename keeps ids usable as file names.
func sanitizeFilename(id string) string {
	replacer := strings.NewReplacer("/", "_", "\\", "_", "..", "_", " ", "_")
	return replacer.Replace(id)
}
