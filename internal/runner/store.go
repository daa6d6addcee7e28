package runner

import (
	"context"
	"slices"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/shaiso/flowgraph/internal/domain"
	"github.com/shaiso/flowgraph/internal/repo"
)

// RunStore — журнал запусков. Реализации: *repo.RunRepo, *MemoryStore.
type RunStore interface {
	Create(ctx context.Context, run *domain.Run) error
	Update(ctx context.Context, run *domain.Run) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Run, error)
	List(ctx context.Context, filter repo.RunFilter) ([]domain.Run, error)
	SaveNodeRuns(ctx context.Context, runID uuid.UUID, nodeRuns []*domain.NodeRun) error
	ListNodeRuns(ctx context.Context, runID uuid.UUID) ([]domain.NodeRun, error)
}

var (
	_ RunStore = (*repo.RunRepo)(nil)
	_ RunStore = (*MemoryStore)(nil)
)

// MemoryStore — RunStore в памяти процесса.
// Используется CLI и тестами, когда БД не настроена.
type MemoryStore struct {
	mu       sync.RWMutex
	runs     map[uuid.UUID]domain.Run
	nodeRuns map[uuid.UUID][]domain.NodeRun
}

// NewMemoryStore создаёт пустой MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		runs:     make(map[uuid.UUID]domain.Run),
		nodeRuns: make(map[uuid.UUID][]domain.NodeRun),
	}
}

func (s *MemoryStore) Create(_ context.Context, run *domain.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.runs[run.ID]; ok {
		return repo.ErrAlreadyExists
	}
	s.runs[run.ID] = *run
	return nil
}

func (s *MemoryStore) Update(_ context.Context, run *domain.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.runs[run.ID]; !ok {
		return repo.ErrNotFound
	}
	s.runs[run.ID] = *run
	return nil
}

func (s *MemoryStore) GetByID(_ context.Context, id uuid.UUID) (*domain.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return &run, nil
}

// List возвращает запуски, новые первыми, с теми же правилами фильтра, что и RunRepo.
func (s *MemoryStore) List(_ context.Context, filter repo.RunFilter) ([]domain.Run, error) {
	filter = filter.Normalize()

	s.mu.RLock()
	runs := make([]domain.Run, 0, len(s.runs))
	for _, run := range s.runs {
		if filter.Workflow != "" && run.Workflow != filter.Workflow {
			continue
		}
		if filter.Status != "" && run.Status != filter.Status {
			continue
		}
		run.Definition = nil
		run.Context = nil
		runs = append(runs, run)
	}
	s.mu.RUnlock()

	sort.SliceStable(runs, func(i, j int) bool {
		return runs[i].CreatedAt.After(runs[j].CreatedAt)
	})

	if filter.Offset >= len(runs) {
		return []domain.Run{}, nil
	}
	runs = runs[filter.Offset:]
	if len(runs) > filter.Limit {
		runs = runs[:filter.Limit]
	}
	return runs, nil
}

// SaveNodeRuns заменяет записи с совпадающим Seq и добавляет новые.
func (s *MemoryStore) SaveNodeRuns(_ context.Context, runID uuid.UUID, nodeRuns []*domain.NodeRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.runs[runID]; !ok {
		return repo.ErrNotFound
	}

	existing := s.nodeRuns[runID]
	for _, nr := range nodeRuns {
		rec := *nr
		rec.RunID = runID
		idx := slices.IndexFunc(existing, func(e domain.NodeRun) bool { return e.Seq == rec.Seq })
		if idx >= 0 {
			existing[idx] = rec
			continue
		}
		existing = append(existing, rec)
	}
	sort.Slice(existing, func(i, j int) bool { return existing[i].Seq < existing[j].Seq })
	s.nodeRuns[runID] = existing
	return nil
}

func (s *MemoryStore) ListNodeRuns(_ context.Context, runID uuid.UUID) ([]domain.NodeRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.NodeRun, len(s.nodeRuns[runID]))
	copy(out, s.nodeRuns[runID])
	return out, nil
}
