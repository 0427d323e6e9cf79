package memory

import (
	"context"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/reconciler/internal/domain"
)

// runStoreInMemory хранит снапшоты каждого workspace в порядке дозаписи.
type runStoreInMemory struct {
	mu    sync.RWMutex
	items map[string][]domain.RunSnapshot
	now   func() time.Time
}

var _ domain.RunStore = (*runStoreInMemory)(nil)

// NewRunStore возвращает in-memory хранилище для локальной разработки и тестов.
func NewRunStore() domain.RunStore {
	return &runStoreInMemory{
		items: make(map[string][]domain.RunSnapshot),
		now:   time.Now,
	}
}

// LatestSnapshot возвращает последний дописанный снапшот workspace.
func (s *runStoreInMemory) LatestSnapshot(ctx context.Context, workspaceID string) (domain.RunSnapshot, bool, error) {
	if err := ctx.Err(); err != nil {
		return domain.RunSnapshot{}, false, domain.NewStorageError("latest snapshot", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	list := s.items[workspaceID]
	if len(list) == 0 {
		return domain.RunSnapshot{}, false, nil
	}
	return list[len(list)-1].Clone(), true, nil
}

// SaveSnapshot дописывает копию снапшота; существующий run_id не перезаписывается.
func (s *runStoreInMemory) SaveSnapshot(ctx context.Context, snapshot domain.RunSnapshot) error {
	if err := snapshot.Validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return domain.NewStorageError("save snapshot", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.items[snapshot.WorkspaceID] {
		if existing.RunID == snapshot.RunID {
			return domain.ErrSnapshotExists
		}
	}
	stored := snapshot.Clone()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = s.now().UTC()
	}
	s.items[snapshot.WorkspaceID] = append(s.items[snapshot.WorkspaceID], stored)
	return nil
}

// ListSnapshots возвращает до limit снапшотов (limit <= 0: все), новые первыми.
func (s *runStoreInMemory) ListSnapshots(ctx context.Context, workspaceID string, limit int) ([]domain.RunSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.NewStorageError("list snapshots", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	list := s.items[workspaceID]
	result := make([]domain.RunSnapshot, 0, len(list))
	for i := len(list) - 1; i >= 0; i-- {
		result = append(result, list[i].Clone())
		if limit > 0 && len(result) == limit {
			break
		}
	}
	return result, nil
}
