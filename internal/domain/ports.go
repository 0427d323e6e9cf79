package domain

import "context"

// RunStore это внешнее хранилище снапшотов запусков. Только чтение и дозапись.
type RunStore interface {
	// LatestSnapshot возвращает последний снапшот workspace; ok=false, если истории нет.
	LatestSnapshot(ctx context.Context, workspaceID string) (RunSnapshot, bool, error)
	// SaveSnapshot дописывает снапшот; повтор run_id возвращает ErrSnapshotExists.
	SaveSnapshot(ctx context.Context, snapshot RunSnapshot) error
	// ListSnapshots возвращает до limit последних снапшотов, новые первыми.
	ListSnapshots(ctx context.Context, workspaceID string, limit int) ([]RunSnapshot, error)
}

// ResultSink принимает результат запуска для хранения или экспорта.
type ResultSink interface {
	Publish(ctx context.Context, result RunResult) error
}

// ResultSinkFunc адаптирует функцию к ResultSink.
type ResultSinkFunc func(ctx context.Context, result RunResult) error

func (f ResultSinkFunc) Publish(ctx context.Context, result RunResult) error {
	return f(ctx, result)
}
