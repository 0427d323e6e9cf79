package objectstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/reconciler/internal/domain"
)

const resultObjectName = "result.json"

// Archive сохраняет полный результат запуска как JSON-объект.
type Archive struct {
	bucket Bucket
	prefix string
	logger *log.Entry
}

var _ domain.ResultSink = (*Archive)(nil)

// NewArchive создаёт архив поверх бакета.
func NewArchive(bucket Bucket, prefix string, logger *log.Entry) *Archive {
	if logger == nil {
		logger = log.WithField("component", "result-archive")
	}
	return &Archive{bucket: bucket, prefix: strings.Trim(prefix, "/"), logger: logger}
}

// ObjectKey возвращает ключ объекта результата: [prefix/]<workspace>/<run>/result.json.
func (a *Archive) ObjectKey(workspaceID, runID string) string {
	key := path.Join(workspaceID, runID, resultObjectName)
	if a.prefix != "" {
		key = path.Join(a.prefix, key)
	}
	return key
}

// Publish записывает результат. Повторная запись того же запуска перезаписывает объект.
func (a *Archive) Publish(ctx context.Context, result domain.RunResult) error {
	if a == nil || a.bucket == nil {
		return fmt.Errorf("result archive is not initialized")
	}
	switch {
	case result.WorkspaceID == "":
		return fmt.Errorf("archive result: %w", domain.ErrWorkspaceRequired)
	case result.RunID == "":
		return fmt.Errorf("archive result: %w", domain.ErrRunIDRequired)
	}

	body, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal run result: %w", err)
	}

	key := a.ObjectKey(result.WorkspaceID, result.RunID)
	if err := a.bucket.Put(ctx, key, bytes.NewReader(body), int64(len(body)), "application/json"); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}

	a.logger.WithFields(log.Fields{
		"key":   key,
		"bytes": len(body),
	}).Debug("run result archived")
	return nil
}

// Ping проверяет, что бакет архива существует.
func (a *Archive) Ping(ctx context.Context) error {
	exists, err := a.bucket.Exists(ctx)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("archive bucket is missing")
	}
	return nil
}
