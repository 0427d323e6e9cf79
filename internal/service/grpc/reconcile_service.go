// Package grpcsvc: gRPC API движка сверки (reconcile.v1.ReconcileService).
package grpcsvc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/vladislavdragonenkov/reconciler/internal/config"
	"github.com/vladislavdragonenkov/reconciler/internal/domain"
	"github.com/vladislavdragonenkov/reconciler/internal/reconcile"
)

// Runner выполняет запуск сверки.
type Runner interface {
	Run(ctx context.Context, in reconcile.Input) (*domain.RunResult, error)
}

// ReconcileService реализует ReconcileServer поверх движка и Run Store.
type ReconcileService struct {
	runner   Runner
	store    domain.RunStore
	logger   *log.Entry
	now      func() time.Time
	newRunID func() (string, error)
}

var _ ReconcileServer = (*ReconcileService)(nil)

// NewReconcileService конструирует сервис. store может быть nil: тогда LatestSnapshot всегда NotFound.
func NewReconcileService(runner Runner, store domain.RunStore, logger *log.Entry) *ReconcileService {
	if logger == nil {
		logger = log.WithField("component", "reconcile-service")
	}
	return &ReconcileService{
		runner:   runner,
		store:    store,
		logger:   logger,
		now:      time.Now,
		newRunID: newUUIDv7,
	}
}

func newUUIDv7() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// Reconcile выполняет запуск. Поля запроса: workspace_id, run_id, as_of, orders,
// shipments, tracking (массивы объектов колонка → значение) и aliases.
func (s *ReconcileService) Reconcile(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}

	in, err := s.decodeInput(req.AsMap())
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if in.RunID == "" {
		if in.RunID, err = s.newRunID(); err != nil {
			return nil, status.Errorf(codes.Internal, "generate run_id: %v", err)
		}
	}

	result, err := s.runner.Run(ctx, in)
	if err != nil {
		return nil, toStatus(err)
	}

	s.logger.WithFields(log.Fields{
		"run_id":       result.RunID,
		"workspace_id": result.WorkspaceID,
		"exceptions":   len(result.Exceptions),
	}).Info("Reconcile served")

	return toStruct(result)
}

// LatestSnapshot возвращает последний снапшот workspace_id.
func (s *ReconcileService) LatestSnapshot(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	workspaceID := strings.TrimSpace(stringField(req.AsMap(), "workspace_id"))
	if workspaceID == "" {
		return nil, status.Error(codes.InvalidArgument, domain.ErrWorkspaceRequired.Error())
	}
	if s.store == nil {
		return nil, status.Error(codes.NotFound, domain.ErrSnapshotNotFound.Error())
	}

	snapshot, ok, err := s.store.LatestSnapshot(ctx, workspaceID)
	if err != nil {
		return nil, toStatus(err)
	}
	if !ok {
		return nil, status.Errorf(codes.NotFound, "%s: %s", domain.ErrSnapshotNotFound, workspaceID)
	}
	return toStruct(snapshot)
}

func (s *ReconcileService) decodeInput(fields map[string]interface{}) (reconcile.Input, error) {
	in := reconcile.Input{
		RunID:       strings.TrimSpace(stringField(fields, "run_id")),
		WorkspaceID: strings.TrimSpace(stringField(fields, "workspace_id")),
	}
	if in.WorkspaceID == "" {
		return reconcile.Input{}, domain.ErrWorkspaceRequired
	}

	if raw := stringField(fields, "as_of"); raw != "" {
		asOf, err := reconcile.ParseAsOf(raw)
		if err != nil {
			return reconcile.Input{}, err
		}
		in.AsOf = asOf
	} else {
		in.AsOf = s.now().UTC()
	}

	var err error
	if in.Orders, err = rowsField(fields, "orders"); err != nil {
		return reconcile.Input{}, err
	}
	if in.Shipments, err = rowsField(fields, "shipments"); err != nil {
		return reconcile.Input{}, err
	}
	if in.Tracking, err = rowsField(fields, "tracking"); err != nil {
		return reconcile.Input{}, err
	}
	if in.Aliases, err = aliasesField(fields, "aliases"); err != nil {
		return reconcile.Input{}, err
	}
	return in, nil
}

func stringField(fields map[string]interface{}, name string) string {
	v, ok := fields[name]
	if !ok || v == nil {
		return ""
	}
	return scalarString(v)
}

func scalarString(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	case nil:
		return ""
	default:
		return fmt.Sprint(val)
	}
}

func rowsField(fields map[string]interface{}, name string) ([]domain.Row, error) {
	raw, ok := fields[name]
	if !ok || raw == nil {
		return nil, nil
	}
	list, ok := raw.([]interface{})
	if !ok {
		return nil, fmt.Errorf("%s must be a list of objects", name)
	}
	rows := make([]domain.Row, 0, len(list))
	for idx, item := range list {
		obj, ok := item.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("%s[%d] must be an object", name, idx)
		}
		row := make(domain.Row, len(obj))
		for column, value := range obj {
			if _, nested := value.(map[string]interface{}); nested {
				return nil, fmt.Errorf("%s[%d].%s must be a scalar", name, idx, column)
			}
			if _, nested := value.([]interface{}); nested {
				return nil, fmt.Errorf("%s[%d].%s must be a scalar", name, idx, column)
			}
			row[column] = scalarString(value)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// aliasesField разбирает {"orders": {"order_id": ["Ref Commande"]}}.
func aliasesField(fields map[string]interface{}, name string) (config.Aliases, error) {
	raw, ok := fields[name]
	if !ok || raw == nil {
		return nil, nil
	}
	feeds, ok := raw.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("%s must be an object", name)
	}

	feedNames := make([]string, 0, len(feeds))
	for feed := range feeds {
		feedNames = append(feedNames, feed)
	}
	sort.Strings(feedNames)

	aliases := make(config.Aliases, len(feeds))
	for _, feed := range feedNames {
		switch domain.Feed(feed) {
		case domain.FeedOrders, domain.FeedShipments, domain.FeedTracking:
		default:
			return nil, fmt.Errorf("%s: unknown feed %q", name, feed)
		}
		byField, ok := feeds[feed].(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("%s.%s must be an object", name, feed)
		}
		table := make(map[string][]string, len(byField))
		for field, list := range byField {
			items, ok := list.([]interface{})
			if !ok {
				return nil, fmt.Errorf("%s.%s.%s must be a list of strings", name, feed, field)
			}
			for _, item := range items {
				alias, ok := item.(string)
				if !ok {
					return nil, fmt.Errorf("%s.%s.%s must be a list of strings", name, feed, field)
				}
				table[field] = append(table[field], alias)
			}
		}
		aliases[domain.Feed(feed)] = table
	}
	return aliases, nil
}

func toStruct(v interface{}) (*structpb.Struct, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(body, out); err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return out, nil
}

func toStatus(err error) error {
	switch {
	case err == nil:
		return nil
	case domain.IsSchemaError(err),
		errors.Is(err, domain.ErrWorkspaceRequired),
		errors.Is(err, domain.ErrRunIDRequired),
		errors.Is(err, domain.ErrAsOfRequired):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, domain.ErrSnapshotNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return status.FromContextError(err).Err()
	case domain.IsStorageError(err):
		return status.Error(codes.Unavailable, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
