package grpcsvc_test

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/vladislavdragonenkov/reconciler/internal/config"
	"github.com/vladislavdragonenkov/reconciler/internal/domain"
	"github.com/vladislavdragonenkov/reconciler/internal/reconcile"
	grpcsvc "github.com/vladislavdragonenkov/reconciler/internal/service/grpc"
	"github.com/vladislavdragonenkov/reconciler/internal/storage/memory"
)

const bufSize = 1024 * 1024

func loggerForTests() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger.WithField("component", "test")
}

func newTestServer(t *testing.T, store domain.RunStore) *grpcsvc.ReconcileClient {
	t.Helper()

	engine, err := reconcile.New(config.Default(),
		reconcile.WithStore(store),
		reconcile.WithLogger(loggerForTests()),
	)
	require.NoError(t, err)

	listener := bufconn.Listen(bufSize)
	server := grpc.NewServer()
	grpcsvc.RegisterReconcileServiceServer(server, grpcsvc.NewReconcileService(engine, store, loggerForTests()))

	go func() {
		_ = server.Serve(listener)
	}()

	dialer := func(context.Context, string) (net.Conn, error) {
		return listener.Dial()
	}

	//nolint:staticcheck // grpc.Dial is required for bufconn testing
	conn, err := grpc.Dial("bufnet", grpc.WithContextDialer(dialer), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = conn.Close()
		server.Stop()
	})
	return grpcsvc.NewReconcileClient(conn)
}

func mustStruct(t *testing.T, fields map[string]interface{}) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(fields)
	require.NoError(t, err)
	return s
}

func reconcileRequest(runID string) map[string]interface{} {
	req := map[string]interface{}{
		"workspace_id": "ws-grpc",
		"as_of":        "2025-03-20T12:00:00Z",
		"orders": []interface{}{
			map[string]interface{}{"Order ID": "A1", "Order Date": "2025-03-01", "Supplier": "Acme", "Quantity Ordered": 2},
			map[string]interface{}{"Order ID": "B1", "Order Date": "2025-03-10", "Supplier": "Beta", "Quantity Ordered": "3"},
		},
		"shipments": []interface{}{
			map[string]interface{}{"shipment_id": "S3", "order_id": "B1", "ship_date": "2025-03-12", "supplier_name": "Beta", "quantity_shipped": 1, "status": "in transit"},
		},
	}
	if runID != "" {
		req["run_id"] = runID
	}
	return req
}

func callCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestReconcileService_ReconcileAndLatestSnapshot(t *testing.T) {
	client := newTestServer(t, memory.NewRunStore())
	ctx := callCtx(t)

	resp, err := client.Reconcile(ctx, mustStruct(t, reconcileRequest("run-1")))
	require.NoError(t, err)

	fields := resp.AsMap()
	assert.Equal(t, "run-1", fields["run_id"])
	assert.Equal(t, "ws-grpc", fields["workspace_id"])

	exceptions, ok := fields["exceptions"].([]interface{})
	require.True(t, ok)
	types := map[string]string{}
	for _, item := range exceptions {
		exc := item.(map[string]interface{})
		types[exc["order_id"].(string)] = exc["type"].(string)
	}
	assert.Equal(t, string(domain.ExceptionLateShipment), types["A1"])
	assert.Equal(t, string(domain.ExceptionMissingTracking), types["B1"])
	first := exceptions[0].(map[string]interface{})
	assert.NotEmpty(t, first["explanation"])
	assert.NotEmpty(t, first["next_action"])

	impact, ok := fields["customer_impact"].([]interface{})
	require.True(t, ok)
	require.Len(t, impact, 2)
	assert.Equal(t, "A1", impact[0].(map[string]interface{})["order_id"])
	assert.Equal(t, string(domain.ImpactShippingDelay), impact[0].(map[string]interface{})["impact_type"])

	snap, err := client.LatestSnapshot(ctx, mustStruct(t, map[string]interface{}{"workspace_id": "ws-grpc"}))
	require.NoError(t, err)
	assert.Equal(t, "run-1", snap.AsMap()["run_id"])
}

func TestReconcileService_DefaultRunIDIsUUIDv7(t *testing.T) {
	client := newTestServer(t, memory.NewRunStore())

	resp, err := client.Reconcile(callCtx(t), mustStruct(t, reconcileRequest("")))
	require.NoError(t, err)

	id, err := uuid.Parse(resp.AsMap()["run_id"].(string))
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), id.Version())
}

func TestReconcileService_SchemaErrorIsInvalidArgument(t *testing.T) {
	client := newTestServer(t, memory.NewRunStore())

	req := reconcileRequest("run-1")
	req["orders"] = []interface{}{map[string]interface{}{"Supplier": "Acme"}}

	_, err := client.Reconcile(callCtx(t), mustStruct(t, req))
	require.Error(t, err)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestReconcileService_MissingWorkspaceIsInvalidArgument(t *testing.T) {
	client := newTestServer(t, memory.NewRunStore())
	ctx := callCtx(t)

	req := reconcileRequest("run-1")
	delete(req, "workspace_id")
	_, err := client.Reconcile(ctx, mustStruct(t, req))
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = client.LatestSnapshot(ctx, mustStruct(t, map[string]interface{}{}))
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestReconcileService_InvalidPayloads(t *testing.T) {
	client := newTestServer(t, memory.NewRunStore())
	ctx := callCtx(t)

	cases := map[string]func(req map[string]interface{}){
		"bad as_of":      func(req map[string]interface{}) { req["as_of"] = "yesterday" },
		"orders scalar":  func(req map[string]interface{}) { req["orders"] = "A1" },
		"row not object": func(req map[string]interface{}) { req["orders"] = []interface{}{"A1"} },
		"nested value": func(req map[string]interface{}) {
			req["orders"] = []interface{}{map[string]interface{}{"Order ID": map[string]interface{}{"x": 1}}}
		},
		"unknown alias feed": func(req map[string]interface{}) {
			req["aliases"] = map[string]interface{}{"invoices": map[string]interface{}{}}
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			req := reconcileRequest("run-x")
			mutate(req)
			_, err := client.Reconcile(ctx, mustStruct(t, req))
			assert.Equal(t, codes.InvalidArgument, status.Code(err))
		})
	}
}

func TestReconcileService_RunAliases(t *testing.T) {
	client := newTestServer(t, memory.NewRunStore())

	req := reconcileRequest("run-1")
	req["orders"] = []interface{}{
		map[string]interface{}{"Ref Commande": "A1", "Order Date": "2025-03-01", "Supplier": "Acme", "Quantity Ordered": "2"},
	}
	req["aliases"] = map[string]interface{}{
		"orders": map[string]interface{}{"order_id": []interface{}{"Ref Commande"}},
	}

	resp, err := client.Reconcile(callCtx(t), mustStruct(t, req))
	require.NoError(t, err)
	orders := resp.AsMap()["orders"].([]interface{})
	require.NotEmpty(t, orders)
}

func TestReconcileService_LatestSnapshotNotFound(t *testing.T) {
	client := newTestServer(t, memory.NewRunStore())

	_, err := client.LatestSnapshot(callCtx(t), mustStruct(t, map[string]interface{}{"workspace_id": "empty"}))
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestReconcileService_NoStore(t *testing.T) {
	client := newTestServer(t, nil)
	ctx := callCtx(t)

	_, err := client.Reconcile(ctx, mustStruct(t, reconcileRequest("run-1")))
	require.NoError(t, err)

	_, err = client.LatestSnapshot(ctx, mustStruct(t, map[string]interface{}{"workspace_id": "ws-grpc"}))
	assert.Equal(t, codes.NotFound, status.Code(err))
}
