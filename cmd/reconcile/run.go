package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/vladislavdragonenkov/reconciler/internal/config"
	"github.com/vladislavdragonenkov/reconciler/internal/domain"
	"github.com/vladislavdragonenkov/reconciler/internal/feed"
	"github.com/vladislavdragonenkov/reconciler/internal/reconcile"
	"github.com/vladislavdragonenkov/reconciler/internal/storage/memory"
	"github.com/vladislavdragonenkov/reconciler/internal/storage/sqlite"
)

const (
	storeMemory = "memory"
	storeSQLite = "sqlite"

	defaultWorkspace  = "default"
	defaultSQLitePath = "reconcile.db"
)

type storeOptions struct {
	driver     string
	sqlitePath string
}

func (o *storeOptions) bind(cmd *cobra.Command, defaultDriver string) {
	cmd.Flags().StringVar(&o.driver, "store", defaultDriver, "run history store: memory|sqlite")
	cmd.Flags().StringVar(&o.sqlitePath, "sqlite-path", defaultSQLitePath, "sqlite file for --store sqlite")
}

func (o storeOptions) open(ctx context.Context) (domain.RunStore, func() error, error) {
	switch strings.ToLower(o.driver) {
	case storeMemory:
		return memory.NewRunStore(), func() error { return nil }, nil
	case storeSQLite:
		store, err := sqlite.Open(ctx, o.sqlitePath)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported store %q (use memory|sqlite)", o.driver)
	}
}

type runOptions struct {
	orders     string
	shipments  string
	tracking   string
	configPath string
	asOf       string
	runID      string
	workspace  string
	store      storeOptions
	now        func() time.Time
}

func newRunCmd(c *cli) *cobra.Command {
	opts := &runOptions{now: time.Now}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one reconciliation and print the result as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.run(cmd.Context(), opts)
		},
	}
	cmd.Flags().StringVar(&opts.orders, "orders", "", "orders CSV file")
	cmd.Flags().StringVar(&opts.shipments, "shipments", "", "shipments CSV file")
	cmd.Flags().StringVar(&opts.tracking, "tracking", "", "tracking CSV file (optional)")
	cmd.Flags().StringVar(&opts.configPath, "config", "", "engine YAML config (defaults when empty)")
	cmd.Flags().StringVar(&opts.asOf, "as-of", "", "as-of moment, RFC3339 or YYYY-MM-DD (default: now)")
	cmd.Flags().StringVar(&opts.runID, "run-id", "", "run id (default: as-of formatted as 20060102T150405Z)")
	cmd.Flags().StringVar(&opts.workspace, "workspace", defaultWorkspace, "workspace id")
	opts.store.bind(cmd, storeMemory)
	_ = cmd.MarkFlagRequired("orders")
	_ = cmd.MarkFlagRequired("shipments")
	return cmd
}

func (c *cli) run(ctx context.Context, opts *runOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}

	asOf := opts.now().UTC()
	if opts.asOf != "" {
		if asOf, err = reconcile.ParseAsOf(opts.asOf); err != nil {
			return err
		}
	}
	runID := opts.runID
	if runID == "" {
		runID = reconcile.TimestampRunID(asOf)
	}

	in := reconcile.Input{RunID: runID, WorkspaceID: opts.workspace, AsOf: asOf}
	if in.Orders, err = feed.ReadCSVFile(opts.orders); err != nil {
		return err
	}
	if in.Shipments, err = feed.ReadCSVFile(opts.shipments); err != nil {
		return err
	}
	if in.Tracking, err = feed.ReadCSVFile(opts.tracking); err != nil {
		return err
	}

	store, closeStore, err := opts.store.open(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeStore(); err != nil {
			c.logger.WithError(err).Warn("failed to close run store")
		}
	}()

	engine, err := reconcile.New(cfg, reconcile.WithStore(store), reconcile.WithLogger(c.logger))
	if err != nil {
		return err
	}

	result, err := engine.Run(ctx, in)
	if err != nil {
		return err
	}
	return writeJSON(c, result)
}

func writeJSON(c *cli, v interface{}) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
