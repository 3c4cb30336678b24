package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuemby/vdb/pkg/api"
	"github.com/cuemby/vdb/pkg/consensus"
	"github.com/cuemby/vdb/pkg/index"
	"github.com/cuemby/vdb/pkg/log"
	"github.com/cuemby/vdb/pkg/metrics"
	"github.com/cuemby/vdb/pkg/storage"
	"github.com/cuemby/vdb/pkg/types"
	"github.com/cuemby/vdb/pkg/vectordb"
	"github.com/cuemby/vdb/pkg/wal"
	"github.com/spf13/cobra"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "storagenode <config-file>",
	Short:   "vdb storage node: vector indexes, write-ahead log, and consensus",
	Version: Version,
	Args:    cobra.ExactArgs(1),
	RunE:    run,
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(args[0])
	if err != nil {
		return err
	}

	log.Init(log.Config{Level: log.Level(cfg.LogLevel), JSONOutput: cfg.LogJSON})
	nodeLog := log.WithNodeID(cfg.NodeID)

	metric, ok := types.ParseMetric(cfg.Metric)
	if !ok {
		return fmt.Errorf("unknown metric %q", cfg.Metric)
	}

	scalars, err := storage.NewBoltStore(storage.Config{DataDir: cfg.DBPath, Fresh: cfg.FreshStart})
	if err != nil {
		return fmt.Errorf("open scalar store: %w", err)
	}
	defer scalars.Close()

	w, err := wal.Open(wal.Config{Path: cfg.WALPath, FlushOnWrite: cfg.FlushOnWrite})
	if err != nil {
		return fmt.Errorf("open write-ahead log: %w", err)
	}
	defer w.Close()

	hnswParams := index.DefaultHnswParams()
	if cfg.Index.HNSW.M > 0 {
		hnswParams.M = cfg.Index.HNSW.M
	}
	if cfg.Index.HNSW.EfConstruction > 0 {
		hnswParams.EfConstruction = cfg.Index.HNSW.EfConstruction
	}
	if cfg.Index.HNSW.EfSearch > 0 {
		hnswParams.EfSearch = cfg.Index.HNSW.EfSearch
	}

	factory, err := index.New(cfg.Dim, metric, hnswParams)
	if err != nil {
		return fmt.Errorf("create index factory: %w", err)
	}
	if err := factory.LoadAll(cfg.IndexDir, scalars); err != nil {
		return fmt.Errorf("load indexes: %w", err)
	}

	db := vectordb.New(factory, scalars, w)
	if err := db.Reload(); err != nil {
		return fmt.Errorf("replay write-ahead log: %w", err)
	}

	var harness *consensus.Harness
	if cfg.Raft.Enabled {
		fsm := consensus.New(db, cfg.IndexDir)
		harness, err = consensus.NewHarness(consensus.Config{
			NodeID:   cfg.NodeID,
			BindAddr: cfg.Raft.BindAddr,
			DataDir:  cfg.Raft.DataDir,
		}, fsm)
		if err != nil {
			return fmt.Errorf("create consensus harness: %w", err)
		}
		if cfg.Raft.Bootstrap {
			err = harness.Bootstrap()
		} else {
			err = harness.Start()
		}
		if err != nil {
			return fmt.Errorf("start consensus: %w", err)
		}
		defer harness.Shutdown()
	}

	nodeServer := api.NewNodeServer(cfg.NodeID, db, harness)
	healthServer := api.NewHealthServer(db, harness)

	// harness may be a nil *consensus.Harness here; only box it into the
	// RaftStats interface when consensus is actually enabled, so
	// Collector's nil check on the interface value stays meaningful.
	var raftStats metrics.RaftStats
	if cfg.Raft.Enabled {
		raftStats = harness
	}
	collector := metrics.NewCollector(db, raftStats)
	collector.Start()
	defer collector.Stop()

	recordAddr := fmt.Sprintf("%s:%d", cfg.HTTPServerAddress, cfg.HTTPServerPort)
	healthAddr := fmt.Sprintf("%s:%d", cfg.HealthServerAddress, cfg.HealthServerPort)

	recordSrv := &http.Server{Addr: recordAddr, Handler: nodeServer.Handler(), ReadTimeout: 30 * time.Second, WriteTimeout: 30 * time.Second, IdleTimeout: 60 * time.Second}
	healthSrv := &http.Server{Addr: healthAddr, Handler: healthServer.GetHandler(), ReadTimeout: 5 * time.Second, WriteTimeout: 10 * time.Second, IdleTimeout: 60 * time.Second}

	errCh := make(chan error, 2)
	go func() {
		nodeLog.Info().Str("addr", recordAddr).Msg("record API listening")
		if err := recordSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("record API server: %w", err)
		}
	}()
	go func() {
		nodeLog.Info().Str("addr", healthAddr).Msg("health/metrics server listening")
		if err := healthSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("health server: %w", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		nodeLog.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errCh:
		nodeLog.Error().Err(err).Msg("server failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = recordSrv.Shutdown(shutdownCtx)
	_ = healthSrv.Shutdown(shutdownCtx)
	return nil
}
