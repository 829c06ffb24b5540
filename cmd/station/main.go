package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/stationrt/station/pkg/api"
	"github.com/stationrt/station/pkg/config"
	"github.com/stationrt/station/pkg/events"
	"github.com/stationrt/station/pkg/log"
	"github.com/stationrt/station/pkg/metrics"
	"github.com/stationrt/station/pkg/registry"
	"github.com/stationrt/station/pkg/replication"
	"github.com/stationrt/station/pkg/router"
	"github.com/stationrt/station/pkg/runtime"
	"github.com/stationrt/station/pkg/scheduler"
	"github.com/stationrt/station/pkg/store"
	"github.com/stationrt/station/pkg/types"

	_ "github.com/stationrt/station/pkg/objects"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "station",
	Short: "Station - a distributed object runtime",
	Long: `Station runs objects (handler code plus state, logs, versions and
files) across a small cluster of stations, with one master holding the
cluster registry and any number of workers executing object methods.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"station version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warning, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("config", "", "Path to an optional YAML config file")
	rootCmd.PersistentFlags().String("data-dir", "", "Data directory (overrides config/env/default)")
	rootCmd.PersistentFlags().Int("port", 0, "HTTP port (overrides config/env/default)")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("station version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime)
		return nil
	},
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run this process as a station",
	Long: `serve brings up the object runtime, the cluster registry, the
replication pool, the scheduler daemon and the HTTP surface, then blocks
until interrupted.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("station-id", "", "Station identity (overrides config/env/default)")
	serveCmd.Flags().String("host", "", "Bind host (overrides config/env/default)")
	serveCmd.Flags().String("master-host", "", "Master station host (overrides config/env/default)")
	serveCmd.Flags().Int("master-port", 0, "Master station port (overrides config/env/default)")
	serveCmd.Flags().String("cluster-seed-file", "", "Optional TSV file pre-populating the master's registry")
}

// resolveConfig layers flag > env > file > default (§6.5, §10.3).
func resolveConfig(cmd *cobra.Command) (config.Config, error) {
	cfg := config.Default()

	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadFile(cfg, configPath)
	if err != nil {
		return cfg, err
	}

	cfg = config.LoadEnv(cfg)

	if v, _ := cmd.Flags().GetString("station-id"); v != "" {
		cfg.StationID = v
	}
	if v, _ := cmd.Flags().GetString("host"); v != "" {
		cfg.Host = v
	}
	if v, _ := cmd.Flags().GetInt("port"); v != 0 {
		cfg.Port = v
	}
	if v, _ := cmd.Flags().GetString("data-dir"); v != "" {
		cfg.DataDir = v
	}
	if v, _ := cmd.Flags().GetString("master-host"); v != "" {
		cfg.MasterHost = v
	}
	if v, _ := cmd.Flags().GetInt("master-port"); v != 0 {
		cfg.MasterPort = v
	}
	if v, _ := cmd.Flags().GetString("cluster-seed-file"); v != "" {
		cfg.ClusterSeedFile = v
	}
	if v, _ := cmd.Flags().GetString("log-level"); v != "" {
		cfg.LogLevel = v
	}
	if v, _ := cmd.Flags().GetBool("log-json"); v {
		cfg.LogJSON = v
	}

	return cfg, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return fmt.Errorf("failed to resolve configuration: %w", err)
	}

	log.Init(log.Config{Level: log.Level(cfg.LogLevel), JSONOutput: cfg.LogJSON})
	logger := log.WithComponent("main")

	isMaster := registry.IsMaster(cfg.StationID)

	metrics.SetVersion(Version)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	reg := registry.New(cfg.DataDir, cfg.StationID, isMaster)
	metrics.RegisterComponent("registry", true, "loaded")

	if isMaster {
		seedRows, err := config.LoadSeedFile(cfg.ClusterSeedFile)
		if err != nil {
			return fmt.Errorf("failed to load cluster seed file: %w", err)
		}
		for _, row := range seedRows {
			_ = reg.Upsert(types.Station{StationID: row.StationID, Host: row.Host, Port: row.Port})
		}
		_ = reg.Upsert(types.Station{StationID: cfg.StationID, Host: cfg.Host, Port: cfg.Port})
	}

	pool := replication.NewPool(replication.DefaultConcurrency)
	defer pool.Stop()
	replicator := replication.NewReplicator(pool, reg, cfg.StationID)
	metrics.RegisterComponent("replication", true, "pool running")

	stateStore := store.NewStateStore(cfg.DataDir, replicator)
	selfLogger := store.NewSelfLogger(cfg.DataDir, replicator)
	fileStore := store.NewFileStore(cfg.DataDir, replicator)
	versionStore := store.NewVersionStore(cfg.DataDir)

	rt := runtime.New(cfg.StationID, stateStore, selfLogger, fileStore, versionStore)
	rt.StartScheduler()
	defer rt.StopScheduler()

	rtr := router.New(rt, reg, cfg.StationID)
	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	taskStore, err := scheduler.Open(filepath.Join(cfg.DataDir, "tasks.db"))
	if err != nil {
		return fmt.Errorf("failed to open task store: %w", err)
	}
	defer taskStore.Close()

	pollInterval := time.Duration(cfg.SchedulerPollS) * time.Second
	daemon := scheduler.NewDaemon(taskStore, rt, pollInterval)
	daemon.Start()
	defer daemon.Stop()

	stores := api.Stores{State: stateStore, Logger: selfLogger, Versions: versionStore, Files: fileStore, Tasks: taskStore}
	server := api.NewServer(rt, rtr, reg, broker, stores, cfg.DataDir, cfg.StationID, Version)

	collector := metrics.NewCollector(reg, rt)
	collector.Start()
	defer collector.Stop()

	if !isMaster {
		heartbeat := registry.NewHeartbeatClient(reg, cfg.MasterHost, cfg.MasterPort, types.Station{
			StationID: cfg.StationID,
			Host:      cfg.Host,
			Port:      cfg.Port,
		}, Version, nil)
		heartbeat.Start()
		defer heartbeat.Stop()
	}

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(addr); err != nil {
			errCh <- fmt.Errorf("API server error: %w", err)
		}
	}()
	time.Sleep(200 * time.Millisecond)
	metrics.RegisterComponent("api", true, "ready")

	logger.Info().
		Str("station_id", cfg.StationID).
		Bool("is_master", isMaster).
		Str("addr", addr).
		Msg("station serving")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info().Msg("shutting down")
	case err := <-errCh:
		logger.Error().Err(err).Msg("server error, shutting down")
	}

	return nil
}
