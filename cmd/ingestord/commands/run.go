package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sigil-systems/ingestord/internal/config"
	"github.com/sigil-systems/ingestord/internal/control"
	"github.com/sigil-systems/ingestord/internal/lifecycle"
	"github.com/sigil-systems/ingestord/internal/listener"
	"github.com/sigil-systems/ingestord/internal/logging"
	"github.com/sigil-systems/ingestord/internal/tracing"
	"github.com/spf13/cobra"
)

var (
	configPath         string
	dataDir            string
	controlAddr        string
	tracingEnabled     bool
	tracingEndpoint    string
	tracingTLSCAPath   string
	tracingTLSInsecure bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the ingestord daemon",
	Long: `Run starts the listener multiplexer, per-source processor pools, and
the control plane, watching the Configuration Store for source and
policy changes until a termination signal is received.`,
	Run: runDaemon,
}

func init() {
	runCmd.Flags().StringVar(&configPath, "config", "",
		"Path to a process-wide ingestord.yaml (data_dir, metrics_addr, tracing, per-source defaults);"+
			" flags explicitly set on the command line override it")
	runCmd.Flags().StringVar(&dataDir, "data-dir", "/var/lib/ingestord",
		"Directory holding sources.yaml and per-source policy files")
	runCmd.Flags().StringVar(&controlAddr, "control-addr", ":9090",
		"Address the control plane's HTTP surface (/healthz, /metrics, /reload) binds to")
	runCmd.Flags().BoolVar(&tracingEnabled, "tracing-enabled", false, "Enable OpenTelemetry tracing")
	runCmd.Flags().StringVar(&tracingEndpoint, "tracing-endpoint", "", "OTLP gRPC endpoint for traces")
	runCmd.Flags().StringVar(&tracingTLSCAPath, "tracing-tls-ca", "", "Path to CA certificate for TLS verification")
	runCmd.Flags().BoolVar(&tracingTLSInsecure, "tracing-tls-insecure", false, "Skip TLS certificate verification")
}

func runDaemon(cmd *cobra.Command, args []string) {
	cfg, err := config.LoadDaemonConfigFile(configPath, config.DefaultDaemonConfig())
	if err != nil {
		HandleError(err, "failed to load daemon config file")
	}

	flags := cmd.Flags()
	if flags.Changed("data-dir") {
		cfg.DataDir = dataDir
	}
	if flags.Changed("control-addr") {
		cfg.ControlAddr = controlAddr
	}
	if flags.Changed("tracing-enabled") {
		cfg.TracingEnabled = tracingEnabled
	}
	if flags.Changed("tracing-endpoint") {
		cfg.TracingEndpoint = tracingEndpoint
	}
	if flags.Changed("tracing-tls-ca") {
		cfg.TracingTLSCAPath = tracingTLSCAPath
	}
	if flags.Changed("tracing-tls-insecure") {
		cfg.TracingTLSInsecure = tracingTLSInsecure
	}
	cfg.LogLevelFlags = logLevelFlags
	cfg.ResolvePaths()

	if err := cfg.Validate(); err != nil {
		HandleError(err, "configuration error")
	}
	if err := setupLog(cfg.LogLevelFlags); err != nil {
		HandleError(err, "failed to setup logging")
	}
	logger := logging.GetLogger("cmd.run")
	logger.InfoWithFields("starting ingestord", logging.Field("version", Version))

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		HandleError(err, "failed to create data directory")
	}
	if _, err := os.Stat(cfg.SourcesPath); os.IsNotExist(err) {
		logger.InfoWithFields("creating empty sources file", logging.Field("path", cfg.SourcesPath))
		if err := config.WriteSourcesFile(cfg.SourcesPath, &config.SourcesFile{SchemaVersion: "1.0.0"}); err != nil {
			HandleError(err, "failed to create sources file")
		}
	}

	manager := lifecycle.NewManager()

	tracingProvider, err := tracing.NewTracingProvider(tracing.Config{
		Enabled:     cfg.TracingEnabled,
		Endpoint:    cfg.TracingEndpoint,
		TLSCAPath:   cfg.TracingTLSCAPath,
		TLSInsecure: cfg.TracingTLSInsecure,
	})
	if err != nil {
		logger.WarnWithFields("failed to initialize tracing, continuing without it",
			logging.Field("error", err.Error()))
	} else if err := manager.Register(tracingProvider); err != nil {
		HandleError(err, "failed to register tracing provider")
	}

	registry := prometheus.NewRegistry()

	plane := control.New(nil, registry, cfg.PoliciesDir, cfg.TemplatesDir)
	mux := listener.NewMultiplexer(plane)
	plane.SetMultiplexer(mux)
	plane.SetSourcesPath(cfg.SourcesPath)

	if err := manager.Register(mux); err != nil {
		HandleError(err, "failed to register listener multiplexer")
	}
	if err := manager.Register(plane, mux); err != nil {
		HandleError(err, "failed to register control plane")
	}

	server := control.NewServer(cfg.ControlAddr, plane, registry)
	if err := manager.Register(server, plane); err != nil {
		HandleError(err, "failed to register control server")
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := manager.Start(ctx); err != nil {
		logger.ErrorWithFields("failed to start components", logging.Field("error", err.Error()))
		cancel()
		os.Exit(1)
	}

	logger.Info("ingestord started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("shutdown signal received, stopping")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := manager.Stop(shutdownCtx); err != nil {
		logger.ErrorWithFields("error during shutdown", logging.Field("error", err.Error()))
		os.Exit(2)
	}

	logger.Info("shutdown complete")
}
