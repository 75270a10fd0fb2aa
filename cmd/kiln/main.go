package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/codeofaxel/kiln/pkg/adapter"
	"github.com/codeofaxel/kiln/pkg/config"
	"github.com/codeofaxel/kiln/pkg/dispatcher"
	"github.com/codeofaxel/kiln/pkg/events"
	"github.com/codeofaxel/kiln/pkg/health"
	"github.com/codeofaxel/kiln/pkg/log"
	"github.com/codeofaxel/kiln/pkg/metrics"
	"github.com/codeofaxel/kiln/pkg/orchestrator"
	"github.com/codeofaxel/kiln/pkg/recovery"
	"github.com/codeofaxel/kiln/pkg/safety"
	"github.com/codeofaxel/kiln/pkg/storage"
	"github.com/codeofaxel/kiln/pkg/types"
	"github.com/spf13/cobra"
)

var (
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
	Use:   "kiln",
	Short: "Kiln - agent-facing infrastructure for a fleet of FDM 3D printers",
	Long: `Kiln exposes a tool catalogue over a fleet of 3D printers: job
queueing and assignment, a safety gate for destructive operations,
print health monitoring, and failure recovery planning.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Kiln version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("data-dir", "./kiln-data", "Data directory for the job store")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(registerPrinterCmd)
	rootCmd.AddCommand(submitJobCmd)
	rootCmd.AddCommand(fleetStatusCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")
	cfg := config.Load()
	if logJSON {
		cfg.LogFormat = "json"
	}
	log.Init(cfg.LogConfig(logLevel))
}

// components bundles every long-lived piece wired together by serve and
// the one-shot CLI commands alike, so both paths build the fleet the
// same way.
type components struct {
	store      storage.Store
	bus        *events.Broker
	registry   *adapter.Registry
	gate       *safety.Gate
	orch       *orchestrator.Orchestrator
	monitor    *health.Monitor
	planner    *recovery.Planner
	dispatcher *dispatcher.Dispatcher
	cfg        config.Config
}

func buildComponents(dataDir string) (*components, error) {
	cfg := config.Load()

	store, err := storage.NewBoltStore(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open job store: %w", err)
	}

	bus := events.NewBroker(256)
	registry := adapter.NewRegistry()
	gate := safety.NewGate(cfg.Safety, store, bus)

	orch, err := orchestrator.NewOrchestrator(store, bus, nil)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to start orchestrator: %w", err)
	}

	monitor := health.NewMonitor(registry, bus)
	planner := recovery.NewPlanner(store, cfg.RecoveryMaxRetries)

	defaultPrinter := ""
	if cfg.Printer.Host != "" {
		defaultPrinter = "default"
		if err := orch.RegisterPrinter(&types.PrinterRecord{
			Label: defaultPrinter,
			Type:  types.AdapterType(cfg.Printer.Type),
			ConnectionParam: map[string]string{
				"host":    cfg.Printer.Host,
				"api_key": cfg.Printer.APIKey,
				"serial":  cfg.Printer.Serial,
			},
			Status:          types.PrinterOffline,
			SafetyProfileID: cfg.Printer.Model,
		}); err != nil {
			log.WithComponent("main").Warn().Msg("failed to pre-register default printer: " + err.Error())
		}
	}

	disp := dispatcher.New(registry, gate, store, bus, orch, monitor, planner, defaultPrinter)

	return &components{
		store:      store,
		bus:        bus,
		registry:   registry,
		gate:       gate,
		orch:       orch,
		monitor:    monitor,
		planner:    planner,
		dispatcher: disp,
		cfg:        cfg,
	}, nil
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Kiln fleet server",
	Long: `Starts the tool dispatcher's gRPC transport, the Prometheus
metrics endpoint, and the fleet collector, and blocks until interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dataDir, _ := rootCmd.PersistentFlags().GetString("data-dir")
		grpcAddr, _ := cmd.Flags().GetString("grpc-addr")
		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

		c, err := buildComponents(dataDir)
		if err != nil {
			return err
		}
		defer c.store.Close()

		metrics.SetVersion(Version)
		metrics.RegisterComponent("storage", true, "ready")
		metrics.RegisterComponent("orchestrator", true, "ready")

		collector := metrics.NewCollector(c.orch)
		collector.Start()
		defer collector.Stop()

		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			mux.Handle("/health", metrics.HealthHandler())
			mux.Handle("/ready", metrics.ReadyHandler())
			mux.Handle("/live", metrics.LivenessHandler())
			if err := http.ListenAndServe(metricsAddr, mux); err != nil {
				log.Errorf("metrics server error", err)
			}
		}()
		log.Info(fmt.Sprintf("metrics endpoint: http://%s/metrics", metricsAddr))

		grpcServer := dispatcher.NewGRPCServer(c.dispatcher)
		errCh := make(chan error, 1)
		go func() {
			if err := grpcServer.ListenAndServe(grpcAddr); err != nil {
				errCh <- err
			}
		}()
		log.Info(fmt.Sprintf("tool dispatcher grpc listening on %s", grpcAddr))

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		select {
		case <-sigCh:
			log.Info("shutting down")
		case err := <-errCh:
			log.Errorf("grpc server error", err)
		}

		grpcServer.Stop()
		return nil
	},
}

var registerPrinterCmd = &cobra.Command{
	Use:   "register-printer",
	Short: "Register a printer with the fleet",
	RunE: func(cmd *cobra.Command, args []string) error {
		dataDir, _ := rootCmd.PersistentFlags().GetString("data-dir")
		label, _ := cmd.Flags().GetString("label")
		printerType, _ := cmd.Flags().GetString("type")
		model, _ := cmd.Flags().GetString("model")

		c, err := buildComponents(dataDir)
		if err != nil {
			return err
		}
		defer c.store.Close()

		rec := &types.PrinterRecord{
			Label:           label,
			Type:            types.AdapterType(printerType),
			Status:          types.PrinterIdle,
			SafetyProfileID: model,
		}
		if err := c.orch.RegisterPrinter(rec); err != nil {
			return fmt.Errorf("failed to register printer: %w", err)
		}

		fmt.Printf("registered printer %q (%s, profile %s)\n", label, printerType, model)
		return nil
	},
}

var submitJobCmd = &cobra.Command{
	Use:   "submit-job",
	Short: "Submit a print job to the fleet queue",
	RunE: func(cmd *cobra.Command, args []string) error {
		dataDir, _ := rootCmd.PersistentFlags().GetString("data-dir")
		filePath, _ := cmd.Flags().GetString("file")
		priority, _ := cmd.Flags().GetInt("priority")
		preferred, _ := cmd.Flags().GetString("printer")

		c, err := buildComponents(dataDir)
		if err != nil {
			return err
		}
		defer c.store.Close()

		job, result, err := c.orch.SubmitAndAssign(filePath, "cli", priority, preferred, c.cfg.RecoveryMaxRetries+1)
		if err != nil {
			return fmt.Errorf("failed to submit job: %w", err)
		}

		fmt.Printf("job %s queued (status=%s)\n", job.ID, job.Status)
		if result.Assigned {
			fmt.Printf("assigned to %s\n", result.PrinterLabel)
		} else {
			fmt.Printf("no printer available yet: %s\n", result.Reason)
		}
		return nil
	},
}

var fleetStatusCmd = &cobra.Command{
	Use:   "fleet-status",
	Short: "Print a snapshot of fleet utilization",
	RunE: func(cmd *cobra.Command, args []string) error {
		dataDir, _ := rootCmd.PersistentFlags().GetString("data-dir")

		c, err := buildComponents(dataDir)
		if err != nil {
			return err
		}
		defer c.store.Close()

		u := c.orch.Utilization()
		fmt.Printf("printers: %d total, %d idle, %d busy, %d offline\n",
			u.TotalPrinters, u.IdlePrinters, u.BusyPrinters, u.OfflinePrinters)
		fmt.Printf("utilization: %.1f%%\n", u.UtilizationPct)

		jobs := c.orch.ListJobs()
		counts := make(map[types.JobStatus]int)
		for _, j := range jobs {
			counts[j.Status]++
		}
		fmt.Printf("jobs: %d total\n", len(jobs))
		for status, n := range counts {
			fmt.Printf("  %s: %d\n", status, n)
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().String("grpc-addr", "127.0.0.1:7070", "Address for the tool dispatcher gRPC service")
	serveCmd.Flags().String("metrics-addr", "127.0.0.1:9090", "Address for the Prometheus metrics endpoint")

	registerPrinterCmd.Flags().String("label", "", "Printer label (required)")
	registerPrinterCmd.Flags().String("type", "octoprint", "Adapter type (octoprint, moonraker, bambu, prusaconnect, serial)")
	registerPrinterCmd.Flags().String("model", "generic", "Safety-profile model identifier")
	_ = registerPrinterCmd.MarkFlagRequired("label")

	submitJobCmd.Flags().String("file", "", "Path to the g-code file to print (required)")
	submitJobCmd.Flags().Int("priority", 0, "Job priority, higher runs first")
	submitJobCmd.Flags().String("printer", "", "Preferred printer label")
	_ = submitJobCmd.MarkFlagRequired("file")
}
