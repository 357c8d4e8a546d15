package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ecordell/optgen/helpers"
	"github.com/fatih/color"
	"github.com/gin-gonic/gin"
	"github.com/jzelinskie/cobrautil/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/openvirt/inventory-agent/internal/config"
	"github.com/openvirt/inventory-agent/internal/executor"
	"github.com/openvirt/inventory-agent/internal/handlers"
	"github.com/openvirt/inventory-agent/internal/models"
	"github.com/openvirt/inventory-agent/internal/server"
	"github.com/openvirt/inventory-agent/internal/sources"
	"github.com/openvirt/inventory-agent/internal/store"
	"github.com/openvirt/inventory-agent/internal/store/migrations"
	"github.com/openvirt/inventory-agent/pkg/subman"
)

// minimumInterval is the lowest reporting interval the agent accepts;
// shorter values are clamped to protect the destination service.
const minimumInterval = time.Minute

func NewRunCommand(cfg *config.Configuration) *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the inventory agent",
		Example: `  # Report every hour to the subscription-management service
  inventory-agent run --sources-file /etc/inventory-agent/sources.yaml --destination-url https://subs.example.com

  # Report once and exit
  inventory-agent run --sources-file sources.yaml --destination-url https://subs.example.com --oneshot

  # Collect once and print the inventory without sending it
  inventory-agent run --sources-file sources.yaml --print`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateConfiguration(cfg); err != nil {
				return err
			}

			zap.S().Infow("using configuration",
				"agent", helpers.Flatten(cfg.Agent.DebugMap()),
				"destination", helpers.Flatten(cfg.Destination.DebugMap()),
				"server", helpers.Flatten(cfg.Server.DebugMap()),
			)

			ctx := context.Background()
			printOnly := cfg.Agent.Print

			// init store; the run-status database is pointless for a
			// print-only invocation
			var st *store.Store
			if !printOnly {
				dbPath := filepath.Join(cfg.Agent.DataFolder, "agent.duckdb")
				if cfg.Agent.DataFolder == "" {
					dbPath = ":memory:"
					zap.S().Warn("data-folder not set, using in-memory run-status database (data will not persist)")
				}
				db, err := store.NewDB(dbPath)
				if err != nil {
					zap.S().Errorw("failed to initialize database", "error", err)
					return err
				}
				st = store.NewStore(db)
				defer st.Close()

				if err := migrations.Run(ctx, db); err != nil {
					zap.S().Errorw("failed to run migrations", "error", err)
					return err
				}
			}

			// init reporting client
			var dest executor.Destination
			if !printOnly {
				client, err := subman.NewClient(cfg.Destination.URL, cfg.Agent.ReporterID)
				if err != nil {
					return err
				}
				dest = client
			}

			var recorder executor.StatusRecorder
			if st != nil {
				recorder = st.RunStatus()
			}

			// init executor
			exec := executor.New(dest, recorder, executor.Options{
				Interval:      cfg.Agent.Interval,
				ThrottleFloor: cfg.Agent.ThrottleFloor,
				QueueSize:     cfg.Agent.QueueSize,
				Oneshot:       cfg.Agent.Oneshot,
				Print:         printOnly,
			})

			// SIGHUP reloads, SIGINT/SIGTERM terminate; both act on the
			// executor handle directly
			sigCh := make(chan os.Signal, 2)
			signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(sigCh)
			go func() {
				for sig := range sigCh {
					if sig == syscall.SIGHUP {
						exec.Reload()
						continue
					}
					zap.S().Infow("shutting down", "signal", sig.String())
					exec.Terminate()
				}
			}()

			// init status server
			if cfg.Server.Enabled && !printOnly {
				h := handlers.New(st)
				srv, err := server.NewServer(cfg, func(router *gin.RouterGroup) {
					handlers.RegisterHandlers(router, h)
				})
				if err != nil {
					zap.S().Errorw("failed to create http server", "error", err)
					return err
				}
				go func() {
					zap.S().Infof("Starting HTTP status server on port %d", cfg.Server.HTTPPort)
					if err := srv.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
						zap.S().Errorw("http server stopped", "error", err)
					}
				}()
				defer func() {
					stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
					defer cancel()
					srv.Stop(stopCtx)
				}()
			}

			// run until exit, rebuilding the source set after each reload
			for {
				specs, names, err := buildSources(cfg.Agent.SourcesFile)
				if err != nil {
					return err
				}
				if st != nil {
					if err := st.RunStatus().Init(ctx, names); err != nil {
						zap.S().Warnw("failed to initialize run status", "error", err)
					}
				}
				exec.SetSources(specs)

				printed, err := exec.Run(ctx)
				if errors.Is(err, executor.ErrReload) {
					zap.S().Info("reloading configuration")
					continue
				}
				if err != nil {
					zap.S().Errorw("agent terminated", "error", err)
					return err
				}
				if printOnly {
					return printReports(printed)
				}
				return nil
			}
		},
	}

	registerFlags(runCmd, cfg)

	return runCmd
}

// buildSources loads the sources file and instantiates a connector per
// config. A config whose connector cannot be built is skipped with an
// error log, matching the per-source isolation the rest of the pipeline
// provides.
func buildSources(path string) ([]executor.SourceSpec, []string, error) {
	configs, err := config.LoadSources(path)
	if err != nil {
		return nil, nil, err
	}

	var (
		specs []executor.SourceSpec
		names []string
	)
	for _, c := range configs {
		src, err := sources.New(c)
		if err != nil {
			zap.S().Errorw("unable to use source configuration", "source", c.Name, "error", err)
			continue
		}
		zap.S().Infow("using source", "source", c.Name, "type", c.Type)
		specs = append(specs, executor.SourceSpec{Config: c, Collector: src})
		names = append(names, c.Name)
	}
	if len(specs) == 0 {
		return nil, nil, errors.New("no usable source configuration found")
	}
	return specs, names, nil
}

func printReports(reports map[string]models.Report) error {
	out := make(map[string]any, len(reports))
	for name, report := range reports {
		switch r := report.(type) {
		case *models.HostGuestReport:
			out[name] = map[string]any{"hypervisors": r.Hypervisors()}
		case *models.DomainListReport:
			out[name] = map[string]any{"guests": r.Guests()}
		}
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func registerFlags(cmd *cobra.Command, config *config.Configuration) {
	nfs := cobrautil.NewNamedFlagSets(cmd)

	agentFlagSet := nfs.FlagSet(color.New(color.FgBlue, color.Bold).Sprint("Agent"))
	registerAgentFlags(agentFlagSet, config)

	destinationFlagSet := nfs.FlagSet(color.New(color.FgBlue, color.Bold).Sprint("Destination"))
	registerDestinationFlags(destinationFlagSet, config)

	serverFlagSet := nfs.FlagSet(color.New(color.FgBlue, color.Bold).Sprint("Server"))
	registerServerFlags(serverFlagSet, config)

	nfs.AddFlagSets(cmd)
}

func validateConfiguration(cfg *config.Configuration) error {
	if cfg.Agent.SourcesFile == "" {
		return errors.New("sources-file must be set")
	}

	if cfg.Agent.Print {
		cfg.Agent.Oneshot = true
	} else if cfg.Destination.URL == "" {
		return errors.New("destination-url must be set unless running with --print")
	}

	if cfg.Agent.Interval < minimumInterval && !cfg.Agent.Oneshot {
		zap.S().Warnw("interval is below the minimum, clamping", "interval", cfg.Agent.Interval, "minimum", minimumInterval)
		cfg.Agent.Interval = minimumInterval
	}

	if cfg.Agent.QueueSize < 1 {
		return fmt.Errorf("invalid queue-size %d: must be at least 1", cfg.Agent.QueueSize)
	}

	if cfg.Server.HTTPPort < 1 || cfg.Server.HTTPPort > 65535 {
		return fmt.Errorf("invalid server-http-port %d: must be between 1 and 65535", cfg.Server.HTTPPort)
	}

	return nil
}

func registerAgentFlags(flagSet *pflag.FlagSet, config *config.Configuration) {
	flagSet.StringVar(&config.Agent.SourcesFile, "sources-file", config.Agent.SourcesFile, "Path to the YAML file defining the inventory sources")
	flagSet.DurationVar(&config.Agent.Interval, "interval", config.Agent.Interval, "Steady-state reporting interval")
	flagSet.BoolVar(&config.Agent.Oneshot, "oneshot", config.Agent.Oneshot, "Report once per source and exit")
	flagSet.BoolVar(&config.Agent.Print, "print", config.Agent.Print, "Collect once and print the inventory instead of sending it (implies --oneshot)")
	flagSet.StringVar(&config.Agent.ReporterID, "reporter-id", config.Agent.ReporterID, "Identity reported to the destination; generated from the hostname when empty")
	flagSet.IntVar(&config.Agent.QueueSize, "queue-size", config.Agent.QueueSize, "Report channel capacity")
	flagSet.DurationVar(&config.Agent.ThrottleFloor, "throttle-floor", config.Agent.ThrottleFloor, "Minimum backoff after a rate-limited send")
	flagSet.StringVar(&config.Agent.DataFolder, "data-folder", config.Agent.DataFolder, "Path to the persistent data folder")
}

func registerDestinationFlags(flagSet *pflag.FlagSet, config *config.Configuration) {
	flagSet.StringVar(&config.Destination.URL, "destination-url", config.Destination.URL, "URL of the subscription-management service")
}

func registerServerFlags(flagSet *pflag.FlagSet, config *config.Configuration) {
	flagSet.BoolVar(&config.Server.Enabled, "server-enabled", config.Server.Enabled, "Enable the HTTP status server")
	flagSet.IntVar(&config.Server.HTTPPort, "server-http-port", config.Server.HTTPPort, "Port on which the HTTP status server is listening")
}
