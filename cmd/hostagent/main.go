package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"runtime"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/siegeup/hostagent/pkg/api"
	"github.com/siegeup/hostagent/pkg/buildstore"
	"github.com/siegeup/hostagent/pkg/config"
	"github.com/siegeup/hostagent/pkg/log"
	"github.com/siegeup/hostagent/pkg/logsink"
	"github.com/siegeup/hostagent/pkg/orchestrator"
	"github.com/siegeup/hostagent/pkg/reconciler"
	"github.com/siegeup/hostagent/pkg/security"
	"github.com/siegeup/hostagent/pkg/state"
	"github.com/siegeup/hostagent/pkg/supervisor"
	"github.com/siegeup/hostagent/pkg/types"
)

var (
	// Version information (set via ldflags during build)
	Version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "hostagent",
	Short: "SiegeUp host agent - per-host game server supervisor",
	Long: `The host agent reconciles a desired set of game-server instances
against the processes running on this machine, serves a secured control
API to the fleet orchestrator and stores uploaded build archives.`,
	Version: Version,
	RunE: func(cmd *cobra.Command, args []string) error {
		port, _ := cmd.Flags().GetInt("port")
		return run(port)
	},
}

func init() {
	rootCmd.Flags().Int("port", config.DefaultAPIPort, "HTTPS control API port")
}

func run(apiPort int) error {
	baseDir, err := config.BaseDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return fmt.Errorf("failed to create base directory: %w", err)
	}

	cfg, err := config.Load(baseDir)
	if err != nil {
		return err
	}

	log.Init(log.Config{
		Level:      log.Level(cfg.LogLevel),
		JSONOutput: cfg.LogJSON,
	})
	logger := log.WithComponent("main")
	logger.Info().Str("baseDir", baseDir).Str("version", Version).Msg("Host agent starting")

	store := state.NewStore(baseDir)
	if err := store.Load(); err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}

	builds, err := buildstore.NewStore(config.BuildsDir(baseDir))
	if err != nil {
		return err
	}

	sink, err := logsink.NewSink(config.LogsDir(baseDir))
	if err != nil {
		return err
	}

	super := supervisor.New(sink)
	recon := reconciler.New(store, super, builds, time.Duration(cfg.WatchIntervalMs)*time.Millisecond)

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "localhost"
	}

	var extraIPs []net.IP
	if ip, err := security.OutboundIP(); err == nil {
		extraIPs = append(extraIPs, ip)
	} else {
		logger.Warn().Err(err).Msg("Could not detect outbound address")
	}

	// Certificate files must be on disk before the listener and the
	// orchestrator registration start.
	cert, err := security.EnsureCertificate(baseDir, hostname, extraIPs)
	if err != nil {
		return fmt.Errorf("failed to prepare TLS certificate: %w", err)
	}

	commit := agentCommit()
	apiServer := api.NewServer(store, super, builds, sink, recon, commit)

	recon.Start()
	logger.Info().Msg("Reconciler started")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go orchestrator.NewClient(cfg.OrchestratorURL).Run(ctx, types.RegistrationInfo{
		Hostname: hostname,
		Port:     apiPort,
		Platform: normalizePlatform(),
		Commit:   commit,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := apiServer.Start(apiPort, cert); err != nil {
			errCh <- fmt.Errorf("API server error: %w", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("Shutting down")
	case err := <-errCh:
		recon.Stop()
		return err
	}

	recon.Stop()
	recon.StopAll()
	apiServer.Stop()
	logger.Info().Msg("Shutdown complete")
	return nil
}

// agentCommit returns the agent's own short VCS revision, resolved once at
// startup for the /status snapshot.
func agentCommit() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "unknown"
	}
	for _, setting := range info.Settings {
		if setting.Key == "vcs.revision" && len(setting.Value) >= 7 {
			return setting.Value[:7]
		}
	}
	return "unknown"
}

func normalizePlatform() string {
	if runtime.GOOS == "darwin" {
		return "macos"
	}
	return runtime.GOOS
}
