package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	sddaemon "github.com/coreos/go-systemd/v22/daemon"
	"github.com/spf13/cobra"

	"github.com/modoterra/nexus/internal/buildinfo"
	"github.com/modoterra/nexus/pkg/daemon"
	"github.com/modoterra/nexus/pkg/manifest"
	execprov "github.com/modoterra/nexus/pkg/providers/exec"
	"github.com/modoterra/nexus/pkg/providers/logs/filetail"
	"github.com/modoterra/nexus/pkg/providers/logs/journald"
	"github.com/modoterra/nexus/pkg/providers/systemd"
	"github.com/modoterra/nexus/pkg/repos"
)

var (
	manifestPath string
	listenAddr   string
	logLevel     string
	userBus      bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "nexusd",
	Short:        "Nexus service monitor daemon",
	Long:         "nexusd supervises the services declared in nexus.yaml and serves their status and logs over HTTP.",
	SilenceUsage: true,
	RunE:         run,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "nexusd %s (%s) built %s\n", buildinfo.Version, buildinfo.Commit, buildinfo.Date)
	},
}

func init() {
	rootCmd.Flags().StringVar(&manifestPath, "manifest", "nexus.yaml", "path to nexus.yaml")
	rootCmd.Flags().StringVar(&listenAddr, "listen", "", "listen address (overrides the manifest)")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "info", "log level: debug|info|warn|error")
	rootCmd.Flags().BoolVar(&userBus, "user", false, "manage systemd user units instead of system units")
	rootCmd.AddCommand(versionCmd)
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return 0, fmt.Errorf("invalid log level %q", s)
	}
	return level, nil
}

func run(_ *cobra.Command, _ []string) error {
	level, err := parseLevel(logLevel)
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	m, loadErr := manifest.Load(manifestPath)
	if loadErr != nil {
		logger.Warn("no manifest loaded", "path", manifestPath, "err", loadErr)
	}

	addr := manifest.DefaultListen
	if m != nil && m.Listen != "" {
		addr = m.Listen
	}
	if listenAddr != "" {
		addr = listenAddr
	}

	scanner := repos.NewScanner(nil, 0, logger)
	d := daemon.New(addr, scanner, logger)
	defer d.Shutdown()

	supervisor := daemon.NewSupervisor(ctx, logger)
	defer supervisor.StopAll()

	d.SetGlobalLog(supervisor)
	d.AddProvider(execprov.New(supervisor, logger))
	d.AddProvider(systemd.New(journald.New(userBus, logger), userBus, logger))
	d.AddProvider(filetail.New(logger))

	interval := manifest.DefaultPollInterval
	if m != nil {
		if err := d.ApplyManifest(m); err != nil {
			logger.Error("apply manifest", "path", manifestPath, "err", err)
		}
		if iv, err := m.Interval(); err == nil {
			interval = iv
		}
	}

	if err := d.WatchManifest(ctx, manifestPath); err != nil {
		logger.Warn("manifest hot reload disabled", "err", err)
	}

	go func() {
		if _, err := scanner.Refresh(ctx); err != nil {
			logger.Warn("initial repository scan", "err", err)
		}
	}()

	go daemon.NewPollLoop(d, interval, logger).Run(ctx)

	go func() {
		select {
		case <-d.Ready():
		case <-ctx.Done():
			return
		}
		if ok, err := sddaemon.SdNotify(false, sddaemon.SdNotifyReady); err != nil {
			logger.Warn("sd_notify", "err", err)
		} else if ok {
			logger.Debug("notified systemd")
		}
	}()

	logger.Info("starting nexusd", "version", buildinfo.Version, "addr", addr)
	start := time.Now()
	if err := d.Run(ctx); err != nil {
		logger.Error("daemon error", "err", err)
		return err
	}
	sddaemon.SdNotify(false, sddaemon.SdNotifyStopping)
	logger.Info("shutting down", "uptime", time.Since(start).Round(time.Second))
	return nil
}
