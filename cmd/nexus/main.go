package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/modoterra/nexus/internal/buildinfo"
	"github.com/modoterra/nexus/pkg/client"
	"github.com/modoterra/nexus/pkg/core"
	"github.com/modoterra/nexus/pkg/daemon/service"
	"github.com/modoterra/nexus/pkg/manifest"
	"github.com/modoterra/nexus/pkg/monitor"
	"github.com/modoterra/nexus/pkg/transport/httpapi"
	"github.com/modoterra/nexus/pkg/tui/chat"
	tuimodel "github.com/modoterra/nexus/pkg/tui/model"
)

var (
	addr     string
	interval time.Duration
	logFile  string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "nexus",
	Short:        "Live service log monitor",
	Long:         "Nexus follows the logs of the services managed by nexusd and lets you start, stop and restart them.",
	SilenceUsage: true,
	RunE:         runTUI,
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func init() {
	rootCmd.PersistentFlags().StringVar(&addr, "addr", envOr("NEXUS_ADDR", client.DefaultAddr), "daemon address")
	rootCmd.PersistentFlags().DurationVar(&interval, "interval", monitor.DefaultInterval, "log polling interval")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "write client logs to this file")

	rootCmd.AddCommand(pingCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(logsCmd)
	rootCmd.AddCommand(servicesCmd)
	rootCmd.AddCommand(reposCmd)
	rootCmd.AddCommand(refreshCmd)
	rootCmd.AddCommand(manifestCmd)
	rootCmd.AddCommand(serviceCmd)
	for _, action := range []string{httpapi.ActionStart, httpapi.ActionStop, httpapi.ActionRestart} {
		rootCmd.AddCommand(newActionCmd(action))
	}
}

func newClient() *client.Client {
	return client.New(addr, client.DefaultTimeout)
}

// tuiLogger keeps log output off the screen while a TUI is running.
func tuiLogger() (*slog.Logger, func(), error) {
	if logFile == "" {
		return slog.New(slog.NewTextHandler(io.Discard, nil)), func() {}, nil
	}
	f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	logger := slog.New(slog.NewTextHandler(f, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return logger, func() { f.Close() }, nil
}

// --- Root: TUI ---

func runTUI(_ *cobra.Command, _ []string) error {
	logger, closeLog, err := tuiLogger()
	if err != nil {
		return err
	}
	defer closeLog()

	c := newClient()
	ensureDaemon(c)
	return tuimodel.Run(c, c, interval, logger)
}

func ensureDaemon(c *client.Client) {
	ping := func() bool {
		ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
		defer cancel()
		_, err := c.Ping(ctx)
		return err == nil
	}
	if ping() {
		return
	}
	cmd := exec.Command("nexusd", "--listen", strings.TrimPrefix(c.BaseURL(), "http://"))
	if err := cmd.Start(); err != nil {
		fmt.Fprintln(os.Stderr, "warning: could not start daemon:", err)
		return
	}
	for range 30 {
		if ping() {
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	fmt.Fprintln(os.Stderr, "warning: daemon did not come up, continuing anyway")
}

// --- Ping ---

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check if daemon is running",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		pong, err := newClient().Ping(ctx)
		if err != nil {
			if client.IsUnreachable(err) {
				return fmt.Errorf("cannot connect to daemon at %s: %w", addr, err)
			}
			return err
		}
		if pong.Pong {
			fmt.Fprintf(cmd.OutOrStdout(), "pong ✓ (nexusd %s)\n", pong.Version)
		}
		return nil
	},
}

// --- Version ---

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "nexus %s (%s) built %s\n", buildinfo.Version, buildinfo.Commit, buildinfo.Date)
	},
}

// --- Daemon ---

var daemonManifest string

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Start daemon in foreground (for debugging)",
	Long:  "Normally the TUI auto-spawns the daemon. Use this to run it manually.",
	RunE: func(_ *cobra.Command, _ []string) error {
		args := []string{"--listen", strings.TrimPrefix(newClient().BaseURL(), "http://")}
		if daemonManifest != "" {
			args = append(args, "--manifest", daemonManifest)
		}
		cmd := exec.Command("nexusd", args...)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		return cmd.Run()
	},
}

func init() {
	daemonCmd.Flags().StringVar(&daemonManifest, "manifest", "", "path to nexus.yaml")
}

// --- Chat ---

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with the Nexus assistant",
	RunE: func(_ *cobra.Command, _ []string) error {
		logger, closeLog, err := tuiLogger()
		if err != nil {
			return err
		}
		defer closeLog()
		return chat.Run(newClient(), logger)
	},
}

// --- Services ---

var (
	servicesJSON  bool
	servicesGroup string
)

var servicesCmd = &cobra.Command{
	Use:     "services",
	Aliases: []string{"status"},
	Short:   "Show status of all managed services",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), client.DefaultTimeout)
		defer cancel()

		items, err := newClient().Services(ctx)
		if err != nil {
			return err
		}
		items = filterGroup(items, servicesGroup)
		return printServices(cmd.OutOrStdout(), items, servicesJSON)
	},
}

func init() {
	servicesCmd.Flags().BoolVar(&servicesJSON, "json", false, "output as JSON")
	servicesCmd.Flags().StringVar(&servicesGroup, "group", "", "filter by group name")
}

func filterGroup(items []core.Item, group string) []core.Item {
	if group == "" {
		return items
	}
	var filtered []core.Item
	for _, item := range items {
		if item.Group == group {
			filtered = append(filtered, item)
		}
	}
	return filtered
}

func printServices(w io.Writer, items []core.Item, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(items)
	}
	if len(items) == 0 {
		fmt.Fprintln(w, "no services")
		return nil
	}
	fmt.Fprintf(w, "%-20s %-8s %-11s %-8s %s\n", "NAME", "KIND", "STATUS", "UPTIME", "PATH")
	for _, item := range items {
		uptime := "-"
		if item.UptimeSec > 0 {
			uptime = (time.Duration(item.UptimeSec) * time.Second).String()
		}
		fmt.Fprintf(w, "%-20s %-8s %-11s %-8s %s\n", item.Name, item.Kind, item.Status, uptime, item.Path)
	}
	return nil
}

// --- Repos ---

var reposCmd = &cobra.Command{
	Use:   "repos",
	Short: "List git repositories found by the last scan",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), client.DefaultTimeout)
		defer cancel()

		list, err := newClient().Repos(ctx)
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		if len(list) == 0 {
			fmt.Fprintln(w, "no repositories")
			return nil
		}
		for _, r := range list {
			fmt.Fprintf(w, "%-24s %-16s %-12s %s\n", r.Name, r.Branch, r.Commit, r.Path)
		}
		return nil
	},
}

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Rescan repository roots",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		n, err := newClient().RefreshRepos(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "repositories refreshed (%d)\n", n)
		return nil
	},
}

// --- Start / Stop / Restart ---

func newActionCmd(action string) *cobra.Command {
	var group string
	cmd := &cobra.Command{
		Use:   action + " [name]",
		Short: strings.ToUpper(action[:1]) + action[1:] + " a service or every service in a group",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			switch {
			case group != "":
				return doGroupAction(cmd.OutOrStdout(), group, action)
			case len(args) == 1:
				return doAction(cmd.OutOrStdout(), core.ProcessID(args[0]), action)
			default:
				return errors.New("a service name or --group is required")
			}
		},
	}
	cmd.Flags().StringVar(&group, "group", "", "act on every service in this group")
	return cmd
}

func doAction(w io.Writer, pid core.ProcessID, action string) error {
	ctx, cancel := context.WithTimeout(context.Background(), client.DefaultTimeout)
	defer cancel()

	if err := newClient().Action(ctx, pid, action); err != nil {
		return err
	}
	fmt.Fprintf(w, "%s → %s ✓\n", action, pid)
	return nil
}

func doGroupAction(w io.Writer, group, action string) error {
	ctx, cancel := context.WithTimeout(context.Background(), client.DefaultTimeout)
	defer cancel()

	items, err := newClient().Services(ctx)
	if err != nil {
		return err
	}
	matched := filterGroup(items, group)
	if len(matched) == 0 {
		return fmt.Errorf("no services in group %q", group)
	}

	var errs []error
	for _, item := range matched {
		if err := doAction(w, item.ID(), action); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", item.Name, err))
		}
	}
	return errors.Join(errs...)
}

// --- Manifest ---

var manifestCmd = &cobra.Command{
	Use:   "manifest",
	Short: "Manage nexus.yaml manifest",
}

var manifestValidateCmd = &cobra.Command{
	Use:   "validate [file]",
	Short: "Validate a nexus.yaml manifest",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "nexus.yaml"
		if len(args) > 0 {
			path = args[0]
		}

		m, err := manifest.Load(path)
		if err != nil {
			return err
		}

		errs := manifest.Validate(m)
		if len(errs) == 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "%s: valid (%d services)\n", path, len(m.Services))
			return nil
		}

		fmt.Fprintf(cmd.ErrOrStderr(), "%s: %d error(s)\n", path, len(errs))
		for _, e := range errs {
			fmt.Fprintf(cmd.ErrOrStderr(), "  • %s\n", e)
		}
		return fmt.Errorf("%s is invalid", path)
	},
}

var manifestFmtCmd = &cobra.Command{
	Use:   "fmt [file]",
	Short: "Rewrite a nexus.yaml manifest in canonical form",
	Long:  "Rewrites the manifest with services sorted by name and fields in a fixed order. ${root} references and omitted defaults are kept as written.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "nexus.yaml"
		if len(args) > 0 {
			path = args[0]
		}

		m, err := manifest.Load(path)
		if err != nil {
			return err
		}
		if errs := manifest.Validate(m); len(errs) > 0 {
			return fmt.Errorf("%s is invalid: %w", path, errors.Join(errs...))
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		raw, err := manifest.Decode(data)
		if err != nil {
			return err
		}
		if err := manifest.Save(raw, path); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: formatted\n", path)
		return nil
	},
}

func init() {
	manifestCmd.AddCommand(manifestValidateCmd, manifestFmtCmd)
}

// --- Service ---

var serviceCmd = &cobra.Command{
	Use:   "service",
	Short: "Manage the nexusd systemd user service",
}

var serviceManifest string

var serviceInstallCmd = &cobra.Command{
	Use:   "install",
	Short: "Install and start nexusd as a systemd user service",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := service.Install(serviceManifest); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "nexusd service installed ✓")
		return nil
	},
}

var serviceUninstallCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "Stop and remove the nexusd systemd user service",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := service.Uninstall(); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "nexusd service removed ✓")
		return nil
	},
}

var serviceStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show nexusd service status",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintln(cmd.OutOrStdout(), service.Status(newClient().BaseURL()))
	},
}

func init() {
	serviceInstallCmd.Flags().StringVar(&serviceManifest, "manifest", "nexus.yaml", "manifest served by the installed daemon")
	serviceCmd.AddCommand(serviceInstallCmd)
	serviceCmd.AddCommand(serviceUninstallCmd)
	serviceCmd.AddCommand(serviceStatusCmd)
}
