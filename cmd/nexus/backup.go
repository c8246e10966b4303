package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/modoterra/nexus/pkg/backup"
	"github.com/modoterra/nexus/pkg/client"
	"github.com/modoterra/nexus/pkg/transport/httpapi"
)

// backupTimeout covers archiving or unpacking a large tree.
const backupTimeout = 30 * time.Minute

var (
	backupSource string
	backupType   string
	backupParent string
	backupTags   map[string]string
	backupTarget string
	backupJSON   bool

	backupLogProject string
	backupLogID      string
	backupLogLevel   string
	backupLogLimit   int
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Create, inspect and restore project backups",
}

func slowClient() *client.Client {
	return client.New(addr, backupTimeout)
}

var backupCreateCmd = &cobra.Command{
	Use:   "create <project>",
	Short: "Back up a project (the scanned repository of that name unless --source is set)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), backupTimeout)
		defer cancel()

		md, err := slowClient().CreateBackup(ctx, httpapi.BackupCreateRequest{
			Project: args[0],
			Source:  backupSource,
			Type:    backup.Type(backupType),
			Parent:  backupParent,
			Tags:    backupTags,
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "created %s (%d files, %s)\n", md.ID, md.Files, size(md.SizeBytes))
		return nil
	},
}

var backupRestoreCmd = &cobra.Command{
	Use:   "restore <project> <id>",
	Short: "Restore a backup over its source directory or --target",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), backupTimeout)
		defer cancel()

		md, err := slowClient().RestoreBackup(ctx, args[0], args[1], backupTarget)
		if err != nil {
			return err
		}
		target := backupTarget
		if target == "" {
			target = md.Source
		}
		fmt.Fprintf(cmd.OutOrStdout(), "restored %s to %s\n", md.ID, target)
		return nil
	},
}

var backupListCmd = &cobra.Command{
	Use:   "list <project>",
	Short: "List the backups of a project, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), client.DefaultTimeout)
		defer cancel()

		list, err := newClient().Backups(ctx, args[0])
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		if backupJSON {
			return printJSON(w, list)
		}
		if len(list) == 0 {
			fmt.Fprintln(w, "no backups")
			return nil
		}
		fmt.Fprintf(w, "%-40s %-12s %-10s %-19s %6s %s\n", "ID", "TYPE", "STATUS", "CREATED", "FILES", "SIZE")
		for _, md := range list {
			fmt.Fprintf(w, "%-40s %-12s %-10s %-19s %6d %s\n",
				md.ID, md.Type, md.Status, md.CreatedAt.Local().Format(time.DateTime), md.Files, size(md.SizeBytes))
		}
		return nil
	},
}

var backupInfoCmd = &cobra.Command{
	Use:   "info <project> <id>",
	Short: "Show the metadata of a backup",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), client.DefaultTimeout)
		defer cancel()

		md, err := newClient().BackupInfo(ctx, args[0], args[1])
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), md)
	},
}

var backupVerifyCmd = &cobra.Command{
	Use:   "verify <project> <id>",
	Short: "Check a backup archive against its checksum",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), backupTimeout)
		defer cancel()

		md, err := slowClient().ValidateBackup(ctx, args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (sha256 %s)\n", md.ID, md.Checksum)
		return nil
	},
}

var backupDeleteCmd = &cobra.Command{
	Use:   "delete <project> <id>",
	Short: "Delete a backup",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), client.DefaultTimeout)
		defer cancel()

		if err := newClient().DeleteBackup(ctx, args[0], args[1]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[1])
		return nil
	},
}

var backupLogsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Show the backup journal, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), client.DefaultTimeout)
		defer cancel()

		entries, err := newClient().BackupLogs(ctx, backup.Filter{
			Project:  backupLogProject,
			BackupID: backupLogID,
			Level:    backup.Level(backupLogLevel),
			Limit:    backupLogLimit,
		})
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		for _, e := range entries {
			line := fmt.Sprintf("%s %-7s %-10s %-8s %-9s %s", e.Time.Local().Format(time.DateTime), e.Level, e.Project, e.Action, e.Status, e.BackupID)
			if e.Error != "" {
				line += ": " + e.Error
			}
			fmt.Fprintln(w, line)
		}
		return nil
	},
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// size formats a byte count with a binary unit.
func size(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func init() {
	backupCreateCmd.Flags().StringVar(&backupSource, "source", "", "directory to back up")
	backupCreateCmd.Flags().StringVar(&backupType, "type", string(backup.TypeFull), "full, incremental, snapshot or checkpoint")
	backupCreateCmd.Flags().StringVar(&backupParent, "parent", "", "parent of an incremental backup (newest when empty)")
	backupCreateCmd.Flags().StringToStringVar(&backupTags, "tag", nil, "tag as key=value (repeatable)")
	backupRestoreCmd.Flags().StringVar(&backupTarget, "target", "", "restore into this directory instead of the source")
	backupListCmd.Flags().BoolVar(&backupJSON, "json", false, "output as JSON")

	backupLogsCmd.Flags().StringVar(&backupLogProject, "project", "", "only this project")
	backupLogsCmd.Flags().StringVar(&backupLogID, "id", "", "only this backup")
	backupLogsCmd.Flags().StringVar(&backupLogLevel, "level", "", "only this level (debug, info, warning, error)")
	backupLogsCmd.Flags().IntVarP(&backupLogLimit, "lines", "n", 50, "maximum entries")

	backupCmd.AddCommand(backupCreateCmd, backupRestoreCmd, backupListCmd, backupInfoCmd,
		backupVerifyCmd, backupDeleteCmd, backupLogsCmd)
	rootCmd.AddCommand(backupCmd)
}
