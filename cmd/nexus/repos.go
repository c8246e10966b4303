package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/modoterra/nexus/pkg/client"
)

// commitTimeout covers a push over a slow link.
const commitTimeout = 2 * time.Minute

var (
	repoLogLines  int
	commitMessage string
)

var repoStatusCmd = &cobra.Command{
	Use:   "status <repo>",
	Short: "Show uncommitted changes of a repository",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), client.DefaultTimeout)
		defer cancel()

		changes, err := newClient().RepoChanges(ctx, args[0])
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		if len(changes) == 0 {
			fmt.Fprintln(w, "working tree clean")
			return nil
		}
		for _, c := range changes {
			fmt.Fprintf(w, "%-10s %s\n", c.Status, c.Path)
		}
		return nil
	},
}

var repoLogCmd = &cobra.Command{
	Use:   "log <repo>",
	Short: "Show recent commits of a repository",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), client.DefaultTimeout)
		defer cancel()

		commits, err := newClient().RepoHistory(ctx, args[0], repoLogLines)
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		for _, c := range commits {
			fmt.Fprintf(w, "%s  %s  %-16s %s\n", c.Hash, c.Date.Local().Format("2006-01-02 15:04"), c.Author, c.Message)
		}
		return nil
	},
}

var repoCommitCmd = &cobra.Command{
	Use:   "commit <repo>",
	Short: "Stage, commit and push every change of a repository",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if commitMessage == "" {
			return errors.New("a commit message is required (-m)")
		}
		ctx, cancel := context.WithTimeout(context.Background(), commitTimeout)
		defer cancel()

		res, err := client.New(addr, commitTimeout).Commit(ctx, args[0], commitMessage)
		if err != nil {
			if res.Hash != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "committed %s\n", res.Hash)
			}
			return err
		}
		state := "not pushed (no origin)"
		if res.Pushed {
			state = "pushed"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "committed %s, %s\n%s\n", res.Hash, state, res.Message)
		return nil
	},
}

func init() {
	repoLogCmd.Flags().IntVarP(&repoLogLines, "lines", "n", 0, "number of commits (daemon default when 0)")
	repoCommitCmd.Flags().StringVarP(&commitMessage, "message", "m", "", "commit message")
	reposCmd.AddCommand(repoStatusCmd, repoLogCmd, repoCommitCmd)
}
