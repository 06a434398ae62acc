package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var clearIdleDays int

func init() {
	rootCmd.AddCommand(sessionCmd)
	sessionCmd.AddCommand(sessionListCmd, sessionStatsCmd, sessionClearCmd)
	sessionClearCmd.Flags().IntVar(&clearIdleDays, "idle-days", 0,
		"only clear sessions idle for at least this many days (0 clears all)")
}

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage cached channel sessions",
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all sessions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		resolver, err := newCLIResolver(ctx)
		if err != nil {
			return err
		}
		sessions, err := resolver.List(ctx)
		if err != nil {
			return fmt.Errorf("list sessions: %w", err)
		}
		if len(sessions) == 0 {
			fmt.Println("No sessions found.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "CHANNEL\tTHREAD\tMESSAGES\tLAST MESSAGE")
		for _, s := range sessions {
			last := "-"
			if !s.LastMessageAt.IsZero() {
				last = s.LastMessageAt.Format("2006-01-02 15:04:05")
			}
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", s.Channel, s.ThreadID, s.MessageCount, last)
		}
		return w.Flush()
	},
}

var sessionStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print aggregate session statistics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		resolver, err := newCLIResolver(ctx)
		if err != nil {
			return err
		}
		sessions, err := resolver.List(ctx)
		if err != nil {
			return fmt.Errorf("list sessions: %w", err)
		}

		total := 0
		var oldest time.Time
		for _, s := range sessions {
			total += s.MessageCount
			if !s.CreatedAt.IsZero() && (oldest.IsZero() || s.CreatedAt.Before(oldest)) {
				oldest = s.CreatedAt
			}
		}
		fmt.Fprintf(os.Stdout, "Sessions:       %d\n", len(sessions))
		fmt.Fprintf(os.Stdout, "Total messages: %d\n", total)
		if !oldest.IsZero() {
			fmt.Fprintf(os.Stdout, "Oldest session: %s\n", oldest.Format("2006-01-02 15:04:05"))
		}
		return nil
	},
}

var sessionClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Clear cached sessions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		resolver, err := newCLIResolver(ctx)
		if err != nil {
			return err
		}
		cleared, err := resolver.ClearIdle(ctx, time.Duration(clearIdleDays)*24*time.Hour)
		if err != nil {
			return fmt.Errorf("clear sessions: %w", err)
		}
		fmt.Fprintf(os.Stdout, "Cleared %d session(s).\n", cleared)
		return nil
	},
}
