package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var walCmd = &cobra.Command{
	Use:   "wal",
	Short: "Inspect and prune WAL archives",
}

func init() {
	walCleanupCmd.Flags().Int("days", 0, "Retention in days (default: the engine's configured retention)")
	walCmd.AddCommand(walInfoCmd, walCleanupCmd)
}

var walInfoCmd = &cobra.Command{
	Use:   "info PROJECT/BRANCH",
	Short: "Report archive statistics and integrity gaps for a branch",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		o, _, err := newEngine(cmd)
		if err != nil {
			return err
		}
		report, err := o.WALInfo(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Segments: %d\n", report.Info.FileCount)
		fmt.Printf("Total bytes: %d\n", report.Info.TotalBytes)
		if !report.Info.OldestTime.IsZero() {
			fmt.Printf("Oldest: %s (%s)\n", report.Info.OldestSegment, report.Info.OldestTime.Format("2006-01-02 15:04:05"))
			fmt.Printf("Newest: %s (%s)\n", report.Info.NewestSegment, report.Info.NewestTime.Format("2006-01-02 15:04:05"))
		}
		if len(report.Gaps) == 0 {
			fmt.Println("No gaps detected")
		} else {
			fmt.Printf("Gaps detected (%d):\n", len(report.Gaps))
			for _, g := range report.Gaps {
				fmt.Printf("  %s\n", g)
			}
		}
		return nil
	},
}

var walCleanupCmd = &cobra.Command{
	Use:   "cleanup PROJECT/BRANCH",
	Short: "Unlink WAL segments older than a retention window",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		days, _ := cmd.Flags().GetInt("days")
		o, _, err := newEngine(cmd)
		if err != nil {
			return err
		}
		removed, err := o.CleanupWAL(cmd.Context(), args[0], days)
		if err != nil {
			return err
		}
		fmt.Printf("✓ Removed %d WAL segment(s)\n", removed)
		return nil
	},
}
