package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Manage point-in-time snapshots",
}

func init() {
	snapshotCreateCmd.Flags().String("label", "", "Snapshot label (default: snap-<timestamp>)")
	snapshotCleanupCmd.Flags().String("scope", "", "Restrict to one branch (default: every branch)")
	snapshotCleanupCmd.Flags().Int("days", 7, "Remove snapshots older than this many days")
	snapshotCleanupCmd.Flags().Bool("dry-run", false, "Report what would be removed without removing it")

	snapshotCmd.AddCommand(snapshotCreateCmd, snapshotListCmd, snapshotDeleteCmd, snapshotCleanupCmd)
}

var snapshotCreateCmd = &cobra.Command{
	Use:   "create PROJECT/BRANCH",
	Short: "Checkpoint and snapshot a branch's dataset",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		label, _ := cmd.Flags().GetString("label")
		o, _, err := newEngine(cmd)
		if err != nil {
			return err
		}
		snap, err := o.CreateSnapshot(cmd.Context(), args[0], label)
		if err != nil {
			return err
		}
		fmt.Printf("✓ Snapshot created: %s\n", snap.Reference)
		return nil
	},
}

var snapshotListCmd = &cobra.Command{
	Use:   "list [PROJECT/BRANCH]",
	Short: "List snapshots, optionally scoped to one branch",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var scope string
		if len(args) == 1 {
			scope = args[0]
		}
		o, _, err := newEngine(cmd)
		if err != nil {
			return err
		}
		snaps, err := o.ListSnapshots(cmd.Context(), scope)
		if err != nil {
			return err
		}
		if len(snaps) == 0 {
			fmt.Println("No snapshots found")
			return nil
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tBRANCH\tREFERENCE\tCREATED")
		for _, s := range snaps {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", s.ID, s.BranchName, s.Reference, s.CreatedAt.Format("2006-01-02 15:04:05"))
		}
		return w.Flush()
	},
}

var snapshotDeleteCmd = &cobra.Command{
	Use:   "delete ID",
	Short: "Delete a snapshot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		o, _, err := newEngine(cmd)
		if err != nil {
			return err
		}
		if err := o.DeleteSnapshot(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("✓ Snapshot deleted: %s\n", args[0])
		return nil
	},
}

var snapshotCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove snapshots older than a retention window",
	RunE: func(cmd *cobra.Command, args []string) error {
		scope, _ := cmd.Flags().GetString("scope")
		days, _ := cmd.Flags().GetInt("days")
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		o, _, err := newEngine(cmd)
		if err != nil {
			return err
		}
		removed, err := o.CleanupSnapshots(cmd.Context(), scope, days, dryRun)
		if err != nil {
			return err
		}
		if dryRun {
			fmt.Printf("Would remove %d snapshot(s)\n", removed)
		} else {
			fmt.Printf("✓ Removed %d snapshot(s)\n", removed)
		}
		return nil
	},
}
