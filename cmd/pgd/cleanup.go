package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cleanupCmd.Flags().Bool("dry-run", false, "Report orphans without reconciling them")
	cleanupCmd.Flags().Bool("force", false, "Destroy orphan datasets, remove orphan containers and purge vanished-container branch records")
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Reconcile catalog state against the storage pool and container runtime",
	RunE: func(cmd *cobra.Command, args []string) error {
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		force, _ := cmd.Flags().GetBool("force")
		o, _, err := newEngine(cmd)
		if err != nil {
			return err
		}
		report, err := o.Cleanup(cmd.Context(), dryRun, force)
		if err != nil {
			return err
		}
		if len(report.OrphanDatasets) == 0 && len(report.OrphanContainers) == 0 && len(report.DanglingBranches) == 0 {
			fmt.Println("No orphans found")
			return nil
		}
		for _, d := range report.OrphanDatasets {
			fmt.Printf("orphan dataset: %s\n", d)
		}
		for _, c := range report.OrphanContainers {
			fmt.Printf("orphan container: %s\n", c)
		}
		for _, b := range report.DanglingBranches {
			fmt.Printf("dangling catalog row: %s\n", b)
		}
		return nil
	},
}
