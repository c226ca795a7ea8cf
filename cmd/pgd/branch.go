package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var branchCmd = &cobra.Command{
	Use:   "branch",
	Short: "Manage branches",
}

var startCmd = &cobra.Command{
	Use:   "start PROJECT/BRANCH",
	Short: "Start a branch's container",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		o, _, err := newEngine(cmd)
		if err != nil {
			return err
		}
		if err := o.StartBranch(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("✓ Branch started: %s\n", args[0])
		return nil
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop PROJECT/BRANCH",
	Short: "Stop a branch's container",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		o, _, err := newEngine(cmd)
		if err != nil {
			return err
		}
		if err := o.StopBranch(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("✓ Branch stopped: %s\n", args[0])
		return nil
	},
}

var restartCmd = &cobra.Command{
	Use:   "restart PROJECT/BRANCH",
	Short: "Restart a branch's container",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		o, _, err := newEngine(cmd)
		if err != nil {
			return err
		}
		if err := o.RestartBranch(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("✓ Branch restarted: %s\n", args[0])
		return nil
	},
}

func init() {
	branchCreateCmd.Flags().String("from", "", "Source branch (default: the project's primary branch)")
	branchCreateCmd.Flags().String("pitr", "", "Recovery target: ISO-8601 or \"<integer> <unit> [ago]\"")
	branchDeleteCmd.Flags().Bool("force", false, "Delete descendant branches too")
	branchSyncCmd.Flags().Bool("force", false, "Rebuild dependent branches too")

	branchCmd.AddCommand(branchCreateCmd, branchListCmd, branchGetCmd, branchDeleteCmd, branchSyncCmd, branchResetCmd)
}

var branchCreateCmd = &cobra.Command{
	Use:   "create PROJECT/BRANCH",
	Short: "Create a branch by cloning another branch's dataset",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		from, _ := cmd.Flags().GetString("from")
		pitrFlag, _ := cmd.Flags().GetString("pitr")

		var pitr *time.Time
		if pitrFlag != "" {
			t, err := parseRecoveryTarget(pitrFlag)
			if err != nil {
				return err
			}
			pitr = &t
		}

		o, _, err := newEngine(cmd)
		if err != nil {
			return err
		}
		branch, err := o.CreateBranch(cmd.Context(), args[0], from, pitr)
		if err != nil {
			return err
		}
		fmt.Printf("✓ Branch created: %s\n", branch.Name)
		fmt.Printf("  Port: %d\n", branch.Port)
		return nil
	},
}

var branchListCmd = &cobra.Command{
	Use:   "list [PROJECT]",
	Short: "List branches, optionally scoped to one project",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var project string
		if len(args) == 1 {
			project = args[0]
		}
		o, _, err := newEngine(cmd)
		if err != nil {
			return err
		}
		branches, err := o.ListBranches(cmd.Context(), project)
		if err != nil {
			return err
		}
		if len(branches) == 0 {
			fmt.Println("No branches found")
			return nil
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tSTATE\tPORT\tPRIMARY")
		for _, b := range branches {
			fmt.Fprintf(w, "%s\t%s\t%d\t%v\n", b.Name, b.State, b.Port, b.IsPrimary())
		}
		return w.Flush()
	},
}

var branchGetCmd = &cobra.Command{
	Use:   "get PROJECT/BRANCH",
	Short: "Show branch detail",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		o, _, err := newEngine(cmd)
		if err != nil {
			return err
		}
		b, err := o.GetBranch(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Branch: %s\n", b.Name)
		fmt.Printf("  State: %s\n", b.State)
		fmt.Printf("  Dataset: %s\n", b.DatasetName)
		fmt.Printf("  Container: %s\n", b.ContainerName)
		fmt.Printf("  Port: %d\n", b.Port)
		if b.SnapshotName != "" {
			fmt.Printf("  Origin snapshot: %s\n", b.SnapshotName)
		}
		fmt.Printf("  Created: %s\n", b.CreatedAt.Format("2006-01-02 15:04:05"))
		return nil
	},
}

var branchDeleteCmd = &cobra.Command{
	Use:   "delete PROJECT/BRANCH",
	Short: "Delete a branch",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")
		o, _, err := newEngine(cmd)
		if err != nil {
			return err
		}
		if err := o.DeleteBranch(cmd.Context(), args[0], force); err != nil {
			return err
		}
		fmt.Printf("✓ Branch deleted: %s\n", args[0])
		return nil
	},
}

var branchSyncCmd = &cobra.Command{
	Use:   "sync PROJECT/BRANCH",
	Short: "Rebuild a branch from a fresh snapshot of its parent",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")
		o, _, err := newEngine(cmd)
		if err != nil {
			return err
		}
		if err := o.SyncBranch(cmd.Context(), args[0], force); err != nil {
			return err
		}
		fmt.Printf("✓ Branch synced: %s\n", args[0])
		return nil
	},
}

var branchResetCmd = &cobra.Command{
	Use:   "reset PROJECT/BRANCH",
	Short: "Rebuild a branch from its original origin snapshot, discarding writes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		o, _, err := newEngine(cmd)
		if err != nil {
			return err
		}
		if err := o.ResetBranch(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("✓ Branch reset: %s\n", args[0])
		return nil
	},
}
