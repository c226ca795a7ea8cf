package main

import (
	"fmt"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/cuemby/pgd/pkg/types"
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Push, pull and manage branch backups",
}

func init() {
	backupInitCmd.Flags().String("repo-dir", "", "Directory for the local content-addressed repository (required)")
	backupInitCmd.Flags().String("config", "", "Path to write the repository config document (default: <repo-dir>/backup.yaml)")
	backupInitCmd.Flags().String("endpoint", "", "Remote object-store endpoint (recorded for a future remote-backed repository)")
	backupInitCmd.Flags().String("bucket", "", "Remote object-store bucket")
	backupInitCmd.Flags().String("access-key", "", "Remote object-store access key")
	backupInitCmd.Flags().String("secret-key", "", "Remote object-store secret key")

	backupPushCmd.Flags().Bool("with-wal", false, "Also push the branch's WAL archive tree")
	backupPullCmd.Flags().String("snapshot", "", "Origin snapshot reference the entry was tagged with at push time (required)")
	backupPullCmd.Flags().Bool("with-wal", false, "Also pull the branch's WAL archive tree")
	backupCleanupCmd.Flags().Int("days", 30, "Remove backup entries older than this many days")

	backupCmd.AddCommand(backupInitCmd, backupPushCmd, backupPullCmd, backupListCmd, backupCleanupCmd)
}

var backupInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the backup repository",
	RunE: func(cmd *cobra.Command, args []string) error {
		repoDir, _ := cmd.Flags().GetString("repo-dir")
		configPath, _ := cmd.Flags().GetString("config")
		if repoDir == "" {
			return fmt.Errorf("--repo-dir is required")
		}
		if configPath == "" {
			configPath = filepath.Join(repoDir, "backup.yaml")
		}
		endpoint, _ := cmd.Flags().GetString("endpoint")
		bucket, _ := cmd.Flags().GetString("bucket")
		accessKey, _ := cmd.Flags().GetString("access-key")
		secretKey, _ := cmd.Flags().GetString("secret-key")

		o, _, err := newEngine(cmd)
		if err != nil {
			return err
		}
		cfg := &types.BackupConfig{
			Endpoint:         endpoint,
			Bucket:           bucket,
			AccessKey:        accessKey,
			SecretKey:        secretKey,
			RepositoryPrefix: repoDir,
			LocalConfigPath:  configPath,
		}
		if err := o.InitBackup(cmd.Context(), cfg); err != nil {
			return err
		}
		fmt.Printf("✓ Backup repository initialized at %s\n", repoDir)
		return nil
	},
}

var backupPushCmd = &cobra.Command{
	Use:   "push PROJECT/BRANCH",
	Short: "Push a branch's current state to the backup repository",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		withWAL, _ := cmd.Flags().GetBool("with-wal")
		o, _, err := newEngine(cmd)
		if err != nil {
			return err
		}
		entries, err := o.PushBackup(cmd.Context(), args[0], withWAL)
		if err != nil {
			return err
		}
		for _, e := range entries {
			fmt.Printf("✓ Pushed %s (%d bytes, digest %s)\n", e.Tag, e.Size, e.Digest[:12])
		}
		return nil
	},
}

var backupPullCmd = &cobra.Command{
	Use:   "pull PROJECT/BRANCH",
	Short: "Pull a tagged snapshot into a new branch",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		snapshot, _ := cmd.Flags().GetString("snapshot")
		withWAL, _ := cmd.Flags().GetBool("with-wal")
		if snapshot == "" {
			return fmt.Errorf("--snapshot is required")
		}
		o, _, err := newEngine(cmd)
		if err != nil {
			return err
		}
		if err := o.PullBackup(cmd.Context(), args[0], snapshot, withWAL); err != nil {
			return err
		}
		fmt.Printf("✓ Branch restored from backup: %s\n", args[0])
		return nil
	},
}

var backupListCmd = &cobra.Command{
	Use:   "list",
	Short: "List entries in the backup repository",
	RunE: func(cmd *cobra.Command, args []string) error {
		o, _, err := newEngine(cmd)
		if err != nil {
			return err
		}
		entries, err := o.ListBackups(cmd.Context())
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Println("No backup entries found")
			return nil
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "BRANCH\tTYPE\tDIGEST\tSIZE\tCREATED")
		for _, e := range entries {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", e.Tag.Branch, e.Tag.Type, e.Digest[:12], e.Size, e.CreatedAt.Format("2006-01-02 15:04:05"))
		}
		return w.Flush()
	},
}

var backupCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove backup entries older than a retention window",
	RunE: func(cmd *cobra.Command, args []string) error {
		days, _ := cmd.Flags().GetInt("days")
		o, _, err := newEngine(cmd)
		if err != nil {
			return err
		}
		removed, err := o.CleanupBackups(cmd.Context(), days)
		if err != nil {
			return err
		}
		fmt.Printf("✓ Removed %d backup entries\n", removed)
		return nil
	},
}
