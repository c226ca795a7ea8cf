package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Manage projects",
}

func init() {
	projectCreateCmd.Flags().String("image", "", "Container image (default: the engine's default PostgreSQL image)")
	projectDeleteCmd.Flags().Bool("force", false, "Delete every branch of the project too")

	projectCmd.AddCommand(projectCreateCmd, projectListCmd, projectGetCmd, projectDeleteCmd)
}

var projectCreateCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Create a project and its primary branch",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		image, _ := cmd.Flags().GetString("image")

		// The root --pool flag both resolves the engine's fsdriver and,
		// here, doubles as createProject's explicit pool override: once
		// newEngine has picked a pool (flag, catalog, or auto-detection),
		// every dataset operation this process performs must use that
		// same pool.
		o, pool, err := newEngine(cmd)
		if err != nil {
			return err
		}

		project, err := o.CreateProject(cmd.Context(), args[0], image, pool)
		if err != nil {
			return err
		}
		fmt.Printf("✓ Project created: %s\n", project.Name)
		fmt.Printf("  Image: %s\n", project.Image)
		return nil
	},
}

var projectListCmd = &cobra.Command{
	Use:   "list",
	Short: "List projects",
	RunE: func(cmd *cobra.Command, args []string) error {
		o, _, err := newEngine(cmd)
		if err != nil {
			return err
		}
		projects, err := o.ListProjects(cmd.Context())
		if err != nil {
			return err
		}
		if len(projects) == 0 {
			fmt.Println("No projects found")
			return nil
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tIMAGE\tCREATED")
		for _, p := range projects {
			fmt.Fprintf(w, "%s\t%s\t%s\n", p.Name, p.Image, p.CreatedAt.Format("2006-01-02 15:04:05"))
		}
		return w.Flush()
	},
}

var projectGetCmd = &cobra.Command{
	Use:   "get NAME",
	Short: "Show project detail",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		o, _, err := newEngine(cmd)
		if err != nil {
			return err
		}
		project, err := o.GetProject(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Project: %s\n", project.Name)
		fmt.Printf("  Image: %s\n", project.Image)
		fmt.Printf("  Cert dir: %s\n", project.CertDir)
		fmt.Printf("  Created: %s\n", project.CreatedAt.Format("2006-01-02 15:04:05"))
		return nil
	},
}

var projectDeleteCmd = &cobra.Command{
	Use:   "delete NAME",
	Short: "Delete a project",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")
		o, _, err := newEngine(cmd)
		if err != nil {
			return err
		}
		if err := o.DeleteProject(cmd.Context(), args[0], force); err != nil {
			return err
		}
		fmt.Printf("✓ Project deleted: %s\n", args[0])
		return nil
	},
}
