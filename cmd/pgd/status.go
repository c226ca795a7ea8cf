package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Summarize every project and its branches",
	RunE: func(cmd *cobra.Command, args []string) error {
		o, _, err := newEngine(cmd)
		if err != nil {
			return err
		}
		projects, err := o.Status(cmd.Context())
		if err != nil {
			return err
		}
		if len(projects) == 0 {
			fmt.Println("No projects found")
			return nil
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "PROJECT\tBRANCH\tSTATE\tPORT\tPRIMARY")
		for _, ps := range projects {
			for _, b := range ps.Branches {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%v\n", ps.Project.Name, b.Name, b.State, b.Port, b.IsPrimary())
			}
		}
		return w.Flush()
	},
}
