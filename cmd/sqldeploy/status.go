package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/gerhard-ee/sqldeploy/internal/state"
	"github.com/spf13/cobra"
)

func newStatusCmd(a *app) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the run journal",
		Long: `Show the last recorded run of every script. Only the file and kubernetes
journals keep runs between invocations.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			journal, err := a.journal()
			if err != nil {
				return err
			}

			states, err := journal.ListStates(cmd.Context())
			if err != nil {
				return err
			}

			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(states)
			}
			return printStates(cmd.OutOrStdout(), states)
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
	return cmd
}

func printStates(w io.Writer, states []*state.RunState) error {
	if len(states) == 0 {
		_, err := fmt.Fprintln(w, "No runs recorded")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SCRIPT\tSTATUS\tAPPLIED\tUPDATED\tERROR")
	for _, s := range states {
		fmt.Fprintf(tw, "%s\t%s\t%d/%d\t%s\t%s\n",
			s.Script, s.Status, s.StatementsApplied, s.TotalStatements,
			s.LastUpdated.Local().Format(time.DateTime), s.Error)
	}
	return tw.Flush()
}
