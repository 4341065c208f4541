package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var defaultDeployScripts = []string{"sql/create_objects.sql", "sql/insert_sample_data.sql"}

func newDeployCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "deploy [files...]",
		Short: "Execute SQL scripts in order",
		Long: `Execute each SQL script in the order given, statement by statement.
Every script gets its own session. The first failing statement stops the
deployment; statements that already ran are not rolled back.

Without arguments the scripts sql/create_objects.sql and
sql/insert_sample_data.sql are deployed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				args = defaultDeployScripts
			}

			exec, err := a.executor()
			if err != nil {
				return err
			}

			for _, path := range args {
				if _, err := exec.Run(cmd.Context(), path, false); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Executed %s\n", path)
			}
			return nil
		},
	}
}
