package main

import (
	"github.com/gerhard-ee/sqldeploy/internal/report"
	"github.com/spf13/cobra"
)

var defaultTestScripts = []string{"sql/test_queries.sql"}

func newTestCmd(a *app) *cobra.Command {
	var (
		format string
		output string
	)

	cmd := &cobra.Command{
		Use:   "test [files...]",
		Short: "Run test queries and print their results",
		Long: `Run every statement of the given scripts and print each statement with
its full result set. Without arguments sql/test_queries.sql is run.

Results that were captured before a failing statement are still written.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				args = defaultTestScripts
			}

			exec, err := a.executor()
			if err != nil {
				return err
			}

			writer, err := report.New(format, output, cmd.OutOrStdout())
			if err != nil {
				return err
			}

			for _, path := range args {
				rep, runErr := exec.Run(cmd.Context(), path, true)
				if rep != nil {
					if err := writer.Write(rep); err != nil {
						writer.Close()
						return err
					}
				}
				if runErr != nil {
					writer.Close()
					return runErr
				}
			}
			return writer.Close()
		},
	}

	cmd.Flags().StringVar(&format, "format", report.FormatText, "output format (text, csv, parquet)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default stdout, required for parquet)")
	return cmd
}
