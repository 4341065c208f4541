package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/gerhard-ee/sqldeploy/internal/script"
)

// textWriter prints every statement followed by its rows
type textWriter struct {
	w      io.Writer
	closer io.Closer
}

func (t *textWriter) Write(report *script.Report) error {
	for _, s := range report.Statements {
		if _, err := fmt.Fprintf(t.w, "Test Query: %s\n", s.Statement); err != nil {
			return err
		}
		if _, err := fmt.Fprintf(t.w, "Result: %s\n", formatRows(s)); err != nil {
			return err
		}
	}
	return nil
}

func (t *textWriter) Close() error {
	if t.closer == nil {
		return nil
	}
	return t.closer.Close()
}

// formatRows renders rows as [(v1, v2), (v1, v2)]
func formatRows(s script.StatementResult) string {
	if s.Result == nil {
		return "[]"
	}
	rows := make([]string, 0, len(s.Result.Rows))
	for _, row := range s.Result.Rows {
		values := make([]string, 0, len(row))
		for _, v := range row {
			if p := formatValue(v); p != nil {
				values = append(values, *p)
			} else {
				values = append(values, "NULL")
			}
		}
		rows = append(rows, "("+strings.Join(values, ", ")+")")
	}
	return "[" + strings.Join(rows, ", ") + "]"
}
