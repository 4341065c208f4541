// Package report renders captured script results as text, CSV or Parquet.
//
// CSV and Parquet use a long layout with one record per cell, since every
// statement of a script may return a different set of columns:
//
//	script, statement_index, statement, row_index, column, value
//
// A statement that returned no rows still gets one record with an empty
// row_index, column and value so that it shows up in the output.
package report

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/gerhard-ee/sqldeploy/internal/script"
	"github.com/pkg/errors"
)

// Supported formats
const (
	FormatText    = "text"
	FormatCSV     = "csv"
	FormatParquet = "parquet"
)

// Writer renders one or more reports. Close flushes buffered output and
// must be called once all reports are written.
type Writer interface {
	Write(report *script.Report) error
	Close() error
}

// record is one cell of the long layout. RowIndex and Column are nil for a
// statement that returned no rows.
type record struct {
	Script         string
	StatementIndex int
	Statement      string
	RowIndex       *int
	Column         *string
	Value          *string
}

// New creates a writer for format. An empty output writes text and CSV to
// stdout; Parquet always needs an output file.
func New(format, output string, stdout io.Writer) (Writer, error) {
	switch format {
	case "", FormatText:
		w, closer, err := destination(output, stdout)
		if err != nil {
			return nil, err
		}
		return &textWriter{w: w, closer: closer}, nil
	case FormatCSV:
		w, closer, err := destination(output, stdout)
		if err != nil {
			return nil, err
		}
		return newCSVWriter(w, closer), nil
	case FormatParquet:
		if output == "" {
			return nil, errors.New("parquet format requires an output file")
		}
		return newParquetWriter(output)
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
}

func destination(output string, stdout io.Writer) (io.Writer, io.Closer, error) {
	if output == "" {
		return stdout, nil, nil
	}
	file, err := os.Create(output)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to create output file")
	}
	return file, file, nil
}

// records flattens a report into the long layout
func records(report *script.Report) []record {
	var out []record
	for i, s := range report.Statements {
		if s.Result == nil || len(s.Result.Rows) == 0 {
			out = append(out, record{Script: report.Path, StatementIndex: i, Statement: s.Statement})
			continue
		}
		for r, row := range s.Result.Rows {
			for c, v := range row {
				rowIndex := r
				column := columnName(s.Result.Columns, c)
				out = append(out, record{
					Script:         report.Path,
					StatementIndex: i,
					Statement:      s.Statement,
					RowIndex:       &rowIndex,
					Column:         &column,
					Value:          formatValue(v),
				})
			}
		}
	}
	return out
}

func columnName(columns []string, i int) string {
	if i < len(columns) {
		return columns[i]
	}
	return fmt.Sprintf("column_%d", i+1)
}

// formatValue returns nil for SQL NULL
func formatValue(v any) *string {
	var s string
	switch val := v.(type) {
	case nil:
		return nil
	case string:
		s = val
	case []byte:
		s = string(val)
	case time.Time:
		s = val.Format(time.RFC3339Nano)
	default:
		s = fmt.Sprintf("%v", val)
	}
	return &s
}
