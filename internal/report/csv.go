package report

import (
	"encoding/csv"
	"io"
	"strconv"

	"github.com/gerhard-ee/sqldeploy/internal/script"
	"github.com/pkg/errors"
)

var csvHeader = []string{"script", "statement_index", "statement", "row_index", "column", "value"}

type csvWriter struct {
	writer        *csv.Writer
	closer        io.Closer
	headerWritten bool
}

func newCSVWriter(w io.Writer, closer io.Closer) *csvWriter {
	return &csvWriter{writer: csv.NewWriter(w), closer: closer}
}

func (c *csvWriter) Write(report *script.Report) error {
	if !c.headerWritten {
		if err := c.writer.Write(csvHeader); err != nil {
			return errors.Wrap(err, "failed to write header")
		}
		c.headerWritten = true
	}

	for _, r := range records(report) {
		row := []string{r.Script, strconv.Itoa(r.StatementIndex), r.Statement, "", "", ""}
		if r.RowIndex != nil {
			row[3] = strconv.Itoa(*r.RowIndex)
		}
		if r.Column != nil {
			row[4] = *r.Column
		}
		if r.Value != nil {
			row[5] = *r.Value
		}
		if err := c.writer.Write(row); err != nil {
			return errors.Wrap(err, "failed to write record")
		}
	}

	c.writer.Flush()
	return c.writer.Error()
}

func (c *csvWriter) Close() error {
	c.writer.Flush()
	if err := c.writer.Error(); err != nil {
		return err
	}
	if c.closer == nil {
		return nil
	}
	return c.closer.Close()
}
