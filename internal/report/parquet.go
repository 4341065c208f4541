package report

import (
	"github.com/gerhard-ee/sqldeploy/internal/script"
	"github.com/pkg/errors"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"
)

// parquetRecord is the on-disk schema of the long layout
type parquetRecord struct {
	Script         string  `parquet:"name=script, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	StatementIndex int64   `parquet:"name=statement_index, type=INT64"`
	Statement      string  `parquet:"name=statement, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	RowIndex       *int64  `parquet:"name=row_index, type=INT64, repetitiontype=OPTIONAL"`
	Column         *string `parquet:"name=column, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	Value          *string `parquet:"name=value, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
}

type parquetWriter struct {
	file   source.ParquetFile
	writer *writer.ParquetWriter
}

func newParquetWriter(path string) (*parquetWriter, error) {
	file, err := local.NewLocalFileWriter(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create output file")
	}

	pw, err := writer.NewParquetWriter(file, new(parquetRecord), 1)
	if err != nil {
		file.Close()
		return nil, errors.Wrap(err, "failed to create parquet writer")
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	return &parquetWriter{file: file, writer: pw}, nil
}

func (p *parquetWriter) Write(report *script.Report) error {
	for _, r := range records(report) {
		rec := parquetRecord{
			Script:         r.Script,
			StatementIndex: int64(r.StatementIndex),
			Statement:      r.Statement,
			Column:         r.Column,
			Value:          r.Value,
		}
		if r.RowIndex != nil {
			rowIndex := int64(*r.RowIndex)
			rec.RowIndex = &rowIndex
		}
		if err := p.writer.Write(rec); err != nil {
			return errors.Wrap(err, "failed to write record")
		}
	}
	return nil
}

func (p *parquetWriter) Close() error {
	stopErr := p.writer.WriteStop()
	closeErr := p.file.Close()
	if stopErr != nil {
		return errors.Wrap(stopErr, "failed to finish parquet file")
	}
	return closeErr
}
