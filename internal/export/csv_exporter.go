package export

import (
	"context"
	"encoding/csv"
	"io"
	"os"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/Abmstpha/sdckit/pkg/errors"
	"github.com/Abmstpha/sdckit/pkg/models"
)

// Options controls delimited output.
type Options struct {
	Delimiter     rune   // default ','
	MissingMarker string // rendered for suppressed/missing cells, default "NA"
}

func (o *Options) normalize() {
	if o.Delimiter == 0 {
		o.Delimiter = ','
	}
	if o.MissingMarker == "" {
		o.MissingMarker = "NA"
	}
}

// CSVExporter materializes an anonymized table as delimited text with the
// same column set as the input.
type CSVExporter struct {
	logger *logrus.Logger
}

// NewCSVExporter creates an exporter.
func NewCSVExporter(logger *logrus.Logger) *CSVExporter {
	if logger == nil {
		logger = logrus.New()
	}
	return &CSVExporter{logger: logger}
}

// ExportFile writes the table to a file path, or to stdout for "-".
func (ce *CSVExporter) ExportFile(ctx context.Context, t *models.Table, path string, opts Options) error {
	if path == "-" {
		return ce.Export(ctx, os.Stdout, t, opts)
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.WrapError(err, errors.ErrorTypeIO, "CREATE_FAILED", errors.ErrWriteFailed.Error()).
			WithContext("path", path)
	}
	defer f.Close()
	return ce.Export(ctx, f, t, opts)
}

// Export writes header plus one row per record.
func (ce *CSVExporter) Export(ctx context.Context, w io.Writer, t *models.Table, opts Options) error {
	opts.normalize()

	writer := csv.NewWriter(w)
	writer.Comma = opts.Delimiter
	defer writer.Flush()

	names := t.ColumnNames()
	if err := writer.Write(names); err != nil {
		return errors.WrapError(err, errors.ErrorTypeIO, "WRITE_FAILED", errors.ErrWriteFailed.Error())
	}

	cols := make([]*models.Column, len(names))
	for j, name := range names {
		cols[j], _ = t.Column(name)
	}

	row := make([]string, len(cols))
	for i := 0; i < t.Rows(); i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		for j, col := range cols {
			row[j] = renderCell(col, i, opts.MissingMarker)
		}
		if err := writer.Write(row); err != nil {
			return errors.WrapError(err, errors.ErrorTypeIO, "WRITE_FAILED", errors.ErrWriteFailed.Error()).
				WithContext("record", i)
		}
	}
	if err := writer.Error(); err != nil {
		return errors.WrapError(err, errors.ErrorTypeIO, "WRITE_FAILED", errors.ErrWriteFailed.Error())
	}

	ce.logger.WithFields(logrus.Fields{
		"records": t.Rows(),
		"columns": len(names),
	}).Info("Table exported")
	return nil
}

func renderCell(col *models.Column, i int, missingMarker string) string {
	if col.IsMissing(i) {
		return missingMarker
	}
	if col.Kind == models.KindNumeric {
		return strconv.FormatFloat(col.Num[i], 'g', -1, 64)
	}
	return col.Cat[i]
}
