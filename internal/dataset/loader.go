package dataset

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/Abmstpha/sdckit/pkg/errors"
	"github.com/Abmstpha/sdckit/pkg/models"
)

// LoadOptions controls delimited-file parsing.
type LoadOptions struct {
	Delimiter      rune                         // default ','
	MissingMarkers []string                     // cell values treated as missing, default "" and "NA"
	KindOverrides  map[string]models.ColumnKind // by normalized column name
}

func (o *LoadOptions) normalize() {
	if o.Delimiter == 0 {
		o.Delimiter = ','
	}
	if o.MissingMarkers == nil {
		o.MissingMarkers = []string{"", "NA"}
	}
}

// Loader reads delimited microdata into a table. The schema is implicit: a
// column is numeric when every non-missing cell parses as a float, unless
// an explicit kind override says otherwise.
type Loader struct {
	logger *logrus.Logger
}

// NewLoader creates a dataset loader.
func NewLoader(logger *logrus.Logger) *Loader {
	if logger == nil {
		logger = logrus.New()
	}
	return &Loader{logger: logger}
}

// LoadFile reads a delimited file from disk.
func (l *Loader) LoadFile(path string, opts LoadOptions) (*models.Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeIO, "OPEN_FAILED", errors.ErrReadFailed.Error()).
			WithContext("path", path)
	}
	defer f.Close()
	return l.Load(f, opts)
}

// Load reads delimited microdata with a header row. Variable names are
// normalized; duplicate normalized names are rejected.
func (l *Loader) Load(r io.Reader, opts LoadOptions) (*models.Table, error) {
	opts.normalize()

	reader := csv.NewReader(r)
	reader.Comma = opts.Delimiter
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeIO, "PARSE_FAILED", errors.ErrReadFailed.Error())
	}
	if len(records) < 1 {
		return nil, errors.NewIOError("NO_HEADER", "dataset has no header row")
	}

	header := make([]string, len(records[0]))
	seen := make(map[string]struct{}, len(header))
	for i, raw := range records[0] {
		name := models.NormalizeName(raw)
		if name == "" {
			name = fmt.Sprintf("v%d", i+1)
		}
		if _, dup := seen[name]; dup {
			return nil, errors.NewIOError("DUPLICATE_COLUMN",
				fmt.Sprintf("normalized column name %q appears twice", name))
		}
		seen[name] = struct{}{}
		header[i] = name
	}

	rows := records[1:]
	for i, rec := range rows {
		if len(rec) != len(header) {
			return nil, errors.NewIOError("RAGGED_RECORD", errors.ErrRaggedRecord.Error()).
				WithContext("record", i+2).WithContext("cells", len(rec))
		}
	}

	missing := make(map[string]struct{}, len(opts.MissingMarkers))
	for _, m := range opts.MissingMarkers {
		missing[m] = struct{}{}
	}

	table := models.NewTable(len(rows))
	for j, name := range header {
		col := l.buildColumn(name, rows, j, missing, opts.KindOverrides[name])
		if err := table.AddColumn(col); err != nil {
			return nil, errors.WrapError(err, errors.ErrorTypeIO, "BAD_COLUMN", errors.ErrReadFailed.Error())
		}
	}

	l.logger.WithFields(logrus.Fields{
		"records": table.Rows(),
		"columns": len(header),
	}).Info("Dataset loaded")
	return table, nil
}

func (l *Loader) buildColumn(name string, rows [][]string, j int, missing map[string]struct{}, override models.ColumnKind) *models.Column {
	kind := override
	if kind == "" {
		kind = inferKind(rows, j, missing)
	}

	col := &models.Column{Name: name, Kind: kind}
	switch kind {
	case models.KindNumeric:
		col.Num = make([]float64, len(rows))
		for i, rec := range rows {
			if _, isMissing := missing[rec[j]]; isMissing {
				col.Num[i] = math.NaN()
				continue
			}
			v, err := strconv.ParseFloat(rec[j], 64)
			if err != nil {
				// Only possible under an explicit numeric override.
				col.Num[i] = math.NaN()
				continue
			}
			col.Num[i] = v
		}
	default:
		col.Cat = make([]string, len(rows))
		for i, rec := range rows {
			if _, isMissing := missing[rec[j]]; isMissing {
				col.Cat[i] = models.MissingCell
			} else {
				col.Cat[i] = rec[j]
			}
		}
	}
	return col
}

func inferKind(rows [][]string, j int, missing map[string]struct{}) models.ColumnKind {
	nonMissing := 0
	for _, rec := range rows {
		if _, isMissing := missing[rec[j]]; isMissing {
			continue
		}
		nonMissing++
		if _, err := strconv.ParseFloat(rec[j], 64); err != nil {
			return models.KindCategorical
		}
	}
	if nonMissing == 0 {
		return models.KindCategorical
	}
	return models.KindNumeric
}
