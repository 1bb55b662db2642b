package anonymize

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/Abmstpha/sdckit/pkg/errors"
	"github.com/Abmstpha/sdckit/pkg/models"
)

// Recoder collapses the value domain of a key variable into coarser
// categories (global recoding). Recoding mutates the named column in place
// and is irreversible within a run; callers keep the original table if
// rollback is needed.
type Recoder struct {
	logger *logrus.Logger
}

// NewRecoder creates a recoder.
func NewRecoder(logger *logrus.Logger) *Recoder {
	if logger == nil {
		logger = logrus.New()
	}
	return &Recoder{logger: logger}
}

// RecodeNumeric replaces a numeric column with interval labels. breaks must
// be strictly increasing and one longer than labels; value v falls into
// interval i when breaks[i] <= v < breaks[i+1] (the last interval is
// closed). Values outside the covered range and missing cells become the
// missing sentinel. The column's kind becomes categorical.
func (r *Recoder) RecodeNumeric(t *models.Table, name string, breaks []float64, labels []string) error {
	col, ok := t.Column(name)
	if !ok {
		return errors.NewSchemaError("COLUMN_NOT_FOUND", errors.ErrColumnNotFound.Error()).
			WithContext("column", name)
	}
	if col.Kind != models.KindNumeric {
		return errors.NewSchemaError("WRONG_KIND",
			fmt.Sprintf("column %q is %s, numeric recoding needs a numeric column", name, col.Kind))
	}
	if len(breaks) < 2 || len(labels) != len(breaks)-1 {
		return errors.NewParameterError("INVALID_BREAKS",
			fmt.Sprintf("need len(breaks) >= 2 and len(labels) == len(breaks)-1, got %d and %d",
				len(breaks), len(labels)))
	}
	for i := 1; i < len(breaks); i++ {
		if breaks[i] <= breaks[i-1] {
			return errors.NewParameterError("INVALID_BREAKS", errors.ErrInvalidBreaks.Error())
		}
	}

	cat := make([]string, t.Rows())
	outside := 0
	for i, v := range col.Num {
		if models.MissingNumeric(v) {
			cat[i] = models.MissingCell
			continue
		}
		label := models.MissingCell
		for j := 0; j < len(labels); j++ {
			if v >= breaks[j] && (v < breaks[j+1] || (j == len(labels)-1 && v == breaks[j+1])) {
				label = labels[j]
				break
			}
		}
		if label == models.MissingCell {
			outside++
		}
		cat[i] = label
	}

	col.Kind = models.KindCategorical
	col.Cat = cat
	col.Num = nil

	r.logger.WithFields(logrus.Fields{
		"column":        name,
		"intervals":     len(labels),
		"outside_range": outside,
	}).Info("Numeric column recoded to intervals")
	return nil
}

// RecodeCategorical collapses labels of a categorical column according to
// an explicit old-to-new mapping. Labels absent from the mapping are kept.
func (r *Recoder) RecodeCategorical(t *models.Table, name string, mapping map[string]string) error {
	col, ok := t.Column(name)
	if !ok {
		return errors.NewSchemaError("COLUMN_NOT_FOUND", errors.ErrColumnNotFound.Error()).
			WithContext("column", name)
	}
	if col.Kind != models.KindCategorical {
		return errors.NewSchemaError("WRONG_KIND",
			fmt.Sprintf("column %q is %s, label recoding needs a categorical column", name, col.Kind))
	}
	if len(mapping) == 0 {
		return errors.NewParameterError("EMPTY_MAPPING", "recoding mapping is empty")
	}

	changed := 0
	for i, v := range col.Cat {
		if v == models.MissingCell {
			continue
		}
		if nv, ok := mapping[v]; ok && nv != v {
			col.Cat[i] = nv
			changed++
		}
	}

	r.logger.WithFields(logrus.Fields{
		"column":  name,
		"levels":  len(col.Levels()),
		"changed": changed,
	}).Info("Categorical column recoded")
	return nil
}
