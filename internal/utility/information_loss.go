package utility

import (
	"math"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/Abmstpha/sdckit/pkg/errors"
	"github.com/Abmstpha/sdckit/pkg/models"
)

// Snapshot holds the utility metrics of an (original, anonymized) pair.
// All metrics are pure functions of their input tables.
type Snapshot struct {
	InformationLoss float64 `json:"information_loss"`
	EigenShift      float64 `json:"eigen_shift"`
}

// Evaluator computes information-loss metrics between an original table and
// its anonymized counterpart.
type Evaluator struct {
	logger *logrus.Logger
}

// NewEvaluator creates a utility evaluator.
func NewEvaluator(logger *logrus.Logger) *Evaluator {
	if logger == nil {
		logger = logrus.New()
	}
	return &Evaluator{logger: logger}
}

// Evaluate computes the full utility snapshot over the numeric key
// variables.
func (e *Evaluator) Evaluate(orig, anon *models.Table, numericKeys []string) (*Snapshot, error) {
	il, err := e.InformationLoss(orig, anon, numericKeys)
	if err != nil {
		return nil, err
	}
	es, err := e.EigenShift(orig, anon, numericKeys)
	if err != nil {
		if errors.IsDegeneracy(err) {
			e.logger.WithError(err).Warn("Eigenvalue shift unavailable, reporting information loss only")
			es = math.NaN()
		} else {
			return nil, err
		}
	}
	return &Snapshot{InformationLoss: il, EigenShift: es}, nil
}

// InformationLoss is an IL1s-style measure: the mean over numeric key cells
// of |x - x'| / (sqrt(2) * sd_j), where sd_j is the original column's
// standard deviation. Zero when the tables are identical, non-negative
// always. Cells missing in either table are skipped.
func (e *Evaluator) InformationLoss(orig, anon *models.Table, numericKeys []string) (float64, error) {
	origCols, anonCols, err := pairedNumericColumns(orig, anon, numericKeys)
	if err != nil {
		return 0, err
	}

	total, cells := 0.0, 0
	for j := range origCols {
		sd := stdDevOf(origCols[j])
		for i := 0; i < orig.Rows(); i++ {
			if models.MissingNumeric(origCols[j].Num[i]) || models.MissingNumeric(anonCols[j].Num[i]) {
				continue
			}
			diff := math.Abs(origCols[j].Num[i] - anonCols[j].Num[i])
			if sd > 0 {
				diff /= math.Sqrt2 * sd
			}
			total += diff
			cells++
		}
	}
	if cells == 0 {
		return 0, nil
	}
	return total / float64(cells), nil
}

// EigenShift compares the eigenvalue spectra of the covariance matrices of
// the numeric keys before and after anonymization: the sum of absolute
// eigenvalue differences relative to the original spectrum mass.
func (e *Evaluator) EigenShift(orig, anon *models.Table, numericKeys []string) (float64, error) {
	origCols, anonCols, err := pairedNumericColumns(orig, anon, numericKeys)
	if err != nil {
		return 0, err
	}

	origEigen, err := covarianceEigenvalues(origCols, orig.Rows())
	if err != nil {
		return 0, err
	}
	anonEigen, err := covarianceEigenvalues(anonCols, anon.Rows())
	if err != nil {
		return 0, err
	}

	num, den := 0.0, 0.0
	for j := range origEigen {
		num += math.Abs(origEigen[j] - anonEigen[j])
		den += math.Abs(origEigen[j])
	}
	if den == 0 {
		return 0, nil
	}
	return num / den, nil
}

func pairedNumericColumns(orig, anon *models.Table, keys []string) ([]*models.Column, []*models.Column, error) {
	if orig.Rows() != anon.Rows() {
		return nil, nil, errors.NewSchemaError("ROW_MISMATCH", "tables have different record counts").
			WithContext("original", orig.Rows()).WithContext("anonymized", anon.Rows())
	}
	if len(keys) == 0 {
		return nil, nil, errors.NewParameterError("NO_NUMERIC_KEYS", "utility evaluation needs at least one numeric key variable")
	}
	origCols := make([]*models.Column, len(keys))
	anonCols := make([]*models.Column, len(keys))
	for j, name := range keys {
		oc, ok := orig.Column(name)
		if !ok {
			return nil, nil, errors.NewSchemaError("COLUMN_NOT_FOUND", errors.ErrColumnNotFound.Error()).
				WithContext("column", name).WithContext("table", "original")
		}
		ac, ok := anon.Column(name)
		if !ok {
			return nil, nil, errors.NewSchemaError("COLUMN_NOT_FOUND", errors.ErrColumnNotFound.Error()).
				WithContext("column", name).WithContext("table", "anonymized")
		}
		if oc.Kind != models.KindNumeric || ac.Kind != models.KindNumeric {
			return nil, nil, errors.NewSchemaError("WRONG_KIND", errors.ErrWrongColumnKind.Error()).
				WithContext("column", name)
		}
		origCols[j], anonCols[j] = oc, ac
	}
	return origCols, anonCols, nil
}

func stdDevOf(col *models.Column) float64 {
	var clean []float64
	for _, v := range col.Num {
		if !models.MissingNumeric(v) {
			clean = append(clean, v)
		}
	}
	if len(clean) < 2 {
		return 0
	}
	return stat.StdDev(clean, nil)
}

func covarianceEigenvalues(cols []*models.Column, rows int) ([]float64, error) {
	var complete []int
	for i := 0; i < rows; i++ {
		ok := true
		for _, col := range cols {
			if models.MissingNumeric(col.Num[i]) {
				ok = false
				break
			}
		}
		if ok {
			complete = append(complete, i)
		}
	}
	if len(complete) <= len(cols) {
		return nil, errors.NewDegeneracyError("TOO_FEW_CASES",
			"not enough complete cases to estimate a covariance matrix").
			WithContext("complete_cases", len(complete))
	}

	data := mat.NewDense(len(complete), len(cols), nil)
	for i, row := range complete {
		for j, col := range cols {
			data.Set(i, j, col.Num[row])
		}
	}
	cov := mat.NewSymDense(len(cols), nil)
	stat.CovarianceMatrix(cov, data, nil)

	var eig mat.EigenSym
	if ok := eig.Factorize(cov, false); !ok {
		return nil, errors.NewDegeneracyError("EIGEN_FAILED", "eigendecomposition of covariance failed")
	}
	return eig.Values(nil), nil
}
