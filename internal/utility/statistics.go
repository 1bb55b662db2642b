package utility

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/Abmstpha/sdckit/pkg/errors"
	"github.com/Abmstpha/sdckit/pkg/models"
)

// Domain statistics computed identically on original and anonymized tables
// so analysts can judge whether published estimates survive anonymization.
// These are generic statistical routines, not part of the anonymization
// core.

// Comparison pairs one statistic computed on both tables.
type Comparison struct {
	Name       string  `json:"name"`
	Original   float64 `json:"original"`
	Anonymized float64 `json:"anonymized"`
}

// Gini computes the weighted Gini coefficient of the named numeric column.
// Weights of the missing sentinel rows are ignored; weightCol may be empty
// for an unweighted estimate.
func Gini(t *models.Table, valueCol, weightCol string) (float64, error) {
	values, weights, err := numericWithWeights(t, valueCol, weightCol)
	if err != nil {
		return 0, err
	}
	if len(values) == 0 {
		return 0, errors.NewDegeneracyError("NO_DATA", "no non-missing values for Gini coefficient")
	}

	type pair struct{ v, w float64 }
	pairs := make([]pair, len(values))
	for i := range values {
		pairs[i] = pair{values[i], weights[i]}
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].v < pairs[j].v })

	// Weighted Gini via the Lorenz-curve formulation.
	var totalW, totalVW float64
	for _, p := range pairs {
		totalW += p.w
		totalVW += p.v * p.w
	}
	if totalVW == 0 {
		return 0, nil
	}
	var cumW, cumVW, area float64
	for _, p := range pairs {
		prevX := cumW / totalW
		prevY := cumVW / totalVW
		cumW += p.w
		cumVW += p.v * p.w
		x := cumW / totalW
		y := cumVW / totalVW
		area += (x - prevX) * (y + prevY) / 2
	}
	return 1 - 2*area, nil
}

// GenderPayGap computes (mean_a - mean_b) / mean_a of the income column
// between two levels of a categorical column, weighted when weightCol is
// set. Conventionally levelA is the reference (e.g. male) group.
func GenderPayGap(t *models.Table, incomeCol, groupCol, levelA, levelB, weightCol string) (float64, error) {
	group, ok := t.Column(groupCol)
	if !ok {
		return 0, errors.NewSchemaError("COLUMN_NOT_FOUND", errors.ErrColumnNotFound.Error()).
			WithContext("column", groupCol)
	}
	if group.Kind != models.KindCategorical {
		return 0, errors.NewSchemaError("WRONG_KIND", errors.ErrWrongColumnKind.Error()).
			WithContext("column", groupCol)
	}
	income, ok := t.Column(incomeCol)
	if !ok || income.Kind != models.KindNumeric {
		return 0, errors.NewSchemaError("COLUMN_NOT_FOUND", "numeric income column required").
			WithContext("column", incomeCol)
	}
	var wCol *models.Column
	if weightCol != "" {
		wCol, ok = t.Column(weightCol)
		if !ok || wCol.Kind != models.KindNumeric {
			return 0, errors.NewSchemaError("COLUMN_NOT_FOUND", "numeric weight column required").
				WithContext("column", weightCol)
		}
	}
	meanOf := func(level string) (float64, float64) {
		var sum, w float64
		for i := 0; i < t.Rows(); i++ {
			if group.Cat[i] != level || models.MissingNumeric(income.Num[i]) {
				continue
			}
			wi := 1.0
			if wCol != nil && !models.MissingNumeric(wCol.Num[i]) {
				wi = wCol.Num[i]
			}
			sum += income.Num[i] * wi
			w += wi
		}
		return sum, w
	}
	sumA, wA := meanOf(levelA)
	sumB, wB := meanOf(levelB)
	if wA == 0 || wB == 0 {
		return 0, errors.NewDegeneracyError("EMPTY_GROUP",
			fmt.Sprintf("no observations for level %q or %q", levelA, levelB))
	}
	meanA := sumA / wA
	meanB := sumB / wB
	if meanA == 0 {
		return 0, errors.NewDegeneracyError("ZERO_REFERENCE", "reference group mean is zero")
	}
	return (meanA - meanB) / meanA, nil
}

// MeanCI is a stratified confidence interval for a mean.
type MeanCI struct {
	Stratum string  `json:"stratum"`
	N       int     `json:"n"`
	Mean    float64 `json:"mean"`
	Lower   float64 `json:"lower"`
	Upper   float64 `json:"upper"`
}

// StratifiedMeanCI computes normal-approximation confidence intervals of
// the value column's mean within each level of the stratum column.
func StratifiedMeanCI(t *models.Table, valueCol, stratumCol string, confidence float64) ([]MeanCI, error) {
	if confidence <= 0 || confidence >= 1 {
		return nil, errors.NewParameterError("INVALID_CONFIDENCE",
			fmt.Sprintf("confidence level must be in (0, 1), got %g", confidence))
	}
	value, ok := t.Column(valueCol)
	if !ok || value.Kind != models.KindNumeric {
		return nil, errors.NewSchemaError("COLUMN_NOT_FOUND", "numeric value column required").
			WithContext("column", valueCol)
	}
	stratum, ok := t.Column(stratumCol)
	if !ok || stratum.Kind != models.KindCategorical {
		return nil, errors.NewSchemaError("COLUMN_NOT_FOUND", "categorical stratum column required").
			WithContext("column", stratumCol)
	}

	z := distuv.Normal{Mu: 0, Sigma: 1}.Quantile(1 - (1-confidence)/2)
	var out []MeanCI
	for _, level := range stratum.Levels() {
		var vals []float64
		for i := 0; i < t.Rows(); i++ {
			if stratum.Cat[i] == level && !models.MissingNumeric(value.Num[i]) {
				vals = append(vals, value.Num[i])
			}
		}
		if len(vals) < 2 {
			continue
		}
		mean := stat.Mean(vals, nil)
		se := stat.StdDev(vals, nil) / math.Sqrt(float64(len(vals)))
		out = append(out, MeanCI{
			Stratum: level,
			N:       len(vals),
			Mean:    mean,
			Lower:   mean - z*se,
			Upper:   mean + z*se,
		})
	}
	return out, nil
}

// OLS fits an ordinary-least-squares regression of the response on the
// numeric predictors (plus intercept) and returns the coefficients in the
// order [intercept, predictors...]. Rows with any missing cell are dropped.
func OLS(t *models.Table, responseCol string, predictorCols []string) ([]float64, error) {
	resp, ok := t.Column(responseCol)
	if !ok || resp.Kind != models.KindNumeric {
		return nil, errors.NewSchemaError("COLUMN_NOT_FOUND", "numeric response column required").
			WithContext("column", responseCol)
	}
	preds := make([]*models.Column, len(predictorCols))
	for j, name := range predictorCols {
		col, ok := t.Column(name)
		if !ok || col.Kind != models.KindNumeric {
			return nil, errors.NewSchemaError("COLUMN_NOT_FOUND", "numeric predictor column required").
				WithContext("column", name)
		}
		preds[j] = col
	}

	var rows []int
	for i := 0; i < t.Rows(); i++ {
		if models.MissingNumeric(resp.Num[i]) {
			continue
		}
		ok := true
		for _, col := range preds {
			if models.MissingNumeric(col.Num[i]) {
				ok = false
				break
			}
		}
		if ok {
			rows = append(rows, i)
		}
	}
	p := len(preds) + 1
	if len(rows) <= p {
		return nil, errors.NewDegeneracyError("TOO_FEW_CASES", "not enough complete cases for regression").
			WithContext("complete_cases", len(rows))
	}

	x := mat.NewDense(len(rows), p, nil)
	y := mat.NewVecDense(len(rows), nil)
	for i, row := range rows {
		x.Set(i, 0, 1)
		for j, col := range preds {
			x.Set(i, j+1, col.Num[row])
		}
		y.SetVec(i, resp.Num[row])
	}

	var qr mat.QR
	qr.Factorize(x)
	beta := mat.NewVecDense(p, nil)
	if err := qr.SolveVecTo(beta, false, y); err != nil {
		return nil, errors.NewDegeneracyError("SINGULAR_DESIGN", "regression design matrix is singular")
	}
	coeffs := make([]float64, p)
	for j := range coeffs {
		coeffs[j] = beta.AtVec(j)
	}
	return coeffs, nil
}

func numericWithWeights(t *models.Table, valueCol, weightCol string) (values, weights []float64, err error) {
	value, ok := t.Column(valueCol)
	if !ok {
		return nil, nil, errors.NewSchemaError("COLUMN_NOT_FOUND", errors.ErrColumnNotFound.Error()).
			WithContext("column", valueCol)
	}
	if value.Kind != models.KindNumeric {
		return nil, nil, errors.NewSchemaError("WRONG_KIND", errors.ErrWrongColumnKind.Error()).
			WithContext("column", valueCol)
	}
	var wCol *models.Column
	if weightCol != "" {
		wCol, ok = t.Column(weightCol)
		if !ok || wCol.Kind != models.KindNumeric {
			return nil, nil, errors.NewSchemaError("COLUMN_NOT_FOUND", "numeric weight column required").
				WithContext("column", weightCol)
		}
	}
	for i := 0; i < t.Rows(); i++ {
		if models.MissingNumeric(value.Num[i]) {
			continue
		}
		w := 1.0
		if wCol != nil && !models.MissingNumeric(wCol.Num[i]) {
			w = wCol.Num[i]
		}
		values = append(values, value.Num[i])
		weights = append(weights, w)
	}
	return values, weights, nil
}
