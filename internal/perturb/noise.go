package perturb

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/Abmstpha/sdckit/pkg/errors"
	"github.com/Abmstpha/sdckit/pkg/models"
)

// Noise methods.
const (
	NoiseAdditive   = "additive"
	NoiseCorrelated = "correlated"
)

// NoiseConfig controls noise addition on numeric key variables.
type NoiseConfig struct {
	Method    string   `json:"method" mapstructure:"method"`
	Magnitude float64  `json:"magnitude" mapstructure:"magnitude"` // fraction of each variable's std deviation
	Keys      []string `json:"numeric_keys" mapstructure:"numeric_keys"`
	Seed      int64    `json:"seed" mapstructure:"seed"` // 0 seeds from the clock
}

// NoiseResult reports the perturbation applied.
type NoiseResult struct {
	Method        string `json:"method"`
	CellsPerturbed int   `json:"cells_perturbed"`
}

// NoiseEngine adds random perturbation to numeric key variables. The
// correlated variant draws from a multivariate normal whose covariance is a
// scaled copy of the variables' empirical covariance, so the correlation
// structure between variables survives the perturbation.
type NoiseEngine struct {
	config *NoiseConfig
	logger *logrus.Logger
	rng    *rand.Rand
}

// NewNoiseEngine creates a noise engine with its own seeded random source.
func NewNoiseEngine(config *NoiseConfig, logger *logrus.Logger) *NoiseEngine {
	if config == nil {
		config = &NoiseConfig{Method: NoiseAdditive, Magnitude: 0.1}
	}
	if logger == nil {
		logger = logrus.New()
	}
	seed := config.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &NoiseEngine{
		config: config,
		logger: logger,
		rng:    rand.New(rand.NewSource(seed)),
	}
}

// AddNoise perturbs the configured numeric key variables in place. All
// validation and sampling happens before any cell is written, so a failed
// invocation leaves the table unmodified.
func (ne *NoiseEngine) AddNoise(ctx context.Context, t *models.Table) (*NoiseResult, error) {
	if ne.config.Magnitude <= 0 {
		return nil, errors.NewParameterError("INVALID_MAGNITUDE", errors.ErrInvalidMagnitude.Error()).
			WithContext("magnitude", ne.config.Magnitude)
	}
	if len(ne.config.Keys) == 0 {
		return nil, errors.NewParameterError("NO_NUMERIC_KEYS", "noise addition needs at least one numeric key variable")
	}
	cols := make([]*models.Column, len(ne.config.Keys))
	for i, name := range ne.config.Keys {
		col, ok := t.Column(name)
		if !ok {
			return nil, errors.NewSchemaError("COLUMN_NOT_FOUND", errors.ErrColumnNotFound.Error()).
				WithContext("column", name)
		}
		if col.Kind != models.KindNumeric {
			return nil, errors.NewSchemaError("WRONG_KIND", errors.ErrWrongColumnKind.Error()).
				WithContext("column", name)
		}
		cols[i] = col
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	var noise [][]float64 // [row][col]
	var err error
	switch ne.config.Method {
	case NoiseAdditive:
		noise = ne.additiveNoise(cols, t.Rows())
	case NoiseCorrelated:
		noise, err = ne.correlatedNoise(cols, t.Rows())
		if err != nil {
			return nil, err
		}
	default:
		return nil, errors.NewParameterError("UNKNOWN_METHOD",
			fmt.Sprintf("%s: %q", errors.ErrUnknownNoiseMethod.Error(), ne.config.Method))
	}

	result := &NoiseResult{Method: ne.config.Method}
	for j, col := range cols {
		for i := range col.Num {
			if !models.MissingNumeric(col.Num[i]) {
				col.Num[i] += noise[i][j]
				result.CellsPerturbed++
			}
		}
	}

	ne.logger.WithFields(logrus.Fields{
		"method":    ne.config.Method,
		"magnitude": ne.config.Magnitude,
		"cells":     result.CellsPerturbed,
	}).Info("Noise added")
	return result, nil
}

// additiveNoise samples independent N(0, (m*sd_j)^2) per column.
func (ne *NoiseEngine) additiveNoise(cols []*models.Column, rows int) [][]float64 {
	sds := make([]float64, len(cols))
	for j, col := range cols {
		sds[j] = columnStdDev(col)
	}
	noise := make([][]float64, rows)
	for i := range noise {
		noise[i] = make([]float64, len(cols))
		for j := range cols {
			noise[i][j] = ne.rng.NormFloat64() * ne.config.Magnitude * sds[j]
		}
	}
	return noise
}

// correlatedNoise samples from N(0, m^2 * Sigma) where Sigma is the
// empirical covariance of the key variables over complete cases, using the
// Cholesky factor of the scaled covariance.
func (ne *NoiseEngine) correlatedNoise(cols []*models.Column, rows int) ([][]float64, error) {
	complete := completeCases(cols, rows)
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
	cov.ScaleSym(ne.config.Magnitude*ne.config.Magnitude, cov)

	var chol mat.Cholesky
	if ok := chol.Factorize(cov); !ok {
		return nil, errors.NewDegeneracyError("SINGULAR_COVARIANCE", errors.ErrSingularCovariance.Error())
	}
	var lower mat.TriDense
	chol.LTo(&lower)

	p := len(cols)
	noise := make([][]float64, rows)
	z := mat.NewVecDense(p, nil)
	e := mat.NewVecDense(p, nil)
	for i := range noise {
		for j := 0; j < p; j++ {
			z.SetVec(j, ne.rng.NormFloat64())
		}
		e.MulVec(&lower, z)
		noise[i] = make([]float64, p)
		for j := 0; j < p; j++ {
			noise[i][j] = e.AtVec(j)
		}
	}
	return noise, nil
}

func columnStdDev(col *models.Column) float64 {
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

func completeCases(cols []*models.Column, rows int) []int {
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
	return complete
}
