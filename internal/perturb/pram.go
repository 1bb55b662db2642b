package perturb

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Abmstpha/sdckit/pkg/errors"
	"github.com/Abmstpha/sdckit/pkg/models"
)

// TransitionMatrix is a row-stochastic matrix over the domain of one
// categorical variable. P[i][j] is the probability that level Levels[i] is
// published as Levels[j].
type TransitionMatrix struct {
	Levels []string    `json:"levels"`
	P      [][]float64 `json:"p"`
}

// Validate checks shape, non-negativity, and that every row sums to 1.
func (tm *TransitionMatrix) Validate() error {
	n := len(tm.Levels)
	if n < 2 {
		return errors.NewDegeneracyError("DEGENERATE_DOMAIN", errors.ErrDegenerateDomain.Error()).
			WithContext("levels", n)
	}
	if len(tm.P) != n {
		return errors.NewParameterError("BAD_SHAPE",
			fmt.Sprintf("transition matrix has %d rows for %d levels", len(tm.P), n))
	}
	for i, row := range tm.P {
		if len(row) != n {
			return errors.NewParameterError("BAD_SHAPE",
				fmt.Sprintf("transition matrix row %d has %d entries for %d levels", i, len(row), n))
		}
		sum := 0.0
		for _, p := range row {
			if p < 0 {
				return errors.NewParameterError("NEGATIVE_PROBABILITY",
					fmt.Sprintf("negative transition probability in row %d", i))
			}
			sum += p
		}
		if math.Abs(sum-1) > 1e-9 {
			return errors.NewParameterError("NOT_STOCHASTIC", errors.ErrNotStochastic.Error()).
				WithContext("row", i).WithContext("sum", sum)
		}
	}
	return nil
}

// IdentityBiased builds a transition matrix over levels with the given
// probability of retaining the original value; the remainder is spread
// uniformly over the other levels.
func IdentityBiased(levels []string, diagonal float64) (*TransitionMatrix, error) {
	if diagonal <= 0 || diagonal > 1 {
		return nil, errors.NewParameterError("INVALID_DIAGONAL",
			fmt.Sprintf("retention probability must be in (0, 1], got %g", diagonal))
	}
	n := len(levels)
	if n < 2 {
		return nil, errors.NewDegeneracyError("DEGENERATE_DOMAIN", errors.ErrDegenerateDomain.Error()).
			WithContext("levels", n)
	}
	off := (1 - diagonal) / float64(n-1)
	p := make([][]float64, n)
	for i := range p {
		p[i] = make([]float64, n)
		for j := range p[i] {
			if i == j {
				p[i][j] = diagonal
			} else {
				p[i][j] = off
			}
		}
	}
	return &TransitionMatrix{Levels: append([]string(nil), levels...), P: p}, nil
}

// PRAMConfig controls post-randomization of categorical variables.
type PRAMConfig struct {
	Variables []string                     `json:"variables" mapstructure:"variables"`
	Matrices  map[string]*TransitionMatrix `json:"-" mapstructure:"-"`
	// Diagonal auto-generates an identity-biased matrix for variables
	// without an explicit one; 0 means an explicit matrix is required.
	Diagonal float64 `json:"diagonal" mapstructure:"diagonal"`
	Seed     int64   `json:"seed" mapstructure:"seed"`
}

// PRAMResult reports how many records changed value per variable.
type PRAMResult struct {
	ChangedPerVariable map[string]int `json:"changed_per_variable"`
	TotalChanged       int            `json:"total_changed"`
}

// PRAMEngine randomly transitions categorical values under a constrained
// transition matrix, independently per record. Marginal distributions are
// preserved approximately in expectation; record-level values are only
// probabilistically accurate.
type PRAMEngine struct {
	config *PRAMConfig
	logger *logrus.Logger
	rng    *rand.Rand
}

// NewPRAMEngine creates a PRAM engine with its own seeded random source.
func NewPRAMEngine(config *PRAMConfig, logger *logrus.Logger) *PRAMEngine {
	if config == nil {
		config = &PRAMConfig{Diagonal: 0.9}
	}
	if logger == nil {
		logger = logrus.New()
	}
	seed := config.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &PRAMEngine{
		config: config,
		logger: logger,
		rng:    rand.New(rand.NewSource(seed)),
	}
}

// Apply post-randomizes every configured variable in place. Matrices are
// resolved and validated for all variables before the first draw, so a
// failed invocation leaves the table unmodified.
func (pe *PRAMEngine) Apply(ctx context.Context, t *models.Table) (*PRAMResult, error) {
	if len(pe.config.Variables) == 0 {
		return nil, errors.NewParameterError("NO_VARIABLES", "PRAM needs at least one target variable")
	}

	type target struct {
		col    *models.Column
		matrix *TransitionMatrix
		index  map[string]int
	}
	targets := make([]target, 0, len(pe.config.Variables))
	for _, name := range pe.config.Variables {
		col, ok := t.Column(name)
		if !ok {
			return nil, errors.NewSchemaError("COLUMN_NOT_FOUND", errors.ErrColumnNotFound.Error()).
				WithContext("column", name)
		}
		if col.Kind != models.KindCategorical {
			return nil, errors.NewSchemaError("WRONG_KIND", errors.ErrWrongColumnKind.Error()).
				WithContext("column", name)
		}

		matrix := pe.config.Matrices[name]
		if matrix == nil {
			if pe.config.Diagonal == 0 {
				return nil, errors.NewParameterError("MISSING_MATRIX",
					fmt.Sprintf("%s: %q", errors.ErrMissingTransition.Error(), name))
			}
			var err error
			matrix, err = IdentityBiased(col.Levels(), pe.config.Diagonal)
			if err != nil {
				return nil, err
			}
		}
		if err := matrix.Validate(); err != nil {
			return nil, err
		}

		index := make(map[string]int, len(matrix.Levels))
		for i, l := range matrix.Levels {
			index[l] = i
		}
		for _, l := range col.Levels() {
			if _, ok := index[l]; !ok {
				return nil, errors.NewParameterError("INCOMPLETE_MATRIX",
					fmt.Sprintf("transition matrix for %q lacks level %q", name, l))
			}
		}
		targets = append(targets, target{col: col, matrix: matrix, index: index})
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	result := &PRAMResult{ChangedPerVariable: make(map[string]int)}
	for i, tgt := range targets {
		name := pe.config.Variables[i]
		for row, v := range tgt.col.Cat {
			if v == models.MissingCell {
				continue
			}
			drawn := tgt.matrix.Levels[pe.drawFrom(tgt.matrix.P[tgt.index[v]])]
			if drawn != v {
				tgt.col.Cat[row] = drawn
				result.ChangedPerVariable[name]++
				result.TotalChanged++
			}
		}
	}

	pe.logger.WithFields(logrus.Fields{
		"variables": pe.config.Variables,
		"changed":   result.TotalChanged,
	}).Info("PRAM applied")
	return result, nil
}

// drawFrom samples an index from one transition row.
func (pe *PRAMEngine) drawFrom(row []float64) int {
	u := pe.rng.Float64()
	cum := 0.0
	for j, p := range row {
		cum += p
		if u < cum {
			return j
		}
	}
	return len(row) - 1
}
