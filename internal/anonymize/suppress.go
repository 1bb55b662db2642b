package anonymize

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/Abmstpha/sdckit/internal/risk"
	"github.com/Abmstpha/sdckit/pkg/errors"
	"github.com/Abmstpha/sdckit/pkg/models"
)

// SuppressionConfig controls the local suppression engine.
type SuppressionConfig struct {
	K    int            `json:"k" mapstructure:"k"`
	Keys models.KeyVars `json:"key_variables" mapstructure:"key_variables"`
	// Importance weighs the cost of suppressing each categorical key;
	// higher means the variable is more valuable and suppressed later.
	// Unlisted variables have importance 1.
	Importance map[string]float64 `json:"importance,omitempty" mapstructure:"importance"`
}

// SuppressionResult reports what the engine did.
type SuppressionResult struct {
	SuppressedPerVariable map[string]int `json:"suppressed_per_variable"`
	TotalSuppressed       int            `json:"total_suppressed"`
	Iterations            int            `json:"iterations"`
}

// Suppressor guarantees a target k-anonymity threshold on the categorical
// key variables by nulling individual cells, choosing greedily the variable
// whose suppression lifts the most records per cell lost.
type Suppressor struct {
	config *SuppressionConfig
	logger *logrus.Logger
}

// NewSuppressor creates a local suppression engine.
func NewSuppressor(config *SuppressionConfig, logger *logrus.Logger) *Suppressor {
	if config == nil {
		config = &SuppressionConfig{K: 3}
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Suppressor{config: config, logger: logger}
}

// Suppress applies greedy local suppression until every equivalence class
// over the categorical key variables has size >= K. On infeasibility the
// table is left unmodified and ErrInfeasible is returned. Numeric key
// variables are never touched.
func (s *Suppressor) Suppress(ctx context.Context, t *models.Table) (*SuppressionResult, error) {
	if s.config.K < 1 {
		return nil, errors.NewParameterError("INVALID_K", errors.ErrInvalidThreshold.Error()).
			WithContext("k", s.config.K)
	}
	if err := s.config.Keys.Validate(t); err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeSchema, "INVALID_KEYS", "key variable validation failed")
	}
	if s.config.K > t.Rows() {
		return nil, errors.NewParameterError("INFEASIBLE_K", errors.ErrInfeasible.Error()).
			WithContext("k", s.config.K).WithContext("records", t.Rows())
	}

	// Work on a clone so a failed run never leaves partial suppression.
	work := t.Clone()
	estimator := risk.NewEstimator(&risk.Config{K: s.config.K, Keys: s.config.Keys}, s.logger)
	keyNames := s.config.Keys.Categorical

	result := &SuppressionResult{SuppressedPerVariable: make(map[string]int)}

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		violators := s.violatingRows(estimator, work)
		if len(violators) == 0 {
			break
		}

		bestVar := -1
		bestGain := 0.0
		bestLifted := 0
		bestCost := 0
		fallbackVar := -1
		fallbackCost := 0.0
		fallbackCells := 0
		for j, name := range keyNames {
			lifted, cost := s.evaluateCandidate(estimator, work, name, violators)
			if cost == 0 {
				continue
			}
			weighted := float64(cost) * s.importance(name)
			if fallbackVar < 0 || weighted < fallbackCost {
				fallbackVar, fallbackCost, fallbackCells = j, weighted, cost
			}
			if lifted == 0 {
				continue
			}
			gain := float64(lifted) / weighted
			if bestVar < 0 || gain > bestGain {
				bestVar, bestGain, bestLifted, bestCost = j, gain, lifted, cost
			}
		}
		if bestVar < 0 {
			// No single variable lifts a record to the threshold this
			// round. Suppress the cheapest variable anyway so classes keep
			// merging; infeasibility is only declared once every violator
			// cell is already suppressed.
			if fallbackVar < 0 {
				return nil, errors.NewPipelineError("INFEASIBLE", errors.ErrInfeasible.Error()).
					WithContext("k", s.config.K).WithContext("violations", len(violators))
			}
			bestVar, bestLifted, bestCost = fallbackVar, 0, fallbackCells
		}

		name := keyNames[bestVar]
		col, _ := work.Column(name)
		for _, row := range violators {
			if col.Cat[row] != models.MissingCell {
				col.Cat[row] = models.MissingCell
			}
		}
		result.SuppressedPerVariable[name] += bestCost
		result.TotalSuppressed += bestCost
		result.Iterations++

		s.logger.WithFields(logrus.Fields{
			"variable":   name,
			"suppressed": bestCost,
			"lifted":     bestLifted,
		}).Debug("Suppression step")
	}

	// Copy suppressed key columns back into the caller's table.
	for _, name := range keyNames {
		src, _ := work.Column(name)
		dst, _ := t.Column(name)
		copy(dst.Cat, src.Cat)
	}

	s.logger.WithFields(logrus.Fields{
		"k":            s.config.K,
		"suppressed":   result.TotalSuppressed,
		"iterations":   result.Iterations,
		"per_variable": result.SuppressedPerVariable,
	}).Info("Local suppression complete")
	return result, nil
}

func (s *Suppressor) importance(name string) float64 {
	if w, ok := s.config.Importance[name]; ok && w > 0 {
		return w
	}
	return 1
}

func (s *Suppressor) violatingRows(e *risk.Estimator, t *models.Table) []int {
	classes, _ := e.BuildClasses(t)
	var rows []int
	for _, class := range classes {
		if class.Size < s.config.K {
			rows = append(rows, class.Rows...)
		}
	}
	return rows
}

// evaluateCandidate simulates suppressing one key variable on all violating
// records and reports how many of them reach the threshold and how many
// cells the suppression costs.
func (s *Suppressor) evaluateCandidate(e *risk.Estimator, t *models.Table, name string, violators []int) (lifted, cost int) {
	col, _ := t.Column(name)

	restore := make(map[int]string, len(violators))
	for _, row := range violators {
		if col.Cat[row] != models.MissingCell {
			restore[row] = col.Cat[row]
			col.Cat[row] = models.MissingCell
			cost++
		}
	}
	if cost == 0 {
		return 0, 0
	}

	classes, classOf := e.BuildClasses(t)
	for _, row := range violators {
		if classes[classOf[row]].Size >= s.config.K {
			lifted++
		}
	}

	for row, v := range restore {
		col.Cat[row] = v
	}
	return lifted, cost
}
