package anonymize

import (
	"context"
	"math"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat"

	"github.com/Abmstpha/sdckit/pkg/errors"
	"github.com/Abmstpha/sdckit/pkg/models"
)

// MicroaggregationConfig controls MDAV-style microaggregation.
type MicroaggregationConfig struct {
	GroupSize int      `json:"group_size" mapstructure:"group_size"`
	Keys      []string `json:"numeric_keys" mapstructure:"numeric_keys"`
}

// MicroaggregationResult reports the grouping the engine produced.
type MicroaggregationResult struct {
	Groups        int `json:"groups"`
	MinGroupSize  int `json:"min_group_size"`
	MaxGroupSize  int `json:"max_group_size"`
	CellsReplaced int `json:"cells_replaced"`
}

// Aggregator partitions records into small groups by similarity over
// standardized numeric key variables and replaces each member's values with
// the group mean (MDAV). Every group has size in [g, 2g-1].
type Aggregator struct {
	config *MicroaggregationConfig
	logger *logrus.Logger
}

// NewAggregator creates a microaggregation engine.
func NewAggregator(config *MicroaggregationConfig, logger *logrus.Logger) *Aggregator {
	if config == nil {
		config = &MicroaggregationConfig{GroupSize: 3}
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Aggregator{config: config, logger: logger}
}

// Aggregate runs MDAV over the configured numeric key variables, mutating
// them in place. Non-key columns and record order are unaffected.
func (a *Aggregator) Aggregate(ctx context.Context, t *models.Table) (*MicroaggregationResult, error) {
	g := a.config.GroupSize
	if g < 2 {
		return nil, errors.NewParameterError("INVALID_GROUP_SIZE", errors.ErrInvalidGroupSize.Error()).
			WithContext("group_size", g)
	}
	if len(a.config.Keys) == 0 {
		return nil, errors.NewParameterError("NO_NUMERIC_KEYS", "microaggregation needs at least one numeric key variable")
	}
	cols := make([]*models.Column, len(a.config.Keys))
	for i, name := range a.config.Keys {
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
	n := t.Rows()
	if n < g {
		return nil, errors.NewParameterError("TOO_FEW_RECORDS",
			"fewer records than one aggregation group").
			WithContext("records", n).WithContext("group_size", g)
	}

	z := standardize(cols, n)

	remaining := make([]int, n)
	for i := range remaining {
		remaining[i] = i
	}

	result := &MicroaggregationResult{}
	var groups [][]int
	for len(remaining) >= 2*g {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		centroid := centroidOf(z, remaining)
		seed := farthestFrom(z, remaining, centroid)
		group, rest := takeNearest(z, remaining, seed, g)
		groups = append(groups, group)
		remaining = rest
	}
	// Remainder has between g and 2g-1 records and forms the final group.
	groups = append(groups, remaining)

	for _, group := range groups {
		result.Groups++
		if result.MinGroupSize == 0 || len(group) < result.MinGroupSize {
			result.MinGroupSize = len(group)
		}
		if len(group) > result.MaxGroupSize {
			result.MaxGroupSize = len(group)
		}
		for _, col := range cols {
			mean, count := 0.0, 0
			for _, row := range group {
				if !models.MissingNumeric(col.Num[row]) {
					mean += col.Num[row]
					count++
				}
			}
			if count == 0 {
				continue
			}
			mean /= float64(count)
			for _, row := range group {
				if !models.MissingNumeric(col.Num[row]) {
					col.Num[row] = mean
					result.CellsReplaced++
				}
			}
		}
	}

	a.logger.WithFields(logrus.Fields{
		"groups":     result.Groups,
		"group_size": g,
		"min_size":   result.MinGroupSize,
		"max_size":   result.MaxGroupSize,
	}).Info("Microaggregation complete")
	return result, nil
}

// standardize z-scores each key column; missing cells map to 0 so they
// neither attract nor repel during grouping. A constant column contributes
// nothing to the distance.
func standardize(cols []*models.Column, n int) [][]float64 {
	z := make([][]float64, n)
	for i := range z {
		z[i] = make([]float64, len(cols))
	}
	for j, col := range cols {
		var clean []float64
		for _, v := range col.Num {
			if !models.MissingNumeric(v) {
				clean = append(clean, v)
			}
		}
		mean := stat.Mean(clean, nil)
		sd := stat.StdDev(clean, nil)
		for i, v := range col.Num {
			if models.MissingNumeric(v) || sd == 0 || math.IsNaN(sd) {
				z[i][j] = 0
			} else {
				z[i][j] = (v - mean) / sd
			}
		}
	}
	return z
}

func centroidOf(z [][]float64, rows []int) []float64 {
	c := make([]float64, len(z[rows[0]]))
	for _, row := range rows {
		for j, v := range z[row] {
			c[j] += v
		}
	}
	for j := range c {
		c[j] /= float64(len(rows))
	}
	return c
}

func sqDist(a, b []float64) float64 {
	d := 0.0
	for j := range a {
		diff := a[j] - b[j]
		d += diff * diff
	}
	return d
}

// farthestFrom returns the row in rows farthest from point, lowest index on
// ties so that grouping is deterministic.
func farthestFrom(z [][]float64, rows []int, point []float64) int {
	best, bestD := rows[0], -1.0
	for _, row := range rows {
		d := sqDist(z[row], point)
		if d > bestD {
			best, bestD = row, d
		}
	}
	return best
}

// takeNearest forms a group of seed plus its g-1 nearest neighbors among
// rows and returns the group and the remaining rows.
func takeNearest(z [][]float64, rows []int, seed int, g int) (group, rest []int) {
	type cand struct {
		row int
		d   float64
	}
	cands := make([]cand, 0, len(rows)-1)
	for _, row := range rows {
		if row != seed {
			cands = append(cands, cand{row: row, d: sqDist(z[row], z[seed])})
		}
	}
	// Partial selection sort: only the g-1 nearest are needed.
	for i := 0; i < g-1; i++ {
		min := i
		for j := i + 1; j < len(cands); j++ {
			if cands[j].d < cands[min].d || (cands[j].d == cands[min].d && cands[j].row < cands[min].row) {
				min = j
			}
		}
		cands[i], cands[min] = cands[min], cands[i]
	}

	group = append(group, seed)
	for i := 0; i < g-1; i++ {
		group = append(group, cands[i].row)
	}
	for i := g - 1; i < len(cands); i++ {
		rest = append(rest, cands[i].row)
	}
	return group, rest
}
