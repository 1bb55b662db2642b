package risk

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/Abmstpha/sdckit/pkg/errors"
	"github.com/Abmstpha/sdckit/pkg/models"
)

// Config controls disclosure-risk estimation.
type Config struct {
	K        int            `json:"k" mapstructure:"k"`
	Keys     models.KeyVars `json:"key_variables" mapstructure:"key_variables"`
	UseModel bool           `json:"use_model" mapstructure:"use_model"`
}

// Estimator computes frequency-based and model-based disclosure-risk
// measures over the categorical key variables of a table.
type Estimator struct {
	config *Config
	logger *logrus.Logger
}

// Class is one equivalence class: the records sharing identical values on
// all categorical key variables.
type Class struct {
	Key    string
	Rows   []int
	Size   int
	Weight float64 // estimated population frequency (sum of sampling weights)
}

// Profile is the risk profile of a table at one point in the pipeline. It
// is recomputed from scratch after every mutating stage.
type Profile struct {
	Classes          []*Class
	ClassOf          []int
	Records          int
	Violations       int // records in classes smaller than K
	ViolatingClasses int
	ExpectedReident  float64 // expected re-identification count
	GlobalRisk       float64 // ExpectedReident / Records
	ModelBased       bool
}

// NewEstimator creates a risk estimator.
func NewEstimator(config *Config, logger *logrus.Logger) *Estimator {
	if config == nil {
		config = &Config{K: 3}
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Estimator{config: config, logger: logger}
}

// Measure computes the risk profile of the table. With UseModel set it
// smooths the population frequencies with a log-linear model first and
// falls back to the frequency-based estimate if the model degenerates.
func (e *Estimator) Measure(ctx context.Context, t *models.Table) (*Profile, error) {
	if t.Rows() == 0 {
		return nil, errors.NewSchemaError("EMPTY_TABLE", errors.ErrEmptyTable.Error())
	}
	if e.config.K < 1 {
		return nil, errors.NewParameterError("INVALID_K", errors.ErrInvalidThreshold.Error()).
			WithContext("k", e.config.K)
	}
	if err := e.config.Keys.Validate(t); err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeSchema, "INVALID_KEYS", "key variable validation failed")
	}

	profile := e.frequencyProfile(t)

	if e.config.UseModel {
		if err := e.applyModel(ctx, t, profile); err != nil {
			if errors.IsDegeneracy(err) {
				e.logger.WithError(err).Warn("Log-linear model degenerate, keeping frequency-based risk")
			} else {
				return nil, err
			}
		}
	}

	e.logger.WithFields(logrus.Fields{
		"records":     profile.Records,
		"classes":     len(profile.Classes),
		"k":           e.config.K,
		"violations":  profile.Violations,
		"global_risk": profile.GlobalRisk,
		"model_based": profile.ModelBased,
	}).Info("Risk measured")

	return profile, nil
}

// BuildClasses groups records into equivalence classes over the configured
// categorical key variables. Missing cells match missing cells.
func (e *Estimator) BuildClasses(t *models.Table) ([]*Class, []int) {
	keyCols := e.config.Keys.CategoricalColumns(t)
	var weightCol *models.Column
	if e.config.Keys.Weight != "" {
		weightCol, _ = t.Column(e.config.Keys.Weight)
	}

	classMap := make(map[string]*Class)
	classOf := make([]int, t.Rows())
	var classes []*Class

	for i := 0; i < t.Rows(); i++ {
		key := t.KeyTuple(i, keyCols)
		class, exists := classMap[key]
		if !exists {
			class = &Class{Key: key}
			classMap[key] = class
			classes = append(classes, class)
		}
		class.Rows = append(class.Rows, i)
		class.Size++
		if weightCol != nil && !weightCol.IsMissing(i) {
			class.Weight += weightCol.Num[i]
		} else {
			class.Weight++
		}
		classOf[i] = -1 // resolved below once ordering is final
	}

	// Largest classes first, ties by key for determinism.
	sort.Slice(classes, func(i, j int) bool {
		if classes[i].Size != classes[j].Size {
			return classes[i].Size > classes[j].Size
		}
		return classes[i].Key < classes[j].Key
	})
	for idx, class := range classes {
		for _, row := range class.Rows {
			classOf[row] = idx
		}
	}
	return classes, classOf
}

func (e *Estimator) frequencyProfile(t *models.Table) *Profile {
	classes, classOf := e.BuildClasses(t)

	profile := &Profile{
		Classes: classes,
		ClassOf: classOf,
		Records: t.Rows(),
	}
	for _, class := range classes {
		if class.Size < e.config.K {
			profile.Violations += class.Size
			profile.ViolatingClasses++
		}
		// Each record's contribution is its inverse estimated population
		// frequency; without weights this degrades to 1/sample-size.
		profile.ExpectedReident += float64(class.Size) / class.Weight
	}
	profile.GlobalRisk = profile.ExpectedReident / float64(profile.Records)
	return profile
}

// applyModel replaces the class population-frequency estimates with fitted
// values from a Poisson log-linear model over key-variable main effects,
// then recomputes the expected re-identification count.
func (e *Estimator) applyModel(ctx context.Context, t *models.Table, profile *Profile) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	fitted, err := fitLogLinear(profile.Classes, len(e.config.Keys.Categorical))
	if err != nil {
		return err
	}

	expected := 0.0
	for i, class := range profile.Classes {
		f := fitted[i]
		if f < float64(class.Size) {
			// A population estimate below the sample frequency is
			// impossible; clamp to the observed count.
			f = float64(class.Size)
		}
		expected += float64(class.Size) / f
	}
	profile.ExpectedReident = expected
	profile.GlobalRisk = expected / float64(profile.Records)
	profile.ModelBased = true
	return nil
}

// ViolationSummary formats per-class violation counts for the run report.
func (p *Profile) ViolationSummary(k int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d of %d records violate %d-anonymity (%d classes)",
		p.Violations, p.Records, k, p.ViolatingClasses)
	return b.String()
}

// SmallestClassSize returns the minimum equivalence-class size, or 0 for an
// empty profile.
func (p *Profile) SmallestClassSize() int {
	min := 0
	for _, c := range p.Classes {
		if min == 0 || c.Size < min {
			min = c.Size
		}
	}
	return min
}
