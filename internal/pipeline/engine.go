package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/Abmstpha/sdckit/internal/anonymize"
	"github.com/Abmstpha/sdckit/internal/perturb"
	"github.com/Abmstpha/sdckit/internal/risk"
	"github.com/Abmstpha/sdckit/internal/utility"
	"github.com/Abmstpha/sdckit/pkg/errors"
	"github.com/Abmstpha/sdckit/pkg/models"
)

// Stage names, in execution order.
const (
	StageRecode   = "recode"
	StageSuppress = "suppress"
	StageMicroagg = "microaggregate"
	StageNoise    = "noise"
	StagePRAM     = "pram"
)

// RecodeSpec describes one global recoding. Either Breaks+Labels (numeric
// interval recoding) or Mapping (categorical label collapse) is set.
type RecodeSpec struct {
	Column  string            `json:"column" mapstructure:"column"`
	Breaks  []float64         `json:"breaks,omitempty" mapstructure:"breaks"`
	Labels  []string          `json:"labels,omitempty" mapstructure:"labels"`
	Mapping map[string]string `json:"mapping,omitempty" mapstructure:"mapping"`
}

// Config is the full configuration surface of one pipeline invocation. All
// parameters are explicit; there is no ambient global state.
type Config struct {
	Keys       models.KeyVars       `json:"key_variables" mapstructure:"key_variables"`
	K          int                  `json:"k" mapstructure:"k"`
	UseModel   bool                 `json:"use_model" mapstructure:"use_model"`
	Recodes    []RecodeSpec         `json:"recodes,omitempty" mapstructure:"recodes"`
	Suppress   bool                 `json:"suppress" mapstructure:"suppress"`
	Importance map[string]float64   `json:"importance,omitempty" mapstructure:"importance"`
	GroupSize  int                  `json:"group_size,omitempty" mapstructure:"group_size"` // 0 skips microaggregation
	Noise      *perturb.NoiseConfig `json:"noise,omitempty" mapstructure:"noise"`
	PRAM       *perturb.PRAMConfig  `json:"pram,omitempty" mapstructure:"pram"`
}

// StageReport is the printed summary after one stage.
type StageReport struct {
	Stage           string        `json:"stage"`
	Detail          string        `json:"detail,omitempty"`
	Skipped         bool          `json:"skipped,omitempty"`
	Warning         string        `json:"warning,omitempty"`
	Violations      int           `json:"violations"`
	SmallestClass   int           `json:"smallest_class"`
	GlobalRisk      float64       `json:"global_risk"`
	InformationLoss float64       `json:"information_loss"`
	Duration        time.Duration `json:"duration"`
}

// RunReport is the complete audit trail of a pipeline run.
type RunReport struct {
	RunID       string                       `json:"run_id"`
	Records     int                          `json:"records"`
	K           int                          `json:"k"`
	InitialRisk float64                      `json:"initial_risk"`
	FinalRisk   float64                      `json:"final_risk"`
	Stages      []StageReport                `json:"stages"`
	Suppression *anonymize.SuppressionResult `json:"suppression,omitempty"`
	Utility     *utility.Snapshot            `json:"utility,omitempty"`
}

// Pipeline owns the single evolving working table and threads it through
// the anonymization stages in a strict linear order, recomputing the risk
// profile and utility snapshot after every mutating stage. Single-threaded
// by design: each stage fully consumes its input before the next begins.
type Pipeline struct {
	config *Config
	logger *logrus.Logger

	recoder    *anonymize.Recoder
	suppressor *anonymize.Suppressor
	estimator  *risk.Estimator
	evaluator  *utility.Evaluator
}

// New creates a pipeline driver.
func New(config *Config, logger *logrus.Logger) *Pipeline {
	if config == nil {
		config = &Config{K: 3, Suppress: true}
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Pipeline{
		config:     config,
		logger:     logger,
		recoder:    anonymize.NewRecoder(logger),
		suppressor: anonymize.NewSuppressor(&anonymize.SuppressionConfig{K: config.K, Keys: config.Keys, Importance: config.Importance}, logger),
		estimator:  risk.NewEstimator(&risk.Config{K: config.K, Keys: config.Keys, UseModel: config.UseModel}, logger),
		evaluator:  utility.NewEvaluator(logger),
	}
}

// Run executes the configured stages against a copy of the input table and
// returns the anonymized table with the run report. The input table is
// never modified; any stage error aborts the run, except statistical
// degeneracy in an optional stage, which skips that stage with a warning.
func (p *Pipeline) Run(ctx context.Context, input *models.Table) (*models.Table, *RunReport, error) {
	if p.config.K < 1 {
		return nil, nil, errors.NewParameterError("INVALID_K", errors.ErrInvalidThreshold.Error()).
			WithContext("k", p.config.K)
	}
	if err := p.config.Keys.Validate(input); err != nil {
		return nil, nil, errors.WrapError(err, errors.ErrorTypeSchema, "INVALID_KEYS", "key variable validation failed")
	}

	report := &RunReport{
		RunID:   uuid.New().String(),
		Records: input.Rows(),
		K:       p.config.K,
	}
	log := p.logger.WithField("run_id", report.RunID)
	log.WithFields(logrus.Fields{
		"records": input.Rows(),
		"k":       p.config.K,
	}).Info("Pipeline run starting")

	working := input.Clone()

	initial, err := p.estimator.Measure(ctx, working)
	if err != nil {
		return nil, nil, err
	}
	report.InitialRisk = initial.GlobalRisk

	// Recoding happens before suppression so the coarser domains reduce
	// how many cells suppression has to spend.
	for _, spec := range p.config.Recodes {
		if err := p.runRecode(ctx, working, input, spec, report); err != nil {
			return nil, nil, err
		}
	}

	if p.config.Suppress {
		start := time.Now()
		result, err := p.suppressor.Suppress(ctx, working)
		if err != nil {
			return nil, nil, err
		}
		report.Suppression = result
		p.appendStage(ctx, report, working, input, StageSuppress,
			fmt.Sprintf("%d cells suppressed in %d iterations", result.TotalSuppressed, result.Iterations),
			start, "")
	}

	if p.config.GroupSize > 0 {
		start := time.Now()
		aggregator := anonymize.NewAggregator(&anonymize.MicroaggregationConfig{
			GroupSize: p.config.GroupSize,
			Keys:      p.config.Keys.Numeric,
		}, p.logger)
		result, err := aggregator.Aggregate(ctx, working)
		if err != nil {
			return nil, nil, err
		}
		p.appendStage(ctx, report, working, input, StageMicroagg,
			fmt.Sprintf("%d groups, sizes %d..%d", result.Groups, result.MinGroupSize, result.MaxGroupSize),
			start, "")
	}

	if p.config.Noise != nil {
		start := time.Now()
		engine := perturb.NewNoiseEngine(p.config.Noise, p.logger)
		result, err := engine.AddNoise(ctx, working)
		switch {
		case err == nil:
			p.appendStage(ctx, report, working, input, StageNoise,
				fmt.Sprintf("%s noise on %d cells", result.Method, result.CellsPerturbed), start, "")
		case errors.IsDegeneracy(err):
			// Stage skipped, table untouched; surfaced on the report.
			log.WithError(err).Warn("Noise stage skipped")
			report.Stages = append(report.Stages, StageReport{Stage: StageNoise, Skipped: true, Warning: err.Error()})
		default:
			return nil, nil, err
		}
	}

	if p.config.PRAM != nil {
		start := time.Now()
		engine := perturb.NewPRAMEngine(p.config.PRAM, p.logger)
		result, err := engine.Apply(ctx, working)
		switch {
		case err == nil:
			p.appendStage(ctx, report, working, input, StagePRAM,
				fmt.Sprintf("%d values transitioned", result.TotalChanged), start, "")
		case errors.IsDegeneracy(err):
			log.WithError(err).Warn("PRAM stage skipped")
			report.Stages = append(report.Stages, StageReport{Stage: StagePRAM, Skipped: true, Warning: err.Error()})
		default:
			return nil, nil, err
		}
	}

	final, err := p.estimator.Measure(ctx, working)
	if err != nil {
		return nil, nil, err
	}
	report.FinalRisk = final.GlobalRisk

	if len(p.config.Keys.Numeric) > 0 {
		snapshot, err := p.evaluator.Evaluate(input, working, p.config.Keys.Numeric)
		if err != nil {
			return nil, nil, err
		}
		report.Utility = snapshot
	}

	log.WithFields(logrus.Fields{
		"initial_risk": report.InitialRisk,
		"final_risk":   report.FinalRisk,
		"stages":       len(report.Stages),
	}).Info("Pipeline run complete")
	return working, report, nil
}

func (p *Pipeline) runRecode(ctx context.Context, working, original *models.Table, spec RecodeSpec, report *RunReport) error {
	start := time.Now()
	var err error
	var detail string
	switch {
	case len(spec.Breaks) > 0:
		err = p.recoder.RecodeNumeric(working, spec.Column, spec.Breaks, spec.Labels)
		detail = fmt.Sprintf("%s into %d intervals", spec.Column, len(spec.Labels))
	case len(spec.Mapping) > 0:
		err = p.recoder.RecodeCategorical(working, spec.Column, spec.Mapping)
		detail = fmt.Sprintf("%s labels collapsed", spec.Column)
	default:
		err = errors.NewParameterError("EMPTY_RECODE",
			fmt.Sprintf("recode spec for %q has neither breaks nor mapping", spec.Column))
	}
	if err != nil {
		return err
	}
	p.appendStage(ctx, report, working, original, StageRecode, detail, start, "")
	return nil
}

// appendStage recomputes risk (and utility when numeric keys exist) on the
// working table and records the stage summary.
func (p *Pipeline) appendStage(ctx context.Context, report *RunReport, working, original *models.Table, stage, detail string, start time.Time, warning string) {
	entry := StageReport{
		Stage:    stage,
		Detail:   detail,
		Warning:  warning,
		Duration: time.Since(start),
	}
	if profile, err := p.estimator.Measure(ctx, working); err == nil {
		entry.Violations = profile.Violations
		entry.SmallestClass = profile.SmallestClassSize()
		entry.GlobalRisk = profile.GlobalRisk
	}
	if len(p.config.Keys.Numeric) > 0 {
		if il, err := p.evaluator.InformationLoss(original, working, p.config.Keys.Numeric); err == nil {
			entry.InformationLoss = il
		}
	}
	report.Stages = append(report.Stages, entry)
}

// String renders the run report for the console.
func (r *RunReport) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Run %s: %d records, k=%d\n", r.RunID, r.Records, r.K)
	fmt.Fprintf(&b, "Global risk: %.4f -> %.4f\n", r.InitialRisk, r.FinalRisk)
	for _, s := range r.Stages {
		if s.Skipped {
			fmt.Fprintf(&b, "  [%s] skipped: %s\n", s.Stage, s.Warning)
			continue
		}
		fmt.Fprintf(&b, "  [%s] %s | violations=%d smallest_class=%d risk=%.4f loss=%.4f\n",
			s.Stage, s.Detail, s.Violations, s.SmallestClass, s.GlobalRisk, s.InformationLoss)
	}
	if r.Suppression != nil {
		fmt.Fprintf(&b, "Suppressed cells per variable: %v\n", r.Suppression.SuppressedPerVariable)
	}
	if r.Utility != nil {
		fmt.Fprintf(&b, "Information loss: %.4f, eigenvalue shift: %.4f\n",
			r.Utility.InformationLoss, r.Utility.EigenShift)
	}
	return b.String()
}
