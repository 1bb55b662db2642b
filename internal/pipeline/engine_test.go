package pipeline

import (
	"context"
	"math/rand"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Abmstpha/sdckit/internal/perturb"
	"github.com/Abmstpha/sdckit/internal/risk"
	"github.com/Abmstpha/sdckit/pkg/errors"
	"github.com/Abmstpha/sdckit/pkg/models"
)

// pipelineFixture builds a survey-like table: two categorical keys with a
// handful of levels each, a numeric key, and a sampling weight.
func pipelineFixture(t *testing.T, n int, seed int64) *models.Table {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	regions := make([]string, n)
	education := make([]string, n)
	age := make([]float64, n)
	income := make([]float64, n)
	weight := make([]float64, n)
	regionLevels := []string{"north", "south", "east", "west"}
	eduLevels := []string{"primary", "secondary", "tertiary"}
	for i := 0; i < n; i++ {
		regions[i] = regionLevels[rng.Intn(len(regionLevels))]
		education[i] = eduLevels[rng.Intn(len(eduLevels))]
		age[i] = float64(18 + rng.Intn(70))
		income[i] = 1200 + 700*rng.NormFloat64()
		weight[i] = 10 + 5*rng.Float64()
	}
	table := models.NewTable(n)
	require.NoError(t, table.AddColumn(&models.Column{Name: "region", Kind: models.KindCategorical, Cat: regions}))
	require.NoError(t, table.AddColumn(&models.Column{Name: "education", Kind: models.KindCategorical, Cat: education}))
	require.NoError(t, table.AddColumn(&models.Column{Name: "age", Kind: models.KindNumeric, Num: age}))
	require.NoError(t, table.AddColumn(&models.Column{Name: "income", Kind: models.KindNumeric, Num: income}))
	require.NoError(t, table.AddColumn(&models.Column{Name: "weight", Kind: models.KindNumeric, Num: weight}))
	return table
}

func TestRunReachesThreshold(t *testing.T) {
	input := pipelineFixture(t, 100, 1)
	keys := models.KeyVars{Categorical: []string{"region", "education"}, Weight: "weight"}

	p := New(&Config{Keys: keys, K: 3, Suppress: true}, logrus.New())
	anonymized, report, err := p.Run(context.Background(), input)
	require.NoError(t, err)

	estimator := risk.NewEstimator(&risk.Config{K: 3, Keys: keys}, logrus.New())
	profile, err := estimator.Measure(context.Background(), anonymized)
	require.NoError(t, err)
	assert.Zero(t, profile.Violations, "no class may stay below k after suppression")

	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, 100, report.Records)
	assert.NotNil(t, report.Suppression)
	assert.LessOrEqual(t, report.FinalRisk, report.InitialRisk)
}

func TestRunLeavesInputUnmodified(t *testing.T) {
	input := pipelineFixture(t, 100, 2)
	snapshot := input.Clone()
	keys := models.KeyVars{Categorical: []string{"region", "education"}, Numeric: []string{"income"}}

	p := New(&Config{
		Keys:      keys,
		K:         3,
		Suppress:  true,
		GroupSize: 3,
		Noise:     &perturb.NoiseConfig{Method: perturb.NoiseAdditive, Magnitude: 0.1, Keys: []string{"income"}, Seed: 5},
	}, logrus.New())
	_, _, err := p.Run(context.Background(), input)
	require.NoError(t, err)

	for _, name := range input.ColumnNames() {
		got, _ := input.Column(name)
		want, _ := snapshot.Column(name)
		assert.Equal(t, want.Cat, got.Cat, name)
		assert.Equal(t, want.Num, got.Num, name)
	}
}

func TestRunFullStageOrder(t *testing.T) {
	input := pipelineFixture(t, 120, 3)
	keys := models.KeyVars{Categorical: []string{"region", "education"}, Numeric: []string{"income"}}

	p := New(&Config{
		Keys: keys,
		K:    2,
		Recodes: []RecodeSpec{
			{Column: "education", Mapping: map[string]string{"tertiary": "post-primary", "secondary": "post-primary"}},
		},
		Suppress:  true,
		GroupSize: 3,
		Noise:     &perturb.NoiseConfig{Method: perturb.NoiseCorrelated, Magnitude: 0.2, Keys: []string{"income"}, Seed: 7},
		PRAM:      &perturb.PRAMConfig{Variables: []string{"region"}, Diagonal: 0.9, Seed: 11},
	}, logrus.New())
	anonymized, report, err := p.Run(context.Background(), input)
	require.NoError(t, err)

	var stages []string
	for _, s := range report.Stages {
		stages = append(stages, s.Stage)
	}
	assert.Equal(t, []string{StageRecode, StageSuppress, StageMicroagg, StageNoise, StagePRAM}, stages)

	edu, _ := anonymized.Column("education")
	for _, v := range edu.Cat {
		assert.NotEqual(t, "tertiary", v, "recoding runs before everything else")
	}

	require.NotNil(t, report.Utility)
	assert.Greater(t, report.Utility.InformationLoss, 0.0)
	assert.NotEmpty(t, report.String())
}

func TestRunRecodeReducesSuppression(t *testing.T) {
	keys := models.KeyVars{Categorical: []string{"region", "education"}}

	plain := New(&Config{Keys: keys, K: 5, Suppress: true}, logrus.New())
	_, plainReport, err := plain.Run(context.Background(), pipelineFixture(t, 100, 4))
	require.NoError(t, err)

	recoded := New(&Config{
		Keys: keys,
		K:    5,
		Recodes: []RecodeSpec{
			{Column: "region", Mapping: map[string]string{"north": "n+e", "east": "n+e", "south": "s+w", "west": "s+w"}},
		},
		Suppress: true,
	}, logrus.New())
	_, recodedReport, err := recoded.Run(context.Background(), pipelineFixture(t, 100, 4))
	require.NoError(t, err)

	assert.LessOrEqual(t, recodedReport.Suppression.TotalSuppressed, plainReport.Suppression.TotalSuppressed,
		"coarser domains need no more suppression")
}

func TestRunSkipsDegenerateNoise(t *testing.T) {
	input := pipelineFixture(t, 100, 6)
	// Perfectly collinear columns make the covariance singular.
	income, _ := input.Column("income")
	double := make([]float64, len(income.Num))
	for i, v := range income.Num {
		double[i] = 2 * v
	}
	require.NoError(t, input.AddColumn(&models.Column{Name: "income2", Kind: models.KindNumeric, Num: double}))

	keys := models.KeyVars{Categorical: []string{"region", "education"}, Numeric: []string{"income", "income2"}}
	p := New(&Config{
		Keys:     keys,
		K:        2,
		Suppress: true,
		Noise:    &perturb.NoiseConfig{Method: perturb.NoiseCorrelated, Magnitude: 0.1, Keys: []string{"income", "income2"}, Seed: 13},
	}, logrus.New())
	anonymized, report, err := p.Run(context.Background(), input)
	require.NoError(t, err)

	var noiseStage *StageReport
	for i := range report.Stages {
		if report.Stages[i].Stage == StageNoise {
			noiseStage = &report.Stages[i]
		}
	}
	require.NotNil(t, noiseStage)
	assert.True(t, noiseStage.Skipped)
	assert.NotEmpty(t, noiseStage.Warning)

	got, _ := anonymized.Column("income")
	assert.Equal(t, income.Num, got.Num, "skipped stage leaves numeric values untouched")
}

func TestRunInvalidConfig(t *testing.T) {
	input := pipelineFixture(t, 20, 8)

	_, _, err := New(&Config{K: 0, Keys: models.KeyVars{Categorical: []string{"region"}}}, logrus.New()).
		Run(context.Background(), input)
	assert.True(t, errors.IsParameterError(err))

	_, _, err = New(&Config{K: 2, Keys: models.KeyVars{Categorical: []string{"nope"}}}, logrus.New()).
		Run(context.Background(), input)
	assert.True(t, errors.IsSchemaError(err))

	_, _, err = New(&Config{
		K:       2,
		Keys:    models.KeyVars{Categorical: []string{"region"}},
		Recodes: []RecodeSpec{{Column: "region"}},
	}, logrus.New()).Run(context.Background(), input)
	assert.True(t, errors.IsParameterError(err), "recode spec needs breaks or mapping")
}
