package perturb

import (
	"context"
	"math"
	"math/rand"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat"

	"github.com/Abmstpha/sdckit/pkg/errors"
	"github.com/Abmstpha/sdckit/pkg/models"
)

func noiseFixture(t *testing.T, n int, seed int64) *models.Table {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	income := make([]float64, n)
	hours := make([]float64, n)
	for i := range income {
		z := rng.NormFloat64()
		income[i] = 2000 + 800*z
		// hours correlates strongly with income
		hours[i] = 38 + 6*z + 1.5*rng.NormFloat64()
	}
	table := models.NewTable(n)
	require.NoError(t, table.AddColumn(&models.Column{Name: "income", Kind: models.KindNumeric, Num: income}))
	require.NoError(t, table.AddColumn(&models.Column{Name: "hours", Kind: models.KindNumeric, Num: hours}))
	return table
}

func TestAddNoiseRejectsBadConfig(t *testing.T) {
	table := noiseFixture(t, 10, 1)

	_, err := NewNoiseEngine(&NoiseConfig{Method: NoiseAdditive, Magnitude: 0, Keys: []string{"income"}}, logrus.New()).
		AddNoise(context.Background(), table)
	assert.True(t, errors.IsParameterError(err))

	_, err = NewNoiseEngine(&NoiseConfig{Method: "laplace", Magnitude: 0.1, Keys: []string{"income"}}, logrus.New()).
		AddNoise(context.Background(), table)
	assert.True(t, errors.IsParameterError(err))

	_, err = NewNoiseEngine(&NoiseConfig{Method: NoiseAdditive, Magnitude: 0.1, Keys: []string{"nope"}}, logrus.New()).
		AddNoise(context.Background(), table)
	assert.True(t, errors.IsSchemaError(err))

	income, _ := table.Column("income")
	fresh := noiseFixture(t, 10, 1)
	want, _ := fresh.Column("income")
	assert.Equal(t, want.Num, income.Num, "failed invocations leave the table unmodified")
}

func TestAddNoiseDeterministicWithSeed(t *testing.T) {
	cfg := &NoiseConfig{Method: NoiseAdditive, Magnitude: 0.1, Keys: []string{"income"}, Seed: 42}

	a := noiseFixture(t, 50, 2)
	b := noiseFixture(t, 50, 2)
	_, err := NewNoiseEngine(cfg, logrus.New()).AddNoise(context.Background(), a)
	require.NoError(t, err)
	_, err = NewNoiseEngine(cfg, logrus.New()).AddNoise(context.Background(), b)
	require.NoError(t, err)

	colA, _ := a.Column("income")
	colB, _ := b.Column("income")
	assert.Equal(t, colA.Num, colB.Num)
}

func TestAddNoiseSkipsMissingCells(t *testing.T) {
	table := noiseFixture(t, 10, 3)
	income, _ := table.Column("income")
	income.Num[4] = math.NaN()

	result, err := NewNoiseEngine(&NoiseConfig{Method: NoiseAdditive, Magnitude: 0.2, Keys: []string{"income"}, Seed: 7}, logrus.New()).
		AddNoise(context.Background(), table)
	require.NoError(t, err)

	assert.Equal(t, 9, result.CellsPerturbed)
	assert.True(t, models.MissingNumeric(income.Num[4]))
}

func TestAdditiveNoiseMagnitude(t *testing.T) {
	// With magnitude m, the added noise has standard deviation m*sd per
	// column; check the realized perturbation on a large sample.
	const n = 5000
	const m = 0.2
	table := noiseFixture(t, n, 4)
	original, _ := table.Column("income")
	before := append([]float64(nil), original.Num...)
	sd := stat.StdDev(before, nil)

	_, err := NewNoiseEngine(&NoiseConfig{Method: NoiseAdditive, Magnitude: m, Keys: []string{"income"}, Seed: 11}, logrus.New()).
		AddNoise(context.Background(), table)
	require.NoError(t, err)

	after, _ := table.Column("income")
	diffs := make([]float64, n)
	for i := range diffs {
		diffs[i] = after.Num[i] - before[i]
	}
	assert.InDelta(t, m*sd, stat.StdDev(diffs, nil), 0.05*m*sd)
}

func TestCorrelatedNoisePreservesCorrelation(t *testing.T) {
	const n = 5000
	table := noiseFixture(t, n, 5)
	income, _ := table.Column("income")
	hours, _ := table.Column("hours")
	beforeIncome := append([]float64(nil), income.Num...)
	beforeHours := append([]float64(nil), hours.Num...)

	_, err := NewNoiseEngine(&NoiseConfig{Method: NoiseCorrelated, Magnitude: 0.3, Keys: []string{"income", "hours"}, Seed: 13}, logrus.New()).
		AddNoise(context.Background(), table)
	require.NoError(t, err)

	// The noise itself must carry the empirical correlation of the data.
	di := make([]float64, n)
	dh := make([]float64, n)
	for i := range di {
		di[i] = income.Num[i] - beforeIncome[i]
		dh[i] = hours.Num[i] - beforeHours[i]
	}
	dataCorr := stat.Correlation(beforeIncome, beforeHours, nil)
	noiseCorr := stat.Correlation(di, dh, nil)
	assert.InDelta(t, dataCorr, noiseCorr, 0.1)

	// And the perturbed variance is sigma^2 * (1 + m^2).
	varBefore := stat.Variance(beforeIncome, nil)
	varAfter := stat.Variance(income.Num, nil)
	assert.InDelta(t, varBefore*(1+0.3*0.3), varAfter, 0.1*varBefore)
}

func TestCorrelatedNoiseSingularCovariance(t *testing.T) {
	// Two perfectly collinear columns give a singular covariance matrix.
	const n = 40
	a := make([]float64, n)
	b := make([]float64, n)
	for i := range a {
		a[i] = float64(i)
		b[i] = 2 * float64(i)
	}
	table := models.NewTable(n)
	require.NoError(t, table.AddColumn(&models.Column{Name: "a", Kind: models.KindNumeric, Num: a}))
	require.NoError(t, table.AddColumn(&models.Column{Name: "b", Kind: models.KindNumeric, Num: b}))

	_, err := NewNoiseEngine(&NoiseConfig{Method: NoiseCorrelated, Magnitude: 0.1, Keys: []string{"a", "b"}, Seed: 17}, logrus.New()).
		AddNoise(context.Background(), table)
	require.Error(t, err)
	assert.True(t, errors.IsDegeneracy(err))

	col, _ := table.Column("a")
	assert.Equal(t, a, col.Num, "degenerate runs leave the table unmodified")
}
