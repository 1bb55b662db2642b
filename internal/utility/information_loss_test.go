package utility

import (
	"math"
	"math/rand"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Abmstpha/sdckit/pkg/errors"
	"github.com/Abmstpha/sdckit/pkg/models"
)

func utilityFixture(t *testing.T, n int, seed int64) *models.Table {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	income := make([]float64, n)
	hours := make([]float64, n)
	for i := range income {
		income[i] = 1500 + 600*rng.NormFloat64()
		hours[i] = 37 + 5*rng.NormFloat64()
	}
	table := models.NewTable(n)
	require.NoError(t, table.AddColumn(&models.Column{Name: "income", Kind: models.KindNumeric, Num: income}))
	require.NoError(t, table.AddColumn(&models.Column{Name: "hours", Kind: models.KindNumeric, Num: hours}))
	return table
}

func TestInformationLossZeroOnIdenticalTables(t *testing.T) {
	table := utilityFixture(t, 50, 1)
	evaluator := NewEvaluator(logrus.New())

	il, err := evaluator.InformationLoss(table, table.Clone(), []string{"income", "hours"})
	require.NoError(t, err)
	assert.Zero(t, il)

	es, err := evaluator.EigenShift(table, table.Clone(), []string{"income", "hours"})
	require.NoError(t, err)
	assert.InDelta(t, 0, es, 1e-12)
}

func TestInformationLossGrowsWithPerturbation(t *testing.T) {
	table := utilityFixture(t, 100, 2)
	small := table.Clone()
	large := table.Clone()
	incomeSmall, _ := small.Column("income")
	incomeLarge, _ := large.Column("income")
	for i := range incomeSmall.Num {
		incomeSmall.Num[i] += 10
		incomeLarge.Num[i] += 100
	}

	evaluator := NewEvaluator(logrus.New())
	ilSmall, err := evaluator.InformationLoss(table, small, []string{"income"})
	require.NoError(t, err)
	ilLarge, err := evaluator.InformationLoss(table, large, []string{"income"})
	require.NoError(t, err)

	assert.Greater(t, ilSmall, 0.0)
	assert.Greater(t, ilLarge, ilSmall)
}

func TestInformationLossSkipsMissingCells(t *testing.T) {
	table := utilityFixture(t, 20, 3)
	anon := table.Clone()
	income, _ := anon.Column("income")
	income.Num[0] = math.NaN()

	evaluator := NewEvaluator(logrus.New())
	il, err := evaluator.InformationLoss(table, anon, []string{"income"})
	require.NoError(t, err)
	assert.Zero(t, il, "the only differing cell is missing and must be skipped")
}

func TestEvaluateSchemaErrors(t *testing.T) {
	table := utilityFixture(t, 10, 4)
	evaluator := NewEvaluator(logrus.New())

	_, err := evaluator.Evaluate(table, table.Clone(), nil)
	assert.True(t, errors.IsParameterError(err))

	_, err = evaluator.Evaluate(table, table.Clone(), []string{"nope"})
	assert.True(t, errors.IsSchemaError(err))

	short := utilityFixture(t, 5, 5)
	_, err = evaluator.Evaluate(table, short, []string{"income"})
	assert.True(t, errors.IsSchemaError(err))
}

func TestEvaluateDegenerateEigenFallsBackToNaN(t *testing.T) {
	// Two records and two variables leave too few complete cases for a
	// covariance estimate; the information loss must still come through.
	table := utilityFixture(t, 2, 6)
	evaluator := NewEvaluator(logrus.New())

	snapshot, err := evaluator.Evaluate(table, table.Clone(), []string{"income", "hours"})
	require.NoError(t, err)
	assert.Zero(t, snapshot.InformationLoss)
	assert.True(t, math.IsNaN(snapshot.EigenShift))
}
