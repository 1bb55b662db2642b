package anonymize

import (
	"context"
	"math"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Abmstpha/sdckit/internal/risk"
	"github.com/Abmstpha/sdckit/pkg/models"
)

func TestRecodeNumericToIntervals(t *testing.T) {
	table := models.NewTable(5)
	require.NoError(t, table.AddColumn(&models.Column{
		Name: "age", Kind: models.KindNumeric,
		Num: []float64{17, 25, 40, 65, math.NaN()},
	}))

	recoder := NewRecoder(logrus.New())
	err := recoder.RecodeNumeric(table, "age", []float64{18, 35, 65}, []string{"18-34", "35-64"})
	require.NoError(t, err)

	age, _ := table.Column("age")
	assert.Equal(t, models.KindCategorical, age.Kind)
	assert.Equal(t, models.MissingCell, age.Cat[0], "below range")
	assert.Equal(t, "18-34", age.Cat[1])
	assert.Equal(t, "35-64", age.Cat[2])
	assert.Equal(t, "35-64", age.Cat[3], "last interval is closed")
	assert.Equal(t, models.MissingCell, age.Cat[4], "missing stays missing")
}

func TestRecodeNumericRejectsBadBreaks(t *testing.T) {
	table := models.NewTable(1)
	require.NoError(t, table.AddColumn(&models.Column{Name: "x", Kind: models.KindNumeric, Num: []float64{1}}))
	recoder := NewRecoder(logrus.New())

	assert.Error(t, recoder.RecodeNumeric(table, "x", []float64{10, 5}, []string{"a"}), "non-increasing breaks")
	assert.Error(t, recoder.RecodeNumeric(table, "x", []float64{1, 2, 3}, []string{"a"}), "label count mismatch")
	assert.Error(t, recoder.RecodeNumeric(table, "missing", []float64{1, 2}, []string{"a"}))
}

func TestRecodeCategoricalCollapse(t *testing.T) {
	table := models.NewTable(4)
	require.NoError(t, table.AddColumn(&models.Column{
		Name: "edu", Kind: models.KindCategorical,
		Cat: []string{"primary", "secondary", "tertiary", "postgraduate"},
	}))

	recoder := NewRecoder(logrus.New())
	err := recoder.RecodeCategorical(table, "edu", map[string]string{
		"tertiary":     "higher",
		"postgraduate": "higher",
	})
	require.NoError(t, err)

	edu, _ := table.Column("edu")
	assert.Equal(t, []string{"primary", "secondary", "higher", "higher"}, edu.Cat)
	assert.Len(t, edu.Levels(), 3)
}

func TestRecodeNeverIncreasesViolations(t *testing.T) {
	table := models.NewTable(6)
	require.NoError(t, table.AddColumn(&models.Column{
		Name: "edu", Kind: models.KindCategorical,
		Cat: []string{"a", "b", "c", "d", "a", "b"},
	}))

	keys := models.KeyVars{Categorical: []string{"edu"}}
	estimator := risk.NewEstimator(&risk.Config{K: 2, Keys: keys}, logrus.New())

	before, err := estimator.Measure(context.Background(), table)
	require.NoError(t, err)

	recoder := NewRecoder(logrus.New())
	require.NoError(t, recoder.RecodeCategorical(table, "edu", map[string]string{"c": "cd", "d": "cd"}))

	after, err := estimator.Measure(context.Background(), table)
	require.NoError(t, err)
	assert.LessOrEqual(t, after.Violations, before.Violations)
}
