package risk

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Abmstpha/sdckit/pkg/errors"
	"github.com/Abmstpha/sdckit/pkg/models"
)

func testTable(t *testing.T) *models.Table {
	t.Helper()
	table := models.NewTable(6)
	require.NoError(t, table.AddColumn(&models.Column{
		Name: "region", Kind: models.KindCategorical,
		Cat: []string{"n", "n", "n", "s", "s", "s"},
	}))
	require.NoError(t, table.AddColumn(&models.Column{
		Name: "sex", Kind: models.KindCategorical,
		Cat: []string{"m", "m", "f", "m", "m", "m"},
	}))
	require.NoError(t, table.AddColumn(&models.Column{
		Name: "weight", Kind: models.KindNumeric,
		Num: []float64{10, 10, 10, 20, 20, 20},
	}))
	return table
}

func TestMeasureFrequencyBased(t *testing.T) {
	table := testTable(t)
	estimator := NewEstimator(&Config{
		K:    2,
		Keys: models.KeyVars{Categorical: []string{"region", "sex"}},
	}, logrus.New())

	profile, err := estimator.Measure(context.Background(), table)
	require.NoError(t, err)

	// Classes: (n,m)=2, (n,f)=1, (s,m)=3.
	assert.Len(t, profile.Classes, 3)
	assert.Equal(t, 1, profile.Violations)
	assert.Equal(t, 1, profile.ViolatingClasses)
	assert.Equal(t, 1, profile.SmallestClassSize())
	assert.False(t, profile.ModelBased)

	// Without weights each record contributes 1/class-size.
	assert.InDelta(t, 2.0/2+1.0/1+3.0/3, profile.ExpectedReident, 1e-12)
}

func TestMeasureWeighted(t *testing.T) {
	table := testTable(t)
	estimator := NewEstimator(&Config{
		K:    3,
		Keys: models.KeyVars{Categorical: []string{"region", "sex"}, Weight: "weight"},
	}, logrus.New())

	profile, err := estimator.Measure(context.Background(), table)
	require.NoError(t, err)

	// Population frequencies: (n,m)=20, (n,f)=10, (s,m)=60.
	assert.InDelta(t, 2.0/20+1.0/10+3.0/60, profile.ExpectedReident, 1e-12)
	assert.Equal(t, 3, profile.Violations, "(n,m) and (n,f) records are below k=3")
}

func TestMeasureRejectsBadParameters(t *testing.T) {
	table := testTable(t)

	_, err := NewEstimator(&Config{K: 0, Keys: models.KeyVars{Categorical: []string{"region"}}}, logrus.New()).
		Measure(context.Background(), table)
	assert.True(t, errors.IsParameterError(err))

	_, err = NewEstimator(&Config{K: 2, Keys: models.KeyVars{Categorical: []string{"nope"}}}, logrus.New()).
		Measure(context.Background(), table)
	assert.True(t, errors.IsSchemaError(err))

	_, err = NewEstimator(&Config{K: 2, Keys: models.KeyVars{Categorical: []string{"weight"}}}, logrus.New()).
		Measure(context.Background(), table)
	assert.True(t, errors.IsSchemaError(err), "numeric column cannot be a categorical key")
}

func TestMeasureEmptyTable(t *testing.T) {
	table := models.NewTable(0)
	estimator := NewEstimator(nil, logrus.New())
	_, err := estimator.Measure(context.Background(), table)
	assert.Error(t, err)
}

func TestBuildClassesMissingMatchesMissing(t *testing.T) {
	table := models.NewTable(3)
	require.NoError(t, table.AddColumn(&models.Column{
		Name: "a", Kind: models.KindCategorical,
		Cat: []string{models.MissingCell, models.MissingCell, "x"},
	}))
	estimator := NewEstimator(&Config{K: 2, Keys: models.KeyVars{Categorical: []string{"a"}}}, logrus.New())

	classes, classOf := estimator.BuildClasses(table)
	assert.Len(t, classes, 2)
	assert.Equal(t, classOf[0], classOf[1], "two missing cells share a class")
	assert.NotEqual(t, classOf[0], classOf[2])
}

func TestModelBasedFallsBackOnTinyDomain(t *testing.T) {
	// A single equivalence class cannot support a log-linear fit; the
	// estimator must keep the frequency-based numbers.
	table := models.NewTable(4)
	require.NoError(t, table.AddColumn(&models.Column{
		Name: "a", Kind: models.KindCategorical,
		Cat: []string{"x", "x", "x", "x"},
	}))
	estimator := NewEstimator(&Config{
		K:        2,
		Keys:     models.KeyVars{Categorical: []string{"a"}},
		UseModel: true,
	}, logrus.New())

	profile, err := estimator.Measure(context.Background(), table)
	require.NoError(t, err)
	assert.False(t, profile.ModelBased)
	assert.InDelta(t, 1.0, profile.ExpectedReident, 1e-12)
}

func TestModelBasedSmoothing(t *testing.T) {
	// Two keys with a full cross of levels and enough cells for the
	// main-effects model.
	regions := []string{"n", "n", "n", "n", "n", "c", "c", "c", "s", "s", "s", "s", "s", "s", "c", "c", "n", "s"}
	sexes := []string{"m", "m", "m", "f", "f", "m", "f", "f", "m", "m", "f", "f", "f", "f", "m", "m", "f", "m"}
	table := models.NewTable(len(regions))
	require.NoError(t, table.AddColumn(&models.Column{Name: "region", Kind: models.KindCategorical, Cat: regions}))
	require.NoError(t, table.AddColumn(&models.Column{Name: "sex", Kind: models.KindCategorical, Cat: sexes}))

	estimator := NewEstimator(&Config{
		K:        2,
		Keys:     models.KeyVars{Categorical: []string{"region", "sex"}},
		UseModel: true,
	}, logrus.New())

	profile, err := estimator.Measure(context.Background(), table)
	require.NoError(t, err)
	assert.True(t, profile.ModelBased)
	assert.Greater(t, profile.ExpectedReident, 0.0)
	assert.LessOrEqual(t, profile.GlobalRisk, 1.0)
}
