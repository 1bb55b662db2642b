package dataset

import (
	"math"
	"math/rand"

	"github.com/Abmstpha/sdckit/pkg/errors"
	"github.com/Abmstpha/sdckit/pkg/models"
)

// Bundled sample dataset names.
const (
	SampleLabourForce = "labour_force"
	SampleHousehold   = "household"
)

// Sample generates a bundled synthetic microdata set. Generation is
// deterministic, so examples and tests see identical data on every run.
func Sample(name string) (*models.Table, error) {
	switch name {
	case SampleLabourForce:
		return labourForceSample(), nil
	case SampleHousehold:
		return householdSample(), nil
	default:
		return nil, errors.NewIOError("UNKNOWN_DATASET", errors.ErrUnknownDataset.Error()).
			WithContext("name", name)
	}
}

// labourForceSample mimics a small labour-force survey: categorical
// quasi-identifiers, a lognormal income with a built-in gender gap, and
// calibrated sampling weights.
func labourForceSample() *models.Table {
	const n = 1000
	rng := rand.New(rand.NewSource(20240615))

	regions := []string{"north", "south", "east", "west", "centre"}
	educations := []string{"primary", "secondary", "tertiary", "postgraduate"}
	maritals := []string{"single", "married", "divorced", "widowed"}

	region := make([]string, n)
	sex := make([]string, n)
	education := make([]string, n)
	marital := make([]string, n)
	age := make([]float64, n)
	income := make([]float64, n)
	hours := make([]float64, n)
	weight := make([]float64, n)
	id := make([]string, n)

	for i := 0; i < n; i++ {
		region[i] = regions[rng.Intn(len(regions))]
		if rng.Float64() < 0.52 {
			sex[i] = "male"
		} else {
			sex[i] = "female"
		}
		education[i] = educations[eduLevel(rng)]
		marital[i] = maritals[rng.Intn(len(maritals))]
		age[i] = math.Round(18 + rng.Float64()*47)

		base := 9.6 + 0.25*float64(eduIndex(education[i]))
		if sex[i] == "female" {
			base -= 0.12 // built-in pay gap for the utility comparisons
		}
		income[i] = math.Round(math.Exp(base + 0.35*rng.NormFloat64()))
		hours[i] = math.Round(20 + rng.Float64()*25)
		weight[i] = math.Round((50+rng.Float64()*150)*100) / 100
		id[i] = respondentID(i)
	}

	t := models.NewTable(n)
	mustAdd(t, &models.Column{Name: "record_id", Kind: models.KindIdentifier, Cat: id})
	mustAdd(t, &models.Column{Name: "region", Kind: models.KindCategorical, Cat: region})
	mustAdd(t, &models.Column{Name: "sex", Kind: models.KindCategorical, Cat: sex})
	mustAdd(t, &models.Column{Name: "education", Kind: models.KindCategorical, Cat: education})
	mustAdd(t, &models.Column{Name: "marital_status", Kind: models.KindCategorical, Cat: marital})
	mustAdd(t, &models.Column{Name: "age", Kind: models.KindNumeric, Num: age})
	mustAdd(t, &models.Column{Name: "income", Kind: models.KindNumeric, Num: income})
	mustAdd(t, &models.Column{Name: "hours_worked", Kind: models.KindNumeric, Num: hours})
	mustAdd(t, &models.Column{Name: "sampling_weight", Kind: models.KindNumeric, Num: weight})
	return t
}

// householdSample is a smaller table with coarse quasi-identifiers, handy
// for suppression demonstrations.
func householdSample() *models.Table {
	const n = 200
	rng := rand.New(rand.NewSource(77))

	sizes := []string{"1", "2", "3", "4", "5+"}
	tenures := []string{"owner", "renter", "other"}
	urbanities := []string{"urban", "rural"}

	size := make([]string, n)
	tenure := make([]string, n)
	urbanity := make([]string, n)
	expenditure := make([]float64, n)
	weight := make([]float64, n)

	for i := 0; i < n; i++ {
		size[i] = sizes[rng.Intn(len(sizes))]
		tenure[i] = tenures[rng.Intn(len(tenures))]
		urbanity[i] = urbanities[rng.Intn(len(urbanities))]
		expenditure[i] = math.Round(800 + 400*rng.NormFloat64()*rng.Float64() + 300*float64(rng.Intn(4)))
		weight[i] = math.Round((80+rng.Float64()*60)*100) / 100
	}

	t := models.NewTable(n)
	mustAdd(t, &models.Column{Name: "household_size", Kind: models.KindCategorical, Cat: size})
	mustAdd(t, &models.Column{Name: "tenure", Kind: models.KindCategorical, Cat: tenure})
	mustAdd(t, &models.Column{Name: "urbanity", Kind: models.KindCategorical, Cat: urbanity})
	mustAdd(t, &models.Column{Name: "expenditure", Kind: models.KindNumeric, Num: expenditure})
	mustAdd(t, &models.Column{Name: "sampling_weight", Kind: models.KindNumeric, Num: weight})
	return t
}

func eduLevel(rng *rand.Rand) int {
	u := rng.Float64()
	switch {
	case u < 0.2:
		return 0
	case u < 0.65:
		return 1
	case u < 0.92:
		return 2
	default:
		return 3
	}
}

func eduIndex(level string) int {
	switch level {
	case "primary":
		return 0
	case "secondary":
		return 1
	case "tertiary":
		return 2
	default:
		return 3
	}
}

func respondentID(i int) string {
	const digits = "0123456789"
	out := make([]byte, 6)
	for j := 5; j >= 0; j-- {
		out[j] = digits[i%10]
		i /= 10
	}
	return "R" + string(out)
}

func mustAdd(t *models.Table, col *models.Column) {
	if err := t.AddColumn(col); err != nil {
		panic(err)
	}
}
