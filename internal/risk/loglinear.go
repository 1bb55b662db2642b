package risk

import (
	"math"
	"sort"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/Abmstpha/sdckit/pkg/errors"
)

const (
	irlsMaxIter = 25
	irlsTol     = 1e-8
)

// fitLogLinear fits a Poisson log-linear model of equivalence-class sample
// counts against main effects of the categorical key variables and returns
// the fitted (smoothed) frequency per class. Sparse cells borrow strength
// from the marginals, so the risk estimate is less sensitive to sampling
// variance than raw counts.
func fitLogLinear(classes []*Class, numKeys int) ([]float64, error) {
	if len(classes) < 2 {
		return nil, errors.NewDegeneracyError("DEGENERATE_DOMAIN", errors.ErrDegenerateDomain.Error())
	}

	x := designMatrix(classes, numKeys)
	n, p := x.Dims()
	if n <= p {
		return nil, errors.NewDegeneracyError("DEGENERATE_DOMAIN",
			"more model parameters than observed cells").
			WithContext("cells", n).WithContext("parameters", p)
	}

	y := make([]float64, n)
	for i, class := range classes {
		y[i] = class.Weight
	}

	// IRLS: repeatedly solve the weighted normal equations
	// (X'WX) beta = X'Wz with W = diag(mu), z = eta + (y-mu)/mu.
	beta := mat.NewVecDense(p, nil)
	eta := mat.NewVecDense(n, nil)
	prevDeviance := math.Inf(1)

	for iter := 0; iter < irlsMaxIter; iter++ {
		eta.MulVec(x, beta)

		mu := make([]float64, n)
		z := make([]float64, n)
		for i := 0; i < n; i++ {
			mu[i] = math.Exp(eta.AtVec(i))
			if math.IsInf(mu[i], 0) || mu[i] <= 0 {
				return nil, errors.NewDegeneracyError("MODEL_DIVERGED",
					errors.ErrModelNotConverged.Error())
			}
			z[i] = eta.AtVec(i) + (y[i]-mu[i])/mu[i]
		}

		xtwx := mat.NewSymDense(p, nil)
		xtwz := mat.NewVecDense(p, nil)
		for i := 0; i < n; i++ {
			for a := 0; a < p; a++ {
				xa := x.At(i, a)
				if xa == 0 {
					continue
				}
				xtwz.SetVec(a, xtwz.AtVec(a)+xa*mu[i]*z[i])
				for b := a; b < p; b++ {
					xtwx.SetSym(a, b, xtwx.At(a, b)+xa*mu[i]*x.At(i, b))
				}
			}
		}

		var chol mat.Cholesky
		if ok := chol.Factorize(xtwx); !ok {
			return nil, errors.NewDegeneracyError("SINGULAR_MODEL",
				"normal equations singular, key variables may be collinear")
		}
		if err := chol.SolveVecTo(beta, xtwz); err != nil {
			return nil, errors.NewDegeneracyError("SINGULAR_MODEL", err.Error())
		}

		deviance := poissonDeviance(y, mu)
		if math.Abs(prevDeviance-deviance) < irlsTol*(math.Abs(deviance)+irlsTol) {
			return fittedValues(x, beta), nil
		}
		prevDeviance = deviance
	}

	return nil, errors.NewDegeneracyError("NOT_CONVERGED", errors.ErrModelNotConverged.Error()).
		WithContext("iterations", irlsMaxIter)
}

// designMatrix builds intercept + dummy-coded main effects from the class
// key tuples. The first level of each variable is the reference level.
func designMatrix(classes []*Class, numKeys int) *mat.Dense {
	values := make([][]string, len(classes))
	levelSets := make([]map[string]struct{}, numKeys)
	for j := range levelSets {
		levelSets[j] = make(map[string]struct{})
	}
	for i, class := range classes {
		parts := strings.Split(class.Key, "\x1f")
		values[i] = parts
		for j := 0; j < numKeys && j < len(parts); j++ {
			levelSets[j][parts[j]] = struct{}{}
		}
	}

	// Column layout: intercept, then levels[1:] of each key in order.
	type dummy struct {
		key   int
		level string
	}
	var dummies []dummy
	for j, set := range levelSets {
		levels := make([]string, 0, len(set))
		for l := range set {
			levels = append(levels, l)
		}
		sort.Strings(levels)
		for _, l := range levels[1:] {
			dummies = append(dummies, dummy{key: j, level: l})
		}
	}

	x := mat.NewDense(len(classes), 1+len(dummies), nil)
	for i := range classes {
		x.Set(i, 0, 1)
		for c, d := range dummies {
			if d.key < len(values[i]) && values[i][d.key] == d.level {
				x.Set(i, 1+c, 1)
			}
		}
	}
	return x
}

func fittedValues(x *mat.Dense, beta *mat.VecDense) []float64 {
	n, _ := x.Dims()
	eta := mat.NewVecDense(n, nil)
	eta.MulVec(x, beta)
	fitted := make([]float64, n)
	for i := range fitted {
		fitted[i] = math.Exp(eta.AtVec(i))
	}
	return fitted
}

func poissonDeviance(y, mu []float64) float64 {
	d := 0.0
	for i := range y {
		if y[i] > 0 {
			d += y[i]*math.Log(y[i]/mu[i]) - (y[i] - mu[i])
		} else {
			d += mu[i]
		}
	}
	return 2 * d
}
