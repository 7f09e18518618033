package suggest

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// lengthScaleGrid is searched by log marginal likelihood; values are multiplied by sqrt(dims).
var lengthScaleGrid = []float64{0.05, 0.1, 0.2, 0.3, 0.5, 0.75, 1, 1.5, 2.5}

var errSingular = errors.New("kernel matrix is not positive definite")

// gaussianProcess is a zero-mean GP with a Matérn 5/2 kernel over unit-scaled inputs
// and standardised targets.
type gaussianProcess struct {
	x           [][]float64
	yMean, yStd float64
	lengthScale float64
	noise       float64
	chol        mat.Cholesky
	alpha       *mat.VecDense
}

func matern52(a, b []float64, l float64) float64 {
	d2 := 0.0
	for i := range a {
		d := a[i] - b[i]
		d2 += d * d
	}
	r := math.Sqrt(5*d2) / l
	return (1 + r + r*r/3) * math.Exp(-r)
}

// fitGP picks the best length scale from the grid and factorizes the kernel
func fitGP(x [][]float64, y []float64, noise float64) (*gaussianProcess, error) {
	if len(x) == 0 {
		return nil, errors.New("no observations to fit")
	}
	mean, std := stat.MeanStdDev(y, nil)
	if len(y) < 2 || std == 0 || math.IsNaN(std) {
		std = 1
	}
	yn := make([]float64, len(y))
	for i, v := range y {
		yn[i] = (v - mean) / std
	}
	scale := math.Sqrt(float64(len(x[0])))
	if scale == 0 {
		scale = 1
	}

	var best *gaussianProcess
	bestLML := math.Inf(-1)
	for _, g := range lengthScaleGrid {
		gp := &gaussianProcess{x: x, yMean: mean, yStd: std, lengthScale: g * scale, noise: noise}
		lml, err := gp.factorize(yn)
		if err != nil {
			continue
		}
		if lml > bestLML {
			best, bestLML = gp, lml
		}
	}
	if best == nil {
		return nil, errSingular
	}
	return best, nil
}

// factorize builds K + noise*I, stores its Cholesky factor and returns the log marginal likelihood
func (gp *gaussianProcess) factorize(yn []float64) (float64, error) {
	n := len(gp.x)
	jitter := gp.noise
	for attempt := 0; attempt < 6; attempt++ {
		k := mat.NewSymDense(n, nil)
		for i := 0; i < n; i++ {
			for j := i; j < n; j++ {
				v := matern52(gp.x[i], gp.x[j], gp.lengthScale)
				if i == j {
					v += jitter
				}
				k.SetSym(i, j, v)
			}
		}
		if !gp.chol.Factorize(k) {
			jitter *= 10
			continue
		}
		y := mat.NewVecDense(n, yn)
		var alpha mat.VecDense
		if err := gp.chol.SolveVecTo(&alpha, y); err != nil {
			jitter *= 10
			continue
		}
		gp.alpha = &alpha
		gp.noise = jitter
		lml := -0.5*mat.Dot(y, &alpha) - 0.5*gp.chol.LogDet() - 0.5*float64(n)*math.Log(2*math.Pi)
		return lml, nil
	}
	return 0, errSingular
}

// predict returns the posterior mean and standard deviation in standardised units
func (gp *gaussianProcess) predict(u []float64) (float64, float64) {
	n := len(gp.x)
	k := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		k.SetVec(i, matern52(u, gp.x[i], gp.lengthScale))
	}
	mu := mat.Dot(k, gp.alpha)

	var w mat.VecDense
	if err := gp.chol.SolveVecTo(&w, k); err != nil {
		return mu, 0
	}
	variance := 1 - mat.Dot(k, &w)
	if variance < 1e-12 {
		variance = 1e-12
	}
	return mu, math.Sqrt(variance)
}

// standardise maps a raw score into the GP's target units
func (gp *gaussianProcess) standardise(y float64) float64 {
	return (y - gp.yMean) / gp.yStd
}

// expectedImprovement for minimisation below best, with exploration margin xi
func expectedImprovement(mu, sigma, best, xi float64) float64 {
	if sigma <= 0 {
		return 0
	}
	imp := best - mu - xi
	z := imp / sigma
	return imp*distuv.UnitNormal.CDF(z) + sigma*distuv.UnitNormal.Prob(z)
}
