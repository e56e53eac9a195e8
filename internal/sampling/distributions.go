package sampling

import "math"

// Norm draws from N(mean, std^2) with the Box-Muller transform.
func Norm(rng RandomSource, mean, std float64) float64 {
	if rng == nil {
		rng = DefaultRNG()
	}
	var u, v float64
	for u == 0 {
		u = rng.Float64()
	}
	for v == 0 {
		v = rng.Float64()
	}
	z := math.Sqrt(-2.0*math.Log(u)) * math.Cos(2.0*math.Pi*v)
	return z*std + mean
}

// Unif draws uniformly from [min, max).
func Unif(rng RandomSource, min, max float64) float64 {
	if rng == nil {
		rng = DefaultRNG()
	}
	return min + rng.Float64()*(max-min)
}
