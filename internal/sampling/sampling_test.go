package sampling

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeededRNGReplicable(t *testing.T) {
	a, b := NewSeededRNG(7), NewSeededRNG(7)
	for i := 0; i < 100; i++ {
		require.Equal(t, a.Float64(), b.Float64())
	}
}

func TestUnifBounds(t *testing.T) {
	rng := NewSeededRNG(1)
	for i := 0; i < 10000; i++ {
		v := Unif(rng, 3, 5)
		require.True(t, v >= 3 && v < 5, "v=%f out of range", v)
	}
}

func TestNormBoxMuller(t *testing.T) {
	// u = e^-0.5 and v = 0 (rejected, then 0.5): z = sqrt(1) * cos(pi) = -1
	f := Fixed{math.Exp(-0.5), 0, 0.5}
	got := Norm(&f, 10, 2)
	assert.InDelta(t, 8.0, got, 1e-9)
}

func TestNormStatApprox(t *testing.T) {
	const n = 100000
	rng := NewSeededRNG(42)
	var sum, sq float64
	for i := 0; i < n; i++ {
		v := Norm(rng, 5, 2)
		sum += v
		sq += v * v
	}
	mean := sum / n
	std := math.Sqrt(sq/n - mean*mean)
	assert.InDelta(t, 5.0, mean, 0.05)
	assert.InDelta(t, 2.0, std, 0.05)
}
