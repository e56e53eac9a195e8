package sampling

import (
	cryptoRand "crypto/rand"
	"encoding/binary"
	"math/rand/v2"
)

// RandomSource yields uniform samples in [0, 1).
type RandomSource interface {
	Float64() float64
}

// crypto random: default generation method
type cryptoRNG struct{}

func (cryptoRNG) Float64() float64 {
	// 53 random bits => [0, 1)
	var buf [8]byte
	if _, err := cryptoRand.Read(buf[:]); err != nil {
		return rand.Float64()
	}
	u := binary.BigEndian.Uint64(buf[:]) >> 11
	return float64(u) / (1 << 53)
}

// DefaultRNG is used whenever a caller does not inject a source.
func DefaultRNG() RandomSource { return cryptoRNG{} }

// Replicable RNG for tests, replays and Monte Carlo runs.
type seededRNG struct{ r *rand.Rand }

func NewSeededRNG(seed uint64) RandomSource {
	return &seededRNG{r: rand.New(rand.NewPCG(seed, 0))}
}

func (s *seededRNG) Float64() float64 { return s.r.Float64() }

// Fixed replays a list of samples, cycling when exhausted. Handy for pinning
// Box-Muller inputs in tests.
type Fixed []float64

func (f *Fixed) Float64() float64 {
	if len(*f) == 0 {
		return 0.5
	}
	v := (*f)[0]
	*f = append((*f)[1:], v)
	return v
}
