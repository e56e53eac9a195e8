// Package montecarlo repeats non-interactive experiment runs and summarizes
// the numeric values each parameter takes in each round.
package montecarlo

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/xtding233/experiment-engine/internal/experiment"
	"github.com/xtding233/experiment-engine/internal/sampling"
)

var ErrNoTrials = errors.New("trials must be >= 1")

// Stats summarizes simulation results.
type Stats struct {
	Mean   float64 `json:"mean" yaml:"mean"`
	Var    float64 `json:"var" yaml:"var"`
	StdDev float64 `json:"stdDev" yaml:"stdDev"`
	Min    float64 `json:"min" yaml:"min"`
	Max    float64 `json:"max" yaml:"max"`
	P50    float64 `json:"p50" yaml:"p50"`
	P90    float64 `json:"p90" yaml:"p90"`
	P99    float64 `json:"p99" yaml:"p99"`
	// raw samples for callers that need histograms/exports
	Samples []float64 `json:"-" yaml:"-"`
}

// RoundStats holds the per-parameter summaries of one flattened round.
type RoundStats struct {
	GlobalIndex int              `json:"globalIndex" yaml:"globalIndex"`
	BlockID     string           `json:"blockId" yaml:"blockId"`
	RoundID     string           `json:"roundId" yaml:"roundId"`
	Params      map[string]Stats `json:"params" yaml:"params"`
}

// Options tunes a run. The zero value is valid.
type Options struct {
	// StudentInputs are applied to every round of every trial.
	StudentInputs map[string]any
	// KeepSamples retains raw samples in each Stats.
	KeepSamples bool
}

// Run resolves cfg trials times and summarizes every parameter that was
// numeric in at least one trial. Non-numeric values are skipped.
func Run(cfg experiment.Config, trials int, rng sampling.RandomSource, opts Options) ([]RoundStats, error) {
	if trials <= 0 {
		return nil, ErrNoTrials
	}
	if rng == nil {
		rng = sampling.DefaultRNG()
	}

	var (
		rounds  []RoundStats
		samples []map[string][]float64
	)
	for trial := 0; trial < trials; trial++ {
		entries, _, err := experiment.ResolveFullRun(cfg, experiment.ResolveInput{
			StudentInputs: opts.StudentInputs,
			RNG:           rng,
		})
		if err != nil {
			return nil, fmt.Errorf("trial %d: %w", trial, err)
		}
		if rounds == nil {
			rounds = make([]RoundStats, len(entries))
			samples = make([]map[string][]float64, len(entries))
			for i, e := range entries {
				rounds[i] = RoundStats{GlobalIndex: e.GlobalIndex, BlockID: e.BlockID, RoundID: e.RoundID}
				samples[i] = make(map[string][]float64)
			}
		}
		for i, e := range entries {
			for id, p := range e.Params {
				if f, ok := p.Value.(float64); ok {
					samples[i][id] = append(samples[i][id], f)
				}
			}
		}
	}

	for i := range rounds {
		rounds[i].Params = make(map[string]Stats, len(samples[i]))
		for id, xs := range samples[i] {
			st := calcStats(xs)
			if !opts.KeepSamples {
				st.Samples = nil
			}
			rounds[i].Params[id] = st
		}
	}
	return rounds, nil
}

// calcStats computes mean/variance/percentiles for samples.
func calcStats(xs []float64) Stats {
	n := len(xs)
	if n == 0 {
		return Stats{}
	}
	var sum float64
	for _, v := range xs {
		sum += v
	}
	mean := sum / float64(n)

	// variance (population)
	var acc float64
	for _, v := range xs {
		d := v - mean
		acc += d * d
	}
	variance := acc / float64(n)

	cp := append([]float64(nil), xs...)
	sort.Float64s(cp)
	percentile := func(p float64) float64 {
		if n == 1 || p <= 0 {
			return cp[0]
		}
		if p >= 1 {
			return cp[n-1]
		}
		pos := p * float64(n-1)
		i := int(math.Floor(pos))
		f := pos - float64(i)
		if i+1 >= n {
			return cp[i]
		}
		return cp[i]*(1-f) + cp[i+1]*f
	}

	return Stats{
		Mean:    mean,
		Var:     variance,
		StdDev:  math.Sqrt(variance),
		Min:     cp[0],
		Max:     cp[n-1],
		P50:     percentile(0.50),
		P90:     percentile(0.90),
		P99:     percentile(0.99),
		Samples: xs,
	}
}
