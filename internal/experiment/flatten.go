package experiment

// FlatRoundConfig is one (block, round) coordinate with its merged params
// and its fully inherited templates. It is never mutated after flattening.
type FlatRoundConfig struct {
	BlockIndex int          `json:"blockIndex" yaml:"blockIndex"`
	RoundIndex int          `json:"roundIndex" yaml:"roundIndex"`
	BlockID    string       `json:"blockId" yaml:"blockId"`
	RoundID    string       `json:"roundId" yaml:"roundId"`
	BlockLabel string       `json:"blockLabel,omitempty" yaml:"blockLabel,omitempty"`
	RoundLabel string       `json:"roundLabel,omitempty" yaml:"roundLabel,omitempty"`
	Params     MergedParams `json:"params" yaml:"params"`
	Templates  `yaml:",inline"`
}

// ResolveTemplate walks round → block → experiment and returns the first
// non-empty template for phase.
func ResolveTemplate(cfg Config, blockIndex, roundIndex int, phase Phase) string {
	if blockIndex >= 0 && blockIndex < len(cfg.Blocks) {
		block := cfg.Blocks[blockIndex]
		if roundIndex >= 0 && roundIndex < len(block.Rounds) {
			if t := block.Rounds[roundIndex].Template(phase); t != "" {
				return t
			}
		}
		if t := block.Template(phase); t != "" {
			return t
		}
	}
	return cfg.Template(phase)
}

// ResolveTemplates resolves all three phases at one coordinate.
func ResolveTemplates(cfg Config, blockIndex, roundIndex int) Templates {
	return Templates{
		IntroTemplate:    ResolveTemplate(cfg, blockIndex, roundIndex, PhaseIntro),
		DecisionTemplate: ResolveTemplate(cfg, blockIndex, roundIndex, PhaseDecision),
		ResultTemplate:   ResolveTemplate(cfg, blockIndex, roundIndex, PhaseResult),
	}
}

// FlattenConfig expands the block/round tree into the canonical round
// sequence: blocks in order, then rounds within each block in order.
func FlattenConfig(cfg Config) []FlatRoundConfig {
	var out []FlatRoundConfig
	for bi, block := range cfg.Blocks {
		for ri, round := range block.Rounds {
			out = append(out, FlatRoundConfig{
				BlockIndex: bi,
				RoundIndex: ri,
				BlockID:    block.ID,
				RoundID:    round.ID,
				BlockLabel: block.Label,
				RoundLabel: round.Label,
				Params:     MergeParams(cfg, bi, ri),
				Templates:  ResolveTemplates(cfg, bi, ri),
			})
		}
	}
	return out
}
