package experiment

import "sort"

// Entry is one effective definition in a merged scope.
type Entry struct {
	Def    ParamDefinition `json:"def" yaml:"def"`
	Source ParamSource     `json:"source" yaml:"source"`
}

// MergedParams is the single effective definition per parameter ID at one
// coordinate of the hierarchy.
type MergedParams map[string]Entry

// IDs returns the parameter IDs in lexicographic order.
func (m MergedParams) IDs() []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Level is one layer of a params hierarchy.
type Level struct {
	Source ParamSource
	Params Params
}

// Merge applies levels in order; a later level fully replaces an earlier
// level's definition of the same ID and re-tags its source.
func Merge(levels ...Level) MergedParams {
	out := make(MergedParams)
	for _, lvl := range levels {
		for id, def := range lvl.Params {
			out[id] = Entry{Def: def, Source: lvl.Source}
		}
	}
	return out
}

// MergeParams merges experiment → block → round at (blockIndex, roundIndex).
// Out-of-range indices contribute nothing.
func MergeParams(cfg Config, blockIndex, roundIndex int) MergedParams {
	levels := []Level{{Source: SourceExperiment, Params: cfg.Params}}
	if blockIndex >= 0 && blockIndex < len(cfg.Blocks) {
		block := cfg.Blocks[blockIndex]
		levels = append(levels, Level{Source: SourceBlock, Params: block.Params})
		if roundIndex >= 0 && roundIndex < len(block.Rounds) {
			levels = append(levels, Level{Source: SourceRound, Params: block.Rounds[roundIndex].Params})
		}
	}
	return Merge(levels...)
}
