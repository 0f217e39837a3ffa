package vector

import (
	"github.com/rs/zerolog"

	"github.com/phishguard/phishguard/internal/artifact"
)

// Select projects combined onto the selected columns. With k "all" the
// combined vector is returned as is. Otherwise position i of the k-long
// output reads combined[SelectedIndices[i]]; an entry that is missing,
// non-numeric, negative or out of range yields 0.
func Select(combined Dense, sel artifact.SelectorInfo, log zerolog.Logger) Dense {
	k := sel.K()
	if k.All() {
		if len(combined) != sel.TotalBeforeSelection() {
			log.Warn().
				Int("length", len(combined)).
				Int("total_features_before_selection", sel.TotalBeforeSelection()).
				Msg("combined vector length differs from layout")
		}
		return combined
	}

	if sel.NumSelected() != k.N() {
		log.Warn().Int("k", k.N()).Int("selected", sel.NumSelected()).Msg("k differs from selected_indices length")
	}

	out := make(Dense, k.N())
	for i := range out {
		idx, ok := sel.Selected(i)
		if !ok || idx < 0 || idx >= len(combined) {
			log.Warn().Int("position", i).Int("index", idx).Bool("present", ok).Msg("invalid selected index; defaulting to 0")
			continue
		}
		out[i] = combined[idx]
	}
	return out
}
