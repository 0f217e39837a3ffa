package vector

import (
	"github.com/rs/zerolog"

	"github.com/phishguard/phishguard/internal/artifact"
)

// Combine lays out the combined vector: term weights at their vocabulary
// index in [0, NumTermFeatures), handcrafted values from offset
// NumTermFeatures on. Anything that does not fit is dropped with a warning;
// a handcrafted vector of the wrong length is a *LengthMismatchError.
func Combine(terms Sparse, handcrafted Dense, sel artifact.SelectorInfo, log zerolog.Logger) (Dense, error) {
	numTerm := sel.NumTermFeatures()
	numManual := sel.NumManualFeatures()
	total := sel.TotalBeforeSelection()

	if numTerm+numManual != total {
		log.Warn().
			Int("num_term_features", numTerm).
			Int("num_manual_features", numManual).
			Int("total_features_before_selection", total).
			Msg("feature layout counts disagree")
	}
	if len(handcrafted) != numManual {
		return nil, &LengthMismatchError{Got: len(handcrafted), Want: numManual}
	}

	combined := make(Dense, total)
	for _, idx := range terms.Indices() {
		if idx < 0 || idx >= numTerm || idx >= total {
			log.Warn().Int("index", idx).Int("num_term_features", numTerm).Msg("term index out of range; dropped")
			continue
		}
		combined[idx] = float32(terms[idx])
	}

	if numTerm > total {
		log.Warn().Int("offset", numTerm).Int("total", total).Msg("handcrafted block starts past the combined vector; dropped")
		return combined, nil
	}
	if n := copy(combined[numTerm:], handcrafted); n < len(handcrafted) {
		log.Warn().Int("dropped", len(handcrafted)-n).Msg("handcrafted values overflow the combined vector; dropped")
	}
	return combined, nil
}
