// Package tfidf reproduces the fitted term-weight vectorizer: n-gram
// counting over normalized tokens, optional sublinear scaling and
// per-index weights.
package tfidf

import (
	"errors"
	"math"
	"strings"

	"github.com/rs/zerolog"

	"github.com/phishguard/phishguard/internal/artifact"
	"github.com/phishguard/phishguard/internal/textnorm"
	"github.com/phishguard/phishguard/internal/vector"
)

// ErrWeightsNotReady is returned by a vectorizer built without artifacts.
var ErrWeightsNotReady = errors.New("term weights not ready")

// Vectorizer is stateless apart from the immutable bundle; one instance is
// safe for concurrent use.
type Vectorizer struct {
	bundle *artifact.Bundle
	log    zerolog.Logger
}

// New returns a vectorizer over bundle. A nil bundle yields a vectorizer
// whose Transform always fails with ErrWeightsNotReady.
func New(bundle *artifact.Bundle, log zerolog.Logger) *Vectorizer {
	return &Vectorizer{
		bundle: bundle,
		log:    log.With().Str("component", "tfidf").Logger(),
	}
}

// Transform maps normalized text to {vocabulary index: weight}. N-grams
// outside the vocabulary are skipped. A vocabulary index without a weight
// is dropped with a warning.
func (v *Vectorizer) Transform(cleaned string) (vector.Sparse, error) {
	if v == nil || v.bundle == nil {
		return nil, ErrWeightsNotReady
	}
	vocab := v.bundle.Vocabulary()
	weights := v.bundle.Weights()
	lo, hi := weights.NgramRange()

	out := make(vector.Sparse)
	tokens := textnorm.Tokens(cleaned)
	if len(tokens) == 0 {
		return out, nil
	}

	counts := CountNgrams(tokens, lo, hi)
	for term, count := range counts {
		idx, ok := vocab.Lookup(term)
		if !ok {
			continue
		}
		w, ok := weights.At(idx)
		if !ok {
			v.log.Warn().Str("term", term).Int("index", idx).Int("weights", weights.Len()).
				Msg("vocabulary index out of bounds for weights; dropped")
			continue
		}
		tf := float64(count)
		if weights.Sublinear() && count > 0 {
			tf = 1 + math.Log(tf)
		}
		out[idx] = tf * w
	}
	v.log.Debug().Int("tokens", len(tokens)).Int("ngrams", len(counts)).Int("nonzero", len(out)).Msg("term weights computed")
	return out, nil
}

// CountNgrams counts every contiguous n-gram of tokens for n in [lo, hi].
// Sizes below 1 are skipped. N-grams are tokens joined by single spaces.
func CountNgrams(tokens []string, lo, hi int) map[string]int {
	counts := make(map[string]int)
	for n := lo; n <= hi; n++ {
		if n < 1 {
			continue
		}
		for i := 0; i+n <= len(tokens); i++ {
			counts[strings.Join(tokens[i:i+n], " ")]++
		}
	}
	return counts
}
