package tfidf

import (
	"math"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phishguard/phishguard/internal/artifact"
	"github.com/phishguard/phishguard/internal/vector"
)

func bundle(t *testing.T, terms map[string]int, weights []float64, lo, hi int, sublinear bool) *artifact.Bundle {
	t.Helper()
	vocab, err := artifact.NewVocabulary(terms)
	require.NoError(t, err)
	schema, err := artifact.NewSchema("word_count")
	require.NoError(t, err)
	return artifact.NewBundle(vocab, artifact.NewWeightTable(weights, lo, hi, sublinear), schema,
		artifact.NewSelectorInfo(nil, artifact.KAll(), len(weights)+1, len(weights), 1))
}

func TestTransform(t *testing.T) {
	tests := []struct {
		name      string
		terms     map[string]int
		weights   []float64
		ngram     [2]int
		sublinear bool
		text      string
		want      vector.Sparse
	}{
		{
			name:    "raw counts times weight",
			terms:   map[string]int{"free": 0, "account": 1},
			weights: []float64{1.5, 2.0},
			ngram:   [2]int{1, 1},
			text:    "free account free",
			want:    vector.Sparse{0: 3.0, 1: 2.0},
		},
		{
			name:      "sublinear scaling",
			terms:     map[string]int{"free": 0, "account": 1},
			weights:   []float64{1.5, 2.0},
			ngram:     [2]int{1, 1},
			sublinear: true,
			text:      "free account free",
			want:      vector.Sparse{0: (1 + math.Log(2)) * 1.5, 1: 2.0},
		},
		{
			name:    "bigrams",
			terms:   map[string]int{"free account": 0, "account free": 1, "free": 2},
			weights: []float64{1, 2, 3},
			ngram:   [2]int{1, 2},
			text:    "free account free",
			want:    vector.Sparse{0: 1, 1: 2, 2: 6},
		},
		{
			name:    "out of vocabulary terms are skipped",
			terms:   map[string]int{"verify": 0},
			weights: []float64{1},
			ngram:   [2]int{1, 1},
			text:    "hello world",
			want:    vector.Sparse{},
		},
		{
			name:    "index without weight is dropped",
			terms:   map[string]int{"verify": 0, "account": 5},
			weights: []float64{2},
			ngram:   [2]int{1, 1},
			text:    "verify account",
			want:    vector.Sparse{0: 2},
		},
		{
			name:    "no tokens",
			terms:   map[string]int{"verify": 0},
			weights: []float64{1},
			ngram:   [2]int{1, 1},
			text:    "   ",
			want:    vector.Sparse{},
		},
		{
			name:    "empty ngram range",
			terms:   map[string]int{"verify": 0},
			weights: []float64{1},
			ngram:   [2]int{2, 1},
			text:    "verify",
			want:    vector.Sparse{},
		},
		{
			name:    "sizes below one are skipped",
			terms:   map[string]int{"verify": 0},
			weights: []float64{1},
			ngram:   [2]int{0, 1},
			text:    "verify",
			want:    vector.Sparse{0: 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := New(bundle(t, tt.terms, tt.weights, tt.ngram[0], tt.ngram[1], tt.sublinear), zerolog.Nop())
			got, err := v.Transform(tt.text)
			require.NoError(t, err)
			require.Len(t, got, len(tt.want))
			for idx, w := range tt.want {
				assert.InDelta(t, w, got[idx], 1e-12, "index %d", idx)
			}
		})
	}
}

func TestTransformIndicesWithinWeights(t *testing.T) {
	terms := map[string]int{"alpha": 0, "beta": 1, "gamma": 2, "delta": 3, "alpha beta": 9}
	v := New(bundle(t, terms, []float64{1, 1, 1}, 1, 2, false), zerolog.Nop())
	got, err := v.Transform("alpha beta gamma delta alpha beta")
	require.NoError(t, err)
	for idx := range got {
		assert.GreaterOrEqual(t, idx, 0)
		assert.Less(t, idx, 3)
	}
}

func TestTransformWithoutBundle(t *testing.T) {
	_, err := New(nil, zerolog.Nop()).Transform("verify account")
	assert.ErrorIs(t, err, ErrWeightsNotReady)
}

func TestCountNgrams(t *testing.T) {
	got := CountNgrams([]string{"a", "b", "a", "b"}, 1, 3)
	assert.Equal(t, map[string]int{
		"a": 2, "b": 2,
		"a b": 2, "b a": 1,
		"a b a": 1, "b a b": 1,
	}, got)
	assert.Empty(t, CountNgrams([]string{"a"}, 2, 2))
}
