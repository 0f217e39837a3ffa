package artifact

import (
	"context"
	"errors"
	"math"
	"testing"
	"testing/fstest"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validFS() fstest.MapFS {
	return fstest.MapFS{
		"tfidf_vocabulary.json":          {Data: []byte(`{"free": 0, "account": 1, "free account": 2}`)},
		"tfidf_idf_data.json":            {Data: []byte(`{"idf_weights": [1.5, 2.0, 3.25], "ngram_range": [1, 2], "sublinear_tf": false}`)},
		"handcrafted_feature_names.json": {Data: []byte(`["word_count", "num_links"]`)},
		"selector_info.json":             {Data: []byte(`{"selected_indices": [4, 0], "k": 2, "total_features_before_selection": 5, "num_tfidf_features": 3, "num_manual_features": 2}`)},
	}
}

func TestLoaderLoad(t *testing.T) {
	l := NewFSLoader(validFS(), Files{}, zerolog.Nop())

	b, err := l.Load(context.Background())
	require.NoError(t, err)

	idx, ok := b.Vocabulary().Lookup("free account")
	assert.True(t, ok)
	assert.Equal(t, 2, idx)

	w := b.Weights()
	assert.Equal(t, 3, w.Len())
	lo, hi := w.NgramRange()
	assert.Equal(t, 1, lo)
	assert.Equal(t, 2, hi)
	assert.False(t, w.Sublinear())

	assert.Equal(t, []string{"word_count", "num_links"}, b.Schema().Names())

	sel := b.Selector()
	assert.Equal(t, 2, sel.K().N())
	assert.Equal(t, []int{4, 0}, sel.SelectedIndices())
	assert.Equal(t, 5, sel.TotalBeforeSelection())
	assert.Equal(t, 3, sel.NumTermFeatures())
	assert.Equal(t, 2, sel.NumManualFeatures())
	assert.Empty(t, b.Warnings())
}

func TestLoaderAllOrNothing(t *testing.T) {
	fsys := validFS()
	fsys["selector_info.json"] = &fstest.MapFile{Data: []byte(`{"selected_indices": [0], "k": 1}`)}

	b, err := NewFSLoader(fsys, Files{}, zerolog.Nop()).Load(context.Background())
	assert.Nil(t, b)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, NameSelector, verr.Artifact)
	assert.Equal(t, "total_features_before_selection", verr.Field)
}

func TestLoaderMissingFile(t *testing.T) {
	fsys := validFS()
	delete(fsys, "tfidf_vocabulary.json")

	_, err := NewFSLoader(fsys, Files{}, zerolog.Nop()).Load(context.Background())
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, NameVocabulary, verr.Artifact)
}

func TestParseValidation(t *testing.T) {
	tests := []struct {
		name     string
		parse    func([]byte) error
		data     string
		artifact Name
		field    string
	}{
		{
			name:     "vocabulary not an object",
			parse:    func(d []byte) error { _, err := ParseVocabulary(d); return err },
			data:     `["free"]`,
			artifact: NameVocabulary,
		},
		{
			name:     "vocabulary negative index",
			parse:    func(d []byte) error { _, err := ParseVocabulary(d); return err },
			data:     `{"free": -1}`,
			artifact: NameVocabulary,
			field:    "free",
		},
		{
			name:     "vocabulary fractional index",
			parse:    func(d []byte) error { _, err := ParseVocabulary(d); return err },
			data:     `{"free": 1.5}`,
			artifact: NameVocabulary,
			field:    "free",
		},
		{
			name:     "weights missing",
			parse:    func(d []byte) error { _, err := ParseWeights(d); return err },
			data:     `{"ngram_range": [1, 1], "sublinear_scaling": true}`,
			artifact: NameWeights,
			field:    "weights",
		},
		{
			name:     "weights entry not a number",
			parse:    func(d []byte) error { _, err := ParseWeights(d); return err },
			data:     `{"weights": [1, "x"], "ngram_range": [1, 1], "sublinear_scaling": true}`,
			artifact: NameWeights,
			field:    "weights[1]",
		},
		{
			name:     "ngram range wrong length",
			parse:    func(d []byte) error { _, err := ParseWeights(d); return err },
			data:     `{"weights": [1], "ngram_range": [1], "sublinear_scaling": true}`,
			artifact: NameWeights,
			field:    "ngram_range",
		},
		{
			name:     "sublinear flag not a boolean",
			parse:    func(d []byte) error { _, err := ParseWeights(d); return err },
			data:     `{"weights": [1], "ngram_range": [1, 1], "sublinear_tf": "yes"}`,
			artifact: NameWeights,
			field:    "sublinear_tf",
		},
		{
			name:     "schema empty",
			parse:    func(d []byte) error { _, err := ParseSchema(d); return err },
			data:     `[]`,
			artifact: NameSchema,
		},
		{
			name:     "schema entry not a string",
			parse:    func(d []byte) error { _, err := ParseSchema(d); return err },
			data:     `["word_count", 3]`,
			artifact: NameSchema,
			field:    "[1]",
		},
		{
			name:     "selector k invalid string",
			parse:    func(d []byte) error { _, err := ParseSelector(d); return err },
			data:     `{"selected_indices": [], "k": "some", "total_features_before_selection": 1, "num_term_features": 1, "num_manual_features": 0}`,
			artifact: NameSelector,
			field:    "k",
		},
		{
			name:     "selector k missing",
			parse:    func(d []byte) error { _, err := ParseSelector(d); return err },
			data:     `{"selected_indices": [], "total_features_before_selection": 1, "num_term_features": 1, "num_manual_features": 0}`,
			artifact: NameSelector,
			field:    "k",
		},
		{
			name:     "selector indices not an array",
			parse:    func(d []byte) error { _, err := ParseSelector(d); return err },
			data:     `{"selected_indices": 3, "k": "all", "total_features_before_selection": 1, "num_term_features": 1, "num_manual_features": 0}`,
			artifact: NameSelector,
			field:    "selected_indices",
		},
		{
			name:     "selector k beyond int32",
			parse:    func(d []byte) error { _, err := ParseSelector(d); return err },
			data:     `{"selected_indices": [], "k": 1e18, "total_features_before_selection": 1, "num_term_features": 1, "num_manual_features": 0}`,
			artifact: NameSelector,
			field:    "k",
		},
		{
			name:     "selector total beyond int32",
			parse:    func(d []byte) error { _, err := ParseSelector(d); return err },
			data:     `{"selected_indices": [], "k": "all", "total_features_before_selection": 1e300, "num_term_features": 1, "num_manual_features": 0}`,
			artifact: NameSelector,
			field:    "total_features_before_selection",
		},
		{
			name:     "selector term count beyond int32",
			parse:    func(d []byte) error { _, err := ParseSelector(d); return err },
			data:     `{"selected_indices": [], "k": "all", "total_features_before_selection": 1, "num_term_features": 2147483648, "num_manual_features": 0}`,
			artifact: NameSelector,
			field:    "num_term_features",
		},
		{
			name:     "vocabulary index beyond int32",
			parse:    func(d []byte) error { _, err := ParseVocabulary(d); return err },
			data:     `{"free": 1e300}`,
			artifact: NameVocabulary,
			field:    "free",
		},
		{
			name:     "malformed json",
			parse:    func(d []byte) error { _, err := ParseSelector(d); return err },
			data:     `{"selected_indices": [`,
			artifact: NameSelector,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.parse([]byte(tt.data))
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.artifact, verr.Artifact)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestParseSelectorKeepsInvalidEntries(t *testing.T) {
	sel, err := ParseSelector([]byte(`{"selected_indices": [3, "x", 1.5, 1], "k": 4, "total_features_before_selection": 4, "num_term_features": 2, "num_manual_features": 2}`))
	require.NoError(t, err)
	assert.Equal(t, []int{3, InvalidIndex, InvalidIndex, 1}, sel.SelectedIndices())

	sel, err = ParseSelector([]byte(`{"selected_indices": [1e300, 2147483647], "k": 2, "total_features_before_selection": 4, "num_term_features": 2, "num_manual_features": 2}`))
	require.NoError(t, err)
	assert.Equal(t, []int{InvalidIndex, math.MaxInt32}, sel.SelectedIndices())
}

func TestParseSelectorAll(t *testing.T) {
	sel, err := ParseSelector([]byte(`{"selected_indices": [], "k": "all", "total_features_before_selection": 7, "num_term_features": 5, "num_manual_features": 2}`))
	require.NoError(t, err)
	assert.True(t, sel.K().All())
	assert.Equal(t, 7, sel.OutputLen())
}

func TestBundleWarnings(t *testing.T) {
	vocab, err := NewVocabulary(map[string]int{"free": 5})
	require.NoError(t, err)
	schema, err := NewSchema("word_count")
	require.NoError(t, err)
	b := NewBundle(vocab, NewWeightTable([]float64{1}, 1, 1, false), schema,
		NewSelectorInfo([]int{0, InvalidIndex}, KOf(3), 10, 4, 2))

	warnings := b.Warnings()
	assert.Len(t, warnings, 5)
}

func TestBundleAccessorsReturnCopies(t *testing.T) {
	schema, err := NewSchema("a", "b")
	require.NoError(t, err)
	names := schema.Names()
	names[0] = "mutated"
	assert.Equal(t, "a", schema.Name(0))

	sel := NewSelectorInfo([]int{1, 2}, KOf(2), 3, 2, 1)
	idx := sel.SelectedIndices()
	idx[0] = 99
	got, ok := sel.Selected(0)
	assert.True(t, ok)
	assert.Equal(t, 1, got)
}

func TestGate(t *testing.T) {
	t.Run("waits for initial load", func(t *testing.T) {
		release := make(chan struct{})
		want := NewBundle(Vocabulary{}, WeightTable{}, Schema{names: []string{"x"}}, SelectorInfo{})
		g := NewGate(func(context.Context) (*Bundle, error) {
			<-release
			return want, nil
		}, zerolog.Nop())
		g.Start(context.Background())

		pending, err := g.Status()
		assert.True(t, pending)
		assert.NoError(t, err)

		close(release)
		got, err := g.Wait(context.Background())
		require.NoError(t, err)
		assert.Same(t, want, got)
	})

	t.Run("failure is sticky until reload", func(t *testing.T) {
		calls := 0
		good := NewBundle(Vocabulary{}, WeightTable{}, Schema{names: []string{"x"}}, SelectorInfo{})
		g := NewGate(func(context.Context) (*Bundle, error) {
			calls++
			if calls == 1 {
				return nil, invalid(NameWeights, "weights", "missing")
			}
			return good, nil
		}, zerolog.Nop())

		_, err := g.Wait(context.Background())
		require.ErrorIs(t, err, ErrNotReady)
		var verr *ValidationError
		assert.ErrorAs(t, err, &verr)

		_, err = g.Wait(context.Background())
		require.ErrorIs(t, err, ErrNotReady)
		assert.Equal(t, 1, calls)

		require.NoError(t, g.Reload(context.Background()))
		got, err := g.Wait(context.Background())
		require.NoError(t, err)
		assert.Same(t, good, got)
	})

	t.Run("failed reload keeps previous snapshot", func(t *testing.T) {
		good := NewBundle(Vocabulary{}, WeightTable{}, Schema{names: []string{"x"}}, SelectorInfo{})
		fail := false
		g := NewGate(func(context.Context) (*Bundle, error) {
			if fail {
				return nil, errors.New("disk gone")
			}
			return good, nil
		}, zerolog.Nop())

		_, err := g.Wait(context.Background())
		require.NoError(t, err)

		fail = true
		require.Error(t, g.Reload(context.Background()))
		got, err := g.Wait(context.Background())
		require.NoError(t, err)
		assert.Same(t, good, got)
	})

	t.Run("ready gate", func(t *testing.T) {
		b := NewBundle(Vocabulary{}, WeightTable{}, Schema{names: []string{"x"}}, SelectorInfo{})
		got, err := Ready(b).Wait(context.Background())
		require.NoError(t, err)
		assert.Same(t, b, got)
	})
}
