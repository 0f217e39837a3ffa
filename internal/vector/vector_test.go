package vector

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phishguard/phishguard/internal/artifact"
)

func TestCombine(t *testing.T) {
	sel := artifact.NewSelectorInfo(nil, artifact.KAll(), 5, 3, 2)

	t.Run("places terms then handcrafted", func(t *testing.T) {
		got, err := Combine(Sparse{0: 1.5, 2: 4}, Dense{7, 8}, sel, zerolog.Nop())
		require.NoError(t, err)
		assert.Equal(t, Dense{1.5, 0, 4, 7, 8}, got)
	})

	t.Run("drops term indices outside the term block", func(t *testing.T) {
		got, err := Combine(Sparse{-1: 9, 3: 9, 1: 2}, Dense{7, 8}, sel, zerolog.Nop())
		require.NoError(t, err)
		assert.Equal(t, Dense{0, 2, 0, 7, 8}, got)
	})

	t.Run("empty sparse vector", func(t *testing.T) {
		got, err := Combine(Sparse{}, Dense{1, 1}, sel, zerolog.Nop())
		require.NoError(t, err)
		assert.Equal(t, Dense{0, 0, 0, 1, 1}, got)
	})

	t.Run("handcrafted length mismatch", func(t *testing.T) {
		for _, hc := range []Dense{{1}, {1, 2, 3}, {}} {
			got, err := Combine(Sparse{}, hc, sel, zerolog.Nop())
			assert.Nil(t, got)
			var lerr *LengthMismatchError
			require.ErrorAs(t, err, &lerr)
			assert.Equal(t, len(hc), lerr.Got)
			assert.Equal(t, 2, lerr.Want)
		}
	})

	t.Run("total smaller than layout", func(t *testing.T) {
		short := artifact.NewSelectorInfo(nil, artifact.KAll(), 4, 3, 2)
		got, err := Combine(Sparse{1: 1}, Dense{7, 8}, short, zerolog.Nop())
		require.NoError(t, err)
		assert.Equal(t, Dense{0, 1, 0, 7}, got)
	})
}

func TestSelect(t *testing.T) {
	combined := Dense{10, 20, 30, 40}

	t.Run("column permutation", func(t *testing.T) {
		sel := artifact.NewSelectorInfo([]int{3, 1}, artifact.KOf(2), 4, 2, 2)
		assert.Equal(t, Dense{40, 20}, Select(combined, sel, zerolog.Nop()))
	})

	t.Run("all is identity", func(t *testing.T) {
		sel := artifact.NewSelectorInfo([]int{0}, artifact.KAll(), 4, 2, 2)
		got := Select(combined, sel, zerolog.Nop())
		assert.Equal(t, combined, got)
		assert.Same(t, &combined[0], &got[0])
	})

	t.Run("invalid indices default to zero", func(t *testing.T) {
		sel := artifact.NewSelectorInfo([]int{artifact.InvalidIndex, 4, 2, -7}, artifact.KOf(4), 4, 2, 2)
		assert.Equal(t, Dense{0, 0, 30, 0}, Select(combined, sel, zerolog.Nop()))
	})

	t.Run("selected list shorter than k", func(t *testing.T) {
		sel := artifact.NewSelectorInfo([]int{0}, artifact.KOf(3), 4, 2, 2)
		assert.Equal(t, Dense{10, 0, 0}, Select(combined, sel, zerolog.Nop()))
	})

	t.Run("selected list longer than k", func(t *testing.T) {
		sel := artifact.NewSelectorInfo([]int{2, 1, 0}, artifact.KOf(2), 4, 2, 2)
		assert.Equal(t, Dense{30, 20}, Select(combined, sel, zerolog.Nop()))
	})
}

func TestSparseIndices(t *testing.T) {
	assert.Equal(t, []int{1, 4, 9}, Sparse{9: 1, 1: 1, 4: 1}.Indices())
}
