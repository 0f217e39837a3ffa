// Package artifact loads and validates the fitted-model artifacts the
// phishing classifier was trained with: the term vocabulary, the term
// weighting table, the handcrafted feature schema and the feature selector.
//
// A Bundle is immutable once built. Slices handed out by accessors are
// copies, so a Bundle can be shared by every concurrent scan.
package artifact

import "fmt"

// Name identifies one of the four artifacts.
type Name string

const (
	NameVocabulary Name = "vocabulary"
	NameWeights    Name = "weights"
	NameSchema     Name = "schema"
	NameSelector   Name = "selector"
)

// Vocabulary maps a term or n-gram to its column index.
type Vocabulary struct {
	terms map[string]int
}

// NewVocabulary copies terms into a Vocabulary. Indices must be non-negative.
func NewVocabulary(terms map[string]int) (Vocabulary, error) {
	copied := make(map[string]int, len(terms))
	for term, idx := range terms {
		if idx < 0 {
			return Vocabulary{}, invalid(NameVocabulary, term, "index must be a non-negative integer")
		}
		copied[term] = idx
	}
	return Vocabulary{terms: copied}, nil
}

// Lookup returns the index of term.
func (v Vocabulary) Lookup(term string) (int, bool) {
	idx, ok := v.terms[term]
	return idx, ok
}

func (v Vocabulary) Len() int { return len(v.terms) }

// maxIndex returns the largest index in the vocabulary, or -1 when empty.
func (v Vocabulary) maxIndex() int {
	max := -1
	for _, idx := range v.terms {
		if idx > max {
			max = idx
		}
	}
	return max
}

// WeightTable holds the per-index term weights (IDF values) together with
// the n-gram range and sublinear flag the vectorizer was fitted with.
type WeightTable struct {
	weights   []float64
	ngramMin  int
	ngramMax  int
	sublinear bool
}

// NewWeightTable copies weights into a WeightTable.
func NewWeightTable(weights []float64, ngramMin, ngramMax int, sublinear bool) WeightTable {
	return WeightTable{
		weights:   append([]float64(nil), weights...),
		ngramMin:  ngramMin,
		ngramMax:  ngramMax,
		sublinear: sublinear,
	}
}

func (w WeightTable) Len() int { return len(w.weights) }

// At returns the weight at index i; ok is false when i is out of bounds.
func (w WeightTable) At(i int) (weight float64, ok bool) {
	if i < 0 || i >= len(w.weights) {
		return 0, false
	}
	return w.weights[i], true
}

// NgramRange returns the inclusive n-gram bounds.
func (w WeightTable) NgramRange() (min, max int) { return w.ngramMin, w.ngramMax }

// Sublinear reports whether raw counts are replaced by 1+ln(tf).
func (w WeightTable) Sublinear() bool { return w.sublinear }

// Schema is the ordered list of handcrafted feature names.
type Schema struct {
	names []string
}

// NewSchema builds a Schema; at least one name is required.
func NewSchema(names ...string) (Schema, error) {
	if len(names) == 0 {
		return Schema{}, invalid(NameSchema, "", "feature name list is empty")
	}
	return Schema{names: append([]string(nil), names...)}, nil
}

func (s Schema) Len() int { return len(s.names) }

// Name returns the feature name at position i.
func (s Schema) Name(i int) string { return s.names[i] }

// Names returns a copy of the ordered feature names.
func (s Schema) Names() []string { return append([]string(nil), s.names...) }

// K is the selector's k parameter: either a column count or "all".
type K struct {
	all bool
	n   int
}

// KAll selects every column.
func KAll() K { return K{all: true} }

// KOf selects n columns.
func KOf(n int) K { return K{n: n} }

func (k K) All() bool { return k.all }
func (k K) N() int   { return k.n }

func (k K) String() string {
	if k.all {
		return "all"
	}
	return fmt.Sprintf("%d", k.n)
}

// InvalidIndex marks a selected_indices entry that was not an integer.
const InvalidIndex = -1

// SelectorInfo describes the combined feature layout and the K-best
// column permutation applied to it.
type SelectorInfo struct {
	selected  []int
	k         K
	total     int
	numTerm   int
	numManual int
}

// NewSelectorInfo copies selected into a SelectorInfo.
func NewSelectorInfo(selected []int, k K, total, numTerm, numManual int) SelectorInfo {
	return SelectorInfo{
		selected:  append([]int(nil), selected...),
		k:         k,
		total:     total,
		numTerm:   numTerm,
		numManual: numManual,
	}
}

func (s SelectorInfo) K() K                      { return s.k }
func (s SelectorInfo) TotalBeforeSelection() int { return s.total }
func (s SelectorInfo) NumTermFeatures() int      { return s.numTerm }
func (s SelectorInfo) NumManualFeatures() int    { return s.numManual }
func (s SelectorInfo) NumSelected() int          { return len(s.selected) }

// Selected returns the combined-vector index feeding output position i.
// ok is false when the list has no entry at i. The index itself may be
// InvalidIndex or out of range; callers repair those.
func (s SelectorInfo) Selected(i int) (idx int, ok bool) {
	if i < 0 || i >= len(s.selected) {
		return 0, false
	}
	return s.selected[i], true
}

// SelectedIndices returns a copy of the selected column indices.
func (s SelectorInfo) SelectedIndices() []int { return append([]int(nil), s.selected...) }

// OutputLen is the length of the selected vector.
func (s SelectorInfo) OutputLen() int {
	if s.k.all {
		return s.total
	}
	return s.k.n
}

// Bundle is the immutable snapshot of all four artifacts.
type Bundle struct {
	vocab    Vocabulary
	weights  WeightTable
	schema   Schema
	selector SelectorInfo
}

// NewBundle assembles already-validated artifacts.
func NewBundle(vocab Vocabulary, weights WeightTable, schema Schema, selector SelectorInfo) *Bundle {
	return &Bundle{vocab: vocab, weights: weights, schema: schema, selector: selector}
}

func (b *Bundle) Vocabulary() Vocabulary { return b.vocab }
func (b *Bundle) Weights() WeightTable   { return b.weights }
func (b *Bundle) Schema() Schema         { return b.schema }
func (b *Bundle) Selector() SelectorInfo { return b.selector }

// Warnings lists contract drift between the artifacts that is tolerated
// at load time. Scans still run; some of these surface as per-request
// warnings or as a LengthMismatchError in the assembler.
func (b *Bundle) Warnings() []string {
	var out []string
	sel := b.selector
	if sel.numTerm+sel.numManual != sel.total {
		out = append(out, fmt.Sprintf("num_term_features (%d) + num_manual_features (%d) != total_features_before_selection (%d)",
			sel.numTerm, sel.numManual, sel.total))
	}
	if !sel.k.all && len(sel.selected) != sel.k.n {
		out = append(out, fmt.Sprintf("k (%d) != len(selected_indices) (%d)", sel.k.n, len(sel.selected)))
	}
	invalidCount := 0
	for _, idx := range sel.selected {
		if idx == InvalidIndex {
			invalidCount++
		}
	}
	if invalidCount > 0 {
		out = append(out, fmt.Sprintf("%d selected_indices entries are not integers", invalidCount))
	}
	if b.schema.Len() != sel.numManual {
		out = append(out, fmt.Sprintf("handcrafted schema has %d names but num_manual_features is %d",
			b.schema.Len(), sel.numManual))
	}
	if max := b.vocab.maxIndex(); max >= b.weights.Len() {
		out = append(out, fmt.Sprintf("vocabulary index %d is out of bounds for %d weights", max, b.weights.Len()))
	}
	return out
}
