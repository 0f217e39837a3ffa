package artifact

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
)

// Field aliases: the first name is the canonical one, the rest are the
// names written by the offline training script.
var (
	weightsKeys   = []string{"weights", "idf_weights"}
	sublinearKeys = []string{"sublinear_scaling", "sublinear_tf"}
	numTermKeys   = []string{"num_term_features", "num_tfidf_features"}
)

func decode(name Name, data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, &ValidationError{Artifact: name, Reason: "malformed JSON", Err: err}
	}
	return v, nil
}

func decodeObject(name Name, data []byte) (map[string]any, error) {
	raw, err := decode(name, data)
	if err != nil {
		return nil, err
	}
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, invalid(name, "", "expected a JSON object")
	}
	return obj, nil
}

// lookup returns the value stored under the first present key.
func lookup(obj map[string]any, keys []string) (key string, v any, ok bool) {
	for _, k := range keys {
		if v, ok := obj[k]; ok {
			return k, v, true
		}
	}
	return keys[0], nil, false
}

// asInt accepts JSON numbers with an integral value that fits in an int32.
// Larger counts and indices cannot describe a vector that fits in memory.
func asInt(v any) (int, bool) {
	n, ok := v.(json.Number)
	if !ok {
		return 0, false
	}
	if i, err := n.Int64(); err == nil {
		if i < math.MinInt32 || i > math.MaxInt32 {
			return 0, false
		}
		return int(i), true
	}
	f, err := n.Float64()
	if err != nil || f != math.Trunc(f) || f < math.MinInt32 || f > math.MaxInt32 {
		return 0, false
	}
	return int(f), true
}

func asFloat(v any) (float64, bool) {
	n, ok := v.(json.Number)
	if !ok {
		return 0, false
	}
	f, err := n.Float64()
	return f, err == nil
}

// ParseVocabulary validates a term -> index JSON object.
func ParseVocabulary(data []byte) (Vocabulary, error) {
	obj, err := decodeObject(NameVocabulary, data)
	if err != nil {
		return Vocabulary{}, err
	}
	terms := make(map[string]int, len(obj))
	for term, v := range obj {
		idx, ok := asInt(v)
		if !ok || idx < 0 {
			return Vocabulary{}, invalid(NameVocabulary, term, "index must be a non-negative integer")
		}
		terms[term] = idx
	}
	return Vocabulary{terms: terms}, nil
}

// ParseWeights validates the weight data document:
// {"weights": [float...], "ngram_range": [int, int], "sublinear_scaling": bool}.
func ParseWeights(data []byte) (WeightTable, error) {
	obj, err := decodeObject(NameWeights, data)
	if err != nil {
		return WeightTable{}, err
	}

	key, raw, ok := lookup(obj, weightsKeys)
	if !ok {
		return WeightTable{}, invalid(NameWeights, key, "missing")
	}
	arr, ok := raw.([]any)
	if !ok {
		return WeightTable{}, invalid(NameWeights, key, "expected an array of numbers")
	}
	weights := make([]float64, len(arr))
	for i, v := range arr {
		f, ok := asFloat(v)
		if !ok {
			return WeightTable{}, invalid(NameWeights, fmt.Sprintf("%s[%d]", key, i), "expected a number")
		}
		weights[i] = f
	}

	rng, ok := obj["ngram_range"].([]any)
	if !ok || len(rng) != 2 {
		return WeightTable{}, invalid(NameWeights, "ngram_range", "expected an array of two integers")
	}
	lo, okLo := asInt(rng[0])
	hi, okHi := asInt(rng[1])
	if !okLo || !okHi {
		return WeightTable{}, invalid(NameWeights, "ngram_range", "expected an array of two integers")
	}

	key, raw, ok = lookup(obj, sublinearKeys)
	sublinear, isBool := raw.(bool)
	if !ok || !isBool {
		return WeightTable{}, invalid(NameWeights, key, "expected a boolean")
	}

	return WeightTable{weights: weights, ngramMin: lo, ngramMax: hi, sublinear: sublinear}, nil
}

// ParseSchema validates a non-empty JSON array of feature names.
func ParseSchema(data []byte) (Schema, error) {
	raw, err := decode(NameSchema, data)
	if err != nil {
		return Schema{}, err
	}
	arr, ok := raw.([]any)
	if !ok {
		return Schema{}, invalid(NameSchema, "", "expected an array of strings")
	}
	names := make([]string, len(arr))
	for i, v := range arr {
		s, ok := v.(string)
		if !ok {
			return Schema{}, invalid(NameSchema, fmt.Sprintf("[%d]", i), "expected a string")
		}
		names[i] = s
	}
	return NewSchema(names...)
}

// ParseSelector validates the selector info document. Entries of
// selected_indices that are not integers are kept as InvalidIndex.
func ParseSelector(data []byte) (SelectorInfo, error) {
	obj, err := decodeObject(NameSelector, data)
	if err != nil {
		return SelectorInfo{}, err
	}

	arr, ok := obj["selected_indices"].([]any)
	if !ok {
		return SelectorInfo{}, invalid(NameSelector, "selected_indices", "expected an array")
	}
	selected := make([]int, len(arr))
	for i, v := range arr {
		idx, ok := asInt(v)
		if !ok {
			idx = InvalidIndex
		}
		selected[i] = idx
	}

	var k K
	switch v := obj["k"].(type) {
	case nil:
		return SelectorInfo{}, invalid(NameSelector, "k", "missing")
	case string:
		if v != "all" {
			return SelectorInfo{}, invalid(NameSelector, "k", fmt.Sprintf("expected an integer or \"all\", got %q", v))
		}
		k = KAll()
	default:
		n, ok := asInt(v)
		if !ok || n < 0 {
			return SelectorInfo{}, invalid(NameSelector, "k", "expected an integer or \"all\"")
		}
		k = KOf(n)
	}

	count := func(keys ...string) (int, error) {
		key, v, ok := lookup(obj, keys)
		if !ok {
			return 0, invalid(NameSelector, key, "missing")
		}
		n, ok := asInt(v)
		if !ok || n < 0 {
			return 0, invalid(NameSelector, key, "expected a non-negative integer")
		}
		return n, nil
	}
	total, err := count("total_features_before_selection")
	if err != nil {
		return SelectorInfo{}, err
	}
	numTerm, err := count(numTermKeys...)
	if err != nil {
		return SelectorInfo{}, err
	}
	numManual, err := count("num_manual_features")
	if err != nil {
		return SelectorInfo{}, err
	}

	return SelectorInfo{
		selected:  selected,
		k:         k,
		total:     total,
		numTerm:   numTerm,
		numManual: numManual,
	}, nil
}
