// Package vector assembles the term and handcrafted features into the
// combined layout the selector was fitted on and projects it onto the
// selected columns.
package vector

import (
	"fmt"
	"sort"
)

// Sparse maps a vocabulary index to its term weight.
type Sparse map[int]float64

// Indices returns the populated indices in ascending order.
func (s Sparse) Indices() []int {
	out := make([]int, 0, len(s))
	for idx := range s {
		out = append(out, idx)
	}
	sort.Ints(out)
	return out
}

// Dense is a fixed-length feature vector. float32 is the element type of
// the classifier's input tensor.
type Dense []float32

// LengthMismatchError reports a handcrafted vector whose length differs
// from the layout the model was trained with.
type LengthMismatchError struct {
	Got  int
	Want int
}

func (e *LengthMismatchError) Error() string {
	return fmt.Sprintf("handcrafted vector length %d does not match num_manual_features %d", e.Got, e.Want)
}
