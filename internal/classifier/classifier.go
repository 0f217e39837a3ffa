// Package classifier adapts inference engines to the scan pipeline. The
// pipeline sees an engine only as a call from a named float32 input to a
// label.
package classifier

import (
	"context"
	"fmt"
)

// DefaultInputName is the input slot used when the model does not name one.
const DefaultInputName = "float_input"

// Label is a discrete verdict.
type Label string

const (
	LabelPhishing Label = "PHISHING"
	LabelSafe     Label = "SAFE"
)

// LabelFor maps the model's class output to a verdict: class 1 is phishing,
// anything else is safe.
func LabelFor(class float64) Label {
	if class == 1 {
		return LabelPhishing
	}
	return LabelSafe
}

// Input is one feature vector under a named input slot. The tensor shape is
// [1, len(Vector)].
type Input struct {
	Name   string
	Vector []float32
}

// Prediction is the engine's answer.
type Prediction struct {
	Label Label
	// Raw is the engine's raw output: the class value followed by any
	// decision scores.
	Raw []float64
}

// Engine runs inference. Cancellation is carried by ctx.
type Engine interface {
	Classify(ctx context.Context, in Input) (Prediction, error)
}

// Func adapts a plain function to Engine.
type Func func(ctx context.Context, in Input) (Prediction, error)

func (f Func) Classify(ctx context.Context, in Input) (Prediction, error) {
	return f(ctx, in)
}

// DimensionError is returned when an engine expects a different number of
// features than it was given.
type DimensionError struct {
	Got  int
	Want int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("model expects %d features, got %d", e.Want, e.Got)
}
