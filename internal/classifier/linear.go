package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// Linear is a binary linear model (a linear SVC exported as coefficients):
// decision = coef . x + intercept, class = classes[1] when decision > 0.
type Linear struct {
	coef      []float64
	intercept float64
	classes   [2]float64
}

type linearFile struct {
	Coef      json.RawMessage `json:"coef"`
	Intercept json.RawMessage `json:"intercept"`
	Classes   []float64       `json:"classes"`
}

// LoadLinear reads a linear model from a JSON file of the form
// {"coef": [[...]], "intercept": [b], "classes": [0, 1]}. Flat coef and
// scalar intercept are accepted too; classes defaults to [0, 1].
func LoadLinear(path string) (*Linear, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model: %w", err)
	}
	return ParseLinear(data)
}

// ParseLinear decodes a linear model document.
func ParseLinear(data []byte) (*Linear, error) {
	var f linearFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse model: %w", err)
	}

	m := &Linear{classes: [2]float64{0, 1}}
	var rows [][]float64
	if err := json.Unmarshal(f.Coef, &rows); err == nil {
		if len(rows) != 1 {
			return nil, fmt.Errorf("binary model needs exactly one coefficient row, got %d", len(rows))
		}
		m.coef = rows[0]
	} else if err := json.Unmarshal(f.Coef, &m.coef); err != nil {
		return nil, errors.New("coef must be an array of numbers or a single-row matrix")
	}
	if len(m.coef) == 0 {
		return nil, errors.New("coef is empty")
	}

	var intercepts []float64
	switch {
	case len(f.Intercept) == 0:
	case json.Unmarshal(f.Intercept, &intercepts) == nil:
		if len(intercepts) != 1 {
			return nil, fmt.Errorf("binary model needs one intercept, got %d", len(intercepts))
		}
		m.intercept = intercepts[0]
	case json.Unmarshal(f.Intercept, &m.intercept) == nil:
	default:
		return nil, errors.New("intercept must be a number or a one-element array")
	}

	if f.Classes != nil {
		if len(f.Classes) != 2 {
			return nil, fmt.Errorf("binary model needs two classes, got %d", len(f.Classes))
		}
		m.classes = [2]float64{f.Classes[0], f.Classes[1]}
	}
	return m, nil
}

// NewLinear builds a model from coefficients.
func NewLinear(coef []float64, intercept float64) *Linear {
	return &Linear{coef: append([]float64(nil), coef...), intercept: intercept, classes: [2]float64{0, 1}}
}

// Features is the input width the model was trained on.
func (m *Linear) Features() int { return len(m.coef) }

// Classify implements Engine.
func (m *Linear) Classify(ctx context.Context, in Input) (Prediction, error) {
	if err := ctx.Err(); err != nil {
		return Prediction{}, err
	}
	if len(in.Vector) != len(m.coef) {
		return Prediction{}, &DimensionError{Got: len(in.Vector), Want: len(m.coef)}
	}
	decision := m.intercept
	for i, w := range m.coef {
		decision += w * float64(in.Vector[i])
	}
	class := m.classes[0]
	if decision > 0 {
		class = m.classes[1]
	}
	return Prediction{Label: LabelFor(class), Raw: []float64{class, decision}}, nil
}
