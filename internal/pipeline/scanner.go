// Package pipeline runs one scan: normalize, extract, vectorize, assemble,
// select and classify. It is the only layer that reports fatal errors, each
// tagged with the stage that produced it.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/phishguard/phishguard/internal/artifact"
	"github.com/phishguard/phishguard/internal/classifier"
	"github.com/phishguard/phishguard/internal/features"
	"github.com/phishguard/phishguard/internal/message"
	"github.com/phishguard/phishguard/internal/textnorm"
	"github.com/phishguard/phishguard/internal/tfidf"
	"github.com/phishguard/phishguard/internal/vector"
)

// Stage names a pipeline step.
type Stage string

const (
	StageInit        Stage = "init"
	StageExtract     Stage = "extract"
	StageNormalize   Stage = "normalize"
	StageHandcrafted Stage = "handcrafted"
	StageTfidf       Stage = "tfidf"
	StageAssemble    Stage = "assemble"
	StageSelect      Stage = "select"
	StageInference   Stage = "inference"
)

// ErrNoContent is returned when a message has neither subject nor
// plain-text body.
var ErrNoContent = errors.New("no usable message content")

// StageError wraps the error that aborted a scan.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// StageOf returns the stage of a scan error, or "" if err is not one.
func StageOf(err error) Stage {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}

// Result is the outcome of a successful scan.
type Result struct {
	ID         string
	Label      classifier.Label
	Raw        []float64
	Dimensions int
	Duration   time.Duration
}

// Scanner wires the pipeline stages. It keeps no per-scan state, so one
// Scanner serves concurrent scans.
type Scanner struct {
	gate      *artifact.Gate
	extractor *features.Extractor
	engine    classifier.Engine
	inputName string
	log       zerolog.Logger
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithInputName sets the engine input slot. Defaults to
// classifier.DefaultInputName.
func WithInputName(name string) Option {
	return func(s *Scanner) {
		if name != "" {
			s.inputName = name
		}
	}
}

// NewScanner creates a scanner. Artifacts come from gate; the bundle is
// fetched per scan so a reload takes effect on the next scan.
func NewScanner(gate *artifact.Gate, extractor *features.Extractor, engine classifier.Engine, log zerolog.Logger, opts ...Option) *Scanner {
	s := &Scanner{
		gate:      gate,
		extractor: extractor,
		engine:    engine,
		inputName: classifier.DefaultInputName,
		log:       log.With().Str("component", "scanner").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Scan runs the pipeline over c.
func (s *Scanner) Scan(ctx context.Context, c message.Content) (*Result, error) {
	start := time.Now()
	id := uuid.NewString()
	log := s.log.With().Str("scan_id", id).Logger()

	vec, err := s.vectorize(ctx, c, log)
	if err != nil {
		log.Error().Err(err).Str("stage", string(StageOf(err))).Msg("scan failed")
		return nil, err
	}

	pred, err := s.engine.Classify(ctx, classifier.Input{Name: s.inputName, Vector: vec})
	if err != nil {
		err = &StageError{Stage: StageInference, Err: err}
		log.Error().Err(err).Str("stage", string(StageInference)).Msg("scan failed")
		return nil, err
	}

	res := &Result{
		ID:         id,
		Label:      pred.Label,
		Raw:        pred.Raw,
		Dimensions: len(vec),
		Duration:   time.Since(start),
	}
	log.Info().Str("label", string(res.Label)).Int("dimensions", res.Dimensions).Dur("duration", res.Duration).Msg("scan complete")
	return res, nil
}

// Vectorize runs every stage up to and including selection and returns the
// model input without classifying it.
func (s *Scanner) Vectorize(ctx context.Context, c message.Content) (vector.Dense, error) {
	return s.vectorize(ctx, c, s.log)
}

func (s *Scanner) vectorize(ctx context.Context, c message.Content, log zerolog.Logger) (vector.Dense, error) {
	bundle, err := s.gate.Wait(ctx)
	if err != nil {
		return nil, &StageError{Stage: StageInit, Err: err}
	}

	if !c.HasText() {
		return nil, &StageError{Stage: StageExtract, Err: ErrNoContent}
	}

	cleaned := textnorm.Normalize(c.Subject + " " + c.BodyHTML)
	log.Debug().Int("cleaned_length", len(cleaned)).Msg("text normalized")

	hc := s.extractor.Extract(c, cleaned)
	schema := bundle.Schema()
	if unknown := features.Unknown(hc, schema); len(unknown) > 0 {
		log.Debug().Strs("names", unknown).Msg("schema names without an extractor; using 0")
	}
	dense := features.Vectorize(hc, schema)

	terms, err := tfidf.New(bundle, log).Transform(cleaned)
	if err != nil {
		return nil, &StageError{Stage: StageTfidf, Err: err}
	}

	sel := bundle.Selector()
	combined, err := vector.Combine(terms, dense, sel, log)
	if err != nil {
		return nil, &StageError{Stage: StageAssemble, Err: err}
	}
	selected := vector.Select(combined, sel, log)
	log.Debug().
		Int("terms", len(terms)).
		Int("handcrafted", len(dense)).
		Int("combined", len(combined)).
		Int("selected", len(selected)).
		Msg("feature vector assembled")
	return selected, nil
}
