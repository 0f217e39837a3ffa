package artifact

import (
	"context"
	"fmt"
	"io/fs"
	"os"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Files names the four artifact documents inside the artifact directory.
type Files struct {
	Vocabulary string `yaml:"vocabulary"`
	Weights    string `yaml:"weights"`
	Schema     string `yaml:"schema"`
	Selector   string `yaml:"selector"`
}

// DefaultFiles returns the file names written by the training export.
func DefaultFiles() Files {
	return Files{
		Vocabulary: "tfidf_vocabulary.json",
		Weights:    "tfidf_idf_data.json",
		Schema:     "handcrafted_feature_names.json",
		Selector:   "selector_info.json",
	}
}

// Loader reads and validates the artifacts. Load is all-or-nothing: if any
// artifact fails, no bundle is returned.
type Loader struct {
	fsys  fs.FS
	files Files
	log   zerolog.Logger
}

// NewLoader reads artifacts from dir.
func NewLoader(dir string, files Files, log zerolog.Logger) *Loader {
	return NewFSLoader(os.DirFS(dir), files, log)
}

// NewFSLoader reads artifacts from fsys.
func NewFSLoader(fsys fs.FS, files Files, log zerolog.Logger) *Loader {
	def := DefaultFiles()
	if files.Vocabulary == "" {
		files.Vocabulary = def.Vocabulary
	}
	if files.Weights == "" {
		files.Weights = def.Weights
	}
	if files.Schema == "" {
		files.Schema = def.Schema
	}
	if files.Selector == "" {
		files.Selector = def.Selector
	}
	return &Loader{
		fsys:  fsys,
		files: files,
		log:   log.With().Str("component", "artifact_loader").Logger(),
	}
}

// Load reads the four documents concurrently and validates them.
func (l *Loader) Load(ctx context.Context) (*Bundle, error) {
	var (
		vocab    Vocabulary
		weights  WeightTable
		schema   Schema
		selector SelectorInfo
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		data, err := l.read(ctx, NameVocabulary, l.files.Vocabulary)
		if err != nil {
			return err
		}
		vocab, err = ParseVocabulary(data)
		return err
	})
	g.Go(func() error {
		data, err := l.read(ctx, NameWeights, l.files.Weights)
		if err != nil {
			return err
		}
		weights, err = ParseWeights(data)
		return err
	})
	g.Go(func() error {
		data, err := l.read(ctx, NameSchema, l.files.Schema)
		if err != nil {
			return err
		}
		schema, err = ParseSchema(data)
		return err
	})
	g.Go(func() error {
		data, err := l.read(ctx, NameSelector, l.files.Selector)
		if err != nil {
			return err
		}
		selector, err = ParseSelector(data)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	b := NewBundle(vocab, weights, schema, selector)
	for _, w := range b.Warnings() {
		l.log.Warn().Msg(w)
	}
	lo, hi := weights.NgramRange()
	l.log.Info().
		Int("vocabulary", vocab.Len()).
		Int("weights", weights.Len()).
		Int("ngram_min", lo).
		Int("ngram_max", hi).
		Bool("sublinear", weights.Sublinear()).
		Int("handcrafted", schema.Len()).
		Str("k", selector.K().String()).
		Int("total_before_selection", selector.TotalBeforeSelection()).
		Msg("artifacts loaded")
	return b, nil
}

func (l *Loader) read(ctx context.Context, name Name, file string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := fs.ReadFile(l.fsys, file)
	if err != nil {
		return nil, &ValidationError{Artifact: name, Reason: fmt.Sprintf("cannot read %s", file), Err: err}
	}
	l.log.Debug().Str("artifact", string(name)).Str("file", file).Int("bytes", len(data)).Msg("artifact read")
	return data, nil
}
