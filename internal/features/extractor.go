// Package features computes the handcrafted lexical, link, sender,
// content, markup, stylistic and visual-deception signals of a message.
package features

import (
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"

	"github.com/phishguard/phishguard/internal/artifact"
	"github.com/phishguard/phishguard/internal/message"
	"github.com/phishguard/phishguard/internal/vector"
)

// Features maps a feature name to its numeric value.
type Features map[string]float64

// Set stores v under name after coercing it to a number.
func (f Features) Set(name string, v any) {
	f[name] = Coerce(v)
}

// Names returns the feature names in lexical order.
func (f Features) Names() []string {
	names := make([]string, 0, len(f))
	for name := range f {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Coerce converts v to a feature value: booleans become 0 or 1, numeric
// strings are parsed, and nil, NaN or anything non-numeric becomes 0.
func Coerce(v any) float64 {
	var f float64
	switch x := v.(type) {
	case nil:
		return 0
	case bool:
		if x {
			return 1
		}
		return 0
	case int:
		f = float64(x)
	case int32:
		f = float64(x)
	case int64:
		f = float64(x)
	case uint:
		f = float64(x)
	case float32:
		f = float64(x)
	case float64:
		f = x
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0
		}
		f = parsed
	default:
		return 0
	}
	if math.IsNaN(f) {
		return 0
	}
	return f
}

// Extractor computes Features. It holds only compiled patterns and is safe
// for concurrent use.
type Extractor struct {
	pats *patterns
	log  zerolog.Logger
}

// NewExtractor compiles lex. A nil lex selects the embedded lexicon.
func NewExtractor(lex *Lexicon, log zerolog.Logger) (*Extractor, error) {
	if lex == nil {
		var err error
		if lex, err = DefaultLexicon(); err != nil {
			return nil, err
		}
	}
	pats, err := lex.compile()
	if err != nil {
		return nil, err
	}
	return &Extractor{
		pats: pats,
		log:  log.With().Str("component", "features").Logger(),
	}, nil
}

// scan is the per-message working set shared by the feature groups.
type scan struct {
	content  message.Content
	cleaned  string
	rawText  string // subject and plain-text body
	richText string // subject and HTML body
	doc      *goquery.Document
	links    *goquery.Selection
}

// Extract computes every handcrafted feature from the raw fields and the
// normalized subject-plus-HTML text. Missing structures (no links, no
// forms, no HTML) yield zeros; Extract never fails.
func (e *Extractor) Extract(c message.Content, cleaned string) Features {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(c.BodyHTML))
	if err != nil {
		e.log.Warn().Err(err).Msg("failed to parse HTML body; markup features will be zero")
		doc, _ = goquery.NewDocumentFromReader(strings.NewReader(""))
	}
	s := &scan{
		content:  c,
		cleaned:  cleaned,
		rawText:  c.Subject + " " + c.BodyText,
		richText: c.Subject + " " + c.BodyHTML,
		doc:      doc,
		links:    doc.Find("a"),
	}

	f := make(Features, 64)
	e.lexical(f, s)
	e.linkFeatures(f, s)
	e.senderFeatures(f, s)
	e.contentFeatures(f, s)
	e.markupFeatures(f, s)
	e.styleFeatures(f, s)
	e.visualFeatures(f, s)

	for name, v := range f {
		if math.IsNaN(v) {
			f[name] = 0
		}
	}
	e.log.Debug().Int("features", len(f)).Msg("handcrafted features extracted")
	return f
}

// Vectorize lays f out in schema order. Names the extractor does not
// produce are 0.
func Vectorize(f Features, schema artifact.Schema) vector.Dense {
	out := make(vector.Dense, schema.Len())
	for i := range out {
		v, ok := f[schema.Name(i)]
		if !ok || math.IsNaN(v) {
			continue
		}
		out[i] = float32(v)
	}
	return out
}

// Unknown lists the schema names f has no value for.
func Unknown(f Features, schema artifact.Schema) []string {
	var out []string
	for _, name := range schema.Names() {
		if _, ok := f[name]; !ok {
			out = append(out, name)
		}
	}
	return out
}

// jsLen counts UTF-16 code units, the unit the feature ratios were
// computed in at training time.
func jsLen(s string) int {
	n := 0
	for _, r := range s {
		if r >= 0x10000 {
			n += 2
		} else {
			n++
		}
	}
	return n
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}

func flag(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func count(re *regexp.Regexp, s string) int {
	return len(re.FindAllStringIndex(s, -1))
}
