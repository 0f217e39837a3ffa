package features

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed lexicon.yaml
var defaultLexicon []byte

// Lexicon holds the keyword lists behind the content, sender and link
// features. Entries are RE2 fragments.
type Lexicon struct {
	Version               int      `yaml:"version"`
	PhishingKeywords      []string `yaml:"phishing_keywords"`
	UrgentPhrases         []string `yaml:"urgent_phrases"`
	AttachmentWords       []string `yaml:"attachment_words"`
	GreetingOpeners       []string `yaml:"greeting_openers"`
	GreetingTargets       []string `yaml:"greeting_targets"`
	ThreatVerbs           []string `yaml:"threat_verbs"`
	ThreatObjects         []string `yaml:"threat_objects"`
	FinancialTerms        []string `yaml:"financial_terms"`
	URLShorteners         []string `yaml:"url_shorteners"`
	SuspiciousDomainWords []string `yaml:"suspicious_domain_words"`
	FreeMailProviders     []string `yaml:"free_mail_providers"`
	SenderBrands          []string `yaml:"sender_brands"`
	LookalikeBrands       []string `yaml:"lookalike_brands"`
	TrustedFormBrands     []string `yaml:"trusted_form_brands"`
	SecurityImageWords    []string `yaml:"security_image_words"`
}

// DefaultLexicon returns the embedded lexicon.
func DefaultLexicon() (*Lexicon, error) {
	return ParseLexicon(defaultLexicon)
}

// LoadLexicon reads a lexicon file. An empty path selects the embedded one.
func LoadLexicon(path string) (*Lexicon, error) {
	if path == "" {
		return DefaultLexicon()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read lexicon: %w", err)
	}
	return ParseLexicon(data)
}

// ParseLexicon decodes and validates a YAML lexicon.
func ParseLexicon(data []byte) (*Lexicon, error) {
	var lex Lexicon
	if err := yaml.Unmarshal(data, &lex); err != nil {
		return nil, fmt.Errorf("failed to parse lexicon: %w", err)
	}
	if _, err := lex.compile(); err != nil {
		return nil, err
	}
	return &lex, nil
}

// patterns are the compiled lexicon regexes.
type patterns struct {
	keywords       []*regexp.Regexp
	urgent         *regexp.Regexp
	attachment     *regexp.Regexp
	greeting       *regexp.Regexp
	threat         *regexp.Regexp
	financial      *regexp.Regexp
	shortener      *regexp.Regexp
	suspiciousHost *regexp.Regexp
	freeMail       *regexp.Regexp
	senderBrand    *regexp.Regexp
	trustedAction  *regexp.Regexp
	securityImage  *regexp.Regexp
	lookalikes     []string
}

func (l *Lexicon) compile() (*patterns, error) {
	lists := map[string][]string{
		"phishing_keywords":       l.PhishingKeywords,
		"urgent_phrases":          l.UrgentPhrases,
		"attachment_words":        l.AttachmentWords,
		"greeting_openers":        l.GreetingOpeners,
		"greeting_targets":        l.GreetingTargets,
		"threat_verbs":            l.ThreatVerbs,
		"threat_objects":          l.ThreatObjects,
		"financial_terms":         l.FinancialTerms,
		"url_shorteners":          l.URLShorteners,
		"suspicious_domain_words": l.SuspiciousDomainWords,
		"free_mail_providers":     l.FreeMailProviders,
		"sender_brands":           l.SenderBrands,
		"lookalike_brands":        l.LookalikeBrands,
		"trusted_form_brands":     l.TrustedFormBrands,
		"security_image_words":    l.SecurityImageWords,
	}
	for name, list := range lists {
		if len(list) == 0 {
			return nil, fmt.Errorf("lexicon list %s is empty", name)
		}
	}

	var p patterns
	var err error
	for _, kw := range l.PhishingKeywords {
		re, cerr := regexp.Compile(`(?i)\b` + kw + `\b`)
		if cerr != nil {
			return nil, fmt.Errorf("phishing keyword %q: %w", kw, cerr)
		}
		p.keywords = append(p.keywords, re)
	}

	compile := func(name, expr string) *regexp.Regexp {
		if err != nil {
			return nil
		}
		re, cerr := regexp.Compile(expr)
		if cerr != nil {
			err = fmt.Errorf("lexicon list %s: %w", name, cerr)
		}
		return re
	}
	alt := func(list []string) string { return "(" + strings.Join(list, "|") + ")" }

	p.urgent = compile("urgent_phrases", `(?i)\b`+alt(l.UrgentPhrases)+`\b`)
	p.attachment = compile("attachment_words", `(?i)\b`+alt(l.AttachmentWords)+`\b`)
	p.greeting = compile("greeting_openers", `(?i)\b`+alt(l.GreetingOpeners)+`\s+`+alt(l.GreetingTargets)+`\b`)
	p.threat = compile("threat_verbs", `(?is)\b`+alt(l.ThreatVerbs)+`.*`+alt(l.ThreatObjects)+`\b`)
	p.financial = compile("financial_terms", `(?i)\b`+alt(l.FinancialTerms)+`\b`)
	p.shortener = compile("url_shorteners", `(?i)`+alt(l.URLShorteners))
	p.suspiciousHost = compile("suspicious_domain_words", `(?i)`+alt(l.SuspiciousDomainWords))
	p.freeMail = compile("free_mail_providers", `(?i)`+alt(l.FreeMailProviders)+`\.`)
	p.senderBrand = compile("sender_brands", `(?i)`+alt(l.SenderBrands))
	p.trustedAction = compile("trusted_form_brands", `(?i)https?://([\w-]+\.)*`+alt(l.TrustedFormBrands)+`\.com`)
	p.securityImage = compile("security_image_words", `(?is)`+alt(l.SecurityImageWords)+`.*\.(png|gif|jpg|jpeg)`)
	if err != nil {
		return nil, err
	}

	for _, b := range l.LookalikeBrands {
		if b == "" || regexp.QuoteMeta(b) != b {
			return nil, fmt.Errorf("lookalike brand %q must be a plain name", b)
		}
		p.lookalikes = append(p.lookalikes, strings.ToLower(b))
	}
	return &p, nil
}
