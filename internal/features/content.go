package features

import "strings"

func (e *Extractor) contentFeatures(f Features, s *scan) {
	lower := strings.ToLower(s.cleaned)
	hits := 0
	for _, re := range e.pats.keywords {
		hits += count(re, lower)
	}
	f["phishing_keyword_count"] = float64(hits)

	f["has_urgent_phrase"] = flag(e.pats.urgent.MatchString(s.cleaned))
	f["has_attachment_mention"] = flag(e.pats.attachment.MatchString(s.cleaned))
	f["has_generic_greeting"] = flag(e.pats.greeting.MatchString(s.cleaned))
	f["has_threat_language"] = flag(e.pats.threat.MatchString(s.cleaned))
	f["has_financial_request"] = flag(e.pats.financial.MatchString(s.cleaned))
}
