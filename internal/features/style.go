package features

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var (
	linkRestyle     = regexp.MustCompile(`(?i)(color|text-decoration)`)
	statusBarScript = regexp.MustCompile(`(?i)(window\.status|onmouseover\s*=\s*["']window\.status)`)
)

func (e *Extractor) styleFeatures(f Features, s *scan) {
	f["exclamation_mark_count"] = float64(strings.Count(s.rawText, "!"))
	f["question_mark_count"] = float64(strings.Count(s.rawText, "?"))

	upper := 0
	for i := 0; i < len(s.rawText); i++ {
		if c := s.rawText[i]; c >= 'A' && c <= 'Z' {
			upper++
		}
	}
	f["all_caps_char_ratio"] = ratio(upper, jsLen(s.rawText))
}

// visualFeatures also sets visual_deception_score, the sum of the three
// deception flags.
func (e *Extractor) visualFeatures(f Features, s *scan) {
	restyled := false
	s.links.EachWithBreak(func(_ int, a *goquery.Selection) bool {
		if style := a.AttrOr("style", ""); style != "" && linkRestyle.MatchString(style) {
			restyled = true
		}
		return !restyled
	})

	favicon := s.doc.Find("link[rel]").FilterFunction(func(_ int, l *goquery.Selection) bool {
		for _, rel := range strings.Fields(l.AttrOr("rel", "")) {
			if strings.EqualFold(rel, "icon") {
				return true
			}
		}
		return false
	}).Length() > 0

	fakeBadge := false
	s.doc.Find("img").EachWithBreak(func(_ int, img *goquery.Selection) bool {
		if src := img.AttrOr("src", ""); src != "" && e.pats.securityImage.MatchString(src) {
			fakeBadge = true
		}
		return !fakeBadge
	})

	statusBar := statusBarScript.MatchString(s.richText)

	f["has_link_style_manipulation"] = flag(restyled)
	f["has_favicon_link"] = flag(favicon)
	f["has_fake_security_image"] = flag(fakeBadge)
	f["has_status_bar_manipulation"] = flag(statusBar)
	f["visual_deception_score"] = flag(fakeBadge) + flag(restyled) + flag(statusBar)
}
