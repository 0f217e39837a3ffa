package features

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var (
	htmlTag       = regexp.MustCompile(`<[^>]+>`)
	hiddenStyle   = regexp.MustCompile(`(?i)style\s*=\s*["'][^"']*(display:\s*none|visibility:\s*hidden)`)
	localAction   = regexp.MustCompile(`(?i)^(#|/|mailto:)`)
	absoluteURL   = regexp.MustCompile(`(?i)^https?://`)
	eventHandler  = regexp.MustCompile(`(?i)on(click|load|mouseover|submit|focus|blur|change|keyup|keydown)\s*=`)
	evalCall      = regexp.MustCompile(`(?i)eval\s*\(`)
	documentWrite = regexp.MustCompile(`(?i)document\.write`)
	windowOpen    = regexp.MustCompile(`(?i)window\.open`)
	timerCall     = regexp.MustCompile(`(?i)(setTimeout|setInterval)`)
	obfuscation   = regexp.MustCompile(`(?i)(\\x[0-9a-f]{2})|(\\u[0-9a-f]{4})|String\.fromCharCode|unescape|encodeURIComponent`)
)

func (e *Extractor) markupFeatures(f Features, s *scan) {
	body := s.content.BodyHTML
	f["html_content_ratio"] = ratio(count(htmlTag, body), jsLen(body))

	forms := s.doc.Find("form")
	scripts := s.doc.Find("script").Length()
	f["has_forms"] = flag(forms.Length() > 0)
	f["has_button_tag"] = flag(s.doc.Find("button").Length() > 0)
	f["input_field_count"] = float64(s.doc.Find("input").Length())
	f["iframe_count"] = float64(s.doc.Find("iframe").Length())
	f["hidden_element_count"] = float64(count(hiddenStyle, s.richText))
	f["div_count"] = float64(s.doc.Find("div").Length())

	var suspiciousAction, external bool
	forms.Each(func(_ int, form *goquery.Selection) {
		action := form.AttrOr("action", "")
		if action == "" {
			return
		}
		if !localAction.MatchString(action) && !e.pats.trustedAction.MatchString(action) {
			suspiciousAction = true
		}
		if absoluteURL.MatchString(action) {
			external = true
		}
	})
	f["suspicious_form_action"] = flag(suspiciousAction)
	f["external_form_submission"] = flag(external)

	passwords := forms.Find("input").FilterFunction(func(_ int, in *goquery.Selection) bool {
		return strings.EqualFold(in.AttrOr("type", ""), "password")
	})
	f["form_with_password_field"] = flag(passwords.Length() > 0)
	f["has_script_tag"] = flag(scripts > 0)
	f["script_tag_count"] = float64(scripts)

	f["event_handler_count"] = float64(count(eventHandler, s.richText))
	f["has_eval_pattern"] = flag(evalCall.MatchString(s.richText))
	f["has_document_write"] = flag(documentWrite.MatchString(s.richText))
	f["has_window_open"] = flag(windowOpen.MatchString(s.richText))
	f["has_settimeout_interval"] = flag(timerCall.MatchString(s.richText))
	f["has_js_obfuscation"] = flag(obfuscation.MatchString(s.richText))
}
