package features

import (
	"net/url"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
)

var (
	ipURL         = regexp.MustCompile(`https?://\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}`)
	urlScheme     = regexp.MustCompile(`^(https?://)?(www\.)?`)
	urlLikeText   = regexp.MustCompile(`^(https?://|www\.)`)
	hrefHost      = regexp.MustCompile(`https?://(?:www\.)?([^/]+)`)
	percentEscape = regexp.MustCompile(`%[0-9A-Fa-f]{2}`)
	unicodeEscape = regexp.MustCompile(`\\u[0-9a-fA-F]{4}`)
)

func (e *Extractor) linkFeatures(f Features, s *scan) {
	f["num_links"] = float64(s.links.Length())

	var ipLink, shortened, encoded, escaped bool
	mismatches, suspicious := 0, 0
	s.links.Each(func(_ int, a *goquery.Selection) {
		href := a.AttrOr("href", "")
		if href == "" {
			return
		}
		hrefLower := strings.ToLower(href)

		if ipURL.MatchString(href) {
			ipLink = true
		}
		if e.pats.shortener.MatchString(href) {
			shortened = true
		}

		text := strings.ToLower(strings.TrimSpace(a.Text()))
		if urlLikeText.MatchString(text) {
			shownTarget := urlScheme.ReplaceAllString(text, "")
			realTarget := urlScheme.ReplaceAllString(hrefLower, "")
			if shownTarget != realTarget && !strings.HasPrefix(realTarget, shownTarget) {
				mismatches++
			}
		}

		if host := linkHost(href, hrefLower); host != "" && e.pats.suspiciousHost.MatchString(host) {
			suspicious++
		}
		if percentEscape.MatchString(href) {
			encoded = true
		}
		if unicodeEscape.MatchString(href) {
			escaped = true
		}
	})

	f["has_ip_url"] = flag(ipLink)
	f["has_shortened_url"] = flag(shortened)
	f["link_text_url_mismatch"] = float64(mismatches)
	f["suspicious_domain_keyword_count"] = float64(suspicious)
	f["has_url_encoding"] = flag(percentEscape.MatchString(s.richText) || encoded)
	f["has_unicode_in_url"] = flag(unicodeEscape.MatchString(s.richText) || escaped)
	f["deceptive_url_pattern"] = flag(lookalikeDomain(s.richText, e.pats.lookalikes))
	f["domain_mismatch"] = flag(mismatches > 0)
}

// linkHost returns the host of an absolute href. Hrefs that do not parse
// as absolute URLs fall back to a loose scheme://host match.
func linkHost(href, hrefLower string) string {
	if u, err := url.Parse(href); err == nil && u.Scheme != "" {
		return strings.ToLower(u.Hostname())
	}
	if m := hrefHost.FindStringSubmatch(hrefLower); m != nil {
		return m[1]
	}
	return ""
}

// lookalikeDomain reports whether text holds a brand name followed, within
// the same whitespace-free run, by ".com" that is not the start of
// ".<brand>.com". The check needs look-ahead, which RE2 lacks, so the text
// is swept once per brand from right to left, tracking the nearest
// whitespace and the nearest untrusted ".com" at or after each offset.
func lookalikeDomain(text string, brands []string) bool {
	lower := strings.ToLower(text)
	for _, brand := range brands {
		if brand == "" {
			continue
		}
		trusted := "." + brand + ".com"
		nextSpace, nextBad := len(lower), len(lower)
		for i := len(lower); i >= 0; i-- {
			if i < len(lower) {
				if utf8.RuneStart(lower[i]) {
					if r, _ := utf8.DecodeRuneInString(lower[i:]); unicode.IsSpace(r) {
						nextSpace = i
					}
				}
				if strings.HasPrefix(lower[i:], ".com") && !strings.HasPrefix(lower[i+len(".com"):], trusted) {
					nextBad = i
				}
			}
			// A ".com" starting before the next whitespace lies wholly inside
			// the run, since it holds no whitespace itself.
			if nextBad < nextSpace && strings.HasSuffix(lower[:i], brand) {
				return true
			}
		}
	}
	return false
}
