package features

import (
	"regexp"
	"strings"
)

var (
	senderDomain = regexp.MustCompile(`@([\w\.-]+\.\w+)`)
	replyToLine  = regexp.MustCompile(`(?im)^reply-to:`)
	fromLine     = regexp.MustCompile(`(?im)^from:`)
	undisclosed  = regexp.MustCompile(`(?ims)^(cc|bcc):.*undisclosed`)
)

func (e *Extractor) senderFeatures(f Features, s *scan) {
	domain := ""
	if m := senderDomain.FindStringSubmatch(s.content.Sender); m != nil {
		domain = strings.ToLower(m[1])
	}
	f["sender_is_free_domain"] = flag(domain != "" && e.pats.freeMail.MatchString(domain))
	f["sender_claims_major_brand"] = flag(domain != "" && e.pats.senderBrand.MatchString(domain))

	f["has_mismatched_sender_replyto"] = flag(mismatchedReplyTo(s.richText))
	f["has_reply_to"] = flag(replyToLine.MatchString(s.richText))
	f["multiple_from_fields"] = flag(count(fromLine, s.richText) > 1)
	f["suspicious_cc_bcc"] = flag(undisclosed.MatchString(s.richText))
}

// mismatchedReplyTo looks for a "from:" followed by an @domain, then a
// later "reply-to:" followed by an @domain that does not start with the
// first one. Comparing the two captures needs a back-reference, which RE2
// lacks, so candidates are checked against the longest prefix that every
// eligible reply domain shares.
func mismatchedReplyTo(text string) bool {
	lower := strings.ToLower(text)
	from := strings.Index(lower, "from:")
	if from < 0 {
		return false
	}
	from += len("from:")

	const replyTo = "reply-to:"
	markers := indexAll(lower, replyTo, from)
	if len(markers) == 0 {
		return false
	}

	// replies holds the '@' offsets after the first marker that are
	// followed by a dotted domain; runs[k] is the domain-byte run after it.
	var replies []int
	var runs []string
	for at := markers[0] + len(replyTo); at < len(lower); at++ {
		if lower[at] != '@' {
			continue
		}
		if end := domainRunEnd(lower, at+1); hasDomainEnd(lower, at+1, end) {
			replies = append(replies, at)
			runs = append(runs, lower[at+1:end])
		}
	}
	if len(replies) == 0 {
		return false
	}

	// shared[k] is the length of the prefix common to runs[k:].
	shared := make([]int, len(runs))
	shared[len(runs)-1] = len(runs[len(runs)-1])
	for k := len(runs) - 2; k >= 0; k-- {
		shared[k] = min(shared[k+1], commonPrefixLen(runs[k], runs[k+1]))
	}

	m, k := 0, 0
	for at := from; at < len(lower); at++ {
		if lower[at] != '@' {
			continue
		}
		start := at + 1
		run := lower[start:domainRunEnd(lower, start)]
		matchedK, matched := -1, 0
		for _, end := range domainEnds(lower, start) {
			// Sender ends only grow, so both cursors only move forward.
			for m < len(markers) && markers[m] < end {
				m++
			}
			if m == len(markers) {
				return false
			}
			for k < len(replies) && replies[k] < markers[m]+len(replyTo) {
				k++
			}
			if k == len(replies) {
				return false
			}
			if k != matchedK {
				matchedK, matched = k, commonPrefixLen(run, runs[k])
			}
			if n := end - start; n > shared[k] || n > matched {
				return true
			}
		}
	}
	return false
}

func indexAll(s, sub string, from int) []int {
	var out []int
	for from <= len(s) {
		i := strings.Index(s[from:], sub)
		if i < 0 {
			break
		}
		out = append(out, from+i)
		from += i + len(sub)
	}
	return out
}

func domainRunEnd(s string, start int) int {
	for start < len(s) && isDomainByte(s[start]) {
		start++
	}
	return start
}

// hasDomainEnd reports whether s[start:end] has a dotted-domain prefix.
func hasDomainEnd(s string, start, end int) bool {
	dot := false
	for i := start; i < end; i++ {
		switch s[i] {
		case '.':
			if i > start {
				dot = true
			}
		case '-':
			dot = false
		default:
			if dot {
				return true
			}
		}
	}
	return false
}

func commonPrefixLen(a, b string) int {
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return i
		}
	}
	return n
}

// domainEnds returns every end offset e such that s[start:e] is a
// dotted domain: one or more of [\w.-], a dot, one or more word bytes.
func domainEnds(s string, start int) []int {
	var ends []int
	dot := -1
	for i := start; i < len(s) && isDomainByte(s[i]); i++ {
		switch s[i] {
		case '.':
			if i > start {
				dot = i
			}
		case '-':
			dot = -1
		default:
			if dot >= 0 {
				ends = append(ends, i+1)
			}
		}
	}
	return ends
}

func isWordByte(c byte) bool {
	return c == '_' || c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

func isDomainByte(c byte) bool {
	return isWordByte(c) || c == '.' || c == '-'
}
