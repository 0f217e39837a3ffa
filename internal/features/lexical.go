package features

import (
	"regexp"
	"strings"
)

var sentenceEnd = regexp.MustCompile(`[.!?]+`)

func (e *Extractor) lexical(f Features, s *scan) {
	words := strings.Fields(s.cleaned)
	f["word_count"] = float64(len(words))
	f["char_count"] = float64(jsLen(s.cleaned))

	sentences := count(sentenceEnd, s.cleaned)
	if sentences == 0 && s.cleaned != "" {
		sentences = 1
	}
	if strings.TrimSpace(s.cleaned) == "" {
		sentences = 0
	}
	f["sentence_count"] = float64(sentences)

	chars := 0
	for _, w := range words {
		chars += jsLen(w)
	}
	f["avg_word_length"] = ratio(chars, len(words))
	f["avg_sentence_length"] = ratio(len(words), sentences)

	lines := strings.Split(s.content.BodyText, "\n")
	forwarded := 0
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), ">") {
			forwarded++
		}
	}
	f["forwarded_line_ratio"] = ratio(forwarded, len(lines))

	short := 0
	if sentences > 0 {
		for _, part := range sentenceEnd.Split(s.cleaned, -1) {
			if strings.TrimSpace(part) == "" {
				continue
			}
			if len(strings.Fields(part)) < 5 {
				short++
			}
		}
	}
	f["short_sentence_ratio"] = ratio(short, sentences)
}
