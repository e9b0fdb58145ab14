package chunk

import (
	"regexp"
	"strings"

	"github.com/harleven/casedocs/internal/models"
)

var (
	numericDateRe = regexp.MustCompile(`\b\d{1,2}[/-]\d{1,2}[/-]\d{2,4}\b|\b\d{4}-\d{2}-\d{2}\b`)
	textualDateRe = regexp.MustCompile(`\b\d{1,2}(?:st|nd|rd|th)?\s+(?:January|February|March|April|May|June|July|August|September|October|November|December)\s+\d{4}\b`)
	monthFirstRe  = regexp.MustCompile(`\b(?:January|February|March|April|May|June|July|August|September|October|November|December)\s+\d{1,2}(?:st|nd|rd|th)?,?\s+\d{4}\b`)

	amountRe = regexp.MustCompile(`[£$€]\s?\d{1,3}(?:,\d{3})*(?:\.\d{1,2})?|[£$€]\s?\d+(?:\.\d{1,2})?`)

	neutralCitationRe = regexp.MustCompile(`\[\d{4}\]\s+[A-Z]{2,}(?:\s+[A-Za-z]+)?\s+\d+`)
	caseNameRe        = regexp.MustCompile(`\b[A-Z][A-Za-z]+\s+v\.?\s+[A-Z][A-Za-z]+\b`)
	statuteRe         = regexp.MustCompile(`\b[Ss]ection\s+\d+[A-Za-z]?\s+of\s+the\s+[A-Z][A-Za-z]*(?:\s+[A-Za-z]+)*\s+Act(?:\s+\d{4})?`)

	headingLabelRe = regexp.MustCompile(`^[A-Z][A-Za-z ]{0,60}:$`)
	sentenceEndRe  = regexp.MustCompile(`[.!?]+(?:\s|$)`)
)

// extractMetadata pulls dates, monetary amounts, legal citations and a
// heading heuristic from a chunk. Pure pattern matching, no lookups.
func extractMetadata(text string, docType models.DocumentType) models.ChunkMetadata {
	meta := models.ChunkMetadata{
		DocumentType:  docType,
		WordCount:     len(strings.Fields(text)),
		SentenceCount: countSentences(text),
		Heading:       detectHeading(text),
	}

	meta.Dates = dedupe(append(
		numericDateRe.FindAllString(text, -1),
		append(textualDateRe.FindAllString(text, -1),
			monthFirstRe.FindAllString(text, -1)...)...))

	meta.Amounts = dedupe(amountRe.FindAllString(text, -1))

	meta.Citations = dedupe(append(
		neutralCitationRe.FindAllString(text, -1),
		append(caseNameRe.FindAllString(text, -1),
			statuteRe.FindAllString(text, -1)...)...))

	return meta
}

// detectHeading treats a short first line as a heading when it is all
// caps or a "Label:" form.
func detectHeading(text string) string {
	line := text
	if idx := strings.IndexByte(text, '\n'); idx >= 0 {
		line = text[:idx]
	}
	line = strings.TrimSpace(line)
	if line == "" || len(line) > 80 {
		return ""
	}
	if headingLabelRe.MatchString(line) {
		return strings.TrimSuffix(line, ":")
	}
	if isAllCaps(line) {
		return line
	}
	return ""
}

func isAllCaps(s string) bool {
	var letters int
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
			return false
		case r >= 'A' && r <= 'Z':
			letters++
		}
	}
	return letters >= 3
}

func countSentences(text string) int {
	n := len(sentenceEndRe.FindAllString(text, -1))
	if n == 0 && strings.TrimSpace(text) != "" {
		return 1
	}
	return n
}

func dedupe(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	var out []string
	for _, s := range in {
		s = strings.TrimSpace(s)
		if _, ok := seen[s]; ok || s == "" {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
