package scoring

import (
	"regexp"

	"github.com/mnemo-ai/mnemo/internal/domain"
)

// Marker detectors. Each hit adds its weight; the sum saturates at 1.
var (
	emailRe = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)
	phoneRe = regexp.MustCompile(`\b(?:\+?\d{1,2}[-. ]?)?\(?\d{3}\)?[-. ]?\d{3}[-. ]?\d{4}\b`)
	ssnRe   = regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)
	ccRe    = regexp.MustCompile(`\b(?:\d[ -]?){13,16}\b`)
	addrRe  = regexp.MustCompile(`(?i)\b\d+\s+[A-Za-z]+\s+(?:st|street|ave|avenue|rd|road|blvd|boulevard|ln|lane|dr|drive|ct|court|way)\b`)

	ibanRe     = regexp.MustCompile(`\b[A-Z]{2}\d{2}[A-Z0-9]{11,30}\b`)
	accountRe  = regexp.MustCompile(`(?i)\b(?:account|routing|acct)\s*(?:no|number|#)?[:\s]*\d{6,}\b`)
	currencyRe = regexp.MustCompile(`[$€£]\s?\d[\d,]*(?:\.\d{2})?`)
)

// PIIScore is the saturated sum of detected personal markers.
func PIIScore(content string, tags []string) float64 {
	score := 0.0
	if emailRe.MatchString(content) {
		score += 0.3
	}
	if phoneRe.MatchString(content) {
		score += 0.3
	}
	if ssnRe.MatchString(content) {
		score += 0.5
	}
	if ccRe.MatchString(content) {
		score += 0.5
	}
	if addrRe.MatchString(content) {
		score += 0.2
	}
	for _, t := range tags {
		if t == domain.TagPersonal {
			score += 0.2
			break
		}
	}
	return clamp01(score)
}

// FinancialScore mirrors the pii detector for money-related markers.
func FinancialScore(content string, tags []string) float64 {
	score := 0.0
	if ccRe.MatchString(content) {
		score += 0.5
	}
	if ibanRe.MatchString(content) {
		score += 0.4
	}
	if accountRe.MatchString(content) {
		score += 0.4
	}
	if currencyRe.MatchString(content) {
		score += 0.2
	}
	for _, t := range tags {
		if t == "financial" {
			score += 0.2
			break
		}
	}
	return clamp01(score)
}

// DetectPrivacy derives the full marker set for a record's content.
func DetectPrivacy(content string, tags []string) domain.PrivacyMarkers {
	return domain.PrivacyMarkers{
		PIIScore:       PIIScore(content, tags),
		FinancialScore: FinancialScore(content, tags),
	}
}
