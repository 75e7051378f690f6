package validator

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// PIIType names a category of personally identifiable or secret data.
type PIIType string

const (
	PIISSN        PIIType = "ssn"
	PIIEmail      PIIType = "email"
	PIIPhone      PIIType = "phone"
	PIIIPAddress  PIIType = "ip_address"
	PIICreditCard PIIType = "credit_card"
	PIIIBAN       PIIType = "iban"
	PIIAPIKey     PIIType = "api_key"
	PIIAWSKey     PIIType = "aws_key"
	PIIGoogleKey  PIIType = "google_api_key"
	PIIGithubTok  PIIType = "github_token"
	PIIJWT        PIIType = "jwt_token"
	PIIPassword   PIIType = "password"
	PIIPrivateKey PIIType = "private_key"
)

// severity buckets drive issue reporting. Credential material is always
// critical; contact details are medium.
func (t PIIType) severity() string {
	switch t {
	case PIISSN, PIICreditCard, PIIAWSKey, PIIGoogleKey, PIIGithubTok, PIIPrivateKey, PIIPassword:
		return "critical"
	case PIIIBAN, PIIAPIKey, PIIJWT:
		return "high"
	case PIIEmail, PIIPhone:
		return "medium"
	default:
		return "low"
	}
}

type piiDetection struct {
	typ        PIIType
	start, end int
}

type piiResult struct {
	detections []piiDetection
	anonymized string
}

func (r *piiResult) issues() []Issue {
	counts := make(map[PIIType]int)
	order := make([]PIIType, 0, 4)
	for _, d := range r.detections {
		if counts[d.typ] == 0 {
			order = append(order, d.typ)
		}
		counts[d.typ]++
	}
	issues := make([]Issue, 0, len(order))
	for _, t := range order {
		issues = append(issues, Issue{
			Code:     "pii_detected",
			Severity: t.severity(),
			Message:  fmt.Sprintf("detected %s (%d occurrence(s))", strings.ReplaceAll(string(t), "_", " "), counts[t]),
		})
	}
	return issues
}

type piiPattern struct {
	typ PIIType
	re  *regexp.Regexp
}

type piiDetector struct {
	patterns []piiPattern
}

func newPIIDetector() *piiDetector {
	return &piiDetector{patterns: []piiPattern{
		{PIISSN, regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)},
		{PIIEmail, regexp.MustCompile(`\b[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}\b`)},
		{PIIPhone, regexp.MustCompile(`\b\+?1?[-. ]?\(?[0-9]{3}\)?[-. ][0-9]{3}[-. ][0-9]{4}\b`)},
		{PIIIPAddress, regexp.MustCompile(`\b(?:[0-9]{1,3}\.){3}[0-9]{1,3}\b`)},
		{PIICreditCard, regexp.MustCompile(`\b(?:4[0-9]{12}(?:[0-9]{3})?|5[1-5][0-9]{14}|3[47][0-9]{13})\b`)},
		{PIIIBAN, regexp.MustCompile(`\b[A-Z]{2}[0-9]{2}[A-Z0-9]{11,30}\b`)},
		{PIIAWSKey, regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`)},
		{PIIGoogleKey, regexp.MustCompile(`\bAIza[0-9A-Za-z_\-]{35}\b`)},
		{PIIGithubTok, regexp.MustCompile(`\bgh[pousr]_[A-Za-z0-9_]{36,255}\b`)},
		{PIIJWT, regexp.MustCompile(`\beyJ[A-Za-z0-9_\-]*\.eyJ[A-Za-z0-9_\-]*\.[A-Za-z0-9_\-]*\b`)},
		{PIIPassword, regexp.MustCompile(`(?i)(?:password|passwd|pwd)["\s:=]+\S{8,}`)},
		{PIIAPIKey, regexp.MustCompile(`(?i)\b(?:api[_\-]?key|apikey)["\s:=]+[a-zA-Z0-9_\-]{16,64}`)},
		{PIIPrivateKey, regexp.MustCompile(`-----BEGIN (?:RSA |EC |OPENSSH )?PRIVATE KEY-----`)},
	}}
}

func (d *piiDetector) detect(text string) *piiResult {
	var detections []piiDetection
	for _, p := range d.patterns {
		for _, loc := range p.re.FindAllStringIndex(text, -1) {
			detections = append(detections, piiDetection{typ: p.typ, start: loc[0], end: loc[1]})
		}
	}

	res := &piiResult{detections: dedupeOverlaps(detections)}
	if len(res.detections) > 0 {
		res.anonymized = anonymize(text, res.detections)
	}
	return res
}

// dedupeOverlaps keeps the earliest (then longest) detection for any
// overlapping span so anonymization is well defined.
func dedupeOverlaps(in []piiDetection) []piiDetection {
	if len(in) < 2 {
		return in
	}
	sort.Slice(in, func(i, j int) bool {
		if in[i].start != in[j].start {
			return in[i].start < in[j].start
		}
		return in[i].end > in[j].end
	})
	out := in[:1]
	for _, d := range in[1:] {
		if d.start < out[len(out)-1].end {
			continue
		}
		out = append(out, d)
	}
	return out
}

// anonymize replaces detected spans right to left so earlier offsets
// stay valid.
func anonymize(text string, detections []piiDetection) string {
	out := text
	for i := len(detections) - 1; i >= 0; i-- {
		d := detections[i]
		replacement := "[" + strings.ToUpper(string(d.typ)) + "_REDACTED]"
		out = out[:d.start] + replacement + out[d.end:]
	}
	return out
}
