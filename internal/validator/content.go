package validator

import (
	"fmt"
	"regexp"
	"strings"
)

type violationSeverity string

const (
	sevLow      violationSeverity = "low"
	sevMedium   violationSeverity = "medium"
	sevHigh     violationSeverity = "high"
	sevCritical violationSeverity = "critical"
)

func (s violationSeverity) weight() float64 {
	switch s {
	case sevCritical:
		return 1.0
	case sevHigh:
		return 0.75
	case sevMedium:
		return 0.50
	default:
		return 0.25
	}
}

type contentViolation struct {
	code       string
	severity   violationSeverity
	message    string
	confidence float64
}

type contentResult struct {
	safe       bool
	verdict    Verdict
	riskScore  float64
	violations []contentViolation
	reason     string
}

func (r *contentResult) issues() []Issue {
	issues := make([]Issue, 0, len(r.violations))
	for _, v := range r.violations {
		issues = append(issues, Issue{
			Code:     v.code,
			Severity: string(v.severity),
			Message:  v.message,
		})
	}
	return issues
}

type contentPattern struct {
	code     string
	severity violationSeverity
	re       *regexp.Regexp
}

type contentFilter struct {
	patterns       []contentPattern
	violenceWords  []string
	sexualWords    []string
	illegalWords   []string
	trademarkWords []string
	blockThreshold float64
	warnThreshold  float64
	repeatMinLen   int
	repeatMinCount int
}

func newContentFilter() *contentFilter {
	return &contentFilter{
		patterns: []contentPattern{
			{"script_injection", sevCritical, regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`)},
			{"script_injection", sevHigh, regexp.MustCompile(`(?i)javascript:`)},
			{"xss_attempt", sevHigh, regexp.MustCompile(`(?i)<(?:iframe|embed|object)[^>]*>`)},
			{"path_traversal", sevHigh, regexp.MustCompile(`\.\./|\.\.\\`)},
			{"path_traversal", sevCritical, regexp.MustCompile(`(?i)/etc/(?:passwd|shadow)`)},
			{"prompt_injection", sevHigh, regexp.MustCompile(`(?i)ignore\s+(?:previous|above|all)\s+(?:instructions|prompts|commands)`)},
			{"prompt_injection", sevHigh, regexp.MustCompile(`(?i)(?:disregard|forget)\s+(?:your|the)\s+(?:rules|instructions)`)},
			{"prompt_injection", sevMedium, regexp.MustCompile(`(?i)new\s+instructions?:`)},
			{"prompt_injection", sevMedium, regexp.MustCompile(`(?i)system\s*:\s*you\s+are`)},
			{"system_manipulation", sevHigh, regexp.MustCompile(`(?i)</?(?:system|admin)>`)},
			{"spam", sevLow, regexp.MustCompile(`(?i)(?:click|visit|buy)\s+(?:here|now|today)`)},
			{"spam", sevLow, regexp.MustCompile(`(?i)(?:100%|guaranteed)\s+(?:free|money|income)`)},
		},
		violenceWords: []string{
			"murder", "torture", "bomb", "terrorist", "explosive", "massacre",
		},
		sexualWords: []string{
			"pornographic", "xxx", "nsfw",
		},
		illegalWords: []string{
			"cocaine", "heroin", "methamphetamine", "counterfeit", "money laundering",
		},
		trademarkWords: []string{
			"coca-cola logo", "disney character", "nike swoosh", "mickey mouse",
			"pokemon", "superman logo",
		},
		blockThreshold: 0.75,
		warnThreshold:  0.40,
		repeatMinLen:   10,
		repeatMinCount: 6,
	}
}

func (f *contentFilter) filter(text string) *contentResult {
	var violations []contentViolation

	for _, p := range f.patterns {
		if p.re.MatchString(text) {
			violations = append(violations, contentViolation{
				code:       p.code,
				severity:   p.severity,
				message:    fmt.Sprintf("detected %s", strings.ReplaceAll(p.code, "_", " ")),
				confidence: 0.9,
			})
		}
	}

	lower := strings.ToLower(text)

	if n := countKeywords(lower, f.violenceWords); n >= 2 {
		violations = append(violations, contentViolation{
			code:       "violent_content",
			severity:   sevHigh,
			message:    fmt.Sprintf("contains violent content (%d keywords)", n),
			confidence: 0.7,
		})
	}
	for _, kw := range f.sexualWords {
		if strings.Contains(lower, kw) {
			violations = append(violations, contentViolation{
				code:       "sexual_content",
				severity:   sevHigh,
				message:    "contains explicit sexual content",
				confidence: 0.8,
			})
			break
		}
	}
	for _, kw := range f.trademarkWords {
		if strings.Contains(lower, kw) {
			violations = append(violations, contentViolation{
				code:       "trademark_content",
				severity:   sevMedium,
				message:    "references trademarked imagery",
				confidence: 0.8,
			})
			break
		}
	}
	if n := countKeywords(lower, f.illegalWords); n >= 2 {
		violations = append(violations, contentViolation{
			code:       "illegal_activity",
			severity:   sevCritical,
			message:    fmt.Sprintf("references illegal activities (%d keywords)", n),
			confidence: 0.75,
		})
	}

	if hasExcessiveRepetition(text, f.repeatMinLen, f.repeatMinCount) {
		violations = append(violations, contentViolation{
			code:       "repetitive_content",
			severity:   sevLow,
			message:    "contains excessive repetition",
			confidence: 0.9,
		})
	}

	risk := riskScore(violations)
	verdict, reason := f.verdictFor(violations, risk)

	return &contentResult{
		safe:       verdict == VerdictSafe,
		verdict:    verdict,
		riskScore:  risk,
		violations: violations,
		reason:     reason,
	}
}

func (f *contentFilter) verdictFor(violations []contentViolation, risk float64) (Verdict, string) {
	for _, v := range violations {
		if v.severity == sevCritical {
			return VerdictBlock, v.message
		}
	}
	if risk >= f.blockThreshold {
		return VerdictBlock, "content contains multiple high-risk violations"
	}
	if risk >= f.warnThreshold {
		return VerdictWarn, "content may contain inappropriate material"
	}
	return VerdictSafe, ""
}

// riskScore averages severity-weighted confidences, capped at 1.0.
func riskScore(violations []contentViolation) float64 {
	if len(violations) == 0 {
		return 0
	}
	var total float64
	for _, v := range violations {
		total += v.severity.weight() * v.confidence
	}
	score := total / float64(len(violations))
	if score > 1 {
		return 1
	}
	return score
}

func countKeywords(lower string, words []string) int {
	n := 0
	for _, w := range words {
		if strings.Contains(lower, w) {
			n++
		}
	}
	return n
}

// hasExcessiveRepetition flags a substring of at least minLen occurring
// minCount or more times in immediate succession.
func hasExcessiveRepetition(text string, minLen, minCount int) bool {
	runes := []rune(text)
	if len(runes) < minLen*minCount {
		return false
	}
	for l := minLen; l <= len(runes)/minCount; l++ {
		for start := 0; start+l*minCount <= len(runes); start++ {
			unit := string(runes[start : start+l])
			count := 1
			for next := start + l; next+l <= len(runes) && string(runes[next:next+l]) == unit; next += l {
				count++
				if count >= minCount {
					return true
				}
			}
		}
	}
	return false
}
