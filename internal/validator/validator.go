// Package validator classifies prompts before any budget or provider
// interaction. Validation is a pure function of the prompt text and the
// configured rule set: the same input always yields the same verdict.
package validator

import (
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// RuleSetVersion identifies the active detection rule set. Bump when
// patterns or thresholds change so audit records stay comparable.
const RuleSetVersion = "2026-02"

// Verdict is the outcome of prompt validation.
type Verdict string

const (
	VerdictSafe  Verdict = "SAFE"
	VerdictWarn  Verdict = "WARN"
	VerdictBlock Verdict = "BLOCK"
)

// rank orders verdicts by severity so combining stages can only escalate.
func (v Verdict) rank() int {
	switch v {
	case VerdictBlock:
		return 2
	case VerdictWarn:
		return 1
	default:
		return 0
	}
}

func escalate(a, b Verdict) Verdict {
	if b.rank() > a.rank() {
		return b
	}
	return a
}

// PIIAction controls what a PII hit does to the verdict.
type PIIAction string

const (
	// PIIBlock turns any PII detection into a BLOCK verdict.
	PIIBlock PIIAction = "block"
	// PIIWarn records the detection and continues.
	PIIWarn PIIAction = "warn"
	// PIIAnonymize allows the request but substitutes redacted text.
	PIIAnonymize PIIAction = "anonymize"
)

// FailureMode decides the verdict when a detection stage itself errors.
type FailureMode string

const (
	// FailStrict treats internal detection errors as BLOCK.
	FailStrict FailureMode = "strict"
	// FailLenient treats internal detection errors as WARN.
	FailLenient FailureMode = "lenient"
)

// Issue is one finding from a validation stage.
type Issue struct {
	Code     string `json:"code"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
}

// Result is the full validation outcome for a prompt.
type Result struct {
	Verdict          Verdict `json:"verdict"`
	Issues           []Issue `json:"issues,omitempty"`
	AnonymizedPrompt string  `json:"anonymized_prompt,omitempty"`
	RiskScore        float64 `json:"risk_score"`
	SafeForLogging   bool    `json:"safe_for_logging"`
	RuleSetVersion   string  `json:"rule_set_version"`
}

// Reasons flattens issue messages for record metadata.
func (r *Result) Reasons() []string {
	if len(r.Issues) == 0 {
		return nil
	}
	out := make([]string, 0, len(r.Issues))
	for _, iss := range r.Issues {
		out = append(out, iss.Message)
	}
	return out
}

// RuleSource supplies issues from an external rule feed, such as a
// department-specific deny list fetched at startup. A source that
// errors is folded into the verdict per the failure mode.
type RuleSource func(prompt string) ([]Issue, error)

// Validator runs length, PII, and content checks over a prompt.
type Validator struct {
	pii       *piiDetector
	content   *contentFilter
	sources   []RuleSource
	piiAction PIIAction
	mode      FailureMode
	minLen    int
	maxLen    int
}

// Option configures a Validator.
type Option func(*Validator)

// WithPIIAction overrides the default PII handling (block).
func WithPIIAction(a PIIAction) Option {
	return func(v *Validator) { v.piiAction = a }
}

// WithFailureMode overrides the default failure handling (strict).
func WithFailureMode(m FailureMode) Option {
	return func(v *Validator) { v.mode = m }
}

// WithRuleSource adds an external rule source. Sources run after the
// built-in checks, in registration order.
func WithRuleSource(src RuleSource) Option {
	return func(v *Validator) {
		if src != nil {
			v.sources = append(v.sources, src)
		}
	}
}

// WithLengthBounds overrides the prompt length bounds.
func WithLengthBounds(min, max int) Option {
	return func(v *Validator) {
		v.minLen = min
		v.maxLen = max
	}
}

// New builds a Validator with the built-in rule set.
func New(opts ...Option) *Validator {
	v := &Validator{
		pii:       newPIIDetector(),
		content:   newContentFilter(),
		piiAction: PIIBlock,
		mode:      FailStrict,
		minLen:    3,
		maxLen:    2000,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate classifies a prompt. It never returns an error for a bad
// prompt; the error return is reserved for internal detection failures,
// which are already folded into the verdict per the failure mode.
func (v *Validator) Validate(prompt string) *Result {
	// Normalize to NFKC so fullwidth or composed forms cannot slip
	// past the pattern tables.
	normalized := norm.NFKC.String(prompt)

	res := &Result{
		Verdict:        VerdictSafe,
		SafeForLogging: true,
		RuleSetVersion: RuleSetVersion,
	}

	for _, iss := range v.basicIssues(normalized) {
		res.Issues = append(res.Issues, iss)
		res.Verdict = VerdictBlock
	}

	piiRes := v.pii.detect(normalized)
	if len(piiRes.detections) > 0 {
		res.SafeForLogging = false
		res.AnonymizedPrompt = piiRes.anonymized
		res.Issues = append(res.Issues, piiRes.issues()...)
		switch v.piiAction {
		case PIIBlock:
			res.Verdict = VerdictBlock
		case PIIWarn:
			res.Verdict = escalate(res.Verdict, VerdictWarn)
		case PIIAnonymize:
			// Redacted text carries forward; verdict unchanged.
		}
	}

	contentRes := v.content.filter(normalized)
	res.RiskScore = contentRes.riskScore
	if len(contentRes.violations) > 0 {
		res.Issues = append(res.Issues, contentRes.issues()...)
	}
	if !contentRes.safe {
		res.SafeForLogging = false
		res.Verdict = escalate(res.Verdict, contentRes.verdict)
	}

	for _, src := range v.sources {
		issues, err := src(normalized)
		if err != nil {
			res.Issues = append(res.Issues, Issue{
				Code:     "rule_source_failure",
				Severity: "high",
				Message:  "rule source unavailable: " + err.Error(),
			})
			res.Verdict = escalate(res.Verdict, v.failureVerdict())
			continue
		}
		for _, iss := range issues {
			res.Issues = append(res.Issues, iss)
			switch iss.Severity {
			case "critical":
				res.Verdict = VerdictBlock
			case "high":
				res.Verdict = escalate(res.Verdict, VerdictWarn)
			}
		}
	}

	return res
}

// failureVerdict maps a detection-stage error to a verdict per the
// configured failure mode.
func (v *Validator) failureVerdict() Verdict {
	if v.mode == FailStrict {
		return VerdictBlock
	}
	return VerdictWarn
}

func (v *Validator) basicIssues(prompt string) []Issue {
	var issues []Issue

	trimmed := strings.TrimSpace(prompt)
	if trimmed == "" {
		issues = append(issues, Issue{
			Code:     "empty_prompt",
			Severity: "medium",
			Message:  "prompt cannot be empty",
		})
	}

	n := len([]rune(prompt))
	if trimmed != "" && n < v.minLen {
		issues = append(issues, Issue{
			Code:     "prompt_too_short",
			Severity: "low",
			Message:  fmt.Sprintf("prompt must be at least %d characters", v.minLen),
		})
	}
	if n > v.maxLen {
		issues = append(issues, Issue{
			Code:     "prompt_too_long",
			Severity: "medium",
			Message:  fmt.Sprintf("prompt exceeds maximum length of %d characters", v.maxLen),
		})
	}

	if strings.ContainsRune(prompt, '\x00') {
		issues = append(issues, Issue{
			Code:     "null_bytes",
			Severity: "high",
			Message:  "prompt contains null bytes",
		})
	}

	ctrl := 0
	for _, r := range prompt {
		if r < 32 && r != '\n' && r != '\r' && r != '\t' {
			ctrl++
		}
	}
	if ctrl > 0 {
		issues = append(issues, Issue{
			Code:     "control_characters",
			Severity: "medium",
			Message:  fmt.Sprintf("prompt contains %d invalid control characters", ctrl),
		})
	}

	return issues
}
