// Package report defines the fact-check report document produced by providers
// and the validation every provider output must pass before it is stored.
package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ClaimVerdict is the verdict for a single claim.
type ClaimVerdict string

const (
	ClaimSupported    ClaimVerdict = "supported"
	ClaimContradicted ClaimVerdict = "contradicted"
	ClaimMixed        ClaimVerdict = "mixed"
	ClaimUnverifiable ClaimVerdict = "unverifiable"
	ClaimNotFactual   ClaimVerdict = "not_a_factual_claim"
)

// OverallVerdict summarizes the whole video.
type OverallVerdict string

const (
	VerdictAccurate       OverallVerdict = "accurate"
	VerdictMostlyAccurate OverallVerdict = "mostly_accurate"
	VerdictMixed          OverallVerdict = "mixed"
	VerdictMisleading     OverallVerdict = "misleading"
	VerdictFalse          OverallVerdict = "false"
	VerdictUnverifiable   OverallVerdict = "unverifiable"
)

// DangerCategory classifies a potential harm.
type DangerCategory string

const (
	DangerMedical   DangerCategory = "medical_misinformation"
	DangerFinancial DangerCategory = "financial_scam"
	DangerIllegal   DangerCategory = "illegal_instructions"
	DangerSelfHarm  DangerCategory = "self_harm"
	DangerChallenge DangerCategory = "dangerous_challenge"
	DangerHate      DangerCategory = "hate_or_harassment"
	DangerPrivacy   DangerCategory = "privacy_or_doxxing"
	DangerOther     DangerCategory = "other"
)

// Upper bounds of the numeric report fields. All lower bounds are 0.
const (
	MaxOverallScore = 100
	MaxConfidence   = 100
	MaxSeverity     = 5
)

var claimVerdicts = map[ClaimVerdict]struct{}{
	ClaimSupported: {}, ClaimContradicted: {}, ClaimMixed: {}, ClaimUnverifiable: {}, ClaimNotFactual: {},
}

var overallVerdicts = map[OverallVerdict]struct{}{
	VerdictAccurate: {}, VerdictMostlyAccurate: {}, VerdictMixed: {},
	VerdictMisleading: {}, VerdictFalse: {}, VerdictUnverifiable: {},
}

var dangerCategories = map[DangerCategory]struct{}{
	DangerMedical: {}, DangerFinancial: {}, DangerIllegal: {}, DangerSelfHarm: {},
	DangerChallenge: {}, DangerHate: {}, DangerPrivacy: {}, DangerOther: {},
}

// Valid reports whether v is a known overall verdict.
func (v OverallVerdict) Valid() bool {
	_, ok := overallVerdicts[v]
	return ok
}

type Source struct {
	Title      string  `json:"title"`
	Publisher  *string `json:"publisher"`
	URL        string  `json:"url"`
	AccessedAt *string `json:"accessed_at"`
}

type ClaimCheck struct {
	Claim       string       `json:"claim"`
	Verdict     ClaimVerdict `json:"verdict"`
	Confidence  int          `json:"confidence"`
	Explanation string       `json:"explanation"`
	Correction  *string      `json:"correction"`
	Sources     []Source     `json:"sources"`
}

type DangerItem struct {
	Category    DangerCategory `json:"category"`
	Severity    int            `json:"severity"`
	Description string         `json:"description"`
	Mitigation  *string        `json:"mitigation"`
}

// Report is the structured, validated output of the fact-check stage.
type Report struct {
	GeneratedAt    time.Time      `json:"generated_at"`
	OverallScore   int            `json:"overall_score"`
	OverallVerdict OverallVerdict `json:"overall_verdict"`
	Summary        string         `json:"summary"`
	SourcesUsed    []Source       `json:"sources_used"`
	WhatsRight     []string       `json:"whats_right"`
	WhatsWrong     []string       `json:"whats_wrong"`
	MissingContext []string       `json:"missing_context"`
	Claims         []ClaimCheck   `json:"claims"`
	Danger         []DangerItem   `json:"danger"`
	Limitations    *string        `json:"limitations"`
}

var requiredKeys = []string{"overall_score", "overall_verdict", "summary"}

// Decode parses a provider's JSON output into a validated Report. Markdown code
// fences around the JSON are tolerated and a missing generated_at is filled
// with the current time.
func Decode(output string) (*Report, error) {
	text := ExtractJSON(output)
	if text == "" {
		return nil, errors.New("empty model output")
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(text), &fields); err != nil {
		return nil, fmt.Errorf("model did not return valid JSON: %w", err)
	}
	for _, k := range requiredKeys {
		if v, ok := fields[k]; !ok || string(v) == "null" {
			return nil, fmt.Errorf("validation failed: %s is required", k)
		}
	}
	if v, ok := fields["generated_at"]; ok && string(v) == "null" {
		delete(fields, "generated_at")
	}

	var r Report
	if err := json.Unmarshal([]byte(text), &r); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}
	if _, ok := fields["generated_at"]; !ok {
		r.GeneratedAt = time.Now().UTC()
	}
	r.normalize()
	if err := r.Validate(); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}
	return &r, nil
}

// normalize replaces nil lists with empty ones so stored reports always carry arrays.
func (r *Report) normalize() {
	if r.SourcesUsed == nil {
		r.SourcesUsed = []Source{}
	}
	if r.WhatsRight == nil {
		r.WhatsRight = []string{}
	}
	if r.WhatsWrong == nil {
		r.WhatsWrong = []string{}
	}
	if r.MissingContext == nil {
		r.MissingContext = []string{}
	}
	if r.Claims == nil {
		r.Claims = []ClaimCheck{}
	}
	if r.Danger == nil {
		r.Danger = []DangerItem{}
	}
	for i := range r.Claims {
		if r.Claims[i].Sources == nil {
			r.Claims[i].Sources = []Source{}
		}
	}
}

// Validate checks enums, numeric ranges and required fields.
func (r *Report) Validate() error {
	if r.GeneratedAt.IsZero() {
		return errors.New("generated_at is required")
	}
	if r.OverallScore < 0 || r.OverallScore > MaxOverallScore {
		return fmt.Errorf("overall_score %d out of range 0-%d", r.OverallScore, MaxOverallScore)
	}
	if !r.OverallVerdict.Valid() {
		return fmt.Errorf("unknown overall_verdict %q", r.OverallVerdict)
	}
	if strings.TrimSpace(r.Summary) == "" {
		return errors.New("summary is required")
	}
	for i, s := range r.SourcesUsed {
		if err := s.validate(); err != nil {
			return fmt.Errorf("sources_used[%d]: %w", i, err)
		}
	}
	for i, c := range r.Claims {
		if strings.TrimSpace(c.Claim) == "" {
			return fmt.Errorf("claims[%d]: claim is required", i)
		}
		if _, ok := claimVerdicts[c.Verdict]; !ok {
			return fmt.Errorf("claims[%d]: unknown verdict %q", i, c.Verdict)
		}
		if c.Confidence < 0 || c.Confidence > MaxConfidence {
			return fmt.Errorf("claims[%d]: confidence %d out of range 0-%d", i, c.Confidence, MaxConfidence)
		}
		if strings.TrimSpace(c.Explanation) == "" {
			return fmt.Errorf("claims[%d]: explanation is required", i)
		}
		for j, s := range c.Sources {
			if err := s.validate(); err != nil {
				return fmt.Errorf("claims[%d].sources[%d]: %w", i, j, err)
			}
		}
	}
	for i, d := range r.Danger {
		if _, ok := dangerCategories[d.Category]; !ok {
			return fmt.Errorf("danger[%d]: unknown category %q", i, d.Category)
		}
		if d.Severity < 0 || d.Severity > MaxSeverity {
			return fmt.Errorf("danger[%d]: severity %d out of range 0-%d", i, d.Severity, MaxSeverity)
		}
		if strings.TrimSpace(d.Description) == "" {
			return fmt.Errorf("danger[%d]: description is required", i)
		}
	}
	return nil
}

func (s Source) validate() error {
	if strings.TrimSpace(s.Title) == "" {
		return errors.New("title is required")
	}
	if strings.TrimSpace(s.URL) == "" {
		return errors.New("url is required")
	}
	return nil
}

// ExtractJSON strips surrounding whitespace and a Markdown code fence, if any.
func ExtractJSON(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	// Drop an info string such as "json".
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	} else {
		s = ""
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
