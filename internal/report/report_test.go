package report

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validReport = `{
  "generated_at": "2026-01-02T03:04:05Z",
  "overall_score": 72,
  "overall_verdict": "mostly_accurate",
  "summary": "Mostly right.",
  "sources_used": [{"title": "WHO", "publisher": null, "url": "https://who.int", "accessed_at": null}],
  "whats_right": ["a"],
  "whats_wrong": [],
  "missing_context": [],
  "claims": [{"claim": "Water is wet", "verdict": "supported", "confidence": 90, "explanation": "Physics.", "correction": null, "sources": []}],
  "danger": [{"category": "other", "severity": 1, "description": "minor", "mitigation": null}],
  "limitations": null
}`

func TestDecode_Valid(t *testing.T) {
	r, err := Decode(validReport)
	require.NoError(t, err)
	assert.Equal(t, 72, r.OverallScore)
	assert.Equal(t, VerdictMostlyAccurate, r.OverallVerdict)
	assert.Equal(t, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), r.GeneratedAt.UTC())
	require.Len(t, r.Claims, 1)
	assert.Equal(t, ClaimSupported, r.Claims[0].Verdict)
}

func TestDecode_CodeFenceAndMissingGeneratedAt(t *testing.T) {
	body := "```json\n" + `{"overall_score": 10, "overall_verdict": "false", "summary": "Nope."}` + "\n```"
	before := time.Now().UTC().Add(-time.Second)

	r, err := Decode(body)
	require.NoError(t, err)
	assert.True(t, r.GeneratedAt.After(before), "generated_at should be filled with now")
	assert.NotNil(t, r.Claims)
	assert.NotNil(t, r.SourcesUsed)

	// Lists are encoded as arrays, never null.
	out, err := json.Marshal(r)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"claims":[]`)
}

func TestDecode_Rejects(t *testing.T) {
	cases := map[string]string{
		"empty":            "   ",
		"not json":         "I cannot help with that.",
		"missing summary":  `{"overall_score": 1, "overall_verdict": "false"}`,
		"missing score":    `{"overall_verdict": "false", "summary": "x"}`,
		"score range":      `{"overall_score": 101, "overall_verdict": "false", "summary": "x"}`,
		"bad verdict":      `{"overall_score": 1, "overall_verdict": "kinda", "summary": "x"}`,
		"bad claim":        `{"overall_score": 1, "overall_verdict": "false", "summary": "x", "claims": [{"claim": "c", "verdict": "maybe", "confidence": 1, "explanation": "e"}]}`,
		"confidence range": `{"overall_score": 1, "overall_verdict": "false", "summary": "x", "claims": [{"claim": "c", "verdict": "mixed", "confidence": 150, "explanation": "e"}]}`,
		"danger severity":  `{"overall_score": 1, "overall_verdict": "false", "summary": "x", "danger": [{"category": "other", "severity": 9, "description": "d"}]}`,
		"danger category":  `{"overall_score": 1, "overall_verdict": "false", "summary": "x", "danger": [{"category": "spooky", "severity": 1, "description": "d"}]}`,
		"source url":       `{"overall_score": 1, "overall_verdict": "false", "summary": "x", "sources_used": [{"title": "t", "url": ""}]}`,
		"wrong type":       `{"overall_score": "high", "overall_verdict": "false", "summary": "x"}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(body)
			assert.Error(t, err)
		})
	}
}

func TestBuildUserPrompt(t *testing.T) {
	p := BuildUserPrompt("the transcript", "https://example.com/v", " EN ")
	assert.True(t, strings.HasPrefix(p, "Video URL: https://example.com/v\n\n"))
	assert.Contains(t, p, "Requested output language: English (code: en).")
	assert.Contains(t, p, "the transcript")

	noURL := BuildUserPrompt("t", "", "")
	assert.False(t, strings.Contains(noURL, "Video URL"))
	assert.Contains(t, noURL, "Arabic (code: ar)")

	assert.Equal(t, "xx", LanguageName("xx"))
}

func TestSchemaIsValidJSON(t *testing.T) {
	var v map[string]any
	require.NoError(t, json.Unmarshal([]byte(Schema), &v))
	assert.Contains(t, SystemPromptWithSchema(), `"overall_verdict"`)
}

type schemaNode struct {
	Type       any                   `json:"type"`
	Enum       []string              `json:"enum"`
	Minimum    *int                  `json:"minimum"`
	Maximum    *int                  `json:"maximum"`
	Required   []string              `json:"required"`
	Properties map[string]schemaNode `json:"properties"`
	Items      *schemaNode           `json:"items"`
}

func keys[K ~string](m map[K]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, string(k))
	}
	return out
}

// The schema handed to models and Validate must accept the same enums and ranges.
func TestSchemaMatchesValidate(t *testing.T) {
	var root schemaNode
	require.NoError(t, json.Unmarshal([]byte(Schema), &root))
	claim := root.Properties["claims"].Items
	danger := root.Properties["danger"].Items
	require.NotNil(t, claim)
	require.NotNil(t, danger)

	assert.ElementsMatch(t, keys(overallVerdicts), root.Properties["overall_verdict"].Enum)
	assert.ElementsMatch(t, keys(claimVerdicts), claim.Properties["verdict"].Enum)
	assert.ElementsMatch(t, keys(dangerCategories), danger.Properties["category"].Enum)

	ranges := []struct {
		name string
		node schemaNode
		max  int
	}{
		{"overall_score", root.Properties["overall_score"], MaxOverallScore},
		{"confidence", claim.Properties["confidence"], MaxConfidence},
		{"severity", danger.Properties["severity"], MaxSeverity},
	}
	for _, r := range ranges {
		require.NotNil(t, r.node.Minimum, r.name)
		require.NotNil(t, r.node.Maximum, r.name)
		assert.Equal(t, 0, *r.node.Minimum, r.name)
		assert.Equal(t, r.max, *r.node.Maximum, r.name)
	}

	// every field Decode insists on is required by the schema as well
	for _, k := range requiredKeys {
		assert.Contains(t, root.Required, k)
	}
}
